package store

import (
	"context"
	"testing"
	"time"

	"github.com/swarmguard/taskrunner/internal/aggregator"
	"github.com/swarmguard/taskrunner/internal/workflow"
)

func newTestStore(t *testing.T) *WorkflowStore {
	t.Helper()
	s, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetWorkflowRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := workflow.Workflow{WorkflowID: "wf-1", Title: "First", Tasks: []workflow.Task{{ID: "a"}}}

	if err := s.PutWorkflow(ctx, wf); err != nil {
		t.Fatalf("PutWorkflow: %v", err)
	}

	got, ok, err := s.GetWorkflow(ctx, "wf-1")
	if err != nil || !ok {
		t.Fatalf("GetWorkflow: got=%v ok=%v err=%v", got, ok, err)
	}
	if got.Title != "First" {
		t.Fatalf("expected title First, got %q", got.Title)
	}
}

func TestGetWorkflowMissingReturnsFalse(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.GetWorkflow(context.Background(), "nope")
	if err != nil || ok {
		t.Fatalf("expected not-found, got ok=%v err=%v", ok, err)
	}
}

func TestPutWorkflowArchivesPriorVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf := workflow.Workflow{WorkflowID: "wf-1", Title: "v1"}
	if err := s.PutWorkflow(ctx, wf); err != nil {
		t.Fatalf("PutWorkflow v1: %v", err)
	}
	wf.Title = "v2"
	if err := s.PutWorkflow(ctx, wf); err != nil {
		t.Fatalf("PutWorkflow v2: %v", err)
	}

	versions, err := s.GetWorkflowVersions("wf-1", 10)
	if err != nil {
		t.Fatalf("GetWorkflowVersions: %v", err)
	}
	if len(versions) != 1 || versions[0].Title != "v1" {
		t.Fatalf("expected exactly one archived v1 version, got %+v", versions)
	}

	current, _, _ := s.GetWorkflow(ctx, "wf-1")
	if current.Title != "v2" {
		t.Fatalf("expected live workflow to be v2, got %q", current.Title)
	}
}

func TestDeleteWorkflowSoftDeletesAndArchives(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf := workflow.Workflow{WorkflowID: "wf-1", Title: "doomed"}
	s.PutWorkflow(ctx, wf)

	if err := s.DeleteWorkflow(ctx, "wf-1"); err != nil {
		t.Fatalf("DeleteWorkflow: %v", err)
	}

	_, ok, _ := s.GetWorkflow(ctx, "wf-1")
	if ok {
		t.Fatalf("expected workflow gone after delete")
	}
	if n := s.GetStats()["versions_count"].(int); n != 1 {
		t.Fatalf("expected the deleted workflow archived in the versions bucket, got %d entries", n)
	}
}

func TestListWorkflowsPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.PutWorkflow(ctx, workflow.Workflow{WorkflowID: string(rune('a' + i))})
	}

	page := s.ListWorkflows(2, 0)
	if len(page) != 2 {
		t.Fatalf("expected page size 2, got %d", len(page))
	}
}

func TestPutGetResultRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := &aggregator.ResultDocument{
		DocumentID:  "doc-1",
		WorkflowID:  "wf-1",
		GeneratedAt: time.Now(),
	}
	if err := s.PutResult(ctx, doc); err != nil {
		t.Fatalf("PutResult: %v", err)
	}

	got, ok, err := s.GetResult(ctx, "doc-1")
	if err != nil || !ok {
		t.Fatalf("GetResult: got=%v ok=%v err=%v", got, ok, err)
	}
	if got.WorkflowID != "wf-1" {
		t.Fatalf("expected workflow wf-1, got %q", got.WorkflowID)
	}
}

func TestListResultsFiltersByTimeRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	for i, offset := range []time.Duration{-2 * time.Hour, -1 * time.Hour, 0} {
		s.PutResult(ctx, &aggregator.ResultDocument{
			DocumentID:  string(rune('a' + i)),
			WorkflowID:  "wf-1",
			GeneratedAt: base.Add(offset),
		})
	}

	results, err := s.ListResults("wf-1", base.Add(-90*time.Minute), base.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results in range, got %d", len(results))
	}
}

func TestGetStatsReportsCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.PutWorkflow(ctx, workflow.Workflow{WorkflowID: "wf-1"})

	stats := s.GetStats()
	if stats["workflows_count"].(int) != 1 {
		t.Fatalf("expected 1 workflow counted, got %+v", stats["workflows_count"])
	}
}
