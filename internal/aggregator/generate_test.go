package aggregator

import (
	"testing"
	"time"

	"github.com/swarmguard/taskrunner/internal/scheduler"
	"github.com/swarmguard/taskrunner/internal/workflow"
)

func sampleWorkflow() workflow.Workflow {
	return workflow.Workflow{
		WorkflowID: "wf-1",
		Title:      "Sample",
		Mode:       workflow.ModeNormal,
		Tasks: []workflow.Task{
			{ID: "a"},
			{ID: "b", Dependencies: []string{"a"}},
		},
	}
}

func TestGenerateAllSuccessful(t *testing.T) {
	wf := sampleWorkflow()
	start := time.Now()
	results := map[string]scheduler.TaskResult{
		"a": {TaskID: "a", Status: scheduler.StatusCompleted, StartTime: start, EndTime: start.Add(10 * time.Millisecond), DurationMs: 10},
		"b": {TaskID: "b", Status: scheduler.StatusCompleted, StartTime: start.Add(10 * time.Millisecond), EndTime: start.Add(25 * time.Millisecond), DurationMs: 15},
	}
	doc := Generate(wf, results, nil)
	if doc.OverallStatus != OverallSuccess {
		t.Fatalf("expected success, got %s", doc.OverallStatus)
	}
	if doc.SuccessRate != 1.0 {
		t.Fatalf("expected success rate 1.0, got %f", doc.SuccessRate)
	}
	if doc.TotalExecutionMs != 25 {
		t.Fatalf("expected 25ms total execution time, got %d", doc.TotalExecutionMs)
	}
	if len(doc.ExecutionGraph.Nodes) != 2 || len(doc.ExecutionGraph.Edges) != 1 {
		t.Fatalf("expected 2 nodes and 1 edge, got %+v", doc.ExecutionGraph)
	}
}

func TestGeneratePartialSuccess(t *testing.T) {
	wf := sampleWorkflow()
	results := map[string]scheduler.TaskResult{
		"a": {TaskID: "a", Status: scheduler.StatusCompleted},
		"b": {TaskID: "b", Status: scheduler.StatusFailed, Error: "dependency-unrelated failure"},
	}
	doc := Generate(wf, results, nil)
	if doc.OverallStatus != OverallPartialSuccess {
		t.Fatalf("expected partial_success, got %s", doc.OverallStatus)
	}
	if doc.SuccessRate != 0.5 {
		t.Fatalf("expected success rate 0.5, got %f", doc.SuccessRate)
	}
}

func TestGenerateEmptyWorkflowIsFullSuccess(t *testing.T) {
	wf := workflow.Workflow{WorkflowID: "wf-empty"}
	doc := Generate(wf, map[string]scheduler.TaskResult{}, nil)
	if doc.OverallStatus != OverallSuccess || doc.SuccessRate != 1.0 {
		t.Fatalf("expected empty workflow to be a full success, got %s / %f", doc.OverallStatus, doc.SuccessRate)
	}
	if doc.TotalExecutionMs != 0 {
		t.Fatalf("expected 0ms total execution time, got %d", doc.TotalExecutionMs)
	}
}

func TestGenerateFailureDocument(t *testing.T) {
	wf := sampleWorkflow()
	doc := GenerateFailureDocument(wf, "dependency cycle detected")
	if doc.OverallStatus != OverallFailure || doc.SuccessRate != 0 {
		t.Fatalf("expected failure/0.0, got %s/%f", doc.OverallStatus, doc.SuccessRate)
	}
}

func TestDOTContainsNodesAndEdges(t *testing.T) {
	wf := sampleWorkflow()
	results := map[string]scheduler.TaskResult{
		"a": {TaskID: "a", Status: scheduler.StatusCompleted},
		"b": {TaskID: "b", Status: scheduler.StatusCompleted},
	}
	doc := Generate(wf, results, nil)
	dot := doc.ExecutionGraph.DOT()
	if !contains(dot, "digraph execution") || !contains(dot, "\"a\" -> \"b\"") {
		t.Fatalf("unexpected DOT output: %s", dot)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}
