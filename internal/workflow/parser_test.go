package workflow

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLinearChain(t *testing.T) {
	doc := `{
		"workflow_id": "wf-1",
		"title": "linear",
		"tasks": [
			{"id": "a", "description": "A"},
			{"id": "b", "description": "B", "dependencies": ["a"]},
			{"id": "c", "description": "C", "dependencies": ["b"]}
		]
	}`
	wf, err := ParseBytes([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if len(wf.Tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(wf.Tasks))
	}
}

func TestParseDuplicateTaskID(t *testing.T) {
	doc := `{"workflow_id":"wf","tasks":[{"id":"a"},{"id":"a"}]}`
	_, err := ParseBytes([]byte(doc))
	var pe *ParseError
	if err == nil {
		t.Fatal("expected error")
	}
	if pe, _ = err.(*ParseError); pe == nil || pe.Kind != ErrDuplicateTaskID {
		t.Fatalf("expected ErrDuplicateTaskID, got %v", err)
	}
}

func TestParseMissingDependency(t *testing.T) {
	doc := `{"workflow_id":"wf","tasks":[{"id":"a","dependencies":["ghost"]}]}`
	_, err := ParseBytes([]byte(doc))
	pe, ok := err.(*ParseError)
	if !ok || pe.Kind != ErrMissingDependency {
		t.Fatalf("expected ErrMissingDependency, got %v", err)
	}
}

func TestParseCycleRejectedBeforeScheduling(t *testing.T) {
	doc := `{"workflow_id":"wf","tasks":[
		{"id":"a","dependencies":["c"]},
		{"id":"b","dependencies":["a"]},
		{"id":"c","dependencies":["b"]}
	]}`
	_, err := ParseBytes([]byte(doc))
	pe, ok := err.(*ParseError)
	if !ok || pe.Kind != ErrCycle {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
	if len(pe.CyclePath) != 2 {
		t.Fatalf("expected a back-edge pair, got %v", pe.CyclePath)
	}
}

func TestParseEmptyTaskList(t *testing.T) {
	doc := `{"workflow_id":"wf","tasks":[]}`
	wf, err := ParseBytes([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(wf.Tasks) != 0 {
		t.Fatalf("expected no tasks")
	}
}

func TestParseRoundTrip(t *testing.T) {
	doc := `{"workflow_id":"wf","title":"t","tasks":[{"id":"a","description":"A"}]}`
	wf1, err := ParseBytes([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	encoded, err := json.Marshal(wf1)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	wf2, err := ParseBytes(encoded)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if wf1.WorkflowID != wf2.WorkflowID || len(wf1.Tasks) != len(wf2.Tasks) {
		t.Fatalf("round-trip mismatch: %+v vs %+v", wf1, wf2)
	}
}

func TestParseUnknownTopLevelFieldIsWarningNotError(t *testing.T) {
	doc := `{"workflow_id":"wf","experimental_hint":"x","tasks":[{"id":"a"}]}`
	wf, err := ParseBytes([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected parse error for unknown top-level field: %v", err)
	}
	if len(wf.ParseWarnings) != 1 || wf.ParseWarnings[0] != "experimental_hint" {
		t.Fatalf("expected a warning naming experimental_hint, got %v", wf.ParseWarnings)
	}
}

func TestParseUnknownTaskFieldPassesThroughToMetadata(t *testing.T) {
	doc := `{"workflow_id":"wf","tasks":[{"id":"a","owner":"team-x"}]}`
	wf, err := ParseBytes([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	task, ok := wf.TaskByID("a")
	if !ok {
		t.Fatalf("task a not found")
	}
	if task.Metadata["owner"] != "team-x" {
		t.Fatalf("expected owner passthrough in metadata, got %v", task.Metadata)
	}
}

func TestParseSyntaxError(t *testing.T) {
	_, err := ParseBytes([]byte("{not json"))
	pe, ok := err.(*ParseError)
	if !ok || pe.Kind != ErrSyntax {
		t.Fatalf("expected ErrSyntax, got %v", err)
	}
	if !strings.Contains(pe.Error(), "parse error") {
		t.Fatalf("expected formatted message, got %q", pe.Error())
	}
}
