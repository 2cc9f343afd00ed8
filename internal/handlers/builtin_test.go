package handlers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/swarmguard/taskrunner/internal/aiclient"
	"github.com/swarmguard/taskrunner/internal/scheduler"
	"github.com/swarmguard/taskrunner/internal/workflow"
)

func TestFileOperationWriteReadDelete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.txt")

	write := workflow.Task{ID: "w", Parameters: map[string]interface{}{
		"operation": "write", "file_path": path, "content": "hello",
	}}
	if _, err := FileOperation(context.Background(), write, nil); err != nil {
		t.Fatalf("write: %v", err)
	}

	read := workflow.Task{ID: "r", Parameters: map[string]interface{}{
		"operation": "read", "file_path": path,
	}}
	out, err := FileOperation(context.Background(), read, nil)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out["content"] != "hello" {
		t.Fatalf("expected content 'hello', got %v", out["content"])
	}

	del := workflow.Task{ID: "d", Parameters: map[string]interface{}{
		"operation": "delete", "file_path": path,
	}}
	if _, err := FileOperation(context.Background(), del, nil); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file to be removed")
	}
}

func TestFileOperationMissingParameter(t *testing.T) {
	task := workflow.Task{ID: "a", Parameters: map[string]interface{}{"operation": "read"}}
	if _, err := FileOperation(context.Background(), task, nil); err == nil {
		t.Fatal("expected error for missing file_path")
	}
}

func TestDataProcessingFilter(t *testing.T) {
	input := []interface{}{
		map[string]interface{}{"status": "active", "id": 1},
		map[string]interface{}{"status": "inactive", "id": 2},
	}
	task := workflow.Task{ID: "f", Parameters: map[string]interface{}{
		"operation": "filter", "input_data": input, "filter_key": "status", "filter_value": "active",
	}}
	out, err := DataProcessing(context.Background(), task, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, ok := out["result"].([]interface{})
	if !ok || len(result) != 1 {
		t.Fatalf("expected 1 filtered item, got %v", out["result"])
	}
}

func TestDataProcessingFromDependency(t *testing.T) {
	dep := map[string]scheduler.TaskResult{
		"upstream": {TaskID: "upstream", Status: scheduler.StatusCompleted, Output: map[string]interface{}{
			"result": []interface{}{map[string]interface{}{"status": "active"}},
		}},
	}
	task := workflow.Task{ID: "f", Parameters: map[string]interface{}{
		"operation": "filter", "input_from_dependency": "upstream", "filter_key": "status", "filter_value": "active",
	}}
	out, err := DataProcessing(context.Background(), task, dep)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["count"] != 1 {
		t.Fatalf("expected count 1, got %v", out["count"])
	}
}

func TestSystemCommandSuccess(t *testing.T) {
	task := workflow.Task{ID: "s", Parameters: map[string]interface{}{
		"command": "echo", "args": []interface{}{"hi"},
	}}
	out, err := SystemCommand(context.Background(), task, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["success"] != true {
		t.Fatalf("expected success, got %v", out)
	}
}

func TestGenericHandler(t *testing.T) {
	task := workflow.Task{ID: "g", Description: "do thing", Parameters: map[string]interface{}{"type": "generic"}}
	out, err := Generic(context.Background(), task, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["message"] != "do thing" {
		t.Fatalf("expected message 'do thing', got %v", out["message"])
	}
}

func TestRegistryDispatchUnknownType(t *testing.T) {
	reg := NewBuilder().Build()
	task := workflow.Task{ID: "x", Parameters: map[string]interface{}{"type": "nonexistent"}}
	_, err := reg.Dispatch(context.Background(), task, nil)
	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("expected DispatchError, got %v", err)
	}
}

func TestMissingHandlerFailsWithoutConsumingRetries(t *testing.T) {
	reg := NewBuilder().Build()
	wf := workflow.Workflow{WorkflowID: "wf", Tasks: []workflow.Task{
		{ID: "x", Parameters: map[string]interface{}{"type": "nonexistent"}},
	}}
	cfg := scheduler.DefaultConfig()
	cfg.DefaultRetryCount = 3
	s := scheduler.NewScheduler(wf, cfg, reg)
	results, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := results["x"]
	if r.Status != scheduler.StatusFailed {
		t.Fatalf("expected failed, got %s", r.Status)
	}
	if r.RetryCount != 0 {
		t.Fatalf("a missing handler must not consume retries, got %d", r.RetryCount)
	}
	if !strings.Contains(r.Error, "no handler registered") {
		t.Fatalf("expected a missing-handler error, got %q", r.Error)
	}
}

func TestDataProcessingRejectsAmbiguousInput(t *testing.T) {
	task := workflow.Task{ID: "f", Parameters: map[string]interface{}{
		"operation":             "filter",
		"input_data":            []interface{}{},
		"input_from_dependency": "upstream",
	}}
	if _, err := DataProcessing(context.Background(), task, nil); err == nil {
		t.Fatal("expected error when both input_data and input_from_dependency are set")
	}
}

func TestAIPromptHandlerUsesMockClient(t *testing.T) {
	mock := &aiclient.MockClient{Respond: func(req aiclient.Request) (*aiclient.Response, error) {
		return &aiclient.Response{TaskID: req.TaskID, Result: "answer: " + req.Prompt}, nil
	}}
	h := NewAIPrompt(mock)
	task := workflow.Task{ID: "ai", Parameters: map[string]interface{}{"prompt": "what is 2+2"}}
	out, err := h.Execute(context.Background(), task, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["text"] != "answer: what is 2+2" {
		t.Fatalf("unexpected output: %v", out)
	}
	if len(mock.Calls) != 1 {
		t.Fatalf("expected exactly one collaborator call, got %d", len(mock.Calls))
	}
}
