package aggregator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/swarmguard/taskrunner/internal/aiclient"
	"github.com/swarmguard/taskrunner/internal/scheduler"
)

func TestEnhanceWithInsightsAttachesNarrative(t *testing.T) {
	mock := &aiclient.MockClient{Respond: func(req aiclient.Request) (*aiclient.Response, error) {
		if !strings.Contains(req.Prompt, "Workflow") {
			t.Fatalf("expected the summary to be embedded in the prompt, got %q", req.Prompt)
		}
		return &aiclient.Response{TaskID: req.TaskID, Result: "nothing notable"}, nil
	}}

	doc := Generate(sampleWorkflow(), map[string]scheduler.TaskResult{
		"a": {TaskID: "a", Status: scheduler.StatusCompleted},
		"b": {TaskID: "b", Status: scheduler.StatusCompleted},
	}, nil)

	if err := EnhanceWithInsights(context.Background(), &doc, mock); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Metadata["ai_insights"] != "nothing notable" {
		t.Fatalf("expected insights metadata, got %v", doc.Metadata["ai_insights"])
	}
}

func TestEnhanceWithInsightsPropagatesClientError(t *testing.T) {
	mock := &aiclient.MockClient{Respond: func(req aiclient.Request) (*aiclient.Response, error) {
		return nil, errors.New("collaborator down")
	}}
	doc := Generate(sampleWorkflow(), map[string]scheduler.TaskResult{}, nil)
	if err := EnhanceWithInsights(context.Background(), &doc, mock); err == nil {
		t.Fatal("expected the collaborator error to surface")
	}
}
