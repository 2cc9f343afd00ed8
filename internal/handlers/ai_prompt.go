package handlers

import (
	"context"
	"fmt"

	"github.com/swarmguard/taskrunner/internal/aiclient"
	"github.com/swarmguard/taskrunner/internal/scheduler"
	"github.com/swarmguard/taskrunner/internal/workflow"
)

// Prompter is the subset of aiclient.Client's surface the ai_prompt handler
// needs; satisfied by both *aiclient.Client and *aiclient.MockClient.
type Prompter interface {
	SendPrompt(ctx context.Context, req aiclient.Request) (*aiclient.Response, error)
}

// AIPrompt implements the ai_prompt handler: prompt is required,
// mode/persona/model/temperature/max_tokens/streaming are optional
// pass-through fields to the remote-inference collaborator.
type AIPrompt struct {
	Client Prompter
}

// NewAIPrompt returns a Handler wired to client.
func NewAIPrompt(client Prompter) *AIPrompt {
	return &AIPrompt{Client: client}
}

// Execute implements Handler.
func (a *AIPrompt) Execute(ctx context.Context, task workflow.Task, _ map[string]scheduler.TaskResult) (map[string]interface{}, error) {
	prompt, ok := stringParam(task, "prompt")
	if !ok || prompt == "" {
		return nil, fmt.Errorf("ai_prompt: %q parameter is required", "prompt")
	}

	req := aiclient.Request{
		TaskID: task.ID,
		Prompt: prompt,
	}
	if mode, ok := stringParam(task, "mode"); ok {
		req.Mode = mode
	}
	if persona, ok := stringParam(task, "persona"); ok {
		req.Persona = persona
	}
	if model, ok := stringParam(task, "model"); ok {
		req.Model = model
	}
	if task.Parameters != nil {
		if v, ok := task.Parameters["temperature"].(float64); ok {
			req.Temperature = &v
		}
		if v, ok := task.Parameters["max_tokens"].(float64); ok {
			n := int(v)
			req.MaxTokens = &n
		}
		if v, ok := task.Parameters["streaming"].(bool); ok {
			req.Stream = v
		}
		req.Parameters = task.Parameters
	}

	resp, err := a.Client.SendPrompt(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("ai_prompt: %w", err)
	}

	out := map[string]interface{}{"text": resp.Result}
	if resp.ModelUsed != nil {
		out["model_used"] = *resp.ModelUsed
	}
	if resp.TokensUsed != nil {
		out["tokens_used"] = *resp.TokensUsed
	}
	if resp.ProcessingTimeMs != nil {
		out["processing_time_ms"] = *resp.ProcessingTimeMs
	}
	return out, nil
}
