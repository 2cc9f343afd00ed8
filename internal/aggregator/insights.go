package aggregator

import (
	"context"
	"fmt"

	"github.com/swarmguard/taskrunner/internal/aiclient"
)

// InsightClient is the subset of aiclient.Client's surface EnhanceWithInsights
// needs.
type InsightClient interface {
	SendPrompt(ctx context.Context, req aiclient.Request) (*aiclient.Response, error)
}

// EnhanceWithInsights sends the generated summary back through the
// inference collaborator for a short narrative, attaching the result as
// document metadata. Opt-in: callers decide whether to spend the extra
// inference round.
func EnhanceWithInsights(ctx context.Context, doc *ResultDocument, client InsightClient) error {
	resp, err := client.SendPrompt(ctx, aiclient.Request{
		TaskID: doc.DocumentID,
		Prompt: fmt.Sprintf("Summarize the notable risks or follow-ups in this workflow execution:\n\n%s", doc.Summary),
	})
	if err != nil {
		return fmt.Errorf("aggregator: insight enhancement: %w", err)
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]interface{}{}
	}
	doc.Metadata["ai_insights"] = resp.Result
	return nil
}
