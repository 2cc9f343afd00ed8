package aiclient

import "context"

// MockClient is an in-memory stand-in for Client, used by handler and
// scheduler tests that need a deterministic collaborator without a live
// network endpoint.
type MockClient struct {
	// Respond, when set, computes the response for each request.
	Respond func(Request) (*Response, error)
	Calls   []Request
}

// SendPrompt implements the same signature as Client.SendPrompt.
func (m *MockClient) SendPrompt(ctx context.Context, req Request) (*Response, error) {
	m.Calls = append(m.Calls, req)
	if m.Respond != nil {
		return m.Respond(req)
	}
	return &Response{TaskID: req.TaskID, Result: "mock response for: " + req.Prompt}, nil
}
