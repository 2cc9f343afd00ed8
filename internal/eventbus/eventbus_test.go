package eventbus

import (
	"encoding/json"
	"testing"
)

func TestEventRoundTripsThroughJSON(t *testing.T) {
	ev := Event{
		Kind:       EventWorkflowCompleted,
		WorkflowID: "wf-1",
		TaskID:     "",
		Payload:    map[string]interface{}{"success_rate": 1.0},
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Kind != EventWorkflowCompleted || decoded.WorkflowID != "wf-1" {
		t.Fatalf("unexpected round trip result: %+v", decoded)
	}
}

func TestConnectFailsFastOnUnreachableServer(t *testing.T) {
	_, err := Connect("nats://127.0.0.1:1")
	if err == nil {
		t.Fatalf("expected connect to an unreachable port to fail")
	}
}
