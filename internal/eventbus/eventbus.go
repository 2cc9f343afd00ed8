// Package eventbus publishes and subscribes to workflow lifecycle events
// over NATS, propagating W3C trace context across the wire alongside each
// message.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var propagator = propagation.TraceContext{}

// EventKind identifies the lifecycle moment an event represents.
type EventKind string

const (
	EventWorkflowSubmitted EventKind = "workflow.submitted"
	EventWorkflowCompleted EventKind = "workflow.completed"
	EventWorkflowFailed    EventKind = "workflow.failed"
	EventTaskCompleted     EventKind = "task.completed"
)

// Event is the envelope carried on every subject this package publishes to.
type Event struct {
	Kind       EventKind              `json:"kind"`
	WorkflowID string                 `json:"workflow_id"`
	TaskID     string                 `json:"task_id,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// Bus wraps a NATS connection with trace-context-aware publish/subscribe
// for Event envelopes.
type Bus struct {
	nc *nats.Conn
}

// Connect dials url (e.g. "nats://localhost:4222") and returns a Bus.
func Connect(url string) (*Bus, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect: %w", err)
	}
	return &Bus{nc: nc}, nil
}

// Close closes the underlying NATS connection without draining it first.
func (b *Bus) Close() {
	b.nc.Close()
}

// Publish injects the current trace context into the message headers and
// publishes ev as JSON on subject.
func (b *Bus) Publish(ctx context.Context, subject string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event: %w", err)
	}

	hdr := nats.Header{}
	propagator.Inject(ctx, propagation.HeaderCarrier(hdr))
	msg := &nats.Msg{Subject: subject, Data: data, Header: hdr}
	return b.nc.PublishMsg(msg)
}

// Subscribe registers handler for subject. Each delivery extracts the
// sender's trace context, starts a child consumer span, decodes the Event,
// and invokes handler. Decode failures are dropped with no retry: events
// are fire-and-forget notifications, not a durable work queue.
func (b *Bus) Subscribe(subject string, handler func(context.Context, Event)) (*nats.Subscription, error) {
	return b.nc.Subscribe(subject, func(m *nats.Msg) {
		carrier := propagation.HeaderCarrier(m.Header)
		ctx := propagator.Extract(context.Background(), carrier)

		tracer := otel.Tracer("runner-eventbus")
		ctx, span := tracer.Start(ctx, "eventbus.consume", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()

		var ev Event
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			span.RecordError(err)
			return
		}
		handler(ctx, ev)
	})
}
