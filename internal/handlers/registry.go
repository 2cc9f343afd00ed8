// Package handlers implements the handler registry and the built-in task
// handlers dispatched by task type tag (parameters["type"]).
package handlers

import (
	"context"
	"fmt"

	"github.com/swarmguard/taskrunner/internal/scheduler"
	"github.com/swarmguard/taskrunner/internal/workflow"
)

// Handler executes one task and returns its output or an error. Dispatch
// (via Registry) guarantees Execute is invoked at most once per (task,
// attempt) and that the supplied context carries the effective timeout.
type Handler interface {
	Execute(ctx context.Context, task workflow.Task, dependencyResults map[string]scheduler.TaskResult) (map[string]interface{}, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, task workflow.Task, dependencyResults map[string]scheduler.TaskResult) (map[string]interface{}, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, task workflow.Task, dependencyResults map[string]scheduler.TaskResult) (map[string]interface{}, error) {
	return f(ctx, task, dependencyResults)
}

// Registry maps task type tags to handlers. Once built, the registry is
// immutable for the lifetime of any Scheduler constructed on top of it:
// there is no exported Register method on the built registry itself, so
// callers assemble the full set up front.
type Registry struct {
	handlers map[string]Handler
}

// Builder accumulates handler registrations before the registry is frozen.
type Builder struct {
	handlers map[string]Handler
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{handlers: make(map[string]Handler)}
}

// Register binds typeTag to handler. Panics on a duplicate registration,
// since that always indicates a wiring bug at startup, not a runtime
// condition a caller should recover from.
func (b *Builder) Register(typeTag string, handler Handler) *Builder {
	if _, exists := b.handlers[typeTag]; exists {
		panic(fmt.Sprintf("handlers: duplicate registration for type %q", typeTag))
	}
	b.handlers[typeTag] = handler
	return b
}

// Build freezes the accumulated registrations into an immutable Registry.
func (b *Builder) Build() *Registry {
	frozen := make(map[string]Handler, len(b.handlers))
	for k, v := range b.handlers {
		frozen[k] = v
	}
	return &Registry{handlers: frozen}
}

// NewDefaultBuilder returns a Builder pre-populated with the built-in
// handlers.
func NewDefaultBuilder(ai Handler) *Builder {
	b := NewBuilder()
	b.Register("file_operation", HandlerFunc(FileOperation))
	b.Register("data_processing", HandlerFunc(DataProcessing))
	b.Register("system_command", HandlerFunc(SystemCommand))
	b.Register("generic", HandlerFunc(Generic))
	if ai != nil {
		b.Register("ai_prompt", ai)
	}
	return b
}

// DispatchError is returned when a task names a type tag with no bound
// handler. It fails that task without aborting the workflow.
type DispatchError struct {
	TypeTag string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("no handler registered for task type %q", e.TypeTag)
}

// Unretryable reports that a missing registration can never succeed on a
// retry: the registry is immutable while a scheduler runs.
func (e *DispatchError) Unretryable() bool { return true }

// Dispatch implements scheduler.Dispatcher: it looks up the handler bound
// to task's type tag (defaulting to "generic") and invokes it.
func (r *Registry) Dispatch(ctx context.Context, task workflow.Task, dependencyResults map[string]scheduler.TaskResult) (map[string]interface{}, error) {
	tag := task.TypeTag()
	h, ok := r.handlers[tag]
	if !ok {
		return nil, &DispatchError{TypeTag: tag}
	}
	return h.Execute(ctx, task, dependencyResults)
}
