// Package scheduler implements the dependency-aware task executor: it
// builds a ready-queue from a workflow's dependency graph, dispatches tasks
// through a pluggable Dispatcher under a worker-pool concurrency cap, owns
// retry and timeout policy, and propagates dependency failures without
// ever invoking a dependent's handler.
package scheduler

import (
	"context"
	"time"

	"github.com/swarmguard/taskrunner/internal/workflow"
)

// TaskStatus is the terminal (or in-flight) state of a single task
// execution. queued and running are in-flight; completed, failed, timeout
// and cancelled are terminal. A failed attempt that is retried goes back to
// queued instead of being recorded as failed.
type TaskStatus string

const (
	StatusQueued    TaskStatus = "queued"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusTimeout   TaskStatus = "timeout"
	StatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether s is a final state a dependent can observe.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	default:
		return false
	}
}

// TaskResult is the single outcome record produced for a task once it
// reaches a terminal state. Exactly one TaskResult exists per task in a
// completed Run.
type TaskResult struct {
	TaskID     string                 `json:"task_id"`
	Status     TaskStatus             `json:"status"`
	StartTime  time.Time              `json:"start_time"`
	EndTime    time.Time              `json:"end_time"`
	DurationMs int64                  `json:"duration_ms"`
	Output     map[string]interface{} `json:"output,omitempty"`
	Error      string                 `json:"error,omitempty"`
	RetryCount int                    `json:"retry_count"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Dispatcher invokes the handler bound to a task's type tag. Implemented by
// internal/handlers.Registry. It must be called at most once per (task,
// attempt) and must itself observe ctx's deadline.
type Dispatcher interface {
	Dispatch(ctx context.Context, task workflow.Task, dependencyResults map[string]TaskResult) (map[string]interface{}, error)
}

// Config controls scheduling behavior.
type Config struct {
	MaxConcurrentTasks       int
	DefaultTimeoutSeconds    int
	DefaultRetryCount        int
	EnableBackpressure       bool
	MaxQueueSize             int
	EnablePrioritization     bool
	EnableDeadlineScheduling bool // reserved, no runtime effect
	EnableResourceScheduling bool // reserved, no runtime effect
}

// DefaultConfig returns the scheduler's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTasks:    4,
		DefaultTimeoutSeconds: 60,
		DefaultRetryCount:     3,
		EnableBackpressure:    true,
		MaxQueueSize:          100,
		EnablePrioritization:  true,
	}
}
