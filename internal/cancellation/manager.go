// Package cancellation tracks cancellation requests at two independent
// levels: a single task within a run, and an entire workflow run. The two
// never conflate onto one channel or context.
package cancellation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// RunStatus is the lifecycle state of a tracked workflow run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// TaskCanceller cancels a single task by ID. Implemented by
// *scheduler.Scheduler.
type TaskCanceller interface {
	CancelTask(taskID string)
}

// WorkflowCanceller cancels an entire run. Implemented by
// *scheduler.Scheduler.
type WorkflowCanceller interface {
	CancelWorkflow()
}

// trackedRun is the bookkeeping record for one in-flight workflow run.
type trackedRun struct {
	workflowID    string
	canceller     WorkflowCanceller
	taskCanceller TaskCanceller
	status        RunStatus
	cancelReason  string
	cancelledAt   time.Time
	startedAt     time.Time
}

// Manager tracks active runs and dispatches cancellation requests at the
// task or workflow level. Distinct from a single-level design: CancelTask
// and CancelWorkflow are independent operations that never conflate a
// task-scoped cancellation with a whole-run failure.
type Manager struct {
	mu     sync.RWMutex
	active map[string]*trackedRun

	tracer        trace.Tracer
	cancellations metric.Int64Counter
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	meter := otel.Meter("runner-cancellation")
	cancellations, _ := meter.Int64Counter("runner_cancellations_total")
	return &Manager{
		active:        make(map[string]*trackedRun),
		tracer:        otel.Tracer("runner-cancellation"),
		cancellations: cancellations,
	}
}

// Register begins tracking a run so it can later be cancelled by workflowID.
func (m *Manager) Register(workflowID string, canceller WorkflowCanceller, taskCanceller TaskCanceller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[workflowID] = &trackedRun{
		workflowID:    workflowID,
		canceller:     canceller,
		taskCanceller: taskCanceller,
		status:        RunRunning,
		startedAt:     time.Now(),
	}
}

// Complete marks a tracked run with its final status (Completed or Failed,
// not Cancelled; cancellation has its own explicit path).
func (m *Manager) Complete(workflowID string, status RunStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run, ok := m.active[workflowID]; ok {
		run.status = status
	}
}

// CancelWorkflow cancels every task in the named run. Returns an error if
// the run isn't tracked or is already in a terminal state.
func (m *Manager) CancelWorkflow(ctx context.Context, workflowID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.active[workflowID]
	if !ok {
		return fmt.Errorf("cancellation: workflow %q is not tracked", workflowID)
	}
	if run.status != RunRunning {
		return fmt.Errorf("cancellation: workflow %q is already %s", workflowID, run.status)
	}
	_, span := m.tracer.Start(ctx, "cancellation.workflow")
	defer span.End()

	run.canceller.CancelWorkflow()
	run.status = RunCancelled
	run.cancelReason = reason
	run.cancelledAt = time.Now()
	m.cancellations.Add(ctx, 1)
	return nil
}

// CancelTask cancels a single task inside the named run without affecting
// any sibling task. The run itself stays RunRunning; its eventual overall
// status is determined by the scheduler's own terminal-state bookkeeping.
func (m *Manager) CancelTask(ctx context.Context, workflowID, taskID, reason string) error {
	m.mu.RLock()
	run, ok := m.active[workflowID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("cancellation: workflow %q is not tracked", workflowID)
	}
	if run.status != RunRunning {
		return fmt.Errorf("cancellation: workflow %q is already %s", workflowID, run.status)
	}
	_, span := m.tracer.Start(ctx, "cancellation.task")
	defer span.End()

	run.taskCanceller.CancelTask(taskID)
	m.cancellations.Add(ctx, 1)
	return nil
}

// Status reports the current RunStatus for a tracked workflow.
func (m *Manager) Status(workflowID string) (RunStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.active[workflowID]
	if !ok {
		return "", false
	}
	return run.status, true
}

// Cleanup removes cancelled runs whose cancellation is older than
// retention, freeing memory for long-lived processes. Runs finished through
// Complete carry no end time and are not removed.
func (m *Manager) Cleanup(retention time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for id, run := range m.active {
		if run.status != RunRunning && !run.cancelledAt.IsZero() && now.Sub(run.cancelledAt) > retention {
			delete(m.active, id)
		}
	}
}
