package scheduler

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/taskrunner/internal/workflow"
)

// Scheduler executes a single Workflow's tasks against a Dispatcher,
// honoring dependency order, retries, timeouts, and cancellation.
type Scheduler struct {
	wf         workflow.Workflow
	cfg        Config
	dispatcher Dispatcher

	tracer trace.Tracer
	meter  metric.Meter

	taskDuration metric.Float64Histogram
	taskRetries  metric.Int64Counter
	taskFailures metric.Int64Counter
	parallelism  metric.Int64UpDownCounter

	mu             sync.Mutex // guards workflowCancel/taskCancels only; coordinator state stays single-threaded
	workflowCancel context.CancelFunc
	taskCancels    map[string]context.CancelFunc

	cancelTaskCh chan string
}

// NewScheduler constructs a Scheduler for wf, dispatching tasks through
// dispatcher according to cfg. The dispatcher/registry is expected to
// already be frozen: immutable for as long as the scheduler exists.
func NewScheduler(wf workflow.Workflow, cfg Config, dispatcher Dispatcher) *Scheduler {
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = DefaultConfig().MaxConcurrentTasks
	}
	if cfg.DefaultTimeoutSeconds <= 0 {
		cfg.DefaultTimeoutSeconds = DefaultConfig().DefaultTimeoutSeconds
	}

	meter := otel.Meter("runner-scheduler")
	taskDuration, _ := meter.Float64Histogram("runner_task_duration_ms")
	taskRetries, _ := meter.Int64Counter("runner_task_retries_total")
	taskFailures, _ := meter.Int64Counter("runner_task_failures_total")
	parallelism, _ := meter.Int64UpDownCounter("runner_parallelism")

	s := &Scheduler{
		wf:           wf,
		cfg:          cfg,
		dispatcher:   dispatcher,
		tracer:       otel.Tracer("runner-scheduler"),
		meter:        meter,
		taskDuration: taskDuration,
		taskRetries:  taskRetries,
		taskFailures: taskFailures,
		parallelism:  parallelism,
		taskCancels:  make(map[string]context.CancelFunc),
		cancelTaskCh: make(chan string, 16),
	}
	return s
}

// CancelTask requests cancellation of a single in-flight or not-yet-started
// task. It is a no-op if the task is already terminal.
func (s *Scheduler) CancelTask(taskID string) {
	select {
	case s.cancelTaskCh <- taskID:
	default:
		// channel full: best-effort, coordinator will still see it on a
		// later send if the caller retries.
	}
}

// CancelWorkflow cancels every task in the workflow that hasn't yet reached
// a terminal state. Distinct from CancelTask: it acts on the whole run.
func (s *Scheduler) CancelWorkflow() {
	s.mu.Lock()
	cancel := s.workflowCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// unretryable marks dispatch errors that can never succeed on a retry,
// such as a lookup for a task type with no registered handler: the
// dispatcher is immutable while a run is in flight, so re-dispatching
// would only repeat the identical failing lookup. These fail immediately
// without consuming the retry budget.
type unretryable interface{ Unretryable() bool }

// dispatchOutcome is what a per-task attempt goroutine reports back to the
// single-threaded coordinator loop.
type dispatchOutcome struct {
	taskID    string
	kind      string // "success" | "handlerError" | "timeout" | "cancelled"
	output    map[string]interface{}
	errMsg    string
	permanent bool // handlerError that must not be retried
	start     time.Time
	end       time.Time
}

// readyEntry is one task waiting to be dispatched.
type readyEntry struct {
	taskID   string
	priority int
}

// Run executes wf to completion, returning one TaskResult per task. Run
// returns an error only for conditions outside the workflow itself (none
// today); individual task failures are reported inside the result map, not
// as a returned error.
func (s *Scheduler) Run(ctx context.Context) (map[string]TaskResult, error) {
	workflowCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.workflowCancel = cancel
	s.mu.Unlock()
	defer cancel()

	runCtx, span := s.tracer.Start(workflowCtx, "scheduler.run", trace.WithAttributes(
		attribute.String("workflow_id", s.wf.WorkflowID),
		attribute.Int("task_count", len(s.wf.Tasks)),
	))
	defer span.End()

	total := len(s.wf.Tasks)
	results := make(map[string]TaskResult, total)
	if total == 0 {
		return results, nil
	}

	deps := make(map[string][]string, total)
	dependents := make(map[string][]string, total)
	tasksByID := make(map[string]workflow.Task, total)
	pendingDeps := make(map[string]int, total)
	for _, t := range s.wf.Tasks {
		tasksByID[t.ID] = t
		deps[t.ID] = t.Dependencies
		pendingDeps[t.ID] = len(t.Dependencies)
		for _, d := range t.Dependencies {
			dependents[d] = append(dependents[d], t.ID)
		}
	}

	retryObserved := make(map[string]int, total)
	status := make(map[string]TaskStatus, total)
	ready := list.New()
	// overflow holds tasks that are dependency-ready but held back because
	// the ready-queue is already at max_queue_size: backpressure bounds the
	// ready-queue itself, not the rate of dispatch, which MaxConcurrentTasks
	// already bounds separately. Entries move from overflow into ready as
	// ready drains; nothing here ever blocks the single-threaded
	// coordinator.
	overflow := list.New()
	enqueue := func(taskID string, front bool) {
		status[taskID] = StatusQueued
		entry := readyEntry{taskID: taskID, priority: tasksByID[taskID].Priority}
		if front {
			ready.PushFront(entry)
			return
		}
		if s.cfg.EnableBackpressure && s.cfg.MaxQueueSize > 0 && ready.Len() >= s.cfg.MaxQueueSize {
			overflow.PushBack(entry)
			return
		}
		insertByPriority(ready, entry, s.cfg.EnablePrioritization)
	}
	// promoteOverflow admits overflowed entries into ready as room frees up.
	promoteOverflow := func() {
		for overflow.Len() > 0 {
			if s.cfg.EnableBackpressure && s.cfg.MaxQueueSize > 0 && ready.Len() >= s.cfg.MaxQueueSize {
				break
			}
			front := overflow.Front()
			overflow.Remove(front)
			insertByPriority(ready, front.Value.(readyEntry), s.cfg.EnablePrioritization)
		}
	}

	for _, t := range s.wf.Tasks {
		if pendingDeps[t.ID] == 0 {
			enqueue(t.ID, false)
		}
	}

	outcomes := make(chan dispatchOutcome, total*2)
	running := 0
	terminalCount := 0

	// recordTerminal finalizes a task's TaskResult and cascades the result
	// to its dependents: ready-enqueue if all deps completed, otherwise
	// auto-fail (DependencyFailure) without invoking the handler.
	var recordTerminal func(taskID string, res TaskResult)
	recordTerminal = func(taskID string, res TaskResult) {
		results[taskID] = res
		status[taskID] = res.Status
		terminalCount++
		for _, dep := range dependents[taskID] {
			if status[dep].IsTerminal() {
				continue
			}
			depsAllCompleted := true
			var failedDep string
			var failedDepStatus TaskStatus
			for _, d := range deps[dep] {
				dr, ok := results[d]
				if !ok {
					depsAllCompleted = false
					continue
				}
				if dr.Status != StatusCompleted {
					depsAllCompleted = false
					failedDep = d
					failedDepStatus = dr.Status
				}
			}
			if failedDep != "" {
				now := time.Now()
				recordTerminal(dep, TaskResult{
					TaskID:    dep,
					Status:    StatusFailed,
					StartTime: now,
					EndTime:   now,
					Error:     fmt.Sprintf("dependency %s %s", failedDep, failedDepStatus),
				})
				continue
			}
			if depsAllCompleted {
				enqueue(dep, false)
			}
		}
	}

	dispatchOne := func(taskID string) {
		task := tasksByID[taskID]
		status[taskID] = StatusRunning
		running++
		s.parallelism.Add(runCtx, 1)

		timeoutSeconds := s.cfg.DefaultTimeoutSeconds
		if task.TimeoutSeconds != nil {
			timeoutSeconds = *task.TimeoutSeconds
		}

		taskCtx, taskCancel := context.WithTimeout(workflowCtx, time.Duration(timeoutSeconds)*time.Second)
		s.mu.Lock()
		s.taskCancels[taskID] = taskCancel
		s.mu.Unlock()

		depResults := make(map[string]TaskResult, len(deps[taskID]))
		for _, d := range deps[taskID] {
			depResults[d] = results[d]
		}

		go func() {
			defer taskCancel()
			start := time.Now()
			taskCtx, span := s.tracer.Start(taskCtx, "task.execute", trace.WithAttributes(
				attribute.String("task_id", taskID),
			))
			defer span.End()

			out, err := s.dispatcher.Dispatch(taskCtx, task, depResults)
			end := time.Now()

			// The context decides the terminal state when it has fired: a
			// handler that returns a result after the deadline or a
			// cancellation signal has that result discarded.
			kind := "success"
			errMsg := ""
			permanent := false
			switch {
			case taskCtx.Err() == context.DeadlineExceeded:
				kind = "timeout"
				out = nil
			case taskCtx.Err() == context.Canceled:
				kind = "cancelled"
				out = nil
			case err != nil:
				kind = "handlerError"
				errMsg = err.Error()
				var perm unretryable
				if errors.As(err, &perm) {
					permanent = perm.Unretryable()
				}
			}
			outcomes <- dispatchOutcome{taskID: taskID, kind: kind, output: out, errMsg: errMsg, permanent: permanent, start: start, end: end}
		}()
	}

	// drainQueuedToCancelled empties ready and overflow straight into
	// cancelled TaskResults without ever invoking a handler.
	// Running tasks are left alone here: their taskCtx already derives from
	// workflowCtx, so CancelWorkflow's cancel() call surfaces as a
	// "cancelled" dispatchOutcome for them on its own.
	drainQueuedToCancelled := func() {
		for _, l := range [2]*list.List{ready, overflow} {
			for l.Len() > 0 {
				front := l.Front()
				l.Remove(front)
				taskID := front.Value.(readyEntry).taskID
				if status[taskID].IsTerminal() {
					continue
				}
				now := time.Now()
				recordTerminal(taskID, TaskResult{
					TaskID: taskID, Status: StatusCancelled,
					StartTime: now, EndTime: now, Error: "cancelled before dispatch",
				})
			}
		}
	}

	for terminalCount < total {
		if workflowCtx.Err() != nil {
			// Cancelled: never pop another task out of ready for dispatch.
			drainQueuedToCancelled()
		} else {
			promoteOverflow()
		}

		for ready.Len() > 0 && running < s.cfg.MaxConcurrentTasks {
			select {
			case cancelID := <-s.cancelTaskCh:
				s.handleCancelRequest(cancelID, status, results, recordTerminal)
				continue
			default:
			}
			front := ready.Front()
			ready.Remove(front)
			taskID := front.Value.(readyEntry).taskID
			if status[taskID].IsTerminal() {
				continue
			}
			dispatchOne(taskID)
		}

		if running == 0 && ready.Len() == 0 && overflow.Len() == 0 {
			if terminalCount >= total {
				break
			}
			// Nothing running, nothing ready, but tasks remain: this can
			// only happen if every remaining task is already terminal via
			// cascade, so re-check the loop condition.
			continue
		}

		select {
		case cancelID := <-s.cancelTaskCh:
			s.handleCancelRequest(cancelID, status, results, recordTerminal)
		case out := <-outcomes:
			running--
			s.parallelism.Add(runCtx, -1)
			s.mu.Lock()
			delete(s.taskCancels, out.taskID)
			s.mu.Unlock()

			durationMs := out.end.Sub(out.start).Milliseconds()
			s.taskDuration.Record(runCtx, float64(durationMs), metric.WithAttributes(attribute.String("task_id", out.taskID)))

			switch out.kind {
			case "success":
				recordTerminal(out.taskID, TaskResult{
					TaskID: out.taskID, Status: StatusCompleted,
					StartTime: out.start, EndTime: out.end, DurationMs: durationMs,
					Output: out.output, RetryCount: retryObserved[out.taskID],
				})
			case "timeout":
				s.taskFailures.Add(runCtx, 1, metric.WithAttributes(attribute.String("task_id", out.taskID), attribute.String("reason", "timeout")))
				recordTerminal(out.taskID, TaskResult{
					TaskID: out.taskID, Status: StatusTimeout,
					StartTime: out.start, EndTime: out.end, DurationMs: durationMs,
					Error: "task exceeded its deadline", RetryCount: retryObserved[out.taskID],
				})
			case "cancelled":
				recordTerminal(out.taskID, TaskResult{
					TaskID: out.taskID, Status: StatusCancelled,
					StartTime: out.start, EndTime: out.end, DurationMs: durationMs,
					Error: "cancelled", RetryCount: retryObserved[out.taskID],
				})
			case "handlerError":
				task := tasksByID[out.taskID]
				budget := s.cfg.DefaultRetryCount
				if task.RetryCount != nil {
					budget = *task.RetryCount
				}
				if !out.permanent && retryObserved[out.taskID] < budget {
					retryObserved[out.taskID]++
					s.taskRetries.Add(runCtx, 1, metric.WithAttributes(attribute.String("task_id", out.taskID)))
					enqueue(out.taskID, true)
				} else {
					s.taskFailures.Add(runCtx, 1, metric.WithAttributes(attribute.String("task_id", out.taskID), attribute.String("reason", "handler_error")))
					recordTerminal(out.taskID, TaskResult{
						TaskID: out.taskID, Status: StatusFailed,
						StartTime: out.start, EndTime: out.end, DurationMs: durationMs,
						Error: out.errMsg, RetryCount: retryObserved[out.taskID],
					})
				}
			}
		}
	}

	return results, nil
}

// handleCancelRequest cancels a task whether it's running (its context is
// cancelled, and the eventual outcome will surface as "cancelled") or still
// queued (it never gets dispatched; it's recorded as cancelled directly).
func (s *Scheduler) handleCancelRequest(taskID string, status map[string]TaskStatus, results map[string]TaskResult, recordTerminal func(string, TaskResult)) {
	if status[taskID].IsTerminal() {
		return
	}
	s.mu.Lock()
	cancel, running := s.taskCancels[taskID]
	s.mu.Unlock()
	if running {
		cancel()
		return
	}
	now := time.Now()
	recordTerminal(taskID, TaskResult{
		TaskID: taskID, Status: StatusCancelled,
		StartTime: now, EndTime: now, Error: "cancelled before dispatch",
	})
}

func insertByPriority(l *list.List, entry readyEntry, prioritized bool) {
	if !prioritized {
		l.PushBack(entry)
		return
	}
	for e := l.Front(); e != nil; e = e.Next() {
		if entry.priority > e.Value.(readyEntry).priority {
			l.InsertBefore(entry, e)
			return
		}
	}
	l.PushBack(entry)
}
