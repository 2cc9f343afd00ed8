// Package cronsched layers cron-based and event-driven triggering on top
// of a single workflow execution, backed by cron entries and a
// bbolt-backed schedules bucket.
package cronsched

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/taskrunner/internal/aggregator"
	"github.com/swarmguard/taskrunner/internal/artifact"
	"github.com/swarmguard/taskrunner/internal/scheduler"
	"github.com/swarmguard/taskrunner/internal/store"
)

// ScheduleConfig defines when and how a stored workflow should be run:
// either a cron expression or a reaction to a named event type.
type ScheduleConfig struct {
	WorkflowID    string                 `json:"workflow_id"`
	CronExpr      string                 `json:"cron_expr,omitempty"`
	EventType     string                 `json:"event_type,omitempty"`
	EventFilter   map[string]interface{} `json:"event_filter,omitempty"`
	Enabled       bool                   `json:"enabled"`
	MaxConcurrent int                    `json:"max_concurrent,omitempty"`
	Timeout       time.Duration          `json:"timeout,omitempty"`
}

// eventHandler tracks the schedules reacting to a single event type and
// how many of them are currently mid-execution.
type eventHandler struct {
	schedules   []*ScheduleConfig
	running     int
	mu          sync.Mutex
	lastTrigger time.Time
}

// Scheduler drives workflows stored in a store.WorkflowStore on cron
// timers or incoming events, dispatching each run through
// internal/scheduler and recording the aggregated result.
type Scheduler struct {
	cron          *cron.Cron
	store         *store.WorkflowStore
	extractor     *artifact.Extractor
	dispatcher    scheduler.Dispatcher
	schedCfg      scheduler.Config
	eventHandlers map[string]*eventHandler
	mu            sync.RWMutex

	scheduleRuns  metric.Int64Counter
	scheduleFails metric.Int64Counter
	eventTriggers metric.Int64Counter
	tracer        trace.Tracer
}

// New builds a cron-second-precision Scheduler. meter may be nil.
func New(st *store.WorkflowStore, dispatcher scheduler.Dispatcher, schedCfg scheduler.Config, extractor *artifact.Extractor, meter metric.Meter) *Scheduler {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("runner-cronsched")
	}
	scheduleRuns, _ := meter.Int64Counter("runner_schedule_runs_total")
	scheduleFails, _ := meter.Int64Counter("runner_schedule_failures_total")
	eventTriggers, _ := meter.Int64Counter("runner_schedule_event_triggers_total")

	return &Scheduler{
		cron:          cron.New(cron.WithSeconds()),
		store:         st,
		extractor:     extractor,
		dispatcher:    dispatcher,
		schedCfg:      schedCfg,
		eventHandlers: make(map[string]*eventHandler),
		scheduleRuns:  scheduleRuns,
		scheduleFails: scheduleFails,
		eventTriggers: eventTriggers,
		tracer:        otel.Tracer("runner-cronsched"),
	}
}

// Start begins running registered cron schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("cron scheduler started")
}

// Stop waits for in-flight cron jobs to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		slog.Info("cron scheduler stopped")
		return nil
	case <-ctx.Done():
		slog.Warn("cron scheduler stop timed out")
		return ctx.Err()
	}
}

// AddSchedule registers config's cron expression or event trigger and
// persists it so RestoreSchedules can recreate it after a restart.
func (s *Scheduler) AddSchedule(ctx context.Context, cfg *ScheduleConfig) error {
	ctx, span := s.tracer.Start(ctx, "cronsched.add_schedule",
		trace.WithAttributes(attribute.String("workflow_id", cfg.WorkflowID)))
	defer span.End()

	switch {
	case cfg.CronExpr != "":
		if _, err := s.cron.AddFunc(cfg.CronExpr, func() {
			s.executeScheduled(context.Background(), cfg)
		}); err != nil {
			return fmt.Errorf("cronsched: add cron schedule: %w", err)
		}
		slog.Info("cron schedule added", "workflow_id", cfg.WorkflowID, "cron", cfg.CronExpr)

	case cfg.EventType != "":
		s.registerEventHandler(cfg)
		slog.Info("event trigger added", "workflow_id", cfg.WorkflowID, "event_type", cfg.EventType)

	default:
		return fmt.Errorf("cronsched: either cron_expr or event_type must be set")
	}

	return s.persistSchedule(cfg)
}

// RemoveSchedule drops workflowID's event-trigger registrations and
// persisted record. Cron entries themselves are not individually removable by the
// underlying library without tracking entry IDs; RestoreSchedules will
// simply not recreate a removed schedule after a restart.
func (s *Scheduler) RemoveSchedule(workflowID string) error {
	s.mu.Lock()
	for eventType, h := range s.eventHandlers {
		kept := h.schedules[:0]
		for _, sched := range h.schedules {
			if sched.WorkflowID != workflowID {
				kept = append(kept, sched)
			}
		}
		h.schedules = kept
		if len(h.schedules) == 0 {
			delete(s.eventHandlers, eventType)
		}
	}
	s.mu.Unlock()

	return s.store.DeleteSchedule(workflowID)
}

// ListSchedules returns every currently persisted schedule.
func (s *Scheduler) ListSchedules() ([]*ScheduleConfig, error) {
	raw, err := s.store.ListSchedules()
	if err != nil {
		return nil, fmt.Errorf("cronsched: list schedules: %w", err)
	}
	schedules := make([]*ScheduleConfig, 0, len(raw))
	for _, data := range raw {
		var cfg ScheduleConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			continue
		}
		schedules = append(schedules, &cfg)
	}
	return schedules, nil
}

// RestoreSchedules re-registers every enabled persisted schedule, meant to
// run once at process startup after New.
func (s *Scheduler) RestoreSchedules(ctx context.Context) error {
	schedules, err := s.ListSchedules()
	if err != nil {
		return err
	}

	restored, failed := 0, 0
	for _, cfg := range schedules {
		if !cfg.Enabled {
			continue
		}
		if err := s.AddSchedule(ctx, cfg); err != nil {
			slog.Error("failed to restore schedule", "workflow_id", cfg.WorkflowID, "error", err)
			failed++
			continue
		}
		restored++
	}
	slog.Info("schedules restored", "restored", restored, "failed", failed)
	return nil
}

// TriggerEvent fans eventData out to every enabled schedule registered for
// eventType whose filter matches, honoring each schedule's MaxConcurrent.
func (s *Scheduler) TriggerEvent(ctx context.Context, eventType string, eventData map[string]interface{}) {
	ctx, span := s.tracer.Start(ctx, "cronsched.trigger_event",
		trace.WithAttributes(attribute.String("event_type", eventType)))
	defer span.End()

	s.mu.RLock()
	h, ok := s.eventHandlers[eventType]
	s.mu.RUnlock()
	if !ok {
		return
	}

	s.eventTriggers.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))

	for _, sched := range h.schedules {
		if !sched.Enabled || !matchesFilter(eventData, sched.EventFilter) {
			continue
		}

		h.mu.Lock()
		if sched.MaxConcurrent > 0 && h.running >= sched.MaxConcurrent {
			h.mu.Unlock()
			slog.Warn("max concurrent schedule executions reached", "workflow_id", sched.WorkflowID)
			continue
		}
		h.running++
		h.lastTrigger = time.Now()
		h.mu.Unlock()

		go func(cfg *ScheduleConfig) {
			defer func() {
				h.mu.Lock()
				h.running--
				h.mu.Unlock()
			}()
			execCtx := context.Background()
			if cfg.Timeout > 0 {
				var cancel context.CancelFunc
				execCtx, cancel = context.WithTimeout(execCtx, cfg.Timeout)
				defer cancel()
			}
			s.executeScheduled(execCtx, cfg)
		}(sched)
	}
}

func (s *Scheduler) executeScheduled(ctx context.Context, cfg *ScheduleConfig) {
	ctx, span := s.tracer.Start(ctx, "cronsched.execute_workflow",
		trace.WithAttributes(attribute.String("workflow_id", cfg.WorkflowID)))
	defer span.End()

	start := time.Now()
	wf, found, err := s.store.GetWorkflow(ctx, cfg.WorkflowID)
	if err != nil || !found {
		slog.Error("scheduled workflow not loadable", "workflow_id", cfg.WorkflowID, "error", err, "found", found)
		s.scheduleFails.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow_id", cfg.WorkflowID)))
		return
	}

	sched := scheduler.NewScheduler(wf, s.schedCfg, s.dispatcher)
	results, err := sched.Run(ctx)
	doc := aggregator.Generate(wf, results, s.extractor)
	if err != nil {
		slog.Error("scheduled workflow execution error", "workflow_id", cfg.WorkflowID, "error", err,
			"duration_ms", time.Since(start).Milliseconds())
		s.scheduleFails.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow_id", cfg.WorkflowID)))
	}

	if err := s.store.PutResult(ctx, &doc); err != nil {
		slog.Error("failed to persist scheduled result", "error", err)
	}

	s.scheduleRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow_id", cfg.WorkflowID),
		attribute.String("status", string(doc.OverallStatus)),
	))
	slog.Info("scheduled workflow completed", "workflow_id", cfg.WorkflowID,
		"status", doc.OverallStatus, "duration_ms", time.Since(start).Milliseconds())
}

func (s *Scheduler) registerEventHandler(cfg *ScheduleConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.eventHandlers[cfg.EventType]
	if !ok {
		h = &eventHandler{schedules: make([]*ScheduleConfig, 0)}
		s.eventHandlers[cfg.EventType] = h
	}
	h.schedules = append(h.schedules, cfg)
}

func matchesFilter(eventData, filter map[string]interface{}) bool {
	if len(filter) == 0 {
		return true
	}
	for key, want := range filter {
		got, ok := eventData[key]
		if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

func (s *Scheduler) persistSchedule(cfg *ScheduleConfig) error {
	return s.store.PutSchedule(cfg.WorkflowID, mustMarshal(cfg))
}

func mustMarshal(cfg *ScheduleConfig) []byte {
	data, _ := json.Marshal(cfg)
	return data
}
