package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/swarmguard/taskrunner/internal/aggregator"
	"github.com/swarmguard/taskrunner/internal/artifact"
	"github.com/swarmguard/taskrunner/internal/cancellation"
	"github.com/swarmguard/taskrunner/internal/cronsched"
	"github.com/swarmguard/taskrunner/internal/eventbus"
	"github.com/swarmguard/taskrunner/internal/handlers"
	"github.com/swarmguard/taskrunner/internal/scheduler"
	"github.com/swarmguard/taskrunner/internal/store"
	"github.com/swarmguard/taskrunner/internal/workflow"
)

// apiDeps bundles the collaborators the HTTP surface delegates to; the
// surface itself holds no orchestration logic of its own.
type apiDeps struct {
	store     *store.WorkflowStore
	registry  *handlers.Registry
	schedCfg  scheduler.Config
	extractor *artifact.Extractor
	cancelMgr *cancellation.Manager
	cron      *cronsched.Scheduler
	bus       *eventbus.Bus
	insights  aggregator.InsightClient
}

func newMux(deps apiDeps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1/workflows", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			handleSubmitWorkflow(deps, w, r)
		case http.MethodGet:
			handleListWorkflows(deps, w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/v1/workflows/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/v1/workflows/")
		switch {
		case strings.HasSuffix(rest, "/run") && r.Method == http.MethodPost:
			handleRunWorkflow(deps, w, r, strings.TrimSuffix(rest, "/run"))
		case strings.HasSuffix(rest, "/cancel") && r.Method == http.MethodPost:
			handleCancelWorkflow(deps, w, r, strings.TrimSuffix(rest, "/cancel"))
		case r.Method == http.MethodGet:
			handleGetWorkflow(deps, w, r, rest)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/v1/results/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/v1/results/")
		asDOT := strings.HasSuffix(id, "/dot")
		if asDOT {
			id = strings.TrimSuffix(id, "/dot")
		}
		doc, found, err := deps.store.GetResult(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !found {
			http.NotFound(w, r)
			return
		}
		if asDOT {
			w.Header().Set("Content-Type", "text/vnd.graphviz")
			_, _ = w.Write([]byte(doc.ExecutionGraph.DOT()))
			return
		}
		writeJSON(w, http.StatusOK, doc)
	})

	mux.HandleFunc("/v1/schedules", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var cfg cronsched.ScheduleConfig
			if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			if err := deps.cron.AddSchedule(r.Context(), &cfg); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet:
			schedules, err := deps.cron.ListSchedules()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, schedules)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	return mux
}

func handleSubmitWorkflow(deps apiDeps, w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	wf, err := workflow.ParseBytes(body)
	if err != nil {
		if pe, ok := err.(*workflow.ParseError); ok {
			http.Error(w, pe.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := deps.store.PutWorkflow(r.Context(), wf); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

func handleListWorkflows(deps apiDeps, w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, deps.store.ListWorkflows(0, 0))
}

func handleGetWorkflow(deps apiDeps, w http.ResponseWriter, r *http.Request, id string) {
	wf, found, err := deps.store.GetWorkflow(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// handleRunWorkflow executes a stored workflow to completion and persists
// the resulting ResultDocument. Run is synchronous: the HTTP response
// waits for the whole workflow.
func handleRunWorkflow(deps apiDeps, w http.ResponseWriter, r *http.Request, id string) {
	wf, found, err := deps.store.GetWorkflow(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		http.NotFound(w, r)
		return
	}

	sched := scheduler.NewScheduler(wf, deps.schedCfg, deps.registry)
	deps.cancelMgr.Register(wf.WorkflowID, sched, sched)

	results, _ := sched.Run(r.Context())
	doc := aggregator.Generate(wf, results, deps.extractor)

	if r.URL.Query().Get("insights") == "1" && deps.insights != nil {
		if err := aggregator.EnhanceWithInsights(r.Context(), &doc, deps.insights); err != nil {
			otel.Handle(err)
		}
	}

	status := cancellation.RunCompleted
	if doc.OverallStatus != aggregator.OverallSuccess {
		status = cancellation.RunFailed
	}
	deps.cancelMgr.Complete(wf.WorkflowID, status)

	if err := deps.store.PutResult(r.Context(), &doc); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if deps.bus != nil {
		kind := eventbus.EventWorkflowCompleted
		if status == cancellation.RunFailed {
			kind = eventbus.EventWorkflowFailed
		}
		_ = deps.bus.Publish(r.Context(), "runner.events.workflow", eventbus.Event{
			Kind:       kind,
			WorkflowID: wf.WorkflowID,
		})
	}

	writeJSON(w, http.StatusOK, doc)
}

func handleCancelWorkflow(deps apiDeps, w http.ResponseWriter, r *http.Request, id string) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := deps.cancelMgr.CancelWorkflow(ctx, id, "requested via API"); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
