// Command runnerd is a thin HTTP entrypoint over the orchestration core:
// submit a workflow document, run it to completion, fetch the resulting
// ResultDocument. The orchestration logic itself lives entirely under
// internal/; this binary only wires HTTP handlers to it.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/swarmguard/taskrunner/internal/aggregator"
	"github.com/swarmguard/taskrunner/internal/aiclient"
	"github.com/swarmguard/taskrunner/internal/artifact"
	"github.com/swarmguard/taskrunner/internal/cancellation"
	"github.com/swarmguard/taskrunner/internal/cronsched"
	"github.com/swarmguard/taskrunner/internal/eventbus"
	"github.com/swarmguard/taskrunner/internal/handlers"
	"github.com/swarmguard/taskrunner/internal/scheduler"
	"github.com/swarmguard/taskrunner/internal/store"
	"github.com/swarmguard/taskrunner/internal/telemetry"
)

const serviceName = "runnerd"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry.Init(serviceName)

	shutdownTrace, err := telemetry.InitTracer(ctx, serviceName)
	if err != nil {
		otel.Handle(err)
	}
	shutdownMetrics, _, err := telemetry.InitMetrics(ctx, serviceName)
	if err != nil {
		otel.Handle(err)
	}

	dataDir := envOr("RUNNER_DATA_DIR", "./data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		panic(err)
	}
	st, err := store.New(dataDir, otel.Meter("runner-store"))
	if err != nil {
		panic(err)
	}
	defer st.Close()

	extractor := artifact.NewExtractor(envOr("RUNNER_ARTIFACTS_DIR", dataDir+"/artifacts"))

	var insightClient aggregator.InsightClient
	var aiHandler handlers.Handler
	if aiURL := os.Getenv("RUNNER_AI_SERVICE_URL"); aiURL != "" {
		c := aiclient.New(aiURL)
		aiHandler = handlers.NewAIPrompt(c)
		insightClient = c
	} else {
		c := &aiclient.MockClient{}
		aiHandler = handlers.NewAIPrompt(c)
		insightClient = c
	}
	registry := handlers.NewDefaultBuilder(aiHandler).Build()

	cancelMgr := cancellation.NewManager()
	schedCfg := scheduler.DefaultConfig()

	var bus *eventbus.Bus
	if natsURL := os.Getenv("RUNNER_NATS_URL"); natsURL != "" {
		bus, err = eventbus.Connect(natsURL)
		if err != nil {
			otel.Handle(err)
			bus = nil
		} else {
			defer bus.Close()
		}
	}

	cron := cronsched.New(st, registry, schedCfg, extractor, otel.Meter("runner-cronsched"))
	if err := cron.RestoreSchedules(ctx); err != nil {
		otel.Handle(err)
	}
	cron.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = cron.Stop(stopCtx)
	}()

	if bus != nil {
		_, err := bus.Subscribe("runner.events.>", func(evCtx context.Context, ev eventbus.Event) {
			cron.TriggerEvent(evCtx, string(ev.Kind), ev.Payload)
		})
		if err != nil {
			otel.Handle(err)
		}
	}

	deps := apiDeps{
		store:     st,
		registry:  registry,
		schedCfg:  schedCfg,
		extractor: extractor,
		cancelMgr: cancelMgr,
		cron:      cron,
		bus:       bus,
		insights:  insightClient,
	}
	httpSrv := &http.Server{Addr: envOr("RUNNER_ADDR", ":8080"), Handler: newMux(deps)}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			otel.Handle(err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	if shutdownTrace != nil {
		_ = telemetry.Flush(shutdownCtx, shutdownTrace)
	}
	if shutdownMetrics != nil {
		_ = shutdownMetrics(shutdownCtx)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
