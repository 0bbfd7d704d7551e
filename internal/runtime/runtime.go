// Package runtime assembles the narration pipeline: telemetry, the
// message bus, the stores, the queue router and its handlers, and the
// HTTP observability surface, with ordered shutdown.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/narrata-labs/narrata-core/internal/artifact"
	"github.com/narrata-labs/narrata-core/internal/bus"
	"github.com/narrata-labs/narrata-core/internal/config"
	"github.com/narrata-labs/narrata-core/internal/extract"
	"github.com/narrata-labs/narrata-core/internal/health"
	"github.com/narrata-labs/narrata-core/internal/natsserver"
	"github.com/narrata-labs/narrata-core/internal/router"
	"github.com/narrata-labs/narrata-core/internal/schema"
	"github.com/narrata-labs/narrata-core/internal/status"
	"github.com/narrata-labs/narrata-core/internal/synth"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error

	natsServer *natsserver.EmbeddedServer
	busClient  *bus.Client
	statuses   *status.Store
	artifacts  *artifact.Store
	router     *router.Router
	beacon     *health.Beacon
	pipeline   *Pipeline

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the daemon up and blocks until ctx is cancelled, then
// shuts components down in reverse start order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	r.natsServer, err = natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS server: %w", err)
	}

	busCfg := r.cfg.Bus
	if r.natsServer != nil && len(busCfg.Servers) == 0 {
		busCfg.Servers = []string{r.natsServer.ClientURL()}
	}
	r.busClient, err = bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		r.natsServer.Shutdown()
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	r.statuses, err = status.Open(ctx, r.cfg.Status, r.logger)
	if err != nil {
		r.teardown()
		return fmt.Errorf("failed to open status store: %w", err)
	}
	r.artifacts, err = artifact.Open(ctx, r.cfg.Artifacts, r.logger)
	if err != nil {
		r.teardown()
		return fmt.Errorf("failed to open artifact store: %w", err)
	}

	schemas := schema.NewRegistry(r.logger)
	if err := schemas.AttachCache(r.busClient.JetStream()); err != nil {
		r.logger.Warn("schema cache unavailable, using static registry only",
			slog.String("error", err.Error()))
	}

	synthesizer, err := buildSynthesizer(r.cfg.Synthesis)
	if err != nil {
		r.teardown()
		return fmt.Errorf("failed to build synthesis backend: %w", err)
	}
	extractor := buildExtractor(r.cfg.Extraction)

	r.router = router.New(ctx, r.cfg.Queues, r.busClient, schemas, r.statuses, r.logger)
	r.pipeline = NewPipeline(r.cfg, r.router, r.statuses, r.artifacts, synthesizer, extractor, r.logger)
	r.pipeline.Register(r.router)
	if err := r.router.Start(); err != nil {
		r.teardown()
		return fmt.Errorf("failed to start queue router: %w", err)
	}

	r.beacon = health.NewBeacon(r.cfg.ServiceName, r.busClient, r.logger)
	if err := r.beacon.Start(); err != nil {
		r.teardown()
		return fmt.Errorf("failed to start health beacon: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("synthesis_mode", r.cfg.Synthesis.Mode))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	r.teardown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// teardown stops everything started so far, newest first. Safe to call
// with partially initialized state.
func (r *Runtime) teardown() {
	if r.beacon != nil {
		r.beacon.Close()
	}
	if r.router != nil {
		r.router.Close()
	}
	if r.busClient != nil {
		r.busClient.Close()
	}
	if r.artifacts != nil {
		if err := r.artifacts.Close(); err != nil {
			r.logger.Warn("artifact store close error", slog.String("error", err.Error()))
		}
	}
	if r.statuses != nil {
		if err := r.statuses.Close(); err != nil {
			r.logger.Warn("status store close error", slog.String("error", err.Error()))
		}
	}
	r.natsServer.Shutdown()
}

func buildSynthesizer(cfg config.SynthesisConfig) (synth.Synthesizer, error) {
	switch cfg.Mode {
	case "mock", "":
		return synth.NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	case "http":
		return synth.NewHTTPSynth(cfg.Endpoint, time.Duration(cfg.TimeoutMS)*time.Millisecond), nil
	case "exec":
		return synth.NewExecSynth(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown synthesis mode %q", cfg.Mode)
	}
}

func buildExtractor(cfg config.ExtractConfig) extract.Extractor {
	if cfg.Mode == "http" {
		return extract.NewHTTPExtractor(cfg.Endpoint, time.Duration(cfg.TimeoutMS)*time.Millisecond)
	}
	return extract.NewInlineExtractor()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() && r.router.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
