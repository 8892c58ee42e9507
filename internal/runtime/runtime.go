package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-stt/internal/asr"
	"github.com/loqalabs/loqa-stt/internal/bus"
	"github.com/loqalabs/loqa-stt/internal/config"
	"github.com/loqalabs/loqa-stt/internal/info"
	"github.com/loqalabs/loqa-stt/internal/natsserver"
	"github.com/loqalabs/loqa-stt/internal/session"
	"github.com/loqalabs/loqa-stt/internal/transcripts"
)

// Runtime assembles the service: telemetry, bus, backend selection, the
// capability publisher, and the session router. Startup failures are fatal;
// the process never serves with a half-built backend.
type Runtime struct {
	cfg     config.Config
	version string
	logger  *slog.Logger

	httpServer *http.Server
	busClient  *bus.Client
	ready      atomic.Bool
	wg         sync.WaitGroup
}

func New(cfg config.Config, version string, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		version: version,
		logger:  logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()
	r.busClient = busClient

	backend, backendName, modelName, resolved, err := r.buildBackend()
	if err != nil {
		return err
	}

	publisher, err := info.New(r.version, backendName, modelName, backend)
	if err != nil {
		return fmt.Errorf("failed to build capability descriptor: %w", err)
	}

	store, err := transcripts.Open(ctx, r.cfg.Transcripts, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open transcript store: %w", err)
	}
	defer store.Close()

	gate := &asr.Gate{}
	defaults := session.Defaults{
		Language:      resolved.Language,
		InitialPrompt: resolved.InitialPrompt,
		BeamSize:      resolved.BeamSize,
	}
	sessions := session.NewService(ctx, r.cfg.Session, defaults, busClient, backend, gate, publisher.Payload(), store, r.logger)
	if err := sessions.Start(); err != nil {
		return fmt.Errorf("failed to start session service: %w", err)
	}
	defer sessions.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
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
	r.logger.Info("ready",
		slog.String("addr", addr),
		slog.String("backend", backendName),
		slog.String("model", modelName))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("service stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}

	return nil
}

// buildBackend runs detection and resolution over the configuration and
// instantiates the selected backend.
func (r *Runtime) buildBackend() (asr.Backend, string, string, config.ASRConfig, error) {
	registry := asr.Builtin()
	platform := asr.HostPlatform()

	name, selection, resolved, err := asr.Select(r.cfg.ASR, platform, asr.HostProbes(r.cfg.ASR), r.logger)
	if err != nil {
		return nil, "", "", resolved, fmt.Errorf("failed to select backend: %w", err)
	}

	backend, err := registry.Create(name, resolved.Model, resolved, r.logger)
	if err != nil {
		return nil, "", "", resolved, fmt.Errorf("failed to load backend %s: %w", name, err)
	}

	r.logger.Info("loaded backend",
		slog.String("backend", name),
		slog.String("model", selection.Display))
	return backend, name, selection.Display, resolved, nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
