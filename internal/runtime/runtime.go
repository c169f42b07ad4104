package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/loqalabs/voice-agent/internal/bus"
	"github.com/loqalabs/voice-agent/internal/capability"
	"github.com/loqalabs/voice-agent/internal/config"
	"github.com/loqalabs/voice-agent/internal/httpapi"
	"github.com/loqalabs/voice-agent/internal/natsserver"
	"github.com/loqalabs/voice-agent/internal/pipeline"
	"github.com/loqalabs/voice-agent/internal/router"
)

const journalPruneInterval = time.Hour

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	components    *Components
	natsServer    *natsserver.EmbeddedServer
	bus           *bus.Client
	router        *router.Service
	workers       *capability.Registry
	ready         atomic.Bool
	wg            sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.startBus(ctx); err != nil {
		r.stop()
		return err
	}

	var notifier pipeline.Notifier
	if r.bus != nil {
		notifier = router.NewPublisher(r.bus, r.logger)
	}
	components, err := Build(ctx, r.cfg, r.logger, notifier)
	if err != nil {
		r.stop()
		return err
	}
	r.components = components

	if r.bus != nil {
		r.router = router.NewService(ctx, r.bus, components.Pipeline, r.logger)
		if err := r.router.Start(); err != nil {
			r.stop()
			return fmt.Errorf("start router: %w", err)
		}
		workers, err := capability.NewRegistry(ctx, r.selfWorker(components), capability.Options{
			HeartbeatInterval: time.Duration(r.cfg.Bus.HeartbeatMS) * time.Millisecond,
			HeartbeatTimeout:  time.Duration(r.cfg.Bus.HeartbeatTTLMS) * time.Millisecond,
		}, r.bus, r.logger)
		if err != nil {
			r.stop()
			return fmt.Errorf("start capability registry: %w", err)
		}
		r.workers = workers
	}

	api, err := httpapi.New(components.Pipeline, components.Store, components.Synth, r.cfg.TTS.Model, r.logger)
	if err != nil {
		r.stop()
		return err
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("GET /workers", r.handleWorkers)
	api.Register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(mux, r.cfg.RuntimeName),
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsServer, "metrics")
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		components.Journal.RunPruner(ctx, journalPruneInterval)
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("llm_mode", r.cfg.LLM.Mode),
		slog.String("tts_mode", r.cfg.TTS.Mode),
		slog.Bool("bus", r.bus != nil))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()
	r.stop()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// startBus starts the embedded server when configured and connects to it.
func (r *Runtime) startBus(ctx context.Context) error {
	if !r.cfg.Bus.Enabled {
		return nil
	}
	busCfg := r.cfg.Bus
	ns, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded nats: %w", err)
	}
	r.natsServer = ns
	if ns != nil {
		busCfg.Servers = []string{ns.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}
	r.bus = client
	return nil
}

// stop releases everything started so far, in reverse order.
func (r *Runtime) stop() {
	if r.workers != nil {
		r.workers.Close()
	}
	if r.router != nil {
		r.router.Close()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	r.natsServer.Shutdown()
	if err := r.components.Close(); err != nil {
		r.logger.Error("journal close error", slog.String("error", err.Error()))
	}
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error(name+" server failed", slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.isReady() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) isReady() bool {
	if !r.ready.Load() {
		return false
	}
	if r.bus != nil && !r.bus.Healthy() {
		return false
	}
	if r.workers != nil && !r.workers.Healthy() {
		return false
	}
	return r.router == nil || r.router.Healthy()
}

// handleWorkers lists the workers seen on the bus. Without a bus it is empty.
func (r *Runtime) handleWorkers(w http.ResponseWriter, _ *http.Request) {
	workers := []capability.Worker{}
	if r.workers != nil {
		workers = append(workers, r.workers.Workers(nil)...)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(workers)
}

func (r *Runtime) selfWorker(c *Components) capability.Worker {
	id := r.cfg.Bus.WorkerID
	if id == "" {
		host, _ := os.Hostname()
		id = host + "-" + uuid.NewString()[:8]
	}
	// ids are used as subject tokens
	id = strings.NewReplacer(".", "-", "*", "-", ">", "-", " ", "-").Replace(id)
	profiles := c.Personas.List()
	voices := make([]string, 0, len(profiles))
	for _, p := range profiles {
		voices = append(voices, p.Label)
	}
	return capability.Worker{ID: id, LLMMode: r.cfg.LLM.Mode, TTSMode: r.cfg.TTS.Mode, Voices: voices}
}
