// Package httpapi exposes the OpenAI-compatible chat-completions surface,
// model listing, and config-management endpoints over HTTP, plus
// Prometheus metrics and health checks — the externally facing transport
// layer sitting in front of the providers and config packages.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"log/slog"

	"github.com/agentrt/core/internal/audit"
	"github.com/agentrt/core/internal/config"
	"github.com/agentrt/core/internal/observability"
	"github.com/agentrt/core/internal/providers"
	"github.com/agentrt/core/internal/ratelimit"
	"github.com/agentrt/core/internal/scheduler"
)

// Config configures a Server. There is deliberately no scheduler CRUD
// surface here — cron job management is a CLI/config-file concern, not an
// HTTP one; ProviderFactory is still borrowed from the scheduler package so
// provider construction stays identical between the two call paths.
type Config struct {
	Host            string
	Port            int
	LLM             config.LLMConfig
	ConfigManager   *config.Manager
	ProviderFactory scheduler.ProviderFactory // defaults to scheduler.DefaultProviderFactory
	Metrics         *observability.Metrics    // nil disables HTTP metrics recording
	Tracer          *observability.Tracer     // nil disables span creation
	Logger          *slog.Logger
	Now             func() time.Time
	RateLimit       ratelimit.Config // Enabled == false (the zero value) disables request throttling
	Audit           audit.Config     // Enabled == false (the zero value) disables audit logging
}

// Server hosts the HTTP transport. It mirrors the teacher's
// start/stop-around-a-net.Listener shape, generalized from a stdlib mux to
// a chi.Router so route-pattern-aware metrics middleware has something to
// read.
type Server struct {
	llm             config.LLMConfig
	configMgr       *config.Manager
	providerFactory scheduler.ProviderFactory
	metrics         *observability.Metrics
	tracer          *observability.Tracer
	logger          *slog.Logger
	now             func() time.Time

	router chi.Router

	limiter *ratelimit.Limiter // nil when RateLimit.Enabled is false
	audit   *audit.Logger      // non-nil always; a no-op logger when Audit.Enabled is false

	providerMu sync.Mutex
	providers  map[string]providers.Provider

	httpServer *http.Server
	listener   net.Listener
	addr       string
	startTime  time.Time
}

// New builds a Server and wires its routes. It does not start listening;
// call Start for that.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	factory := cfg.ProviderFactory
	if factory == nil {
		factory = scheduler.DefaultProviderFactory
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewLimiter(cfg.RateLimit)
	}
	auditLogger, err := audit.NewLogger(cfg.Audit)
	if err != nil {
		logger.Warn("audit logger init failed, falling back to disabled", "error", err)
		auditLogger, _ = audit.NewLogger(audit.Config{})
	}

	s := &Server{
		llm:             cfg.LLM,
		configMgr:       cfg.ConfigManager,
		providerFactory: factory,
		metrics:         cfg.Metrics,
		tracer:          cfg.Tracer,
		logger:          logger,
		now:             now,
		addr:            fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		startTime:       now(),
		providers:       make(map[string]providers.Provider),
		limiter:         limiter,
		audit:           auditLogger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.metricsMiddleware)
	r.Use(s.rateLimitMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/v1/chat/completions", s.handleChatCompletions)
	r.Get("/v1/models", s.handleModels)

	r.Route("/config", func(cr chi.Router) {
		cr.Get("/", s.handleConfigGet)
		cr.Post("/", s.handleConfigApply)
		cr.Post("/upsert", s.handleConfigUpsert)
		cr.Post("/remove", s.handleConfigRemove)
		cr.Post("/read", s.handleConfigRead)
		cr.Get("/extensions", s.handleExtensionsList)
		cr.Post("/extensions", s.handleExtensionsUpsert)
		cr.Delete("/extensions/{id}", s.handleExtensionsRemove)
		cr.Get("/providers", s.handleConfigProviders)
		cr.Get("/providers/{name}/models", s.handleConfigProviderModels)
		cr.Get("/schema", s.handleConfigSchema)
		cr.Get("/validate", s.handleConfigValidate)
		cr.Post("/pricing", s.handleConfigPricing)
		cr.Post("/init", s.handleConfigInit)
		cr.Post("/backup", s.handleConfigBackup)
		cr.Post("/recover", s.handleConfigRecover)
	})

	return r
}

// Handler returns the Server's router for embedding in another mux or a
// test httptest.Server.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins listening and serving in the background. It returns once
// the listener is bound; serve errors after that point are logged, not
// returned (matching the teacher's fire-and-forget goroutine around
// http.Server.Serve).
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen on %q: %w", s.addr, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("starting http server", "addr", s.addr)
	return nil
}

// Stop gracefully shuts the server down, giving in-flight requests up to
// the context's deadline (or a 5s default) to finish.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx := ctx
	if shutdownCtx == nil {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
		return err
	}
	if s.audit != nil {
		if err := s.audit.Close(); err != nil {
			s.logger.Warn("audit logger close error", "error", err)
		}
	}
	return nil
}
