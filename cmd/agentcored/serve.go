package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/agentrt/core/internal/config"
	"github.com/agentrt/core/internal/httpapi"
	"github.com/agentrt/core/internal/observability"
	"github.com/agentrt/core/internal/scheduler"
	"github.com/agentrt/core/internal/sessionstore/sqlstore"
)

// buildServeCmd creates the "serve" command: the primary command for
// running the chat-completions API and the job scheduler together.
func buildServeCmd() *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and job scheduler",
		Long: `Start the chat-completions API and recipe-driven scheduler.

The server will:
1. Load configuration from the specified file (or the XDG default)
2. Open the session database
3. Start the cron-driven scheduler for registered recipes
4. Start the HTTP server for chat completions, config management, and metrics

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, path string, debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(path)
	if err != nil {
		return wrapUsage(fmt.Errorf("load config %q: %w", path, err))
	}
	logger.Info("configuration loaded",
		"path", path,
		"http_port", cfg.Server.HTTPPort,
		"llm_provider", cfg.LLM.DefaultProvider,
	)

	store, err := openSessionStore(cfg)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	storagePath, err := scheduler.DefaultStoragePath()
	if err != nil {
		return fmt.Errorf("resolve scheduler storage path: %w", err)
	}
	recipesDir, err := scheduler.DefaultRecipesDir()
	if err != nil {
		return fmt.Errorf("resolve scheduler recipes directory: %w", err)
	}

	runLog := &lumberjack.Logger{
		Filename:   scheduledRunLogPath(),
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     30,
	}
	defer runLog.Close()
	runLogger := slog.New(slog.NewJSONHandler(runLog, &slog.HandlerOptions{Level: slog.LevelInfo}))

	sched, err := scheduler.New(storagePath, recipesDir, cfg.LLM, store, scheduler.WithLogger(runLogger))
	if err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "agentcored",
		ServiceVersion: version,
		Endpoint:       strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown error", "error", err)
		}
	}()

	manager := config.NewManager(path)

	server := httpapi.New(httpapi.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.HTTPPort,
		LLM:           cfg.LLM,
		ConfigManager: manager,
		Metrics:       metrics,
		Tracer:        tracer,
		Logger:        logger,
		RateLimit:     cfg.RateLimit,
		Audit:         cfg.Audit,
	})

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := server.Start(ctx); err != nil {
		sched.Stop(ctx)
		return fmt.Errorf("start http server: %w", err)
	}
	logger.Info("agentcored started", "http_addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort))

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	sched.Stop(shutdownCtx)
	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	logger.Info("agentcored stopped gracefully")
	return nil
}

func scheduledRunLogPath() string {
	dir, err := os.UserCacheDir()
	if err != nil || strings.TrimSpace(dir) == "" {
		return "scheduled-runs.log"
	}
	logDir := filepath.Join(dir, appDirName)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return "scheduled-runs.log"
	}
	return filepath.Join(logDir, "scheduled-runs.log")
}

// openSessionStore opens the session database named by
// config.Config.Database.URL: a postgres DSN when prefixed
// "postgres://"/"postgresql://", otherwise a sqlite file path (created if
// missing), defaulting to a file under the XDG data directory when the
// config leaves it blank.
func openSessionStore(cfg *config.Config) (*sqlstore.Store, error) {
	url := strings.TrimSpace(cfg.Database.URL)
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return sqlstore.OpenPostgres(url)
	}
	if url == "" {
		dir, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(dir) == "" {
			dir = "."
		}
		dataDir := filepath.Join(dir, ".local", "share", appDirName)
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create session data directory: %w", err)
		}
		url = filepath.Join(dataDir, "sessions.db")
	}
	return sqlstore.Open(url)
}
