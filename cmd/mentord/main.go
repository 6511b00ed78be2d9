package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dsamentor/mentor/internal/background"
	"github.com/dsamentor/mentor/internal/config"
	"github.com/dsamentor/mentor/internal/daemon"
	"github.com/dsamentor/mentor/internal/evaluator"
	"github.com/dsamentor/mentor/internal/metrics"
	"github.com/dsamentor/mentor/internal/notify"
	"github.com/dsamentor/mentor/internal/queue"
)

// Version is set at build time via ldflags
var Version = "dev"

const (
	pidFileName = "mentord.pid"
	logFileName = "mentord.log"
)

func main() {
	if err := run(); err != nil {
		slog.Error("daemon error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(config.DefaultDotEnvPaths()...); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}

	mentorDir, err := config.EnsureMentorDir()
	if err != nil {
		return fmt.Errorf("ensure mentor dir: %w", err)
	}

	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	policy, err := cfg.DomainPolicy()
	if err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}

	logFile, err := setupLogging(mentorDir, parseLogLevel(cfg.Daemon.LogLevel))
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logFile.Close()

	pidPath := filepath.Join(mentorDir, pidFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx := context.Background()

	store, err := openStore(ctx, cfg.Storage, policy, filepath.Join(mentorDir, "data"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	m := metrics.New()

	hub := notify.NewHub(notify.HubConfig{
		OriginPatterns: cfg.Daemon.Origins,
		ClientBuffer:   cfg.Notify.ClientBuffer,
	})
	defer hub.Close()

	var notifier notify.Notifier = hub
	if cfg.Notify.AMQPURL != "" {
		conn, err := queue.NewConnection(cfg.Notify.AMQPURL, cfg.Notify.Exchange)
		if err != nil {
			// Websocket delivery still works without the broker
			slog.Warn("event broker unavailable", "error", err)
		} else {
			defer conn.Close()
			notifier = notify.Multi(hub, queue.NewPublisher(conn))
			slog.Info("publishing events to broker", "exchange", conn.Exchange())
		}
	}

	bg := background.NewService(background.Config{
		Policy:   policy,
		Store:    store,
		Notifier: notifier,
		Recorder: m,
	})
	if err := bg.Start(ctx); err != nil {
		return fmt.Errorf("start background service: %w", err)
	}
	defer bg.Close()

	providers, err := daemon.SetupProviders(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("setup providers: %w", err)
	}
	defer providers.Close()

	eval := evaluator.NewService(evaluator.Config{
		Registry: providers.Registry,
		Provider: cfg.LLM.DefaultProvider,
		Timeout:  cfg.LLMTimeout(),
		Recorder: m,
	})

	server, err := daemon.NewServer(daemon.ServerConfig{
		Config:     cfg,
		Background: bg,
		Evaluator:  eval,
		Registry:   providers.Registry,
		Events:     hub,
		Metrics:    m,
		Version:    Version,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		slog.Info("received signal, shutting down", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		close(done)
	}()

	if err := server.Start(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	slog.Info("daemon stopped")
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogging(mentorDir string, level slog.Level) (*os.File, error) {
	logPath := filepath.Join(mentorDir, "logs", logFileName)

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	// JSON to the file, text to stderr for foreground mode
	slog.SetDefault(slog.New(&multiHandler{
		handlers: []slog.Handler{
			slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: level}),
			slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
		},
	}))

	return logFile, nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

// multiHandler logs to multiple handlers
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			errs = append(errs, handler.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
