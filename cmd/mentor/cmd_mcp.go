package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/dsamentor/mentor/internal/mcp"
)

// cmdMCP starts the MCP server on stdio, backed by the running daemon
func cmdMCP() error {
	// stdout carries the protocol
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.Close(closeCtx); err != nil {
			slog.Warn("save thinking time", "error", err)
		}
	}()

	// Keep the cached effort state current
	go func() {
		if err := newClient().Subscribe(ctx, m.ApplyPush); err != nil {
			slog.Warn("event stream unavailable", "error", err)
		}
	}()

	srv := mcpserver.NewServer(mcpserver.Config{
		Session: m,
		Version: Version,
	})
	return srv.ServeStdio(ctx)
}
