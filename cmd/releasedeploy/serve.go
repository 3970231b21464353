package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/releasedeploy/ajaxstub"
	"github.com/hazyhaar/releasedeploy/config"
	"github.com/hazyhaar/releasedeploy/history"
	"github.com/hazyhaar/releasedeploy/mcptools"
)

func runHistory(ctx context.Context, logger *slog.Logger, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	url := fs.String("url", "", "only entries for this reference")
	limit := fs.Int("limit", 20, "maximum entries")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cfg.History.Path == "" {
		return errors.New("history: history.path is not configured")
	}

	store, err := history.Open(cfg.History.Path, history.WithLogger(logger))
	if err != nil {
		return err
	}
	defer store.Close()

	var entries []history.Entry
	if *url != "" {
		entries, err = store.ForURL(ctx, *url, *limit)
	} else {
		entries, err = store.Recent(ctx, *limit)
	}
	if err != nil {
		return err
	}
	return printJSON(entries)
}

// runStub serves the fixture backend until ctx ends.
func runStub(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	fx := ajaxstub.DefaultFixtures()
	if cfg.Stub.Fixtures != "" {
		var err error
		if fx, err = ajaxstub.LoadFixtures(cfg.Stub.Fixtures); err != nil {
			return err
		}
	}
	stub := ajaxstub.New(fx, ajaxstub.Options{
		Latency: cfg.Stub.Latency,
		Actions: cfg.Actions,
		Logger:  logger,
	})

	srv := &http.Server{
		Addr:              cfg.Stub.Addr,
		Handler:           stub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("stub: listening", "addr", cfg.Stub.Addr, "ajax", ajaxstub.AjaxPath, "nonce", fx.Nonce)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("stub: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("stub: shutdown: %w", err)
	}
	logger.Info("stub: stopped")
	return nil
}

// runMCP serves the MCP tools on stdio. Backend tools are only registered
// when a backend is configured.
func runMCP(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	tcfg := mcptools.Config{FallbackMessage: cfg.FallbackMessage, Logger: logger}
	if client, err := newClient(cfg, logger); err == nil {
		tcfg.Backend = client
	} else {
		logger.Info("mcp: backend tools disabled", "reason", err)
	}

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "releasedeploy",
		Version: "1.0.0",
	}, nil)
	mcptools.New(tcfg).Register(srv)

	return srv.Run(ctx, &mcp.StdioTransport{})
}
