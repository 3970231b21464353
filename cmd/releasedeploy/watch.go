package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/releasedeploy/browser"
	"github.com/hazyhaar/releasedeploy/config"
	"github.com/hazyhaar/releasedeploy/fieldwatch/roddom"
	"github.com/hazyhaar/releasedeploy/history"
	"github.com/hazyhaar/releasedeploy/metabox"
	"github.com/hazyhaar/releasedeploy/sink"
)

// runWatch opens the download edit page in Chrome, attaches a row to every
// file input and streams row events to the configured sinks until ctx ends.
func runWatch(ctx context.Context, logger *slog.Logger, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	pageURL := fs.String("url", cfg.AdminURL, "download edit page URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pageURL == "" {
		return errors.New("watch: no page URL (set admin_url or -url)")
	}

	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}

	out, store, err := buildSinks(cfg, logger)
	if err != nil {
		return err
	}
	if store != nil {
		go cleanupLoop(ctx, store, cfg.History.Retention, logger)
	}

	page := metabox.NewPage(metabox.Config{
		Tester:          client,
		Observer:        cfg.FieldwatchConfig(),
		FallbackMessage: cfg.FallbackMessage,
		Links:           metabox.Links{PurchaseURL: cfg.PurchaseURL, SettingsURL: cfg.SettingsURL},
		Sink:            out,
		Logger:          logger,
	})
	defer page.Close()

	mgr := browser.NewManager(cfg.ChromeConfig(logger))
	if _, err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer mgr.Close()

	tab, err := browser.OpenTab(ctx, mgr, *pageURL)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer tab.Close()

	bridge, err := roddom.NewBridge(ctx, tab.Page, logger)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	anchors, err := bridge.All(ctx, cfg.Observer.AnchorSelector)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	attached := 0
	for _, anchor := range anchors {
		row, err := page.AddRow(ctx, "", anchor)
		if err != nil {
			return fmt.Errorf("watch: %w", err)
		}
		if row != nil {
			attached++
		}
	}
	logger.Info("watch: rows attached", "url", *pageURL, "found", len(anchors), "attached", attached)
	if ref, ok := page.FirstReference(); ok {
		logger.Info("watch: first reference", "repo", ref.RepoPath(), "release", ref.Release, "file", ref.Filename)
	}

	<-ctx.Done()
	// Rows detach from live elements, so the page goes before the tab.
	return page.Close()
}

// buildSinks creates the configured sinks behind a router. The history
// store is returned separately for retention cleanup.
func buildSinks(cfg *config.Config, logger *slog.Logger) (sink.Sink, *history.Store, error) {
	var sinks []sink.Sink
	var store *history.Store
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			sinks = append(sinks, sink.NewStdout(nil))
		case "webhook":
			opts := []sink.WebhookOption{
				sink.WithWebhookRetries(sc.Retries),
				sink.WithWebhookLogger(logger),
			}
			if sc.AllowPrivate {
				opts = append(opts, sink.WithWebhookAllowPrivate())
			}
			wh, err := sink.NewWebhook(sc.URL, opts...)
			if err != nil {
				return nil, nil, err
			}
			sinks = append(sinks, wh)
		case "history":
			if store != nil {
				continue
			}
			s, err := history.Open(cfg.History.Path, history.WithLogger(logger))
			if err != nil {
				return nil, nil, err
			}
			store = s
			sinks = append(sinks, s)
		default:
			logger.Warn("watch: unknown sink type", "type", sc.Type)
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, sink.NewStdout(nil))
	}
	return sink.NewRouter(logger, sinks...), store, nil
}

func cleanupLoop(ctx context.Context, store *history.Store, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		if n, err := store.Cleanup(ctx, retention); err != nil {
			if ctx.Err() == nil {
				logger.Warn("watch: history cleanup", "error", err)
			}
		} else if n > 0 {
			logger.Info("watch: history cleanup", "deleted", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
