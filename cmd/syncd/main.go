// Package main runs the terminal sync daemon: it owns the durable mutation
// queue, the dispatcher, the reference-data cache, and the localhost
// REST/WebSocket surface the POS UI talks to.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openpharm/posync/internal/api"
	"github.com/openpharm/posync/internal/cache"
	"github.com/openpharm/posync/internal/config"
	"github.com/openpharm/posync/internal/logging"
	"github.com/openpharm/posync/internal/netmon"
	"github.com/openpharm/posync/internal/session"
	"github.com/openpharm/posync/internal/storage"
	syncmgr "github.com/openpharm/posync/internal/sync"
	"github.com/openpharm/posync/internal/sync/conflict"
	"github.com/openpharm/posync/internal/sync/events"
	"github.com/openpharm/posync/internal/sync/queue"
	"github.com/openpharm/posync/internal/sync/transport"
)

func main() {
	configPath := flag.String("config", "posync.yaml", "path to the config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := logrus.InfoLevel
	if *debug {
		level = logrus.DebugLevel
	}
	logging.Init(os.Stderr, level)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("Failed to load config", err, map[string]interface{}{
			"path": *configPath,
		})
		os.Exit(1)
	}

	if err := run(cfg, *configPath); err != nil {
		logging.Error("Daemon exited with error", err, nil)
		os.Exit(1)
	}
}

func run(cfg *config.Config, configPath string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blobs, err := storage.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer blobs.Close()

	store := queue.NewStore(blobs, cfg.StorageKey, cfg.MaxQueueSize)

	sess := &session.Static{
		Branch:   cfg.BranchID,
		Code:     cfg.BranchCode,
		Terminal: cfg.TerminalID,
	}
	sender := transport.NewHTTPAdapter(cfg.ServerURL, sess)

	monitor := netmon.NewMonitor(
		netmon.NewHTTPProbe(cfg.ProbeURL),
		cfg.ProbeInterval(),
	)

	policy, err := conflict.ParsePolicy(cfg.ConflictResolution)
	if err != nil {
		return err
	}
	resolver := conflict.NewResolver(policy)
	notifier := events.NewNotifier()

	manager := syncmgr.NewManager(cfg, store, sender, resolver, notifier, monitor)

	refCache, err := cache.New(blobs.DB(), cfg.ServerURL, monitor, manager)
	if err != nil {
		return err
	}
	monitor.OnChange(func(online bool) {
		if !online {
			return
		}
		go func() {
			refreshCtx, done := context.WithTimeout(ctx, time.Minute)
			defer done()
			if n, err := refCache.RefreshProducts(refreshCtx); err != nil {
				logging.Warn("Product refresh failed", map[string]interface{}{
					"error": err.Error(),
				})
			} else {
				logging.Info("Product cache refreshed", map[string]interface{}{
					"count": n,
				})
			}
			if n, err := refCache.RefreshCustomers(refreshCtx); err != nil {
				logging.Warn("Customer refresh failed", map[string]interface{}{
					"error": err.Error(),
				})
			} else {
				logging.Info("Customer cache refreshed", map[string]interface{}{
					"count": n,
				})
			}
		}()
	})

	hub := api.NewWSHub()
	hub.Subscribe(manager.Notifier())

	monitor.Start(ctx)
	defer monitor.Stop()
	manager.Start(ctx)
	defer manager.Stop()

	stopWatch, err := config.Watch(configPath, func(next *config.Config) {
		logging.Info("Applying updated configuration", nil)
		manager.ApplyConfig(next)
	})
	if err != nil {
		logging.Warn("Config watch unavailable", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		defer stopWatch()
	}

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.NewServer(manager, hub).Router(),
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Info("Control API listening", map[string]interface{}{
			"addr": cfg.ListenAddr,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
	case err := <-errCh:
		return err
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	return server.Shutdown(shutdownCtx)
}
