// Curvepost trading engine - a bonding-curve backend for per-post markets.
//
// Architecture:
//
//	main.go              — entry point: loads config, wires every component, waits for SIGINT/SIGTERM
//	internal/curve       — bonding-curve pricing kernel (price, smooth cost, inverse)
//	internal/ledger      — per-user accounts, per-(user,post) positions, liquidation-threshold index
//	internal/market      — post registry and the per-post critical section
//	internal/engine      — the trade executor and collateral gate, wired to ledger + market
//	internal/session     — wire-frame dispatch; emits outbound frames through the api Hub
//	internal/api         — WebSocket transport (Hub/Client, origin allowlist, bearer-token gate)
//	internal/auth        — bearer-token-to-user-id validation
//	internal/telemetry   — prometheus counters/gauges
//	internal/store       — optional crash-safe JSON snapshot of ledger + registry state
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/curvepost/engine/internal/api"
	"github.com/curvepost/engine/internal/auth"
	"github.com/curvepost/engine/internal/config"
	"github.com/curvepost/engine/internal/engine"
	"github.com/curvepost/engine/internal/ledger"
	"github.com/curvepost/engine/internal/market"
	"github.com/curvepost/engine/internal/session"
	"github.com/curvepost/engine/internal/store"
	"github.com/curvepost/engine/internal/telemetry"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("CURVEPOST_CONFIG_FILE"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	registry := market.NewRegistry()
	led := ledger.NewLedger(cfg.InitialBalance)

	var snapshotStore *store.Store
	if cfg.Store.Enabled {
		snapshotStore, err = store.Open(cfg.Store.DataDir)
		if err != nil {
			logger.Error("failed to open snapshot store", "error", err)
			os.Exit(1)
		}
		if err := snapshotStore.RestoreAll(registry, led); err != nil {
			logger.Error("failed to restore snapshot", "error", err)
			os.Exit(1)
		}
		logger.Info("restored snapshot", "data_dir", cfg.Store.DataDir, "posts", len(registry.List()))
	}

	var metricsServer *http.Server
	var recorder engine.Recorder
	var observer session.Observer
	if cfg.Metrics.Enabled {
		metrics := telemetry.New()
		recorder = metrics
		observer = metrics
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics listening", "addr", cfg.Metrics.ListenAddr)
	}

	eng := engine.New(registry, led, logger, recorder)

	hub := api.NewHub(logger)
	router := session.NewRouter(eng, registry, led, hub, observer, logger)
	hub.SetDisconnectHandler(router)

	apiServer := api.NewServer(cfg.Server, hub, auth.NewStubValidator(), router, router, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("api server failed", "error", err)
		}
	}()
	logger.Info("curvepost engine started", "addr", cfg.Server.ListenAddr)

	storeCtx, cancelStore := context.WithCancel(context.Background())
	if snapshotStore != nil {
		go snapshotStore.RunPeriodic(storeCtx, cfg.Store.SnapshotInterval, registry, led, logger)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancelStore()
	if snapshotStore != nil {
		if err := snapshotStore.SnapshotAll(registry, led); err != nil {
			logger.Error("final snapshot failed", "error", err)
		}
		snapshotStore.Close()
	}

	if err := apiServer.Stop(); err != nil {
		logger.Error("failed to stop api server", "error", err)
	}
	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(ctx); err != nil {
			logger.Error("failed to stop metrics server", "error", err)
		}
	}
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
