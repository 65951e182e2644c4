// Command chainbench runs blockchain stress tests, either as an HTTP service
// with live progress streams or as a one-shot CLI run (-tps > 0).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gateway-fm/chainbench/internal/account"
	"github.com/gateway-fm/chainbench/internal/broadcast"
	"github.com/gateway-fm/chainbench/internal/chain"
	"github.com/gateway-fm/chainbench/internal/config"
	"github.com/gateway-fm/chainbench/internal/metrics"
	"github.com/gateway-fm/chainbench/internal/monitor"
	"github.com/gateway-fm/chainbench/internal/network"
	"github.com/gateway-fm/chainbench/internal/orchestrator"
	"github.com/gateway-fm/chainbench/internal/rpc"
	"github.com/gateway-fm/chainbench/internal/storage"
	"github.com/gateway-fm/chainbench/internal/tester"
	"github.com/gateway-fm/chainbench/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, cliCfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	// CLI mode prints results on stdout, so logs move to stderr.
	logOut := os.Stdout
	if cliCfg != nil {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, cliCfg, logger); err != nil {
		logger.Error("chainbench failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// app holds the wired components shared by both modes.
type app struct {
	registry     *network.Registry
	clients      map[string]rpc.Client
	hub          *broadcast.Hub
	orchestrator *orchestrator.Orchestrator
	monitor      *monitor.Monitor
	history      storage.Storage // nil when history is disabled
}

func build(cfg *config.Config, logger *slog.Logger) (*app, error) {
	acct, err := account.NewAccountFromHex(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded signer", slog.String("address", acct.Address.Hex()))

	prom := metrics.NewPrometheus(prometheus.DefaultRegisterer)

	hub := broadcast.NewHub(broadcast.Config{
		KeepaliveInterval: cfg.KeepaliveInterval,
		Logger:            logger,
	})

	a := &app{
		registry: network.NewRegistry(cfg.Networks...),
		clients:  make(map[string]rpc.Client, len(cfg.Networks)),
		hub:      hub,
	}

	testers := make([]*tester.Tester, 0, len(cfg.Networks))
	for _, n := range cfg.Networks {
		rpcCfg := rpc.DefaultClientConfig(n.RPCURL)
		rpcCfg.Observe = prom.ObserveRPC
		client := rpc.NewHTTPClient(rpcCfg)
		a.clients[n.Name] = client

		eth := chain.NewEthClient(chain.EthConfig{
			RPC:                 client,
			Account:             acct,
			Network:             n,
			ReceiptPollInterval: cfg.ReceiptPollInterval,
			Logger:              logger,
		})

		testers = append(testers, tester.New(tester.Config{
			Network:           n.Name,
			Client:            eth,
			Broadcaster:       hub,
			Metrics:           prom,
			BatchSize:         cfg.BatchSize,
			Concurrency:       cfg.SubmitConcurrency,
			DrainTimeout:      cfg.DrainTimeout,
			DrainPollInterval: cfg.DrainPollInterval,
			Logger:            logger,
		}))

		logger.Info("configured network",
			slog.String("network", n.Name),
			slog.String("label", n.Label()),
			slog.Int64("chain_id", n.ChainID),
			slog.String("rpc", n.RPCURL),
		)
	}

	var runStore orchestrator.RunStore
	if cfg.DatabasePath != "" {
		store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.history = store
		runStore = store
		logger.Info("initialized storage", slog.String("path", cfg.DatabasePath))
	}

	a.orchestrator = orchestrator.New(orchestrator.Config{
		Testers:     testers,
		Broadcaster: hub,
		Metrics:     prom,
		Store:       runStore,
		Logger:      logger,
	})
	a.monitor = monitor.New(monitor.Config{Clients: a.clients, Logger: logger})

	return a, nil
}

func (a *app) close() {
	a.hub.Close()
	if a.history != nil {
		a.history.Close()
	}
}

func run(ctx context.Context, cfg *config.Config, cliCfg *config.CLIConfig, logger *slog.Logger) error {
	a, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	go a.hub.Run(ctx)

	if cliCfg != nil {
		return runCLI(ctx, a, cliCfg, logger)
	}
	return serve(ctx, a, cfg, logger)
}

// runCLI runs a single stress test and prints the results as JSON.
func runCLI(ctx context.Context, a *app, cliCfg *config.CLIConfig, logger *slog.Logger) error {
	for _, name := range cliCfg.Networks {
		snap, err := a.monitor.Snapshot(ctx, name)
		if err != nil {
			continue // unknown networks are reported by the run itself
		}
		if warning := config.CheckSignerCapacity(cliCfg.TPS, int(snap.BlockTime*1000)); warning != "" {
			logger.Warn(warning, slog.String("network", name))
		}
	}

	result, err := a.orchestrator.Run(ctx, cliCfg.RunRequest())
	if err != nil {
		return err
	}

	for name, m := range result {
		logger.Info("test completed",
			slog.String("network", name),
			slog.Int("sent", m.Sent),
			slog.Int("confirmed", m.Confirmed),
			slog.Int("failed", m.Failed),
			slog.Int("pending", m.Pending),
			slog.Float64("avg_tps", m.AvgTPS),
			slog.Float64("success_rate", m.SuccessRate),
		)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// serve runs the HTTP API until ctx is done.
func serve(ctx context.Context, a *app, cfg *config.Config, logger *slog.Logger) error {
	server := transport.NewServer(transport.ServerConfig{
		Runner:             a.orchestrator,
		Networks:           a.registry,
		Monitor:            a.monitor,
		History:            a.history,
		Hub:                a.hub,
		Health:             transport.RPCHealth(a.clients),
		RunContext:         ctx,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:             logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", slog.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down...")

	// Streams end when their subscriptions close.
	a.hub.Close()
	server.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
