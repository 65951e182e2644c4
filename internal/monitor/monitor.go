// Package monitor takes passive performance snapshots of a network from its
// two most recent blocks, without sending any transactions.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/chainbench/internal/rpc"
	"github.com/gateway-fm/chainbench/pkg/types"
)

// ErrUnknownNetwork is returned for a network the monitor has no client for.
var ErrUnknownNetwork = errors.New("unknown network")

const weiPerGwei = 1e9

// Monitor snapshots configured networks.
type Monitor struct {
	clients map[string]rpc.Client
	logger  *slog.Logger
}

// Config for creating a Monitor.
type Config struct {
	Clients map[string]rpc.Client
	Logger  *slog.Logger
}

// New creates a Monitor.
func New(cfg Config) *Monitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{clients: cfg.Clients, logger: logger}
}

// Snapshot measures a network's current TPS and block time from its latest
// two blocks, its gas price in gwei and the round trip of one RPC call in
// milliseconds. Only a failure to read the latest block is an error; any
// other measurement that fails is reported as zero.
func (m *Monitor) Snapshot(ctx context.Context, network string) (*types.NetworkSnapshot, error) {
	client, ok := m.clients[network]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, network)
	}
	logger := m.logger.With(slog.String("network", network))

	latest, err := client.GetLatestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("get latest block: %w", err)
	}
	if latest == nil {
		return nil, fmt.Errorf("get latest block: no block returned")
	}

	snap := &types.NetworkSnapshot{Network: network, BlockNumber: latest.Number}

	var g errgroup.Group
	g.Go(func() error {
		if latest.Number == 0 {
			return nil
		}
		prev, err := client.GetBlockByNumber(ctx, latest.Number-1)
		if err != nil || prev == nil {
			logger.Debug("previous block unavailable", slog.Any("error", err))
			return nil
		}
		span := latest.Timestamp.Sub(prev.Timestamp).Seconds()
		snap.BlockTime = span
		if span > 0 {
			snap.TPS = float64(latest.TxCount) / span
		}
		return nil
	})
	g.Go(func() error {
		price, err := client.GetGasPrice(ctx)
		if err != nil {
			logger.Debug("gas price unavailable", slog.String("error", err.Error()))
			return nil
		}
		snap.GasPrice = float64(price) / weiPerGwei
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		if _, err := client.GetBlockNumber(ctx); err != nil {
			logger.Debug("latency probe failed", slog.String("error", err.Error()))
			return nil
		}
		snap.Latency = float64(time.Since(start).Microseconds()) / 1000
		return nil
	})
	_ = g.Wait()

	return snap, nil
}
