// Package tester drives one network through a run: rate-paced submission,
// draining outstanding receipts and reducing the records into metrics.
package tester

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/gateway-fm/chainbench/internal/chain"
	"github.com/gateway-fm/chainbench/internal/metrics"
	"github.com/gateway-fm/chainbench/internal/nonce"
	"github.com/gateway-fm/chainbench/internal/ratelimit"
	"github.com/gateway-fm/chainbench/internal/record"
	"github.com/gateway-fm/chainbench/internal/sender"
	"github.com/gateway-fm/chainbench/internal/watcher"
	"github.com/gateway-fm/chainbench/pkg/types"
)

// Defaults for Tester.
const (
	DefaultBatchSize         = 10
	DefaultSendGrace         = 30 * time.Second
	DefaultDrainTimeout      = 60 * time.Second
	DefaultDrainPollInterval = time.Second
	DefaultHeightInterval    = time.Second
)

// ErrInvalidRunConfig is returned for a RunConfig that cannot start.
var ErrInvalidRunConfig = errors.New("invalid run config")

// RunConfig is the immutable description of one run.
type RunConfig struct {
	Duration  time.Duration
	TargetTPS int
	Kind      types.TransactionKind
}

// Validate checks the config can start a run.
func (c RunConfig) Validate() error {
	if c.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidRunConfig)
	}
	if c.TargetTPS <= 0 {
		return fmt.Errorf("%w: tps must be positive", ErrInvalidRunConfig)
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: unknown transaction kind %q", ErrInvalidRunConfig, c.Kind)
	}
	return nil
}

// Total is the number of transactions the run requests: rate × duration,
// rounded, and at least one.
func (c RunConfig) Total() int {
	total := int(math.Round(float64(c.TargetTPS) * c.Duration.Seconds()))
	return max(total, 1)
}

// Broadcaster publishes progress events.
type Broadcaster interface {
	Broadcast(ev types.Event) int
}

// Config for creating a Tester.
type Config struct {
	Network     string
	Client      chain.Client
	Broadcaster Broadcaster         // optional
	Metrics     *metrics.Prometheus // optional

	BatchSize         int           // nonces reserved per concurrent batch (default: 10)
	Concurrency       int           // max concurrent submissions (default: sender default)
	WindowDuration    time.Duration // pacing window (default: 1s)
	SendGrace         time.Duration // deadline slack after the run duration (default: 30s)
	DrainTimeout      time.Duration // default: 60s
	DrainPollInterval time.Duration // default: 1s
	HeightInterval    time.Duration // block height refresh for progress events (default: 1s)
	Logger            *slog.Logger
}

// heightCache holds the latest block height seen by one run's poller.
type heightCache struct {
	latest atomic.Pointer[uint64]
}

// Tester owns the record store and nonce sequencer of one network.
// A Tester runs at most one run at a time; callers serialise runs.
type Tester struct {
	network     string
	client      chain.Client
	broadcaster Broadcaster
	prom        *metrics.Prometheus

	store     *record.Store
	sequencer *nonce.Sequencer
	sender    *sender.Sender
	watcher   *watcher.Watcher

	batchSize     int
	windowLen     time.Duration
	sendGrace     time.Duration
	drainTimeout  time.Duration
	drainInterval time.Duration
	heightEvery   time.Duration

	run       RunConfig
	startedAt time.Time
	heights   *heightCache
	cancel    context.CancelFunc
	logger    *slog.Logger
}

// New creates a Tester.
func New(cfg Config) *Tester {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("network", cfg.Network))

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	windowLen := cfg.WindowDuration
	if windowLen <= 0 {
		windowLen = ratelimit.DefaultWindow
	}
	sendGrace := cfg.SendGrace
	if sendGrace <= 0 {
		sendGrace = DefaultSendGrace
	}
	drainTimeout := cfg.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}
	drainInterval := cfg.DrainPollInterval
	if drainInterval <= 0 {
		drainInterval = DefaultDrainPollInterval
	}
	heightEvery := cfg.HeightInterval
	if heightEvery <= 0 {
		heightEvery = DefaultHeightInterval
	}

	var inFlight sender.Gauge
	if cfg.Metrics != nil {
		inFlight = cfg.Metrics.InFlight(cfg.Network)
	}

	return &Tester{
		network:     cfg.Network,
		client:      cfg.Client,
		broadcaster: cfg.Broadcaster,
		prom:        cfg.Metrics,
		store:       record.NewStore(),
		sequencer:   nonce.NewSequencer(cfg.Client),
		sender: sender.New(sender.Config{
			Submitter:   cfg.Client,
			Concurrency: cfg.Concurrency,
			InFlight:    inFlight,
			Logger:      logger,
		}),
		batchSize:     batchSize,
		windowLen:     windowLen,
		sendGrace:     sendGrace,
		drainTimeout:  drainTimeout,
		drainInterval: drainInterval,
		heightEvery:   heightEvery,
		logger:        logger,
	}
}

// Network returns the network name.
func (t *Tester) Network() string {
	return t.network
}

// Supports reports whether the network can build transactions of kind.
// Clients that do not say are assumed to support every kind.
func (t *Tester) Supports(kind types.TransactionKind) bool {
	if s, ok := t.client.(interface {
		Supports(types.TransactionKind) bool
	}); ok {
		return s.Supports(kind)
	}
	return true
}

// Begin resets the store and sequencer, fetches the starting nonce and starts
// a fresh watcher bound to ctx. A failed nonce fetch returns a
// *nonce.SequencingError and leaves nothing running.
func (t *Tester) Begin(ctx context.Context, rc RunConfig) error {
	if err := rc.Validate(); err != nil {
		return err
	}
	t.Abort()

	t.store.Reset()
	t.sequencer.Reset()
	if err := t.sequencer.Prime(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.run = rc
	t.startedAt = time.Now()
	t.heights = &heightCache{}
	if t.broadcaster != nil {
		go t.pollHeight(runCtx, t.heights)
	}
	t.watcher = watcher.New(runCtx, watcher.Config{
		Awaiter: t.client,
		Store:   t.store,
		OnApply: t.applied,
		Logger:  t.logger,
	})
	if t.prom != nil {
		t.prom.SetPending(t.network, 0)
	}
	return nil
}

// Deadline is the default hard stop for sending: start + duration + grace.
func (t *Tester) Deadline() time.Time {
	return t.startedAt.Add(t.run.Duration + t.sendGrace)
}

// Send submits the run's transactions in paced windows until the requested
// total has been attempted, the deadline passes or ctx is done. It never
// waits for confirmations. Only a sequencing failure is returned as an error.
func (t *Tester) Send(ctx context.Context, deadline time.Time) error {
	total := t.run.Total()
	window := ratelimit.NewWindow(t.run.TargetTPS, t.windowLen)

	t.logger.Info("sending",
		slog.Int("total", total),
		slog.Int("tps", t.run.TargetTPS),
		slog.String("kind", string(t.run.Kind)),
	)

	sent := 0
	for sent < total {
		if stop := t.shouldStop(ctx, deadline); stop != "" {
			t.logger.Info("send loop stopped early", slog.String("reason", stop), slog.Int("sent", sent))
			return nil
		}

		window.Begin()
		quota := window.Quota(total - sent)
		for quota > 0 {
			if t.shouldStop(ctx, deadline) != "" {
				break
			}
			n := min(t.batchSize, quota)
			if err := t.sendBatch(ctx, n, total); err != nil {
				return err
			}
			sent += n
			quota -= n
		}

		if sent >= total {
			break
		}
		// An overrun window falls through immediately.
		_ = window.Wait(ctx)
	}

	t.logger.Info("send loop finished", slog.Int("sent", sent))
	return nil
}

func (t *Tester) shouldStop(ctx context.Context, deadline time.Time) string {
	if ctx.Err() != nil {
		return "cancelled"
	}
	if !deadline.IsZero() && !time.Now().Before(deadline) {
		return "deadline"
	}
	return ""
}

// sendBatch reserves n nonces in order, submits them concurrently, records
// each outcome and publishes a progress snapshot.
func (t *Tester) sendBatch(ctx context.Context, n, total int) error {
	nonces := make([]uint64, 0, n)
	for range n {
		nv, err := t.sequencer.Next(ctx)
		if err != nil {
			return fmt.Errorf("reserve nonce: %w", err)
		}
		nonces = append(nonces, nv)
	}

	start := time.Now()
	results := t.sender.SendBatch(ctx, t.run.Kind, nonces)
	if t.prom != nil {
		t.prom.ObserveBatch(t.network, time.Since(start))
	}

	for _, r := range results {
		if r.Err != nil {
			t.store.AddFailed(r.Hash, t.run.Kind, r.Nonce, r.SubmittedAt, r.Err.Error())
			if t.prom != nil {
				t.prom.RecordSubmitted(t.network, t.run.Kind, types.TxFailed)
			}
			continue
		}
		idx := t.store.AddPending(r.Hash, t.run.Kind, r.Nonce, r.SubmittedAt)
		t.watcher.Watch(idx, r.Hash)
		if t.prom != nil {
			t.prom.RecordSubmitted(t.network, t.run.Kind, types.TxPending)
		}
	}

	t.publishProgress(total)
	return nil
}

func (t *Tester) publishProgress(total int) {
	c := t.store.Counts()
	if t.prom != nil {
		t.prom.SetPending(t.network, c.Pending)
	}
	if t.broadcaster == nil {
		return
	}

	snap := &types.ProgressSnapshot{
		Sent:      c.Sent,
		Pending:   c.Pending,
		Confirmed: c.Confirmed,
		Failed:    c.Failed,
		Total:     total,
		Progress:  float64(c.Sent) / float64(total) * 100,
	}
	if t.heights != nil {
		snap.BlockNumber = t.heights.latest.Load()
	}
	t.broadcaster.Broadcast(types.Event{Type: types.EventTransactions, Network: t.network, Data: snap})
}

// pollHeight refreshes the block height shown in progress events until ctx
// is done. It runs beside the send loop so a slow node never delays a batch.
func (t *Tester) pollHeight(ctx context.Context, cache *heightCache) {
	ticker := time.NewTicker(t.heightEvery)
	defer ticker.Stop()

	for {
		if h, err := t.client.BlockNumber(ctx); err == nil {
			cache.latest.Store(&h)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// applied runs on the watcher's applier goroutine.
func (t *Tester) applied(rec types.TransactionRecord) {
	if t.prom != nil {
		t.prom.RecordResolved(t.network, rec)
		t.prom.SetPending(t.network, t.store.PendingCount())
	}
	if t.broadcaster != nil {
		t.broadcaster.Broadcast(types.Event{Type: types.EventTxLog, Network: t.network, Transaction: &rec})
	}
}

// Drain polls until no record is pending, the drain timeout elapses or ctx is
// done. It reports whether pending records remained.
func (t *Tester) Drain(ctx context.Context) bool {
	timeout := time.NewTimer(t.drainTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(t.drainInterval)
	defer ticker.Stop()

	for {
		if t.store.PendingCount() == 0 {
			return false
		}
		select {
		case <-ctx.Done():
			return true
		case <-timeout.C:
			pending := t.store.PendingCount()
			if pending == 0 {
				return false
			}
			t.logger.Warn("drain timed out", slog.Int("pending", pending))
			return true
		case <-ticker.C:
		}
	}
}

// Finalize stops the watcher and reduces the records into metrics. Records
// still pending stay pending.
func (t *Tester) Finalize(drainTimedOut bool) *types.NetworkMetrics {
	t.Abort()

	m := metrics.Aggregate(t.store.Snapshot(), metrics.Options{
		Requested:     t.run.Total(),
		StartedAt:     t.startedAt,
		FinishedAt:    time.Now(),
		DrainTimedOut: drainTimedOut,
	})
	t.logger.Info("run finalized",
		slog.Int("sent", m.Sent),
		slog.Int("confirmed", m.Confirmed),
		slog.Int("failed", m.Failed),
		slog.Int("pending", m.Pending),
		slog.Float64("successRate", m.SuccessRate),
	)
	return m
}

// Abort stops the watcher and height poller without aggregating, leaving
// pending records pending.
func (t *Tester) Abort() {
	if t.watcher != nil {
		t.watcher.Stop()
		t.watcher = nil
	}
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

// Counts returns the live tallies of the current run.
func (t *Tester) Counts() record.Counts {
	return t.store.Counts()
}
