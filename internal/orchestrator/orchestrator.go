// Package orchestrator runs stress tests across networks. It admits at most
// one run per network at a time and drives each network through
// idle → sending → draining → finalized.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gateway-fm/chainbench/internal/metrics"
	"github.com/gateway-fm/chainbench/internal/nonce"
	"github.com/gateway-fm/chainbench/internal/tester"
	"github.com/gateway-fm/chainbench/pkg/types"
)

// Errors returned before a run starts.
var (
	ErrRunInProgress  = errors.New("stress test already in progress")
	ErrInvalidConfig  = errors.New("invalid run config")
	ErrUnknownNetwork = errors.New("unknown network")
)

// RunStore persists completed runs.
type RunStore interface {
	SaveRun(ctx context.Context, run *types.RunSummary) error
}

// Orchestrator owns one tester per network.
type Orchestrator struct {
	testers     map[string]*tester.Tester
	broadcaster tester.Broadcaster
	prom        *metrics.Prometheus
	store       RunStore
	logger      *slog.Logger

	mu     sync.Mutex
	busy   map[string]bool
	states map[string]types.RunState
}

// Config for creating an Orchestrator.
type Config struct {
	Testers     []*tester.Tester
	Broadcaster tester.Broadcaster  // optional, receives state events
	Metrics     *metrics.Prometheus // optional
	Store       RunStore            // optional, completed-run history
	Logger      *slog.Logger
}

// New creates an Orchestrator with every network idle.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		testers:     make(map[string]*tester.Tester, len(cfg.Testers)),
		broadcaster: cfg.Broadcaster,
		prom:        cfg.Metrics,
		store:       cfg.Store,
		logger:      logger,
		busy:        make(map[string]bool),
		states:      make(map[string]types.RunState),
	}
	for _, t := range cfg.Testers {
		o.testers[t.Network()] = t
		o.states[t.Network()] = types.StateIdle
		if o.prom != nil {
			o.prom.SetRunState(t.Network(), types.StateIdle)
		}
	}
	return o
}

// Networks returns the managed network names, sorted.
func (o *Orchestrator) Networks() []string {
	names := make([]string, 0, len(o.testers))
	for name := range o.testers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// State returns a network's current state.
func (o *Orchestrator) State(network string) (types.RunState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.states[network]
	return s, ok
}

// States returns a copy of every network's state.
func (o *Orchestrator) States() map[string]types.RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]types.RunState, len(o.states))
	for k, v := range o.states {
		out[k] = v
	}
	return out
}

// Busy reports whether any network is running.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, b := range o.busy {
		if b {
			return true
		}
	}
	return false
}

func (o *Orchestrator) setState(network string, s types.RunState) {
	o.mu.Lock()
	o.states[network] = s
	o.mu.Unlock()

	o.logger.Info("state changed", slog.String("network", network), slog.String("state", string(s)))
	if o.prom != nil {
		o.prom.SetRunState(network, s)
	}
	if o.broadcaster != nil {
		o.broadcaster.Broadcast(types.Event{Type: types.EventState, Network: network, State: s})
	}
}

// acquire marks every network busy, or none if any already is.
func (o *Orchestrator) acquire(networks []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, n := range networks {
		if o.busy[n] {
			return fmt.Errorf("%w: %s", ErrRunInProgress, n)
		}
	}
	for _, n := range networks {
		o.busy[n] = true
	}
	return nil
}

func (o *Orchestrator) release(network string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.busy, network)
}

// Validate resolves a request into a run config and the ordered, de-duplicated
// list of networks it touches.
func (o *Orchestrator) Validate(req types.RunRequest) (tester.RunConfig, []string, error) {
	kindName := string(req.TransactionKind)
	if kindName == "" {
		kindName = string(types.KindTransfer)
	}
	kind, ok := types.ParseTransactionKind(kindName)
	if !ok {
		return tester.RunConfig{}, nil, fmt.Errorf("%w: unknown transaction type %q", ErrInvalidConfig, req.TransactionKind)
	}

	rc := tester.RunConfig{
		Duration:  time.Duration(req.DurationSeconds) * time.Second,
		TargetTPS: req.TargetTPS,
		Kind:      kind,
	}
	if err := rc.Validate(); err != nil {
		return tester.RunConfig{}, nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if len(req.Networks) == 0 {
		return tester.RunConfig{}, nil, fmt.Errorf("%w: no networks requested", ErrInvalidConfig)
	}

	networks := make([]string, 0, len(req.Networks))
	seen := make(map[string]bool, len(req.Networks))
	for _, n := range req.Networks {
		if seen[n] {
			continue
		}
		seen[n] = true
		t, ok := o.testers[n]
		if !ok {
			return tester.RunConfig{}, nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, n)
		}
		if !t.Supports(kind) {
			return tester.RunConfig{}, nil, fmt.Errorf("%w: %s has no contract for %s", ErrInvalidConfig, n, kind)
		}
		networks = append(networks, n)
	}
	return rc, networks, nil
}

// Run validates req, acquires every requested network at once and runs them
// one after another. A request touching a busy network is rejected with
// ErrRunInProgress without affecting the active run.
func (o *Orchestrator) Run(ctx context.Context, req types.RunRequest) (types.RunResult, error) {
	rc, networks, err := o.Validate(req)
	if err != nil {
		return nil, err
	}
	if err := o.acquire(networks); err != nil {
		return nil, err
	}

	summary := &types.RunSummary{
		ID:              uuid.NewString(),
		StartedAt:       time.Now(),
		DurationSeconds: req.DurationSeconds,
		TargetTPS:       rc.TargetTPS,
		TransactionKind: rc.Kind,
		Networks:        networks,
	}
	logger := o.logger.With(slog.String("run", summary.ID))
	logger.Info("run started", slog.Any("networks", networks), slog.Int("tps", rc.TargetTPS))

	result := make(types.RunResult, len(networks))
	for i, n := range networks {
		m, err := o.runNetwork(ctx, o.testers[n], rc)
		o.release(n)
		if err != nil {
			for _, rest := range networks[i+1:] {
				o.release(rest)
			}
			logger.Error("run failed", slog.String("network", n), slog.String("error", err.Error()))
			return nil, fmt.Errorf("run %s: %w", n, err)
		}
		result[n] = m
	}

	summary.FinishedAt = time.Now()
	summary.Results = result
	o.persist(ctx, logger, summary)
	logger.Info("run finished")
	return result, nil
}

// RunNetwork runs a single network under its own busy flag.
func (o *Orchestrator) RunNetwork(ctx context.Context, network string, rc tester.RunConfig) (*types.NetworkMetrics, error) {
	t, ok := o.testers[network]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, network)
	}
	if err := rc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := o.acquire([]string{network}); err != nil {
		return nil, err
	}
	defer o.release(network)
	return o.runNetwork(ctx, t, rc)
}

func (o *Orchestrator) runNetwork(ctx context.Context, t *tester.Tester, rc tester.RunConfig) (*types.NetworkMetrics, error) {
	network := t.Network()

	if err := t.Begin(ctx, rc); err != nil {
		if errors.Is(err, nonce.ErrSequencing) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	o.setState(network, types.StateSending)
	if err := t.Send(ctx, t.Deadline()); err != nil {
		t.Abort()
		o.setState(network, types.StateIdle)
		return nil, err
	}

	o.setState(network, types.StateDraining)
	timedOut := t.Drain(ctx)

	m := t.Finalize(timedOut)
	o.setState(network, types.StateFinalized)
	return m, nil
}

func (o *Orchestrator) persist(ctx context.Context, logger *slog.Logger, summary *types.RunSummary) {
	if o.store == nil {
		return
	}
	// Shutdown must not lose a finished run.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.store.SaveRun(saveCtx, summary); err != nil {
		logger.Error("failed to save run", slog.String("error", err.Error()))
	}
}
