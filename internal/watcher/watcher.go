// Package watcher tracks submitted transactions to finality without blocking
// the sender. Each wait runs on its own goroutine and reports back through a
// channel; a single applier goroutine owns every write to the record store.
package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gateway-fm/chainbench/internal/chain"
	"github.com/gateway-fm/chainbench/internal/record"
	"github.com/gateway-fm/chainbench/pkg/types"
)

// Awaiter waits for a transaction's receipt.
type Awaiter interface {
	AwaitReceipt(ctx context.Context, hash string) (*chain.Receipt, error)
}

// Outcome is what a wait goroutine reports for one transaction.
type Outcome struct {
	Index      int
	Receipt    *chain.Receipt
	Err        error
	ResolvedAt time.Time
}

// Resolution converts the outcome into a store resolution.
func (o Outcome) Resolution() record.Resolution {
	r := record.Resolution{Index: o.Index, ResolvedAt: o.ResolvedAt}
	if o.Err != nil || o.Receipt == nil {
		r.Status = types.TxFailed
		if o.Err != nil {
			r.Err = o.Err.Error()
		}
		return r
	}

	block, gas := o.Receipt.BlockNumber, o.Receipt.GasUsed
	r.BlockNumber = &block
	r.GasUsed = &gas
	if o.Receipt.Success {
		r.Status = types.TxSuccess
	} else {
		r.Status = types.TxFailed
		r.Err = "execution reverted"
	}
	return r
}

// Watcher spawns receipt waits and applies their outcomes to a store.
type Watcher struct {
	awaiter  Awaiter
	store    *record.Store
	onApply  func(types.TransactionRecord)
	logger   *slog.Logger
	results  chan Outcome
	ctx      context.Context
	cancel   context.CancelFunc
	waits    sync.WaitGroup
	applied  chan struct{}
	stopOnce sync.Once
}

// Config for creating a Watcher.
type Config struct {
	Awaiter Awaiter
	Store   *record.Store
	// OnApply is called from the applier goroutine after a record turns terminal.
	OnApply func(types.TransactionRecord)
	Logger  *slog.Logger
	// Buffer is the result channel capacity (default: 1024).
	Buffer int
}

// New creates a Watcher and starts its applier goroutine. The watcher is
// bound to ctx: cancelling it abandons every outstanding wait.
func New(ctx context.Context, cfg Config) *Watcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 1024
	}

	wctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		awaiter: cfg.Awaiter,
		store:   cfg.Store,
		onApply: cfg.OnApply,
		logger:  logger,
		results: make(chan Outcome, buffer),
		ctx:     wctx,
		cancel:  cancel,
		applied: make(chan struct{}),
	}
	go w.apply()
	return w
}

// Watch starts waiting for the transaction stored at index.
// It must not be called after Stop.
func (w *Watcher) Watch(index int, hash string) {
	w.waits.Add(1)
	go func() {
		defer w.waits.Done()

		receipt, err := w.awaiter.AwaitReceipt(w.ctx, hash)
		if w.ctx.Err() != nil {
			// Abandoned: the record stays pending.
			return
		}
		select {
		case w.results <- Outcome{Index: index, Receipt: receipt, Err: err, ResolvedAt: time.Now()}:
		case <-w.ctx.Done():
		}
	}()
}

func (w *Watcher) apply() {
	defer close(w.applied)
	for o := range w.results {
		rec, ok := w.store.Resolve(o.Resolution())
		if !ok {
			continue
		}
		if o.Err != nil {
			w.logger.Debug("transaction wait failed",
				slog.String("hash", rec.Hash),
				slog.String("error", o.Err.Error()),
			)
		}
		if w.onApply != nil {
			w.onApply(rec)
		}
	}
}

// Stop abandons outstanding waits and returns once every goroutine has exited
// and all delivered outcomes are applied. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.cancel()
		w.waits.Wait()
		close(w.results)
	})
	<-w.applied
}
