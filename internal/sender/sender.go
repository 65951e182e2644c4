// Package sender submits a batch of transactions concurrently with a bound on
// in-flight submissions.
package sender

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/chainbench/pkg/types"
)

// Submitter submits one transaction and returns its hash.
type Submitter interface {
	Submit(ctx context.Context, kind types.TransactionKind, nonce uint64) (string, error)
}

// Gauge tracks submissions in progress. prometheus.Gauge satisfies it.
type Gauge interface {
	Inc()
	Dec()
}

// Result is the submission outcome for one nonce of a batch.
type Result struct {
	Nonce       uint64
	Hash        string
	Err         error
	SubmittedAt time.Time
}

// Sender submits batches through a Submitter.
type Sender struct {
	submitter   Submitter
	concurrency int
	inFlight    Gauge
	logger      *slog.Logger
}

// Config for creating a Sender.
type Config struct {
	Submitter   Submitter
	Concurrency int   // Max concurrent submissions per batch (default: 100)
	InFlight    Gauge // optional
	Logger      *slog.Logger
}

// New creates a new Sender.
func New(cfg Config) *Sender {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 100
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sender{
		submitter:   cfg.Submitter,
		concurrency: concurrency,
		inFlight:    cfg.InFlight,
		logger:      logger,
	}
}

// SendBatch submits one transaction per nonce concurrently and returns when
// every submission has either produced a hash or failed. Results are in
// nonce order. A failed submission never aborts its siblings.
func (s *Sender) SendBatch(ctx context.Context, kind types.TransactionKind, nonces []uint64) []Result {
	results := make([]Result, len(nonces))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, nonce := range nonces {
		g.Go(func() error {
			if s.inFlight != nil {
				s.inFlight.Inc()
				defer s.inFlight.Dec()
			}

			submittedAt := time.Now()
			hash, err := s.submitter.Submit(ctx, kind, nonce)
			results[i] = Result{Nonce: nonce, Hash: hash, Err: err, SubmittedAt: submittedAt}
			if err != nil {
				s.logger.Debug("submission failed",
					slog.Uint64("nonce", nonce),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
