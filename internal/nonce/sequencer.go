// Package nonce hands out strictly increasing sequence numbers for one signer
// on one network.
package nonce

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrSequencing is the sentinel for a failed initial sequence fetch.
var ErrSequencing = errors.New("sequencing failure")

// SequencingError reports that the starting sequence number could not be fetched.
type SequencingError struct {
	Err error
}

func (e *SequencingError) Error() string {
	return fmt.Sprintf("sequencing failure: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *SequencingError) Unwrap() error { return e.Err }

// Is matches ErrSequencing.
func (e *SequencingError) Is(target error) bool { return target == ErrSequencing }

// Source reports the signer's current on-chain transaction count.
type Source interface {
	SequenceCount(ctx context.Context) (uint64, error)
}

// Sequencer issues nonces. The first Next fetches the starting count from the
// source and every later call increments a local counter without a round trip.
// Issued nonces are never returned, even when the transaction using one fails.
type Sequencer struct {
	source Source

	mu          sync.Mutex
	initialized bool
	next        uint64
}

// NewSequencer creates a sequencer backed by source.
func NewSequencer(source Source) *Sequencer {
	return &Sequencer{source: source}
}

// Prime fetches the starting count if it is not cached yet, without issuing
// a nonce. A failure returns a *SequencingError.
func (s *Sequencer) Prime(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primeLocked(ctx)
}

func (s *Sequencer) primeLocked(ctx context.Context) error {
	if s.initialized {
		return nil
	}
	start, err := s.source.SequenceCount(ctx)
	if err != nil {
		return &SequencingError{Err: err}
	}
	s.next = start
	s.initialized = true
	return nil
}

// Next returns the next nonce. A failure to fetch the starting count returns
// a *SequencingError and leaves the sequencer uninitialized.
func (s *Sequencer) Next(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.primeLocked(ctx); err != nil {
		return 0, err
	}
	n := s.next
	s.next++
	return n, nil
}

// Reset forgets the cached count so the next run refetches it.
func (s *Sequencer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = false
	s.next = 0
}
