// Package record keeps the append-only transaction records of one network's run.
package record

import (
	"sync"
	"time"

	"github.com/gateway-fm/chainbench/pkg/types"
)

// Resolution is a terminal outcome for the record at Index.
type Resolution struct {
	Index       int
	Status      types.TxStatus
	BlockNumber *uint64
	GasUsed     *uint64
	ResolvedAt  time.Time
	Err         string
}

// Counts is a consistent view of the store's tallies.
type Counts struct {
	Sent      int
	Pending   int
	Confirmed int
	Failed    int
}

// Store holds records in submission order plus the set of pending indices.
// Records are only ever appended; an existing record only changes through
// Resolve, and only from pending to a terminal status.
type Store struct {
	mu        sync.Mutex
	records   []types.TransactionRecord
	pending   map[int]struct{}
	confirmed int
	failed    int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{pending: make(map[int]struct{})}
}

// AddPending appends a submitted transaction and returns its index.
func (s *Store) AddPending(hash string, kind types.TransactionKind, nonce uint64, submittedAt time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := len(s.records)
	s.records = append(s.records, types.TransactionRecord{
		Hash:      hash,
		Timestamp: submittedAt.UnixMilli(),
		Status:    types.TxPending,
		Kind:      kind,
		Nonce:     nonce,
	})
	s.pending[idx] = struct{}{}
	return idx
}

// AddFailed appends a transaction that never reached the network.
func (s *Store) AddFailed(hash string, kind types.TransactionKind, nonce uint64, submittedAt time.Time, reason string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := len(s.records)
	s.records = append(s.records, types.TransactionRecord{
		Hash:       hash,
		Timestamp:  submittedAt.UnixMilli(),
		Status:     types.TxFailed,
		Kind:       kind,
		Nonce:      nonce,
		Error:      reason,
		ResolvedAt: time.Now(),
	})
	s.failed++
	return idx
}

// Resolve applies a terminal outcome. It returns the updated record and true,
// or false if the index is unknown, the record is already terminal, or the
// status is not terminal.
func (s *Store) Resolve(r Resolution) (types.TransactionRecord, bool) {
	if !r.Status.Terminal() {
		return types.TransactionRecord{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Index < 0 || r.Index >= len(s.records) {
		return types.TransactionRecord{}, false
	}
	rec := s.records[r.Index]
	if rec.Status != types.TxPending {
		return rec, false
	}

	rec.Status = r.Status
	rec.BlockNumber = r.BlockNumber
	rec.GasUsed = r.GasUsed
	rec.Error = r.Err
	rec.ResolvedAt = r.ResolvedAt
	latency := r.ResolvedAt.Sub(time.UnixMilli(rec.Timestamp)).Seconds()
	if latency < 0 {
		latency = 0
	}
	rec.BlockTime = &latency

	s.records[r.Index] = rec
	delete(s.pending, r.Index)
	if r.Status == types.TxSuccess {
		s.confirmed++
	} else {
		s.failed++
	}
	return rec, true
}

// Counts returns the current tallies.
func (s *Store) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Counts{
		Sent:      len(s.records),
		Pending:   len(s.pending),
		Confirmed: s.confirmed,
		Failed:    s.failed,
	}
}

// PendingCount returns the number of records awaiting a terminal status.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Snapshot returns a copy of all records in submission order.
func (s *Store) Snapshot() []types.TransactionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.TransactionRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Reset clears the store for a new run.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.pending = make(map[int]struct{})
	s.confirmed = 0
	s.failed = 0
}
