package storage

import (
	"context"
	"errors"

	"github.com/gateway-fm/chainbench/pkg/types"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Storage defines the persistence interface for completed runs.
type Storage interface {
	// SaveRun stores a completed run with its per-network results and
	// transaction logs.
	SaveRun(ctx context.Context, run *types.RunSummary) error

	// GetRun returns a run with full results, including transactions.
	GetRun(ctx context.Context, id string) (*types.RunSummary, error)

	// ListRuns returns runs newest first. Results carry metrics but no
	// transactions.
	ListRuns(ctx context.Context, limit, offset int) (*types.PaginatedRuns, error)

	DeleteRun(ctx context.Context, id string) error

	// Transaction log queries
	GetTxLogs(ctx context.Context, runID, network string, limit, offset int) (*PaginatedTxLogs, error)
	GetTxLogByHash(ctx context.Context, hash string) (*TxLogEntry, error)

	// Lifecycle
	Close() error
}
