// Package chain is the upstream collaborator the benchmark engine talks to:
// it builds, signs and submits transactions, waits for receipts and reports
// the signer's sequence count and the chain height.
package chain

import (
	"context"
	"errors"

	ptypes "github.com/gateway-fm/chainbench/pkg/types"
)

// ErrReceiptUnavailable is returned when a receipt could not be fetched
// after repeated RPC failures.
var ErrReceiptUnavailable = errors.New("receipt unavailable")

// Receipt is the inclusion outcome of a transaction.
type Receipt struct {
	Success     bool
	BlockNumber uint64
	GasUsed     uint64
}

// Client is the chain interface used by the engine. Implementations must be
// safe for concurrent use.
type Client interface {
	// SequenceCount returns the signer's current transaction count.
	SequenceCount(ctx context.Context) (uint64, error)

	// Submit builds, signs and sends one transaction of the given kind.
	// The returned hash is non-empty whenever the transaction was signed,
	// even if sending it failed.
	Submit(ctx context.Context, kind ptypes.TransactionKind, nonce uint64) (string, error)

	// AwaitReceipt blocks until the transaction is included, ctx is done,
	// or the receipt cannot be obtained.
	AwaitReceipt(ctx context.Context, hash string) (*Receipt, error)

	// BlockNumber returns the latest block height.
	BlockNumber(ctx context.Context) (uint64, error)
}
