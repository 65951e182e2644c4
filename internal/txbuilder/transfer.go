package txbuilder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"

	ptypes "github.com/gateway-fm/chainbench/pkg/types"
)

// TransferValue is the native value moved by each transfer (0.0001 ether).
var TransferValue = big.NewInt(100_000_000_000_000)

// TransferBuilder builds native value transfers to random recipients.
type TransferBuilder struct{}

// NewTransferBuilder creates a new transfer builder.
func NewTransferBuilder() *TransferBuilder {
	return &TransferBuilder{}
}

// Kind returns KindTransfer.
func (b *TransferBuilder) Kind() ptypes.TransactionKind {
	return ptypes.KindTransfer
}

// GasLimit returns 21000.
func (b *TransferBuilder) GasLimit() uint64 {
	return 21000
}

// Build creates a transfer transaction.
func (b *TransferBuilder) Build(params TxParams) (*types.Transaction, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return newTx(params, randomAddress(), new(big.Int).Set(TransferValue), b.GasLimit(), nil), nil
}
