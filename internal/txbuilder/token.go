package txbuilder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	ptypes "github.com/gateway-fm/chainbench/pkg/types"
)

// TokenAmount is the amount moved by each token transfer (1 token at 18 decimals).
var TokenAmount = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// encodeTokenTransfer encodes a transfer(address,uint256) call.
func encodeTokenTransfer(to common.Address, amount *big.Int) []byte {
	if amount.Sign() < 0 {
		panic("amount must be non-negative")
	}
	data := make([]byte, 4+32+32)
	copy(data[0:4], tokenTransferSelector)
	copy(data[4+12:4+32], to.Bytes())
	amount.FillBytes(data[4+32 : 4+64])
	return data
}

// TokenTransferBuilder builds ERC20 transfers to random recipients.
type TokenTransferBuilder struct {
	token common.Address
}

// NewTokenTransferBuilder creates a builder targeting the given token contract.
func NewTokenTransferBuilder(token common.Address) *TokenTransferBuilder {
	return &TokenTransferBuilder{token: token}
}

// Kind returns KindTokenTransfer.
func (b *TokenTransferBuilder) Kind() ptypes.TransactionKind {
	return ptypes.KindTokenTransfer
}

// GasLimit covers a cold SSTORE for a fresh recipient.
func (b *TokenTransferBuilder) GasLimit() uint64 {
	return 70000
}

// Build creates a token transfer transaction.
func (b *TokenTransferBuilder) Build(params TxParams) (*types.Transaction, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	data := encodeTokenTransfer(randomAddress(), TokenAmount)
	return newTx(params, b.token, big.NewInt(0), b.GasLimit(), data), nil
}
