package txbuilder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	ptypes "github.com/gateway-fm/chainbench/pkg/types"
)

// MintBuilder builds mint(address) calls that mint to the sender.
type MintBuilder struct {
	nft common.Address
}

// NewMintBuilder creates a builder targeting the given NFT contract.
func NewMintBuilder(nft common.Address) *MintBuilder {
	return &MintBuilder{nft: nft}
}

// Kind returns KindMint.
func (b *MintBuilder) Kind() ptypes.TransactionKind {
	return ptypes.KindMint
}

// GasLimit returns the gas limit for a mint.
func (b *MintBuilder) GasLimit() uint64 {
	return 150000
}

// Build creates a mint transaction.
func (b *MintBuilder) Build(params TxParams) (*types.Transaction, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	data := make([]byte, 4+32)
	copy(data[0:4], mintSelector)
	copy(data[4+12:], params.From.Bytes())
	return newTx(params, b.nft, big.NewInt(0), b.GasLimit(), data), nil
}
