// Package txbuilder builds unsigned transactions for each transaction kind.
package txbuilder

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	ptypes "github.com/gateway-fm/chainbench/pkg/types"
)

// TxParams holds parameters for building a transaction.
type TxParams struct {
	ChainID   *big.Int
	Nonce     uint64
	GasTipCap *big.Int
	GasFeeCap *big.Int       // Used as the gas price for legacy transactions
	From      common.Address // Sender, for kinds that target the sender (mint)
	UseLegacy bool
}

func (p TxParams) validate() error {
	if p.ChainID == nil || p.ChainID.Sign() == 0 {
		return fmt.Errorf("ChainID must be non-nil and non-zero")
	}
	if p.GasFeeCap == nil || p.GasTipCap == nil {
		return fmt.Errorf("gas tip cap and fee cap are required")
	}
	return nil
}

// Builder builds transactions for one transaction kind.
type Builder interface {
	// Kind returns the transaction kind this builder produces.
	Kind() ptypes.TransactionKind

	// GasLimit returns the gas limit for this kind.
	GasLimit() uint64

	// Build creates an unsigned transaction.
	Build(params TxParams) (*types.Transaction, error)
}

// Contracts holds the per-network contract addresses used by the contract
// kinds. A zero address means the kind is unavailable on that network.
type Contracts struct {
	Token   common.Address
	NFT     common.Address
	Complex common.Address
}

// Registry manages builder lookup by kind.
type Registry struct {
	builders map[ptypes.TransactionKind]Builder
}

// NewRegistry creates an empty builder registry.
func NewRegistry() *Registry {
	return &Registry{
		builders: make(map[ptypes.TransactionKind]Builder),
	}
}

// Register adds a builder to the registry.
func (r *Registry) Register(builder Builder) {
	r.builders[builder.Kind()] = builder
}

// Get returns the builder for the given kind.
func (r *Registry) Get(kind ptypes.TransactionKind) (Builder, error) {
	builder, ok := r.builders[kind]
	if !ok {
		return nil, fmt.Errorf("transaction kind %q not available", kind)
	}
	return builder, nil
}

// Kinds returns the kinds this registry can build.
func (r *Registry) Kinds() []ptypes.TransactionKind {
	kinds := make([]ptypes.TransactionKind, 0, len(r.builders))
	for _, k := range ptypes.Kinds {
		if _, ok := r.builders[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// NewDefaultRegistry creates a registry with a transfer builder plus a
// builder for every contract kind whose address is configured.
func NewDefaultRegistry(contracts Contracts) *Registry {
	r := NewRegistry()
	r.Register(NewTransferBuilder())
	if contracts.Token != (common.Address{}) {
		r.Register(NewTokenTransferBuilder(contracts.Token))
	}
	if contracts.NFT != (common.Address{}) {
		r.Register(NewMintBuilder(contracts.NFT))
	}
	if contracts.Complex != (common.Address{}) {
		r.Register(NewContractCallBuilder(contracts.Complex))
	}
	return r
}

// randomAddress returns a fresh random address so every transaction writes
// to a cold account.
func randomAddress() common.Address {
	var addr common.Address
	_, _ = rand.Read(addr[:])
	return addr
}
