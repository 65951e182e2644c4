package txbuilder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	ptypes "github.com/gateway-fm/chainbench/pkg/types"
)

// ComplexIterations is the uint256 argument passed to complexOperation.
const ComplexIterations = 100

// ContractCallBuilder builds complexOperation(uint256,address) calls.
type ContractCallBuilder struct {
	target common.Address
}

// NewContractCallBuilder creates a builder targeting the given contract.
func NewContractCallBuilder(target common.Address) *ContractCallBuilder {
	return &ContractCallBuilder{target: target}
}

// Kind returns KindContractCall.
func (b *ContractCallBuilder) Kind() ptypes.TransactionKind {
	return ptypes.KindContractCall
}

// GasLimit returns the gas limit for the compute-heavy call.
func (b *ContractCallBuilder) GasLimit() uint64 {
	return 300000
}

// Build creates a contract call transaction.
func (b *ContractCallBuilder) Build(params TxParams) (*types.Transaction, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	data := make([]byte, 4+32+32)
	copy(data[0:4], complexOperationSelector)
	big.NewInt(ComplexIterations).FillBytes(data[4 : 4+32])
	recipient := randomAddress()
	copy(data[4+32+12:], recipient.Bytes())
	return newTx(params, b.target, big.NewInt(0), b.GasLimit(), data), nil
}
