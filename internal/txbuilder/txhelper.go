package txbuilder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// newTx creates either a DynamicFeeTx or LegacyTx depending on params.UseLegacy.
// For legacy transactions, GasFeeCap is used as the gas price.
func newTx(params TxParams, to common.Address, value *big.Int, gasLimit uint64, data []byte) *types.Transaction {
	if params.UseLegacy {
		return types.NewTx(&types.LegacyTx{
			Nonce:    params.Nonce,
			GasPrice: params.GasFeeCap,
			Gas:      gasLimit,
			To:       &to,
			Value:    value,
			Data:     data,
		})
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   params.ChainID,
		Nonce:     params.Nonce,
		GasTipCap: params.GasTipCap,
		GasFeeCap: params.GasFeeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})
}
