package txbuilder

import "github.com/ethereum/go-ethereum/crypto"

// Function selectors used by the contract kinds.
var (
	tokenTransferSelector    = selector("transfer(address,uint256)") // 0xa9059cbb
	mintSelector             = selector("mint(address)")
	complexOperationSelector = selector("complexOperation(uint256,address)")
)

func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}
