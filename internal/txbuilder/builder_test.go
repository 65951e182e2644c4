package txbuilder

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/chainbench/pkg/types"
)

var (
	testToken   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	testNFT     = common.HexToAddress("0x2000000000000000000000000000000000000002")
	testComplex = common.HexToAddress("0x3000000000000000000000000000000000000003")
	testSender  = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
)

func testParams() TxParams {
	return TxParams{
		ChainID:   big.NewInt(42069),
		Nonce:     5,
		GasTipCap: big.NewInt(1000000000),  // 1 gwei
		GasFeeCap: big.NewInt(10000000000), // 10 gwei
		From:      testSender,
	}
}

func TestSelectors(t *testing.T) {
	if got := hex.EncodeToString(tokenTransferSelector); got != "a9059cbb" {
		t.Errorf("transfer selector = %s, want a9059cbb", got)
	}
	if got := hex.EncodeToString(mintSelector); got != "6a627842" {
		t.Errorf("mint selector = %s, want 6a627842", got)
	}
}

func TestRegistry_Get_NotFound(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Get(types.KindTransfer); err == nil {
		t.Error("expected error for unregistered kind")
	}
}

func TestNewDefaultRegistry(t *testing.T) {
	tests := []struct {
		name      string
		contracts Contracts
		want      []types.TransactionKind
	}{
		{
			name: "no contracts",
			want: []types.TransactionKind{types.KindTransfer},
		},
		{
			name:      "token only",
			contracts: Contracts{Token: testToken},
			want:      []types.TransactionKind{types.KindTransfer, types.KindTokenTransfer},
		},
		{
			name:      "all contracts",
			contracts: Contracts{Token: testToken, NFT: testNFT, Complex: testComplex},
			want:      types.Kinds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewDefaultRegistry(tt.contracts).Kinds()
			if len(got) != len(tt.want) {
				t.Fatalf("Kinds() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Kinds()[%d] = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestTransferBuilder(t *testing.T) {
	params := testParams()
	tx, err := NewTransferBuilder().Build(params)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if tx.Type() != gethtypes.DynamicFeeTxType {
		t.Errorf("Type = %d, want dynamic fee", tx.Type())
	}
	if tx.ChainId().Cmp(params.ChainID) != 0 {
		t.Errorf("ChainId = %v, want %v", tx.ChainId(), params.ChainID)
	}
	if tx.Nonce() != params.Nonce {
		t.Errorf("Nonce = %v, want %v", tx.Nonce(), params.Nonce)
	}
	if tx.Gas() != 21000 {
		t.Errorf("Gas = %v, want 21000", tx.Gas())
	}
	if tx.Value().Cmp(TransferValue) != 0 {
		t.Errorf("Value = %v, want %v", tx.Value(), TransferValue)
	}
	if len(tx.Data()) != 0 {
		t.Errorf("Data length = %v, want 0", len(tx.Data()))
	}

	other, _ := NewTransferBuilder().Build(params)
	if *tx.To() == *other.To() {
		t.Error("expected distinct random recipients")
	}
}

func TestTransferBuilderLegacy(t *testing.T) {
	params := testParams()
	params.UseLegacy = true

	tx, err := NewTransferBuilder().Build(params)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if tx.Type() != gethtypes.LegacyTxType {
		t.Errorf("Type = %d, want legacy", tx.Type())
	}
	if tx.GasPrice().Cmp(params.GasFeeCap) != 0 {
		t.Errorf("GasPrice = %v, want %v", tx.GasPrice(), params.GasFeeCap)
	}
}

func TestTokenTransferBuilder(t *testing.T) {
	tx, err := NewTokenTransferBuilder(testToken).Build(testParams())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if *tx.To() != testToken {
		t.Errorf("To = %s, want token contract", tx.To().Hex())
	}
	if tx.Value().Sign() != 0 {
		t.Errorf("Value = %v, want 0", tx.Value())
	}
	data := tx.Data()
	if len(data) != 68 {
		t.Fatalf("Data length = %d, want 68", len(data))
	}
	if !bytes.Equal(data[:4], tokenTransferSelector) {
		t.Errorf("selector = %x", data[:4])
	}
	if amount := new(big.Int).SetBytes(data[36:68]); amount.Cmp(TokenAmount) != 0 {
		t.Errorf("amount = %v, want %v", amount, TokenAmount)
	}
}

func TestMintBuilder(t *testing.T) {
	tx, err := NewMintBuilder(testNFT).Build(testParams())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if *tx.To() != testNFT {
		t.Errorf("To = %s, want nft contract", tx.To().Hex())
	}
	data := tx.Data()
	if len(data) != 36 {
		t.Fatalf("Data length = %d, want 36", len(data))
	}
	if got := common.BytesToAddress(data[4:36]); got != testSender {
		t.Errorf("mint recipient = %s, want sender", got.Hex())
	}
}

func TestContractCallBuilder(t *testing.T) {
	tx, err := NewContractCallBuilder(testComplex).Build(testParams())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	data := tx.Data()
	if len(data) != 68 {
		t.Fatalf("Data length = %d, want 68", len(data))
	}
	if !bytes.Equal(data[:4], complexOperationSelector) {
		t.Errorf("selector = %x", data[:4])
	}
	if n := new(big.Int).SetBytes(data[4:36]); n.Int64() != ComplexIterations {
		t.Errorf("iterations = %v, want %d", n, ComplexIterations)
	}
}

func TestBuildRejectsInvalidParams(t *testing.T) {
	builders := []Builder{
		NewTransferBuilder(),
		NewTokenTransferBuilder(testToken),
		NewMintBuilder(testNFT),
		NewContractCallBuilder(testComplex),
	}

	for _, b := range builders {
		t.Run(string(b.Kind()), func(t *testing.T) {
			params := testParams()
			params.ChainID = big.NewInt(0)
			if _, err := b.Build(params); err == nil {
				t.Error("expected error for zero chain ID")
			}

			params = testParams()
			params.GasFeeCap = nil
			if _, err := b.Build(params); err == nil {
				t.Error("expected error for missing fee cap")
			}
		})
	}
}
