package account

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestNewAccountFromHex(t *testing.T) {
	want := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "plain hex", key: TestPrivateKeys[0]},
		{name: "0x prefix", key: "0x" + TestPrivateKeys[0]},
		{name: "surrounding whitespace", key: " " + TestPrivateKeys[0] + "\n"},
		{name: "invalid", key: "not-a-key", wantErr: true},
		{name: "empty", key: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc, err := NewAccountFromHex(tt.key)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewAccountFromHex() error = %v", err)
			}
			if acc.Address != want {
				t.Errorf("Address = %s, want %s", acc.Address.Hex(), want.Hex())
			}
		})
	}
}

func TestSignRecoversSender(t *testing.T) {
	acc, err := NewAccountFromHex(TestPrivateKeys[1])
	if err != nil {
		t.Fatal(err)
	}
	chainID := big.NewInt(59144)
	to := common.HexToAddress("0x1")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     3,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(1),
	})

	signed, err := acc.Sign(tx, chainID)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	if err != nil {
		t.Fatalf("Sender() error = %v", err)
	}
	if from != acc.Address {
		t.Errorf("recovered sender = %s, want %s", from.Hex(), acc.Address.Hex())
	}
}
