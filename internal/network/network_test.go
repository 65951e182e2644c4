package network

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

const sampleYAML = `
networks:
  - name: l2
    displayName: Custom L2
    rpcUrl: https://rpc.example.org
    chainId: 81457
    contracts:
      erc20: "0x1000000000000000000000000000000000000001"
  - name: linea
    rpcUrl: https://rpc.sepolia.linea.build
    chainId: 59141
    legacy: true
    gasTipCapWei: 2000000000
`

func TestParse(t *testing.T) {
	networks, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(networks) != 2 {
		t.Fatalf("got %d networks, want 2", len(networks))
	}

	l2 := networks[0]
	if l2.Label() != "Custom L2" {
		t.Errorf("Label() = %q", l2.Label())
	}
	if l2.GasTipCap().Int64() != DefaultGasTipCapWei {
		t.Errorf("GasTipCap() = %v, want default", l2.GasTipCap())
	}
	bc := l2.BuilderContracts()
	if bc.Token != common.HexToAddress("0x1000000000000000000000000000000000000001") {
		t.Errorf("Token = %s", bc.Token.Hex())
	}
	if bc.NFT != (common.Address{}) {
		t.Errorf("NFT = %s, want zero", bc.NFT.Hex())
	}

	linea := networks[1]
	if !linea.Legacy {
		t.Error("expected linea to be legacy")
	}
	if linea.Label() != "linea" {
		t.Errorf("Label() = %q, want name fallback", linea.Label())
	}
	if linea.GasTipCap().Int64() != 2000000000 {
		t.Errorf("GasTipCap() = %v", linea.GasTipCap())
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", "networks: []"},
		{"malformed", "networks: [:"},
		{"missing rpc", "networks:\n  - name: a\n    chainId: 1\n"},
		{"bad chain id", "networks:\n  - name: a\n    rpcUrl: http://x\n    chainId: 0\n"},
		{"duplicate", "networks:\n  - {name: a, rpcUrl: 'http://x', chainId: 1}\n  - {name: a, rpcUrl: 'http://y', chainId: 2}\n"},
		{"bad contract", "networks:\n  - name: a\n    rpcUrl: http://x\n    chainId: 1\n    contracts: {nft: nope}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "networks.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	networks, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(networks) != 2 {
		t.Errorf("got %d networks, want 2", len(networks))
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(
		&Network{Name: "linea", RPCURL: "http://b", ChainID: 2},
		&Network{Name: "l2", RPCURL: "http://a", ChainID: 1},
	)
	r.Register(nil)

	names := r.Names()
	if len(names) != 2 || names[0] != "l2" || names[1] != "linea" {
		t.Errorf("Names() = %v, want [l2 linea]", names)
	}
	if r.Get("l2") == nil {
		t.Error("expected l2 to be registered")
	}
	if r.Get("unknown") != nil {
		t.Error("expected nil for unknown network")
	}
	if all := r.All(); len(all) != 2 || all[0].Name != "l2" {
		t.Errorf("All() = %v", all)
	}
}
