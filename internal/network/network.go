// Package network defines the EVM networks a benchmark can target and a
// registry to look them up by name.
package network

import (
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/gateway-fm/chainbench/internal/txbuilder"
)

// Network describes one target chain.
type Network struct {
	// Name is the identifier used in run requests (e.g. "l2", "linea").
	Name string `yaml:"name"`

	// DisplayName is a human readable label.
	DisplayName string `yaml:"displayName"`

	RPCURL  string `yaml:"rpcUrl"`
	ChainID int64  `yaml:"chainId"`

	// Legacy selects pre-EIP-1559 transactions for chains without a base fee.
	Legacy bool `yaml:"legacy"`

	// GasTipCapWei is the priority fee; zero uses DefaultGasTipCapWei.
	GasTipCapWei int64 `yaml:"gasTipCapWei"`

	Contracts Contracts `yaml:"contracts"`
}

// Contracts holds the hex addresses of the contracts used by contract kinds.
// Empty entries disable the corresponding kind.
type Contracts struct {
	Token   string `yaml:"erc20"`
	NFT     string `yaml:"nft"`
	Complex string `yaml:"complex"`
}

// DefaultGasTipCapWei is the priority fee used when a network sets none (1 gwei).
const DefaultGasTipCapWei = 1_000_000_000

// Validate checks the network definition.
func (n *Network) Validate() error {
	if n.Name == "" {
		return fmt.Errorf("network name is required")
	}
	if n.RPCURL == "" {
		return fmt.Errorf("network %s: rpc URL is required", n.Name)
	}
	if n.ChainID <= 0 {
		return fmt.Errorf("network %s: chain ID must be positive", n.Name)
	}
	if n.GasTipCapWei < 0 {
		return fmt.Errorf("network %s: gas tip cap cannot be negative", n.Name)
	}
	for label, addr := range map[string]string{
		"erc20":   n.Contracts.Token,
		"nft":     n.Contracts.NFT,
		"complex": n.Contracts.Complex,
	} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("network %s: invalid %s contract address %q", n.Name, label, addr)
		}
	}
	return nil
}

// ChainIDBig returns the chain ID as a big.Int.
func (n *Network) ChainIDBig() *big.Int {
	return big.NewInt(n.ChainID)
}

// GasTipCap returns the configured priority fee or the default.
func (n *Network) GasTipCap() *big.Int {
	if n.GasTipCapWei > 0 {
		return big.NewInt(n.GasTipCapWei)
	}
	return big.NewInt(DefaultGasTipCapWei)
}

// BuilderContracts converts the configured addresses for the tx builders.
func (n *Network) BuilderContracts() txbuilder.Contracts {
	var c txbuilder.Contracts
	if n.Contracts.Token != "" {
		c.Token = common.HexToAddress(n.Contracts.Token)
	}
	if n.Contracts.NFT != "" {
		c.NFT = common.HexToAddress(n.Contracts.NFT)
	}
	if n.Contracts.Complex != "" {
		c.Complex = common.HexToAddress(n.Contracts.Complex)
	}
	return c
}

// Label returns DisplayName, falling back to Name.
func (n *Network) Label() string {
	if n.DisplayName != "" {
		return n.DisplayName
	}
	return n.Name
}

// fileFormat is the on-disk layout of a networks file.
type fileFormat struct {
	Networks []*Network `yaml:"networks"`
}

// LoadFile reads network definitions from a YAML file.
func LoadFile(path string) ([]*Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read networks file: %w", err)
	}
	return Parse(data)
}

// Parse decodes network definitions from YAML and validates each one.
func Parse(data []byte) ([]*Network, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse networks: %w", err)
	}
	if len(f.Networks) == 0 {
		return nil, fmt.Errorf("no networks defined")
	}

	seen := make(map[string]bool, len(f.Networks))
	for _, n := range f.Networks {
		if err := n.Validate(); err != nil {
			return nil, err
		}
		if seen[n.Name] {
			return nil, fmt.Errorf("duplicate network %q", n.Name)
		}
		seen[n.Name] = true
	}
	return f.Networks, nil
}
