package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/gateway-fm/chainbench/internal/account"
	"github.com/gateway-fm/chainbench/internal/network"
	"github.com/gateway-fm/chainbench/internal/rpc"
	"github.com/gateway-fm/chainbench/internal/txbuilder"
	ptypes "github.com/gateway-fm/chainbench/pkg/types"
)

// Defaults for EthClient.
const (
	DefaultReceiptPollInterval = time.Second
	DefaultFeeRefreshInterval  = 5 * time.Second
	DefaultMaxReceiptErrors    = 10
)

// EthClient implements Client against an EVM JSON-RPC endpoint.
type EthClient struct {
	rpc      rpc.Client
	account  *account.Account
	network  *network.Network
	builders *txbuilder.Registry

	pollInterval   time.Duration
	feeRefresh     time.Duration
	maxReceiptErrs int
	logger         *slog.Logger

	feeMu        sync.Mutex
	gasPrice     *big.Int
	feeFetchedAt time.Time
}

// EthConfig for creating an EthClient.
type EthConfig struct {
	RPC                 rpc.Client
	Account             *account.Account
	Network             *network.Network
	ReceiptPollInterval time.Duration // default: 1s
	FeeRefreshInterval  time.Duration // default: 5s
	MaxReceiptErrors    int           // consecutive RPC errors before giving up (default: 10)
	Logger              *slog.Logger
}

// NewEthClient creates a new EthClient.
func NewEthClient(cfg EthConfig) *EthClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := cfg.ReceiptPollInterval
	if poll <= 0 {
		poll = DefaultReceiptPollInterval
	}
	feeRefresh := cfg.FeeRefreshInterval
	if feeRefresh <= 0 {
		feeRefresh = DefaultFeeRefreshInterval
	}
	maxErrs := cfg.MaxReceiptErrors
	if maxErrs <= 0 {
		maxErrs = DefaultMaxReceiptErrors
	}

	return &EthClient{
		rpc:            cfg.RPC,
		account:        cfg.Account,
		network:        cfg.Network,
		builders:       txbuilder.NewDefaultRegistry(cfg.Network.BuilderContracts()),
		pollInterval:   poll,
		feeRefresh:     feeRefresh,
		maxReceiptErrs: maxErrs,
		logger:         logger.With(slog.String("network", cfg.Network.Name)),
	}
}

// Supports reports whether the network can build the given kind.
func (c *EthClient) Supports(kind ptypes.TransactionKind) bool {
	_, err := c.builders.Get(kind)
	return err == nil
}

// SequenceCount returns the signer's pending transaction count.
func (c *EthClient) SequenceCount(ctx context.Context) (uint64, error) {
	return c.rpc.GetNonce(ctx, c.account.Address.Hex())
}

// BlockNumber returns the latest block height.
func (c *EthClient) BlockNumber(ctx context.Context) (uint64, error) {
	return c.rpc.GetBlockNumber(ctx)
}

// Submit builds, signs and sends a transaction.
func (c *EthClient) Submit(ctx context.Context, kind ptypes.TransactionKind, nonce uint64) (string, error) {
	builder, err := c.builders.Get(kind)
	if err != nil {
		return "", err
	}

	tip := c.network.GasTipCap()
	feeCap, err := c.feeCap(ctx, tip)
	if err != nil {
		return "", fmt.Errorf("fee: %w", err)
	}

	tx, err := builder.Build(txbuilder.TxParams{
		ChainID:   c.network.ChainIDBig(),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		From:      c.account.Address,
		UseLegacy: c.network.Legacy,
	})
	if err != nil {
		return "", fmt.Errorf("build: %w", err)
	}

	signed, err := c.account.Sign(tx, c.network.ChainIDBig())
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}

	data, err := signed.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}

	hash := signed.Hash().Hex()
	if _, err := c.rpc.SendRawTransaction(ctx, data); err != nil {
		return hash, fmt.Errorf("send: %w", err)
	}
	return hash, nil
}

// feeCap returns the max fee per gas (or the gas price for legacy networks).
// The node's gas price is cached for feeRefresh.
func (c *EthClient) feeCap(ctx context.Context, tip *big.Int) (*big.Int, error) {
	c.feeMu.Lock()
	defer c.feeMu.Unlock()

	if c.gasPrice == nil || time.Since(c.feeFetchedAt) > c.feeRefresh {
		price, err := c.rpc.GetGasPrice(ctx)
		if err != nil {
			if c.gasPrice == nil {
				return nil, err
			}
			c.logger.Debug("gas price refresh failed, using cached value", slog.String("error", err.Error()))
		} else {
			c.gasPrice = new(big.Int).SetUint64(price)
			c.feeFetchedAt = time.Now()
		}
	}

	if c.network.Legacy {
		return new(big.Int).Set(c.gasPrice), nil
	}
	// Max fee is twice the current price plus the tip.
	feeCap := new(big.Int).Mul(c.gasPrice, big.NewInt(2))
	return feeCap.Add(feeCap, tip), nil
}

// AwaitReceipt polls for the receipt until it appears.
func (c *EthClient) AwaitReceipt(ctx context.Context, hash string) (*Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		r, err := c.rpc.GetTransactionReceipt(ctx, hash)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failures++
			if failures >= c.maxReceiptErrs {
				return nil, fmt.Errorf("%w: %s: %v", ErrReceiptUnavailable, hash, err)
			}
		case r != nil:
			return &Receipt{
				Success:     r.Status == 1,
				BlockNumber: r.BlockNumber,
				GasUsed:     r.GasUsed,
			}, nil
		default:
			failures = 0
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
