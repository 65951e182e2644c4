// Package rpc provides JSON-RPC client functionality with retry logic.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Client is the interface for JSON-RPC communication with an EVM node.
type Client interface {
	// Call makes a JSON-RPC call.
	Call(ctx context.Context, method string, params []any) (json.RawMessage, error)

	// SendRawTransaction sends a signed transaction and returns its hash.
	SendRawTransaction(ctx context.Context, txRLP []byte) (string, error)

	// GetNonce returns the pending transaction count for an address.
	GetNonce(ctx context.Context, address string) (uint64, error)

	// GetConfirmedNonce returns the transaction count at the latest block.
	GetConfirmedNonce(ctx context.Context, address string) (uint64, error)

	// GetBlockNumber returns the latest block number.
	GetBlockNumber(ctx context.Context) (uint64, error)

	// GetBlockByNumber fetches a block header with transaction hashes.
	GetBlockByNumber(ctx context.Context, blockNum uint64) (*Block, error)

	// GetLatestBlock fetches the head block.
	GetLatestBlock(ctx context.Context) (*Block, error)

	// GetGasPrice returns the current gas price in wei.
	GetGasPrice(ctx context.Context) (uint64, error)

	// GetTransactionReceipt returns the receipt for a transaction, or nil if
	// the transaction is not yet included.
	GetTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)
}

// TransactionReceipt represents an Ethereum transaction receipt.
type TransactionReceipt struct {
	Status            uint64 `json:"status"`  // 1 = success, 0 = failure
	GasUsed           uint64 `json:"gasUsed"` // Actual gas consumed
	BlockNumber       uint64 `json:"blockNumber"`
	EffectiveGasPrice uint64 `json:"effectiveGasPrice"`
}

// Block represents a block with transaction hashes.
type Block struct {
	Number        uint64    `json:"number"`
	Hash          string    `json:"hash"`
	Transactions  []string  `json:"transactions"`
	BaseFeePerGas string    `json:"baseFeePerGas,omitempty"`
	GasUsed       uint64    `json:"gasUsed"`
	GasLimit      uint64    `json:"gasLimit"`
	Timestamp     time.Time `json:"timestamp"`
	TxCount       int       `json:"txCount"`
}

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// JSONRPCError represents a JSON-RPC error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ClientConfig holds configuration for the RPC client.
type ClientConfig struct {
	URL            string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *slog.Logger

	// Observe, if set, is called once per Call with the overall outcome.
	Observe func(method string, err error, elapsed time.Duration)
}

// DefaultClientConfig returns default configuration.
// Public endpoints are slower than a local node, so the timeout is generous.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:            url,
		Timeout:        10 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// HTTPClient implements Client using HTTP.
type HTTPClient struct {
	url        string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
	observe    func(method string, err error, elapsed time.Duration)
}

// NewHTTPClient creates a new HTTP-based RPC client.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        512,
		MaxIdleConnsPerHost: 256,
		IdleConnTimeout:     90 * time.Second,
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPClient{
		url: cfg.URL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.InitialBackoff,
		maxBackoff: cfg.MaxBackoff,
		logger:     logger,
		observe:    cfg.Observe,
	}
}

// URL returns the endpoint this client talks to.
func (c *HTTPClient) URL() string {
	return c.url
}

// Call makes a JSON-RPC call with retry logic.
// RPC (application-level) errors are returned immediately; transport errors
// and retryable HTTP statuses are retried with exponential backoff.
func (c *HTTPClient) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if c.observe == nil {
		return c.call(ctx, method, params)
	}
	start := time.Now()
	result, err := c.call(ctx, method, params)
	c.observe(method, err, time.Since(start))
	return result, err
}

func (c *HTTPClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
		}

		result, err := c.doRequest(ctx, body)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isRPCError(err) {
			return nil, err
		}

		if isRetryableHTTPError(err) {
			backoff = getRetryDelay(err, backoff)
		} else if _, ok := err.(*HTTPStatusError); ok {
			return nil, err
		}

		c.logger.Debug("RPC call failed, retrying",
			slog.String("method", method),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)
	}

	return nil, fmt.Errorf("all retries failed: %w", lastErr)
}

func (c *HTTPClient) doRequest(ctx context.Context, body []byte) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		var retryAfter time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.ParseFloat(ra, 64); err == nil {
				retryAfter = time.Duration(secs * float64(time.Second))
			}
		}
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Body:       string(errBody),
		}
	}

	var rpcResp JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
		}
	}

	return rpcResp.Result, nil
}

// RPCError is an RPC-specific error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

func isRPCError(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr)
}

// HTTPStatusError represents an HTTP-level error (non-2xx status).
type HTTPStatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s (body: %s)", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsRetryable returns true if this HTTP error should be retried.
func (e *HTTPStatusError) IsRetryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isRetryableHTTPError(err error) bool {
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.IsRetryable()
	}
	return false
}

func getRetryDelay(err error, defaultBackoff time.Duration) time.Duration {
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}
	return defaultBackoff
}

// callUint64 calls a method whose result is a hex quantity.
func (c *HTTPClient) callUint64(ctx context.Context, method string, params []any) (uint64, error) {
	result, err := c.Call(ctx, method, params)
	if err != nil {
		return 0, err
	}

	var hex string
	if err := json.Unmarshal(result, &hex); err != nil {
		return 0, fmt.Errorf("failed to unmarshal %s result: %w", method, err)
	}
	v, err := hexutil.DecodeUint64(hex)
	if err != nil {
		return 0, fmt.Errorf("failed to decode %s result %q: %w", method, hex, err)
	}
	return v, nil
}

// SendRawTransaction sends a signed transaction and returns the node's hash.
func (c *HTTPClient) SendRawTransaction(ctx context.Context, txRLP []byte) (string, error) {
	result, err := c.Call(ctx, "eth_sendRawTransaction", []any{hexutil.Encode(txRLP)})
	if err != nil {
		return "", err
	}

	var hash string
	if err := json.Unmarshal(result, &hash); err != nil {
		return "", fmt.Errorf("failed to unmarshal tx hash: %w", err)
	}
	return hash, nil
}

// GetNonce returns the pending transaction count, which includes mempool
// transactions so a fresh run never collides with in-flight ones.
func (c *HTTPClient) GetNonce(ctx context.Context, address string) (uint64, error) {
	return c.callUint64(ctx, "eth_getTransactionCount", []any{address, "pending"})
}

// GetConfirmedNonce returns the confirmed transaction count for an address.
func (c *HTTPClient) GetConfirmedNonce(ctx context.Context, address string) (uint64, error) {
	return c.callUint64(ctx, "eth_getTransactionCount", []any{address, "latest"})
}

// GetBlockNumber returns the latest block number.
func (c *HTTPClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	return c.callUint64(ctx, "eth_blockNumber", nil)
}

// GetGasPrice returns the current gas price from the node.
func (c *HTTPClient) GetGasPrice(ctx context.Context) (uint64, error) {
	return c.callUint64(ctx, "eth_gasPrice", nil)
}

// GetBlockByNumber fetches a block with transaction hashes.
func (c *HTTPClient) GetBlockByNumber(ctx context.Context, blockNum uint64) (*Block, error) {
	return c.getBlock(ctx, hexutil.EncodeUint64(blockNum))
}

// GetLatestBlock fetches the head block.
func (c *HTTPClient) GetLatestBlock(ctx context.Context) (*Block, error) {
	return c.getBlock(ctx, "latest")
}

func (c *HTTPClient) getBlock(ctx context.Context, tag string) (*Block, error) {
	result, err := c.Call(ctx, "eth_getBlockByNumber", []any{tag, false})
	if err != nil {
		return nil, err
	}
	if string(result) == "null" {
		return nil, nil
	}

	var rawBlock struct {
		Number        string   `json:"number"`
		Hash          string   `json:"hash"`
		Transactions  []string `json:"transactions"`
		BaseFeePerGas string   `json:"baseFeePerGas,omitempty"`
		GasUsed       string   `json:"gasUsed"`
		GasLimit      string   `json:"gasLimit"`
		Timestamp     string   `json:"timestamp"`
	}
	if err := json.Unmarshal(result, &rawBlock); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block: %w", err)
	}

	num, err := hexutil.DecodeUint64(rawBlock.Number)
	if err != nil {
		return nil, fmt.Errorf("failed to decode block number: %w", err)
	}
	gasUsed, _ := hexutil.DecodeUint64(rawBlock.GasUsed)
	gasLimit, _ := hexutil.DecodeUint64(rawBlock.GasLimit)
	ts, _ := hexutil.DecodeUint64(rawBlock.Timestamp)

	return &Block{
		Number:        num,
		Hash:          rawBlock.Hash,
		Transactions:  rawBlock.Transactions,
		BaseFeePerGas: rawBlock.BaseFeePerGas,
		GasUsed:       gasUsed,
		GasLimit:      gasLimit,
		Timestamp:     time.Unix(int64(ts), 0),
		TxCount:       len(rawBlock.Transactions),
	}, nil
}

// GetTransactionReceipt returns the receipt for a transaction.
func (c *HTTPClient) GetTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error) {
	result, err := c.Call(ctx, "eth_getTransactionReceipt", []any{txHash})
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, nil // Not mined yet
	}

	var rawReceipt struct {
		Status            string `json:"status"`
		GasUsed           string `json:"gasUsed"`
		BlockNumber       string `json:"blockNumber"`
		EffectiveGasPrice string `json:"effectiveGasPrice"`
	}
	if err := json.Unmarshal(result, &rawReceipt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}

	status, _ := hexutil.DecodeUint64(rawReceipt.Status)
	gasUsed, _ := hexutil.DecodeUint64(rawReceipt.GasUsed)
	blockNumber, _ := hexutil.DecodeUint64(rawReceipt.BlockNumber)
	effectiveGasPrice, _ := hexutil.DecodeUint64(rawReceipt.EffectiveGasPrice)

	return &TransactionReceipt{
		Status:            status,
		GasUsed:           gasUsed,
		BlockNumber:       blockNumber,
		EffectiveGasPrice: effectiveGasPrice,
	}, nil
}
