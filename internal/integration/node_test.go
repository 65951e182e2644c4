package integration

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/chainbench/internal/rpc"
)

// fakeNode is an in-process EVM JSON-RPC endpoint. It decodes and verifies
// every raw transaction and mines it instantly unless told otherwise.
type fakeNode struct {
	t       *testing.T
	chainID *big.Int
	signer  common.Address

	mu         sync.Mutex
	startNonce uint64
	nonces     []uint64
	mined      map[common.Hash]*gethtypes.Transaction
	reject     map[uint64]bool // eth_sendRawTransaction fails for these nonces
	revert     map[uint64]bool // receipt status 0
	hold       chan struct{}   // receipts are null until closed
}

func newFakeNode(t *testing.T, chainID int64, signer common.Address, startNonce uint64) (*fakeNode, *httptest.Server) {
	t.Helper()
	n := &fakeNode{
		t:          t,
		chainID:    big.NewInt(chainID),
		signer:     signer,
		startNonce: startNonce,
		mined:      make(map[common.Hash]*gethtypes.Transaction),
		reject:     make(map[uint64]bool),
		revert:     make(map[uint64]bool),
	}
	srv := httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(srv.Close)
	return n, srv
}

func (n *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	var req rpc.JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, rpcErr := n.handle(req)
	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (n *fakeNode) handle(req rpc.JSONRPCRequest) (any, *rpc.JSONRPCError) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch req.Method {
	case "eth_getTransactionCount":
		return hexutil.EncodeUint64(n.startNonce), nil
	case "eth_gasPrice":
		return hexutil.EncodeUint64(1_000_000_000), nil
	case "eth_blockNumber":
		return hexutil.EncodeUint64(n.head()), nil
	case "eth_chainId":
		return hexutil.EncodeBig(n.chainID), nil
	case "eth_sendRawTransaction":
		return n.sendRaw(req.Params)
	case "eth_getTransactionReceipt":
		return n.receipt(req.Params)
	}
	return nil, &rpc.JSONRPCError{Code: -32601, Message: "method not found: " + req.Method}
}

func (n *fakeNode) head() uint64 {
	return 100 + uint64(len(n.mined))/5
}

func (n *fakeNode) sendRaw(params []any) (any, *rpc.JSONRPCError) {
	raw, _ := params[0].(string)
	data, err := hexutil.Decode(raw)
	if err != nil {
		return nil, &rpc.JSONRPCError{Code: -32602, Message: err.Error()}
	}

	tx := new(gethtypes.Transaction)
	if err := tx.UnmarshalBinary(data); err != nil {
		return nil, &rpc.JSONRPCError{Code: -32602, Message: err.Error()}
	}
	if tx.ChainId().Cmp(n.chainID) != 0 {
		n.t.Errorf("tx chain ID = %v, want %v", tx.ChainId(), n.chainID)
	}
	from, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(n.chainID), tx)
	if err != nil || from != n.signer {
		n.t.Errorf("tx sender = %s (%v), want %s", from.Hex(), err, n.signer.Hex())
	}

	n.nonces = append(n.nonces, tx.Nonce())
	if n.reject[tx.Nonce()] {
		return nil, &rpc.JSONRPCError{Code: -32000, Message: "replacement transaction underpriced"}
	}
	n.mined[tx.Hash()] = tx
	return tx.Hash().Hex(), nil
}

func (n *fakeNode) receipt(params []any) (any, *rpc.JSONRPCError) {
	if n.hold != nil {
		select {
		case <-n.hold:
		default:
			return nil, nil
		}
	}

	hash, _ := params[0].(string)
	tx, ok := n.mined[common.HexToHash(hash)]
	if !ok {
		return nil, nil
	}
	status := "0x1"
	if n.revert[tx.Nonce()] {
		status = "0x0"
	}
	return map[string]string{
		"status":      status,
		"gasUsed":     hexutil.EncodeUint64(tx.Gas()),
		"blockNumber": hexutil.EncodeUint64(n.head()),
	}, nil
}

// submitted returns the nonces seen by eth_sendRawTransaction, sorted.
func (n *fakeNode) submitted() []uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := append([]uint64(nil), n.nonces...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (n *fakeNode) setHold(ch chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hold = ch
}
