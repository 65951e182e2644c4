package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gateway-fm/chainbench/internal/account"
	"github.com/gateway-fm/chainbench/internal/broadcast"
	"github.com/gateway-fm/chainbench/internal/chain"
	"github.com/gateway-fm/chainbench/internal/metrics"
	"github.com/gateway-fm/chainbench/internal/monitor"
	"github.com/gateway-fm/chainbench/internal/network"
	"github.com/gateway-fm/chainbench/internal/orchestrator"
	"github.com/gateway-fm/chainbench/internal/rpc"
	"github.com/gateway-fm/chainbench/internal/storage"
	"github.com/gateway-fm/chainbench/internal/tester"
	"github.com/gateway-fm/chainbench/internal/transport"
	"github.com/gateway-fm/chainbench/pkg/types"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type stack struct {
	api   *httptest.Server
	hub   *broadcast.Hub
	nodes map[string]*fakeNode
}

// newStack wires the same components as cmd/chainbench against fake nodes,
// with pacing and polling shortened for tests.
func newStack(t *testing.T, startNonces map[string]uint64) *stack {
	t.Helper()

	acct, err := account.NewAccountFromHex(testKey)
	if err != nil {
		t.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	prom := metrics.NewPrometheus(reg)
	hub := broadcast.NewHub(broadcast.Config{})
	t.Cleanup(hub.Close)

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "chainbench.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	s := &stack{hub: hub, nodes: make(map[string]*fakeNode)}
	registry := network.NewRegistry()
	clients := make(map[string]rpc.Client)
	var testers []*tester.Tester

	chainID := int64(1000)
	for name, start := range startNonces {
		chainID++
		node, srv := newFakeNode(t, chainID, acct.Address, start)
		s.nodes[name] = node

		n := &network.Network{Name: name, RPCURL: srv.URL, ChainID: chainID}
		registry.Register(n)

		rpcCfg := rpc.DefaultClientConfig(srv.URL)
		rpcCfg.Observe = prom.ObserveRPC
		client := rpc.NewHTTPClient(rpcCfg)
		clients[name] = client

		testers = append(testers, tester.New(tester.Config{
			Network: name,
			Client: chain.NewEthClient(chain.EthConfig{
				RPC:                 client,
				Account:             acct,
				Network:             n,
				ReceiptPollInterval: 10 * time.Millisecond,
			}),
			Broadcaster:       hub,
			Metrics:           prom,
			BatchSize:         4,
			WindowDuration:    20 * time.Millisecond,
			DrainTimeout:      5 * time.Second,
			DrainPollInterval: 10 * time.Millisecond,
		}))
	}

	orch := orchestrator.New(orchestrator.Config{
		Testers:     testers,
		Broadcaster: hub,
		Metrics:     prom,
		Store:       store,
	})

	server := transport.NewServer(transport.ServerConfig{
		Runner:   orch,
		Networks: registry,
		Monitor:  monitor.New(monitor.Config{Clients: clients}),
		History:  store,
		Hub:      hub,
		Health:   transport.RPCHealth(clients),
		Gatherer: reg,
	})
	s.api = httptest.NewServer(server.Handler())
	t.Cleanup(s.api.Close)
	return s
}

func (s *stack) postRun(t *testing.T, body string) (*http.Response, types.RunResult) {
	t.Helper()
	resp, err := http.Post(s.api.URL+"/v1/stress-test", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var result types.RunResult
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			t.Fatal(err)
		}
	}
	return resp, result
}

func (s *stack) getJSON(t *testing.T, path string, v any) {
	t.Helper()
	resp, err := http.Get(s.api.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func checkContiguous(t *testing.T, got []uint64, start uint64, count int) {
	t.Helper()
	if len(got) != count {
		t.Fatalf("submitted %d nonces, want %d: %v", len(got), count, got)
	}
	for i, n := range got {
		if n != start+uint64(i) {
			t.Fatalf("nonces = %v, want %d..%d", got, start, start+uint64(count)-1)
		}
	}
}

func TestStressTestAcrossNetworks(t *testing.T) {
	s := newStack(t, map[string]uint64{"l2": 7, "linea": 0})
	sub := s.hub.Subscribe()

	resp, result := s.postRun(t, `{"networks":["l2","linea"],"duration":2,"tps":5}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	for name, start := range map[string]uint64{"l2": 7, "linea": 0} {
		m := result[name]
		if m == nil {
			t.Fatalf("missing result for %s", name)
		}
		if m.Requested != 10 || m.Sent != 10 || m.Confirmed != 10 || m.Pending != 0 || !m.Completed {
			t.Errorf("%s metrics = %+v", name, m)
		}
		if m.SuccessRate != 100 || m.AvgGasUsed != 21000 {
			t.Errorf("%s successRate=%v avgGasUsed=%v", name, m.SuccessRate, m.AvgGasUsed)
		}
		if len(m.Transactions) != 10 || m.Transactions[0].Nonce != start {
			t.Errorf("%s transactions = %d, first nonce %d", name, len(m.Transactions), m.Transactions[0].Nonce)
		}
		checkContiguous(t, s.nodes[name].submitted(), start, 10)
	}

	// Progress reached subscribers: one txLog per transaction.
	txLogs := 0
	for done := false; !done; {
		select {
		case msg := <-sub.Messages():
			var ev types.Event
			if err := json.Unmarshal(msg, &ev); err != nil {
				t.Fatal(err)
			}
			if ev.Type == types.EventTxLog {
				txLogs++
			}
		default:
			done = true
		}
	}
	if txLogs != 20 {
		t.Errorf("txLog events = %d, want 20", txLogs)
	}

	var state struct {
		Busy     bool                      `json:"busy"`
		Networks map[string]types.RunState `json:"networks"`
	}
	s.getJSON(t, "/v1/state", &state)
	if state.Busy || state.Networks["l2"] != types.StateFinalized {
		t.Errorf("state = %+v", state)
	}

	var history types.PaginatedRuns
	s.getJSON(t, "/v1/history", &history)
	if history.Total != 1 || len(history.Runs) != 1 {
		t.Fatalf("history = %+v", history)
	}
	run := history.Runs[0]
	if run.TargetTPS != 5 || run.TransactionKind != types.KindTransfer || len(run.Results) != 2 {
		t.Errorf("stored run = %+v", run)
	}

	var logs storage.PaginatedTxLogs
	s.getJSON(t, fmt.Sprintf("/v1/history/%s/transactions?network=linea", run.ID), &logs)
	if logs.Total != 10 || logs.Transactions[9].Nonce != 9 {
		t.Errorf("tx logs total=%d", logs.Total)
	}
}

func TestStressTestSubmissionAndExecutionFailures(t *testing.T) {
	s := newStack(t, map[string]uint64{"l2": 20})
	node := s.nodes["l2"]
	node.reject[23] = true
	node.revert[25] = true

	resp, result := s.postRun(t, `{"networks":["l2"],"duration":2,"tps":4,"transactionType":"transfer"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	m := result["l2"]
	if m.Sent != 8 || m.Confirmed != 6 || m.Failed != 2 {
		t.Errorf("metrics = %+v", m)
	}
	if m.SuccessRate != 75 {
		t.Errorf("successRate = %v, want 75", m.SuccessRate)
	}

	// The rejected nonce stays consumed: nothing is resubmitted.
	checkContiguous(t, node.submitted(), 20, 8)

	for _, rec := range m.Transactions {
		switch rec.Nonce {
		case 23:
			if rec.Status != types.TxFailed || rec.Error == "" || rec.BlockNumber != nil {
				t.Errorf("rejected record = %+v", rec)
			}
		case 25:
			if rec.Status != types.TxFailed || rec.BlockNumber == nil || rec.GasUsed == nil {
				t.Errorf("reverted record = %+v", rec)
			}
		default:
			if rec.Status != types.TxSuccess {
				t.Errorf("record %d status = %s", rec.Nonce, rec.Status)
			}
		}
	}
}

func TestStressTestRejectsOverlappingRun(t *testing.T) {
	s := newStack(t, map[string]uint64{"l2": 0, "linea": 0})
	hold := make(chan struct{})
	s.nodes["l2"].setHold(hold)

	done := make(chan types.RunResult, 1)
	go func() {
		resp, result := s.postRun(t, `{"networks":["l2"],"duration":1,"tps":3}`)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("first run status = %d", resp.StatusCode)
		}
		done <- result
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		var state struct {
			Networks map[string]types.RunState `json:"networks"`
		}
		s.getJSON(t, "/v1/state", &state)
		if state.Networks["l2"] == types.StateDraining {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("l2 never reached draining: %v", state.Networks)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Any overlap with the active network is refused, including mixed requests.
	resp, _ := s.postRun(t, `{"networks":["linea","l2"],"duration":1,"tps":3}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("overlapping run status = %d, want 409", resp.StatusCode)
	}
	if got := s.nodes["linea"].submitted(); len(got) != 0 {
		t.Errorf("rejected run touched linea: %v", got)
	}

	close(hold)
	select {
	case result := <-done:
		if m := result["l2"]; m == nil || m.Confirmed != 3 {
			t.Errorf("first run result = %+v", m)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("first run did not finish")
	}
}

func TestStressTestRejectsUnknownNetworkAndKind(t *testing.T) {
	s := newStack(t, map[string]uint64{"l2": 0})

	tests := []struct {
		body string
		want int
	}{
		{`{"networks":["mainnet"],"duration":1,"tps":1}`, http.StatusNotFound},
		{`{"networks":["l2"],"duration":1,"tps":1,"transactionType":"erc20"}`, http.StatusBadRequest},
		{`{"networks":["l2"],"duration":0,"tps":1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		resp, _ := s.postRun(t, tt.body)
		if resp.StatusCode != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.body, resp.StatusCode, tt.want)
		}
	}
	if got := s.nodes["l2"].submitted(); len(got) != 0 {
		t.Errorf("rejected requests submitted transactions: %v", got)
	}
}
