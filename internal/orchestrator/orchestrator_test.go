package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gateway-fm/chainbench/internal/chain"
	"github.com/gateway-fm/chainbench/internal/nonce"
	"github.com/gateway-fm/chainbench/internal/tester"
	"github.com/gateway-fm/chainbench/pkg/types"
)

type fakeClient struct {
	seqErr    error
	gate      chan struct{}
	supported map[types.TransactionKind]bool
}

var _ chain.Client = (*fakeClient)(nil)

func (f *fakeClient) SequenceCount(ctx context.Context) (uint64, error) { return 0, f.seqErr }

func (f *fakeClient) Submit(ctx context.Context, kind types.TransactionKind, n uint64) (string, error) {
	return fmt.Sprintf("0x%x", n), nil
}

func (f *fakeClient) AwaitReceipt(ctx context.Context, hash string) (*chain.Receipt, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &chain.Receipt{Success: true, BlockNumber: 1, GasUsed: 21000}, nil
}

func (f *fakeClient) BlockNumber(ctx context.Context) (uint64, error) { return 1, nil }

func (f *fakeClient) Supports(kind types.TransactionKind) bool {
	if f.supported == nil {
		return true
	}
	return f.supported[kind]
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	states map[string][]types.RunState
}

func (b *recordingBroadcaster) Broadcast(ev types.Event) int {
	if ev.Type != types.EventState {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.states == nil {
		b.states = make(map[string][]types.RunState)
	}
	b.states[ev.Network] = append(b.states[ev.Network], ev.State)
	return 1
}

type memStore struct {
	mu   sync.Mutex
	runs []*types.RunSummary
	err  error
}

func (s *memStore) SaveRun(ctx context.Context, run *types.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return s.err
}

func newTester(name string, client chain.Client) *tester.Tester {
	return tester.New(tester.Config{
		Network:           name,
		Client:            client,
		BatchSize:         5,
		WindowDuration:    10 * time.Millisecond,
		DrainTimeout:      5 * time.Second,
		DrainPollInterval: 2 * time.Millisecond,
	})
}

func waitState(t *testing.T, o *Orchestrator, network string, want types.RunState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s, _ := o.State(network); s == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	s, _ := o.State(network)
	t.Fatalf("state of %s = %s, want %s", network, s, want)
}

func TestOrchestrator_RunSequential(t *testing.T) {
	b := &recordingBroadcaster{}
	store := &memStore{}
	o := New(Config{
		Testers:     []*tester.Tester{newTester("l2", &fakeClient{}), newTester("linea", &fakeClient{})},
		Broadcaster: b,
		Store:       store,
	})

	if s, _ := o.State("l2"); s != types.StateIdle {
		t.Fatalf("initial state = %s, want idle", s)
	}

	res, err := o.Run(context.Background(), types.RunRequest{
		DurationSeconds: 1,
		TargetTPS:       4,
		TransactionKind: types.KindTransfer,
		Networks:        []string{"l2", "linea"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, n := range []string{"l2", "linea"} {
		m := res[n]
		if m == nil {
			t.Fatalf("missing result for %s", n)
		}
		if m.Sent != 4 || m.Confirmed != 4 || !m.Completed {
			t.Errorf("%s: sent %d confirmed %d completed %v", n, m.Sent, m.Confirmed, m.Completed)
		}
		if s, _ := o.State(n); s != types.StateFinalized {
			t.Errorf("%s state = %s, want finalized", n, s)
		}
		want := []types.RunState{types.StateSending, types.StateDraining, types.StateFinalized}
		got := b.states[n]
		if len(got) != len(want) {
			t.Fatalf("%s transitions = %v, want %v", n, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("%s transition[%d] = %s, want %s", n, i, got[i], want[i])
			}
		}
	}

	if len(store.runs) != 1 {
		t.Fatalf("saved runs = %d, want 1", len(store.runs))
	}
	if saved := store.runs[0]; saved.ID == "" || len(saved.Results) != 2 {
		t.Errorf("saved run = %+v", saved)
	}
	if o.Busy() {
		t.Error("orchestrator still busy after run")
	}
}

func TestOrchestrator_RejectsConcurrentRun(t *testing.T) {
	gate := make(chan struct{})
	o := New(Config{
		Testers: []*tester.Tester{newTester("a", &fakeClient{gate: gate}), newTester("b", &fakeClient{})},
	})

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), types.RunRequest{
			DurationSeconds: 1, TargetTPS: 2, TransactionKind: types.KindTransfer, Networks: []string{"a"},
		})
		done <- err
	}()
	waitState(t, o, "a", types.StateDraining)

	_, err := o.Run(context.Background(), types.RunRequest{
		DurationSeconds: 1, TargetTPS: 2, TransactionKind: types.KindTransfer, Networks: []string{"b", "a"},
	})
	if !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("second Run() error = %v, want ErrRunInProgress", err)
	}
	if s, _ := o.State("a"); s != types.StateDraining {
		t.Errorf("active run disturbed: state = %s", s)
	}

	// Acquisition is all-or-nothing: b was not left busy.
	if _, err := o.RunNetwork(context.Background(), "b", tester.RunConfig{
		Duration: time.Second, TargetTPS: 1, Kind: types.KindTransfer,
	}); err != nil {
		t.Fatalf("RunNetwork(b) error = %v", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if s, _ := o.State("a"); s != types.StateFinalized {
		t.Errorf("state = %s, want finalized", s)
	}
}

func TestOrchestrator_Validate(t *testing.T) {
	o := New(Config{
		Testers: []*tester.Tester{
			newTester("l2", &fakeClient{}),
			newTester("bare", &fakeClient{supported: map[types.TransactionKind]bool{types.KindTransfer: true}}),
		},
	})

	tests := []struct {
		name     string
		req      types.RunRequest
		wantErr  error
		wantKind types.TransactionKind
	}{
		{
			name:     "alias kind",
			req:      types.RunRequest{DurationSeconds: 1, TargetTPS: 1, TransactionKind: "erc20", Networks: []string{"l2"}},
			wantKind: types.KindTokenTransfer,
		},
		{
			name:     "default kind",
			req:      types.RunRequest{DurationSeconds: 1, TargetTPS: 1, Networks: []string{"l2"}},
			wantKind: types.KindTransfer,
		},
		{
			name:    "unknown network",
			req:     types.RunRequest{DurationSeconds: 1, TargetTPS: 1, Networks: []string{"mainnet"}},
			wantErr: ErrUnknownNetwork,
		},
		{
			name:    "no networks",
			req:     types.RunRequest{DurationSeconds: 1, TargetTPS: 1},
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "zero tps",
			req:     types.RunRequest{DurationSeconds: 1, Networks: []string{"l2"}},
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "negative duration",
			req:     types.RunRequest{DurationSeconds: -1, TargetTPS: 1, Networks: []string{"l2"}},
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "unknown kind",
			req:     types.RunRequest{DurationSeconds: 1, TargetTPS: 1, TransactionKind: "swap", Networks: []string{"l2"}},
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "kind without contract",
			req:     types.RunRequest{DurationSeconds: 1, TargetTPS: 1, TransactionKind: types.KindMint, Networks: []string{"bare"}},
			wantErr: ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, networks, err := o.Validate(tt.req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if rc.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", rc.Kind, tt.wantKind)
			}
			if len(networks) != 1 {
				t.Errorf("networks = %v", networks)
			}
		})
	}
}

func TestOrchestrator_SequencingFailureReleasesNetwork(t *testing.T) {
	client := &fakeClient{seqErr: errors.New("connection refused")}
	b := &recordingBroadcaster{}
	o := New(Config{Testers: []*tester.Tester{newTester("l2", client)}, Broadcaster: b})
	req := types.RunRequest{DurationSeconds: 1, TargetTPS: 1, Networks: []string{"l2"}}

	_, err := o.Run(context.Background(), req)
	if !errors.Is(err, nonce.ErrSequencing) {
		t.Fatalf("Run() error = %v, want ErrSequencing", err)
	}
	if errors.Is(err, ErrInvalidConfig) {
		t.Error("sequencing failure reported as invalid config")
	}
	if s, _ := o.State("l2"); s != types.StateIdle {
		t.Errorf("state = %s, want idle", s)
	}
	// The run fails before it starts: no state transition is published.
	b.mu.Lock()
	if got := b.states["l2"]; len(got) != 0 {
		t.Errorf("state events = %v, want none", got)
	}
	b.mu.Unlock()

	client.seqErr = nil
	if _, err := o.Run(context.Background(), req); err != nil {
		t.Fatalf("retry Run() error = %v", err)
	}
}

func TestOrchestrator_StoreFailureDoesNotFailRun(t *testing.T) {
	store := &memStore{err: errors.New("disk full")}
	o := New(Config{Testers: []*tester.Tester{newTester("l2", &fakeClient{})}, Store: store})

	res, err := o.Run(context.Background(), types.RunRequest{DurationSeconds: 1, TargetTPS: 1, Networks: []string{"l2"}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res["l2"] == nil {
		t.Error("missing result")
	}
}

func TestOrchestrator_RunNetworkUnknown(t *testing.T) {
	o := New(Config{})
	_, err := o.RunNetwork(context.Background(), "nope", tester.RunConfig{Duration: time.Second, TargetTPS: 1, Kind: types.KindTransfer})
	if !errors.Is(err, ErrUnknownNetwork) {
		t.Errorf("error = %v, want ErrUnknownNetwork", err)
	}
}
