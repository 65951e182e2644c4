package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/gateway-fm/chainbench/pkg/types"
)

func TestNullHelpers(t *testing.T) {
	if got := nullString(""); got.Valid {
		t.Error("nullString(\"\") should be invalid")
	}
	if got := nullString("x"); !got.Valid || got.String != "x" {
		t.Errorf("nullString(\"x\") = %+v", got)
	}

	if got := nullUint64(nil); got.Valid {
		t.Error("nullUint64(nil) should be invalid")
	}
	zero := uint64(0)
	if got := nullUint64(&zero); !got.Valid || got.Int64 != 0 {
		t.Errorf("nullUint64(&0) = %+v, want valid zero", got)
	}

	if got := nullFloat64(nil); got.Valid {
		t.Error("nullFloat64(nil) should be invalid")
	}
}

// createTestStorage creates a new SQLite storage with a temporary database.
func createTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	storage, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	return storage
}

func u64(v uint64) *uint64 { return &v }

func f64(v float64) *float64 { return &v }

func sampleRun(id string, startedAt time.Time) *types.RunSummary {
	return &types.RunSummary{
		ID:              id,
		StartedAt:       startedAt,
		FinishedAt:      startedAt.Add(45 * time.Second),
		DurationSeconds: 30,
		TargetTPS:       10,
		TransactionKind: types.KindTransfer,
		Networks:        []string{"l2", "linea"},
		Results: types.RunResult{
			"l2": {
				AvgTPS:       9.5,
				SuccessRate:  50,
				AvgBlockTime: 1.2,
				AvgGasUsed:   21000,
				Requested:    300,
				Sent:         2,
				Confirmed:    1,
				Failed:       1,
				Completed:    false,
				Latency:      &types.LatencyStats{Count: 1, P50: 1200},
				Transactions: []types.TransactionRecord{
					{Hash: "0xaa", Timestamp: 1000, Status: types.TxSuccess, Kind: types.KindTransfer, Nonce: 4,
						BlockNumber: u64(12), GasUsed: u64(21000), BlockTime: f64(1.2)},
					{Timestamp: 1001, Status: types.TxFailed, Kind: types.KindTransfer, Nonce: 5, Error: "rejected"},
				},
			},
			"linea": {
				Requested:     300,
				Sent:          1,
				Pending:       1,
				DrainTimedOut: true,
				Transactions: []types.TransactionRecord{
					{Hash: "0xbb", Timestamp: 1002, Status: types.TxPending, Kind: types.KindTransfer, Nonce: 9},
				},
			},
		},
	}
}

func TestNewSQLiteStorage_InvalidPath(t *testing.T) {
	_, err := NewSQLiteStorage("/nonexistent/directory/that/should/not/exist/test.db")
	if err == nil {
		t.Error("expected error for invalid path")
	}
}

func TestSaveAndGetRun(t *testing.T) {
	storage := createTestStorage(t)
	ctx := context.Background()
	started := time.Now().Truncate(time.Second)

	if err := storage.SaveRun(ctx, sampleRun("run-1", started)); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	got, err := storage.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if got.TargetTPS != 10 || got.TransactionKind != types.KindTransfer {
		t.Errorf("run = %+v", got)
	}
	if len(got.Networks) != 2 || got.Networks[0] != "l2" {
		t.Errorf("Networks = %v", got.Networks)
	}

	l2 := got.Results["l2"]
	if l2 == nil {
		t.Fatal("missing l2 result")
	}
	if l2.SuccessRate != 50 || l2.Sent != 2 || l2.Completed {
		t.Errorf("l2 = %+v", l2)
	}
	if l2.Latency == nil || l2.Latency.P50 != 1200 {
		t.Errorf("Latency = %+v", l2.Latency)
	}
	if len(l2.Transactions) != 2 {
		t.Fatalf("l2 transactions = %d, want 2", len(l2.Transactions))
	}
	ok := l2.Transactions[0]
	if ok.Hash != "0xaa" || ok.BlockNumber == nil || *ok.BlockNumber != 12 || ok.BlockTime == nil || *ok.BlockTime != 1.2 {
		t.Errorf("first tx = %+v", ok)
	}
	failed := l2.Transactions[1]
	if failed.Hash != "" || failed.Error != "rejected" || failed.BlockNumber != nil {
		t.Errorf("failed tx = %+v", failed)
	}

	linea := got.Results["linea"]
	if linea == nil || !linea.DrainTimedOut || linea.Pending != 1 {
		t.Errorf("linea = %+v", linea)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	storage := createTestStorage(t)

	_, err := storage.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun() error = %v, want ErrNotFound", err)
	}
}

func TestListRuns(t *testing.T) {
	storage := createTestStorage(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	for i, id := range []string{"old", "mid", "new"} {
		if err := storage.SaveRun(ctx, sampleRun(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("SaveRun(%s) error = %v", id, err)
		}
	}

	page, err := storage.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if page.Total != 3 || len(page.Runs) != 2 {
		t.Fatalf("page = total %d, runs %d", page.Total, len(page.Runs))
	}
	if page.Runs[0].ID != "new" || page.Runs[1].ID != "mid" {
		t.Errorf("order = %s, %s; want new, mid", page.Runs[0].ID, page.Runs[1].ID)
	}
	if r := page.Runs[0].Results["l2"]; r == nil || r.Transactions != nil {
		t.Errorf("listed result = %+v, want metrics without transactions", r)
	}

	page, err = storage.ListRuns(ctx, 2, 2)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(page.Runs) != 1 || page.Runs[0].ID != "old" {
		t.Errorf("second page = %+v", page.Runs)
	}
}

func TestDeleteRun(t *testing.T) {
	storage := createTestStorage(t)
	ctx := context.Background()

	if err := storage.SaveRun(ctx, sampleRun("run-1", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := storage.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("DeleteRun() error = %v", err)
	}
	if _, err := storage.GetRun(ctx, "run-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun after delete error = %v", err)
	}
	if logs, err := storage.GetTxLogs(ctx, "run-1", "l2", 10, 0); err != nil || logs.Total != 0 {
		t.Errorf("tx logs survived delete: %+v, %v", logs, err)
	}
	if err := storage.DeleteRun(ctx, "run-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteRun() error = %v, want ErrNotFound", err)
	}
}

func TestTxLogs(t *testing.T) {
	storage := createTestStorage(t)
	ctx := context.Background()

	if err := storage.SaveRun(ctx, sampleRun("run-1", time.Now())); err != nil {
		t.Fatal(err)
	}

	page, err := storage.GetTxLogs(ctx, "run-1", "l2", 1, 1)
	if err != nil {
		t.Fatalf("GetTxLogs() error = %v", err)
	}
	if page.Total != 2 || len(page.Transactions) != 1 || page.Transactions[0].Nonce != 5 {
		t.Errorf("page = %+v", page)
	}

	entry, err := storage.GetTxLogByHash(ctx, "0xbb")
	if err != nil {
		t.Fatalf("GetTxLogByHash() error = %v", err)
	}
	if entry == nil || entry.Network != "linea" || entry.RunID != "run-1" || entry.Status != types.TxPending {
		t.Errorf("entry = %+v", entry)
	}

	if entry, err := storage.GetTxLogByHash(ctx, "0xnone"); err != nil || entry != nil {
		t.Errorf("GetTxLogByHash(missing) = %+v, %v", entry, err)
	}
}
