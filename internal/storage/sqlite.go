package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/chainbench/pkg/types"
)

// unmarshalJSON unmarshals JSON and logs any errors without failing.
// This is used for non-critical JSON fields where we want to gracefully
// handle corruption without failing the entire query.
func unmarshalJSON(data string, v any, field string, runID string) {
	if err := json.Unmarshal([]byte(data), v); err != nil {
		slog.Warn("failed to unmarshal JSON field",
			"field", field,
			"runID", runID,
			"error", err.Error(),
			"dataLen", len(data))
	}
}

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL mode for concurrent readers while a run is being saved
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_cache_size=10000&_foreign_keys=ON", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		duration_s INTEGER NOT NULL,
		target_tps INTEGER NOT NULL,
		transaction_kind TEXT NOT NULL,
		networks TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS network_results (
		run_id TEXT NOT NULL,
		network TEXT NOT NULL,
		avg_tps REAL DEFAULT 0,
		success_rate REAL DEFAULT 0,
		avg_block_time REAL DEFAULT 0,
		avg_gas_used REAL DEFAULT 0,
		requested INTEGER DEFAULT 0,
		sent INTEGER DEFAULT 0,
		confirmed INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		pending INTEGER DEFAULT 0,
		completed INTEGER DEFAULT 0,
		drain_timed_out INTEGER DEFAULT 0,
		started_at DATETIME,
		finished_at DATETIME,
		latency_stats TEXT,
		PRIMARY KEY (run_id, network),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS tx_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		network TEXT NOT NULL,
		seq INTEGER NOT NULL,
		tx_hash TEXT,
		timestamp_ms INTEGER NOT NULL,
		status TEXT NOT NULL,
		kind TEXT NOT NULL,
		nonce INTEGER NOT NULL,
		block_number INTEGER,
		gas_used INTEGER,
		block_time REAL,
		error_reason TEXT,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tx_logs_run ON tx_logs(run_id, network, seq);
	CREATE INDEX IF NOT EXISTS idx_tx_logs_hash ON tx_logs(tx_hash);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SaveRun stores a run, its per-network results and every transaction record
// in a single transaction.
func (s *SQLiteStorage) SaveRun(ctx context.Context, run *types.RunSummary) error {
	networksJSON, err := json.Marshal(run.Networks)
	if err != nil {
		return fmt.Errorf("failed to marshal networks: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, duration_s, target_tps, transaction_kind, networks)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt, run.FinishedAt, run.DurationSeconds, run.TargetTPS, string(run.TransactionKind), string(networksJSON))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	resultStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO network_results (run_id, network, avg_tps, success_rate, avg_block_time, avg_gas_used,
			requested, sent, confirmed, failed, pending, completed, drain_timed_out, started_at, finished_at, latency_stats)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer resultStmt.Close()

	logStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tx_logs (run_id, network, seq, tx_hash, timestamp_ms, status, kind, nonce,
			block_number, gas_used, block_time, error_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer logStmt.Close()

	for network, m := range run.Results {
		if m == nil {
			continue
		}
		var latencyJSON sql.NullString
		if m.Latency != nil {
			b, _ := json.Marshal(m.Latency)
			latencyJSON = sql.NullString{String: string(b), Valid: true}
		}
		_, err := resultStmt.ExecContext(ctx, run.ID, network, m.AvgTPS, m.SuccessRate, m.AvgBlockTime, m.AvgGasUsed,
			m.Requested, m.Sent, m.Confirmed, m.Failed, m.Pending, m.Completed, m.DrainTimedOut,
			m.StartedAt, m.FinishedAt, latencyJSON)
		if err != nil {
			return fmt.Errorf("insert result for %s: %w", network, err)
		}

		for i, rec := range m.Transactions {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			_, err := logStmt.ExecContext(ctx, run.ID, network, i, nullString(rec.Hash), rec.Timestamp,
				string(rec.Status), string(rec.Kind), rec.Nonce,
				nullUint64(rec.BlockNumber), nullUint64(rec.GasUsed), nullFloat64(rec.BlockTime),
				nullString(rec.Error))
			if err != nil {
				return fmt.Errorf("insert tx log: %w", err)
			}
		}
	}

	// Single commit at the end - this is where the fsync happens
	return tx.Commit()
}

// GetRun retrieves a single run with its results and transactions.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*types.RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, duration_s, target_tps, transaction_kind, networks
		FROM runs WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if run.Results, err = s.loadResults(ctx, run.ID); err != nil {
		return nil, err
	}
	for network, m := range run.Results {
		if m.Transactions, err = s.loadTransactions(ctx, run.ID, network); err != nil {
			return nil, err
		}
	}
	return run, nil
}

// ListRuns returns a paginated list of runs, newest first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit, offset int) (*types.PaginatedRuns, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, duration_s, target_tps, transaction_kind, networks
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []types.RunSummary{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range runs {
		if runs[i].Results, err = s.loadResults(ctx, runs[i].ID); err != nil {
			return nil, err
		}
	}

	return &types.PaginatedRuns{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// DeleteRun deletes a run and all associated data.
func (s *SQLiteStorage) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// GetTxLogs retrieves paginated transaction logs for one network of a run,
// in submission order.
func (s *SQLiteStorage) GetTxLogs(ctx context.Context, runID, network string, limit, offset int) (*PaginatedTxLogs, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tx_logs WHERE run_id = ? AND network = ?", runID, network).Scan(&total)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, network, tx_hash, timestamp_ms, status, kind, nonce, block_number, gas_used, block_time, error_reason
		FROM tx_logs
		WHERE run_id = ? AND network = ?
		ORDER BY seq
		LIMIT ? OFFSET ?
	`, runID, network, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []TxLogEntry{}
	for rows.Next() {
		entry, err := scanTxLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &PaginatedTxLogs{
		Transactions: logs,
		Total:        total,
		Limit:        limit,
		Offset:       offset,
	}, nil
}

// GetTxLogByHash retrieves a single transaction log by hash, or nil if none.
func (s *SQLiteStorage) GetTxLogByHash(ctx context.Context, hash string) (*TxLogEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, network, tx_hash, timestamp_ms, status, kind, nonce, block_number, gas_used, block_time, error_reason
		FROM tx_logs
		WHERE tx_hash = ?
		ORDER BY id DESC
		LIMIT 1
	`, hash)

	entry, err := scanTxLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return entry, err
}

// Helper functions

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*types.RunSummary, error) {
	var run types.RunSummary
	var kind, networksJSON string

	err := row.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.DurationSeconds, &run.TargetTPS, &kind, &networksJSON)
	if err != nil {
		return nil, err
	}
	run.TransactionKind = types.TransactionKind(kind)
	unmarshalJSON(networksJSON, &run.Networks, "networks", run.ID)
	return &run, nil
}

func (s *SQLiteStorage) loadResults(ctx context.Context, runID string) (types.RunResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT network, avg_tps, success_rate, avg_block_time, avg_gas_used,
			requested, sent, confirmed, failed, pending, completed, drain_timed_out,
			started_at, finished_at, latency_stats
		FROM network_results
		WHERE run_id = ?
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make(types.RunResult)
	for rows.Next() {
		var network string
		var m types.NetworkMetrics
		var startedAt, finishedAt sql.NullTime
		var latencyJSON sql.NullString

		err := rows.Scan(&network, &m.AvgTPS, &m.SuccessRate, &m.AvgBlockTime, &m.AvgGasUsed,
			&m.Requested, &m.Sent, &m.Confirmed, &m.Failed, &m.Pending, &m.Completed, &m.DrainTimedOut,
			&startedAt, &finishedAt, &latencyJSON)
		if err != nil {
			return nil, err
		}
		if startedAt.Valid {
			m.StartedAt = startedAt.Time
		}
		if finishedAt.Valid {
			m.FinishedAt = finishedAt.Time
		}
		if latencyJSON.Valid && latencyJSON.String != "" {
			m.Latency = &types.LatencyStats{}
			unmarshalJSON(latencyJSON.String, m.Latency, "latency_stats", runID)
		}
		results[network] = &m
	}
	return results, rows.Err()
}

func (s *SQLiteStorage) loadTransactions(ctx context.Context, runID, network string) ([]types.TransactionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, network, tx_hash, timestamp_ms, status, kind, nonce, block_number, gas_used, block_time, error_reason
		FROM tx_logs
		WHERE run_id = ? AND network = ?
		ORDER BY seq
	`, runID, network)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := []types.TransactionRecord{}
	for rows.Next() {
		entry, err := scanTxLog(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, entry.TransactionRecord)
	}
	return txs, rows.Err()
}

func scanTxLog(row scanner) (*TxLogEntry, error) {
	var entry TxLogEntry
	var hash, errorReason sql.NullString
	var blockNumber, gasUsed sql.NullInt64
	var blockTime sql.NullFloat64
	var status, kind string

	err := row.Scan(&entry.RunID, &entry.Network, &hash, &entry.Timestamp, &status, &kind, &entry.Nonce,
		&blockNumber, &gasUsed, &blockTime, &errorReason)
	if err != nil {
		return nil, err
	}

	entry.Hash = hash.String
	entry.Status = types.TxStatus(status)
	entry.Kind = types.TransactionKind(kind)
	entry.Error = errorReason.String
	if blockNumber.Valid {
		v := uint64(blockNumber.Int64)
		entry.BlockNumber = &v
	}
	if gasUsed.Valid {
		v := uint64(gasUsed.Int64)
		entry.GasUsed = &v
	}
	if blockTime.Valid {
		v := blockTime.Float64
		entry.BlockTime = &v
	}
	return &entry, nil
}

func nullUint64(v *uint64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat64(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
