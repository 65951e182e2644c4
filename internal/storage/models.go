// Package storage provides persistence for completed stress test runs.
package storage

import "github.com/gateway-fm/chainbench/pkg/types"

// TxLogEntry is one stored transaction with the run and network it belongs to.
type TxLogEntry struct {
	RunID   string `json:"runId"`
	Network string `json:"network"`
	types.TransactionRecord
}

// PaginatedTxLogs represents a paginated list of transaction logs.
type PaginatedTxLogs struct {
	Transactions []TxLogEntry `json:"transactions"`
	Total        int          `json:"total"`
	Limit        int          `json:"limit"`
	Offset       int          `json:"offset"`
}
