// Package types contains public API types for chainbench.
// These types form the external interface and must remain backwards-compatible.
package types

import "time"

// TransactionKind represents the type of transaction to generate.
type TransactionKind string

const (
	KindTransfer      TransactionKind = "transfer"
	KindTokenTransfer TransactionKind = "tokenTransfer"
	KindMint          TransactionKind = "mint"
	KindContractCall  TransactionKind = "contractCall"
)

// Kinds lists every supported transaction kind.
var Kinds = []TransactionKind{KindTransfer, KindTokenTransfer, KindMint, KindContractCall}

// Valid reports whether k is a supported transaction kind.
func (k TransactionKind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// kindAliases maps the dashboard's legacy kind names to canonical kinds.
var kindAliases = map[string]TransactionKind{
	"erc20":   KindTokenTransfer,
	"nft":     KindMint,
	"complex": KindContractCall,
}

// ParseTransactionKind resolves a kind name, accepting legacy aliases.
// Returns false if the name is unknown.
func ParseTransactionKind(s string) (TransactionKind, bool) {
	if k := TransactionKind(s); k.Valid() {
		return k, true
	}
	k, ok := kindAliases[s]
	return k, ok
}

// TxStatus is the lifecycle state of a submitted transaction.
type TxStatus string

const (
	TxPending TxStatus = "pending"
	TxSuccess TxStatus = "success"
	TxFailed  TxStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s TxStatus) Terminal() bool {
	return s == TxSuccess || s == TxFailed
}

// RunState is the orchestrator state of a network.
type RunState string

const (
	StateIdle      RunState = "idle"
	StateSending   RunState = "sending"
	StateDraining  RunState = "draining"
	StateFinalized RunState = "finalized"
)

// TransactionRecord is one submitted (or attempted) transaction.
type TransactionRecord struct {
	Hash        string          `json:"hash"`
	Timestamp   int64           `json:"timestamp"` // submittedAt, unix ms
	Status      TxStatus        `json:"status"`
	Kind        TransactionKind `json:"type"`
	Nonce       uint64          `json:"nonce"`
	BlockNumber *uint64         `json:"blockNumber,omitempty"`
	GasUsed     *uint64         `json:"gasUsed,omitempty"`
	BlockTime   *float64        `json:"blockTime,omitempty"` // seconds from submission to terminal state
	Error       string          `json:"error,omitempty"`

	// ResolvedAt is when the record reached a terminal state. Not serialized.
	ResolvedAt time.Time `json:"-"`
}

// LatencyStats holds confirmation latency statistics over successful transactions.
type LatencyStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"` // ms
	Max   float64 `json:"max"` // ms
	Avg   float64 `json:"avg"` // ms
	P50   float64 `json:"p50"` // ms
	P90   float64 `json:"p90"` // ms
	P99   float64 `json:"p99"` // ms
}

// NetworkMetrics is the final, immutable result of one run against one network.
type NetworkMetrics struct {
	AvgTPS       float64             `json:"avgTps"`
	SuccessRate  float64             `json:"successRate"`
	AvgBlockTime float64             `json:"avgBlockTime"`
	AvgGasUsed   float64             `json:"avgGasUsed"`
	Transactions []TransactionRecord `json:"transactions"`

	Requested     int           `json:"requested"`
	Sent          int           `json:"sent"`
	Confirmed     int           `json:"confirmed"`
	Failed        int           `json:"failed"`
	Pending       int           `json:"pending"`
	Completed     bool          `json:"completed"`
	DrainTimedOut bool          `json:"drainTimedOut"`
	StartedAt     time.Time     `json:"startedAt"`
	FinishedAt    time.Time     `json:"finishedAt"`
	Latency       *LatencyStats `json:"latency,omitempty"`
}

// RunRequest is the body of a stress test request.
type RunRequest struct {
	DurationSeconds int             `json:"duration"`
	TargetTPS       int             `json:"tps"`
	TransactionKind TransactionKind `json:"transactionType"`
	Networks        []string        `json:"networks"`
}

// RunResult maps network name to its metrics.
type RunResult map[string]*NetworkMetrics

// EventType identifies a progress event.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventKeepalive    EventType = "keepalive"
	EventTransactions EventType = "transactions"
	EventTxLog        EventType = "txLog"
	EventState        EventType = "state"
)

// Event is a progress notification delivered to subscribers.
// Only the fields relevant to Type are populated.
type Event struct {
	Type        EventType          `json:"type"`
	Network     string             `json:"network,omitempty"`
	Data        *ProgressSnapshot  `json:"data,omitempty"`
	Transaction *TransactionRecord `json:"transaction,omitempty"`
	State       RunState           `json:"state,omitempty"`
}

// ProgressSnapshot is the cumulative send progress of a network's run.
type ProgressSnapshot struct {
	Sent        int     `json:"sent"`
	Pending     int     `json:"pending"`
	Confirmed   int     `json:"confirmed"`
	Failed      int     `json:"failed"`
	Total       int     `json:"total"`
	Progress    float64 `json:"progress"`
	BlockNumber *uint64 `json:"blockNumber,omitempty"`
}

// NetworkInfo describes a configured network.
type NetworkInfo struct {
	Name    string   `json:"name"`
	ChainID int64    `json:"chainId"`
	RPCURL  string   `json:"rpcUrl"`
	State   RunState `json:"state"`
}

// NetworkSnapshot is a passive view of a network's current performance.
type NetworkSnapshot struct {
	Network     string  `json:"network"`
	TPS         float64 `json:"tps"`
	BlockTime   float64 `json:"blockTime"` // seconds
	GasPrice    float64 `json:"gasPrice"`  // gwei
	Latency     float64 `json:"latency"`   // ms
	BlockNumber uint64  `json:"blockNumber"`
}

// RunSummary is a stored, completed run.
type RunSummary struct {
	ID              string          `json:"id"`
	StartedAt       time.Time       `json:"startedAt"`
	FinishedAt      time.Time       `json:"finishedAt"`
	DurationSeconds int             `json:"duration"`
	TargetTPS       int             `json:"tps"`
	TransactionKind TransactionKind `json:"transactionType"`
	Networks        []string        `json:"networks"`
	Results         RunResult       `json:"results,omitempty"`
}

// PaginatedRuns is a page of stored runs.
type PaginatedRuns struct {
	Runs   []RunSummary `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}
