package metrics

import (
	"time"

	"github.com/gateway-fm/chainbench/pkg/types"
)

// Options carries run-level facts the records alone do not hold.
type Options struct {
	Requested     int
	StartedAt     time.Time
	FinishedAt    time.Time
	DrainTimedOut bool
}

// Aggregate reduces a run's records into its final metrics. Records are
// expected in submission order and are copied into the result; pending
// records are kept in the list but count toward no rate.
func Aggregate(records []types.TransactionRecord, opts Options) *types.NetworkMetrics {
	m := &types.NetworkMetrics{
		Transactions:  make([]types.TransactionRecord, len(records)),
		Requested:     opts.Requested,
		Sent:          len(records),
		DrainTimedOut: opts.DrainTimedOut,
		StartedAt:     opts.StartedAt,
		FinishedAt:    opts.FinishedAt,
	}
	copy(m.Transactions, records)

	var (
		blockTimeSum float64
		blockTimeN   int
		gasSum       float64
		gasN         int
		latenciesMs  []float64
		first, last  time.Time
		terminal     int
	)

	for i := range records {
		r := &records[i]
		switch r.Status {
		case types.TxPending:
			m.Pending++
			continue
		case types.TxSuccess:
			m.Confirmed++
			if r.BlockTime != nil {
				blockTimeSum += *r.BlockTime
				blockTimeN++
				latenciesMs = append(latenciesMs, *r.BlockTime*1000)
			}
			if r.GasUsed != nil {
				gasSum += float64(*r.GasUsed)
				gasN++
			}
		case types.TxFailed:
			m.Failed++
		}

		terminal++
		if r.ResolvedAt.IsZero() {
			continue
		}
		if first.IsZero() || r.ResolvedAt.Before(first) {
			first = r.ResolvedAt
		}
		if r.ResolvedAt.After(last) {
			last = r.ResolvedAt
		}
	}

	if terminal > 0 {
		m.SuccessRate = float64(m.Confirmed) / float64(terminal) * 100
	}
	if blockTimeN > 0 {
		m.AvgBlockTime = blockTimeSum / float64(blockTimeN)
	}
	if gasN > 0 {
		m.AvgGasUsed = gasSum / float64(gasN)
	}
	if terminal >= 2 {
		if span := last.Sub(first).Seconds(); span > 0 {
			m.AvgTPS = float64(m.Confirmed) / span
		}
	}
	m.Latency = ComputeLatency(latenciesMs)
	m.Completed = m.Sent >= m.Requested && m.Pending == 0

	return m
}
