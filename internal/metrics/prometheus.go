package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gateway-fm/chainbench/pkg/types"
)

// Prometheus holds the live engine instrumentation.
type Prometheus struct {
	TxTotal        *prometheus.CounterVec
	PendingTxs     *prometheus.GaugeVec
	InFlightTxs    *prometheus.GaugeVec
	RunState       *prometheus.GaugeVec
	ConfirmLatency *prometheus.HistogramVec
	BatchSubmit    *prometheus.HistogramVec
	RPCLatency     *prometheus.HistogramVec
}

// NewPrometheus creates and registers all metrics on reg
// (prometheus.DefaultRegisterer if nil).
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Prometheus{
		TxTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainbench_transactions_total",
				Help: "Transactions by network, status and kind",
			},
			[]string{"network", "status", "kind"},
		),

		PendingTxs: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chainbench_pending_transactions",
				Help: "Transactions awaiting a receipt",
			},
			[]string{"network"},
		),

		InFlightTxs: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chainbench_submissions_in_flight",
				Help: "Submissions awaiting the node's response",
			},
			[]string{"network"},
		),

		RunState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chainbench_run_state",
				Help: "Current run state per network (1 if active, 0 otherwise)",
			},
			[]string{"network", "state"},
		),

		ConfirmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chainbench_confirmation_latency_seconds",
				Help:    "Time from submission to receipt for successful transactions",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"network", "kind"},
		),

		BatchSubmit: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chainbench_batch_submit_seconds",
				Help:    "Time to submit one batch",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"network"},
		),

		RPCLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chainbench_rpc_latency_seconds",
				Help:    "RPC call latency by method",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "status"},
		),
	}
}

// RecordSubmitted counts a transaction as pending or failed at submission.
func (m *Prometheus) RecordSubmitted(network string, kind types.TransactionKind, status types.TxStatus) {
	m.TxTotal.WithLabelValues(network, string(status), string(kind)).Inc()
}

// RecordResolved counts a transaction reaching a terminal status via the watcher.
func (m *Prometheus) RecordResolved(network string, rec types.TransactionRecord) {
	m.TxTotal.WithLabelValues(network, string(rec.Status), string(rec.Kind)).Inc()
	if rec.Status == types.TxSuccess && rec.BlockTime != nil {
		m.ConfirmLatency.WithLabelValues(network, string(rec.Kind)).Observe(*rec.BlockTime)
	}
}

// ObserveBatch records how long one batch took to submit.
func (m *Prometheus) ObserveBatch(network string, elapsed time.Duration) {
	m.BatchSubmit.WithLabelValues(network).Observe(elapsed.Seconds())
}

// SetPending updates the pending gauge.
func (m *Prometheus) SetPending(network string, count int) {
	m.PendingTxs.WithLabelValues(network).Set(float64(count))
}

// InFlight returns the network's in-flight submission gauge.
func (m *Prometheus) InFlight(network string) prometheus.Gauge {
	return m.InFlightTxs.WithLabelValues(network)
}

var runStates = []types.RunState{
	types.StateIdle, types.StateSending, types.StateDraining, types.StateFinalized,
}

// SetRunState marks state as the network's only active state.
func (m *Prometheus) SetRunState(network string, state types.RunState) {
	for _, s := range runStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.RunState.WithLabelValues(network, string(s)).Set(v)
	}
}

// knownRPCMethods is a fixed set of known RPC methods to prevent cardinality explosion
var knownRPCMethods = map[string]bool{
	"eth_sendRawTransaction":    true,
	"eth_getTransactionCount":   true,
	"eth_blockNumber":           true,
	"eth_getBlockByNumber":      true,
	"eth_gasPrice":              true,
	"eth_getTransactionReceipt": true,
}

// ObserveRPC records RPC call latency. Its signature matches rpc.ClientConfig.Observe.
func (m *Prometheus) ObserveRPC(method string, err error, elapsed time.Duration) {
	bucketedMethod := method
	if !knownRPCMethods[method] {
		bucketedMethod = "other"
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	m.RPCLatency.WithLabelValues(bucketedMethod, status).Observe(elapsed.Seconds())
}
