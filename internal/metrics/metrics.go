package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		BlocksSealed, SealDuration, SealFailures, NonceAttempts,
		PendingTransactions, ChainLength,
		OrderTransitions, DeliveryVerifications,
	)
}

var BlocksSealed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "custody_blocks_sealed_total",
		Help: "Blocks appended to the ledger",
	},
)

var SealDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "custody_seal_duration_seconds",
		Help:    "Wall time of a proof-of-work seal",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	},
)

var SealFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "custody_seal_failures_total",
		Help: "Seals that did not append a block",
	},
	[]string{"reason"}, // cancelled | exhausted | error
)

var NonceAttempts = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "custody_nonce_attempts_total",
		Help: "Hashes computed while sealing",
	},
)

var PendingTransactions = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "custody_pending_transactions",
		Help: "Transactions waiting for the next seal",
	},
)

var ChainLength = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "custody_chain_length",
		Help: "Blocks in the chain including genesis",
	},
)

var OrderTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "custody_order_transitions_total",
		Help: "Order lifecycle events by outcome",
	},
	[]string{"event", "result"},
)

var DeliveryVerifications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "custody_delivery_verifications_total",
		Help: "Delivery scans and confirmations by outcome",
	},
	[]string{"step", "result"}, // step: scan | confirm; result: ok | error kind
)

func Handler() http.Handler {
	return promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{})
}
