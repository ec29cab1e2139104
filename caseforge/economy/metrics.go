package economy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransactionsTotal counts finished economic transactions by operation
	// kind and outcome.
	TransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "caseforge",
			Name:      "transactions_total",
			Help:      "Finished economic transactions by kind and status.",
		},
		[]string{"kind", "status"},
	)

	// DrawsTotal counts weighted draws by item rarity and selection mode.
	DrawsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "caseforge",
			Name:      "draws_total",
			Help:      "Weighted item draws by rarity and mode.",
		},
		[]string{"rarity", "mode"},
	)

	// TransactionDuration observes the wall time of one atomic transaction,
	// lock wait included.
	TransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "caseforge",
			Name:      "transaction_duration_seconds",
			Help:      "Duration of economic transactions.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// ReconciliationMismatches counts accounts whose stored balance
	// disagrees with the replayed transaction log.
	ReconciliationMismatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "caseforge",
			Name:      "reconciliation_mismatches_total",
			Help:      "Balance mismatches found by the reconciliation job.",
		},
	)
)
