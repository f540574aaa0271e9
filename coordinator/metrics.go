package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ledgerTxTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coffeledger_ledger_transactions_total",
		Help: "Ledger transactions submitted, by instruction and result.",
	}, []string{"operation", "result"})

	idCollisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coffeledger_batch_id_collisions_total",
		Help: "Batch id or stage index collisions recovered by retry.",
	})

	dualWriteDriftTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coffeledger_dual_write_drift_total",
		Help: "Cache writes that failed after a successful ledger write.",
	})

	driftRepairsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coffeledger_cache_drift_repairs_total",
		Help: "Cache fields and stage logs repaired by reconciliation.",
	})
)

func recordLedgerTx(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ledgerTxTotal.WithLabelValues(operation, result).Inc()
}
