package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the margin engine.
type Metrics struct {
	// --- Engine operations ---
	EngineOps        *prometheus.CounterVec
	EngineOpDuration *prometheus.HistogramVec

	// --- Settlement ---
	SettlementAllocations prometheus.Histogram
	SettlementValue       *prometheus.CounterVec
	SettlementShortfall   prometheus.Counter

	// --- Liquidation ---
	LiquidationsTotal   prometheus.Counter
	LiquidationSweeps   prometheus.Counter
	LiquidationRejected *prometheus.CounterVec

	// --- Events ---
	EventsEmitted *prometheus.CounterVec
	PublishErrors prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistErrors        prometheus.Counter
	PersistBatchSize     prometheus.Histogram

	// --- Vaults ---
	VaultReserve  *prometheus.GaugeVec
	VaultLPSupply *prometheus.GaugeVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.005, 0.01,
	}

	return &Metrics{
		EngineOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pismo_engine_ops_total",
			Help: "Engine operations by operation and result",
		}, []string{"op", "result"}),
		EngineOpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pismo_engine_op_duration_seconds",
			Help:    "Engine operation latency",
			Buckets: opBuckets,
		}, []string{"op"}),

		SettlementAllocations: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pismo_settlement_allocations",
			Help:    "Number of markers or vaults touched per settlement",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		}),
		SettlementValue: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pismo_settlement_value_total",
			Help: "Shared-decimal value settled by direction",
		}, []string{"direction"}),
		SettlementShortfall: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pismo_settlement_shortfall_total",
			Help: "Debt settlements where collateral value did not cover the target",
		}),

		LiquidationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pismo_liquidations_total",
			Help: "Completed account liquidations",
		}),
		LiquidationSweeps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pismo_liquidation_sweeps_total",
			Help: "Collateral markers swept into vaults by liquidation",
		}),
		LiquidationRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pismo_liquidation_rejected_total",
			Help: "Liquidation attempts rejected by reason",
		}, []string{"reason"}),

		EventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pismo_events_emitted_total",
			Help: "Events emitted by type",
		}, []string{"type"}),
		PublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pismo_publish_errors_total",
			Help: "Outbound NATS publish failures",
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pismo_persist_events_written_total",
			Help: "Events written to the Postgres event log",
		}),
		PersistErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pismo_persist_errors_total",
			Help: "Postgres event log write failures",
		}),
		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pismo_persist_batch_size",
			Help:    "Events per persisted batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100},
		}),

		VaultReserve: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pismo_vault_reserve",
			Help: "Vault reserve balance by token index",
		}, []string{"token_index"}),
		VaultLPSupply: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pismo_vault_lp_supply",
			Help: "Vault LP share supply by token index",
		}, []string{"token_index"}),
	}
}
