package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var (
	// StakesOpened counts successfully opened stakes
	StakesOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stake_ledger_stakes_opened_total",
			Help: "Total number of stakes opened",
		},
	)

	// StakesClosed counts successfully closed stakes
	StakesClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stake_ledger_stakes_closed_total",
			Help: "Total number of stakes closed",
		},
	)

	// RewardsAccrued sums reward amounts credited, by source (sweep or close)
	RewardsAccrued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stake_ledger_rewards_accrued",
			Help: "Reward amount credited to users",
		},
		[]string{"source"},
	)

	// DepositsCredited counts deposits credited by flow (direct or callback)
	DepositsCredited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stake_ledger_deposits_credited_total",
			Help: "Total number of deposits credited",
		},
		[]string{"flow"},
	)

	// CASConflicts counts compare-and-swap conflicts by operation
	CASConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stake_ledger_cas_conflicts_total",
			Help: "Total number of last-accrual compare-and-swap conflicts",
		},
		[]string{"operation"},
	)

	// Sweeps counts sweeps by outcome (completed, aborted, lease_held, failed)
	Sweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stake_ledger_sweeps_total",
			Help: "Total number of accrual sweeps",
		},
		[]string{"outcome"},
	)

	// SweepStakes counts per-stake sweep results (accrued, skipped, failed)
	SweepStakes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stake_ledger_sweep_stakes_total",
			Help: "Per-stake results of accrual sweeps",
		},
		[]string{"result"},
	)

	// SweepDuration tracks sweep wall time
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stake_ledger_sweep_duration_seconds",
			Help:    "Accrual sweep duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// AddReward records a credited reward amount.
func AddReward(source string, amount decimal.Decimal) {
	f, _ := amount.Float64()
	if f > 0 {
		RewardsAccrued.WithLabelValues(source).Add(f)
	}
}
