// Package metrics defines the Prometheus instruments for both ledgers.
//
// All recording methods are nil-safe so ledgers built without metrics (tests,
// one-shot CLI commands) need no special casing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/warp/payroll-ledger/generic"
)

const namespace = "payroll_ledger"

// Ledger label values.
const (
	LedgerAdvance = "advance"
	LedgerEscrow  = "escrow"
)

// Metrics holds every collector the service exports.
type Metrics struct {
	AdvancesCreated     prometheus.Counter
	AdvancedAmount      prometheus.Counter
	Repayments          *prometheus.CounterVec
	RepaidAmount        prometheus.Counter
	EscrowDeposits      prometheus.Counter
	EscrowWithdrawals   prometheus.Counter
	Rejections          *prometheus.CounterVec
	PersistenceFailures *prometheus.CounterVec
	OverdueAdvances     prometheus.Gauge
	StoreApplyDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AdvancesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advances_created_total",
			Help:      "Advances created.",
		}),
		AdvancedAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advanced_amount_total",
			Help:      "Sum of advanced principal.",
		}),
		Repayments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repayments_total",
			Help:      "Repayment entries recorded, by payment method.",
		}, []string{"method"}),
		RepaidAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repaid_amount_total",
			Help:      "Sum of repaid amounts.",
		}),
		EscrowDeposits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escrow_deposits_total",
			Help:      "Escrow deposits recorded.",
		}),
		EscrowWithdrawals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escrow_withdrawals_total",
			Help:      "Escrow withdrawals recorded.",
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Mutations rejected before any side effect, by ledger and reason.",
		}, []string{"ledger", "reason"}),
		PersistenceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Store writes that failed, by ledger.",
		}, []string{"ledger"}),
		OverdueAdvances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "overdue_advances",
			Help:      "Active advances past their expected repayment date at the last scan.",
		}),
		StoreApplyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_apply_duration_seconds",
			Help:      "Latency of persisting one ledger change.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"ledger"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.AdvancesCreated,
			m.AdvancedAmount,
			m.Repayments,
			m.RepaidAmount,
			m.EscrowDeposits,
			m.EscrowWithdrawals,
			m.Rejections,
			m.PersistenceFailures,
			m.OverdueAdvances,
			m.StoreApplyDuration,
		)
	}
	return m
}

func (m *Metrics) AdvanceCreated(amount generic.Money) {
	if m == nil {
		return
	}
	m.AdvancesCreated.Inc()
	m.AdvancedAmount.Add(amount.Float64())
}

func (m *Metrics) RepaymentRecorded(method string, amount generic.Money) {
	if m == nil {
		return
	}
	m.Repayments.WithLabelValues(method).Inc()
	m.RepaidAmount.Add(amount.Float64())
}

func (m *Metrics) DepositRecorded() {
	if m == nil {
		return
	}
	m.EscrowDeposits.Inc()
}

func (m *Metrics) WithdrawalRecorded() {
	if m == nil {
		return
	}
	m.EscrowWithdrawals.Inc()
}

// Rejected counts a validation failure. Persistence errors are counted by
// PersistFailed instead.
func (m *Metrics) Rejected(ledger string, err error) {
	if m == nil || err == nil {
		return
	}
	m.Rejections.WithLabelValues(ledger, generic.Reason(err)).Inc()
}

func (m *Metrics) PersistFailed(ledger string) {
	if m == nil {
		return
	}
	m.PersistenceFailures.WithLabelValues(ledger).Inc()
}

func (m *Metrics) SetOverdue(n int) {
	if m == nil {
		return
	}
	m.OverdueAdvances.Set(float64(n))
}

// ObserveApply records how long a store write took.
func (m *Metrics) ObserveApply(ledger string, started time.Time) {
	if m == nil {
		return
	}
	m.StoreApplyDuration.WithLabelValues(ledger).Observe(time.Since(started).Seconds())
}
