package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-ledger/generic"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AdvanceCreated(generic.NewMoney(10))
		m.RepaymentRecorded("CASH", generic.NewMoney(10))
		m.DepositRecorded()
		m.WithdrawalRecorded()
		m.Rejected(LedgerAdvance, generic.ErrInvalidAmount)
		m.PersistFailed(LedgerEscrow)
		m.SetOverdue(3)
		m.ObserveApply(LedgerAdvance, time.Now())
	})
}

func TestMetrics_RecordsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.AdvanceCreated(generic.MustParseMoney("250.50"))
	m.AdvanceCreated(generic.MustParseMoney("100.00"))
	m.Rejected(LedgerEscrow, fmt.Errorf("wrapped: %w", generic.ErrInsufficientBalance))
	m.SetOverdue(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AdvancesCreated))
	assert.InDelta(t, 350.50, testutil.ToFloat64(m.AdvancedAmount), 0.001)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejections.WithLabelValues(LedgerEscrow, "insufficient_balance")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OverdueAdvances))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
