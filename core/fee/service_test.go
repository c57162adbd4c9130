package fee_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-billing/core/fee"
	testutil "github.com/trezcool/masomo-billing/tests"
)

type metricsRecorder struct {
	mu        sync.Mutex
	payments  []string
	applied   decimal.Decimal
	outcomes  map[fee.OutcomeResult]int
	runs      int
	conflicts []string
}

func (m *metricsRecorder) PaymentRecorded(method string, _, applied decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments = append(m.payments, method)
	m.applied = m.applied.Add(applied)
}

func (m *metricsRecorder) BillingOutcome(result fee.OutcomeResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = make(map[fee.OutcomeResult]int)
	}
	m.outcomes[result]++
}

func (m *metricsRecorder) BillingRunFinished(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
}

func (m *metricsRecorder) ConcurrencyConflict(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts = append(m.conflicts, op)
}

func TestService_Metrics(t *testing.T) {
	reset := fee.SetNowFunc(func() time.Time { return today })
	defer reset()

	fx := testutil.NewFixture(t, 20*time.Millisecond)
	validate, translator := testutil.NewValidator()
	metrics := new(metricsRecorder)
	svc := fee.NewService(fee.ServiceDeps{
		Store:      fx.Store,
		Directory:  fx.Dir,
		Validate:   validate,
		Translator: translator,
		Logger:     testutil.Logger{T: t},
		Metrics:    metrics,
		Conf:       testutil.NewConfig(),
	})

	fam := fx.CreateFamily("kambale", "0")
	s := fx.CreateStudent(fam.ID, "Amani")
	fx.Subscribe(s.ID, "800", "0", testutil.Date(2024, 1, 1))

	_, err := svc.RunBillingCycle(ctx, march)
	require.NoError(t, err)
	_, err = svc.RecordPayment(ctx, fee.NewPayment{FamilyID: fam.ID, Amount: testutil.Dec("1000"), Method: fee.MethodCard, Date: today})
	require.NoError(t, err)

	// a conflicting upsert while the store is busy
	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = fx.Store.InTx(ctx, func(_ context.Context, _ fee.Ledger) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	_, _, err = svc.UpsertAllocation(ctx, s.ID, feb)
	close(release)
	assert.ErrorIs(t, err, fee.ErrConcurrentAllocationUpdate)

	assert.Equal(t, []string{fee.MethodCard}, metrics.payments)
	assert.True(t, metrics.applied.Equal(testutil.Dec("800")))
	assert.Equal(t, map[fee.OutcomeResult]int{fee.ResultCreated: 1}, metrics.outcomes)
	assert.Equal(t, 1, metrics.runs)
	assert.Equal(t, []string{"upsert_allocation"}, metrics.conflicts)
}
