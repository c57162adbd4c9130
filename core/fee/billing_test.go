package fee_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-billing/core/fee"
	testutil "github.com/trezcool/masomo-billing/tests"
)

func TestService_RunBillingCycle(t *testing.T) {
	e := setup(t)
	start := testutil.Date(2024, 1, 1)

	fam := e.CreateFamily("kambale", "200")
	amani := e.CreateStudent(fam.ID, "Amani")
	e.Subscribe(amani.ID, "1000", "100", start)
	baraka := e.CreateStudent(fam.ID, "Baraka")
	e.Subscribe(baraka.ID, "300", "0", start)
	e.CreateStudent(fam.ID, "Chiku") // no subscription: not billed

	orphan := e.CreateStudent(uuid.New().String(), "Dunia") // its family does not exist
	e.Subscribe(orphan.ID, "500", "0", start)

	first, err := e.svc.RunBillingCycle(ctx, march)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Total)
	assert.Equal(t, 2, first.Created)
	assert.Equal(t, 1, first.Failed)
	require.Len(t, first.Failures(), 1)
	assert.Equal(t, orphan.ID, first.Failures()[0].StudentID)
	assert.Equal(t, fee.StateFailed, first.Failures()[0].State)
	assert.Contains(t, first.Failures()[0].Reason, fee.ErrFamilyNotFound.Error())
	for _, o := range first.Outcomes {
		if o.Result == fee.ResultCreated {
			assert.Equal(t, fee.StateDone, o.State)
			assert.NotEmpty(t, o.AllocationID)
		}
	}

	allocsAfterFirst, err := e.svc.QueryFamilyAllocations(ctx, fam.ID, fee.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, allocsAfterFirst, 2)

	// re-running the same period changes nothing
	second, err := e.svc.RunBillingCycle(ctx, march)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Unchanged)
	assert.Equal(t, 0, second.Created+second.Updated)

	allocsAfterSecond, err := e.svc.QueryFamilyAllocations(ctx, fam.ID, fee.QueryFilter{})
	require.NoError(t, err)
	assert.Equal(t, allocsAfterFirst, allocsAfterSecond)

	// a paid allocation is skipped, the others are recomputed
	byStudent := make(map[string]fee.Allocation)
	for _, a := range allocsAfterSecond {
		byStudent[a.StudentID] = a
	}
	_, err = e.svc.RecordPayment(ctx, fee.NewPayment{
		FamilyID: fam.ID,
		Amount:   testutil.Dec("100"),
		Method:   fee.MethodCash,
		Date:     today,
		Targets:  []fee.PaymentTarget{{AllocationID: byStudent[amani.ID].ID, Amount: testutil.Dec("100")}},
	})
	require.NoError(t, err)
	e.Subscribe(baraka.ID, "50", "0", start)

	third, err := e.svc.RunBillingCycle(ctx, march)
	require.NoError(t, err)
	assert.Equal(t, 1, third.Skipped)
	assert.Equal(t, 1, third.Updated)
	for _, o := range third.Outcomes {
		switch o.StudentID {
		case amani.ID:
			assert.Equal(t, fee.ResultSkipped, o.Result)
		case baraka.ID:
			assert.Equal(t, fee.ResultUpdated, o.Result)
		}
	}

	// runs are stored
	stored, err := e.svc.GetBillingRun(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Period, stored.Period)
	assert.Equal(t, first.Outcomes, stored.Outcomes)

	_, err = e.svc.GetBillingRun(ctx, uuid.New().String())
	assert.ErrorIs(t, err, fee.ErrBillingRunNotFound)

	// one report per run, plus the payment receipt
	subjects := e.sentSubjects()
	assert.Equal(t, []string{"Billing run 2024-03", "Billing run 2024-03", "Payment receipt", "Billing run 2024-03"}, subjects)
	report := e.mailSvc.SentMessages()[0]
	assert.Equal(t, "ops@masomo.test", report.To[0].Address)
	require.Len(t, report.Attachments, 1)
	assert.Equal(t, "billing-run-2024-03.csv", report.Attachments[0].Filename)
	assert.Equal(t, "text/csv", report.Attachments[0].ContentType)
}

func TestService_RunBillingCycle_Cancelled(t *testing.T) {
	e := setup(t)
	for _, name := range []string{"Amani", "Baraka", "Chiku"} {
		s := e.CreateStudent("", name)
		e.Subscribe(s.ID, "100", "0", testutil.Date(2024, 1, 1))
	}

	cctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := e.svc.RunBillingCycle(cctx, march)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.Failed)
	for _, o := range report.Outcomes {
		assert.Equal(t, fee.StateFailed, o.State)
		assert.Equal(t, context.Canceled.Error(), o.Reason)
	}
}

func TestService_RunBillingCycle_InvalidPeriod(t *testing.T) {
	e := setup(t)
	_, err := e.svc.RunBillingCycle(ctx, fee.Period{Month: 0, Year: 2024})
	assert.ErrorIs(t, err, fee.ErrInvalidPeriod)
}
