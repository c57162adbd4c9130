package fee_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-billing/core/fee"
	testutil "github.com/trezcool/masomo-billing/tests"
)

func TestService_UpsertAllocation(t *testing.T) {
	e := setup(t)
	fam := e.CreateFamily("kambale", "200")
	amani := e.CreateStudent(fam.ID, "Amani")
	sub := e.Subscribe(amani.ID, "1000", "100", testutil.Date(2024, 1, 1))
	baraka := e.CreateStudent(fam.ID, "Baraka")
	barakaSub := e.Subscribe(baraka.ID, "300", "0", testutil.Date(2024, 1, 1))

	// created
	alloc, result, err := e.svc.UpsertAllocation(ctx, amani.ID, march)
	require.NoError(t, err)
	assert.Equal(t, fee.UpsertCreated, result)
	assert.Equal(t, fee.StatusPending, alloc.Status)
	assert.True(t, alloc.GrossAmount.Equal(testutil.Dec("1000")))
	assert.True(t, alloc.DiscountAmount.Equal(testutil.Dec("200")))
	assert.True(t, alloc.NetAmount.Equal(testutil.Dec("800")))
	assert.True(t, alloc.PaidAmount.IsZero())
	assert.True(t, testutil.Date(2024, 3, 10).Equal(alloc.DueDate))
	assert.Nil(t, alloc.PaidDate)

	// same values: no write
	again, result, err := e.svc.UpsertAllocation(ctx, amani.ID, march)
	require.NoError(t, err)
	assert.Equal(t, fee.UpsertUnchanged, result)
	assert.Equal(t, alloc.ID, again.ID)
	assert.True(t, alloc.UpdatedAt.Equal(again.UpdatedAt))

	// the sibling leaves: the family share is no longer divided
	e.DB.EndSubscription(barakaSub.ID, testutil.Date(2024, 2, 1))
	updated, result, err := e.svc.UpsertAllocation(ctx, amani.ID, march)
	require.NoError(t, err)
	assert.Equal(t, fee.UpsertUpdated, result)
	assert.Equal(t, alloc.ID, updated.ID)
	assert.True(t, updated.DiscountAmount.Equal(testutil.Dec("300")))
	assert.True(t, updated.NetAmount.Equal(testutil.Dec("700")))
	assert.Equal(t, fee.StatusPending, updated.Status)

	// past due on creation
	overdue, result, err := e.svc.UpsertAllocation(ctx, amani.ID, jan)
	require.NoError(t, err)
	assert.Equal(t, fee.UpsertCreated, result)
	assert.Equal(t, fee.StatusOverdue, overdue.Status)

	// the subscription ends: the allocation is recomputed down to 0, nothing is owed
	e.DB.EndSubscription(sub.ID, testutil.Date(2024, 2, 1))
	zero, result, err := e.svc.UpsertAllocation(ctx, amani.ID, march)
	require.NoError(t, err)
	assert.Equal(t, fee.UpsertUpdated, result)
	assert.True(t, zero.NetAmount.IsZero())
	assert.Equal(t, fee.StatusPaid, zero.Status)
	require.NotNil(t, zero.PaidDate)
	assert.True(t, today.Equal(*zero.PaidDate))

	// a new subscription: the allocation is owed again
	e.Subscribe(amani.ID, "500", "0", testutil.Date(2024, 1, 1))
	owed, result, err := e.svc.UpsertAllocation(ctx, amani.ID, march)
	require.NoError(t, err)
	assert.Equal(t, fee.UpsertUpdated, result)
	assert.True(t, owed.NetAmount.Equal(testutil.Dec("300")))
	assert.Equal(t, fee.StatusPending, owed.Status)
	assert.Nil(t, owed.PaidDate)

	_, _, err = e.svc.UpsertAllocation(ctx, "unknown", march)
	assert.True(t, errors.Is(err, fee.ErrStudentNotFound))
}

func TestService_UpsertAllocation_NothingOwed(t *testing.T) {
	e := setup(t)
	fam := e.CreateFamily("kambale", "0")
	s := e.CreateStudent(fam.ID, "Amani")
	e.Subscribe(s.ID, "100", "100", testutil.Date(2024, 1, 1))

	// past due, yet never overdue
	alloc, result, err := e.svc.UpsertAllocation(ctx, s.ID, jan)
	require.NoError(t, err)
	assert.Equal(t, fee.UpsertCreated, result)
	assert.True(t, alloc.NetAmount.IsZero())
	assert.Equal(t, fee.StatusPaid, alloc.Status)
	require.NotNil(t, alloc.PaidDate)
	assert.True(t, today.Equal(*alloc.PaidDate))

	n, err := e.svc.RefreshOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	again, result, err := e.svc.UpsertAllocation(ctx, s.ID, jan)
	require.NoError(t, err)
	assert.Equal(t, fee.UpsertUnchanged, result)
	assert.Equal(t, fee.StatusPaid, again.Status)

	open, err := e.svc.QueryFamilyAllocations(ctx, fam.ID, fee.QueryFilter{Statuses: []fee.Status{fee.StatusPending, fee.StatusOverdue}})
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestService_UpsertAllocation_Locked(t *testing.T) {
	e := setup(t)
	fam := e.CreateFamily("kambale", "0")
	amani := e.CreateStudent(fam.ID, "Amani")
	e.Subscribe(amani.ID, "800", "0", testutil.Date(2024, 1, 1))

	alloc, _, err := e.svc.UpsertAllocation(ctx, amani.ID, march)
	require.NoError(t, err)
	_, err = e.svc.RecordPayment(ctx, fee.NewPayment{
		FamilyID: fam.ID,
		Amount:   testutil.Dec("500"),
		Method:   fee.MethodCash,
		Date:     today,
		Targets:  []fee.PaymentTarget{{AllocationID: alloc.ID, Amount: testutil.Dec("500")}},
	})
	require.NoError(t, err)
	before, err := e.svc.GetAllocation(ctx, alloc.ID)
	require.NoError(t, err)
	require.Equal(t, fee.StatusPartial, before.Status)

	// fee structure change after the payment
	e.Subscribe(amani.ID, "100", "0", testutil.Date(2024, 2, 1))
	_, _, err = e.svc.UpsertAllocation(ctx, amani.ID, march)
	assert.True(t, errors.Is(err, fee.ErrAllocationLocked), "UpsertAllocation() error = %v, want %v", err, fee.ErrAllocationLocked)

	after, err := e.svc.GetAllocation(ctx, alloc.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestService_UpsertAllocation_Concurrent(t *testing.T) {
	e := setup(t)
	s := e.CreateStudent("", "Amani")
	e.Subscribe(s.ID, "800", "0", testutil.Date(2024, 1, 1))

	const n = 8
	var wg sync.WaitGroup
	results := make([]fee.UpsertResult, n)
	ids := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var alloc fee.Allocation
			alloc, results[i], errs[i] = e.svc.UpsertAllocation(context.Background(), s.ID, march)
			ids[i] = alloc.ID
		}(i)
	}
	wg.Wait()

	var created int
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
		if results[i] == fee.UpsertCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)
}

func TestService_RefreshOverdue(t *testing.T) {
	e := setup(t)
	fam := e.CreateFamily("kambale", "0")
	s := e.CreateStudent(fam.ID, "Amani")
	e.Subscribe(s.ID, "800", "0", testutil.Date(2024, 1, 1))

	alloc, _, err := e.svc.UpsertAllocation(ctx, s.ID, march)
	require.NoError(t, err)
	require.Equal(t, fee.StatusPending, alloc.Status)

	n, err := e.svc.RefreshOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// the day after the due date
	later := testutil.Date(2024, 3, 11).Add(2*time.Hour + 30*time.Minute)
	reset := fee.SetNowFunc(func() time.Time { return later })
	defer reset()
	n, err = e.svc.RefreshOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := e.svc.GetAllocation(ctx, alloc.ID)
	require.NoError(t, err)
	assert.Equal(t, fee.StatusOverdue, got.Status)
	assert.True(t, later.Equal(got.UpdatedAt), "UpdatedAt = %v, want %v", got.UpdatedAt, later)

	n, err = e.svc.RefreshOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
