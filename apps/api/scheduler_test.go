package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-billing/core/fee"
	testutil "github.com/trezcool/masomo-billing/tests"
)

func newTestService(t *testing.T, fx *testutil.Fixture) fee.Service {
	conf := testutil.NewConfig()
	validate, translator := testutil.NewValidator()
	return fee.NewService(fee.ServiceDeps{
		Store:      fx.Store,
		Directory:  fx.Dir,
		Validate:   validate,
		Translator: translator,
		Logger:     testutil.Logger{T: t},
		Conf:       conf,
	})
}

func TestNewScheduler(t *testing.T) {
	tests := []struct {
		name           string
		schedule       string
		refreshOverdue string
		wantErr        bool
	}{
		{name: "defaults", schedule: "0 2 1 * *", refreshOverdue: "30 2 * * *"},
		{name: "descriptors", schedule: "@monthly", refreshOverdue: "@daily"},
		{name: "invalid billing schedule", schedule: "every month", refreshOverdue: "@daily", wantErr: true},
		{name: "invalid refresh schedule", schedule: "@monthly", refreshOverdue: "0 99 * * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := testutil.NewConfig()
			conf.Billing.Schedule = tt.schedule
			conf.Billing.RefreshOverdueSchedule = tt.refreshOverdue

			c, err := newScheduler(conf, newTestService(t, testutil.NewFixture(t)), testutil.Logger{T: t})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, c.Entries(), 2)
		})
	}
}

func TestBillingRunJob(t *testing.T) {
	fx := testutil.NewFixture(t)
	fam := fx.CreateFamily("kamau", "0")
	st := fx.CreateStudent(fam.ID, "amani")
	fx.Subscribe(st.ID, "1000", "0", testutil.Date(2024, 1, 1))
	svc := newTestService(t, fx)

	billingRunJob(svc, testutil.Logger{T: t})()

	allocs, err := svc.QueryFamilyAllocations(context.Background(), fam.ID, fee.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, fee.PeriodOf(fee.Today()), allocs[0].Period())
	assert.True(t, testutil.Dec("1000").Equal(allocs[0].NetAmount))

	// a second tick in the same month leaves the allocation as it is
	billingRunJob(svc, testutil.Logger{T: t})()
	allocs, err = svc.QueryFamilyAllocations(context.Background(), fam.ID, fee.QueryFilter{})
	require.NoError(t, err)
	assert.Len(t, allocs, 1)
}

func TestRefreshOverdueJob(t *testing.T) {
	fx := testutil.NewFixture(t)
	fam := fx.CreateFamily("kamau", "0")
	st := fx.CreateStudent(fam.ID, "amani")
	fx.Subscribe(st.ID, "1000", "0", testutil.Date(2024, 1, 1))
	svc := newTestService(t, fx)

	_, _, err := svc.UpsertAllocation(context.Background(), st.ID, fee.Period{Month: 1, Year: 2024})
	require.NoError(t, err)

	refreshOverdueJob(svc, testutil.Logger{T: t})()

	allocs, err := svc.QueryFamilyAllocations(context.Background(), fam.ID, fee.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, fee.StatusOverdue, allocs[0].Status)
}
