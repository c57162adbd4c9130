package fee

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// racedLedger sees no allocation on the first lock, loses the insert race,
// then finds the row created by the concurrent transaction.
type racedLedger struct {
	Ledger // unused methods panic

	concurrent Allocation
	relockErr  error

	locks   int
	creates int
	updated []Allocation
}

func (l *racedLedger) LockAllocation(_ context.Context, _ string, _ Period) (Allocation, error) {
	l.locks++
	if l.locks == 1 {
		return Allocation{}, ErrAllocationNotFound
	}
	if l.relockErr != nil {
		return Allocation{}, l.relockErr
	}
	return l.concurrent, nil
}

func (l *racedLedger) CreateAllocation(_ context.Context, _ Allocation) (Allocation, error) {
	l.creates++
	return Allocation{}, errors.Wrap(ErrAllocationExists, "inserting allocation")
}

func (l *racedLedger) UpdateAllocation(_ context.Context, alloc Allocation) (Allocation, error) {
	l.updated = append(l.updated, alloc)
	return alloc, nil
}

type ledgerStore struct {
	Store // unused methods panic
	ledger Ledger
}

func (s ledgerStore) InTx(ctx context.Context, fn func(ctx context.Context, l Ledger) error) error {
	return fn(ctx, s.ledger)
}

func TestAllocationStore_Upsert_ConcurrentCreate(t *testing.T) {
	reset := SetNowFunc(func() time.Time { return date(2024, 3, 5).Add(9 * time.Hour) })
	defer reset()

	period := Period{Month: 3, Year: 2024}
	due := date(2024, 3, 10)
	calc := Calculation{
		StudentID:      "s1",
		Period:         period,
		GrossAmount:    dec("1000"),
		DiscountAmount: dec("200"),
		NetAmount:      dec("800"),
	}
	concurrent := func(net string, status Status, paid string) Allocation {
		gross := dec(net).Add(dec("200"))
		return Allocation{
			ID:             "a1",
			StudentID:      "s1",
			Month:          3,
			Year:           2024,
			GrossAmount:    gross,
			DiscountAmount: dec("200"),
			NetAmount:      dec(net),
			PaidAmount:     dec(paid),
			DueDate:        due,
			Status:         status,
		}
	}

	tests := []struct {
		name        string
		ledger      *racedLedger
		wantResult  UpsertResult
		wantErr     error
		wantUpdates int
	}{
		{
			name:       "same values",
			ledger:     &racedLedger{concurrent: concurrent("800", StatusPending, "0")},
			wantResult: UpsertUnchanged,
		},
		{
			name:        "other values",
			ledger:      &racedLedger{concurrent: concurrent("700", StatusPending, "0")},
			wantResult:  UpsertUpdated,
			wantUpdates: 1,
		},
		{
			name:    "already paid into",
			ledger:  &racedLedger{concurrent: concurrent("800", StatusPartial, "300")},
			wantErr: ErrAllocationLocked,
		},
		{
			name:    "lock timeout on the second lock",
			ledger:  &racedLedger{relockErr: ErrConcurrentAllocationUpdate},
			wantErr: ErrConcurrentAllocationUpdate,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewAllocationStore(ledgerStore{ledger: tt.ledger})

			alloc, result, err := s.Upsert(context.Background(), "s1", period, calc, due)
			assert.Equal(t, 2, tt.ledger.locks)
			assert.Equal(t, 1, tt.ledger.creates)
			assert.Len(t, tt.ledger.updated, tt.wantUpdates)

			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "Upsert() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantResult, result)
			assert.Equal(t, "a1", alloc.ID)
			assert.True(t, alloc.NetAmount.Equal(dec("800")))
			assert.Equal(t, StatusPending, alloc.Status)
		})
	}
}
