package fee

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-billing/core"
)

var nowFunc = time.Now // mockable

// AllocationStore creates and recomputes monthly allocations.
type AllocationStore struct {
	store Store
}

func NewAllocationStore(store Store) *AllocationStore {
	return &AllocationStore{store: store}
}

// Upsert persists calc as the student's allocation for period:
//   - no allocation yet: it is created (PENDING, or OVERDUE when already past due);
//   - allocation without payment: its amounts and due date are overwritten;
//   - allocation with payments applied (PARTIAL/PAID): ErrAllocationLocked, the row is left untouched.
// Re-running Upsert with the same values writes nothing and returns UpsertUnchanged.
func (s *AllocationStore) Upsert(ctx context.Context, studentID string, period Period, calc Calculation, dueDate time.Time) (Allocation, UpsertResult, error) {
	var (
		alloc  Allocation
		result UpsertResult
	)
	dueDate = core.DateOf(dueDate)

	err := s.store.InTx(ctx, func(ctx context.Context, l Ledger) error {
		var err error
		alloc, err = l.LockAllocation(ctx, studentID, period)
		switch {
		case errors.Is(err, ErrAllocationNotFound):
			alloc, err = l.CreateAllocation(ctx, newAllocation(studentID, period, calc, dueDate))
			if err == nil {
				result = UpsertCreated
				return nil
			}
			if !errors.Is(err, ErrAllocationExists) {
				return errors.Wrap(err, "creating allocation")
			}
			// created concurrently: lock it and update it instead
			if alloc, err = l.LockAllocation(ctx, studentID, period); err != nil {
				return errors.Wrap(err, "locking allocation")
			}
		case err != nil:
			return errors.Wrap(err, "locking allocation")
		}

		if alloc.IsLocked() {
			return ErrAllocationLocked
		}
		if alloc.matches(calc, dueDate) {
			result = UpsertUnchanged
			return nil
		}

		alloc.GrossAmount = calc.GrossAmount
		alloc.DiscountAmount = calc.DiscountAmount
		alloc.NetAmount = calc.NetAmount
		alloc.DueDate = dueDate
		alloc.Status, alloc.PaidDate = Recompute(alloc, decimal.Zero, time.Time{}, nowFunc())
		alloc.UpdatedAt = nowFunc().UTC()
		if alloc, err = l.UpdateAllocation(ctx, alloc); err != nil {
			return errors.Wrap(err, "updating allocation")
		}
		result = UpsertUpdated
		return nil
	})
	if err != nil {
		return Allocation{}, "", err
	}
	return alloc, result, nil
}

func newAllocation(studentID string, period Period, calc Calculation, dueDate time.Time) Allocation {
	now := nowFunc().UTC()
	alloc := Allocation{
		ID:             uuid.New().String(),
		StudentID:      studentID,
		Month:          period.Month,
		Year:           period.Year,
		GrossAmount:    calc.GrossAmount,
		DiscountAmount: calc.DiscountAmount,
		NetAmount:      calc.NetAmount,
		PaidAmount:     decimal.Zero,
		DueDate:        dueDate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	alloc.Status, alloc.PaidDate = Recompute(alloc, decimal.Zero, time.Time{}, now)
	return alloc
}

// Recompute derives the status of alloc once paidSum has been applied to it:
//   - net == 0 (fully discounted): PAID on now's date, nothing is owed;
//   - paidSum == 0: PENDING, or OVERDUE if today is past the due date;
//   - 0 < paidSum < net: PARTIAL (past due partial payments stay PARTIAL);
//   - paidSum >= net: PAID, paid on crossingDate (the date of the payment crossing the net amount)
//     unless alloc was already paid.
// It must run in the same transaction as the payment application it accounts for.
func Recompute(alloc Allocation, paidSum decimal.Decimal, crossingDate, now time.Time) (Status, *time.Time) {
	switch {
	case !alloc.NetAmount.IsPositive() && !paidSum.IsPositive():
		if alloc.PaidDate != nil {
			return StatusPaid, alloc.PaidDate
		}
		paidDate := core.DateOf(now)
		return StatusPaid, &paidDate
	case !paidSum.IsPositive():
		if core.DateOf(now).After(core.DateOf(alloc.DueDate)) {
			return StatusOverdue, nil
		}
		return StatusPending, nil
	case paidSum.LessThan(alloc.NetAmount):
		return StatusPartial, nil
	default:
		if alloc.PaidDate != nil {
			return StatusPaid, alloc.PaidDate
		}
		paidDate := core.DateOf(crossingDate)
		return StatusPaid, &paidDate
	}
}

// RefreshOverdue flags the PENDING allocations past their due date on now as OVERDUE.
func (s *AllocationStore) RefreshOverdue(ctx context.Context, now time.Time) (int, error) {
	n, err := s.store.MarkOverdue(ctx, now)
	if err != nil {
		return 0, errors.Wrap(err, "marking overdue allocations")
	}
	return n, nil
}
