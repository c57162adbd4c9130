package boiledrepos

import (
	"context"

	"github.com/pkg/errors"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/masomo-billing/core"
	"github.com/trezcool/masomo-billing/core/fee"
)

type ledger struct {
	exec core.DBExecutor
}

var _ fee.Ledger = (*ledger)(nil) // interface compliance check

func (l *ledger) LockAllocation(ctx context.Context, studentID string, period fee.Period) (fee.Allocation, error) {
	var row allocationRow
	q := `SELECT ` + allocationColumns + ` FROM fee_allocations a
	WHERE a.student_id = $1 AND a.month = $2 AND a.year = $3 FOR UPDATE`
	if err := queries.Raw(q, studentID, period.Month, period.Year).Bind(ctx, l.exec, &row); err != nil {
		return fee.Allocation{}, trapNoRowsErr(err, fee.ErrAllocationNotFound, "locking allocation")
	}
	return row.unboil(), nil
}

func (l *ledger) LockAllocationByID(ctx context.Context, id string) (fee.Allocation, error) {
	var row allocationRow
	q := `SELECT ` + allocationColumns + ` FROM fee_allocations a WHERE a.id = $1 FOR UPDATE`
	if err := queries.Raw(q, id).Bind(ctx, l.exec, &row); err != nil {
		return fee.Allocation{}, trapNoRowsErr(err, fee.ErrAllocationNotFound, "locking allocation")
	}
	return row.unboil(), nil
}

func (l *ledger) LockOpenAllocations(ctx context.Context, familyID string) ([]fee.Allocation, error) {
	var rows []allocationRow
	q := `SELECT ` + allocationColumns + ` FROM fee_allocations a JOIN students s ON s.id = a.student_id
	WHERE s.family_id = $1 AND a.status <> $2
	ORDER BY a.year, a.month, a.due_date, a.id FOR UPDATE OF a`
	if err := queries.Raw(q, familyID, fee.StatusPaid).Bind(ctx, l.exec, &rows); err != nil {
		return nil, translatePQErr(err, "locking open allocations")
	}
	return unboilAllocations(rows), nil
}

func (l *ledger) CreateAllocation(ctx context.Context, alloc fee.Allocation) (fee.Allocation, error) {
	res, err := l.exec.ExecContext(ctx,
		`INSERT INTO fee_allocations (id, student_id, month, year, gross_amount, discount_amount, net_amount,
		paid_amount, due_date, paid_date, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (student_id, month, year) DO NOTHING`,
		alloc.ID, alloc.StudentID, alloc.Month, alloc.Year, alloc.GrossAmount, alloc.DiscountAmount, alloc.NetAmount,
		alloc.PaidAmount, alloc.DueDate, nullTime(alloc.PaidDate), alloc.Status, alloc.CreatedAt.UTC(), alloc.UpdatedAt.UTC(),
	)
	if err != nil {
		return fee.Allocation{}, translatePQErr(err, "inserting allocation")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fee.Allocation{}, errors.Wrap(err, "inserting allocation")
	}
	if n == 0 {
		return fee.Allocation{}, fee.ErrAllocationExists
	}
	alloc.Applications = nil
	return alloc, nil
}

func (l *ledger) UpdateAllocation(ctx context.Context, alloc fee.Allocation) (fee.Allocation, error) {
	res, err := l.exec.ExecContext(ctx,
		`UPDATE fee_allocations SET gross_amount = $2, discount_amount = $3, net_amount = $4, paid_amount = $5,
		due_date = $6, paid_date = $7, status = $8, updated_at = $9
		WHERE id = $1`,
		alloc.ID, alloc.GrossAmount, alloc.DiscountAmount, alloc.NetAmount, alloc.PaidAmount,
		alloc.DueDate, nullTime(alloc.PaidDate), alloc.Status, alloc.UpdatedAt.UTC(),
	)
	if err != nil {
		return fee.Allocation{}, translatePQErr(err, "updating allocation")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fee.Allocation{}, errors.Wrap(err, "updating allocation")
	}
	if n == 0 {
		return fee.Allocation{}, fee.ErrAllocationNotFound
	}
	alloc.Applications = nil
	return alloc, nil
}

func (l *ledger) CreatePayment(ctx context.Context, p fee.Payment) (fee.Payment, error) {
	_, err := l.exec.ExecContext(ctx,
		`INSERT INTO payments (id, family_id, amount, method, reference, payment_date, applied_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.FamilyID, p.Amount, p.Method, nullString(p.Reference), p.PaymentDate, p.AppliedAmount, p.CreatedAt.UTC(),
	)
	if err != nil {
		return fee.Payment{}, translatePQErr(err, "inserting payment")
	}
	p.Applications = nil
	return p, nil
}

func (l *ledger) CreatePaymentAllocation(ctx context.Context, pa fee.PaymentAllocation) (fee.PaymentAllocation, error) {
	_, err := l.exec.ExecContext(ctx,
		`INSERT INTO payment_allocations (id, payment_id, allocation_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		pa.ID, pa.PaymentID, pa.AllocationID, pa.Amount, pa.CreatedAt.UTC(),
	)
	if err != nil {
		return fee.PaymentAllocation{}, translatePQErr(err, "inserting payment allocation")
	}
	return pa, nil
}
