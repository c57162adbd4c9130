package boiledrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/masomo-billing/core"
	"github.com/trezcool/masomo-billing/core/fee"
)

// postgres error codes reported as fee.ErrConcurrentAllocationUpdate
const (
	pqLockNotAvailable     = "55P03"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqCheckViolation       = "23514"
	pqUniqueViolation      = "23505"
)

const pqClassInternalError = "XX"

type store struct {
	db          core.DB
	lockTimeout time.Duration
}

var _ fee.Store = (*store)(nil) // interface compliance check

// NewStore returns a fee.Store backed by postgres.
// Row locks taken inside InTx wait at most lockTimeout.
func NewStore(db core.DB, lockTimeout time.Duration) fee.Store {
	return &store{db: db, lockTimeout: lockTimeout}
}

func (s *store) InTx(ctx context.Context, fn func(ctx context.Context, l fee.Ledger) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translatePQErr(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.lockTimeout > 0 {
		if _, err = tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", s.lockTimeout.Milliseconds())); err != nil {
			return errors.Wrap(err, "setting lock timeout")
		}
	}

	if err = fn(ctx, &ledger{exec: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return translatePQErr(err, "committing transaction")
	}
	return nil
}

func (s *store) GetAllocation(ctx context.Context, id string) (fee.Allocation, error) {
	var row allocationRow
	q := `SELECT ` + allocationColumns + ` FROM fee_allocations a WHERE a.id = $1`
	if err := queries.Raw(q, id).Bind(ctx, s.db, &row); err != nil {
		return fee.Allocation{}, trapNoRowsErr(err, fee.ErrAllocationNotFound, "getting allocation")
	}

	var apps []paymentAllocationRow
	q = `SELECT ` + paymentAllocationColumns + ` FROM payment_allocations WHERE allocation_id = $1 ORDER BY created_at, id`
	if err := queries.Raw(q, id).Bind(ctx, s.db, &apps); err != nil {
		return fee.Allocation{}, errors.Wrap(err, "getting allocation payments")
	}

	alloc := row.unboil()
	alloc.Applications = unboilPaymentAllocations(apps)
	return alloc, nil
}

func (s *store) QueryFamilyAllocations(ctx context.Context, familyID string, filter fee.QueryFilter, ordering []core.DBOrdering) ([]fee.Allocation, error) {
	where := []string{"s.family_id = $1"}
	args := []interface{}{familyID}

	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		where = append(where, fmt.Sprintf("a.student_id = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		args = append(args, pq.Array(statuses))
		where = append(where, fmt.Sprintf("a.status = ANY($%d)", len(args)))
	}

	q := `SELECT ` + allocationColumns + ` FROM fee_allocations a JOIN students s ON s.id = a.student_id
	WHERE ` + strings.Join(where, " AND ") + ` ORDER BY ` + orderBy(ordering)

	var rows []allocationRow
	if err := queries.Raw(q, args...).Bind(ctx, s.db, &rows); err != nil {
		return nil, errors.Wrap(err, "querying family allocations")
	}
	return unboilAllocations(rows), nil
}

func (s *store) GetPayment(ctx context.Context, id string) (fee.Payment, error) {
	var row paymentRow
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	if err := queries.Raw(q, id).Bind(ctx, s.db, &row); err != nil {
		return fee.Payment{}, trapNoRowsErr(err, fee.ErrPaymentNotFound, "getting payment")
	}

	var apps []paymentAllocationRow
	q = `SELECT ` + paymentAllocationColumns + ` FROM payment_allocations WHERE payment_id = $1 ORDER BY created_at, id`
	if err := queries.Raw(q, id).Bind(ctx, s.db, &apps); err != nil {
		return fee.Payment{}, errors.Wrap(err, "getting payment allocations")
	}

	p := row.unboil()
	p.Applications = unboilPaymentAllocations(apps)
	return p, nil
}

func (s *store) MarkOverdue(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE fee_allocations SET status = $1, updated_at = $2
		WHERE status = $3 AND paid_amount = 0 AND due_date < $4`,
		fee.StatusOverdue, now.UTC(), fee.StatusPending, core.DateOf(now),
	)
	if err != nil {
		return 0, translatePQErr(err, "marking overdue allocations")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "marking overdue allocations")
	}
	return int(n), nil
}

// orderBy builds the ORDER BY clause, ignoring unknown fields. The id tie-break keeps listings stable.
func orderBy(ordering []core.DBOrdering) string {
	clauses := make([]string, 0, len(ordering)+1)
	for _, ord := range ordering {
		if !isOrderingField(ord.Field) {
			continue
		}
		clauses = append(clauses, "a."+ord.String())
	}
	if len(clauses) == 0 {
		clauses = append(clauses, "a.year ASC", "a.month ASC", "a.due_date ASC")
	}
	return strings.Join(append(clauses, "a.id ASC"), ", ")
}

func isOrderingField(field string) bool {
	for _, f := range fee.AllocationOrderingFields {
		if f == field {
			return true
		}
	}
	return false
}

// trapNoRowsErr maps psql "no rows" err to notFound
func trapNoRowsErr(err, notFound error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) || errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return translatePQErr(err, msg)
}

// translatePQErr maps lock timeouts, serialization failures, deadlocks and
// constraint violations on the ledger tables to fee.ErrConcurrentAllocationUpdate.
// Internal errors (class XX: data or index corruption) require a shutdown.
func translatePQErr(err error, msg string) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		if e, ok := errors.Cause(err).(*pq.Error); ok {
			pqErr = e
		}
	}
	if pqErr != nil {
		switch pqErr.Code {
		case pqLockNotAvailable, pqSerializationFailure, pqDeadlockDetected, pqCheckViolation, pqUniqueViolation:
			return errors.Wrap(fee.ErrConcurrentAllocationUpdate, pqErr.Message)
		}
		if pqErr.Code.Class() == pqClassInternalError {
			return core.NewShutdownError(msg + ": " + pqErr.Message)
		}
	}
	return errors.Wrap(err, msg)
}
