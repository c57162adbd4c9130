package fee

import (
	"context"
	"time"

	"github.com/trezcool/masomo-billing/core"
)

// AllocationOrderingFields are the fields allocations can be ordered by.
var AllocationOrderingFields = []string{"year", "month", "due_date", "status", "net_amount", "paid_amount", "created_at"}

type (
	// Directory is the read-only view on students, families and their subscriptions.
	Directory interface {
		GetStudent(ctx context.Context, id string) (Student, error)
		GetFamily(ctx context.Context, id string) (Family, error)
		// GetActiveSubscriptions returns the student's subscriptions active on period.Start(),
		// each with its UnitAmount. ErrStudentNotFound if the student does not exist.
		GetActiveSubscriptions(ctx context.Context, studentID string, period Period) ([]Subscription, error)
		// GetActiveSiblingCount counts the family's active students having at least one subscription
		// active during the period.
		GetActiveSiblingCount(ctx context.Context, familyID string, period Period) (int, error)
		// ListActiveStudents returns the active students having at least one subscription active during the period.
		ListActiveStudents(ctx context.Context, period Period) ([]Student, error)
	}

	// Ledger gives access to allocations and payments inside a transaction.
	// Lock* methods hold row locks until the transaction ends.
	Ledger interface {
		LockAllocation(ctx context.Context, studentID string, period Period) (Allocation, error)
		LockAllocationByID(ctx context.Context, id string) (Allocation, error)
		// LockOpenAllocations locks the non-PAID allocations of the family's students,
		// oldest first: (year, month, due date).
		LockOpenAllocations(ctx context.Context, familyID string) ([]Allocation, error)
		// CreateAllocation returns ErrAllocationExists if the (student, month, year) row already exists.
		CreateAllocation(ctx context.Context, alloc Allocation) (Allocation, error)
		UpdateAllocation(ctx context.Context, alloc Allocation) (Allocation, error)
		// CreatePayment inserts the payment with its AppliedAmount; its applications are created separately.
		CreatePayment(ctx context.Context, p Payment) (Payment, error)
		CreatePaymentAllocation(ctx context.Context, pa PaymentAllocation) (PaymentAllocation, error)
	}

	// Store persists allocations, payments and billing runs.
	Store interface {
		// InTx runs fn in a single transaction: committed if fn returns nil, rolled back otherwise.
		// Lock timeouts and serialization failures are reported as ErrConcurrentAllocationUpdate.
		InTx(ctx context.Context, fn func(ctx context.Context, l Ledger) error) error

		GetAllocation(ctx context.Context, id string) (Allocation, error)
		// QueryFamilyAllocations lists the allocations of the family's students.
		// Orderings on fields other than AllocationOrderingFields are ignored; default is oldest first.
		QueryFamilyAllocations(ctx context.Context, familyID string, filter QueryFilter, ordering []core.DBOrdering) ([]Allocation, error)
		GetPayment(ctx context.Context, id string) (Payment, error)
		// MarkOverdue flags the unpaid PENDING allocations due before now's date as OVERDUE,
		// stamping them as updated at now.
		MarkOverdue(ctx context.Context, now time.Time) (int, error)

		SaveBillingRun(ctx context.Context, report Report) error
		GetBillingRun(ctx context.Context, id string) (Report, error)
	}
)
