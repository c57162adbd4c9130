package dummydb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/trezcool/masomo-billing/core"
	"github.com/trezcool/masomo-billing/core/fee"
)

type (
	store struct {
		db *DB
	}

	ledgerTx struct {
		db           *DB
		allocations  map[string]fee.Allocation
		payments     map[string]fee.Payment
		applications map[string]fee.PaymentAllocation
	}
)

var (
	_ fee.Store  = (*store)(nil) // interface compliance check
	_ fee.Ledger = (*ledgerTx)(nil)
)

func NewStore(db *DB) fee.Store {
	return &store{db: db}
}

func (s *store) InTx(ctx context.Context, fn func(ctx context.Context, l fee.Ledger) error) error {
	return s.db.tx(ctx, func(t *ledgerTx) error {
		return fn(ctx, t)
	})
}

func (s *store) GetAllocation(_ context.Context, id string) (fee.Allocation, error) {
	s.db.ledger.RLock()
	defer s.db.ledger.RUnlock()

	alloc, ok := s.db.ledger.allocations[id]
	if !ok {
		return fee.Allocation{}, fee.ErrAllocationNotFound
	}
	alloc.Applications = applicationsOf(s.db.ledger.applications, func(pa fee.PaymentAllocation) bool {
		return pa.AllocationID == id
	})
	return alloc, nil
}

func (s *store) QueryFamilyAllocations(_ context.Context, familyID string, filter fee.QueryFilter, ordering []core.DBOrdering) ([]fee.Allocation, error) {
	s.db.dir.RLock()
	students := make(map[string]bool)
	for _, st := range s.db.dir.students {
		if st.FamilyID == familyID {
			students[st.ID] = true
		}
	}
	s.db.dir.RUnlock()

	s.db.ledger.RLock()
	defer s.db.ledger.RUnlock()

	allocs := make([]fee.Allocation, 0)
	for _, a := range s.db.ledger.allocations {
		if !students[a.StudentID] {
			continue
		}
		if filter.StudentID != "" && a.StudentID != filter.StudentID {
			continue
		}
		if len(filter.Statuses) > 0 && !hasStatus(filter.Statuses, a.Status) {
			continue
		}
		allocs = append(allocs, a)
	}
	sortAllocations(allocs, ordering)
	return allocs, nil
}

func (s *store) GetPayment(_ context.Context, id string) (fee.Payment, error) {
	s.db.ledger.RLock()
	defer s.db.ledger.RUnlock()

	p, ok := s.db.ledger.payments[id]
	if !ok {
		return fee.Payment{}, fee.ErrPaymentNotFound
	}
	p.Applications = applicationsOf(s.db.ledger.applications, func(pa fee.PaymentAllocation) bool {
		return pa.PaymentID == id
	})
	return p, nil
}

func (s *store) MarkOverdue(ctx context.Context, now time.Time) (int, error) {
	today := core.DateOf(now)
	var n int
	err := s.db.tx(ctx, func(t *ledgerTx) error {
		for id, a := range t.allocations {
			if a.Status == fee.StatusPending && !a.PaidAmount.IsPositive() && a.DueDate.Before(today) {
				a.Status = fee.StatusOverdue
				a.UpdatedAt = now.UTC()
				t.allocations[id] = a
				n++
			}
		}
		return nil
	})
	return n, err
}

func (s *store) SaveBillingRun(_ context.Context, report fee.Report) error {
	s.db.ledger.Lock()
	defer s.db.ledger.Unlock()

	report.Outcomes = append([]fee.StudentOutcome(nil), report.Outcomes...)
	s.db.ledger.runs[report.ID] = report
	return nil
}

func (s *store) GetBillingRun(_ context.Context, id string) (fee.Report, error) {
	s.db.ledger.RLock()
	defer s.db.ledger.RUnlock()

	report, ok := s.db.ledger.runs[id]
	if !ok {
		return fee.Report{}, fee.ErrBillingRunNotFound
	}
	report.Outcomes = append([]fee.StudentOutcome(nil), report.Outcomes...)
	return report, nil
}

// Ledger

func (t *ledgerTx) LockAllocation(_ context.Context, studentID string, period fee.Period) (fee.Allocation, error) {
	for _, a := range t.allocations {
		if a.StudentID == studentID && a.Month == period.Month && a.Year == period.Year {
			return a, nil
		}
	}
	return fee.Allocation{}, fee.ErrAllocationNotFound
}

func (t *ledgerTx) LockAllocationByID(_ context.Context, id string) (fee.Allocation, error) {
	if a, ok := t.allocations[id]; ok {
		return a, nil
	}
	return fee.Allocation{}, fee.ErrAllocationNotFound
}

func (t *ledgerTx) LockOpenAllocations(_ context.Context, familyID string) ([]fee.Allocation, error) {
	t.db.dir.RLock()
	students := make(map[string]bool)
	for _, st := range t.db.dir.students {
		if st.FamilyID == familyID {
			students[st.ID] = true
		}
	}
	t.db.dir.RUnlock()

	var open []fee.Allocation
	for _, a := range t.allocations {
		if students[a.StudentID] && a.Status != fee.StatusPaid {
			open = append(open, a)
		}
	}
	sortAllocations(open, nil)
	return open, nil
}

func (t *ledgerTx) CreateAllocation(ctx context.Context, alloc fee.Allocation) (fee.Allocation, error) {
	if _, err := t.LockAllocation(ctx, alloc.StudentID, alloc.Period()); err == nil {
		return fee.Allocation{}, fee.ErrAllocationExists
	}
	if err := checkAllocation(alloc); err != nil {
		return fee.Allocation{}, err
	}
	alloc.Applications = nil
	t.allocations[alloc.ID] = alloc
	return alloc, nil
}

func (t *ledgerTx) UpdateAllocation(_ context.Context, alloc fee.Allocation) (fee.Allocation, error) {
	if _, ok := t.allocations[alloc.ID]; !ok {
		return fee.Allocation{}, fee.ErrAllocationNotFound
	}
	if err := checkAllocation(alloc); err != nil {
		return fee.Allocation{}, err
	}
	alloc.Applications = nil
	t.allocations[alloc.ID] = alloc
	return alloc, nil
}

func (t *ledgerTx) CreatePayment(_ context.Context, p fee.Payment) (fee.Payment, error) {
	if !p.Amount.IsPositive() || p.AppliedAmount.IsNegative() || p.AppliedAmount.GreaterThan(p.Amount) {
		return fee.Payment{}, fee.ErrConcurrentAllocationUpdate
	}
	p.Applications = nil
	t.payments[p.ID] = p
	return p, nil
}

func (t *ledgerTx) CreatePaymentAllocation(_ context.Context, pa fee.PaymentAllocation) (fee.PaymentAllocation, error) {
	if !pa.Amount.IsPositive() {
		return fee.PaymentAllocation{}, fee.ErrConcurrentAllocationUpdate
	}
	for _, other := range t.applications {
		if other.PaymentID == pa.PaymentID && other.AllocationID == pa.AllocationID {
			return fee.PaymentAllocation{}, fee.ErrConcurrentAllocationUpdate
		}
	}
	t.applications[pa.ID] = pa
	return pa, nil
}

// checkAllocation mirrors the CHECK constraints of fee_allocations.
func checkAllocation(a fee.Allocation) error {
	if a.GrossAmount.IsNegative() ||
		a.DiscountAmount.IsNegative() ||
		a.DiscountAmount.GreaterThan(a.GrossAmount) ||
		!a.NetAmount.Equal(a.GrossAmount.Sub(a.DiscountAmount)) ||
		a.PaidAmount.IsNegative() ||
		a.PaidAmount.GreaterThan(a.NetAmount) ||
		!a.Status.IsValid() {
		return fee.ErrConcurrentAllocationUpdate
	}
	return nil
}

func applicationsOf(table map[string]fee.PaymentAllocation, match func(fee.PaymentAllocation) bool) []fee.PaymentAllocation {
	pas := make([]fee.PaymentAllocation, 0)
	for _, pa := range table {
		if match(pa) {
			pas = append(pas, pa)
		}
	}
	sort.Slice(pas, func(i, j int) bool {
		if !pas[i].CreatedAt.Equal(pas[j].CreatedAt) {
			return pas[i].CreatedAt.Before(pas[j].CreatedAt)
		}
		return pas[i].ID < pas[j].ID
	})
	return pas
}

func hasStatus(statuses []fee.Status, st fee.Status) bool {
	for _, s := range statuses {
		if s == st {
			return true
		}
	}
	return false
}

// sortAllocations orders allocations by ordering, oldest first (year, month, due date) by default.
func sortAllocations(allocs []fee.Allocation, ordering []core.DBOrdering) {
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{
			{Field: "year", Ascending: true},
			{Field: "month", Ascending: true},
			{Field: "due_date", Ascending: true},
		}
	}
	sort.SliceStable(allocs, func(i, j int) bool {
		for _, ord := range ordering {
			c := compareAllocations(allocs[i], allocs[j], ord.Field)
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return allocs[i].ID < allocs[j].ID
	})
}

func compareAllocations(a, b fee.Allocation, field string) int {
	switch field {
	case "year":
		return a.Year - b.Year
	case "month":
		return a.Month - b.Month
	case "due_date":
		return compareTimes(a.DueDate, b.DueDate)
	case "status":
		return strings.Compare(string(a.Status), string(b.Status))
	case "net_amount":
		return a.NetAmount.Cmp(b.NetAmount)
	case "paid_amount":
		return a.PaidAmount.Cmp(b.PaidAmount)
	case "created_at":
		return compareTimes(a.CreatedAt, b.CreatedAt)
	}
	return 0
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}
