package dummydb

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-billing/core/fee"
)

const defaultLockTimeout = 5 * time.Second

type (
	// DB is an in-memory stand-in for the billing database.
	// Transactions are serialised: a transaction waiting longer than the lock timeout
	// fails with fee.ErrConcurrentAllocationUpdate, like a Postgres lock_timeout.
	DB struct {
		dir    *directoryTables
		ledger *ledgerTables

		txSem       chan struct{}
		lockTimeout time.Duration
	}

	// FeeStructure prices a course or a service.
	FeeStructure struct {
		CourseID   string
		ServiceID  string
		UnitAmount decimal.Decimal
	}

	directoryTables struct {
		sync.RWMutex
		families      map[string]*fee.Family
		students      map[string]*fee.Student
		feeStructures []FeeStructure
		subscriptions map[string]*fee.Subscription
	}

	ledgerTables struct {
		sync.RWMutex
		allocations  map[string]fee.Allocation
		payments     map[string]fee.Payment
		applications map[string]fee.PaymentAllocation
		runs         map[string]fee.Report
	}
)

func Open(lockTimeout ...time.Duration) (*DB, error) {
	timeout := defaultLockTimeout
	if len(lockTimeout) > 0 && lockTimeout[0] > 0 {
		timeout = lockTimeout[0]
	}
	db := &DB{
		dir: &directoryTables{
			families:      make(map[string]*fee.Family),
			students:      make(map[string]*fee.Student),
			subscriptions: make(map[string]*fee.Subscription),
		},
		ledger: &ledgerTables{
			allocations:  make(map[string]fee.Allocation),
			payments:     make(map[string]fee.Payment),
			applications: make(map[string]fee.PaymentAllocation),
			runs:         make(map[string]fee.Report),
		},
		txSem:       make(chan struct{}, 1),
		lockTimeout: timeout,
	}
	return db, nil
}

// AddFamily, AddStudent, AddFeeStructure and AddSubscription seed the directory.

func (db *DB) AddFamily(f fee.Family) {
	db.dir.Lock()
	defer db.dir.Unlock()
	db.dir.families[f.ID] = &f
}

func (db *DB) AddStudent(s fee.Student) {
	db.dir.Lock()
	defer db.dir.Unlock()
	db.dir.students[s.ID] = &s
}

func (db *DB) AddFeeStructure(fs FeeStructure) {
	db.dir.Lock()
	defer db.dir.Unlock()
	db.dir.feeStructures = append(db.dir.feeStructures, fs)
}

// AddSubscription stores sub; its UnitAmount is ignored and resolved from the fee structures.
func (db *DB) AddSubscription(sub fee.Subscription) {
	db.dir.Lock()
	defer db.dir.Unlock()
	sub.UnitAmount = decimal.Zero
	db.dir.subscriptions[sub.ID] = &sub
}

// EndSubscription sets the end date of a subscription.
func (db *DB) EndSubscription(id string, end time.Time) {
	db.dir.Lock()
	defer db.dir.Unlock()
	if sub, ok := db.dir.subscriptions[id]; ok {
		sub.EndDate = &end
	}
}

// tx runs fn on a copy of the ledger, swapped in when fn succeeds.
func (db *DB) tx(ctx context.Context, fn func(t *ledgerTx) error) error {
	timer := time.NewTimer(db.lockTimeout)
	defer timer.Stop()
	select {
	case db.txSem <- struct{}{}:
	case <-timer.C:
		return fee.ErrConcurrentAllocationUpdate
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-db.txSem }()

	db.ledger.RLock()
	t := &ledgerTx{
		db:           db,
		allocations:  make(map[string]fee.Allocation, len(db.ledger.allocations)),
		payments:     make(map[string]fee.Payment, len(db.ledger.payments)),
		applications: make(map[string]fee.PaymentAllocation, len(db.ledger.applications)),
	}
	for k, v := range db.ledger.allocations {
		t.allocations[k] = v
	}
	for k, v := range db.ledger.payments {
		t.payments[k] = v
	}
	for k, v := range db.ledger.applications {
		t.applications[k] = v
	}
	db.ledger.RUnlock()

	if err := fn(t); err != nil {
		return err
	}

	db.ledger.Lock()
	db.ledger.allocations = t.allocations
	db.ledger.payments = t.payments
	db.ledger.applications = t.applications
	db.ledger.Unlock()
	return nil
}

// unitAmount returns the price of the subscribed course or service. ok is false when unpriced.
// The caller holds the directory lock.
func (t *directoryTables) unitAmount(sub fee.Subscription) (decimal.Decimal, bool) {
	for _, fs := range t.feeStructures {
		if (sub.CourseID != "" && fs.CourseID == sub.CourseID) || (sub.ServiceID != "" && fs.ServiceID == sub.ServiceID) {
			return fs.UnitAmount, true
		}
	}
	return decimal.Zero, false
}

// billableSubscriptions returns the priced subscriptions of the student active on the first day of period.
// The caller holds the directory lock.
func (t *directoryTables) billableSubscriptions(studentID string, period fee.Period) []fee.Subscription {
	start := period.Start()
	var subs []fee.Subscription
	for _, sub := range t.subscriptions {
		if sub.StudentID != studentID || !sub.ActiveAt(start) {
			continue
		}
		unit, ok := t.unitAmount(*sub)
		if !ok {
			continue
		}
		s := *sub
		s.UnitAmount = unit
		subs = append(subs, s)
	}
	return subs
}
