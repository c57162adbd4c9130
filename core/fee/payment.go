package fee

import (
	"context"
	"strconv"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-billing/core"
)

// PaymentRecorder records family payments and applies them to allocations.
type PaymentRecorder struct {
	store      Store
	dir        Directory
	validate   *validator.Validate
	translator ut.Translator
}

func NewPaymentRecorder(store Store, dir Directory, validate *validator.Validate, translator ut.Translator) *PaymentRecorder {
	return &PaymentRecorder{
		store:      store,
		dir:        dir,
		validate:   validate,
		translator: translator,
	}
}

// application is a planned PaymentAllocation.
type application struct {
	alloc  Allocation
	amount decimal.Decimal
}

// RecordPayment validates np, then, in a single transaction: inserts the payment, applies it to the
// requested allocations (or to the family's oldest open allocations when np has no targets) and
// recomputes their status. Any amount left over is kept on the payment as unapplied credit.
func (r *PaymentRecorder) RecordPayment(ctx context.Context, np NewPayment) (Payment, error) {
	np.Clean()
	if err := r.validatePayment(np); err != nil {
		return Payment{}, err
	}

	if _, err := r.dir.GetFamily(ctx, np.FamilyID); err != nil {
		return Payment{}, errors.Wrap(err, "getting family")
	}
	if len(np.Targets) > 0 {
		if err := r.checkTargets(ctx, np); err != nil {
			return Payment{}, err
		}
	}

	var payment Payment
	err := r.store.InTx(ctx, func(ctx context.Context, l Ledger) error {
		var (
			plan []application
			err  error
		)
		if len(np.Targets) > 0 {
			plan, err = r.planTargets(ctx, l, np)
		} else {
			plan, err = r.planAutoApply(ctx, l, np)
		}
		if err != nil {
			return err
		}
		payment, err = r.apply(ctx, l, np, plan)
		return err
	})
	if err != nil {
		return Payment{}, err
	}
	return payment, nil
}

func (r *PaymentRecorder) validatePayment(np NewPayment) error {
	if err := r.validate.Struct(np); err != nil {
		return translateValidationErrors(err, r.translator)
	}
	return nil
}

// checkTargets verifies, before locking anything, that every target exists, belongs to the family
// and can take its amount. The same checks are repeated under lock.
func (r *PaymentRecorder) checkTargets(ctx context.Context, np NewPayment) error {
	var flds []core.FieldError
	var cause error
	for i, tgt := range np.Targets {
		alloc, err := r.store.GetAllocation(ctx, tgt.AllocationID)
		if err != nil {
			if !errors.Is(err, ErrAllocationNotFound) {
				return errors.Wrap(err, "getting allocation")
			}
			cause = ErrAllocationNotFound
			flds = append(flds, core.FieldError{Field: targetField(i, "allocation_id"), Error: ErrAllocationNotFound.Error()})
			continue
		}
		belongs, err := r.belongsToFamily(ctx, alloc, np.FamilyID)
		if err != nil {
			return err
		}
		if !belongs {
			cause = ErrAllocationNotFound
			flds = append(flds, core.FieldError{Field: targetField(i, "allocation_id"), Error: ErrAllocationNotFound.Error()})
			continue
		}
		if tgt.Amount.GreaterThan(alloc.Remaining()) {
			if cause == nil {
				cause = ErrInvalidAmount
			}
			flds = append(flds, core.FieldError{
				Field: targetField(i, "amount"),
				Error: "exceeds the remaining amount of " + alloc.Remaining().StringFixed(moneyPlaces),
			})
		}
	}
	if flds != nil {
		return core.NewValidationError(cause, flds...)
	}
	return nil
}

func (r *PaymentRecorder) belongsToFamily(ctx context.Context, alloc Allocation, familyID string) (bool, error) {
	student, err := r.dir.GetStudent(ctx, alloc.StudentID)
	if err != nil {
		if errors.Is(err, ErrStudentNotFound) {
			return false, nil
		}
		return false, errors.Wrap(err, "getting student")
	}
	return student.FamilyID == familyID, nil
}

// planTargets locks the targeted allocations and re-checks their remaining amounts.
// Anything that changed since checkTargets is a lost race: ErrConcurrentAllocationUpdate.
func (r *PaymentRecorder) planTargets(ctx context.Context, l Ledger, np NewPayment) ([]application, error) {
	plan := make([]application, 0, len(np.Targets))
	for _, tgt := range np.Targets {
		alloc, err := l.LockAllocationByID(ctx, tgt.AllocationID)
		if err != nil {
			if errors.Is(err, ErrAllocationNotFound) {
				return nil, ErrConcurrentAllocationUpdate
			}
			return nil, errors.Wrap(err, "locking allocation")
		}
		if tgt.Amount.GreaterThan(alloc.Remaining()) {
			return nil, ErrConcurrentAllocationUpdate
		}
		plan = append(plan, application{alloc: alloc, amount: tgt.Amount})
	}
	return plan, nil
}

// planAutoApply spreads the payment over the family's open allocations, oldest first.
func (r *PaymentRecorder) planAutoApply(ctx context.Context, l Ledger, np NewPayment) ([]application, error) {
	open, err := l.LockOpenAllocations(ctx, np.FamilyID)
	if err != nil {
		return nil, errors.Wrap(err, "locking open allocations")
	}
	return autoApply(np.Amount, open), nil
}

func autoApply(amount decimal.Decimal, open []Allocation) []application {
	var plan []application
	left := amount
	for _, alloc := range open {
		if !left.IsPositive() {
			break
		}
		rem := alloc.Remaining()
		if !rem.IsPositive() {
			continue
		}
		amt := decimal.Min(left, rem)
		plan = append(plan, application{alloc: alloc, amount: amt})
		left = left.Sub(amt)
	}
	return plan
}

func (r *PaymentRecorder) apply(ctx context.Context, l Ledger, np NewPayment, plan []application) (Payment, error) {
	now := nowFunc().UTC()
	applied := decimal.Zero
	for _, app := range plan {
		applied = applied.Add(app.amount)
	}
	if applied.GreaterThan(np.Amount) {
		return Payment{}, ErrConcurrentAllocationUpdate
	}

	payment, err := l.CreatePayment(ctx, Payment{
		ID:            uuid.New().String(),
		FamilyID:      np.FamilyID,
		Amount:        np.Amount,
		Method:        np.Method,
		Reference:     np.Reference,
		PaymentDate:   core.DateOf(np.Date),
		AppliedAmount: applied,
		CreatedAt:     now,
	})
	if err != nil {
		return Payment{}, errors.Wrap(err, "creating payment")
	}

	payment.Applications = make([]PaymentAllocation, 0, len(plan))
	for _, app := range plan {
		pa, err := l.CreatePaymentAllocation(ctx, PaymentAllocation{
			ID:           uuid.New().String(),
			PaymentID:    payment.ID,
			AllocationID: app.alloc.ID,
			Amount:       app.amount,
			CreatedAt:    now,
		})
		if err != nil {
			return Payment{}, errors.Wrap(err, "creating payment allocation")
		}
		payment.Applications = append(payment.Applications, pa)

		alloc := app.alloc
		alloc.PaidAmount = alloc.PaidAmount.Add(app.amount)
		alloc.Status, alloc.PaidDate = Recompute(alloc, alloc.PaidAmount, payment.PaymentDate, now)
		alloc.UpdatedAt = now
		if _, err = l.UpdateAllocation(ctx, alloc); err != nil {
			return Payment{}, errors.Wrap(err, "updating allocation")
		}
	}
	return payment, nil
}

func targetField(i int, name string) string {
	return "targets[" + strconv.Itoa(i) + "]." + name
}
