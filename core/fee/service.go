package fee

import (
	"context"
	"fmt"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-billing/core"
)

type (
	// Service is the entry point of the billing engine.
	Service interface {
		CalculateFee(ctx context.Context, studentID string, period Period) (Calculation, error)
		// UpsertAllocation recomputes the student's fee and persists it as the period's allocation.
		UpsertAllocation(ctx context.Context, studentID string, period Period) (Allocation, UpsertResult, error)
		RecordPayment(ctx context.Context, np NewPayment) (Payment, error)
		// RunBillingCycle bills every active student, stores the run and mails its report.
		RunBillingCycle(ctx context.Context, period Period) (Report, error)
		RefreshOverdue(ctx context.Context) (int, error)

		GetAllocation(ctx context.Context, id string) (Allocation, error)
		QueryFamilyAllocations(ctx context.Context, familyID string, filter QueryFilter, ordering ...core.DBOrdering) ([]Allocation, error)
		GetPayment(ctx context.Context, id string) (Payment, error)
		GetBillingRun(ctx context.Context, id string) (Report, error)
	}

	ServiceDeps struct {
		Store      Store
		Directory  Directory
		Validate   *validator.Validate
		Translator ut.Translator
		MailSvc    core.EmailService // optional
		Logger     core.Logger
		Metrics    Metrics // optional
		Conf       *core.Config
	}

	service struct {
		store      Store
		dir        Directory
		validate   *validator.Validate
		translator ut.Translator
		logger     core.Logger
		metrics    Metrics
		dueDay     int

		calc     *Calculator
		allocs   *AllocationStore
		payments *PaymentRecorder
		runner   *BillingRunner
		notifier *Notifier
	}
)

var _ Service = (*service)(nil)

func NewService(deps ServiceDeps) Service {
	return newService(deps)
}

func newService(deps ServiceDeps) *service {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	calc := NewCalculator(deps.Directory, NewDiscountResolver(deps.Directory))
	allocs := NewAllocationStore(deps.Store)
	return &service{
		store:      deps.Store,
		dir:        deps.Directory,
		validate:   deps.Validate,
		translator: deps.Translator,
		logger:     deps.Logger,
		metrics:    metrics,
		dueDay:     deps.Conf.Billing.DueDay,
		calc:       calc,
		allocs:     allocs,
		payments:   NewPaymentRecorder(deps.Store, deps.Directory, deps.Validate, deps.Translator),
		runner:     NewBillingRunner(deps.Directory, calc, allocs, deps.Logger, deps.Conf.Billing.Workers, deps.Conf.Billing.DueDay),
		notifier:   NewNotifier(deps.Directory, deps.Store, deps.MailSvc, deps.Conf.OperatorsEmail),
	}
}

func (svc *service) validatePeriod(period Period) error {
	if err := svc.validate.Struct(period); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		flds := make([]core.FieldError, 0, len(verrs))
		for _, fe := range verrs {
			flds = append(flds, core.FieldError{Field: fe.Field(), Error: fe.Translate(svc.translator)})
		}
		return core.NewValidationError(ErrInvalidPeriod, flds...)
	}
	return nil
}

func (svc *service) CalculateFee(ctx context.Context, studentID string, period Period) (Calculation, error) {
	if err := svc.validatePeriod(period); err != nil {
		return Calculation{}, err
	}
	return svc.calc.Calculate(ctx, studentID, period)
}

func (svc *service) UpsertAllocation(ctx context.Context, studentID string, period Period) (Allocation, UpsertResult, error) {
	calc, err := svc.CalculateFee(ctx, studentID, period)
	if err != nil {
		return Allocation{}, "", err
	}
	alloc, result, err := svc.allocs.Upsert(ctx, studentID, period, calc, period.DueDate(svc.dueDay))
	if errors.Is(err, ErrConcurrentAllocationUpdate) {
		svc.metrics.ConcurrencyConflict("upsert_allocation")
	}
	return alloc, result, err
}

func (svc *service) RecordPayment(ctx context.Context, np NewPayment) (Payment, error) {
	payment, err := svc.payments.RecordPayment(ctx, np)
	if err != nil {
		if errors.Is(err, ErrConcurrentAllocationUpdate) {
			svc.metrics.ConcurrencyConflict("record_payment")
		}
		return Payment{}, err
	}
	svc.metrics.PaymentRecorded(payment.Method, payment.Amount, payment.AppliedAmount)
	svc.sendPaymentReceipt(ctx, payment)
	return payment, nil
}

// sendPaymentReceipt runs once the payment is committed: a failure is logged, never returned.
func (svc *service) sendPaymentReceipt(ctx context.Context, payment Payment) {
	msg, ok, err := svc.notifier.PaymentReceipt(ctx, payment)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("building receipt of payment %s: %v", payment.ID, err), err)
		return
	}
	if ok {
		svc.notifier.send(msg)
	}
}

func (svc *service) RunBillingCycle(ctx context.Context, period Period) (Report, error) {
	if err := svc.validatePeriod(period); err != nil {
		return Report{}, err
	}

	report, err := svc.runner.Run(ctx, period)
	if err != nil {
		return Report{}, err
	}
	for _, o := range report.Outcomes {
		svc.metrics.BillingOutcome(o.Result)
	}
	svc.metrics.BillingRunFinished(report.Duration())

	// the run's allocations are committed: a failure to store the report is logged only
	if err = svc.store.SaveBillingRun(ctx, report); err != nil {
		svc.logger.Error(fmt.Sprintf("saving billing run %s: %v", report.ID, err), err)
	}

	msg, err := svc.notifier.BillingReport(report)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("building report of billing run %s: %v", report.ID, err), err)
	} else {
		svc.notifier.send(msg)
	}

	svc.logger.Info(fmt.Sprintf(
		"billing run %s for %s: %d students, %d created, %d updated, %d unchanged, %d skipped, %d failed",
		report.ID, report.Period, report.Total, report.Created, report.Updated, report.Unchanged, report.Skipped, report.Failed,
	))
	return report, nil
}

func (svc *service) RefreshOverdue(ctx context.Context) (int, error) {
	return svc.allocs.RefreshOverdue(ctx, nowFunc())
}

func (svc *service) GetAllocation(ctx context.Context, id string) (Allocation, error) {
	return svc.store.GetAllocation(ctx, id)
}

func (svc *service) QueryFamilyAllocations(ctx context.Context, familyID string, filter QueryFilter, ordering ...core.DBOrdering) ([]Allocation, error) {
	if _, err := svc.dir.GetFamily(ctx, familyID); err != nil {
		return nil, err
	}
	for _, st := range filter.Statuses {
		if !st.IsValid() {
			return nil, core.NewValidationError(ErrInvalidInput, core.FieldError{Field: "status", Error: fmt.Sprintf("unknown status %q", st)})
		}
	}
	return svc.store.QueryFamilyAllocations(ctx, familyID, filter, ordering)
}

func (svc *service) GetPayment(ctx context.Context, id string) (Payment, error) {
	return svc.store.GetPayment(ctx, id)
}

func (svc *service) GetBillingRun(ctx context.Context, id string) (Report, error) {
	return svc.store.GetBillingRun(ctx, id)
}

// Today returns the current date, UTC.
func Today() time.Time {
	return core.DateOf(nowFunc())
}
