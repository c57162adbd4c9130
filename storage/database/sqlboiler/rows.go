package boiledrepos

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-billing/core/fee"
)

const (
	allocationColumns = `a.id, a.student_id, a.month, a.year, a.gross_amount, a.discount_amount, a.net_amount,
	a.paid_amount, a.due_date, a.paid_date, a.status, a.created_at, a.updated_at`
	paymentColumns            = `id, family_id, amount, method, reference, payment_date, applied_amount, created_at`
	paymentAllocationColumns  = `id, payment_id, allocation_id, amount, created_at`
	billingRunColumns         = `id, month, year, started_at, finished_at, total, created, updated, unchanged, skipped, failed`
	billingRunOutcomesColumns = `student_id, result, state, reason, allocation_id`
)

type (
	allocationRow struct {
		ID             string          `boil:"id"`
		StudentID      string          `boil:"student_id"`
		Month          int             `boil:"month"`
		Year           int             `boil:"year"`
		GrossAmount    decimal.Decimal `boil:"gross_amount"`
		DiscountAmount decimal.Decimal `boil:"discount_amount"`
		NetAmount      decimal.Decimal `boil:"net_amount"`
		PaidAmount     decimal.Decimal `boil:"paid_amount"`
		DueDate        time.Time       `boil:"due_date"`
		PaidDate       null.Time       `boil:"paid_date"`
		Status         string          `boil:"status"`
		CreatedAt      time.Time       `boil:"created_at"`
		UpdatedAt      time.Time       `boil:"updated_at"`
	}

	paymentRow struct {
		ID            string          `boil:"id"`
		FamilyID      string          `boil:"family_id"`
		Amount        decimal.Decimal `boil:"amount"`
		Method        string          `boil:"method"`
		Reference     null.String     `boil:"reference"`
		PaymentDate   time.Time       `boil:"payment_date"`
		AppliedAmount decimal.Decimal `boil:"applied_amount"`
		CreatedAt     time.Time       `boil:"created_at"`
	}

	paymentAllocationRow struct {
		ID           string          `boil:"id"`
		PaymentID    string          `boil:"payment_id"`
		AllocationID string          `boil:"allocation_id"`
		Amount       decimal.Decimal `boil:"amount"`
		CreatedAt    time.Time       `boil:"created_at"`
	}

	billingRunRow struct {
		ID         string    `boil:"id"`
		Month      int       `boil:"month"`
		Year       int       `boil:"year"`
		StartedAt  time.Time `boil:"started_at"`
		FinishedAt time.Time `boil:"finished_at"`
		Total      int       `boil:"total"`
		Created    int       `boil:"created"`
		Updated    int       `boil:"updated"`
		Unchanged  int       `boil:"unchanged"`
		Skipped    int       `boil:"skipped"`
		Failed     int       `boil:"failed"`
	}

	billingRunOutcomeRow struct {
		StudentID    string      `boil:"student_id"`
		Result       string      `boil:"result"`
		State        string      `boil:"state"`
		Reason       null.String `boil:"reason"`
		AllocationID null.String `boil:"allocation_id"`
	}
)

func (r allocationRow) unboil() fee.Allocation {
	return fee.Allocation{
		ID:             r.ID,
		StudentID:      r.StudentID,
		Month:          r.Month,
		Year:           r.Year,
		GrossAmount:    r.GrossAmount,
		DiscountAmount: r.DiscountAmount,
		NetAmount:      r.NetAmount,
		PaidAmount:     r.PaidAmount,
		DueDate:        r.DueDate.UTC(),
		PaidDate:       r.PaidDate.Ptr(),
		Status:         fee.Status(r.Status),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func unboilAllocations(rows []allocationRow) []fee.Allocation {
	allocs := make([]fee.Allocation, 0, len(rows))
	for _, r := range rows {
		allocs = append(allocs, r.unboil())
	}
	return allocs
}

func (r paymentRow) unboil() fee.Payment {
	return fee.Payment{
		ID:            r.ID,
		FamilyID:      r.FamilyID,
		Amount:        r.Amount,
		Method:        r.Method,
		Reference:     r.Reference.String,
		PaymentDate:   r.PaymentDate.UTC(),
		AppliedAmount: r.AppliedAmount,
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

func unboilPaymentAllocations(rows []paymentAllocationRow) []fee.PaymentAllocation {
	pas := make([]fee.PaymentAllocation, 0, len(rows))
	for _, r := range rows {
		pas = append(pas, fee.PaymentAllocation{
			ID:           r.ID,
			PaymentID:    r.PaymentID,
			AllocationID: r.AllocationID,
			Amount:       r.Amount,
			CreatedAt:    r.CreatedAt.UTC(),
		})
	}
	return pas
}

func (r billingRunRow) unboil(outcomes []billingRunOutcomeRow) fee.Report {
	report := fee.Report{
		ID:         r.ID,
		Period:     fee.Period{Month: r.Month, Year: r.Year},
		StartedAt:  r.StartedAt.UTC(),
		FinishedAt: r.FinishedAt.UTC(),
		Total:      r.Total,
		Created:    r.Created,
		Updated:    r.Updated,
		Unchanged:  r.Unchanged,
		Skipped:    r.Skipped,
		Failed:     r.Failed,
		Outcomes:   make([]fee.StudentOutcome, 0, len(outcomes)),
	}
	for _, o := range outcomes {
		report.Outcomes = append(report.Outcomes, fee.StudentOutcome{
			StudentID:    o.StudentID,
			Result:       fee.OutcomeResult(o.Result),
			State:        fee.StudentState(o.State),
			Reason:       o.Reason.String,
			AllocationID: o.AllocationID.String,
		})
	}
	return report
}

func nullTime(t *time.Time) null.Time {
	if t == nil {
		return null.Time{}
	}
	return null.TimeFrom(t.UTC())
}

func nullString(s string) null.String {
	return null.NewString(s, s != "")
}
