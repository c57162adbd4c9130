package fee

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-billing/core"
)

// Allocation statuses
const (
	StatusPending Status = "PENDING"
	StatusPartial Status = "PARTIAL"
	StatusPaid    Status = "PAID"
	StatusOverdue Status = "OVERDUE"
)

// Payment methods
const (
	MethodCash         = "cash"
	MethodBankTransfer = "bank_transfer"
	MethodCard         = "card"
	MethodMobileMoney  = "mobile_money"
	MethodCheque       = "cheque"
)

// moneyPlaces is the number of decimal places amounts are rounded to.
const moneyPlaces = 2

var (
	AllStatuses = []Status{StatusPending, StatusPartial, StatusPaid, StatusOverdue}
	Methods     = []string{MethodCash, MethodBankTransfer, MethodCard, MethodMobileMoney, MethodCheque}
)

type Status string

func (s Status) IsValid() bool {
	for _, st := range AllStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// Period is a billing month.
type Period struct {
	Month int `json:"month" query:"month" validate:"min=1,max=12"`
	Year  int `json:"year" query:"year" validate:"min=2000,max=9999"`
}

func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return Period{Month: int(t.Month()), Year: t.Year()}
}

// Start is the first day of the period, UTC.
func (p Period) Start() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

// DueDate is the given day of the period, clamped to the last day of the month.
func (p Period) DueDate(day int) time.Time {
	if day < 1 {
		day = 1
	}
	last := p.Start().AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return time.Date(p.Year, time.Month(p.Month), day, 0, 0, 0, 0, time.UTC)
}

func (p Period) Before(other Period) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	return p.Month < other.Month
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

type Family struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
}

type Student struct {
	ID       string `json:"id"`
	FamilyID string `json:"family_id,omitempty"` // empty: no family
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

func (s Student) HasFamily() bool { return s.FamilyID != "" }

// Subscription links a student to a course or a service (exactly one of them).
// UnitAmount is resolved from the matching fee structure.
type Subscription struct {
	ID             string          `json:"id"`
	StudentID      string          `json:"student_id"`
	CourseID       string          `json:"course_id,omitempty"`
	ServiceID      string          `json:"service_id,omitempty"`
	UnitAmount     decimal.Decimal `json:"unit_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	StartDate      time.Time       `json:"start_date"`
	EndDate        *time.Time      `json:"end_date,omitempty"` // nil: still active
}

// ActiveAt reports whether t falls in [StartDate, EndDate).
func (s Subscription) ActiveAt(t time.Time) bool {
	if t.Before(s.StartDate) {
		return false
	}
	return s.EndDate == nil || t.Before(*s.EndDate)
}

type FeeLine struct {
	SubscriptionID string          `json:"subscription_id"`
	CourseID       string          `json:"course_id,omitempty"`
	ServiceID      string          `json:"service_id,omitempty"`
	UnitAmount     decimal.Decimal `json:"unit_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
}

// Discount is what the DiscountResolver grants a student for a period.
type Discount struct {
	Subscription decimal.Decimal `json:"subscription"`
	FamilyShare  decimal.Decimal `json:"family_share"`
	SiblingCount int             `json:"sibling_count"`
}

func (d Discount) Total() decimal.Decimal {
	return d.Subscription.Add(d.FamilyShare)
}

// Calculation is a computed, not yet persisted, monthly fee.
type Calculation struct {
	StudentID      string          `json:"student_id"`
	Period         Period          `json:"period"`
	Lines          []FeeLine       `json:"lines"`
	Discount       Discount        `json:"discount"`
	GrossAmount    decimal.Decimal `json:"gross_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	NetAmount      decimal.Decimal `json:"net_amount"`
}

type Allocation struct {
	ID             string          `json:"id"`
	StudentID      string          `json:"student_id"`
	Month          int             `json:"month"`
	Year           int             `json:"year"`
	GrossAmount    decimal.Decimal `json:"gross_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	NetAmount      decimal.Decimal `json:"net_amount"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	DueDate        time.Time       `json:"due_date"`
	PaidDate       *time.Time      `json:"paid_date"`
	Status         Status          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"` // UTC
	UpdatedAt      time.Time       `json:"updated_at"` // UTC

	Applications []PaymentAllocation `json:"applications,omitempty"`
}

func (a Allocation) Period() Period {
	return Period{Month: a.Month, Year: a.Year}
}

func (a Allocation) Remaining() decimal.Decimal {
	rem := a.NetAmount.Sub(a.PaidAmount)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// IsLocked reports whether payments were applied: the amounts can no longer be recomputed.
// A fully discounted allocation is PAID without payment and stays recomputable.
func (a Allocation) IsLocked() bool {
	return a.PaidAmount.IsPositive() || a.Status == StatusPartial || (a.Status == StatusPaid && a.NetAmount.IsPositive())
}

func (a Allocation) matches(calc Calculation, dueDate time.Time) bool {
	return a.GrossAmount.Equal(calc.GrossAmount) &&
		a.DiscountAmount.Equal(calc.DiscountAmount) &&
		a.NetAmount.Equal(calc.NetAmount) &&
		core.DateOf(a.DueDate).Equal(core.DateOf(dueDate))
}

type Payment struct {
	ID            string          `json:"id"`
	FamilyID      string          `json:"family_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	Reference     string          `json:"reference,omitempty"`
	PaymentDate   time.Time       `json:"payment_date"`
	AppliedAmount decimal.Decimal `json:"applied_amount"`
	CreatedAt     time.Time       `json:"created_at"` // UTC

	Applications []PaymentAllocation `json:"applications"`
}

// Unapplied is the credit left on the payment.
func (p Payment) Unapplied() decimal.Decimal {
	return p.Amount.Sub(p.AppliedAmount)
}

// PaymentAllocation is the portion of a payment applied to an allocation.
type PaymentAllocation struct {
	ID           string          `json:"id"`
	PaymentID    string          `json:"payment_id"`
	AllocationID string          `json:"allocation_id"`
	Amount       decimal.Decimal `json:"amount"`
	CreatedAt    time.Time       `json:"created_at"` // UTC
}

// PaymentTarget asks for amount to be applied to a specific allocation.
type PaymentTarget struct {
	AllocationID string          `json:"allocation_id" validate:"required,uuid4"`
	Amount       decimal.Decimal `json:"amount" validate:"gt=0"`
}

// NewPayment contains information needed to record a Payment.
// Without Targets, the amount is applied to the family's oldest open allocations first.
type NewPayment struct {
	FamilyID  string          `json:"family_id" validate:"required,uuid4"`
	Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
	Method    string          `json:"method" validate:"required,paymethod"`
	Reference string          `json:"reference" validate:"omitempty,max=128"`
	Date      time.Time       `json:"payment_date" validate:"required"`
	Targets   []PaymentTarget `json:"targets" validate:"omitempty,dive"`
}

func (np *NewPayment) Clean() {
	np.FamilyID = core.CleanString(np.FamilyID, true /* lower */)
	np.Method = core.CleanString(np.Method, true /* lower */)
	np.Reference = core.CleanString(np.Reference)
	for i := range np.Targets {
		np.Targets[i].AllocationID = core.CleanString(np.Targets[i].AllocationID, true /* lower */)
	}
}

// UpsertResult tells what Upsert did with the allocation.
type UpsertResult string

const (
	UpsertCreated   UpsertResult = "created"
	UpsertUpdated   UpsertResult = "updated"
	UpsertUnchanged UpsertResult = "unchanged"
)

// QueryFilter narrows down allocation listings. Empty fields match everything.
type QueryFilter struct {
	StudentID string   `query:"student_id"`
	Statuses  []Status `query:"status"`
}
