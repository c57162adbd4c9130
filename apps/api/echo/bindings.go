package echoapi

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-billing/core"
	"github.com/trezcool/masomo-billing/core/fee"
)

const dateLayout = "2006-01-02"

var (
	orderingParam = "ordering"
	statusParam   = "status"
	studentParam  = "student_id"

	invalidDateText = "must be a date formatted as YYYY-MM-DD"
)

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// bindQueryFilter reads ?student_id= and ?status= (repeated or comma separated).
func bindQueryFilter(ctx echo.Context) fee.QueryFilter {
	filter := fee.QueryFilter{StudentID: strings.TrimSpace(ctx.QueryParam(studentParam))}
	for _, val := range ctx.QueryParams()[statusParam] {
		for _, st := range strings.Split(val, ",") {
			if st = strings.ToUpper(strings.TrimSpace(st)); st != "" {
				filter.Statuses = append(filter.Statuses, fee.Status(st))
			}
		}
	}
	return filter
}

type (
	// StudentPeriodRequest identifies a student's billing month.
	StudentPeriodRequest struct {
		StudentID string `json:"student_id" validate:"required,uuid4"`
		Month     int    `json:"month"`
		Year      int    `json:"year"`
	}

	// BillingRunRequest defaults to the current month when both fields are omitted.
	BillingRunRequest struct {
		Month int `json:"month"`
		Year  int `json:"year"`
	}

	NewPaymentRequest struct {
		FamilyID    string              `json:"family_id"`
		Amount      decimal.Decimal     `json:"amount"`
		Method      string              `json:"method"`
		Reference   string              `json:"reference"`
		PaymentDate string              `json:"payment_date"` // YYYY-MM-DD, defaults to today
		Targets     []fee.PaymentTarget `json:"targets"`
	}

	UpsertResponse struct {
		Result     fee.UpsertResult `json:"result"`
		Allocation fee.Allocation   `json:"allocation"`
	}
)

func (r StudentPeriodRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}

func (r StudentPeriodRequest) Period() fee.Period {
	return fee.Period{Month: r.Month, Year: r.Year}
}

func (r BillingRunRequest) Period() fee.Period {
	if r.Month == 0 && r.Year == 0 {
		return fee.PeriodOf(fee.Today())
	}
	return fee.Period{Month: r.Month, Year: r.Year}
}

func (r NewPaymentRequest) NewPayment() (fee.NewPayment, error) {
	date := fee.Today()
	if r.PaymentDate != "" {
		d, err := time.Parse(dateLayout, r.PaymentDate)
		if err != nil {
			return fee.NewPayment{}, core.NewValidationError(
				fee.ErrInvalidDate,
				core.FieldError{Field: "payment_date", Error: invalidDateText},
			)
		}
		date = d
	}
	return fee.NewPayment{
		FamilyID:  r.FamilyID,
		Amount:    r.Amount,
		Method:    r.Method,
		Reference: r.Reference,
		Date:      date,
		Targets:   r.Targets,
	}, nil
}
