package fee

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Calculator computes a student's monthly fee. It has no side effects.
type Calculator struct {
	dir       Directory
	discounts *DiscountResolver
}

func NewCalculator(dir Directory, discounts *DiscountResolver) *Calculator {
	return &Calculator{dir: dir, discounts: discounts}
}

// Calculate returns gross = Σ unit amounts, discount = min(gross, subscription discounts + family share)
// and net = gross - discount.
func (c *Calculator) Calculate(ctx context.Context, studentID string, period Period) (Calculation, error) {
	student, err := c.dir.GetStudent(ctx, studentID)
	if err != nil {
		return Calculation{}, errors.Wrap(err, "getting student")
	}

	subs, err := c.dir.GetActiveSubscriptions(ctx, student.ID, period)
	if err != nil {
		return Calculation{}, errors.Wrap(err, "getting active subscriptions")
	}

	discount, err := c.discounts.Resolve(ctx, student, subs, period)
	if err != nil {
		return Calculation{}, errors.Wrap(err, "resolving discount")
	}

	calc := Calculation{
		StudentID:   student.ID,
		Period:      period,
		Lines:       make([]FeeLine, 0, len(subs)),
		Discount:    discount,
		GrossAmount: decimal.Zero,
	}
	for _, sub := range subs {
		calc.GrossAmount = calc.GrossAmount.Add(sub.UnitAmount)
		calc.Lines = append(calc.Lines, FeeLine{
			SubscriptionID: sub.ID,
			CourseID:       sub.CourseID,
			ServiceID:      sub.ServiceID,
			UnitAmount:     sub.UnitAmount,
			DiscountAmount: sub.DiscountAmount,
		})
	}
	calc.GrossAmount = calc.GrossAmount.Round(moneyPlaces)
	calc.DiscountAmount = decimal.Min(calc.GrossAmount, discount.Total()).Round(moneyPlaces)
	calc.NetAmount = decimal.Max(decimal.Zero, calc.GrossAmount.Sub(calc.DiscountAmount))
	return calc, nil
}
