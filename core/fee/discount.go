package fee

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// DiscountResolver combines subscription discounts with the family discount
// prorated over the family's active siblings.
type DiscountResolver struct {
	dir Directory
}

func NewDiscountResolver(dir Directory) *DiscountResolver {
	return &DiscountResolver{dir: dir}
}

// Resolve computes the discount granted to student for period, given its active subscriptions.
// The family share is family.DiscountAmount / max(1, activeSiblings), rounded to cents,
// and 0 when the student has no family or the family has no active student in the period.
func (r *DiscountResolver) Resolve(ctx context.Context, student Student, subs []Subscription, period Period) (Discount, error) {
	d := Discount{Subscription: decimal.Zero, FamilyShare: decimal.Zero}
	for _, sub := range subs {
		d.Subscription = d.Subscription.Add(sub.DiscountAmount)
	}

	if !student.HasFamily() {
		return d, nil
	}

	family, err := r.dir.GetFamily(ctx, student.FamilyID)
	if err != nil {
		return Discount{}, errors.Wrap(err, "getting family")
	}
	if !family.DiscountAmount.IsPositive() {
		return d, nil
	}

	count, err := r.dir.GetActiveSiblingCount(ctx, family.ID, period)
	if err != nil {
		return Discount{}, errors.Wrap(err, "counting active siblings")
	}
	d.SiblingCount = count
	d.FamilyShare = familyShare(family.DiscountAmount, count)
	return d, nil
}

func familyShare(familyDiscount decimal.Decimal, siblings int) decimal.Decimal {
	if siblings <= 0 {
		return decimal.Zero
	}
	return familyDiscount.Div(decimal.NewFromInt(int64(siblings))).Round(moneyPlaces)
}
