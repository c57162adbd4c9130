package fee

import (
	"fmt"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-billing/core"
)

var (
	payMethodTag  = "paymethod"
	payMethodText = "must be one of: " + strings.Join(Methods, ", ")

	notFutureTag  = "notfuture"
	notFutureText = "cannot be in the future"

	uniqueTargetsTag  = "uniquetargets"
	uniqueTargetsText = "an allocation can only be targeted once"

	targetsSumTag  = "targetssum"
	targetsSumText = "the targeted amounts exceed the payment amount"

	centsTag  = "cents"
	centsText = fmt.Sprintf("cannot have more than %d decimal places", moneyPlaces)
)

// InitValidators registers the fee validators and their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(payMethodTag, payMethodValidation)
	core.RegisterCustomTranslation(validate, translator, payMethodTag, payMethodText)

	validate.RegisterStructValidation(newPaymentStructValidation, NewPayment{})
	core.RegisterCustomTranslation(validate, translator, notFutureTag, notFutureText)
	core.RegisterCustomTranslation(validate, translator, uniqueTargetsTag, uniqueTargetsText)
	core.RegisterCustomTranslation(validate, translator, targetsSumTag, targetsSumText)
	core.RegisterCustomTranslation(validate, translator, centsTag, centsText)
}

// Custom Validators

// payMethodValidation checks that the payment method is in Methods.
func payMethodValidation(fl validator.FieldLevel) bool {
	method := fl.Field().String()
	for _, m := range Methods {
		if method == m {
			return true
		}
	}
	return false
}

// isWholeCents reports whether d can be stored without rounding.
func isWholeCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(moneyPlaces))
}

// newPaymentStructValidation checks the amounts precision, the payment date and the targets as a whole.
func newPaymentStructValidation(sl validator.StructLevel) {
	np, ok := sl.Current().Interface().(NewPayment)
	if !ok {
		return
	}

	if !isWholeCents(np.Amount) {
		sl.ReportError(np.Amount, "amount", "Amount", centsTag, "")
	}
	for i, tgt := range np.Targets {
		if !isWholeCents(tgt.Amount) {
			sl.ReportError(tgt.Amount, fmt.Sprintf("targets[%d].amount", i), "Amount", centsTag, "")
		}
	}

	if !np.Date.IsZero() && core.DateOf(np.Date).After(core.DateOf(nowFunc())) {
		sl.ReportError(np.Date, "payment_date", "Date", notFutureTag, "")
	}

	if len(np.Targets) == 0 {
		return
	}
	seen := make(map[string]bool, len(np.Targets))
	sum := decimal.Zero
	for _, tgt := range np.Targets {
		if tgt.AllocationID != "" && seen[tgt.AllocationID] {
			sl.ReportError(np.Targets, "targets", "Targets", uniqueTargetsTag, "")
			return
		}
		seen[tgt.AllocationID] = true
		sum = sum.Add(tgt.Amount)
	}
	if sum.GreaterThan(np.Amount) {
		sl.ReportError(np.Targets, "targets", "Targets", targetsSumTag, "")
	}
}

// translateValidationErrors turns validator errors into a *core.ValidationError
// wrapping ErrInvalidAmount, ErrInvalidDate or ErrInvalidInput (in this order of precedence).
func translateValidationErrors(err error, translator ut.Translator) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	var amountErr, dateErr bool
	flds := make([]core.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		name := fieldName(fe)
		switch {
		case name == "amount" || name == "targets" || strings.HasSuffix(name, ".amount"):
			amountErr = true
		case name == "payment_date":
			dateErr = true
		}
		flds = append(flds, core.FieldError{Field: name, Error: fe.Translate(translator)})
	}

	cause := ErrInvalidInput
	if amountErr {
		cause = ErrInvalidAmount
	} else if dateErr {
		cause = ErrInvalidDate
	}
	return core.NewValidationError(cause, flds...)
}

// fieldName strips the root struct from the error namespace: "NewPayment.targets[0].amount" -> "targets[0].amount".
func fieldName(fe validator.FieldError) string {
	parts := strings.SplitN(fe.Namespace(), ".", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return fe.Field()
}
