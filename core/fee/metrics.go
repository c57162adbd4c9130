package fee

import (
	"time"

	"github.com/shopspring/decimal"
)

// Metrics receives the engine's measurements.
type Metrics interface {
	PaymentRecorded(method string, amount, applied decimal.Decimal)
	BillingOutcome(result OutcomeResult)
	BillingRunFinished(d time.Duration)
	ConcurrencyConflict(op string)
}

type nopMetrics struct{}

var _ Metrics = (*nopMetrics)(nil)

func (nopMetrics) PaymentRecorded(string, decimal.Decimal, decimal.Decimal) {}
func (nopMetrics) BillingOutcome(OutcomeResult)                             {}
func (nopMetrics) BillingRunFinished(time.Duration)                         {}
func (nopMetrics) ConcurrencyConflict(string)                               {}
