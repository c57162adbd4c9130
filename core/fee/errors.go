package fee

import "errors"

var (
	ErrStudentNotFound    = errors.New("student not found")
	ErrFamilyNotFound     = errors.New("family not found")
	ErrAllocationNotFound = errors.New("allocation not found")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrBillingRunNotFound = errors.New("billing run not found")

	// ErrAllocationLocked is returned when recomputing an allocation that already received payments.
	ErrAllocationLocked = errors.New("allocation has payments applied and can no longer be recomputed")
	// ErrConcurrentAllocationUpdate is returned when a concurrent write won the race for the same rows.
	// The operation was rolled back and may be retried.
	ErrConcurrentAllocationUpdate = errors.New("allocation was concurrently updated, please retry")
	// ErrAllocationExists is returned by Ledger.CreateAllocation when the (student, month, year) row already exists.
	ErrAllocationExists = errors.New("allocation already exists")

	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidDate   = errors.New("invalid date")
	ErrInvalidPeriod = errors.New("invalid billing period")
	ErrInvalidInput  = errors.New("invalid input")
)

// IsNotFound reports whether err means a looked up entity does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStudentNotFound) ||
		errors.Is(err, ErrFamilyNotFound) ||
		errors.Is(err, ErrAllocationNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrBillingRunNotFound)
}
