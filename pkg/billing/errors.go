package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientBalance is returned when a fee charge would drive the
	// account balance negative. No transaction is recorded in that case.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNotFound is returned when a referenced account, transaction,
	// invoice, subscription, or payment method does not exist for the tenant.
	ErrNotFound = errors.New("not found")

	// ErrSubscriptionExists is returned by CreateSubscription when the store
	// already has a non-cancelled subscription.
	ErrSubscriptionExists = errors.New("store already has an active subscription")

	// ErrSignatureInvalid is returned for webhook payloads whose signature
	// does not verify. The delivery must be rejected without side effects
	// and must not be retried.
	ErrSignatureInvalid = errors.New("webhook signature invalid")

	// ErrInvoicePeriodOverlap is returned when a non-void invoice already
	// covers part of the requested period.
	ErrInvoicePeriodOverlap = errors.New("a non-void invoice already covers this period")
)

// ValidationError reports caller-correctable bad input, such as a top-up
// below the configured minimum. It produces no side effects.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// GatewayError wraps a failure reported by the external payment processor.
// A synchronous, conclusive gateway failure marks the in-flight pending
// transaction failed; an unknown outcome (timeout) leaves it pending for
// the webhook or the reconciliation sweep to resolve.
type GatewayError struct {
	Op      string
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }
