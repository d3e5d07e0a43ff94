package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IntentStatus is the state a payment intent settles into synchronously.
type IntentStatus string

const (
	IntentStatusSucceeded      IntentStatus = "succeeded"
	IntentStatusRequiresAction IntentStatus = "requires_action"
	IntentStatusFailed         IntentStatus = "failed"
)

// PaymentIntent is the gateway's answer to a charge request. ClientSecret
// is only set when the intent requires client-side confirmation.
type PaymentIntent struct {
	Ref          string
	Status       IntentStatus
	ClientSecret string
	FailureMsg   string
}

// CardSummary describes an attached payment method.
type CardSummary struct {
	Ref      string
	Brand    string
	Last4    string
	ExpMonth int
	ExpYear  int
}

// SubscriptionInfo is the gateway's view of a recurring subscription.
type SubscriptionInfo struct {
	Ref         string
	Status      string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// IntentRequest describes a payment intent to create. IdempotencyKey is the
// ledger transaction id; the gateway must treat repeated requests with the
// same key as one charge.
type IntentRequest struct {
	Amount           decimal.Decimal
	Currency         string
	CustomerRef      string
	PaymentMethodRef string
	IdempotencyKey   string
	Metadata         map[string]string
}

// Gateway is the abstract payment processor. Implementations perform
// external I/O and must respect ctx cancellation; callers never invoke
// them while holding a ledger account lock.
type Gateway interface {
	CreateCustomer(ctx context.Context, metadata map[string]string) (customerRef string, err error)
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (*PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, ref string) (*PaymentIntent, error)
	AttachPaymentMethod(ctx context.Context, customerRef, methodRef string) (*CardSummary, error)
	CreateSubscription(ctx context.Context, customerRef, planRef, methodRef string) (*SubscriptionInfo, error)
	CancelSubscription(ctx context.Context, ref string, atPeriodEnd bool) error
	VerifyWebhookSignature(payload []byte, signature, secret string) (*Event, error)
	Name() string
}

// Event is a parsed, signature-verified webhook event. Exactly one of the
// typed payloads is set depending on Type; unrecognized types carry neither
// and are acknowledged without effect.
type Event struct {
	ID            string
	Type          string
	PaymentIntent *PaymentIntentEvent
	Subscription  *SubscriptionEvent
}

// Well-known webhook event types.
const (
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventPaymentIntentFailed    = "payment_intent.payment_failed"
	EventSubscriptionUpdated    = "customer.subscription.updated"
	EventSubscriptionDeleted    = "customer.subscription.deleted"
)

// PaymentIntentEvent is the payload of payment_intent.* events. The
// tenant/store/transaction correlation travels in the intent metadata set
// at creation time.
type PaymentIntentEvent struct {
	Ref        string            `json:"ref"`
	Status     string            `json:"status"`
	FailureMsg string            `json:"failure_message,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// SubscriptionEvent is the payload of customer.subscription.* events.
type SubscriptionEvent struct {
	Ref               string    `json:"ref"`
	Status            string    `json:"status"`
	PeriodStart       time.Time `json:"period_start"`
	PeriodEnd         time.Time `json:"period_end"`
	CancelAtPeriodEnd bool      `json:"cancel_at_period_end"`
}

// Correlation metadata keys set on payment intents so webhook events can be
// routed back to the owning ledger transaction.
const (
	MetaTenantID      = "tenant_id"
	MetaStoreID       = "store_id"
	MetaTransactionID = "transaction_id"
)
