package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a balance-affecting event
type TransactionType string

const (
	TransactionTypeTopUp              TransactionType = "top_up"
	TransactionTypeOrderFee           TransactionType = "order_fee"
	TransactionTypeRefund             TransactionType = "refund"
	TransactionTypeSubscriptionCharge TransactionType = "subscription_charge"
	TransactionTypeAdjustment         TransactionType = "adjustment"
)

// TransactionStatus represents the lifecycle state of a transaction
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Account is the per-store ledger account. Balance is only ever mutated
// through the transaction journal; every other field is configuration.
type Account struct {
	StoreID                       string          `json:"store_id"`
	TenantID                      string          `json:"tenant_id"`
	Balance                       decimal.Decimal `json:"balance"`
	Currency                      string          `json:"currency"`
	FeeRate                       decimal.Decimal `json:"fee_rate"`
	LowBalanceThreshold           decimal.Decimal `json:"low_balance_threshold"`
	LowBalanceNotificationEnabled bool            `json:"low_balance_notification_enabled"`
	AutoTopUpEnabled              bool            `json:"auto_top_up_enabled"`
	AutoTopUpAmount               decimal.Decimal `json:"auto_top_up_amount"`
	AutoTopUpThreshold            decimal.Decimal `json:"auto_top_up_threshold"`
	ExternalCustomerRef           string          `json:"external_customer_ref,omitempty"`
	CreatedAt                     time.Time       `json:"created_at"`
	UpdatedAt                     time.Time       `json:"updated_at"`
}

// AccountSettings is the whitelisted settings patch accepted by
// UpdateAccountSettings. Nil fields are left unchanged. Balance, currency,
// and the gateway customer ref are deliberately not part of the patch.
type AccountSettings struct {
	FeeRate                       *decimal.Decimal `json:"fee_rate,omitempty"`
	LowBalanceThreshold           *decimal.Decimal `json:"low_balance_threshold,omitempty"`
	LowBalanceNotificationEnabled *bool            `json:"low_balance_notification_enabled,omitempty"`
	AutoTopUpEnabled              *bool            `json:"auto_top_up_enabled,omitempty"`
	AutoTopUpAmount               *decimal.Decimal `json:"auto_top_up_amount,omitempty"`
	AutoTopUpThreshold            *decimal.Decimal `json:"auto_top_up_threshold,omitempty"`
}

// Transaction is one immutable, append-only balance-affecting event.
// Amount is signed: positive for credits, negative for debits. For a
// completed row, BalanceAfter = BalanceBefore + Amount and BalanceBefore
// equals the account balance immediately preceding the commit. A pending
// row carries intended balances for display only; the account balance is
// untouched until the row completes.
type Transaction struct {
	ID              string            `json:"id"`
	StoreID         string            `json:"store_id"`
	TenantID        string            `json:"tenant_id"`
	Type            TransactionType   `json:"type"`
	Status          TransactionStatus `json:"status"`
	Amount          decimal.Decimal   `json:"amount"`
	BalanceBefore   decimal.Decimal   `json:"balance_before"`
	BalanceAfter    decimal.Decimal   `json:"balance_after"`
	Currency        string            `json:"currency"`
	Description     string            `json:"description,omitempty"`
	OrderID         string            `json:"order_id,omitempty"`
	OrderNumber     string            `json:"order_number,omitempty"`
	PaymentProvider string            `json:"payment_provider,omitempty"`
	PaymentIntentID string            `json:"payment_intent_id,omitempty"`
	FailureReason   string            `json:"failure_reason,omitempty"`
	Metadata        map[string]any    `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// InvoiceStatus represents the status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusDraft InvoiceStatus = "draft"
	InvoiceStatusPaid  InvoiceStatus = "paid"
	InvoiceStatusVoid  InvoiceStatus = "void"
)

// InvoiceLineItem is a single line on an invoice
type InvoiceLineItem struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
}

// Invoice is a periodic billing statement derived from completed order_fee
// transactions. Immutable once created except for Status.
type Invoice struct {
	ID            string            `json:"id"`
	StoreID       string            `json:"store_id"`
	TenantID      string            `json:"tenant_id"`
	InvoiceNumber string            `json:"invoice_number"`
	PeriodStart   time.Time         `json:"period_start"`
	PeriodEnd     time.Time         `json:"period_end"`
	Subtotal      decimal.Decimal   `json:"subtotal"`
	Tax           decimal.Decimal   `json:"tax"`
	Total         decimal.Decimal   `json:"total"`
	Currency      string            `json:"currency"`
	Status        InvoiceStatus     `json:"status"`
	DueDate       *time.Time        `json:"due_date,omitempty"`
	LineItems     []InvoiceLineItem `json:"line_items"`
	CreatedAt     time.Time         `json:"created_at"`
}

// SubscriptionStatus represents the status of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// Subscription is a recurring plan attached to a store. At most one
// non-cancelled subscription exists per store; cancelled is terminal.
type Subscription struct {
	ID                      string             `json:"id"`
	StoreID                 string             `json:"store_id"`
	TenantID                string             `json:"tenant_id"`
	PlanID                  string             `json:"plan_id"`
	Status                  SubscriptionStatus `json:"status"`
	CurrentPeriodStart      time.Time          `json:"current_period_start"`
	CurrentPeriodEnd        time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd       bool               `json:"cancel_at_period_end"`
	ExternalSubscriptionRef string             `json:"external_subscription_ref,omitempty"`
	CreatedAt               time.Time          `json:"created_at"`
	UpdatedAt               time.Time          `json:"updated_at"`
}

// PaymentMethod is a stored reference to a gateway payment method.
// At most one method per store is the default.
type PaymentMethod struct {
	ID                       string    `json:"id"`
	StoreID                  string    `json:"store_id"`
	TenantID                 string    `json:"tenant_id"`
	ExternalPaymentMethodRef string    `json:"external_payment_method_ref"`
	CardBrand                string    `json:"card_brand,omitempty"`
	CardLast4                string    `json:"card_last4,omitempty"`
	CardExpMonth             int       `json:"card_exp_month,omitempty"`
	CardExpYear              int       `json:"card_exp_year,omitempty"`
	IsDefault                bool      `json:"is_default"`
	CreatedAt                time.Time `json:"created_at"`
}

// TransactionRefs carries the optional references attached to a journal append.
type TransactionRefs struct {
	OrderID         string
	OrderNumber     string
	PaymentProvider string
	PaymentIntentID string
	Metadata        map[string]any
}

// TopUpResult is returned by CreateTopUp. When the gateway requires
// client-side confirmation, RequiresAction is set and ClientSecret carries
// the continuation data; completion then arrives through the webhook
// reconciler.
type TopUpResult struct {
	Transaction    *Transaction `json:"transaction"`
	RequiresAction bool         `json:"requires_action"`
	ClientSecret   string       `json:"client_secret,omitempty"`
}
