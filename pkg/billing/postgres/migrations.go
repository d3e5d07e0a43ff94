package postgres

import (
	"context"
	"fmt"
)

// schema is applied idempotently on startup. Decimal columns use
// NUMERIC(19,4); amounts are signed, balances are not, and the
// non-negative balance invariant is backed by a CHECK constraint in
// addition to the application-level guard.
const schema = `
CREATE TABLE IF NOT EXISTS billing_accounts (
	store_id VARCHAR(64) PRIMARY KEY,
	tenant_id VARCHAR(64) NOT NULL,
	balance NUMERIC(19,4) NOT NULL DEFAULT 0 CHECK (balance >= 0),
	currency VARCHAR(8) NOT NULL,
	fee_rate NUMERIC(10,6) NOT NULL DEFAULT 0,
	low_balance_threshold NUMERIC(19,4) NOT NULL DEFAULT 0,
	low_balance_notification_enabled BOOLEAN NOT NULL DEFAULT TRUE,
	auto_top_up_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	auto_top_up_amount NUMERIC(19,4) NOT NULL DEFAULT 0,
	auto_top_up_threshold NUMERIC(19,4) NOT NULL DEFAULT 0,
	external_customer_ref VARCHAR(255) NOT NULL DEFAULT '',
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_billing_accounts_tenant ON billing_accounts(tenant_id);

CREATE TABLE IF NOT EXISTS billing_transactions (
	id VARCHAR(36) PRIMARY KEY,
	store_id VARCHAR(64) NOT NULL REFERENCES billing_accounts(store_id),
	tenant_id VARCHAR(64) NOT NULL,
	type VARCHAR(32) NOT NULL,
	status VARCHAR(16) NOT NULL,
	amount NUMERIC(19,4) NOT NULL,
	balance_before NUMERIC(19,4) NOT NULL DEFAULT 0,
	balance_after NUMERIC(19,4) NOT NULL DEFAULT 0,
	currency VARCHAR(8) NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	order_id VARCHAR(64) NOT NULL DEFAULT '',
	order_number VARCHAR(64) NOT NULL DEFAULT '',
	payment_provider VARCHAR(32) NOT NULL DEFAULT '',
	payment_intent_id VARCHAR(255) NOT NULL DEFAULT '',
	failure_reason TEXT NOT NULL DEFAULT '',
	metadata JSONB,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_billing_transactions_store_created ON billing_transactions(store_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_billing_transactions_status_type ON billing_transactions(status, type, created_at);
CREATE INDEX IF NOT EXISTS idx_billing_transactions_intent ON billing_transactions(payment_intent_id) WHERE payment_intent_id <> '';

CREATE TABLE IF NOT EXISTS billing_invoices (
	id VARCHAR(36) PRIMARY KEY,
	store_id VARCHAR(64) NOT NULL REFERENCES billing_accounts(store_id),
	tenant_id VARCHAR(64) NOT NULL,
	invoice_number VARCHAR(32) NOT NULL UNIQUE,
	period_start TIMESTAMP WITH TIME ZONE NOT NULL,
	period_end TIMESTAMP WITH TIME ZONE NOT NULL,
	subtotal NUMERIC(19,4) NOT NULL,
	tax NUMERIC(19,4) NOT NULL DEFAULT 0,
	total NUMERIC(19,4) NOT NULL,
	currency VARCHAR(8) NOT NULL,
	status VARCHAR(16) NOT NULL,
	due_date TIMESTAMP WITH TIME ZONE,
	line_items JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_billing_invoices_store ON billing_invoices(store_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_billing_invoices_period ON billing_invoices(store_id, period_start, period_end);

CREATE TABLE IF NOT EXISTS billing_subscriptions (
	id VARCHAR(36) PRIMARY KEY,
	store_id VARCHAR(64) NOT NULL REFERENCES billing_accounts(store_id),
	tenant_id VARCHAR(64) NOT NULL,
	plan_id VARCHAR(64) NOT NULL,
	status VARCHAR(16) NOT NULL,
	current_period_start TIMESTAMP WITH TIME ZONE NOT NULL,
	current_period_end TIMESTAMP WITH TIME ZONE NOT NULL,
	cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
	external_subscription_ref VARCHAR(255) NOT NULL DEFAULT '',
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_billing_subscriptions_store ON billing_subscriptions(store_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_billing_subscriptions_ref ON billing_subscriptions(external_subscription_ref) WHERE external_subscription_ref <> '';

CREATE TABLE IF NOT EXISTS billing_payment_methods (
	id VARCHAR(36) PRIMARY KEY,
	store_id VARCHAR(64) NOT NULL REFERENCES billing_accounts(store_id),
	tenant_id VARCHAR(64) NOT NULL,
	external_payment_method_ref VARCHAR(255) NOT NULL,
	card_brand VARCHAR(32) NOT NULL DEFAULT '',
	card_last4 VARCHAR(4) NOT NULL DEFAULT '',
	card_exp_month INTEGER NOT NULL DEFAULT 0,
	card_exp_year INTEGER NOT NULL DEFAULT 0,
	is_default BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_billing_payment_methods_store ON billing_payment_methods(store_id);
`

// Migrate applies the billing schema. Statements are idempotent, so
// running it on every startup is safe.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply billing schema: %w", err)
	}
	return nil
}
