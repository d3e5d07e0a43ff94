// Package billing implements the merchant billing ledger and fee engine.
//
// # Overview
//
// Every store owns exactly one ledger account holding a prepaid balance.
// The platform debits a per-order fee from that balance, merchants credit
// it through payment-gateway top-ups, and recurring plans are billed via
// gateway subscriptions. Every balance-affecting event is recorded as an
// immutable transaction row, and the account balance always equals the sum
// of its completed transaction amounts.
//
// # Components
//
//   - Account manager: lazy one-per-store account creation and settings.
//   - Transaction journal: the only code path that mutates a balance.
//   - Fee engine: per-order platform fee charges with an insufficient
//     balance guard and low-balance / auto-top-up side effects.
//   - Top-up orchestrator: pending -> completed top-up lifecycle through
//     the payment gateway, completed synchronously or by webhook.
//   - Webhook reconciler: verifies, parses, and idempotently applies
//     asynchronous gateway events.
//   - Subscription manager and invoice generator.
//
// # Usage Example
//
// Charge an order fee:
//
//	tx, err := svc.ChargeOrderFee(ctx, storeID, orderID, orderNumber, orderTotal)
//	if errors.Is(err, billing.ErrInsufficientBalance) {
//	    // surface to the merchant; the order was not charged
//	}
//
// Create a top-up:
//
//	result, err := svc.CreateTopUp(ctx, storeID, decimal.NewFromInt(50), "")
//	if result.RequiresAction {
//	    // hand result.ClientSecret to the storefront to confirm the payment
//	}
//
// # Related Packages
//
//   - pkg/billing/postgres: PostgreSQL ledger store
//   - pkg/billing/memory: in-memory ledger store for tests and offline mode
//   - pkg/gateway: payment gateway abstraction
//   - pkg/notify: fire-and-forget notification dispatch
package billing
