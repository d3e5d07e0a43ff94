// Package gateway defines the payment gateway abstraction the billing
// ledger talks to, plus the shared webhook signature scheme.
//
// The ledger never depends on a concrete payment provider. Anything that
// can create customers, payment intents, and subscriptions, and that signs
// its webhook deliveries with the HMAC scheme in this package, can sit
// behind the Gateway interface. A configurable Fake implementation is
// provided for tests and for running the service without a provider.
package gateway
