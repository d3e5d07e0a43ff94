// Package api exposes the billing service over HTTP.
//
// # Overview
//
// The package wires gorilla/mux routing, request logging, panic recovery,
// and the billing handlers into a single http.Server. Store-scoped routes
// live under /v1/stores/{store_id}; the gateway webhook endpoint and the
// health/metrics endpoints sit outside that prefix.
//
// # Components
//
//   - Server: owns the router, middleware chain, and http.Server lifecycle
//   - BillingHandlers: account, transaction, top-up, subscription, invoice,
//     and payment method endpoints
//   - WebhookHandlers: the payment gateway callback endpoint
//
// # Usage Example
//
//	srv := api.NewServer(service, logger, metrics, api.Config{Addr: ":8080"})
//	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
//		log.Fatal(err)
//	}
//
// # Related Packages
//
//   - pkg/billing: the service the handlers call
//   - pkg/httputil: response helpers and middleware
//   - pkg/observability: logging, metrics, and health checks
package api
