// Package notify provides fire-and-forget notification dispatch for
// billing events. Delivery, retry, and templating live in the external
// notification pipeline; this package only enqueues.
package notify
