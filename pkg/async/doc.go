// Package async provides panic-safe, timeout-bound goroutine helpers for
// the fire-and-forget side effects of billing operations (notification
// dispatch, auto top-ups). Use these instead of bare `go func()`.
package async
