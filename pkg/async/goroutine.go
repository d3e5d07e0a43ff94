package async

import (
	"context"
	"log"
	"runtime/debug"
	"time"
)

// Runner launches a background task. It exists as a type so services can
// swap in a synchronous runner in tests where side effects are asserted.
type Runner func(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error)

// SafeGo executes a function in a goroutine with:
//   - context cancellation support
//   - panic recovery
//   - timeout enforcement
//   - error logging
//
// The parent context's cancellation is intentionally detached: a completed
// fee charge must not have its auto-top-up killed because the triggering
// HTTP request already returned.
//
// Example:
//
//	async.SafeGo(ctx, 30*time.Second, "auto top-up", func(ctx context.Context) error {
//	    _, err := svc.CreateTopUp(ctx, storeID, amount, "")
//	    return err
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				log.Printf("[SafeGo] PANIC in %s: %v\nStack trace:\n%s",
					taskName, r, string(debug.Stack()))
			}
		}()

		if err := fn(ctx); err != nil {
			log.Printf("[SafeGo] Error in %s: %v", taskName, err)
		}
	}()
}

// Sync returns a Runner that executes the task inline, for tests.
func Sync() Runner {
	return func(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[Sync] PANIC in %s: %v", taskName, r)
			}
		}()
		if err := fn(ctx); err != nil {
			log.Printf("[Sync] Error in %s: %v", taskName, err)
		}
	}
}
