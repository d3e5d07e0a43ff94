package notify

import "context"

// Topics published by the billing engine.
const (
	TopicBalanceToppedUp           = "balance-topped-up"
	TopicLowBalance                = "low-balance"
	TopicLowBalanceWarning         = "low-balance-warning"
	TopicSubscriptionStatusChanged = "subscription-status-changed"
)

// Notifier enqueues a notification for asynchronous delivery. Enqueue is
// fire-and-forget: failures are logged by callers but never abort the
// billing operation that triggered them.
type Notifier interface {
	Enqueue(ctx context.Context, topic string, payload map[string]any) error
}
