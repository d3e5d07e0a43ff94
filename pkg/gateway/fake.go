package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Fake is an in-memory Gateway for tests and provider-less deployments.
// Outcomes are scripted per call through the Next* fields; unscripted calls
// succeed immediately.
type Fake struct {
	mu sync.Mutex

	// NextIntentStatus controls the status of the next created intent.
	NextIntentStatus IntentStatus
	// NextErr, when set, is returned by the next gateway call and cleared.
	NextErr error
	// FailureMsg is attached to intents created with IntentStatusFailed.
	FailureMsg string

	customers     map[string]map[string]string
	intents       map[string]*PaymentIntent
	subscriptions map[string]*SubscriptionInfo

	// CreateIntentCalls records every intent request for assertions.
	CreateIntentCalls []IntentRequest
}

// NewFake creates a Fake gateway whose calls all succeed.
func NewFake() *Fake {
	return &Fake{
		NextIntentStatus: IntentStatusSucceeded,
		customers:        make(map[string]map[string]string),
		intents:          make(map[string]*PaymentIntent),
		subscriptions:    make(map[string]*SubscriptionInfo),
	}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) takeErr() error {
	err := f.NextErr
	f.NextErr = nil
	return err
}

func (f *Fake) CreateCustomer(ctx context.Context, metadata map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return "", err
	}
	ref := "cus_" + uuid.NewString()[:8]
	f.customers[ref] = metadata
	return ref, nil
}

func (f *Fake) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateIntentCalls = append(f.CreateIntentCalls, req)
	if err := f.takeErr(); err != nil {
		return nil, err
	}

	// Idempotency: a repeated key returns the original intent.
	for _, intent := range f.intents {
		if intent.Ref == "pi_"+req.IdempotencyKey {
			return intent, nil
		}
	}

	intent := &PaymentIntent{
		Ref:    "pi_" + req.IdempotencyKey,
		Status: f.NextIntentStatus,
	}
	switch f.NextIntentStatus {
	case IntentStatusRequiresAction:
		intent.ClientSecret = fmt.Sprintf("%s_secret_%s", intent.Ref, uuid.NewString()[:8])
	case IntentStatusFailed:
		intent.FailureMsg = f.FailureMsg
		if intent.FailureMsg == "" {
			intent.FailureMsg = "card declined"
		}
	}
	f.intents[intent.Ref] = intent
	return intent, nil
}

func (f *Fake) GetPaymentIntent(ctx context.Context, ref string) (*PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return nil, err
	}
	intent, ok := f.intents[ref]
	if !ok {
		return nil, fmt.Errorf("payment intent %s not found", ref)
	}
	return intent, nil
}

func (f *Fake) AttachPaymentMethod(ctx context.Context, customerRef, methodRef string) (*CardSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return nil, err
	}
	return &CardSummary{
		Ref:      methodRef,
		Brand:    "visa",
		Last4:    "4242",
		ExpMonth: 12,
		ExpYear:  time.Now().Year() + 2,
	}, nil
}

func (f *Fake) CreateSubscription(ctx context.Context, customerRef, planRef, methodRef string) (*SubscriptionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return nil, err
	}
	now := time.Now()
	info := &SubscriptionInfo{
		Ref:         "sub_" + uuid.NewString()[:8],
		Status:      "active",
		PeriodStart: now,
		PeriodEnd:   now.AddDate(0, 1, 0),
	}
	f.subscriptions[info.Ref] = info
	return info, nil
}

func (f *Fake) CancelSubscription(ctx context.Context, ref string, atPeriodEnd bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeErr(); err != nil {
		return err
	}
	if sub, ok := f.subscriptions[ref]; ok && !atPeriodEnd {
		sub.Status = "canceled"
	}
	return nil
}

func (f *Fake) VerifyWebhookSignature(payload []byte, signature, secret string) (*Event, error) {
	return ParseEvent(payload, signature, secret)
}

var _ Gateway = (*Fake)(nil)
