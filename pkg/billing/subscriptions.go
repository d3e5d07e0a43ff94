package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/commercebase/billing/pkg/gateway"
	"github.com/commercebase/billing/pkg/notify"
)

// CreateSubscription subscribes the store to a plan. A store holds at most
// one non-cancelled subscription; attempting a second returns
// ErrSubscriptionExists.
//
// Zero-price plans activate locally with a one-month period and never
// touch the gateway. Priced plans require a configured gateway and a
// payment method; subsequent period rollovers and dunning transitions
// arrive through subscription webhook events.
func (s *Service) CreateSubscription(ctx context.Context, tenantID, storeID, planID, paymentMethodRef string) (*Subscription, error) {
	plan, ok := s.catalog.Get(planID)
	if !ok {
		return nil, &ValidationError{Field: "plan_id", Message: fmt.Sprintf("unknown plan %q", planID)}
	}

	if existing, err := s.store.GetCurrentSubscription(ctx, storeID); err == nil && existing != nil {
		return nil, ErrSubscriptionExists
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to check current subscription: %w", err)
	}

	account, err := s.GetOrCreateAccount(ctx, tenantID, storeID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sub := &Subscription{
		ID:        uuid.NewString(),
		StoreID:   storeID,
		TenantID:  tenantID,
		PlanID:    plan.ID,
		Status:    SubscriptionStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if plan.Price.IsZero() {
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = now.AddDate(0, 1, 0)
		created, err := s.store.CreateSubscription(ctx, sub)
		if err != nil {
			return nil, err
		}
		s.logger.WithStore(tenantID, storeID).WithField("plan_id", plan.ID).
			Info("free plan subscription activated")
		return created, nil
	}

	if s.gw == nil {
		return nil, &ValidationError{Field: "plan_id", Message: "paid plans require a configured payment gateway"}
	}
	if plan.GatewayPlanRef == "" {
		return nil, &ValidationError{Field: "plan_id", Message: fmt.Sprintf("plan %q has no gateway price configured", planID)}
	}

	customerRef, err := s.ensureCustomer(ctx, account)
	if err != nil {
		return nil, &GatewayError{Op: "create customer", Err: err}
	}

	if paymentMethodRef == "" {
		pm, err := s.store.DefaultPaymentMethod(ctx, storeID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, &ValidationError{Field: "payment_method", Message: "a payment method is required for paid plans"}
			}
			return nil, err
		}
		paymentMethodRef = pm.ExternalPaymentMethodRef
	}

	info, err := s.gw.CreateSubscription(ctx, customerRef, plan.GatewayPlanRef, paymentMethodRef)
	if err != nil {
		return nil, &GatewayError{Op: "create subscription", Err: err}
	}

	sub.Status = mapSubscriptionStatus(info.Status)
	sub.CurrentPeriodStart = info.PeriodStart
	sub.CurrentPeriodEnd = info.PeriodEnd
	sub.ExternalSubscriptionRef = info.Ref

	created, err := s.store.CreateSubscription(ctx, sub)
	if err != nil {
		return nil, err
	}

	s.logger.WithStore(tenantID, storeID).WithFields(map[string]interface{}{
		"plan_id":          plan.ID,
		"subscription_ref": info.Ref,
	}).Info("subscription created")
	return created, nil
}

// GetCurrentSubscription returns the store's active or past_due
// subscription, or ErrNotFound.
func (s *Service) GetCurrentSubscription(ctx context.Context, storeID string) (*Subscription, error) {
	return s.store.GetCurrentSubscription(ctx, storeID)
}

// CancelSubscription cancels the store's subscription. With atPeriodEnd the
// subscription stays active until the period closes and the gateway emits
// the terminal event; otherwise it is cancelled immediately.
//
// A subscription without a gateway ref (free plan, or created offline) has
// no external clock to close the period, so it is cancelled immediately
// even when atPeriodEnd is set.
func (s *Service) CancelSubscription(ctx context.Context, storeID string, atPeriodEnd bool) (*Subscription, error) {
	sub, err := s.store.GetCurrentSubscription(ctx, storeID)
	if err != nil {
		return nil, err
	}

	if sub.ExternalSubscriptionRef != "" && s.gw != nil {
		if err := s.gw.CancelSubscription(ctx, sub.ExternalSubscriptionRef, atPeriodEnd); err != nil {
			return nil, &GatewayError{Op: "cancel subscription", Err: err}
		}
	}

	if atPeriodEnd && sub.ExternalSubscriptionRef != "" {
		sub.CancelAtPeriodEnd = true
	} else {
		sub.Status = SubscriptionStatusCancelled
	}
	sub.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	s.logger.WithStore(sub.TenantID, storeID).WithFields(map[string]interface{}{
		"subscription_id": sub.ID,
		"at_period_end":   atPeriodEnd,
	}).Info("subscription cancelled")
	return sub, nil
}

// applySubscriptionEvent folds a gateway subscription event into local
// state. Events for refs we do not hold, or for a subscription that is no
// longer the store's current one, are acknowledged without effect.
func (s *Service) applySubscriptionEvent(ctx context.Context, event *gateway.Event) error {
	payload := event.Subscription
	if payload == nil {
		return nil
	}

	sub, err := s.store.GetSubscriptionByRef(ctx, payload.Ref)
	if errors.Is(err, ErrNotFound) {
		s.logger.WithField("subscription_ref", payload.Ref).
			Debug("subscription event for unknown ref, ignoring")
		return nil
	}
	if err != nil {
		return err
	}

	current, err := s.store.GetCurrentSubscription(ctx, sub.StoreID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if current == nil || current.ID != sub.ID {
		// Stale ref from a replaced subscription.
		return nil
	}

	prevStatus := sub.Status
	if event.Type == gateway.EventSubscriptionDeleted {
		sub.Status = SubscriptionStatusCancelled
	} else {
		sub.Status = mapSubscriptionStatus(payload.Status)
	}
	if !payload.PeriodStart.IsZero() {
		sub.CurrentPeriodStart = payload.PeriodStart
	}
	if !payload.PeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = payload.PeriodEnd
	}
	sub.CancelAtPeriodEnd = payload.CancelAtPeriodEnd
	sub.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return err
	}

	if sub.Status != prevStatus {
		s.logger.WithStore(sub.TenantID, sub.StoreID).WithFields(map[string]interface{}{
			"subscription_id": sub.ID,
			"from":            string(prevStatus),
			"to":              string(sub.Status),
		}).Info("subscription status changed")
		s.notifyAsync(ctx, notify.TopicSubscriptionStatusChanged, map[string]any{
			"tenant_id":       sub.TenantID,
			"store_id":        sub.StoreID,
			"subscription_id": sub.ID,
			"plan_id":         sub.PlanID,
			"from":            string(prevStatus),
			"to":              string(sub.Status),
		})
	}
	return nil
}

// mapSubscriptionStatus folds gateway statuses into the local state set.
// Dunning states (past_due, unpaid) map to past_due; terminal states map
// to cancelled; everything else counts as active.
func mapSubscriptionStatus(gwStatus string) SubscriptionStatus {
	switch gwStatus {
	case "past_due", "unpaid", "incomplete":
		return SubscriptionStatusPastDue
	case "canceled", "cancelled", "incomplete_expired":
		return SubscriptionStatusCancelled
	default:
		return SubscriptionStatusActive
	}
}
