package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AttachPaymentMethod attaches a gateway payment method to the store's
// customer and stores its card summary. The first method attached becomes
// the default; makeDefault promotes a later one.
func (s *Service) AttachPaymentMethod(ctx context.Context, tenantID, storeID, methodRef string, makeDefault bool) (*PaymentMethod, error) {
	if methodRef == "" {
		return nil, &ValidationError{Field: "payment_method_ref", Message: "payment method reference is required"}
	}
	if s.gw == nil {
		return nil, &ValidationError{Field: "payment_method_ref", Message: "payment methods require a configured payment gateway"}
	}

	account, err := s.GetOrCreateAccount(ctx, tenantID, storeID)
	if err != nil {
		return nil, err
	}
	customerRef, err := s.ensureCustomer(ctx, account)
	if err != nil {
		return nil, &GatewayError{Op: "create customer", Err: err}
	}

	card, err := s.gw.AttachPaymentMethod(ctx, customerRef, methodRef)
	if err != nil {
		return nil, &GatewayError{Op: "attach payment method", Err: err}
	}

	existing, err := s.store.ListPaymentMethods(ctx, storeID)
	if err != nil {
		return nil, err
	}

	pm := &PaymentMethod{
		ID:                       uuid.NewString(),
		StoreID:                  storeID,
		TenantID:                 tenantID,
		ExternalPaymentMethodRef: card.Ref,
		CardBrand:                card.Brand,
		CardLast4:                card.Last4,
		CardExpMonth:             card.ExpMonth,
		CardExpYear:              card.ExpYear,
		IsDefault:                makeDefault || len(existing) == 0,
		CreatedAt:                time.Now().UTC(),
	}

	created, err := s.store.CreatePaymentMethod(ctx, pm)
	if err != nil {
		return nil, err
	}
	s.logger.WithStore(tenantID, storeID).WithFields(map[string]interface{}{
		"card_brand": card.Brand,
		"card_last4": card.Last4,
	}).Info("payment method attached")
	return created, nil
}

// ListPaymentMethods returns the store's payment methods, default first.
func (s *Service) ListPaymentMethods(ctx context.Context, storeID string) ([]*PaymentMethod, error) {
	return s.store.ListPaymentMethods(ctx, storeID)
}

// SetDefaultPaymentMethod marks the given method as the store's default.
func (s *Service) SetDefaultPaymentMethod(ctx context.Context, storeID, paymentMethodID string) error {
	return s.store.SetDefaultPaymentMethod(ctx, storeID, paymentMethodID)
}

// RemovePaymentMethod deletes a stored payment method.
func (s *Service) RemovePaymentMethod(ctx context.Context, storeID, paymentMethodID string) error {
	return s.store.RemovePaymentMethod(ctx, storeID, paymentMethodID)
}
