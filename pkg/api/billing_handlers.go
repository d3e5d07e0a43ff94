package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/commercebase/billing/pkg/billing"
	"github.com/commercebase/billing/pkg/httputil"
	"github.com/commercebase/billing/pkg/observability"
)

// BillingHandlers handles billing-related HTTP requests
type BillingHandlers struct {
	service *billing.Service
	logger  *observability.Logger
}

// NewBillingHandlers creates a new BillingHandlers
func NewBillingHandlers(service *billing.Service, logger *observability.Logger) *BillingHandlers {
	return &BillingHandlers{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers billing routes
func (h *BillingHandlers) RegisterRoutes(router *mux.Router) {
	// Account
	router.HandleFunc("/stores/{store_id}/balance", h.GetBalance).Methods("GET")
	router.HandleFunc("/stores/{store_id}/settings", h.UpdateSettings).Methods("PATCH")

	// Transactions
	router.HandleFunc("/stores/{store_id}/transactions", h.ListTransactions).Methods("GET")
	router.HandleFunc("/stores/{store_id}/top-ups", h.CreateTopUp).Methods("POST")
	router.HandleFunc("/stores/{store_id}/fees", h.ChargeOrderFee).Methods("POST")

	// Subscriptions
	router.HandleFunc("/stores/{store_id}/subscription", h.CreateSubscription).Methods("POST")
	router.HandleFunc("/stores/{store_id}/subscription", h.GetSubscription).Methods("GET")
	router.HandleFunc("/stores/{store_id}/subscription/cancel", h.CancelSubscription).Methods("POST")
	router.HandleFunc("/plans", h.ListPlans).Methods("GET")

	// Invoices
	router.HandleFunc("/stores/{store_id}/invoices", h.ListInvoices).Methods("GET")
	router.HandleFunc("/stores/{store_id}/invoices", h.GenerateInvoice).Methods("POST")
	router.HandleFunc("/stores/{store_id}/invoices/{invoice_id}", h.GetInvoice).Methods("GET")

	// Payment methods
	router.HandleFunc("/stores/{store_id}/payment-methods", h.AttachPaymentMethod).Methods("POST")
	router.HandleFunc("/stores/{store_id}/payment-methods", h.ListPaymentMethods).Methods("GET")
	router.HandleFunc("/stores/{store_id}/payment-methods/{pm_id}/default", h.SetDefaultPaymentMethod).Methods("PUT")
	router.HandleFunc("/stores/{store_id}/payment-methods/{pm_id}", h.RemovePaymentMethod).Methods("DELETE")
}

// GetBalance returns the store's ledger account.
func (h *BillingHandlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	storeID, tenantID := storeScope(r)
	account, err := h.service.GetBalance(r.Context(), tenantID, storeID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, account)
}

// UpdateSettings patches the store's billing settings.
func (h *BillingHandlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	storeID, tenantID := storeScope(r)

	var patch billing.AccountSettings
	if err := httputil.DecodeJSON(r, &patch); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}

	account, err := h.service.UpdateAccountSettings(r.Context(), tenantID, storeID, patch)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, account)
}

// ListTransactions returns the store's transaction history, newest first.
func (h *BillingHandlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	storeID, tenantID := storeScope(r)
	limit := httputil.QueryInt(r, "limit", 50)
	offset := httputil.QueryInt(r, "offset", 0)

	transactions, err := h.service.ListTransactions(r.Context(), tenantID, storeID, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"transactions": transactions,
		"limit":        limit,
		"offset":       offset,
	})
}

type topUpRequest struct {
	Amount           decimal.Decimal `json:"amount"`
	PaymentMethodRef string          `json:"payment_method_ref,omitempty"`
}

// CreateTopUp starts a balance top-up.
func (h *BillingHandlers) CreateTopUp(w http.ResponseWriter, r *http.Request) {
	storeID, tenantID := storeScope(r)

	var req topUpRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}

	result, err := h.service.CreateTopUp(r.Context(), tenantID, storeID, req.Amount, req.PaymentMethodRef)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if result.RequiresAction {
		// 202: the charge needs client-side confirmation before the
		// balance is credited.
		httputil.WriteJSON(w, http.StatusAccepted, result)
		return
	}
	httputil.WriteCreated(w, result)
}

type orderFeeRequest struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number,omitempty"`
	OrderTotal  decimal.Decimal `json:"order_total"`
}

// ChargeOrderFee debits the per-order processing fee.
func (h *BillingHandlers) ChargeOrderFee(w http.ResponseWriter, r *http.Request) {
	storeID, tenantID := storeScope(r)

	var req orderFeeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}
	if req.OrderID == "" {
		httputil.WriteValidationError(w, "order_id is required")
		return
	}

	tx, err := h.service.ChargeOrderFee(r.Context(), tenantID, storeID, req.OrderID, req.OrderNumber, req.OrderTotal)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if tx == nil {
		// Fee rounded to zero; nothing was charged.
		httputil.WriteNoContent(w)
		return
	}
	httputil.WriteCreated(w, tx)
}

type subscriptionRequest struct {
	PlanID           string `json:"plan_id"`
	PaymentMethodRef string `json:"payment_method_ref,omitempty"`
}

// CreateSubscription subscribes the store to a plan.
func (h *BillingHandlers) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	storeID, tenantID := storeScope(r)

	var req subscriptionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}

	sub, err := h.service.CreateSubscription(r.Context(), tenantID, storeID, req.PlanID, req.PaymentMethodRef)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, sub)
}

// GetSubscription returns the store's current subscription.
func (h *BillingHandlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	storeID, _ := storeScope(r)
	sub, err := h.service.GetCurrentSubscription(r.Context(), storeID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

type cancelSubscriptionRequest struct {
	AtPeriodEnd bool `json:"at_period_end"`
}

// CancelSubscription cancels the store's subscription.
func (h *BillingHandlers) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	storeID, _ := storeScope(r)

	var req cancelSubscriptionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}

	sub, err := h.service.CancelSubscription(r.Context(), storeID, req.AtPeriodEnd)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// ListPlans returns the plan catalog.
func (h *BillingHandlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{
		"plans": h.service.Catalog().List(),
	})
}

// ListInvoices returns the store's invoices, newest first.
func (h *BillingHandlers) ListInvoices(w http.ResponseWriter, r *http.Request) {
	storeID, _ := storeScope(r)
	limit := httputil.QueryInt(r, "limit", 50)

	invoices, err := h.service.ListInvoices(r.Context(), storeID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"invoices": invoices,
	})
}

type generateInvoiceRequest struct {
	PeriodStart *time.Time `json:"period_start,omitempty"`
	PeriodEnd   *time.Time `json:"period_end,omitempty"`
	// Month selects a calendar month, e.g. "2026-08". Mutually exclusive
	// with an explicit period.
	Month string `json:"month,omitempty"`
}

// GenerateInvoice creates an invoice for an explicit period or a calendar
// month.
func (h *BillingHandlers) GenerateInvoice(w http.ResponseWriter, r *http.Request) {
	storeID, tenantID := storeScope(r)

	var req generateInvoiceRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}

	var invoice *billing.Invoice
	var err error
	switch {
	case req.Month != "":
		var month time.Time
		month, err = time.Parse("2006-01", req.Month)
		if err != nil {
			httputil.WriteValidationError(w, "month must be formatted as YYYY-MM")
			return
		}
		invoice, err = h.service.GenerateMonthlyInvoice(r.Context(), tenantID, storeID, month)
	case req.PeriodStart != nil && req.PeriodEnd != nil:
		invoice, err = h.service.GenerateInvoice(r.Context(), tenantID, storeID, *req.PeriodStart, *req.PeriodEnd)
	default:
		httputil.WriteValidationError(w, "either month or period_start and period_end are required")
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, invoice)
}

// GetInvoice returns one invoice.
func (h *BillingHandlers) GetInvoice(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	invoice, err := h.service.GetInvoice(r.Context(), vars["store_id"], vars["invoice_id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, invoice)
}

type attachPaymentMethodRequest struct {
	PaymentMethodRef string `json:"payment_method_ref"`
	MakeDefault      bool   `json:"make_default"`
}

// AttachPaymentMethod attaches a gateway payment method to the store.
func (h *BillingHandlers) AttachPaymentMethod(w http.ResponseWriter, r *http.Request) {
	storeID, tenantID := storeScope(r)

	var req attachPaymentMethodRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}

	pm, err := h.service.AttachPaymentMethod(r.Context(), tenantID, storeID, req.PaymentMethodRef, req.MakeDefault)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, pm)
}

// ListPaymentMethods returns the store's payment methods, default first.
func (h *BillingHandlers) ListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	storeID, _ := storeScope(r)
	methods, err := h.service.ListPaymentMethods(r.Context(), storeID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"payment_methods": methods,
	})
}

// SetDefaultPaymentMethod marks a payment method as the store's default.
func (h *BillingHandlers) SetDefaultPaymentMethod(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.service.SetDefaultPaymentMethod(r.Context(), vars["store_id"], vars["pm_id"]); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// RemovePaymentMethod deletes a stored payment method.
func (h *BillingHandlers) RemovePaymentMethod(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.service.RemovePaymentMethod(r.Context(), vars["store_id"], vars["pm_id"]); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// storeScope extracts the store id from the path and the tenant id from the
// X-Tenant-ID header set by the upstream gateway.
func storeScope(r *http.Request) (storeID, tenantID string) {
	return mux.Vars(r)["store_id"], r.Header.Get("X-Tenant-ID")
}

// writeServiceError maps service errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var validationErr *billing.ValidationError
	var gatewayErr *billing.GatewayError
	switch {
	case errors.As(err, &validationErr):
		httputil.WriteValidationError(w, validationErr.Error())
	case errors.Is(err, billing.ErrInsufficientBalance):
		httputil.WriteErrorMessage(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, billing.ErrNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, billing.ErrSubscriptionExists):
		httputil.WriteErrorMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, billing.ErrInvoicePeriodOverlap):
		httputil.WriteErrorMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, billing.ErrSignatureInvalid):
		httputil.WriteErrorMessage(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &gatewayErr):
		httputil.WriteErrorMessage(w, http.StatusBadGateway, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}
