package api

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/commercebase/billing/pkg/billing"
	"github.com/commercebase/billing/pkg/httputil"
	"github.com/commercebase/billing/pkg/observability"
)

// maxWebhookBody caps webhook payload size at 1 MiB.
const maxWebhookBody = 1 << 20

// WebhookHandlers handles payment gateway callbacks.
type WebhookHandlers struct {
	service *billing.Service
	logger  *observability.Logger
}

// NewWebhookHandlers creates a new WebhookHandlers
func NewWebhookHandlers(service *billing.Service, logger *observability.Logger) *WebhookHandlers {
	return &WebhookHandlers{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers webhook routes
func (h *WebhookHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/payment", h.HandlePaymentWebhook).Methods("POST")
}

// HandlePaymentWebhook verifies and processes one gateway event. A 2xx
// acknowledges the delivery; a 5xx asks the gateway to redeliver, so only
// transient processing errors return one.
func (h *WebhookHandlers) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httputil.WriteValidationError(w, "failed to read request body")
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")
	if signature == "" {
		httputil.WriteValidationError(w, "missing webhook signature")
		return
	}

	if err := h.service.HandleWebhookEvent(r.Context(), payload, signature); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "ok"})
}
