package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const stripeAPIBase = "https://api.stripe.com/v1"

// StripeGateway implements Gateway against the Stripe REST API.
//
// Amounts cross the wire in the currency's minor unit; TND uses 3 decimal
// places (millimes), most other currencies 2.
type StripeGateway struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway creates a Stripe-backed gateway.
func NewStripeGateway(apiKey string) *StripeGateway {
	return &StripeGateway{
		apiKey:  apiKey,
		baseURL: stripeAPIBase,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// NewStripeGatewayWithBaseURL is used by tests to point at a stub server.
func NewStripeGatewayWithBaseURL(apiKey, baseURL string) *StripeGateway {
	g := NewStripeGateway(apiKey)
	g.baseURL = strings.TrimRight(baseURL, "/")
	return g
}

func (g *StripeGateway) Name() string { return "stripe" }

func (g *StripeGateway) CreateCustomer(ctx context.Context, metadata map[string]string) (string, error) {
	form := url.Values{}
	for k, v := range metadata {
		form.Set("metadata["+k+"]", v)
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := g.do(ctx, "POST", "/customers", form, "", &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

type stripeIntent struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	ClientSecret string            `json:"client_secret"`
	Metadata     map[string]string `json:"metadata"`
	LastError    *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", minorUnits(req.Amount, req.Currency))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("customer", req.CustomerRef)
	form.Set("confirm", "true")
	if req.PaymentMethodRef != "" {
		form.Set("payment_method", req.PaymentMethodRef)
	}
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	var resp stripeIntent
	if err := g.do(ctx, "POST", "/payment_intents", form, req.IdempotencyKey, &resp); err != nil {
		return nil, err
	}
	return intentFromStripe(&resp), nil
}

func (g *StripeGateway) GetPaymentIntent(ctx context.Context, ref string) (*PaymentIntent, error) {
	var resp stripeIntent
	if err := g.do(ctx, "GET", "/payment_intents/"+url.PathEscape(ref), nil, "", &resp); err != nil {
		return nil, err
	}
	return intentFromStripe(&resp), nil
}

func (g *StripeGateway) AttachPaymentMethod(ctx context.Context, customerRef, methodRef string) (*CardSummary, error) {
	form := url.Values{}
	form.Set("customer", customerRef)

	var resp struct {
		ID   string `json:"id"`
		Card struct {
			Brand    string `json:"brand"`
			Last4    string `json:"last4"`
			ExpMonth int    `json:"exp_month"`
			ExpYear  int    `json:"exp_year"`
		} `json:"card"`
	}
	path := "/payment_methods/" + url.PathEscape(methodRef) + "/attach"
	if err := g.do(ctx, "POST", path, form, "", &resp); err != nil {
		return nil, err
	}
	return &CardSummary{
		Ref:      resp.ID,
		Brand:    resp.Card.Brand,
		Last4:    resp.Card.Last4,
		ExpMonth: resp.Card.ExpMonth,
		ExpYear:  resp.Card.ExpYear,
	}, nil
}

func (g *StripeGateway) CreateSubscription(ctx context.Context, customerRef, planRef, methodRef string) (*SubscriptionInfo, error) {
	form := url.Values{}
	form.Set("customer", customerRef)
	form.Set("items[0][price]", planRef)
	if methodRef != "" {
		form.Set("default_payment_method", methodRef)
	}

	var resp struct {
		ID                 string `json:"id"`
		Status             string `json:"status"`
		CurrentPeriodStart int64  `json:"current_period_start"`
		CurrentPeriodEnd   int64  `json:"current_period_end"`
	}
	if err := g.do(ctx, "POST", "/subscriptions", form, "", &resp); err != nil {
		return nil, err
	}
	return &SubscriptionInfo{
		Ref:         resp.ID,
		Status:      resp.Status,
		PeriodStart: time.Unix(resp.CurrentPeriodStart, 0).UTC(),
		PeriodEnd:   time.Unix(resp.CurrentPeriodEnd, 0).UTC(),
	}, nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, ref string, atPeriodEnd bool) error {
	if atPeriodEnd {
		form := url.Values{}
		form.Set("cancel_at_period_end", "true")
		return g.do(ctx, "POST", "/subscriptions/"+url.PathEscape(ref), form, "", nil)
	}
	return g.do(ctx, "DELETE", "/subscriptions/"+url.PathEscape(ref), nil, "", nil)
}

// VerifyWebhookSignature checks Stripe's signature scheme: the header
// carries a timestamp and one or more v1 HMAC-SHA256 signatures computed
// over "<timestamp>.<payload>".
func (g *StripeGateway) VerifyWebhookSignature(payload []byte, signature, secret string) (*Event, error) {
	var timestamp string
	var candidates []string
	for _, part := range strings.Split(signature, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			candidates = append(candidates, kv[1])
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return nil, ErrSignatureMismatch
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	valid := false
	for _, candidate := range candidates {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(expected)) == 1 {
			valid = true
		}
	}
	if !valid {
		return nil, ErrSignatureMismatch
	}

	return parseStripeEvent(payload)
}

func parseStripeEvent(payload []byte) (*Event, error) {
	var raw struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}

	event := &Event{ID: raw.ID, Type: raw.Type}
	switch {
	case strings.HasPrefix(raw.Type, "payment_intent."):
		var intent stripeIntent
		if err := json.Unmarshal(raw.Data.Object, &intent); err != nil {
			return nil, fmt.Errorf("failed to decode payment intent: %w", err)
		}
		pi := &PaymentIntentEvent{
			Ref:      intent.ID,
			Status:   intent.Status,
			Metadata: intent.Metadata,
		}
		if intent.LastError != nil {
			pi.FailureMsg = intent.LastError.Message
		}
		event.PaymentIntent = pi
	case strings.HasPrefix(raw.Type, "customer.subscription."):
		var sub struct {
			ID                 string `json:"id"`
			Status             string `json:"status"`
			CurrentPeriodStart int64  `json:"current_period_start"`
			CurrentPeriodEnd   int64  `json:"current_period_end"`
			CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
		}
		if err := json.Unmarshal(raw.Data.Object, &sub); err != nil {
			return nil, fmt.Errorf("failed to decode subscription: %w", err)
		}
		event.Subscription = &SubscriptionEvent{
			Ref:               sub.ID,
			Status:            sub.Status,
			PeriodStart:       time.Unix(sub.CurrentPeriodStart, 0).UTC(),
			PeriodEnd:         time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		}
	}
	return event, nil
}

// stripeError is Stripe's error envelope.
type stripeError struct {
	Err struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *StripeGateway) do(ctx context.Context, method, path string, form url.Values, idempotencyKey string, out interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var serr stripeError
		if json.Unmarshal(data, &serr) == nil && serr.Err.Message != "" {
			return fmt.Errorf("stripe error (%s): %s", serr.Err.Type, serr.Err.Message)
		}
		return fmt.Errorf("stripe returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func intentFromStripe(intent *stripeIntent) *PaymentIntent {
	pi := &PaymentIntent{
		Ref:          intent.ID,
		ClientSecret: intent.ClientSecret,
	}
	switch intent.Status {
	case "succeeded":
		pi.Status = IntentStatusSucceeded
	case "requires_action", "requires_confirmation":
		pi.Status = IntentStatusRequiresAction
	default:
		pi.Status = IntentStatusFailed
	}
	if intent.LastError != nil {
		pi.FailureMsg = intent.LastError.Message
	}
	return pi
}

// minorUnits renders a decimal amount in the currency's minor unit.
// Three-decimal currencies (TND, KWD, BHD) use thousandths.
func minorUnits(amount decimal.Decimal, currency string) string {
	exp := int32(2)
	switch strings.ToUpper(currency) {
	case "TND", "KWD", "BHD", "OMR", "JOD":
		exp = 3
	case "JPY", "KRW", "VND":
		exp = 0
	}
	return strconv.FormatInt(amount.Shift(exp).Round(0).IntPart(), 10)
}
