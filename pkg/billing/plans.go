package billing

import (
	"sync"

	"github.com/shopspring/decimal"
)

// PlanTier tags a subscription plan's tier.
type PlanTier string

const (
	PlanTierFree   PlanTier = "free"
	PlanTierGrowth PlanTier = "growth"
	PlanTierScale  PlanTier = "scale"
)

// PlanLimits holds the feature limits granted by a plan.
type PlanLimits struct {
	MaxProducts       int  `json:"max_products"`
	MaxOrdersPerMonth int  `json:"max_orders_per_month"`
	MaxStaffAccounts  int  `json:"max_staff_accounts"`
	CustomDomain      bool `json:"custom_domain"`
}

// Plan describes one subscription plan. A zero Price means the plan is
// free: subscribing to it never touches the payment gateway.
type Plan struct {
	ID             string          `json:"id"`
	Tier           PlanTier        `json:"tier"`
	Name           string          `json:"name"`
	Price          decimal.Decimal `json:"price"`
	Currency       string          `json:"currency"`
	Interval       string          `json:"interval"`
	GatewayPlanRef string          `json:"gateway_plan_ref,omitempty"`
	Limits         PlanLimits      `json:"limits"`
}

// PlanCatalog is the injected, swappable set of available plans. Pricing
// changes are applied by calling Replace with a new plan list (loaded from
// configuration or an admin surface) instead of redeploying.
type PlanCatalog struct {
	mu    sync.RWMutex
	plans map[string]Plan
	order []string
}

// NewPlanCatalog creates a catalog from the given plans.
func NewPlanCatalog(plans []Plan) *PlanCatalog {
	c := &PlanCatalog{}
	c.Replace(plans)
	return c
}

// Get returns the plan with the given id.
func (c *PlanCatalog) Get(id string) (Plan, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plans[id]
	return p, ok
}

// List returns all plans in catalog order.
func (c *PlanCatalog) List() []Plan {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.plans[id])
	}
	return out
}

// Replace swaps the entire catalog atomically.
func (c *PlanCatalog) Replace(plans []Plan) {
	m := make(map[string]Plan, len(plans))
	order := make([]string, 0, len(plans))
	for _, p := range plans {
		if _, dup := m[p.ID]; !dup {
			order = append(order, p.ID)
		}
		m[p.ID] = p
	}
	c.mu.Lock()
	c.plans = m
	c.order = order
	c.mu.Unlock()
}

// DefaultPlans returns the stock plan catalog in the given currency.
func DefaultPlans(currency string) []Plan {
	return []Plan{
		{
			ID:       "plan_free",
			Tier:     PlanTierFree,
			Name:     "Free",
			Price:    decimal.Zero,
			Currency: currency,
			Interval: "month",
			Limits: PlanLimits{
				MaxProducts:       20,
				MaxOrdersPerMonth: 100,
				MaxStaffAccounts:  1,
			},
		},
		{
			ID:             "plan_growth",
			Tier:           PlanTierGrowth,
			Name:           "Growth",
			Price:          decimal.NewFromInt(29),
			Currency:       currency,
			Interval:       "month",
			GatewayPlanRef: "price_growth_monthly",
			Limits: PlanLimits{
				MaxProducts:       500,
				MaxOrdersPerMonth: 5000,
				MaxStaffAccounts:  5,
				CustomDomain:      true,
			},
		},
		{
			ID:             "plan_scale",
			Tier:           PlanTierScale,
			Name:           "Scale",
			Price:          decimal.NewFromInt(99),
			Currency:       currency,
			Interval:       "month",
			GatewayPlanRef: "price_scale_monthly",
			Limits: PlanLimits{
				MaxProducts:       10000,
				MaxOrdersPerMonth: 100000,
				MaxStaffAccounts:  25,
				CustomDomain:      true,
			},
		},
	}
}
