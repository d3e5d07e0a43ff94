package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/commercebase/billing/pkg/async"
	"github.com/commercebase/billing/pkg/gateway"
	"github.com/commercebase/billing/pkg/notify"
	"github.com/commercebase/billing/pkg/observability"
)

// Options holds the business defaults the service applies to new accounts
// and top-ups.
type Options struct {
	DefaultCurrency            string
	DefaultFeeRate             decimal.Decimal
	DefaultLowBalanceThreshold decimal.Decimal
	MinimumTopUp               decimal.Decimal
	WebhookSecret              string
}

// Service wires the billing components together: account manager,
// transaction journal, fee engine, top-up orchestrator, webhook reconciler,
// subscription manager, and invoice generator. A nil gateway puts the
// service in offline mode: top-ups complete immediately with a synthetic
// reference and priced subscriptions are rejected.
type Service struct {
	store    Store
	journal  *Journal
	gw       gateway.Gateway
	notifier notify.Notifier
	catalog  *PlanCatalog
	logger   *observability.Logger
	metrics  *observability.Metrics
	opts     Options

	// run launches fire-and-forget side effects; tests swap in async.Sync().
	run async.Runner
}

// NewService creates a billing service. gw may be nil (offline mode);
// notifier, catalog, logger, and metrics must not be nil.
func NewService(store Store, gw gateway.Gateway, notifier notify.Notifier, catalog *PlanCatalog,
	logger *observability.Logger, metrics *observability.Metrics, opts Options) *Service {
	s := &Service{
		store:    store,
		gw:       gw,
		notifier: notifier,
		catalog:  catalog,
		logger:   logger,
		metrics:  metrics,
		opts:     opts,
		run:      async.SafeGo,
	}
	s.journal = NewJournal(store, metrics)
	return s
}

// Catalog returns the injected plan catalog.
func (s *Service) Catalog() *PlanCatalog { return s.catalog }

// notifyAsync enqueues a notification without blocking or failing the
// billing operation that triggered it.
func (s *Service) notifyAsync(ctx context.Context, topic string, payload map[string]any) {
	s.metrics.NotificationsTotal.WithLabelValues(topic).Inc()
	logger := s.logger.WithField("topic", topic)
	s.run(ctx, 10*time.Second, "notification dispatch", func(ctx context.Context) error {
		if err := s.notifier.Enqueue(ctx, topic, payload); err != nil {
			logger.WithError(err).Warn("failed to enqueue notification")
		}
		return nil
	})
}
