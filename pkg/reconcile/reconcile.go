// Package reconcile settles pending top-ups whose webhook never arrived.
//
// A top-up can be left pending when the gateway call timed out or the
// completion webhook was lost. The sweeper periodically lists pending
// top-ups older than a staleness cutoff, asks the gateway for the intent's
// terminal state, and completes or fails the transaction accordingly.
// Completion goes through the same status-guarded path as the webhook
// handler, so a sweep racing a late webhook still credits at most once.
package reconcile

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/commercebase/billing/pkg/billing"
	"github.com/commercebase/billing/pkg/gateway"
	"github.com/commercebase/billing/pkg/observability"
)

// Settler is the part of the billing service the sweeper drives.
type Settler interface {
	CompleteTopUp(ctx context.Context, storeID, transactionID, gatewayRef string) (*billing.Transaction, error)
	FailTopUp(ctx context.Context, storeID, transactionID, reason string) (*billing.Transaction, error)
}

// Lister is the store subset the sweeper reads.
type Lister interface {
	ListStalePendingTopUps(ctx context.Context, cutoff time.Time, limit int) ([]*billing.Transaction, error)
}

// Config controls sweep cadence and batch shape.
type Config struct {
	// Schedule is a cron expression, e.g. "@every 5m".
	Schedule string
	// StaleAfter is how long a top-up may stay pending before the sweep
	// picks it up. Must comfortably exceed gateway webhook latency.
	StaleAfter time.Duration
	// BatchSize caps transactions per sweep.
	BatchSize int
	// SweepTimeout bounds one sweep run.
	SweepTimeout time.Duration
}

// Sweeper periodically reconciles stale pending top-ups against the gateway.
type Sweeper struct {
	settler Settler
	lister  Lister
	gw      gateway.Gateway
	logger  *observability.Logger
	config  Config
	cron    *cron.Cron
}

// NewSweeper builds a sweeper. gw may be nil (offline mode); the sweeper
// then fails stale top-ups instead of querying the gateway, since offline
// top-ups complete synchronously and a stale pending row is an anomaly.
func NewSweeper(settler Settler, lister Lister, gw gateway.Gateway, logger *observability.Logger, config Config) *Sweeper {
	if config.SweepTimeout <= 0 {
		config.SweepTimeout = 2 * time.Minute
	}
	return &Sweeper{
		settler: settler,
		lister:  lister,
		gw:      gw,
		logger:  logger.WithField("component", "reconcile"),
		config:  config,
		cron:    cron.New(),
	}
}

// Start schedules the sweep and begins running it.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.config.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.SweepTimeout)
		defer cancel()
		if err := s.Sweep(ctx); err != nil {
			s.logger.WithError(err).Error("reconciliation sweep failed")
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.WithField("schedule", s.config.Schedule).Info("reconciliation sweeper started")
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep reconciles one batch of stale pending top-ups.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-s.config.StaleAfter)
	stale, err := s.lister.ListStalePendingTopUps(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	s.logger.WithField("count", len(stale)).Info("reconciling stale pending top-ups")
	for _, tx := range stale {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.reconcileOne(ctx, tx)
	}
	return nil
}

func (s *Sweeper) reconcileOne(ctx context.Context, tx *billing.Transaction) {
	logger := s.logger.WithFields(map[string]interface{}{
		"store_id":       tx.StoreID,
		"transaction_id": tx.ID,
	})

	if s.gw == nil || tx.PaymentIntentID == "" {
		// No gateway to ask, or the intent was never created. The charge
		// cannot have succeeded; fail the row so it stops surfacing.
		if _, err := s.settler.FailTopUp(ctx, tx.StoreID, tx.ID, "abandoned before gateway confirmation"); err != nil {
			logger.WithError(err).Error("failed to fail abandoned top-up")
		} else {
			logger.Info("abandoned top-up marked failed")
		}
		return
	}

	intent, err := s.gw.GetPaymentIntent(ctx, tx.PaymentIntentID)
	if err != nil {
		// Transient; the next sweep retries.
		logger.WithError(err).Warn("failed to query payment intent, will retry")
		return
	}

	switch intent.Status {
	case gateway.IntentStatusSucceeded:
		if _, err := s.settler.CompleteTopUp(ctx, tx.StoreID, tx.ID, intent.Ref); err != nil {
			logger.WithError(err).Error("failed to complete reconciled top-up")
			return
		}
		logger.Info("stale top-up reconciled as completed")
	case gateway.IntentStatusFailed:
		reason := intent.FailureMsg
		if reason == "" {
			reason = "payment failed"
		}
		if _, err := s.settler.FailTopUp(ctx, tx.StoreID, tx.ID, reason); err != nil {
			logger.WithError(err).Error("failed to fail reconciled top-up")
			return
		}
		logger.Info("stale top-up reconciled as failed")
	default:
		// Still awaiting client action; leave it for a later sweep.
		logger.Debug("top-up still requires action, leaving pending")
	}
}
