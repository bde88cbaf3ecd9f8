package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/printshopapp/printshop/internal/db"
	"github.com/printshopapp/printshop/internal/logging"
)

const defaultRetryBatch = 25

// FulfillmentRetrier periodically re-submits orders whose provider
// submission failed or never ran.
type FulfillmentRetrier struct {
	ledger      Ledger
	submitter   *FulfillmentSubmitter
	interval    time.Duration
	maxAttempts int
	batch       int
	// minAge keeps the retrier away from orders still inside their
	// first, synchronous submission.
	minAge time.Duration
	// lease keeps claimed orders away from other instances while this one
	// submits them.
	lease  time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func NewFulfillmentRetrier(ledger Ledger, submitter *FulfillmentSubmitter, interval time.Duration, maxAttempts int, logger *slog.Logger) *FulfillmentRetrier {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	minAge := time.Minute
	if submitter != nil && 2*submitter.timeout > minAge {
		minAge = 2 * submitter.timeout
	}
	return &FulfillmentRetrier{
		ledger:      ledger,
		submitter:   submitter,
		interval:    interval,
		maxAttempts: maxAttempts,
		batch:       defaultRetryBatch,
		minAge:      minAge,
		lease:       2 * minAge,
		now:         time.Now,
		logger:      logger,
	}
}

// Run retries on every tick until ctx is cancelled. It returns immediately
// when the interval is zero or submission is disabled.
func (r *FulfillmentRetrier) Run(ctx context.Context) {
	logger := logging.FromContext(ctx, r.logger)
	if r.interval <= 0 || !r.submitter.Enabled() {
		logger.Info("fulfillment retrier disabled")
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	logger.Info("fulfillment retrier started", "interval", r.interval.String(), "max_attempts", r.maxAttempts)
	for {
		select {
		case <-ctx.Done():
			logger.Info("fulfillment retrier stopped")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				logger.Error("fulfillment retry pass failed", "error", err)
			}
		}
	}
}

// RunOnce claims one batch of flagged orders and submits them. It returns
// how many were accepted by the provider.
func (r *FulfillmentRetrier) RunOnce(ctx context.Context) (int, error) {
	logger := logging.FromContext(ctx, r.logger)

	orders, err := r.ledger.ClaimPendingSubmissions(ctx, db.SubmissionClaim{
		MaxAttempts:   r.maxAttempts,
		Limit:         r.batch,
		CreatedBefore: r.now().Add(-r.minAge),
		Lease:         r.lease,
	})
	if err != nil {
		return 0, classifyStoreError("claim pending submissions", err)
	}

	submitted := 0
	for _, order := range orders {
		if ctx.Err() != nil {
			return submitted, ctx.Err()
		}
		if order.ExternalFulfillmentReference != "" {
			continue
		}
		if err := r.submitter.Submit(ctx, order, nil); err != nil {
			logger.Warn("fulfillment retry failed", "order_id", order.ID, "attempts", order.FulfillmentSubmissionAttempts, "error", err)
			continue
		}
		submitted++
	}

	if len(orders) > 0 {
		logger.Info("fulfillment retry pass complete", "claimed", len(orders), "submitted", submitted)
	}
	return submitted, nil
}
