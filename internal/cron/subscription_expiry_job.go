package cron

import (
	"context"
	"fmt"

	"github.com/aspyhq/aspy-backend/pkg/logger"
)

const defaultSweepBatch = 250

type subscriptionExpirer interface {
	ExpireDue(ctx context.Context, limit int) (int, error)
}

type SubscriptionExpiryJobParams struct {
	Logger        *logger.Logger
	Subscriptions subscriptionExpirer
	BatchSize     int
}

// NewSubscriptionExpiryJob closes subscriptions whose current period has ended.
func NewSubscriptionExpiryJob(params SubscriptionExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &subscriptionExpiryJob{
		logg:  params.Logger,
		subs:  params.Subscriptions,
		batch: batch,
	}, nil
}

type subscriptionExpiryJob struct {
	logg  *logger.Logger
	subs  subscriptionExpirer
	batch int
}

func (j *subscriptionExpiryJob) Name() string { return "subscription-expiry" }

func (j *subscriptionExpiryJob) Run(ctx context.Context) error {
	expired, err := j.subs.ExpireDue(ctx, j.batch)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"expired":    expired,
		"batch_size": j.batch,
	})
	if err != nil {
		return fmt.Errorf("expire subscriptions: %w", err)
	}
	j.logg.Info(logCtx, "subscription expiry sweep complete")
	return nil
}
