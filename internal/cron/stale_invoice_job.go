package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/aspyhq/aspy-backend/internal/billing"
	"github.com/aspyhq/aspy-backend/pkg/enums"
	"github.com/aspyhq/aspy-backend/pkg/logger"
	"github.com/aspyhq/aspy-backend/pkg/outbox"
	"github.com/aspyhq/aspy-backend/pkg/outbox/payloads"
)

const defaultStaleInvoiceTTL = 72 * time.Hour

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type StaleInvoiceJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Repo      billing.Repository
	Outbox    eventEmitter
	TTL       time.Duration
	BatchSize int
}

// NewStaleInvoiceJob fails pending invoices that were never paid within TTL.
func NewStaleInvoiceJob(params StaleInvoiceJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("billing repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultStaleInvoiceTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &staleInvoiceJob{
		logg:   params.Logger,
		db:     params.DB,
		repo:   params.Repo,
		outbox: params.Outbox,
		ttl:    ttl,
		batch:  batch,
		now:    time.Now,
	}, nil
}

type staleInvoiceJob struct {
	logg   *logger.Logger
	db     txRunner
	repo   billing.Repository
	outbox eventEmitter
	ttl    time.Duration
	batch  int
	now    func() time.Time
}

func (j *staleInvoiceJob) Name() string { return "stale-invoice-sweep" }

func (j *staleInvoiceJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	stale, err := j.repo.ListStaleInvoices(ctx, now.Add(-j.ttl), j.batch)
	if err != nil {
		return fmt.Errorf("list stale invoices: %w", err)
	}

	var (
		failed int
		errs   error
	)
	for _, inv := range stale {
		inv := inv
		var changed bool
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			ok, err := j.repo.WithTx(tx).MarkInvoiceFailed(ctx, inv.ID)
			if err != nil || !ok {
				return err
			}
			changed = true
			userID := inv.UserID
			return j.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventInvoiceFailed,
				AggregateType: enums.AggregateInvoice,
				AggregateID:   inv.ID,
				Actor:         &outbox.ActorRef{UserID: &userID, Source: "cron"},
				OccurredAt:    now,
				Data: payloads.InvoiceFailedEvent{
					InvoiceID:       inv.ID,
					UserID:          inv.UserID,
					ExternalOrderID: inv.ExternalOrderID,
					FailedAt:        now,
				},
			})
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("invoice %s: %w", inv.ID, err))
			continue
		}
		if changed {
			failed++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(stale),
		"failed":     failed,
		"ttl_hours":  j.ttl.Hours(),
	})
	j.logg.Info(logCtx, "stale invoice sweep complete")
	return errs
}
