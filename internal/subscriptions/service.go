package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/aspyhq/aspy-backend/internal/billing"
	"github.com/aspyhq/aspy-backend/pkg/db/models"
	"github.com/aspyhq/aspy-backend/pkg/enums"
	pkgerrors "github.com/aspyhq/aspy-backend/pkg/errors"
	"github.com/aspyhq/aspy-backend/pkg/logger"
	"github.com/aspyhq/aspy-backend/pkg/outbox"
	"github.com/aspyhq/aspy-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the user-facing subscription surface. Activation happens only
// through payment finalization.
type Service interface {
	Current(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	Cancel(ctx context.Context, userID uuid.UUID, atPeriodEnd bool) (*models.Subscription, error)
	ExpireDue(ctx context.Context, limit int) (int, error)
}

type ServiceParams struct {
	Repo     billing.Repository
	Machine  *Machine
	TxRunner txRunner
	Outbox   eventEmitter
	Logger   *logger.Logger
	Now      func() time.Time
}

type service struct {
	repo    billing.Repository
	machine *Machine
	tx      txRunner
	outbox  eventEmitter
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, errors.New("billing repo required")
	}
	if params.Machine == nil {
		return nil, errors.New("state machine required")
	}
	if params.TxRunner == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox emitter required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:    params.Repo,
		machine: params.Machine,
		tx:      params.TxRunner,
		outbox:  params.Outbox,
		logg:    logg,
		now:     now,
	}, nil
}

func (s *service) Current(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	sub, err := s.repo.FindSubscriptionByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	return sub, nil
}

func (s *service) Cancel(ctx context.Context, userID uuid.UUID, atPeriodEnd bool) (*models.Subscription, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	now := s.now()

	var result *models.Subscription
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		sub, changed, err := s.machine.Cancel(ctx, s.repo.WithTx(tx), userID, atPeriodEnd, now)
		if err != nil {
			return err
		}
		result = sub
		if !changed || sub.Status != enums.SubscriptionStatusCancelled {
			return nil
		}
		return s.emitEnded(ctx, tx, sub, enums.EventSubscriptionCancelled, now, "api")
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"user_id":         userID.String(),
		"subscription_id": result.ID.String(),
		"at_period_end":   atPeriodEnd,
		"status":          result.Status,
	})
	s.logg.Info(logCtx, "subscription cancellation applied")
	return result, nil
}

// ExpireDue closes active subscriptions whose period has ended. Each row is
// handled in its own transaction; failures are collected and the sweep continues.
func (s *service) ExpireDue(ctx context.Context, limit int) (int, error) {
	now := s.now()
	due, err := s.repo.ListDueSubscriptions(ctx, now, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due subscriptions")
	}

	var (
		expired int
		errs    error
	)
	for _, candidate := range due {
		userID := candidate.UserID
		var closed bool
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			sub, changed, err := s.machine.Expire(ctx, s.repo.WithTx(tx), userID, now)
			if err != nil || !changed {
				return err
			}
			closed = true
			eventType := enums.EventSubscriptionExpired
			if sub.Status == enums.SubscriptionStatusCancelled {
				eventType = enums.EventSubscriptionCancelled
			}
			return s.emitEnded(ctx, tx, sub, eventType, now, "cron")
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("subscription %s: %w", candidate.ID, err))
			continue
		}
		if closed {
			expired++
		}
	}

	if expired > 0 {
		s.logg.Info(s.logg.WithField(ctx, "expired", expired), "subscriptions closed at period end")
	}
	return expired, errs
}

func (s *service) emitEnded(ctx context.Context, tx *gorm.DB, sub *models.Subscription, eventType enums.OutboxEventType, at time.Time, source string) error {
	userID := sub.UserID
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   sub.ID,
		Actor:         &outbox.ActorRef{UserID: &userID, Source: source},
		OccurredAt:    at,
		Data: payloads.SubscriptionEndedEvent{
			SubscriptionID: sub.ID,
			UserID:         sub.UserID,
			PlanID:         sub.PlanID,
			Status:         string(sub.Status),
			EndedAt:        at,
		},
	})
}
