package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aspyhq/aspy-backend/internal/billing"
	"github.com/aspyhq/aspy-backend/pkg/config"
	"github.com/aspyhq/aspy-backend/pkg/db"
	"github.com/aspyhq/aspy-backend/pkg/db/models"
	"github.com/aspyhq/aspy-backend/pkg/enums"
	pkgerrors "github.com/aspyhq/aspy-backend/pkg/errors"
)

// Transition names how ActivateOrRenew changed the user's subscription.
type Transition string

const (
	TransitionCreated     Transition = "created"
	TransitionRenewed     Transition = "renewed"
	TransitionReactivated Transition = "reactivated"
)

type ActivateInput struct {
	UserID      uuid.UUID
	PlanID      uuid.UUID
	EffectiveAt time.Time
}

// Activation is the outcome of ActivateOrRenew.
type Activation struct {
	Subscription   *models.Subscription
	Transition     Transition
	PreviousPlanID *uuid.UUID
}

// Machine owns every write to subscription status and period bounds. Callers
// pass a transaction-scoped repository; the machine never opens transactions.
type Machine struct {
	period time.Duration
}

func NewMachine(period time.Duration) *Machine {
	if period <= 0 {
		period = time.Duration(config.DefaultPeriodDays) * 24 * time.Hour
	}
	return &Machine{period: period}
}

func (m *Machine) Period() time.Duration {
	return m.period
}

// ActivateOrRenew creates the user's subscription or overwrites the existing row
// with the new plan and a fresh period starting at EffectiveAt. Remaining time on
// the previous period is discarded.
func (m *Machine) ActivateOrRenew(ctx context.Context, repo billing.Repository, in ActivateInput) (*Activation, error) {
	if in.UserID == uuid.Nil || in.PlanID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and plan id are required")
	}
	effective := in.EffectiveAt.UTC()
	if in.EffectiveAt.IsZero() {
		effective = time.Now().UTC()
	}

	sub, err := repo.FindSubscriptionForUpdate(ctx, in.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}

	if sub == nil {
		sub = &models.Subscription{
			UserID:             in.UserID,
			PlanID:             in.PlanID,
			Status:             enums.SubscriptionStatusActive,
			CurrentPeriodStart: effective,
			CurrentPeriodEnd:   effective.Add(m.period),
		}
		if err := repo.CreateSubscription(ctx, sub); err != nil {
			if db.IsUniqueViolation(err, "") {
				return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "subscription changed concurrently")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription")
		}
		return &Activation{Subscription: sub, Transition: TransitionCreated}, nil
	}

	transition := TransitionRenewed
	if sub.Status != enums.SubscriptionStatusActive {
		transition = TransitionReactivated
	}
	previous := sub.PlanID

	sub.PlanID = in.PlanID
	sub.Status = enums.SubscriptionStatusActive
	sub.CurrentPeriodStart = effective
	sub.CurrentPeriodEnd = effective.Add(m.period)
	sub.CancelAtPeriodEnd = false
	sub.CancelledAt = nil
	if err := repo.SaveSubscription(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "renew subscription")
	}
	return &Activation{Subscription: sub, Transition: transition, PreviousPlanID: &previous}, nil
}

// Cancel ends the user's active subscription now, or flags it to end with the
// current period when atPeriodEnd is set. Repeating a period-end cancel is a no-op.
func (m *Machine) Cancel(ctx context.Context, repo billing.Repository, userID uuid.UUID, atPeriodEnd bool, now time.Time) (*models.Subscription, bool, error) {
	sub, err := repo.FindSubscriptionForUpdate(ctx, userID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	if sub.Status != enums.SubscriptionStatusActive {
		return nil, false, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is not active")
	}

	now = now.UTC()
	if atPeriodEnd {
		if sub.CancelAtPeriodEnd {
			return sub, false, nil
		}
		sub.CancelAtPeriodEnd = true
	} else {
		sub.Status = enums.SubscriptionStatusCancelled
		sub.CancelledAt = &now
		if now.Before(sub.CurrentPeriodEnd) {
			sub.CurrentPeriodEnd = now
		}
	}
	if err := repo.SaveSubscription(ctx, sub); err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel subscription")
	}
	return sub, true, nil
}

// Expire closes the user's subscription once its period has ended. Rows flagged
// cancel-at-period-end become cancelled, the rest expired. It reports false when
// the row is gone, no longer active, or was renewed since it was listed.
func (m *Machine) Expire(ctx context.Context, repo billing.Repository, userID uuid.UUID, now time.Time) (*models.Subscription, bool, error) {
	sub, err := repo.FindSubscriptionForUpdate(ctx, userID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil || sub.Status != enums.SubscriptionStatusActive || now.Before(sub.CurrentPeriodEnd) {
		return sub, false, nil
	}

	end := sub.CurrentPeriodEnd
	if sub.CancelAtPeriodEnd {
		sub.Status = enums.SubscriptionStatusCancelled
		sub.CancelledAt = &end
	} else {
		sub.Status = enums.SubscriptionStatusExpired
	}
	if err := repo.SaveSubscription(ctx, sub); err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire subscription")
	}
	return sub, true, nil
}
