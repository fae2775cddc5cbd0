package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/aspyhq/aspy-backend/internal/billing"
	"github.com/aspyhq/aspy-backend/internal/billing/billingtest"
	"github.com/aspyhq/aspy-backend/pkg/enums"
	pkgerrors "github.com/aspyhq/aspy-backend/pkg/errors"
)

const thirtyDays = 30 * 24 * time.Hour

func TestActivateOrRenewCreatesFirstSubscription(t *testing.T) {
	db := billingtest.NewDB(t)
	repo := billing.NewRepository(db)
	plan := billingtest.SeedPlan(t, db, "Pro", 2900, "INR")
	machine := NewMachine(0)
	userID := uuid.New()
	paidAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	act, err := machine.ActivateOrRenew(context.Background(), repo, ActivateInput{UserID: userID, PlanID: plan.ID, EffectiveAt: paidAt})
	require.NoError(t, err)
	require.Equal(t, TransitionCreated, act.Transition)
	require.Nil(t, act.PreviousPlanID)

	stored := billingtest.Subscription(t, db, userID)
	require.Equal(t, enums.SubscriptionStatusActive, stored.Status)
	require.True(t, stored.CurrentPeriodStart.Equal(paidAt))
	require.True(t, stored.CurrentPeriodEnd.Equal(paidAt.Add(thirtyDays)))
}

func TestActivateOrRenewDiscardsRemainingTerm(t *testing.T) {
	db := billingtest.NewDB(t)
	repo := billing.NewRepository(db)
	starter := billingtest.SeedPlan(t, db, "Starter", 900, "INR")
	pro := billingtest.SeedPlan(t, db, "Pro", 2900, "INR")
	machine := NewMachine(thirtyDays)
	userID := uuid.New()
	ctx := context.Background()

	first := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := machine.ActivateOrRenew(ctx, repo, ActivateInput{UserID: userID, PlanID: starter.ID, EffectiveAt: first})
	require.NoError(t, err)

	tenDaysIn := first.Add(10 * 24 * time.Hour)
	act, err := machine.ActivateOrRenew(ctx, repo, ActivateInput{UserID: userID, PlanID: pro.ID, EffectiveAt: tenDaysIn})
	require.NoError(t, err)
	require.Equal(t, TransitionRenewed, act.Transition)
	require.NotNil(t, act.PreviousPlanID)
	require.Equal(t, starter.ID, *act.PreviousPlanID)

	stored := billingtest.Subscription(t, db, userID)
	require.Equal(t, pro.ID, stored.PlanID)
	require.True(t, stored.CurrentPeriodStart.Equal(tenDaysIn))
	require.True(t, stored.CurrentPeriodEnd.Equal(tenDaysIn.Add(thirtyDays)))
	require.EqualValues(t, 1, billingtest.CountSubscriptions(t, db, userID))
}

func TestActivateOrRenewReactivatesEndedSubscription(t *testing.T) {
	db := billingtest.NewDB(t)
	repo := billing.NewRepository(db)
	plan := billingtest.SeedPlan(t, db, "Pro", 2900, "INR")
	machine := NewMachine(thirtyDays)
	userID := uuid.New()
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := machine.ActivateOrRenew(ctx, repo, ActivateInput{UserID: userID, PlanID: plan.ID, EffectiveAt: start})
	require.NoError(t, err)
	_, changed, err := machine.Cancel(ctx, repo, userID, false, start.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, changed)

	act, err := machine.ActivateOrRenew(ctx, repo, ActivateInput{UserID: userID, PlanID: plan.ID, EffectiveAt: start.Add(48 * time.Hour)})
	require.NoError(t, err)
	require.Equal(t, TransitionReactivated, act.Transition)

	stored := billingtest.Subscription(t, db, userID)
	require.Equal(t, enums.SubscriptionStatusActive, stored.Status)
	require.Nil(t, stored.CancelledAt)
	require.False(t, stored.CancelAtPeriodEnd)
}

func TestActivateOrRenewRequiresIdentifiers(t *testing.T) {
	db := billingtest.NewDB(t)
	_, err := NewMachine(0).ActivateOrRenew(context.Background(), billing.NewRepository(db), ActivateInput{UserID: uuid.New()})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestCancelAtPeriodEndIsIdempotent(t *testing.T) {
	db := billingtest.NewDB(t)
	repo := billing.NewRepository(db)
	plan := billingtest.SeedPlan(t, db, "Pro", 2900, "INR")
	machine := NewMachine(thirtyDays)
	userID := uuid.New()
	ctx := context.Background()
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	_, err := machine.ActivateOrRenew(ctx, repo, ActivateInput{UserID: userID, PlanID: plan.ID, EffectiveAt: start})
	require.NoError(t, err)

	sub, changed, err := machine.Cancel(ctx, repo, userID, true, start.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, changed)
	require.True(t, sub.CancelAtPeriodEnd)
	require.Equal(t, enums.SubscriptionStatusActive, sub.Status)

	_, changed, err = machine.Cancel(ctx, repo, userID, true, start.Add(2*time.Hour))
	require.NoError(t, err)
	require.False(t, changed)
}

func TestCancelImmediatelyTruncatesPeriod(t *testing.T) {
	db := billingtest.NewDB(t)
	repo := billing.NewRepository(db)
	plan := billingtest.SeedPlan(t, db, "Pro", 2900, "INR")
	machine := NewMachine(thirtyDays)
	userID := uuid.New()
	ctx := context.Background()
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	cancelAt := start.Add(5 * 24 * time.Hour)

	_, err := machine.ActivateOrRenew(ctx, repo, ActivateInput{UserID: userID, PlanID: plan.ID, EffectiveAt: start})
	require.NoError(t, err)

	_, _, err = machine.Cancel(ctx, repo, userID, false, cancelAt)
	require.NoError(t, err)

	stored := billingtest.Subscription(t, db, userID)
	require.Equal(t, enums.SubscriptionStatusCancelled, stored.Status)
	require.True(t, stored.CurrentPeriodEnd.Equal(cancelAt))
	require.NotNil(t, stored.CancelledAt)

	_, _, err = machine.Cancel(ctx, repo, userID, false, cancelAt)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))
}

func TestCancelWithoutSubscription(t *testing.T) {
	db := billingtest.NewDB(t)
	_, _, err := NewMachine(0).Cancel(context.Background(), billing.NewRepository(db), uuid.New(), false, time.Now())
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestExpireHonoursCancelFlagAndRenewals(t *testing.T) {
	db := billingtest.NewDB(t)
	repo := billing.NewRepository(db)
	plan := billingtest.SeedPlan(t, db, "Pro", 2900, "INR")
	machine := NewMachine(thirtyDays)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	afterEnd := start.Add(thirtyDays + time.Minute)

	lapsing := uuid.New()
	cancelling := uuid.New()
	renewed := uuid.New()
	for _, user := range []uuid.UUID{lapsing, cancelling, renewed} {
		_, err := machine.ActivateOrRenew(ctx, repo, ActivateInput{UserID: user, PlanID: plan.ID, EffectiveAt: start})
		require.NoError(t, err)
	}
	_, _, err := machine.Cancel(ctx, repo, cancelling, true, start.Add(time.Hour))
	require.NoError(t, err)
	_, err = machine.ActivateOrRenew(ctx, repo, ActivateInput{UserID: renewed, PlanID: plan.ID, EffectiveAt: afterEnd.Add(-time.Hour)})
	require.NoError(t, err)

	sub, changed, err := machine.Expire(ctx, repo, lapsing, afterEnd)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, enums.SubscriptionStatusExpired, sub.Status)

	sub, changed, err = machine.Expire(ctx, repo, cancelling, afterEnd)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, enums.SubscriptionStatusCancelled, sub.Status)
	require.NotNil(t, sub.CancelledAt)

	_, changed, err = machine.Expire(ctx, repo, renewed, afterEnd)
	require.NoError(t, err)
	require.False(t, changed)
}
