package payments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/aspyhq/aspy-backend/internal/billing/billingtest"
	"github.com/aspyhq/aspy-backend/pkg/gateway"
)

func TestHistoryListsNewestFirstWithPlanName(t *testing.T) {
	f := newFixture(t, gateway.NewMock(""))
	starter := billingtest.SeedPlan(t, f.db, "Starter", 900, "INR")
	pro := billingtest.SeedPlan(t, f.db, "Pro", 2900, "INR")
	userID := uuid.New()
	ctx := context.Background()

	for i, planID := range []uuid.UUID{starter.ID, pro.ID} {
		f.clock.Set(time.Date(2026, 5, 1+i, 0, 0, 0, 0, time.UTC))
		order := createOrder(t, f, userID, planID)
		_, err := f.verifier.Verify(ctx, VerifyInput{UserID: userID, OrderID: order, PaymentID: uuid.NewString(), Signature: "sig_mock_ok"})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	entries, err := f.history.List(ctx, userID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.NotNil(t, entries[0].PlanName)
	require.Equal(t, "Pro", *entries[0].PlanName)
	require.Equal(t, "Starter", *entries[1].PlanName)
	require.Equal(t, gateway.ProviderName, entries[0].Method)
	require.Equal(t, "completed", entries[0].Status)

	other, err := f.history.List(ctx, uuid.New())
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestHistoryMethods(t *testing.T) {
	f := newFixture(t, gateway.NewMock(""))
	methods := f.history.Methods()
	require.Len(t, methods, 1)
	require.Equal(t, gateway.ProviderName, methods[0].Provider)
	require.Equal(t, []string{"INR"}, methods[0].Currencies)
	require.True(t, methods[0].UPI)
}
