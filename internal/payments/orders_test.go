package payments

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/aspyhq/aspy-backend/internal/billing/billingtest"
	"github.com/aspyhq/aspy-backend/pkg/enums"
	pkgerrors "github.com/aspyhq/aspy-backend/pkg/errors"
	"github.com/aspyhq/aspy-backend/pkg/gateway"
)

func TestCreateOrderMockModeNativeCurrency(t *testing.T) {
	f := newFixture(t, gateway.NewMock(""))
	plan := billingtest.SeedPlan(t, f.db, "Pro", 2900, "INR")
	userID := uuid.New()

	res, err := f.orders.CreateOrder(context.Background(), CreateOrderInput{UserID: userID, PlanID: plan.ID, Currency: "inr"})
	require.NoError(t, err)
	require.EqualValues(t, 2900, res.Amount)
	require.Equal(t, "INR", res.Currency)
	require.Equal(t, gateway.MockKeyID, res.KeyID)
	require.True(t, strings.HasPrefix(res.OrderID, gateway.MockOrderPrefix+userID.String()+"_"))

	invoice := billingtest.Invoice(t, f.db, res.OrderID)
	require.Equal(t, enums.InvoiceStatusPending, invoice.Status)
	require.Equal(t, userID, invoice.UserID)
	require.True(t, decimal.RequireFromString("29.00").Equal(invoice.Amount))
}

func TestCreateOrderConvertsForeignCurrency(t *testing.T) {
	gw := newStubGateway()
	f := newFixture(t, gw)
	plan := billingtest.SeedPlan(t, f.db, "Pro", 29, "USD")
	userID := uuid.New()

	res, err := f.orders.CreateOrder(context.Background(), CreateOrderInput{UserID: userID, PlanID: plan.ID, Currency: "USD"})
	require.NoError(t, err)
	require.EqualValues(t, 2900, res.Amount)
	require.Equal(t, "rzp_test_key", res.KeyID)

	order := gw.orders[res.OrderID]
	require.Equal(t, userID.String(), order.Notes[gateway.NoteUserID])
	require.Equal(t, plan.ID.String(), order.Notes[gateway.NotePlanID])
	require.Equal(t, "Pro", order.Notes[gateway.NotePlanName])
	require.EqualValues(t, 2900, order.AmountMinor)
}

func TestCreateOrderDefaultsToPlanCurrency(t *testing.T) {
	f := newFixture(t, gateway.NewMock(""))
	plan := billingtest.SeedPlan(t, f.db, "Starter", 900, "INR")

	res, err := f.orders.CreateOrder(context.Background(), CreateOrderInput{UserID: uuid.New(), PlanID: plan.ID})
	require.NoError(t, err)
	require.Equal(t, "INR", res.Currency)
}

func TestCreateOrderRejections(t *testing.T) {
	f := newFixture(t, gateway.NewMock(""))
	plan := billingtest.SeedPlan(t, f.db, "Pro", 2900, "INR")
	ctx := context.Background()

	_, err := f.orders.CreateOrder(ctx, CreateOrderInput{UserID: uuid.New(), PlanID: uuid.New(), Currency: "INR"})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	_, err = f.orders.CreateOrder(ctx, CreateOrderInput{UserID: uuid.New(), PlanID: plan.ID, Currency: "USD"})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeCurrencyMismatch))

	_, err = f.orders.CreateOrder(ctx, CreateOrderInput{PlanID: plan.ID, Currency: "INR"})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	var n int64
	require.NoError(t, f.db.Table("invoices").Count(&n).Error)
	require.Zero(t, n)
}

func TestCreateOrderGatewayFailureLeavesNoInvoice(t *testing.T) {
	gw := newStubGateway()
	gw.createErr = pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "payment gateway unavailable")
	f := newFixture(t, gw)
	plan := billingtest.SeedPlan(t, f.db, "Pro", 2900, "INR")

	_, err := f.orders.CreateOrder(context.Background(), CreateOrderInput{UserID: uuid.New(), PlanID: plan.ID, Currency: "INR"})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeGatewayUnavailable))

	var n int64
	require.NoError(t, f.db.Table("invoices").Count(&n).Error)
	require.Zero(t, n)
}

func TestCreateOrderGatewayRejectionIsNotRetryable(t *testing.T) {
	gw := newStubGateway()
	gw.createErr = pkgerrors.New(pkgerrors.CodeGatewayRejected, "amount below minimum")
	f := newFixture(t, gw)
	plan := billingtest.SeedPlan(t, f.db, "Pro", 2900, "INR")

	_, err := f.orders.CreateOrder(context.Background(), CreateOrderInput{UserID: uuid.New(), PlanID: plan.ID, Currency: "INR"})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeGatewayRejected))
	require.False(t, pkgerrors.MetadataFor(pkgerrors.CodeGatewayRejected).Retryable)
}

func TestCreateOrderInvoiceFailureIsInconsistent(t *testing.T) {
	gw := newStubGateway()
	gw.fixedID = "order_live_fixed"
	f := newFixture(t, gw)
	plan := billingtest.SeedPlan(t, f.db, "Pro", 2900, "INR")
	ctx := context.Background()

	_, err := f.orders.CreateOrder(ctx, CreateOrderInput{UserID: uuid.New(), PlanID: plan.ID, Currency: "INR"})
	require.NoError(t, err)

	_, err = f.orders.CreateOrder(ctx, CreateOrderInput{UserID: uuid.New(), PlanID: plan.ID, Currency: "INR"})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInconsistentState))
}
