package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/aspyhq/aspy-backend/internal/billing"
	"github.com/aspyhq/aspy-backend/internal/billing/billingtest"
	"github.com/aspyhq/aspy-backend/internal/subscriptions"
	pkgdb "github.com/aspyhq/aspy-backend/pkg/db"
	pkgerrors "github.com/aspyhq/aspy-backend/pkg/errors"
	"github.com/aspyhq/aspy-backend/pkg/gateway"
	"github.com/aspyhq/aspy-backend/pkg/logger"
	"github.com/aspyhq/aspy-backend/pkg/metrics"
	"github.com/aspyhq/aspy-backend/pkg/outbox"
)

const (
	testSecret = "test_key_secret"
	thirtyDays = 30 * 24 * time.Hour
)

type fixture struct {
	db        *gorm.DB
	repo      billing.Repository
	gw        gateway.Gateway
	finalizer *Finalizer
	orders    *OrderService
	verifier  *VerificationService
	history   *HistoryService
	metrics   *metrics.BillingMetrics
	clock     *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newFixture(t *testing.T, gw gateway.Gateway) *fixture {
	t.Helper()
	return newFixtureWithOutbox(t, gw, nil)
}

func newFixtureWithOutbox(t *testing.T, gw gateway.Gateway, emitter eventEmitter) *fixture {
	t.Helper()

	db := billingtest.NewDB(t)
	repo := billing.NewRepository(db)
	if emitter == nil {
		emitter = outbox.NewService(outbox.NewRepository(db), logger.Nop())
	}
	m := metrics.NewBillingMetrics(prometheus.NewRegistry())
	clock := &testClock{now: time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)}

	finalizer, err := NewFinalizer(FinalizerParams{
		Repo:     repo,
		Machine:  subscriptions.NewMachine(thirtyDays),
		TxRunner: pkgdb.FromGorm(db),
		Outbox:   emitter,
		Metrics:  m,
		Logger:   logger.Nop(),
	})
	require.NoError(t, err)

	orders, err := NewOrderService(OrderServiceParams{
		Repo:           repo,
		Gateway:        gw,
		NativeCurrency: "INR",
		Metrics:        m,
		Logger:         logger.Nop(),
	})
	require.NoError(t, err)

	verifier, err := NewVerificationService(VerificationServiceParams{
		Repo:      repo,
		Gateway:   gw,
		Finalizer: finalizer,
		Metrics:   m,
		Logger:    logger.Nop(),
		Now:       clock.Now,
	})
	require.NoError(t, err)

	history, err := NewHistoryService(repo, "INR")
	require.NoError(t, err)

	return &fixture{
		db:        db,
		repo:      repo,
		gw:        gw,
		finalizer: finalizer,
		orders:    orders,
		verifier:  verifier,
		history:   history,
		metrics:   m,
		clock:     clock,
	}
}

// stubGateway behaves like the live provider: it keeps orders and always checks
// signatures with HMAC.
type stubGateway struct {
	mu        sync.Mutex
	secret    string
	fixedID   string
	orders    map[string]*gateway.Order
	fetchErr  error
	createErr error
}

func newStubGateway() *stubGateway {
	return &stubGateway{secret: testSecret, orders: map[string]*gateway.Order{}}
}

func (g *stubGateway) Mode() gateway.Mode { return gateway.ModeLive }

func (g *stubGateway) KeyID() string { return "rzp_test_key" }

func (g *stubGateway) CreateOrder(_ context.Context, req gateway.OrderRequest) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	id := g.fixedID
	if id == "" {
		id = fmt.Sprintf("order_live_%d", len(g.orders)+1)
	}
	order := &gateway.Order{
		ID:          id,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		Status:      "created",
		Receipt:     req.Receipt,
		Notes:       req.Notes,
	}
	g.orders[id] = order
	return order, nil
}

func (g *stubGateway) FetchOrder(_ context.Context, orderID string) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	order, ok := g.orders[orderID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "unknown order")
	}
	return order, nil
}

func (g *stubGateway) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return gateway.VerifyPayment(g.secret, orderID, paymentID, signature)
}

type failingEmitter struct{}

func (failingEmitter) Emit(context.Context, *gorm.DB, outbox.DomainEvent) error {
	return errors.New("outbox unavailable")
}
