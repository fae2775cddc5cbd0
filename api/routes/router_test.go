package routes

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	paysvc "github.com/aspyhq/aspy-backend/internal/payments"
	gatewaywebhook "github.com/aspyhq/aspy-backend/internal/webhooks/gateway"
	pkgAuth "github.com/aspyhq/aspy-backend/pkg/auth"
	"github.com/aspyhq/aspy-backend/pkg/config"
	"github.com/aspyhq/aspy-backend/pkg/db/models"
	"github.com/aspyhq/aspy-backend/pkg/enums"
	"github.com/aspyhq/aspy-backend/pkg/logger"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubPayments struct{}

func (stubPayments) CreateOrder(_ context.Context, in paysvc.CreateOrderInput) (*paysvc.OrderResult, error) {
	return &paysvc.OrderResult{OrderID: "order_" + in.PlanID.String()[:8], Amount: 2900, Currency: "INR", KeyID: "dummy"}, nil
}

func (stubPayments) Verify(_ context.Context, in paysvc.VerifyInput) (*paysvc.VerifyResult, error) {
	return &paysvc.VerifyResult{Status: paysvc.StatusSuccess, OrderID: in.OrderID, PaymentID: in.PaymentID, Currency: "INR"}, nil
}

func (stubPayments) List(context.Context, uuid.UUID) ([]paysvc.HistoryEntry, error) {
	return nil, nil
}

func (stubPayments) Methods() []paysvc.MethodOption {
	return nil
}

type stubSubscriptions struct{}

func (stubSubscriptions) Current(_ context.Context, userID uuid.UUID) (*models.Subscription, error) {
	now := time.Now().UTC()
	return &models.Subscription{ID: uuid.New(), UserID: userID, Status: enums.SubscriptionStatusActive, CurrentPeriodStart: now, CurrentPeriodEnd: now.Add(time.Hour)}, nil
}

func (s stubSubscriptions) Cancel(ctx context.Context, userID uuid.UUID, _ bool) (*models.Subscription, error) {
	return s.Current(ctx, userID)
}

type stubWebhooks struct{}

func (stubWebhooks) HandleEvent(context.Context, *gatewaywebhook.Event) (gatewaywebhook.Outcome, error) {
	return gatewaywebhook.OutcomeIgnored, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App:       config.AppConfig{Env: "dev"},
		JWT:       config.JWTConfig{Secret: "secret", Issuer: "aspy", ExpirationMinutes: 10},
		Gateway:   config.GatewayConfig{WebhookSecret: "whsec"},
		RateLimit: config.RateLimitConfig{OrdersPerWindow: 10, Window: time.Minute},
	}
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	return NewRouter(
		testConfig(),
		logger.Nop(),
		stubPinger{},
		nil,
		nil,
		nil,
		stubPayments{},
		stubPayments{},
		stubPayments{},
		stubSubscriptions{},
		stubWebhooks{},
		nil,
	)
}

func bearer(t *testing.T) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(testConfig().JWT, time.Now(), pkgAuth.AccessTokenPayload{UserID: uuid.New()})
	require.NoError(t, err)
	return "Bearer " + token
}

func TestHealthRoutes(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/health/live", "/health/ready"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.NotEmpty(t, rec.Header().Get("X-Request-Id"), path)
	}
}

func TestMetricsRoute(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthenticatedRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t)
	routes := []struct{ method, path string }{
		{http.MethodPost, "/api/v1/payments/order"},
		{http.MethodPost, "/api/v1/payments/verify"},
		{http.MethodGet, "/api/v1/payments/history"},
		{http.MethodGet, "/api/v1/payments/methods"},
		{http.MethodGet, "/api/v1/subscriptions/me"},
		{http.MethodPost, "/api/v1/subscriptions/cancel"},
	}

	for _, rt := range routes {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(rt.method, rt.path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, rt.path)
	}
}

func TestAuthenticatedRoutesWithToken(t *testing.T) {
	router := newTestRouter(t)
	auth := bearer(t)

	order := httptest.NewRequest(http.MethodPost, "/api/v1/payments/order", bytes.NewBufferString(`{"plan_id":"`+uuid.NewString()+`"}`))
	order.Header.Set("Authorization", auth)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, order)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	me := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/me", nil)
	me.Header.Set("Authorization", auth)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, me)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookRouteIsPublicButSigned(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/gateway", bytes.NewBufferString(`{"event":"payment.captured"}`))
	req.Header.Set("X-Razorpay-Signature", "deadbeef")
	newTestRouter(t).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_SIGNATURE")
}
