package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/aspyhq/aspy-backend/pkg/config"
	"github.com/aspyhq/aspy-backend/pkg/logger"
)

// ProviderName is recorded on every payment row.
const ProviderName = "razorpay"

// Metadata keys embedded on gateway orders and echoed back on payment entities.
const (
	NoteUserID   = "user_id"
	NotePlanID   = "plan_id"
	NotePlanName = "plan_name"
)

type Mode string

const (
	ModeLive Mode = "live"
	ModeMock Mode = "mock"
)

// ErrNoRemoteState is returned by FetchOrder when the gateway keeps no record of
// the order. Callers fall back to the locally recorded invoice amount.
var ErrNoRemoteState = errors.New("gateway keeps no remote order state")

// OrderRequest describes a remote order. AmountMinor is in the currency's minor unit.
type OrderRequest struct {
	AmountMinor int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// Order is the gateway's view of an order.
type Order struct {
	ID          string
	AmountMinor int64
	Currency    string
	Status      string
	Receipt     string
	Notes       map[string]string
}

// Gateway is the payment provider capability. Exactly one implementation is
// selected at startup.
type Gateway interface {
	Mode() Mode
	KeyID() string
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	FetchOrder(ctx context.Context, orderID string) (*Order, error)
	VerifyPaymentSignature(orderID, paymentID, signature string) bool
}

// New returns the live gateway when credentials are configured and the mock
// gateway otherwise.
func New(ctx context.Context, cfg config.GatewayConfig, logg *logger.Logger) (Gateway, error) {
	if cfg.IsMock() {
		if logg != nil {
			logg.Warn(ctx, "payment gateway running in mock mode")
		}
		return NewMock(cfg.KeySecret), nil
	}
	live, err := NewLive(cfg)
	if err != nil {
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "gateway_mode", ModeLive), "payment gateway initialized")
	}
	return live, nil
}

// ChargeAmount converts a plan price into the amount sent to the gateway. Prices
// in the native minor-unit currency are used as-is; other currencies are assumed
// to be stored in major units.
func ChargeAmount(price int64, currency, nativeCurrency string) int64 {
	if strings.EqualFold(strings.TrimSpace(currency), strings.TrimSpace(nativeCurrency)) {
		return price
	}
	return price * 100
}

// ToMajor converts a minor-unit amount into major units.
func ToMajor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// NormalizeCurrency upper-cases and trims an ISO currency code.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}
