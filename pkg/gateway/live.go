package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
	rzperrors "github.com/razorpay/razorpay-go/errors"
	"github.com/sethvargo/go-retry"

	"github.com/aspyhq/aspy-backend/pkg/config"
	pkgerrors "github.com/aspyhq/aspy-backend/pkg/errors"
)

const (
	defaultTimeout = 10 * time.Second
	defaultBackoff = 250 * time.Millisecond
)

// orderAPI is the slice of the razorpay order resource the adapter uses.
type orderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Fetch(orderID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// Live talks to Razorpay. A remote call is retried at most once, and only when
// the failure is transient.
type Live struct {
	orders  orderAPI
	keyID   string
	secret  string
	timeout time.Duration
	backoff time.Duration
}

func NewLive(cfg config.GatewayConfig) (*Live, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	secret := strings.TrimSpace(cfg.KeySecret)
	if keyID == "" || secret == "" {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "gateway key id and secret are required")
	}
	client := razorpay.NewClient(keyID, secret)
	return newLive(client.Order, keyID, secret, cfg.Timeout, cfg.RetryBackoff), nil
}

func newLive(orders orderAPI, keyID, secret string, timeout, backoff time.Duration) *Live {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	return &Live{orders: orders, keyID: keyID, secret: secret, timeout: timeout, backoff: backoff}
}

func (l *Live) Mode() Mode { return ModeLive }

func (l *Live) KeyID() string { return l.keyID }

func (l *Live) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	notes := make(map[string]interface{}, len(req.Notes))
	for k, v := range req.Notes {
		notes[k] = v
	}
	data := map[string]interface{}{
		"amount":          req.AmountMinor,
		"currency":        NormalizeCurrency(req.Currency),
		"receipt":         req.Receipt,
		"notes":           notes,
		"payment_capture": 1,
	}

	body, err := l.call(ctx, "create order", func() (map[string]interface{}, error) {
		return l.orders.Create(data, nil)
	})
	if err != nil {
		return nil, err
	}
	return decodeOrder(body)
}

func (l *Live) FetchOrder(ctx context.Context, orderID string) (*Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	body, err := l.call(ctx, "fetch order", func() (map[string]interface{}, error) {
		return l.orders.Fetch(orderID, nil, nil)
	})
	if err != nil {
		return nil, err
	}
	return decodeOrder(body)
}

func (l *Live) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return VerifyPayment(l.secret, orderID, paymentID, signature)
}

type callResult struct {
	body map[string]interface{}
	err  error
}

// call runs fn with a per-attempt deadline. The SDK has no context support, so a
// timed-out attempt is abandoned rather than cancelled.
func (l *Live) call(ctx context.Context, op string, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	var out map[string]interface{}
	backoff := retry.WithMaxRetries(1, retry.NewConstant(l.backoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, l.timeout)
		defer cancel()

		done := make(chan callResult, 1)
		go func() {
			body, err := fn()
			done <- callResult{body: body, err: err}
		}()

		select {
		case <-attemptCtx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return ctx.Err()
			}
			return retry.RetryableError(attemptCtx.Err())
		case res := <-done:
			if res.err != nil {
				if transient(res.err) {
					return retry.RetryableError(res.err)
				}
				return res.err
			}
			out = res.body
			return nil
		}
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		var badRequest *rzperrors.BadRequestError
		if errors.As(err, &badRequest) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayRejected, err, fmt.Sprintf("gateway rejected %s", op))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, fmt.Sprintf("gateway %s failed", op))
	}
	return out, nil
}

// transient reports whether a failed attempt is worth one more try: provider
// 5xx responses, timeouts, and transport errors.
func transient(err error) bool {
	var serverErr *rzperrors.ServerError
	var gatewayErr *rzperrors.GatewayError
	var netErr net.Error
	switch {
	case errors.As(err, &serverErr), errors.As(err, &gatewayErr):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.As(err, &netErr):
		return true
	default:
		return false
	}
}

func decodeOrder(body map[string]interface{}) (*Order, error) {
	id, _ := body["id"].(string)
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "gateway returned order without id")
	}
	order := &Order{
		ID:          id,
		AmountMinor: toInt64(body["amount"]),
		Currency:    NormalizeCurrency(stringValue(body["currency"])),
		Status:      stringValue(body["status"]),
		Receipt:     stringValue(body["receipt"]),
	}
	if raw, ok := body["notes"].(map[string]interface{}); ok {
		order.Notes = make(map[string]string, len(raw))
		for k, v := range raw {
			order.Notes[k] = fmt.Sprint(v)
		}
	}
	return order, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}
