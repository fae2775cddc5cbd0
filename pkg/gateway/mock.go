package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	pkgerrors "github.com/aspyhq/aspy-backend/pkg/errors"
)

const (
	MockOrderPrefix     = "order_mock_"
	MockSignaturePrefix = "sig_mock_"
	MockKeyID           = "dummy_key_id"
)

// Mock simulates the gateway without network access.
type Mock struct {
	secret string
	now    func() time.Time
	seq    atomic.Int64
}

// NewMock builds a mock gateway. When secret is set, signatures without the mock
// prefix are still verified cryptographically.
func NewMock(secret string) *Mock {
	return &Mock{secret: secret, now: time.Now}
}

func (m *Mock) Mode() Mode { return ModeMock }

func (m *Mock) KeyID() string { return MockKeyID }

// CreateOrder synthesizes order_mock_<user>_<timestamp>. The timestamp is bumped
// when two orders land in the same nanosecond.
func (m *Mock) CreateOrder(_ context.Context, req OrderRequest) (*Order, error) {
	user := strings.TrimSpace(req.Notes[NoteUserID])
	if user == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user note required for mock order")
	}
	stamp := m.now().UnixNano()
	for {
		prev := m.seq.Load()
		if stamp <= prev {
			stamp = prev + 1
		}
		if m.seq.CompareAndSwap(prev, stamp) {
			break
		}
	}
	return &Order{
		ID:          fmt.Sprintf("%s%s_%d", MockOrderPrefix, user, stamp),
		AmountMinor: req.AmountMinor,
		Currency:    NormalizeCurrency(req.Currency),
		Status:      "created",
		Receipt:     req.Receipt,
		Notes:       req.Notes,
	}, nil
}

// FetchOrder always returns ErrNoRemoteState.
func (m *Mock) FetchOrder(context.Context, string) (*Order, error) {
	return nil, ErrNoRemoteState
}

// VerifyPaymentSignature accepts mock orders and mock signatures. Anything else
// goes through the HMAC check.
func (m *Mock) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	if strings.HasPrefix(orderID, MockOrderPrefix) || strings.HasPrefix(signature, MockSignaturePrefix) {
		return true
	}
	return VerifyPayment(m.secret, orderID, paymentID, signature)
}
