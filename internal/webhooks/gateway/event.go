package gatewaywebhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/aspyhq/aspy-backend/pkg/errors"
	"github.com/aspyhq/aspy-backend/pkg/types"
)

const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
	EventOrderPaid       = "order.paid"
)

// Event is the gateway webhook body. Only the fields used for correlation and
// payment recording are decoded.
type Event struct {
	Entity    string       `json:"entity"`
	AccountID string       `json:"account_id"`
	Event     string       `json:"event"`
	Contains  []string     `json:"contains"`
	Payload   EventPayload `json:"payload"`
	CreatedAt int64        `json:"created_at"`
}

type EventPayload struct {
	Payment *PaymentWrapper `json:"payment,omitempty"`
}

type PaymentWrapper struct {
	Entity PaymentEntity `json:"entity"`
}

type PaymentEntity struct {
	ID        string       `json:"id"`
	OrderID   string       `json:"order_id"`
	Amount    int64        `json:"amount"`
	Currency  string       `json:"currency"`
	Status    string       `json:"status"`
	Method    string       `json:"method"`
	Bank      string       `json:"bank"`
	Wallet    string       `json:"wallet"`
	VPA       string       `json:"vpa"`
	Card      *PaymentCard `json:"card,omitempty"`
	Notes     Notes        `json:"notes"`
	CreatedAt int64        `json:"created_at"`
}

type PaymentCard struct {
	Network string `json:"network"`
}

// Notes is the metadata echoed back from order creation. The gateway sends an
// empty array instead of an object when no notes were set.
type Notes map[string]string

func (n *Notes) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || trimmed[0] == '[' {
		*n = Notes{}
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}
	out := make(Notes, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	*n = out
	return nil
}

// ParseEvent decodes a webhook body. It must only be called after the body's
// signature has been accepted.
func ParseEvent(raw []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook payload")
	}
	event.Event = strings.TrimSpace(event.Event)
	if event.Event == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook event type missing")
	}
	return &event, nil
}

// Payment returns the payment entity when the event carries one.
func (e *Event) Payment() *PaymentEntity {
	if e == nil || e.Payload.Payment == nil {
		return nil
	}
	return &e.Payload.Payment.Entity
}

// DedupKey identifies a delivery when the gateway omits its event id header.
func (e *Event) DedupKey() string {
	if p := e.Payment(); p != nil && p.ID != "" {
		return e.Event + ":" + p.ID
	}
	return fmt.Sprintf("%s:%d", e.Event, e.CreatedAt)
}

// MethodDetails keeps the non-empty instrument fields of the payment.
func (p *PaymentEntity) MethodDetails() types.Attributes {
	attrs := types.Attributes{}
	set := func(key, value string) {
		if v := strings.TrimSpace(value); v != "" {
			attrs[key] = v
		}
	}
	set(types.AttrMethod, p.Method)
	set(types.AttrBank, p.Bank)
	set(types.AttrWallet, p.Wallet)
	set(types.AttrVPA, p.VPA)
	if p.Card != nil {
		set(types.AttrCard, p.Card.Network)
	}
	return attrs
}

// CapturedAt is the payment's creation time, or zero when absent.
func (p *PaymentEntity) CapturedAt() time.Time {
	if p.CreatedAt <= 0 {
		return time.Time{}
	}
	return time.Unix(p.CreatedAt, 0).UTC()
}
