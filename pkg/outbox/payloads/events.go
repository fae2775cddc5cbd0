package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentCapturedEvent is emitted once per finalized invoice.
type PaymentCapturedEvent struct {
	PaymentID         uuid.UUID       `json:"payment_id"`
	InvoiceID         uuid.UUID       `json:"invoice_id"`
	UserID            uuid.UUID       `json:"user_id"`
	PlanID            uuid.UUID       `json:"plan_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Provider          string          `json:"provider"`
	ProviderPaymentID string          `json:"provider_payment_id"`
	ProviderOrderID   string          `json:"provider_order_id"`
	CapturedAt        time.Time       `json:"captured_at"`
}

// SubscriptionActivatedEvent covers both first activation and renewal.
type SubscriptionActivatedEvent struct {
	SubscriptionID     uuid.UUID  `json:"subscription_id"`
	UserID             uuid.UUID  `json:"user_id"`
	PlanID             uuid.UUID  `json:"plan_id"`
	PreviousPlanID     *uuid.UUID `json:"previous_plan_id,omitempty"`
	Transition         string     `json:"transition"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
}

// SubscriptionEndedEvent is emitted when a subscription is cancelled or expires.
type SubscriptionEndedEvent struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	UserID         uuid.UUID `json:"user_id"`
	PlanID         uuid.UUID `json:"plan_id"`
	Status         string    `json:"status"`
	EndedAt        time.Time `json:"ended_at"`
}

// InvoiceFailedEvent is emitted when a pending invoice is abandoned.
type InvoiceFailedEvent struct {
	InvoiceID       uuid.UUID `json:"invoice_id"`
	UserID          uuid.UUID `json:"user_id"`
	ExternalOrderID string    `json:"external_order_id"`
	FailedAt        time.Time `json:"failed_at"`
}
