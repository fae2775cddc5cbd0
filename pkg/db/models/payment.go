package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/aspyhq/aspy-backend/pkg/enums"
	"github.com/aspyhq/aspy-backend/pkg/types"
)

// Payment is a captured money movement tied to a provider transaction id.
type Payment struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	UserID            uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	SubscriptionID    *uuid.UUID          `gorm:"column:subscription_id;type:uuid"`
	Amount            decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency          string              `gorm:"column:currency;not null"`
	Status            enums.PaymentStatus `gorm:"column:status;not null"`
	Provider          string              `gorm:"column:provider;not null"`
	ProviderPaymentID string              `gorm:"column:provider_payment_id;not null;uniqueIndex"`
	ProviderOrderID   string              `gorm:"column:provider_order_id;not null"`
	MethodDetails     types.Attributes    `gorm:"column:payment_method_details;type:jsonb"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	CompletedAt       *time.Time          `gorm:"column:completed_at"`
}

func (Payment) TableName() string { return "payments" }

func (p *Payment) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
