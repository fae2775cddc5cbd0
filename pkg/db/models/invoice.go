package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/aspyhq/aspy-backend/pkg/enums"
)

// Invoice records one purchase attempt. Amount is in major units.
type Invoice struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	UserID          uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	PlanID          uuid.UUID           `gorm:"column:plan_id;type:uuid;not null"`
	Amount          decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency        string              `gorm:"column:currency;not null"`
	Status          enums.InvoiceStatus `gorm:"column:status;not null;default:'pending'"`
	ExternalOrderID string              `gorm:"column:external_order_id;not null;uniqueIndex"`
	PaymentID       *uuid.UUID          `gorm:"column:payment_id;type:uuid"`
	SubscriptionID  *uuid.UUID          `gorm:"column:subscription_id;type:uuid"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	PaidAt          *time.Time          `gorm:"column:paid_at"`
}

func (Invoice) TableName() string { return "invoices" }

func (i *Invoice) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}
