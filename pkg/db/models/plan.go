package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aspyhq/aspy-backend/pkg/enums"
	"github.com/aspyhq/aspy-backend/pkg/types"
)

// Plan is a purchasable tier. Price is stored in minor units of Currency.
type Plan struct {
	ID        uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Name      string           `gorm:"column:name;not null"`
	Type      enums.PlanType   `gorm:"column:type;not null"`
	Price     int64            `gorm:"column:price;not null"`
	Currency  string           `gorm:"column:currency;not null"`
	Features  types.Attributes `gorm:"column:features;type:jsonb"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (Plan) TableName() string { return "plans" }

func (p *Plan) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
