// Package billingtest provides sqlite-backed fixtures for billing tests.
package billingtest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/aspyhq/aspy-backend/pkg/db/models"
	"github.com/aspyhq/aspy-backend/pkg/enums"
	"github.com/aspyhq/aspy-backend/pkg/types"
)

const schema = `
CREATE TABLE plans (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  type TEXT NOT NULL,
  price INTEGER NOT NULL CHECK (price >= 0),
  currency TEXT NOT NULL,
  features TEXT,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE invoices (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  plan_id TEXT NOT NULL REFERENCES plans(id),
  amount TEXT NOT NULL,
  currency TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  external_order_id TEXT NOT NULL UNIQUE,
  payment_id TEXT,
  subscription_id TEXT,
  created_at DATETIME,
  paid_at DATETIME
);
CREATE TABLE payments (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  subscription_id TEXT,
  amount TEXT NOT NULL,
  currency TEXT NOT NULL,
  status TEXT NOT NULL,
  provider TEXT NOT NULL,
  provider_payment_id TEXT NOT NULL UNIQUE,
  provider_order_id TEXT NOT NULL,
  payment_method_details TEXT,
  created_at DATETIME,
  completed_at DATETIME
);
CREATE TABLE subscriptions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL UNIQUE,
  plan_id TEXT NOT NULL REFERENCES plans(id),
  status TEXT NOT NULL DEFAULT 'active',
  current_period_start DATETIME NOT NULL,
  current_period_end DATETIME NOT NULL,
  cancel_at_period_end INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME,
  cancelled_at DATETIME
);
CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload BLOB NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`

// NewDB opens an isolated in-memory database with the billing schema. A single
// connection is used so concurrent transactions serialize.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

// SeedPlan inserts a plan priced in minor units.
func SeedPlan(t testing.TB, db *gorm.DB, name string, price int64, currency string) *models.Plan {
	t.Helper()

	plan := &models.Plan{
		Name:     name,
		Type:     enums.PlanTypePro,
		Price:    price,
		Currency: currency,
		Features: types.Attributes{"max_projects": float64(10), "priority_support": true},
	}
	require.NoError(t, db.Create(plan).Error)
	return plan
}

// CountPayments returns the number of payment rows for the user.
func CountPayments(t testing.TB, db *gorm.DB, userID uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.Payment{}).Where("user_id = ?", userID).Count(&n).Error)
	return n
}

// CountSubscriptions returns the number of subscription rows for the user.
func CountSubscriptions(t testing.TB, db *gorm.DB, userID uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.Subscription{}).Where("user_id = ?", userID).Count(&n).Error)
	return n
}

// Invoice reloads an invoice by gateway order id.
func Invoice(t testing.TB, db *gorm.DB, orderID string) *models.Invoice {
	t.Helper()
	var inv models.Invoice
	require.NoError(t, db.Where("external_order_id = ?", orderID).First(&inv).Error)
	return &inv
}

// Subscription reloads the user's subscription.
func Subscription(t testing.TB, db *gorm.DB, userID uuid.UUID) *models.Subscription {
	t.Helper()
	var sub models.Subscription
	require.NoError(t, db.Where("user_id = ?", userID).First(&sub).Error)
	return &sub
}

// CountOutbox returns the number of outbox rows of the given event type.
func CountOutbox(t testing.TB, db *gorm.DB, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}
