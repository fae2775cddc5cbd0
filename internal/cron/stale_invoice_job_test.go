package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/aspyhq/aspy-backend/internal/billing"
	"github.com/aspyhq/aspy-backend/internal/billing/billingtest"
	pkgdb "github.com/aspyhq/aspy-backend/pkg/db"
	"github.com/aspyhq/aspy-backend/pkg/db/models"
	"github.com/aspyhq/aspy-backend/pkg/enums"
	"github.com/aspyhq/aspy-backend/pkg/logger"
	"github.com/aspyhq/aspy-backend/pkg/outbox"
)

func seedInvoice(t *testing.T, db *gorm.DB, planID uuid.UUID, orderID string, age time.Duration) *models.Invoice {
	t.Helper()
	inv := &models.Invoice{
		UserID:          uuid.New(),
		PlanID:          planID,
		Amount:          decimal.RequireFromString("29.00"),
		Currency:        "INR",
		Status:          enums.InvoiceStatusPending,
		ExternalOrderID: orderID,
	}
	require.NoError(t, db.Create(inv).Error)
	require.NoError(t, db.Model(&models.Invoice{}).Where("id = ?", inv.ID).
		Update("created_at", time.Now().UTC().Add(-age)).Error)
	return inv
}

func newStaleInvoiceJob(t *testing.T, db *gorm.DB, emitter eventEmitter) Job {
	t.Helper()
	job, err := NewStaleInvoiceJob(StaleInvoiceJobParams{
		Logger: logger.Nop(),
		DB:     pkgdb.FromGorm(db),
		Repo:   billing.NewRepository(db),
		Outbox: emitter,
		TTL:    72 * time.Hour,
	})
	require.NoError(t, err)
	return job
}

func TestStaleInvoiceJobFailsOldPendingInvoices(t *testing.T) {
	db := billingtest.NewDB(t)
	plan := billingtest.SeedPlan(t, db, "Pro", 2900, "INR")
	seedInvoice(t, db, plan.ID, "order_old", 96*time.Hour)
	seedInvoice(t, db, plan.ID, "order_fresh", time.Hour)

	job := newStaleInvoiceJob(t, db, outbox.NewService(outbox.NewRepository(db), logger.Nop()))
	assert.Equal(t, "stale-invoice-sweep", job.Name())
	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, enums.InvoiceStatusFailed, billingtest.Invoice(t, db, "order_old").Status)
	assert.Equal(t, enums.InvoiceStatusPending, billingtest.Invoice(t, db, "order_fresh").Status)
	assert.Equal(t, int64(1), billingtest.CountOutbox(t, db, enums.EventInvoiceFailed))

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, int64(1), billingtest.CountOutbox(t, db, enums.EventInvoiceFailed))
}

type failingEmitter struct{ calls int }

func (f *failingEmitter) Emit(context.Context, *gorm.DB, outbox.DomainEvent) error {
	f.calls++
	return errors.New("outbox unavailable")
}

func TestStaleInvoiceJobRollsBackWhenEmitFails(t *testing.T) {
	db := billingtest.NewDB(t)
	plan := billingtest.SeedPlan(t, db, "Pro", 2900, "INR")
	seedInvoice(t, db, plan.ID, "order_a", 100*time.Hour)
	seedInvoice(t, db, plan.ID, "order_b", 100*time.Hour)

	emitter := &failingEmitter{}
	job := newStaleInvoiceJob(t, db, emitter)

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Equal(t, 2, emitter.calls)
	assert.Equal(t, enums.InvoiceStatusPending, billingtest.Invoice(t, db, "order_a").Status)
	assert.Equal(t, enums.InvoiceStatusPending, billingtest.Invoice(t, db, "order_b").Status)
}
