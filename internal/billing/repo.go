package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aspyhq/aspy-backend/pkg/db/models"
	"github.com/aspyhq/aspy-backend/pkg/enums"
)

const defaultSweepLimit = 250

// Repository is the ledger store for plans, invoices, payments, and subscriptions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindPlan(ctx context.Context, id uuid.UUID) (*models.Plan, error)
	ListPlans(ctx context.Context) ([]models.Plan, error)
	CreatePlan(ctx context.Context, plan *models.Plan) error

	CreateInvoice(ctx context.Context, invoice *models.Invoice) error
	FindPendingInvoice(ctx context.Context, orderID string, userID uuid.UUID) (*models.Invoice, error)
	FindInvoiceByOrderID(ctx context.Context, orderID string) (*models.Invoice, error)
	MarkInvoicePaid(ctx context.Context, orderID string, amount decimal.Decimal, paidAt time.Time) (bool, error)
	MarkInvoiceFailed(ctx context.Context, invoiceID uuid.UUID) (bool, error)
	ReopenInvoice(ctx context.Context, invoiceID uuid.UUID) (bool, error)
	LinkInvoice(ctx context.Context, invoiceID, paymentID uuid.UUID, subscriptionID *uuid.UUID) error
	ListStaleInvoices(ctx context.Context, createdBefore time.Time, limit int) ([]models.Invoice, error)

	CreatePayment(ctx context.Context, payment *models.Payment) error
	LinkPaymentSubscription(ctx context.Context, paymentID, subscriptionID uuid.UUID) error
	ListPaymentHistory(ctx context.Context, userID uuid.UUID) ([]PaymentHistoryRow, error)

	FindSubscriptionByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	FindSubscriptionForUpdate(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	CreateSubscription(ctx context.Context, subscription *models.Subscription) error
	SaveSubscription(ctx context.Context, subscription *models.Subscription) error
	ListDueSubscriptions(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
}

// PaymentHistoryRow is a payment joined with the plan it paid for.
type PaymentHistoryRow struct {
	models.Payment `gorm:"embedded"`
	PlanName       *string `gorm:"column:plan_name"`
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindPlan(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&plan).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &plan, nil
}

func (r *repository) ListPlans(ctx context.Context) ([]models.Plan, error) {
	var plans []models.Plan
	if err := r.db.WithContext(ctx).Order("price ASC").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repository) CreatePlan(ctx context.Context, plan *models.Plan) error {
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *repository) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *repository) FindPendingInvoice(ctx context.Context, orderID string, userID uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).
		Where("external_order_id = ? AND user_id = ? AND status = ?", orderID, userID, enums.InvoiceStatusPending).
		First(&invoice).Error
	if err != nil {
		return nil, notFoundAsNil(err)
	}
	return &invoice, nil
}

func (r *repository) FindInvoiceByOrderID(ctx context.Context, orderID string) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).Where("external_order_id = ?", orderID).First(&invoice).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &invoice, nil
}

// MarkInvoicePaid flips a pending invoice to paid. It reports false when the
// invoice was no longer pending, which makes it the finalization gate.
func (r *repository) MarkInvoicePaid(ctx context.Context, orderID string, amount decimal.Decimal, paidAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("external_order_id = ? AND status = ?", orderID, enums.InvoiceStatusPending).
		Updates(map[string]any{
			"status":  enums.InvoiceStatusPaid,
			"amount":  amount,
			"paid_at": paidAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) MarkInvoiceFailed(ctx context.Context, invoiceID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ? AND status = ?", invoiceID, enums.InvoiceStatusPending).
		Update("status", enums.InvoiceStatusFailed)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReopenInvoice moves a failed invoice back to pending so a late capture can
// pass the finalization gate.
func (r *repository) ReopenInvoice(ctx context.Context, invoiceID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ? AND status = ?", invoiceID, enums.InvoiceStatusFailed).
		Update("status", enums.InvoiceStatusPending)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) LinkInvoice(ctx context.Context, invoiceID, paymentID uuid.UUID, subscriptionID *uuid.UUID) error {
	updates := map[string]any{"payment_id": paymentID}
	if subscriptionID != nil {
		updates["subscription_id"] = *subscriptionID
	}
	return r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ?", invoiceID).
		Updates(updates).Error
}

func (r *repository) ListStaleInvoices(ctx context.Context, createdBefore time.Time, limit int) ([]models.Invoice, error) {
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	var invoices []models.Invoice
	if err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.InvoiceStatusPending, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) LinkPaymentSubscription(ctx context.Context, paymentID, subscriptionID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", paymentID).
		Update("subscription_id", subscriptionID).Error
}

// ListPaymentHistory returns the user's payments newest first. The plan name is
// taken from the invoice the payment settled, falling back to the subscription.
func (r *repository) ListPaymentHistory(ctx context.Context, userID uuid.UUID) ([]PaymentHistoryRow, error) {
	var rows []PaymentHistoryRow
	err := r.db.WithContext(ctx).
		Table("payments AS p").
		Select("p.*, COALESCE(ip.name, sp.name) AS plan_name").
		Joins("LEFT JOIN invoices AS i ON i.payment_id = p.id").
		Joins("LEFT JOIN plans AS ip ON ip.id = i.plan_id").
		Joins("LEFT JOIN subscriptions AS s ON s.id = p.subscription_id").
		Joins("LEFT JOIN plans AS sp ON sp.id = s.plan_id").
		Where("p.user_id = ?", userID).
		Order("p.created_at DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) FindSubscriptionByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &sub, nil
}

// FindSubscriptionForUpdate row-locks the user's subscription for the rest of the
// surrounding transaction.
func (r *repository) FindSubscriptionForUpdate(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&sub).Error
	if err != nil {
		return nil, notFoundAsNil(err)
	}
	return &sub, nil
}

func (r *repository) CreateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Create(subscription).Error
}

func (r *repository) SaveSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Save(subscription).Error
}

// ListDueSubscriptions returns active subscriptions whose period has ended.
func (r *repository) ListDueSubscriptions(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("status = ? AND current_period_end <= ?", enums.SubscriptionStatusActive, now).
		Order("current_period_end ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func notFoundAsNil(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}
