package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/aspyhq/aspy-backend/internal/billing"
	"github.com/aspyhq/aspy-backend/internal/subscriptions"
	"github.com/aspyhq/aspy-backend/pkg/db"
	"github.com/aspyhq/aspy-backend/pkg/db/models"
	"github.com/aspyhq/aspy-backend/pkg/enums"
	pkgerrors "github.com/aspyhq/aspy-backend/pkg/errors"
	"github.com/aspyhq/aspy-backend/pkg/gateway"
	"github.com/aspyhq/aspy-backend/pkg/logger"
	"github.com/aspyhq/aspy-backend/pkg/outbox"
	"github.com/aspyhq/aspy-backend/pkg/outbox/payloads"
	"github.com/aspyhq/aspy-backend/pkg/types"
)

// ErrAlreadyFinalized is returned when the invoice left pending before this
// finalization reached the conditional update.
var ErrAlreadyFinalized = errors.New("invoice already finalized")

// Source identifies the entry point that finalized an invoice.
type Source string

const (
	SourceVerify  Source = "verify"
	SourceWebhook Source = "webhook"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type finalizeRecorder interface {
	PaymentFinalized(source, transition string)
}

// FinalizeInput carries the captured payment. UserID and PlanID, when set, must
// match the invoice; a mismatch means the caller correlated the wrong order.
type FinalizeInput struct {
	OrderID           string
	UserID            uuid.UUID
	PlanID            uuid.UUID
	ProviderPaymentID string
	Amount            decimal.Decimal
	Currency          string
	Method            types.Attributes
	PaidAt            time.Time
	Source            Source
}

type FinalizeResult struct {
	Invoice    *models.Invoice
	Payment    *models.Payment
	Activation *subscriptions.Activation
}

type FinalizerParams struct {
	Repo     billing.Repository
	Machine  *subscriptions.Machine
	TxRunner txRunner
	Outbox   eventEmitter
	Metrics  finalizeRecorder
	Logger   *logger.Logger
}

// Finalizer applies a captured payment to its invoice, payment, and
// subscription rows as one transaction. Verification and webhooks share it.
type Finalizer struct {
	repo    billing.Repository
	machine *subscriptions.Machine
	tx      txRunner
	outbox  eventEmitter
	metrics finalizeRecorder
	logg    *logger.Logger
}

func NewFinalizer(params FinalizerParams) (*Finalizer, error) {
	if params.Repo == nil {
		return nil, errors.New("billing repo required")
	}
	if params.Machine == nil {
		return nil, errors.New("state machine required")
	}
	if params.TxRunner == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox emitter required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Finalizer{
		repo:    params.Repo,
		machine: params.Machine,
		tx:      params.TxRunner,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		logg:    logg,
	}, nil
}

// Finalize marks the invoice paid, records the payment, and activates or renews
// the subscription. Only the caller that wins the pending->paid update applies
// any effect; every other caller gets ErrAlreadyFinalized.
func (f *Finalizer) Finalize(ctx context.Context, in FinalizeInput) (*FinalizeResult, error) {
	orderID := strings.TrimSpace(in.OrderID)
	if orderID == "" || strings.TrimSpace(in.ProviderPaymentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id and payment id are required")
	}
	paidAt := in.PaidAt.UTC()
	if in.PaidAt.IsZero() {
		paidAt = time.Now().UTC()
	}
	amount := in.Amount.Round(2)

	var result FinalizeResult
	err := f.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := f.repo.WithTx(tx)

		invoice, err := repo.FindInvoiceByOrderID(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
		}
		if invoice == nil {
			if invoice, err = f.recoverInvoice(ctx, repo, orderID, in, amount); err != nil {
				return err
			}
		}
		if in.UserID != uuid.Nil && invoice.UserID != in.UserID {
			return pkgerrors.New(pkgerrors.CodeInconsistentState, "payment user does not match invoice")
		}
		if in.PlanID != uuid.Nil && invoice.PlanID != in.PlanID {
			return pkgerrors.New(pkgerrors.CodeInconsistentState, "payment plan does not match invoice")
		}
		switch invoice.Status {
		case enums.InvoiceStatusPending:
		case enums.InvoiceStatusPaid:
			return ErrAlreadyFinalized
		case enums.InvoiceStatusFailed:
			// A capture is authoritative over the stale-invoice sweep.
			reopened, err := repo.ReopenInvoice(ctx, invoice.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reopen invoice")
			}
			if !reopened {
				return ErrAlreadyFinalized
			}
			f.logg.Warn(f.logg.WithFields(ctx, map[string]any{
				"order_id":   orderID,
				"invoice_id": invoice.ID.String(),
			}), "captured payment reopened failed invoice")
		default:
			return pkgerrors.New(pkgerrors.CodeInconsistentState, "invoice in unexpected status").
				WithDetails(map[string]string{"status": string(invoice.Status)})
		}

		won, err := repo.MarkInvoicePaid(ctx, orderID, amount, paidAt)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark invoice paid")
		}
		if !won {
			return ErrAlreadyFinalized
		}

		currency := gateway.NormalizeCurrency(in.Currency)
		if currency == "" {
			currency = invoice.Currency
		}
		method := types.Attributes{types.AttrMethod: gateway.ProviderName}.
			Merge(in.Method).
			Merge(types.Attributes{types.AttrID: in.ProviderPaymentID})
		payment := &models.Payment{
			UserID:            invoice.UserID,
			Amount:            amount,
			Currency:          currency,
			Status:            enums.PaymentStatusCompleted,
			Provider:          gateway.ProviderName,
			ProviderPaymentID: in.ProviderPaymentID,
			ProviderOrderID:   orderID,
			MethodDetails:     method,
			CompletedAt:       &paidAt,
		}
		if err := repo.CreatePayment(ctx, payment); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeInconsistentState, err, "provider payment already recorded")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
		}

		activation, err := f.machine.ActivateOrRenew(ctx, repo, subscriptions.ActivateInput{
			UserID:      invoice.UserID,
			PlanID:      invoice.PlanID,
			EffectiveAt: paidAt,
		})
		if err != nil {
			return err
		}
		subID := activation.Subscription.ID

		if err := repo.LinkPaymentSubscription(ctx, payment.ID, subID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link payment")
		}
		if err := repo.LinkInvoice(ctx, invoice.ID, payment.ID, &subID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link invoice")
		}
		payment.SubscriptionID = &subID
		invoice.Status = enums.InvoiceStatusPaid
		invoice.Amount = amount
		invoice.PaidAt = &paidAt
		invoice.PaymentID = &payment.ID
		invoice.SubscriptionID = &subID

		if err := f.emit(ctx, tx, in.Source, invoice, payment, activation); err != nil {
			return err
		}

		result = FinalizeResult{Invoice: invoice, Payment: payment, Activation: activation}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if f.metrics != nil {
		f.metrics.PaymentFinalized(string(in.Source), string(result.Activation.Transition))
	}
	logCtx := f.logg.WithFields(ctx, map[string]any{
		"order_id":        orderID,
		"invoice_id":      result.Invoice.ID.String(),
		"payment_id":      result.Payment.ID.String(),
		"subscription_id": result.Activation.Subscription.ID.String(),
		"user_id":         result.Invoice.UserID.String(),
		"transition":      result.Activation.Transition,
		"source":          in.Source,
	})
	f.logg.Info(logCtx, "payment finalized")
	return &result, nil
}

// recoverInvoice rebuilds the invoice for a gateway order whose local insert
// failed. Only captures that name both user and plan can do this, and the plan
// must exist.
func (f *Finalizer) recoverInvoice(ctx context.Context, repo billing.Repository, orderID string, in FinalizeInput, amount decimal.Decimal) (*models.Invoice, error) {
	if in.UserID == uuid.Nil || in.PlanID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	plan, err := repo.FindPlan(ctx, in.PlanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found").
			WithDetails(map[string]string{"order_id": orderID, "plan_id": in.PlanID.String()})
	}

	currency := gateway.NormalizeCurrency(in.Currency)
	if currency == "" {
		currency = gateway.NormalizeCurrency(plan.Currency)
	}
	invoice := &models.Invoice{
		UserID:          in.UserID,
		PlanID:          plan.ID,
		Amount:          amount,
		Currency:        currency,
		Status:          enums.InvoiceStatusPending,
		ExternalOrderID: orderID,
	}
	if err := repo.CreateInvoice(ctx, invoice); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, ErrAlreadyFinalized
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recreate invoice")
	}
	f.logg.Warn(f.logg.WithFields(ctx, map[string]any{
		"order_id":   orderID,
		"invoice_id": invoice.ID.String(),
		"user_id":    in.UserID.String(),
		"plan_id":    plan.ID.String(),
	}), "recreated missing invoice from captured payment")
	return invoice, nil
}

func (f *Finalizer) emit(ctx context.Context, tx *gorm.DB, source Source, invoice *models.Invoice, payment *models.Payment, activation *subscriptions.Activation) error {
	userID := invoice.UserID
	actor := &outbox.ActorRef{UserID: &userID, Source: string(source)}
	occurred := *payment.CompletedAt
	sub := activation.Subscription

	if err := f.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentCaptured,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         actor,
		OccurredAt:    occurred,
		Data: payloads.PaymentCapturedEvent{
			PaymentID:         payment.ID,
			InvoiceID:         invoice.ID,
			UserID:            invoice.UserID,
			PlanID:            invoice.PlanID,
			Amount:            payment.Amount,
			Currency:          payment.Currency,
			Provider:          payment.Provider,
			ProviderPaymentID: payment.ProviderPaymentID,
			ProviderOrderID:   payment.ProviderOrderID,
			CapturedAt:        occurred,
		},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payment event")
	}

	if err := f.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventSubscriptionActivated,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   sub.ID,
		Actor:         actor,
		OccurredAt:    occurred,
		Data: payloads.SubscriptionActivatedEvent{
			SubscriptionID:     sub.ID,
			UserID:             sub.UserID,
			PlanID:             sub.PlanID,
			PreviousPlanID:     activation.PreviousPlanID,
			Transition:         string(activation.Transition),
			CurrentPeriodStart: sub.CurrentPeriodStart,
			CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit subscription event")
	}
	return nil
}
