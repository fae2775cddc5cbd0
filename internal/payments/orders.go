package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/aspyhq/aspy-backend/internal/billing"
	"github.com/aspyhq/aspy-backend/pkg/db/models"
	"github.com/aspyhq/aspy-backend/pkg/enums"
	pkgerrors "github.com/aspyhq/aspy-backend/pkg/errors"
	"github.com/aspyhq/aspy-backend/pkg/gateway"
	"github.com/aspyhq/aspy-backend/pkg/logger"
)

type orderRecorder interface {
	OrderCreated(mode string)
}

type CreateOrderInput struct {
	UserID   uuid.UUID
	PlanID   uuid.UUID
	Currency string
}

// OrderResult is returned to the client to open the gateway checkout. Amount is
// in the currency's minor unit.
type OrderResult struct {
	OrderID  string
	Amount   int64
	Currency string
	KeyID    string
}

type OrderServiceParams struct {
	Repo           billing.Repository
	Gateway        gateway.Gateway
	NativeCurrency string
	Metrics        orderRecorder
	Logger         *logger.Logger
}

type OrderService struct {
	repo    billing.Repository
	gw      gateway.Gateway
	native  string
	metrics orderRecorder
	logg    *logger.Logger
}

func NewOrderService(params OrderServiceParams) (*OrderService, error) {
	if params.Repo == nil {
		return nil, errors.New("billing repo required")
	}
	if params.Gateway == nil {
		return nil, errors.New("gateway required")
	}
	native := gateway.NormalizeCurrency(params.NativeCurrency)
	if native == "" {
		return nil, errors.New("native currency required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &OrderService{
		repo:    params.Repo,
		gw:      params.Gateway,
		native:  native,
		metrics: params.Metrics,
		logg:    logg,
	}, nil
}

// CreateOrder opens a gateway order for the plan and records a pending invoice
// for it. An empty currency means the plan's own currency.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*OrderResult, error) {
	if in.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if in.PlanID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan id is required")
	}

	plan, err := s.repo.FindPlan(ctx, in.PlanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}

	currency := gateway.NormalizeCurrency(in.Currency)
	if currency == "" {
		currency = gateway.NormalizeCurrency(plan.Currency)
	}
	if !strings.EqualFold(currency, plan.Currency) {
		return nil, pkgerrors.New(pkgerrors.CodeCurrencyMismatch, "currency does not match plan").
			WithDetails(map[string]string{"requested": currency, "plan": gateway.NormalizeCurrency(plan.Currency)})
	}

	amount := gateway.ChargeAmount(plan.Price, plan.Currency, s.native)
	invoiceID := uuid.New()
	order, err := s.gw.CreateOrder(ctx, gateway.OrderRequest{
		AmountMinor: amount,
		Currency:    currency,
		Receipt:     invoiceID.String(),
		Notes: map[string]string{
			gateway.NoteUserID:   in.UserID.String(),
			gateway.NotePlanID:   plan.ID.String(),
			gateway.NotePlanName: plan.Name,
		},
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, "create gateway order")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":   order.ID,
		"invoice_id": invoiceID.String(),
		"user_id":    in.UserID.String(),
		"plan_id":    plan.ID.String(),
		"mode":       s.gw.Mode(),
	})

	invoice := &models.Invoice{
		ID:              invoiceID,
		UserID:          in.UserID,
		PlanID:          plan.ID,
		Amount:          gateway.ToMajor(amount),
		Currency:        currency,
		Status:          enums.InvoiceStatusPending,
		ExternalOrderID: order.ID,
	}
	if err := s.repo.CreateInvoice(ctx, invoice); err != nil {
		// The remote order exists without a local invoice. Its capture webhook
		// carries user and plan notes and rebuilds the invoice on finalization.
		s.logg.Error(s.logg.WithField(logCtx, "reconcile", "manual"), "gateway order created but invoice not persisted", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInconsistentState, err, "persist invoice")
	}

	if s.metrics != nil {
		s.metrics.OrderCreated(string(s.gw.Mode()))
	}
	s.logg.Info(logCtx, "order created")

	return &OrderResult{
		OrderID:  order.ID,
		Amount:   amount,
		Currency: currency,
		KeyID:    s.gw.KeyID(),
	}, nil
}
