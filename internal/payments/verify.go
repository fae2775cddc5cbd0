package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aspyhq/aspy-backend/internal/billing"
	pkgerrors "github.com/aspyhq/aspy-backend/pkg/errors"
	"github.com/aspyhq/aspy-backend/pkg/gateway"
	"github.com/aspyhq/aspy-backend/pkg/logger"
)

const StatusSuccess = "success"

type signatureRecorder interface {
	SignatureRejected(path string)
}

type VerifyInput struct {
	UserID    uuid.UUID
	OrderID   string
	PaymentID string
	Signature string
}

type VerifyResult struct {
	Status    string
	OrderID   string
	PaymentID string
	Amount    decimal.Decimal
	Currency  string
}

type VerificationServiceParams struct {
	Repo      billing.Repository
	Gateway   gateway.Gateway
	Finalizer *Finalizer
	Metrics   signatureRecorder
	Logger    *logger.Logger
	Now       func() time.Time
}

// VerificationService handles the client's proof of payment after checkout.
type VerificationService struct {
	repo      billing.Repository
	gw        gateway.Gateway
	finalizer *Finalizer
	metrics   signatureRecorder
	logg      *logger.Logger
	now       func() time.Time
}

func NewVerificationService(params VerificationServiceParams) (*VerificationService, error) {
	if params.Repo == nil {
		return nil, errors.New("billing repo required")
	}
	if params.Gateway == nil {
		return nil, errors.New("gateway required")
	}
	if params.Finalizer == nil {
		return nil, errors.New("finalizer required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &VerificationService{
		repo:      params.Repo,
		gw:        params.Gateway,
		finalizer: params.Finalizer,
		metrics:   params.Metrics,
		logg:      logg,
		now:       now,
	}, nil
}

func errInvoiceNotFound() error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found or already processed")
}

// Verify checks the payment signature for the caller's pending invoice and
// finalizes it. Unknown, foreign, and already-finalized orders all report not found.
func (s *VerificationService) Verify(ctx context.Context, in VerifyInput) (*VerifyResult, error) {
	orderID := strings.TrimSpace(in.OrderID)
	paymentID := strings.TrimSpace(in.PaymentID)
	signature := strings.TrimSpace(in.Signature)
	if in.UserID == uuid.Nil || orderID == "" || paymentID == "" || signature == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order_id, payment_id and signature are required")
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":            orderID,
		"provider_payment_id": paymentID,
		"user_id":             in.UserID.String(),
	})

	invoice, err := s.repo.FindPendingInvoice(ctx, orderID, in.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
	}
	if invoice == nil {
		return nil, errInvoiceNotFound()
	}

	if !s.gw.VerifyPaymentSignature(orderID, paymentID, signature) {
		if s.metrics != nil {
			s.metrics.SignatureRejected(string(SourceVerify))
		}
		s.logg.Warn(logCtx, "payment signature rejected")
		return nil, pkgerrors.New(pkgerrors.CodeInvalidSignature, "invalid payment signature")
	}

	amount, currency := invoice.Amount, invoice.Currency
	order, err := s.gw.FetchOrder(ctx, orderID)
	switch {
	case errors.Is(err, gateway.ErrNoRemoteState):
	case err != nil:
		return nil, err
	default:
		amount = gateway.ToMajor(order.AmountMinor)
		if order.Currency != "" {
			currency = order.Currency
		}
	}

	res, err := s.finalizer.Finalize(ctx, FinalizeInput{
		OrderID:           orderID,
		UserID:            in.UserID,
		ProviderPaymentID: paymentID,
		Amount:            amount,
		Currency:          currency,
		PaidAt:            s.now(),
		Source:            SourceVerify,
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyFinalized) {
			s.logg.Info(logCtx, "invoice finalized by a concurrent caller")
			return nil, errInvoiceNotFound()
		}
		return nil, err
	}

	return &VerifyResult{
		Status:    StatusSuccess,
		OrderID:   orderID,
		PaymentID: paymentID,
		Amount:    res.Invoice.Amount,
		Currency:  res.Invoice.Currency,
	}, nil
}
