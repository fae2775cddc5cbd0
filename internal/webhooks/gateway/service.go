package gatewaywebhook

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/aspyhq/aspy-backend/internal/payments"
	pkgerrors "github.com/aspyhq/aspy-backend/pkg/errors"
	"github.com/aspyhq/aspy-backend/pkg/gateway"
	"github.com/aspyhq/aspy-backend/pkg/logger"
)

// Outcome is how a delivery was resolved. It labels metrics and logs.
type Outcome string

const (
	OutcomeFinalized Outcome = "finalized"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed"
)

type finalizer interface {
	Finalize(ctx context.Context, in payments.FinalizeInput) (*payments.FinalizeResult, error)
}

type ServiceParams struct {
	Finalizer finalizer
	Logger    *logger.Logger
}

// Service applies verified gateway events to the ledger.
type Service struct {
	finalizer finalizer
	logg      *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Finalizer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "finalizer required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{finalizer: params.Finalizer, logg: logg}, nil
}

// HandleEvent dispatches on the event type. Only payment.captured changes state;
// a capture for an already paid order is reported as a duplicate. A capture whose
// local invoice is missing or failed is still finalized.
func (s *Service) HandleEvent(ctx context.Context, event *Event) (Outcome, error) {
	if event == nil {
		return OutcomeFailed, pkgerrors.New(pkgerrors.CodeValidation, "webhook event required")
	}

	switch event.Event {
	case EventPaymentCaptured:
		return s.handleCaptured(ctx, event)
	default:
		s.logg.Debug(s.logg.WithField(ctx, "event", event.Event), "webhook event ignored")
		return OutcomeIgnored, nil
	}
}

func (s *Service) handleCaptured(ctx context.Context, event *Event) (Outcome, error) {
	payment := event.Payment()
	if payment == nil || strings.TrimSpace(payment.ID) == "" {
		return OutcomeFailed, pkgerrors.New(pkgerrors.CodeValidation, "payment entity missing")
	}
	if strings.TrimSpace(payment.OrderID) == "" {
		return OutcomeFailed, pkgerrors.New(pkgerrors.CodeValidation, "payment has no order id")
	}

	userID, err := uuid.Parse(strings.TrimSpace(payment.Notes[gateway.NoteUserID]))
	if err != nil {
		return OutcomeFailed, pkgerrors.New(pkgerrors.CodeValidation, "payment notes missing user id")
	}
	planID, err := uuid.Parse(strings.TrimSpace(payment.Notes[gateway.NotePlanID]))
	if err != nil {
		return OutcomeFailed, pkgerrors.New(pkgerrors.CodeValidation, "payment notes missing plan id")
	}

	_, err = s.finalizer.Finalize(ctx, payments.FinalizeInput{
		OrderID:           payment.OrderID,
		UserID:            userID,
		PlanID:            planID,
		ProviderPaymentID: payment.ID,
		Amount:            gateway.ToMajor(payment.Amount),
		Currency:          payment.Currency,
		Method:            payment.MethodDetails(),
		PaidAt:            payment.CapturedAt(),
		Source:            payments.SourceWebhook,
	})
	if errors.Is(err, payments.ErrAlreadyFinalized) {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":            payment.OrderID,
			"provider_payment_id": payment.ID,
		})
		s.logg.Info(logCtx, "captured payment already finalized")
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}
	return OutcomeFinalized, nil
}
