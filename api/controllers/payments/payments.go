package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aspyhq/aspy-backend/api/middleware"
	"github.com/aspyhq/aspy-backend/api/responses"
	"github.com/aspyhq/aspy-backend/api/validators"
	paysvc "github.com/aspyhq/aspy-backend/internal/payments"
	pkgerrors "github.com/aspyhq/aspy-backend/pkg/errors"
	"github.com/aspyhq/aspy-backend/pkg/logger"
)

type OrderCreator interface {
	CreateOrder(ctx context.Context, in paysvc.CreateOrderInput) (*paysvc.OrderResult, error)
}

type PaymentVerifier interface {
	Verify(ctx context.Context, in paysvc.VerifyInput) (*paysvc.VerifyResult, error)
}

type HistoryReader interface {
	List(ctx context.Context, userID uuid.UUID) ([]paysvc.HistoryEntry, error)
	Methods() []paysvc.MethodOption
}

type createOrderRequest struct {
	PlanID   string `json:"plan_id" validate:"required,uuid"`
	Currency string `json:"currency" validate:"omitempty,iso4217"`
}

type createOrderResponse struct {
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	KeyID    string `json:"key_id"`
}

type verifyRequest struct {
	OrderID   string `json:"order_id" validate:"required,max=64"`
	PaymentID string `json:"payment_id" validate:"required,max=64"`
	Signature string `json:"signature" validate:"required,max=256"`
}

type verifyResponse struct {
	Status    string      `json:"status"`
	Message   string      `json:"message"`
	OrderID   string      `json:"order_id"`
	PaymentID string      `json:"payment_id"`
	Amount    json.Number `json:"amount"`
	Currency  string      `json:"currency"`
}

type historyItem struct {
	ID        uuid.UUID   `json:"id"`
	Amount    json.Number `json:"amount"`
	Currency  string      `json:"currency"`
	Status    string      `json:"status"`
	Provider  string      `json:"provider"`
	PlanName  *string     `json:"plan_name"`
	Method    string      `json:"method"`
	CreatedAt time.Time   `json:"created_at"`
}

type methodsResponse struct {
	AvailableMethods []paysvc.MethodOption `json:"available_methods"`
}

// CreateOrder opens a gateway order for the caller and records its pending invoice.
func CreateOrder(svc OrderCreator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		userID, ok := middleware.AuthenticatedUser(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		var payload createOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		planID, err := uuid.Parse(payload.PlanID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid plan_id"))
			return
		}

		result, err := svc.CreateOrder(r.Context(), paysvc.CreateOrderInput{
			UserID:   userID,
			PlanID:   planID,
			Currency: payload.Currency,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, createOrderResponse{
			OrderID:  result.OrderID,
			Amount:   result.Amount,
			Currency: result.Currency,
			KeyID:    result.KeyID,
		})
	}
}

// Verify confirms a client-side checkout and finalizes the invoice.
func Verify(svc PaymentVerifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "verification service unavailable"))
			return
		}
		userID, ok := middleware.AuthenticatedUser(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		var payload verifyRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithPaymentID(logg.WithOrderID(ctx, payload.OrderID), payload.PaymentID)
		}

		result, err := svc.Verify(ctx, paysvc.VerifyInput{
			UserID:    userID,
			OrderID:   payload.OrderID,
			PaymentID: payload.PaymentID,
			Signature: payload.Signature,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, verifyResponse{
			Status:    result.Status,
			Message:   "Payment verified and processed successfully",
			OrderID:   result.OrderID,
			PaymentID: result.PaymentID,
			Amount:    money(result.Amount),
			Currency:  result.Currency,
		})
	}
}

// History lists the caller's payments, newest first.
func History(svc HistoryReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "history service unavailable"))
			return
		}
		userID, ok := middleware.AuthenticatedUser(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		entries, err := svc.List(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]historyItem, 0, len(entries))
		for _, e := range entries {
			items = append(items, historyItem{
				ID:        e.ID,
				Amount:    money(e.Amount),
				Currency:  e.Currency,
				Status:    e.Status,
				Provider:  e.Provider,
				PlanName:  e.PlanName,
				Method:    e.Method,
				CreatedAt: e.CreatedAt.UTC(),
			})
		}
		responses.WriteSuccess(w, items)
	}
}

func Methods(svc HistoryReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "history service unavailable"))
			return
		}
		responses.WriteSuccess(w, methodsResponse{AvailableMethods: svc.Methods()})
	}
}

func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}
