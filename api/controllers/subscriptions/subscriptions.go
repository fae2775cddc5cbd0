package subscriptions

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aspyhq/aspy-backend/api/middleware"
	"github.com/aspyhq/aspy-backend/api/responses"
	"github.com/aspyhq/aspy-backend/api/validators"
	"github.com/aspyhq/aspy-backend/pkg/db/models"
	pkgerrors "github.com/aspyhq/aspy-backend/pkg/errors"
	"github.com/aspyhq/aspy-backend/pkg/logger"
)

// Service is the slice of the subscription service the HTTP layer needs.
type Service interface {
	Current(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	Cancel(ctx context.Context, userID uuid.UUID, atPeriodEnd bool) (*models.Subscription, error)
}

type cancelRequest struct {
	AtPeriodEnd *bool `json:"at_period_end"`
}

type subscriptionResponse struct {
	ID                 uuid.UUID  `json:"id"`
	PlanID             uuid.UUID  `json:"plan_id"`
	Status             string     `json:"status"`
	Active             bool       `json:"active"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
}

func Current(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}
		userID, ok := middleware.AuthenticatedUser(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		sub, err := svc.Current(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(sub, time.Now()))
	}
}

// Cancel ends the caller's subscription, at period end unless the body says otherwise.
func Cancel(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}
		userID, ok := middleware.AuthenticatedUser(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		var payload cancelRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		atPeriodEnd := true
		if payload.AtPeriodEnd != nil {
			atPeriodEnd = *payload.AtPeriodEnd
		}

		sub, err := svc.Cancel(r.Context(), userID, atPeriodEnd)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(sub, time.Now()))
	}
}

func newSubscriptionResponse(sub *models.Subscription, now time.Time) subscriptionResponse {
	resp := subscriptionResponse{
		ID:                 sub.ID,
		PlanID:             sub.PlanID,
		Status:             string(sub.Status),
		Active:             sub.IsActiveAt(now),
		CurrentPeriodStart: sub.CurrentPeriodStart.UTC(),
		CurrentPeriodEnd:   sub.CurrentPeriodEnd.UTC(),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}
	if sub.CancelledAt != nil {
		at := sub.CancelledAt.UTC()
		resp.CancelledAt = &at
	}
	return resp
}
