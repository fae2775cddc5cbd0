package webhooks

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/aspyhq/aspy-backend/api/responses"
	gatewaywebhook "github.com/aspyhq/aspy-backend/internal/webhooks/gateway"
	pkgerrors "github.com/aspyhq/aspy-backend/pkg/errors"
	"github.com/aspyhq/aspy-backend/pkg/gateway"
	"github.com/aspyhq/aspy-backend/pkg/logger"
	"github.com/aspyhq/aspy-backend/pkg/types"
)

const (
	SignatureHeader = "X-Razorpay-Signature"
	EventIDHeader   = "X-Razorpay-Event-Id"

	maxWebhookBytes = 1 << 20
)

type GatewayWebhookService interface {
	HandleEvent(ctx context.Context, event *gatewaywebhook.Event) (gatewaywebhook.Outcome, error)
}

type webhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type webhookRecorder interface {
	WebhookEvent(event, outcome string)
	SignatureRejected(path string)
}

var ack = types.GatewayAck{Status: types.AckStatusSuccess}

// GatewayWebhook authenticates a gateway delivery against the raw body and applies it.
// Once the signature passes the delivery is always acknowledged; processing failures are
// logged for manual reconciliation and the dedupe mark is released so a redelivery retries.
func GatewayWebhook(svc GatewayWebhookService, secret string, guard webhookGuard, metrics webhookRecorder, logg *logger.Logger) http.HandlerFunc {
	if logg == nil {
		logg = logger.Nop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes+1))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}
		if len(payload) > maxWebhookBytes {
			logg.Warn(logg.WithField(ctx, "limit_bytes", maxWebhookBytes), "webhook body exceeds limit")
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodePayloadTooLarge, "webhook body exceeds limit"))
			return
		}

		if err := gateway.VerifyWebhookSignature(payload, r.Header.Get(SignatureHeader), secret); err != nil {
			if pkgerrors.Is(err, pkgerrors.CodeInvalidSignature) && metrics != nil {
				metrics.SignatureRejected("webhook")
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		event, err := gatewaywebhook.ParseEvent(payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		eventID := strings.TrimSpace(r.Header.Get(EventIDHeader))
		if eventID == "" {
			eventID = event.DedupKey()
		}
		ctx = logg.WithFields(ctx, map[string]any{"event": event.Event, "event_id": eventID})

		if guard != nil {
			seen, err := guard.CheckAndMark(ctx, eventID)
			if err != nil {
				logg.Error(ctx, "webhook idempotency check failed", err)
			} else if seen {
				record(metrics, event.Event, gatewaywebhook.OutcomeDuplicate)
				logg.Info(ctx, "webhook redelivery dropped")
				responses.WriteJSON(w, http.StatusOK, ack)
				return
			}
		}

		outcome, err := svc.HandleEvent(ctx, event)
		if err != nil {
			if guard != nil {
				if delErr := guard.Delete(ctx, eventID); delErr != nil {
					logg.Error(ctx, "webhook idempotency release failed", delErr)
				}
			}
			record(metrics, event.Event, gatewaywebhook.OutcomeFailed)
			logg.Error(logg.WithField(ctx, "reconcile", "manual"), "webhook processing failed", err)
			responses.WriteJSON(w, http.StatusOK, ack)
			return
		}

		record(metrics, event.Event, outcome)
		logg.Info(logg.WithField(ctx, "outcome", string(outcome)), "webhook processed")
		responses.WriteJSON(w, http.StatusOK, ack)
	}
}

func record(metrics webhookRecorder, event string, outcome gatewaywebhook.Outcome) {
	if metrics == nil {
		return
	}
	metrics.WebhookEvent(event, string(outcome))
}
