package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	pkgerrors "github.com/aspyhq/aspy-backend/pkg/errors"
)

// PaymentSignature returns hex(HMAC-SHA256(secret, orderID|paymentID)).
func PaymentSignature(secret, orderID, paymentID string) string {
	return sign(secret, []byte(orderID+"|"+paymentID))
}

// WebhookSignature returns hex(HMAC-SHA256(secret, body)).
func WebhookSignature(secret string, body []byte) string {
	return sign(secret, body)
}

// VerifyPayment checks a client-supplied payment signature in constant time.
func VerifyPayment(secret, orderID, paymentID, signature string) bool {
	if secret == "" || orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	return equal(PaymentSignature(secret, orderID, paymentID), signature)
}

// VerifyWebhookSignature checks the signature header against the raw body bytes.
// A missing secret fails closed.
func VerifyWebhookSignature(body []byte, header, secret string) error {
	if strings.TrimSpace(secret) == "" {
		return pkgerrors.New(pkgerrors.CodeConfiguration, "webhook secret not configured")
	}
	header = strings.TrimSpace(header)
	if header == "" || !equal(WebhookSignature(secret, body), header) {
		return pkgerrors.New(pkgerrors.CodeInvalidSignature, "invalid signature")
	}
	return nil
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func equal(expected, provided string) bool {
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(provided)))
}
