package types

// SuccessEnvelope wraps every JSON payload returned by the billing API.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public part of a failure. Details carry field-level context
// such as the requested and plan currency; they are omitted for codes whose
// details could leak verification internals.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

const AckStatusSuccess = "success"

// GatewayAck is the bare acknowledgement payment gateway callbacks expect.
// It is never wrapped in SuccessEnvelope.
type GatewayAck struct {
	Status string `json:"status"`
}
