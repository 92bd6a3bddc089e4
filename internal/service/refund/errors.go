package refund

import "errors"

var (
	ErrEventNotFound          = errors.New("event not found")
	ErrRegistrationNotFound   = errors.New("no completed registration for this event")
	ErrRequestNotFound        = errors.New("refund request not found")
	ErrWindowClosed           = errors.New("cancellation window has closed")
	ErrDuplicateRequest       = errors.New("a pending refund request already exists")
	ErrAlreadyProcessed       = errors.New("refund request is already processed")
	ErrNoPayment              = errors.New("refund request has no payment attached")
	ErrPaymentRegistered      = errors.New("payment belongs to a known registration")
	ErrGatewayPaymentNotFound = errors.New("payment not found at the gateway")
	ErrInvalidUser            = errors.New("user id must be positive")
)

// GatewayError wraps a provider failure so the transport can answer 502
// while the request stays pending.
type GatewayError struct {
	Err error
}

func (e GatewayError) Error() string {
	return "payment gateway failure: " + e.Err.Error()
}

func (e GatewayError) Unwrap() error {
	return e.Err
}
