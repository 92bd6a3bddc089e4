package gateway

import (
	"context"
	"fmt"
)

// Gateway is the payment provider port. Amounts are integer cents.
type Gateway interface {
	Charge(ctx context.Context, in ChargeInput) (*ChargeResult, error)
	Refund(ctx context.Context, in RefundInput) (*RefundResult, error)
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
	Name() string
}

type ChargeInput struct {
	AmountCents    int64
	Currency       string
	Description    string
	CustomerEmail  string
	IdempotencyKey string
	Metadata       map[string]string
}

type ChargeResult struct {
	PaymentID string
	Status    string
}

type RefundInput struct {
	PaymentID string
	// AmountCents of zero refunds the full remaining amount.
	AmountCents    int64
	Currency       string
	Reason         string
	IdempotencyKey string
}

type RefundResult struct {
	RefundID string
	Status   string
}

type Payment struct {
	ID            string
	Status        string
	AmountCents   int64
	Currency      string
	CustomerEmail string
	Refunded      bool
}

// Error is a provider-side failure. Code carries the provider's decline
// or error code when one was given.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gateway: %s", e.Message)
	}
	return fmt.Sprintf("gateway: %s (%s)", e.Message, e.Code)
}
