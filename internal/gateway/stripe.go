package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"
)

// StripeGateway charges and refunds through Stripe payment intents.
type StripeGateway struct{}

type StripeConfig struct {
	SecretKey string
}

func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}

	stripe.Key = cfg.SecretKey

	return &StripeGateway{}, nil
}

func (g *StripeGateway) Charge(ctx context.Context, in ChargeInput) (*ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(in.AmountCents),
		Currency: stripe.String(in.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if in.Description != "" {
		params.Description = stripe.String(in.Description)
	}
	if in.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(in.CustomerEmail)
	}
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}
	if len(in.Metadata) > 0 {
		params.Metadata = in.Metadata
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, translateStripeErr(err)
	}

	return &ChargeResult{PaymentID: pi.ID, Status: string(pi.Status)}, nil
}

func (g *StripeGateway) Refund(ctx context.Context, in RefundInput) (*RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(in.PaymentID),
	}
	params.Context = ctx
	if in.AmountCents > 0 {
		params.Amount = stripe.Int64(in.AmountCents)
	}
	if in.Reason != "" {
		params.Reason = stripe.String(in.Reason)
	}
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	r, err := refund.New(params)
	if err != nil {
		return nil, translateStripeErr(err)
	}

	return &RefundResult{RefundID: r.ID, Status: string(r.Status)}, nil
}

func (g *StripeGateway) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")

	pi, err := paymentintent.Get(paymentID, params)
	if err != nil {
		return nil, translateStripeErr(err)
	}

	p := &Payment{
		ID:            pi.ID,
		Status:        string(pi.Status),
		AmountCents:   pi.Amount,
		Currency:      string(pi.Currency),
		CustomerEmail: pi.ReceiptEmail,
	}
	if pi.LatestCharge != nil {
		p.Refunded = pi.LatestCharge.Refunded
	}

	return p, nil
}

func (g *StripeGateway) Name() string { return "stripe" }

func translateStripeErr(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return &Error{Code: string(se.Code), Message: se.Msg}
	}
	return &Error{Message: err.Error()}
}
