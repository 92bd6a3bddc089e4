package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SquareGateway talks to the Square Payments API over REST. Square has
// no maintained Go SDK, so requests are issued directly.
type SquareGateway struct {
	baseURL string
	token   string
	client  *http.Client
}

type SquareConfig struct {
	// AccessToken for the Square application.
	AccessToken string
	// Environment is "sandbox" or "production".
	Environment string
}

func NewSquareGateway(cfg SquareConfig) (*SquareGateway, error) {
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("square access token is required")
	}

	base := "https://connect.squareupsandbox.com"
	if cfg.Environment == "production" {
		base = "https://connect.squareup.com"
	}

	return &SquareGateway{
		baseURL: base,
		token:   cfg.AccessToken,
		client:  &http.Client{Timeout: 15 * time.Second},
	}, nil
}

type squareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type squarePayment struct {
	ID          string       `json:"id"`
	Status      string       `json:"status"`
	AmountMoney squareMoney  `json:"amount_money"`
	BuyerEmail  string       `json:"buyer_email_address"`
	Refunded    *squareMoney `json:"refunded_money"`
}

type squareError struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

type squareEnvelope struct {
	Payment *squarePayment `json:"payment"`
	Refund  *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"refund"`
	Errors []squareError `json:"errors"`
}

func (g *SquareGateway) Charge(ctx context.Context, in ChargeInput) (*ChargeResult, error) {
	key := in.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	body := map[string]any{
		"idempotency_key": key,
		"amount_money": squareMoney{
			Amount:   in.AmountCents,
			Currency: strings.ToUpper(in.Currency),
		},
		"buyer_email_address": in.CustomerEmail,
		"note":                in.Description,
	}

	var env squareEnvelope
	if err := g.do(ctx, http.MethodPost, "/v2/payments", body, &env); err != nil {
		return nil, err
	}
	if env.Payment == nil {
		return nil, &Error{Message: "square: empty payment in response"}
	}

	return &ChargeResult{PaymentID: env.Payment.ID, Status: env.Payment.Status}, nil
}

func (g *SquareGateway) Refund(ctx context.Context, in RefundInput) (*RefundResult, error) {
	key := in.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	body := map[string]any{
		"idempotency_key": key,
		"payment_id":      in.PaymentID,
		"reason":          in.Reason,
	}
	if in.AmountCents > 0 {
		body["amount_money"] = squareMoney{
			Amount:   in.AmountCents,
			Currency: strings.ToUpper(in.Currency),
		}
	}

	var env squareEnvelope
	if err := g.do(ctx, http.MethodPost, "/v2/refunds", body, &env); err != nil {
		return nil, err
	}
	if env.Refund == nil {
		return nil, &Error{Message: "square: empty refund in response"}
	}

	return &RefundResult{RefundID: env.Refund.ID, Status: env.Refund.Status}, nil
}

func (g *SquareGateway) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var env squareEnvelope
	if err := g.do(ctx, http.MethodGet, "/v2/payments/"+paymentID, nil, &env); err != nil {
		return nil, err
	}
	if env.Payment == nil {
		return nil, &Error{Message: "square: empty payment in response"}
	}

	sp := env.Payment
	return &Payment{
		ID:            sp.ID,
		Status:        sp.Status,
		AmountCents:   sp.AmountMoney.Amount,
		Currency:      sp.AmountMoney.Currency,
		CustomerEmail: sp.BuyerEmail,
		Refunded:      sp.Refunded != nil && sp.Refunded.Amount >= sp.AmountMoney.Amount,
	}, nil
}

func (g *SquareGateway) Name() string { return "square" }

func (g *SquareGateway) do(ctx context.Context, method, path string, body any, out *squareEnvelope) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("square: encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("square: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return &Error{Message: err.Error()}
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Message: fmt.Sprintf("square: decode response: %v", err)}
	}

	if resp.StatusCode >= 400 || len(out.Errors) > 0 {
		if len(out.Errors) > 0 {
			return &Error{Code: out.Errors[0].Code, Message: out.Errors[0].Detail}
		}
		return &Error{Message: fmt.Sprintf("square: http %d", resp.StatusCode)}
	}

	return nil
}
