package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Mock is an in-memory gateway for tests. Failures are injected
// explicitly rather than randomized, so tests stay deterministic.
type Mock struct {
	mu        sync.Mutex
	payments  map[string]*Payment
	refunds   map[string]string // idempotency key -> refund ID
	FailNext  error
	ChargeLog []ChargeInput
	RefundLog []RefundInput
}

func NewMock() *Mock {
	return &Mock{
		payments: make(map[string]*Payment),
		refunds:  make(map[string]string),
	}
}

// SeedPayment registers a payment the mock will report through
// GetPayment and accept refunds against.
func (g *Mock) SeedPayment(p Payment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := p
	g.payments[p.ID] = &cp
}

func (g *Mock) Charge(ctx context.Context, in ChargeInput) (*ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ChargeLog = append(g.ChargeLog, in)

	if err := g.takeFailure(); err != nil {
		return nil, err
	}

	id := "mock_pay_" + uuid.NewString()[:8]
	g.payments[id] = &Payment{
		ID:            id,
		Status:        "COMPLETED",
		AmountCents:   in.AmountCents,
		Currency:      in.Currency,
		CustomerEmail: in.CustomerEmail,
	}

	return &ChargeResult{PaymentID: id, Status: "COMPLETED"}, nil
}

func (g *Mock) Refund(ctx context.Context, in RefundInput) (*RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.RefundLog = append(g.RefundLog, in)

	if err := g.takeFailure(); err != nil {
		return nil, err
	}

	if in.IdempotencyKey != "" {
		if id, ok := g.refunds[in.IdempotencyKey]; ok {
			return &RefundResult{RefundID: id, Status: "COMPLETED"}, nil
		}
	}

	p, ok := g.payments[in.PaymentID]
	if !ok {
		return nil, &Error{Code: "NOT_FOUND", Message: fmt.Sprintf("payment %s not found", in.PaymentID)}
	}
	p.Refunded = true

	id := "mock_ref_" + uuid.NewString()[:8]
	if in.IdempotencyKey != "" {
		g.refunds[in.IdempotencyKey] = id
	}

	return &RefundResult{RefundID: id, Status: "COMPLETED"}, nil
}

func (g *Mock) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.takeFailure(); err != nil {
		return nil, err
	}

	p, ok := g.payments[paymentID]
	if !ok {
		return nil, &Error{Code: "NOT_FOUND", Message: fmt.Sprintf("payment %s not found", paymentID)}
	}
	cp := *p
	return &cp, nil
}

func (g *Mock) Name() string { return "mock" }

// takeFailure consumes FailNext. Callers hold the mutex.
func (g *Mock) takeFailure() error {
	if g.FailNext == nil {
		return nil
	}
	err := g.FailNext
	g.FailNext = nil
	return err
}
