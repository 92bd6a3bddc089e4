package refund

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yuta-hayashi/eventcap/internal/clock"
	"github.com/yuta-hayashi/eventcap/internal/domain"
	"github.com/yuta-hayashi/eventcap/internal/gateway"
	"github.com/yuta-hayashi/eventcap/internal/repository"
	postgresrepo "github.com/yuta-hayashi/eventcap/internal/repository/postgres"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeEvents struct {
	events map[int64]*domain.Event
}

func (f *fakeEvents) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	e, ok := f.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return e, nil
}

type fakeStore struct {
	mu            sync.Mutex
	regs          map[string]*domain.Registration
	latestPayment map[int64]string
	requests      map[int64]*domain.RefundRequest
	pendingByUser map[string]bool
	unregistered  map[string]domain.UnregisteredRefund
	knownPayments map[string]bool
	nextID        int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		regs:          make(map[string]*domain.Registration),
		latestPayment: make(map[int64]string),
		requests:      make(map[int64]*domain.RefundRequest),
		pendingByUser: make(map[string]bool),
		unregistered:  make(map[string]domain.UnregisteredRefund),
		knownPayments: make(map[string]bool),
	}
}

func euKey(eventID, userID int64) string {
	return fmt.Sprintf("%d:%d", eventID, userID)
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (f *fakeStore) CompletedRegistration(ctx context.Context, eventID, userID int64) (*domain.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	reg, ok := f.regs[euKey(eventID, userID)]
	if !ok || reg.Status != domain.RegistrationCompleted {
		return nil, repository.ErrNotFound
	}
	cp := *reg
	return &cp, nil
}

func (f *fakeStore) HasPendingRequest(ctx context.Context, eventID, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingByUser[euKey(eventID, userID)], nil
}

func (f *fakeStore) LatestPaymentByUser(ctx context.Context, userID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id, ok := f.latestPayment[userID]
	if !ok {
		return "", repository.ErrNotFound
	}
	return id, nil
}

func (f *fakeStore) CancelAndRequest(ctx context.Context, p postgresrepo.CancelAndRequestParams) (*domain.RefundRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := euKey(p.EventID, p.UserID)
	reg, ok := f.regs[key]
	if !ok || reg.Status != domain.RegistrationCompleted {
		return nil, repository.ErrNotFound
	}
	if f.pendingByUser[key] {
		return nil, repository.ErrConflict
	}

	reg.Status = domain.RegistrationCancelled
	f.pendingByUser[key] = true

	f.nextID++
	req := &domain.RefundRequest{
		ID:          f.nextID,
		EventID:     p.EventID,
		UserID:      p.UserID,
		Email:       p.Email,
		AmountCents: p.AmountCents,
		Currency:    p.Currency,
		Reason:      p.Reason,
		PaymentID:   p.PaymentID,
		Status:      domain.RefundPending,
		RequestDate: base,
	}
	f.requests[req.ID] = req
	cp := *req
	return &cp, nil
}

func (f *fakeStore) Get(ctx context.Context, id int64) (*domain.RefundRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	req, ok := f.requests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (f *fakeStore) List(ctx context.Context, status *domain.RefundStatus) ([]domain.RefundRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.RefundRequest
	for _, req := range f.requests {
		if status == nil || req.Status == *status {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkProcessed(ctx context.Context, p postgresrepo.MarkProcessedParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	req, ok := f.requests[p.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if req.Status != domain.RefundPending {
		return repository.ErrAlreadyTerminal
	}

	req.Status = p.Decision
	req.ProcessedDate = &p.ProcessedAt
	req.AdminNotes = p.AdminNotes
	req.ProcessedBy = p.ProcessedBy
	return nil
}

func (f *fakeStore) PaymentKnown(ctx context.Context, paymentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.knownPayments[paymentID], nil
}

func (f *fakeStore) UpsertUnregistered(ctx context.Context, rec domain.UnregisteredRefund) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregistered[rec.PaymentID] = rec
	return nil
}

func (f *fakeStore) ListUnregistered(ctx context.Context) ([]domain.UnregisteredRefund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.UnregisteredRefund
	for _, rec := range f.unregistered {
		out = append(out, rec)
	}
	return out, nil
}

type recordingMailer struct {
	mu       sync.Mutex
	sent     []string
	failWith error
}

func (m *recordingMailer) Send(ctx context.Context, to, subject, html, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.sent = append(m.sent, subject)
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeStore, *gateway.Mock, *recordingMailer, *clock.Fake) {
	t.Helper()

	clk := clock.NewFake(base)
	deadline := base.Add(24 * time.Hour)
	events := &fakeEvents{
		events: map[int64]*domain.Event{
			1: {
				ID:             1,
				Name:           "GopherCon",
				Date:           base.Add(48 * time.Hour),
				Capacity:       100,
				RefundDeadline: &deadline,
				FeeCents:       5000,
				Currency:       "CAD",
			},
		},
	}
	store := newFakeStore()
	gw := gateway.NewMock()
	mail := &recordingMailer{}

	svc := New(events, store, gw, mail, nil, nil, clk, nil, Config{DefaultCurrency: "CAD"})
	return svc, store, gw, mail, clk
}

func seedRegistration(store *fakeStore, userID int64, paymentID string) {
	store.regs[euKey(1, userID)] = &domain.Registration{
		ID:              userID,
		EventID:         1,
		UserID:          userID,
		PaymentID:       paymentID,
		PaymentEmail:    "gopher@example.com",
		FinalPriceCents: 5000,
		Status:          domain.RegistrationCompleted,
		RegisteredAt:    base.Add(-time.Hour),
	}
	if paymentID != "" {
		store.knownPayments[paymentID] = true
	}
}

func TestRequestCancellationWindow(t *testing.T) {
	cases := []struct {
		name    string
		advance time.Duration
		wantErr error
	}{
		{"one second before cutoff", 24*time.Hour - time.Second, nil},
		{"at cutoff", 24 * time.Hour, nil},
		{"one second after cutoff", 24*time.Hour + time.Second, ErrWindowClosed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, store, _, _, clk := newTestService(t)
			seedRegistration(store, 1, "pay_1")
			clk.Advance(tc.advance)

			_, err := svc.RequestCancellation(context.Background(), CancellationInput{
				EventID: 1,
				UserID:  1,
				Email:   "gopher@example.com",
				Reason:  "plans changed",
			})
			if tc.wantErr == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestRequestCancellationCancelsSeat(t *testing.T) {
	svc, store, _, _, _ := newTestService(t)
	seedRegistration(store, 1, "pay_1")

	req, err := svc.RequestCancellation(context.Background(), CancellationInput{
		EventID: 1,
		UserID:  1,
		Email:   "gopher@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, domain.RefundPending, req.Status)
	require.Equal(t, int64(5000), req.AmountCents)
	require.NotNil(t, req.PaymentID)
	require.Equal(t, "pay_1", *req.PaymentID)

	require.Equal(t, domain.RegistrationCancelled, store.regs[euKey(1, 1)].Status)
}

func TestRequestCancellationNoRegistration(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	_, err := svc.RequestCancellation(context.Background(), CancellationInput{
		EventID: 1,
		UserID:  1,
		Email:   "gopher@example.com",
	})
	require.ErrorIs(t, err, ErrRegistrationNotFound)
}

func TestRequestCancellationDuplicate(t *testing.T) {
	svc, store, _, _, _ := newTestService(t)
	seedRegistration(store, 1, "pay_1")

	_, err := svc.RequestCancellation(context.Background(), CancellationInput{
		EventID: 1,
		UserID:  1,
		Email:   "gopher@example.com",
	})
	require.NoError(t, err)

	// the first request is still pending; a second attempt is rejected
	// before any registration lookup
	_, err = svc.RequestCancellation(context.Background(), CancellationInput{
		EventID: 1,
		UserID:  1,
		Email:   "gopher@example.com",
	})
	require.ErrorIs(t, err, ErrDuplicateRequest)
}

func TestRequestCancellationInvalidUser(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	_, err := svc.RequestCancellation(context.Background(), CancellationInput{
		EventID: 1,
		UserID:  0,
		Email:   "gopher@example.com",
	})
	require.ErrorIs(t, err, ErrInvalidUser)
}

func TestRequestCancellationPaymentFallback(t *testing.T) {
	svc, store, _, _, _ := newTestService(t)
	seedRegistration(store, 1, "")
	store.latestPayment[1] = "pay_other"

	req, err := svc.RequestCancellation(context.Background(), CancellationInput{
		EventID: 1,
		UserID:  1,
		Email:   "gopher@example.com",
	})
	require.NoError(t, err)
	require.NotNil(t, req.PaymentID)
	require.Equal(t, "pay_other", *req.PaymentID)
}

func TestRequestCancellationNoPaymentAnywhere(t *testing.T) {
	svc, store, _, _, _ := newTestService(t)
	seedRegistration(store, 1, "")

	req, err := svc.RequestCancellation(context.Background(), CancellationInput{
		EventID: 1,
		UserID:  1,
		Email:   "gopher@example.com",
	})
	require.NoError(t, err)
	require.Nil(t, req.PaymentID)
}

func pendingRequest(svc *Service, store *fakeStore, t *testing.T) *domain.RefundRequest {
	t.Helper()
	seedRegistration(store, 1, "pay_1")
	req, err := svc.RequestCancellation(context.Background(), CancellationInput{
		EventID: 1,
		UserID:  1,
		Email:   "gopher@example.com",
	})
	require.NoError(t, err)
	return req
}

func TestProcessApprove(t *testing.T) {
	svc, store, gw, mail, _ := newTestService(t)
	gw.SeedPayment(gateway.Payment{ID: "pay_1", Status: "COMPLETED", AmountCents: 5000, Currency: "CAD"})
	req := pendingRequest(svc, store, t)

	got, err := svc.Process(context.Background(), ProcessInput{
		RequestID: req.ID,
		Approve:   true,
		AdminID:   "admin@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, domain.RefundApproved, got.Status)
	require.NotNil(t, got.ProcessedBy)

	require.Len(t, gw.RefundLog, 1)
	require.Equal(t, "pay_1", gw.RefundLog[0].PaymentID)
	require.Equal(t, fmt.Sprintf("refund-req-%d", req.ID), gw.RefundLog[0].IdempotencyKey)

	require.Contains(t, mail.sent, "Refund approved")
}

func TestProcessReject(t *testing.T) {
	svc, store, gw, mail, _ := newTestService(t)
	req := pendingRequest(svc, store, t)

	got, err := svc.Process(context.Background(), ProcessInput{
		RequestID: req.ID,
		Approve:   false,
		AdminID:   "admin@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, domain.RefundRejected, got.Status)
	require.Empty(t, gw.RefundLog)
	require.Contains(t, mail.sent, "Refund request declined")
}

func TestProcessGatewayFailureLeavesPending(t *testing.T) {
	svc, store, gw, _, _ := newTestService(t)
	gw.SeedPayment(gateway.Payment{ID: "pay_1", Status: "COMPLETED", AmountCents: 5000, Currency: "CAD"})
	req := pendingRequest(svc, store, t)

	gw.FailNext = errors.New("provider unavailable")

	_, err := svc.Process(context.Background(), ProcessInput{
		RequestID: req.ID,
		Approve:   true,
		AdminID:   "admin@example.com",
	})
	var gwErr GatewayError
	require.ErrorAs(t, err, &gwErr)

	// still pending, the retry goes through with the same idempotency key
	stored, err := store.Get(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RefundPending, stored.Status)

	got, err := svc.Process(context.Background(), ProcessInput{
		RequestID: req.ID,
		Approve:   true,
		AdminID:   "admin@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, domain.RefundApproved, got.Status)
	require.Len(t, gw.RefundLog, 2)
	require.Equal(t, gw.RefundLog[0].IdempotencyKey, gw.RefundLog[1].IdempotencyKey)
}

func TestProcessTwice(t *testing.T) {
	svc, store, gw, _, _ := newTestService(t)
	gw.SeedPayment(gateway.Payment{ID: "pay_1", Status: "COMPLETED", AmountCents: 5000, Currency: "CAD"})
	req := pendingRequest(svc, store, t)

	_, err := svc.Process(context.Background(), ProcessInput{RequestID: req.ID, Approve: true, AdminID: "a"})
	require.NoError(t, err)

	_, err = svc.Process(context.Background(), ProcessInput{RequestID: req.ID, Approve: true, AdminID: "a"})
	require.ErrorIs(t, err, ErrAlreadyProcessed)
}

func TestProcessNoPayment(t *testing.T) {
	svc, store, _, _, _ := newTestService(t)
	seedRegistration(store, 1, "")
	req, err := svc.RequestCancellation(context.Background(), CancellationInput{
		EventID: 1,
		UserID:  1,
		Email:   "gopher@example.com",
	})
	require.NoError(t, err)

	_, err = svc.Process(context.Background(), ProcessInput{RequestID: req.ID, Approve: true, AdminID: "a"})
	require.ErrorIs(t, err, ErrNoPayment)
}

func TestProcessUnknownRequest(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	_, err := svc.Process(context.Background(), ProcessInput{RequestID: 99, Approve: false, AdminID: "a"})
	require.ErrorIs(t, err, ErrRequestNotFound)
}

func TestProcessMailFailureNonFatal(t *testing.T) {
	svc, store, gw, mail, _ := newTestService(t)
	gw.SeedPayment(gateway.Payment{ID: "pay_1", Status: "COMPLETED", AmountCents: 5000, Currency: "CAD"})
	req := pendingRequest(svc, store, t)

	mail.failWith = errors.New("smtp down")

	got, err := svc.Process(context.Background(), ProcessInput{RequestID: req.ID, Approve: true, AdminID: "a"})
	require.NoError(t, err)
	require.Equal(t, domain.RefundApproved, got.Status)
}

func TestReconcileUnregistered(t *testing.T) {
	svc, store, gw, _, _ := newTestService(t)
	gw.SeedPayment(gateway.Payment{
		ID:            "pay_stray",
		Status:        "COMPLETED",
		AmountCents:   7500,
		Currency:      "CAD",
		CustomerEmail: "stray@example.com",
	})

	rec, err := svc.ReconcileUnregistered(context.Background(), "pay_stray", "no registration", "admin@example.com")
	require.NoError(t, err)
	require.Equal(t, "pay_stray", rec.PaymentID)
	require.NotEmpty(t, rec.RefundID)
	require.Equal(t, int64(7500), rec.AmountCents)
	require.Equal(t, "stray@example.com", rec.Email)

	require.Len(t, gw.RefundLog, 1)
	require.Equal(t, "unreg-pay_stray", gw.RefundLog[0].IdempotencyKey)

	_, ok := store.unregistered["pay_stray"]
	require.True(t, ok)
}

func TestReconcileKnownPayment(t *testing.T) {
	svc, store, _, _, _ := newTestService(t)
	store.knownPayments["pay_1"] = true

	_, err := svc.ReconcileUnregistered(context.Background(), "pay_1", "", "admin")
	require.ErrorIs(t, err, ErrPaymentRegistered)
}

func TestReconcileUnknownAtGateway(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	_, err := svc.ReconcileUnregistered(context.Background(), "pay_missing", "", "admin")
	require.ErrorIs(t, err, ErrGatewayPaymentNotFound)
}

func TestReconcileAlreadyRefunded(t *testing.T) {
	svc, _, gw, _, _ := newTestService(t)
	gw.SeedPayment(gateway.Payment{
		ID:          "pay_done",
		Status:      "COMPLETED",
		AmountCents: 7500,
		Currency:    "CAD",
		Refunded:    true,
	})

	rec, err := svc.ReconcileUnregistered(context.Background(), "pay_done", "", "admin")
	require.NoError(t, err)
	require.Empty(t, rec.RefundID)
	require.Empty(t, gw.RefundLog)
}
