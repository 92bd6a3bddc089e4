package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yuta-hayashi/eventcap/internal/clock"
	"github.com/yuta-hayashi/eventcap/internal/domain"
	"github.com/yuta-hayashi/eventcap/internal/gateway"
	"github.com/yuta-hayashi/eventcap/internal/repository"
	postgresrepo "github.com/yuta-hayashi/eventcap/internal/repository/postgres"
	"github.com/yuta-hayashi/eventcap/internal/service/refund"
	"github.com/yuta-hayashi/eventcap/internal/service/registration"
	"github.com/yuta-hayashi/eventcap/internal/service/reservation"
)

// world is one shared in-memory backing store for the whole booking
// lifecycle. The per-service store interfaces have colliding method
// names, so each service gets a thin view over the same state.
type world struct {
	mu  sync.Mutex
	clk *clock.Fake

	events map[int64]*domain.Event
	tiers  map[int64]*domain.TicketTier

	eventHeld       map[int64]int
	eventRegistered map[int64]int
	tierHeld        map[int64]int
	tierRegistered  map[int64]int

	reservations map[uuid.UUID]*domain.Reservation
	regs         map[int64]*domain.Registration
	requests     map[int64]*domain.RefundRequest
	pendingReq   map[string]bool
	unregistered map[string]domain.UnregisteredRefund
	balances     map[int64]int64

	nextRegID int64
	nextReqID int64
}

func newWorld(clk *clock.Fake) *world {
	return &world{
		clk:             clk,
		events:          make(map[int64]*domain.Event),
		tiers:           make(map[int64]*domain.TicketTier),
		eventHeld:       make(map[int64]int),
		eventRegistered: make(map[int64]int),
		tierHeld:        make(map[int64]int),
		tierRegistered:  make(map[int64]int),
		reservations:    make(map[uuid.UUID]*domain.Reservation),
		regs:            make(map[int64]*domain.Registration),
		requests:        make(map[int64]*domain.RefundRequest),
		pendingReq:      make(map[string]bool),
		unregistered:    make(map[string]domain.UnregisteredRefund),
		balances:        make(map[int64]int64),
	}
}

func scopeKey(eventID, userID int64) string {
	return fmt.Sprintf("%d:%d", eventID, userID)
}

// release returns one seat held or registered under the reservation's
// scope: the tier when the claim was tiered, the event otherwise.
func (w *world) release(tierID *int64, eventID int64, held bool) {
	counters := w.eventHeld
	key := eventID
	if tierID != nil {
		counters = w.tierHeld
		key = *tierID
	}
	if !held {
		counters = w.eventRegistered
		if tierID != nil {
			counters = w.tierRegistered
		}
	}
	counters[key]--
}

type worldEvents struct{ w *world }

func (v worldEvents) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	v.w.mu.Lock()
	defer v.w.mu.Unlock()

	e, ok := v.w.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return e, nil
}

func (v worldEvents) GetTier(ctx context.Context, tierID, eventID int64) (*domain.TicketTier, error) {
	v.w.mu.Lock()
	defer v.w.mu.Unlock()

	t, ok := v.w.tiers[tierID]
	if !ok || t.EventID != eventID {
		return nil, repository.ErrNotFound
	}
	return t, nil
}

type worldReservations struct{ w *world }

func (v worldReservations) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (v worldReservations) Hold(ctx context.Context, p postgresrepo.HoldParams) (*domain.Reservation, error) {
	v.w.mu.Lock()
	defer v.w.mu.Unlock()

	if p.TierID != nil {
		t, ok := v.w.tiers[*p.TierID]
		if !ok {
			return nil, repository.ErrNotFound
		}
		if v.w.tierHeld[t.ID]+v.w.tierRegistered[t.ID] >= int(t.Capacity) {
			return nil, repository.ErrCapacityExceeded
		}
		v.w.tierHeld[t.ID]++
	} else {
		e, ok := v.w.events[p.EventID]
		if !ok {
			return nil, repository.ErrNotFound
		}
		if v.w.eventHeld[e.ID]+v.w.eventRegistered[e.ID] >= int(e.Capacity) {
			return nil, repository.ErrCapacityExceeded
		}
		v.w.eventHeld[e.ID]++
	}

	rsv := &domain.Reservation{
		ID:               uuid.New(),
		EventID:          p.EventID,
		TierID:           p.TierID,
		UserID:           p.UserID,
		SubEventIDs:      p.SubEventIDs,
		CreditsUsedCents: p.CreditsUsedCents,
		FinalPriceCents:  p.FinalPriceCents,
		PaymentEmail:     p.PaymentEmail,
		Status:           domain.ReservationPending,
		CreatedAt:        v.w.clk.Now(),
		ExpiresAt:        p.ExpiresAt,
	}
	v.w.reservations[rsv.ID] = rsv
	return rsv, nil
}

func (v worldReservations) Cancel(ctx context.Context, id uuid.UUID, userID int64) (int64, error) {
	v.w.mu.Lock()
	defer v.w.mu.Unlock()

	rsv, ok := v.w.reservations[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if rsv.UserID != userID {
		return 0, repository.ErrOwnerMismatch
	}
	if rsv.Status != domain.ReservationPending {
		return 0, repository.ErrAlreadyTerminal
	}
	rsv.Status = domain.ReservationCancelled
	v.w.release(rsv.TierID, rsv.EventID, true)
	return rsv.EventID, nil
}

func (v worldReservations) ExpireDue(ctx context.Context) (int64, error) {
	v.w.mu.Lock()
	defer v.w.mu.Unlock()

	now := v.w.clk.Now()
	var n int64
	for _, rsv := range v.w.reservations {
		if rsv.Status == domain.ReservationPending && !rsv.ExpiresAt.After(now) {
			rsv.Status = domain.ReservationExpired
			v.w.release(rsv.TierID, rsv.EventID, true)
			n++
		}
	}
	return n, nil
}

func (v worldReservations) Get(ctx context.Context, id uuid.UUID) (*domain.Reservation, error) {
	v.w.mu.Lock()
	defer v.w.mu.Unlock()

	rsv, ok := v.w.reservations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rsv
	return &cp, nil
}

type worldRegistrations struct{ w *world }

func (v worldRegistrations) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (v worldRegistrations) Convert(ctx context.Context, reservationID uuid.UUID, paymentID string) (*domain.Registration, error) {
	v.w.mu.Lock()
	defer v.w.mu.Unlock()

	rsv, ok := v.w.reservations[reservationID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if rsv.Status != domain.ReservationPending {
		return nil, repository.ErrAlreadyTerminal
	}
	if !rsv.ExpiresAt.After(v.w.clk.Now()) {
		rsv.Status = domain.ReservationExpired
		v.w.release(rsv.TierID, rsv.EventID, true)
		return nil, repository.ErrReservationExpired
	}
	for _, reg := range v.w.regs {
		if reg.EventID == rsv.EventID && reg.UserID == rsv.UserID && reg.Status == domain.RegistrationCompleted {
			return nil, repository.ErrConflict
		}
	}

	rsv.Status = domain.ReservationConverted
	v.w.release(rsv.TierID, rsv.EventID, true)
	if rsv.TierID != nil {
		v.w.tierRegistered[*rsv.TierID]++
	} else {
		v.w.eventRegistered[rsv.EventID]++
	}

	v.w.nextRegID++
	rid := rsv.ID
	reg := &domain.Registration{
		ID:               v.w.nextRegID,
		EventID:          rsv.EventID,
		TierID:           rsv.TierID,
		UserID:           rsv.UserID,
		ReservationID:    &rid,
		SubEventIDs:      rsv.SubEventIDs,
		PaymentID:        paymentID,
		PaymentEmail:     rsv.PaymentEmail,
		FinalPriceCents:  rsv.FinalPriceCents,
		CreditsUsedCents: rsv.CreditsUsedCents,
		Status:           domain.RegistrationCompleted,
		RegisteredAt:     v.w.clk.Now(),
	}
	v.w.regs[reg.ID] = reg
	return reg, nil
}

func (v worldRegistrations) CreateDirect(ctx context.Context, p postgresrepo.DirectParams) (*domain.Registration, error) {
	v.w.mu.Lock()
	defer v.w.mu.Unlock()

	e, ok := v.w.events[p.EventID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if v.w.eventHeld[e.ID]+v.w.eventRegistered[e.ID] >= int(e.Capacity) {
		return nil, repository.ErrCapacityExceeded
	}
	v.w.eventRegistered[e.ID]++

	v.w.nextRegID++
	reg := &domain.Registration{
		ID:               v.w.nextRegID,
		EventID:          p.EventID,
		TierID:           p.TierID,
		UserID:           p.UserID,
		SubEventIDs:      p.SubEventIDs,
		PaymentID:        p.PaymentID,
		PaymentEmail:     p.PaymentEmail,
		FinalPriceCents:  p.FinalPriceCents,
		CreditsUsedCents: p.CreditsUsedCents,
		Status:           domain.RegistrationCompleted,
		RegisteredAt:     v.w.clk.Now(),
	}
	v.w.regs[reg.ID] = reg
	return reg, nil
}

func (v worldRegistrations) Get(ctx context.Context, id int64) (*domain.Registration, error) {
	v.w.mu.Lock()
	defer v.w.mu.Unlock()

	reg, ok := v.w.regs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *reg
	return &cp, nil
}

func (v worldRegistrations) ListByUser(ctx context.Context, userID int64) ([]domain.Registration, error) {
	v.w.mu.Lock()
	defer v.w.mu.Unlock()

	var out []domain.Registration
	for _, reg := range v.w.regs {
		if reg.UserID == userID {
			out = append(out, *reg)
		}
	}
	return out, nil
}

type worldRefunds struct{ w *world }

func (v worldRefunds) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (v worldRefunds) completedLocked(eventID, userID int64) *domain.Registration {
	for _, reg := range v.w.regs {
		if reg.EventID == eventID && reg.UserID == userID && reg.Status == domain.RegistrationCompleted {
			return reg
		}
	}
	return nil
}

func (v worldRefunds) CompletedRegistration(ctx context.Context, eventID, userID int64) (*domain.Registration, error) {
	v.w.mu.Lock()
	defer v.w.mu.Unlock()

	reg := v.completedLocked(eventID, userID)
	if reg == nil {
		return nil, repository.ErrNotFound
	}
	cp := *reg
	return &cp, nil
}

func (v worldRefunds) HasPendingRequest(ctx context.Context, eventID, userID int64) (bool, error) {
	v.w.mu.Lock()
	defer v.w.mu.Unlock()
	return v.w.pendingReq[scopeKey(eventID, userID)], nil
}

func (v worldRefunds) LatestPaymentByUser(ctx context.Context, userID int64) (string, error) {
	v.w.mu.Lock()
	defer v.w.mu.Unlock()

	for _, reg := range v.w.regs {
		if reg.UserID == userID && reg.PaymentID != "" {
			return reg.PaymentID, nil
		}
	}
	return "", repository.ErrNotFound
}

func (v worldRefunds) CancelAndRequest(ctx context.Context, p postgresrepo.CancelAndRequestParams) (*domain.RefundRequest, error) {
	v.w.mu.Lock()
	defer v.w.mu.Unlock()

	reg := v.completedLocked(p.EventID, p.UserID)
	if reg == nil {
		return nil, repository.ErrNotFound
	}
	key := scopeKey(p.EventID, p.UserID)
	if v.w.pendingReq[key] {
		return nil, repository.ErrConflict
	}

	reg.Status = domain.RegistrationCancelled
	v.w.release(reg.TierID, reg.EventID, false)
	v.w.pendingReq[key] = true

	v.w.nextReqID++
	req := &domain.RefundRequest{
		ID:          v.w.nextReqID,
		EventID:     p.EventID,
		UserID:      p.UserID,
		Email:       p.Email,
		AmountCents: p.AmountCents,
		Currency:    p.Currency,
		Reason:      p.Reason,
		PaymentID:   p.PaymentID,
		Status:      domain.RefundPending,
		RequestDate: v.w.clk.Now(),
	}
	v.w.requests[req.ID] = req
	cp := *req
	return &cp, nil
}

func (v worldRefunds) Get(ctx context.Context, id int64) (*domain.RefundRequest, error) {
	v.w.mu.Lock()
	defer v.w.mu.Unlock()

	req, ok := v.w.requests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (v worldRefunds) List(ctx context.Context, status *domain.RefundStatus) ([]domain.RefundRequest, error) {
	v.w.mu.Lock()
	defer v.w.mu.Unlock()

	var out []domain.RefundRequest
	for _, req := range v.w.requests {
		if status == nil || req.Status == *status {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (v worldRefunds) MarkProcessed(ctx context.Context, p postgresrepo.MarkProcessedParams) error {
	v.w.mu.Lock()
	defer v.w.mu.Unlock()

	req, ok := v.w.requests[p.ID]
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

func (v worldRefunds) PaymentKnown(ctx context.Context, paymentID string) (bool, error) {
	v.w.mu.Lock()
	defer v.w.mu.Unlock()

	for _, reg := range v.w.regs {
		if reg.PaymentID == paymentID {
			return true, nil
		}
	}
	return false, nil
}

func (v worldRefunds) UpsertUnregistered(ctx context.Context, rec domain.UnregisteredRefund) error {
	v.w.mu.Lock()
	defer v.w.mu.Unlock()
	v.w.unregistered[rec.PaymentID] = rec
	return nil
}

func (v worldRefunds) ListUnregistered(ctx context.Context) ([]domain.UnregisteredRefund, error) {
	v.w.mu.Lock()
	defer v.w.mu.Unlock()

	var out []domain.UnregisteredRefund
	for _, rec := range v.w.unregistered {
		out = append(out, rec)
	}
	return out, nil
}

type worldCredits struct{ w *world }

func (v worldCredits) Balance(ctx context.Context, userID int64) (int64, error) {
	v.w.mu.Lock()
	defer v.w.mu.Unlock()
	return v.w.balances[userID], nil
}

func (v worldCredits) Spend(ctx context.Context, userID, amountCents int64, description string, eventID *int64) error {
	v.w.mu.Lock()
	defer v.w.mu.Unlock()

	if v.w.balances[userID] < amountCents {
		return repository.ErrInsufficientCredit
	}
	v.w.balances[userID] -= amountCents
	return nil
}

type nopMailer struct{}

func (nopMailer) Send(ctx context.Context, to, subject, html, text string) error { return nil }

// TestBookingLifecycle walks one tier through a full rush: two holds
// fill it, a third bounces, one hold converts, the other expires and
// frees its seat, and the converted attendee later cancels and is
// refunded through the gateway.
func TestBookingLifecycle(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	w := newWorld(clk)
	deadline := clk.Now().Add(24 * time.Hour)
	w.events[1] = &domain.Event{
		ID:             1,
		Name:           "GopherCon",
		Date:           clk.Now().Add(48 * time.Hour),
		Capacity:       100,
		RefundDeadline: &deadline,
		FeeCents:       5000,
		Currency:       "CAD",
		TieredPricing:  true,
	}
	w.tiers[7] = &domain.TicketTier{
		ID:         7,
		EventID:    1,
		Name:       "Early Bird",
		PriceCents: 2000,
		Capacity:   2,
	}

	gw := gateway.NewMock()
	gw.SeedPayment(gateway.Payment{ID: "pay_123", Status: "COMPLETED", AmountCents: 2000, Currency: "CAD"})

	events := worldEvents{w}
	rsvSvc := reservation.New(events, worldReservations{w}, worldCredits{w}, nil, nil, nil, clk, reservation.Config{})
	regSvc := registration.New(events, worldRegistrations{w}, worldCredits{w}, nil, nil)
	refSvc := refund.New(events, worldRefunds{w}, gw, nopMailer{}, nil, nil, clk, nil, refund.Config{DefaultCurrency: "CAD"})

	tierID := int64(7)

	// Two holds fill the tier.
	r1, err := rsvSvc.Reserve(ctx, reservation.ReserveInput{EventID: 1, TierID: &tierID, UserID: 1, PaymentEmail: "a@example.com"})
	require.NoError(t, err)
	require.Equal(t, domain.ReservationPending, r1.Status)
	require.Equal(t, int64(2000), r1.FinalPriceCents)

	r2, err := rsvSvc.Reserve(ctx, reservation.ReserveInput{EventID: 1, TierID: &tierID, UserID: 2, PaymentEmail: "b@example.com"})
	require.NoError(t, err)

	// Third caller bounces off the full tier.
	_, err = rsvSvc.Reserve(ctx, reservation.ReserveInput{EventID: 1, TierID: &tierID, UserID: 3})
	require.ErrorIs(t, err, reservation.ErrSoldOut)

	// The first hold converts; its seat moves to the confirmed count.
	reg, err := regSvc.Convert(ctx, r1.ID, "pay_123")
	require.NoError(t, err)
	require.Equal(t, domain.RegistrationCompleted, reg.Status)
	require.Equal(t, 1, w.tierRegistered[7])

	got, err := rsvSvc.Get(ctx, r1.ID, 1)
	require.NoError(t, err)
	require.Equal(t, domain.ReservationConverted, got.Status)

	// The second hold lapses; the sweep frees its seat, the confirmed
	// count is untouched, and the third caller gets in.
	clk.Advance(11 * time.Minute)
	n, err := rsvSvc.Expire(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Equal(t, 1, w.tierRegistered[7])
	require.Equal(t, 0, w.tierHeld[7])

	got, err = rsvSvc.Get(ctx, r2.ID, 2)
	require.NoError(t, err)
	require.Equal(t, domain.ReservationExpired, got.Status)

	_, err = rsvSvc.Reserve(ctx, reservation.ReserveInput{EventID: 1, TierID: &tierID, UserID: 3})
	require.NoError(t, err)

	// The attendee cancels inside the window; the seat frees and a
	// pending refund request is filed for what was paid.
	req, err := refSvc.RequestCancellation(ctx, refund.CancellationInput{
		EventID: 1,
		UserID:  1,
		Email:   "a@example.com",
		Reason:  "plans changed",
	})
	require.NoError(t, err)
	require.Equal(t, domain.RefundPending, req.Status)
	require.Equal(t, int64(2000), req.AmountCents)
	require.Equal(t, 0, w.tierRegistered[7])

	regGot, err := regSvc.Get(ctx, reg.ID, 1)
	require.NoError(t, err)
	require.Equal(t, domain.RegistrationCancelled, regGot.Status)

	// Approval drives the gateway refund and settles the request.
	processed, err := refSvc.Process(ctx, refund.ProcessInput{
		RequestID: req.ID,
		Approve:   true,
		AdminID:   "admin-1",
	})
	require.NoError(t, err)
	require.Equal(t, domain.RefundApproved, processed.Status)

	require.Len(t, gw.RefundLog, 1)
	require.Equal(t, "pay_123", gw.RefundLog[0].PaymentID)
	require.Equal(t, int64(2000), gw.RefundLog[0].AmountCents)
	require.Equal(t, fmt.Sprintf("refund-req-%d", req.ID), gw.RefundLog[0].IdempotencyKey)
}

func TestTierNoOversellConcurrent(t *testing.T) {
	const capacity = 3
	const attempts = 20

	ctx := context.Background()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	w := newWorld(clk)
	w.events[1] = &domain.Event{
		ID:       1,
		Name:     "GopherCon",
		Date:     clk.Now().Add(48 * time.Hour),
		Capacity: 100,
		FeeCents: 5000,
		Currency: "CAD",
	}
	w.tiers[7] = &domain.TicketTier{
		ID:         7,
		EventID:    1,
		Name:       "Early Bird",
		PriceCents: 2000,
		Capacity:   capacity,
	}

	svc := reservation.New(worldEvents{w}, worldReservations{w}, worldCredits{w}, nil, nil, nil, clk, reservation.Config{})
	tierID := int64(7)

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := svc.Reserve(ctx, reservation.ReserveInput{EventID: 1, TierID: &tierID, UserID: userID})
			results <- err
		}(int64(i + 1))
	}
	wg.Wait()
	close(results)

	var granted int
	for err := range results {
		if err == nil {
			granted++
			continue
		}
		require.ErrorIs(t, err, reservation.ErrSoldOut)
	}

	require.Equal(t, capacity, granted)
	require.Equal(t, capacity, w.tierHeld[7])
	require.Equal(t, 0, w.eventHeld[1])
}
