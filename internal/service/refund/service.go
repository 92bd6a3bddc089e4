package refund

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yuta-hayashi/eventcap/internal/clock"
	"github.com/yuta-hayashi/eventcap/internal/domain"
	"github.com/yuta-hayashi/eventcap/internal/gateway"
	"github.com/yuta-hayashi/eventcap/internal/mailer"
	"github.com/yuta-hayashi/eventcap/internal/repository"
	postgresrepo "github.com/yuta-hayashi/eventcap/internal/repository/postgres"
	"github.com/yuta-hayashi/eventcap/internal/uow"
)

type EventStore interface {
	GetEvent(ctx context.Context, id int64) (*domain.Event, error)
}

type Store interface {
	uow.TxBeginner
	CompletedRegistration(ctx context.Context, eventID, userID int64) (*domain.Registration, error)
	HasPendingRequest(ctx context.Context, eventID, userID int64) (bool, error)
	LatestPaymentByUser(ctx context.Context, userID int64) (string, error)
	CancelAndRequest(ctx context.Context, p postgresrepo.CancelAndRequestParams) (*domain.RefundRequest, error)
	Get(ctx context.Context, id int64) (*domain.RefundRequest, error)
	List(ctx context.Context, status *domain.RefundStatus) ([]domain.RefundRequest, error)
	MarkProcessed(ctx context.Context, p postgresrepo.MarkProcessedParams) error
	PaymentKnown(ctx context.Context, paymentID string) (bool, error)
	UpsertUnregistered(ctx context.Context, rec domain.UnregisteredRefund) error
	ListUnregistered(ctx context.Context) ([]domain.UnregisteredRefund, error)
}

type Invalidator interface {
	InvalidateEvent(ctx context.Context, eventID int64) error
}

type Publisher interface {
	PublishCapacityChanged(ctx context.Context, eventID int64) error
}

type Config struct {
	DefaultCurrency string
}

type Service struct {
	events  EventStore
	store   Store
	gateway gateway.Gateway
	mail    mailer.Mailer
	cache   Invalidator
	pubsub  Publisher
	clock   clock.Clock
	log     *slog.Logger
	uow     *uow.UoW
	cfg     Config
}

func New(
	events EventStore,
	store Store,
	gw gateway.Gateway,
	mail mailer.Mailer,
	cache Invalidator,
	pubsub Publisher,
	clk clock.Clock,
	log *slog.Logger,
	cfg Config,
) *Service {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "CAD"
	}

	if clk == nil {
		clk = clock.Real{}
	}

	if log == nil {
		log = slog.Default()
	}

	return &Service{
		events:  events,
		store:   store,
		gateway: gw,
		mail:    mail,
		cache:   cache,
		pubsub:  pubsub,
		clock:   clk,
		log:     log,
		uow:     uow.New(store),
		cfg:     cfg,
	}
}

type CancellationInput struct {
	EventID int64
	UserID  int64
	Email   string
	Reason  string
}

// RequestCancellation cancels the user's completed registration, frees
// its seat and files a pending refund request, provided the event's
// cancellation window is still open. No money moves here; an admin
// settles the request later.
//
// Returns:
//   - refund.ErrInvalidUser for a non-positive user id.
//   - refund.ErrEventNotFound for an unknown event.
//   - refund.ErrWindowClosed once the event's refund cutoff has passed.
//   - refund.ErrDuplicateRequest when a pending request already exists.
//   - refund.ErrRegistrationNotFound when the user has no completed registration.
func (s *Service) RequestCancellation(ctx context.Context, in CancellationInput) (*domain.RefundRequest, error) {
	const op = "service.refund.RequestCancellation"

	if in.UserID <= 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidUser)
	}

	var req *domain.RefundRequest

	err := s.uow.Do(ctx, func(ctx context.Context, after func(uow.AfterCommit)) error {
		event, err := s.events.GetEvent(ctx, in.EventID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrEventNotFound
			}
			return err
		}

		// The window stays open through the cutoff instant itself.
		if s.clock.Now().After(event.RefundCutoff()) {
			return ErrWindowClosed
		}

		pending, err := s.store.HasPendingRequest(ctx, in.EventID, in.UserID)
		if err != nil {
			return err
		}
		if pending {
			return ErrDuplicateRequest
		}

		reg, err := s.store.CompletedRegistration(ctx, in.EventID, in.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrRegistrationNotFound
			}
			return err
		}

		paymentID := s.resolvePayment(ctx, reg)

		req, err = s.store.CancelAndRequest(ctx, postgresrepo.CancelAndRequestParams{
			EventID:     in.EventID,
			UserID:      in.UserID,
			Email:       in.Email,
			PaymentID:   paymentID,
			AmountCents: reg.FinalPriceCents,
			Currency:    s.cfg.DefaultCurrency,
			Reason:      in.Reason,
		})
		if err != nil {
			switch {
			case errors.Is(err, repository.ErrConflict):
				return ErrDuplicateRequest
			case errors.Is(err, repository.ErrNotFound):
				return ErrRegistrationNotFound
			}
			return err
		}

		after(func(ctx context.Context) {
			if s.cache != nil {
				_ = s.cache.InvalidateEvent(ctx, in.EventID)
			}
			if s.pubsub != nil {
				_ = s.pubsub.PublishCapacityChanged(ctx, in.EventID)
			}
			s.sendMail(ctx, in.Email,
				"Cancellation received",
				fmt.Sprintf("Your registration for event %d was cancelled. A refund request has been filed.", in.EventID),
			)
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return req, nil
}

// resolvePayment picks the payment to refund against. The registration's
// own payment wins; failing that, the user's most recent payment on any
// registration. A request without a payment can still be filed and
// rejected later.
func (s *Service) resolvePayment(ctx context.Context, reg *domain.Registration) *string {
	if reg.PaymentID != "" {
		id := reg.PaymentID
		return &id
	}

	id, err := s.store.LatestPaymentByUser(ctx, reg.UserID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.log.Warn("payment fallback lookup failed", "user_id", reg.UserID, "error", err)
		}
		return nil
	}

	return &id
}

type ProcessInput struct {
	RequestID int64
	Approve   bool
	AdminID   string
	Notes     *string
}

// Process settles a pending refund request. Approval refunds through
// the gateway first and only then flips the request to approved, so a
// provider failure leaves the request pending and retryable. The
// gateway call carries a per-request idempotency key, which makes the
// retry safe.
//
// Returns:
//   - refund.ErrRequestNotFound for an unknown request.
//   - refund.ErrAlreadyProcessed when it is no longer pending.
//   - refund.ErrNoPayment when approving a request without a payment.
//   - refund.GatewayError when the provider rejects the refund.
func (s *Service) Process(ctx context.Context, in ProcessInput) (*domain.RefundRequest, error) {
	const op = "service.refund.Process"

	req, err := s.store.Get(ctx, in.RequestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrRequestNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if req.Status != domain.RefundPending {
		return nil, fmt.Errorf("%s: %w", op, ErrAlreadyProcessed)
	}

	decision := domain.RefundRejected
	if in.Approve {
		decision = domain.RefundApproved

		if req.PaymentID == nil {
			return nil, fmt.Errorf("%s: %w", op, ErrNoPayment)
		}

		_, err := s.gateway.Refund(ctx, gateway.RefundInput{
			PaymentID:      *req.PaymentID,
			AmountCents:    req.AmountCents,
			Currency:       req.Currency,
			Reason:         req.Reason,
			IdempotencyKey: fmt.Sprintf("refund-req-%d", req.ID),
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, GatewayError{Err: err})
		}
	}

	processedAt := s.clock.Now()
	adminID := in.AdminID

	err = s.store.MarkProcessed(ctx, postgresrepo.MarkProcessedParams{
		ID:          req.ID,
		Decision:    decision,
		AdminNotes:  in.Notes,
		ProcessedBy: &adminID,
		ProcessedAt: processedAt,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("%s: %w", op, ErrRequestNotFound)
		case errors.Is(err, repository.ErrAlreadyTerminal):
			return nil, fmt.Errorf("%s: %w", op, ErrAlreadyProcessed)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	req.Status = decision
	req.ProcessedDate = &processedAt
	req.AdminNotes = in.Notes
	req.ProcessedBy = &adminID

	subject := "Refund approved"
	body := fmt.Sprintf("Your refund of %d %s has been issued.", req.AmountCents, req.Currency)
	if decision == domain.RefundRejected {
		subject = "Refund request declined"
		body = "Your refund request was reviewed and declined."
	}
	s.sendMail(ctx, req.Email, subject, body)

	return req, nil
}

func (s *Service) GetRequest(ctx context.Context, id int64) (*domain.RefundRequest, error) {
	const op = "service.refund.GetRequest"

	req, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrRequestNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return req, nil
}

func (s *Service) ListRequests(ctx context.Context, status *domain.RefundStatus) ([]domain.RefundRequest, error) {
	const op = "service.refund.ListRequests"

	reqs, err := s.store.List(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return reqs, nil
}

// ReconcileUnregistered refunds a stray payment that never produced a
// registration, recording it so reruns are harmless. The gateway key is
// derived from the payment ID for the same reason.
//
// Returns:
//   - refund.ErrPaymentRegistered when the payment belongs to a registration.
//   - refund.ErrGatewayPaymentNotFound when the provider does not know it.
func (s *Service) ReconcileUnregistered(ctx context.Context, paymentID, reason, processedBy string) (*domain.UnregisteredRefund, error) {
	const op = "service.refund.ReconcileUnregistered"

	known, err := s.store.PaymentKnown(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if known {
		return nil, fmt.Errorf("%s: %w", op, ErrPaymentRegistered)
	}

	payment, err := s.gateway.GetPayment(ctx, paymentID)
	if err != nil {
		var gwErr *gateway.Error
		if errors.As(err, &gwErr) && gwErr.Code == "NOT_FOUND" {
			return nil, fmt.Errorf("%s: %w", op, ErrGatewayPaymentNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, GatewayError{Err: err})
	}

	var refundID string
	if !payment.Refunded {
		res, err := s.gateway.Refund(ctx, gateway.RefundInput{
			PaymentID:      paymentID,
			AmountCents:    payment.AmountCents,
			Currency:       payment.Currency,
			Reason:         reason,
			IdempotencyKey: "unreg-" + paymentID,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, GatewayError{Err: err})
		}
		refundID = res.RefundID
	}

	rec := domain.UnregisteredRefund{
		PaymentID:   paymentID,
		RefundID:    refundID,
		AmountCents: payment.AmountCents,
		Currency:    payment.Currency,
		Email:       payment.CustomerEmail,
		Reason:      reason,
		ProcessedBy: processedBy,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.store.UpsertUnregistered(ctx, rec); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &rec, nil
}

func (s *Service) ListUnregistered(ctx context.Context) ([]domain.UnregisteredRefund, error) {
	const op = "service.refund.ListUnregistered"

	recs, err := s.store.ListUnregistered(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return recs, nil
}

// sendMail delivers best effort. A mail failure never fails the
// operation that triggered it.
func (s *Service) sendMail(ctx context.Context, to, subject, body string) {
	if s.mail == nil || to == "" {
		return
	}
	if err := s.mail.Send(ctx, to, subject, "", body); err != nil {
		s.log.Warn("notification mail failed", "to", to, "subject", subject, "error", err)
	}
}
