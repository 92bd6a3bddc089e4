package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yuta-hayashi/eventcap/internal/clock"
	"github.com/yuta-hayashi/eventcap/internal/domain"
	"github.com/yuta-hayashi/eventcap/internal/repository"
	postgresrepo "github.com/yuta-hayashi/eventcap/internal/repository/postgres"
	"github.com/yuta-hayashi/eventcap/internal/uow"
)

// EventStore is the slice of the event repository this service needs.
type EventStore interface {
	GetEvent(ctx context.Context, id int64) (*domain.Event, error)
	GetTier(ctx context.Context, tierID, eventID int64) (*domain.TicketTier, error)
}

type Store interface {
	uow.TxBeginner
	Hold(ctx context.Context, p postgresrepo.HoldParams) (*domain.Reservation, error)
	Cancel(ctx context.Context, id uuid.UUID, userID int64) (int64, error)
	ExpireDue(ctx context.Context) (int64, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Reservation, error)
}

type CreditStore interface {
	Balance(ctx context.Context, userID int64) (int64, error)
}

type Invalidator interface {
	InvalidateEvent(ctx context.Context, eventID int64) error
}

type Publisher interface {
	PublishCapacityChanged(ctx context.Context, eventID int64) error
}

type Limiter interface {
	Allow(ctx context.Context, suffix string) (bool, int64, time.Duration, error)
}

type Config struct {
	DefaultTTL time.Duration
	MinTTL     time.Duration
	MaxTTL     time.Duration
}

type Service struct {
	events  EventStore
	store   Store
	credits CreditStore
	cache   Invalidator
	pubsub  Publisher
	limiter Limiter
	clock   clock.Clock
	uow     *uow.UoW
	cfg     Config
}

func New(
	events EventStore,
	store Store,
	credits CreditStore,
	cache Invalidator,
	pubsub Publisher,
	limiter Limiter,
	clk clock.Clock,
	cfg Config,
) *Service {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 10 * time.Minute
	}

	if cfg.MinTTL <= 0 {
		cfg.MinTTL = time.Minute
	}

	if cfg.MaxTTL <= 0 || cfg.MaxTTL < cfg.MinTTL {
		cfg.MaxTTL = 30 * time.Minute
	}

	if clk == nil {
		clk = clock.Real{}
	}

	return &Service{
		events:  events,
		store:   store,
		credits: credits,
		cache:   cache,
		pubsub:  pubsub,
		limiter: limiter,
		clock:   clk,
		uow:     uow.New(store),
		cfg:     cfg,
	}
}

type ReserveInput struct {
	EventID           int64
	TierID            *int64
	UserID            int64
	SubEventIDs       []int64
	CreditsToUseCents int64
	PaymentEmail      string
	// TTL of zero uses the configured default.
	TTL time.Duration
	// RateKey identifies the caller for rate limiting; empty skips it.
	RateKey string
}

// Reserve places a time-limited hold on one seat and returns the
// PENDING reservation. Credits are only checked here; they are spent
// when the reservation converts.
//
// Returns:
//   - reservation.ErrEventNotFound / ErrTierNotFound for unknown targets.
//   - reservation.ErrSoldOut when no capacity remains.
//   - reservation.ErrInsufficientCredit when the requested credit exceeds the balance.
//   - reservation.RateLimitedError when the caller is over the reserve limit.
func (s *Service) Reserve(ctx context.Context, in ReserveInput) (*domain.Reservation, error) {
	const op = "service.reservation.Reserve"

	if in.UserID <= 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidUser)
	}

	if in.CreditsToUseCents < 0 {
		return nil, fmt.Errorf("%s: credits must not be negative", op)
	}

	if s.limiter != nil && in.RateKey != "" {
		ok, _, retry, err := s.limiter.Allow(ctx, in.RateKey)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if !ok {
			return nil, fmt.Errorf("%s: %w", op, RateLimitedError{RetryAfter: retry})
		}
	}

	ttl := s.clampTTL(in.TTL)
	expiresAt := s.clock.Now().Add(ttl)

	var rsv *domain.Reservation

	err := s.uow.Do(ctx, func(ctx context.Context, after func(uow.AfterCommit)) error {
		event, err := s.events.GetEvent(ctx, in.EventID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrEventNotFound
			}
			return err
		}

		price := event.FeeCents
		if in.TierID != nil {
			tier, err := s.events.GetTier(ctx, *in.TierID, in.EventID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return ErrTierNotFound
				}
				return err
			}
			price = tier.PriceCents
		}

		credits := in.CreditsToUseCents
		if credits > 0 {
			balance, err := s.credits.Balance(ctx, in.UserID)
			if err != nil {
				return err
			}
			if balance < credits {
				return ErrInsufficientCredit
			}
		}
		if credits > price {
			credits = price
		}

		rsv, err = s.store.Hold(ctx, postgresrepo.HoldParams{
			EventID:          in.EventID,
			TierID:           in.TierID,
			UserID:           in.UserID,
			SubEventIDs:      in.SubEventIDs,
			CreditsUsedCents: credits,
			FinalPriceCents:  price - credits,
			PaymentEmail:     in.PaymentEmail,
			ExpiresAt:        expiresAt,
		})
		if err != nil {
			switch {
			case errors.Is(err, repository.ErrCapacityExceeded):
				return ErrSoldOut
			case errors.Is(err, repository.ErrNotFound):
				return ErrEventNotFound
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
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return rsv, nil
}

// Cancel releases the caller's PENDING reservation.
//
// Returns:
//   - reservation.ErrReservationNotFound for an unknown ID.
//   - reservation.ErrForbidden when the reservation belongs to another user.
//   - reservation.ErrAlreadyFinalized when it is no longer PENDING.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, userID int64) error {
	const op = "service.reservation.Cancel"

	var eventID int64

	err := s.uow.Do(ctx, func(ctx context.Context, after func(uow.AfterCommit)) error {
		eid, err := s.store.Cancel(ctx, id, userID)
		if err != nil {
			switch {
			case errors.Is(err, repository.ErrNotFound):
				return ErrReservationNotFound
			case errors.Is(err, repository.ErrOwnerMismatch):
				return ErrForbidden
			case errors.Is(err, repository.ErrAlreadyTerminal):
				return ErrAlreadyFinalized
			}
			return err
		}

		eventID = eid

		after(func(ctx context.Context) {
			if s.cache != nil {
				_ = s.cache.InvalidateEvent(ctx, eventID)
			}
			if s.pubsub != nil {
				_ = s.pubsub.PublishCapacityChanged(ctx, eventID)
			}
		})

		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Get returns the reservation if it belongs to userID.
func (s *Service) Get(ctx context.Context, id uuid.UUID, userID int64) (*domain.Reservation, error) {
	const op = "service.reservation.Get"

	rsv, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrReservationNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if rsv.UserID != userID {
		return nil, fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	return rsv, nil
}

// Expire sweeps all overdue holds. Called from the background loop;
// correctness never depends on it because claims release due holds
// themselves.
func (s *Service) Expire(ctx context.Context) (int64, error) {
	const op = "service.reservation.Expire"

	n, err := s.store.ExpireDue(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

func (s *Service) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.cfg.DefaultTTL
	}
	if ttl < s.cfg.MinTTL {
		return s.cfg.MinTTL
	}
	if ttl > s.cfg.MaxTTL {
		return s.cfg.MaxTTL
	}
	return ttl
}
