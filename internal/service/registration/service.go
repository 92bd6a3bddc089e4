package registration

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/yuta-hayashi/eventcap/internal/domain"
	"github.com/yuta-hayashi/eventcap/internal/repository"
	postgresrepo "github.com/yuta-hayashi/eventcap/internal/repository/postgres"
	"github.com/yuta-hayashi/eventcap/internal/uow"
)

type EventStore interface {
	GetEvent(ctx context.Context, id int64) (*domain.Event, error)
	GetTier(ctx context.Context, tierID, eventID int64) (*domain.TicketTier, error)
}

type Store interface {
	uow.TxBeginner
	Convert(ctx context.Context, reservationID uuid.UUID, paymentID string) (*domain.Registration, error)
	CreateDirect(ctx context.Context, p postgresrepo.DirectParams) (*domain.Registration, error)
	Get(ctx context.Context, id int64) (*domain.Registration, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.Registration, error)
}

type CreditStore interface {
	Spend(ctx context.Context, userID, amountCents int64, description string, eventID *int64) error
}

type Invalidator interface {
	InvalidateEvent(ctx context.Context, eventID int64) error
}

type Publisher interface {
	PublishCapacityChanged(ctx context.Context, eventID int64) error
}

type Service struct {
	events  EventStore
	store   Store
	credits CreditStore
	cache   Invalidator
	pubsub  Publisher
	uow     *uow.UoW
}

func New(
	events EventStore,
	store Store,
	credits CreditStore,
	cache Invalidator,
	pubsub Publisher,
) *Service {
	return &Service{
		events:  events,
		store:   store,
		credits: credits,
		cache:   cache,
		pubsub:  pubsub,
		uow:     uow.New(store),
	}
}

// Convert finalizes a PENDING reservation into a completed registration
// after payment. Credits earmarked at reserve time are spent here, in
// the same transaction, so a conversion that would overdraw rolls back
// whole.
//
// Returns:
//   - registration.ErrReservationNotFound for an unknown ID.
//   - registration.ErrReservationExpired when the hold lapsed first.
//   - registration.ErrAlreadyFinalized when the reservation is terminal.
//   - registration.ErrAlreadyRegistered when the user already holds a
//     completed registration for the event.
//   - registration.ErrInsufficientCredit when the earmarked credit is gone.
func (s *Service) Convert(ctx context.Context, reservationID uuid.UUID, paymentID string) (*domain.Registration, error) {
	const op = "service.registration.Convert"

	var reg *domain.Registration

	err := s.uow.Do(ctx, func(ctx context.Context, after func(uow.AfterCommit)) error {
		var err error
		reg, err = s.store.Convert(ctx, reservationID, paymentID)
		if err != nil {
			switch {
			case errors.Is(err, repository.ErrNotFound):
				return ErrReservationNotFound
			case errors.Is(err, repository.ErrReservationExpired):
				return ErrReservationExpired
			case errors.Is(err, repository.ErrAlreadyTerminal):
				return ErrAlreadyFinalized
			case errors.Is(err, repository.ErrConflict):
				return ErrAlreadyRegistered
			}
			return err
		}

		if reg.CreditsUsedCents > 0 {
			eventID := reg.EventID
			desc := fmt.Sprintf("Applied to registration for event %d", eventID)
			if err := s.credits.Spend(ctx, reg.UserID, reg.CreditsUsedCents, desc, &eventID); err != nil {
				if errors.Is(err, repository.ErrInsufficientCredit) {
					return ErrInsufficientCredit
				}
				return err
			}
		}

		eventID := reg.EventID
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
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return reg, nil
}

type DirectInput struct {
	EventID           int64
	TierID            *int64
	UserID            int64
	SubEventIDs       []int64
	CreditsToUseCents int64
	PaymentID         string
	PaymentEmail      string
}

// RegisterDirect registers a walk-up without a prior hold. Capacity,
// credits and the registration row settle in one transaction.
func (s *Service) RegisterDirect(ctx context.Context, in DirectInput) (*domain.Registration, error) {
	const op = "service.registration.RegisterDirect"

	if in.UserID <= 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidUser)
	}

	if in.CreditsToUseCents < 0 {
		return nil, fmt.Errorf("%s: credits must not be negative", op)
	}

	var reg *domain.Registration

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
		if credits > price {
			credits = price
		}
		if credits > 0 {
			eventID := in.EventID
			desc := fmt.Sprintf("Applied to registration for event %d", eventID)
			if err := s.credits.Spend(ctx, in.UserID, credits, desc, &eventID); err != nil {
				if errors.Is(err, repository.ErrInsufficientCredit) {
					return ErrInsufficientCredit
				}
				return err
			}
		}

		reg, err = s.store.CreateDirect(ctx, postgresrepo.DirectParams{
			EventID:          in.EventID,
			TierID:           in.TierID,
			UserID:           in.UserID,
			SubEventIDs:      in.SubEventIDs,
			CreditsUsedCents: credits,
			FinalPriceCents:  price - credits,
			PaymentID:        in.PaymentID,
			PaymentEmail:     in.PaymentEmail,
		})
		if err != nil {
			switch {
			case errors.Is(err, repository.ErrCapacityExceeded):
				return ErrSoldOut
			case errors.Is(err, repository.ErrNotFound):
				return ErrEventNotFound
			case errors.Is(err, repository.ErrConflict):
				return ErrAlreadyRegistered
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

	return reg, nil
}

// Get returns the registration if it belongs to userID.
func (s *Service) Get(ctx context.Context, id, userID int64) (*domain.Registration, error) {
	const op = "service.registration.Get"

	reg, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrRegistrationNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if reg.UserID != userID {
		return nil, fmt.Errorf("%s: %w", op, ErrRegistrationNotFound)
	}

	return reg, nil
}

func (s *Service) ListByUser(ctx context.Context, userID int64) ([]domain.Registration, error) {
	const op = "service.registration.ListByUser"

	regs, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return regs, nil
}
