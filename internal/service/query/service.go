package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yuta-hayashi/eventcap/internal/domain"
	"github.com/yuta-hayashi/eventcap/internal/repository"
	redisrepo "github.com/yuta-hayashi/eventcap/internal/repository/redis"
)

type Store interface {
	GetEvent(ctx context.Context, id int64) (*domain.Event, error)
	ListTiers(ctx context.Context, eventID int64) ([]domain.TicketTier, error)
	Availability(ctx context.Context, eventID int64) (*domain.EventAvailability, error)
}

type Config struct {
	EventSummaryTTL time.Duration
	AvailabilityTTL time.Duration
	TiersTTL        time.Duration
}

// Service answers read queries through a short-lived cache.
// Availability gets the shortest TTL since it moves with every hold.
type Service struct {
	store Store
	cache *redisrepo.Cache
	cfg   Config
}

func New(store Store, cache *redisrepo.Cache, cfg Config) *Service {
	if cfg.EventSummaryTTL <= 0 {
		cfg.EventSummaryTTL = 60 * time.Second
	}

	if cfg.AvailabilityTTL <= 0 {
		cfg.AvailabilityTTL = 5 * time.Second
	}

	if cfg.TiersTTL <= 0 {
		cfg.TiersTTL = 60 * time.Second
	}

	return &Service{
		store: store,
		cache: cache,
		cfg:   cfg,
	}
}

// GetEvent retrieves an event by its ID through the cache.
//
// Returns:
//   - query.ErrEventNotFound if the event is not found.
func (s *Service) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "service.query.GetEvent"

	load := func(ctx context.Context) (domain.Event, error) {
		e, err := s.store.GetEvent(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.Event{}, ErrEventNotFound
			}
			return domain.Event{}, err
		}
		return *e, nil
	}

	if s.cache == nil {
		event, err := load(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return &event, nil
	}

	event, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyEventSummary(id),
		s.cfg.EventSummaryTTL,
		load,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &event, nil
}

// ListTiers returns the event's ticket tiers in display order.
//
// Returns:
//   - query.ErrEventNotFound if the event is not found.
func (s *Service) ListTiers(ctx context.Context, eventID int64) ([]domain.TicketTier, error) {
	const op = "service.query.ListTiers"

	load := func(ctx context.Context) ([]domain.TicketTier, error) {
		tiers, err := s.store.ListTiers(ctx, eventID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrEventNotFound
			}
			return nil, err
		}
		return tiers, nil
	}

	if s.cache == nil {
		tiers, err := load(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return tiers, nil
	}

	tiers, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyEventTiers(eventID),
		s.cfg.TiersTTL,
		load,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return tiers, nil
}

// Availability reports remaining capacity for the event, per tier when
// the event is tiered.
//
// Returns:
//   - query.ErrEventNotFound if the event is not found.
func (s *Service) Availability(ctx context.Context, eventID int64) (*domain.EventAvailability, error) {
	const op = "service.query.Availability"

	load := func(ctx context.Context) (domain.EventAvailability, error) {
		av, err := s.store.Availability(ctx, eventID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.EventAvailability{}, ErrEventNotFound
			}
			return domain.EventAvailability{}, err
		}
		return *av, nil
	}

	if s.cache == nil {
		av, err := load(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return &av, nil
	}

	av, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyEventAvailability(eventID),
		s.cfg.AvailabilityTTL,
		load,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &av, nil
}
