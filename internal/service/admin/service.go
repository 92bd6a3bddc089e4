package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/yuta-hayashi/eventcap/internal/repository"
	postgresrepo "github.com/yuta-hayashi/eventcap/internal/repository/postgres"
	"github.com/yuta-hayashi/eventcap/internal/uow"
)

type Store interface {
	uow.TxBeginner
	CreateEvent(ctx context.Context, p postgresrepo.CreateEventParams) (int64, error)
	CreateTier(ctx context.Context, p postgresrepo.CreateTierParams) (int64, error)
	CreateSubEvent(ctx context.Context, eventID int64, name string, priceCents int64) (int64, error)
}

type Invalidator interface {
	InvalidateEvent(ctx context.Context, eventID int64) error
}

type Publisher interface {
	PublishCapacityChanged(ctx context.Context, eventID int64) error
}

// Service covers event setup done by organizers.
type Service struct {
	store  Store
	cache  Invalidator
	pubsub Publisher
	uow    *uow.UoW
}

func New(store Store, cache Invalidator, pubsub Publisher) *Service {
	return &Service{
		store:  store,
		cache:  cache,
		pubsub: pubsub,
		uow:    uow.New(store),
	}
}

func (s *Service) CreateEvent(ctx context.Context, p postgresrepo.CreateEventParams) (int64, error) {
	const op = "service.admin.CreateEvent"

	var id int64

	err := s.uow.Do(ctx, func(ctx context.Context, after func(uow.AfterCommit)) error {
		var err error
		id, err = s.store.CreateEvent(ctx, p)
		if err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrEventConflict
			}
			return err
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (s *Service) CreateTier(ctx context.Context, p postgresrepo.CreateTierParams) (int64, error) {
	const op = "service.admin.CreateTier"

	var id int64

	err := s.uow.Do(ctx, func(ctx context.Context, after func(uow.AfterCommit)) error {
		var err error
		id, err = s.store.CreateTier(ctx, p)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrEventNotFound
			}
			return err
		}

		after(func(ctx context.Context) {
			if s.cache != nil {
				_ = s.cache.InvalidateEvent(ctx, p.EventID)
			}
			if s.pubsub != nil {
				_ = s.pubsub.PublishCapacityChanged(ctx, p.EventID)
			}
		})

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (s *Service) CreateSubEvent(ctx context.Context, eventID int64, name string, priceCents int64) (int64, error) {
	const op = "service.admin.CreateSubEvent"

	var id int64

	err := s.uow.Do(ctx, func(ctx context.Context, after func(uow.AfterCommit)) error {
		var err error
		id, err = s.store.CreateSubEvent(ctx, eventID, name, priceCents)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrEventNotFound
			}
			return err
		}

		after(func(ctx context.Context) {
			if s.cache != nil {
				_ = s.cache.InvalidateEvent(ctx, eventID)
			}
		})

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}
