package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/yuta-hayashi/eventcap/internal/domain"
	"github.com/yuta-hayashi/eventcap/internal/repository"
)

var ErrInsufficientCredit = errors.New("insufficient credit balance")

type Store interface {
	Balance(ctx context.Context, userID int64) (int64, error)
	Spend(ctx context.Context, userID, amountCents int64, description string, eventID *int64) error
	Grant(ctx context.Context, userID, amountCents int64, description string, eventID *int64) (*domain.CreditTransaction, error)
	History(ctx context.Context, userID int64) ([]domain.CreditTransaction, error)
}

// Service exposes the user credit ledger. Spending happens inside
// registration flows; this surface covers balance, history and admin
// grants.
type Service struct {
	store Store
}

func New(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) Balance(ctx context.Context, userID int64) (int64, error) {
	const op = "service.credits.Balance"

	balance, err := s.store.Balance(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return balance, nil
}

func (s *Service) History(ctx context.Context, userID int64) ([]domain.CreditTransaction, error) {
	const op = "service.credits.History"

	txs, err := s.store.History(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return txs, nil
}

// Grant adds credit to a user's ledger.
func (s *Service) Grant(ctx context.Context, userID, amountCents int64, description string, eventID *int64) (*domain.CreditTransaction, error) {
	const op = "service.credits.Grant"

	if amountCents <= 0 {
		return nil, fmt.Errorf("%s: amount must be positive", op)
	}

	tx, err := s.store.Grant(ctx, userID, amountCents, description, eventID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return tx, nil
}

// Spend deducts from the ledger, failing when the balance is short.
func (s *Service) Spend(ctx context.Context, userID, amountCents int64, description string, eventID *int64) error {
	const op = "service.credits.Spend"

	if err := s.store.Spend(ctx, userID, amountCents, description, eventID); err != nil {
		if errors.Is(err, repository.ErrInsufficientCredit) {
			return fmt.Errorf("%s: %w", op, ErrInsufficientCredit)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
