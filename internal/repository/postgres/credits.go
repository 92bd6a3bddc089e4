package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/yuta-hayashi/eventcap/internal/domain"
	"github.com/yuta-hayashi/eventcap/internal/repository"
)

// CreditRepo keeps each user's credit ledger. The balance is the sum of
// signed ledger entries, never a stored counter.
type CreditRepo struct {
	store *Store
}

func (r *CreditRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.store.WithTx(ctx, fn)
}

func (r *CreditRepo) Balance(ctx context.Context, userID int64) (int64, error) {
	const op = "postgres.CreditRepo.Balance"

	db := r.store.handle(ctx)

	var balance int64
	err := db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0)
		   FROM credit_transactions
		  WHERE user_id = $1`,
		userID,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return balance, nil
}

// Spend appends a negative ledger entry if and only if the current
// balance covers the amount. The balance check and the insert are one
// statement, so concurrent spends cannot jointly overdraw.
func (r *CreditRepo) Spend(ctx context.Context, userID, amountCents int64, description string, eventID *int64) error {
	const op = "postgres.CreditRepo.Spend"

	if amountCents <= 0 {
		return fmt.Errorf("%s: amount must be positive", op)
	}

	db := r.store.handle(ctx)

	tag, err := db.Exec(ctx,
		`INSERT INTO credit_transactions (user_id, amount_cents, description, event_id)
		 SELECT $1, -$2::bigint, $3, $4
		  WHERE (SELECT COALESCE(SUM(amount_cents), 0)
		           FROM credit_transactions
		          WHERE user_id = $1) >= $2`,
		userID, amountCents, description, eventID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, translateDBErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, repository.ErrInsufficientCredit)
	}

	return nil
}

// Grant appends a positive ledger entry.
func (r *CreditRepo) Grant(ctx context.Context, userID, amountCents int64, description string, eventID *int64) (*domain.CreditTransaction, error) {
	const op = "postgres.CreditRepo.Grant"

	if amountCents <= 0 {
		return nil, fmt.Errorf("%s: amount must be positive", op)
	}

	db := r.store.handle(ctx)

	var id int64
	var createdAt time.Time
	err := db.QueryRow(ctx,
		`INSERT INTO credit_transactions (user_id, amount_cents, description, event_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		userID, amountCents, description, eventID,
	).Scan(&id, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return &domain.CreditTransaction{
		ID:          id,
		UserID:      userID,
		AmountCents: amountCents,
		Description: description,
		EventID:     eventID,
		CreatedAt:   createdAt,
	}, nil
}

// History returns the user's ledger, newest first.
func (r *CreditRepo) History(ctx context.Context, userID int64) ([]domain.CreditTransaction, error) {
	const op = "postgres.CreditRepo.History"

	db := r.store.handle(ctx)

	rows, err := db.Query(ctx,
		`SELECT id, user_id, amount_cents, description, event_id, created_at
		   FROM credit_transactions
		  WHERE user_id = $1
		  ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}
	defer rows.Close()

	var txs []domain.CreditTransaction
	for rows.Next() {
		var tx domain.CreditTransaction
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.AmountCents, &tx.Description, &tx.EventID, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return txs, nil
}
