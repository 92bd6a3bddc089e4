package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/yuta-hayashi/eventcap/internal/domain"
	"github.com/yuta-hayashi/eventcap/internal/repository"
)

// ReservationRepo owns the hold lifecycle: claim, cancel, expire.
type ReservationRepo struct {
	store *Store
}

func (r *ReservationRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.store.WithTx(ctx, fn)
}

type HoldParams struct {
	EventID          int64
	TierID           *int64
	UserID           int64
	SubEventIDs      []int64
	CreditsUsedCents int64
	FinalPriceCents  int64
	PaymentEmail     string
	ExpiresAt        time.Time
}

// Hold claims one seat and creates a PENDING reservation. The capacity
// check and the provisional increment are a single conditional UPDATE;
// two concurrent calls against the last seat can never both match.
// Due holds for the event are released first, so capacity comes back even
// when the background sweep never runs.
func (r *ReservationRepo) Hold(ctx context.Context, p HoldParams) (*domain.Reservation, error) {
	const op = "postgres.ReservationRepo.Hold"

	var rsv *domain.Reservation

	err := r.store.WithTx(ctx, func(ctx context.Context) error {
		db := r.store.handle(ctx)

		if err := releaseDueHolds(ctx, db, p.EventID); err != nil {
			return err
		}

		if err := claimHold(ctx, db, p.EventID, p.TierID); err != nil {
			return err
		}

		id := uuid.New()
		var createdAt time.Time
		if err := db.QueryRow(ctx,
			`INSERT INTO reservations
			        (id, event_id, tier_id, user_id, sub_event_ids,
			         credits_used_cents, final_price_cents, payment_email, status, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 RETURNING created_at`,
			id, p.EventID, p.TierID, p.UserID, p.SubEventIDs,
			p.CreditsUsedCents, p.FinalPriceCents, p.PaymentEmail,
			domain.ReservationPending, p.ExpiresAt,
		).Scan(&createdAt); err != nil {
			return translateDBErr(err)
		}

		rsv = &domain.Reservation{
			ID:               id,
			EventID:          p.EventID,
			TierID:           p.TierID,
			UserID:           p.UserID,
			SubEventIDs:      p.SubEventIDs,
			CreditsUsedCents: p.CreditsUsedCents,
			FinalPriceCents:  p.FinalPriceCents,
			PaymentEmail:     p.PaymentEmail,
			Status:           domain.ReservationPending,
			CreatedAt:        createdAt,
			ExpiresAt:        p.ExpiresAt,
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return rsv, nil
}

// Cancel transitions a PENDING reservation to CANCELLED on behalf of its
// owner and releases the held seat. Returns the event ID for cache
// invalidation.
func (r *ReservationRepo) Cancel(ctx context.Context, id uuid.UUID, userID int64) (int64, error) {
	const op = "postgres.ReservationRepo.Cancel"

	var eventID int64

	err := r.store.WithTx(ctx, func(ctx context.Context) error {
		db := r.store.handle(ctx)

		var owner int64
		var status domain.ReservationStatus
		var tierID *int64
		err := db.QueryRow(ctx,
			`SELECT user_id, status, event_id, tier_id
			   FROM reservations
			  WHERE id = $1
			    FOR UPDATE`,
			id,
		).Scan(&owner, &status, &eventID, &tierID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return repository.ErrNotFound
			}
			return translateDBErr(err)
		}

		if owner != userID {
			return repository.ErrOwnerMismatch
		}
		if status != domain.ReservationPending {
			return repository.ErrAlreadyTerminal
		}

		tag, err := db.Exec(ctx,
			`UPDATE reservations SET status = $2 WHERE id = $1 AND status = $3`,
			id, domain.ReservationCancelled, domain.ReservationPending,
		)
		if err != nil {
			return translateDBErr(err)
		}
		if tag.RowsAffected() == 0 {
			return repository.ErrAlreadyTerminal
		}

		return releaseHold(ctx, db, eventID, tierID)
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return eventID, nil
}

// ExpireDue sweeps all PENDING reservations past their expiry, releasing
// their held seats. Returns the number of reservations expired.
func (r *ReservationRepo) ExpireDue(ctx context.Context) (int64, error) {
	const op = "postgres.ReservationRepo.ExpireDue"

	db := r.store.handle(ctx)

	var expired int64
	err := db.QueryRow(ctx,
		`WITH expired AS (
		     UPDATE reservations
		        SET status = 'EXPIRED'
		      WHERE status = 'PENDING' AND expires_at <= now()
		     RETURNING event_id, tier_id
		 ), tier_release AS (
		     UPDATE ticket_tiers t
		        SET held_count = GREATEST(t.held_count - e.n, 0)
		       FROM (SELECT tier_id, COUNT(*)::int AS n
		               FROM expired
		              WHERE tier_id IS NOT NULL
		              GROUP BY tier_id) e
		      WHERE t.id = e.tier_id
		     RETURNING 1
		 ), event_release AS (
		     UPDATE events ev
		        SET held_count = GREATEST(ev.held_count - e.n, 0)
		       FROM (SELECT event_id, COUNT(*)::int AS n
		               FROM expired
		              WHERE tier_id IS NULL
		              GROUP BY event_id) e
		      WHERE ev.id = e.event_id
		     RETURNING 1
		 )
		 SELECT COUNT(*) FROM expired`,
	).Scan(&expired)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return expired, nil
}

func (r *ReservationRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Reservation, error) {
	const op = "postgres.ReservationRepo.Get"

	db := r.store.handle(ctx)

	var rsv domain.Reservation
	err := db.QueryRow(ctx,
		`SELECT id, event_id, tier_id, user_id, sub_event_ids,
		        credits_used_cents, final_price_cents, payment_email,
		        status, created_at, expires_at
		   FROM reservations
		  WHERE id = $1`,
		id,
	).Scan(
		&rsv.ID, &rsv.EventID, &rsv.TierID, &rsv.UserID, &rsv.SubEventIDs,
		&rsv.CreditsUsedCents, &rsv.FinalPriceCents, &rsv.PaymentEmail,
		&rsv.Status, &rsv.CreatedAt, &rsv.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return &rsv, nil
}

// releaseDueHolds lazily expires the event's overdue PENDING reservations
// and gives their seats back, in one statement.
func releaseDueHolds(ctx context.Context, db DB, eventID int64) error {
	_, err := db.Exec(ctx,
		`WITH expired AS (
		     UPDATE reservations
		        SET status = 'EXPIRED'
		      WHERE event_id = $1 AND status = 'PENDING' AND expires_at <= now()
		     RETURNING tier_id
		 ), tier_release AS (
		     UPDATE ticket_tiers t
		        SET held_count = GREATEST(t.held_count - e.n, 0)
		       FROM (SELECT tier_id, COUNT(*)::int AS n
		               FROM expired
		              WHERE tier_id IS NOT NULL
		              GROUP BY tier_id) e
		      WHERE t.id = e.tier_id
		     RETURNING 1
		 )
		 UPDATE events ev
		    SET held_count = GREATEST(ev.held_count - e.n, 0)
		   FROM (SELECT COUNT(*)::int AS n FROM expired WHERE tier_id IS NULL) e
		  WHERE ev.id = $1 AND e.n > 0`,
		eventID,
	)
	if err != nil {
		return translateDBErr(err)
	}
	return nil
}

// claimHold is the atomicity boundary for reserving: test capacity and
// increment the provisional counter in one conditional UPDATE.
func claimHold(ctx context.Context, db DB, eventID int64, tierID *int64) error {
	if tierID != nil {
		tag, err := db.Exec(ctx,
			`UPDATE ticket_tiers
			    SET held_count = held_count + 1
			  WHERE id = $1 AND event_id = $2
			    AND registered_count + held_count < capacity`,
			*tierID, eventID,
		)
		if err != nil {
			return translateDBErr(err)
		}
		if tag.RowsAffected() == 0 {
			ok, err := tierExists(ctx, db, *tierID, eventID)
			if err != nil {
				return translateDBErr(err)
			}
			if !ok {
				return repository.ErrNotFound
			}
			return repository.ErrCapacityExceeded
		}
		return nil
	}

	tag, err := db.Exec(ctx,
		`UPDATE events
		    SET held_count = held_count + 1
		  WHERE id = $1
		    AND registered_count + held_count < capacity`,
		eventID,
	)
	if err != nil {
		return translateDBErr(err)
	}
	if tag.RowsAffected() == 0 {
		ok, err := eventExists(ctx, db, eventID)
		if err != nil {
			return translateDBErr(err)
		}
		if !ok {
			return repository.ErrNotFound
		}
		return repository.ErrCapacityExceeded
	}
	return nil
}

// releaseHold gives one provisionally held seat back to its tier, or to
// the event when the event has no tiers.
func releaseHold(ctx context.Context, db DB, eventID int64, tierID *int64) error {
	var err error
	if tierID != nil {
		_, err = db.Exec(ctx,
			`UPDATE ticket_tiers
			    SET held_count = GREATEST(held_count - 1, 0)
			  WHERE id = $1`,
			*tierID,
		)
	} else {
		_, err = db.Exec(ctx,
			`UPDATE events
			    SET held_count = GREATEST(held_count - 1, 0)
			  WHERE id = $1`,
			eventID,
		)
	}
	if err != nil {
		return translateDBErr(err)
	}
	return nil
}
