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

// RegistrationRepo converts holds into registrations and registers
// walk-ups directly.
type RegistrationRepo struct {
	store *Store
}

func (r *RegistrationRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.store.WithTx(ctx, fn)
}

// Convert settles a PENDING reservation into a completed registration.
// The status flip is a compare-and-set on PENDING with an expiry guard,
// so two concurrent conversions of the same reservation produce exactly
// one registration. A reservation found expired is released inline.
func (r *RegistrationRepo) Convert(ctx context.Context, reservationID uuid.UUID, paymentID string) (*domain.Registration, error) {
	const op = "postgres.RegistrationRepo.Convert"

	var reg *domain.Registration

	err := r.store.WithTx(ctx, func(ctx context.Context) error {
		db := r.store.handle(ctx)

		var rsv domain.Reservation
		err := db.QueryRow(ctx,
			`UPDATE reservations
			    SET status = $2
			  WHERE id = $1 AND status = $3 AND expires_at > now()
			 RETURNING event_id, tier_id, user_id, sub_event_ids,
			           credits_used_cents, final_price_cents, payment_email`,
			reservationID, domain.ReservationConverted, domain.ReservationPending,
		).Scan(
			&rsv.EventID, &rsv.TierID, &rsv.UserID, &rsv.SubEventIDs,
			&rsv.CreditsUsedCents, &rsv.FinalPriceCents, &rsv.PaymentEmail,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			return r.classifyConvertMiss(ctx, db, reservationID)
		}
		if err != nil {
			return translateDBErr(err)
		}

		if err := promoteHold(ctx, db, rsv.EventID, rsv.TierID); err != nil {
			return err
		}

		var regID int64
		var registeredAt time.Time
		if err := db.QueryRow(ctx,
			`INSERT INTO registrations
			        (event_id, tier_id, user_id, reservation_id, sub_event_ids,
			         credits_used_cents, final_price_cents, payment_id, payment_email, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 RETURNING id, registered_at`,
			rsv.EventID, rsv.TierID, rsv.UserID, reservationID, rsv.SubEventIDs,
			rsv.CreditsUsedCents, rsv.FinalPriceCents, paymentID, rsv.PaymentEmail,
			domain.RegistrationCompleted,
		).Scan(&regID, &registeredAt); err != nil {
			return translateDBErr(err)
		}

		reg = &domain.Registration{
			ID:               regID,
			EventID:          rsv.EventID,
			TierID:           rsv.TierID,
			UserID:           rsv.UserID,
			ReservationID:    &reservationID,
			SubEventIDs:      rsv.SubEventIDs,
			CreditsUsedCents: rsv.CreditsUsedCents,
			FinalPriceCents:  rsv.FinalPriceCents,
			PaymentID:        paymentID,
			PaymentEmail:     rsv.PaymentEmail,
			Status:           domain.RegistrationCompleted,
			RegisteredAt:     registeredAt,
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return reg, nil
}

// classifyConvertMiss decides why the compare-and-set matched nothing.
// A reservation that is still PENDING but past its expiry is expired
// here rather than waiting for the sweep.
func (r *RegistrationRepo) classifyConvertMiss(ctx context.Context, db DB, id uuid.UUID) error {
	var status domain.ReservationStatus
	var eventID int64
	var tierID *int64
	err := db.QueryRow(ctx,
		`SELECT status, event_id, tier_id FROM reservations WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&status, &eventID, &tierID)
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return translateDBErr(err)
	}

	if status != domain.ReservationPending {
		return repository.ErrAlreadyTerminal
	}

	tag, err := db.Exec(ctx,
		`UPDATE reservations SET status = $2 WHERE id = $1 AND status = $3`,
		id, domain.ReservationExpired, domain.ReservationPending,
	)
	if err != nil {
		return translateDBErr(err)
	}
	if tag.RowsAffected() > 0 {
		if err := releaseHold(ctx, db, eventID, tierID); err != nil {
			return err
		}
	}
	return repository.ErrReservationExpired
}

type DirectParams struct {
	EventID          int64
	TierID           *int64
	UserID           int64
	SubEventIDs      []int64
	CreditsUsedCents int64
	FinalPriceCents  int64
	PaymentID        string
	PaymentEmail     string
}

// CreateDirect registers a walk-up, bypassing the hold phase. Capacity
// is claimed straight into the confirmed counter.
func (r *RegistrationRepo) CreateDirect(ctx context.Context, p DirectParams) (*domain.Registration, error) {
	const op = "postgres.RegistrationRepo.CreateDirect"

	var reg *domain.Registration

	err := r.store.WithTx(ctx, func(ctx context.Context) error {
		db := r.store.handle(ctx)

		if err := releaseDueHolds(ctx, db, p.EventID); err != nil {
			return err
		}

		if err := claimRegistered(ctx, db, p.EventID, p.TierID); err != nil {
			return err
		}

		var regID int64
		var registeredAt time.Time
		if err := db.QueryRow(ctx,
			`INSERT INTO registrations
			        (event_id, tier_id, user_id, sub_event_ids,
			         credits_used_cents, final_price_cents, payment_id, payment_email, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING id, registered_at`,
			p.EventID, p.TierID, p.UserID, p.SubEventIDs,
			p.CreditsUsedCents, p.FinalPriceCents, p.PaymentID, p.PaymentEmail,
			domain.RegistrationCompleted,
		).Scan(&regID, &registeredAt); err != nil {
			return translateDBErr(err)
		}

		reg = &domain.Registration{
			ID:               regID,
			EventID:          p.EventID,
			TierID:           p.TierID,
			UserID:           p.UserID,
			SubEventIDs:      p.SubEventIDs,
			CreditsUsedCents: p.CreditsUsedCents,
			FinalPriceCents:  p.FinalPriceCents,
			PaymentID:        p.PaymentID,
			PaymentEmail:     p.PaymentEmail,
			Status:           domain.RegistrationCompleted,
			RegisteredAt:     registeredAt,
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return reg, nil
}

func (r *RegistrationRepo) Get(ctx context.Context, id int64) (*domain.Registration, error) {
	const op = "postgres.RegistrationRepo.Get"

	db := r.store.handle(ctx)

	var reg domain.Registration
	err := db.QueryRow(ctx,
		`SELECT id, event_id, tier_id, user_id, reservation_id, sub_event_ids,
		        credits_used_cents, final_price_cents, payment_id, payment_email,
		        status, registered_at
		   FROM registrations
		  WHERE id = $1`,
		id,
	).Scan(
		&reg.ID, &reg.EventID, &reg.TierID, &reg.UserID, &reg.ReservationID, &reg.SubEventIDs,
		&reg.CreditsUsedCents, &reg.FinalPriceCents, &reg.PaymentID, &reg.PaymentEmail,
		&reg.Status, &reg.RegisteredAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return &reg, nil
}

// ListByUser returns the user's registrations, newest first.
func (r *RegistrationRepo) ListByUser(ctx context.Context, userID int64) ([]domain.Registration, error) {
	const op = "postgres.RegistrationRepo.ListByUser"

	db := r.store.handle(ctx)

	rows, err := db.Query(ctx,
		`SELECT id, event_id, tier_id, user_id, reservation_id, sub_event_ids,
		        credits_used_cents, final_price_cents, payment_id, payment_email,
		        status, registered_at
		   FROM registrations
		  WHERE user_id = $1
		  ORDER BY registered_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}
	defer rows.Close()

	var regs []domain.Registration
	for rows.Next() {
		var reg domain.Registration
		if err := rows.Scan(
			&reg.ID, &reg.EventID, &reg.TierID, &reg.UserID, &reg.ReservationID, &reg.SubEventIDs,
			&reg.CreditsUsedCents, &reg.FinalPriceCents, &reg.PaymentID, &reg.PaymentEmail,
			&reg.Status, &reg.RegisteredAt,
		); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return regs, nil
}

// promoteHold moves one seat from provisional to confirmed.
func promoteHold(ctx context.Context, db DB, eventID int64, tierID *int64) error {
	var err error
	if tierID != nil {
		_, err = db.Exec(ctx,
			`UPDATE ticket_tiers
			    SET held_count = GREATEST(held_count - 1, 0),
			        registered_count = registered_count + 1
			  WHERE id = $1`,
			*tierID,
		)
	} else {
		_, err = db.Exec(ctx,
			`UPDATE events
			    SET held_count = GREATEST(held_count - 1, 0),
			        registered_count = registered_count + 1
			  WHERE id = $1`,
			eventID,
		)
	}
	if err != nil {
		return translateDBErr(err)
	}
	return nil
}

// claimRegistered claims confirmed capacity directly, used by walk-up
// registration.
func claimRegistered(ctx context.Context, db DB, eventID int64, tierID *int64) error {
	if tierID != nil {
		tag, err := db.Exec(ctx,
			`UPDATE ticket_tiers
			    SET registered_count = registered_count + 1
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
		    SET registered_count = registered_count + 1
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
