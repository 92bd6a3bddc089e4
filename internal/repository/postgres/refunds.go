package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/yuta-hayashi/eventcap/internal/domain"
	"github.com/yuta-hayashi/eventcap/internal/repository"
)

// RefundRepo handles cancellation of completed registrations and the
// refund-request queue worked by admins.
type RefundRepo struct {
	store *Store
}

func (r *RefundRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.store.WithTx(ctx, fn)
}

// CompletedRegistration returns the user's completed registration for
// the event, if any.
func (r *RefundRepo) CompletedRegistration(ctx context.Context, eventID, userID int64) (*domain.Registration, error) {
	const op = "postgres.RefundRepo.CompletedRegistration"

	db := r.store.handle(ctx)

	var reg domain.Registration
	err := db.QueryRow(ctx,
		`SELECT id, event_id, tier_id, user_id, reservation_id, sub_event_ids,
		        credits_used_cents, final_price_cents, payment_id, payment_email,
		        status, registered_at
		   FROM registrations
		  WHERE event_id = $1 AND user_id = $2 AND status = $3`,
		eventID, userID, domain.RegistrationCompleted,
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

// HasPendingRequest reports whether the user already has a pending
// refund request for the event.
func (r *RefundRepo) HasPendingRequest(ctx context.Context, eventID, userID int64) (bool, error) {
	const op = "postgres.RefundRepo.HasPendingRequest"

	db := r.store.handle(ctx)

	var exists bool
	err := db.QueryRow(ctx,
		`SELECT EXISTS (
		    SELECT 1
		      FROM refund_requests
		     WHERE event_id = $1 AND user_id = $2 AND status = $3
		 )`,
		eventID, userID, domain.RefundPending,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return exists, nil
}

// LatestPaymentByUser is the fallback payment lookup: the user's most
// recent registration payment across all events.
func (r *RefundRepo) LatestPaymentByUser(ctx context.Context, userID int64) (string, error) {
	const op = "postgres.RefundRepo.LatestPaymentByUser"

	db := r.store.handle(ctx)

	var paymentID string
	err := db.QueryRow(ctx,
		`SELECT payment_id
		   FROM registrations
		  WHERE user_id = $1 AND payment_id <> ''
		  ORDER BY registered_at DESC
		  LIMIT 1`,
		userID,
	).Scan(&paymentID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return paymentID, nil
}

type CancelAndRequestParams struct {
	EventID     int64
	UserID      int64
	Email       string
	PaymentID   *string
	AmountCents int64
	Currency    string
	Reason      string
}

// CancelAndRequest cancels the user's completed registration, releases
// its seat, and files a pending refund request, all in one transaction.
// The partial unique index on pending requests makes a duplicate request
// surface as ErrConflict.
func (r *RefundRepo) CancelAndRequest(ctx context.Context, p CancelAndRequestParams) (*domain.RefundRequest, error) {
	const op = "postgres.RefundRepo.CancelAndRequest"

	var req *domain.RefundRequest

	err := r.store.WithTx(ctx, func(ctx context.Context) error {
		db := r.store.handle(ctx)

		var regID int64
		var tierID *int64
		err := db.QueryRow(ctx,
			`UPDATE registrations
			    SET status = $3
			  WHERE event_id = $1 AND user_id = $2 AND status = $4
			 RETURNING id, tier_id`,
			p.EventID, p.UserID, domain.RegistrationCancelled, domain.RegistrationCompleted,
		).Scan(&regID, &tierID)
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		if err != nil {
			return translateDBErr(err)
		}

		if err := releaseRegistered(ctx, db, p.EventID, tierID); err != nil {
			return err
		}

		var reqID int64
		var requestDate time.Time
		if err := db.QueryRow(ctx,
			`INSERT INTO refund_requests
			        (event_id, user_id, email, payment_id, amount_cents, currency, reason, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING id, request_date`,
			p.EventID, p.UserID, p.Email, p.PaymentID,
			p.AmountCents, p.Currency, p.Reason, domain.RefundPending,
		).Scan(&reqID, &requestDate); err != nil {
			return translateDBErr(err)
		}

		req = &domain.RefundRequest{
			ID:          reqID,
			EventID:     p.EventID,
			UserID:      p.UserID,
			Email:       p.Email,
			AmountCents: p.AmountCents,
			Currency:    p.Currency,
			Reason:      p.Reason,
			PaymentID:   p.PaymentID,
			Status:      domain.RefundPending,
			RequestDate: requestDate,
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return req, nil
}

func (r *RefundRepo) Get(ctx context.Context, id int64) (*domain.RefundRequest, error) {
	const op = "postgres.RefundRepo.Get"

	db := r.store.handle(ctx)

	req, err := scanRefundRequest(db.QueryRow(ctx,
		`SELECT id, event_id, user_id, email, amount_cents, currency, reason,
		        payment_id, status, request_date, processed_date, admin_notes, processed_by
		   FROM refund_requests
		  WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return req, nil
}

// List returns refund requests, optionally filtered by status, newest
// first.
func (r *RefundRepo) List(ctx context.Context, status *domain.RefundStatus) ([]domain.RefundRequest, error) {
	const op = "postgres.RefundRepo.List"

	db := r.store.handle(ctx)

	rows, err := db.Query(ctx,
		`SELECT id, event_id, user_id, email, amount_cents, currency, reason,
		        payment_id, status, request_date, processed_date, admin_notes, processed_by
		   FROM refund_requests
		  WHERE $1::text IS NULL OR status = $1
		  ORDER BY request_date DESC`,
		status,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}
	defer rows.Close()

	var reqs []domain.RefundRequest
	for rows.Next() {
		req, err := scanRefundRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		reqs = append(reqs, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return reqs, nil
}

type MarkProcessedParams struct {
	ID          int64
	Decision    domain.RefundStatus
	AdminNotes  *string
	ProcessedBy *string
	ProcessedAt time.Time
}

// MarkProcessed flips a pending request to its decision. The WHERE on
// pending makes the transition happen at most once.
func (r *RefundRepo) MarkProcessed(ctx context.Context, p MarkProcessedParams) error {
	const op = "postgres.RefundRepo.MarkProcessed"

	err := r.store.WithTx(ctx, func(ctx context.Context) error {
		db := r.store.handle(ctx)

		tag, err := db.Exec(ctx,
			`UPDATE refund_requests
			    SET status = $2, processed_date = $3, admin_notes = $4, processed_by = $5
			  WHERE id = $1 AND status = $6`,
			p.ID, p.Decision, p.ProcessedAt, p.AdminNotes, p.ProcessedBy, domain.RefundPending,
		)
		if err != nil {
			return translateDBErr(err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := db.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM refund_requests WHERE id = $1)`, p.ID,
			).Scan(&exists); err != nil {
				return translateDBErr(err)
			}
			if !exists {
				return repository.ErrNotFound
			}
			return repository.ErrAlreadyTerminal
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// PaymentKnown reports whether the payment is attached to any
// registration or refund request.
func (r *RefundRepo) PaymentKnown(ctx context.Context, paymentID string) (bool, error) {
	const op = "postgres.RefundRepo.PaymentKnown"

	db := r.store.handle(ctx)

	var known bool
	err := db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM registrations WHERE payment_id = $1)
		     OR EXISTS (SELECT 1 FROM refund_requests WHERE payment_id = $1)`,
		paymentID,
	).Scan(&known)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return known, nil
}

// UpsertUnregistered records a refund issued for a payment with no
// matching registration. Re-running reconciliation updates in place.
func (r *RefundRepo) UpsertUnregistered(ctx context.Context, rec domain.UnregisteredRefund) error {
	const op = "postgres.RefundRepo.UpsertUnregistered"

	db := r.store.handle(ctx)

	_, err := db.Exec(ctx,
		`INSERT INTO unregistered_refunds
		        (payment_id, refund_id, amount_cents, currency, email, reason, processed_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (payment_id) DO UPDATE
		    SET refund_id    = EXCLUDED.refund_id,
		        amount_cents = EXCLUDED.amount_cents,
		        currency     = EXCLUDED.currency,
		        email        = EXCLUDED.email,
		        reason       = EXCLUDED.reason,
		        processed_by = EXCLUDED.processed_by`,
		rec.PaymentID, rec.RefundID, rec.AmountCents, rec.Currency,
		rec.Email, rec.Reason, rec.ProcessedBy, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return nil
}

// ListUnregistered returns recorded out-of-band refunds, newest first.
func (r *RefundRepo) ListUnregistered(ctx context.Context) ([]domain.UnregisteredRefund, error) {
	const op = "postgres.RefundRepo.ListUnregistered"

	db := r.store.handle(ctx)

	rows, err := db.Query(ctx,
		`SELECT payment_id, refund_id, amount_cents, currency, email, reason, processed_by, created_at
		   FROM unregistered_refunds
		  ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}
	defer rows.Close()

	var recs []domain.UnregisteredRefund
	for rows.Next() {
		var rec domain.UnregisteredRefund
		if err := rows.Scan(
			&rec.PaymentID, &rec.RefundID, &rec.AmountCents, &rec.Currency,
			&rec.Email, &rec.Reason, &rec.ProcessedBy, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return recs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRefundRequest(row rowScanner) (*domain.RefundRequest, error) {
	var req domain.RefundRequest
	err := row.Scan(
		&req.ID, &req.EventID, &req.UserID, &req.Email, &req.AmountCents,
		&req.Currency, &req.Reason, &req.PaymentID, &req.Status,
		&req.RequestDate, &req.ProcessedDate, &req.AdminNotes, &req.ProcessedBy,
	)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// releaseRegistered gives one confirmed seat back after a cancellation.
func releaseRegistered(ctx context.Context, db DB, eventID int64, tierID *int64) error {
	var err error
	if tierID != nil {
		_, err = db.Exec(ctx,
			`UPDATE ticket_tiers
			    SET registered_count = GREATEST(registered_count - 1, 0)
			  WHERE id = $1`,
			*tierID,
		)
	} else {
		_, err = db.Exec(ctx,
			`UPDATE events
			    SET registered_count = GREATEST(registered_count - 1, 0)
			  WHERE id = $1`,
			eventID,
		)
	}
	if err != nil {
		return translateDBErr(err)
	}
	return nil
}
