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

// EventRepo reads and provisions events, ticket tiers and sub-events.
type EventRepo struct {
	store *Store
}

func (r *EventRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.store.WithTx(ctx, fn)
}

func (r *EventRepo) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "postgres.EventRepo.GetEvent"

	db := r.store.handle(ctx)

	var e domain.Event
	err := db.QueryRow(ctx,
		`SELECT id, name, date, capacity, registered_count, held_count,
		        refund_deadline, tiered_pricing, fee_cents, currency, created_at
		   FROM events
		  WHERE id = $1`,
		id,
	).Scan(
		&e.ID, &e.Name, &e.Date, &e.Capacity, &e.RegisteredCount, &e.HeldCount,
		&e.RefundDeadline, &e.TieredPricing, &e.FeeCents, &e.Currency, &e.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return &e, nil
}

// ListTiers returns the event's tiers ordered by display order, with their
// sub-event associations. Events without tiers yield an empty slice.
func (r *EventRepo) ListTiers(ctx context.Context, eventID int64) ([]domain.TicketTier, error) {
	const op = "postgres.EventRepo.ListTiers"

	db := r.store.handle(ctx)

	var exists bool
	if err := db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM events WHERE id = $1)`, eventID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}
	if !exists {
		return nil, fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}

	rows, err := db.Query(ctx,
		`SELECT t.id, t.event_id, t.name, t.price_cents, t.capacity,
		        t.registered_count, t.held_count, t.display_order,
		        COALESCE(array_agg(ts.sub_event_id) FILTER (WHERE ts.sub_event_id IS NOT NULL), '{}')
		   FROM ticket_tiers t
		   LEFT JOIN tier_sub_events ts ON ts.tier_id = t.id
		  WHERE t.event_id = $1
		  GROUP BY t.id
		  ORDER BY t.display_order, t.id`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}
	defer rows.Close()

	var tiers []domain.TicketTier
	for rows.Next() {
		var t domain.TicketTier
		if err := rows.Scan(
			&t.ID, &t.EventID, &t.Name, &t.PriceCents, &t.Capacity,
			&t.RegisteredCount, &t.HeldCount, &t.DisplayOrder, &t.SubEventIDs,
		); err != nil {
			return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
		}
		tiers = append(tiers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return tiers, nil
}

func (r *EventRepo) GetTier(ctx context.Context, tierID, eventID int64) (*domain.TicketTier, error) {
	const op = "postgres.EventRepo.GetTier"

	db := r.store.handle(ctx)

	var t domain.TicketTier
	err := db.QueryRow(ctx,
		`SELECT id, event_id, name, price_cents, capacity,
		        registered_count, held_count, display_order
		   FROM ticket_tiers
		  WHERE id = $1 AND event_id = $2`,
		tierID, eventID,
	).Scan(
		&t.ID, &t.EventID, &t.Name, &t.PriceCents, &t.Capacity,
		&t.RegisteredCount, &t.HeldCount, &t.DisplayOrder,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return &t, nil
}

// Availability reports per-tier and aggregate seat counts for an event.
func (r *EventRepo) Availability(ctx context.Context, eventID int64) (*domain.EventAvailability, error) {
	const op = "postgres.EventRepo.Availability"

	e, err := r.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	av := &domain.EventAvailability{EventID: eventID}

	if !e.TieredPricing {
		av.TotalCapacity = e.Capacity
		av.TotalRegistered = e.RegisteredCount
		av.Available = e.Capacity - e.RegisteredCount - e.HeldCount
		if av.Available < 0 {
			av.Available = 0
		}
		return av, nil
	}

	tiers, err := r.ListTiers(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for i := range tiers {
		t := &tiers[i]
		av.Tiers = append(av.Tiers, domain.TierAvailability{
			TierID:     t.ID,
			Name:       t.Name,
			Capacity:   t.Capacity,
			Registered: t.RegisteredCount,
			Held:       t.HeldCount,
			Available:  t.Available(),
		})
		av.TotalCapacity += t.Capacity
		av.TotalRegistered += t.RegisteredCount
		av.Available += t.Available()
	}

	return av, nil
}

type CreateEventParams struct {
	Name           string
	Date           time.Time
	Capacity       int32
	RefundDeadline *time.Time
	TieredPricing  bool
	FeeCents       int64
	Currency       string
}

func (r *EventRepo) CreateEvent(ctx context.Context, p CreateEventParams) (int64, error) {
	const op = "postgres.EventRepo.CreateEvent"

	db := r.store.handle(ctx)

	var id int64
	err := db.QueryRow(ctx,
		`INSERT INTO events (name, date, capacity, refund_deadline, tiered_pricing, fee_cents, currency)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		p.Name, p.Date, p.Capacity, p.RefundDeadline, p.TieredPricing, p.FeeCents, p.Currency,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return id, nil
}

type CreateTierParams struct {
	EventID      int64
	Name         string
	PriceCents   int64
	Capacity     int32
	DisplayOrder int32
	SubEventIDs  []int64
}

func (r *EventRepo) CreateTier(ctx context.Context, p CreateTierParams) (int64, error) {
	const op = "postgres.EventRepo.CreateTier"

	db := r.store.handle(ctx)

	var id int64
	err := db.QueryRow(ctx,
		`INSERT INTO ticket_tiers (event_id, name, price_cents, capacity, display_order)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		p.EventID, p.Name, p.PriceCents, p.Capacity, p.DisplayOrder,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	if len(p.SubEventIDs) > 0 {
		batch := &pgx.Batch{}
		for _, sid := range p.SubEventIDs {
			batch.Queue(
				`INSERT INTO tier_sub_events (tier_id, sub_event_id) VALUES ($1, $2)`,
				id, sid,
			)
		}
		if err := db.SendBatch(ctx, batch).Close(); err != nil {
			return 0, fmt.Errorf("%s: %w", op, translateDBErr(err))
		}
	}

	return id, nil
}

func (r *EventRepo) CreateSubEvent(ctx context.Context, eventID int64, name string, priceCents int64) (int64, error) {
	const op = "postgres.EventRepo.CreateSubEvent"

	db := r.store.handle(ctx)

	var id int64
	err := db.QueryRow(ctx,
		`INSERT INTO sub_events (event_id, name, price_cents)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		eventID, name, priceCents,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, translateDBErr(err))
	}

	return id, nil
}

// tierExists disambiguates "no capacity" from "no such tier" after a
// conditional claim matched zero rows.
func tierExists(ctx context.Context, db DB, tierID, eventID int64) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM ticket_tiers WHERE id = $1 AND event_id = $2)`,
		tierID, eventID,
	).Scan(&exists)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}
	return exists, nil
}

func eventExists(ctx context.Context, db DB, eventID int64) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM events WHERE id = $1)`,
		eventID,
	).Scan(&exists)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}
	return exists, nil
}
