package domain

import (
	"time"

	"github.com/google/uuid"
)

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationConverted ReservationStatus = "CONVERTED"
	ReservationExpired   ReservationStatus = "EXPIRED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// Terminal reports whether the reservation can no longer change state.
func (s ReservationStatus) Terminal() bool {
	return s == ReservationConverted || s == ReservationExpired || s == ReservationCancelled
}

type RegistrationStatus string

const (
	RegistrationCompleted RegistrationStatus = "completed"
	RegistrationCancelled RegistrationStatus = "cancelled"
)

type RefundStatus string

const (
	RefundPending  RefundStatus = "pending"
	RefundApproved RefundStatus = "approved"
	RefundRejected RefundStatus = "rejected"
)

type Event struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Date            time.Time  `json:"date"`
	Capacity        int32      `json:"capacity"`
	RegisteredCount int32      `json:"registered_count"`
	HeldCount       int32      `json:"held_count"`
	RefundDeadline  *time.Time `json:"refund_deadline,omitempty"`
	TieredPricing   bool       `json:"tiered_pricing"`
	FeeCents        int64      `json:"fee_cents"`
	Currency        string     `json:"currency"`
	CreatedAt       time.Time  `json:"created_at"`
}

// RefundCutoff is the last instant at which a cancellation is still
// refundable: the explicit deadline when set, the event date otherwise.
func (e *Event) RefundCutoff() time.Time {
	if e.RefundDeadline != nil {
		return *e.RefundDeadline
	}
	return e.Date
}

type TicketTier struct {
	ID              int64   `json:"id"`
	EventID         int64   `json:"event_id"`
	Name            string  `json:"name"`
	PriceCents      int64   `json:"price_cents"`
	Capacity        int32   `json:"capacity"`
	RegisteredCount int32   `json:"registered_count"`
	HeldCount       int32   `json:"held_count"`
	DisplayOrder    int32   `json:"display_order"`
	SubEventIDs     []int64 `json:"sub_event_ids,omitempty"`
}

// Available is the number of seats that can still be claimed. Confirmed
// registrations and live holds both occupy capacity.
func (t *TicketTier) Available() int32 {
	a := t.Capacity - t.RegisteredCount - t.HeldCount
	if a < 0 {
		return 0
	}
	return a
}

type SubEvent struct {
	ID         int64  `json:"id"`
	EventID    int64  `json:"event_id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
}

// Reservation is a time-limited provisional claim on one seat. It owns that
// claim until it reaches a terminal state.
type Reservation struct {
	ID               uuid.UUID         `json:"id"`
	EventID          int64             `json:"event_id"`
	TierID           *int64            `json:"tier_id,omitempty"`
	UserID           int64             `json:"user_id"`
	SubEventIDs      []int64           `json:"sub_event_ids,omitempty"`
	CreditsUsedCents int64             `json:"credits_used_cents"`
	FinalPriceCents  int64             `json:"final_price_cents"`
	PaymentEmail     string            `json:"payment_email"`
	Status           ReservationStatus `json:"status"`
	CreatedAt        time.Time         `json:"created_at"`
	ExpiresAt        time.Time         `json:"expires_at"`
}

// Registration is the durable seat created once payment is confirmed.
type Registration struct {
	ID               int64              `json:"id"`
	EventID          int64              `json:"event_id"`
	TierID           *int64             `json:"tier_id,omitempty"`
	UserID           int64              `json:"user_id"`
	ReservationID    *uuid.UUID         `json:"reservation_id,omitempty"`
	PaymentID        string             `json:"payment_id"`
	PaymentEmail     string             `json:"payment_email"`
	FinalPriceCents  int64              `json:"final_price_cents"`
	CreditsUsedCents int64              `json:"credits_used_cents"`
	SubEventIDs      []int64            `json:"sub_event_ids,omitempty"`
	Status           RegistrationStatus `json:"status"`
	RegisteredAt     time.Time          `json:"registered_at"`
}

type RefundRequest struct {
	ID            int64        `json:"id"`
	EventID       int64        `json:"event_id"`
	UserID        int64        `json:"user_id"`
	Email         string       `json:"email"`
	AmountCents   int64        `json:"amount_cents"`
	Currency      string       `json:"currency"`
	Reason        string       `json:"reason,omitempty"`
	PaymentID     *string      `json:"payment_id,omitempty"`
	Status        RefundStatus `json:"status"`
	RequestDate   time.Time    `json:"request_date"`
	ProcessedDate *time.Time   `json:"processed_date,omitempty"`
	AdminNotes    *string      `json:"admin_notes,omitempty"`
	ProcessedBy   *string      `json:"processed_by,omitempty"`
}

// UnregisteredRefund records a refund issued against a gateway charge that
// has no registration row (the registration write failed after the charge
// succeeded).
type UnregisteredRefund struct {
	PaymentID   string    `json:"payment_id"`
	RefundID    string    `json:"refund_id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Email       string    `json:"email"`
	Reason      string    `json:"reason,omitempty"`
	ProcessedBy string    `json:"processed_by"`
	CreatedAt   time.Time `json:"created_at"`
}

type CreditTransaction struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	AmountCents int64     `json:"amount_cents"`
	Description string    `json:"description"`
	EventID     *int64    `json:"event_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type TierAvailability struct {
	TierID     int64  `json:"tier_id"`
	Name       string `json:"name"`
	Capacity   int32  `json:"capacity"`
	Registered int32  `json:"registered"`
	Held       int32  `json:"held"`
	Available  int32  `json:"available"`
}

type EventAvailability struct {
	EventID         int64              `json:"event_id"`
	TotalCapacity   int32              `json:"total_capacity"`
	TotalRegistered int32              `json:"total_registered"`
	Available       int32              `json:"available"`
	Tiers           []TierAvailability `json:"tiers,omitempty"`
}
