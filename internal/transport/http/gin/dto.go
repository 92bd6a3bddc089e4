package httpgin

import "time"

type CreateReservationRequest struct {
	UserID            int64   `json:"user_id" binding:"required,gt=0"`
	TierID            *int64  `json:"tier_id"`
	SubEventIDs       []int64 `json:"sub_event_ids" binding:"omitempty,dive,required"`
	CreditsToUseCents int64   `json:"credits_to_use_cents" binding:"omitempty,gte=0"`
	PaymentEmail      string  `json:"payment_email" binding:"omitempty,email"`
	TTLSec            int     `json:"ttl_sec"`
}

type CreateReservationResponse struct {
	ReservationID string    `json:"reservation_id"`
	EventID       int64     `json:"event_id"`
	FinalPrice    int64     `json:"final_price_cents"`
	CreditsUsed   int64     `json:"credits_used_cents"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type ConvertReservationRequest struct {
	ReservationID string `json:"reservation_id" binding:"required,uuid"`
	PaymentID     string `json:"payment_id" binding:"required"`
}

type DirectRegistrationRequest struct {
	UserID            int64   `json:"user_id" binding:"required,gt=0"`
	TierID            *int64  `json:"tier_id"`
	SubEventIDs       []int64 `json:"sub_event_ids" binding:"omitempty,dive,required"`
	CreditsToUseCents int64   `json:"credits_to_use_cents" binding:"omitempty,gte=0"`
	PaymentID         string  `json:"payment_id"`
	PaymentEmail      string  `json:"payment_email" binding:"omitempty,email"`
}

type CancellationRequest struct {
	UserID int64  `json:"user_id" binding:"required,gt=0"`
	Email  string `json:"email" binding:"required,email"`
	Reason string `json:"reason"`
}

type ProcessRefundRequest struct {
	Approve bool    `json:"approve"`
	AdminID string  `json:"admin_id" binding:"required"`
	Notes   *string `json:"notes"`
}

type ReconcileRefundRequest struct {
	PaymentID   string `json:"payment_id" binding:"required"`
	Reason      string `json:"reason"`
	ProcessedBy string `json:"processed_by" binding:"required"`
}

type CreateEventRequest struct {
	Name           string `json:"name" binding:"required"`
	Date           string `json:"date" binding:"required"`
	Capacity       int32  `json:"capacity" binding:"required,gt=0"`
	RefundDeadline string `json:"refund_deadline"`
	TieredPricing  bool   `json:"tiered_pricing"`
	FeeCents       int64  `json:"fee_cents" binding:"omitempty,gte=0"`
	Currency       string `json:"currency"`
}

type CreateEventResponse struct {
	EventID int64 `json:"event_id"`
}

type CreateTierRequest struct {
	Name         string  `json:"name" binding:"required"`
	PriceCents   int64   `json:"price_cents" binding:"omitempty,gte=0"`
	Capacity     int32   `json:"capacity" binding:"required,gt=0"`
	DisplayOrder int32   `json:"display_order"`
	SubEventIDs  []int64 `json:"sub_event_ids" binding:"omitempty,dive,required"`
}

type CreateTierResponse struct {
	TierID int64 `json:"tier_id"`
}

type CreateSubEventRequest struct {
	Name       string `json:"name" binding:"required"`
	PriceCents int64  `json:"price_cents" binding:"omitempty,gte=0"`
}

type CreateSubEventResponse struct {
	SubEventID int64 `json:"sub_event_id"`
}

type GrantCreditRequest struct {
	AmountCents int64  `json:"amount_cents" binding:"required,gt=0"`
	Description string `json:"description" binding:"required"`
	EventID     *int64 `json:"event_id"`
}

type CreditBalanceResponse struct {
	UserID       int64 `json:"user_id"`
	BalanceCents int64 `json:"balance_cents"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func parseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
