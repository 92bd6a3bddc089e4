package registration

import "errors"

var (
	ErrEventNotFound        = errors.New("event not found")
	ErrTierNotFound         = errors.New("ticket tier not found")
	ErrReservationNotFound  = errors.New("reservation not found")
	ErrReservationExpired   = errors.New("reservation has expired")
	ErrAlreadyFinalized     = errors.New("reservation is already finalized")
	ErrAlreadyRegistered    = errors.New("user is already registered for this event")
	ErrSoldOut              = errors.New("no capacity left")
	ErrInsufficientCredit   = errors.New("insufficient credit balance")
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrInvalidUser          = errors.New("user id must be positive")
)
