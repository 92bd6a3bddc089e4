package reservation

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrEventNotFound       = errors.New("event not found")
	ErrTierNotFound        = errors.New("ticket tier not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrSoldOut             = errors.New("no capacity left")
	ErrForbidden           = errors.New("reservation belongs to another user")
	ErrAlreadyFinalized    = errors.New("reservation is already finalized")
	ErrInsufficientCredit  = errors.New("insufficient credit balance")
	ErrInvalidUser         = errors.New("user id must be positive")
)

type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter)
}
