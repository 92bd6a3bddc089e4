package repository

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrCapacityExceeded   = errors.New("no capacity left")
	ErrAlreadyTerminal    = errors.New("already in a terminal state")
	ErrReservationExpired = errors.New("reservation expired")
	ErrOwnerMismatch      = errors.New("owner mismatch")
	ErrInsufficientCredit = errors.New("insufficient credit")
)
