package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInsufficientFunds = errors.New("insufficient credits")
	ErrAlreadyReserved   = errors.New("credits already reserved for job")
	ErrAlreadyRefunded   = errors.New("credits already refunded for job")
	ErrAlreadyConfirmed  = errors.New("credits already confirmed for job")
	ErrNoReservation     = errors.New("no credit reservation for job")
	ErrInvalidTransition = errors.New("invalid job status transition")
)
