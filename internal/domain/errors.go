package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrLockHeld         = errors.New("lock already held")
	ErrCircuitOpen      = errors.New("circuit breaker open")
	ErrOrderNotFillable = errors.New("order not fillable")
	ErrNotOrderOwner    = errors.New("caller does not own order")
	ErrOrderTerminal    = errors.New("order already filled or cancelled")
	ErrVersionConflict  = errors.New("version conflict")
	ErrInvalidOrder     = errors.New("invalid order parameters")
	ErrDecode           = errors.New("malformed order payload")
	ErrQueueEmpty       = errors.New("queue empty")
)
