package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrLockHeld            = errors.New("lock already held")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidDecision     = errors.New("invalid trade decision")
	ErrMalformedGeneration = errors.New("malformed generation output")
	ErrOracleUnavailable   = errors.New("oracle unavailable")
	ErrLedgerDisabled      = errors.New("ledger disabled")
)
