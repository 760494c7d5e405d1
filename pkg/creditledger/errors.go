package creditledger

import "errors"

var (
	// ErrUnknownOperation is returned for an operation kind with no cost entry
	ErrUnknownOperation = errors.New("unknown operation kind")

	// ErrInvalidAmount is returned for out-of-range grant or set amounts
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrAccountNotFound is returned when a storage operation targets a missing row
	ErrAccountNotFound = errors.New("account not found")

	// ErrStorageUnavailable is returned when storage is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrCompensationFailed is returned when an over-draw rollback could not
	// be applied, leaving the account negative until corrected out of band
	ErrCompensationFailed = errors.New("compensating update failed")
)
