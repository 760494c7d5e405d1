package stripe

import "errors"

var (
	// ErrProviderNotConfigured is returned when required configuration is missing
	ErrProviderNotConfigured = errors.New("stripe provider not configured")

	// ErrInvalidCreditAmount is returned when a checkout session carries a
	// missing or non-positive credit amount
	ErrInvalidCreditAmount = errors.New("invalid credit amount in checkout session")

	// ErrMissingAccountID is returned when a checkout session identifies no account
	ErrMissingAccountID = errors.New("missing account id in checkout session")
)
