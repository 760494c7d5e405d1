package creditledger

import (
	"context"
	"time"
)

// Storage defines the interface for ledger persistence
// All methods use concrete types from this package to avoid import cycles
type Storage interface {
	// GetAccount retrieves an account row
	// Returns ErrAccountNotFound if no row exists
	GetAccount(ctx context.Context, accountID string) (*Account, error)

	// GetOrCreate returns the stored account row, creating it from acct if
	// absent. The boolean reports whether a new row was written; when the
	// row already exists the stored row is returned untouched.
	GetOrCreate(ctx context.Context, acct *Account) (*Account, bool, error)

	// ResetWindows zeroes the selected usage counters and stamps their
	// reset times with now, in a single durable write
	ResetWindows(ctx context.Context, accountID string, daily, monthly bool, now time.Time) error

	// Debit atomically applies balance -= cost, dailyUsed += cost,
	// monthlyUsed += cost against the current row and returns the
	// post-update balance. The balance may come back negative under
	// concurrent debits; the caller must compensate.
	Debit(ctx context.Context, accountID string, cost int) (int, error)

	// Credit reverses a Debit: balance += cost, both usage counters -= cost
	// (counters clamp at zero)
	Credit(ctx context.Context, accountID string, cost int) error

	// AddBalance atomically increments the balance by amount
	AddBalance(ctx context.Context, accountID string, amount int) error

	// SetBalance overwrites the balance, leaving usage counters and reset
	// stamps untouched
	SetBalance(ctx context.Context, accountID string, amount int) error

	// ListByBalance returns up to limit accounts ordered by descending
	// balance. limit <= 0 returns all accounts.
	ListByBalance(ctx context.Context, limit int) ([]*Account, error)
}

// ConditionalDebiter is an optional Storage capability: the sufficiency check
// and the debit execute as one atomic operation, so the stored balance can
// never be observed negative and no compensating update is needed. Storages
// that can express this (a conditional UPDATE, a Lua script, a transaction)
// should implement it; the ledger prefers it over Debit followed by Credit.
type ConditionalDebiter interface {
	// DebitIfSufficient applies the debit only when balance >= cost.
	// Returns ok=false with the current balance when the balance was short.
	DebitIfSufficient(ctx context.Context, accountID string, cost int) (ok bool, balance int, err error)
}
