package creditledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Ledger gates metered operations against per-account credit balances with
// rolling daily and monthly spending windows. It is safe for concurrent use;
// all per-account state lives in the Storage, never in process.
type Ledger struct {
	storage Storage
	config  Config
}

// NewLedger creates a new credit ledger with the given storage and configuration
func NewLedger(storage Storage, config Config) (*Ledger, error) {
	if storage == nil {
		return nil, ErrStorageUnavailable
	}

	// Set defaults
	if config.Costs == nil {
		config.Costs = DefaultCosts()
	}
	if config.DailyLimit == 0 {
		config.DailyLimit = DefaultDailyLimit
	}
	if config.MonthlyLimit == 0 {
		config.MonthlyLimit = DefaultMonthlyLimit
	}
	if config.SignupBonus == 0 {
		config.SignupBonus = DefaultSignupBonus
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}

	return &Ledger{
		storage: storage,
		config:  config,
	}, nil
}

// Cost returns the credit cost of an operation kind.
func (l *Ledger) Cost(op OperationKind) (int, error) {
	cost, ok := l.config.Costs[op]
	if !ok {
		return 0, ErrUnknownOperation
	}
	return cost, nil
}

// Check reports whether accountID may currently spend the cost of op. It is
// advisory: no credits are deducted, and a concurrent spend may consume the
// observed balance before the matching Spend executes. Bringing the account
// current may zero stale usage counters as a side effect.
func (l *Ledger) Check(ctx context.Context, accountID string, op OperationKind) (*Decision, error) {
	cost, err := l.Cost(op)
	if err != nil {
		return nil, err
	}

	acct, err := l.ensure(ctx, accountID)
	if err != nil {
		return nil, err
	}

	d := &Decision{
		Balance:          acct.Balance,
		DailyUsed:        acct.DailyUsed,
		MonthlyUsed:      acct.MonthlyUsed,
		DailyRemaining:   l.config.DailyLimit - acct.DailyUsed,
		MonthlyRemaining: l.config.MonthlyLimit - acct.MonthlyUsed,
	}

	// Evaluate disqualifiers in order: balance, daily window, monthly window.
	switch {
	case acct.Balance < cost:
		d.Reason = ReasonInsufficientBalance
	case acct.DailyUsed+cost > l.config.DailyLimit:
		d.Reason = ReasonDailyLimitReached
	case acct.MonthlyUsed+cost > l.config.MonthlyLimit:
		d.Reason = ReasonMonthlyLimitReached
	default:
		d.Allowed = true
		// Headroom for an allowed decision is quoted net of this operation.
		d.DailyRemaining -= cost
		d.MonthlyRemaining -= cost
	}

	l.config.Metrics.RecordCheck(string(op), d.Allowed, string(d.Reason))
	return d, nil
}

// Spend deducts the cost of op from accountID. Callers are expected to Check
// first and invoke Spend only after the metered work has been performed;
// Spend still re-verifies the balance itself and never commits an over-draw.
// A debit that raced a concurrent spend below zero is rolled back and
// reported as denied with ReasonInsufficientBalance.
func (l *Ledger) Spend(ctx context.Context, accountID string, op OperationKind) (*SpendResult, error) {
	cost, err := l.Cost(op)
	if err != nil {
		return nil, err
	}

	res, err := l.spendOnce(ctx, accountID, op, cost)
	if errors.Is(err, ErrAccountNotFound) {
		// The row vanished between the existence check and the debit (a race
		// with account creation or an external deletion). Recreate and retry
		// once; a second miss is an internal error.
		res, err = l.spendOnce(ctx, accountID, op, cost)
		if errors.Is(err, ErrAccountNotFound) {
			return nil, fmt.Errorf("account %q missing after recreate: %w", accountID, err)
		}
	}
	if err != nil {
		return nil, err
	}

	l.config.Metrics.RecordSpend(string(op), cost, res.Success)
	return res, nil
}

func (l *Ledger) spendOnce(ctx context.Context, accountID string, op OperationKind, cost int) (*SpendResult, error) {
	acct, err := l.ensure(ctx, accountID)
	if err != nil {
		return nil, err
	}

	// Defense in depth: do not rely on the caller having checked first.
	if acct.Balance < cost {
		return &SpendResult{Reason: ReasonInsufficientBalance, Balance: acct.Balance}, nil
	}

	// Preferred path: the storage can make the check and the debit one
	// atomic operation, closing the check-then-deduct gap outright.
	if cd, ok := l.storage.(ConditionalDebiter); ok {
		applied, balance, err := cd.DebitIfSufficient(ctx, accountID, cost)
		if err != nil {
			return nil, err
		}
		if !applied {
			return &SpendResult{Reason: ReasonInsufficientBalance, Balance: balance}, nil
		}
		return &SpendResult{Success: true, Balance: balance}, nil
	}

	// Fallback path: optimistic debit with post-write over-draw detection.
	balance, err := l.storage.Debit(ctx, accountID, cost)
	if err != nil {
		return nil, err
	}
	if balance < 0 {
		// Lost a race with a concurrent spend. Put the credits back and
		// report the spend as denied.
		if cerr := l.storage.Credit(ctx, accountID, cost); cerr != nil {
			l.config.Logger.Error("compensating update failed, balance left negative",
				Field{Key: "account_id", Value: accountID},
				Field{Key: "operation", Value: string(op)},
				Field{Key: "cost", Value: cost},
				Field{Key: "balance", Value: balance},
				Field{Key: "error", Value: cerr.Error()},
			)
			l.config.Metrics.RecordCompensation(string(op), false)
			return nil, fmt.Errorf("account %q over-drawn by %d: %w", accountID, -balance, ErrCompensationFailed)
		}
		l.config.Metrics.RecordCompensation(string(op), true)
		l.config.Logger.Warn("spend lost race, compensated",
			Field{Key: "account_id", Value: accountID},
			Field{Key: "operation", Value: string(op)},
			Field{Key: "cost", Value: cost},
		)
		return &SpendResult{Reason: ReasonInsufficientBalance, Balance: balance + cost}, nil
	}

	return &SpendResult{Success: true, Balance: balance}, nil
}

// Status returns the self-service view of an account, creating it at the
// signup baseline if absent. Stale usage windows are zeroed as a side effect,
// so reading status can itself reset counters.
func (l *Ledger) Status(ctx context.Context, accountID string) (*Status, error) {
	acct, err := l.ensure(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return l.statusFor(acct), nil
}

// Grant adds amount credits to an account's balance, bypassing all quota
// checks and leaving the usage counters untouched. The account is created at
// the signup baseline first if absent. Callers must already be authorized.
func (l *Ledger) Grant(ctx context.Context, accountID string, amount int) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if err := l.ensureExists(ctx, accountID); err != nil {
		return err
	}
	if err := l.storage.AddBalance(ctx, accountID, amount); err != nil {
		return err
	}
	l.config.Logger.Info("credits granted",
		Field{Key: "account_id", Value: accountID},
		Field{Key: "amount", Value: amount},
	)
	return nil
}

// SetBalance overwrites an account's balance, bypassing all quota checks and
// leaving the usage counters and reset stamps untouched. The account is
// created first if absent. Callers must already be authorized.
func (l *Ledger) SetBalance(ctx context.Context, accountID string, amount int) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	if err := l.ensureExists(ctx, accountID); err != nil {
		return err
	}
	if err := l.storage.SetBalance(ctx, accountID, amount); err != nil {
		return err
	}
	l.config.Logger.Info("balance overwritten",
		Field{Key: "account_id", Value: accountID},
		Field{Key: "balance", Value: amount},
	)
	return nil
}

// TopAccounts returns up to limit accounts ordered by descending balance,
// with status fields attached, for ranking and reporting. Stale windows are
// presented as zeroed but not persisted; the next per-account operation
// writes the reset.
func (l *Ledger) TopAccounts(ctx context.Context, limit int) ([]*RankedAccount, error) {
	accts, err := l.storage.ListByBalance(ctx, limit)
	if err != nil {
		return nil, err
	}

	now := l.config.Now()
	ranked := make([]*RankedAccount, 0, len(accts))
	for _, acct := range accts {
		if needsDailyReset(acct.LastDailyReset, now, l.config.Location) {
			acct.DailyUsed = 0
		}
		if needsMonthlyReset(acct.LastMonthlyReset, now, l.config.Location) {
			acct.MonthlyUsed = 0
		}
		ranked = append(ranked, &RankedAccount{
			AccountID: acct.AccountID,
			Status:    *l.statusFor(acct),
		})
	}
	return ranked, nil
}

// ensure loads the account row, creating it at the signup baseline if absent,
// and brings stale usage windows current before any quota decision is made.
func (l *Ledger) ensure(ctx context.Context, accountID string) (*Account, error) {
	now := l.config.Now()
	acct, created, err := l.storage.GetOrCreate(ctx, l.newAccount(accountID, now))
	if err != nil {
		return nil, err
	}
	if created {
		l.config.Logger.Info("account created",
			Field{Key: "account_id", Value: accountID},
			Field{Key: "balance", Value: acct.Balance},
		)
		return acct, nil
	}
	return l.applyResets(ctx, acct, now)
}

// ensureExists guarantees the row exists without touching its usage windows.
// The admin path uses this: overrides never consult or mutate the counters.
func (l *Ledger) ensureExists(ctx context.Context, accountID string) error {
	_, _, err := l.storage.GetOrCreate(ctx, l.newAccount(accountID, l.config.Now()))
	return err
}

func (l *Ledger) newAccount(accountID string, now time.Time) *Account {
	return &Account{
		AccountID:        accountID,
		Balance:          l.config.SignupBonus,
		LastDailyReset:   now,
		LastMonthlyReset: now,
		UpdatedAt:        now,
	}
}

// applyResets zeroes whichever usage windows have rolled over, persisting the
// reset before returning. The two windows reset independently. Applying it
// twice with the same now is a no-op the second time.
func (l *Ledger) applyResets(ctx context.Context, acct *Account, now time.Time) (*Account, error) {
	daily := needsDailyReset(acct.LastDailyReset, now, l.config.Location)
	monthly := needsMonthlyReset(acct.LastMonthlyReset, now, l.config.Location)
	if !daily && !monthly {
		return acct, nil
	}

	if err := l.storage.ResetWindows(ctx, acct.AccountID, daily, monthly, now); err != nil {
		return nil, fmt.Errorf("failed to reset windows: %w", err)
	}
	if daily {
		acct.DailyUsed = 0
		acct.LastDailyReset = now
		l.config.Metrics.RecordWindowReset("daily")
	}
	if monthly {
		acct.MonthlyUsed = 0
		acct.LastMonthlyReset = now
		l.config.Metrics.RecordWindowReset("monthly")
	}
	return acct, nil
}

func (l *Ledger) statusFor(acct *Account) *Status {
	return &Status{
		Balance:          acct.Balance,
		DailyUsed:        acct.DailyUsed,
		MonthlyUsed:      acct.MonthlyUsed,
		DailyRemaining:   l.config.DailyLimit - acct.DailyUsed,
		MonthlyRemaining: l.config.MonthlyLimit - acct.MonthlyUsed,
		DailyLimit:       l.config.DailyLimit,
		MonthlyLimit:     l.config.MonthlyLimit,
	}
}
