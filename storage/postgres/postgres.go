// Package postgres provides a PostgreSQL implementation of the
// creditledger.Storage interface. All balance arithmetic runs as single
// atomic UPDATE statements against the account row; the conditional debit
// folds the sufficiency check into the same statement, so the stored balance
// can never go negative through this adapter.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hireflow/creditledger/pkg/creditledger"
)

// Storage implements creditledger.Storage using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Table is the account table name (default: "credit_accounts")
	Table string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Table:           "credit_accounts",
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if config.Table == "" {
		config.Table = "credit_accounts"
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{pool: pool, config: config}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the account table if it does not exist
func (s *Storage) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			account_id         TEXT PRIMARY KEY,
			balance            BIGINT NOT NULL,
			daily_used         BIGINT NOT NULL DEFAULT 0,
			monthly_used       BIGINT NOT NULL DEFAULT 0,
			last_daily_reset   TIMESTAMPTZ NOT NULL,
			last_monthly_reset TIMESTAMPTZ NOT NULL,
			updated_at         TIMESTAMPTZ NOT NULL
		)`, s.config.Table))
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// GetAccount implements creditledger.Storage
func (s *Storage) GetAccount(ctx context.Context, accountID string) (*creditledger.Account, error) {
	acct, err := s.scanAccount(s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT account_id, balance, daily_used, monthly_used, last_daily_reset, last_monthly_reset, updated_at
			FROM %s WHERE account_id = $1`, s.config.Table),
		accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, creditledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acct, nil
}

// GetOrCreate implements creditledger.Storage
func (s *Storage) GetOrCreate(ctx context.Context, acct *creditledger.Account) (*creditledger.Account, bool, error) {
	if acct == nil || acct.AccountID == "" {
		return nil, false, fmt.Errorf("invalid account")
	}

	// UPSERT avoids the insert race: concurrent callers for the same new
	// account all converge on the single inserted row.
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s
				(account_id, balance, daily_used, monthly_used, last_daily_reset, last_monthly_reset, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (account_id) DO NOTHING`, s.config.Table),
		acct.AccountID, acct.Balance, acct.DailyUsed, acct.MonthlyUsed,
		acct.LastDailyReset, acct.LastMonthlyReset, time.Now().UTC(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure account exists: %w", err)
	}
	created := tag.RowsAffected() == 1

	stored, err := s.GetAccount(ctx, acct.AccountID)
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// ResetWindows implements creditledger.Storage
func (s *Storage) ResetWindows(ctx context.Context, accountID string, daily, monthly bool, now time.Time) error {
	if !daily && !monthly {
		return nil
	}

	sets := make([]string, 0, 4)
	if daily {
		sets = append(sets, "daily_used = 0", "last_daily_reset = $2")
	}
	if monthly {
		sets = append(sets, "monthly_used = 0", "last_monthly_reset = $2")
	}
	sets = append(sets, "updated_at = $2")

	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET %s WHERE account_id = $1`, s.config.Table, strings.Join(sets, ", ")),
		accountID, now)
	if err != nil {
		return fmt.Errorf("failed to reset windows: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return creditledger.ErrAccountNotFound
	}
	return nil
}

// Debit implements creditledger.Storage with an unconditional atomic decrement
func (s *Storage) Debit(ctx context.Context, accountID string, cost int) (int, error) {
	var balance int64
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`UPDATE %s
			SET balance = balance - $2,
				daily_used = daily_used + $2,
				monthly_used = monthly_used + $2,
				updated_at = NOW()
			WHERE account_id = $1
			RETURNING balance`, s.config.Table),
		accountID, cost).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, creditledger.ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to debit account: %w", err)
	}
	return int(balance), nil
}

// DebitIfSufficient implements creditledger.ConditionalDebiter: the
// sufficiency check and the debit are one statement, so two concurrent
// spends can never drive the stored balance negative.
func (s *Storage) DebitIfSufficient(ctx context.Context, accountID string, cost int) (bool, int, error) {
	var balance int64
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`UPDATE %s
			SET balance = balance - $2,
				daily_used = daily_used + $2,
				monthly_used = monthly_used + $2,
				updated_at = NOW()
			WHERE account_id = $1 AND balance >= $2
			RETURNING balance`, s.config.Table),
		accountID, cost).Scan(&balance)
	if err == nil {
		return true, int(balance), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, 0, fmt.Errorf("failed to debit account: %w", err)
	}

	// No row matched: either the balance was short or the row is missing.
	acct, gerr := s.GetAccount(ctx, accountID)
	if gerr != nil {
		return false, 0, gerr
	}
	return false, acct.Balance, nil
}

// Credit implements creditledger.Storage
func (s *Storage) Credit(ctx context.Context, accountID string, cost int) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s
			SET balance = balance + $2,
				daily_used = GREATEST(0, daily_used - $2),
				monthly_used = GREATEST(0, monthly_used - $2),
				updated_at = NOW()
			WHERE account_id = $1`, s.config.Table),
		accountID, cost)
	if err != nil {
		return fmt.Errorf("failed to credit account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return creditledger.ErrAccountNotFound
	}
	return nil
}

// AddBalance implements creditledger.Storage
func (s *Storage) AddBalance(ctx context.Context, accountID string, amount int) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET balance = balance + $2, updated_at = NOW() WHERE account_id = $1`, s.config.Table),
		accountID, amount)
	if err != nil {
		return fmt.Errorf("failed to add balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return creditledger.ErrAccountNotFound
	}
	return nil
}

// SetBalance implements creditledger.Storage
func (s *Storage) SetBalance(ctx context.Context, accountID string, amount int) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET balance = $2, updated_at = NOW() WHERE account_id = $1`, s.config.Table),
		accountID, amount)
	if err != nil {
		return fmt.Errorf("failed to set balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return creditledger.ErrAccountNotFound
	}
	return nil
}

// ListByBalance implements creditledger.Storage
func (s *Storage) ListByBalance(ctx context.Context, limit int) ([]*creditledger.Account, error) {
	query := fmt.Sprintf(
		`SELECT account_id, balance, daily_used, monthly_used, last_daily_reset, last_monthly_reset, updated_at
			FROM %s ORDER BY balance DESC, account_id ASC`, s.config.Table)
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accts []*creditledger.Account
	for rows.Next() {
		acct, err := s.scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accts = append(accts, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accts, nil
}

func (s *Storage) scanAccount(row pgx.Row) (*creditledger.Account, error) {
	var acct creditledger.Account
	err := row.Scan(
		&acct.AccountID,
		&acct.Balance,
		&acct.DailyUsed,
		&acct.MonthlyUsed,
		&acct.LastDailyReset,
		&acct.LastMonthlyReset,
		&acct.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &acct, nil
}
