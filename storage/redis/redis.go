// Package redis provides a Redis implementation of the creditledger.Storage
// interface. All account arithmetic runs inside Lua scripts so each mutation
// is atomic, and a sorted set keeps accounts indexed by balance for ranking.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hireflow/creditledger/pkg/creditledger"
)

// Storage implements creditledger.Storage using Redis
type Storage struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "creditledger:")
	KeyPrefix string
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "creditledger:",
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "creditledger:"
	}
	return &Storage{client: client, config: config}, nil
}

const notFoundReply = "NOTFOUND"

var (
	getOrCreateScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return {0,
		redis.call("HGET", KEYS[1], "balance"),
		redis.call("HGET", KEYS[1], "daily_used"),
		redis.call("HGET", KEYS[1], "monthly_used"),
		redis.call("HGET", KEYS[1], "last_daily_reset"),
		redis.call("HGET", KEYS[1], "last_monthly_reset")}
end
redis.call("HSET", KEYS[1],
	"balance", ARGV[2],
	"daily_used", 0,
	"monthly_used", 0,
	"last_daily_reset", ARGV[3],
	"last_monthly_reset", ARGV[3],
	"updated_at", ARGV[3])
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])
return {1, ARGV[2], "0", "0", ARGV[3], ARGV[3]}
`)

	debitScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return redis.error_reply("NOTFOUND")
end
local balance = redis.call("HINCRBY", KEYS[1], "balance", -ARGV[1])
redis.call("HINCRBY", KEYS[1], "daily_used", ARGV[1])
redis.call("HINCRBY", KEYS[1], "monthly_used", ARGV[1])
redis.call("HSET", KEYS[1], "updated_at", ARGV[3])
redis.call("ZADD", KEYS[2], balance, ARGV[2])
return balance
`)

	debitIfSufficientScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return redis.error_reply("NOTFOUND")
end
local balance = tonumber(redis.call("HGET", KEYS[1], "balance"))
if balance < tonumber(ARGV[1]) then
	return {0, balance}
end
balance = redis.call("HINCRBY", KEYS[1], "balance", -ARGV[1])
redis.call("HINCRBY", KEYS[1], "daily_used", ARGV[1])
redis.call("HINCRBY", KEYS[1], "monthly_used", ARGV[1])
redis.call("HSET", KEYS[1], "updated_at", ARGV[3])
redis.call("ZADD", KEYS[2], balance, ARGV[2])
return {1, balance}
`)

	creditScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return redis.error_reply("NOTFOUND")
end
local balance = redis.call("HINCRBY", KEYS[1], "balance", ARGV[1])
if redis.call("HINCRBY", KEYS[1], "daily_used", -ARGV[1]) < 0 then
	redis.call("HSET", KEYS[1], "daily_used", 0)
end
if redis.call("HINCRBY", KEYS[1], "monthly_used", -ARGV[1]) < 0 then
	redis.call("HSET", KEYS[1], "monthly_used", 0)
end
redis.call("HSET", KEYS[1], "updated_at", ARGV[3])
redis.call("ZADD", KEYS[2], balance, ARGV[2])
return balance
`)

	resetWindowsScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return redis.error_reply("NOTFOUND")
end
if ARGV[1] == "1" then
	redis.call("HSET", KEYS[1], "daily_used", 0, "last_daily_reset", ARGV[3])
end
if ARGV[2] == "1" then
	redis.call("HSET", KEYS[1], "monthly_used", 0, "last_monthly_reset", ARGV[3])
end
redis.call("HSET", KEYS[1], "updated_at", ARGV[3])
return 1
`)

	addBalanceScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return redis.error_reply("NOTFOUND")
end
local balance = redis.call("HINCRBY", KEYS[1], "balance", ARGV[1])
redis.call("HSET", KEYS[1], "updated_at", ARGV[3])
redis.call("ZADD", KEYS[2], balance, ARGV[2])
return balance
`)

	setBalanceScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return redis.error_reply("NOTFOUND")
end
redis.call("HSET", KEYS[1], "balance", ARGV[1], "updated_at", ARGV[3])
redis.call("ZADD", KEYS[2], ARGV[1], ARGV[2])
return 1
`)
)

func (s *Storage) accountKey(accountID string) string {
	return s.config.KeyPrefix + "acct:" + accountID
}

func (s *Storage) rankKey() string {
	return s.config.KeyPrefix + "rank"
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), notFoundReply)
}

// GetAccount implements creditledger.Storage
func (s *Storage) GetAccount(ctx context.Context, accountID string) (*creditledger.Account, error) {
	fields, err := s.client.HGetAll(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if len(fields) == 0 {
		return nil, creditledger.ErrAccountNotFound
	}
	return accountFromFields(accountID, fields)
}

// GetOrCreate implements creditledger.Storage
func (s *Storage) GetOrCreate(ctx context.Context, acct *creditledger.Account) (*creditledger.Account, bool, error) {
	if acct == nil || acct.AccountID == "" {
		return nil, false, fmt.Errorf("invalid account")
	}

	res, err := getOrCreateScript.Run(ctx, s.client,
		[]string{s.accountKey(acct.AccountID), s.rankKey()},
		acct.AccountID, acct.Balance, acct.LastDailyReset.Unix(),
	).Slice()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get or create account: %w", err)
	}
	if len(res) != 6 {
		return nil, false, fmt.Errorf("unexpected script reply length %d", len(res))
	}

	created := toInt64(res[0]) == 1
	stored := &creditledger.Account{
		AccountID:        acct.AccountID,
		Balance:          int(toInt64(res[1])),
		DailyUsed:        int(toInt64(res[2])),
		MonthlyUsed:      int(toInt64(res[3])),
		LastDailyReset:   time.Unix(toInt64(res[4]), 0),
		LastMonthlyReset: time.Unix(toInt64(res[5]), 0),
	}
	return stored, created, nil
}

// ResetWindows implements creditledger.Storage
func (s *Storage) ResetWindows(ctx context.Context, accountID string, daily, monthly bool, now time.Time) error {
	if !daily && !monthly {
		return nil
	}
	err := resetWindowsScript.Run(ctx, s.client,
		[]string{s.accountKey(accountID)},
		boolArg(daily), boolArg(monthly), now.Unix(),
	).Err()
	if isNotFound(err) {
		return creditledger.ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to reset windows: %w", err)
	}
	return nil
}

// Debit implements creditledger.Storage
func (s *Storage) Debit(ctx context.Context, accountID string, cost int) (int, error) {
	balance, err := debitScript.Run(ctx, s.client,
		[]string{s.accountKey(accountID), s.rankKey()},
		cost, accountID, time.Now().Unix(),
	).Int64()
	if isNotFound(err) {
		return 0, creditledger.ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to debit account: %w", err)
	}
	return int(balance), nil
}

// DebitIfSufficient implements creditledger.ConditionalDebiter
func (s *Storage) DebitIfSufficient(ctx context.Context, accountID string, cost int) (bool, int, error) {
	res, err := debitIfSufficientScript.Run(ctx, s.client,
		[]string{s.accountKey(accountID), s.rankKey()},
		cost, accountID, time.Now().Unix(),
	).Slice()
	if isNotFound(err) {
		return false, 0, creditledger.ErrAccountNotFound
	}
	if err != nil {
		return false, 0, fmt.Errorf("failed to debit account: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("unexpected script reply length %d", len(res))
	}
	return toInt64(res[0]) == 1, int(toInt64(res[1])), nil
}

// Credit implements creditledger.Storage
func (s *Storage) Credit(ctx context.Context, accountID string, cost int) error {
	err := creditScript.Run(ctx, s.client,
		[]string{s.accountKey(accountID), s.rankKey()},
		cost, accountID, time.Now().Unix(),
	).Err()
	if isNotFound(err) {
		return creditledger.ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to credit account: %w", err)
	}
	return nil
}

// AddBalance implements creditledger.Storage
func (s *Storage) AddBalance(ctx context.Context, accountID string, amount int) error {
	err := addBalanceScript.Run(ctx, s.client,
		[]string{s.accountKey(accountID), s.rankKey()},
		amount, accountID, time.Now().Unix(),
	).Err()
	if isNotFound(err) {
		return creditledger.ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to add balance: %w", err)
	}
	return nil
}

// SetBalance implements creditledger.Storage
func (s *Storage) SetBalance(ctx context.Context, accountID string, amount int) error {
	err := setBalanceScript.Run(ctx, s.client,
		[]string{s.accountKey(accountID), s.rankKey()},
		amount, accountID, time.Now().Unix(),
	).Err()
	if isNotFound(err) {
		return creditledger.ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to set balance: %w", err)
	}
	return nil
}

// ListByBalance implements creditledger.Storage
func (s *Storage) ListByBalance(ctx context.Context, limit int) ([]*creditledger.Account, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	ids, err := s.client.ZRevRange(ctx, s.rankKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.accountKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	accts := make([]*creditledger.Account, 0, len(ids))
	for i, id := range ids {
		fields, err := cmds[i].Result()
		if err != nil || len(fields) == 0 {
			// Rank entry without a hash: the account key expired or was
			// deleted out of band. Skip it.
			continue
		}
		acct, perr := accountFromFields(id, fields)
		if perr != nil {
			return nil, perr
		}
		accts = append(accts, acct)
	}
	return accts, nil
}

func accountFromFields(accountID string, fields map[string]string) (*creditledger.Account, error) {
	acct := &creditledger.Account{AccountID: accountID}
	var err error

	if acct.Balance, err = strconv.Atoi(fields["balance"]); err != nil {
		return nil, fmt.Errorf("invalid balance for %q: %w", accountID, err)
	}
	if acct.DailyUsed, err = strconv.Atoi(fields["daily_used"]); err != nil {
		return nil, fmt.Errorf("invalid daily_used for %q: %w", accountID, err)
	}
	if acct.MonthlyUsed, err = strconv.Atoi(fields["monthly_used"]); err != nil {
		return nil, fmt.Errorf("invalid monthly_used for %q: %w", accountID, err)
	}

	ldr, err := strconv.ParseInt(fields["last_daily_reset"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid last_daily_reset for %q: %w", accountID, err)
	}
	acct.LastDailyReset = time.Unix(ldr, 0)

	lmr, err := strconv.ParseInt(fields["last_monthly_reset"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid last_monthly_reset for %q: %w", accountID, err)
	}
	acct.LastMonthlyReset = time.Unix(lmr, 0)

	if ua, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		acct.UpdatedAt = time.Unix(ua, 0)
	}
	return acct, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
