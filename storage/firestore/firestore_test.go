//go:build integration
// +build integration

package firestore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireflow/creditledger/pkg/creditledger"
)

const testProjectID = "creditledger-test"

// setupFirestoreClient connects to the Firestore emulator
// Requires FIRESTORE_EMULATOR_HOST (defaults to localhost:8089)
func setupFirestoreClient(t *testing.T) *firestore.Client {
	t.Helper()

	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		os.Setenv("FIRESTORE_EMULATOR_HOST", "localhost:8089")
	}

	ctx := context.Background()
	client, err := firestore.NewClient(ctx, testProjectID)
	if err != nil {
		t.Fatalf("Failed to create Firestore client: %v", err)
	}
	return client
}

// testCollection returns a unique collection name per test run
func testCollection(testName string) string {
	return fmt.Sprintf("test_accounts_%s_%d", testName, time.Now().UnixNano())
}

func setupTestStorage(t *testing.T, testName string) *Storage {
	t.Helper()

	client := setupFirestoreClient(t)
	t.Cleanup(func() { client.Close() })

	storage, err := New(client, Config{Collection: testCollection(testName)})
	require.NoError(t, err)
	return storage
}

func seedAccount(t *testing.T, s *Storage, id string, balance int) {
	t.Helper()

	now := time.Now().UTC()
	_, created, err := s.GetOrCreate(context.Background(), &creditledger.Account{
		AccountID:        id,
		Balance:          balance,
		LastDailyReset:   now,
		LastMonthlyReset: now,
	})
	require.NoError(t, err)
	require.True(t, created)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Config{})
	assert.Error(t, err)
}

func TestStorage_GetOrCreate(t *testing.T) {
	storage := setupTestStorage(t, "get_or_create")
	ctx := context.Background()

	_, err := storage.GetAccount(ctx, "acct1")
	assert.ErrorIs(t, err, creditledger.ErrAccountNotFound)

	seedAccount(t, storage, "acct1", 100)

	acct, created, err := storage.GetOrCreate(ctx, &creditledger.Account{
		AccountID:        "acct1",
		Balance:          999,
		LastDailyReset:   time.Now().UTC(),
		LastMonthlyReset: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 100, acct.Balance)
}

func TestStorage_DebitAndCredit(t *testing.T) {
	storage := setupTestStorage(t, "debit_credit")
	ctx := context.Background()

	seedAccount(t, storage, "acct1", 20)

	balance, err := storage.Debit(ctx, "acct1", 15)
	require.NoError(t, err)
	assert.Equal(t, 5, balance)

	balance, err = storage.Debit(ctx, "acct1", 15)
	require.NoError(t, err)
	assert.Equal(t, -10, balance)

	require.NoError(t, storage.Credit(ctx, "acct1", 15))

	acct, err := storage.GetAccount(ctx, "acct1")
	require.NoError(t, err)
	assert.Equal(t, 5, acct.Balance)
	assert.Equal(t, 15, acct.DailyUsed)
	assert.Equal(t, 15, acct.MonthlyUsed)
}

func TestStorage_DebitIfSufficient(t *testing.T) {
	storage := setupTestStorage(t, "conditional_debit")
	ctx := context.Background()

	seedAccount(t, storage, "acct1", 10)

	ok, balance, err := storage.DebitIfSufficient(ctx, "acct1", 7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, balance)

	ok, balance, err = storage.DebitIfSufficient(ctx, "acct1", 7)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, balance)

	_, _, err = storage.DebitIfSufficient(ctx, "missing", 1)
	assert.ErrorIs(t, err, creditledger.ErrAccountNotFound)
}

func TestStorage_ResetWindows(t *testing.T) {
	storage := setupTestStorage(t, "reset_windows")
	ctx := context.Background()

	seedAccount(t, storage, "acct1", 100)
	_, err := storage.Debit(ctx, "acct1", 30)
	require.NoError(t, err)

	now := time.Now().UTC().Add(24 * time.Hour)
	require.NoError(t, storage.ResetWindows(ctx, "acct1", true, false, now))

	acct, err := storage.GetAccount(ctx, "acct1")
	require.NoError(t, err)
	assert.Equal(t, 0, acct.DailyUsed)
	assert.Equal(t, 30, acct.MonthlyUsed)
}

func TestStorage_ListByBalance(t *testing.T) {
	storage := setupTestStorage(t, "list_by_balance")
	ctx := context.Background()

	seedAccount(t, storage, "a", 50)
	seedAccount(t, storage, "b", 200)
	seedAccount(t, storage, "c", 10)

	accts, err := storage.ListByBalance(ctx, 2)
	require.NoError(t, err)
	require.Len(t, accts, 2)
	assert.Equal(t, "b", accts[0].AccountID)
	assert.Equal(t, "a", accts[1].AccountID)
}
