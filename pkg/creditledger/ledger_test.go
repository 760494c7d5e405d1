package creditledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hireflow/creditledger/pkg/creditledger"
	"github.com/hireflow/creditledger/storage/memory"
)

// testClock is an adjustable clock for exercising window boundaries.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testEpoch = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// newTestLedger creates a ledger over in-memory storage with a fixed clock
// and UTC window boundaries.
func newTestLedger(t *testing.T, config creditledger.Config) (*creditledger.Ledger, *memory.Storage, *testClock) {
	t.Helper()

	storage := memory.New()
	clock := newTestClock(testEpoch)
	config.Location = time.UTC
	config.Now = clock.Now

	ledger, err := creditledger.NewLedger(storage, config)
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}
	return ledger, storage, clock
}

func TestNewLedger(t *testing.T) {
	storage := memory.New()

	ledger, err := creditledger.NewLedger(storage, creditledger.Config{})
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}
	if ledger == nil {
		t.Fatal("Expected non-nil ledger")
	}

	// Test with nil storage
	_, err = creditledger.NewLedger(nil, creditledger.Config{})
	if err != creditledger.ErrStorageUnavailable {
		t.Errorf("Expected ErrStorageUnavailable, got %v", err)
	}
}

func TestLedger_Check_NewAccount(t *testing.T) {
	ledger, storage, _ := newTestLedger(t, creditledger.Config{})
	ctx := context.Background()

	d, err := ledger.Check(ctx, "acct1", creditledger.OpAudioTranscription)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}

	if !d.Allowed {
		t.Errorf("Expected allowed, got denied with reason %q", d.Reason)
	}
	if d.Balance != creditledger.DefaultSignupBonus {
		t.Errorf("Expected signup bonus balance %d, got %d", creditledger.DefaultSignupBonus, d.Balance)
	}
	if d.DailyRemaining != 195 {
		t.Errorf("Expected daily remaining 195, got %d", d.DailyRemaining)
	}

	// The row must have been created with both reset stamps set
	acct, err := storage.GetAccount(ctx, "acct1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if acct.Balance != creditledger.DefaultSignupBonus {
		t.Errorf("Expected stored balance %d, got %d", creditledger.DefaultSignupBonus, acct.Balance)
	}
	if !acct.LastDailyReset.Equal(testEpoch) || !acct.LastMonthlyReset.Equal(testEpoch) {
		t.Errorf("Expected reset stamps at creation instant, got daily=%v monthly=%v",
			acct.LastDailyReset, acct.LastMonthlyReset)
	}
}

func TestLedger_Check_InsufficientBalance(t *testing.T) {
	ledger, _, _ := newTestLedger(t, creditledger.Config{})
	ctx := context.Background()

	if err := ledger.SetBalance(ctx, "acct1", 3); err != nil {
		t.Fatalf("SetBalance failed: %v", err)
	}

	d, err := ledger.Check(ctx, "acct1", creditledger.OpAudioTranscription)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Allowed {
		t.Error("Expected denied")
	}
	if d.Reason != creditledger.ReasonInsufficientBalance {
		t.Errorf("Expected insufficient balance reason, got %q", d.Reason)
	}
	if d.Balance != 3 {
		t.Errorf("Expected balance 3 unchanged, got %d", d.Balance)
	}
}

func TestLedger_Check_DailyLimit(t *testing.T) {
	// Costs crafted so two spends leave dailyUsed at 198 of 200.
	ledger, _, _ := newTestLedger(t, creditledger.Config{
		Costs: map[creditledger.OperationKind]int{
			creditledger.OpInterviewAnalysis:  99,
			creditledger.OpAudioTranscription: 5,
		},
		SignupBonus: 1000,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := ledger.Spend(ctx, "acct1", creditledger.OpInterviewAnalysis)
		if err != nil {
			t.Fatalf("Spend %d failed: %v", i, err)
		}
		if !res.Success {
			t.Fatalf("Spend %d denied: %q", i, res.Reason)
		}
	}

	d, err := ledger.Check(ctx, "acct1", creditledger.OpAudioTranscription)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Allowed {
		t.Error("Expected denied: daily limit would be exceeded")
	}
	if d.Reason != creditledger.ReasonDailyLimitReached {
		t.Errorf("Expected daily limit reason, got %q", d.Reason)
	}
	if d.DailyUsed != 198 {
		t.Errorf("Expected dailyUsed 198, got %d", d.DailyUsed)
	}
}

func TestLedger_Check_DenialPrecedence(t *testing.T) {
	// Both windows would be exceeded; the daily reason must win.
	ledger, _, _ := newTestLedger(t, creditledger.Config{
		Costs: map[creditledger.OperationKind]int{
			creditledger.OpInterviewAnalysis:  8,
			creditledger.OpAudioTranscription: 5,
		},
		DailyLimit:   10,
		MonthlyLimit: 10,
		SignupBonus:  1000,
	})
	ctx := context.Background()

	if _, err := ledger.Spend(ctx, "acct1", creditledger.OpInterviewAnalysis); err != nil {
		t.Fatalf("Spend failed: %v", err)
	}

	d, err := ledger.Check(ctx, "acct1", creditledger.OpAudioTranscription)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Allowed {
		t.Error("Expected denied")
	}
	if d.Reason != creditledger.ReasonDailyLimitReached {
		t.Errorf("Expected daily limit reason to take precedence, got %q", d.Reason)
	}
}

func TestLedger_Check_MonthlyLimit(t *testing.T) {
	ledger, _, clock := newTestLedger(t, creditledger.Config{
		Costs: map[creditledger.OperationKind]int{
			creditledger.OpInterviewAnalysis:  90,
			creditledger.OpAudioTranscription: 50,
		},
		DailyLimit:   100,
		MonthlyLimit: 120,
		SignupBonus:  1000,
	})
	ctx := context.Background()

	// Day one: spend 90 of the monthly 120.
	if _, err := ledger.Spend(ctx, "acct1", creditledger.OpInterviewAnalysis); err != nil {
		t.Fatalf("Spend failed: %v", err)
	}

	// Next day the daily window is fresh but the monthly one is not.
	clock.Advance(24 * time.Hour)

	d, err := ledger.Check(ctx, "acct1", creditledger.OpAudioTranscription)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Allowed {
		t.Error("Expected denied")
	}
	if d.Reason != creditledger.ReasonMonthlyLimitReached {
		t.Errorf("Expected monthly limit reason, got %q", d.Reason)
	}
	if d.DailyUsed != 0 {
		t.Errorf("Expected daily counter reset to 0, got %d", d.DailyUsed)
	}
	if d.MonthlyUsed != 90 {
		t.Errorf("Expected monthly counter 90, got %d", d.MonthlyUsed)
	}
}

func TestLedger_Check_UnknownOperation(t *testing.T) {
	ledger, _, _ := newTestLedger(t, creditledger.Config{})
	ctx := context.Background()

	if _, err := ledger.Check(ctx, "acct1", "bulk_export"); err != creditledger.ErrUnknownOperation {
		t.Errorf("Expected ErrUnknownOperation, got %v", err)
	}
	if _, err := ledger.Spend(ctx, "acct1", "bulk_export"); err != creditledger.ErrUnknownOperation {
		t.Errorf("Expected ErrUnknownOperation, got %v", err)
	}
}

func TestLedger_Spend_Conservation(t *testing.T) {
	ledger, _, _ := newTestLedger(t, creditledger.Config{})
	ctx := context.Background()

	ops := []creditledger.OperationKind{
		creditledger.OpInterviewAnalysis,    // 10
		creditledger.OpAudioTranscription,   // 5
		creditledger.OpSuggestionGeneration, // 3
		creditledger.OpEmailParsing,         // 1
	}

	total := 0
	for _, op := range ops {
		cost, err := ledger.Cost(op)
		if err != nil {
			t.Fatalf("Cost failed: %v", err)
		}
		total += cost

		res, err := ledger.Spend(ctx, "acct1", op)
		if err != nil {
			t.Fatalf("Spend(%s) failed: %v", op, err)
		}
		if !res.Success {
			t.Fatalf("Spend(%s) denied: %q", op, res.Reason)
		}
	}

	st, err := ledger.Status(ctx, "acct1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	want := creditledger.DefaultSignupBonus - total
	if st.Balance != want {
		t.Errorf("Expected balance %d after spends, got %d", want, st.Balance)
	}
	if st.DailyUsed != total || st.MonthlyUsed != total {
		t.Errorf("Expected counters %d/%d, got %d/%d", total, total, st.DailyUsed, st.MonthlyUsed)
	}
}

func TestLedger_Spend_InsufficientWithoutMutating(t *testing.T) {
	ledger, storage, _ := newTestLedger(t, creditledger.Config{})
	ctx := context.Background()

	if err := ledger.SetBalance(ctx, "acct1", 3); err != nil {
		t.Fatalf("SetBalance failed: %v", err)
	}

	res, err := ledger.Spend(ctx, "acct1", creditledger.OpAudioTranscription)
	if err != nil {
		t.Fatalf("Spend failed: %v", err)
	}
	if res.Success {
		t.Error("Expected denied spend")
	}
	if res.Reason != creditledger.ReasonInsufficientBalance {
		t.Errorf("Expected insufficient balance reason, got %q", res.Reason)
	}

	acct, err := storage.GetAccount(ctx, "acct1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if acct.Balance != 3 || acct.DailyUsed != 0 || acct.MonthlyUsed != 0 {
		t.Errorf("Denied spend mutated the row: balance=%d daily=%d monthly=%d",
			acct.Balance, acct.DailyUsed, acct.MonthlyUsed)
	}
}

func TestLedger_Status_ResetsStaleDailyWindow(t *testing.T) {
	ledger, storage, clock := newTestLedger(t, creditledger.Config{})
	ctx := context.Background()

	if _, err := ledger.Spend(ctx, "acct1", creditledger.OpInterviewAnalysis); err != nil {
		t.Fatalf("Spend failed: %v", err)
	}

	clock.Advance(24 * time.Hour)

	st, err := ledger.Status(ctx, "acct1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.DailyUsed != 0 {
		t.Errorf("Expected daily counter zeroed by status read, got %d", st.DailyUsed)
	}
	if st.MonthlyUsed != 10 {
		t.Errorf("Expected monthly counter untouched at 10, got %d", st.MonthlyUsed)
	}

	// The reset must have been persisted, and the monthly stamp left alone.
	acct, err := storage.GetAccount(ctx, "acct1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if acct.DailyUsed != 0 {
		t.Errorf("Expected persisted daily counter 0, got %d", acct.DailyUsed)
	}
	if !acct.LastDailyReset.Equal(clock.Now()) {
		t.Errorf("Expected daily reset stamp %v, got %v", clock.Now(), acct.LastDailyReset)
	}
	if !acct.LastMonthlyReset.Equal(testEpoch) {
		t.Errorf("Expected monthly reset stamp unchanged at %v, got %v", testEpoch, acct.LastMonthlyReset)
	}
}

func TestLedger_Reset_Idempotent(t *testing.T) {
	ledger, storage, clock := newTestLedger(t, creditledger.Config{})
	ctx := context.Background()

	if _, err := ledger.Spend(ctx, "acct1", creditledger.OpInterviewAnalysis); err != nil {
		t.Fatalf("Spend failed: %v", err)
	}

	clock.Advance(24 * time.Hour)

	if _, err := ledger.Status(ctx, "acct1"); err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	first, err := storage.GetAccount(ctx, "acct1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}

	// Second application at the same instant must not change anything.
	if _, err := ledger.Status(ctx, "acct1"); err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	second, err := storage.GetAccount(ctx, "acct1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}

	if second.DailyUsed != first.DailyUsed ||
		!second.LastDailyReset.Equal(first.LastDailyReset) ||
		!second.LastMonthlyReset.Equal(first.LastMonthlyReset) {
		t.Errorf("Second reset application changed state: first=%+v second=%+v", first, second)
	}
}

func TestLedger_Spend_MonthRollover(t *testing.T) {
	ledger, _, clock := newTestLedger(t, creditledger.Config{})
	ctx := context.Background()

	if _, err := ledger.Spend(ctx, "acct1", creditledger.OpInterviewAnalysis); err != nil {
		t.Fatalf("Spend failed: %v", err)
	}

	// Cross into the next month: both windows roll over.
	clock.Set(time.Date(2025, 4, 1, 0, 0, 1, 0, time.UTC))

	st, err := ledger.Status(ctx, "acct1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.DailyUsed != 0 || st.MonthlyUsed != 0 {
		t.Errorf("Expected both counters zeroed, got daily=%d monthly=%d", st.DailyUsed, st.MonthlyUsed)
	}
}

// failingDebitStorage forces the over-draw path: the debit lands negative and
// the compensating credit fails.
type failingDebitStorage struct {
	*memory.Storage
	creditErr error
}

func (s *failingDebitStorage) Debit(ctx context.Context, accountID string, cost int) (int, error) {
	if _, err := s.Storage.Debit(ctx, accountID, cost); err != nil {
		return 0, err
	}
	return -cost, nil
}

func (s *failingDebitStorage) Credit(ctx context.Context, accountID string, cost int) error {
	if s.creditErr != nil {
		return s.creditErr
	}
	return s.Storage.Credit(ctx, accountID, cost)
}

func TestLedger_Spend_RaceLostCompensated(t *testing.T) {
	storage := &failingDebitStorage{Storage: memory.New()}
	clock := newTestClock(testEpoch)
	ledger, err := creditledger.NewLedger(storage, creditledger.Config{
		Location: time.UTC,
		Now:      clock.Now,
	})
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}
	ctx := context.Background()

	res, err := ledger.Spend(ctx, "acct1", creditledger.OpAudioTranscription)
	if err != nil {
		t.Fatalf("Spend failed: %v", err)
	}
	if res.Success {
		t.Error("Expected race-lost spend to be denied")
	}
	if res.Reason != creditledger.ReasonInsufficientBalance {
		t.Errorf("Expected insufficient balance reason, got %q", res.Reason)
	}
}

func TestLedger_Spend_CompensationFailure(t *testing.T) {
	storage := &failingDebitStorage{
		Storage:   memory.New(),
		creditErr: errors.New("connection reset"),
	}
	clock := newTestClock(testEpoch)
	ledger, err := creditledger.NewLedger(storage, creditledger.Config{
		Location: time.UTC,
		Now:      clock.Now,
	})
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}
	ctx := context.Background()

	_, err = ledger.Spend(ctx, "acct1", creditledger.OpAudioTranscription)
	if !errors.Is(err, creditledger.ErrCompensationFailed) {
		t.Errorf("Expected ErrCompensationFailed, got %v", err)
	}
}

func TestLedger_TopAccounts(t *testing.T) {
	ledger, _, clock := newTestLedger(t, creditledger.Config{})
	ctx := context.Background()

	balances := map[string]int{"a": 50, "b": 300, "c": 120}
	for id, bal := range balances {
		if err := ledger.SetBalance(ctx, id, bal); err != nil {
			t.Fatalf("SetBalance(%s) failed: %v", id, err)
		}
	}
	if _, err := ledger.Spend(ctx, "b", creditledger.OpInterviewAnalysis); err != nil {
		t.Fatalf("Spend failed: %v", err)
	}

	ranked, err := ledger.TopAccounts(ctx, 0)
	if err != nil {
		t.Fatalf("TopAccounts failed: %v", err)
	}
	if len(ranked) != 3 {
		t.Fatalf("Expected 3 accounts, got %d", len(ranked))
	}
	if ranked[0].AccountID != "b" || ranked[1].AccountID != "c" || ranked[2].AccountID != "a" {
		t.Errorf("Unexpected order: %s, %s, %s",
			ranked[0].AccountID, ranked[1].AccountID, ranked[2].AccountID)
	}
	if ranked[0].DailyUsed != 10 {
		t.Errorf("Expected dailyUsed 10 for top account, got %d", ranked[0].DailyUsed)
	}

	// Limit applies
	top1, err := ledger.TopAccounts(ctx, 1)
	if err != nil {
		t.Fatalf("TopAccounts failed: %v", err)
	}
	if len(top1) != 1 || top1[0].AccountID != "b" {
		t.Errorf("Expected single top account b, got %v", top1)
	}

	// A stale daily window is presented as zeroed without being persisted.
	clock.Advance(24 * time.Hour)
	ranked, err = ledger.TopAccounts(ctx, 0)
	if err != nil {
		t.Fatalf("TopAccounts failed: %v", err)
	}
	if ranked[0].DailyUsed != 0 {
		t.Errorf("Expected stale daily counter presented as 0, got %d", ranked[0].DailyUsed)
	}
}
