// Package memory provides an in-memory implementation of the
// creditledger.Storage interface. This implementation is primarily intended
// for testing and development.
//
// It deliberately does not implement creditledger.ConditionalDebiter: its
// unconditional Debit exercises the ledger's over-draw compensation path,
// which production adapters short-circuit with a conditional update.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hireflow/creditledger/pkg/creditledger"
)

// Storage implements creditledger.Storage using an in-memory map
type Storage struct {
	mu       sync.RWMutex
	accounts map[string]*creditledger.Account
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		accounts: make(map[string]*creditledger.Account),
	}
}

// GetAccount implements creditledger.Storage
func (s *Storage) GetAccount(ctx context.Context, accountID string) (*creditledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return nil, creditledger.ErrAccountNotFound
	}

	// Return a copy to prevent external mutations
	acctCopy := *acct
	return &acctCopy, nil
}

// GetOrCreate implements creditledger.Storage
func (s *Storage) GetOrCreate(ctx context.Context, acct *creditledger.Account) (*creditledger.Account, bool, error) {
	if acct == nil || acct.AccountID == "" {
		return nil, false, fmt.Errorf("invalid account")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.accounts[acct.AccountID]; ok {
		existingCopy := *existing
		return &existingCopy, false, nil
	}

	acctCopy := *acct
	s.accounts[acct.AccountID] = &acctCopy
	created := acctCopy
	return &created, true, nil
}

// ResetWindows implements creditledger.Storage
func (s *Storage) ResetWindows(ctx context.Context, accountID string, daily, monthly bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return creditledger.ErrAccountNotFound
	}

	if daily {
		acct.DailyUsed = 0
		acct.LastDailyReset = now
	}
	if monthly {
		acct.MonthlyUsed = 0
		acct.LastMonthlyReset = now
	}
	acct.UpdatedAt = now
	return nil
}

// Debit implements creditledger.Storage. The decrement is unconditional: the
// returned balance is negative when concurrent debits over-drew the account,
// and the caller compensates via Credit.
func (s *Storage) Debit(ctx context.Context, accountID string, cost int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return 0, creditledger.ErrAccountNotFound
	}

	acct.Balance -= cost
	acct.DailyUsed += cost
	acct.MonthlyUsed += cost
	acct.UpdatedAt = time.Now()
	return acct.Balance, nil
}

// Credit implements creditledger.Storage
func (s *Storage) Credit(ctx context.Context, accountID string, cost int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return creditledger.ErrAccountNotFound
	}

	acct.Balance += cost
	acct.DailyUsed -= cost
	if acct.DailyUsed < 0 {
		acct.DailyUsed = 0
	}
	acct.MonthlyUsed -= cost
	if acct.MonthlyUsed < 0 {
		acct.MonthlyUsed = 0
	}
	acct.UpdatedAt = time.Now()
	return nil
}

// AddBalance implements creditledger.Storage
func (s *Storage) AddBalance(ctx context.Context, accountID string, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return creditledger.ErrAccountNotFound
	}

	acct.Balance += amount
	acct.UpdatedAt = time.Now()
	return nil
}

// SetBalance implements creditledger.Storage
func (s *Storage) SetBalance(ctx context.Context, accountID string, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return creditledger.ErrAccountNotFound
	}

	acct.Balance = amount
	acct.UpdatedAt = time.Now()
	return nil
}

// ListByBalance implements creditledger.Storage
func (s *Storage) ListByBalance(ctx context.Context, limit int) ([]*creditledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accts := make([]*creditledger.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		acctCopy := *acct
		accts = append(accts, &acctCopy)
	}

	sort.Slice(accts, func(i, j int) bool {
		if accts[i].Balance != accts[j].Balance {
			return accts[i].Balance > accts[j].Balance
		}
		return accts[i].AccountID < accts[j].AccountID
	})

	if limit > 0 && len(accts) > limit {
		accts = accts[:limit]
	}
	return accts, nil
}

// Clear removes all data (useful for testing)
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts = make(map[string]*creditledger.Account)
}
