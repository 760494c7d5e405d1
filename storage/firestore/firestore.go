// Package firestore provides a Firestore implementation of the
// creditledger.Storage interface. Every mutation runs inside a Firestore
// transaction, which gives the conditional debit its atomicity.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hireflow/creditledger/pkg/creditledger"
)

// Storage implements creditledger.Storage using Google Cloud Firestore
type Storage struct {
	client     *firestore.Client
	collection string
}

// Config holds Firestore storage configuration
type Config struct {
	// Collection is the Firestore collection for account documents
	// Default: "credit_accounts"
	Collection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	if config.Collection == "" {
		config.Collection = "credit_accounts"
	}
	return &Storage{client: client, collection: config.Collection}, nil
}

type accountDoc struct {
	Balance          int       `firestore:"balance"`
	DailyUsed        int       `firestore:"daily_used"`
	MonthlyUsed      int       `firestore:"monthly_used"`
	LastDailyReset   time.Time `firestore:"last_daily_reset"`
	LastMonthlyReset time.Time `firestore:"last_monthly_reset"`
	UpdatedAt        time.Time `firestore:"updated_at"`
}

func (d *accountDoc) toAccount(accountID string) *creditledger.Account {
	return &creditledger.Account{
		AccountID:        accountID,
		Balance:          d.Balance,
		DailyUsed:        d.DailyUsed,
		MonthlyUsed:      d.MonthlyUsed,
		LastDailyReset:   d.LastDailyReset,
		LastMonthlyReset: d.LastMonthlyReset,
		UpdatedAt:        d.UpdatedAt,
	}
}

func (s *Storage) doc(accountID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(accountID)
}

// GetAccount implements creditledger.Storage
func (s *Storage) GetAccount(ctx context.Context, accountID string) (*creditledger.Account, error) {
	snap, err := s.doc(accountID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, creditledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	var doc accountDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode account: %w", err)
	}
	return doc.toAccount(accountID), nil
}

// GetOrCreate implements creditledger.Storage
func (s *Storage) GetOrCreate(ctx context.Context, acct *creditledger.Account) (*creditledger.Account, bool, error) {
	if acct == nil || acct.AccountID == "" {
		return nil, false, fmt.Errorf("invalid account")
	}

	var stored *creditledger.Account
	var created bool

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(s.doc(acct.AccountID))
		if status.Code(err) == codes.NotFound {
			doc := accountDoc{
				Balance:          acct.Balance,
				DailyUsed:        acct.DailyUsed,
				MonthlyUsed:      acct.MonthlyUsed,
				LastDailyReset:   acct.LastDailyReset,
				LastMonthlyReset: acct.LastMonthlyReset,
				UpdatedAt:        time.Now().UTC(),
			}
			stored = doc.toAccount(acct.AccountID)
			created = true
			return tx.Set(s.doc(acct.AccountID), doc)
		}
		if err != nil {
			return err
		}

		var doc accountDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		stored = doc.toAccount(acct.AccountID)
		created = false
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to get or create account: %w", err)
	}
	return stored, created, nil
}

// ResetWindows implements creditledger.Storage
func (s *Storage) ResetWindows(ctx context.Context, accountID string, daily, monthly bool, now time.Time) error {
	if !daily && !monthly {
		return nil
	}

	updates := []firestore.Update{{Path: "updated_at", Value: now}}
	if daily {
		updates = append(updates,
			firestore.Update{Path: "daily_used", Value: 0},
			firestore.Update{Path: "last_daily_reset", Value: now},
		)
	}
	if monthly {
		updates = append(updates,
			firestore.Update{Path: "monthly_used", Value: 0},
			firestore.Update{Path: "last_monthly_reset", Value: now},
		)
	}

	_, err := s.doc(accountID).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return creditledger.ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to reset windows: %w", err)
	}
	return nil
}

// Debit implements creditledger.Storage
func (s *Storage) Debit(ctx context.Context, accountID string, cost int) (int, error) {
	var balance int
	err := s.mutate(ctx, accountID, func(doc *accountDoc) {
		doc.Balance -= cost
		doc.DailyUsed += cost
		doc.MonthlyUsed += cost
		balance = doc.Balance
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// DebitIfSufficient implements creditledger.ConditionalDebiter. The read and
// the conditional write share one transaction, so a short balance is never
// over-drawn.
func (s *Storage) DebitIfSufficient(ctx context.Context, accountID string, cost int) (bool, int, error) {
	var applied bool
	var balance int

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(s.doc(accountID))
		if status.Code(err) == codes.NotFound {
			return creditledger.ErrAccountNotFound
		}
		if err != nil {
			return err
		}

		var doc accountDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if doc.Balance < cost {
			applied = false
			balance = doc.Balance
			return nil
		}

		doc.Balance -= cost
		doc.DailyUsed += cost
		doc.MonthlyUsed += cost
		doc.UpdatedAt = time.Now().UTC()
		applied = true
		balance = doc.Balance
		return tx.Set(s.doc(accountID), doc)
	})
	if err != nil {
		if err == creditledger.ErrAccountNotFound {
			return false, 0, err
		}
		return false, 0, fmt.Errorf("failed to debit account: %w", err)
	}
	return applied, balance, nil
}

// Credit implements creditledger.Storage
func (s *Storage) Credit(ctx context.Context, accountID string, cost int) error {
	return s.mutate(ctx, accountID, func(doc *accountDoc) {
		doc.Balance += cost
		doc.DailyUsed -= cost
		if doc.DailyUsed < 0 {
			doc.DailyUsed = 0
		}
		doc.MonthlyUsed -= cost
		if doc.MonthlyUsed < 0 {
			doc.MonthlyUsed = 0
		}
	})
}

// AddBalance implements creditledger.Storage
func (s *Storage) AddBalance(ctx context.Context, accountID string, amount int) error {
	return s.mutate(ctx, accountID, func(doc *accountDoc) {
		doc.Balance += amount
	})
}

// SetBalance implements creditledger.Storage
func (s *Storage) SetBalance(ctx context.Context, accountID string, amount int) error {
	return s.mutate(ctx, accountID, func(doc *accountDoc) {
		doc.Balance = amount
	})
}

// ListByBalance implements creditledger.Storage
func (s *Storage) ListByBalance(ctx context.Context, limit int) ([]*creditledger.Account, error) {
	query := s.client.Collection(s.collection).OrderBy("balance", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}

	snaps, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	accts := make([]*creditledger.Account, 0, len(snaps))
	for _, snap := range snaps {
		var doc accountDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode account %q: %w", snap.Ref.ID, err)
		}
		accts = append(accts, doc.toAccount(snap.Ref.ID))
	}
	return accts, nil
}

// mutate applies fn to the account document inside a transaction.
func (s *Storage) mutate(ctx context.Context, accountID string, fn func(*accountDoc)) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(s.doc(accountID))
		if status.Code(err) == codes.NotFound {
			return creditledger.ErrAccountNotFound
		}
		if err != nil {
			return err
		}

		var doc accountDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		fn(&doc)
		doc.UpdatedAt = time.Now().UTC()
		return tx.Set(s.doc(accountID), doc)
	})
	if err == creditledger.ErrAccountNotFound {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return nil
}
