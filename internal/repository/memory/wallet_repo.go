// internal/repository/memory/wallet_repo.go
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"settlement-service/internal/domain/wallet"
	xerrors "settlement-service/internal/pkg/errors"
)

// WalletRepository keeps accounts and their ledger in process memory. A single
// mutex makes every Apply one serialised unit, matching what a database
// transaction with row locks gives the postgres implementation.
type WalletRepository struct {
	mu       sync.Mutex
	accounts map[string]wallet.Account
	entries  map[string][]wallet.LedgerEntry
	credits  map[string]wallet.LedgerEntry
}

func NewWalletRepository() *WalletRepository {
	return &WalletRepository{
		accounts: make(map[string]wallet.Account),
		entries:  make(map[string][]wallet.LedgerEntry),
		credits:  make(map[string]wallet.LedgerEntry),
	}
}

func (r *WalletRepository) FindAccount(ctx context.Context, accountID string) (*wallet.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[accountID]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	out := cloneAccount(a)
	return &out, nil
}

// History returns entries newest first. A non-positive limit returns everything.
func (r *WalletRepository) History(ctx context.Context, accountID string, limit int) ([]wallet.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.entries[accountID]
	n := len(all)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]wallet.LedgerEntry, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, cloneEntry(all[i]))
	}
	return out, nil
}

func (r *WalletRepository) FindCreditByRequest(ctx context.Context, requestID string) (*wallet.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.credits[requestID]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	out := cloneEntry(e)
	return &out, nil
}

func (r *WalletRepository) Apply(ctx context.Context, accountIDs []string, fn wallet.Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	locked := make(map[string]*wallet.Account, len(accountIDs))
	for _, id := range accountIDs {
		a, ok := r.accounts[id]
		if !ok {
			a = wallet.Account{AccountID: id, CreatedAt: now, UpdatedAt: now}
		}
		a = cloneAccount(a)
		locked[id] = &a
	}

	entries, err := fn(locked)
	if err != nil {
		return err
	}

	// Validate the whole batch before touching state.
	seen := make(map[string]bool)
	final := make(map[string]int64)
	for _, e := range entries {
		if _, ok := locked[e.AccountID]; !ok {
			return fmt.Errorf("entry for account %s which was not locked", e.AccountID)
		}
		if e.Direction == wallet.DirectionCredit && e.LinkedRequestID != nil {
			if _, dup := r.credits[*e.LinkedRequestID]; dup || seen[*e.LinkedRequestID] {
				return wallet.ErrDuplicateCredit
			}
			seen[*e.LinkedRequestID] = true
		}
		if e.ResultingBalance < 0 {
			return fmt.Errorf("account %s would go negative", e.AccountID)
		}
		final[e.AccountID] = e.ResultingBalance
	}

	for _, e := range entries {
		stored := cloneEntry(*e)
		r.entries[e.AccountID] = append(r.entries[e.AccountID], stored)
		if e.Direction == wallet.DirectionCredit && e.LinkedRequestID != nil {
			r.credits[*e.LinkedRequestID] = stored
		}
	}
	for id, balance := range final {
		a := *locked[id]
		a.Balance = balance
		a.UpdatedAt = now
		r.accounts[id] = a
	}

	return nil
}

func cloneAccount(a wallet.Account) wallet.Account {
	a.DisplayName = cloneString(a.DisplayName)
	return a
}

func cloneEntry(e wallet.LedgerEntry) wallet.LedgerEntry {
	e.LinkedRequestID = cloneString(e.LinkedRequestID)
	return e
}
