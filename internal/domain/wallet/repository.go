// internal/domain/wallet/repository.go
package wallet

import "context"

// Mutation computes the ledger entries to append given the current, locked
// state of the accounts it was called with. Returning an error aborts the
// whole unit without writing anything.
type Mutation func(accounts map[string]*Account) ([]*LedgerEntry, error)

type Repository interface {
	FindAccount(ctx context.Context, accountID string) (*Account, error)
	History(ctx context.Context, accountID string, limit int) ([]LedgerEntry, error)
	FindCreditByRequest(ctx context.Context, requestID string) (*LedgerEntry, error)

	// Apply locks the named accounts, provisioning missing ones with a zero
	// balance, runs fn and persists the returned entries. Each account's
	// balance becomes the ResultingBalance of its last entry. Either every
	// entry is stored or none is.
	Apply(ctx context.Context, accountIDs []string, fn Mutation) error
}
