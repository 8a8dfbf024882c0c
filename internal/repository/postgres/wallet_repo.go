// internal/repository/postgres/wallet_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"settlement-service/internal/domain/wallet"
	xerrors "settlement-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

const creditOnceIndex = "ledger_entries_credit_once"

type WalletRepository struct {
	db        *pgxpool.Pool
	dbWrapper *DB
}

func NewWalletRepository(db *pgxpool.Pool) *WalletRepository {
	return &WalletRepository{db: db, dbWrapper: NewDB(db)}
}

func (r *WalletRepository) FindAccount(ctx context.Context, accountID string) (*wallet.Account, error) {
	query := `
		SELECT account_id, balance, display_name, created_at, updated_at
		FROM wallet_accounts
		WHERE account_id = $1
	`

	var a wallet.Account
	err := r.db.QueryRow(ctx, query, accountID).Scan(&a.AccountID, &a.Balance, &a.DisplayName, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return &a, nil
}

// History returns the account's entries newest first. A non-positive limit
// returns all of them.
func (r *WalletRepository) History(ctx context.Context, accountID string, limit int) ([]wallet.LedgerEntry, error) {
	query := `
		SELECT id, account_id, direction, amount, reason, resulting_balance, linked_request_id, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
	`
	args := []interface{}{accountID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	entries := []wallet.LedgerEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (r *WalletRepository) FindCreditByRequest(ctx context.Context, requestID string) (*wallet.LedgerEntry, error) {
	query := `
		SELECT id, account_id, direction, amount, reason, resulting_balance, linked_request_id, created_at
		FROM ledger_entries
		WHERE linked_request_id = $1 AND direction = 'credit'
	`

	e, err := scanEntry(r.db.QueryRow(ctx, query, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find credit: %w", err)
	}
	return e, nil
}

// Apply runs fn inside one database transaction with the accounts' rows
// locked in account id order.
func (r *WalletRepository) Apply(ctx context.Context, accountIDs []string, fn wallet.Mutation) error {
	ids := uniqueSorted(accountIDs)

	tx, err := r.dbWrapper.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, id := range ids {
		_, err := tx.Exec(ctx, `
			INSERT INTO wallet_accounts (account_id) VALUES ($1)
			ON CONFLICT (account_id) DO NOTHING
		`, id)
		if err != nil {
			return fmt.Errorf("failed to provision account %s: %w", id, err)
		}
	}

	rows, err := tx.Query(ctx, `
		SELECT account_id, balance, display_name, created_at, updated_at
		FROM wallet_accounts
		WHERE account_id = ANY($1)
		ORDER BY account_id
		FOR UPDATE
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to lock accounts: %w", err)
	}

	locked := make(map[string]*wallet.Account, len(ids))
	for rows.Next() {
		var a wallet.Account
		if err := rows.Scan(&a.AccountID, &a.Balance, &a.DisplayName, &a.CreatedAt, &a.UpdatedAt); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan account: %w", err)
		}
		locked[a.AccountID] = &a
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to lock accounts: %w", err)
	}

	entries, err := fn(locked)
	if err != nil {
		return err
	}

	final := make(map[string]int64)
	for _, e := range entries {
		if _, ok := locked[e.AccountID]; !ok {
			return fmt.Errorf("entry for account %s which was not locked", e.AccountID)
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO ledger_entries (id, account_id, direction, amount, reason, resulting_balance, linked_request_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, e.ID, e.AccountID, string(e.Direction), e.Amount, e.Reason, e.ResultingBalance, e.LinkedRequestID, e.CreatedAt)
		if constraint, ok := uniqueConstraint(err); ok {
			if constraint == creditOnceIndex {
				return wallet.ErrDuplicateCredit
			}
			return xerrors.ErrDuplicateEntry
		}
		if err != nil {
			return fmt.Errorf("failed to insert ledger entry: %w", err)
		}
		final[e.AccountID] = e.ResultingBalance
	}

	for id, balance := range final {
		_, err := tx.Exec(ctx, `
			UPDATE wallet_accounts SET balance = $2, updated_at = NOW()
			WHERE account_id = $1
		`, id, balance)
		if err != nil {
			return fmt.Errorf("failed to update balance of %s: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit wallet mutation: %w", err)
	}
	return nil
}

func scanEntry(row scanner) (*wallet.LedgerEntry, error) {
	var e wallet.LedgerEntry
	var direction string
	err := row.Scan(&e.ID, &e.AccountID, &direction, &e.Amount, &e.Reason, &e.ResultingBalance, &e.LinkedRequestID, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Direction = wallet.Direction(direction)
	return &e, nil
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
