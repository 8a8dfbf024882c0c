// internal/repository/postgres/agent_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"settlement-service/internal/domain/agent"
	xerrors "settlement-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

type CredentialRepository struct {
	db *pgxpool.Pool
}

func NewCredentialRepository(db *pgxpool.Pool) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) Create(ctx context.Context, c *agent.Credential) error {
	query := `
		INSERT INTO agent_credentials (agent_id, bound_identity, pin_hash, active, last_verified_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Exec(ctx, query, c.AgentID, c.BoundIdentity, c.PinHash, c.Active, c.LastVerifiedAt, c.CreatedAt, c.UpdatedAt)
	if _, ok := uniqueConstraint(err); ok {
		return xerrors.ErrDuplicateEntry
	}
	if err != nil {
		return fmt.Errorf("failed to insert credential: %w", err)
	}
	return nil
}

func (r *CredentialRepository) FindByAgentID(ctx context.Context, agentID string) (*agent.Credential, error) {
	return r.findOne(ctx, "agent_id", agentID)
}

func (r *CredentialRepository) FindByIdentity(ctx context.Context, boundIdentity string) (*agent.Credential, error) {
	return r.findOne(ctx, "bound_identity", boundIdentity)
}

func (r *CredentialRepository) findOne(ctx context.Context, column, value string) (*agent.Credential, error) {
	query := fmt.Sprintf(`
		SELECT agent_id, bound_identity, pin_hash, active, last_verified_at, created_at, updated_at
		FROM agent_credentials
		WHERE %s = $1
	`, column)

	var c agent.Credential
	err := r.db.QueryRow(ctx, query, value).Scan(
		&c.AgentID, &c.BoundIdentity, &c.PinHash, &c.Active, &c.LastVerifiedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find credential: %w", err)
	}
	return &c, nil
}

func (r *CredentialRepository) Update(ctx context.Context, c *agent.Credential) error {
	query := `
		UPDATE agent_credentials
		SET pin_hash = $2, active = $3, last_verified_at = $4, updated_at = $5
		WHERE agent_id = $1
	`

	result, err := r.db.Exec(ctx, query, c.AgentID, c.PinHash, c.Active, c.LastVerifiedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

const (
	agentTxColumns = `id, linked_topup_request_id, account_id, agent_id, amount, kind, status,
		confirmed_by, confirmed_at, completed_at, cancel_reason, created_at, updated_at`

	oneOpenTransactionIndex = "agent_transactions_one_open"
)

type AgentTransactionRepository struct {
	db *pgxpool.Pool
}

func NewAgentTransactionRepository(db *pgxpool.Pool) *AgentTransactionRepository {
	return &AgentTransactionRepository{db: db}
}

func (r *AgentTransactionRepository) Create(ctx context.Context, tx *agent.Transaction) error {
	query := `
		INSERT INTO agent_transactions (` + agentTxColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.Exec(ctx, query,
		tx.ID, tx.LinkedTopupRequestID, tx.AccountID, tx.AgentID, tx.Amount, string(tx.Kind), string(tx.Status),
		tx.ConfirmedBy, tx.ConfirmedAt, tx.CompletedAt, tx.CancelReason, tx.CreatedAt, tx.UpdatedAt,
	)
	if constraint, ok := uniqueConstraint(err); ok {
		if constraint == oneOpenTransactionIndex {
			return agent.ErrOpenTransactionExists
		}
		return xerrors.ErrDuplicateEntry
	}
	if err != nil {
		return fmt.Errorf("failed to insert agent transaction: %w", err)
	}
	return nil
}

func (r *AgentTransactionRepository) FindByID(ctx context.Context, id string) (*agent.Transaction, error) {
	query := `SELECT ` + agentTxColumns + ` FROM agent_transactions WHERE id = $1`

	tx, err := scanTransaction(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find agent transaction: %w", err)
	}
	return tx, nil
}

func (r *AgentTransactionRepository) Update(ctx context.Context, tx *agent.Transaction) error {
	query := `
		UPDATE agent_transactions SET
			status = $2,
			confirmed_by = $3,
			confirmed_at = $4,
			completed_at = $5,
			cancel_reason = $6,
			updated_at = $7
		WHERE id = $1
	`

	result, err := r.db.Exec(ctx, query,
		tx.ID, string(tx.Status), tx.ConfirmedBy, tx.ConfirmedAt, tx.CompletedAt, tx.CancelReason, tx.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update agent transaction: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (r *AgentTransactionRepository) List(ctx context.Context, filters *agent.TransactionFilters) ([]agent.Transaction, error) {
	if filters == nil {
		filters = &agent.TransactionFilters{}
	}

	conditions := []string{"1=1"}
	args := []interface{}{}
	argPos := 1

	if filters.AgentID != "" {
		conditions = append(conditions, fmt.Sprintf("agent_id = $%d", argPos))
		args = append(args, filters.AgentID)
		argPos++
	}

	if filters.LinkedRequestID != "" {
		conditions = append(conditions, fmt.Sprintf("linked_topup_request_id = $%d", argPos))
		args = append(args, filters.LinkedRequestID)
		argPos++
	}

	if filters.LinkedOnly {
		conditions = append(conditions, "linked_topup_request_id IS NOT NULL")
	}

	if len(filters.Statuses) > 0 {
		statuses := make([]string, len(filters.Statuses))
		for i, s := range filters.Statuses {
			statuses[i] = string(s)
		}
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", argPos))
		args = append(args, pq.Array(statuses))
		argPos++
	}

	if filters.CreatedFrom != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argPos))
		args = append(args, *filters.CreatedFrom)
		argPos++
	}

	order := "created_at DESC, id DESC"
	if filters.OldestFirst {
		order = "created_at ASC, id ASC"
	}

	query := fmt.Sprintf(`SELECT %s FROM agent_transactions WHERE %s ORDER BY %s`,
		agentTxColumns, strings.Join(conditions, " AND "), order)
	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, filters.Limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent transactions: %w", err)
	}
	defer rows.Close()

	out := []agent.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent transaction: %w", err)
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

func (r *AgentTransactionRepository) Totals(ctx context.Context, agentID string, since time.Time) ([]agent.StatusTotal, error) {
	query := `
		SELECT status, COUNT(*), COALESCE(SUM(amount), 0)
		FROM agent_transactions
		WHERE agent_id = $1 AND ($2::timestamptz IS NULL OR created_at >= $2)
		GROUP BY status
		ORDER BY status
	`

	var sinceArg *time.Time
	if !since.IsZero() {
		sinceArg = &since
	}

	rows, err := r.db.Query(ctx, query, agentID, sinceArg)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate agent transactions: %w", err)
	}
	defer rows.Close()

	out := []agent.StatusTotal{}
	for rows.Next() {
		var t agent.StatusTotal
		var status string
		if err := rows.Scan(&status, &t.Count, &t.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan totals: %w", err)
		}
		t.Status = agent.TxStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(row scanner) (*agent.Transaction, error) {
	var tx agent.Transaction
	var kind, status string
	err := row.Scan(
		&tx.ID, &tx.LinkedTopupRequestID, &tx.AccountID, &tx.AgentID, &tx.Amount, &kind, &status,
		&tx.ConfirmedBy, &tx.ConfirmedAt, &tx.CompletedAt, &tx.CancelReason, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	tx.Kind = agent.Kind(kind)
	tx.Status = agent.TxStatus(status)
	return &tx, nil
}
