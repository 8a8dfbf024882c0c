// internal/repository/postgres/topup_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"settlement-service/internal/domain/topup"
	xerrors "settlement-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

const (
	topupColumns = `id, account_id, requested_amount, payment_path, chosen_agent_id, proof_of_payment, status,
		linked_agent_transaction_id, verified_by, verified_at, notes, reminder_sent_at, created_at, updated_at`

	oneActiveRequestIndex = "topup_requests_one_active"
)

type TopupRepository struct {
	db *pgxpool.Pool
}

func NewTopupRepository(db *pgxpool.Pool) *TopupRepository {
	return &TopupRepository{db: db}
}

func (r *TopupRepository) Create(ctx context.Context, req *topup.Request) error {
	query := `
		INSERT INTO topup_requests (` + topupColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.db.Exec(ctx, query,
		req.ID, req.AccountID, req.RequestedAmount, string(req.PaymentPath), req.ChosenAgentID, req.ProofOfPayment,
		string(req.Status), req.LinkedAgentTransactionID, req.VerifiedBy, req.VerifiedAt, req.Notes, req.ReminderSentAt,
		req.CreatedAt, req.UpdatedAt,
	)
	if constraint, ok := uniqueConstraint(err); ok {
		if constraint == oneActiveRequestIndex {
			return topup.ErrActiveRequestExists
		}
		return xerrors.ErrDuplicateEntry
	}
	if err != nil {
		return fmt.Errorf("failed to insert topup request: %w", err)
	}
	return nil
}

func (r *TopupRepository) FindByID(ctx context.Context, id string) (*topup.Request, error) {
	query := `SELECT ` + topupColumns + ` FROM topup_requests WHERE id = $1`

	req, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find topup request: %w", err)
	}
	return req, nil
}

func (r *TopupRepository) Update(ctx context.Context, req *topup.Request) error {
	query := `
		UPDATE topup_requests SET
			chosen_agent_id = $2,
			proof_of_payment = $3,
			status = $4,
			linked_agent_transaction_id = $5,
			verified_by = $6,
			verified_at = $7,
			notes = $8,
			reminder_sent_at = $9,
			updated_at = $10
		WHERE id = $1
	`

	result, err := r.db.Exec(ctx, query,
		req.ID, req.ChosenAgentID, req.ProofOfPayment, string(req.Status), req.LinkedAgentTransactionID,
		req.VerifiedBy, req.VerifiedAt, req.Notes, req.ReminderSentAt, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update topup request: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (r *TopupRepository) FindActiveForAccount(ctx context.Context, accountID string) (*topup.Request, error) {
	list, err := r.List(ctx, &topup.ListFilters{
		AccountID: accountID,
		Statuses:  topup.ActiveStatuses,
		Limit:     1,
	})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, xerrors.ErrNotFound
	}
	return &list[0], nil
}

func (r *TopupRepository) List(ctx context.Context, filters *topup.ListFilters) ([]topup.Request, error) {
	if filters == nil {
		filters = &topup.ListFilters{}
	}

	conditions := []string{"1=1"}
	args := []interface{}{}
	argPos := 1

	if filters.AccountID != "" {
		conditions = append(conditions, fmt.Sprintf("account_id = $%d", argPos))
		args = append(args, filters.AccountID)
		argPos++
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

	if filters.PaymentPath != "" {
		conditions = append(conditions, fmt.Sprintf("payment_path = $%d", argPos))
		args = append(args, string(filters.PaymentPath))
		argPos++
	}

	if filters.WithoutProof {
		conditions = append(conditions, "(proof_of_payment IS NULL OR proof_of_payment = '')")
	}

	if filters.CreatedBefore != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argPos))
		args = append(args, *filters.CreatedBefore)
		argPos++
	}

	order := "created_at DESC, id DESC"
	if filters.OldestFirst {
		order = "created_at ASC, id ASC"
	}

	query := fmt.Sprintf(`SELECT %s FROM topup_requests WHERE %s ORDER BY %s`,
		topupColumns, strings.Join(conditions, " AND "), order)
	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, filters.Limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list topup requests: %w", err)
	}
	defer rows.Close()

	out := []topup.Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan topup request: %w", err)
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

func scanRequest(row scanner) (*topup.Request, error) {
	var req topup.Request
	var path, status string
	err := row.Scan(
		&req.ID, &req.AccountID, &req.RequestedAmount, &path, &req.ChosenAgentID, &req.ProofOfPayment, &status,
		&req.LinkedAgentTransactionID, &req.VerifiedBy, &req.VerifiedAt, &req.Notes, &req.ReminderSentAt,
		&req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.PaymentPath = topup.PaymentPath(path)
	req.Status = topup.Status(status)
	return &req, nil
}
