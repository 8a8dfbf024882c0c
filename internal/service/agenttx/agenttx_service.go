// internal/service/agenttx/agenttx_service.go
package agenttx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"settlement-service/internal/domain/agent"
	"settlement-service/internal/domain/topup"
	xerrors "settlement-service/internal/pkg/errors"
	"settlement-service/internal/pkg/lock"
	"settlement-service/internal/pkg/refcode"

	"go.uber.org/zap"
)

const maxIDAttempts = 5

// CredentialVerifier checks an agent's PIN.
type CredentialVerifier interface {
	VerifyCredential(ctx context.Context, agentID, boundIdentity, pin string) error
}

type AgentTxService struct {
	repo        agent.TransactionRepository
	requestRepo topup.Repository
	credentials CredentialVerifier
	locker      lock.Locker
	location    *time.Location
	logger      *zap.Logger
	now         func() time.Time
}

func NewAgentTxService(
	repo agent.TransactionRepository,
	requestRepo topup.Repository,
	credentials CredentialVerifier,
	locker lock.Locker,
	location *time.Location,
	logger *zap.Logger,
) *AgentTxService {
	if location == nil {
		location = time.UTC
	}
	return &AgentTxService{
		repo:        repo,
		requestRepo: requestRepo,
		credentials: credentials,
		locker:      locker,
		location:    location,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *AgentTxService) SetClock(now func() time.Time) {
	s.now = now
}

// Create records a pending cash collection. When it is linked to a topup
// request the request must be an open cash request for the same account and
// amount with no other open transaction.
func (s *AgentTxService) Create(ctx context.Context, input *agent.CreateTransactionInput) (*agent.Transaction, error) {
	accountID := strings.TrimSpace(input.AccountID)
	agentID := strings.TrimSpace(input.AgentID)
	if accountID == "" || agentID == "" {
		return nil, fmt.Errorf("%w: account and agent are required", xerrors.ErrInvalidInput)
	}
	if input.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", xerrors.ErrInvalidInput)
	}
	if !input.Kind.Valid() {
		return nil, agent.ErrInvalidKind
	}

	now := s.now()
	tx := &agent.Transaction{
		AccountID: accountID,
		AgentID:   agentID,
		Amount:    input.Amount,
		Kind:      input.Kind,
		Status:    agent.TxStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if input.LinkedTopupRequestID == "" {
		if err := s.insert(ctx, tx); err != nil {
			return nil, err
		}
		s.logCreated(tx)
		return tx, nil
	}

	requestID := refcode.Normalize(input.LinkedTopupRequestID)
	if err := refcode.Validate(refcode.KindTopupRequest, requestID); err != nil {
		return nil, err
	}
	if input.Kind != agent.KindTopup {
		return nil, agent.ErrInvalidKind
	}

	release, err := s.locker.Acquire(ctx, lock.Key("topup", requestID))
	if err != nil {
		return nil, err
	}
	defer release()

	req, err := s.requestRepo.FindByID(ctx, requestID)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get topup request: %w", err)
	}
	if req.Status.IsTerminal() {
		return nil, agent.ErrRequestClosed
	}
	if req.PaymentPath != topup.PaymentPathAgentCash {
		return nil, topup.ErrWrongPath
	}
	if req.AccountID != accountID || req.RequestedAmount != input.Amount {
		return nil, fmt.Errorf("%w: transaction does not match the topup request", xerrors.ErrInvalidInput)
	}

	open, err := s.repo.List(ctx, &agent.TransactionFilters{
		LinkedRequestID: requestID,
		Statuses:        agent.OpenStatuses,
		Limit:           1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check open transactions: %w", err)
	}
	if len(open) > 0 {
		return nil, agent.ErrOpenTransactionExists
	}

	tx.LinkedTopupRequestID = &requestID
	if err := s.insert(ctx, tx); err != nil {
		return nil, err
	}
	s.logCreated(tx)

	req.LinkedAgentTransactionID = &tx.ID
	req.ChosenAgentID = &agentID
	req.UpdatedAt = now
	if err := s.requestRepo.Update(ctx, req); err != nil {
		// The transaction carries the authoritative link; the request copy is informational.
		s.logger.Error("failed to link agent transaction on topup request",
			zap.String("request_id", requestID),
			zap.String("agent_transaction_id", tx.ID),
			zap.Error(err),
		)
	}

	return tx, nil
}

func (s *AgentTxService) insert(ctx context.Context, tx *agent.Transaction) error {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		tx.ID = refcode.New(refcode.KindAgentTransaction, tx.CreatedAt.In(s.location))
		err := s.repo.Create(ctx, tx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, xerrors.ErrDuplicateEntry) {
			return fmt.Errorf("failed to create agent transaction: %w", err)
		}
	}
	return fmt.Errorf("failed to allocate agent transaction reference after %d attempts", maxIDAttempts)
}

func (s *AgentTxService) logCreated(tx *agent.Transaction) {
	fields := []zap.Field{
		zap.String("agent_transaction_id", tx.ID),
		zap.String("agent_id", tx.AgentID),
		zap.String("account_id", tx.AccountID),
		zap.Int64("amount", tx.Amount),
		zap.String("kind", string(tx.Kind)),
	}
	if tx.LinkedTopupRequestID != nil {
		fields = append(fields, zap.String("request_id", *tx.LinkedTopupRequestID))
	}
	s.logger.Info("agent transaction created", fields...)
}

func (s *AgentTxService) Get(ctx context.Context, id string) (*agent.Transaction, error) {
	id = refcode.Normalize(id)
	if err := refcode.Validate(refcode.KindAgentTransaction, id); err != nil {
		return nil, err
	}

	tx, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent transaction: %w", err)
	}
	return tx, nil
}

// Confirm authenticates the transaction's agent and marks the cash as
// received. Only a pending transaction can be confirmed.
func (s *AgentTxService) Confirm(ctx context.Context, id, boundIdentity, pin string) (*agent.Transaction, error) {
	var confirmed *agent.Transaction
	err := s.withTransaction(ctx, id, func(tx *agent.Transaction) error {
		if tx.Status != agent.TxStatusPending {
			return agent.ErrWrongState
		}

		// The request lock is held while confirming so a concurrent customer
		// cancel either sees the confirmation or wins before it.
		if tx.LinkedTopupRequestID != nil {
			release, err := s.locker.Acquire(ctx, lock.Key("topup", *tx.LinkedTopupRequestID))
			if err != nil {
				return err
			}
			defer release()

			req, err := s.requestRepo.FindByID(ctx, *tx.LinkedTopupRequestID)
			if err != nil && !errors.Is(err, xerrors.ErrNotFound) {
				return fmt.Errorf("failed to get topup request: %w", err)
			}
			if req == nil || (req.Status.IsTerminal() && req.Status != topup.StatusVerified) {
				return agent.ErrRequestClosed
			}
		}

		if err := s.credentials.VerifyCredential(ctx, tx.AgentID, boundIdentity, pin); err != nil {
			return err
		}

		now := s.now()
		identity := strings.TrimSpace(boundIdentity)
		tx.Status = agent.TxStatusConfirmed
		tx.ConfirmedBy = &identity
		tx.ConfirmedAt = &now
		tx.UpdatedAt = now
		if err := s.repo.Update(ctx, tx); err != nil {
			return fmt.Errorf("failed to confirm agent transaction: %w", err)
		}
		confirmed = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("agent transaction confirmed",
		zap.String("agent_transaction_id", confirmed.ID),
		zap.String("agent_id", confirmed.AgentID),
	)
	return confirmed, nil
}

// Complete finalises a confirmed transaction. Completing a completed
// transaction is a no-op.
func (s *AgentTxService) Complete(ctx context.Context, id string) (*agent.Transaction, error) {
	var completed *agent.Transaction
	err := s.withTransaction(ctx, id, func(tx *agent.Transaction) error {
		if tx.Status == agent.TxStatusCompleted {
			completed = tx
			return nil
		}
		if tx.Status != agent.TxStatusConfirmed {
			return agent.ErrWrongState
		}

		now := s.now()
		tx.Status = agent.TxStatusCompleted
		tx.CompletedAt = &now
		tx.UpdatedAt = now
		if err := s.repo.Update(ctx, tx); err != nil {
			return fmt.Errorf("failed to complete agent transaction: %w", err)
		}
		completed = tx
		s.logger.Info("agent transaction completed", zap.String("agent_transaction_id", tx.ID))
		return nil
	})
	return completed, err
}

// Cancel voids a pending transaction. Confirmed cash has been handed over and
// can only be settled, so cancelling a confirmed or completed transaction
// fails with ErrWrongState.
func (s *AgentTxService) Cancel(ctx context.Context, id, reason string) (*agent.Transaction, error) {
	var cancelled *agent.Transaction
	err := s.withTransaction(ctx, id, func(tx *agent.Transaction) error {
		if tx.Status == agent.TxStatusCancelled {
			cancelled = tx
			return nil
		}
		if tx.Status != agent.TxStatusPending {
			return agent.ErrWrongState
		}

		tx.Status = agent.TxStatusCancelled
		tx.UpdatedAt = s.now()
		if reason = strings.TrimSpace(reason); reason != "" {
			tx.CancelReason = &reason
		}
		if err := s.repo.Update(ctx, tx); err != nil {
			return fmt.Errorf("failed to cancel agent transaction: %w", err)
		}
		cancelled = tx
		s.logger.Info("agent transaction cancelled",
			zap.String("agent_transaction_id", tx.ID),
			zap.String("reason", reason),
		)
		return nil
	})
	return cancelled, err
}

// TodayFor lists the agent's transactions created since local midnight, newest first.
func (s *AgentTxService) TodayFor(ctx context.Context, agentID string) ([]agent.Transaction, error) {
	agentID, err := requireAgent(agentID)
	if err != nil {
		return nil, err
	}

	local := s.now().In(s.location)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.location)

	list, err := s.repo.List(ctx, &agent.TransactionFilters{
		AgentID:     agentID,
		CreatedFrom: &midnight,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list today's transactions: %w", err)
	}
	return list, nil
}

// StatisticsFor aggregates the agent's transactions by status over a period.
func (s *AgentTxService) StatisticsFor(ctx context.Context, agentID string, period agent.Period) (*agent.Statistics, error) {
	agentID, err := requireAgent(agentID)
	if err != nil {
		return nil, err
	}
	if period == "" {
		period = agent.PeriodToday
	}
	since, ok := period.Since(s.now().In(s.location))
	if !ok {
		return nil, fmt.Errorf("%w: unknown period %q", xerrors.ErrInvalidInput, period)
	}

	totals, err := s.repo.Totals(ctx, agentID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}

	stats := &agent.Statistics{
		AgentID:  agentID,
		Period:   period,
		ByStatus: make(map[agent.TxStatus]agent.StatusTotal, len(totals)),
	}
	if !since.IsZero() {
		stats.Since = &since
	}
	for _, t := range totals {
		stats.ByStatus[t.Status] = t
		stats.TotalCount += t.Count
		stats.TotalAmount += t.Amount
	}
	return stats, nil
}

// ListConfirmedUnsettled returns confirmed transactions linked to a topup
// request that have not been completed yet, oldest first.
func (s *AgentTxService) ListConfirmedUnsettled(ctx context.Context, limit int) ([]agent.Transaction, error) {
	list, err := s.repo.List(ctx, &agent.TransactionFilters{
		LinkedOnly:  true,
		Statuses:    []agent.TxStatus{agent.TxStatusConfirmed},
		Limit:       limit,
		OldestFirst: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list confirmed transactions: %w", err)
	}
	return list, nil
}

func requireAgent(agentID string) (string, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return "", fmt.Errorf("%w: agent id is required", xerrors.ErrInvalidInput)
	}
	return agentID, nil
}

func (s *AgentTxService) withTransaction(ctx context.Context, id string, fn func(tx *agent.Transaction) error) error {
	id = refcode.Normalize(id)
	if err := refcode.Validate(refcode.KindAgentTransaction, id); err != nil {
		return err
	}

	release, err := s.locker.Acquire(ctx, lock.Key("agenttx", id))
	if err != nil {
		return err
	}
	defer release()

	tx, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, xerrors.ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to get agent transaction: %w", err)
	}
	return fn(tx)
}
