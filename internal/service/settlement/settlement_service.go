// internal/service/settlement/settlement_service.go
package settlement

import (
	"context"
	"errors"
	"fmt"

	"settlement-service/internal/domain/agent"
	"settlement-service/internal/domain/topup"
	"settlement-service/internal/domain/wallet"
	"settlement-service/internal/pkg/lock"
	"settlement-service/internal/pkg/refcode"

	"go.uber.org/zap"
)

type Transactions interface {
	Get(ctx context.Context, id string) (*agent.Transaction, error)
	Confirm(ctx context.Context, id, boundIdentity, pin string) (*agent.Transaction, error)
	Complete(ctx context.Context, id string) (*agent.Transaction, error)
	ListConfirmedUnsettled(ctx context.Context, limit int) ([]agent.Transaction, error)
}

type Requests interface {
	GetRequest(ctx context.Context, id string) (*topup.Request, error)
	MarkVerifiedByAgent(ctx context.Context, id, agentID string) (*topup.Request, error)
	NotifyCredited(ctx context.Context, req *topup.Request)
}

type Ledger interface {
	Credit(ctx context.Context, accountID string, amount int64, reason, linkedRequestID string) (*wallet.LedgerEntry, error)
}

// Result describes the state reached by a settlement.
type Result struct {
	Transaction *agent.Transaction  `json:"transaction"`
	Request     *topup.Request      `json:"request,omitempty"`
	Entry       *wallet.LedgerEntry `json:"entry,omitempty"`
	// AlreadySettled is set when the transaction was completed before the call.
	AlreadySettled bool `json:"already_settled"`
	// Pending is set by ConfirmAndSettle when confirmation succeeded but the
	// settlement did not finish; the scheduler resumes it.
	Pending bool `json:"pending"`
}

// SettlementService turns a confirmed agent transaction into a verified topup
// request, a wallet credit and a completed transaction. Every step is safe to
// repeat, so re-running Settle after a failure finishes the job without
// crediting twice.
type SettlementService struct {
	txs      Transactions
	requests Requests
	ledger   Ledger
	locker   lock.Locker
	logger   *zap.Logger
}

func NewSettlementService(txs Transactions, requests Requests, ledger Ledger, locker lock.Locker, logger *zap.Logger) *SettlementService {
	return &SettlementService{
		txs:      txs,
		requests: requests,
		ledger:   ledger,
		locker:   locker,
		logger:   logger,
	}
}

func (s *SettlementService) Settle(ctx context.Context, txID string) (*Result, error) {
	txID = refcode.Normalize(txID)
	if err := refcode.Validate(refcode.KindAgentTransaction, txID); err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, lock.Key("settle", txID))
	if err != nil {
		return nil, err
	}
	defer release()

	// 1. the transaction must be confirmed
	tx, err := s.txs.Get(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.Status == agent.TxStatusCompleted {
		return &Result{Transaction: tx, AlreadySettled: true}, nil
	}
	if tx.Status != agent.TxStatusConfirmed {
		return nil, agent.ErrWrongState
	}
	if tx.LinkedTopupRequestID == nil {
		return nil, agent.ErrNoLinkedRequest
	}

	// 2. the linked request must still be open (or verified by an earlier run)
	req, err := s.requests.GetRequest(ctx, *tx.LinkedTopupRequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load linked request: %w", err)
	}
	if req.Status.IsTerminal() && req.Status != topup.StatusVerified {
		return nil, agent.ErrRequestClosed
	}

	// 3. verify the request
	req, err = s.requests.MarkVerifiedByAgent(ctx, req.ID, tx.AgentID)
	if errors.Is(err, topup.ErrNotPending) {
		return nil, agent.ErrRequestClosed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to verify linked request: %w", err)
	}

	// 4. credit the wallet once for this request
	reason := fmt.Sprintf("topup %s cash collected by agent %s", req.ID, tx.AgentID)
	entry, err := s.ledger.Credit(ctx, req.AccountID, req.RequestedAmount, reason, req.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to credit wallet: %w", err)
	}

	// 5. complete the transaction
	tx, err = s.txs.Complete(ctx, tx.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to complete agent transaction: %w", err)
	}

	s.logger.Info("agent transaction settled",
		zap.String("agent_transaction_id", tx.ID),
		zap.String("request_id", req.ID),
		zap.String("account_id", req.AccountID),
		zap.Int64("amount", req.RequestedAmount),
		zap.String("entry_id", entry.ID),
	)
	s.requests.NotifyCredited(ctx, req)

	return &Result{Transaction: tx, Request: req, Entry: entry}, nil
}

// ConfirmAndSettle confirms the transaction with the agent's PIN and settles
// it straight away. A settlement failure after a successful confirmation is
// reported as a pending result, not an error.
func (s *SettlementService) ConfirmAndSettle(ctx context.Context, txID, boundIdentity, pin string) (*Result, error) {
	tx, err := s.txs.Confirm(ctx, txID, boundIdentity, pin)
	if err != nil {
		return nil, err
	}

	result, err := s.Settle(ctx, tx.ID)
	if err != nil {
		s.logger.Error("settlement after confirmation failed, will retry",
			zap.String("agent_transaction_id", tx.ID),
			zap.Error(err),
		)
		return &Result{Transaction: tx, Pending: true}, nil
	}
	return result, nil
}

// ResumeConfirmed settles confirmed transactions left behind by interrupted
// runs and returns how many were settled.
func (s *SettlementService) ResumeConfirmed(ctx context.Context, limit int) (int, error) {
	list, err := s.txs.ListConfirmedUnsettled(ctx, limit)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, tx := range list {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		if _, err := s.Settle(ctx, tx.ID); err != nil {
			s.logger.Warn("failed to resume settlement",
				zap.String("agent_transaction_id", tx.ID),
				zap.Error(err),
			)
			continue
		}
		settled++
	}
	return settled, nil
}
