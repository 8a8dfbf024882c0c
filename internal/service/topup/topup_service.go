// internal/service/topup/topup_service.go
package topup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"settlement-service/internal/domain/agent"
	"settlement-service/internal/domain/notification"
	"settlement-service/internal/domain/topup"
	"settlement-service/internal/domain/wallet"
	xerrors "settlement-service/internal/pkg/errors"
	"settlement-service/internal/pkg/lock"
	"settlement-service/internal/pkg/refcode"

	"go.uber.org/zap"
)

const maxIDAttempts = 5

// Ledger is the part of the wallet ledger a request needs.
type Ledger interface {
	Credit(ctx context.Context, accountID string, amount int64, reason, linkedRequestID string) (*wallet.LedgerEntry, error)
	CreditForRequest(ctx context.Context, requestID string) (*wallet.LedgerEntry, error)
}

// AgentTransactions creates and inspects the cash collection linked to a request.
type AgentTransactions interface {
	Create(ctx context.Context, input *agent.CreateTransactionInput) (*agent.Transaction, error)
	Get(ctx context.Context, id string) (*agent.Transaction, error)
	Cancel(ctx context.Context, id, reason string) (*agent.Transaction, error)
}

type Notifier interface {
	Notify(ctx context.Context, req *notification.CreateNotificationRequest)
}

type Config struct {
	MinAmount int64
	MaxAmount int64
	Location  *time.Location
}

type TopupService struct {
	repo     topup.Repository
	ledger   Ledger
	agentTxs AgentTransactions
	notifier Notifier
	locker   lock.Locker
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

func NewTopupService(
	repo topup.Repository,
	ledger Ledger,
	agentTxs AgentTransactions,
	notifier Notifier,
	locker lock.Locker,
	cfg Config,
	logger *zap.Logger,
) *TopupService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &TopupService{
		repo:     repo,
		ledger:   ledger,
		agentTxs: agentTxs,
		notifier: notifier,
		locker:   locker,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *TopupService) SetClock(now func() time.Time) {
	s.now = now
}

// CreateRequest opens a topup request. An account may only have one active
// request at a time. With an agent the linked cash collection is created on a
// best effort basis: if that fails the request is still returned, unlinked.
func (s *TopupService) CreateRequest(ctx context.Context, input *topup.CreateRequestInput) (*topup.Request, error) {
	accountID := strings.TrimSpace(input.AccountID)
	agentID := strings.TrimSpace(input.AgentID)

	if accountID == "" {
		return nil, wallet.ErrInvalidAccount
	}
	if !input.PaymentPath.Valid() {
		return nil, topup.ErrInvalidPaymentPath
	}
	if input.Amount < s.cfg.MinAmount || input.Amount > s.cfg.MaxAmount {
		return nil, topup.ErrAmountOutOfRange
	}
	if agentID != "" && input.PaymentPath != topup.PaymentPathAgentCash {
		return nil, topup.ErrWrongPath
	}

	release, err := s.locker.Acquire(ctx, lock.Key("account", accountID))
	if err != nil {
		return nil, err
	}
	defer release()

	active, err := s.FindActiveForAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, topup.ErrActiveRequestExists
	}

	now := s.now()
	req := &topup.Request{
		AccountID:       accountID,
		RequestedAmount: input.Amount,
		PaymentPath:     input.PaymentPath,
		Status:          topup.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if agentID != "" {
		req.ChosenAgentID = &agentID
	}

	if err := s.insert(ctx, req); err != nil {
		return nil, err
	}

	s.logger.Info("topup request created",
		zap.String("request_id", req.ID),
		zap.String("account_id", accountID),
		zap.Int64("amount", req.RequestedAmount),
		zap.String("payment_path", string(req.PaymentPath)),
	)

	if agentID != "" {
		s.spawnAgentTransaction(ctx, req, agentID)
	}

	return req, nil
}

func (s *TopupService) insert(ctx context.Context, req *topup.Request) error {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		req.ID = refcode.New(refcode.KindTopupRequest, req.CreatedAt.In(s.cfg.Location))
		err := s.repo.Create(ctx, req)
		if err == nil {
			return nil
		}
		if !errors.Is(err, xerrors.ErrDuplicateEntry) {
			return fmt.Errorf("failed to create topup request: %w", err)
		}
	}
	return fmt.Errorf("failed to allocate topup reference after %d attempts", maxIDAttempts)
}

func (s *TopupService) spawnAgentTransaction(ctx context.Context, req *topup.Request, agentID string) {
	if s.agentTxs == nil {
		return
	}

	tx, err := s.agentTxs.Create(ctx, &agent.CreateTransactionInput{
		LinkedTopupRequestID: req.ID,
		AccountID:            req.AccountID,
		AgentID:              agentID,
		Amount:               req.RequestedAmount,
		Kind:                 agent.KindTopup,
	})
	if err != nil {
		s.logger.Warn("failed to create agent transaction for topup request",
			zap.String("request_id", req.ID),
			zap.String("agent_id", agentID),
			zap.Error(err),
		)
		return
	}

	req.LinkedAgentTransactionID = &tx.ID
}

// GetRequest loads a request by reference.
func (s *TopupService) GetRequest(ctx context.Context, id string) (*topup.Request, error) {
	id = refcode.Normalize(id)
	if err := refcode.Validate(refcode.KindTopupRequest, id); err != nil {
		return nil, err
	}

	req, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get topup request: %w", err)
	}
	return req, nil
}

// AttachProof records a proof of payment on a transfer request. Uploading
// again replaces the previous proof.
func (s *TopupService) AttachProof(ctx context.Context, id, proofRef string) (*topup.Request, error) {
	proofRef = strings.TrimSpace(proofRef)
	if proofRef == "" {
		return nil, topup.ErrInvalidProof
	}

	var req *topup.Request
	err := s.withRequest(ctx, id, func(r *topup.Request) error {
		if r.Status.IsTerminal() {
			return topup.ErrNotPending
		}
		if r.PaymentPath != topup.PaymentPathTransfer {
			return topup.ErrWrongPath
		}

		r.ProofOfPayment = &proofRef
		r.Status = topup.StatusWaitingVerification
		r.UpdatedAt = s.now()
		if err := s.repo.Update(ctx, r); err != nil {
			return fmt.Errorf("failed to attach proof: %w", err)
		}
		req = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("proof of payment attached", zap.String("request_id", req.ID))
	return req, nil
}

// Verify approves or rejects a request on behalf of staff. Approval credits the
// wallet, tagged with the request id, before the request is marked verified.
func (s *TopupService) Verify(ctx context.Context, id, verifiedBy string, approve bool, notes string) (*topup.Request, error) {
	verifiedBy = strings.TrimSpace(verifiedBy)
	if verifiedBy == "" {
		return nil, fmt.Errorf("%w: verifier is required", xerrors.ErrInvalidInput)
	}

	var req *topup.Request
	err := s.withRequest(ctx, id, func(r *topup.Request) error {
		if r.Status.IsTerminal() {
			return topup.ErrNotPending
		}

		// Once the agent has confirmed the cash only settlement may close the request.
		confirmed, err := s.linkedCashConfirmed(ctx, r)
		if err != nil {
			return err
		}
		if confirmed {
			return topup.ErrCashConfirmed
		}

		if !approve {
			// A credit left behind by an interrupted approval wins over a rejection.
			credited, err := s.convergeCredited(ctx, r)
			if err != nil {
				return err
			}
			if credited {
				return topup.ErrNotPending
			}
		}

		if approve {
			reason := fmt.Sprintf("topup %s approved by %s", r.ID, verifiedBy)
			if _, err := s.ledger.Credit(ctx, r.AccountID, r.RequestedAmount, reason, r.ID); err != nil {
				return fmt.Errorf("failed to credit wallet: %w", err)
			}
			r.Status = topup.StatusVerified
		} else {
			r.Status = topup.StatusRejected
		}

		now := s.now()
		r.VerifiedBy = &verifiedBy
		r.VerifiedAt = &now
		r.UpdatedAt = now
		if notes = strings.TrimSpace(notes); notes != "" {
			r.Notes = &notes
		}
		if err := s.repo.Update(ctx, r); err != nil {
			return fmt.Errorf("failed to update topup request: %w", err)
		}
		req = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("topup request verified",
		zap.String("request_id", req.ID),
		zap.String("status", string(req.Status)),
		zap.String("verified_by", verifiedBy),
	)

	s.cancelLinked(ctx, req, "topup request "+string(req.Status)+" by staff")

	if req.Status == topup.StatusVerified {
		s.notify(ctx, req, notification.TypeTopupVerified, "Top-up successful",
			fmt.Sprintf("Your top-up %s of %d has been credited to your wallet.", req.ID, req.RequestedAmount))
	} else {
		s.notify(ctx, req, notification.TypeTopupRejected, "Top-up rejected",
			fmt.Sprintf("Your top-up %s was rejected.%s", req.ID, notesSuffix(req.Notes)))
	}

	return req, nil
}

// Cancel closes a pending request at the customer's request. A request whose
// cash has already been confirmed by an agent cannot be cancelled.
func (s *TopupService) Cancel(ctx context.Context, id string) (*topup.Request, error) {
	var req *topup.Request
	err := s.withRequest(ctx, id, func(r *topup.Request) error {
		if r.Status != topup.StatusPending {
			return topup.ErrNotPending
		}

		confirmed, err := s.linkedCashConfirmed(ctx, r)
		if err != nil {
			return err
		}
		if confirmed {
			return topup.ErrNotPending
		}

		r.Status = topup.StatusCancelled
		r.UpdatedAt = s.now()
		if err := s.repo.Update(ctx, r); err != nil {
			return fmt.Errorf("failed to cancel topup request: %w", err)
		}
		req = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("topup request cancelled", zap.String("request_id", req.ID))

	s.cancelLinked(ctx, req, "topup request cancelled")

	s.notify(ctx, req, notification.TypeTopupCancelled, "Top-up cancelled",
		fmt.Sprintf("Your top-up %s has been cancelled.", req.ID))
	return req, nil
}

// linkedCashConfirmed reports whether the request's agent transaction has
// already been confirmed or completed.
func (s *TopupService) linkedCashConfirmed(ctx context.Context, r *topup.Request) (bool, error) {
	if r.LinkedAgentTransactionID == nil || s.agentTxs == nil {
		return false, nil
	}

	tx, err := s.agentTxs.Get(ctx, *r.LinkedAgentTransactionID)
	if errors.Is(err, xerrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check agent transaction: %w", err)
	}
	return tx.Status == agent.TxStatusConfirmed || tx.Status == agent.TxStatusCompleted, nil
}

// cancelLinked voids a still pending agent transaction of a closed request.
// It runs after the request lock is released so the lock order stays
// transaction before request everywhere.
func (s *TopupService) cancelLinked(ctx context.Context, req *topup.Request, reason string) {
	if req.LinkedAgentTransactionID == nil || s.agentTxs == nil {
		return
	}

	if _, err := s.agentTxs.Cancel(ctx, *req.LinkedAgentTransactionID, reason); err != nil {
		s.logger.Warn("failed to cancel linked agent transaction",
			zap.String("request_id", req.ID),
			zap.String("agent_transaction_id", *req.LinkedAgentTransactionID),
			zap.Error(err),
		)
	}
}

// FindActiveForAccount returns the most recent non-terminal request, or nil.
func (s *TopupService) FindActiveForAccount(ctx context.Context, accountID string) (*topup.Request, error) {
	req, err := s.repo.FindActiveForAccount(ctx, accountID)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active topup request: %w", err)
	}
	return req, nil
}

func (s *TopupService) ListForAccount(ctx context.Context, accountID string, limit int) ([]topup.Request, error) {
	list, err := s.repo.List(ctx, &topup.ListFilters{AccountID: accountID, Limit: clampLimit(limit)})
	if err != nil {
		return nil, fmt.Errorf("failed to list topup requests: %w", err)
	}
	return list, nil
}

// ListAwaitingVerification is the staff queue: transfer requests with a proof,
// oldest first.
func (s *TopupService) ListAwaitingVerification(ctx context.Context, limit int) ([]topup.Request, error) {
	list, err := s.repo.List(ctx, &topup.ListFilters{
		Statuses:    []topup.Status{topup.StatusWaitingVerification},
		PaymentPath: topup.PaymentPathTransfer,
		Limit:       clampLimit(limit),
		OldestFirst: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list awaiting requests: %w", err)
	}
	return list, nil
}

// MarkVerifiedByAgent marks a cash request verified after its agent
// transaction was confirmed. It is a no-op on an already verified request.
func (s *TopupService) MarkVerifiedByAgent(ctx context.Context, id, agentID string) (*topup.Request, error) {
	var req *topup.Request
	err := s.withRequest(ctx, id, func(r *topup.Request) error {
		if r.Status == topup.StatusVerified {
			req = r
			return nil
		}
		if r.Status.IsTerminal() {
			return topup.ErrNotPending
		}

		now := s.now()
		verifiedBy := "agent:" + agentID
		r.Status = topup.StatusVerified
		r.VerifiedBy = &verifiedBy
		r.VerifiedAt = &now
		r.UpdatedAt = now
		if err := s.repo.Update(ctx, r); err != nil {
			return fmt.Errorf("failed to mark request verified: %w", err)
		}
		req = r
		s.logger.Info("topup request verified by agent",
			zap.String("request_id", r.ID),
			zap.String("agent_id", agentID),
		)
		return nil
	})
	return req, err
}

// NotifyCredited tells the owner their cash top-up reached the wallet.
func (s *TopupService) NotifyCredited(ctx context.Context, req *topup.Request) {
	s.notify(ctx, req, notification.TypeCashReceived, "Top-up successful",
		fmt.Sprintf("Cash for top-up %s was received. %d has been credited to your wallet.", req.ID, req.RequestedAmount))
}

// ListStaleTransfers returns pending transfer requests without proof created
// before cutoff, oldest first.
func (s *TopupService) ListStaleTransfers(ctx context.Context, cutoff time.Time, limit int) ([]topup.Request, error) {
	list, err := s.repo.List(ctx, &topup.ListFilters{
		Statuses:      []topup.Status{topup.StatusPending},
		PaymentPath:   topup.PaymentPathTransfer,
		WithoutProof:  true,
		CreatedBefore: &cutoff,
		Limit:         limit,
		OldestFirst:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list stale transfers: %w", err)
	}
	return list, nil
}

// Expire closes an unpaid transfer request created before cutoff. It re-checks
// the request under its lock and reports false when it no longer qualifies,
// e.g. because a proof arrived in the meantime.
func (s *TopupService) Expire(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	expired := false
	var req *topup.Request
	err := s.withRequest(ctx, id, func(r *topup.Request) error {
		if !isStaleTransfer(r, cutoff) {
			return nil
		}

		credited, err := s.convergeCredited(ctx, r)
		if err != nil || credited {
			return err
		}

		r.Status = topup.StatusExpired
		r.UpdatedAt = s.now()
		if err := s.repo.Update(ctx, r); err != nil {
			return fmt.Errorf("failed to expire topup request: %w", err)
		}
		expired = true
		req = r
		return nil
	})
	if err != nil || !expired {
		return false, err
	}

	s.logger.Info("topup request expired", zap.String("request_id", req.ID))
	s.notify(ctx, req, notification.TypeTopupExpired, "Top-up expired",
		fmt.Sprintf("Your top-up %s expired because no proof of payment was received. Please create a new request.", req.ID))
	return true, nil
}

// SendReminder sends the single payment reminder for a stale transfer request.
func (s *TopupService) SendReminder(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	sent := false
	var req *topup.Request
	err := s.withRequest(ctx, id, func(r *topup.Request) error {
		if !isStaleTransfer(r, cutoff) || r.ReminderSentAt != nil {
			return nil
		}

		now := s.now()
		r.ReminderSentAt = &now
		r.UpdatedAt = now
		if err := s.repo.Update(ctx, r); err != nil {
			return fmt.Errorf("failed to record reminder: %w", err)
		}
		sent = true
		req = r
		return nil
	})
	if err != nil || !sent {
		return false, err
	}

	s.logger.Info("topup reminder sent", zap.String("request_id", req.ID))
	s.notify(ctx, req, notification.TypeTopupReminder, "Top-up waiting for payment",
		fmt.Sprintf("Your top-up %s of %d is still waiting for proof of payment. Please upload it soon or the request will expire.", req.ID, req.RequestedAmount))
	return true, nil
}

// withRequest runs fn on a freshly loaded request while holding its lock.
func (s *TopupService) withRequest(ctx context.Context, id string, fn func(r *topup.Request) error) error {
	id = refcode.Normalize(id)
	if err := refcode.Validate(refcode.KindTopupRequest, id); err != nil {
		return err
	}

	release, err := s.locker.Acquire(ctx, lock.Key("topup", id))
	if err != nil {
		return err
	}
	defer release()

	r, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, xerrors.ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to get topup request: %w", err)
	}
	return fn(r)
}

// convergeCredited finishes a request whose wallet credit already exists but
// whose status was never advanced. Must be called with the request lock held.
func (s *TopupService) convergeCredited(ctx context.Context, r *topup.Request) (bool, error) {
	entry, err := s.ledger.CreditForRequest(ctx, r.ID)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}

	now := s.now()
	r.Status = topup.StatusVerified
	if r.VerifiedAt == nil {
		r.VerifiedAt = &now
	}
	r.UpdatedAt = now
	if err := s.repo.Update(ctx, r); err != nil {
		return false, fmt.Errorf("failed to finish credited request: %w", err)
	}

	s.logger.Warn("found credited topup request left unverified, marked verified",
		zap.String("request_id", r.ID),
		zap.String("entry_id", entry.ID),
	)
	return true, nil
}

func (s *TopupService) notify(ctx context.Context, req *topup.Request, kind notification.NotificationType, title, message string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, &notification.CreateNotificationRequest{
		AccountID:   req.AccountID,
		Title:       title,
		Message:     message,
		Type:        kind,
		ReferenceID: req.ID,
	})
}

func isStaleTransfer(r *topup.Request, cutoff time.Time) bool {
	return r.Status == topup.StatusPending &&
		r.PaymentPath == topup.PaymentPathTransfer &&
		!r.HasProof() &&
		r.CreatedAt.Before(cutoff)
}

func notesSuffix(notes *string) string {
	if notes == nil {
		return ""
	}
	return " Note: " + *notes
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
