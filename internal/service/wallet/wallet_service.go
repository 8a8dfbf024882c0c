// internal/service/wallet/wallet_service.go
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"settlement-service/internal/domain/wallet"
	xerrors "settlement-service/internal/pkg/errors"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type WalletService struct {
	repo   wallet.Repository
	logger *zap.Logger
	now    func() time.Time
}

func NewWalletService(repo wallet.Repository, logger *zap.Logger) *WalletService {
	return &WalletService{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces the time source used for entry timestamps.
func (s *WalletService) SetClock(now func() time.Time) {
	s.now = now
}

// GetBalance returns the account balance; unknown accounts have a zero balance.
func (s *WalletService) GetBalance(ctx context.Context, accountID string) (int64, error) {
	if strings.TrimSpace(accountID) == "" {
		return 0, wallet.ErrInvalidAccount
	}

	account, err := s.repo.FindAccount(ctx, accountID)
	if errors.Is(err, xerrors.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return account.Balance, nil
}

// Credit adds amount to the account, creating it when absent. When
// linkedRequestID is set the credit happens at most once for that request: a
// repeat returns the entry written the first time and leaves the balance alone.
func (s *WalletService) Credit(ctx context.Context, accountID string, amount int64, reason, linkedRequestID string) (*wallet.LedgerEntry, error) {
	if err := validateMutation(accountID, amount, reason); err != nil {
		return nil, err
	}

	if linkedRequestID != "" {
		existing, err := s.findCredit(ctx, linkedRequestID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			s.logger.Info("credit already applied for request",
				zap.String("request_id", linkedRequestID),
				zap.String("entry_id", existing.ID),
			)
			return existing, nil
		}
	}

	var entry *wallet.LedgerEntry
	err := s.repo.Apply(ctx, []string{accountID}, func(accounts map[string]*wallet.Account) ([]*wallet.LedgerEntry, error) {
		account := accounts[accountID]
		if account.Balance > math.MaxInt64-amount {
			return nil, wallet.ErrInvalidAmount
		}
		entry = s.newEntry(accountID, wallet.DirectionCredit, amount, reason, account.Balance+amount)
		if linkedRequestID != "" {
			entry.LinkedRequestID = &linkedRequestID
		}
		return []*wallet.LedgerEntry{entry}, nil
	})

	if errors.Is(err, wallet.ErrDuplicateCredit) {
		// Lost a race with a concurrent credit for the same request.
		existing, findErr := s.findCredit(ctx, linkedRequestID)
		if findErr != nil {
			return nil, findErr
		}
		if existing != nil {
			return existing, nil
		}
	}
	if errors.Is(err, wallet.ErrInvalidAmount) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to credit account: %w", err)
	}

	s.logger.Info("wallet credited",
		zap.String("account_id", accountID),
		zap.Int64("amount", amount),
		zap.Int64("balance", entry.ResultingBalance),
		zap.String("entry_id", entry.ID),
		zap.String("request_id", linkedRequestID),
	)

	return entry, nil
}

// Debit removes amount from the account or fails with ErrInsufficientFunds
// without writing anything.
func (s *WalletService) Debit(ctx context.Context, accountID string, amount int64, reason string) (*wallet.LedgerEntry, error) {
	if err := validateMutation(accountID, amount, reason); err != nil {
		return nil, err
	}

	var entry *wallet.LedgerEntry
	err := s.repo.Apply(ctx, []string{accountID}, func(accounts map[string]*wallet.Account) ([]*wallet.LedgerEntry, error) {
		account := accounts[accountID]
		if account.Balance < amount {
			return nil, wallet.ErrInsufficientFunds
		}
		entry = s.newEntry(accountID, wallet.DirectionDebit, amount, reason, account.Balance-amount)
		return []*wallet.LedgerEntry{entry}, nil
	})
	if errors.Is(err, wallet.ErrInsufficientFunds) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to debit account: %w", err)
	}

	s.logger.Info("wallet debited",
		zap.String("account_id", accountID),
		zap.Int64("amount", amount),
		zap.Int64("balance", entry.ResultingBalance),
		zap.String("entry_id", entry.ID),
	)

	return entry, nil
}

type TransferResult struct {
	Debit  *wallet.LedgerEntry `json:"debit"`
	Credit *wallet.LedgerEntry `json:"credit"`
}

// Transfer moves amount between two accounts. Both entries are written or neither.
func (s *WalletService) Transfer(ctx context.Context, input *wallet.TransferInput) (*TransferResult, error) {
	if err := validateMutation(input.FromAccountID, input.Amount, input.Reason); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.ToAccountID) == "" {
		return nil, wallet.ErrInvalidAccount
	}
	if input.FromAccountID == input.ToAccountID {
		return nil, wallet.ErrSameAccount
	}

	result := &TransferResult{}
	err := s.repo.Apply(ctx, []string{input.FromAccountID, input.ToAccountID}, func(accounts map[string]*wallet.Account) ([]*wallet.LedgerEntry, error) {
		from, to := accounts[input.FromAccountID], accounts[input.ToAccountID]
		if from.Balance < input.Amount {
			return nil, wallet.ErrInsufficientFunds
		}
		if to.Balance > math.MaxInt64-input.Amount {
			return nil, wallet.ErrInvalidAmount
		}
		result.Debit = s.newEntry(from.AccountID, wallet.DirectionDebit, input.Amount, input.Reason, from.Balance-input.Amount)
		result.Credit = s.newEntry(to.AccountID, wallet.DirectionCredit, input.Amount, input.Reason, to.Balance+input.Amount)
		return []*wallet.LedgerEntry{result.Debit, result.Credit}, nil
	})
	if errors.Is(err, wallet.ErrInsufficientFunds) || errors.Is(err, wallet.ErrInvalidAmount) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transfer: %w", err)
	}

	s.logger.Info("wallet transfer completed",
		zap.String("from_account_id", input.FromAccountID),
		zap.String("to_account_id", input.ToAccountID),
		zap.Int64("amount", input.Amount),
	)

	return result, nil
}

// History returns the account's entries, newest first.
func (s *WalletService) History(ctx context.Context, accountID string, limit int) ([]wallet.LedgerEntry, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, wallet.ErrInvalidAccount
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	entries, err := s.repo.History(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	return entries, nil
}

// CreditForRequest returns the credit written for a topup request, or nil.
func (s *WalletService) CreditForRequest(ctx context.Context, requestID string) (*wallet.LedgerEntry, error) {
	return s.findCredit(ctx, requestID)
}

func (s *WalletService) findCredit(ctx context.Context, requestID string) (*wallet.LedgerEntry, error) {
	entry, err := s.repo.FindCreditByRequest(ctx, requestID)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up credit: %w", err)
	}
	return entry, nil
}

func (s *WalletService) newEntry(accountID string, dir wallet.Direction, amount int64, reason string, resulting int64) *wallet.LedgerEntry {
	return &wallet.LedgerEntry{
		ID:               ulid.Make().String(),
		AccountID:        accountID,
		Direction:        dir,
		Amount:           amount,
		Reason:           reason,
		ResultingBalance: resulting,
		CreatedAt:        s.now(),
	}
}

func validateMutation(accountID string, amount int64, reason string) error {
	if strings.TrimSpace(accountID) == "" {
		return wallet.ErrInvalidAccount
	}
	if amount <= 0 {
		return wallet.ErrInvalidAmount
	}
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("%w: reason is required", xerrors.ErrInvalidInput)
	}
	return nil
}
