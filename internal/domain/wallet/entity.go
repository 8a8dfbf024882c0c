// internal/domain/wallet/entity.go
package wallet

import (
	"errors"
	"time"
)

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be a positive integer")
	ErrInvalidAccount    = errors.New("account id is required")
	ErrSameAccount       = errors.New("cannot transfer to the same account")

	// ErrDuplicateCredit is returned by a repository when a credit carrying an
	// already-credited linked request id is applied.
	ErrDuplicateCredit = errors.New("request already credited")
)

// Account is a prepaid wallet. Balance is in the smallest currency unit.
type Account struct {
	AccountID   string    `json:"account_id" db:"account_id"`
	Balance     int64     `json:"balance" db:"balance"`
	DisplayName *string   `json:"display_name,omitempty" db:"display_name"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is an immutable record of one balance change.
type LedgerEntry struct {
	ID               string    `json:"id" db:"id"`
	AccountID        string    `json:"account_id" db:"account_id"`
	Direction        Direction `json:"direction" db:"direction"`
	Amount           int64     `json:"amount" db:"amount"`
	Reason           string    `json:"reason" db:"reason"`
	ResultingBalance int64     `json:"resulting_balance" db:"resulting_balance"`
	LinkedRequestID  *string   `json:"linked_request_id,omitempty" db:"linked_request_id"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// Signed returns the entry amount with its direction applied.
func (e LedgerEntry) Signed() int64 {
	if e.Direction == DirectionDebit {
		return -e.Amount
	}
	return e.Amount
}

// DTOs

type BalanceResponse struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
}

type TransferInput struct {
	FromAccountID string `json:"from_account_id" binding:"required"`
	ToAccountID   string `json:"to_account_id" binding:"required"`
	Amount        int64  `json:"amount" binding:"required,gt=0"`
	Reason        string `json:"reason" binding:"required,max=255"`
}

type DebitInput struct {
	Amount int64  `json:"amount" binding:"required,gt=0"`
	Reason string `json:"reason" binding:"required,max=255"`
}
