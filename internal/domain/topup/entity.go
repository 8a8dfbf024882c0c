// internal/domain/topup/entity.go
package topup

import (
	"errors"
	"time"
)

type PaymentPath string

const (
	PaymentPathTransfer  PaymentPath = "transfer"
	PaymentPathAgentCash PaymentPath = "agent_cash"
)

func (p PaymentPath) Valid() bool {
	return p == PaymentPathTransfer || p == PaymentPathAgentCash
}

type Status string

const (
	StatusPending             Status = "pending"
	StatusWaitingVerification Status = "waiting_verification"
	StatusVerified            Status = "verified"
	StatusRejected            Status = "rejected"
	StatusCancelled           Status = "cancelled"
	StatusExpired             Status = "expired"
)

// ActiveStatuses are the non-terminal statuses.
var ActiveStatuses = []Status{StatusPending, StatusWaitingVerification}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s != StatusPending && s != StatusWaitingVerification
}

var (
	ErrNotPending          = errors.New("topup request is no longer pending")
	ErrWrongPath           = errors.New("operation not allowed for this payment path")
	ErrAmountOutOfRange    = errors.New("amount is outside the allowed range")
	ErrActiveRequestExists = errors.New("account already has an active topup request")
	ErrInvalidPaymentPath  = errors.New("unknown payment path")
	ErrInvalidProof        = errors.New("proof reference is required")
	ErrCashConfirmed       = errors.New("cash already confirmed by the agent, settlement completes this request")
)

type Request struct {
	ID                       string      `json:"id" db:"id"`
	AccountID                string      `json:"account_id" db:"account_id"`
	RequestedAmount          int64       `json:"requested_amount" db:"requested_amount"`
	PaymentPath              PaymentPath `json:"payment_path" db:"payment_path"`
	ChosenAgentID            *string     `json:"chosen_agent_id,omitempty" db:"chosen_agent_id"`
	ProofOfPayment           *string     `json:"proof_of_payment,omitempty" db:"proof_of_payment"`
	Status                   Status      `json:"status" db:"status"`
	LinkedAgentTransactionID *string     `json:"linked_agent_transaction_id,omitempty" db:"linked_agent_transaction_id"`
	VerifiedBy               *string     `json:"verified_by,omitempty" db:"verified_by"`
	VerifiedAt               *time.Time  `json:"verified_at,omitempty" db:"verified_at"`
	Notes                    *string     `json:"notes,omitempty" db:"notes"`
	ReminderSentAt           *time.Time  `json:"reminder_sent_at,omitempty" db:"reminder_sent_at"`
	CreatedAt                time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt                time.Time   `json:"updated_at" db:"updated_at"`
}

// HasProof reports whether a proof of payment has been uploaded.
func (r *Request) HasProof() bool {
	return r.ProofOfPayment != nil && *r.ProofOfPayment != ""
}
