// internal/domain/agent/entity.go
package agent

import (
	"errors"
	"time"
)

var (
	ErrAlreadyRegistered  = errors.New("agent already has a credential")
	ErrIdentityTaken      = errors.New("identity is already bound to another agent")
	ErrCredentialNotFound = errors.New("agent credential not found")
	ErrInvalidPin         = errors.New("invalid agent credentials")
	ErrInvalidOldPin      = errors.New("current pin is incorrect")
	ErrInvalidPinFormat   = errors.New("pin must be 4 to 6 digits")
	ErrTooManyAttempts    = errors.New("too many failed pin attempts, try again later")

	ErrWrongState            = errors.New("agent transaction is not in the required state")
	ErrRequestClosed         = errors.New("linked topup request is already closed")
	ErrOpenTransactionExists = errors.New("topup request already has an open agent transaction")
	ErrNoLinkedRequest       = errors.New("agent transaction has no linked topup request")
	ErrInvalidKind           = errors.New("unknown agent transaction kind")
)

// Credential binds an agent to a contact identity and a hashed PIN.
type Credential struct {
	AgentID        string     `json:"agent_id" db:"agent_id"`
	BoundIdentity  string     `json:"bound_identity" db:"bound_identity"`
	PinHash        string     `json:"-" db:"pin_hash"`
	Active         bool       `json:"active" db:"active"`
	LastVerifiedAt *time.Time `json:"last_verified_at,omitempty" db:"last_verified_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusCompleted TxStatus = "completed"
	TxStatusCancelled TxStatus = "cancelled"
)

// OpenStatuses are the statuses of a transaction still expected to move money.
var OpenStatuses = []TxStatus{TxStatusPending, TxStatusConfirmed}

type Kind string

const (
	KindTopup      Kind = "topup"
	KindCollection Kind = "collection"
)

func (k Kind) Valid() bool {
	return k == KindTopup || k == KindCollection
}

// Transaction records cash collected by an agent on behalf of an account.
type Transaction struct {
	ID                   string     `json:"id" db:"id"`
	LinkedTopupRequestID *string    `json:"linked_topup_request_id,omitempty" db:"linked_topup_request_id"`
	AccountID            string     `json:"account_id" db:"account_id"`
	AgentID              string     `json:"agent_id" db:"agent_id"`
	Amount               int64      `json:"amount" db:"amount"`
	Kind                 Kind       `json:"kind" db:"kind"`
	Status               TxStatus   `json:"status" db:"status"`
	ConfirmedBy          *string    `json:"confirmed_by,omitempty" db:"confirmed_by"`
	ConfirmedAt          *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CancelReason         *string    `json:"cancel_reason,omitempty" db:"cancel_reason"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}

type Period string

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodAll   Period = "all"
)

// Since returns the inclusive lower bound of the period relative to now, in
// now's location. A zero time means unbounded.
func (p Period) Since(now time.Time) (time.Time, bool) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch p {
	case PeriodToday, "":
		return midnight, true
	case PeriodWeek:
		return midnight.AddDate(0, 0, -6), true
	case PeriodMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()), true
	case PeriodAll:
		return time.Time{}, true
	}
	return time.Time{}, false
}

// StatusTotal aggregates the transactions sharing one status.
type StatusTotal struct {
	Status TxStatus `json:"status" db:"status"`
	Count  int64    `json:"count" db:"count"`
	Amount int64    `json:"amount" db:"amount"`
}

type Statistics struct {
	AgentID     string                   `json:"agent_id"`
	Period      Period                   `json:"period"`
	Since       *time.Time               `json:"since,omitempty"`
	ByStatus    map[TxStatus]StatusTotal `json:"by_status"`
	TotalCount  int64                    `json:"total_count"`
	TotalAmount int64                    `json:"total_amount"`
}
