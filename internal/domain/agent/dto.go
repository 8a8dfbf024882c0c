// internal/domain/agent/dto.go
package agent

import "time"

type RegisterCredentialInput struct {
	AgentID       string `json:"agent_id" binding:"required,max=64"`
	BoundIdentity string `json:"bound_identity" binding:"required,max=128"`
	Pin           string `json:"pin" binding:"required"`
}

type RotatePinInput struct {
	BoundIdentity string `json:"bound_identity" binding:"required"`
	OldPin        string `json:"old_pin" binding:"required"`
	NewPin        string `json:"new_pin" binding:"required"`
}

type ConfirmInput struct {
	BoundIdentity string `json:"bound_identity" binding:"required"`
	Pin           string `json:"pin" binding:"required"`
}

type CancelInput struct {
	Reason string `json:"reason" binding:"max=500"`
}

type CreateTransactionInput struct {
	LinkedTopupRequestID string `json:"linked_topup_request_id"`
	AccountID            string `json:"account_id" binding:"required,max=64"`
	AgentID              string `json:"agent_id" binding:"required,max=64"`
	Amount               int64  `json:"amount" binding:"required,gt=0"`
	Kind                 Kind   `json:"kind" binding:"required,oneof=topup collection"`
}

// TransactionFilters narrows a transaction listing. Zero values mean "no constraint".
type TransactionFilters struct {
	AgentID         string
	LinkedRequestID string
	LinkedOnly      bool
	Statuses        []TxStatus
	CreatedFrom     *time.Time
	Limit           int
	OldestFirst     bool
}
