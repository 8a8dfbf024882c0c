// internal/domain/topup/dto.go
package topup

import "time"

type CreateRequestInput struct {
	AccountID   string      `json:"account_id" binding:"required,max=64"`
	Amount      int64       `json:"amount" binding:"required,gt=0"`
	PaymentPath PaymentPath `json:"payment_path" binding:"required,oneof=transfer agent_cash"`
	AgentID     string      `json:"agent_id" binding:"omitempty,max=64"`
}

type AttachProofInput struct {
	ProofRef string `json:"proof_ref" binding:"required,max=1024"`
}

type VerifyInput struct {
	Approve *bool  `json:"approve" binding:"required"`
	Notes   string `json:"notes" binding:"max=1000"`
}

// ListFilters narrows a request listing. Zero values mean "no constraint".
type ListFilters struct {
	AccountID     string
	Statuses      []Status
	PaymentPath   PaymentPath
	WithoutProof  bool
	CreatedBefore *time.Time
	Limit         int
	OldestFirst   bool
}
