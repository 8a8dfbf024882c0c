// internal/domain/agent/repository.go
package agent

import (
	"context"
	"time"
)

type CredentialRepository interface {
	// Create fails with xerrors.ErrDuplicateEntry when the agent id or the
	// bound identity is already taken.
	Create(ctx context.Context, c *Credential) error
	FindByAgentID(ctx context.Context, agentID string) (*Credential, error)
	FindByIdentity(ctx context.Context, boundIdentity string) (*Credential, error)
	Update(ctx context.Context, c *Credential) error
}

type TransactionRepository interface {
	Create(ctx context.Context, tx *Transaction) error
	FindByID(ctx context.Context, id string) (*Transaction, error)
	Update(ctx context.Context, tx *Transaction) error
	List(ctx context.Context, filters *TransactionFilters) ([]Transaction, error)
	// Totals groups the agent's transactions created at or after since by status.
	// A zero since covers all time.
	Totals(ctx context.Context, agentID string, since time.Time) ([]StatusTotal, error)
}
