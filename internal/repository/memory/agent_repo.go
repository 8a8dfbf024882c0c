// internal/repository/memory/agent_repo.go
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"settlement-service/internal/domain/agent"
	xerrors "settlement-service/internal/pkg/errors"
)

type CredentialRepository struct {
	mu         sync.RWMutex
	byAgent    map[string]agent.Credential
	byIdentity map[string]string
}

func NewCredentialRepository() *CredentialRepository {
	return &CredentialRepository{
		byAgent:    make(map[string]agent.Credential),
		byIdentity: make(map[string]string),
	}
}

func (r *CredentialRepository) Create(ctx context.Context, c *agent.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byAgent[c.AgentID]; exists {
		return xerrors.ErrDuplicateEntry
	}
	if _, exists := r.byIdentity[c.BoundIdentity]; exists {
		return xerrors.ErrDuplicateEntry
	}
	r.byAgent[c.AgentID] = cloneCredential(*c)
	r.byIdentity[c.BoundIdentity] = c.AgentID
	return nil
}

func (r *CredentialRepository) FindByAgentID(ctx context.Context, agentID string) (*agent.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byAgent[agentID]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	out := cloneCredential(c)
	return &out, nil
}

func (r *CredentialRepository) FindByIdentity(ctx context.Context, boundIdentity string) (*agent.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agentID, ok := r.byIdentity[boundIdentity]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	out := cloneCredential(r.byAgent[agentID])
	return &out, nil
}

func (r *CredentialRepository) Update(ctx context.Context, c *agent.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.byAgent[c.AgentID]
	if !ok {
		return xerrors.ErrNotFound
	}
	if old.BoundIdentity != c.BoundIdentity {
		if owner, taken := r.byIdentity[c.BoundIdentity]; taken && owner != c.AgentID {
			return xerrors.ErrDuplicateEntry
		}
		delete(r.byIdentity, old.BoundIdentity)
		r.byIdentity[c.BoundIdentity] = c.AgentID
	}
	r.byAgent[c.AgentID] = cloneCredential(*c)
	return nil
}

func cloneCredential(c agent.Credential) agent.Credential {
	c.LastVerifiedAt = cloneTime(c.LastVerifiedAt)
	return c
}

type AgentTransactionRepository struct {
	mu  sync.RWMutex
	txs map[string]agent.Transaction
}

func NewAgentTransactionRepository() *AgentTransactionRepository {
	return &AgentTransactionRepository{txs: make(map[string]agent.Transaction)}
}

func (r *AgentTransactionRepository) Create(ctx context.Context, tx *agent.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.txs[tx.ID]; exists {
		return xerrors.ErrDuplicateEntry
	}
	r.txs[tx.ID] = cloneTransaction(*tx)
	return nil
}

func (r *AgentTransactionRepository) FindByID(ctx context.Context, id string) (*agent.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tx, ok := r.txs[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	out := cloneTransaction(tx)
	return &out, nil
}

func (r *AgentTransactionRepository) Update(ctx context.Context, tx *agent.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.txs[tx.ID]; !ok {
		return xerrors.ErrNotFound
	}
	r.txs[tx.ID] = cloneTransaction(*tx)
	return nil
}

func (r *AgentTransactionRepository) List(ctx context.Context, filters *agent.TransactionFilters) ([]agent.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if filters == nil {
		filters = &agent.TransactionFilters{}
	}

	out := []agent.Transaction{}
	for _, tx := range r.txs {
		if filters.AgentID != "" && tx.AgentID != filters.AgentID {
			continue
		}
		if filters.LinkedRequestID != "" && (tx.LinkedTopupRequestID == nil || *tx.LinkedTopupRequestID != filters.LinkedRequestID) {
			continue
		}
		if filters.LinkedOnly && tx.LinkedTopupRequestID == nil {
			continue
		}
		if len(filters.Statuses) > 0 && !containsTxStatus(filters.Statuses, tx.Status) {
			continue
		}
		if filters.CreatedFrom != nil && tx.CreatedAt.Before(*filters.CreatedFrom) {
			continue
		}
		out = append(out, cloneTransaction(tx))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			if filters.OldestFirst {
				return out[i].ID < out[j].ID
			}
			return out[i].ID > out[j].ID
		}
		if filters.OldestFirst {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, nil
}

func (r *AgentTransactionRepository) Totals(ctx context.Context, agentID string, since time.Time) ([]agent.StatusTotal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byStatus := make(map[agent.TxStatus]*agent.StatusTotal)
	for _, tx := range r.txs {
		if tx.AgentID != agentID {
			continue
		}
		if !since.IsZero() && tx.CreatedAt.Before(since) {
			continue
		}
		t, ok := byStatus[tx.Status]
		if !ok {
			t = &agent.StatusTotal{Status: tx.Status}
			byStatus[tx.Status] = t
		}
		t.Count++
		t.Amount += tx.Amount
	}

	out := make([]agent.StatusTotal, 0, len(byStatus))
	for _, t := range byStatus {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

func containsTxStatus(set []agent.TxStatus, s agent.TxStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func cloneTransaction(tx agent.Transaction) agent.Transaction {
	tx.LinkedTopupRequestID = cloneString(tx.LinkedTopupRequestID)
	tx.ConfirmedBy = cloneString(tx.ConfirmedBy)
	tx.ConfirmedAt = cloneTime(tx.ConfirmedAt)
	tx.CompletedAt = cloneTime(tx.CompletedAt)
	tx.CancelReason = cloneString(tx.CancelReason)
	return tx
}
