// internal/repository/memory/topup_repo.go
package memory

import (
	"context"
	"sort"
	"sync"

	"settlement-service/internal/domain/topup"
	xerrors "settlement-service/internal/pkg/errors"
)

type TopupRepository struct {
	mu       sync.RWMutex
	requests map[string]topup.Request
}

func NewTopupRepository() *TopupRepository {
	return &TopupRepository{requests: make(map[string]topup.Request)}
}

func (r *TopupRepository) Create(ctx context.Context, req *topup.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.requests[req.ID]; exists {
		return xerrors.ErrDuplicateEntry
	}
	r.requests[req.ID] = cloneRequest(*req)
	return nil
}

func (r *TopupRepository) FindByID(ctx context.Context, id string) (*topup.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	out := cloneRequest(req)
	return &out, nil
}

func (r *TopupRepository) Update(ctx context.Context, req *topup.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.requests[req.ID]; !ok {
		return xerrors.ErrNotFound
	}
	r.requests[req.ID] = cloneRequest(*req)
	return nil
}

func (r *TopupRepository) FindActiveForAccount(ctx context.Context, accountID string) (*topup.Request, error) {
	list, err := r.List(ctx, &topup.ListFilters{
		AccountID: accountID,
		Statuses:  topup.ActiveStatuses,
		Limit:     1,
	})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, xerrors.ErrNotFound
	}
	return &list[0], nil
}

func (r *TopupRepository) List(ctx context.Context, filters *topup.ListFilters) ([]topup.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if filters == nil {
		filters = &topup.ListFilters{}
	}

	out := []topup.Request{}
	for _, req := range r.requests {
		if filters.AccountID != "" && req.AccountID != filters.AccountID {
			continue
		}
		if len(filters.Statuses) > 0 && !containsStatus(filters.Statuses, req.Status) {
			continue
		}
		if filters.PaymentPath != "" && req.PaymentPath != filters.PaymentPath {
			continue
		}
		if filters.WithoutProof && req.HasProof() {
			continue
		}
		if filters.CreatedBefore != nil && !req.CreatedAt.Before(*filters.CreatedBefore) {
			continue
		}
		out = append(out, cloneRequest(req))
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

func containsStatus(set []topup.Status, s topup.Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func cloneRequest(req topup.Request) topup.Request {
	req.ChosenAgentID = cloneString(req.ChosenAgentID)
	req.ProofOfPayment = cloneString(req.ProofOfPayment)
	req.LinkedAgentTransactionID = cloneString(req.LinkedAgentTransactionID)
	req.VerifiedBy = cloneString(req.VerifiedBy)
	req.VerifiedAt = cloneTime(req.VerifiedAt)
	req.Notes = cloneString(req.Notes)
	req.ReminderSentAt = cloneTime(req.ReminderSentAt)
	return req
}
