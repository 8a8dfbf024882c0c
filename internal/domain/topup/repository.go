// internal/domain/topup/repository.go
package topup

import "context"

type Repository interface {
	// Create fails with xerrors.ErrDuplicateEntry when the id is taken.
	Create(ctx context.Context, r *Request) error
	FindByID(ctx context.Context, id string) (*Request, error)
	Update(ctx context.Context, r *Request) error
	// FindActiveForAccount returns the newest non-terminal request or xerrors.ErrNotFound.
	FindActiveForAccount(ctx context.Context, accountID string) (*Request, error)
	List(ctx context.Context, filters *ListFilters) ([]Request, error)
}
