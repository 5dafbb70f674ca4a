package store

import "context"

// Repo is the metadata index for stored objects.
type Repo interface {
	// Create inserts a new object. Returns ErrDuplicateHandle if the handle
	// exists and ErrConflict if the owner already uses the storage name.
	Create(ctx context.Context, obj *Object) error

	// FindByHandle returns ErrNotFound for unknown handles.
	FindByHandle(ctx context.Context, handle string) (*Object, error)

	// ListByOwner returns the owner's objects, newest first
	// (created_at DESC, handle DESC).
	ListByOwner(ctx context.Context, ownerID int64) ([]*Object, error)

	// UpdateDisplayFields applies a partial update and returns the new row.
	UpdateDisplayFields(ctx context.Context, handle string, upd DisplayUpdate) (*Object, error)

	// RecordDownload sets the last-download timestamp.
	RecordDownload(ctx context.Context, handle string, at int64) error

	// Delete removes the row. Blob removal is the caller's job.
	Delete(ctx context.Context, handle string) error

	// AggregateForOwner counts the owner's objects and sums their sizes;
	// an owner without objects yields a zero Usage.
	AggregateForOwner(ctx context.Context, ownerID int64) (Usage, error)
}

// AccountRepo exposes the account operations the storage service needs.
type AccountRepo interface {
	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, id int64) (*Account, error)
	ListAccounts(ctx context.Context) ([]*Account, error)
	// ToggleAdmin flips the admin flag and returns the updated account.
	ToggleAdmin(ctx context.Context, id int64) (*Account, error)
	// DeleteAccount removes the account together with its object rows.
	DeleteAccount(ctx context.Context, id int64) error
}
