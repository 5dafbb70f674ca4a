// Package access decides who may act on stored objects.
//
// Downloads are open to anyone holding a handle. Listing, upload, edit and
// delete need an identity, and edits and deletes need the caller to own the
// object or be an admin.
package access

import (
	"context"

	"github.com/juju/errors"
)

// Identity is the authenticated caller.
type Identity struct {
	AccountID int64
	IsAdmin   bool
}

type ctxKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored in ctx, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(ctxKey{}).(*Identity)
	return id
}

// Authorize allows the owner of an object and admins.
func Authorize(id *Identity, ownerID int64) error {
	if id == nil {
		return errors.Unauthorizedf("authentication required")
	}
	if id.IsAdmin || id.AccountID == ownerID {
		return nil
	}
	return errors.Forbiddenf("object belongs to another account")
}

// RequireIdentity fails when the caller is anonymous.
func RequireIdentity(id *Identity) error {
	if id == nil {
		return errors.Unauthorizedf("authentication required")
	}
	return nil
}

// RequireAdmin allows admins only.
func RequireAdmin(id *Identity) error {
	if err := RequireIdentity(id); err != nil {
		return err
	}
	if !id.IsAdmin {
		return errors.Forbiddenf("admin privileges required")
	}
	return nil
}
