// Package blobstore persists the raw bytes of stored objects under a
// per-owner namespace. The layout "owner_<id>/<storage name>" below the
// configured root (or bucket prefix) is part of the durable contract.
package blobstore

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
)

var (
	// ErrNotFound is returned when a blob does not exist.
	ErrNotFound = errors.New("blob not found")
	// ErrExists is returned by Put when the name is already taken.
	ErrExists = errors.New("blob already exists")
	// ErrWrite wraps I/O failures while persisting a blob.
	ErrWrite = errors.New("blob write failed")
	// ErrInvalidName is returned for names that would leave the namespace.
	ErrInvalidName = errors.New("invalid blob name")
)

// Store is the byte persistence contract shared by all backends.
type Store interface {
	// Put writes r under the owner's namespace and returns the number of
	// bytes persisted. It never overwrites: an existing name yields
	// ErrExists, possibly after part of r was consumed. size is the declared
	// length or -1.
	Put(ctx context.Context, ownerID int64, name string, r io.Reader, size int64) (int64, error)

	// Get opens a blob for sequential reading. The caller closes it.
	Get(ctx context.Context, ownerID int64, name string) (io.ReadCloser, error)

	// Delete removes a blob. A missing blob is not an error.
	Delete(ctx context.Context, ownerID int64, name string) error

	// DeleteNamespace removes every blob of the owner. A missing namespace
	// is not an error.
	DeleteNamespace(ctx context.Context, ownerID int64) error
}

// Namespace returns the directory (or key prefix) that holds ownerID's blobs.
func Namespace(ownerID int64) string {
	return "owner_" + strconv.FormatInt(ownerID, 10)
}

// ValidName rejects names that are empty or could address anything outside
// a single namespace entry.
func ValidName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return ErrInvalidName
	}
	return nil
}
