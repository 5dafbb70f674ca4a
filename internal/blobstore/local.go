package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"
)

const (
	dirMode  = 0o750
	fileMode = 0o640
)

// Local stores blobs on a billy filesystem rooted at the media root.
type Local struct {
	fs billy.Filesystem
}

// NewLocal creates the media root if needed and returns a Local store bound
// to it. Paths resolving outside the root are refused by the filesystem.
func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("blobstore: resolve media root: %w", err)
	}
	if err := os.MkdirAll(abs, dirMode); err != nil {
		return nil, fmt.Errorf("blobstore: create media root: %w", err)
	}
	return NewLocalFS(osfs.New(abs, osfs.WithBoundOS())), nil
}

// NewLocalFS wraps an existing filesystem, e.g. memfs in tests.
func NewLocalFS(fs billy.Filesystem) *Local {
	return &Local{fs: fs}
}

// tempPrefix marks uncommitted uploads. Storage names never start with a dot.
const tempPrefix = ".upload-"

// Put reserves name with an empty placeholder, streams r into a temp file in
// the same namespace and renames it over the placeholder. The final name only
// ever holds zero bytes or the complete blob.
func (l *Local) Put(ctx context.Context, ownerID int64, name string, r io.Reader, _ int64) (_ int64, err error) {
	if err := ValidName(name); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	dir := Namespace(ownerID)
	if err := l.fs.MkdirAll(dir, dirMode); err != nil {
		return 0, fmt.Errorf("%w: create namespace: %v", ErrWrite, err)
	}

	target := l.fs.Join(dir, name)
	placeholder, err := l.fs.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fileMode)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return 0, ErrExists
		}
		return 0, fmt.Errorf("%w: reserve name: %v", ErrWrite, err)
	}
	if err := placeholder.Close(); err != nil {
		_ = l.fs.Remove(target)
		return 0, fmt.Errorf("%w: reserve name: %v", ErrWrite, err)
	}

	tmp := l.fs.Join(dir, tempPrefix+uuid.NewString())
	defer func() {
		if err != nil {
			_ = l.fs.Remove(tmp)
			_ = l.fs.Remove(target)
		}
	}()

	f, err := l.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fileMode)
	if err != nil {
		return 0, fmt.Errorf("%w: create temp file: %v", ErrWrite, err)
	}
	n, err := io.Copy(f, r)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("%w: write file: %v", ErrWrite, err)
	}
	if err := l.fs.Rename(tmp, target); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", ErrWrite, err)
	}
	return n, nil
}

func (l *Local) Get(_ context.Context, ownerID int64, name string) (io.ReadCloser, error) {
	if err := ValidName(name); err != nil {
		return nil, err
	}
	f, err := l.fs.Open(l.fs.Join(Namespace(ownerID), name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blobstore: open: %w", err)
	}
	return f, nil
}

func (l *Local) Delete(_ context.Context, ownerID int64, name string) error {
	if err := ValidName(name); err != nil {
		return err
	}
	err := l.fs.Remove(l.fs.Join(Namespace(ownerID), name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("blobstore: delete: %w", err)
	}
	return nil
}

func (l *Local) DeleteNamespace(_ context.Context, ownerID int64) error {
	if err := util.RemoveAll(l.fs, Namespace(ownerID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("blobstore: delete namespace: %w", err)
	}
	return nil
}

var _ Store = (*Local)(nil)
