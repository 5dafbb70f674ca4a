package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T) (*Local, string) {
	t.Helper()
	root := t.TempDir()
	store, err := NewLocal(root)
	require.NoError(t, err)
	return store, root
}

func readAll(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestLocalPutGetLayout(t *testing.T) {
	store, root := newTestLocal(t)
	ctx := context.Background()

	payload := []byte("hello, cloud")
	n, err := store.Put(ctx, 7, "1000_hello.txt", bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)

	onDisk, err := os.ReadFile(filepath.Join(root, "owner_7", "1000_hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, payload, onDisk)

	rc, err := store.Get(ctx, 7, "1000_hello.txt")
	require.NoError(t, err)
	assert.Equal(t, payload, readAll(t, rc))
}

func TestLocalPutRefusesOverwrite(t *testing.T) {
	store, _ := newTestLocal(t)
	ctx := context.Background()

	_, err := store.Put(ctx, 1, "1000_a.txt", strings.NewReader("first"), -1)
	require.NoError(t, err)

	second := strings.NewReader("second")
	_, err = store.Put(ctx, 1, "1000_a.txt", second, -1)
	assert.ErrorIs(t, err, ErrExists)
	assert.Equal(t, 6, second.Len(), "reader must not be consumed on collision")

	rc, err := store.Get(ctx, 1, "1000_a.txt")
	require.NoError(t, err)
	assert.Equal(t, "first", string(readAll(t, rc)))
}

// peekingReader records the size of the committed name while the copy is in
// flight, then optionally fails.
type peekingReader struct {
	fs      billy.Filesystem
	target  string
	data    io.Reader
	seen    int64
	peeked  bool
	failure error
}

func (p *peekingReader) Read(b []byte) (int, error) {
	if !p.peeked {
		p.peeked = true
		fi, err := p.fs.Stat(p.target)
		if err != nil {
			return 0, err
		}
		p.seen = fi.Size()
	}
	n, err := p.data.Read(b)
	if err == io.EOF && p.failure != nil {
		return n, p.failure
	}
	return n, err
}

func namespaceEntries(t *testing.T, fs billy.Filesystem, ownerID int64) []string {
	t.Helper()
	infos, err := fs.ReadDir(Namespace(ownerID))
	require.NoError(t, err)
	var names []string
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	return names
}

func TestLocalPutCommitsAtomically(t *testing.T) {
	fs := memfs.New()
	store := NewLocalFS(fs)
	ctx := context.Background()

	r := &peekingReader{fs: fs, target: "owner_1/1000_big.bin", data: strings.NewReader("complete payload")}
	n, err := store.Put(ctx, 1, "1000_big.bin", r, -1)
	require.NoError(t, err)
	assert.Equal(t, int64(16), n)
	assert.Zero(t, r.seen, "final name must not hold partial bytes")
	assert.Equal(t, []string{"1000_big.bin"}, namespaceEntries(t, fs, 1))

	rc, err := store.Get(ctx, 1, "1000_big.bin")
	require.NoError(t, err)
	assert.Equal(t, "complete payload", string(readAll(t, rc)))
}

func TestLocalPutFailureLeavesNothing(t *testing.T) {
	fs := memfs.New()
	store := NewLocalFS(fs)
	ctx := context.Background()

	r := &peekingReader{fs: fs, target: "owner_1/1000_cut.bin", data: strings.NewReader("partial"), failure: errors.New("connection reset")}
	_, err := store.Put(ctx, 1, "1000_cut.bin", r, -1)
	require.ErrorIs(t, err, ErrWrite)
	assert.Empty(t, namespaceEntries(t, fs, 1))

	_, err = store.Get(ctx, 1, "1000_cut.bin")
	assert.ErrorIs(t, err, ErrNotFound)

	// The name is free again.
	_, err = store.Put(ctx, 1, "1000_cut.bin", strings.NewReader("retry"), 5)
	require.NoError(t, err)
}

func TestLocalGetMissing(t *testing.T) {
	store, _ := newTestLocal(t)
	_, err := store.Get(context.Background(), 1, "1000_missing.bin")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalDeleteIdempotent(t *testing.T) {
	store, root := newTestLocal(t)
	ctx := context.Background()

	_, err := store.Put(ctx, 2, "1000_x.bin", strings.NewReader("x"), 1)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, 2, "1000_x.bin"))
	require.NoError(t, store.Delete(ctx, 2, "1000_x.bin"))
	require.NoError(t, store.Delete(ctx, 99, "1000_never.bin"))

	_, err = os.Stat(filepath.Join(root, "owner_2", "1000_x.bin"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalDeleteNamespace(t *testing.T) {
	store, root := newTestLocal(t)
	ctx := context.Background()

	for _, name := range []string{"1000_a.txt", "1001_b.txt", "1002_c.txt"} {
		_, err := store.Put(ctx, 3, name, strings.NewReader(name), -1)
		require.NoError(t, err)
	}
	_, err := store.Put(ctx, 4, "1000_keep.txt", strings.NewReader("keep"), -1)
	require.NoError(t, err)

	require.NoError(t, store.DeleteNamespace(ctx, 3))
	require.NoError(t, store.DeleteNamespace(ctx, 3))

	_, err = os.Stat(filepath.Join(root, "owner_3"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "owner_4", "1000_keep.txt"))
	assert.NoError(t, err)
}

func TestLocalRejectsInvalidNames(t *testing.T) {
	store := NewLocalFS(memfs.New())
	ctx := context.Background()

	for _, name := range []string{"", ".", "..", "../owner_2/x", `a\b`, "a/b"} {
		_, err := store.Put(ctx, 1, name, strings.NewReader("x"), 1)
		assert.ErrorIs(t, err, ErrInvalidName, "Put(%q)", name)
		_, err = store.Get(ctx, 1, name)
		assert.ErrorIs(t, err, ErrInvalidName, "Get(%q)", name)
	}
}

func TestLocalMemFS(t *testing.T) {
	store := NewLocalFS(memfs.New())
	ctx := context.Background()

	n, err := store.Put(ctx, 5, "1000_mem.bin", bytes.NewReader(make([]byte, 4096)), 4096)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), n)

	rc, err := store.Get(ctx, 5, "1000_mem.bin")
	require.NoError(t, err)
	assert.Len(t, readAll(t, rc), 4096)

	require.NoError(t, store.DeleteNamespace(ctx, 5))
	_, err = store.Get(ctx, 5, "1000_mem.bin")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNamespace(t *testing.T) {
	assert.Equal(t, "owner_42", Namespace(42))
}
