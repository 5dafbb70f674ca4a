package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type repoFactory func(t *testing.T) (Repo, AccountRepo)

func strPtr(s string) *string { return &s }

func mustAccount(t *testing.T, accounts AccountRepo, username string, admin bool) *Account {
	t.Helper()
	a := &Account{Username: username, Email: username + "@example.com", FullName: username, IsAdmin: admin, CreatedAt: 1000}
	require.NoError(t, accounts.CreateAccount(context.Background(), a))
	require.NotZero(t, a.ID)
	return a
}

func newObject(ownerID int64, storageName string, size, createdAt int64) *Object {
	return &Object{
		Handle:      uuid.NewString(),
		OwnerID:     ownerID,
		DisplayName: storageName,
		StorageName: storageName,
		SizeBytes:   size,
		CreatedAt:   createdAt,
	}
}

func runRepoSuite(t *testing.T, factory repoFactory) {
	t.Run("CreateAndFind", func(t *testing.T) {
		repo, accounts := factory(t)
		ctx := context.Background()
		owner := mustAccount(t, accounts, "alice", false)

		obj := newObject(owner.ID, "1000_a.txt", 42, 1000)
		obj.Comment = strPtr("hello")
		require.NoError(t, repo.Create(ctx, obj))

		got, err := repo.FindByHandle(ctx, obj.Handle)
		require.NoError(t, err)
		assert.Equal(t, obj, got)
	})

	t.Run("FindUnknown", func(t *testing.T) {
		repo, _ := factory(t)
		_, err := repo.FindByHandle(context.Background(), uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("DuplicateHandle", func(t *testing.T) {
		repo, accounts := factory(t)
		ctx := context.Background()
		owner := mustAccount(t, accounts, "bob", false)

		obj := newObject(owner.ID, "1000_a.txt", 1, 1000)
		require.NoError(t, repo.Create(ctx, obj))

		dup := newObject(owner.ID, "1000_b.txt", 1, 1000)
		dup.Handle = obj.Handle
		assert.ErrorIs(t, repo.Create(ctx, dup), ErrDuplicateHandle)
	})

	t.Run("StorageNameConflict", func(t *testing.T) {
		repo, accounts := factory(t)
		ctx := context.Background()
		alice := mustAccount(t, accounts, "alice", false)
		bob := mustAccount(t, accounts, "bob", false)

		require.NoError(t, repo.Create(ctx, newObject(alice.ID, "1000_a.txt", 1, 1000)))
		assert.ErrorIs(t, repo.Create(ctx, newObject(alice.ID, "1000_a.txt", 1, 1000)), ErrConflict)
		// Storage names are only unique per owner.
		assert.NoError(t, repo.Create(ctx, newObject(bob.ID, "1000_a.txt", 1, 1000)))
	})

	t.Run("ListByOwnerNewestFirst", func(t *testing.T) {
		repo, accounts := factory(t)
		ctx := context.Background()
		alice := mustAccount(t, accounts, "alice", false)
		bob := mustAccount(t, accounts, "bob", false)

		old := newObject(alice.ID, "1000_old.txt", 1, 1000)
		mid := newObject(alice.ID, "2000_mid.txt", 1, 2000)
		recent := newObject(alice.ID, "3000_new.txt", 1, 3000)
		for _, o := range []*Object{mid, old, recent, newObject(bob.ID, "5000_x.txt", 1, 5000)} {
			require.NoError(t, repo.Create(ctx, o))
		}

		items, err := repo.ListByOwner(ctx, alice.ID)
		require.NoError(t, err)
		require.Len(t, items, 3)
		assert.Equal(t, recent.Handle, items[0].Handle)
		assert.Equal(t, mid.Handle, items[1].Handle)
		assert.Equal(t, old.Handle, items[2].Handle)

		none, err := repo.ListByOwner(ctx, alice.ID+bob.ID+100)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("UpdateDisplayFields", func(t *testing.T) {
		repo, accounts := factory(t)
		ctx := context.Background()
		owner := mustAccount(t, accounts, "carol", false)
		obj := newObject(owner.ID, "1000_a.txt", 1, 1000)
		require.NoError(t, repo.Create(ctx, obj))

		got, err := repo.UpdateDisplayFields(ctx, obj.Handle, DisplayUpdate{Comment: strPtr("note")})
		require.NoError(t, err)
		require.NotNil(t, got.Comment)
		assert.Equal(t, "note", *got.Comment)
		assert.Equal(t, "1000_a.txt", got.DisplayName)

		got, err = repo.UpdateDisplayFields(ctx, obj.Handle, DisplayUpdate{DisplayName: strPtr("report.txt")})
		require.NoError(t, err)
		assert.Equal(t, "report.txt", got.DisplayName)
		require.NotNil(t, got.Comment)
		assert.Equal(t, "note", *got.Comment)
		assert.Equal(t, "1000_a.txt", got.StorageName)

		got, err = repo.UpdateDisplayFields(ctx, obj.Handle, DisplayUpdate{Comment: strPtr("")})
		require.NoError(t, err)
		assert.Nil(t, got.Comment)

		_, err = repo.UpdateDisplayFields(ctx, uuid.NewString(), DisplayUpdate{Comment: strPtr("x")})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("RecordDownload", func(t *testing.T) {
		repo, accounts := factory(t)
		ctx := context.Background()
		owner := mustAccount(t, accounts, "dave", false)
		obj := newObject(owner.ID, "1000_a.txt", 1, 1000)
		require.NoError(t, repo.Create(ctx, obj))

		require.NoError(t, repo.RecordDownload(ctx, obj.Handle, 5000))
		got, err := repo.FindByHandle(ctx, obj.Handle)
		require.NoError(t, err)
		require.NotNil(t, got.LastDownloadedAt)
		assert.Equal(t, int64(5000), *got.LastDownloadedAt)

		assert.ErrorIs(t, repo.RecordDownload(ctx, uuid.NewString(), 5000), ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		repo, accounts := factory(t)
		ctx := context.Background()
		owner := mustAccount(t, accounts, "erin", false)
		obj := newObject(owner.ID, "1000_a.txt", 1, 1000)
		require.NoError(t, repo.Create(ctx, obj))

		require.NoError(t, repo.Delete(ctx, obj.Handle))
		_, err := repo.FindByHandle(ctx, obj.Handle)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, repo.Delete(ctx, obj.Handle), ErrNotFound)
	})

	t.Run("AggregateForOwner", func(t *testing.T) {
		repo, accounts := factory(t)
		ctx := context.Background()
		owner := mustAccount(t, accounts, "frank", false)

		u, err := repo.AggregateForOwner(ctx, owner.ID)
		require.NoError(t, err)
		assert.Equal(t, Usage{}, u)

		for i, size := range []int64{10, 20, 0} {
			require.NoError(t, repo.Create(ctx, newObject(owner.ID, fmt.Sprintf("1000_%d.bin", i), size, 1000)))
		}
		u, err = repo.AggregateForOwner(ctx, owner.ID)
		require.NoError(t, err)
		assert.Equal(t, Usage{FileCount: 3, TotalBytes: 30}, u)
	})

	t.Run("Accounts", func(t *testing.T) {
		_, accounts := factory(t)
		ctx := context.Background()
		alice := mustAccount(t, accounts, "alice", false)
		root := mustAccount(t, accounts, "root", true)

		dup := &Account{Username: "alice", CreatedAt: 1000}
		assert.ErrorIs(t, accounts.CreateAccount(ctx, dup), ErrConflict)

		list, err := accounts.ListAccounts(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, alice.ID, list[0].ID)
		assert.Equal(t, root.ID, list[1].ID)

		toggled, err := accounts.ToggleAdmin(ctx, alice.ID)
		require.NoError(t, err)
		assert.True(t, toggled.IsAdmin)
		toggled, err = accounts.ToggleAdmin(ctx, alice.ID)
		require.NoError(t, err)
		assert.False(t, toggled.IsAdmin)

		_, err = accounts.ToggleAdmin(ctx, root.ID+alice.ID+100)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = accounts.GetAccount(ctx, root.ID+alice.ID+100)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("DeleteAccountRemovesObjects", func(t *testing.T) {
		repo, accounts := factory(t)
		ctx := context.Background()
		alice := mustAccount(t, accounts, "alice", false)
		bob := mustAccount(t, accounts, "bob", false)
		require.NoError(t, repo.Create(ctx, newObject(alice.ID, "1000_a.txt", 5, 1000)))
		require.NoError(t, repo.Create(ctx, newObject(alice.ID, "1000_b.txt", 7, 1000)))
		require.NoError(t, repo.Create(ctx, newObject(bob.ID, "1000_a.txt", 3, 1000)))

		require.NoError(t, accounts.DeleteAccount(ctx, alice.ID))

		u, err := repo.AggregateForOwner(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, Usage{}, u)
		u, err = repo.AggregateForOwner(ctx, bob.ID)
		require.NoError(t, err)
		assert.Equal(t, Usage{FileCount: 1, TotalBytes: 3}, u)

		_, err = accounts.GetAccount(ctx, alice.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, accounts.DeleteAccount(ctx, alice.ID), ErrNotFound)
	})

	t.Run("ConcurrentRecordDownload", func(t *testing.T) {
		repo, accounts := factory(t)
		ctx := context.Background()
		owner := mustAccount(t, accounts, "gina", false)
		obj := newObject(owner.ID, "1000_a.txt", 1, 1000)
		require.NoError(t, repo.Create(ctx, obj))

		var wg sync.WaitGroup
		errs := make(chan error, 16)
		for i := range 16 {
			wg.Add(1)
			go func(at int64) {
				defer wg.Done()
				errs <- repo.RecordDownload(ctx, obj.Handle, at)
			}(int64(2000 + i))
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}

		got, err := repo.FindByHandle(ctx, obj.Handle)
		require.NoError(t, err)
		require.NotNil(t, got.LastDownloadedAt)
		assert.GreaterOrEqual(t, *got.LastDownloadedAt, int64(2000))
		assert.Equal(t, int64(1), got.SizeBytes)
	})
}
