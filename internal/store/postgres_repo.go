package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"

	objectsPKey = "stored_objects_pkey"
)

const objectColumns = `handle, owner_id, display_name, storage_name, size_bytes, created_at, last_downloaded_at, comment`

// PostgresRepo implements Repo using PostgreSQL.
type PostgresRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresRepo creates a new PostgresRepo.
func NewPostgresRepo(pool *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObject(row rowScanner) (*Object, error) {
	o := &Object{}
	err := row.Scan(&o.Handle, &o.OwnerID, &o.DisplayName, &o.StorageName,
		&o.SizeBytes, &o.CreatedAt, &o.LastDownloadedAt, &o.Comment)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (r *PostgresRepo) Create(ctx context.Context, obj *Object) error {
	const q = `INSERT INTO stored_objects (` + objectColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, q,
		obj.Handle,
		obj.OwnerID,
		obj.DisplayName,
		obj.StorageName,
		obj.SizeBytes,
		obj.CreatedAt,
		obj.LastDownloadedAt,
		obj.Comment,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch {
			case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == objectsPKey:
				return ErrDuplicateHandle
			case pgErr.Code == pgUniqueViolation:
				return ErrConflict
			case pgErr.Code == pgForeignKeyViolation:
				return fmt.Errorf("owner %d: %w", obj.OwnerID, ErrNotFound)
			}
		}
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

func (r *PostgresRepo) FindByHandle(ctx context.Context, handle string) (*Object, error) {
	const q = `SELECT ` + objectColumns + ` FROM stored_objects WHERE handle = $1`
	obj, err := scanObject(r.pool.QueryRow(ctx, q, handle))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query: %w", err)
	}
	return obj, nil
}

func (r *PostgresRepo) ListByOwner(ctx context.Context, ownerID int64) ([]*Object, error) {
	const q = `SELECT ` + objectColumns + ` FROM stored_objects
WHERE owner_id = $1
ORDER BY created_at DESC, handle DESC`

	rows, err := r.pool.Query(ctx, q, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	items := []*Object{}
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		items = append(items, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return items, nil
}

func (r *PostgresRepo) UpdateDisplayFields(ctx context.Context, handle string, upd DisplayUpdate) (*Object, error) {
	const q = `UPDATE stored_objects SET
    display_name = COALESCE($2::text, display_name),
    comment = CASE WHEN $3::boolean THEN NULLIF($4::text, '') ELSE comment END
WHERE handle = $1
RETURNING ` + objectColumns

	var comment string
	if upd.Comment != nil {
		comment = *upd.Comment
	}
	obj, err := scanObject(r.pool.QueryRow(ctx, q, handle, upd.DisplayName, upd.Comment != nil, comment))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update: %w", err)
	}
	return obj, nil
}

func (r *PostgresRepo) RecordDownload(ctx context.Context, handle string, at int64) error {
	const q = `UPDATE stored_objects SET last_downloaded_at = $2 WHERE handle = $1`
	tag, err := r.pool.Exec(ctx, q, handle, at)
	if err != nil {
		return fmt.Errorf("record download: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) Delete(ctx context.Context, handle string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM stored_objects WHERE handle = $1`, handle)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) AggregateForOwner(ctx context.Context, ownerID int64) (Usage, error) {
	const q = `SELECT COUNT(*), COALESCE(SUM(size_bytes), 0)::bigint FROM stored_objects WHERE owner_id = $1`
	var u Usage
	if err := r.pool.QueryRow(ctx, q, ownerID).Scan(&u.FileCount, &u.TotalBytes); err != nil {
		return Usage{}, fmt.Errorf("aggregate: %w", err)
	}
	return u, nil
}

var _ Repo = (*PostgresRepo)(nil)
