package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const accountColumns = `id, username, email, full_name, is_admin, created_at`

// PostgresAccountRepo implements AccountRepo using PostgreSQL.
type PostgresAccountRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresAccountRepo creates a PostgresAccountRepo.
func NewPostgresAccountRepo(pool *pgxpool.Pool) *PostgresAccountRepo {
	return &PostgresAccountRepo{pool: pool}
}

func scanAccount(row rowScanner) (*Account, error) {
	a := &Account{}
	if err := row.Scan(&a.ID, &a.Username, &a.Email, &a.FullName, &a.IsAdmin, &a.CreatedAt); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *PostgresAccountRepo) CreateAccount(ctx context.Context, a *Account) error {
	const q = `
INSERT INTO accounts (username, email, full_name, is_admin, created_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`
	err := r.pool.QueryRow(ctx, q, a.Username, a.Email, a.FullName, a.IsAdmin, a.CreatedAt).Scan(&a.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (r *PostgresAccountRepo) GetAccount(ctx context.Context, id int64) (*Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	a, err := scanAccount(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (r *PostgresAccountRepo) ListAccounts(ctx context.Context) ([]*Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []*Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *PostgresAccountRepo) ToggleAdmin(ctx context.Context, id int64) (*Account, error) {
	const q = `UPDATE accounts SET is_admin = NOT is_admin WHERE id = $1 RETURNING ` + accountColumns
	a, err := scanAccount(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("toggle admin: %w", err)
	}
	return a, nil
}

func (r *PostgresAccountRepo) DeleteAccount(ctx context.Context, id int64) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM stored_objects WHERE owner_id = $1`, id); err != nil {
			return fmt.Errorf("delete account objects: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete account: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

var _ AccountRepo = (*PostgresAccountRepo)(nil)
