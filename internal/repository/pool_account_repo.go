package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailwarm/internal/model"
)

type PoolAccountRepository struct {
	db *pgxpool.Pool
}

func NewPoolAccountRepository(db *pgxpool.Pool) *PoolAccountRepository {
	return &PoolAccountRepository{db: db}
}

// Create inserts a pool account with a sealed credential blob.
func (r *PoolAccountRepository) Create(ctx context.Context, a *model.PoolAccount) error {
	query := `
        INSERT INTO pool_accounts (email, credential, status, created_at)
        VALUES ($1, $2, $3, NOW())
        RETURNING id, created_at
    `
	return r.db.QueryRow(ctx, query, a.Email, a.Credential, a.Status).Scan(&a.ID, &a.CreatedAt)
}

// FindByID returns a pool account by id.
func (r *PoolAccountRepository) FindByID(ctx context.Context, id int64) (*model.PoolAccount, error) {
	query := `
        SELECT id, email, credential, status, last_used_at, created_at
        FROM pool_accounts
        WHERE id = $1
    `
	var a model.PoolAccount
	err := r.db.QueryRow(ctx, query, id).Scan(
		&a.ID,
		&a.Email,
		&a.Credential,
		&a.Status,
		&a.LastUsedAt,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListActiveByRecency returns up to limit active accounts, least recently
// used first. Never-used accounts (NULL last_used_at) sort first so they are
// preferred.
func (r *PoolAccountRepository) ListActiveByRecency(ctx context.Context, limit int) ([]model.PoolAccount, error) {
	query := `
        SELECT id, email, credential, status, last_used_at, created_at
        FROM pool_accounts
        WHERE status = 'active'
        ORDER BY last_used_at ASC NULLS FIRST, id ASC
        LIMIT $1
    `
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []model.PoolAccount{}
	for rows.Next() {
		var a model.PoolAccount
		err := rows.Scan(
			&a.ID,
			&a.Email,
			&a.Credential,
			&a.Status,
			&a.LastUsedAt,
			&a.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}

	return accounts, rows.Err()
}

// TouchLastUsed bumps the advisory last_used_at stamp. Unconditional write:
// concurrent executors may race here and the newest stamp wins either way.
func (r *PoolAccountRepository) TouchLastUsed(ctx context.Context, id int64) error {
	query := `
        UPDATE pool_accounts
        SET last_used_at = NOW()
        WHERE id = $1
    `
	_, err := r.db.Exec(ctx, query, id)
	return err
}

// UpdateCredential persists a refreshed sealed credential blob.
func (r *PoolAccountRepository) UpdateCredential(ctx context.Context, id int64, credential []byte) error {
	query := `
        UPDATE pool_accounts
        SET credential = $1
        WHERE id = $2
    `
	_, err := r.db.Exec(ctx, query, credential, id)
	return err
}

// UpdateStatus sets account status (active, needs_reauth, disabled).
func (r *PoolAccountRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	query := `
        UPDATE pool_accounts
        SET status = $1
        WHERE id = $2
    `
	_, err := r.db.Exec(ctx, query, status, id)
	return err
}
