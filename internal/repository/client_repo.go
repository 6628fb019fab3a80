package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailwarm/internal/model"
)

type ClientRepository struct {
	db *pgxpool.Pool
}

func NewClientRepository(db *pgxpool.Pool) *ClientRepository {
	return &ClientRepository{db: db}
}

func (r *ClientRepository) Create(ctx context.Context, c *model.Client) error {
	query := `
        INSERT INTO clients (email, password_hash, created_at)
        VALUES ($1, $2, NOW())
        RETURNING id, created_at
    `
	return r.db.QueryRow(ctx, query, c.Email, c.PasswordHash).Scan(&c.ID, &c.CreatedAt)
}

func (r *ClientRepository) FindByEmail(ctx context.Context, email string) (*model.Client, error) {
	query := `
        SELECT id, email, password_hash, created_at
        FROM clients
        WHERE email = $1
    `
	var c model.Client
	err := r.db.QueryRow(ctx, query, email).Scan(&c.ID, &c.Email, &c.PasswordHash, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
