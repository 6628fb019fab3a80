package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailwarm/internal/model"
)

type CampaignRepository struct {
	db *pgxpool.Pool
}

func NewCampaignRepository(db *pgxpool.Pool) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create inserts a campaign and fills in its id.
func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	query := `
        INSERT INTO campaigns (client_id, sender_email, pool_size, open_rate, click_rate, reply_rate, move_to_inbox_rate, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
        RETURNING id, created_at
    `
	return r.db.QueryRow(ctx, query,
		c.ClientID,
		c.SenderEmail,
		c.PoolSize,
		c.OpenRate,
		c.ClickRate,
		c.ReplyRate,
		c.MoveToInboxRate,
		c.Status,
	).Scan(&c.ID, &c.CreatedAt)
}

// FindByID returns a campaign by id.
func (r *CampaignRepository) FindByID(ctx context.Context, id int64) (*model.Campaign, error) {
	query := `
        SELECT id, client_id, sender_email, pool_size, open_rate, click_rate, reply_rate, move_to_inbox_rate, status, created_at, updated_at
        FROM campaigns
        WHERE id = $1
    `
	var c model.Campaign
	err := r.db.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.ClientID,
		&c.SenderEmail,
		&c.PoolSize,
		&c.OpenRate,
		&c.ClickRate,
		&c.ReplyRate,
		&c.MoveToInboxRate,
		&c.Status,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListActive returns every campaign with status = active.
func (r *CampaignRepository) ListActive(ctx context.Context) ([]model.Campaign, error) {
	query := `
        SELECT id, client_id, sender_email, pool_size, open_rate, click_rate, reply_rate, move_to_inbox_rate, status, created_at, updated_at
        FROM campaigns
        WHERE status = 'active'
        ORDER BY id
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []model.Campaign{}
	for rows.Next() {
		var c model.Campaign
		err := rows.Scan(
			&c.ID,
			&c.ClientID,
			&c.SenderEmail,
			&c.PoolSize,
			&c.OpenRate,
			&c.ClickRate,
			&c.ReplyRate,
			&c.MoveToInboxRate,
			&c.Status,
			&c.CreatedAt,
			&c.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}

	return campaigns, rows.Err()
}

// ListByClient returns all campaigns owned by one client.
func (r *CampaignRepository) ListByClient(ctx context.Context, clientID int64) ([]model.Campaign, error) {
	query := `
        SELECT id, client_id, sender_email, pool_size, open_rate, click_rate, reply_rate, move_to_inbox_rate, status, created_at, updated_at
        FROM campaigns
        WHERE client_id = $1
        ORDER BY created_at DESC
    `
	rows, err := r.db.Query(ctx, query, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []model.Campaign{}
	for rows.Next() {
		var c model.Campaign
		err := rows.Scan(
			&c.ID,
			&c.ClientID,
			&c.SenderEmail,
			&c.PoolSize,
			&c.OpenRate,
			&c.ClickRate,
			&c.ReplyRate,
			&c.MoveToInboxRate,
			&c.Status,
			&c.CreatedAt,
			&c.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}

	return campaigns, rows.Err()
}

// UpdateStatus sets campaign lifecycle status.
func (r *CampaignRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	query := `
        UPDATE campaigns
        SET status = $1, updated_at = NOW()
        WHERE id = $2
    `
	_, err := r.db.Exec(ctx, query, status, id)
	return err
}

// UpdateSettings replaces engagement rates and pool size.
func (r *CampaignRepository) UpdateSettings(ctx context.Context, c *model.Campaign) error {
	query := `
        UPDATE campaigns
        SET pool_size = $1, open_rate = $2, click_rate = $3, reply_rate = $4, move_to_inbox_rate = $5, updated_at = NOW()
        WHERE id = $6
    `
	_, err := r.db.Exec(ctx, query,
		c.PoolSize,
		c.OpenRate,
		c.ClickRate,
		c.ReplyRate,
		c.MoveToInboxRate,
		c.ID,
	)
	return err
}
