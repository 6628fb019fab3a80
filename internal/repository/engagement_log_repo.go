package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailwarm/internal/model"
)

type EngagementLogRepository struct {
	db *pgxpool.Pool
}

func NewEngagementLogRepository(db *pgxpool.Pool) *EngagementLogRepository {
	return &EngagementLogRepository{db: db}
}

// Insert appends one execution record. Rows are never updated or deleted.
func (r *EngagementLogRepository) Insert(ctx context.Context, l *model.EngagementLog) error {
	query := `
        INSERT INTO engagement_logs (campaign_id, account_id, action_type, subject, status, error_message, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW())
        RETURNING id, created_at
    `
	return r.db.QueryRow(ctx, query,
		l.CampaignID,
		l.AccountID,
		l.ActionType,
		l.Subject,
		l.Status,
		l.ErrorMessage,
	).Scan(&l.ID, &l.CreatedAt)
}

// CountByStatus returns success/failed totals for one campaign.
func (r *EngagementLogRepository) CountByStatus(ctx context.Context, campaignID int64) (map[string]int64, error) {
	query := `
        SELECT status, COUNT(*)
        FROM engagement_logs
        WHERE campaign_id = $1
        GROUP BY status
    `
	rows, err := r.db.Query(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int64{
		model.LogStatusSuccess: 0,
		model.LogStatusFailed:  0,
	}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}

	return counts, rows.Err()
}

// CountByAction returns per-action success/failed totals for one campaign.
func (r *EngagementLogRepository) CountByAction(ctx context.Context, campaignID int64) (map[string]map[string]int64, error) {
	query := `
        SELECT action_type, status, COUNT(*)
        FROM engagement_logs
        WHERE campaign_id = $1
        GROUP BY action_type, status
    `
	rows, err := r.db.Query(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]map[string]int64{}
	for rows.Next() {
		var action, status string
		var count int64
		if err := rows.Scan(&action, &status, &count); err != nil {
			return nil, err
		}
		if counts[action] == nil {
			counts[action] = map[string]int64{}
		}
		counts[action][status] = count
	}

	return counts, rows.Err()
}
