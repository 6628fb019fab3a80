package model

import "time"

const (
	CampaignStatusActive    = "active"
	CampaignStatusPaused    = "paused"
	CampaignStatusCompleted = "completed"
)

type Campaign struct {
	ID              int64      `json:"id"`
	ClientID        int64      `json:"client_id"`
	SenderEmail     string     `json:"sender_email"`
	PoolSize        int        `json:"pool_size"`
	OpenRate        float64    `json:"open_rate"`
	ClickRate       float64    `json:"click_rate"`
	ReplyRate       float64    `json:"reply_rate"`
	MoveToInboxRate float64    `json:"move_to_inbox_rate"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

func (c *Campaign) IsActive() bool {
	return c.Status == CampaignStatusActive
}

// Rate returns the configured probability for one action kind.
func (c *Campaign) Rate(action string) float64 {
	switch action {
	case ActionOpen:
		return c.OpenRate
	case ActionClick:
		return c.ClickRate
	case ActionReply:
		return c.ReplyRate
	case ActionMoveToInbox:
		return c.MoveToInboxRate
	}
	return 0
}
