package model

import "time"

const (
	ActionOpen        = "open"
	ActionClick       = "click"
	ActionReply       = "reply"
	ActionMoveToInbox = "move_to_inbox"
)

// ActionKinds lists every engagement action in sampling order.
var ActionKinds = []string{ActionOpen, ActionClick, ActionReply, ActionMoveToInbox}

const (
	LogStatusSuccess = "success"
	LogStatusFailed  = "failed"
)

// Routing keys for the two logical channels.
const (
	RouteCampaignCycle  = "campaign.cycle"
	RouteEngagementTask = "engagement.task"
)

// CampaignCycleMessage is one scheduler fan-out entry on the campaign channel.
type CampaignCycleMessage struct {
	CampaignID int64 `json:"campaign_id"`
}

// EngagementTaskMessage is one concrete action on the engagement channel.
// Ephemeral: never persisted as an entity, only its outcome is.
type EngagementTaskMessage struct {
	CampaignID  int64  `json:"campaign_id"`
	AccountID   int64  `json:"account_id"`
	SenderEmail string `json:"sender_email"`
	ActionType  string `json:"action_type"`
}

// EngagementLog is the append-only execution record of one task attempt.
type EngagementLog struct {
	ID           int64     `json:"id"`
	CampaignID   int64     `json:"campaign_id"`
	AccountID    int64     `json:"account_id"`
	ActionType   string    `json:"action_type"`
	Subject      *string   `json:"subject,omitempty"`
	Status       string    `json:"status"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
