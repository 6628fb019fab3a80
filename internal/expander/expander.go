package expander

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"mailwarm/internal/model"
	"mailwarm/pkg/logger"
	"mailwarm/pkg/metrics"
)

// CampaignLoader is the store view the expander needs.
type CampaignLoader interface {
	FindByID(ctx context.Context, id int64) (*model.Campaign, error)
}

// Reserver is the allocator's single operation.
type Reserver interface {
	Reserve(ctx context.Context, campaignID int64, poolSize int) ([]int64, error)
}

// DelayPublisher abstracts the engagement channel with scheduled delivery.
type DelayPublisher interface {
	PublishWithDelay(routingKey string, payload any, delay time.Duration) error
}

// Expander turns one campaign cycle message into zero or more delayed
// engagement tasks.
type Expander struct {
	campaigns CampaignLoader
	reserver  Reserver
	publisher DelayPublisher
	maxDelay  time.Duration
	logger    *zap.Logger

	randFloat func() float64
	randDelay func(max time.Duration) time.Duration
}

func New(campaigns CampaignLoader, reserver Reserver, publisher DelayPublisher, maxDelay time.Duration, logger *zap.Logger) *Expander {
	if maxDelay <= 0 {
		maxDelay = 300 * time.Second
	}
	return &Expander{
		campaigns: campaigns,
		reserver:  reserver,
		publisher: publisher,
		maxDelay:  maxDelay,
		logger:    logger,
		randFloat: rand.Float64,
		randDelay: func(max time.Duration) time.Duration {
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
}

// HandleCampaignCycle processes one campaign channel message. A nil return
// acknowledges the message; an error leaves it for redelivery. Redelivery is
// safe: reservation already advanced the allocator clock, so a re-expansion
// reserves fewer or zero accounts and duplicates stay bounded by the reuse
// window.
func (e *Expander) HandleCampaignCycle(ctx context.Context, raw json.RawMessage) error {
	started := time.Now()
	defer func() { metrics.RecordMQConsume(model.RouteCampaignCycle, time.Since(started)) }()

	log := logger.WithTrace(ctx, e.logger)

	var msg model.CampaignCycleMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Error("Failed to unmarshal campaign cycle payload", zap.Error(err))
		// Malformed payloads never succeed on redelivery.
		return nil
	}

	campaign, err := e.campaigns.FindByID(ctx, msg.CampaignID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Deleted between scheduling and processing. Not an error.
			log.Info("Campaign gone, discarding cycle",
				zap.Int64("campaign_id", msg.CampaignID),
			)
			return nil
		}
		return fmt.Errorf("failed to load campaign %d: %w", msg.CampaignID, err)
	}

	if !campaign.IsActive() {
		log.Info("Campaign not active, discarding cycle",
			zap.Int64("campaign_id", campaign.ID),
			zap.String("status", campaign.Status),
		)
		return nil
	}

	accountIDs, err := e.reserver.Reserve(ctx, campaign.ID, campaign.PoolSize)
	if err != nil {
		return fmt.Errorf("reservation failed for campaign %d: %w", campaign.ID, err)
	}

	if len(accountIDs) == 0 {
		// Normal backpressure: the whole pool is inside its reuse window.
		log.Info("No eligible accounts this cycle",
			zap.Int64("campaign_id", campaign.ID),
		)
		return nil
	}

	published := 0
	for _, accountID := range accountIDs {
		for _, action := range model.ActionKinds {
			// Independent Bernoulli trial per action kind. An account may
			// draw zero, one, or all four actions in the same cycle.
			if e.randFloat() >= campaign.Rate(action) {
				continue
			}

			task := model.EngagementTaskMessage{
				CampaignID:  campaign.ID,
				AccountID:   accountID,
				SenderEmail: campaign.SenderEmail,
				ActionType:  action,
			}
			delay := e.randDelay(e.maxDelay)

			if err := e.publisher.PublishWithDelay(model.RouteEngagementTask, task, delay); err != nil {
				// Leave the cycle unacked for full redelivery rather than
				// tracking a partial resend.
				return fmt.Errorf("failed to publish %s task for account %d: %w", action, accountID, err)
			}
			metrics.TasksPublished.WithLabelValues(action).Inc()
			published++
		}
	}

	log.Info("Campaign expanded",
		zap.Int64("campaign_id", campaign.ID),
		zap.Int("accounts", len(accountIDs)),
		zap.Int("tasks", published),
	)
	return nil
}
