package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailwarm/internal/model"
	"mailwarm/pkg/metrics"
)

// CampaignLister is the store view the scheduler needs.
type CampaignLister interface {
	ListActive(ctx context.Context) ([]model.Campaign, error)
}

// Publisher abstracts the campaign channel.
type Publisher interface {
	Publish(routingKey string, payload any) error
}

// Scheduler fans active campaigns out onto the campaign channel on a fixed
// period. It mutates no state; a failed run is simply retried whole on the
// next tick, which is idempotent because duplicate cycle messages only cause
// redundant, rate-limit-respecting expansions.
type Scheduler struct {
	campaigns CampaignLister
	publisher Publisher
	interval  time.Duration
	logger    *zap.Logger
}

func New(campaigns CampaignLister, publisher Publisher, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{
		campaigns: campaigns,
		publisher: publisher,
		interval:  interval,
		logger:    logger,
	}
}

// RunOnce enumerates the active set and publishes one cycle message per
// campaign. Any failure aborts the run; the remainder is never silently
// skipped.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	campaigns, err := s.campaigns.ListActive(ctx)
	if err != nil {
		metrics.SchedulerCycles.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to list active campaigns: %w", err)
	}

	if len(campaigns) == 0 {
		s.logger.Debug("No active campaigns to schedule")
		metrics.SchedulerCycles.WithLabelValues("ok").Inc()
		return nil
	}

	for _, c := range campaigns {
		payload := model.CampaignCycleMessage{CampaignID: c.ID}
		if err := s.publisher.Publish(model.RouteCampaignCycle, payload); err != nil {
			metrics.SchedulerCycles.WithLabelValues("failed").Inc()
			return fmt.Errorf("failed to publish cycle for campaign %d: %w", c.ID, err)
		}
		metrics.CampaignsScheduled.Inc()
	}

	s.logger.Info("Campaign cycle published",
		zap.Int("campaigns", len(campaigns)),
	)
	metrics.SchedulerCycles.WithLabelValues("ok").Inc()
	return nil
}

// Start runs the fan-out immediately and then on every tick until ctx is
// cancelled. This method blocks and should be called in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("Scheduler run failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("Scheduler run failed", zap.Error(err))
			}
		}
	}
}
