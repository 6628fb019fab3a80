package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailwarm/internal/model"
)

type fakeCampaignLister struct {
	campaigns []model.Campaign
	err       error
}

func (f *fakeCampaignLister) ListActive(ctx context.Context) ([]model.Campaign, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.campaigns, nil
}

type recordingPublisher struct {
	keys     []string
	payloads []any
	failOn   int // 1-based publish index that errors, 0 for never
}

func (p *recordingPublisher) Publish(routingKey string, payload any) error {
	if p.failOn > 0 && len(p.keys)+1 == p.failOn {
		return fmt.Errorf("channel closed")
	}
	p.keys = append(p.keys, routingKey)
	p.payloads = append(p.payloads, payload)
	return nil
}

func activeCampaigns(ids ...int64) []model.Campaign {
	out := make([]model.Campaign, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Campaign{ID: id, Status: model.CampaignStatusActive})
	}
	return out
}

func TestRunOnceFansOutEveryActiveCampaign(t *testing.T) {
	lister := &fakeCampaignLister{campaigns: activeCampaigns(1, 2, 3)}
	pub := &recordingPublisher{}
	s := New(lister, pub, time.Minute, zap.NewNop())

	require.NoError(t, s.RunOnce(context.Background()))

	require.Len(t, pub.payloads, 3)
	for i, id := range []int64{1, 2, 3} {
		assert.Equal(t, model.RouteCampaignCycle, pub.keys[i])
		assert.Equal(t, model.CampaignCycleMessage{CampaignID: id}, pub.payloads[i])
	}
}

func TestRunOnceEmptyActiveSet(t *testing.T) {
	lister := &fakeCampaignLister{}
	pub := &recordingPublisher{}
	s := New(lister, pub, time.Minute, zap.NewNop())

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Empty(t, pub.payloads)
}

func TestRunOnceListFailureAborts(t *testing.T) {
	lister := &fakeCampaignLister{err: fmt.Errorf("connection refused")}
	pub := &recordingPublisher{}
	s := New(lister, pub, time.Minute, zap.NewNop())

	err := s.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Empty(t, pub.payloads)
}

func TestRunOncePublishFailureAbortsMidFanout(t *testing.T) {
	lister := &fakeCampaignLister{campaigns: activeCampaigns(1, 2, 3)}
	pub := &recordingPublisher{failOn: 2}
	s := New(lister, pub, time.Minute, zap.NewNop())

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "campaign 2")
	require.Len(t, pub.payloads, 1, "fan-out stops at the first failure")
}
