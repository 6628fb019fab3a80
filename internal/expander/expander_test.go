package expander

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailwarm/internal/model"
)

type fakeCampaignLoader struct {
	campaign *model.Campaign
	err      error
}

func (f *fakeCampaignLoader) FindByID(ctx context.Context, id int64) (*model.Campaign, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.campaign, nil
}

type fakeReserver struct {
	ids   []int64
	err   error
	calls int
}

func (f *fakeReserver) Reserve(ctx context.Context, campaignID int64, poolSize int) ([]int64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.ids, nil
}

type publishedTask struct {
	routingKey string
	task       model.EngagementTaskMessage
	delay      time.Duration
}

type recordingPublisher struct {
	published []publishedTask
	failAfter int // fail on the nth publish, 0 = never
}

func (p *recordingPublisher) PublishWithDelay(routingKey string, payload any, delay time.Duration) error {
	if p.failAfter > 0 && len(p.published)+1 >= p.failAfter {
		return fmt.Errorf("broker connection lost")
	}
	p.published = append(p.published, publishedTask{
		routingKey: routingKey,
		task:       payload.(model.EngagementTaskMessage),
		delay:      delay,
	})
	return nil
}

func activeCampaign(open, click, reply, move float64) *model.Campaign {
	return &model.Campaign{
		ID:              42,
		SenderEmail:     "sender@example.com",
		PoolSize:        2,
		OpenRate:        open,
		ClickRate:       click,
		ReplyRate:       reply,
		MoveToInboxRate: move,
		Status:          model.CampaignStatusActive,
	}
}

func cycleMessage(t *testing.T, campaignID int64) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(model.CampaignCycleMessage{CampaignID: campaignID})
	require.NoError(t, err)
	return raw
}

func TestExpandIndependentSampling(t *testing.T) {
	// open_rate=1 and everything else 0 must yield exactly one open task per
	// reserved account, regardless of the RNG.
	reserver := &fakeReserver{ids: []int64{7, 9}}
	pub := &recordingPublisher{}
	e := New(&fakeCampaignLoader{campaign: activeCampaign(1, 0, 0, 0)}, reserver, pub, 300*time.Second, zap.NewNop())

	err := e.HandleCampaignCycle(context.Background(), cycleMessage(t, 42))
	require.NoError(t, err)

	require.Len(t, pub.published, 2)
	for i, p := range pub.published {
		assert.Equal(t, model.RouteEngagementTask, p.routingKey)
		assert.Equal(t, model.ActionOpen, p.task.ActionType)
		assert.Equal(t, reserver.ids[i], p.task.AccountID)
		assert.Equal(t, "sender@example.com", p.task.SenderEmail)
	}
}

func TestExpandAllActionsSampled(t *testing.T) {
	reserver := &fakeReserver{ids: []int64{7}}
	pub := &recordingPublisher{}
	e := New(&fakeCampaignLoader{campaign: activeCampaign(1, 1, 1, 1)}, reserver, pub, 300*time.Second, zap.NewNop())

	err := e.HandleCampaignCycle(context.Background(), cycleMessage(t, 42))
	require.NoError(t, err)

	require.Len(t, pub.published, 4)
	actions := map[string]bool{}
	for _, p := range pub.published {
		actions[p.task.ActionType] = true
	}
	for _, action := range model.ActionKinds {
		assert.Truef(t, actions[action], "missing %s task", action)
	}
}

func TestExpandDelaysWithinBounds(t *testing.T) {
	reserver := &fakeReserver{ids: []int64{1, 2, 3}}
	pub := &recordingPublisher{}
	e := New(&fakeCampaignLoader{campaign: activeCampaign(1, 1, 1, 1)}, reserver, pub, 300*time.Second, zap.NewNop())

	err := e.HandleCampaignCycle(context.Background(), cycleMessage(t, 42))
	require.NoError(t, err)

	for _, p := range pub.published {
		assert.GreaterOrEqual(t, p.delay, time.Duration(0))
		assert.Less(t, p.delay, 300*time.Second)
	}
}

func TestExpandMissingCampaignDiscards(t *testing.T) {
	reserver := &fakeReserver{}
	pub := &recordingPublisher{}
	e := New(&fakeCampaignLoader{err: pgx.ErrNoRows}, reserver, pub, 300*time.Second, zap.NewNop())

	err := e.HandleCampaignCycle(context.Background(), cycleMessage(t, 42))
	assert.NoError(t, err, "a vanished campaign is acknowledged, not retried")
	assert.Zero(t, reserver.calls)
	assert.Empty(t, pub.published)
}

func TestExpandPausedCampaignDiscards(t *testing.T) {
	campaign := activeCampaign(1, 0, 0, 0)
	campaign.Status = model.CampaignStatusPaused
	reserver := &fakeReserver{ids: []int64{1}}
	pub := &recordingPublisher{}
	e := New(&fakeCampaignLoader{campaign: campaign}, reserver, pub, 300*time.Second, zap.NewNop())

	err := e.HandleCampaignCycle(context.Background(), cycleMessage(t, 42))
	assert.NoError(t, err)
	assert.Zero(t, reserver.calls, "paused campaigns must not touch the allocator")
	assert.Empty(t, pub.published)
}

func TestExpandZeroEligibleAccountsDiscards(t *testing.T) {
	// The whole pool inside its reuse window is normal backpressure.
	reserver := &fakeReserver{ids: nil}
	pub := &recordingPublisher{}
	e := New(&fakeCampaignLoader{campaign: activeCampaign(1, 1, 1, 1)}, reserver, pub, 300*time.Second, zap.NewNop())

	err := e.HandleCampaignCycle(context.Background(), cycleMessage(t, 42))
	assert.NoError(t, err)
	assert.Equal(t, 1, reserver.calls)
	assert.Empty(t, pub.published)
}

func TestExpandReservationFailureRetries(t *testing.T) {
	reserver := &fakeReserver{err: fmt.Errorf("snapshot store unavailable")}
	pub := &recordingPublisher{}
	e := New(&fakeCampaignLoader{campaign: activeCampaign(1, 0, 0, 0)}, reserver, pub, 300*time.Second, zap.NewNop())

	err := e.HandleCampaignCycle(context.Background(), cycleMessage(t, 42))
	assert.Error(t, err, "infrastructure failure must leave the cycle unacked")
}

func TestExpandPublishFailureRetriesWholeCycle(t *testing.T) {
	reserver := &fakeReserver{ids: []int64{1, 2}}
	pub := &recordingPublisher{failAfter: 2}
	e := New(&fakeCampaignLoader{campaign: activeCampaign(1, 0, 0, 0)}, reserver, pub, 300*time.Second, zap.NewNop())

	err := e.HandleCampaignCycle(context.Background(), cycleMessage(t, 42))
	assert.Error(t, err, "partial publication must leave the cycle unacked for full redelivery")
}

func TestExpandMalformedPayloadAcked(t *testing.T) {
	reserver := &fakeReserver{}
	pub := &recordingPublisher{}
	e := New(&fakeCampaignLoader{campaign: activeCampaign(1, 0, 0, 0)}, reserver, pub, 300*time.Second, zap.NewNop())

	err := e.HandleCampaignCycle(context.Background(), json.RawMessage(`{not json`))
	assert.NoError(t, err, "malformed payloads never succeed on redelivery")
	assert.Zero(t, reserver.calls)
}
