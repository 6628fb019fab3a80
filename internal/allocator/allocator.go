package allocator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mailwarm/internal/model"
	"mailwarm/pkg/metrics"
)

// AccountSource is the store view the allocator needs: active accounts,
// least recently used first.
type AccountSource interface {
	ListActiveByRecency(ctx context.Context, limit int) ([]model.PoolAccount, error)
}

// SnapshotStore persists one campaign's reservation state and serializes
// access to it across worker processes. The mapping is accountID to the unix
// millis of its last reservation. Lock blocks until the campaign's state is
// exclusively held and returns the release function.
type SnapshotStore interface {
	Lock(ctx context.Context, campaignID int64) (func(), error)
	Load(ctx context.Context, campaignID int64) (map[int64]int64, error)
	Save(ctx context.Context, campaignID int64, state map[int64]int64) error
}

type Config struct {
	MinReuseInterval time.Duration
	StateRetention   time.Duration
	CandidateFactor  int
}

// Manager serializes reservations per campaign: a local mutex orders
// goroutines in this process, the store lock orders workers across
// processes. State is re-read under the lock on every reservation, so a
// reservation made by another worker is always visible here.
type Manager struct {
	mu     sync.Mutex
	actors map[int64]*sync.Mutex

	accounts  AccountSource
	snapshots SnapshotStore
	cfg       Config
	logger    *zap.Logger

	now func() time.Time
}

func NewManager(accounts AccountSource, snapshots SnapshotStore, cfg Config, logger *zap.Logger) *Manager {
	if cfg.MinReuseInterval <= 0 {
		cfg.MinReuseInterval = time.Hour
	}
	if cfg.StateRetention <= 0 {
		cfg.StateRetention = 24 * time.Hour
	}
	if cfg.CandidateFactor <= 0 {
		cfg.CandidateFactor = 2
	}
	return &Manager{
		actors:    make(map[int64]*sync.Mutex),
		accounts:  accounts,
		snapshots: snapshots,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

func (m *Manager) actorFor(campaignID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	mu, ok := m.actors[campaignID]
	if !ok {
		mu = &sync.Mutex{}
		m.actors[campaignID] = mu
	}
	return mu
}

// Reserve returns up to poolSize active account ids, none of which were
// reserved for this campaign within the reuse window by any worker. The
// selection keeps the store's least-recently-used ordering. The updated
// state is persisted before the ids are returned and before the lock is
// released.
func (m *Manager) Reserve(ctx context.Context, campaignID int64, poolSize int) ([]int64, error) {
	if poolSize <= 0 {
		return nil, nil
	}

	local := m.actorFor(campaignID)
	local.Lock()
	defer local.Unlock()

	unlock, err := m.snapshots.Lock(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock allocator state: %w", err)
	}
	defer unlock()

	state, err := m.snapshots.Load(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to load allocator snapshot: %w", err)
	}
	if state == nil {
		state = make(map[int64]int64)
	}

	// Over-fetch to tolerate reuse-window filtering losses. The factor is a
	// tunable heuristic, not a guaranteed-sufficient bound.
	candidates, err := m.accounts.ListActiveByRecency(ctx, m.cfg.CandidateFactor*poolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidate accounts: %w", err)
	}

	now := m.now()
	cutoff := now.Add(-m.cfg.MinReuseInterval).UnixMilli()

	selected := make([]int64, 0, poolSize)
	for _, acct := range candidates {
		if len(selected) == poolSize {
			break
		}
		if last, ok := state[acct.ID]; ok && last > cutoff {
			continue
		}
		selected = append(selected, acct.ID)
	}

	if len(selected) == 0 {
		metrics.ReservationSize.Observe(0)
		return nil, nil
	}

	stamp := now.UnixMilli()
	for _, id := range selected {
		state[id] = stamp
	}

	if err := m.snapshots.Save(ctx, campaignID, state); err != nil {
		return nil, fmt.Errorf("failed to persist allocator snapshot: %w", err)
	}

	metrics.ReservationSize.Observe(float64(len(selected)))
	m.logger.Info("Accounts reserved",
		zap.Int64("campaign_id", campaignID),
		zap.Int("requested", poolSize),
		zap.Int("reserved", len(selected)),
	)

	return selected, nil
}

// Sweep drops state entries older than the retention horizon for every
// campaign this process has touched and persists the shrunken snapshots.
func (m *Manager) Sweep(ctx context.Context) {
	m.mu.Lock()
	campaignIDs := make([]int64, 0, len(m.actors))
	for id := range m.actors {
		campaignIDs = append(campaignIDs, id)
	}
	m.mu.Unlock()

	horizon := m.now().Add(-m.cfg.StateRetention).UnixMilli()

	for _, campaignID := range campaignIDs {
		local := m.actorFor(campaignID)
		local.Lock()
		m.sweepOne(ctx, campaignID, horizon)
		local.Unlock()
	}
}

func (m *Manager) sweepOne(ctx context.Context, campaignID int64, horizon int64) {
	unlock, err := m.snapshots.Lock(ctx, campaignID)
	if err != nil {
		m.logger.Error("Failed to lock allocator state for sweep",
			zap.Int64("campaign_id", campaignID),
			zap.Error(err),
		)
		return
	}
	defer unlock()

	state, err := m.snapshots.Load(ctx, campaignID)
	if err != nil {
		m.logger.Error("Failed to load snapshot for sweep",
			zap.Int64("campaign_id", campaignID),
			zap.Error(err),
		)
		return
	}

	removed := 0
	for id, ts := range state {
		if ts < horizon {
			delete(state, id)
			removed++
		}
	}
	if removed == 0 {
		return
	}

	if err := m.snapshots.Save(ctx, campaignID, state); err != nil {
		m.logger.Error("Failed to persist swept snapshot",
			zap.Int64("campaign_id", campaignID),
			zap.Error(err),
		)
		return
	}
	m.logger.Info("Allocator state swept",
		zap.Int64("campaign_id", campaignID),
		zap.Int("removed", removed),
		zap.Int("remaining", len(state)),
	)
}

// StartSweeper runs Sweep hourly until ctx is cancelled. This method blocks
// and should be called in a goroutine.
func (m *Manager) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Allocator sweeper stopped")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}
