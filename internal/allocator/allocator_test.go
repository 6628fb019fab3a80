package allocator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailwarm/internal/model"
)

type fakeAccountSource struct {
	accounts []model.PoolAccount
	err      error
}

func (f *fakeAccountSource) ListActiveByRecency(ctx context.Context, limit int) ([]model.PoolAccount, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit > len(f.accounts) {
		limit = len(f.accounts)
	}
	return f.accounts[:limit], nil
}

type memorySnapshotStore struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
	data  map[int64]map[int64]int64
	saves int
	err   error
}

func newMemorySnapshotStore() *memorySnapshotStore {
	return &memorySnapshotStore{
		locks: make(map[int64]*sync.Mutex),
		data:  make(map[int64]map[int64]int64),
	}
}

func (s *memorySnapshotStore) Lock(ctx context.Context, campaignID int64) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[campaignID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[campaignID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock, nil
}

func (s *memorySnapshotStore) Load(ctx context.Context, campaignID int64) (map[int64]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := make(map[int64]int64, len(s.data[campaignID]))
	for k, v := range s.data[campaignID] {
		state[k] = v
	}
	return state, nil
}

func (s *memorySnapshotStore) Save(ctx context.Context, campaignID int64, state map[int64]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	copied := make(map[int64]int64, len(state))
	for k, v := range state {
		copied[k] = v
	}
	s.data[campaignID] = copied
	s.saves++
	return nil
}

func poolOf(n int) []model.PoolAccount {
	accounts := make([]model.PoolAccount, 0, n)
	for i := 1; i <= n; i++ {
		accounts = append(accounts, model.PoolAccount{
			ID:     int64(i),
			Email:  fmt.Sprintf("pool%d@example.com", i),
			Status: model.AccountStatusActive,
		})
	}
	return accounts
}

func newTestManager(source AccountSource, store SnapshotStore) *Manager {
	return NewManager(source, store, Config{
		MinReuseInterval: time.Hour,
		StateRetention:   24 * time.Hour,
		CandidateFactor:  2,
	}, zap.NewNop())
}

func TestReserveUpperBound(t *testing.T) {
	m := newTestManager(&fakeAccountSource{accounts: poolOf(10)}, newMemorySnapshotStore())

	ids, err := m.Reserve(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}

func TestReserveNoDoubleAllocationWithinWindow(t *testing.T) {
	m := newTestManager(&fakeAccountSource{accounts: poolOf(4)}, newMemorySnapshotStore())
	ctx := context.Background()

	first, err := m.Reserve(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := m.Reserve(ctx, 1, 2)
	require.NoError(t, err)

	for _, id := range second {
		assert.NotContains(t, first, id, "account reserved twice inside the reuse window")
	}
}

func TestReserveIdempotentReExpansion(t *testing.T) {
	// Pool of exactly poolSize: re-delivering the same cycle must yield zero
	// newly reserved accounts, never a repeat.
	m := newTestManager(&fakeAccountSource{accounts: poolOf(2)}, newMemorySnapshotStore())
	ctx := context.Background()

	first, err := m.Reserve(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := m.Reserve(ctx, 1, 2)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestReserveAgainAfterWindowElapses(t *testing.T) {
	m := newTestManager(&fakeAccountSource{accounts: poolOf(2)}, newMemorySnapshotStore())
	ctx := context.Background()

	base := time.Now()
	m.now = func() time.Time { return base }

	first, err := m.Reserve(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)

	m.now = func() time.Time { return base.Add(61 * time.Minute) }

	second, err := m.Reserve(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, second, 2)
}

func TestReserveSurvivesRestart(t *testing.T) {
	store := newMemorySnapshotStore()
	source := &fakeAccountSource{accounts: poolOf(10)}
	base := time.Now()

	m1 := newTestManager(source, store)
	m1.now = func() time.Time { return base }

	ids, err := m1.Reserve(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Contains(t, ids, int64(7))

	// A fresh instance reading the same snapshot must refuse account 7
	// before the window elapses.
	m2 := newTestManager(source, store)
	m2.now = func() time.Time { return base.Add(30 * time.Minute) }

	again, err := m2.Reserve(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.NotContains(t, again, int64(7))
}

func TestReserveSeesOtherWorkersReservations(t *testing.T) {
	// Two managers over one store model two worker processes consuming the
	// same campaign channel. A reservation made by either must hold the
	// reuse window against both.
	store := newMemorySnapshotStore()
	source := &fakeAccountSource{accounts: poolOf(2)}
	ctx := context.Background()
	base := time.Now()

	m1 := newTestManager(source, store)
	m2 := newTestManager(source, store)

	m1.now = func() time.Time { return base }
	first, err := m1.Reserve(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)

	m2.now = func() time.Time { return base.Add(61 * time.Minute) }
	second, err := m2.Reserve(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, second, 2)

	// m2's reservations are only nine minutes old from m1's point of view.
	m1.now = func() time.Time { return base.Add(70 * time.Minute) }
	third, err := m1.Reserve(ctx, 1, 2)
	require.NoError(t, err)
	assert.Empty(t, third, "accounts reserved by another instance inside the window must not be re-reserved")
}

func TestReservePersistsBeforeReturning(t *testing.T) {
	store := newMemorySnapshotStore()
	m := newTestManager(&fakeAccountSource{accounts: poolOf(3)}, store)

	_, err := m.Reserve(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, store.saves)
	assert.Len(t, store.data[1], 3)
}

func TestReserveSaveFailureLeavesStateClean(t *testing.T) {
	store := newMemorySnapshotStore()
	store.err = fmt.Errorf("redis down")
	m := newTestManager(&fakeAccountSource{accounts: poolOf(3)}, store)

	_, err := m.Reserve(context.Background(), 1, 3)
	require.Error(t, err)

	// The failed attempt must not leave reservations behind that were
	// never persisted.
	store.err = nil
	ids, err := m.Reserve(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}

func TestReserveSerializedPerCampaign(t *testing.T) {
	m := newTestManager(&fakeAccountSource{accounts: poolOf(20)}, newMemorySnapshotStore())
	ctx := context.Background()

	var mu sync.Mutex
	seen := map[int64]int{}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids, err := m.Reserve(ctx, 1, 5)
			if err != nil {
				return
			}
			mu.Lock()
			for _, id := range ids {
				seen[id]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	for id, count := range seen {
		assert.Equalf(t, 1, count, "account %d reserved %d times concurrently", id, count)
	}
}

func TestSweepDropsExpiredEntries(t *testing.T) {
	store := newMemorySnapshotStore()
	m := newTestManager(&fakeAccountSource{accounts: poolOf(3)}, store)

	base := time.Now()
	m.now = func() time.Time { return base }

	_, err := m.Reserve(context.Background(), 1, 3)
	require.NoError(t, err)

	m.now = func() time.Time { return base.Add(25 * time.Hour) }
	m.Sweep(context.Background())

	assert.Empty(t, store.data[1], "entries past the retention horizon should be gone")

	// And the accounts are immediately reservable again.
	ids, err := m.Reserve(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}
