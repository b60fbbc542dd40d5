package account

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proptrade/engine/types"
)

type fakeStore struct {
	mu        sync.Mutex
	accounts  map[string]types.Account
	plans     map[string]types.Plan
	loads     int
	planLoads int
	updates   int
	failWrite bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts: make(map[string]types.Account),
		plans:    make(map[string]types.Plan),
	}
}

func (s *fakeStore) LoadAccount(id string) (*types.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	a, ok := s.accounts[id]
	if !ok {
		return nil, types.ErrAccountNotFound
	}
	cp := a
	return &cp, nil
}

func (s *fakeStore) UpdateAccount(a types.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite {
		return errors.New("db down")
	}
	s.updates++
	s.accounts[a.ID] = a
	return nil
}

func (s *fakeStore) LoadPlan(id string) (*types.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.planLoads++
	p, ok := s.plans[id]
	if !ok {
		return nil, errors.New("plan not found")
	}
	cp := p
	return &cp, nil
}

func newTestManager(store Store) *Manager {
	return NewManager(store, 100*time.Millisecond, 50*time.Millisecond, time.Hour)
}

func TestGetLoadsOnMissAndCaches(t *testing.T) {
	store := newFakeStore()
	store.accounts["a1"] = types.Account{ID: "a1", CurrentBalance: decimal.NewFromInt(10000)}
	m := newTestManager(store)

	a, err := m.Get("a1")
	require.NoError(t, err)
	assert.True(t, a.CurrentBalance.Equal(decimal.NewFromInt(10000)))

	_, err = m.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.loads)
}

func TestGetUnknownAccount(t *testing.T) {
	m := newTestManager(newFakeStore())
	_, err := m.Get("missing")
	assert.ErrorIs(t, err, types.ErrAccountNotFound)
}

func TestUpdatePatchesAndMarksDirty(t *testing.T) {
	store := newFakeStore()
	store.accounts["a1"] = types.Account{ID: "a1", CurrentBalance: decimal.NewFromInt(10000)}
	m := newTestManager(store)

	_, err := m.Get("a1")
	require.NoError(t, err)

	err = m.WithUserLock("a1", func() error {
		return m.Update("a1", func(a *types.Account) {
			a.CurrentBalance = a.CurrentBalance.Sub(decimal.NewFromInt(100))
		})
	})
	require.NoError(t, err)

	a, _ := m.Get("a1")
	assert.True(t, a.CurrentBalance.Equal(decimal.NewFromInt(9900)))

	m.Flush()
	assert.Equal(t, 1, store.updates)
	assert.True(t, store.accounts["a1"].CurrentBalance.Equal(decimal.NewFromInt(9900)))
}

func TestFlushFailureRemarksDirty(t *testing.T) {
	store := newFakeStore()
	store.accounts["a1"] = types.Account{ID: "a1"}
	m := newTestManager(store)

	_, err := m.Get("a1")
	require.NoError(t, err)
	m.MarkDirty("a1")

	store.mu.Lock()
	store.failWrite = true
	store.mu.Unlock()
	m.Flush()

	store.mu.Lock()
	store.failWrite = false
	store.mu.Unlock()
	m.Flush()
	assert.Equal(t, 1, store.updates)
}

func TestWithLockBusy(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)

	require.True(t, m.locks.Acquire("a1", time.Millisecond))
	defer m.locks.Release("a1")

	err := m.WithLock("a1", 10*time.Millisecond, func() error { return nil })
	assert.ErrorIs(t, err, types.ErrAccountBusy)
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	m := newTestManager(newFakeStore())

	assert.Panics(t, func() {
		_ = m.WithUserLock("a1", func() error { panic("boom") })
	})

	// Slot must be free again.
	assert.NoError(t, m.WithUserLock("a1", func() error { return nil }))
}

func TestInvalidateDropsCache(t *testing.T) {
	store := newFakeStore()
	store.accounts["a1"] = types.Account{ID: "a1"}
	m := newTestManager(store)

	_, err := m.Get("a1")
	require.NoError(t, err)
	m.Invalidate("a1")

	_, err = m.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, 2, store.loads)
}

func TestPlanCached(t *testing.T) {
	store := newFakeStore()
	store.plans["p1"] = types.Plan{ID: "p1", MaintenanceMargin: decimal.NewFromFloat(0.004)}
	m := newTestManager(store)

	p, err := m.Plan("p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)

	_, err = m.Plan("p1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.planLoads)
}

func TestRolloverDayResetsDailyState(t *testing.T) {
	store := newFakeStore()
	lastTrade := time.Now().UTC().Truncate(24 * time.Hour).Add(-2 * time.Hour) // 22:00 prior day
	store.accounts["a1"] = types.Account{
		ID:                   "a1",
		CurrentBalance:       decimal.NewFromInt(9800),
		DailyStartingBalance: decimal.NewFromInt(10000),
		DailyPnL:             decimal.NewFromInt(-200),
		TradingDays:          3,
		LastTradeAt:          lastTrade,
	}
	m := newTestManager(store)
	_, err := m.Get("a1")
	require.NoError(t, err)

	m.RolloverDay(time.Now())

	a, _ := m.Get("a1")
	assert.True(t, a.DailyPnL.IsZero())
	assert.True(t, a.DailyStartingBalance.Equal(decimal.NewFromInt(9800)))
	assert.Equal(t, 4, a.TradingDays)

	// The reset reaches the store on the next flush.
	m.Flush()
	store.mu.Lock()
	persisted := store.accounts["a1"]
	store.mu.Unlock()
	assert.True(t, persisted.DailyPnL.IsZero())

	// No trades since: the next rollover rebaselines without adding a day.
	m.RolloverDay(time.Now().Add(24 * time.Hour))
	a, _ = m.Get("a1")
	assert.Equal(t, 4, a.TradingDays)
	assert.True(t, a.DailyStartingBalance.Equal(decimal.NewFromInt(9800)))
}

func TestPrimeSeedsCacheForMonitoring(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)

	m.Prime([]types.Account{
		{ID: "a1", Status: types.Active, CurrentBalance: decimal.NewFromInt(10000)},
		{ID: "a2", Status: types.Active, CurrentBalance: decimal.NewFromInt(5000)},
	})
	assert.ElementsMatch(t, []string{"a1", "a2"}, m.CachedIDs())

	// Primed entries serve reads without a store round trip.
	a, err := m.Get("a1")
	require.NoError(t, err)
	assert.True(t, a.CurrentBalance.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, 0, store.loads)

	// A cached entry is never clobbered by a later prime.
	m.Prime([]types.Account{{ID: "a1", CurrentBalance: decimal.NewFromInt(1)}})
	a, _ = m.Get("a1")
	assert.True(t, a.CurrentBalance.Equal(decimal.NewFromInt(10000)))
}
