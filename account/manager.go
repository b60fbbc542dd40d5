package account

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/proptrade/engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ACCOUNT MANAGER - In-memory account state, per-account locks, dirty flush
// ═══════════════════════════════════════════════════════════════════════════════
//
// The per-account lock protects the full compound mutation sequence of an
// open or close; from any observer's point of view those sequences are
// atomic. Reads without the lock are allowed for telemetry and may be one
// hop old.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Store is the durable backing for accounts and plans.
type Store interface {
	LoadAccount(id string) (*types.Account, error)
	UpdateAccount(a types.Account) error
	LoadPlan(id string) (*types.Plan, error)
}

type Manager struct {
	store Store
	locks *Locks

	mu       sync.RWMutex
	accounts map[string]*types.Account
	dirty    map[string]struct{}

	planCache *gocache.Cache

	userBudget    time.Duration
	systemBudget  time.Duration
	flushInterval time.Duration

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

func NewManager(store Store, userBudget, systemBudget, flushInterval time.Duration) *Manager {
	return &Manager{
		store:         store,
		locks:         NewLocks(),
		accounts:      make(map[string]*types.Account),
		dirty:         make(map[string]struct{}),
		planCache:     gocache.New(5*time.Minute, 10*time.Minute),
		userBudget:    userBudget,
		systemBudget:  systemBudget,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start launches the flush loop and the stale-lock reaper.
func (m *Manager) Start() {
	go m.backgroundLoop()
	log.Info().Dur("flush", m.flushInterval).Msg("Account manager started")
}

// Stop halts the background loop and performs one final flush.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		<-m.doneCh
	})
}

// Get returns a copy of the account, loading it from the store on a miss.
func (m *Manager) Get(id string) (types.Account, error) {
	m.mu.RLock()
	a, ok := m.accounts[id]
	m.mu.RUnlock()
	if ok {
		return *a, nil
	}

	loaded, err := m.store.LoadAccount(id)
	if err != nil {
		return types.Account{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.accounts[id]; ok {
		// Lost the load race; the cached copy wins.
		return *existing, nil
	}
	m.accounts[id] = loaded
	return *loaded, nil
}

// Prime seeds the cache with accounts loaded at boot so background
// monitoring covers them before any client command touches them. Already
// cached entries win; primed entries are not marked dirty.
func (m *Manager) Prime(accounts []types.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range accounts {
		a := accounts[i]
		if _, ok := m.accounts[a.ID]; ok {
			continue
		}
		m.accounts[a.ID] = &a
	}
}

// Update applies a field-level patch and marks the account dirty. The caller
// must already hold the account's lock.
func (m *Manager) Update(id string, patch func(*types.Account)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return types.ErrAccountNotFound
	}
	patch(a)
	m.dirty[id] = struct{}{}
	return nil
}

// MarkDirty queues an account for the next flush tick.
func (m *Manager) MarkDirty(id string) {
	m.mu.Lock()
	m.dirty[id] = struct{}{}
	m.mu.Unlock()
}

// Invalidate drops the cache entry and its dirty flag.
func (m *Manager) Invalidate(id string) {
	m.mu.Lock()
	delete(m.accounts, id)
	delete(m.dirty, id)
	m.mu.Unlock()
}

// CachedIDs returns the ids currently held in memory.
func (m *Manager) CachedIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.accounts))
	for id := range m.accounts {
		out = append(out, id)
	}
	return out
}

// WithLock runs f under the account's mutual-exclusion slot. Returns
// ErrAccountBusy when the slot cannot be acquired within the budget. The
// slot is released on every path, including panic.
func (m *Manager) WithLock(id string, budget time.Duration, f func() error) error {
	if !m.locks.Acquire(id, budget) {
		return types.ErrAccountBusy
	}
	defer m.locks.Release(id)
	return f()
}

// WithUserLock is WithLock with the user-command budget (default 100ms).
func (m *Manager) WithUserLock(id string, f func() error) error {
	return m.WithLock(id, m.userBudget, f)
}

// WithSystemLock is WithLock with the trigger-engine budget (default 50ms).
func (m *Manager) WithSystemLock(id string, f func() error) error {
	return m.WithLock(id, m.systemBudget, f)
}

// Plan resolves the account's evaluation plan through a TTL cache.
func (m *Manager) Plan(planID string) (*types.Plan, error) {
	if cached, ok := m.planCache.Get(planID); ok {
		return cached.(*types.Plan), nil
	}

	plan, err := m.store.LoadPlan(planID)
	if err != nil {
		return nil, err
	}
	m.planCache.Set(planID, plan, gocache.DefaultExpiration)
	return plan, nil
}

// RolloverDay starts a new trading day for every cached account: daily P&L
// resets, the daily baseline becomes the current balance, and accounts that
// traded during the ended day gain a trading day. now marks the start of the
// new day.
func (m *Manager) RolloverDay(now time.Time) {
	dayStart := now.UTC().Truncate(24 * time.Hour)
	prevStart := dayStart.Add(-24 * time.Hour)

	for _, id := range m.CachedIDs() {
		err := m.WithSystemLock(id, func() error {
			return m.Update(id, func(a *types.Account) {
				if !a.LastTradeAt.Before(prevStart) && a.LastTradeAt.Before(dayStart) {
					a.TradingDays++
				}
				a.DailyPnL = decimal.Zero
				a.DailyStartingBalance = a.CurrentBalance
			})
		})
		if err != nil {
			log.Warn().Err(err).Str("account", id).Msg("Daily rollover skipped, account busy")
		}
	}
	log.Info().Time("day", dayStart).Msg("🌅 Daily rollover complete")
}

// Flush writes every dirty account to the store. Failed writes stay dirty
// for the next tick.
func (m *Manager) Flush() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.dirty))
	for id := range m.dirty {
		ids = append(ids, id)
	}
	m.dirty = make(map[string]struct{})
	m.mu.Unlock()

	for _, id := range ids {
		snapshot, ok := m.snapshotUnderLock(id)
		if !ok {
			m.MarkDirty(id)
			continue
		}
		if err := m.store.UpdateAccount(snapshot); err != nil {
			log.Warn().Err(err).Str("account", id).Msg("Account flush failed, re-marked dirty")
			m.MarkDirty(id)
			continue
		}
		m.mu.Lock()
		if a, ok := m.accounts[id]; ok {
			a.LastSyncedAt = time.Now()
		}
		m.mu.Unlock()
	}
}

// snapshotUnderLock copies the account under a brief hold of its slot so the
// store never sees a half-applied compound mutation.
func (m *Manager) snapshotUnderLock(id string) (types.Account, bool) {
	if !m.locks.Acquire(id, 10*time.Millisecond) {
		return types.Account{}, false
	}
	defer m.locks.Release(id)

	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return types.Account{}, false
	}
	return *a, true
}

func (m *Manager) backgroundLoop() {
	defer close(m.doneCh)

	flushTicker := time.NewTicker(m.flushInterval)
	defer flushTicker.Stop()
	reapTicker := time.NewTicker(time.Second)
	defer reapTicker.Stop()
	dayTicker := time.NewTicker(time.Minute)
	defer dayTicker.Stop()

	day := time.Now().UTC().Truncate(24 * time.Hour)

	for {
		select {
		case <-m.stopCh:
			m.Flush()
			return
		case <-flushTicker.C:
			m.Flush()
		case <-reapTicker.C:
			m.locks.ReapStale()
		case <-dayTicker.C:
			now := time.Now()
			if today := now.UTC().Truncate(24 * time.Hour); today.After(day) {
				day = today
				m.RolloverDay(now)
			}
		}
	}
}
