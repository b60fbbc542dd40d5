package position

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/proptrade/engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION MANAGER - Open positions indexed by id, account and symbol
// ═══════════════════════════════════════════════════════════════════════════════
//
// The manager's own mutex keeps the indexes coherent; compound financial
// mutations (open, close) are additionally serialised by the owning account's
// lock in the account manager. Readers always get copies, so telemetry and
// fan-out never race the recompute loop.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Manager struct {
	mu        sync.RWMutex
	positions map[string]*types.Position
	byAccount map[string]map[string]struct{}
	bySymbol  map[string]map[string]struct{}
}

func NewManager() *Manager {
	return &Manager{
		positions: make(map[string]*types.Position),
		byAccount: make(map[string]map[string]struct{}),
		bySymbol:  make(map[string]map[string]struct{}),
	}
}

// Add inserts a new position and indexes it.
func (m *Manager) Add(p types.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := p
	m.positions[p.ID] = &cp
	index(m.byAccount, p.AccountID, p.ID)
	index(m.bySymbol, p.Symbol, p.ID)
}

// Update replaces a stored position. Account and symbol are immutable for the
// lifetime of a position, so the indexes stay untouched.
func (m *Manager) Update(p types.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.positions[p.ID]; !ok {
		return
	}
	cp := p
	m.positions[p.ID] = &cp
}

// Remove drops a position and all its index entries.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[id]
	if !ok {
		return
	}
	delete(m.positions, id)
	unindex(m.byAccount, p.AccountID, id)
	unindex(m.bySymbol, p.Symbol, id)
}

// Get returns a copy of the position.
func (m *Manager) Get(id string) (types.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.positions[id]
	if !ok {
		return types.Position{}, false
	}
	return *p, true
}

// ByAccount returns copies of the account's open positions.
func (m *Manager) ByAccount(accountID string) []types.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(m.byAccount[accountID])
}

// BySymbol returns copies of the open positions on a symbol.
func (m *Manager) BySymbol(symbol string) []types.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(m.bySymbol[symbol])
}

// All returns copies of every open position.
func (m *Manager) All() []types.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	return out
}

// Count returns the number of open positions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

// OnPrice refreshes current price and unrealised P&L for every position on
// the symbol. Returns the ids of the accounts whose positions were touched.
func (m *Manager) OnPrice(symbol string, current decimal.Decimal) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	accounts := make(map[string]struct{})
	for id := range m.bySymbol[symbol] {
		p, ok := m.positions[id]
		if !ok {
			continue
		}
		p.CurrentPrice = current
		p.UnrealizedPnL = UnrealizedPnL(p.Side, p.EntryPrice, current, p.Quantity)
		accounts[p.AccountID] = struct{}{}
	}

	out := make([]string, 0, len(accounts))
	for id := range accounts {
		out = append(out, id)
	}
	return out
}

// AccrueFunding adds one funding interval's charge to every position on the
// symbol: entry value times the current funding rate. Settled against the
// trader at close time.
func (m *Manager) AccrueFunding(symbol string, rate decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.bySymbol[symbol] {
		if p, ok := m.positions[id]; ok {
			p.AccumulatedFunding = p.AccumulatedFunding.Add(p.EntryValue.Mul(rate))
		}
	}
}

// AccountUnrealizedPnL sums unrealised P&L across the account's positions.
func (m *Manager) AccountUnrealizedPnL(accountID string) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := decimal.Zero
	for id := range m.byAccount[accountID] {
		if p, ok := m.positions[id]; ok {
			total = total.Add(p.UnrealizedPnL)
		}
	}
	return total
}

// UnrealizedPnL computes the mark-to-market P&L for a position leg.
func UnrealizedPnL(side types.Side, entry, current, qty decimal.Decimal) decimal.Decimal {
	if side == types.Long {
		return current.Sub(entry).Mul(qty)
	}
	return entry.Sub(current).Mul(qty)
}

func (m *Manager) collect(ids map[string]struct{}) []types.Position {
	out := make([]types.Position, 0, len(ids))
	for id := range ids {
		if p, ok := m.positions[id]; ok {
			out = append(out, *p)
		}
	}
	return out
}

func index(idx map[string]map[string]struct{}, key, id string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

func unindex(idx map[string]map[string]struct{}, key, id string) {
	if set, ok := idx[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(idx, key)
		}
	}
}
