package order

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/proptrade/engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORDER MANAGER - Resting limit orders with reserved margin
// ═══════════════════════════════════════════════════════════════════════════════

type Manager struct {
	mu        sync.RWMutex
	orders    map[string]*types.PendingOrder
	byAccount map[string]map[string]struct{}
	bySymbol  map[string]map[string]struct{}

	priceMaxAge time.Duration
}

func NewManager(priceMaxAge time.Duration) *Manager {
	return &Manager{
		orders:      make(map[string]*types.PendingOrder),
		byAccount:   make(map[string]map[string]struct{}),
		bySymbol:    make(map[string]map[string]struct{}),
		priceMaxAge: priceMaxAge,
	}
}

// Place records a pending order. A non-empty client id must be unique among
// the account's resting orders; a duplicate is the idempotency guard firing.
func (m *Manager) Place(o types.PendingOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if o.ClientID != "" {
		for id := range m.byAccount[o.AccountID] {
			if existing := m.orders[id]; existing != nil && existing.ClientID == o.ClientID {
				return types.ErrDuplicateClientOrder
			}
		}
	}

	cp := o
	m.orders[o.ID] = &cp
	index(m.byAccount, o.AccountID, o.ID)
	index(m.bySymbol, o.Symbol, o.ID)

	log.Debug().
		Str("order_id", o.ID).
		Str("symbol", o.Symbol).
		Str("side", string(o.Side)).
		Str("limit", o.LimitPrice.String()).
		Msg("Limit order resting")
	return nil
}

// Cancel removes the order and returns it so the caller can release the
// reserved margin under the account lock.
func (m *Manager) Cancel(id string) (types.PendingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return types.PendingOrder{}, types.ErrOrderNotFound
	}
	m.remove(o)
	return *o, nil
}

// MarkFilled removes a filled order from the book.
func (m *Manager) MarkFilled(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if o, ok := m.orders[id]; ok {
		m.remove(o)
	}
}

// Get returns a copy of a resting order.
func (m *Manager) Get(id string) (types.PendingOrder, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return types.PendingOrder{}, false
	}
	return *o, true
}

// ByAccount returns copies of the account's resting orders.
func (m *Manager) ByAccount(accountID string) []types.PendingOrder {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.PendingOrder, 0, len(m.byAccount[accountID]))
	for id := range m.byAccount[accountID] {
		if o, ok := m.orders[id]; ok {
			out = append(out, *o)
		}
	}
	return out
}

// CheckFills returns the orders on the symbol whose trigger condition the
// quote satisfies: LONG fills when the internal ask has come down to the
// limit, SHORT when the internal bid has come up to it. A stale quote fills
// nothing.
func (m *Manager) CheckFills(p types.Price, now time.Time) []types.PendingOrder {
	if p.Stale(now, m.priceMaxAge) {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.PendingOrder
	for id := range m.bySymbol[p.Symbol] {
		o, ok := m.orders[id]
		if !ok {
			continue
		}
		switch o.Side {
		case types.Long:
			if p.Ask.LessThanOrEqual(o.LimitPrice) {
				out = append(out, *o)
			}
		case types.Short:
			if p.Bid.GreaterThanOrEqual(o.LimitPrice) {
				out = append(out, *o)
			}
		}
	}
	return out
}

// Expire removes orders whose expiry has passed and returns them so the
// caller can release the reserved margin.
func (m *Manager) Expire(now time.Time) []types.PendingOrder {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.PendingOrder
	for _, o := range m.orders {
		if !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt) {
			out = append(out, *o)
		}
	}
	for i := range out {
		if o, ok := m.orders[out[i].ID]; ok {
			m.remove(o)
		}
	}
	return out
}

// Count returns the number of resting orders.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orders)
}

func (m *Manager) remove(o *types.PendingOrder) {
	delete(m.orders, o.ID)
	unindex(m.byAccount, o.AccountID, o.ID)
	unindex(m.bySymbol, o.Symbol, o.ID)
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
