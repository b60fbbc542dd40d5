package position

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proptrade/engine/types"
)

func pos(id, account, symbol string, side types.Side, entry, qty string) types.Position {
	e, _ := decimal.NewFromString(entry)
	q, _ := decimal.NewFromString(qty)
	return types.Position{
		ID:        id,
		AccountID: account,
		Symbol:    symbol,
		Side:      side,
		EntryPrice: e,
		Quantity:   q,
	}
}

func TestIndexesStayCoherent(t *testing.T) {
	m := NewManager()

	m.Add(pos("p1", "a1", "BTCUSD", types.Long, "30000", "0.1"))
	m.Add(pos("p2", "a1", "ETHUSD", types.Short, "2000", "1"))
	m.Add(pos("p3", "a2", "BTCUSD", types.Long, "30100", "0.2"))

	assert.Len(t, m.ByAccount("a1"), 2)
	assert.Len(t, m.BySymbol("BTCUSD"), 2)
	assert.Equal(t, 3, m.Count())

	m.Remove("p1")
	assert.Len(t, m.ByAccount("a1"), 1)
	assert.Len(t, m.BySymbol("BTCUSD"), 1)

	_, ok := m.Get("p1")
	assert.False(t, ok)
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	m := NewManager()
	m.Remove("missing")
	assert.Equal(t, 0, m.Count())
}

func TestOnPriceRecomputesUnrealized(t *testing.T) {
	m := NewManager()
	m.Add(pos("p1", "a1", "BTCUSD", types.Long, "30000", "0.1"))
	m.Add(pos("p2", "a2", "BTCUSD", types.Short, "30000", "0.5"))
	m.Add(pos("p3", "a3", "ETHUSD", types.Long, "2000", "1"))

	touched := m.OnPrice("BTCUSD", decimal.NewFromInt(30300))
	assert.ElementsMatch(t, []string{"a1", "a2"}, touched)

	p1, ok := m.Get("p1")
	require.True(t, ok)
	// LONG: (30300 - 30000) * 0.1 = 30
	assert.True(t, p1.UnrealizedPnL.Equal(decimal.NewFromInt(30)), "got %s", p1.UnrealizedPnL)

	p2, _ := m.Get("p2")
	// SHORT: (30000 - 30300) * 0.5 = -150
	assert.True(t, p2.UnrealizedPnL.Equal(decimal.NewFromInt(-150)), "got %s", p2.UnrealizedPnL)

	// Untouched symbol keeps zero P&L
	p3, _ := m.Get("p3")
	assert.True(t, p3.UnrealizedPnL.IsZero())
}

func TestAccountUnrealizedPnLAggregates(t *testing.T) {
	m := NewManager()
	m.Add(pos("p1", "a1", "BTCUSD", types.Long, "30000", "0.1"))
	m.Add(pos("p2", "a1", "ETHUSD", types.Long, "2000", "1"))

	m.OnPrice("BTCUSD", decimal.NewFromInt(30100)) // +10
	m.OnPrice("ETHUSD", decimal.NewFromInt(1990))  // -10

	assert.True(t, m.AccountUnrealizedPnL("a1").IsZero())
}

func TestGetReturnsCopy(t *testing.T) {
	m := NewManager()
	m.Add(pos("p1", "a1", "BTCUSD", types.Long, "30000", "0.1"))

	p, _ := m.Get("p1")
	p.Quantity = decimal.NewFromInt(99)

	again, _ := m.Get("p1")
	assert.True(t, again.Quantity.Equal(decimal.RequireFromString("0.1")))
}
