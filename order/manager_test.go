package order

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proptrade/engine/types"
)

func limitOrder(id, account string, side types.Side, limit string) types.PendingOrder {
	l, _ := decimal.NewFromString(limit)
	return types.PendingOrder{
		ID:         id,
		AccountID:  account,
		Symbol:     "BTCUSD",
		Side:       side,
		Quantity:   decimal.RequireFromString("0.05"),
		Leverage:   decimal.NewFromInt(10),
		LimitPrice: l,
		CreatedAt:  time.Now(),
	}
}

func quote(bid, ask string, age time.Duration) types.Price {
	return types.Price{
		Symbol:    "BTCUSD",
		Bid:       decimal.RequireFromString(bid),
		Ask:       decimal.RequireFromString(ask),
		Timestamp: time.Now().Add(-age),
	}
}

func TestDuplicateClientIDRejected(t *testing.T) {
	m := NewManager(5 * time.Second)

	o := limitOrder("o1", "a1", types.Long, "29000")
	o.ClientID = "client-1"
	require.NoError(t, m.Place(o))

	dup := limitOrder("o2", "a1", types.Long, "28000")
	dup.ClientID = "client-1"
	assert.ErrorIs(t, m.Place(dup), types.ErrDuplicateClientOrder)

	// Same client id on another account is fine.
	other := limitOrder("o3", "a2", types.Long, "28000")
	other.ClientID = "client-1"
	assert.NoError(t, m.Place(other))
}

func TestCheckFillsTriggerConditions(t *testing.T) {
	m := NewManager(5 * time.Second)
	require.NoError(t, m.Place(limitOrder("buy", "a1", types.Long, "29000")))
	require.NoError(t, m.Place(limitOrder("sell", "a2", types.Short, "31000")))

	// Ask above buy limit, bid below sell limit: nothing fills.
	fills := m.CheckFills(quote("30000", "30005", 0), time.Now())
	assert.Empty(t, fills)

	// Ask touches the buy limit.
	fills = m.CheckFills(quote("28990", "29000", 0), time.Now())
	require.Len(t, fills, 1)
	assert.Equal(t, "buy", fills[0].ID)

	// Bid touches the sell limit.
	fills = m.CheckFills(quote("31000", "31010", 0), time.Now())
	require.Len(t, fills, 1)
	assert.Equal(t, "sell", fills[0].ID)
}

func TestCheckFillsRejectsStaleQuote(t *testing.T) {
	m := NewManager(5 * time.Second)
	require.NoError(t, m.Place(limitOrder("buy", "a1", types.Long, "29000")))

	fills := m.CheckFills(quote("28000", "28500", 6*time.Second), time.Now())
	assert.Empty(t, fills)
}

func TestCancelReturnsOrderForMarginRelease(t *testing.T) {
	m := NewManager(5 * time.Second)
	o := limitOrder("o1", "a1", types.Long, "29000")
	o.ReservedMargin = decimal.NewFromInt(145)
	require.NoError(t, m.Place(o))

	got, err := m.Cancel("o1")
	require.NoError(t, err)
	assert.True(t, got.ReservedMargin.Equal(decimal.NewFromInt(145)))
	assert.Equal(t, 0, m.Count())

	_, err = m.Cancel("o1")
	assert.ErrorIs(t, err, types.ErrOrderNotFound)
}

func TestExpireSweep(t *testing.T) {
	m := NewManager(5 * time.Second)

	expired := limitOrder("old", "a1", types.Long, "29000")
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, m.Place(expired))

	fresh := limitOrder("fresh", "a1", types.Long, "29000")
	fresh.ExpiresAt = time.Now().Add(time.Hour)
	require.NoError(t, m.Place(fresh))

	forever := limitOrder("gtc", "a1", types.Long, "29000")
	require.NoError(t, m.Place(forever))

	out := m.Expire(time.Now())
	require.Len(t, out, 1)
	assert.Equal(t, "old", out[0].ID)
	assert.Equal(t, 2, m.Count())
}

func TestMarkFilledRemoves(t *testing.T) {
	m := NewManager(5 * time.Second)
	require.NoError(t, m.Place(limitOrder("o1", "a1", types.Long, "29000")))

	m.MarkFilled("o1")
	assert.Equal(t, 0, m.Count())
	assert.Empty(t, m.ByAccount("a1"))
}
