package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proptrade/engine/types"
)

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func TestPublishAppliesSpreadMarkup(t *testing.T) {
	e := NewEngine(decimal.NewFromInt(2)) // 2 bps

	e.Publish("BTCUSD", d("29999"), d("30001"))

	p, ok := e.Get("BTCUSD")
	require.True(t, ok)

	// mid = 30000, half-spread = 30000 * 2/10000 / 2 = 3
	assert.True(t, p.Bid.Equal(d("29996")), "bid = %s", p.Bid)
	assert.True(t, p.Ask.Equal(d("30004")), "ask = %s", p.Ask)
	assert.True(t, p.Ask.GreaterThanOrEqual(p.Bid))
	assert.True(t, p.ExternalBid.Equal(d("29999")))
	assert.WithinDuration(t, time.Now(), p.Timestamp, time.Second)
}

func TestPublishPerSymbolSpreadOverride(t *testing.T) {
	e := NewEngine(decimal.NewFromInt(2))
	e.SetSpread("EURUSD", decimal.NewFromInt(10))

	e.Publish("EURUSD", d("1.1000"), d("1.1000"))

	p, ok := e.Get("EURUSD")
	require.True(t, ok)
	assert.True(t, p.SpreadBps.Equal(decimal.NewFromInt(10)))
	assert.True(t, p.Ask.GreaterThan(p.Bid))
}

func TestGetUnknownSymbol(t *testing.T) {
	e := NewEngine(decimal.Zero)
	_, ok := e.Get("NOPE")
	assert.False(t, ok)
}

func TestSubscribersRunInRegistrationOrder(t *testing.T) {
	e := NewEngine(decimal.Zero)

	var order []int
	e.Subscribe(func(types.Price) { order = append(order, 1) })
	e.Subscribe(func(types.Price) { order = append(order, 2) })
	e.Subscribe(func(types.Price) { order = append(order, 3) })

	e.Publish("BTCUSD", d("100"), d("101"))

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	e := NewEngine(decimal.Zero)

	calls := 0
	id := e.Subscribe(func(types.Price) { calls++ })

	e.Publish("BTCUSD", d("100"), d("101"))
	e.Unsubscribe(id)
	e.Publish("BTCUSD", d("100"), d("101"))

	assert.Equal(t, 1, calls)
}

func TestStatsPreservedAcrossPublish(t *testing.T) {
	e := NewEngine(decimal.Zero)

	e.Publish("BTCUSD", d("100"), d("101"))
	e.SetStats("BTCUSD", d("1.5"), d("105"), d("95"), d("12345"))
	e.SetFundingRate("BTCUSD", d("0.0001"))
	e.Publish("BTCUSD", d("102"), d("103"))

	p, ok := e.Get("BTCUSD")
	require.True(t, ok)
	assert.True(t, p.Change24h.Equal(d("1.5")))
	assert.True(t, p.FundingRate.Equal(d("0.0001")))
	assert.True(t, p.ExternalBid.Equal(d("102")))
}

func TestCrossedQuoteCollapsesToMid(t *testing.T) {
	e := NewEngine(decimal.NewFromInt(0))

	// External ask below bid must never publish an inverted book.
	e.Publish("BTCUSD", d("101"), d("99"))

	p, ok := e.Get("BTCUSD")
	require.True(t, ok)
	assert.True(t, p.Ask.GreaterThanOrEqual(p.Bid))
}

func TestStale(t *testing.T) {
	p := types.Price{Timestamp: time.Now().Add(-6 * time.Second)}
	assert.True(t, p.Stale(time.Now(), 5*time.Second))

	p.Timestamp = time.Now()
	assert.False(t, p.Stale(time.Now(), 5*time.Second))
}
