package feeds

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proptrade/engine/position"
	"github.com/proptrade/engine/pricing"
	"github.com/proptrade/engine/types"
)

func TestBinanceSourceQuotes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/ticker/bookTicker", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("symbols"), "BTCUSDT")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"symbol":"BTCUSDT","bidPrice":"29997.10","askPrice":"30000.50"},
			{"symbol":"ETHUSDT","bidPrice":"1999.80","askPrice":"2000.20"}
		]`))
	}))
	defer ts.Close()

	src := NewBinanceSource(ts.URL)
	quotes, err := src.Quotes(context.Background(), []string{"BTCUSDT", "ETHUSDT"})
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, "BTCUSDT", quotes[0].Symbol)
	assert.True(t, quotes[0].Bid.Equal(decimal.RequireFromString("29997.10")))
	assert.True(t, quotes[0].Ask.Equal(decimal.RequireFromString("30000.50")))
}

func TestBinanceSourceStats(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/ticker/24hr", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"symbol":"BTCUSDT","priceChangePercent":"2.15","highPrice":"30500","lowPrice":"29100","quoteVolume":"123456789"}
		]`))
	}))
	defer ts.Close()

	src := NewBinanceSource(ts.URL)
	stats, err := src.Stats(context.Background(), []string{"BTCUSDT"})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.True(t, stats[0].Change24h.Equal(decimal.RequireFromString("2.15")))
	assert.True(t, stats[0].High24h.Equal(decimal.NewFromInt(30500)))
}

func TestBinanceSourceFundingFiltersSymbols(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/fapi/v1/premiumIndex", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"symbol":"BTCUSDT","lastFundingRate":"0.0001"},
			{"symbol":"DOGEUSDT","lastFundingRate":"0.0003"}
		]`))
	}))
	defer ts.Close()

	src := NewBinanceSource(ts.URL)
	rates, err := src.FundingRates(context.Background(), []string{"BTCUSDT"})
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.Equal(t, "BTCUSDT", rates[0].Symbol)
	assert.True(t, rates[0].Rate.Equal(decimal.RequireFromString("0.0001")))
}

func TestBinanceSourceErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer ts.Close()

	src := NewBinanceSource(ts.URL)
	_, err := src.Quotes(context.Background(), []string{"BTCUSDT"})
	assert.Error(t, err)
}

type fakeSource struct {
	quotes   []Quote
	stats    []Stat
	rates    []Funding
	quoteErr error
}

func (f *fakeSource) Quotes(context.Context, []string) ([]Quote, error) {
	return f.quotes, f.quoteErr
}

func (f *fakeSource) Stats(context.Context, []string) ([]Stat, error) {
	return f.stats, nil
}

func (f *fakeSource) FundingRates(context.Context, []string) ([]Funding, error) {
	return f.rates, nil
}

func TestServiceRefreshPublishes(t *testing.T) {
	prices := pricing.NewEngine(decimal.NewFromInt(2))
	positions := position.NewManager()
	src := &fakeSource{
		quotes: []Quote{{Symbol: "BTCUSDT", Bid: decimal.NewFromInt(29997), Ask: decimal.NewFromInt(30000)}},
		stats:  []Stat{{Symbol: "BTCUSDT", Change24h: decimal.NewFromFloat(1.5), High24h: decimal.NewFromInt(30500)}},
		rates:  []Funding{{Symbol: "BTCUSDT", Rate: decimal.NewFromFloat(0.0001)}},
	}

	svc := NewService(src, prices, positions, []string{"BTCUSDT"}, time.Second, 30*time.Second)
	svc.RefreshQuotes()
	svc.RefreshStats()

	p, ok := prices.Get("BTCUSDT")
	require.True(t, ok)
	assert.True(t, p.ExternalBid.Equal(decimal.NewFromInt(29997)))
	assert.True(t, p.Change24h.Equal(decimal.NewFromFloat(1.5)))
	assert.True(t, p.FundingRate.Equal(decimal.NewFromFloat(0.0001)))
	// Default spread markup pushes the internal book out around the mid.
	assert.True(t, p.Bid.LessThan(p.ExternalBid))
	assert.True(t, p.Ask.GreaterThan(p.ExternalAsk))
}

func TestServiceSurvivesSourceFailure(t *testing.T) {
	prices := pricing.NewEngine(decimal.Zero)
	src := &fakeSource{quoteErr: errors.New("connection refused")}

	svc := NewService(src, prices, position.NewManager(), []string{"BTCUSDT"}, time.Second, time.Minute)
	svc.RefreshQuotes() // must not panic, just log

	_, ok := prices.Get("BTCUSDT")
	assert.False(t, ok)
}

func TestServiceAccruesFunding(t *testing.T) {
	prices := pricing.NewEngine(decimal.Zero)
	positions := position.NewManager()
	positions.Add(types.Position{
		ID:         "p1",
		AccountID:  "a1",
		Symbol:     "BTCUSDT",
		Side:       types.Long,
		Quantity:   decimal.NewFromInt(1),
		EntryValue: decimal.NewFromInt(30000),
	})

	src := &fakeSource{
		quotes: []Quote{{Symbol: "BTCUSDT", Bid: decimal.NewFromInt(30000), Ask: decimal.NewFromInt(30000)}},
		rates:  []Funding{{Symbol: "BTCUSDT", Rate: decimal.NewFromFloat(0.0001)}},
	}
	svc := NewService(src, prices, positions, []string{"BTCUSDT"}, time.Second, time.Minute)
	svc.RefreshQuotes()
	svc.RefreshStats()
	svc.accrueFunding()

	p, ok := positions.Get("p1")
	require.True(t, ok)
	assert.True(t, p.AccumulatedFunding.Equal(decimal.NewFromInt(3)), "got %s", p.AccumulatedFunding)
}
