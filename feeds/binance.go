package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BINANCE QUOTE SOURCE - Spot book tickers, 24h stats, perp funding rates
// ═══════════════════════════════════════════════════════════════════════════════

const defaultBinanceURL = "https://api.binance.com"

// BinanceSource reads Binance-compatible REST endpoints. Any venue exposing
// the same shapes (bookTicker, 24hr ticker, premiumIndex) can stand in by
// overriding the base URL.
type BinanceSource struct {
	client *resty.Client
}

func NewBinanceSource(baseURL string) *BinanceSource {
	if baseURL == "" {
		baseURL = defaultBinanceURL
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)
	return &BinanceSource{client: client}
}

type bookTicker struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	AskPrice string `json:"askPrice"`
}

type dayTicker struct {
	Symbol             string `json:"symbol"`
	PriceChangePercent string `json:"priceChangePercent"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	QuoteVolume        string `json:"quoteVolume"`
}

type premiumIndex struct {
	Symbol          string `json:"symbol"`
	LastFundingRate string `json:"lastFundingRate"`
}

// Quotes fetches the current best bid/ask for the symbols in one call.
func (s *BinanceSource) Quotes(ctx context.Context, symbols []string) ([]Quote, error) {
	var tickers []bookTicker
	if err := s.getJSON(ctx, "/api/v3/ticker/bookTicker", symbols, &tickers); err != nil {
		return nil, fmt.Errorf("book tickers: %w", err)
	}

	out := make([]Quote, 0, len(tickers))
	for _, t := range tickers {
		bid, err1 := decimal.NewFromString(t.BidPrice)
		ask, err2 := decimal.NewFromString(t.AskPrice)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, Quote{Symbol: t.Symbol, Bid: bid, Ask: ask})
	}
	return out, nil
}

// Stats fetches the rolling 24h window for the symbols.
func (s *BinanceSource) Stats(ctx context.Context, symbols []string) ([]Stat, error) {
	var tickers []dayTicker
	if err := s.getJSON(ctx, "/api/v3/ticker/24hr", symbols, &tickers); err != nil {
		return nil, fmt.Errorf("24h tickers: %w", err)
	}

	out := make([]Stat, 0, len(tickers))
	for _, t := range tickers {
		out = append(out, Stat{
			Symbol:    t.Symbol,
			Change24h: parseOrZero(t.PriceChangePercent),
			High24h:   parseOrZero(t.HighPrice),
			Low24h:    parseOrZero(t.LowPrice),
			Volume24h: parseOrZero(t.QuoteVolume),
		})
	}
	return out, nil
}

// FundingRates fetches perp funding rates. Symbols without a perp market
// are simply absent from the response.
func (s *BinanceSource) FundingRates(ctx context.Context, symbols []string) ([]Funding, error) {
	var indexes []premiumIndex
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&indexes).
		Get("/fapi/v1/premiumIndex")
	if err != nil {
		return nil, fmt.Errorf("premium index: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("premium index: status %d", resp.StatusCode())
	}

	wanted := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		wanted[sym] = struct{}{}
	}

	out := make([]Funding, 0, len(symbols))
	for _, idx := range indexes {
		if _, ok := wanted[idx.Symbol]; !ok {
			continue
		}
		out = append(out, Funding{Symbol: idx.Symbol, Rate: parseOrZero(idx.LastFundingRate)})
	}
	return out, nil
}

func (s *BinanceSource) getJSON(ctx context.Context, path string, symbols []string, dest interface{}) error {
	req := s.client.R().SetContext(ctx).SetResult(dest)
	if len(symbols) > 0 {
		encoded, err := json.Marshal(symbols)
		if err != nil {
			return err
		}
		req.SetQueryParam("symbols", string(encoded))
	}

	resp, err := req.Get(path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func parseOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
