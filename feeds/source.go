package feeds

import (
	"context"

	"github.com/shopspring/decimal"
)

// Quote is one external bid/ask pair.
type Quote struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
}

// Stat is one symbol's rolling 24h statistics.
type Stat struct {
	Symbol    string
	Change24h decimal.Decimal // percent
	High24h   decimal.Decimal
	Low24h    decimal.Decimal
	Volume24h decimal.Decimal
}

// Funding is one symbol's current funding rate.
type Funding struct {
	Symbol string
	Rate   decimal.Decimal
}

// Source supplies external market data. Implementations are pluggable; the
// engine only ever sees the internal price record built from these.
type Source interface {
	Quotes(ctx context.Context, symbols []string) ([]Quote, error)
	Stats(ctx context.Context, symbols []string) ([]Stat, error)
	FundingRates(ctx context.Context, symbols []string) ([]Funding, error)
}
