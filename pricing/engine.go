package pricing

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/proptrade/engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PRICE ENGINE - Latest quote per symbol with spread markup and fan-out
// ═══════════════════════════════════════════════════════════════════════════════
//
// Publishing one symbol never blocks publishing another: each symbol owns its
// own slot mutex, held for the overwrite plus the synchronous fan-out. A slow
// subscriber therefore only delays that symbol's own updates.
//
// The engine stamps timestamps but does not filter stale quotes; consumers
// apply the 5s staleness rule themselves.
//
// ═══════════════════════════════════════════════════════════════════════════════

var (
	bpsDivisor = decimal.NewFromInt(10000)
	two        = decimal.NewFromInt(2)
)

// Subscriber receives every published quote for every symbol. Callbacks run
// synchronously on the publisher's goroutine and must not do long work.
type Subscriber func(p types.Price)

type subscription struct {
	id int
	fn Subscriber
}

type symbolSlot struct {
	mu    sync.Mutex
	price types.Price
	set   bool
}

// Engine holds the latest price record per symbol.
type Engine struct {
	defaultSpreadBps decimal.Decimal

	slotMu sync.RWMutex
	slots  map[string]*symbolSlot

	spreadMu sync.RWMutex
	spreads  map[string]decimal.Decimal // per-symbol bps override

	subMu  sync.RWMutex
	subs   []subscription
	nextID int
}

// NewEngine creates a price engine with the given default spread markup.
func NewEngine(defaultSpreadBps decimal.Decimal) *Engine {
	return &Engine{
		defaultSpreadBps: defaultSpreadBps,
		slots:            make(map[string]*symbolSlot),
		spreads:          make(map[string]decimal.Decimal),
	}
}

// SetSpread overrides the spread markup for one symbol.
func (e *Engine) SetSpread(symbol string, bps decimal.Decimal) {
	e.spreadMu.Lock()
	e.spreads[symbol] = bps
	e.spreadMu.Unlock()
}

func (e *Engine) spreadFor(symbol string) decimal.Decimal {
	e.spreadMu.RLock()
	defer e.spreadMu.RUnlock()
	if bps, ok := e.spreads[symbol]; ok {
		return bps
	}
	return e.defaultSpreadBps
}

func (e *Engine) slot(symbol string) *symbolSlot {
	e.slotMu.RLock()
	s, ok := e.slots[symbol]
	e.slotMu.RUnlock()
	if ok {
		return s
	}

	e.slotMu.Lock()
	defer e.slotMu.Unlock()
	if s, ok = e.slots[symbol]; ok {
		return s
	}
	s = &symbolSlot{}
	e.slots[symbol] = s
	return s
}

// Publish overwrites the symbol's record with a fresh external quote, applies
// the configured spread markup split symmetrically around the mid, stamps the
// wall clock and fans the result out to subscribers in registration order.
func (e *Engine) Publish(symbol string, externalBid, externalAsk decimal.Decimal) {
	bps := e.spreadFor(symbol)
	mid := externalBid.Add(externalAsk).Div(two)
	half := mid.Mul(bps).Div(bpsDivisor).Div(two)

	bid := externalBid.Sub(half)
	ask := externalAsk.Add(half)
	if ask.LessThan(bid) {
		// Crossed external quote; collapse to the mid rather than publish
		// an inverted book.
		bid, ask = mid, mid
	}

	s := e.slot(symbol)
	s.mu.Lock()
	prev := s.price
	s.price = types.Price{
		Symbol:      symbol,
		Bid:         bid,
		Ask:         ask,
		Mid:         mid,
		ExternalBid: externalBid,
		ExternalAsk: externalAsk,
		SpreadBps:   bps,
		Change24h:   prev.Change24h,
		High24h:     prev.High24h,
		Low24h:      prev.Low24h,
		Volume24h:   prev.Volume24h,
		FundingRate: prev.FundingRate,
		Timestamp:   time.Now(),
	}
	s.set = true
	snapshot := s.price

	e.subMu.RLock()
	subs := e.subs
	e.subMu.RUnlock()
	for _, sub := range subs {
		sub.fn(snapshot)
	}
	s.mu.Unlock()
}

// SetStats updates the 24h statistics for a symbol without touching the
// bid/ask or the quote timestamp. No fan-out.
func (e *Engine) SetStats(symbol string, change, high, low, volume decimal.Decimal) {
	s := e.slot(symbol)
	s.mu.Lock()
	s.price.Change24h = change
	s.price.High24h = high
	s.price.Low24h = low
	s.price.Volume24h = volume
	s.mu.Unlock()
}

// SetFundingRate updates the funding rate for a symbol. No fan-out.
func (e *Engine) SetFundingRate(symbol string, rate decimal.Decimal) {
	s := e.slot(symbol)
	s.mu.Lock()
	s.price.FundingRate = rate
	s.mu.Unlock()
}

// Get returns a copy of the last published record, or false if the symbol
// has never been quoted.
func (e *Engine) Get(symbol string) (types.Price, bool) {
	s := e.slot(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.price, s.set
}

// Symbols returns every symbol that has received at least one quote.
func (e *Engine) Symbols() []string {
	e.slotMu.RLock()
	defer e.slotMu.RUnlock()

	out := make([]string, 0, len(e.slots))
	for sym, s := range e.slots {
		s.mu.Lock()
		set := s.set
		s.mu.Unlock()
		if set {
			out = append(out, sym)
		}
	}
	return out
}

// Subscribe registers a callback for every published quote and returns a
// handle for Unsubscribe.
func (e *Engine) Subscribe(fn Subscriber) int {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	e.nextID++
	id := e.nextID
	// Copy-on-write so in-flight fan-outs keep iterating a stable slice.
	subs := make([]subscription, len(e.subs), len(e.subs)+1)
	copy(subs, e.subs)
	e.subs = append(subs, subscription{id: id, fn: fn})

	log.Debug().Int("subscriber", id).Msg("Price subscriber registered")
	return id
}

// Unsubscribe removes a previously registered callback.
func (e *Engine) Unsubscribe(id int) {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	subs := make([]subscription, 0, len(e.subs))
	for _, sub := range e.subs {
		if sub.id != id {
			subs = append(subs, sub)
		}
	}
	e.subs = subs
}
