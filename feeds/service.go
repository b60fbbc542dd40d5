package feeds

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/proptrade/engine/position"
	"github.com/proptrade/engine/pricing"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MARKET FEED - External quotes into the price engine
// ═══════════════════════════════════════════════════════════════════════════════
//
// Two periodic tasks: a fast quote refresh and a slower stats/funding
// refresh. A transport failure logs and waits for the next tick; the feed
// never takes the engine down with it.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Service drives the quote source into the price engine.
type Service struct {
	source    Source
	prices    *pricing.Engine
	positions *position.Manager
	symbols   []string

	quoteInterval   time.Duration
	statsInterval   time.Duration
	fundingInterval time.Duration // accrual cadence against open positions

	mu    sync.RWMutex
	rates map[string]struct{} // symbols with a known funding rate

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewService(
	source Source,
	prices *pricing.Engine,
	positions *position.Manager,
	symbols []string,
	quoteInterval, statsInterval time.Duration,
) *Service {
	return &Service{
		source:          source,
		prices:          prices,
		positions:       positions,
		symbols:         symbols,
		quoteInterval:   quoteInterval,
		statsInterval:   statsInterval,
		fundingInterval: 8 * time.Hour,
		rates:           make(map[string]struct{}),
		stopCh:          make(chan struct{}),
	}
}

// Start launches the refresh loops.
func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(2)
	go s.quoteLoop()
	go s.statsLoop()
	log.Info().
		Strs("symbols", s.symbols).
		Dur("quote_interval", s.quoteInterval).
		Dur("stats_interval", s.statsInterval).
		Msg("📈 Market feed started")
}

// Stop halts the loops and waits for them to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	log.Info().Msg("Market feed stopped")
}

func (s *Service) quoteLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.quoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RefreshQuotes()
		}
	}
}

func (s *Service) statsLoop() {
	defer s.wg.Done()

	statsTicker := time.NewTicker(s.statsInterval)
	defer statsTicker.Stop()
	fundingTicker := time.NewTicker(s.fundingInterval)
	defer fundingTicker.Stop()

	s.RefreshStats()

	for {
		select {
		case <-s.stopCh:
			return
		case <-statsTicker.C:
			s.RefreshStats()
		case <-fundingTicker.C:
			s.accrueFunding()
		}
	}
}

// RefreshQuotes pulls one round of quotes and publishes them.
func (s *Service) RefreshQuotes() {
	ctx, cancel := context.WithTimeout(context.Background(), s.quoteInterval)
	defer cancel()

	quotes, err := s.source.Quotes(ctx, s.symbols)
	if err != nil {
		log.Warn().Err(err).Msg("Quote refresh failed")
		return
	}
	for _, q := range quotes {
		s.prices.Publish(q.Symbol, q.Bid, q.Ask)
	}
}

// RefreshStats pulls 24h statistics and funding rates into the price engine.
func (s *Service) RefreshStats() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := s.source.Stats(ctx, s.symbols)
	if err != nil {
		log.Warn().Err(err).Msg("Stats refresh failed")
	} else {
		for _, st := range stats {
			s.prices.SetStats(st.Symbol, st.Change24h, st.High24h, st.Low24h, st.Volume24h)
		}
	}

	rates, err := s.source.FundingRates(ctx, s.symbols)
	if err != nil {
		log.Warn().Err(err).Msg("Funding refresh failed")
		return
	}
	s.mu.Lock()
	for _, f := range rates {
		s.prices.SetFundingRate(f.Symbol, f.Rate)
		s.rates[f.Symbol] = struct{}{}
	}
	s.mu.Unlock()
}

// accrueFunding charges one funding interval against every open position on
// symbols with a known rate.
func (s *Service) accrueFunding() {
	s.mu.RLock()
	symbols := make([]string, 0, len(s.rates))
	for sym := range s.rates {
		symbols = append(symbols, sym)
	}
	s.mu.RUnlock()

	for _, sym := range symbols {
		p, ok := s.prices.Get(sym)
		if !ok || p.FundingRate.IsZero() {
			continue
		}
		s.positions.AccrueFunding(sym, p.FundingRate)
		log.Debug().Str("symbol", sym).Str("rate", p.FundingRate.String()).Msg("Funding accrued")
	}
}
