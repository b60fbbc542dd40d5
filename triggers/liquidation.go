package triggers

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/proptrade/engine/exec"
	"github.com/proptrade/engine/position"
	"github.com/proptrade/engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LIQUIDATION ENGINE - Forced closes at the maintenance threshold
// ═══════════════════════════════════════════════════════════════════════════════

var pointFive = decimal.NewFromFloat(0.5)

// LiquidationEngine closes positions whose side-correct exit price has
// reached the liquidation level, at the actual market price. A stale quote
// never liquidates. One warning fires per position when the normalised
// distance to liquidation drops below half.
type LiquidationEngine struct {
	positions   *position.Manager
	kernel      *exec.Kernel
	events      Events
	priceMaxAge time.Duration

	mu     sync.Mutex
	warned map[string]struct{}
}

func NewLiquidationEngine(positions *position.Manager, kernel *exec.Kernel, events Events, priceMaxAge time.Duration) *LiquidationEngine {
	return &LiquidationEngine{
		positions:   positions,
		kernel:      kernel,
		events:      events,
		priceMaxAge: priceMaxAge,
		warned:      make(map[string]struct{}),
	}
}

// OnPrice checks every open position on the quote's symbol.
func (e *LiquidationEngine) OnPrice(p types.Price) {
	if p.Stale(time.Now(), e.priceMaxAge) {
		return
	}

	for _, pos := range e.positions.BySymbol(p.Symbol) {
		if pos.LiquidationPrice.IsZero() {
			continue
		}

		exit := p.Bid
		external := p.ExternalBid
		breached := exit.LessThanOrEqual(pos.LiquidationPrice)
		if pos.Side == types.Short {
			exit = p.Ask
			external = p.ExternalAsk
			breached = exit.GreaterThanOrEqual(pos.LiquidationPrice)
		}

		if !breached {
			e.maybeWarn(pos, exit)
			continue
		}

		res, err := e.kernel.Close(exec.CloseRequest{
			PositionID:    pos.ID,
			Quantity:      pos.Quantity,
			ClosePrice:    exit,
			ExternalPrice: external,
			Reason:        types.CloseLiquidation,
			System:        true,
		})
		if err != nil {
			log.Warn().Err(err).Str("position", pos.ID).Msg("Liquidation close deferred")
			continue
		}

		e.forget(pos.ID)
		e.events.PositionClosed(res.Account.UserID, res)
		log.Warn().
			Str("position", pos.ID).
			Str("symbol", pos.Symbol).
			Str("exit", exit.String()).
			Str("liq", pos.LiquidationPrice.String()).
			Str("net", res.Trade.NetPnL.String()).
			Msg("💥 Position liquidated")
	}
}

// maybeWarn fires once per position when the normalised distance
// (exit - liq) / (entry - liq) for LONG, mirrored for SHORT, drops below 0.5.
func (e *LiquidationEngine) maybeWarn(pos types.Position, exit decimal.Decimal) {
	span := pos.EntryPrice.Sub(pos.LiquidationPrice)
	dist := exit.Sub(pos.LiquidationPrice)
	if pos.Side == types.Short {
		span = pos.LiquidationPrice.Sub(pos.EntryPrice)
		dist = pos.LiquidationPrice.Sub(exit)
	}
	if span.LessThanOrEqual(decimal.Zero) {
		return
	}
	norm := dist.Div(span)
	if norm.LessThan(decimal.Zero) {
		norm = decimal.Zero
	}
	if norm.GreaterThanOrEqual(pointFive) {
		return
	}

	e.mu.Lock()
	_, already := e.warned[pos.ID]
	if !already {
		e.warned[pos.ID] = struct{}{}
	}
	e.mu.Unlock()
	if already {
		return
	}

	if acc, err := e.kernel.Account(pos.AccountID); err == nil {
		e.events.RiskWarning(acc.UserID, pos.AccountID, "liquidation", norm.Mul(decimal.NewFromInt(100)))
	}
	log.Warn().
		Str("position", pos.ID).
		Str("symbol", pos.Symbol).
		Str("distance", norm.StringFixed(4)).
		Msg("⚠️ Approaching liquidation")
}

func (e *LiquidationEngine) forget(positionID string) {
	e.mu.Lock()
	delete(e.warned, positionID)
	e.mu.Unlock()
}
