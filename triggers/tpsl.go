package triggers

import (
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/proptrade/engine/exec"
	"github.com/proptrade/engine/position"
	"github.com/proptrade/engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TP/SL ENGINE - Take-profit and stop-loss monitoring
// ═══════════════════════════════════════════════════════════════════════════════

// TPSLEngine closes positions whose take-profit or stop-loss level the
// side-correct exit price has crossed. The close executes at the requested
// level, not the market price, so the fill honours what the trader asked for.
type TPSLEngine struct {
	positions *position.Manager
	kernel    *exec.Kernel
	events    Events
}

func NewTPSLEngine(positions *position.Manager, kernel *exec.Kernel, events Events) *TPSLEngine {
	return &TPSLEngine{positions: positions, kernel: kernel, events: events}
}

// OnPrice checks every open position on the quote's symbol. Runs on the
// price fan-out, after the record is committed.
func (e *TPSLEngine) OnPrice(p types.Price) {
	for _, pos := range e.positions.BySymbol(p.Symbol) {
		level, reason, hit := tpslHit(pos, p)
		if !hit {
			continue
		}

		external := p.ExternalBid
		if pos.Side == types.Short {
			external = p.ExternalAsk
		}
		res, err := e.kernel.Close(exec.CloseRequest{
			PositionID:    pos.ID,
			Quantity:      pos.Quantity,
			ClosePrice:    level,
			ExternalPrice: external,
			Reason:        reason,
			System:        true,
		})
		if err != nil {
			log.Warn().Err(err).
				Str("position", pos.ID).
				Str("reason", string(reason)).
				Msg("TP/SL close deferred")
			continue
		}

		acc := res.Account
		e.events.PositionClosed(acc.UserID, res)
		log.Info().
			Str("position", pos.ID).
			Str("symbol", pos.Symbol).
			Str("reason", string(reason)).
			Str("level", level.String()).
			Str("net", res.Trade.NetPnL.String()).
			Msg("🎯 TP/SL close")
	}
}

// tpslHit resolves which level, if any, the quote has crossed. TP wins when
// both would trigger on the same tick.
func tpslHit(pos types.Position, p types.Price) (level decimal.Decimal, reason types.CloseReason, hit bool) {
	if pos.Side == types.Long {
		if !pos.TakeProfit.IsZero() && p.Bid.GreaterThanOrEqual(pos.TakeProfit) {
			return pos.TakeProfit, types.CloseTakeProfit, true
		}
		if !pos.StopLoss.IsZero() && p.Bid.LessThanOrEqual(pos.StopLoss) {
			return pos.StopLoss, types.CloseStopLoss, true
		}
		return level, "", false
	}
	if !pos.TakeProfit.IsZero() && p.Ask.LessThanOrEqual(pos.TakeProfit) {
		return pos.TakeProfit, types.CloseTakeProfit, true
	}
	if !pos.StopLoss.IsZero() && p.Ask.GreaterThanOrEqual(pos.StopLoss) {
		return pos.StopLoss, types.CloseStopLoss, true
	}
	return level, "", false
}
