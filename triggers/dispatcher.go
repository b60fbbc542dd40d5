package triggers

import (
	"github.com/proptrade/engine/position"
	"github.com/proptrade/engine/pricing"
	"github.com/proptrade/engine/types"
)

// Dispatcher is the single price subscriber that drives the tick-reactive
// engines in a fixed order: mark-to-market first, then TP/SL, then
// liquidation, then the risk recompute. Running after the record is
// committed means a threshold-crossing quote reaches the triggers before
// any client command that reads the same price.
type Dispatcher struct {
	positions *position.Manager
	tpsl      *TPSLEngine
	liq       *LiquidationEngine
	risk      *RiskEngine

	subID int
}

func NewDispatcher(positions *position.Manager, tpsl *TPSLEngine, liq *LiquidationEngine, risk *RiskEngine) *Dispatcher {
	return &Dispatcher{positions: positions, tpsl: tpsl, liq: liq, risk: risk}
}

// Start registers the dispatcher on the price engine's fan-out.
func (d *Dispatcher) Start(prices *pricing.Engine) {
	d.subID = prices.Subscribe(d.OnPrice)
}

// Stop unregisters from the fan-out.
func (d *Dispatcher) Stop(prices *pricing.Engine) {
	prices.Unsubscribe(d.subID)
}

// OnPrice handles one committed quote.
func (d *Dispatcher) OnPrice(p types.Price) {
	touched := d.positions.OnPrice(p.Symbol, p.Mid)
	d.tpsl.OnPrice(p)
	d.liq.OnPrice(p)
	d.risk.Touch(touched)
}
