package triggers

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/proptrade/engine/exec"
	"github.com/proptrade/engine/order"
	"github.com/proptrade/engine/pricing"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LIMIT-FILL ENGINE - Converts resting orders into positions
// ═══════════════════════════════════════════════════════════════════════════════

// LimitFillEngine sweeps the order book on a short interval. A LONG fills
// when the internal ask has come down to the limit, a SHORT when the internal
// bid has come up to it; the open path then executes at the side-correct
// market price, which the fill condition bounds by the limit. The same sweep
// expires orders past their good-until time.
type LimitFillEngine struct {
	orders   *order.Manager
	prices   *pricing.Engine
	kernel   *exec.Kernel
	events   Events
	interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewLimitFillEngine(orders *order.Manager, prices *pricing.Engine, kernel *exec.Kernel, events Events, interval time.Duration) *LimitFillEngine {
	return &LimitFillEngine{
		orders:   orders,
		prices:   prices,
		kernel:   kernel,
		events:   events,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (e *LimitFillEngine) Start() {
	go e.loop()
	log.Info().Dur("interval", e.interval).Msg("⚡ Limit-fill engine started")
}

func (e *LimitFillEngine) Stop() {
	close(e.stopCh)
	<-e.doneCh
}

func (e *LimitFillEngine) loop() {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.Sweep(time.Now())
		}
	}
}

// Sweep runs one pass over every quoted symbol. Exported for tests.
func (e *LimitFillEngine) Sweep(now time.Time) int {
	filled := 0
	for _, symbol := range e.prices.Symbols() {
		p, ok := e.prices.Get(symbol)
		if !ok {
			continue
		}
		for _, o := range e.orders.CheckFills(p, now) {
			res, err := e.kernel.FillResting(o)
			if err != nil {
				// FillResting already re-parked or cancelled the order.
				log.Debug().Err(err).Str("order", o.ID).Msg("Limit fill deferred")
				continue
			}
			filled++
			e.events.OrderFilled(o.UserID, res)
			log.Info().
				Str("order", o.ID).
				Str("symbol", o.Symbol).
				Str("limit", o.LimitPrice.String()).
				Str("exec", res.ExecPrice.String()).
				Msg("Limit order filled")
		}
	}
	e.kernel.ExpireOrders(now)
	return filled
}
