package alert

import (
	"github.com/shopspring/decimal"

	"github.com/proptrade/engine/exec"
	"github.com/proptrade/engine/types"
)

// EventSink adapts trigger-engine events onto operator alerts. Only the
// events a human should wake up for reach Telegram; the rest are no-ops.
type EventSink struct {
	notifier *Notifier
}

func NewEventSink(n *Notifier) *EventSink {
	return &EventSink{notifier: n}
}

func (s *EventSink) OrderFilled(string, *exec.OpenResult) {}

func (s *EventSink) PositionClosed(_ string, res *exec.CloseResult) {
	if res.Trade.CloseReason == types.CloseLiquidation {
		s.notifier.Liquidation(res.Trade.AccountID, res.Trade.Symbol, res.Trade.NetPnL)
	}
}

func (s *EventSink) RiskWarning(string, string, string, decimal.Decimal) {}

func (s *EventSink) AccountBreached(_, accountID, reason string) {
	s.notifier.AccountBreached(accountID, reason)
}

func (s *EventSink) EvaluationStepPassed(string, string, int) {}

func (s *EventSink) EvaluationPassed(_, accountID string) {
	s.notifier.EvaluationPassed(accountID)
}
