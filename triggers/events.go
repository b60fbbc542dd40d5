package triggers

import (
	"github.com/shopspring/decimal"

	"github.com/proptrade/engine/exec"
)

// Events receives trigger-engine outcomes for fan-out to connected clients
// and operator channels. Implementations must not block; the gateway's
// implementation enqueues frames and drops on backpressure.
type Events interface {
	OrderFilled(userID string, res *exec.OpenResult)
	PositionClosed(userID string, res *exec.CloseResult)
	RiskWarning(userID, accountID, kind string, usedPct decimal.Decimal)
	AccountBreached(userID, accountID, reason string)
	EvaluationStepPassed(userID, accountID string, step int)
	EvaluationPassed(userID, accountID string)
}

// Tee fans every event out to multiple sinks in order.
type Tee []Events

func (t Tee) OrderFilled(userID string, res *exec.OpenResult) {
	for _, e := range t {
		e.OrderFilled(userID, res)
	}
}

func (t Tee) PositionClosed(userID string, res *exec.CloseResult) {
	for _, e := range t {
		e.PositionClosed(userID, res)
	}
}

func (t Tee) RiskWarning(userID, accountID, kind string, usedPct decimal.Decimal) {
	for _, e := range t {
		e.RiskWarning(userID, accountID, kind, usedPct)
	}
}

func (t Tee) AccountBreached(userID, accountID, reason string) {
	for _, e := range t {
		e.AccountBreached(userID, accountID, reason)
	}
}

func (t Tee) EvaluationStepPassed(userID, accountID string, step int) {
	for _, e := range t {
		e.EvaluationStepPassed(userID, accountID, step)
	}
}

func (t Tee) EvaluationPassed(userID, accountID string) {
	for _, e := range t {
		e.EvaluationPassed(userID, accountID)
	}
}

// NopEvents discards everything, for tests and headless runs.
type NopEvents struct{}

func (NopEvents) OrderFilled(string, *exec.OpenResult)                {}
func (NopEvents) PositionClosed(string, *exec.CloseResult)            {}
func (NopEvents) RiskWarning(string, string, string, decimal.Decimal) {}
func (NopEvents) AccountBreached(string, string, string)              {}
func (NopEvents) EvaluationStepPassed(string, string, int)            {}
func (NopEvents) EvaluationPassed(string, string)                     {}
