package triggers

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/proptrade/engine/account"
	"github.com/proptrade/engine/audit"
	"github.com/proptrade/engine/exec"
	"github.com/proptrade/engine/position"
	"github.com/proptrade/engine/storage"
	"github.com/proptrade/engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RISK-BREACH ENGINE - Daily loss, drawdown and evaluation progression
// ═══════════════════════════════════════════════════════════════════════════════
//
// Equity = current balance + unrealised P&L. Daily loss counts realised plus
// unrealised against the day's opening balance; drawdown measures equity
// against the starting balance. A warning fires once per axis at 80% of the
// limit; the breach itself fires at 100%, closes everything, persists and
// drops the account from monitoring.
//
// ═══════════════════════════════════════════════════════════════════════════════

var (
	warnThreshold = decimal.NewFromFloat(0.8)
	resetBelow    = decimal.NewFromFloat(0.5)
	hundred       = decimal.NewFromInt(100)
)

// Recorder persists breach and progression events. *storage.Journal
// satisfies it.
type Recorder interface {
	AccountEvent(accountID, typ, detail string)
}

// RiskEngine recomputes per-account risk on price touches and on a
// heartbeat sweep over every cached account.
type RiskEngine struct {
	accounts  *account.Manager
	positions *position.Manager
	kernel    *exec.Kernel
	recorder  Recorder
	trail     *audit.Trail
	events    Events
	snapshots *storage.SnapshotPublisher
	interval  time.Duration

	mu     sync.Mutex
	warned map[string]map[string]struct{} // account -> axis

	touchCh chan string
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewRiskEngine(
	accounts *account.Manager,
	positions *position.Manager,
	kernel *exec.Kernel,
	recorder Recorder,
	trail *audit.Trail,
	events Events,
	snapshots *storage.SnapshotPublisher,
	interval time.Duration,
) *RiskEngine {
	return &RiskEngine{
		accounts:  accounts,
		positions: positions,
		kernel:    kernel,
		recorder:  recorder,
		trail:     trail,
		events:    events,
		snapshots: snapshots,
		interval:  interval,
		warned:    make(map[string]map[string]struct{}),
		touchCh:   make(chan string, 256),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

func (e *RiskEngine) Start() {
	go e.loop()
	log.Info().Dur("heartbeat", e.interval).Msg("🛡️ Risk engine started")
}

func (e *RiskEngine) Stop() {
	close(e.stopCh)
	<-e.doneCh
}

// Touch queues accounts whose positions a price update just moved. Never
// blocks; a full queue relies on the heartbeat catching up.
func (e *RiskEngine) Touch(accountIDs []string) {
	for _, id := range accountIDs {
		select {
		case e.touchCh <- id:
		default:
			return
		}
	}
}

func (e *RiskEngine) loop() {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case id := <-e.touchCh:
			e.Evaluate(id)
		case <-ticker.C:
			for _, id := range e.accounts.CachedIDs() {
				e.Evaluate(id)
			}
		}
	}
}

// Evaluate recomputes one account's risk state and acts on it.
func (e *RiskEngine) Evaluate(accountID string) {
	acc, err := e.accounts.Get(accountID)
	if err != nil {
		return
	}
	if !acc.CanTrade() {
		return
	}

	unrealized := e.positions.AccountUnrealizedPnL(accountID)
	equity := acc.CurrentBalance.Add(unrealized)

	dailyLoss := decimal.Zero
	if d := acc.DailyPnL.Add(unrealized); d.LessThan(decimal.Zero) {
		dailyLoss = d.Neg()
	}
	drawdown := decimal.Zero
	if d := acc.StartingBalance.Sub(equity); d.GreaterThan(decimal.Zero) {
		drawdown = d
	}

	dailyUsage := usage(dailyLoss, acc.DailyLossLimit)
	ddUsage := usage(drawdown, acc.MaxDrawdownLimit)

	e.publishSnapshot(acc, unrealized, equity, dailyUsage, ddUsage)

	switch {
	case dailyUsage.GreaterThanOrEqual(decimal.NewFromInt(1)):
		e.breach(acc, "daily_loss", dailyLoss, acc.DailyLossLimit)
		return
	case ddUsage.GreaterThanOrEqual(decimal.NewFromInt(1)):
		e.breach(acc, "drawdown", drawdown, acc.MaxDrawdownLimit)
		return
	}

	e.maybeWarn(acc, "daily_loss", dailyUsage)
	e.maybeWarn(acc, "drawdown", ddUsage)
	e.progress(acc)
}

func usage(value, limit decimal.Decimal) decimal.Decimal {
	if limit.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return value.Div(limit)
}

// breach marks the account breached first, so new orders stop, then
// force-closes everything and persists the outcome.
func (e *RiskEngine) breach(acc types.Account, axis string, value, limit decimal.Decimal) {
	err := e.accounts.WithSystemLock(acc.ID, func() error {
		current, err := e.accounts.Get(acc.ID)
		if err != nil {
			return err
		}
		if current.Status == types.Breached {
			return nil
		}
		return e.accounts.Update(acc.ID, func(a *types.Account) {
			a.Status = types.Breached
		})
	})
	if err != nil {
		log.Error().Err(err).Str("account", acc.ID).Msg("Breach status update failed")
		return
	}

	summary := e.kernel.BatchCloseForBreach(acc.ID)

	detail := fmt.Sprintf(`{"axis":"%s","value":"%s","limit":"%s","closed":%d,"skipped":%d,"pnl":"%s"}`,
		axis, value.StringFixed(2), limit.StringFixed(2),
		summary.Closed, summary.SkippedStale, summary.TotalNetPnL.StringFixed(2))

	eventType := audit.DailyLossBreach
	if axis == "drawdown" {
		eventType = audit.DrawdownBreach
	}
	e.trail.Append(acc.ID, eventType, detail)
	e.recorder.AccountEvent(acc.ID, "breach_"+axis, detail)

	e.accounts.Flush()
	e.accounts.Invalidate(acc.ID)
	e.clearWarnings(acc.ID)

	e.events.AccountBreached(acc.UserID, acc.ID, axis)
	log.Error().
		Str("account", acc.ID).
		Str("axis", axis).
		Str("value", value.StringFixed(2)).
		Str("limit", limit.StringFixed(2)).
		Int("closed", summary.Closed).
		Msg("🚨 Account breached")
}

func (e *RiskEngine) maybeWarn(acc types.Account, axis string, u decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	axes, ok := e.warned[acc.ID]
	if !ok {
		axes = make(map[string]struct{})
		e.warned[acc.ID] = axes
	}

	if u.LessThan(resetBelow) {
		delete(axes, axis)
		return
	}
	if u.LessThan(warnThreshold) {
		return
	}
	if _, already := axes[axis]; already {
		return
	}
	axes[axis] = struct{}{}

	pct := u.Mul(hundred)
	e.events.RiskWarning(acc.UserID, acc.ID, axis, pct)
	log.Warn().
		Str("account", acc.ID).
		Str("axis", axis).
		Str("used_pct", pct.StringFixed(1)).
		Msg("⚠️ Risk limit warning")
}

// progress advances the evaluation state machine when the profit target is
// reached. Step 1 passes into step1_passed and waits for reactivation; the
// final step passes the evaluation outright. Funded accounts never progress.
func (e *RiskEngine) progress(acc types.Account) {
	if acc.Type != types.Evaluation || acc.Status != types.Active {
		return
	}
	if acc.ProfitTarget.LessThanOrEqual(decimal.Zero) || acc.CurrentProfit.LessThan(acc.ProfitTarget) {
		return
	}

	final := acc.Step >= 2
	err := e.accounts.WithSystemLock(acc.ID, func() error {
		return e.accounts.Update(acc.ID, func(a *types.Account) {
			if final {
				a.Status = types.Passed
			} else {
				a.Status = types.Step1Passed
				a.Step = 2
			}
		})
	})
	if err != nil {
		log.Error().Err(err).Str("account", acc.ID).Msg("Evaluation progression failed")
		return
	}

	detail := fmt.Sprintf(`{"profit":"%s","target":"%s","step":%d}`,
		acc.CurrentProfit.StringFixed(2), acc.ProfitTarget.StringFixed(2), acc.Step)
	if final {
		e.trail.Append(acc.ID, audit.EvaluationPassed, detail)
		e.recorder.AccountEvent(acc.ID, "evaluation_passed", detail)
		e.events.EvaluationPassed(acc.UserID, acc.ID)
		log.Info().Str("account", acc.ID).Msg("🏆 Evaluation passed")
	} else {
		e.trail.Append(acc.ID, audit.StepPassed, detail)
		e.recorder.AccountEvent(acc.ID, "step_passed", detail)
		e.events.EvaluationStepPassed(acc.UserID, acc.ID, 1)
		log.Info().Str("account", acc.ID).Msg("✅ Evaluation step passed")
	}
	e.accounts.Flush()
}

func (e *RiskEngine) publishSnapshot(acc types.Account, unrealized, equity, dailyUsage, ddUsage decimal.Decimal) {
	e.snapshots.Publish(storage.RiskSnapshot{
		AccountID:     acc.ID,
		Equity:        equity.StringFixed(2),
		UnrealizedPnL: unrealized.StringFixed(2),
		DailyPnL:      acc.DailyPnL.StringFixed(2),
		DailyLossPct:  dailyUsage.Mul(hundred).InexactFloat64(),
		DrawdownPct:   ddUsage.Mul(hundred).InexactFloat64(),
		UpdatedAt:     time.Now().Unix(),
	})
}

func (e *RiskEngine) clearWarnings(accountID string) {
	e.mu.Lock()
	delete(e.warned, accountID)
	e.mu.Unlock()
}
