package triggers

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proptrade/engine/account"
	"github.com/proptrade/engine/audit"
	"github.com/proptrade/engine/exec"
	"github.com/proptrade/engine/order"
	"github.com/proptrade/engine/position"
	"github.com/proptrade/engine/pricing"
	"github.com/proptrade/engine/types"
)

type fakeStore struct {
	mu       sync.Mutex
	accounts map[string]types.Account
	plans    map[string]types.Plan
}

func (s *fakeStore) LoadAccount(id string) (*types.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, types.ErrAccountNotFound
	}
	cp := a
	return &cp, nil
}

func (s *fakeStore) UpdateAccount(a types.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
	return nil
}

func (s *fakeStore) LoadPlan(id string) (*types.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, types.ErrAccountNotFound
	}
	cp := p
	return &cp, nil
}

type nopJournal struct{}

func (nopJournal) OrderFilled(types.PendingOrder, types.OrderType, decimal.Decimal, string) {}
func (nopJournal) OrderResting(types.PendingOrder)                                          {}
func (nopJournal) OrderCancelled(string)                                                    {}
func (nopJournal) OrderExpired(string)                                                      {}
func (nopJournal) PositionOpened(types.Position)                                            {}
func (nopJournal) PositionUpdated(types.Position)                                           {}
func (nopJournal) PositionClosed(string)                                                    {}
func (nopJournal) TradeRecorded(types.TradeRecord)                                          {}

type recordEvents struct {
	mu          sync.Mutex
	fills       []string
	closes      []types.CloseReason
	warnings    []string // axis per warning
	breaches    []string // axis per breach
	stepsPassed int
	evalsPassed int
}

func (r *recordEvents) OrderFilled(userID string, res *exec.OpenResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fills = append(r.fills, res.Position.ID)
}

func (r *recordEvents) PositionClosed(userID string, res *exec.CloseResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes = append(r.closes, res.Trade.CloseReason)
}

func (r *recordEvents) RiskWarning(userID, accountID, kind string, usedPct decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, kind)
}

func (r *recordEvents) AccountBreached(userID, accountID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breaches = append(r.breaches, reason)
}

func (r *recordEvents) EvaluationStepPassed(userID, accountID string, step int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stepsPassed++
}

func (r *recordEvents) EvaluationPassed(userID, accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evalsPassed++
}

type recordRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recordRecorder) AccountEvent(accountID, typ, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, typ)
}

type fixture struct {
	store     *fakeStore
	accounts  *account.Manager
	positions *position.Manager
	orders    *order.Manager
	prices    *pricing.Engine
	kernel    *exec.Kernel
	events    *recordEvents
	recorder  *recordRecorder
	trail     *audit.Trail
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := &fakeStore{
		accounts: map[string]types.Account{
			"a1": {
				ID:               "a1",
				UserID:           "u1",
				PlanID:           "p1",
				Type:             types.Evaluation,
				Step:             1,
				Status:           types.Active,
				StartingBalance:  decimal.NewFromInt(10000),
				CurrentBalance:   decimal.NewFromInt(10000),
				PeakBalance:      decimal.NewFromInt(10000),
				AvailableMargin:  decimal.NewFromInt(10000),
				DailyLossLimit:   decimal.NewFromInt(400),
				MaxDrawdownLimit: decimal.NewFromInt(800),
				ProfitTarget:     decimal.NewFromInt(1000),

				DailyStartingBalance: decimal.NewFromInt(10000),
			},
		},
		plans: map[string]types.Plan{
			"p1": {ID: "p1", MaintenanceMargin: decimal.NewFromFloat(0.004)},
		},
	}

	accounts := account.NewManager(store, 100*time.Millisecond, 50*time.Millisecond, time.Hour)
	positions := position.NewManager()
	orders := order.NewManager(5 * time.Second)
	prices := pricing.NewEngine(decimal.Zero)
	trail := audit.NewTrail(nil)
	kernel := exec.NewKernel(accounts, positions, orders, prices, nopJournal{}, trail,
		decimal.NewFromInt(5), decimal.NewFromFloat(0.004), 5*time.Second)

	return &fixture{
		store:     store,
		accounts:  accounts,
		positions: positions,
		orders:    orders,
		prices:    prices,
		kernel:    kernel,
		events:    &recordEvents{},
		recorder:  &recordRecorder{},
		trail:     trail,
	}
}

func (f *fixture) newRisk() *RiskEngine {
	return NewRiskEngine(f.accounts, f.positions, f.kernel, f.recorder, f.trail,
		f.events, nil, time.Second)
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (f *fixture) openLong(t *testing.T, symbol, qty, lev string) *exec.OpenResult {
	t.Helper()
	res, err := f.kernel.Open(exec.OpenRequest{
		UserID: "u1", AccountID: "a1", Symbol: symbol,
		Side: types.Long, Type: types.Market,
		Quantity: dec(qty), Leverage: dec(lev),
	})
	require.NoError(t, err)
	return res
}

// ─── Limit fill ────────────────────────────────────────────────────────────────

func TestLimitFillSweep(t *testing.T) {
	f := newFixture(t)
	engine := NewLimitFillEngine(f.orders, f.prices, f.kernel, f.events, time.Hour)

	f.prices.Publish("BTCUSDT", dec("29995"), dec("30000"))
	_, resting, err := f.kernel.PlaceOrder(exec.OpenRequest{
		UserID: "u1", AccountID: "a1", Symbol: "BTCUSDT",
		Side: types.Long, Type: types.Limit,
		Quantity: dec("0.05"), Leverage: dec("10"),
		LimitPrice: dec("29000"),
	})
	require.NoError(t, err)
	require.NotNil(t, resting)

	// Market has not reached the limit yet.
	assert.Equal(t, 0, engine.Sweep(time.Now()))
	assert.Equal(t, 1, f.orders.Count())

	// Ask touches the limit: fill at 29000.
	f.prices.Publish("BTCUSDT", dec("28995"), dec("29000"))
	assert.Equal(t, 1, engine.Sweep(time.Now()))
	assert.Equal(t, 0, f.orders.Count())
	assert.Equal(t, 1, f.positions.Count())
	assert.Len(t, f.events.fills, 1)

	// Net account effect matches a direct market open at the limit price:
	// margin 145 plus fee 7.25 on a 1450 notional.
	acc, _ := f.accounts.Get("a1")
	assert.True(t, acc.AvailableMargin.Equal(dec("10000").Sub(dec("145")).Sub(dec("0.725"))),
		"got %s", acc.AvailableMargin)
	assert.True(t, acc.TotalMarginUsed.Equal(dec("145")))
}

func TestLimitFillInsufficientMarginCancels(t *testing.T) {
	f := newFixture(t)
	engine := NewLimitFillEngine(f.orders, f.prices, f.kernel, f.events, time.Hour)

	f.prices.Publish("BTCUSDT", dec("29995"), dec("30000"))
	_, resting, err := f.kernel.PlaceOrder(exec.OpenRequest{
		UserID: "u1", AccountID: "a1", Symbol: "BTCUSDT",
		Side: types.Long, Type: types.Limit,
		Quantity: dec("3"), Leverage: dec("10"),
		LimitPrice: dec("29000"), // reserves 8700
	})
	require.NoError(t, err)
	require.NotNil(t, resting)

	// Burn the rest of the margin so the fill's re-debit cannot succeed:
	// the fill releases 8700 but needs 8700 + fee 43.5.
	f.prices.Publish("ETHUSDT", dec("2000"), dec("2000"))
	f.openLong(t, "ETHUSDT", "6", "10") // margin 1200 + fee 6

	f.prices.Publish("BTCUSDT", dec("28995"), dec("29000"))
	assert.Equal(t, 0, engine.Sweep(time.Now()))

	// Order is gone, reservation released, no new BTC position.
	assert.Equal(t, 0, f.orders.Count())
	assert.Empty(t, f.positions.BySymbol("BTCUSDT"))
}

// ─── TP/SL ─────────────────────────────────────────────────────────────────────

func TestTakeProfitClosesAtLevel(t *testing.T) {
	f := newFixture(t)
	engine := NewTPSLEngine(f.positions, f.kernel, f.events)

	f.prices.Publish("BTCUSDT", dec("30000"), dec("30000"))
	res, err := f.kernel.Open(exec.OpenRequest{
		UserID: "u1", AccountID: "a1", Symbol: "BTCUSDT",
		Side: types.Long, Type: types.Market,
		Quantity: dec("0.1"), Leverage: dec("10"),
		TakeProfit: dec("31000"),
	})
	require.NoError(t, err)

	f.prices.Publish("BTCUSDT", dec("31050"), dec("31055"))
	p, _ := f.prices.Get("BTCUSDT")
	engine.OnPrice(p)

	_, open := f.positions.Get(res.Position.ID)
	assert.False(t, open)
	require.Len(t, f.events.closes, 1)
	assert.Equal(t, types.CloseTakeProfit, f.events.closes[0])

	// Fill happened at the TP level, not the market: gross = (31000-30000)*0.1.
	acc, _ := f.accounts.Get("a1")
	assert.True(t, acc.CurrentBalance.GreaterThan(dec("10090")), "got %s", acc.CurrentBalance)
}

func TestStopLossShortUsesAsk(t *testing.T) {
	f := newFixture(t)
	engine := NewTPSLEngine(f.positions, f.kernel, f.events)

	f.prices.Publish("BTCUSDT", dec("30000"), dec("30005"))
	res, err := f.kernel.Open(exec.OpenRequest{
		UserID: "u1", AccountID: "a1", Symbol: "BTCUSDT",
		Side: types.Short, Type: types.Market,
		Quantity: dec("0.1"), Leverage: dec("10"),
		StopLoss: dec("30500"),
	})
	require.NoError(t, err)

	// Ask below the stop: no trigger.
	f.prices.Publish("BTCUSDT", dec("30400"), dec("30450"))
	p, _ := f.prices.Get("BTCUSDT")
	engine.OnPrice(p)
	_, open := f.positions.Get(res.Position.ID)
	assert.True(t, open)

	// Ask through the stop: close at the stop level.
	f.prices.Publish("BTCUSDT", dec("30490"), dec("30510"))
	p, _ = f.prices.Get("BTCUSDT")
	engine.OnPrice(p)
	_, open = f.positions.Get(res.Position.ID)
	assert.False(t, open)
	require.Len(t, f.events.closes, 1)
	assert.Equal(t, types.CloseStopLoss, f.events.closes[0])
}

// ─── Liquidation ───────────────────────────────────────────────────────────────

func TestLiquidationCloses(t *testing.T) {
	f := newFixture(t)
	engine := NewLiquidationEngine(f.positions, f.kernel, f.events, 5*time.Second)

	f.prices.Publish("ETHUSDT", dec("2000"), dec("2000"))
	res := f.openLong(t, "ETHUSDT", "1", "20")
	// 2000 * (1 - 1/20 + 0.004) = 1908
	require.True(t, res.Position.LiquidationPrice.Equal(dec("1908")))

	f.prices.Publish("ETHUSDT", dec("1907"), dec("1908"))
	p, _ := f.prices.Get("ETHUSDT")
	engine.OnPrice(p)

	_, open := f.positions.Get(res.Position.ID)
	assert.False(t, open)
	require.Len(t, f.events.closes, 1)
	assert.Equal(t, types.CloseLiquidation, f.events.closes[0])

	// Closed at the market bid 1907: gross -93, minus entry fee 1 and
	// exit fee 0.9535 from a 10 000 start.
	acc, _ := f.accounts.Get("a1")
	want := dec("10000").Sub(dec("93")).Sub(dec("1")).Sub(dec("0.9535"))
	assert.True(t, acc.CurrentBalance.Equal(want), "want %s got %s", want, acc.CurrentBalance)
}

func TestLiquidationWarningFiresOnce(t *testing.T) {
	f := newFixture(t)
	engine := NewLiquidationEngine(f.positions, f.kernel, f.events, 5*time.Second)

	f.prices.Publish("ETHUSDT", dec("2000"), dec("2000"))
	f.openLong(t, "ETHUSDT", "1", "20") // liq 1908, entry 2000, span 92

	// Bid at 1950: distance (1950-1908)/92 ≈ 0.457 < 0.5.
	f.prices.Publish("ETHUSDT", dec("1950"), dec("1951"))
	p, _ := f.prices.Get("ETHUSDT")
	engine.OnPrice(p)
	engine.OnPrice(p)

	assert.Equal(t, []string{"liquidation"}, f.events.warnings)
	assert.Equal(t, 1, f.positions.Count())
}

// ─── Risk breach ───────────────────────────────────────────────────────────────

func TestDailyLossBreachClosesAndBlocks(t *testing.T) {
	f := newFixture(t)
	risk := f.newRisk()

	a := f.store.accounts["a1"]
	a.DailyPnL = dec("-410") // limit is 400
	a.CurrentBalance = dec("9590")
	a.AvailableMargin = dec("9590")
	f.store.accounts["a1"] = a

	f.prices.Publish("BTCUSDT", dec("30000"), dec("30000"))
	res, err := f.kernel.Open(exec.OpenRequest{
		UserID: "u1", AccountID: "a1", Symbol: "BTCUSDT",
		Side: types.Long, Type: types.Market,
		Quantity: dec("0.1"), Leverage: dec("10"),
	})
	require.NoError(t, err)

	risk.Evaluate("a1")

	assert.Equal(t, []string{"daily_loss"}, f.events.breaches)
	_, open := f.positions.Get(res.Position.ID)
	assert.False(t, open)

	acc, err := f.accounts.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, types.Breached, acc.Status)

	_, err = f.kernel.Open(exec.OpenRequest{
		UserID: "u1", AccountID: "a1", Symbol: "BTCUSDT",
		Side: types.Long, Type: types.Market,
		Quantity: dec("0.1"), Leverage: dec("10"),
	})
	assert.ErrorIs(t, err, types.ErrAccountInactive)
}

func TestDrawdownBreachCountsUnrealized(t *testing.T) {
	f := newFixture(t)
	risk := f.newRisk()

	// Daily limit out of the way so the drawdown axis trips first.
	a := f.store.accounts["a1"]
	a.DailyLossLimit = dec("5000")
	f.store.accounts["a1"] = a

	f.prices.Publish("BTCUSDT", dec("30000"), dec("30000"))
	f.openLong(t, "BTCUSDT", "1", "10")

	// Mark the position 900 under water: equity 10000 - fees - 900, past
	// the 800 drawdown limit.
	f.positions.OnPrice("BTCUSDT", dec("29100"))
	risk.Evaluate("a1")

	assert.Equal(t, []string{"drawdown"}, f.events.breaches)
	assert.Equal(t, 0, f.positions.Count())
}

func TestRiskWarningOncePerAxis(t *testing.T) {
	f := newFixture(t)
	risk := f.newRisk()

	a := f.store.accounts["a1"]
	a.DailyPnL = dec("-350") // 87.5% of the 400 limit
	f.store.accounts["a1"] = a

	risk.Evaluate("a1")
	risk.Evaluate("a1")

	assert.Equal(t, []string{"daily_loss"}, f.events.warnings)
	assert.Empty(t, f.events.breaches)
}

func TestEvaluationStepProgression(t *testing.T) {
	f := newFixture(t)
	risk := f.newRisk()

	a := f.store.accounts["a1"]
	a.CurrentBalance = dec("11050")
	a.CurrentProfit = dec("1050") // target 1000
	f.store.accounts["a1"] = a

	risk.Evaluate("a1")
	assert.Equal(t, 1, f.events.stepsPassed)

	acc, err := f.accounts.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, types.Step1Passed, acc.Status)
	assert.Equal(t, 2, acc.Step)

	// step1_passed still accepts orders but does not progress again until
	// operations reactivates the account for step two.
	risk.Evaluate("a1")
	assert.Equal(t, 1, f.events.stepsPassed)
	assert.Equal(t, 0, f.events.evalsPassed)
}

func TestEvaluationFinalStepPasses(t *testing.T) {
	f := newFixture(t)
	risk := f.newRisk()

	a := f.store.accounts["a1"]
	a.Step = 2
	a.CurrentProfit = dec("1200")
	f.store.accounts["a1"] = a

	risk.Evaluate("a1")
	assert.Equal(t, 1, f.events.evalsPassed)

	acc, err := f.accounts.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, types.Passed, acc.Status)
}

// ─── Dispatcher ────────────────────────────────────────────────────────────────

func TestDispatcherMarksToMarketAndTriggers(t *testing.T) {
	f := newFixture(t)
	tpsl := NewTPSLEngine(f.positions, f.kernel, f.events)
	liq := NewLiquidationEngine(f.positions, f.kernel, f.events, 5*time.Second)
	risk := f.newRisk()
	d := NewDispatcher(f.positions, tpsl, liq, risk)

	d.Start(f.prices)
	defer d.Stop(f.prices)

	f.prices.Publish("BTCUSDT", dec("30000"), dec("30000"))
	res, err := f.kernel.Open(exec.OpenRequest{
		UserID: "u1", AccountID: "a1", Symbol: "BTCUSDT",
		Side: types.Long, Type: types.Market,
		Quantity: dec("0.1"), Leverage: dec("10"),
		TakeProfit: dec("30500"),
	})
	require.NoError(t, err)

	f.prices.Publish("BTCUSDT", dec("30600"), dec("30600"))

	_, open := f.positions.Get(res.Position.ID)
	assert.False(t, open)
	require.Len(t, f.events.closes, 1)
	assert.Equal(t, types.CloseTakeProfit, f.events.closes[0])
}
