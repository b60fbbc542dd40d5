package exec

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/proptrade/engine/account"
	"github.com/proptrade/engine/audit"
	"github.com/proptrade/engine/order"
	"github.com/proptrade/engine/position"
	"github.com/proptrade/engine/pricing"
	"github.com/proptrade/engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTION KERNEL - Synchronous open / close / partial-close paths
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every compound mutation runs under the owning account's lock. The critical
// section touches memory only; persistence is enqueued after the in-memory
// state is already committed, so a store outage never fails an execution.
//
// ═══════════════════════════════════════════════════════════════════════════════

var (
	one        = decimal.NewFromInt(1)
	bpsDivisor = decimal.NewFromInt(10000)
)

// Journal receives the kernel's durable write intents.
type Journal interface {
	OrderFilled(o types.PendingOrder, typ types.OrderType, fillPrice decimal.Decimal, positionID string)
	OrderResting(o types.PendingOrder)
	OrderCancelled(id string)
	OrderExpired(id string)
	PositionOpened(p types.Position)
	PositionUpdated(p types.Position)
	PositionClosed(id string)
	TradeRecorded(t types.TradeRecord)
}

// Kernel is the synchronous execution engine.
type Kernel struct {
	accounts  *account.Manager
	positions *position.Manager
	orders    *order.Manager
	prices    *pricing.Engine
	journal   Journal
	trail     *audit.Trail

	feeBps      decimal.Decimal
	maintMargin decimal.Decimal // fallback when the plan carries none
	priceMaxAge time.Duration
}

func NewKernel(
	accounts *account.Manager,
	positions *position.Manager,
	orders *order.Manager,
	prices *pricing.Engine,
	journal Journal,
	trail *audit.Trail,
	feeBps, maintMargin decimal.Decimal,
	priceMaxAge time.Duration,
) *Kernel {
	return &Kernel{
		accounts:    accounts,
		positions:   positions,
		orders:      orders,
		prices:      prices,
		journal:     journal,
		trail:       trail,
		feeBps:      feeBps,
		maintMargin: maintMargin,
		priceMaxAge: priceMaxAge,
	}
}

// OpenRequest describes a market open or a marketable limit fill.
type OpenRequest struct {
	UserID     string
	AccountID  string
	Symbol     string
	Side       types.Side
	Type       types.OrderType
	Quantity   decimal.Decimal
	Leverage   decimal.Decimal
	LimitPrice decimal.Decimal
	TakeProfit decimal.Decimal
	StopLoss   decimal.Decimal
	ClientID   string

	// SystemBudget selects the trigger-engine lock budget instead of the
	// user-command one (limit fills run on the system budget).
	SystemBudget bool
}

// OpenResult is returned on a successful open.
type OpenResult struct {
	Position  types.Position
	Account   types.Account
	ExecPrice decimal.Decimal
	Elapsed   time.Duration
}

// Open executes the open path: price gate, status gate, margin arithmetic,
// position insert and account patch, all under the account lock.
func (k *Kernel) Open(req OpenRequest) (*OpenResult, error) {
	start := time.Now()

	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("quantity must be positive: %w", types.ErrInsufficientMargin)
	}
	if req.Leverage.LessThan(one) {
		req.Leverage = one
	}

	// Fast pre-check outside the lock; re-read inside stays unnecessary
	// because the price engine is single-writer per symbol and triggers
	// tolerate one-tick-old executions.
	price, ok := k.prices.Get(req.Symbol)
	if !ok {
		return nil, types.ErrPriceUnavailable
	}
	if price.Stale(start, k.priceMaxAge) {
		return nil, types.ErrPriceStale
	}
	if req.Type == types.Limit && !limitReached(req.Side, req.LimitPrice, price) {
		return nil, types.ErrLimitPriceNotMet
	}

	execPrice := price.Ask
	externalRef := price.ExternalAsk
	if req.Side == types.Short {
		execPrice = price.Bid
		externalRef = price.ExternalBid
	}

	var result *OpenResult
	lock := k.accounts.WithUserLock
	if req.SystemBudget {
		lock = k.accounts.WithSystemLock
	}

	err := lock(req.AccountID, func() error {
		acc, err := k.accounts.Get(req.AccountID)
		if err != nil {
			return err
		}
		if acc.UserID != req.UserID {
			return types.ErrUnauthorized
		}
		if !acc.CanTrade() {
			return types.ErrAccountInactive
		}

		leverage, maint := k.planLimits(&acc, req.Symbol, req.Leverage)

		notional := req.Quantity.Mul(execPrice)
		margin := notional.Div(leverage)
		fee := notional.Mul(k.feeBps).Div(bpsDivisor)

		if margin.Add(fee).GreaterThan(acc.AvailableMargin) {
			return fmt.Errorf("required %s + fee %s, available %s: %w",
				margin.StringFixed(2), fee.StringFixed(2),
				acc.AvailableMargin.StringFixed(2), types.ErrInsufficientMargin)
		}

		now := time.Now()
		pos := types.Position{
			ID:                 uuid.New().String(),
			AccountID:          req.AccountID,
			Symbol:             req.Symbol,
			Side:               req.Side,
			Quantity:           req.Quantity,
			Leverage:           leverage,
			EntryPrice:         execPrice,
			EntryValue:         notional,
			MarginUsed:         margin,
			EntryFee:           fee,
			TakeProfit:         req.TakeProfit,
			StopLoss:           req.StopLoss,
			LiquidationPrice:   liquidationPrice(req.Side, execPrice, leverage, maint),
			EntryExternalPrice: externalRef,
			CurrentPrice:       execPrice,
			OpenedAt:           now,
		}
		k.positions.Add(pos)

		if err := k.accounts.Update(req.AccountID, func(a *types.Account) {
			a.AvailableMargin = a.AvailableMargin.Sub(margin).Sub(fee)
			a.TotalMarginUsed = a.TotalMarginUsed.Add(margin)
			a.CurrentBalance = a.CurrentBalance.Sub(fee)
			a.TotalTrades++
			a.TotalVolume = a.TotalVolume.Add(notional)
			a.LastTradeAt = now
		}); err != nil {
			k.positions.Remove(pos.ID)
			return err
		}

		filled := types.PendingOrder{
			ID:         uuid.New().String(),
			ClientID:   req.ClientID,
			AccountID:  req.AccountID,
			UserID:     req.UserID,
			Symbol:     req.Symbol,
			Side:       req.Side,
			Quantity:   req.Quantity,
			Leverage:   leverage,
			LimitPrice: req.LimitPrice,
			TakeProfit: req.TakeProfit,
			StopLoss:   req.StopLoss,
			CreatedAt:  now,
		}
		k.journal.OrderFilled(filled, req.Type, execPrice, pos.ID)
		k.journal.PositionOpened(pos)

		k.trail.Append(req.AccountID, audit.OrderFilled,
			fmt.Sprintf(`{"order":"%s","symbol":"%s","side":"%s","price":"%s"}`,
				filled.ID, req.Symbol, req.Side, execPrice))
		k.trail.Append(req.AccountID, audit.PositionOpened,
			fmt.Sprintf(`{"position":"%s","symbol":"%s","side":"%s","qty":"%s","entry":"%s","margin":"%s"}`,
				pos.ID, req.Symbol, req.Side, req.Quantity, execPrice, margin))

		updated, _ := k.accounts.Get(req.AccountID)
		result = &OpenResult{
			Position:  pos,
			Account:   updated,
			ExecPrice: execPrice,
			Elapsed:   time.Since(start),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("account", req.AccountID).
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("qty", req.Quantity.String()).
		Str("price", result.ExecPrice.String()).
		Dur("elapsed", result.Elapsed).
		Msg("Position opened")
	return result, nil
}

// PlaceOrder is the gateway entry point: market orders and marketable limit
// orders execute immediately; a limit order away from the market rests with
// its margin reserved.
func (k *Kernel) PlaceOrder(req OpenRequest) (*OpenResult, *types.PendingOrder, error) {
	if req.Type != types.Limit {
		res, err := k.Open(req)
		return res, nil, err
	}

	price, ok := k.prices.Get(req.Symbol)
	if ok && !price.Stale(time.Now(), k.priceMaxAge) && limitReached(req.Side, req.LimitPrice, price) {
		res, err := k.Open(req)
		return res, nil, err
	}

	resting, err := k.RestLimit(req)
	if err != nil {
		return nil, nil, err
	}
	return nil, resting, nil
}

// RestLimit reserves margin for a limit order and parks it in the order
// manager. The reservation is released on cancel, expiry or fill.
func (k *Kernel) RestLimit(req OpenRequest) (*types.PendingOrder, error) {
	if req.LimitPrice.LessThanOrEqual(decimal.Zero) {
		return nil, types.ErrLimitPriceNotMet
	}
	if req.Leverage.LessThan(one) {
		req.Leverage = one
	}

	var resting types.PendingOrder
	err := k.accounts.WithUserLock(req.AccountID, func() error {
		acc, err := k.accounts.Get(req.AccountID)
		if err != nil {
			return err
		}
		if acc.UserID != req.UserID {
			return types.ErrUnauthorized
		}
		if !acc.CanTrade() {
			return types.ErrAccountInactive
		}

		leverage, _ := k.planLimits(&acc, req.Symbol, req.Leverage)
		reserved := req.Quantity.Mul(req.LimitPrice).Div(leverage)
		if reserved.GreaterThan(acc.AvailableMargin) {
			return fmt.Errorf("reserved %s, available %s: %w",
				reserved.StringFixed(2), acc.AvailableMargin.StringFixed(2),
				types.ErrInsufficientMargin)
		}

		resting = types.PendingOrder{
			ID:             uuid.New().String(),
			ClientID:       req.ClientID,
			AccountID:      req.AccountID,
			UserID:         req.UserID,
			Symbol:         req.Symbol,
			Side:           req.Side,
			Quantity:       req.Quantity,
			Leverage:       leverage,
			LimitPrice:     req.LimitPrice,
			TakeProfit:     req.TakeProfit,
			StopLoss:       req.StopLoss,
			ReservedMargin: reserved,
			CreatedAt:      time.Now(),
		}
		if err := k.orders.Place(resting); err != nil {
			return err
		}

		if err := k.accounts.Update(req.AccountID, func(a *types.Account) {
			a.AvailableMargin = a.AvailableMargin.Sub(reserved)
		}); err != nil {
			k.orders.MarkFilled(resting.ID) // roll the book entry back
			return err
		}

		k.journal.OrderResting(resting)
		k.trail.Append(req.AccountID, audit.OrderPlaced,
			fmt.Sprintf(`{"order":"%s","symbol":"%s","side":"%s","limit":"%s","reserved":"%s"}`,
				resting.ID, req.Symbol, req.Side, req.LimitPrice, reserved))
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("account", req.AccountID).
		Str("order", resting.ID).
		Str("limit", resting.LimitPrice.String()).
		Msg("Limit order resting")
	return &resting, nil
}

// CancelOrder removes a resting order and hands its reserved margin back.
func (k *Kernel) CancelOrder(orderID, userID string) error {
	o, ok := k.orders.Get(orderID)
	if !ok {
		return types.ErrOrderNotFound
	}
	if o.UserID != userID {
		return types.ErrUnauthorized
	}

	return k.accounts.WithUserLock(o.AccountID, func() error {
		cancelled, err := k.orders.Cancel(orderID)
		if err != nil {
			return err
		}
		if err := k.accounts.Update(o.AccountID, func(a *types.Account) {
			a.AvailableMargin = a.AvailableMargin.Add(cancelled.ReservedMargin)
		}); err != nil {
			return err
		}
		k.journal.OrderCancelled(orderID)
		k.trail.Append(o.AccountID, audit.OrderCancelled,
			fmt.Sprintf(`{"order":"%s"}`, orderID))
		return nil
	})
}

// ReleaseReserved hands a resting order's margin back under the account
// lock; the limit-fill engine calls this before re-running the open path.
func (k *Kernel) ReleaseReserved(accountID string, amount decimal.Decimal) error {
	return k.accounts.WithSystemLock(accountID, func() error {
		return k.accounts.Update(accountID, func(a *types.Account) {
			a.AvailableMargin = a.AvailableMargin.Add(amount)
		})
	})
}

// FillResting converts a resting limit order whose trigger condition the
// market has met into an open position. The reservation is released first and
// the full open path re-debits margin plus fee, so the net account effect
// equals a direct market open at the limit price. If the quote moved away
// between the check and the fill, the order is re-parked with its reservation
// restored; if margin no longer suffices, the order is cancelled.
func (k *Kernel) FillResting(o types.PendingOrder) (*OpenResult, error) {
	k.orders.MarkFilled(o.ID)
	if err := k.ReleaseReserved(o.AccountID, o.ReservedMargin); err != nil {
		// Reservation untouched; put the order back so the next sweep
		// retries instead of stranding the reserved margin.
		if placeErr := k.orders.Place(o); placeErr != nil {
			log.Error().Err(placeErr).Str("order", o.ID).Msg("Order re-park failed after busy fill")
		}
		return nil, err
	}

	res, err := k.Open(OpenRequest{
		UserID:       o.UserID,
		AccountID:    o.AccountID,
		Symbol:       o.Symbol,
		Side:         o.Side,
		Type:         types.Limit,
		Quantity:     o.Quantity,
		Leverage:     o.Leverage,
		LimitPrice:   o.LimitPrice,
		TakeProfit:   o.TakeProfit,
		StopLoss:     o.StopLoss,
		ClientID:     o.ClientID,
		SystemBudget: true,
	})
	if err == nil {
		return res, nil
	}

	if errors.Is(err, types.ErrLimitPriceNotMet) || errors.Is(err, types.ErrPriceStale) ||
		errors.Is(err, types.ErrPriceUnavailable) || errors.Is(err, types.ErrAccountBusy) {
		// Transient; restore the reservation and park the order again.
		if rbErr := k.accounts.WithSystemLock(o.AccountID, func() error {
			if placeErr := k.orders.Place(o); placeErr != nil {
				return placeErr
			}
			return k.accounts.Update(o.AccountID, func(a *types.Account) {
				a.AvailableMargin = a.AvailableMargin.Sub(o.ReservedMargin)
			})
		}); rbErr != nil {
			// Margin is already back in available; record the order as
			// cancelled so no half-resting state survives.
			log.Error().Err(rbErr).Str("order", o.ID).Msg("Limit fill rollback failed, cancelling order")
			k.journal.OrderCancelled(o.ID)
			k.trail.Append(o.AccountID, audit.OrderCancelled,
				fmt.Sprintf(`{"order":"%s","cause":"%s"}`, o.ID, types.ErrorLabel(rbErr)))
		}
		return nil, err
	}

	// Margin gone or account no longer tradeable; drop the order for good.
	k.journal.OrderCancelled(o.ID)
	k.trail.Append(o.AccountID, audit.OrderCancelled,
		fmt.Sprintf(`{"order":"%s","cause":"%s"}`, o.ID, types.ErrorLabel(err)))
	log.Warn().Err(err).Str("order", o.ID).Msg("Limit fill cancelled order")
	return nil, err
}

// ExpireOrders sweeps out resting orders past their expiry and releases
// their margin.
func (k *Kernel) ExpireOrders(now time.Time) int {
	expired := k.orders.Expire(now)
	for _, o := range expired {
		o := o
		err := k.accounts.WithSystemLock(o.AccountID, func() error {
			return k.accounts.Update(o.AccountID, func(a *types.Account) {
				a.AvailableMargin = a.AvailableMargin.Add(o.ReservedMargin)
			})
		})
		if err != nil {
			log.Warn().Err(err).Str("order", o.ID).Msg("Expiry margin release failed")
			continue
		}
		k.journal.OrderExpired(o.ID)
		k.trail.Append(o.AccountID, audit.OrderExpired, fmt.Sprintf(`{"order":"%s"}`, o.ID))
	}
	return len(expired)
}

// Modify adjusts a position's TP/SL levels.
func (k *Kernel) Modify(positionID, userID string, takeProfit, stopLoss decimal.Decimal) (*types.Position, error) {
	pos, ok := k.positions.Get(positionID)
	if !ok {
		return nil, types.ErrPositionNotFound
	}

	var updated types.Position
	err := k.accounts.WithUserLock(pos.AccountID, func() error {
		pos, ok = k.positions.Get(positionID)
		if !ok {
			return types.ErrPositionNotFound
		}
		acc, err := k.accounts.Get(pos.AccountID)
		if err != nil {
			return err
		}
		if acc.UserID != userID {
			return types.ErrUnauthorized
		}

		pos.TakeProfit = takeProfit
		pos.StopLoss = stopLoss
		k.positions.Update(pos)
		k.journal.PositionUpdated(pos)
		updated = pos
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Account returns the current cached account state.
func (k *Kernel) Account(id string) (types.Account, error) {
	return k.accounts.Get(id)
}

// planLimits resolves the effective leverage cap and maintenance margin for
// the account's plan. A missing plan falls back to the engine defaults.
func (k *Kernel) planLimits(acc *types.Account, symbol string, requested decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	leverage := requested
	maint := k.maintMargin

	plan, err := k.accounts.Plan(acc.PlanID)
	if err != nil {
		log.Warn().Err(err).Str("plan", acc.PlanID).Msg("Plan load failed, using defaults")
		return leverage, maint
	}

	if !plan.MaintenanceMargin.IsZero() {
		maint = plan.MaintenanceMargin
	}
	if maxLev, ok := plan.LeverageCaps[symbolCategory(symbol)]; ok && leverage.GreaterThan(maxLev) {
		leverage = maxLev
	}
	return leverage, maint
}

// liquidationPrice is entry*(1 - 1/leverage + maint) for LONG and the mirror
// for SHORT, so the maintenance buffer triggers before margin is fully gone.
func liquidationPrice(side types.Side, entry, leverage, maint decimal.Decimal) decimal.Decimal {
	inv := one.Div(leverage)
	if side == types.Long {
		return entry.Mul(one.Sub(inv).Add(maint))
	}
	return entry.Mul(one.Add(inv).Sub(maint))
}

// limitReached reports whether the internal quote satisfies a limit price.
func limitReached(side types.Side, limit decimal.Decimal, p types.Price) bool {
	if limit.LessThanOrEqual(decimal.Zero) {
		return false
	}
	if side == types.Long {
		return p.Ask.LessThanOrEqual(limit)
	}
	return p.Bid.GreaterThanOrEqual(limit)
}

func symbolCategory(symbol string) string {
	s := strings.ToUpper(symbol)
	switch {
	case strings.HasPrefix(s, "BTC"), strings.HasPrefix(s, "ETH"),
		strings.HasPrefix(s, "SOL"), strings.HasPrefix(s, "XRP"):
		return "crypto"
	case strings.HasPrefix(s, "XAU"), strings.HasPrefix(s, "XAG"):
		return "metals"
	default:
		return "forex"
	}
}
