package exec

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/proptrade/engine/audit"
	"github.com/proptrade/engine/position"
	"github.com/proptrade/engine/types"
)

// CloseRequest describes a full or partial close. Quantity zero (or at or
// above the position's quantity) means full close. System requests skip the
// ownership check and run on the trigger-engine lock budget.
type CloseRequest struct {
	PositionID    string
	UserID        string
	Quantity      decimal.Decimal
	ClosePrice    decimal.Decimal
	ExternalPrice decimal.Decimal
	Reason        types.CloseReason
	System        bool
}

// CloseResult is returned on a successful close.
type CloseResult struct {
	Trade     types.TradeRecord
	Account   types.Account
	Remaining *types.Position // nil after a full close
}

// Close settles realised P&L, fees and funding for the closed quantity,
// releases the proportional margin and updates account aggregates. All under
// the owning account's lock.
func (k *Kernel) Close(req CloseRequest) (*CloseResult, error) {
	pos, ok := k.positions.Get(req.PositionID)
	if !ok {
		return nil, types.ErrPositionNotFound
	}

	lock := k.accounts.WithUserLock
	if req.System {
		lock = k.accounts.WithSystemLock
	}

	var result *CloseResult
	err := lock(pos.AccountID, func() error {
		pos, ok = k.positions.Get(req.PositionID)
		if !ok {
			return types.ErrPositionNotFound
		}
		acc, err := k.accounts.Get(pos.AccountID)
		if err != nil {
			return err
		}
		if !req.System && acc.UserID != req.UserID {
			return types.ErrUnauthorized
		}

		closeQty := req.Quantity
		if closeQty.LessThanOrEqual(decimal.Zero) || closeQty.GreaterThanOrEqual(pos.Quantity) {
			closeQty = pos.Quantity
		}
		ratio := closeQty.Div(pos.Quantity)
		full := closeQty.Equal(pos.Quantity)

		gross := position.UnrealizedPnL(pos.Side, pos.EntryPrice, req.ClosePrice, closeQty)
		exitValue := closeQty.Mul(req.ClosePrice)
		exitFee := exitValue.Mul(k.feeBps).Div(bpsDivisor)
		funding := pos.AccumulatedFunding.Mul(ratio)
		net := gross.Sub(exitFee).Sub(funding)
		marginRelease := pos.MarginUsed.Mul(ratio)

		now := time.Now()
		trade := types.TradeRecord{
			ID:                 uuid.New().String(),
			AccountID:          pos.AccountID,
			PositionID:         pos.ID,
			Symbol:             pos.Symbol,
			Side:               pos.Side,
			Quantity:           closeQty,
			Leverage:           pos.Leverage,
			EntryPrice:         pos.EntryPrice,
			EntryValue:         pos.EntryValue.Mul(ratio),
			EntryFee:           pos.EntryFee.Mul(ratio),
			ExitPrice:          req.ClosePrice,
			ExitValue:          exitValue,
			ExitFee:            exitFee,
			CloseReason:        req.Reason,
			FundingFee:         funding,
			GrossPnL:           gross,
			TotalFees:          exitFee.Add(funding),
			NetPnL:             net,
			DurationSec:        int64(now.Sub(pos.OpenedAt).Seconds()),
			EntryExternalPrice: pos.EntryExternalPrice,
			ExitExternalPrice:  req.ExternalPrice,
			ClosedAt:           now,
		}

		if full {
			k.positions.Remove(pos.ID)
		} else {
			keep := one.Sub(ratio)
			pos.Quantity = pos.Quantity.Sub(closeQty)
			pos.MarginUsed = pos.MarginUsed.Mul(keep)
			pos.EntryFee = pos.EntryFee.Mul(keep)
			pos.EntryValue = pos.EntryValue.Mul(keep)
			pos.AccumulatedFunding = pos.AccumulatedFunding.Mul(keep)
			pos.UnrealizedPnL = position.UnrealizedPnL(pos.Side, pos.EntryPrice, req.ClosePrice, pos.Quantity)
			k.positions.Update(pos)
		}

		if err := k.accounts.Update(pos.AccountID, func(a *types.Account) {
			a.CurrentBalance = a.CurrentBalance.Add(net)
			a.AvailableMargin = a.AvailableMargin.Add(marginRelease).Add(net)
			a.TotalMarginUsed = decimal.Max(decimal.Zero, a.TotalMarginUsed.Sub(marginRelease))
			a.DailyPnL = a.DailyPnL.Add(net)
			a.CurrentProfit = a.CurrentBalance.Sub(a.StartingBalance)
			if a.CurrentBalance.GreaterThan(a.PeakBalance) {
				a.PeakBalance = a.CurrentBalance
			}
			if net.GreaterThan(decimal.Zero) {
				a.WinningTrades++
			} else if net.LessThan(decimal.Zero) {
				a.LosingTrades++
			}
		}); err != nil {
			return err
		}

		if full {
			k.journal.PositionClosed(pos.ID)
		} else {
			k.journal.PositionUpdated(pos)
		}
		k.journal.TradeRecorded(trade)

		k.trail.Append(pos.AccountID, closeAuditEvent(req.Reason),
			fmt.Sprintf(`{"position":"%s","trade":"%s","reason":"%s","qty":"%s","exit":"%s","net":"%s"}`,
				pos.ID, trade.ID, req.Reason, closeQty, req.ClosePrice, net))

		updated, _ := k.accounts.Get(pos.AccountID)
		result = &CloseResult{Trade: trade, Account: updated}
		if !full {
			rem := pos
			result.Remaining = &rem
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("account", result.Trade.AccountID).
		Str("position", req.PositionID).
		Str("reason", string(req.Reason)).
		Str("net", result.Trade.NetPnL.String()).
		Msg("Position closed")
	return result, nil
}

// CloseAtMarket resolves the side-correct exit price from the current quote
// and closes. LONG positions exit on the bid, SHORT on the ask.
func (k *Kernel) CloseAtMarket(positionID, userID string, qty decimal.Decimal, reason types.CloseReason, system bool) (*CloseResult, error) {
	pos, ok := k.positions.Get(positionID)
	if !ok {
		return nil, types.ErrPositionNotFound
	}
	price, ok := k.prices.Get(pos.Symbol)
	if !ok {
		return nil, types.ErrPriceUnavailable
	}
	if price.Stale(time.Now(), k.priceMaxAge) {
		return nil, types.ErrPriceStale
	}

	closePrice := price.Bid
	external := price.ExternalBid
	if pos.Side == types.Short {
		closePrice = price.Ask
		external = price.ExternalAsk
	}
	return k.Close(CloseRequest{
		PositionID:    positionID,
		UserID:        userID,
		Quantity:      qty,
		ClosePrice:    closePrice,
		ExternalPrice: external,
		Reason:        reason,
		System:        system,
	})
}

// BreachCloseSummary reports the outcome of a forced batch close.
type BreachCloseSummary struct {
	Closed       int
	SkippedStale int
	TotalNetPnL  decimal.Decimal
}

// BatchCloseForBreach force-closes every open position on the account with
// reason BREACH. Positions whose symbol has no fresh quote are skipped and
// left for the next sweep rather than closed at a fictitious price.
func (k *Kernel) BatchCloseForBreach(accountID string) BreachCloseSummary {
	var summary BreachCloseSummary
	now := time.Now()

	for _, pos := range k.positions.ByAccount(accountID) {
		price, ok := k.prices.Get(pos.Symbol)
		if !ok || price.Stale(now, k.priceMaxAge) {
			summary.SkippedStale++
			log.Warn().
				Str("account", accountID).
				Str("position", pos.ID).
				Str("symbol", pos.Symbol).
				Msg("Breach close skipped, no fresh quote")
			continue
		}

		closePrice := price.Bid
		external := price.ExternalBid
		if pos.Side == types.Short {
			closePrice = price.Ask
			external = price.ExternalAsk
		}

		res, err := k.Close(CloseRequest{
			PositionID:    pos.ID,
			Quantity:      pos.Quantity,
			ClosePrice:    closePrice,
			ExternalPrice: external,
			Reason:        types.CloseBreach,
			System:        true,
		})
		if err != nil {
			log.Error().Err(err).Str("position", pos.ID).Msg("Breach close failed")
			continue
		}
		summary.Closed++
		summary.TotalNetPnL = summary.TotalNetPnL.Add(res.Trade.NetPnL)
	}
	return summary
}

func closeAuditEvent(reason types.CloseReason) audit.EventType {
	switch reason {
	case types.CloseTakeProfit:
		return audit.TPTriggered
	case types.CloseStopLoss:
		return audit.SLTriggered
	case types.CloseLiquidation:
		return audit.LiquidationTriggered
	default:
		return audit.PositionClosed
	}
}
