package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Side of a position or order.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// OrderType distinguishes immediate from resting orders.
type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
)

// AccountType distinguishes evaluation accounts from funded ones.
type AccountType string

const (
	Evaluation AccountType = "evaluation"
	Funded     AccountType = "funded"
)

// AccountStatus is the account lifecycle state. Only Active and Step1Passed
// accept new orders.
type AccountStatus string

const (
	PendingPayment AccountStatus = "pending_payment"
	Active         AccountStatus = "active"
	Step1Passed    AccountStatus = "step1_passed"
	Passed         AccountStatus = "passed"
	Breached       AccountStatus = "breached"
	Expired        AccountStatus = "expired"
	Suspended      AccountStatus = "suspended"
)

// CloseReason records why a position was closed.
type CloseReason string

const (
	CloseManual      CloseReason = "MANUAL"
	CloseTakeProfit  CloseReason = "TAKE_PROFIT"
	CloseStopLoss    CloseReason = "STOP_LOSS"
	CloseLiquidation CloseReason = "LIQUIDATION"
	CloseBreach      CloseReason = "BREACH"
)

// Price is the latest quote for a symbol. Bid/Ask are the internal prices
// after the symbol's spread markup; the External* fields are the raw feed
// values. Overwritten on every publish, never removed.
type Price struct {
	Symbol      string
	Bid         decimal.Decimal // internal, markup applied
	Ask         decimal.Decimal // internal, markup applied
	Mid         decimal.Decimal
	ExternalBid decimal.Decimal
	ExternalAsk decimal.Decimal
	SpreadBps   decimal.Decimal
	Change24h   decimal.Decimal
	High24h     decimal.Decimal
	Low24h      decimal.Decimal
	Volume24h   decimal.Decimal
	FundingRate decimal.Decimal
	Timestamp   time.Time
}

// Stale reports whether the quote is older than maxAge at the given instant.
func (p *Price) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(p.Timestamp) > maxAge
}

// Plan is the per-account evaluation parameter bundle loaded from the store.
// Leverage caps are keyed by instrument category ("crypto", "forex", ...).
type Plan struct {
	ID                string
	Name              string
	DailyLossPct      decimal.Decimal // e.g. 4 = 4% of daily starting balance
	MaxDrawdownPct    decimal.Decimal
	ProfitTargetPct   decimal.Decimal
	MaintenanceMargin decimal.Decimal // e.g. 0.004
	LeverageCaps      map[string]decimal.Decimal
}

// Account is the in-memory financial state of a trading account. All mutation
// happens under the account manager's per-account lock.
type Account struct {
	ID            string
	UserID        string
	PlanID        string
	AccountNumber string
	Type          AccountType
	Step          int
	Status        AccountStatus

	StartingBalance      decimal.Decimal
	CurrentBalance       decimal.Decimal
	PeakBalance          decimal.Decimal
	TotalMarginUsed      decimal.Decimal
	AvailableMargin      decimal.Decimal
	DailyStartingBalance decimal.Decimal
	DailyPnL             decimal.Decimal
	CurrentProfit        decimal.Decimal

	DailyLossLimit   decimal.Decimal
	MaxDrawdownLimit decimal.Decimal
	ProfitTarget     decimal.Decimal

	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	TotalVolume   decimal.Decimal
	TradingDays   int
	LastTradeAt   time.Time

	LastSyncedAt time.Time
}

// CanTrade reports whether the account accepts new orders.
func (a *Account) CanTrade() bool {
	return a.Status == Active || a.Status == Step1Passed
}

// Position is an open position. Quantity stays > 0 until removal; TakeProfit
// and StopLoss are zero when unset.
type Position struct {
	ID        string
	AccountID string
	Symbol    string
	Side      Side

	Quantity           decimal.Decimal
	Leverage           decimal.Decimal
	EntryPrice         decimal.Decimal
	EntryValue         decimal.Decimal // quantity * entry price
	MarginUsed         decimal.Decimal // entry value / leverage
	EntryFee           decimal.Decimal
	AccumulatedFunding decimal.Decimal
	TakeProfit         decimal.Decimal
	StopLoss           decimal.Decimal
	LiquidationPrice   decimal.Decimal
	EntryExternalPrice decimal.Decimal

	CurrentPrice  decimal.Decimal
	UnrealizedPnL decimal.Decimal

	OpenedAt time.Time
}

// PendingOrder is a resting limit order with margin already reserved.
// Cancellation or fill releases exactly ReservedMargin.
type PendingOrder struct {
	ID             string
	ClientID       string // client-supplied idempotency key, may be empty
	AccountID      string
	UserID         string
	Symbol         string
	Side           Side
	Quantity       decimal.Decimal
	Leverage       decimal.Decimal
	LimitPrice     decimal.Decimal
	TakeProfit     decimal.Decimal
	StopLoss       decimal.Decimal
	ReservedMargin decimal.Decimal
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// TradeRecord is the immutable receipt emitted on every partial or full close.
type TradeRecord struct {
	ID         string
	AccountID  string
	PositionID string
	Symbol     string
	Side       Side

	Quantity decimal.Decimal // quantity closed
	Leverage decimal.Decimal

	EntryPrice decimal.Decimal
	EntryValue decimal.Decimal
	EntryFee   decimal.Decimal

	ExitPrice decimal.Decimal
	ExitValue decimal.Decimal
	ExitFee   decimal.Decimal

	CloseReason CloseReason
	FundingFee  decimal.Decimal
	GrossPnL    decimal.Decimal
	TotalFees   decimal.Decimal // exit fee + funding; entry fee was debited at open
	NetPnL      decimal.Decimal

	DurationSec        int64
	EntryExternalPrice decimal.Decimal
	ExitExternalPrice  decimal.Decimal
	ClosedAt           time.Time
}
