package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Gorm models for the engine's write contract. Tables owned by other parts
// of the platform (users, sessions, payments, ...) are not modelled here;
// the engine only touches the rows below.

type TradingAccount struct {
	ID            string `gorm:"primaryKey"`
	UserID        string `gorm:"index"`
	PlanID        string `gorm:"index"`
	AccountNumber string
	Type          string
	Step          int
	Status        string `gorm:"index"`

	StartingBalance      decimal.Decimal `gorm:"type:decimal(20,8)"`
	CurrentBalance       decimal.Decimal `gorm:"type:decimal(20,8)"`
	PeakBalance          decimal.Decimal `gorm:"type:decimal(20,8)"`
	TotalMarginUsed      decimal.Decimal `gorm:"type:decimal(20,8)"`
	AvailableMargin      decimal.Decimal `gorm:"type:decimal(20,8)"`
	DailyStartingBalance decimal.Decimal `gorm:"type:decimal(20,8)"`
	DailyPnL             decimal.Decimal `gorm:"type:decimal(20,8)"`
	CurrentProfit        decimal.Decimal `gorm:"type:decimal(20,8)"`

	DailyLossLimit   decimal.Decimal `gorm:"type:decimal(20,8)"`
	MaxDrawdownLimit decimal.Decimal `gorm:"type:decimal(20,8)"`
	ProfitTarget     decimal.Decimal `gorm:"type:decimal(20,8)"`

	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	TotalVolume   decimal.Decimal `gorm:"type:decimal(24,8)"`
	TradingDays   int
	LastTradeAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

type EvaluationPlan struct {
	ID                string `gorm:"primaryKey"`
	Name              string
	DailyLossPct      decimal.Decimal `gorm:"type:decimal(10,4)"`
	MaxDrawdownPct    decimal.Decimal `gorm:"type:decimal(10,4)"`
	ProfitTargetPct   decimal.Decimal `gorm:"type:decimal(10,4)"`
	MaintenanceMargin decimal.Decimal `gorm:"type:decimal(10,6)"`
	LeverageCaps      string          // JSON: category -> cap
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type PositionRow struct {
	ID        string `gorm:"primaryKey"`
	AccountID string `gorm:"index"`
	Symbol    string `gorm:"index"`
	Side      string

	Quantity           decimal.Decimal `gorm:"type:decimal(20,8)"`
	Leverage           decimal.Decimal `gorm:"type:decimal(10,2)"`
	EntryPrice         decimal.Decimal `gorm:"type:decimal(20,8)"`
	EntryValue         decimal.Decimal `gorm:"type:decimal(20,8)"`
	MarginUsed         decimal.Decimal `gorm:"type:decimal(20,8)"`
	EntryFee           decimal.Decimal `gorm:"type:decimal(20,8)"`
	AccumulatedFunding decimal.Decimal `gorm:"type:decimal(20,8)"`
	TakeProfit         decimal.Decimal `gorm:"type:decimal(20,8)"`
	StopLoss           decimal.Decimal `gorm:"type:decimal(20,8)"`
	LiquidationPrice   decimal.Decimal `gorm:"type:decimal(20,8)"`
	EntryExternalPrice decimal.Decimal `gorm:"type:decimal(20,8)"`

	OpenedAt  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (PositionRow) TableName() string { return "positions" }

type OrderRow struct {
	ID         string  `gorm:"primaryKey"`
	ClientID   string  `gorm:"index"`
	AccountID  string  `gorm:"index"`
	UserID     string  `gorm:"index"`
	PositionID *string `gorm:"index"`
	Symbol     string
	Side       string
	Type       string
	Status     string

	Quantity       decimal.Decimal `gorm:"type:decimal(20,8)"`
	Leverage       decimal.Decimal `gorm:"type:decimal(10,2)"`
	LimitPrice     decimal.Decimal `gorm:"type:decimal(20,8)"`
	TakeProfit     decimal.Decimal `gorm:"type:decimal(20,8)"`
	StopLoss       decimal.Decimal `gorm:"type:decimal(20,8)"`
	ReservedMargin decimal.Decimal `gorm:"type:decimal(20,8)"`
	FilledPrice    decimal.Decimal `gorm:"type:decimal(20,8)"`

	ExpiresAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (OrderRow) TableName() string { return "orders" }

type TradeRow struct {
	ID         string `gorm:"primaryKey"`
	AccountID  string `gorm:"index"`
	PositionID string `gorm:"index"`
	Symbol     string
	Side       string

	Quantity decimal.Decimal `gorm:"type:decimal(20,8)"`
	Leverage decimal.Decimal `gorm:"type:decimal(10,2)"`

	EntryPrice decimal.Decimal `gorm:"type:decimal(20,8)"`
	EntryValue decimal.Decimal `gorm:"type:decimal(20,8)"`
	EntryFee   decimal.Decimal `gorm:"type:decimal(20,8)"`
	ExitPrice  decimal.Decimal `gorm:"type:decimal(20,8)"`
	ExitValue  decimal.Decimal `gorm:"type:decimal(20,8)"`
	ExitFee    decimal.Decimal `gorm:"type:decimal(20,8)"`

	CloseReason string
	FundingFee  decimal.Decimal `gorm:"type:decimal(20,8)"`
	GrossPnL    decimal.Decimal `gorm:"type:decimal(20,8)"`
	TotalFees   decimal.Decimal `gorm:"type:decimal(20,8)"`
	NetPnL      decimal.Decimal `gorm:"type:decimal(20,8)"`

	DurationSec        int64
	EntryExternalPrice decimal.Decimal `gorm:"type:decimal(20,8)"`
	ExitExternalPrice  decimal.Decimal `gorm:"type:decimal(20,8)"`
	ClosedAt           time.Time
	CreatedAt          time.Time
}

func (TradeRow) TableName() string { return "trades" }

type TradeEventRow struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	AccountID string `gorm:"index"`
	Type      string
	Detail    string // JSON
	CreatedAt time.Time
}

func (TradeEventRow) TableName() string { return "trade_events" }

type AuditLogRow struct {
	ID        string `gorm:"primaryKey"`
	AccountID string `gorm:"index"`
	Type      string
	Payload   string
	PrevHash  string
	Hash      string
	Timestamp time.Time
	CreatedAt time.Time
}

func (AuditLogRow) TableName() string { return "audit_logs" }
