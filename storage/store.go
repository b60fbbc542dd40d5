package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/proptrade/engine/audit"
	"github.com/proptrade/engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STORE - Durable persistence for accounts, positions, orders, trades, audit
// ═══════════════════════════════════════════════════════════════════════════════

type Store struct {
	db *gorm.DB
}

// New opens the durable store. A postgres:// URL gets the PostgreSQL driver;
// anything else is treated as a SQLite path for local runs.
func New(databaseURL string) (*Store, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		db, err = gorm.Open(postgres.Open(databaseURL), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Store connected (PostgreSQL)")
	} else {
		db, err = gorm.Open(sqlite.Open(databaseURL), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", databaseURL).Msg("Store initialized (SQLite)")
	}

	if err := db.AutoMigrate(
		&TradingAccount{}, &EvaluationPlan{}, &PositionRow{},
		&OrderRow{}, &TradeRow{}, &TradeEventRow{}, &AuditLogRow{},
	); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Account operations

func (s *Store) LoadAccount(id string) (*types.Account, error) {
	var row TradingAccount
	if err := s.db.First(&row, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, types.ErrAccountNotFound
		}
		return nil, fmt.Errorf("load account %s: %w", id, err)
	}
	acc := accountFromRow(&row)
	return &acc, nil
}

func (s *Store) ListActiveAccounts() ([]types.Account, error) {
	var rows []TradingAccount
	err := s.db.Where("status IN ?", []string{string(types.Active), string(types.Step1Passed)}).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.Account, len(rows))
	for i := range rows {
		out[i] = accountFromRow(&rows[i])
	}
	return out, nil
}

// UpdateAccount writes the full financial state back as a single-row update.
func (s *Store) UpdateAccount(a types.Account) error {
	row := accountToRow(&a)
	return s.db.Model(&TradingAccount{}).Where("id = ?", a.ID).Updates(map[string]interface{}{
		"status":                 row.Status,
		"step":                   row.Step,
		"current_balance":        row.CurrentBalance,
		"peak_balance":           row.PeakBalance,
		"total_margin_used":      row.TotalMarginUsed,
		"available_margin":       row.AvailableMargin,
		"daily_starting_balance": row.DailyStartingBalance,
		"daily_pn_l":             row.DailyPnL,
		"current_profit":         row.CurrentProfit,
		"total_trades":           row.TotalTrades,
		"winning_trades":         row.WinningTrades,
		"losing_trades":          row.LosingTrades,
		"total_volume":           row.TotalVolume,
		"trading_days":           row.TradingDays,
		"last_trade_at":          row.LastTradeAt,
		"updated_at":             time.Now(),
	}).Error
}

func (s *Store) LoadPlan(id string) (*types.Plan, error) {
	var row EvaluationPlan
	if err := s.db.First(&row, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("load plan %s: %w", id, err)
	}

	caps := make(map[string]decimal.Decimal)
	if row.LeverageCaps != "" {
		raw := make(map[string]string)
		if err := json.Unmarshal([]byte(row.LeverageCaps), &raw); err == nil {
			for k, v := range raw {
				if d, err := decimal.NewFromString(v); err == nil {
					caps[k] = d
				}
			}
		}
	}

	return &types.Plan{
		ID:                row.ID,
		Name:              row.Name,
		DailyLossPct:      row.DailyLossPct,
		MaxDrawdownPct:    row.MaxDrawdownPct,
		ProfitTargetPct:   row.ProfitTargetPct,
		MaintenanceMargin: row.MaintenanceMargin,
		LeverageCaps:      caps,
	}, nil
}

// InsertPlan provisions an evaluation plan. Used by seeding tools; the
// engine itself only reads plans.
func (s *Store) InsertPlan(p types.Plan) error {
	caps := make(map[string]string, len(p.LeverageCaps))
	for k, v := range p.LeverageCaps {
		caps[k] = v.String()
	}
	capsJSON, err := json.Marshal(caps)
	if err != nil {
		return err
	}

	return s.db.Create(&EvaluationPlan{
		ID:                p.ID,
		Name:              p.Name,
		DailyLossPct:      p.DailyLossPct,
		MaxDrawdownPct:    p.MaxDrawdownPct,
		ProfitTargetPct:   p.ProfitTargetPct,
		MaintenanceMargin: p.MaintenanceMargin,
		LeverageCaps:      string(capsJSON),
	}).Error
}

// InsertAccount provisions a trading account. Used by seeding tools.
func (s *Store) InsertAccount(a types.Account) error {
	return s.db.Create(accountToRow(&a)).Error
}

// Position operations

func (s *Store) InsertPosition(p types.Position) error {
	return s.db.Create(positionToRow(&p)).Error
}

func (s *Store) UpdatePosition(p types.Position) error {
	return s.db.Save(positionToRow(&p)).Error
}

// ListOpenPositions loads every open position, for rehydrating the
// in-memory book after a restart.
func (s *Store) ListOpenPositions() ([]types.Position, error) {
	var rows []PositionRow
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}

	positions := make([]types.Position, 0, len(rows))
	for i := range rows {
		positions = append(positions, positionFromRow(&rows[i]))
	}
	return positions, nil
}

// DeletePosition removes the row, first nullifying any orders that reference
// it so the foreign key does not block the delete.
func (s *Store) DeletePosition(id string) error {
	if err := s.db.Model(&OrderRow{}).Where("position_id = ?", id).Update("position_id", nil).Error; err != nil {
		return err
	}
	return s.db.Delete(&PositionRow{}, "id = ?", id).Error
}

// Order, trade, event operations

func (s *Store) InsertOrder(o types.PendingOrder, typ types.OrderType, status string, filledPrice decimal.Decimal, positionID string) error {
	row := &OrderRow{
		ID:             o.ID,
		ClientID:       o.ClientID,
		AccountID:      o.AccountID,
		UserID:         o.UserID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Type:           string(typ),
		Status:         status,
		Quantity:       o.Quantity,
		Leverage:       o.Leverage,
		LimitPrice:     o.LimitPrice,
		TakeProfit:     o.TakeProfit,
		StopLoss:       o.StopLoss,
		ReservedMargin: o.ReservedMargin,
		FilledPrice:    filledPrice,
		CreatedAt:      o.CreatedAt,
	}
	if positionID != "" {
		row.PositionID = &positionID
	}
	if !o.ExpiresAt.IsZero() {
		row.ExpiresAt = &o.ExpiresAt
	}
	return s.db.Create(row).Error
}

// ListPendingOrders loads every still-resting limit order, for rehydrating
// the in-memory book after a restart.
func (s *Store) ListPendingOrders() ([]types.PendingOrder, error) {
	var rows []OrderRow
	if err := s.db.Where("status = ?", "pending").Find(&rows).Error; err != nil {
		return nil, err
	}

	orders := make([]types.PendingOrder, 0, len(rows))
	for i := range rows {
		orders = append(orders, orderFromRow(&rows[i]))
	}
	return orders, nil
}

func (s *Store) UpdateOrderStatus(id, status string) error {
	return s.db.Model(&OrderRow{}).Where("id = ?", id).Update("status", status).Error
}

func (s *Store) InsertTrade(t types.TradeRecord) error {
	return s.db.Create(&TradeRow{
		ID:                 t.ID,
		AccountID:          t.AccountID,
		PositionID:         t.PositionID,
		Symbol:             t.Symbol,
		Side:               string(t.Side),
		Quantity:           t.Quantity,
		Leverage:           t.Leverage,
		EntryPrice:         t.EntryPrice,
		EntryValue:         t.EntryValue,
		EntryFee:           t.EntryFee,
		ExitPrice:          t.ExitPrice,
		ExitValue:          t.ExitValue,
		ExitFee:            t.ExitFee,
		CloseReason:        string(t.CloseReason),
		FundingFee:         t.FundingFee,
		GrossPnL:           t.GrossPnL,
		TotalFees:          t.TotalFees,
		NetPnL:             t.NetPnL,
		DurationSec:        t.DurationSec,
		EntryExternalPrice: t.EntryExternalPrice,
		ExitExternalPrice:  t.ExitExternalPrice,
		ClosedAt:           t.ClosedAt,
	}).Error
}

// ListTrades returns closed-trade receipts, newest first. An empty
// accountID means all accounts.
func (s *Store) ListTrades(accountID string, limit int) ([]types.TradeRecord, error) {
	q := s.db.Order("closed_at DESC")
	if accountID != "" {
		q = q.Where("account_id = ?", accountID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []TradeRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	trades := make([]types.TradeRecord, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		trades = append(trades, types.TradeRecord{
			ID:                 r.ID,
			AccountID:          r.AccountID,
			PositionID:         r.PositionID,
			Symbol:             r.Symbol,
			Side:               types.Side(r.Side),
			Quantity:           r.Quantity,
			Leverage:           r.Leverage,
			EntryPrice:         r.EntryPrice,
			EntryValue:         r.EntryValue,
			EntryFee:           r.EntryFee,
			ExitPrice:          r.ExitPrice,
			ExitValue:          r.ExitValue,
			ExitFee:            r.ExitFee,
			CloseReason:        types.CloseReason(r.CloseReason),
			FundingFee:         r.FundingFee,
			GrossPnL:           r.GrossPnL,
			TotalFees:          r.TotalFees,
			NetPnL:             r.NetPnL,
			DurationSec:        r.DurationSec,
			EntryExternalPrice: r.EntryExternalPrice,
			ExitExternalPrice:  r.ExitExternalPrice,
			ClosedAt:           r.ClosedAt,
		})
	}
	return trades, nil
}

func (s *Store) InsertTradeEvent(accountID, typ, detail string) error {
	return s.db.Create(&TradeEventRow{
		AccountID: accountID,
		Type:      typ,
		Detail:    detail,
	}).Error
}

func (s *Store) InsertAuditLog(ev audit.Event) error {
	return s.db.Create(&AuditLogRow{
		ID:        ev.ID,
		AccountID: ev.AccountID,
		Type:      string(ev.Type),
		Payload:   ev.Payload,
		PrevHash:  ev.PrevHash,
		Hash:      ev.Hash,
		Timestamp: ev.Timestamp,
	}).Error
}

// Conversions

func accountFromRow(r *TradingAccount) types.Account {
	a := types.Account{
		ID:                   r.ID,
		UserID:               r.UserID,
		PlanID:               r.PlanID,
		AccountNumber:        r.AccountNumber,
		Type:                 types.AccountType(r.Type),
		Step:                 r.Step,
		Status:               types.AccountStatus(r.Status),
		StartingBalance:      r.StartingBalance,
		CurrentBalance:       r.CurrentBalance,
		PeakBalance:          r.PeakBalance,
		TotalMarginUsed:      r.TotalMarginUsed,
		AvailableMargin:      r.AvailableMargin,
		DailyStartingBalance: r.DailyStartingBalance,
		DailyPnL:             r.DailyPnL,
		CurrentProfit:        r.CurrentProfit,
		DailyLossLimit:       r.DailyLossLimit,
		MaxDrawdownLimit:     r.MaxDrawdownLimit,
		ProfitTarget:         r.ProfitTarget,
		TotalTrades:          r.TotalTrades,
		WinningTrades:        r.WinningTrades,
		LosingTrades:         r.LosingTrades,
		TotalVolume:          r.TotalVolume,
		TradingDays:          r.TradingDays,
	}
	if r.LastTradeAt != nil {
		a.LastTradeAt = *r.LastTradeAt
	}
	return a
}

func accountToRow(a *types.Account) *TradingAccount {
	row := &TradingAccount{
		ID:                   a.ID,
		UserID:               a.UserID,
		PlanID:               a.PlanID,
		AccountNumber:        a.AccountNumber,
		Type:                 string(a.Type),
		Step:                 a.Step,
		Status:               string(a.Status),
		StartingBalance:      a.StartingBalance,
		CurrentBalance:       a.CurrentBalance,
		PeakBalance:          a.PeakBalance,
		TotalMarginUsed:      a.TotalMarginUsed,
		AvailableMargin:      a.AvailableMargin,
		DailyStartingBalance: a.DailyStartingBalance,
		DailyPnL:             a.DailyPnL,
		CurrentProfit:        a.CurrentProfit,
		DailyLossLimit:       a.DailyLossLimit,
		MaxDrawdownLimit:     a.MaxDrawdownLimit,
		ProfitTarget:         a.ProfitTarget,
		TotalTrades:          a.TotalTrades,
		WinningTrades:        a.WinningTrades,
		LosingTrades:         a.LosingTrades,
		TotalVolume:          a.TotalVolume,
		TradingDays:          a.TradingDays,
	}
	if !a.LastTradeAt.IsZero() {
		t := a.LastTradeAt
		row.LastTradeAt = &t
	}
	return row
}

func positionToRow(p *types.Position) *PositionRow {
	return &PositionRow{
		ID:                 p.ID,
		AccountID:          p.AccountID,
		Symbol:             p.Symbol,
		Side:               string(p.Side),
		Quantity:           p.Quantity,
		Leverage:           p.Leverage,
		EntryPrice:         p.EntryPrice,
		EntryValue:         p.EntryValue,
		MarginUsed:         p.MarginUsed,
		EntryFee:           p.EntryFee,
		AccumulatedFunding: p.AccumulatedFunding,
		TakeProfit:         p.TakeProfit,
		StopLoss:           p.StopLoss,
		LiquidationPrice:   p.LiquidationPrice,
		EntryExternalPrice: p.EntryExternalPrice,
		OpenedAt:           p.OpenedAt,
	}
}

func positionFromRow(r *PositionRow) types.Position {
	return types.Position{
		ID:                 r.ID,
		AccountID:          r.AccountID,
		Symbol:             r.Symbol,
		Side:               types.Side(r.Side),
		Quantity:           r.Quantity,
		Leverage:           r.Leverage,
		EntryPrice:         r.EntryPrice,
		EntryValue:         r.EntryValue,
		MarginUsed:         r.MarginUsed,
		EntryFee:           r.EntryFee,
		AccumulatedFunding: r.AccumulatedFunding,
		TakeProfit:         r.TakeProfit,
		StopLoss:           r.StopLoss,
		LiquidationPrice:   r.LiquidationPrice,
		EntryExternalPrice: r.EntryExternalPrice,
		OpenedAt:           r.OpenedAt,
	}
}

func orderFromRow(r *OrderRow) types.PendingOrder {
	o := types.PendingOrder{
		ID:             r.ID,
		ClientID:       r.ClientID,
		AccountID:      r.AccountID,
		UserID:         r.UserID,
		Symbol:         r.Symbol,
		Side:           types.Side(r.Side),
		Quantity:       r.Quantity,
		Leverage:       r.Leverage,
		LimitPrice:     r.LimitPrice,
		TakeProfit:     r.TakeProfit,
		StopLoss:       r.StopLoss,
		ReservedMargin: r.ReservedMargin,
		CreatedAt:      r.CreatedAt,
	}
	if r.ExpiresAt != nil {
		o.ExpiresAt = *r.ExpiresAt
	}
	return o
}
