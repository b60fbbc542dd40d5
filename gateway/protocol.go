package gateway

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/proptrade/engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WIRE PROTOCOL - JSON frames, every message carries a type field
// ═══════════════════════════════════════════════════════════════════════════════

// Inbound message types. Anything else elicits ERROR{kind=UnknownType}.
const (
	MsgAuth                = "AUTH"
	MsgSubscribe           = "SUBSCRIBE"
	MsgUnsubscribe         = "UNSUBSCRIBE"
	MsgSubscribeOrderBook  = "SUBSCRIBE_ORDER_BOOK"
	MsgUnsubscribeBook     = "UNSUBSCRIBE_ORDER_BOOK"
	MsgPlaceOrder          = "PLACE_ORDER"
	MsgCancelOrder         = "CANCEL_ORDER"
	MsgGetPendingOrders    = "GET_PENDING_ORDERS"
	MsgClosePosition       = "CLOSE_POSITION"
	MsgModifyPosition      = "MODIFY_POSITION"
	MsgGetPositions        = "GET_POSITIONS"
	MsgPing                = "PING"
	MsgPong                = "PONG"
)

// Outbound message types.
const (
	MsgConnected            = "CONNECTED"
	MsgAuthenticated        = "AUTHENTICATED"
	MsgAuthFailed           = "AUTH_FAILED"
	MsgPriceUpdate          = "PRICE_UPDATE"
	MsgOrderBookSnapshot    = "ORDER_BOOK_SNAPSHOT"
	MsgOrderBookUpdate      = "ORDER_BOOK_UPDATE"
	MsgOrderFilled          = "ORDER_FILLED"
	MsgOrderResting         = "ORDER_RESTING"
	MsgOrderCancelled       = "ORDER_CANCELLED"
	MsgPendingOrders        = "PENDING_ORDERS"
	MsgPositions            = "POSITIONS"
	MsgPositionClosed       = "POSITION_CLOSED"
	MsgPositionModified     = "POSITION_MODIFIED"
	MsgAccountBreached      = "ACCOUNT_BREACHED"
	MsgRiskWarning          = "RISK_WARNING"
	MsgEvaluationStepPassed = "EVALUATION_STEP_PASSED"
	MsgEvaluationPassed     = "EVALUATION_PASSED"
	MsgError                = "ERROR"
)

// Frame is one inbound wire message.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// OutFrame is one outbound wire message.
type OutFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type authPayload struct {
	Token string `json:"token"`
}

type symbolsPayload struct {
	Symbols []string `json:"symbols"`
}

type placeOrderPayload struct {
	AccountID  string          `json:"account_id"`
	Symbol     string          `json:"symbol"`
	Side       types.Side      `json:"side"`
	Type       types.OrderType `json:"order_type"`
	Quantity   decimal.Decimal `json:"quantity"`
	Leverage   decimal.Decimal `json:"leverage"`
	LimitPrice decimal.Decimal `json:"limit_price"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	ClientID   string          `json:"client_order_id"`
}

type cancelOrderPayload struct {
	OrderID string `json:"order_id"`
}

type accountPayload struct {
	AccountID string `json:"account_id"`
}

type closePositionPayload struct {
	PositionID string          `json:"position_id"`
	Quantity   decimal.Decimal `json:"quantity"` // zero closes the whole position
}

type modifyPositionPayload struct {
	PositionID string          `json:"position_id"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
}

type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
}

// priceUpdatePayload is the coalesced quote pushed to subscribers.
type priceUpdatePayload struct {
	Symbol      string `json:"symbol"`
	Bid         string `json:"bid"`
	Ask         string `json:"ask"`
	Change24h   string `json:"change_24h"`
	High24h     string `json:"high_24h"`
	Low24h      string `json:"low_24h"`
	Volume24h   string `json:"volume_24h"`
	FundingRate string `json:"funding_rate"`
	Timestamp   int64  `json:"timestamp"`
}

// bookLevel is one side level of the synthetic order book.
type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type orderBookPayload struct {
	Symbol    string      `json:"symbol"`
	Bids      []bookLevel `json:"bids"`
	Asks      []bookLevel `json:"asks"`
	Timestamp int64       `json:"timestamp"`
}

// positionView is the client-facing projection of an open position.
type positionView struct {
	ID               string `json:"id"`
	AccountID        string `json:"account_id"`
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	Quantity         string `json:"quantity"`
	Leverage         string `json:"leverage"`
	EntryPrice       string `json:"entry_price"`
	MarginUsed       string `json:"margin_used"`
	TakeProfit       string `json:"take_profit,omitempty"`
	StopLoss         string `json:"stop_loss,omitempty"`
	LiquidationPrice string `json:"liquidation_price"`
	CurrentPrice     string `json:"current_price"`
	UnrealizedPnL    string `json:"unrealized_pnl"`
	OpenedAt         int64  `json:"opened_at"`
}

func toPositionView(p types.Position) positionView {
	return positionView{
		ID:               p.ID,
		AccountID:        p.AccountID,
		Symbol:           p.Symbol,
		Side:             string(p.Side),
		Quantity:         p.Quantity.String(),
		Leverage:         p.Leverage.String(),
		EntryPrice:       p.EntryPrice.String(),
		MarginUsed:       p.MarginUsed.String(),
		TakeProfit:       zeroEmpty(p.TakeProfit),
		StopLoss:         zeroEmpty(p.StopLoss),
		LiquidationPrice: p.LiquidationPrice.String(),
		CurrentPrice:     p.CurrentPrice.String(),
		UnrealizedPnL:    p.UnrealizedPnL.String(),
		OpenedAt:         p.OpenedAt.Unix(),
	}
}

// orderView is the client-facing projection of a resting order.
type orderView struct {
	ID             string `json:"id"`
	ClientID       string `json:"client_order_id,omitempty"`
	AccountID      string `json:"account_id"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Quantity       string `json:"quantity"`
	Leverage       string `json:"leverage"`
	LimitPrice     string `json:"limit_price"`
	TakeProfit     string `json:"take_profit,omitempty"`
	StopLoss       string `json:"stop_loss,omitempty"`
	ReservedMargin string `json:"reserved_margin"`
	CreatedAt      int64  `json:"created_at"`
}

func toOrderView(o types.PendingOrder) orderView {
	return orderView{
		ID:             o.ID,
		ClientID:       o.ClientID,
		AccountID:      o.AccountID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Quantity:       o.Quantity.String(),
		Leverage:       o.Leverage.String(),
		LimitPrice:     o.LimitPrice.String(),
		TakeProfit:     zeroEmpty(o.TakeProfit),
		StopLoss:       zeroEmpty(o.StopLoss),
		ReservedMargin: o.ReservedMargin.String(),
		CreatedAt:      o.CreatedAt.Unix(),
	}
}

// tradeView is the client-facing projection of a close receipt.
type tradeView struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	PositionID  string `json:"position_id"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Quantity    string `json:"quantity"`
	ExitPrice   string `json:"exit_price"`
	CloseReason string `json:"close_reason"`
	GrossPnL    string `json:"gross_pnl"`
	TotalFees   string `json:"total_fees"`
	NetPnL      string `json:"net_pnl"`
	ClosedAt    int64  `json:"closed_at"`
}

func toTradeView(t types.TradeRecord) tradeView {
	return tradeView{
		ID:          t.ID,
		AccountID:   t.AccountID,
		PositionID:  t.PositionID,
		Symbol:      t.Symbol,
		Side:        string(t.Side),
		Quantity:    t.Quantity.String(),
		ExitPrice:   t.ExitPrice.String(),
		CloseReason: string(t.CloseReason),
		GrossPnL:    t.GrossPnL.StringFixed(2),
		TotalFees:   t.TotalFees.StringFixed(4),
		NetPnL:      t.NetPnL.StringFixed(2),
		ClosedAt:    t.ClosedAt.Unix(),
	}
}

// accountView is the financial summary attached to execution replies.
type accountView struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	CurrentBalance  string `json:"current_balance"`
	AvailableMargin string `json:"available_margin"`
	TotalMarginUsed string `json:"total_margin_used"`
	DailyPnL        string `json:"daily_pnl"`
	CurrentProfit   string `json:"current_profit"`
}

func toAccountView(a types.Account) accountView {
	return accountView{
		ID:              a.ID,
		Status:          string(a.Status),
		CurrentBalance:  a.CurrentBalance.StringFixed(2),
		AvailableMargin: a.AvailableMargin.StringFixed(2),
		TotalMarginUsed: a.TotalMarginUsed.StringFixed(2),
		DailyPnL:        a.DailyPnL.StringFixed(2),
		CurrentProfit:   a.CurrentProfit.StringFixed(2),
	}
}

func zeroEmpty(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}
