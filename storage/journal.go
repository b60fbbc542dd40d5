package storage

import (
	"github.com/shopspring/decimal"

	"github.com/proptrade/engine/audit"
	"github.com/proptrade/engine/types"
)

// Journal turns kernel results into fire-and-forget persistence tasks.
// Orders and position rows ride the order queue; trade receipts and events
// ride the close queue, so a burst of closes cannot starve order writes.
type Journal struct {
	store  *Store
	orderQ *Queue
	closeQ *Queue
}

func NewJournal(store *Store, orderQ, closeQ *Queue) *Journal {
	return &Journal{store: store, orderQ: orderQ, closeQ: closeQ}
}

func (j *Journal) OrderFilled(o types.PendingOrder, typ types.OrderType, fillPrice decimal.Decimal, positionID string) {
	j.orderQ.Enqueue(Task{Label: "order_insert", Run: func() error {
		return j.store.InsertOrder(o, typ, "filled", fillPrice, positionID)
	}})
}

func (j *Journal) OrderResting(o types.PendingOrder) {
	j.orderQ.Enqueue(Task{Label: "order_insert", Run: func() error {
		return j.store.InsertOrder(o, types.Limit, "pending", decimal.Zero, "")
	}})
}

func (j *Journal) OrderCancelled(id string) {
	j.orderQ.Enqueue(Task{Label: "order_cancel", Run: func() error {
		return j.store.UpdateOrderStatus(id, "cancelled")
	}})
}

func (j *Journal) OrderExpired(id string) {
	j.orderQ.Enqueue(Task{Label: "order_expire", Run: func() error {
		return j.store.UpdateOrderStatus(id, "expired")
	}})
}

func (j *Journal) PositionOpened(p types.Position) {
	j.orderQ.Enqueue(Task{Label: "position_insert", Run: func() error {
		return j.store.InsertPosition(p)
	}})
}

func (j *Journal) PositionUpdated(p types.Position) {
	j.orderQ.Enqueue(Task{Label: "position_update", Run: func() error {
		return j.store.UpdatePosition(p)
	}})
}

func (j *Journal) PositionClosed(id string) {
	j.closeQ.Enqueue(Task{Label: "position_delete", Run: func() error {
		return j.store.DeletePosition(id)
	}})
}

func (j *Journal) TradeRecorded(t types.TradeRecord) {
	j.closeQ.Enqueue(Task{Label: "trade_insert", Run: func() error {
		return j.store.InsertTrade(t)
	}})
}

func (j *Journal) AccountEvent(accountID, typ, detail string) {
	j.closeQ.Enqueue(Task{Label: "trade_event", Run: func() error {
		return j.store.InsertTradeEvent(accountID, typ, detail)
	}})
}

func (j *Journal) AuditLogged(ev audit.Event) {
	j.closeQ.Enqueue(Task{Label: "audit_insert", Run: func() error {
		return j.store.InsertAuditLog(ev)
	}})
}
