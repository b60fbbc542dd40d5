package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ═══════════════════════════════════════════════════════════════════════════════
// AUDIT TRAIL - Append-only, hash-chained per account
// ═══════════════════════════════════════════════════════════════════════════════

// EventType is the closed vocabulary of audit events.
type EventType string

const (
	OrderPlaced          EventType = "ORDER_PLACED"
	OrderFilled          EventType = "ORDER_FILLED"
	OrderCancelled       EventType = "ORDER_CANCELLED"
	OrderExpired         EventType = "ORDER_EXPIRED"
	PositionOpened       EventType = "POSITION_OPENED"
	PositionClosed       EventType = "POSITION_CLOSED"
	TPTriggered          EventType = "TP_TRIGGERED"
	SLTriggered          EventType = "SL_TRIGGERED"
	LiquidationTriggered EventType = "LIQUIDATION_TRIGGERED"
	DailyLossBreach      EventType = "DAILY_LOSS_BREACH"
	DrawdownBreach       EventType = "DRAWDOWN_BREACH"
	MarginUpdate         EventType = "MARGIN_UPDATE"
	StepPassed           EventType = "STEP_PASSED"
	EvaluationPassed     EventType = "EVALUATION_PASSED"
)

// Event is one link in an account's audit chain.
type Event struct {
	ID        string
	AccountID string
	Type      EventType
	Payload   string // JSON
	Timestamp time.Time
	PrevHash  string
	Hash      string
}

// Sink receives every appended event, typically to enqueue for persistence.
type Sink func(Event)

// Trail maintains one hash chain per account. Appends are serialised so the
// chain stays contiguous under concurrent writers.
type Trail struct {
	mu       sync.Mutex
	lastHash map[string]string
	sink     Sink
}

func NewTrail(sink Sink) *Trail {
	return &Trail{
		lastHash: make(map[string]string),
		sink:     sink,
	}
}

// Append links a new event onto the account's chain and hands it to the sink.
func (t *Trail) Append(accountID string, typ EventType, payload string) Event {
	t.mu.Lock()

	prev := t.lastHash[accountID]
	ev := Event{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Type:      typ,
		Payload:   payload,
		Timestamp: time.Now(),
		PrevHash:  prev,
	}
	ev.Hash = chainHash(prev, payload, ev.Timestamp)
	t.lastHash[accountID] = ev.Hash

	t.mu.Unlock()

	if t.sink != nil {
		t.sink(ev)
	}
	return ev
}

// LastHash returns the head of an account's chain, empty for a fresh account.
func (t *Trail) LastHash(accountID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastHash[accountID]
}

// Seed restores a chain head, used when resuming from the store.
func (t *Trail) Seed(accountID, hash string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastHash[accountID] = hash
}

// Verify walks a sequence of events for one account and reports whether the
// chain is contiguous and every hash checks out.
func Verify(events []Event) bool {
	prev := ""
	if len(events) > 0 {
		prev = events[0].PrevHash
	}
	for _, ev := range events {
		if ev.PrevHash != prev {
			return false
		}
		if ev.Hash != chainHash(ev.PrevHash, ev.Payload, ev.Timestamp) {
			return false
		}
		prev = ev.Hash
	}
	return true
}

func chainHash(prev, payload string, ts time.Time) string {
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write([]byte(payload))
	h.Write([]byte(ts.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}
