package gateway

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// maxBufferedBytes is the per-connection backpressure ceiling: price and
// order-book frames are dropped while the outbound buffer sits above it.
// The next flush tick carries fresher state anyway.
const maxBufferedBytes = 64 * 1024

// client is one WebSocket session.
type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{} // closed once; send itself is never closed
	closed atomic.Bool

	buffered atomic.Int64 // bytes queued in send

	mu            sync.Mutex
	authenticated bool
	userID        string
	subs          map[string]struct{}
	bookSubs      map[string]struct{}
	lastPongAt    time.Time
	lastActivity  time.Time
}

func newClient(id string, conn *websocket.Conn) *client {
	now := time.Now()
	return &client{
		id:           id,
		conn:         conn,
		send:         make(chan []byte, 256),
		done:         make(chan struct{}),
		subs:         make(map[string]struct{}),
		bookSubs:     make(map[string]struct{}),
		lastPongAt:   now,
		lastActivity: now,
	}
}

// enqueue queues a frame for the write pump. Droppable frames (prices, order
// books) are discarded while the buffer is over the backpressure ceiling or
// full; command replies always try, falling back to disconnect on a full
// queue since the session is hopelessly behind by then.
func (c *client) enqueue(frame []byte, droppable bool) bool {
	if c.closed.Load() {
		return false
	}
	if droppable && c.buffered.Load() > maxBufferedBytes {
		return false
	}

	// send is never closed, so racing with close() cannot panic; the done
	// branch keeps frames out of a dead session's queue.
	select {
	case <-c.done:
		return false
	case c.send <- frame:
		c.buffered.Add(int64(len(frame)))
		return true
	default:
		if !droppable {
			log.Warn().Str("conn", c.id).Msg("Send queue full, dropping connection")
			c.close()
		}
		return false
	}
}

// enqueueJSON marshals and queues one outbound message.
func (c *client) enqueueJSON(typ string, data interface{}, droppable bool) bool {
	payload, err := json.Marshal(OutFrame{Type: typ, Data: data})
	if err != nil {
		log.Error().Err(err).Str("type", typ).Msg("Frame marshal failed")
		return false
	}
	return c.enqueue(payload, droppable)
}

func (c *client) close() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.done)
	}
}

func (c *client) auth(userID string) {
	c.mu.Lock()
	c.authenticated = true
	c.userID = userID
	c.mu.Unlock()
}

func (c *client) isAuthed() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.authenticated
}

func (c *client) subscribe(symbols []string, book bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range symbols {
		if book {
			c.bookSubs[s] = struct{}{}
		} else {
			c.subs[s] = struct{}{}
		}
	}
}

func (c *client) unsubscribe(symbols []string, book bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range symbols {
		if book {
			delete(c.bookSubs, s)
		} else {
			delete(c.subs, s)
		}
	}
}

func (c *client) subscribedTo(symbol string, book bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if book {
		_, ok := c.bookSubs[symbol]
		return ok
	}
	_, ok := c.subs[symbol]
	return ok
}

func (c *client) touchPong() {
	c.mu.Lock()
	c.lastPongAt = time.Now()
	c.mu.Unlock()
}

func (c *client) touchActivity() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *client) pongAge(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastPongAt)
}
