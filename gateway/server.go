package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/proptrade/engine/account"
	"github.com/proptrade/engine/exec"
	"github.com/proptrade/engine/order"
	"github.com/proptrade/engine/position"
	"github.com/proptrade/engine/pricing"
	"github.com/proptrade/engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SESSION GATEWAY - WebSocket command and streaming surface
// ═══════════════════════════════════════════════════════════════════════════════
//
// One goroutine pair per connection (read pump, write pump). Price broadcasts
// coalesce on a flush tick so a fast feed cannot outrun slow clients; frames
// past the per-connection buffer ceiling are dropped, never queued.
//
// ═══════════════════════════════════════════════════════════════════════════════

var (
	gatewayConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_active_connections",
		Help: "Current number of active WebSocket sessions",
	})

	gatewayFramesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_frames_dropped_total",
		Help: "Outbound frames dropped to backpressure",
	})

	gatewayCommands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_commands_total",
		Help: "Inbound commands by type",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(gatewayConnections)
	prometheus.MustRegister(gatewayFramesDropped)
	prometheus.MustRegister(gatewayCommands)
}

// Config carries the gateway's tunables.
type Config struct {
	Port              int
	JWTSecret         string
	HeartbeatInterval time.Duration // server PING cadence
	PongTimeout       time.Duration // silence past this reaps the session
	ReapInterval      time.Duration
	FlushInterval     time.Duration // coalesced price broadcast cadence
	RateLimit         rate.Limit    // per-IP connection attempts
	RateBurst         int
}

// Server is the WebSocket session gateway. It also implements the trigger
// engines' event fan-out.
type Server struct {
	cfg       Config
	kernel    *exec.Kernel
	accounts  *account.Manager
	positions *position.Manager
	orders    *order.Manager
	prices    *pricing.Engine

	upgrader websocket.Upgrader
	srv      *http.Server

	mu      sync.RWMutex
	clients map[string]*client
	byUser  map[string]map[string]*client

	pendingMu sync.Mutex
	pending   map[string]types.Price

	ipLimiters sync.Map // ip -> *rate.Limiter

	priceSub int
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewServer(
	cfg Config,
	kernel *exec.Kernel,
	accounts *account.Manager,
	positions *position.Manager,
	orders *order.Manager,
	prices *pricing.Engine,
) *Server {
	s := &Server{
		cfg:       cfg,
		kernel:    kernel,
		accounts:  accounts,
		positions: positions,
		orders:    orders,
		prices:    prices,
		clients:   make(map[string]*client),
		byUser:    make(map[string]map[string]*client),
		pending:   make(map[string]types.Price),
		stopCh:    make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return s
}

// Start begins listening and launches the broadcast and reap loops.
func (s *Server) Start() error {
	s.priceSub = s.prices.Subscribe(s.onPrice)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: mux,
	}

	s.wg.Add(2)
	go s.flushLoop()
	go s.reapLoop()

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Gateway listener failed")
		}
	}()

	log.Info().Int("port", s.cfg.Port).Msg("🌐 Session gateway listening")
	return nil
}

// Stop closes every session with a normal-closure frame and shuts down the
// listener.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.prices.Unsubscribe(s.priceSub)

	s.mu.Lock()
	for _, c := range s.clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
			time.Now().Add(time.Second))
		c.close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// ConnectionCount returns the number of live sessions.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ─── Connection lifecycle ─────────────────────────────────────────────────────

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.allowIP(remoteIP(r)) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := newClient(uuid.New().String(), conn)
	s.register(c)
	gatewayConnections.Inc()

	c.enqueueJSON(MsgConnected, map[string]interface{}{
		"connection_id":      c.id,
		"server_time":        time.Now().UnixMilli(),
		"heartbeat_interval": s.cfg.HeartbeatInterval.Milliseconds(),
	}, false)

	go s.writePump(c)
	s.readPump(c)

	s.unregister(c)
	gatewayConnections.Dec()
	conn.Close()
	log.Debug().Str("conn", c.id).Msg("Session closed")
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	if userID, ok := c.isAuthed(); ok {
		if set, exists := s.byUser[userID]; exists {
			delete(set, c.id)
			if len(set) == 0 {
				delete(s.byUser, userID)
			}
		}
	}
	s.mu.Unlock()
	c.close()
}

func (s *Server) readPump(c *client) {
	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.touchPong()
		c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn", c.id).Msg("Read error")
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.sendError(c, "BadPayload", "malformed frame")
			continue
		}
		s.dispatch(c, frame)
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			c.buffered.Add(-int64(len(frame)))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ─── Command dispatch ─────────────────────────────────────────────────────────

func (s *Server) dispatch(c *client, frame Frame) {
	c.touchActivity()
	gatewayCommands.WithLabelValues(frame.Type).Inc()

	userID, authed := c.isAuthed()
	if !authed && frame.Type != MsgAuth {
		s.sendError(c, "Unauthorized", "authenticate first")
		return
	}

	switch frame.Type {
	case MsgAuth:
		s.handleAuth(c, frame.Data)
	case MsgSubscribe:
		s.handleSubscribe(c, frame.Data, false)
	case MsgUnsubscribe:
		s.handleUnsubscribe(c, frame.Data, false)
	case MsgSubscribeOrderBook:
		s.handleSubscribe(c, frame.Data, true)
	case MsgUnsubscribeBook:
		s.handleUnsubscribe(c, frame.Data, true)
	case MsgPlaceOrder:
		s.handlePlaceOrder(c, userID, frame.Data)
	case MsgCancelOrder:
		s.handleCancelOrder(c, userID, frame.Data)
	case MsgGetPendingOrders:
		s.handleGetPendingOrders(c, userID, frame.Data)
	case MsgClosePosition:
		s.handleClosePosition(c, userID, frame.Data)
	case MsgModifyPosition:
		s.handleModifyPosition(c, userID, frame.Data)
	case MsgGetPositions:
		s.handleGetPositions(c, userID, frame.Data)
	case MsgPing:
		c.enqueueJSON(MsgPong, nil, false)
	case MsgPong:
		c.touchPong()
	default:
		s.sendError(c, "UnknownType", frame.Type)
	}
}

func (s *Server) handleAuth(c *client, data json.RawMessage) {
	var p authPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Token == "" {
		c.enqueueJSON(MsgAuthFailed, errorPayload{Kind: "BadPayload"}, false)
		return
	}

	userID, err := s.verifyToken(p.Token)
	if err != nil {
		log.Debug().Err(err).Str("conn", c.id).Msg("Auth failed")
		c.enqueueJSON(MsgAuthFailed, errorPayload{Kind: "Unauthorized"}, false)
		return
	}

	c.auth(userID)
	s.mu.Lock()
	set, ok := s.byUser[userID]
	if !ok {
		set = make(map[string]*client)
		s.byUser[userID] = set
	}
	set[c.id] = c
	s.mu.Unlock()

	c.enqueueJSON(MsgAuthenticated, map[string]string{"user_id": userID}, false)
	log.Info().Str("conn", c.id).Str("user", userID).Msg("Session authenticated")
}

func (s *Server) verifyToken(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return "", types.ErrUnauthorized
	}
	if id, ok := claims["user_id"].(string); ok && id != "" {
		return id, nil
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	return "", types.ErrUnauthorized
}

func (s *Server) handleSubscribe(c *client, data json.RawMessage, book bool) {
	var p symbolsPayload
	if err := json.Unmarshal(data, &p); err != nil || len(p.Symbols) == 0 {
		s.sendError(c, "BadPayload", "symbols required")
		return
	}
	c.subscribe(p.Symbols, book)

	// Immediate snapshot so the client does not wait for the next tick.
	for _, sym := range p.Symbols {
		price, ok := s.prices.Get(sym)
		if !ok {
			continue
		}
		if book {
			c.enqueueJSON(MsgOrderBookSnapshot, syntheticBook(price), false)
		} else {
			c.enqueueJSON(MsgPriceUpdate, toPriceUpdate(price), false)
		}
	}
}

func (s *Server) handleUnsubscribe(c *client, data json.RawMessage, book bool) {
	var p symbolsPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.sendError(c, "BadPayload", "symbols required")
		return
	}
	c.unsubscribe(p.Symbols, book)
}

func (s *Server) handlePlaceOrder(c *client, userID string, data json.RawMessage) {
	var p placeOrderPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.sendError(c, "BadPayload", "malformed order")
		return
	}

	res, resting, err := s.kernel.PlaceOrder(exec.OpenRequest{
		UserID:     userID,
		AccountID:  p.AccountID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		Type:       p.Type,
		Quantity:   p.Quantity,
		Leverage:   p.Leverage,
		LimitPrice: p.LimitPrice,
		TakeProfit: p.TakeProfit,
		StopLoss:   p.StopLoss,
		ClientID:   p.ClientID,
	})
	if err != nil {
		s.sendError(c, types.ErrorLabel(err), err.Error())
		return
	}

	if resting != nil {
		c.enqueueJSON(MsgOrderResting, toOrderView(*resting), false)
		return
	}
	c.enqueueJSON(MsgOrderFilled, map[string]interface{}{
		"position":   toPositionView(res.Position),
		"account":    toAccountView(res.Account),
		"exec_price": res.ExecPrice.String(),
		"elapsed_ms": res.Elapsed.Milliseconds(),
	}, false)
}

func (s *Server) handleCancelOrder(c *client, userID string, data json.RawMessage) {
	var p cancelOrderPayload
	if err := json.Unmarshal(data, &p); err != nil || p.OrderID == "" {
		s.sendError(c, "BadPayload", "order_id required")
		return
	}
	if err := s.kernel.CancelOrder(p.OrderID, userID); err != nil {
		s.sendError(c, types.ErrorLabel(err), err.Error())
		return
	}
	c.enqueueJSON(MsgOrderCancelled, map[string]string{"order_id": p.OrderID}, false)
}

func (s *Server) handleGetPendingOrders(c *client, userID string, data json.RawMessage) {
	accountID, ok := s.ownedAccount(c, userID, data)
	if !ok {
		return
	}

	orders := s.orders.ByAccount(accountID)
	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, toOrderView(o))
	}
	c.enqueueJSON(MsgPendingOrders, map[string]interface{}{
		"account_id": accountID,
		"orders":     views,
	}, false)
}

func (s *Server) handleClosePosition(c *client, userID string, data json.RawMessage) {
	var p closePositionPayload
	if err := json.Unmarshal(data, &p); err != nil || p.PositionID == "" {
		s.sendError(c, "BadPayload", "position_id required")
		return
	}

	res, err := s.kernel.CloseAtMarket(p.PositionID, userID, p.Quantity, types.CloseManual, false)
	if err != nil {
		s.sendError(c, types.ErrorLabel(err), err.Error())
		return
	}

	payload := map[string]interface{}{
		"trade":   toTradeView(res.Trade),
		"account": toAccountView(res.Account),
	}
	if res.Remaining != nil {
		payload["position"] = toPositionView(*res.Remaining)
	}
	c.enqueueJSON(MsgPositionClosed, payload, false)
}

func (s *Server) handleModifyPosition(c *client, userID string, data json.RawMessage) {
	var p modifyPositionPayload
	if err := json.Unmarshal(data, &p); err != nil || p.PositionID == "" {
		s.sendError(c, "BadPayload", "position_id required")
		return
	}

	pos, err := s.kernel.Modify(p.PositionID, userID, p.TakeProfit, p.StopLoss)
	if err != nil {
		s.sendError(c, types.ErrorLabel(err), err.Error())
		return
	}
	c.enqueueJSON(MsgPositionModified, toPositionView(*pos), false)
}

func (s *Server) handleGetPositions(c *client, userID string, data json.RawMessage) {
	accountID, ok := s.ownedAccount(c, userID, data)
	if !ok {
		return
	}

	positions := s.positions.ByAccount(accountID)
	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, toPositionView(p))
	}
	c.enqueueJSON(MsgPositions, map[string]interface{}{
		"account_id": accountID,
		"positions":  views,
	}, false)
}

// ownedAccount parses an account payload and verifies the session's user
// owns it.
func (s *Server) ownedAccount(c *client, userID string, data json.RawMessage) (string, bool) {
	var p accountPayload
	if err := json.Unmarshal(data, &p); err != nil || p.AccountID == "" {
		s.sendError(c, "BadPayload", "account_id required")
		return "", false
	}
	acc, err := s.accounts.Get(p.AccountID)
	if err != nil {
		s.sendError(c, types.ErrorLabel(err), err.Error())
		return "", false
	}
	if acc.UserID != userID {
		s.sendError(c, "Unauthorized", "not your account")
		return "", false
	}
	return p.AccountID, true
}

func (s *Server) sendError(c *client, kind, message string) {
	c.enqueueJSON(MsgError, errorPayload{Kind: kind, Message: message}, false)
}

// ─── Broadcast loops ──────────────────────────────────────────────────────────

// onPrice stores the latest quote for the flush tick. Runs on the price
// fan-out, so it must stay cheap.
func (s *Server) onPrice(p types.Price) {
	s.pendingMu.Lock()
	s.pending[p.Symbol] = p
	s.pendingMu.Unlock()
}

func (s *Server) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.flush()
		}
	}
}

// flush broadcasts each coalesced quote once per tick. The frame is
// marshalled once per symbol, not per client.
func (s *Server) flush() {
	s.pendingMu.Lock()
	if len(s.pending) == 0 {
		s.pendingMu.Unlock()
		return
	}
	batch := s.pending
	s.pending = make(map[string]types.Price)
	s.pendingMu.Unlock()

	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for sym, price := range batch {
		priceFrame, err := json.Marshal(OutFrame{Type: MsgPriceUpdate, Data: toPriceUpdate(price)})
		if err != nil {
			continue
		}
		var bookFrame []byte
		for _, c := range clients {
			if c.subscribedTo(sym, false) {
				if !c.enqueue(priceFrame, true) {
					gatewayFramesDropped.Inc()
				}
			}
			if c.subscribedTo(sym, true) {
				if bookFrame == nil {
					bookFrame, _ = json.Marshal(OutFrame{Type: MsgOrderBookUpdate, Data: syntheticBook(price)})
				}
				if !c.enqueue(bookFrame, true) {
					gatewayFramesDropped.Inc()
				}
			}
		}
	}
}

func (s *Server) reapLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.RLock()
			stale := make([]*client, 0)
			for _, c := range s.clients {
				if c.pongAge(now) > s.cfg.PongTimeout {
					stale = append(stale, c)
				}
			}
			s.mu.RUnlock()

			for _, c := range stale {
				log.Info().Str("conn", c.id).Msg("Reaping silent session")
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "pong timeout"),
					now.Add(time.Second))
				c.conn.Close()
			}
		}
	}
}

// ─── Trigger event fan-out (triggers.Events) ──────────────────────────────────

func (s *Server) sendToUser(userID, typ string, data interface{}) {
	s.mu.RLock()
	set := s.byUser[userID]
	clients := make([]*client, 0, len(set))
	for _, c := range set {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		c.enqueueJSON(typ, data, false)
	}
}

func (s *Server) OrderFilled(userID string, res *exec.OpenResult) {
	s.sendToUser(userID, MsgOrderFilled, map[string]interface{}{
		"position":   toPositionView(res.Position),
		"account":    toAccountView(res.Account),
		"exec_price": res.ExecPrice.String(),
	})
}

func (s *Server) PositionClosed(userID string, res *exec.CloseResult) {
	payload := map[string]interface{}{
		"trade":   toTradeView(res.Trade),
		"account": toAccountView(res.Account),
	}
	if res.Remaining != nil {
		payload["position"] = toPositionView(*res.Remaining)
	}
	s.sendToUser(userID, MsgPositionClosed, payload)
}

func (s *Server) RiskWarning(userID, accountID, kind string, usedPct decimal.Decimal) {
	s.sendToUser(userID, MsgRiskWarning, map[string]string{
		"account_id": accountID,
		"kind":       kind,
		"used_pct":   usedPct.StringFixed(1),
	})
}

func (s *Server) AccountBreached(userID, accountID, reason string) {
	s.sendToUser(userID, MsgAccountBreached, map[string]string{
		"account_id": accountID,
		"reason":     reason,
	})
}

func (s *Server) EvaluationStepPassed(userID, accountID string, step int) {
	s.sendToUser(userID, MsgEvaluationStepPassed, map[string]interface{}{
		"account_id": accountID,
		"step":       step,
	})
}

func (s *Server) EvaluationPassed(userID, accountID string) {
	s.sendToUser(userID, MsgEvaluationPassed, map[string]string{
		"account_id": accountID,
	})
}

// ─── HTTP and helpers ─────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "ok",
		"connections": s.ConnectionCount(),
		"timestamp":   time.Now().Unix(),
	})
}

func (s *Server) allowIP(ip string) bool {
	if s.cfg.RateLimit <= 0 {
		return true
	}
	val, ok := s.ipLimiters.Load(ip)
	if !ok {
		val, _ = s.ipLimiters.LoadOrStore(ip, rate.NewLimiter(s.cfg.RateLimit, s.cfg.RateBurst))
	}
	return val.(*rate.Limiter).Allow()
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func toPriceUpdate(p types.Price) priceUpdatePayload {
	return priceUpdatePayload{
		Symbol:      p.Symbol,
		Bid:         p.Bid.String(),
		Ask:         p.Ask.String(),
		Change24h:   p.Change24h.String(),
		High24h:     p.High24h.String(),
		Low24h:      p.Low24h.String(),
		Volume24h:   p.Volume24h.String(),
		FundingRate: p.FundingRate.String(),
		Timestamp:   p.Timestamp.UnixMilli(),
	}
}

var bookLevels = 5

// syntheticBook derives a display ladder from the internal quote: five
// levels per side stepped off the touch, sizes thinning away from it. The
// engine holds no real depth; this is a presentation surface.
func syntheticBook(p types.Price) orderBookPayload {
	step := p.Mid.Div(decimal.NewFromInt(10000)) // 1 bp per level
	if step.IsZero() {
		step = decimal.New(1, -2)
	}
	baseSize := decimal.NewFromInt(10)

	bids := make([]bookLevel, 0, bookLevels)
	asks := make([]bookLevel, 0, bookLevels)
	for i := 0; i < bookLevels; i++ {
		offset := step.Mul(decimal.NewFromInt(int64(i)))
		size := baseSize.Div(decimal.NewFromInt(int64(i + 1)))
		bids = append(bids, bookLevel{
			Price: p.Bid.Sub(offset).String(),
			Size:  size.String(),
		})
		asks = append(asks, bookLevel{
			Price: p.Ask.Add(offset).String(),
			Size:  size.String(),
		})
	}
	return orderBookPayload{
		Symbol:    p.Symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: p.Timestamp.UnixMilli(),
	}
}
