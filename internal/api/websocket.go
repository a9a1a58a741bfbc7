package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"cell-arena/internal/game"
	"cell-arena/internal/game/arena"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxFrameSize   = 512
	sendQueue      = 64
	connectTimeout = 2 * time.Second
	maxNameLength  = 16
	defaultName    = "cell"
)

// HubConfig bounds the WebSocket sessions.
type HubConfig struct {
	MaxConnections   int
	MaxPerIP         int
	ActionsPerSecond float64
	ActionBurst      int
	Origins          []string
}

// DefaultHubConfig returns production-safe defaults
func DefaultHubConfig() HubConfig {
	return HubConfig{
		MaxConnections:   500,
		MaxPerIP:         4,
		ActionsPerSecond: 60,
		ActionBurst:      30,
		Origins:          []string{"*"},
	}
}

type session struct {
	id          uuid.UUID
	conn        *websocket.Conn
	ip          string
	send        chan []byte
	actions     *rate.Limiter
	welcomeTick uint64

	closeOnce sync.Once
	done      chan struct{}
}

// queue hands a frame to the write pump, dropping it if the session lags.
func (s *session) queue(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		wsFramesDropped.Inc()
		return false
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// WebSocketHub owns the player sessions: it forwards their actions to the
// engine and fans each published tick out to them.
type WebSocketHub struct {
	engine   EngineInterface
	log      *zap.Logger
	cfg      HubConfig
	upgrader websocket.Upgrader
	limiter  *ConnLimiter

	mu       sync.RWMutex
	sessions map[uuid.UUID]*session
}

// NewWebSocketHub creates a hub. Call Run to start fan-out.
func NewWebSocketHub(engine EngineInterface, cfg HubConfig, log *zap.Logger) *WebSocketHub {
	if log == nil {
		log = zap.NewNop()
	}
	h := &WebSocketHub{
		engine:   engine,
		log:      log.Named("ws"),
		cfg:      cfg,
		limiter:  NewConnLimiter(cfg.MaxPerIP),
		sessions: make(map[uuid.UUID]*session),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if originAllowed(origin, h.cfg.Origins) {
				return true
			}
			h.log.Warn("websocket origin rejected", zap.String("origin", origin))
			RecordConnectionRejected("origin")
			return false
		},
	}
	return h
}

// Run forwards snapshots and death events until ctx ends.
func (h *WebSocketHub) Run(ctx context.Context) {
	snaps, cancel := h.engine.Subscribe()
	defer cancel()
	deaths := h.engine.Deaths()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case s := <-snaps:
			h.broadcast(s)
		case d := <-deaths:
			h.notifyDeath(d)
		}
	}
}

func (h *WebSocketHub) broadcast(s *game.Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, sess := range h.sessions {
		if s.Tick <= sess.welcomeTick {
			continue
		}
		data, err := encodeTick(s, id.String())
		if err != nil {
			h.log.Error("encode tick", zap.Error(err))
			return
		}
		if sess.queue(data) {
			wsMessagesTotal.WithLabelValues("out").Inc()
		}
	}
}

// notifyDeath sends the death frame and ends the session. The user is
// already gone from the world.
func (h *WebSocketHub) notifyDeath(d game.DeathEvent) {
	h.mu.RLock()
	sess, ok := h.sessions[d.UserID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	data, err := encodeDeath(d.Tick)
	if err != nil {
		h.log.Error("encode death", zap.Error(err))
	} else {
		sess.queue(data)
	}
	h.log.Info("session ended by death", zap.String("user", d.UserID.String()))
	h.unregister(sess, false)
}

// SessionCount returns the number of live sessions.
func (h *WebSocketHub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *WebSocketHub) register(s *session) {
	h.mu.Lock()
	h.sessions[s.id] = s
	n := len(h.sessions)
	h.mu.Unlock()
	UpdateWSConnections(n)
	h.log.Info("session opened", zap.String("user", s.id.String()), zap.String("ip", s.ip), zap.Int("sessions", n))
}

// unregister drops a session once; disconnect also removes the user.
func (h *WebSocketHub) unregister(s *session, disconnect bool) {
	h.mu.Lock()
	cur, ok := h.sessions[s.id]
	if ok && cur == s {
		delete(h.sessions, s.id)
	}
	n := len(h.sessions)
	h.mu.Unlock()
	if !ok || cur != s {
		return
	}

	s.close()
	h.limiter.Release(s.ip)
	UpdateWSConnections(n)
	if disconnect {
		if err := h.engine.Disconnect(s.id); err != nil {
			h.log.Warn("disconnect not queued", zap.String("user", s.id.String()), zap.Error(err))
		}
	}
	h.log.Info("session closed", zap.String("user", s.id.String()), zap.Int("sessions", n))
}

func (h *WebSocketHub) closeAll() {
	h.mu.RLock()
	all := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		all = append(all, s)
	}
	h.mu.RUnlock()
	for _, s := range all {
		h.unregister(s, true)
	}
}

// HandleWebSocket admits a player: upgrade, join the world, then pump
// frames both ways.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	if h.SessionCount() >= h.cfg.MaxConnections {
		h.log.Warn("websocket rejected: total limit", zap.Int("limit", h.cfg.MaxConnections))
		RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}
	if !h.limiter.Acquire(ip) {
		h.log.Warn("websocket rejected: per-IP limit", zap.String("ip", ip))
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		h.limiter.Release(ip)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), connectTimeout)
	welcome, err := h.engine.Connect(ctx, sanitizeName(r.URL.Query().Get("name")))
	cancel()
	if err != nil {
		h.decline(conn, ip, err)
		return
	}

	sess := &session{
		id:          welcome.UserID,
		conn:        conn,
		ip:          ip,
		send:        make(chan []byte, sendQueue),
		actions:     rate.NewLimiter(rate.Limit(h.cfg.ActionsPerSecond), h.cfg.ActionBurst),
		welcomeTick: welcome.State.Tick,
		done:        make(chan struct{}),
	}
	data, err := encodeWelcome(welcome)
	if err != nil {
		h.log.Error("encode welcome", zap.Error(err))
		h.decline(conn, ip, err)
		if derr := h.engine.Disconnect(welcome.UserID); derr != nil {
			h.log.Warn("disconnect not queued", zap.Error(derr))
		}
		return
	}
	sess.send <- data
	h.register(sess)

	go h.writePump(sess)
	go h.readPump(sess)
}

// decline answers a failed join with an error frame and closes.
func (h *WebSocketHub) decline(conn *websocket.Conn, ip string, err error) {
	defer h.limiter.Release(ip)
	defer conn.Close()

	code, msg := CodeUnavailable, "server unavailable"
	var ae *arena.AllocationError
	switch {
	case errors.As(err, &ae):
		code, msg = CodeCapacity, "server is full"
		RecordConnectionRejected("capacity")
	case errors.Is(err, game.ErrQueueFull):
		code, msg = CodeBusy, "server busy"
	}
	h.log.Warn("join declined", zap.String("ip", ip), zap.String("code", code), zap.Error(err))

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.BinaryMessage, encodeError(code, msg))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, code))
}

func (h *WebSocketHub) readPump(s *session) {
	defer h.unregister(s, true)

	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("read failed", zap.String("user", s.id.String()), zap.Error(err))
			}
			return
		}
		wsMessagesTotal.WithLabelValues("in").Inc()

		if kind != websocket.BinaryMessage {
			s.queue(encodeError(CodeMalformed, "frames must be binary msgpack"))
			continue
		}
		f, err := DecodeClientFrame(data)
		if err != nil {
			s.queue(encodeError(CodeMalformed, err.Error()))
			continue
		}
		if !s.actions.Allow() {
			s.queue(encodeError(CodeRateLimited, "too many actions"))
			continue
		}
		if err := h.dispatch(s.id, f); err != nil {
			s.queue(encodeError(CodeBusy, err.Error()))
		}
	}
}

func (h *WebSocketHub) dispatch(id uuid.UUID, f ClientFrame) error {
	switch f.Type {
	case FrameTarget:
		return h.engine.SetTarget(id, f.X, f.Y)
	case FrameSplit:
		return h.engine.Split(id)
	case FrameEject:
		return h.engine.Eject(id)
	}
	return ErrMalformedFrame
}

// writePump is the only writer on the connection.
func (h *WebSocketHub) writePump(s *session) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		s.conn.Close()
	}()

	write := func(kind int, data []byte) bool {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(kind, data); err != nil {
			h.log.Debug("write failed", zap.String("user", s.id.String()), zap.Error(err))
			return false
		}
		return true
	}

	for {
		select {
		case data := <-s.send:
			if !write(websocket.BinaryMessage, data) {
				h.unregister(s, true)
				return
			}
		case <-ping.C:
			if !write(websocket.PingMessage, nil) {
				h.unregister(s, true)
				return
			}
		case <-s.done:
			// Flush what is queued (a death frame, typically), then close.
			for {
				select {
				case data := <-s.send:
					if !write(websocket.BinaryMessage, data) {
						return
					}
				default:
					write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

// sanitizeName trims a display name to something printable and short.
func sanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, strings.TrimSpace(name))
	if name == "" {
		return defaultName
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		name = string([]rune(name)[:maxNameLength])
	}
	return name
}
