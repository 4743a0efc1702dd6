package websocket

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"realtime-chat/internal/models"
	"realtime-chat/pkg/logger"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

type State int32

const (
	StateHandshaking State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// session is the server side of one connection. Its cleanup runs once, on
// the Active to Closing transition, whichever path gets there first.
type session struct {
	gateway *Gateway
	roomID  string
	conn    *Conn
	state   atomic.Int32
}

func (s *session) State() State {
	return State(s.state.Load())
}

func (s *session) reject(t Transport, code int, reason string) {
	s.state.Store(int32(StateClosed))
	msg := websocket.FormatCloseMessage(code, reason)
	if err := t.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.gateway.opts.WriteWait)); err != nil && !isExpectedCloseError(err) {
		logger.Debug("Error writing close frame: %v", err)
	}
	_ = t.Close()
}

func (s *session) run(ctx context.Context) {
	s.activate(ctx)

	go s.conn.writePump()
	go s.heartbeat()
	go s.watch(ctx)

	s.readLoop(ctx)
	s.close()
}

func (s *session) activate(ctx context.Context) {
	g := s.gateway
	user := s.conn.User()

	g.rooms.Join(s.roomID, s.conn)
	s.state.Store(int32(StateActive))

	if err := g.presence.MarkOnline(ctx, user.ID, user.Username); err != nil {
		logger.Error("Failed to mark %s online: %v", user.ID, err)
	}

	g.rooms.Broadcast(s.roomID, models.UserJoinedEvent{
		UserID:    user.ID,
		Username:  user.Username,
		Timestamp: g.now(),
	})
	logger.Info("User %s joined room %s (conn %s)", user.Username, s.roomID, s.conn.ID())
}

// watch closes the connection when the serving context ends.
func (s *session) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		s.conn.CloseWith(websocket.CloseGoingAway, "server shutting down")
	case <-s.conn.Done():
	}
}

func (s *session) heartbeat() {
	every := s.gateway.opts.PresenceRefresh
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.refreshPresence()
		case <-s.conn.Done():
			return
		}
	}
}

func (s *session) refreshPresence() {
	ctx, cancel := context.WithTimeout(context.Background(), s.gateway.opts.PersistTimeout)
	defer cancel()
	if err := s.gateway.presence.Refresh(ctx, s.conn.User().ID); err != nil {
		logger.Warn("Failed to refresh presence for %s: %v", s.conn.User().ID, err)
	}
}

func (s *session) readLoop(ctx context.Context) {
	opts := s.gateway.opts
	t := s.conn.transport

	if opts.MaxMessageSize > 0 {
		t.SetReadLimit(opts.MaxMessageSize)
	}
	_ = t.SetReadDeadline(time.Now().Add(opts.PongWait))
	t.SetPongHandler(func(string) error {
		return t.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.RateBurst)
	}

	for {
		_, data, err := t.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Error("WebSocket error for %s: %v", s.conn.ID(), err)
			}
			return
		}
		_ = t.SetReadDeadline(time.Now().Add(opts.PongWait))

		if limiter != nil && !limiter.Allow() {
			logger.Debug("Rate limit exceeded for %s, dropping frame", s.conn.ID())
			continue
		}
		s.dispatch(ctx, data)
	}
}

func (s *session) dispatch(ctx context.Context, data []byte) {
	ev, ok := models.DecodeInbound(data)
	if !ok {
		logger.Debug("Ignoring malformed frame from %s", s.conn.ID())
		return
	}

	switch ev.Type {
	case models.EventMessage:
		s.handleMessage(ctx, ev.Content)
	case models.EventTyping:
		s.gateway.rooms.Broadcast(s.roomID, models.TypingEvent{
			Username: s.conn.User().Username,
			IsTyping: ev.IsTyping,
		})
	case models.EventHeartbeat:
		s.refreshPresence()
	default:
		logger.Debug("Ignoring unknown event type %q from %s", ev.Type, s.conn.ID())
	}
}

func (s *session) handleMessage(ctx context.Context, raw string) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return
	}

	g := s.gateway
	user := s.conn.User()

	saveCtx, cancel := context.WithTimeout(ctx, g.opts.PersistTimeout)
	msg, err := g.messages.SaveMessage(saveCtx, s.roomID, user.ID, content)
	cancel()
	if err != nil {
		logger.Error("Failed to save message from %s in room %s: %v", user.ID, s.roomID, err)
		if err := s.conn.SendEvent(models.ErrorEvent{Message: "message could not be saved"}); err != nil {
			logger.Debug("Failed to send error to %s: %v", s.conn.ID(), err)
		}
		return
	}

	ev := models.MessageEvent{
		MessageID: msg.ID,
		RoomID:    s.roomID,
		SenderID:  user.ID,
		Username:  user.Username,
		Content:   msg.Content,
		Timestamp: msg.CreatedAt,
	}
	g.rooms.Broadcast(s.roomID, ev)

	if g.notifier != nil {
		if err := g.notifier.Notify(ctx, ev); err != nil {
			logger.Warn("Failed to hand off message %s: %v", msg.ID, err)
		}
	}
}

// close undoes activate and releases the transport. Only the caller that
// wins the Active to Closing transition does any of it.
func (s *session) close() {
	if !s.state.CompareAndSwap(int32(StateActive), int32(StateClosing)) {
		return
	}
	g := s.gateway
	user := s.conn.User()

	g.rooms.Leave(s.roomID, s.conn)

	ctx, cancel := context.WithTimeout(context.Background(), g.opts.PersistTimeout)
	if err := g.presence.MarkOffline(ctx, user.ID); err != nil {
		logger.Error("Failed to mark %s offline: %v", user.ID, err)
	}
	cancel()

	g.rooms.Broadcast(s.roomID, models.UserLeftEvent{
		UserID:    user.ID,
		Username:  user.Username,
		Timestamp: g.now(),
	})

	s.conn.Close()
	s.state.Store(int32(StateClosed))
	logger.Info("User %s left room %s (conn %s)", user.Username, s.roomID, s.conn.ID())
}
