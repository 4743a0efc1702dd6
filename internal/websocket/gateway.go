package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"realtime-chat/internal/auth"
	"realtime-chat/internal/database"
	"realtime-chat/internal/models"
	"realtime-chat/internal/presence"
	"realtime-chat/pkg/logger"

	"github.com/gorilla/websocket"
)

// CloseUnauthorized is the close code sent when the handshake token is
// rejected.
const CloseUnauthorized = websocket.ClosePolicyViolation

var ErrGatewayClosed = errors.New("gateway is shutting down")

type Verifier interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

// Rooms is the part of the Registry a session uses.
type Rooms interface {
	Join(roomID string, c *Conn)
	Leave(roomID string, c *Conn) bool
	Broadcast(roomID string, ev models.Event) int
	Members(roomID string) []models.OnlineUser
}

// Notifier receives every persisted message for offline delivery.
type Notifier interface {
	Notify(ctx context.Context, ev models.MessageEvent) error
}

type Deps struct {
	Verifier Verifier
	Rooms    Rooms
	Presence presence.Store
	Messages database.MessageRepository
	Notifier Notifier
}

type Options struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	SendBuffer     int
	MaxMessageSize int64

	// Inbound events per second per connection. Zero disables limiting.
	RatePerSecond float64
	RateBurst     int

	PresenceRefresh time.Duration
	PersistTimeout  time.Duration
}

func DefaultOptions() Options {
	return Options{
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
		PingPeriod:      54 * time.Second,
		SendBuffer:      256,
		MaxMessageSize:  4096,
		RatePerSecond:   10,
		RateBurst:       20,
		PresenceRefresh: 20 * time.Second,
		PersistTimeout:  5 * time.Second,
	}
}

// Gateway owns the lifecycle of every chat connection, from the token check
// to the single teardown.
type Gateway struct {
	verifier Verifier
	rooms    Rooms
	presence presence.Store
	messages database.MessageRepository
	notifier Notifier
	opts     Options
	now      func() time.Time

	mu       sync.Mutex
	sessions map[*session]struct{}
	closed   bool
	wg       sync.WaitGroup
}

func NewGateway(deps Deps, opts Options) *Gateway {
	defaults := DefaultOptions()
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaults.WriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaults.PongWait
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = defaults.PersistTimeout
	}

	return &Gateway{
		verifier: deps.Verifier,
		rooms:    deps.Rooms,
		presence: deps.Presence,
		messages: deps.Messages,
		notifier: deps.Notifier,
		opts:     opts,
		now:      time.Now,
		sessions: make(map[*session]struct{}),
	}
}

// Serve drives one connection until it ends and returns once cleanup is
// complete. It returns an error only when the handshake fails.
func (g *Gateway) Serve(ctx context.Context, t Transport, roomID, token string) error {
	s := &session{gateway: g, roomID: roomID}

	authCtx, cancel := context.WithTimeout(ctx, g.opts.PersistTimeout)
	user, err := g.verifier.Authenticate(authCtx, token)
	cancel()
	if err != nil {
		if isCredentialError(err) {
			s.reject(t, CloseUnauthorized, "unauthorized")
		} else {
			s.reject(t, websocket.CloseInternalServerErr, "authentication unavailable")
		}
		return fmt.Errorf("handshake rejected: %w", err)
	}

	s.conn = NewConn(t, *user, ConnOptions{
		SendBuffer: g.opts.SendBuffer,
		WriteWait:  g.opts.WriteWait,
		PingPeriod: g.opts.PingPeriod,
	})
	if !g.track(s) {
		s.reject(t, websocket.CloseGoingAway, "server shutting down")
		return ErrGatewayClosed
	}
	defer g.untrack(s)

	s.run(ctx)
	return nil
}

func (g *Gateway) track(s *session) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.sessions[s] = struct{}{}
	g.wg.Add(1)
	return true
}

func (g *Gateway) untrack(s *session) {
	g.mu.Lock()
	delete(g.sessions, s)
	g.mu.Unlock()
	g.wg.Done()
}

// Disconnect closes every connection belonging to userID and returns how
// many were closed. Each one goes through the normal teardown.
func (g *Gateway) Disconnect(userID string) int {
	g.mu.Lock()
	var targets []*session
	for s := range g.sessions {
		if s.conn.User().ID == userID {
			targets = append(targets, s)
		}
	}
	g.mu.Unlock()

	for _, s := range targets {
		s.conn.CloseWith(websocket.CloseGoingAway, "disconnected by administrator")
	}
	return len(targets)
}

// ActiveConnections returns the number of sessions past the handshake.
func (g *Gateway) ActiveConnections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// Shutdown refuses new sessions, closes the live ones and waits for their
// teardown to finish or ctx to expire.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	targets := make([]*session, 0, len(g.sessions))
	for s := range g.sessions {
		targets = append(targets, s)
	}
	g.mu.Unlock()

	logger.Info("Closing %d active connection(s)", len(targets))
	for _, s := range targets {
		s.conn.CloseWith(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to drain connections: %w", ctx.Err())
	}
}

// isCredentialError reports whether err blames the client's token rather
// than a backend failure.
func isCredentialError(err error) bool {
	return errors.Is(err, auth.ErrMissingToken) ||
		errors.Is(err, auth.ErrInvalidToken) ||
		errors.Is(err, auth.ErrUserNotFound)
}

func isExpectedCloseError(err error) bool {
	if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
