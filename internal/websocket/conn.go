package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"realtime-chat/internal/models"
	"realtime-chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrConnClosed    = errors.New("connection closed")
	ErrSendQueueFull = errors.New("send queue full")
)

// Transport is the part of *websocket.Conn the gateway needs.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Conn is one live client connection. Outbound frames go through a bounded
// queue drained by writePump, so a send never blocks the sender.
type Conn struct {
	id        string
	user      models.User
	transport Transport
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	writeWait  time.Duration
	pingPeriod time.Duration

	mu   sync.Mutex
	room string
}

type ConnOptions struct {
	SendBuffer int
	WriteWait  time.Duration
	PingPeriod time.Duration
}

func NewConn(transport Transport, user models.User, opts ConnOptions) *Conn {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}

	return &Conn{
		id:         uuid.NewString(),
		user:       user,
		transport:  transport,
		send:       make(chan []byte, opts.SendBuffer),
		done:       make(chan struct{}),
		writeWait:  opts.WriteWait,
		pingPeriod: opts.PingPeriod,
	}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) User() models.User {
	return c.user
}

// Room returns the room the connection is registered in, or "".
func (c *Conn) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Conn) setRoom(roomID string) {
	c.mu.Lock()
	c.room = roomID
	c.mu.Unlock()
}

func (c *Conn) clearRoom(roomID string) {
	c.mu.Lock()
	if c.room == roomID {
		c.room = ""
	}
	c.mu.Unlock()
}

// Done is closed once the connection has been closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Send queues payload without blocking.
func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// SendEvent encodes ev and queues it for this connection only.
func (c *Conn) SendEvent(ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// Close tears down the transport. The blocked read in the owning session
// fails right after, which starts its cleanup.
func (c *Conn) Close() {
	c.shutdown(0, "")
}

// CloseWith sends a close frame with code and reason before closing.
func (c *Conn) CloseWith(code int, reason string) {
	c.shutdown(code, reason)
}

func (c *Conn) shutdown(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if code != 0 {
			msg := websocket.FormatCloseMessage(code, reason)
			if err := c.transport.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait)); err != nil && !isExpectedCloseError(err) {
				logger.Debug("Error writing close frame to %s: %v", c.id, err)
			}
		}
		if err := c.transport.Close(); err != nil && !isExpectedCloseError(err) {
			logger.Debug("Error closing connection %s: %v", c.id, err)
		}
	})
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			if err := c.transport.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
				c.Close()
				return
			}
			if err := c.transport.WriteMessage(websocket.TextMessage, msg); err != nil {
				if !isExpectedCloseError(err) {
					logger.Error("Write error for %s: %v", c.id, err)
				}
				c.Close()
				return
			}

		case <-ticker.C:
			if err := c.transport.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
				c.Close()
				return
			}
			if err := c.transport.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			return
		}
	}
}
