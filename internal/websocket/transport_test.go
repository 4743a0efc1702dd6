package websocket

import (
	"encoding/binary"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-memory Transport. Frames pushed with deliver come
// out of ReadMessage; text frames written by the server land on out.
type fakeTransport struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once

	// stall blocks text writes until the transport is closed, like a
	// client that stopped reading.
	stall bool

	mu          sync.Mutex
	closeCode   int
	closeReason string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.in:
		return websocket.TextMessage, data, nil
	case <-f.closed:
		return 0, nil, net.ErrClosed
	}
}

func (f *fakeTransport) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}
	if messageType != websocket.TextMessage {
		return nil
	}
	if f.stall {
		<-f.closed
		return net.ErrClosed
	}
	select {
	case f.out <- data:
		return nil
	case <-f.closed:
		return net.ErrClosed
	}
}

func (f *fakeTransport) WriteControl(messageType int, data []byte, _ time.Time) error {
	if messageType == websocket.CloseMessage && len(data) >= 2 {
		f.mu.Lock()
		f.closeCode = int(binary.BigEndian.Uint16(data))
		f.closeReason = string(data[2:])
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeTransport) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeTransport) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeTransport) SetReadLimit(int64)                {}
func (f *fakeTransport) SetPongHandler(func(string) error) {}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) closeFrame() (int, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode, f.closeReason
}

func (f *fakeTransport) deliver(t *testing.T, frame string) {
	t.Helper()
	select {
	case f.in <- []byte(frame):
	case <-time.After(2 * time.Second):
		t.Fatal("timed out delivering frame")
	}
}

// next returns the next outbound event decoded as a map.
func (f *fakeTransport) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case data := <-f.out:
		var ev map[string]any
		require.NoError(t, json.Unmarshal(data, &ev))
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an outbound event")
		return nil
	}
}

// nextOfType skips events until one of the given type arrives.
func (f *fakeTransport) nextOfType(t *testing.T, typ string) map[string]any {
	t.Helper()
	for {
		ev := f.next(t)
		if ev["type"] == typ {
			return ev
		}
	}
}
