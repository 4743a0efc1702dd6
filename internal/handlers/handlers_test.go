package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"realtime-chat/internal/auth"
	"realtime-chat/internal/config"
	"realtime-chat/internal/database"
	"realtime-chat/internal/models"
	"realtime-chat/internal/presence"
	"realtime-chat/internal/services"
	ws "realtime-chat/internal/websocket"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUsers map[string]*models.User

func (f fakeUsers) GetUserByID(_ context.Context, id string) (*models.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return u, nil
}

type fakeMessages struct {
	mu    sync.Mutex
	saved []string
}

func (f *fakeMessages) SaveMessage(_ context.Context, roomID, senderID, content string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, content)
	return &models.Message{
		ID:        fmt.Sprintf("msg-%d", len(f.saved)),
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (f *fakeMessages) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type testServer struct {
	*httptest.Server
	auth     *auth.Service
	presence *presence.MemoryStore
	registry *ws.Registry
	gateway  *ws.Gateway
	messages *fakeMessages
}

const testAdminToken = "admin-secret"

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	users := fakeUsers{
		"u1": {ID: "u1", Username: "alice", IsActive: true},
		"u2": {ID: "u2", Username: "bob", IsActive: true},
	}
	ts := &testServer{
		auth:     auth.NewService(users, config.JWTConfig{Secret: []byte("test-secret"), ExpiresIn: time.Hour}),
		presence: presence.NewMemoryStore(presence.WithSweepInterval(0)),
		registry: ws.NewRegistry(),
		messages: &fakeMessages{},
	}

	opts := ws.DefaultOptions()
	opts.RatePerSecond = 0
	ts.gateway = ws.NewGateway(ws.Deps{
		Verifier: ts.auth,
		Rooms:    ts.registry,
		Presence: ts.presence,
		Messages: ts.messages,
	}, opts)

	wsHandlers := NewWebSocketHandlers(ts.gateway, nil)
	presenceHandlers := NewPresenceHandlers(services.NewPresenceService(ts.presence, ts.registry), ts.auth)
	adminHandlers := NewAdminHandlers(ts.gateway, testAdminToken)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", wsHandlers.HandleWebSocket)
	mux.HandleFunc("GET /ws/{room_id}", wsHandlers.HandleWebSocket)
	mux.HandleFunc("GET /users/online", presenceHandlers.ListOnline)
	mux.HandleFunc("GET /users/online/{user_id}", presenceHandlers.UserStatus)
	mux.HandleFunc("GET /rooms/{room_id}/active", presenceHandlers.RoomRoster)
	mux.HandleFunc("POST /admin/users/{user_id}/disconnect", adminHandlers.DisconnectUser)
	mux.HandleFunc("GET /health", NewHealthHandlers(ts.gateway).Health)

	ts.Server = httptest.NewServer(mux)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = ts.gateway.Shutdown(ctx)
		ts.Server.Close()
		_ = ts.presence.Close()
	})
	return ts
}

func (ts *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := ts.auth.IssueToken(userID, auth.TokenTypeAccess, time.Hour)
	require.NoError(t, err)
	return token
}

func (ts *testServer) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func (ts *testServer) dial(t *testing.T, path string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(path), header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev map[string]any
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func readEventOfType(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	for {
		ev := readEvent(t, conn)
		if ev["type"] == typ {
			return ev
		}
	}
}

func (ts *testServer) get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestWebSocketChatEndToEnd(t *testing.T) {
	ts := newTestServer(t)

	alice := ts.dial(t, "/ws/general?token="+ts.token(t, "u1"), nil)
	assert.Equal(t, "alice", readEventOfType(t, alice, "user_joined")["username"])

	bob := ts.dial(t, "/ws/general?token="+ts.token(t, "u2"), nil)
	assert.Equal(t, "bob", readEventOfType(t, bob, "user_joined")["username"])
	assert.Equal(t, "bob", readEventOfType(t, alice, "user_joined")["username"])

	require.NoError(t, alice.WriteJSON(map[string]any{"type": "message", "content": "   "}))
	require.NoError(t, alice.WriteJSON(map[string]any{"type": "message", "content": "hi"}))

	for _, conn := range []*websocket.Conn{alice, bob} {
		msg := readEventOfType(t, conn, "message")
		assert.Equal(t, "hi", msg["content"])
		assert.Equal(t, "msg-1", msg["message_id"])
		assert.Equal(t, "u1", msg["sender_id"])
		assert.Equal(t, "general", msg["room_id"])
	}
	assert.Equal(t, 1, ts.messages.count())

	require.NoError(t, bob.WriteJSON(map[string]any{"type": "typing", "is_typing": true}))
	typing := readEventOfType(t, alice, "typing")
	assert.Equal(t, "bob", typing["username"])

	require.NoError(t, bob.Close())
	left := readEventOfType(t, alice, "user_left")
	assert.Equal(t, "u2", left["user_id"])

	assert.Eventually(t, func() bool {
		online, _ := ts.presence.IsOnline(context.Background(), "u2")
		return !online
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketRejectsInvalidToken(t *testing.T) {
	ts := newTestServer(t)

	refresh, err := ts.auth.IssueToken("u1", auth.TokenTypeRefresh, time.Hour)
	require.NoError(t, err)

	for name, path := range map[string]string{
		"missing":   "/ws/general",
		"malformed": "/ws/general?token=garbage",
		"refresh":   "/ws/general?token=" + refresh,
	} {
		t.Run(name, func(t *testing.T) {
			conn := ts.dial(t, path, nil)
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
			_, _, err := conn.ReadMessage()
			require.Error(t, err)
			assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
		})
	}
	assert.Equal(t, 0, ts.registry.Count("general"))
}

func TestWebSocketQueryRoomAndBearerHeader(t *testing.T) {
	ts := newTestServer(t)

	header := http.Header{"Authorization": {"Bearer " + ts.token(t, "u1")}}
	conn := ts.dial(t, "/ws?room=lobby", header)
	readEventOfType(t, conn, "user_joined")
	assert.Equal(t, 1, ts.registry.Count("lobby"))

	other := ts.dial(t, "/ws?token="+ts.token(t, "u2"), nil)
	readEventOfType(t, other, "user_joined")
	assert.Equal(t, 1, ts.registry.Count(defaultRoom))
}

func TestPresenceEndpoints(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "u1")

	resp := ts.get(t, "/users/online", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn := ts.dial(t, "/ws/general?token="+token, nil)
	readEventOfType(t, conn, "user_joined")

	resp = ts.get(t, "/users/online", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var online onlineUsersResponse
	decodeBody(t, resp, &online)
	assert.Equal(t, 1, online.Count)
	assert.Equal(t, []models.OnlineUser{{UserID: "u1", Username: "alice"}}, online.Users)

	resp = ts.get(t, "/users/online/u1", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status userStatusResponse
	decodeBody(t, resp, &status)
	assert.Equal(t, userStatusResponse{UserID: "u1", IsOnline: true}, status)

	resp = ts.get(t, "/users/online/u2", token)
	decodeBody(t, resp, &status)
	assert.False(t, status.IsOnline)

	resp = ts.get(t, "/rooms/general/active", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var roster roomRosterResponse
	decodeBody(t, resp, &roster)
	assert.Equal(t, "general", roster.RoomID)
	assert.Equal(t, 1, roster.Count)

	resp = ts.get(t, "/rooms/empty/active", token)
	decodeBody(t, resp, &roster)
	assert.Equal(t, 0, roster.Count)
	assert.NotNil(t, roster.Users)
}

func TestAdminDisconnect(t *testing.T) {
	ts := newTestServer(t)

	conn := ts.dial(t, "/ws/general?token="+ts.token(t, "u1"), nil)
	readEventOfType(t, conn, "user_joined")

	post := func(adminToken string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/admin/users/u1/disconnect", nil)
		require.NoError(t, err)
		if adminToken != "" {
			req.Header.Set("X-Admin-Token", adminToken)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusForbidden, post("").StatusCode)
	assert.Equal(t, http.StatusForbidden, post("wrong").StatusCode)

	resp := post(testAdminToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body disconnectResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, disconnectResponse{UserID: "u1", Closed: 1}, body)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
			break
		}
	}
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	h := NewAdminHandlers(nil, "")
	req := httptest.NewRequest(http.MethodPost, "/admin/users/u1/disconnect", nil)
	req.Header.Set("X-Admin-Token", "")
	rec := httptest.NewRecorder()

	h.DisconnectUser(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.get(t, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	decodeBody(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["connections"])
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	assert.Equal(t, "from-query", tokenFromRequest(req))

	req.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", tokenFromRequest(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "from-query", tokenFromRequest(req))
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://chat.example.com/"})

	cases := map[string]bool{
		"":                            true,
		"https://chat.example.com":    true,
		"HTTPS://CHAT.EXAMPLE.COM":    true,
		"https://evil.example.com":    false,
		"http://chat.example.com":     false,
		"https://chat.example.com:99": false,
	}
	for origin, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		assert.Equal(t, want, check(req), origin)
	}

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://anything.example")
	assert.True(t, originChecker(nil)(req))
}
