package handlers

import (
	"net/http"
	"net/url"
	"strings"

	ws "realtime-chat/internal/websocket"
	"realtime-chat/pkg/logger"

	"github.com/gorilla/websocket"
)

const defaultRoom = "general"

type WebSocketHandlers struct {
	gateway  *ws.Gateway
	upgrader websocket.Upgrader
}

// NewWebSocketHandlers accepts browser origins listed in allowedOrigins.
// An empty list accepts any origin.
func NewWebSocketHandlers(gateway *ws.Gateway, allowedOrigins []string) *WebSocketHandlers {
	return &WebSocketHandlers{
		gateway: gateway,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// HandleWebSocket serves GET /ws/{room_id} and GET /ws?room=. The token is
// checked after the upgrade so that a rejected client sees a close code
// instead of a bare HTTP error.
func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")
	if roomID == "" {
		roomID = r.URL.Query().Get("room")
	}
	if roomID == "" {
		roomID = defaultRoom
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	if err := h.gateway.Serve(r.Context(), conn, roomID, tokenFromRequest(r)); err != nil {
		logger.Info("WebSocket connection to room %s refused: %v", roomID, err)
	}
}

// tokenFromRequest reads a bearer token from the Authorization header, or
// from the token query parameter for clients that cannot set headers.
func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}

	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		set[strings.ToLower(strings.TrimRight(origin, "/"))] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return set[strings.ToLower(u.Scheme+"://"+u.Host)]
	}
}
