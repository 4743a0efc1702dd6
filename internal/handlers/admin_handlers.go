package handlers

import (
	"crypto/subtle"
	"net/http"

	ws "realtime-chat/internal/websocket"
	"realtime-chat/pkg/logger"
)

type AdminHandlers struct {
	gateway *ws.Gateway
	token   string
}

// NewAdminHandlers returns handlers guarded by token. An empty token
// rejects every request.
func NewAdminHandlers(gateway *ws.Gateway, token string) *AdminHandlers {
	return &AdminHandlers{gateway: gateway, token: token}
}

type disconnectResponse struct {
	UserID string `json:"user_id"`
	Closed int    `json:"closed"`
}

// DisconnectUser serves POST /admin/users/{user_id}/disconnect.
func (h *AdminHandlers) DisconnectUser(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	userID := r.PathValue("user_id")
	if userID == "" {
		http.Error(w, "invalid user ID", http.StatusBadRequest)
		return
	}

	closed := h.gateway.Disconnect(userID)
	logger.Info("Admin disconnected user %s (%d connection(s))", userID, closed)
	writeJSON(w, http.StatusOK, disconnectResponse{UserID: userID, Closed: closed})
}

func (h *AdminHandlers) authorized(r *http.Request) bool {
	if h.token == "" {
		return false
	}
	given := r.Header.Get("X-Admin-Token")
	return subtle.ConstantTimeCompare([]byte(given), []byte(h.token)) == 1
}
