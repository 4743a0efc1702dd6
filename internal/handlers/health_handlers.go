package handlers

import (
	"net/http"

	ws "realtime-chat/internal/websocket"
)

type HealthHandlers struct {
	gateway *ws.Gateway
}

func NewHealthHandlers(gateway *ws.Gateway) *HealthHandlers {
	return &HealthHandlers{gateway: gateway}
}

// Health serves GET /health.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"connections": h.gateway.ActiveConnections(),
	})
}
