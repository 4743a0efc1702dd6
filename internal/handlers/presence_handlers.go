package handlers

import (
	"encoding/json"
	"net/http"

	"realtime-chat/internal/auth"
	"realtime-chat/internal/models"
	"realtime-chat/internal/services"
	"realtime-chat/pkg/logger"
)

type PresenceHandlers struct {
	presenceService *services.PresenceService
	authService     *auth.Service
}

func NewPresenceHandlers(presenceService *services.PresenceService, authService *auth.Service) *PresenceHandlers {
	return &PresenceHandlers{
		presenceService: presenceService,
		authService:     authService,
	}
}

type onlineUsersResponse struct {
	Count int                 `json:"count"`
	Users []models.OnlineUser `json:"users"`
}

type userStatusResponse struct {
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
}

type roomRosterResponse struct {
	RoomID string              `json:"room_id"`
	Count  int                 `json:"count"`
	Users  []models.OnlineUser `json:"users"`
}

// ListOnline serves GET /users/online.
func (h *PresenceHandlers) ListOnline(w http.ResponseWriter, r *http.Request) {
	if _, err := h.getUserFromToken(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	users, err := h.presenceService.ListOnline(r.Context())
	if err != nil {
		logger.Error("List online users error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, onlineUsersResponse{Count: len(users), Users: users})
}

// UserStatus serves GET /users/online/{user_id}.
func (h *PresenceHandlers) UserStatus(w http.ResponseWriter, r *http.Request) {
	if _, err := h.getUserFromToken(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	userID := r.PathValue("user_id")
	if userID == "" {
		http.Error(w, "invalid user ID", http.StatusBadRequest)
		return
	}

	online, err := h.presenceService.IsOnline(r.Context(), userID)
	if err != nil {
		logger.Error("Presence check error for %s: %v", userID, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, userStatusResponse{UserID: userID, IsOnline: online})
}

// RoomRoster serves GET /rooms/{room_id}/active.
func (h *PresenceHandlers) RoomRoster(w http.ResponseWriter, r *http.Request) {
	if _, err := h.getUserFromToken(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	roomID := r.PathValue("room_id")
	if roomID == "" {
		http.Error(w, "invalid room ID", http.StatusBadRequest)
		return
	}

	users := h.presenceService.RoomRoster(roomID)
	writeJSON(w, http.StatusOK, roomRosterResponse{RoomID: roomID, Count: len(users), Users: users})
}

func (h *PresenceHandlers) getUserFromToken(r *http.Request) (*models.User, error) {
	return h.authService.Authenticate(r.Context(), tokenFromRequest(r))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response: %v", err)
	}
}
