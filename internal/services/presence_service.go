package services

import (
	"context"
	"fmt"

	"realtime-chat/internal/models"
	"realtime-chat/internal/presence"
)

// RosterSource reports who is connected to a room right now.
type RosterSource interface {
	Members(roomID string) []models.OnlineUser
}

type PresenceService struct {
	store presence.Store
	rooms RosterSource
}

func NewPresenceService(store presence.Store, rooms RosterSource) *PresenceService {
	return &PresenceService{store: store, rooms: rooms}
}

func (s *PresenceService) ListOnline(ctx context.Context) ([]models.OnlineUser, error) {
	users, err := s.store.ListOnline(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list online users: %w", err)
	}
	return users, nil
}

func (s *PresenceService) IsOnline(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, fmt.Errorf("user id is required")
	}

	online, err := s.store.IsOnline(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return online, nil
}

// RoomRoster returns the users with a live connection in roomID. Unlike
// ListOnline it reads the registry, so it is exact but local to this
// process.
func (s *PresenceService) RoomRoster(roomID string) []models.OnlineUser {
	return s.rooms.Members(roomID)
}
