// Package presence answers "is this user online" with a bounded staleness
// window. An entry exists while the user is online and disappears on its
// own once its TTL lapses without a refresh, so a crashed client never
// stays online forever.
package presence

import (
	"context"
	"sort"
	"time"

	"realtime-chat/internal/models"
)

// DefaultTTL is how long an entry survives without a refresh.
const DefaultTTL = 60 * time.Second

type Store interface {
	// MarkOnline sets or overwrites the entry for userID.
	MarkOnline(ctx context.Context, userID, username string) error
	// Refresh extends an existing entry. Absent entries are left absent.
	Refresh(ctx context.Context, userID string) error
	// MarkOffline deletes the entry unconditionally.
	MarkOffline(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	ListOnline(ctx context.Context) ([]models.OnlineUser, error)
}

func sortOnline(users []models.OnlineUser) {
	sort.Slice(users, func(i, j int) bool {
		if users[i].Username != users[j].Username {
			return users[i].Username < users[j].Username
		}
		return users[i].UserID < users[j].UserID
	})
}
