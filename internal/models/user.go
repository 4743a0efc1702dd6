package models

import "time"

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// OnlineUser is one presence or roster entry.
type OnlineUser struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}
