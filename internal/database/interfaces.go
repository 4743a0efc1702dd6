package database

import (
	"context"
	"errors"

	"realtime-chat/internal/models"
)

var ErrNotFound = errors.New("not found")

type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

type MessageRepository interface {
	SaveMessage(ctx context.Context, roomID, senderID, content string) (*models.Message, error)
}

type Database interface {
	UserRepository
	MessageRepository
	Migrate(ctx context.Context) error
	Close() error
}
