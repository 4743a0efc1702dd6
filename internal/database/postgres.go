package database

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"realtime-chat/internal/models"
	"realtime-chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// pool is the subset of *pgxpool.Pool the repository uses.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

type PostgresDB struct {
	pool pool
}

func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	p, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: p}, nil
}

func newPostgresDBWithPool(p pool) *PostgresDB {
	return &PostgresDB{pool: p}
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

// Migrate creates the tables this service reads and writes if they do not
// exist yet.
func (db *PostgresDB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// User Repository Implementation
func (db *PostgresDB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	query := `SELECT id::text, username, email, is_active, created_at FROM users WHERE id = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Username, &user.Email, &user.IsActive, &user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	return user, nil
}

// Message Repository Implementation
func (db *PostgresDB) SaveMessage(ctx context.Context, roomID, senderID, content string) (*models.Message, error) {
	query := `
		INSERT INTO messages (room_id, sender_id, content)
		VALUES ($1, $2, $3)
		RETURNING id::text, created_at`

	msg := &models.Message{RoomID: roomID, SenderID: senderID, Content: content}
	if err := db.pool.QueryRow(ctx, query, roomID, senderID, content).Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	msg.CreatedAt = msg.CreatedAt.UTC()

	return msg, nil
}
