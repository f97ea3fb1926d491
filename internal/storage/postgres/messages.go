package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Message is one chat message in a conversation.
type Message struct {
	ID             int64
	ConversationID string
	UserID         string
	Username       string
	Body           string
	CreatedAt      time.Time
}

// MessageRepository provides chat message persistence.
type MessageRepository struct {
	db *pgxpool.Pool
}

// NewMessageRepository creates a MessageRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create inserts a message and returns it with ID and CreatedAt set.
//
// Precondition: conversationID, userID, username, and body must be non-empty.
func (r *MessageRepository) Create(ctx context.Context, conversationID, userID, username, body string) (Message, error) {
	var msg Message
	err := r.db.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, user_id, username, body)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, conversation_id, user_id, username, body, created_at`,
		conversationID, userID, username, body,
	).Scan(&msg.ID, &msg.ConversationID, &msg.UserID, &msg.Username, &msg.Body, &msg.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("inserting message: %w", err)
	}
	return msg, nil
}

// ListByConversation returns a conversation's messages oldest-first, capped at
// limit. A non-positive limit falls back to 100.
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, conversation_id, user_id, username, body, created_at
		 FROM messages
		 WHERE conversation_id = $1
		 ORDER BY created_at ASC, id ASC
		 LIMIT $2`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var msg Message
		err := row.Scan(&msg.ID, &msg.ConversationID, &msg.UserID, &msg.Username, &msg.Body, &msg.CreatedAt)
		return msg, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning messages: %w", err)
	}
	return msgs, nil
}
