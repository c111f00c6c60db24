package chat

import (
	"context"
	"database/sql"
	"fmt"

	"maaspace/internal/models"
	"maaspace/internal/storage"
)

// Store persists chat turns.
type Store interface {
	// Recent returns up to limit turns for userID, oldest first.
	Recent(ctx context.Context, userID string, limit int) ([]models.ChatMessage, error)
	Append(ctx context.Context, msg *models.ChatMessage) error
}

// SQLStore keeps turns in the chat_messages table.
type SQLStore struct {
	db *storage.DB
}

func NewSQLStore(db *storage.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Recent(ctx context.Context, userID string, limit int) ([]models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, role, content, mood_detected, is_night_mode, created_at
		 FROM chat_messages WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query chat history: %w", err)
	}
	defer rows.Close()

	var out []models.ChatMessage
	for rows.Next() {
		var (
			msg   models.ChatMessage
			mood  sql.NullString
			night sql.NullBool
		)
		if err := rows.Scan(&msg.ID, &msg.UserID, &msg.Role, &msg.Content, &mood, &night, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		if mood.Valid {
			m := models.Mood(mood.String)
			msg.Mood = &m
		}
		if night.Valid {
			n := night.Bool
			msg.IsNightMode = &n
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat history: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLStore) Append(ctx context.Context, msg *models.ChatMessage) error {
	var mood, night any
	if msg.Mood != nil {
		mood = string(*msg.Mood)
	}
	if msg.IsNightMode != nil {
		night = *msg.IsNightMode
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, user_id, role, content, mood_detected, is_night_mode, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.UserID, msg.Role, msg.Content, mood, night, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}
