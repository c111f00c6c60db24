package prayer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"maaspace/internal/models"
	"maaspace/internal/service"
	"maaspace/internal/storage"
)

const DefaultLimit = 50

// Service keeps the append-only prayer log.
type Service struct {
	db  *storage.DB
	now func() time.Time
}

func NewService(db *storage.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// List returns up to limit prayers, newest first.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]models.Prayer, error) {
	if limit <= 0 || limit > DefaultLimit {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, prayer_content, created_at FROM prayers
		 WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query prayers: %w", err)
	}
	defer rows.Close()

	prayers := make([]models.Prayer, 0)
	for rows.Next() {
		var p models.Prayer
		if err := rows.Scan(&p.ID, &p.UserID, &p.Content, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan prayer: %w", err)
		}
		prayers = append(prayers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prayers: %w", err)
	}
	return prayers, nil
}

func (s *Service) Save(ctx context.Context, userID, content string) (*models.Prayer, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: prayer is empty", service.ErrInvalidInput)
	}
	p := &models.Prayer{
		ID:        uuid.NewString(),
		UserID:    userID,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO prayers (id, user_id, prayer_content, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.UserID, p.Content, p.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert prayer: %w", err)
	}
	return p, nil
}

func (s *Service) Delete(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM prayers WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete prayer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return service.ErrNotFound
	}
	return nil
}
