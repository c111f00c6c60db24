package diary

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"maaspace/internal/models"
	"maaspace/internal/service"
)

const timeLayout = "15:04"

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	var (
		task      models.Task
		scheduled sql.NullString
	)
	if err := row.Scan(&task.ID, &task.UserID, &task.Title, &task.TaskDate, &scheduled, &task.IsCompleted, &task.CreatedAt); err != nil {
		return nil, err
	}
	if scheduled.Valid {
		task.ScheduledTime = &scheduled.String
	}
	return &task, nil
}

// ListTasks returns the tasks planned for date, timed ones first.
func (s *Service) ListTasks(ctx context.Context, userID, date string) ([]models.Task, error) {
	date, err := parseDate(date)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, task_date, scheduled_time, is_completed, created_at
		 FROM user_tasks WHERE user_id = ? AND task_date = ?
		 ORDER BY CASE WHEN scheduled_time IS NULL THEN 1 ELSE 0 END, scheduled_time, created_at`,
		userID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]models.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// AddTask plans a task for date. scheduledTime, when set, must be HH:MM.
func (s *Service) AddTask(ctx context.Context, userID, title, date string, scheduledTime *string) (*models.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", service.ErrInvalidInput)
	}
	date, err := parseDate(date)
	if err != nil {
		return nil, err
	}
	var scheduled *string
	if scheduledTime != nil && strings.TrimSpace(*scheduledTime) != "" {
		at, err := time.Parse(timeLayout, strings.TrimSpace(*scheduledTime))
		if err != nil {
			return nil, fmt.Errorf("%w: scheduled_time must be HH:MM", service.ErrInvalidInput)
		}
		formatted := at.Format(timeLayout)
		scheduled = &formatted
	}

	task := &models.Task{
		ID:            uuid.NewString(),
		UserID:        userID,
		Title:         title,
		TaskDate:      date,
		ScheduledTime: scheduled,
		CreatedAt:     s.now().UTC(),
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO user_tasks (id, user_id, title, task_date, scheduled_time, is_completed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.UserID, task.Title, task.TaskDate, task.ScheduledTime, false, task.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

// ToggleTask sets the completion flag.
func (s *Service) ToggleTask(ctx context.Context, userID, id string, done bool) (*models.Task, error) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE user_tasks SET is_completed = ? WHERE id = ? AND user_id = ?`, done, id, userID,
	); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	task, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, task_date, scheduled_time, is_completed, created_at
		 FROM user_tasks WHERE id = ? AND user_id = ?`, id, userID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, service.ErrNotFound
		}
		return nil, fmt.Errorf("load task: %w", err)
	}
	return task, nil
}

func (s *Service) DeleteTask(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_tasks WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return service.ErrNotFound
	}
	return nil
}
