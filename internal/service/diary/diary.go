package diary

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"maaspace/internal/logger"
	"maaspace/internal/models"
	"maaspace/internal/reply"
	"maaspace/internal/service"
	"maaspace/internal/storage"
	"maaspace/internal/worker"
)

var ErrInvalidEntryType = fmt.Errorf("%w: entry type must be diary, best_part or worst_part", service.ErrInvalidInput)

const defaultReplyTimeout = 30 * time.Second

// Submitter queues background jobs; *worker.Dispatcher satisfies it.
type Submitter interface {
	Submit(job worker.Job) error
	CancelUser(userID string)
}

// Service stores diary entries and daily tasks.
type Service struct {
	db           *storage.DB
	provider     reply.DiaryProvider
	jobs         Submitter
	replyTimeout time.Duration
	now          func() time.Time
	log          *logger.Logger
}

func NewService(db *storage.DB, provider reply.DiaryProvider, jobs Submitter, replyTimeout time.Duration, log *logger.Logger) *Service {
	if replyTimeout <= 0 {
		replyTimeout = defaultReplyTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		db:           db,
		provider:     provider,
		jobs:         jobs,
		replyTimeout: replyTimeout,
		now:          time.Now,
		log:          log.With("service", "diary"),
	}
}

func parseDate(date string) (string, error) {
	date = strings.TrimSpace(date)
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		return "", fmt.Errorf("%w: date must be YYYY-MM-DD", service.ErrInvalidInput)
	}
	return date, nil
}

const entryColumns = `id, user_id, entry_type, content, entry_date, maa_reply, maa_reply_requested, created_at, updated_at`

func scanEntry(row interface{ Scan(...any) error }) (*models.DiaryEntry, error) {
	var (
		entry    models.DiaryEntry
		maaReply sql.NullString
	)
	if err := row.Scan(&entry.ID, &entry.UserID, &entry.EntryType, &entry.Content, &entry.EntryDate,
		&maaReply, &entry.MaaReplyRequested, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		return nil, err
	}
	if maaReply.Valid {
		entry.MaaReply = &maaReply.String
	}
	return &entry, nil
}

// ListDay returns the entries written on date.
func (s *Service) ListDay(ctx context.Context, userID, date string) ([]models.DiaryEntry, error) {
	date, err := parseDate(date)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM diary_entries WHERE user_id = ? AND entry_date = ? ORDER BY created_at`,
		userID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("query diary entries: %w", err)
	}
	defer rows.Close()

	entries := make([]models.DiaryEntry, 0, 3)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan diary entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diary entries: %w", err)
	}
	return entries, nil
}

// SaveEntry writes the slot (date, type), replacing the content of an
// existing entry.
func (s *Service) SaveEntry(ctx context.Context, userID string, entryType models.EntryType, content, date string) (*models.DiaryEntry, error) {
	if !entryType.Valid() {
		return nil, ErrInvalidEntryType
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", service.ErrInvalidInput)
	}
	date, err := parseDate(date)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	upsert := s.db.Dialect().Upsert("diary_entries",
		[]string{"id", "user_id", "entry_type", "content", "entry_date", "maa_reply_requested", "created_at", "updated_at"},
		[]string{"user_id", "entry_date", "entry_type"},
		[]string{"content", "updated_at"},
	)
	if _, err := s.db.ExecContext(ctx, upsert, uuid.NewString(), userID, entryType, content, date, false, now, now); err != nil {
		return nil, fmt.Errorf("save diary entry: %w", err)
	}

	entry, err := scanEntry(s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM diary_entries WHERE user_id = ? AND entry_date = ? AND entry_type = ?`,
		userID, date, entryType,
	))
	if err != nil {
		return nil, fmt.Errorf("load diary entry: %w", err)
	}
	return entry, nil
}

// Entry returns one entry owned by userID.
func (s *Service) Entry(ctx context.Context, userID, id string) (*models.DiaryEntry, error) {
	entry, err := scanEntry(s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM diary_entries WHERE id = ? AND user_id = ?`, id, userID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, service.ErrNotFound
		}
		return nil, fmt.Errorf("query diary entry: %w", err)
	}
	return entry, nil
}

func (s *Service) DeleteEntry(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM diary_entries WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete diary entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return service.ErrNotFound
	}
	return nil
}

// RequestReply flags the entry and queues Maa's answer. The flag stays set
// when the reply fails so the request can be repeated.
func (s *Service) RequestReply(ctx context.Context, userID, id, nickname string) error {
	entry, err := s.Entry(ctx, userID, id)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE diary_entries SET maa_reply_requested = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		true, s.now().UTC(), id, userID,
	); err != nil {
		return fmt.Errorf("flag diary reply: %w", err)
	}

	req := reply.DiaryRequest{EntryType: entry.EntryType, Content: entry.Content, Nickname: nickname}
	err = s.jobs.Submit(worker.Job{
		UserID: userID,
		Name:   "diary-reply",
		Fn: func(ctx context.Context) {
			s.writeReply(ctx, userID, id, req)
		},
	})
	if err != nil {
		s.log.Warn("diary reply not queued", "user_id", userID, "entry_id", id, "error", err)
		return err
	}
	return nil
}

// CancelPending drops the user's queued reply jobs, e.g. before the account
// is deleted. A reply already being written finishes.
func (s *Service) CancelPending(userID string) {
	s.jobs.CancelUser(userID)
}

func (s *Service) writeReply(ctx context.Context, userID, id string, req reply.DiaryRequest) {
	ctx, cancel := context.WithTimeout(ctx, s.replyTimeout)
	defer cancel()

	resp, err := s.provider.DiaryReply(ctx, req)
	if err != nil {
		s.log.Error("diary reply failed", "user_id", userID, "entry_id", id, "error", err)
		return
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE diary_entries SET maa_reply = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		resp.Reply, s.now().UTC(), id, userID,
	); err != nil {
		s.log.Error("store diary reply failed", "user_id", userID, "entry_id", id, "error", err)
		return
	}
	s.log.Debug("diary reply stored", "user_id", userID, "entry_id", id)
}
