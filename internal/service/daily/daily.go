package daily

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	dailymsg "maaspace/internal/daily"
	"maaspace/internal/logger"
	"maaspace/internal/models"
	"maaspace/internal/redis"
	"maaspace/internal/storage"
)

const (
	cachePrefix = "daily:"
	cacheTTL    = 36 * time.Hour
)

// ProfileSource supplies the nickname and birthday used in the greeting.
type ProfileSource interface {
	Profile(ctx context.Context, userID string) (*models.Profile, error)
}

// Service returns one stable greeting per user and calendar day.
type Service struct {
	db       *storage.DB
	cache    *redis.Client
	profiles ProfileSource
	selector dailymsg.Selector
	clock    func() time.Time
	log      *logger.Logger
	group    singleflight.Group
}

// NewService wires the daily message service. cache may be nil.
func NewService(db *storage.DB, cache *redis.Client, profiles ProfileSource, selector dailymsg.Selector, clock func() time.Time, log *logger.Logger) *Service {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		db:       db,
		cache:    cache,
		profiles: profiles,
		selector: selector,
		clock:    clock,
		log:      log.With("service", "daily"),
	}
}

// Today returns the stored message for the current local date, creating it
// on first request. Every caller for the same user and day sees one row.
func (s *Service) Today(ctx context.Context, userID string) (*models.DailyMessage, error) {
	now := s.clock()
	date := now.Format(models.DateLayout)
	key := cachePrefix + userID + ":" + date

	if cached, ok := s.fromCache(ctx, key); ok {
		return cached, nil
	}

	v, err, _ := s.group.Do(userID+":"+date, func() (interface{}, error) {
		msg, err := s.find(ctx, userID, date)
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		profile, err := s.profiles.Profile(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load profile: %w", err)
		}
		text, tag := s.selector.Select(now, profile.Birthday(), profile.DisplayNickname())
		insert := s.db.Dialect().InsertIfAbsent("daily_messages",
			[]string{"user_id", "message_date", "message_content", "context_type", "created_at"},
			[]string{"user_id", "message_date"},
		)
		if _, err := s.db.ExecContext(ctx, insert, userID, date, text, tag, now.UTC()); err != nil {
			return nil, fmt.Errorf("insert daily message: %w", err)
		}
		return s.find(ctx, userID, date)
	})
	if err != nil {
		s.log.Error("daily message failed", "user_id", userID, "date", date, "error", err)
		return nil, err
	}
	msg := v.(*models.DailyMessage)
	s.toCache(ctx, key, msg)
	return msg, nil
}

func (s *Service) find(ctx context.Context, userID, date string) (*models.DailyMessage, error) {
	var msg models.DailyMessage
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, message_date, message_content, context_type, created_at
		 FROM daily_messages WHERE user_id = ? AND message_date = ?`,
		userID, date,
	).Scan(&msg.UserID, &msg.MessageDate, &msg.Content, &msg.ContextType, &msg.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("query daily message: %w", err)
	}
	return &msg, nil
}

func (s *Service) fromCache(ctx context.Context, key string) (*models.DailyMessage, bool) {
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			s.log.Warn("daily cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	var msg models.DailyMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, false
	}
	return &msg, true
}

func (s *Service) toCache(ctx context.Context, key string, msg *models.DailyMessage) {
	if !s.cache.Enabled() {
		return
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, cacheTTL); err != nil {
		s.log.Warn("daily cache write failed", "key", key, "error", err)
	}
}
