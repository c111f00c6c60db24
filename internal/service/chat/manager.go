package chat

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"maaspace/internal/logger"
	"maaspace/internal/nightmode"
	"maaspace/internal/reply"
)

const (
	DefaultHistoryLimit = 100
	DefaultIdleTimeout  = time.Hour
)

// Options tune every session a Manager creates.
type Options struct {
	HistoryLimit int
	ReplyTimeout time.Duration
	Night        nightmode.Window
	// Clock returns the current local time; night mode uses its hour.
	Clock func() time.Time
	// IdleTimeout is how long an unused session stays in memory.
	IdleTimeout time.Duration
}

// Manager owns one Session per user and loads it on first use.
type Manager struct {
	store    Store
	provider reply.ChatProvider
	opts     Options
	log      *logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	loads    singleflight.Group
}

func NewManager(store Store, provider reply.ChatProvider, opts Options, log *logger.Logger) *Manager {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Night == (nightmode.Window{}) {
		opts.Night = nightmode.Default
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		store:    store,
		provider: provider,
		opts:     opts,
		log:      log.With("service", "chat"),
		sessions: make(map[string]*Session),
	}
}

// Session returns the user's session, loading recent history when it is not
// in memory yet. Concurrent first calls share one load.
func (m *Manager) Session(ctx context.Context, userID string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[userID]; ok {
		m.mu.Unlock()
		s.touch(m.opts.Clock())
		return s, nil
	}
	m.mu.Unlock()

	v, err, _ := m.loads.Do(userID, func() (interface{}, error) {
		m.mu.Lock()
		if s, ok := m.sessions[userID]; ok {
			m.mu.Unlock()
			return s, nil
		}
		m.mu.Unlock()

		s := &Session{
			userID:   userID,
			store:    m.store,
			provider: m.provider,
			clock:    m.opts.Clock,
			night:    m.opts.Night,
			timeout:  m.opts.ReplyTimeout,
			limit:    m.opts.HistoryLimit,
			log:      m.log,
			state:    StateIdle,
			lastUsed: m.opts.Clock(),
		}
		if err := s.load(ctx, m.opts.HistoryLimit); err != nil {
			m.log.Error("load chat history failed", "user_id", userID, "error", err)
			return nil, err
		}
		m.mu.Lock()
		m.sessions[userID] = s
		m.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	s := v.(*Session)
	s.touch(m.opts.Clock())
	return s, nil
}

// Reset drops the in-memory session, e.g. on logout.
func (m *Manager) Reset(userID string) {
	m.mu.Lock()
	delete(m.sessions, userID)
	m.mu.Unlock()
}

// Evict drops sessions unused for longer than the idle timeout and reports
// how many were dropped. Their history reloads on the next request.
func (m *Manager) Evict() int {
	cutoff := m.opts.Clock().Add(-m.opts.IdleTimeout)
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for userID, s := range m.sessions {
		if s.idleSince(cutoff) {
			delete(m.sessions, userID)
			evicted++
		}
	}
	return evicted
}

// StartJanitor runs Evict every interval until ctx is done.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = m.opts.IdleTimeout
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.Evict(); n > 0 {
					m.log.Debug("evicted idle chat sessions", "count", n)
				}
			}
		}
	}()
}
