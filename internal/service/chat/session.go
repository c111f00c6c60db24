package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"maaspace/internal/logger"
	"maaspace/internal/models"
	"maaspace/internal/nightmode"
	"maaspace/internal/reply"
)

var (
	ErrEmptyMessage = errors.New("message cannot be empty")
	ErrBusy         = errors.New("a message is already being sent")
)

// State is the orchestrator's send state.
type State string

const (
	StateIdle    State = "idle"
	StateSending State = "sending"
)

// Turn stages reported by TurnError.
const (
	StagePersistUser  = "persist_user"
	StageReply        = "reply"
	StagePersistReply = "persist_reply"
)

// TurnError reports which step of a turn failed. The user turn is kept
// whenever Stage is past StagePersistUser.
type TurnError struct {
	Stage string
	Err   error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("chat turn failed at %s: %v", e.Stage, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	Messages []models.ChatMessage `json:"messages"`
	Mood     models.Mood          `json:"mood"`
	State    State                `json:"state"`
}

// Session is one user's conversation with Maa. Turns run one at a time.
type Session struct {
	userID   string
	store    Store
	provider reply.ChatProvider
	clock    func() time.Time
	night    nightmode.Window
	timeout  time.Duration
	limit    int
	log      *logger.Logger

	mu         sync.Mutex
	transcript []models.ChatMessage
	mood       models.Mood
	state      State
	lastAt     time.Time
	lastUsed   time.Time
}

func (s *Session) load(ctx context.Context, limit int) error {
	history, err := s.store.Recent(ctx, s.userID, limit)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = history
	s.mood = models.MoodNeutral
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Mood != nil {
			s.mood = *history[i].Mood
			break
		}
	}
	if n := len(history); n > 0 {
		s.lastAt = history[n-1].CreatedAt
	}
	return nil
}

// Send runs one turn: persist the user's message, ask Maa, persist her
// answer. It returns the assistant turn.
func (s *Session) Send(ctx context.Context, text, nickname string) (*models.ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	s.mu.Lock()
	if s.state == StateSending {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.state = StateSending
	prevMood := s.mood
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
	}()

	if nickname == "" {
		nickname = models.DefaultNickname
	}
	if prevMood == "" {
		prevMood = models.MoodNeutral
	}

	now := s.nextTimestamp()
	night := s.night.At(now)
	userTurn := models.ChatMessage{
		ID:          uuid.NewString(),
		UserID:      s.userID,
		Role:        models.RoleUser,
		Content:     text,
		IsNightMode: &night,
		CreatedAt:   now.UTC(),
	}
	if err := s.store.Append(ctx, &userTurn); err != nil {
		s.log.Error("persist user turn failed", "user_id", s.userID, "error", err)
		return nil, &TurnError{Stage: StagePersistUser, Err: err}
	}
	s.mu.Lock()
	s.appendLocked(userTurn)
	s.mu.Unlock()

	replyCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		replyCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	out, err := s.provider.Reply(replyCtx, reply.ChatRequest{Message: text, Nickname: nickname, Mood: prevMood})
	if err != nil {
		s.log.Warn("reply provider failed", "user_id", s.userID, "error", err)
		return nil, &TurnError{Stage: StageReply, Err: err}
	}

	mood := out.Mood
	if mood == "" {
		mood = models.MoodNeutral
	}
	assistantTurn := models.ChatMessage{
		ID:          uuid.NewString(),
		UserID:      s.userID,
		Role:        models.RoleAssistant,
		Content:     out.Reply,
		Mood:        &mood,
		IsNightMode: &night,
		CreatedAt:   s.nextTimestamp().UTC(),
	}
	if err := s.store.Append(ctx, &assistantTurn); err != nil {
		s.log.Error("persist assistant turn failed", "user_id", s.userID, "error", err)
		return nil, &TurnError{Stage: StagePersistReply, Err: err}
	}

	s.mu.Lock()
	s.appendLocked(assistantTurn)
	s.mood = mood
	s.mu.Unlock()
	return &assistantTurn, nil
}

// nextTimestamp keeps created_at strictly increasing within the session so
// turns written in the same microsecond still sort in order.
func (s *Session) nextTimestamp() time.Time {
	now := s.clock().Truncate(time.Microsecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !now.After(s.lastAt) {
		now = s.lastAt.Add(time.Microsecond).In(now.Location())
	}
	s.lastAt = now
	return now
}

// appendLocked adds a turn and keeps only the newest limit turns in view;
// s.mu must be held.
func (s *Session) appendLocked(turn models.ChatMessage) {
	s.transcript = append(s.transcript, turn)
	if s.limit > 0 && len(s.transcript) > s.limit {
		kept := make([]models.ChatMessage, s.limit)
		copy(kept, s.transcript[len(s.transcript)-s.limit:])
		s.transcript = kept
	}
}

func (s *Session) touch(at time.Time) {
	s.mu.Lock()
	s.lastUsed = at
	s.mu.Unlock()
}

// idleSince reports whether the session has been unused since before
// cutoff and is not mid-turn.
func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StateSending && s.lastUsed.Before(cutoff)
}

// Clear hides the transcript and resets the mood. Persisted turns stay.
func (s *Session) Clear() {
	s.mu.Lock()
	s.transcript = nil
	s.mood = models.MoodNeutral
	s.mu.Unlock()
}

// Snapshot copies the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]models.ChatMessage, len(s.transcript))
	copy(msgs, s.transcript)
	return Snapshot{Messages: msgs, Mood: s.mood, State: s.state}
}
