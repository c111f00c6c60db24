package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"maaspace/internal/models"
	"maaspace/internal/reply"
	"maaspace/internal/storage"
	"maaspace/internal/storage/storagetest"
)

type fakeProvider struct {
	mu      sync.Mutex
	reply   string
	mood    models.Mood
	err     error
	block   chan struct{}
	entered chan struct{}
	calls   []reply.ChatRequest
}

func (f *fakeProvider) Reply(ctx context.Context, req reply.ChatRequest) (*reply.ChatReply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	block, entered, err := f.block, f.entered, f.err
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &reply.ChatReply{Reply: f.reply, Mood: f.mood}, nil
}

func (f *fakeProvider) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeProvider) lastCall(t *testing.T) reply.ChatRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatalf("provider not called")
	}
	return f.calls[len(f.calls)-1]
}

func fixedClock(hour int) func() time.Time {
	at := time.Date(2024, 6, 1, hour, 30, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func setup(t *testing.T, provider reply.ChatProvider, opts Options) (*Manager, *storage.DB, string) {
	t.Helper()
	db := storagetest.Open(t)
	userID := storagetest.InsertUser(t, db, "chat@example.com")
	if opts.Clock == nil {
		opts.Clock = fixedClock(22)
	}
	return NewManager(NewSQLStore(db), provider, opts, nil), db, userID
}

func countMessages(t *testing.T, db *storage.DB, userID string) int {
	t.Helper()
	var n int
	if err := db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM chat_messages WHERE user_id = ?`, userID).Scan(&n); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	return n
}

func TestSendSuccessfulTurn(t *testing.T) {
	provider := &fakeProvider{reply: "Koi baat nahi meri jaan", mood: models.MoodSad}
	mgr, db, userID := setup(t, provider, Options{})
	ctx := context.Background()

	sess, err := mgr.Session(ctx, userID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	got, err := sess.Send(ctx, "I am so sad today", "")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Role != models.RoleAssistant || got.Content != "Koi baat nahi meri jaan" {
		t.Fatalf("unexpected reply %+v", got)
	}
	if got.Mood == nil || *got.Mood != models.MoodSad {
		t.Fatalf("assistant mood not recorded")
	}
	if got.IsNightMode == nil || !*got.IsNightMode {
		t.Fatalf("22:30 should be night mode")
	}

	call := provider.lastCall(t)
	if call.Nickname != "beta" || call.Mood != models.MoodNeutral || call.Message != "I am so sad today" {
		t.Fatalf("unexpected provider request %+v", call)
	}

	snap := sess.Snapshot()
	if len(snap.Messages) != 2 || snap.Mood != models.MoodSad || snap.State != StateIdle {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	user := snap.Messages[0]
	if user.Role != models.RoleUser || user.Mood != nil {
		t.Fatalf("user turn should carry no mood: %+v", user)
	}
	if !snap.Messages[1].CreatedAt.After(user.CreatedAt) {
		t.Fatalf("assistant turn must sort after the user turn")
	}
	if n := countMessages(t, db, userID); n != 2 {
		t.Fatalf("expected 2 persisted turns, got %d", n)
	}

	if _, err := sess.Send(ctx, "exam kal hai", "Riya"); err != nil {
		t.Fatalf("second Send: %v", err)
	}
	call = provider.lastCall(t)
	if call.Mood != models.MoodSad || call.Nickname != "Riya" {
		t.Fatalf("second turn should carry previous mood: %+v", call)
	}
}

func TestSendProviderFailure(t *testing.T) {
	cause := errors.New("gateway down")
	provider := &fakeProvider{reply: "Aa ja beta", mood: models.MoodSad}
	mgr, db, userID := setup(t, provider, Options{Clock: fixedClock(10)})
	ctx := context.Background()
	sess, _ := mgr.Session(ctx, userID)
	if _, err := sess.Send(ctx, "miss you", "Anu"); err != nil {
		t.Fatalf("first Send: %v", err)
	}

	provider.setErr(cause)
	_, err := sess.Send(ctx, "hello mummy", "Anu")
	var turnErr *TurnError
	if !errors.As(err, &turnErr) || turnErr.Stage != StageReply {
		t.Fatalf("expected reply TurnError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not wrapped: %v", err)
	}
	snap := sess.Snapshot()
	if len(snap.Messages) != 3 {
		t.Fatalf("expected two turns plus the failed user turn, got %d", len(snap.Messages))
	}
	last := snap.Messages[2]
	if last.Role != models.RoleUser || last.Content != "hello mummy" {
		t.Fatalf("failed turn should keep only the user message: %+v", last)
	}
	if *last.IsNightMode {
		t.Fatalf("10:30 should not be night mode")
	}
	if snap.Mood != models.MoodSad || snap.State != StateIdle {
		t.Fatalf("mood must survive a failed turn: %+v", snap)
	}
	if n := countMessages(t, db, userID); n != 3 {
		t.Fatalf("expected 3 rows, got %d", n)
	}

	provider.setErr(nil)
	if _, err := sess.Send(ctx, "phir se", "Anu"); err != nil {
		t.Fatalf("retry Send: %v", err)
	}
	if call := provider.lastCall(t); call.Mood != models.MoodSad {
		t.Fatalf("retry should carry the mood from before the failure, got %s", call.Mood)
	}
}

func TestSendRejectsEmpty(t *testing.T) {
	mgr, db, userID := setup(t, &fakeProvider{reply: "x"}, Options{})
	sess, _ := mgr.Session(context.Background(), userID)
	if _, err := sess.Send(context.Background(), "   ", ""); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if n := countMessages(t, db, userID); n != 0 {
		t.Fatalf("nothing should be persisted, got %d", n)
	}
}

func TestSendWhileSendingIsBusy(t *testing.T) {
	provider := &fakeProvider{reply: "ok", block: make(chan struct{}), entered: make(chan struct{}, 1)}
	mgr, db, userID := setup(t, provider, Options{})
	ctx := context.Background()
	sess, _ := mgr.Session(ctx, userID)

	done := make(chan error, 1)
	go func() {
		_, err := sess.Send(ctx, "first", "")
		done <- err
	}()
	<-provider.entered

	if snap := sess.Snapshot(); snap.State != StateSending {
		t.Fatalf("expected sending state, got %s", snap.State)
	}
	if _, err := sess.Send(ctx, "second", ""); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	close(provider.block)
	if err := <-done; err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if n := countMessages(t, db, userID); n != 2 {
		t.Fatalf("busy submission must not persist, got %d rows", n)
	}
	if sess.Snapshot().State != StateIdle {
		t.Fatalf("state should return to idle")
	}
}

func TestSendTimesOut(t *testing.T) {
	provider := &fakeProvider{reply: "late", block: make(chan struct{})}
	mgr, _, userID := setup(t, provider, Options{ReplyTimeout: 20 * time.Millisecond})
	sess, _ := mgr.Session(context.Background(), userID)
	_, err := sess.Send(context.Background(), "hello", "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if sess.Snapshot().State != StateIdle {
		t.Fatalf("state should return to idle after timeout")
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	provider := &fakeProvider{reply: "Waah!", mood: models.MoodHappy}
	mgr, db, userID := setup(t, provider, Options{})
	ctx := context.Background()
	sess, _ := mgr.Session(ctx, userID)
	for _, text := range []string{"one", "two", "three"} {
		if _, err := sess.Send(ctx, text, ""); err != nil {
			t.Fatalf("Send %s: %v", text, err)
		}
	}
	want := sess.Snapshot().Messages

	fresh := NewManager(NewSQLStore(db), provider, Options{Clock: fixedClock(9)}, nil)
	reloaded, err := fresh.Session(ctx, userID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	snap := reloaded.Snapshot()
	if len(snap.Messages) != len(want) {
		t.Fatalf("expected %d turns, got %d", len(want), len(snap.Messages))
	}
	for i := range want {
		got := snap.Messages[i]
		if got.ID != want[i].ID || got.Content != want[i].Content || got.Role != want[i].Role {
			t.Fatalf("turn %d mismatch: %+v vs %+v", i, got, want[i])
		}
		if got.IsNightMode == nil || *got.IsNightMode != *want[i].IsNightMode {
			t.Fatalf("turn %d night flag changed", i)
		}
	}
	if snap.Mood != models.MoodHappy {
		t.Fatalf("mood should be seeded from history, got %s", snap.Mood)
	}
}

func TestHistoryLimit(t *testing.T) {
	provider := &fakeProvider{reply: "ok", mood: models.MoodNeutral}
	mgr, db, userID := setup(t, provider, Options{})
	ctx := context.Background()
	sess, _ := mgr.Session(ctx, userID)
	for _, text := range []string{"a", "b", "c"} {
		if _, err := sess.Send(ctx, text, ""); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	limited := NewManager(NewSQLStore(db), provider, Options{HistoryLimit: 3}, nil)
	s, err := limited.Session(ctx, userID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	msgs := s.Snapshot().Messages
	if len(msgs) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(msgs))
	}
	if msgs[0].Content != "ok" || msgs[1].Content != "c" || msgs[2].Content != "ok" {
		t.Fatalf("expected the latest turns in order, got %q %q %q", msgs[0].Content, msgs[1].Content, msgs[2].Content)
	}
}

func TestClearIsViewOnly(t *testing.T) {
	provider := &fakeProvider{reply: "ok", mood: models.MoodAngry}
	mgr, db, userID := setup(t, provider, Options{})
	ctx := context.Background()
	sess, _ := mgr.Session(ctx, userID)
	if _, err := sess.Send(ctx, "gussa", ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	sess.Clear()
	snap := sess.Snapshot()
	if len(snap.Messages) != 0 || snap.Mood != models.MoodNeutral {
		t.Fatalf("clear should empty view and reset mood: %+v", snap)
	}
	if n := countMessages(t, db, userID); n != 2 {
		t.Fatalf("clear must not delete rows, got %d", n)
	}

	mgr.Reset(userID)
	again, _ := mgr.Session(ctx, userID)
	if len(again.Snapshot().Messages) != 2 {
		t.Fatalf("reset session should reload persisted history")
	}
}

func TestManagerReturnsSameSession(t *testing.T) {
	mgr, _, userID := setup(t, &fakeProvider{reply: "ok"}, Options{})
	ctx := context.Background()
	var wg sync.WaitGroup
	sessions := make([]*Session, 8)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := mgr.Session(ctx, userID)
			if err != nil {
				t.Errorf("Session: %v", err)
				return
			}
			sessions[i] = s
		}(i)
	}
	wg.Wait()
	for _, s := range sessions[1:] {
		if s != sessions[0] {
			t.Fatalf("expected a single session per user")
		}
	}
}

func moodPtr(m models.Mood) *models.Mood { return &m }

func TestHistorySeedsMostRecentMood(t *testing.T) {
	provider := &fakeProvider{reply: "ok", mood: models.MoodNeutral}
	mgr, db, userID := setup(t, provider, Options{})
	ctx := context.Background()
	store := NewSQLStore(db)

	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	turns := []struct {
		role models.Role
		mood *models.Mood
	}{
		{models.RoleAssistant, moodPtr(models.MoodHappy)},
		{models.RoleAssistant, nil},
		{models.RoleAssistant, moodPtr(models.MoodAngry)},
		{models.RoleUser, nil},
	}
	for i, turn := range turns {
		msg := &models.ChatMessage{
			ID:        fmt.Sprintf("seed-%d", i),
			UserID:    userID,
			Role:      turn.role,
			Content:   fmt.Sprintf("turn %d", i),
			Mood:      turn.mood,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Append(ctx, msg); err != nil {
			t.Fatalf("seed turn %d: %v", i, err)
		}
	}

	sess, err := mgr.Session(ctx, userID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if got := sess.Snapshot().Mood; got != models.MoodAngry {
		t.Fatalf("expected mood from the latest mood-carrying turn, got %s", got)
	}
	if _, err := sess.Send(ctx, "sorry mummy", ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if call := provider.lastCall(t); call.Mood != models.MoodAngry {
		t.Fatalf("provider should see the seeded mood, got %s", call.Mood)
	}
}

func TestTranscriptKeepsHistoryLimit(t *testing.T) {
	provider := &fakeProvider{reply: "ok", mood: models.MoodNeutral}
	mgr, db, userID := setup(t, provider, Options{HistoryLimit: 2})
	ctx := context.Background()
	sess, _ := mgr.Session(ctx, userID)
	for _, text := range []string{"a", "b"} {
		if _, err := sess.Send(ctx, text, ""); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	msgs := sess.Snapshot().Messages
	if len(msgs) != 2 || msgs[0].Content != "b" || msgs[1].Content != "ok" {
		t.Fatalf("expected only the newest turns in view, got %+v", msgs)
	}
	if n := countMessages(t, db, userID); n != 4 {
		t.Fatalf("trimming the view must not drop rows, got %d", n)
	}
}

func TestEvictIdleSessions(t *testing.T) {
	var (
		mu  sync.Mutex
		now = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	db := storagetest.Open(t)
	first := storagetest.InsertUser(t, db, "first@example.com")
	second := storagetest.InsertUser(t, db, "second@example.com")
	mgr := NewManager(NewSQLStore(db), &fakeProvider{reply: "ok"}, Options{Clock: clock, IdleTimeout: time.Hour}, nil)
	ctx := context.Background()

	if _, err := mgr.Session(ctx, first); err != nil {
		t.Fatalf("Session: %v", err)
	}
	advance(50 * time.Minute)
	if _, err := mgr.Session(ctx, second); err != nil {
		t.Fatalf("Session: %v", err)
	}
	advance(20 * time.Minute)

	if n := mgr.Evict(); n != 1 {
		t.Fatalf("expected 1 evicted session, got %d", n)
	}
	mgr.mu.Lock()
	_, firstKept := mgr.sessions[first]
	_, secondKept := mgr.sessions[second]
	mgr.mu.Unlock()
	if firstKept || !secondKept {
		t.Fatalf("wrong session evicted: first=%v second=%v", firstKept, secondKept)
	}
}

func TestTimestampBumpKeepsClockZone(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	at := time.Date(2024, 6, 1, 22, 30, 0, 0, ist)
	provider := &fakeProvider{reply: "so ja beta", mood: models.MoodNeutral}
	mgr, db, userID := setup(t, provider, Options{Clock: func() time.Time { return at }})
	ctx := context.Background()

	// a stored turn slightly ahead of the clock forces the bump path
	if err := NewSQLStore(db).Append(ctx, &models.ChatMessage{
		ID:        "ahead",
		UserID:    userID,
		Role:      models.RoleAssistant,
		Content:   "earlier",
		CreatedAt: at.Add(time.Second).UTC(),
	}); err != nil {
		t.Fatalf("seed turn: %v", err)
	}

	sess, _ := mgr.Session(ctx, userID)
	got, err := sess.Send(ctx, "neend nahi aa rahi", "")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.IsNightMode == nil || !*got.IsNightMode {
		t.Fatalf("22:30 local should be night mode even when the timestamp is bumped")
	}
}
