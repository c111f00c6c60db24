package diary

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maaspace/internal/models"
	"maaspace/internal/reply"
	"maaspace/internal/service"
	"maaspace/internal/storage"
	"maaspace/internal/storage/storagetest"
	"maaspace/internal/worker"
)

type fakeDiaryProvider struct {
	mu    sync.Mutex
	reply string
	err   error
	calls []reply.DiaryRequest
}

func (f *fakeDiaryProvider) DiaryReply(ctx context.Context, req reply.DiaryRequest) (*reply.DiaryReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &reply.DiaryReply{Reply: f.reply}, nil
}

// inlineJobs runs every job on the caller goroutine.
type inlineJobs struct {
	err error
}

func (j inlineJobs) Submit(job worker.Job) error {
	if j.err != nil {
		return j.err
	}
	job.Fn(context.Background())
	return nil
}

func (inlineJobs) CancelUser(string) {}

// heldJobs keeps jobs until run is called.
type heldJobs struct {
	mu   sync.Mutex
	jobs []worker.Job
}

func (h *heldJobs) Submit(job worker.Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs = append(h.jobs, job)
	return nil
}

func (h *heldJobs) CancelUser(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.jobs[:0]
	for _, job := range h.jobs {
		if job.UserID != userID {
			kept = append(kept, job)
		}
	}
	h.jobs = kept
}

func (h *heldJobs) run() {
	h.mu.Lock()
	jobs := h.jobs
	h.jobs = nil
	h.mu.Unlock()
	for _, job := range jobs {
		job.Fn(context.Background())
	}
}

func setup(t *testing.T, provider reply.DiaryProvider, jobs Submitter) (*Service, *storage.DB, string) {
	t.Helper()
	db := storagetest.Open(t)
	userID := storagetest.InsertUser(t, db, "diary@example.com")
	return NewService(db, provider, jobs, time.Second, nil), db, userID
}

func TestSaveEntryUpdatesSlot(t *testing.T) {
	svc, _, userID := setup(t, &fakeDiaryProvider{}, inlineJobs{})
	ctx := context.Background()

	first, err := svc.SaveEntry(ctx, userID, models.EntryDiary, "aaj college gayi", "2024-06-01")
	require.NoError(t, err)
	second, err := svc.SaveEntry(ctx, userID, models.EntryDiary, "  aaj college gayi, phir movie  ", "2024-06-01")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "aaj college gayi, phir movie", second.Content)

	_, err = svc.SaveEntry(ctx, userID, models.EntryBestPart, "chai", "2024-06-01")
	require.NoError(t, err)

	entries, err := svc.ListDay(ctx, userID, "2024-06-01")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	other, err := svc.ListDay(ctx, userID, "2024-06-02")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSaveEntryValidation(t *testing.T) {
	svc, _, userID := setup(t, &fakeDiaryProvider{}, inlineJobs{})
	ctx := context.Background()

	_, err := svc.SaveEntry(ctx, userID, models.EntryType("poem"), "x", "2024-06-01")
	assert.ErrorIs(t, err, ErrInvalidEntryType)
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = svc.SaveEntry(ctx, userID, models.EntryDiary, "   ", "2024-06-01")
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = svc.SaveEntry(ctx, userID, models.EntryDiary, "ok", "01/06/2024")
	assert.ErrorIs(t, err, service.ErrInvalidInput)
}

func TestConcurrentSavesKeepOneRow(t *testing.T) {
	svc, db, userID := setup(t, &fakeDiaryProvider{}, inlineJobs{})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.SaveEntry(ctx, userID, models.EntryWorstPart, "traffic", "2024-06-01"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var n int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM diary_entries WHERE user_id = ? AND entry_date = ? AND entry_type = ?`,
		userID, "2024-06-01", models.EntryWorstPart,
	).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestDeleteEntry(t *testing.T) {
	svc, _, userID := setup(t, &fakeDiaryProvider{}, inlineJobs{})
	ctx := context.Background()

	entry, err := svc.SaveEntry(ctx, userID, models.EntryDiary, "hello", "2024-06-01")
	require.NoError(t, err)
	require.NoError(t, svc.DeleteEntry(ctx, userID, entry.ID))
	assert.ErrorIs(t, svc.DeleteEntry(ctx, userID, entry.ID), service.ErrNotFound)
}

func TestEntryIsScopedToOwner(t *testing.T) {
	svc, db, userID := setup(t, &fakeDiaryProvider{}, inlineJobs{})
	ctx := context.Background()
	other := storagetest.InsertUser(t, db, "other@example.com")

	entry, err := svc.SaveEntry(ctx, userID, models.EntryDiary, "mine", "2024-06-01")
	require.NoError(t, err)

	_, err = svc.Entry(ctx, other, entry.ID)
	assert.ErrorIs(t, err, service.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteEntry(ctx, other, entry.ID), service.ErrNotFound)
}

func TestRequestReplyStoresAnswer(t *testing.T) {
	provider := &fakeDiaryProvider{reply: "Shabash beta! 💕"}
	svc, _, userID := setup(t, provider, inlineJobs{})
	ctx := context.Background()

	entry, err := svc.SaveEntry(ctx, userID, models.EntryBestPart, "topper bani", "2024-06-01")
	require.NoError(t, err)
	require.NoError(t, svc.RequestReply(ctx, userID, entry.ID, "guddu"))

	got, err := svc.Entry(ctx, userID, entry.ID)
	require.NoError(t, err)
	assert.True(t, got.MaaReplyRequested)
	require.NotNil(t, got.MaaReply)
	assert.Equal(t, "Shabash beta! 💕", *got.MaaReply)

	require.Len(t, provider.calls, 1)
	assert.Equal(t, reply.DiaryRequest{EntryType: models.EntryBestPart, Content: "topper bani", Nickname: "guddu"}, provider.calls[0])
}

func TestRequestReplyFailureKeepsFlag(t *testing.T) {
	provider := &fakeDiaryProvider{err: reply.ErrRateLimited}
	svc, _, userID := setup(t, provider, inlineJobs{})
	ctx := context.Background()

	entry, err := svc.SaveEntry(ctx, userID, models.EntryDiary, "thak gayi", "2024-06-01")
	require.NoError(t, err)
	require.NoError(t, svc.RequestReply(ctx, userID, entry.ID, ""))

	got, err := svc.Entry(ctx, userID, entry.ID)
	require.NoError(t, err)
	assert.True(t, got.MaaReplyRequested)
	assert.Nil(t, got.MaaReply)
}

func TestRequestReplyBusy(t *testing.T) {
	svc, _, userID := setup(t, &fakeDiaryProvider{}, inlineJobs{err: worker.ErrDispatcherBusy})
	ctx := context.Background()

	entry, err := svc.SaveEntry(ctx, userID, models.EntryDiary, "hi", "2024-06-01")
	require.NoError(t, err)
	err = svc.RequestReply(ctx, userID, entry.ID, "")
	assert.True(t, errors.Is(err, worker.ErrDispatcherBusy))

	assert.ErrorIs(t, svc.RequestReply(ctx, userID, "missing", ""), service.ErrNotFound)
}

func TestRequestReplyThroughDispatcher(t *testing.T) {
	provider := &fakeDiaryProvider{reply: "Maa is proud"}
	dispatcher := worker.NewDispatcher(1, 2, 8, time.Minute, nil)
	defer dispatcher.Stop()
	svc, _, userID := setup(t, provider, dispatcher)
	ctx := context.Background()

	entry, err := svc.SaveEntry(ctx, userID, models.EntryDiary, "exam done", "2024-06-01")
	require.NoError(t, err)
	require.NoError(t, svc.RequestReply(ctx, userID, entry.ID, "beta"))

	require.Eventually(t, func() bool {
		got, err := svc.Entry(ctx, userID, entry.ID)
		return err == nil && got.MaaReply != nil && *got.MaaReply == "Maa is proud"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTasks(t *testing.T) {
	svc, _, userID := setup(t, &fakeDiaryProvider{}, inlineJobs{})
	ctx := context.Background()

	at := "9:05"
	timed, err := svc.AddTask(ctx, userID, "gym", "2024-06-01", &at)
	require.NoError(t, err)
	require.NotNil(t, timed.ScheduledTime)
	assert.Equal(t, "09:05", *timed.ScheduledTime)

	untimed, err := svc.AddTask(ctx, userID, "read", "2024-06-01", nil)
	require.NoError(t, err)
	assert.Nil(t, untimed.ScheduledTime)

	bad := "25:00"
	_, err = svc.AddTask(ctx, userID, "late", "2024-06-01", &bad)
	assert.ErrorIs(t, err, service.ErrInvalidInput)
	_, err = svc.AddTask(ctx, userID, " ", "2024-06-01", nil)
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	tasks, err := svc.ListTasks(ctx, userID, "2024-06-01")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, timed.ID, tasks[0].ID)

	done, err := svc.ToggleTask(ctx, userID, untimed.ID, true)
	require.NoError(t, err)
	assert.True(t, done.IsCompleted)
	again, err := svc.ToggleTask(ctx, userID, untimed.ID, true)
	require.NoError(t, err)
	assert.True(t, again.IsCompleted)

	_, err = svc.ToggleTask(ctx, userID, "missing", true)
	assert.ErrorIs(t, err, service.ErrNotFound)

	require.NoError(t, svc.DeleteTask(ctx, userID, timed.ID))
	assert.ErrorIs(t, svc.DeleteTask(ctx, userID, timed.ID), service.ErrNotFound)
}

func TestCancelPendingDropsQueuedReplies(t *testing.T) {
	provider := &fakeDiaryProvider{reply: "Maa is here"}
	jobs := &heldJobs{}
	svc, _, userID := setup(t, provider, jobs)
	ctx := context.Background()

	entry, err := svc.SaveEntry(ctx, userID, models.EntryWorstPart, "bad day", "2024-06-01")
	require.NoError(t, err)
	require.NoError(t, svc.RequestReply(ctx, userID, entry.ID, ""))

	svc.CancelPending(userID)
	jobs.run()

	got, err := svc.Entry(ctx, userID, entry.ID)
	require.NoError(t, err)
	assert.Nil(t, got.MaaReply)
	assert.Empty(t, provider.calls)
}
