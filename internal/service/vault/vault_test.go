package vault

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"maaspace/internal/blob"
	"maaspace/internal/logger"
	"maaspace/internal/service"
	"maaspace/internal/service/account"
	"maaspace/internal/storage"
	"maaspace/internal/storage/storagetest"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func pngUpload(name string) Upload {
	body := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 64)...)
	return Upload{Name: name, ContentType: "image/png", Size: int64(len(body)), Body: bytes.NewReader(body)}
}

func pdfUpload(name string) Upload {
	body := []byte("%PDF-1.4 hello")
	return Upload{Name: name, ContentType: "application/pdf", Size: int64(len(body)), Body: bytes.NewReader(body)}
}

type fixture struct {
	svc    *Service
	db     *storage.DB
	store  *blob.MemoryStore
	userID string
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := storagetest.Open(t)
	userID := storagetest.InsertUser(t, db, "vault@example.com")
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO profiles (user_id, nickname, updated_at) VALUES (?, ?, ?)`, userID, "beta", time.Now().UTC())
	require.NoError(t, err)
	store := blob.NewMemoryStore()
	return fixture{
		svc:    NewService(db, store, account.NewService(db), nil),
		db:     db,
		store:  store,
		userID: userID,
	}
}

func TestUploadAndListPhotos(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.svc.UploadPhoto(ctx, f.userID, pngUpload("a.png"))
	require.NoError(t, err)
	f.svc.now = func() time.Time { return time.Now().Add(time.Second) }
	second, err := f.svc.UploadPhoto(ctx, f.userID, pngUpload("b.png"))
	require.NoError(t, err)

	assert.True(t, f.store.Has(first.StoragePath))
	assert.NotEmpty(t, first.URL)

	list, err := f.svc.ListPhotos(ctx, f.userID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	for _, p := range list {
		assert.NotEmpty(t, p.URL)
	}

	url, err := f.svc.PhotoURL(ctx, f.userID, first.ID)
	require.NoError(t, err)
	assert.Contains(t, url, first.StoragePath)
}

func TestUploadRejectsInvalidFile(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	fake := Upload{Name: "x.png", ContentType: "image/png", Size: 5, Body: bytes.NewReader([]byte("hello"))}
	_, err := f.svc.UploadPhoto(ctx, f.userID, fake)
	assert.ErrorIs(t, err, blob.ErrInvalidFile)

	huge := pngUpload("big.png")
	huge.Size = 11 << 20
	_, err = f.svc.UploadPhoto(ctx, f.userID, huge)
	assert.ErrorIs(t, err, blob.ErrInvalidFile)

	exe := Upload{Name: "x.exe", ContentType: "application/x-msdownload", Size: 3, Body: bytes.NewReader([]byte("MZx"))}
	_, err = f.svc.UploadDocument(ctx, f.userID, exe, "")
	assert.ErrorIs(t, err, blob.ErrInvalidFile)

	assert.Equal(t, 0, f.store.Len())
}

func TestInsertFailureRemovesBlob(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	mock.ExpectExec("INSERT INTO private_vault").WillReturnError(errors.New("disk full"))

	store := blob.NewMemoryStore()
	svc := NewService(storage.Wrap(sqlDB, storage.SQLite), store, nil, nil)

	_, err = svc.UploadPhoto(context.Background(), "user-1", pngUpload("a.png"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 0, store.Len())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertFailureLogsOrphanWhenRemoveFails(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	mock.ExpectExec("INSERT INTO documents").WillReturnError(errors.New("disk full"))

	core, logs := observer.New(zap.DebugLevel)
	store := blob.NewMemoryStore()
	store.SetRemoveErr(errors.New("bucket offline"))
	svc := NewService(storage.Wrap(sqlDB, storage.SQLite), store, nil, &logger.Logger{SugaredLogger: zap.New(core).Sugar()})

	_, err = svc.UploadDocument(context.Background(), "user-1", pdfUpload("a.pdf"), "note")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 1, logs.FilterMessage("orphaned blob").Len())
}

func TestDeletePhoto(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	photo, err := f.svc.UploadPhoto(ctx, f.userID, pngUpload("a.png"))
	require.NoError(t, err)
	require.NoError(t, f.svc.DeletePhoto(ctx, f.userID, photo.ID))

	assert.False(t, f.store.Has(photo.StoragePath))
	var n int
	require.NoError(t, f.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM private_vault`).Scan(&n))
	assert.Equal(t, 0, n)

	assert.ErrorIs(t, f.svc.DeletePhoto(ctx, f.userID, photo.ID), service.ErrNotFound)
}

func TestDeleteFailureLeavesRowForSweeper(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	doc, err := f.svc.UploadDocument(ctx, f.userID, pdfUpload("report.pdf"), "  for doctor ")
	require.NoError(t, err)
	require.NotNil(t, doc.UserNote)
	assert.Equal(t, "for doctor", *doc.UserNote)

	f.store.SetRemoveErr(errors.New("bucket offline"))
	require.NoError(t, f.svc.DeleteDocument(ctx, f.userID, doc.ID))

	list, err := f.svc.ListDocuments(ctx, f.userID)
	require.NoError(t, err)
	assert.Empty(t, list)
	_, _, err = f.svc.Download(ctx, f.userID, doc.ID)
	assert.ErrorIs(t, err, service.ErrNotFound)

	purged, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, purged)

	f.store.SetRemoveErr(nil)
	purged, err = f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
	assert.False(t, f.store.Has(doc.StoragePath))

	var n int
	require.NoError(t, f.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestDownloadDocument(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	doc, err := f.svc.UploadDocument(ctx, f.userID, pdfUpload("report.pdf"), "")
	require.NoError(t, err)
	assert.Nil(t, doc.UserNote)

	r, meta, err := f.svc.Download(ctx, f.userID, doc.ID)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 hello", string(data))
	assert.Equal(t, "report.pdf", meta.OriginalName)

	other := storagetest.InsertUser(t, f.db, "other@example.com")
	_, _, err = f.svc.Download(ctx, other, doc.ID)
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestProfilePhotoReplacesPrevious(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.svc.UploadProfilePhoto(ctx, f.userID, account.PhotoMother, pngUpload("maa.png"))
	require.NoError(t, err)
	require.NotEmpty(t, first)
	require.Equal(t, 1, f.store.Len())

	f.svc.now = func() time.Time { return time.Now().Add(time.Second) }
	_, err = f.svc.UploadProfilePhoto(ctx, f.userID, account.PhotoMother, pngUpload("maa2.png"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.Len())

	profile, err := account.NewService(f.db).Profile(ctx, f.userID)
	require.NoError(t, err)
	assert.True(t, f.store.Has(profile.MotherPhotoPath))
	assert.Empty(t, profile.UmiyaPhotoPath)

	_, err = f.svc.UploadProfilePhoto(ctx, f.userID, account.PhotoKind("dad"), pngUpload("x.png"))
	assert.ErrorIs(t, err, service.ErrInvalidInput)
}

func TestSweeperLoopStopsWithContext(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())

	doc, err := f.svc.UploadDocument(ctx, f.userID, pdfUpload("a.pdf"), "")
	require.NoError(t, err)
	f.store.SetRemoveErr(errors.New("offline"))
	require.NoError(t, f.svc.DeleteDocument(ctx, f.userID, doc.ID))
	f.store.SetRemoveErr(nil)

	f.svc.StartSweeper(ctx, 10*time.Millisecond)
	require.Eventually(t, func() bool { return !f.store.Has(doc.StoragePath) }, 2*time.Second, 10*time.Millisecond)
	cancel()
}

func countTombstones(t *testing.T, db *storage.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM blob_tombstones`).Scan(&n))
	return n
}

func TestForgetUserReleasesBlobsAfterAccountDeletion(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	accounts := account.NewService(f.db)

	photo, err := f.svc.UploadPhoto(ctx, f.userID, pngUpload("a.png"))
	require.NoError(t, err)
	doc, err := f.svc.UploadDocument(ctx, f.userID, pdfUpload("b.pdf"), "")
	require.NoError(t, err)
	_, err = f.svc.UploadProfilePhoto(ctx, f.userID, account.PhotoUmiya, pngUpload("umiya.png"))
	require.NoError(t, err)
	require.Equal(t, 3, f.store.Len())

	other := storagetest.InsertUser(t, f.db, "stays@example.com")
	kept, err := f.svc.UploadPhoto(ctx, other, pngUpload("kept.png"))
	require.NoError(t, err)

	n, err := f.svc.ForgetUser(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// rows still reference the keys, so nothing is released yet
	purged, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, purged)
	assert.True(t, f.store.Has(photo.StoragePath))

	require.NoError(t, accounts.DeleteUser(ctx, f.userID))
	purged, err = f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, purged)
	assert.False(t, f.store.Has(photo.StoragePath))
	assert.False(t, f.store.Has(doc.StoragePath))
	assert.Equal(t, 1, f.store.Len())
	assert.True(t, f.store.Has(kept.StoragePath))
	assert.Equal(t, 0, countTombstones(t, f.db))
}

func TestTombstonedRemovalRetries(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	photo, err := f.svc.UploadPhoto(ctx, f.userID, pngUpload("a.png"))
	require.NoError(t, err)
	_, err = f.svc.ForgetUser(ctx, f.userID)
	require.NoError(t, err)
	// forgetting twice keeps a single tombstone per key
	_, err = f.svc.ForgetUser(ctx, f.userID)
	require.NoError(t, err)
	require.NoError(t, account.NewService(f.db).DeleteUser(ctx, f.userID))

	f.store.SetRemoveErr(errors.New("bucket offline"))
	purged, err := f.svc.PurgeTombstones(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, purged)
	assert.True(t, f.store.Has(photo.StoragePath))
	assert.Equal(t, 1, countTombstones(t, f.db))

	f.store.SetRemoveErr(nil)
	purged, err = f.svc.PurgeTombstones(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
	assert.Equal(t, 0, f.store.Len())
}

func TestProfilePhotoFailedRemovalIsTombstoned(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.UploadProfilePhoto(ctx, f.userID, account.PhotoMother, pngUpload("maa.png"))
	require.NoError(t, err)
	before, err := account.NewService(f.db).Profile(ctx, f.userID)
	require.NoError(t, err)

	f.svc.now = func() time.Time { return time.Now().Add(time.Second) }
	f.store.SetRemoveErr(errors.New("bucket offline"))
	_, err = f.svc.UploadProfilePhoto(ctx, f.userID, account.PhotoMother, pngUpload("maa2.png"))
	require.NoError(t, err)
	assert.True(t, f.store.Has(before.MotherPhotoPath))
	assert.Equal(t, 1, countTombstones(t, f.db))

	f.store.SetRemoveErr(nil)
	purged, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
	assert.False(t, f.store.Has(before.MotherPhotoPath))
	assert.Equal(t, 1, f.store.Len())
}
