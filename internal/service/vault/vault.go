package vault

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"maaspace/internal/blob"
	"maaspace/internal/logger"
	"maaspace/internal/models"
	"maaspace/internal/service"
	"maaspace/internal/service/account"
	"maaspace/internal/storage"
)

const (
	DefaultURLTTL = time.Hour
	sniffLen      = 512
	signParallel  = 8
)

// Upload is a file received from a client.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// PhotoView is a vault photo with a short-lived download link.
type PhotoView struct {
	models.VaultPhoto
	URL string `json:"url"`
}

// DocumentView is a document with a short-lived download link.
type DocumentView struct {
	models.Document
	URL string `json:"url"`
}

// PhotoSlots stores profile photo paths; *account.Service satisfies it.
type PhotoSlots interface {
	SetPhotoPath(ctx context.Context, userID string, kind account.PhotoKind, path string) (string, error)
}

// Service keeps private photos, documents and profile photos in blob
// storage with their metadata in the database.
type Service struct {
	db     *storage.DB
	store  blob.Store
	slots  PhotoSlots
	urlTTL time.Duration
	now    func() time.Time
	log    *logger.Logger
}

func NewService(db *storage.DB, store blob.Store, slots PhotoSlots, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		db:     db,
		store:  store,
		slots:  slots,
		urlTTL: DefaultURLTTL,
		now:    time.Now,
		log:    log.With("service", "vault"),
	}
}

// prepare validates up against policy and returns the extension and a body
// that still yields the sniffed bytes.
func prepare(up Upload, policy blob.Policy) (string, io.Reader, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(up.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	ext, err := policy.Validate(up.ContentType, up.Size, head)
	if err != nil {
		return "", nil, err
	}
	return ext, io.MultiReader(bytes.NewReader(head), up.Body), nil
}

// put uploads the blob, then runs record. A failing record removes the blob
// again; if that fails too the orphan is logged and record's error returned.
func (s *Service) put(ctx context.Context, key string, up Upload, body io.Reader, record func() error) error {
	if err := s.store.Upload(ctx, key, body, up.Size, up.ContentType); err != nil {
		s.log.Error("blob upload failed", "key", key, "error", err)
		return fmt.Errorf("upload blob: %w", err)
	}
	if err := record(); err != nil {
		if rmErr := s.store.Remove(context.WithoutCancel(ctx), key); rmErr != nil && !errors.Is(rmErr, blob.ErrNotFound) {
			s.log.Error("orphaned blob", "key", key, "error", rmErr, "cause", err)
		}
		return err
	}
	return nil
}

// UploadPhoto stores a private photo.
func (s *Service) UploadPhoto(ctx context.Context, userID string, up Upload) (*PhotoView, error) {
	ext, body, err := prepare(up, blob.VaultPhoto)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	photo := models.VaultPhoto{
		ID:           uuid.NewString(),
		UserID:       userID,
		StoragePath:  blob.NewKey(blob.BucketVault, userID, ext, now),
		OriginalName: up.Name,
		MimeType:     up.ContentType,
		Size:         up.Size,
		CreatedAt:    now,
	}
	err = s.put(ctx, photo.StoragePath, up, body, func() error {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO private_vault (id, user_id, storage_path, original_name, mime_type, size, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			photo.ID, photo.UserID, photo.StoragePath, photo.OriginalName, photo.MimeType, photo.Size, photo.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert vault photo: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	url, err := s.store.SignedURL(ctx, photo.StoragePath, s.urlTTL)
	if err != nil {
		s.log.Warn("sign vault photo failed", "key", photo.StoragePath, "error", err)
	}
	return &PhotoView{VaultPhoto: photo, URL: url}, nil
}

// UploadDocument stores a document with an optional note.
func (s *Service) UploadDocument(ctx context.Context, userID string, up Upload, note string) (*DocumentView, error) {
	ext, body, err := prepare(up, blob.Document)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	key := blob.NewKey(blob.BucketDocuments, userID, ext, now)
	doc := models.Document{
		ID:           uuid.NewString(),
		UserID:       userID,
		FileName:     path.Base(key),
		OriginalName: up.Name,
		StoragePath:  key,
		FileType:     up.ContentType,
		FileSize:     up.Size,
		CreatedAt:    now,
	}
	if note = strings.TrimSpace(note); note != "" {
		doc.UserNote = &note
	}
	err = s.put(ctx, key, up, body, func() error {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO documents (id, user_id, file_name, original_name, storage_path, user_note, file_type, file_size, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			doc.ID, doc.UserID, doc.FileName, doc.OriginalName, doc.StoragePath, doc.UserNote, doc.FileType, doc.FileSize, doc.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &DocumentView{Document: doc}, nil
}

// UploadProfilePhoto replaces the photo in slot kind and returns its link.
func (s *Service) UploadProfilePhoto(ctx context.Context, userID string, kind account.PhotoKind, up Upload) (string, error) {
	if kind != account.PhotoMother && kind != account.PhotoUmiya {
		return "", fmt.Errorf("%w: unknown photo kind %q", service.ErrInvalidInput, kind)
	}
	ext, body, err := prepare(up, blob.ProfilePhoto)
	if err != nil {
		return "", err
	}
	key := blob.NewKey(blob.BucketProfile, userID, ext, s.now())
	var previous string
	err = s.put(ctx, key, up, body, func() error {
		var err error
		previous, err = s.slots.SetPhotoPath(ctx, userID, kind, key)
		return err
	})
	if err != nil {
		return "", err
	}
	if previous != "" && previous != key {
		if err := s.store.Remove(ctx, previous); err != nil && !errors.Is(err, blob.ErrNotFound) {
			s.log.Warn("remove previous profile photo deferred to sweeper", "key", previous, "error", err)
			if err := s.tombstone(context.WithoutCancel(ctx), s.db, previous); err != nil {
				s.log.Error("orphaned blob", "key", previous, "error", err)
			}
		}
	}
	return s.SignPath(ctx, key)
}

// SignPath returns a download link for a stored key, or "" for no key.
func (s *Service) SignPath(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	url, err := s.store.SignedURL(ctx, key, s.urlTTL)
	if err != nil {
		return "", fmt.Errorf("sign url: %w", err)
	}
	return url, nil
}

// ListPhotos returns the live photos newest first, each with a signed link.
func (s *Service) ListPhotos(ctx context.Context, userID string) ([]PhotoView, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, storage_path, original_name, mime_type, size, created_at
		 FROM private_vault WHERE user_id = ? AND deleted_at IS NULL ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query vault photos: %w", err)
	}
	views := make([]PhotoView, 0)
	for rows.Next() {
		var p PhotoView
		if err := rows.Scan(&p.ID, &p.UserID, &p.StoragePath, &p.OriginalName, &p.MimeType, &p.Size, &p.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan vault photo: %w", err)
		}
		views = append(views, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vault photos: %w", err)
	}

	err = s.signAll(ctx, len(views), func(i int) string { return views[i].StoragePath }, func(i int, url string) { views[i].URL = url })
	if err != nil {
		return nil, err
	}
	return views, nil
}

// ListDocuments returns the live documents newest first.
func (s *Service) ListDocuments(ctx context.Context, userID string) ([]DocumentView, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, file_name, original_name, storage_path, user_note, file_type, file_size, created_at
		 FROM documents WHERE user_id = ? AND deleted_at IS NULL ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	views := make([]DocumentView, 0)
	for rows.Next() {
		var (
			d    DocumentView
			note sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.UserID, &d.FileName, &d.OriginalName, &d.StoragePath, &note, &d.FileType, &d.FileSize, &d.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if note.Valid {
			d.UserNote = &note.String
		}
		views = append(views, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	err = s.signAll(ctx, len(views), func(i int) string { return views[i].StoragePath }, func(i int, url string) { views[i].URL = url })
	if err != nil {
		return nil, err
	}
	return views, nil
}

// signAll fills signed links concurrently; each index is written once.
func (s *Service) signAll(ctx context.Context, n int, key func(int) string, set func(int, string)) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(signParallel)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			url, err := s.store.SignedURL(ctx, key(i), s.urlTTL)
			if err != nil {
				return fmt.Errorf("sign %s: %w", key(i), err)
			}
			set(i, url)
			return nil
		})
	}
	return g.Wait()
}

func (s *Service) photoPath(ctx context.Context, userID, id string) (string, error) {
	return s.livePath(ctx, "private_vault", userID, id)
}

func (s *Service) livePath(ctx context.Context, table, userID, id string) (string, error) {
	var key string
	err := s.db.QueryRowContext(ctx,
		`SELECT storage_path FROM `+table+` WHERE id = ? AND user_id = ? AND deleted_at IS NULL`, id, userID,
	).Scan(&key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", service.ErrNotFound
		}
		return "", fmt.Errorf("query %s: %w", table, err)
	}
	return key, nil
}

// PhotoURL signs a link for one photo.
func (s *Service) PhotoURL(ctx context.Context, userID, id string) (string, error) {
	key, err := s.photoPath(ctx, userID, id)
	if err != nil {
		return "", err
	}
	return s.SignPath(ctx, key)
}

// Download opens a document for streaming.
func (s *Service) Download(ctx context.Context, userID, id string) (io.ReadCloser, *models.Document, error) {
	var (
		doc  models.Document
		note sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, file_name, original_name, storage_path, user_note, file_type, file_size, created_at
		 FROM documents WHERE id = ? AND user_id = ? AND deleted_at IS NULL`, id, userID,
	).Scan(&doc.ID, &doc.UserID, &doc.FileName, &doc.OriginalName, &doc.StoragePath, &note, &doc.FileType, &doc.FileSize, &doc.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, service.ErrNotFound
		}
		return nil, nil, fmt.Errorf("query document: %w", err)
	}
	if note.Valid {
		doc.UserNote = &note.String
	}
	r, err := s.store.Open(ctx, doc.StoragePath)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, nil, service.ErrNotFound
		}
		return nil, nil, fmt.Errorf("open document: %w", err)
	}
	return r, &doc, nil
}

func (s *Service) DeletePhoto(ctx context.Context, userID, id string) error {
	return s.remove(ctx, "private_vault", userID, id)
}

func (s *Service) DeleteDocument(ctx context.Context, userID, id string) error {
	return s.remove(ctx, "documents", userID, id)
}

// remove hides the row, deletes the blob and then the row. When the blob
// cannot be removed the row stays hidden for the sweeper.
func (s *Service) remove(ctx context.Context, table, userID, id string) error {
	key, err := s.livePath(ctx, table, userID, id)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE `+table+` SET deleted_at = ? WHERE id = ? AND user_id = ?`, s.now().UTC(), id, userID,
	); err != nil {
		return fmt.Errorf("mark %s deleted: %w", table, err)
	}
	if err := s.store.Remove(ctx, key); err != nil && !errors.Is(err, blob.ErrNotFound) {
		s.log.Warn("blob removal deferred to sweeper", "table", table, "id", id, "key", key, "error", err)
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id); err != nil {
		s.log.Warn("row removal deferred to sweeper", "table", table, "id", id, "error", err)
	}
	return nil
}
