package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"maaspace/internal/blob"
	"maaspace/internal/storage"
)

const DefaultSweepInterval = 15 * time.Minute

var sweptTables = []string{"private_vault", "documents"}

// StartSweeper retries pending deletions every interval until ctx is done.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go s.sweepLoop(ctx, interval)
}

func (s *Service) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Error("sweep pending deletions", "error", err)
			}
		}
	}
}

type pendingRow struct {
	id  string
	key string
}

// Sweep removes soft-deleted rows whose blobs can now be deleted and reports
// how many rows were purged.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	purged := 0
	for _, table := range sweptTables {
		pending, err := s.pending(ctx, table)
		if err != nil {
			return purged, err
		}
		for _, p := range pending {
			if err := s.store.Remove(ctx, p.key); err != nil && !errors.Is(err, blob.ErrNotFound) {
				s.log.Warn("remove blob failed", "table", table, "key", p.key, "error", err)
				continue
			}
			if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, p.id); err != nil {
				s.log.Warn("delete row failed", "table", table, "id", p.id, "error", err)
				continue
			}
			purged++
		}
	}
	released, err := s.PurgeTombstones(ctx)
	purged += released
	if purged > 0 {
		s.log.Info("swept pending deletions", "count", purged)
	}
	return purged, err
}

// ForgetUser tombstones every blob the user owns so the files outlive
// neither the account nor a failed removal. Call it before the user row is
// deleted; keys still referenced by a row are kept until that row is gone.
func (s *Service) ForgetUser(ctx context.Context, userID string) (int, error) {
	keys, err := s.userKeys(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	err = s.db.WithTx(ctx, func(ctx context.Context, tx storage.DBTX) error {
		for _, key := range keys {
			if err := s.tombstone(ctx, tx, key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *Service) tombstone(ctx context.Context, db storage.DBTX, key string) error {
	insert := s.db.Dialect().InsertIfAbsent("blob_tombstones", []string{"storage_path", "created_at"}, []string{"storage_path"})
	if _, err := db.ExecContext(ctx, insert, key, s.now().UTC()); err != nil {
		return fmt.Errorf("tombstone blob: %w", err)
	}
	return nil
}

func (s *Service) userKeys(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT storage_path FROM private_vault WHERE user_id = ?
		 UNION SELECT storage_path FROM documents WHERE user_id = ?
		 UNION SELECT mother_photo_path FROM profiles WHERE user_id = ? AND mother_photo_path <> ''
		 UNION SELECT umiya_photo_path FROM profiles WHERE user_id = ? AND umiya_photo_path <> ''`,
		userID, userID, userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query user blobs: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan user blob: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user blobs: %w", err)
	}
	return keys, nil
}

// PurgeTombstones removes tombstoned blobs that no row references any more
// and reports how many were released.
func (s *Service) PurgeTombstones(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.storage_path FROM blob_tombstones t
		 WHERE NOT EXISTS (SELECT 1 FROM private_vault v WHERE v.storage_path = t.storage_path)
		   AND NOT EXISTS (SELECT 1 FROM documents d WHERE d.storage_path = t.storage_path)
		   AND NOT EXISTS (SELECT 1 FROM profiles p
		                   WHERE p.mother_photo_path = t.storage_path OR p.umiya_photo_path = t.storage_path)`)
	if err != nil {
		return 0, fmt.Errorf("query tombstones: %w", err)
	}
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan tombstone: %w", err)
		}
		keys = append(keys, key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate tombstones: %w", err)
	}

	released := 0
	for _, key := range keys {
		if err := s.store.Remove(ctx, key); err != nil && !errors.Is(err, blob.ErrNotFound) {
			s.log.Warn("remove tombstoned blob failed", "key", key, "error", err)
			continue
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM blob_tombstones WHERE storage_path = ?`, key); err != nil {
			s.log.Warn("delete tombstone failed", "key", key, "error", err)
			continue
		}
		released++
	}
	return released, nil
}

func (s *Service) pending(ctx context.Context, table string) ([]pendingRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, storage_path FROM `+table+` WHERE deleted_at IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("query pending %s: %w", table, err)
	}
	defer rows.Close()

	var out []pendingRow
	for rows.Next() {
		var p pendingRow
		if err := rows.Scan(&p.id, &p.key); err != nil {
			return nil, fmt.Errorf("scan pending %s: %w", table, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending %s: %w", table, err)
	}
	return out, nil
}
