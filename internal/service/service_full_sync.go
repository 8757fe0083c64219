package service

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MKhiriev/go-card-sync/internal/logger"
	"github.com/MKhiriev/go-card-sync/internal/store"
)

// FullSyncService replaces or serves whole collection files when the
// incremental protocol cannot reconcile the two sides (schema mismatch or
// a failed sanity check).
type FullSyncService struct {
	logger *logger.Logger
}

// NewFullSyncService constructs a [FullSyncService].
func NewFullSyncService(log *logger.Logger) *FullSyncService {
	log.Debug().Msg("creating full sync service")
	return &FullSyncService{logger: log}
}

// Upload replaces the collection with the uploaded database. The upload is
// staged to a temporary file and integrity-checked before the swap; a
// corrupt upload leaves the existing collection untouched. Returns the
// literal "OK" the client expects on success.
func (s *FullSyncService) Upload(ctx context.Context, col *store.Collection, data []byte) (string, error) {
	log := logger.FromContext(ctx)

	tmp, err := os.CreateTemp(col.Dir(), "upload-*.anki2")
	if err != nil {
		return "", fmt.Errorf("error staging uploaded collection: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("error staging uploaded collection: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("error staging uploaded collection: %w", err)
	}

	if err = verifyCollectionFile(ctx, tmpPath); err != nil {
		log.Error().Err(err).Msg("rejecting uploaded collection")
		return "", err
	}

	if err = col.ReplaceWith(ctx, tmpPath); err != nil {
		return "", err
	}

	log.Info().Str("path", col.Path()).Int("bytes", len(data)).Msg("collection replaced by upload")
	return "OK", nil
}

// Download flushes the collection and returns the raw bytes of its file.
func (s *FullSyncService) Download(ctx context.Context, col *store.Collection) ([]byte, error) {
	data, err := col.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info().Str("path", col.Path()).Int("bytes", len(data)).Msg("serving full collection download")
	return data, nil
}

// verifyCollectionFile opens the staged upload read-only and requires a
// clean integrity check plus the presence of the col table.
func verifyCollectionFile(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite3", "file:"+filepath.ToSlash(path)+"?mode=ro")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCollectionUpload, err)
	}
	defer db.Close()

	var result string
	if err = db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&result); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCollectionUpload, err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: integrity check returned %q", ErrInvalidCollectionUpload, result)
	}

	var count int64
	err = db.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'col'`).Scan(&count)
	if err != nil || count == 0 {
		return fmt.Errorf("%w: no col table", ErrInvalidCollectionUpload)
	}

	return nil
}
