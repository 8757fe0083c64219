package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MKhiriev/go-card-sync/internal/logger"
	"github.com/MKhiriev/go-card-sync/models"
)

const mediaIndexSchema = `
CREATE TABLE media (
    fname TEXT PRIMARY KEY,
    csum  TEXT,
    mtime INTEGER NOT NULL DEFAULT 0,
    usn   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE meta (
    dir_mod  INTEGER NOT NULL,
    last_usn INTEGER NOT NULL
);

INSERT INTO meta (dir_mod, last_usn) VALUES (0, 0);
`

// MediaIndex tracks one user's media files: their checksums and the usn at
// which each last changed. A NULL checksum marks a deletion tombstone, kept
// so other devices learn about removals. The files themselves live in the
// sibling media directory.
type MediaIndex struct {
	dir    string
	db     *sql.DB
	logger *logger.Logger
}

// OpenMediaIndex opens (or provisions) the media index inside userDir and
// ensures the media directory exists.
func OpenMediaIndex(ctx context.Context, userDir string, log *logger.Logger) (*MediaIndex, error) {
	dir := filepath.Join(userDir, MediaDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating media directory: %w", err)
	}

	dbPath := filepath.Join(userDir, MediaIndexFileName)
	fresh := true
	if fi, err := os.Stat(dbPath); err == nil && fi.Size() > 0 {
		fresh = false
	}

	conn, err := sql.Open(driverSQLite, dbPath)
	if err != nil {
		return nil, fmt.Errorf("error opening media index: %w", err)
	}
	if err = conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error opening media index: %w", err)
	}

	if fresh {
		if _, err = conn.ExecContext(ctx, mediaIndexSchema); err != nil {
			conn.Close()
			return nil, fmt.Errorf("error creating media index schema: %w", err)
		}
		log.Info().Str("path", dbPath).Msg("provisioned media index")
	}

	return &MediaIndex{dir: dir, db: conn, logger: log}, nil
}

// Dir returns the directory holding the user's media files.
func (m *MediaIndex) Dir() string { return m.dir }

// FilePath returns the on-disk path for a media file name.
func (m *MediaIndex) FilePath(fname string) string { return filepath.Join(m.dir, fname) }

// Close releases the index database handle.
func (m *MediaIndex) Close() error {
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	return err
}

// LastUsn reports the media usn counter, incremented once per accepted
// upload entry.
func (m *MediaIndex) LastUsn(ctx context.Context) (int64, error) {
	if m.db == nil {
		return 0, ErrMediaIndexClosed
	}

	var usn int64
	if err := m.db.QueryRowContext(ctx, `SELECT last_usn FROM meta`).Scan(&usn); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}
	return usn, nil
}

// SetLastUsn overwrites the media usn counter.
func (m *MediaIndex) SetLastUsn(ctx context.Context, usn int64) error {
	if m.db == nil {
		return ErrMediaIndexClosed
	}

	if _, err := m.db.ExecContext(ctx, `UPDATE meta SET last_usn = ?`, usn); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}
	return nil
}

// ChangesSince lists index rows changed after the given usn, ordered by
// usn. Tombstones appear with a nil checksum.
func (m *MediaIndex) ChangesSince(ctx context.Context, afterUsn int64) ([]models.MediaEntry, error) {
	if m.db == nil {
		return nil, ErrMediaIndexClosed
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT fname, csum, mtime, usn FROM media WHERE usn > ? ORDER BY usn`, afterUsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	var entries []models.MediaEntry
	for rows.Next() {
		var e models.MediaEntry
		if err := rows.Scan(&e.Fname, &e.Csum, &e.Mtime, &e.Usn); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Lookup returns the index row for a file name, or ErrNotFound semantics
// via sql.ErrNoRows wrapped in ErrScanningRow. Tombstoned rows are
// returned too; callers inspect Csum.
func (m *MediaIndex) Lookup(ctx context.Context, fname string) (models.MediaEntry, bool, error) {
	if m.db == nil {
		return models.MediaEntry{}, false, ErrMediaIndexClosed
	}

	var e models.MediaEntry
	err := m.db.QueryRowContext(ctx,
		`SELECT fname, csum, mtime, usn FROM media WHERE fname = ?`, fname).
		Scan(&e.Fname, &e.Csum, &e.Mtime, &e.Usn)
	if err == sql.ErrNoRows {
		return models.MediaEntry{}, false, nil
	}
	if err != nil {
		return models.MediaEntry{}, false, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}
	return e, true, nil
}

// Count reports the number of live (non-tombstoned) files in the index.
func (m *MediaIndex) Count(ctx context.Context) (int64, error) {
	if m.db == nil {
		return 0, ErrMediaIndexClosed
	}

	var n int64
	if err := m.db.QueryRowContext(ctx, `SELECT count(*) FROM media WHERE csum IS NOT NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}
	return n, nil
}

// Upsert records an added or replaced media file.
func (m *MediaIndex) Upsert(ctx context.Context, entry models.MediaEntry) error {
	if m.db == nil {
		return ErrMediaIndexClosed
	}

	_, err := m.db.ExecContext(ctx,
		`INSERT INTO media (fname, csum, mtime, usn) VALUES (?, ?, ?, ?)
		 ON CONFLICT (fname) DO UPDATE SET csum = excluded.csum, mtime = excluded.mtime, usn = excluded.usn`,
		entry.Fname, entry.Csum, entry.Mtime, entry.Usn)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}
	return nil
}

// MarkDeleted tombstones a file name at the given usn. The row is kept with
// a NULL checksum so the deletion propagates to other devices.
func (m *MediaIndex) MarkDeleted(ctx context.Context, fname string, usn int64) error {
	if m.db == nil {
		return ErrMediaIndexClosed
	}

	_, err := m.db.ExecContext(ctx,
		`INSERT INTO media (fname, csum, mtime, usn) VALUES (?, NULL, 0, ?)
		 ON CONFLICT (fname) DO UPDATE SET csum = NULL, mtime = 0, usn = excluded.usn`,
		fname, usn)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}
	return nil
}
