package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-card-sync/internal/logger"
	"github.com/MKhiriev/go-card-sync/internal/utils"
)

// Collection file names inside a user directory.
const (
	CollectionFileName = "collection.anki2"
	MediaDirName       = "collection.media"
	MediaIndexFileName = "collection.media.server.db"
)

// ColMeta mirrors the scalar columns of the single col row.
type ColMeta struct {
	Crt int64
	Mod int64
	Scm int64
	Ver int64
	Usn int64
	Ls  int64
}

// Collection is one user's card database plus its media index. It is always
// a local sqlite file; concurrent access is serialized by the per-collection
// worker, so Collection itself carries no locking.
type Collection struct {
	path    string
	db      *sql.DB
	media   *MediaIndex
	builder sq.StatementBuilderType
	logger  *logger.Logger
}

// OpenCollection opens the collection file at path, provisioning an empty
// schema 11 database when the file is missing or empty.
func OpenCollection(ctx context.Context, path string, log *logger.Logger) (*Collection, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("error creating collection directory: %w", err)
	}

	c := &Collection{
		path:    path,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
		logger:  log,
	}
	if err := c.open(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Collection) open(ctx context.Context) error {
	fresh := true
	if fi, err := os.Stat(c.path); err == nil && fi.Size() > 0 {
		fresh = false
	}

	conn, err := sql.Open(driverSQLite, c.path)
	if err != nil {
		c.logger.Err(err).Str("func", "*Collection.open").Str("path", c.path).Msg("error opening collection")
		return fmt.Errorf("error opening collection: %w", err)
	}
	if err = conn.PingContext(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("error opening collection: %w", err)
	}

	if fresh {
		if err = provisionCollection(ctx, conn); err != nil {
			conn.Close()
			return err
		}
		c.logger.Info().Str("path", c.path).Msg("provisioned empty collection")
	}

	c.db = conn
	return nil
}

func provisionCollection(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, collectionSchema); err != nil {
		return fmt.Errorf("error creating collection schema: %w", err)
	}

	now := utils.NowMillis()
	_, err := conn.ExecContext(ctx,
		`INSERT INTO col (id, crt, mod, scm, ver, dty, usn, ls, conf, models, decks, dconf, tags)
		 VALUES (1, ?, ?, ?, 11, 0, 0, 0, ?, '{}', ?, ?, '{}')`,
		utils.DayStart(), now, now, defaultConf, defaultDecks, defaultDConf)
	if err != nil {
		return fmt.Errorf("error writing default col row: %w", err)
	}

	return nil
}

// Path returns the collection file path.
func (c *Collection) Path() string { return c.path }

// Dir returns the user directory containing the collection file.
func (c *Collection) Dir() string { return filepath.Dir(c.path) }

// MediaDir returns the directory holding the user's media files.
func (c *Collection) MediaDir() string { return filepath.Join(c.Dir(), MediaDirName) }

// Media lazily opens the media index that sits next to the collection.
func (c *Collection) Media(ctx context.Context) (*MediaIndex, error) {
	if c.media != nil {
		return c.media, nil
	}

	media, err := OpenMediaIndex(ctx, c.Dir(), c.logger)
	if err != nil {
		return nil, err
	}
	c.media = media
	return media, nil
}

// Close releases the collection and media database handles. The collection
// may be reopened later through the worker registry.
func (c *Collection) Close() error {
	var firstErr error
	if c.media != nil {
		if err := c.media.Close(); err != nil {
			firstErr = err
		}
		c.media = nil
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.db = nil
	}
	return firstErr
}

// Meta reads the scalar columns of the col row.
func (c *Collection) Meta(ctx context.Context) (ColMeta, error) {
	if c.db == nil {
		return ColMeta{}, ErrCollectionClosed
	}

	var m ColMeta
	row := c.db.QueryRowContext(ctx, `SELECT crt, mod, scm, ver, usn, ls FROM col LIMIT 1`)
	if err := row.Scan(&m.Crt, &m.Mod, &m.Scm, &m.Ver, &m.Usn, &m.Ls); err != nil {
		return ColMeta{}, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}

	return m, nil
}

// SchedulerVersion reports the scheduler version stored in the collection
// configuration. Collections created before the v2 scheduler carry no
// schedVer key and default to 1.
func (c *Collection) SchedulerVersion(ctx context.Context) (int64, error) {
	var conf map[string]any
	if err := c.readJSONColumn(ctx, "conf", &conf); err != nil {
		return 0, err
	}

	if v, ok := conf["schedVer"].(float64); ok {
		return int64(v), nil
	}
	return 1, nil
}

// FinishSync stamps the end of a successful incremental sync: the new
// modification time, the matching last-sync time and the next free usn.
func (c *Collection) FinishSync(ctx context.Context, mod, usn int64) error {
	if c.db == nil {
		return ErrCollectionClosed
	}

	_, err := c.db.ExecContext(ctx, `UPDATE col SET mod = ?, ls = ?, usn = ?`, mod, mod, usn)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}
	return nil
}

// Snapshot closes the database handles, reads the raw collection file and
// reopens it. Used by full-sync download, where the client expects the bytes
// of a consistent sqlite file.
func (c *Collection) Snapshot(ctx context.Context) ([]byte, error) {
	if err := c.Close(); err != nil {
		return nil, fmt.Errorf("error flushing collection: %w", err)
	}

	data, readErr := os.ReadFile(c.path)

	if err := c.open(ctx); err != nil {
		return nil, err
	}
	if readErr != nil {
		return nil, fmt.Errorf("error reading collection file: %w", readErr)
	}

	return data, nil
}

// ReplaceWith swaps the collection file for the one at srcPath. Used by
// full-sync upload after the uploaded database passed its integrity check.
// srcPath must be on the same filesystem.
func (c *Collection) ReplaceWith(ctx context.Context, srcPath string) error {
	if err := c.Close(); err != nil {
		return fmt.Errorf("error closing collection before replace: %w", err)
	}

	if err := os.Rename(srcPath, c.path); err != nil {
		// keep serving the old file
		if reopenErr := c.open(ctx); reopenErr != nil {
			return fmt.Errorf("error replacing collection: %w (reopen failed: %w)", err, reopenErr)
		}
		return fmt.Errorf("error replacing collection: %w", err)
	}

	return c.open(ctx)
}

func (c *Collection) readJSONColumn(ctx context.Context, column string, dest any) error {
	if c.db == nil {
		return ErrCollectionClosed
	}

	var raw string
	row := c.db.QueryRowContext(ctx, `SELECT `+column+` FROM col LIMIT 1`)
	if err := row.Scan(&raw); err != nil {
		return fmt.Errorf("%w: %w", ErrScanningRow, err)
	}
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("error decoding col.%s: %w", column, err)
	}
	return nil
}

func (c *Collection) writeJSONColumn(ctx context.Context, column string, value any) error {
	if c.db == nil {
		return ErrCollectionClosed
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("error encoding col.%s: %w", column, err)
	}
	if _, err = c.db.ExecContext(ctx, `UPDATE col SET `+column+` = ?`, string(raw)); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}
	return nil
}
