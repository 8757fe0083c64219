package store

import (
	"context"
	"database/sql"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-card-sync/internal/config"
	"github.com/MKhiriev/go-card-sync/internal/logger"
	"github.com/MKhiriev/go-card-sync/migrations"
)

// Driver names accepted by the server database layer.
const (
	driverPostgres = "pgx"
	driverSQLite   = "sqlite3"
)

// DB wraps the server database connection (users and sessions). The
// per-user collection and media databases are always sqlite and are
// managed separately by [Collection] and [MediaIndex].
type DB struct {
	*sql.DB
	driver             string
	errorClassificator ErrorClassificator
	logger             *logger.Logger
}

// NewDatabase opens the server database selected by the DSN: a
// "postgres://" or "postgresql://" prefix selects the pgx driver,
// anything else is treated as a sqlite file path.
func NewDatabase(ctx context.Context, cfg config.DB, log *logger.Logger) (*DB, error) {
	if strings.HasPrefix(cfg.DSN, "postgres://") || strings.HasPrefix(cfg.DSN, "postgresql://") {
		return NewConnectPostgres(ctx, cfg, log)
	}
	return NewConnectSQLite(ctx, cfg, log)
}

// Migrate applies all embedded goose migrations using the dialect matching
// the driver this connection was opened with.
func (db *DB) Migrate() error {
	return migrations.Migrate(db.DB, db.driver)
}

// Builder returns a squirrel statement builder configured with the
// placeholder format of the underlying driver.
func (db *DB) Builder() sq.StatementBuilderType {
	if db.driver == driverPostgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}
