package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-card-sync/internal/logger"
	"github.com/MKhiriev/go-card-sync/models"
)

// sessionRepository is the SQL-backed implementation of [SessionRepository].
// Sessions are small and written once per hostKey/meta exchange, so every
// Save is an upsert keyed by host_key.
type sessionRepository struct {
	logger *logger.Logger
	db     *DB
}

// NewSessionRepository constructs a [SessionRepository] backed by the
// provided database connection and logger.
func NewSessionRepository(db *DB, logger *logger.Logger) SessionRepository {
	logger.Debug().Msg("creating session repository")
	return &sessionRepository{
		db:     db,
		logger: logger,
	}
}

// Save inserts the session or, when a row with the same host key already
// exists, overwrites its mutable fields. The ON CONFLICT form is understood
// by both postgres and sqlite.
func (r *sessionRepository) Save(ctx context.Context, session models.Session) error {
	log := logger.FromContext(ctx)

	query, args, err := r.db.Builder().
		Insert("sessions").
		Columns("host_key", "secondary_key", "username", "path", "version", "client_version", "created_at").
		Values(session.HostKey, session.SecondaryKey, session.Username, session.Path, session.Version, session.ClientVersion, session.Created).
		Suffix(`ON CONFLICT (host_key) DO UPDATE SET
			secondary_key = excluded.secondary_key,
			version = excluded.version,
			client_version = excluded.client_version,
			created_at = excluded.created_at`).
		ToSql()
	if err != nil {
		log.Err(err).Str("func", "*sessionRepository.Save").Msg("error building upsert query")
		return fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	if _, err = r.db.ExecContext(ctx, query, args...); err != nil {
		log.Err(err).Str("func", "*sessionRepository.Save").Msg("error saving session")
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	return nil
}

// Load retrieves the session identified by its host key.
func (r *sessionRepository) Load(ctx context.Context, key models.HostKey) (models.Session, error) {
	return r.loadWhere(ctx, sq.Eq{"host_key": key})
}

// LoadBySecondaryKey retrieves the session identified by its per-session
// media key. Secondary keys are short, so collisions across sessions are
// possible in principle; the most recent session wins.
func (r *sessionRepository) LoadBySecondaryKey(ctx context.Context, key models.SecondaryKey) (models.Session, error) {
	return r.loadWhere(ctx, sq.Eq{"secondary_key": key})
}

func (r *sessionRepository) loadWhere(ctx context.Context, cond sq.Eq) (models.Session, error) {
	log := logger.FromContext(ctx)

	query, args, err := r.db.Builder().
		Select("host_key", "secondary_key", "username", "path", "version", "client_version", "created_at").
		From("sessions").
		Where(cond).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		log.Err(err).Str("func", "*sessionRepository.loadWhere").Msg("error building select query")
		return models.Session{}, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	var session models.Session
	row := r.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&session.HostKey, &session.SecondaryKey, &session.Username, &session.Path, &session.Version, &session.ClientVersion, &session.Created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Session{}, ErrNoSessionWasFound
		}
		log.Err(err).Str("func", "*sessionRepository.loadWhere").Msg("error: scanning error")
		return models.Session{}, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}

	return session, nil
}

// Delete removes the session with the given host key. Missing rows are not
// an error.
func (r *sessionRepository) Delete(ctx context.Context, key models.HostKey) error {
	return r.deleteWhere(ctx, sq.Eq{"host_key": key})
}

// DeleteByUsername removes every session belonging to a user. Used when an
// account is deleted.
func (r *sessionRepository) DeleteByUsername(ctx context.Context, username string) error {
	return r.deleteWhere(ctx, sq.Eq{"username": username})
}

func (r *sessionRepository) deleteWhere(ctx context.Context, cond sq.Eq) error {
	log := logger.FromContext(ctx)

	query, args, err := r.db.Builder().
		Delete("sessions").
		Where(cond).
		ToSql()
	if err != nil {
		log.Err(err).Str("func", "*sessionRepository.deleteWhere").Msg("error building delete query")
		return fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	if _, err = r.db.ExecContext(ctx, query, args...); err != nil {
		log.Err(err).Str("func", "*sessionRepository.deleteWhere").Msg("error deleting sessions")
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	return nil
}
