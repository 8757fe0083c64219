package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/MKhiriev/go-card-sync/internal/logger"
	"github.com/MKhiriev/go-card-sync/models"
)

func newTestSessionRepo(t *testing.T) (*sessionRepository, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	l := logger.Nop()
	repo := &sessionRepository{
		db:     &DB{DB: db, logger: l},
		logger: l,
	}
	return repo, mock, db
}

func TestSessionSave_Upsert(t *testing.T) {
	repo, mock, db := newTestSessionRepo(t)
	defer db.Close()

	session := models.Session{
		HostKey:      "abc123",
		SecondaryKey: "def456",
		Username:     "john",
		Path:         "/data/john",
		Version:      10,
		Created:      time.Now(),
	}

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(session.HostKey, session.SecondaryKey, session.Username, session.Path,
			session.Version, session.ClientVersion, session.Created).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Save(context.Background(), session); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSessionLoad_Success(t *testing.T) {
	repo, mock, db := newTestSessionRepo(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.
		NewRows([]string{"host_key", "secondary_key", "username", "path", "version", "client_version", "created_at"}).
		AddRow("abc123", "def456", "john", "/data/john", 10, "ankidesktop,2.1.0,win", now)

	mock.ExpectQuery("SELECT host_key, secondary_key, username, path, version, client_version, created_at FROM sessions").
		WithArgs("abc123").
		WillReturnRows(rows)

	session, err := repo.Load(context.Background(), models.HostKey("abc123"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.Username != "john" || session.SecondaryKey != "def456" || session.Version != 10 {
		t.Errorf("unexpected session: %+v", session)
	}
}

func TestSessionLoad_NotFound(t *testing.T) {
	repo, mock, db := newTestSessionRepo(t)
	defer db.Close()

	mock.ExpectQuery("SELECT host_key, secondary_key, username, path, version, client_version, created_at FROM sessions").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"host_key", "secondary_key", "username", "path", "version", "client_version", "created_at"}))

	_, err := repo.Load(context.Background(), models.HostKey("ghost"))
	if !errors.Is(err, ErrNoSessionWasFound) {
		t.Fatalf("expected ErrNoSessionWasFound, got %v", err)
	}
}

func TestSessionDelete_MissingRowIsNoError(t *testing.T) {
	repo, mock, db := newTestSessionRepo(t)
	defer db.Close()

	mock.ExpectExec("DELETE FROM sessions").
		WithArgs("abc123").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.Delete(context.Background(), models.HostKey("abc123")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
