package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MKhiriev/go-card-sync/internal/logger"
	"github.com/MKhiriev/go-card-sync/internal/store"
	"github.com/MKhiriev/go-card-sync/internal/utils"
	"github.com/MKhiriev/go-card-sync/models"
)

// Session wraps the persisted session record with the per-pass syncer
// state. The syncers are cached on the session so that a multi-request
// incremental sync keeps its usn window and chunk cursor between calls.
type Session struct {
	models.Session

	syncer   *CollectionSyncer
	media    *MediaSyncer
	lastUsed time.Time
}

// CollectionPath returns the collection file inside the session's root.
func (s *Session) CollectionPath() string {
	return filepath.Join(s.Path, store.CollectionFileName)
}

// Syncer returns the session's collection syncer, creating it on first use.
func (s *Session) Syncer(log *logger.Logger) *CollectionSyncer {
	if s.syncer == nil {
		s.syncer = NewCollectionSyncer(log)
	}
	return s.syncer
}

// MediaSyncer returns the session's media syncer, creating it on first use.
func (s *Session) MediaSyncer(log *logger.Logger) *MediaSyncer {
	if s.media == nil {
		s.media = NewMediaSyncer(s, log)
	}
	return s.media
}

// SessionStore keeps live sessions in memory and writes every mutation
// through to the session repository, so host keys survive restarts. All
// map access happens under one mutex; a save immediately followed by a load
// from another request observes the saved state.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[models.HostKey]*Session

	repo     store.SessionRepository
	dataRoot string
	ttl      time.Duration
	logger   *logger.Logger
}

// NewSessionStore constructs a [SessionStore] rooted at dataRoot. A zero
// ttl disables idle eviction.
func NewSessionStore(repo store.SessionRepository, dataRoot string, ttl time.Duration, log *logger.Logger) *SessionStore {
	log.Debug().Str("data_root", dataRoot).Dur("session_ttl", ttl).Msg("creating session store")
	return &SessionStore{
		sessions: map[models.HostKey]*Session{},
		repo:     repo,
		dataRoot: dataRoot,
		ttl:      ttl,
		logger:   log,
	}
}

// Create allocates a fresh session for username, generating both keys and
// ensuring the user's collection root exists.
func (s *SessionStore) Create(ctx context.Context, username string) (*Session, error) {
	path := filepath.Join(s.dataRoot, username)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("error creating user directory: %w", err)
	}

	session := &Session{
		Session: models.Session{
			HostKey:      utils.GenerateHostKey(username),
			SecondaryKey: utils.GenerateSecondaryKey(),
			Username:     username,
			Path:         path,
			Created:      time.Now().UTC(),
		},
		lastUsed: time.Now(),
	}

	if err := s.repo.Save(ctx, session.Session); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[session.HostKey] = session
	s.mu.Unlock()

	return session, nil
}

// Save persists the session's current state and refreshes the cache entry.
// Used after meta rewrites the negotiated protocol fields.
func (s *SessionStore) Save(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Save(ctx, session.Session); err != nil {
		return err
	}
	session.lastUsed = time.Now()
	s.sessions[session.HostKey] = session
	return nil
}

// Load resolves a session by host key, falling back to the repository when
// the in-memory cache has no live entry (e.g. after a restart).
func (s *SessionStore) Load(ctx context.Context, key models.HostKey) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[key]; ok {
		if s.expired(session) {
			delete(s.sessions, key)
		} else {
			session.lastUsed = time.Now()
			return session, nil
		}
	}

	record, err := s.repo.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	session := &Session{Session: record, lastUsed: time.Now()}
	s.sessions[key] = session
	return session, nil
}

// LoadBySecondaryKey resolves a session by its short media key.
func (s *SessionStore) LoadBySecondaryKey(ctx context.Context, key models.SecondaryKey) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, session := range s.sessions {
		if session.SecondaryKey == key && !s.expired(session) {
			session.lastUsed = time.Now()
			return session, nil
		}
	}

	record, err := s.repo.LoadBySecondaryKey(ctx, key)
	if err != nil {
		return nil, err
	}
	session := &Session{Session: record, lastUsed: time.Now()}
	s.sessions[session.HostKey] = session
	return session, nil
}

// Delete drops a session from both the cache and the repository.
func (s *SessionStore) Delete(ctx context.Context, key models.HostKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, key)
	if err := s.repo.Delete(ctx, key); err != nil && !errors.Is(err, store.ErrNoSessionWasFound) {
		return err
	}
	return nil
}

func (s *SessionStore) expired(session *Session) bool {
	return s.ttl > 0 && time.Since(session.lastUsed) > s.ttl
}
