// Package service implements the sync protocol semantics: credential and
// session management, the incremental collection-sync state machine, the
// media bulk-diff protocol, and whole-collection replacement. The HTTP
// layer stays a thin dispatcher over these services.
package service

import (
	"github.com/MKhiriev/go-card-sync/internal/config"
	"github.com/MKhiriev/go-card-sync/internal/logger"
	"github.com/MKhiriev/go-card-sync/internal/store"
)

// Services bundles every service the transport layer needs.
type Services struct {
	Auth     *AuthService
	Sessions *SessionStore
	FullSync *FullSyncService
}

// NewServices wires the service layer over the given repositories.
func NewServices(users store.UserRepository, sessions store.SessionRepository, cfg *config.StructuredConfig, log *logger.Logger) *Services {
	return &Services{
		Auth:     NewAuthService(users, cfg.App.PasswordHashKey, log),
		Sessions: NewSessionStore(sessions, cfg.Storage.Files.DataRoot, cfg.App.SessionTTL, log),
		FullSync: NewFullSyncService(log),
	}
}
