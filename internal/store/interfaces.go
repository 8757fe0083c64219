package store

import (
	"context"

	"github.com/MKhiriev/go-card-sync/models"
)

// UserRepository manages server account records in the "users" table.
type UserRepository interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	FindUserByUsername(ctx context.Context, username string) (models.User, error)
	DeleteUser(ctx context.Context, username string) error
	ListUsers(ctx context.Context) ([]models.User, error)
}

// SessionRepository persists sync sessions so that host keys survive a
// server restart. The in-memory session cache rehydrates from it on miss.
type SessionRepository interface {
	Save(ctx context.Context, session models.Session) error
	Load(ctx context.Context, key models.HostKey) (models.Session, error)
	LoadBySecondaryKey(ctx context.Context, key models.SecondaryKey) (models.Session, error)
	Delete(ctx context.Context, key models.HostKey) error
	DeleteByUsername(ctx context.Context, username string) error
}

// ErrorClassificator decides whether a failed database operation should be
// retried or abandoned.
type ErrorClassificator interface {
	Classify(err error) ErrorClassification
}
