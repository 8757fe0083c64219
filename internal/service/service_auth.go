package service

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"

	"github.com/MKhiriev/go-card-sync/internal/logger"
	"github.com/MKhiriev/go-card-sync/internal/store"
	"github.com/MKhiriev/go-card-sync/internal/utils"
	"github.com/MKhiriev/go-card-sync/models"
)

// AuthService verifies credentials presented to hostKey and manages server
// accounts. Passwords are stored as HMAC-SHA256 digests keyed by the
// configured hash key.
type AuthService struct {
	users   store.UserRepository
	hashKey string
	logger  *logger.Logger
}

// NewAuthService constructs an [AuthService] over the given user repository.
func NewAuthService(users store.UserRepository, hashKey string, log *logger.Logger) *AuthService {
	log.Debug().Msg("creating auth service")
	return &AuthService{
		users:   users,
		hashKey: hashKey,
		logger:  log,
	}
}

// Authenticate checks the username/password pair against the stored
// credential. Unknown users and wrong passwords both come back as
// [ErrForbidden]; the two cases are indistinguishable to the caller.
func (s *AuthService) Authenticate(ctx context.Context, username, password string) error {
	log := logger.FromContext(ctx)

	user, err := s.users.FindUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNoUserWasFound) {
			log.Warn().Str("username", username).Msg("authentication failed: unknown user")
			return ErrForbidden
		}
		return fmt.Errorf("error looking up user: %w", err)
	}

	expected := user.PasswordHash
	presented := utils.HashString(password, s.hashKey)
	if !hmac.Equal([]byte(expected), []byte(presented)) {
		log.Warn().Str("username", username).Msg("authentication failed: wrong password")
		return ErrForbidden
	}

	return nil
}

// RegisterUser creates a new account with the given plain-text password.
func (s *AuthService) RegisterUser(ctx context.Context, username, password string) (models.User, error) {
	return s.users.CreateUser(ctx, models.User{
		Username:     username,
		PasswordHash: utils.HashString(password, s.hashKey),
	})
}

// DeleteUser removes an account. The caller is responsible for removing
// the user's collection data if desired.
func (s *AuthService) DeleteUser(ctx context.Context, username string) error {
	return s.users.DeleteUser(ctx, username)
}

// ListUsers returns every registered account.
func (s *AuthService) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.users.ListUsers(ctx)
}

// SetPassword overwrites an account's credential by recreating the user
// record with a fresh hash.
func (s *AuthService) SetPassword(ctx context.Context, username, password string) error {
	if err := s.users.DeleteUser(ctx, username); err != nil && !errors.Is(err, store.ErrNoUserWasFound) {
		return err
	}
	_, err := s.users.CreateUser(ctx, models.User{
		Username:     username,
		PasswordHash: utils.HashString(password, s.hashKey),
	})
	return err
}
