package models

import "time"

// User is a server account record. PasswordHash is the HMAC-SHA256 of the
// password under the configured hash key; the plain password never reaches
// storage.
type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
