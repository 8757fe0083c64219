// Package utils provides general-purpose helper utilities used across
// different parts of the application: context keys, checksums, key
// generation, timestamps, and HTTP response writing.
package utils

import (
	"context"
)

// contextKey is a private type for context keys.
// Using a dedicated type instead of a plain string prevents key collisions
// with other packages that may use string-based keys in the context.
type contextKey string

// String returns the string representation of the context key.
func (c contextKey) String() string {
	return string(c)
}

// UsernameCtxKey is the key used to store the authenticated username in
// the context so downstream code can log it without re-resolving the
// session.
var UsernameCtxKey = contextKey("username")

// GetUsernameFromContext retrieves the authenticated username from ctx.
// ok is false when no username was stored or the stored value has an
// unexpected type.
func GetUsernameFromContext(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(UsernameCtxKey).(string)
	return username, ok
}
