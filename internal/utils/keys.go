package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MKhiriev/go-card-sync/models"
)

// GenerateHostKey derives a fresh opaque host key for the given username.
// The key is the hex form of a truncated SHA-256 digest over the username,
// the current time, and a random UUID, yielding the 32-character shape
// existing clients expect.
func GenerateHostKey(username string) models.HostKey {
	seed := strings.Join([]string{username, strconv.FormatInt(time.Now().Unix(), 10), uuid.NewString()}, ":")
	sum := sha256.Sum256([]byte(seed))
	return models.HostKey(hex.EncodeToString(sum[:16]))
}

// GenerateSecondaryKey returns a short 8-character session token.
func GenerateSecondaryKey() models.SecondaryKey {
	return models.SecondaryKey(Checksum([]byte(uuid.NewString()))[:8])
}
