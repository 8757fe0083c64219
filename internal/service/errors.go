package service

import "errors"

// Sentinel errors surfaced by the sync services. The HTTP layer maps these
// onto protocol status codes.
var (
	// ErrUnknownOperation is returned when a request names an operation
	// outside the collection-sync and media-sync vocabularies.
	ErrUnknownOperation = errors.New("unknown sync operation")

	// ErrForbidden is returned when credentials do not match or a request
	// carries no resolvable session.
	ErrForbidden = errors.New("forbidden")

	// ErrUpgradeRequired is returned when the connecting client predates the
	// oldest version the protocol implementation still understands.
	ErrUpgradeRequired = errors.New("client upgrade required")

	// ErrSyncNotStarted is returned when an incremental-sync operation
	// arrives before start established the usn window for the pass.
	ErrSyncNotStarted = errors.New("sync pass not started")

	// ErrMetaTooLarge is returned when a media upload's _meta member
	// exceeds the protocol limit.
	ErrMetaTooLarge = errors.New("media meta entry list too large")

	// ErrArchiveTooLarge is returned when a media upload archive exceeds
	// the protocol limit.
	ErrArchiveTooLarge = errors.New("media archive too large")

	// ErrMetaMismatch is returned when the number of processed archive
	// entries disagrees with the _meta list; the whole upload is discarded.
	ErrMetaMismatch = errors.New("media meta does not match archive contents")

	// ErrMediaFileMissing is returned when a requested download names a
	// file absent from the media directory.
	ErrMediaFileMissing = errors.New("requested media file is missing")

	// ErrInvalidCollectionUpload is returned when a full-sync upload fails
	// the sqlite integrity check; the existing collection is kept.
	ErrInvalidCollectionUpload = errors.New("uploaded collection failed integrity check")
)
