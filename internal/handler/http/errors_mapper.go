package http

import (
	"errors"
	"net/http"

	"github.com/MKhiriev/go-card-sync/internal/service"
	"github.com/MKhiriev/go-card-sync/internal/store"
)

var errorStatusMap = map[error]int{
	service.ErrUnknownOperation:        http.StatusNotFound,
	service.ErrForbidden:               http.StatusForbidden,
	service.ErrUpgradeRequired:         http.StatusNotImplemented,
	service.ErrSyncNotStarted:          http.StatusBadRequest,
	service.ErrMetaTooLarge:            http.StatusBadRequest,
	service.ErrArchiveTooLarge:         http.StatusBadRequest,
	service.ErrMetaMismatch:            http.StatusBadRequest,
	service.ErrMediaFileMissing:        http.StatusBadRequest,
	service.ErrInvalidCollectionUpload: http.StatusBadRequest,

	store.ErrUsernameAlreadyExists: http.StatusConflict,
	store.ErrNoUserWasFound:        http.StatusNotFound,
	store.ErrNoSessionWasFound:     http.StatusForbidden,

	store.ErrBuildingSQLQuery:     http.StatusInternalServerError,
	store.ErrExecutingQuery:       http.StatusInternalServerError,
	store.ErrBeginningTransaction: http.StatusInternalServerError,
	store.ErrCommitingTransaction: http.StatusInternalServerError,
	store.ErrExecutingStatement:   http.StatusInternalServerError,
	store.ErrScanningRow:          http.StatusInternalServerError,
	store.ErrScanningRows:         http.StatusInternalServerError,
}

func statusFromError(err error) int {
	for target, status := range errorStatusMap {
		if errors.Is(err, target) {
			return status
		}
	}
	return http.StatusInternalServerError
}
