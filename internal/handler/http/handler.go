// Package http is the transport layer: one dispatcher that decodes the
// form-encoded sync envelope, resolves the session, and hands the
// operation to the per-collection worker owning the user's files.
package http

import (
	"context"

	"github.com/MKhiriev/go-card-sync/internal/config"
	"github.com/MKhiriev/go-card-sync/internal/logger"
	"github.com/MKhiriev/go-card-sync/internal/service"
	"github.com/MKhiriev/go-card-sync/internal/worker"
)

// Hook observes operations as they pass through the dispatcher. Hooks run
// on the session's collection worker, pre-hooks just before the operation
// and post-hooks just after a successful one, so a hook may touch the
// collection without racing other jobs. A slow hook delays every queued
// job for that collection.
type Hook func(ctx context.Context, session *service.Session, op string)

type Handler struct {
	services *service.Services
	registry *worker.Registry

	baseURL      string
	baseMediaURL string

	prehooks  map[string][]Hook
	posthooks map[string][]Hook

	logger *logger.Logger
}

func NewHandler(services *service.Services, registry *worker.Registry, cfg config.Server, logger *logger.Logger) *Handler {
	logger.Info().Str("base_url", cfg.BaseURL).Str("base_media_url", cfg.BaseMediaURL).Msg("http handler created")
	return &Handler{
		services:     services,
		registry:     registry,
		baseURL:      cfg.BaseURL,
		baseMediaURL: cfg.BaseMediaURL,
		prehooks:     map[string][]Hook{},
		posthooks:    map[string][]Hook{},
		logger:       logger,
	}
}

// RegisterPreHook attaches a hook that runs before every execution of op.
func (h *Handler) RegisterPreHook(op string, hook Hook) {
	h.prehooks[op] = append(h.prehooks[op], hook)
}

// RegisterPostHook attaches a hook that runs after every successful
// execution of op.
func (h *Handler) RegisterPostHook(op string, hook Hook) {
	h.posthooks[op] = append(h.posthooks[op], hook)
}

func (h *Handler) runHooks(ctx context.Context, hooks map[string][]Hook, session *service.Session, op string) {
	for _, hook := range hooks[op] {
		hook(ctx, session, op)
	}
}
