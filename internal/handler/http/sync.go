package http

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MKhiriev/go-card-sync/internal/logger"
	"github.com/MKhiriev/go-card-sync/internal/service"
	"github.com/MKhiriev/go-card-sync/internal/store"
	"github.com/MKhiriev/go-card-sync/internal/utils"
	"github.com/MKhiriev/go-card-sync/models"
)

// maxFormMemory bounds how much of a multipart body is held in memory
// before spilling to disk; collection uploads can reach tens of megabytes.
const maxFormMemory = 32 << 20

// syncOp is the single entry point for every sync operation. The envelope
// is always a form-encoded POST: "k" or "sk" identifies the session, "c"
// flags a gzipped "data" field, and the operation is the final path
// segment.
func (h *Handler) syncOp(w http.ResponseWriter, r *http.Request) {
	log := logger.FromRequest(r)

	op := chi.URLParam(r, "op")
	if !service.KnownOp(op) {
		http.NotFound(w, r)
		return
	}

	data, err := h.readDataField(r)
	if err != nil {
		log.Warn().Err(err).Str("op", op).Msg("unreadable request payload")
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}

	if op == service.OpHostKey {
		h.hostKey(w, r, data)
		return
	}

	session, err := h.resolveSession(r)
	if err != nil {
		log.Warn().Err(err).Str("op", op).Msg("request without valid session")
		h.writeError(w, r, err)
		return
	}

	ctx := context.WithValue(r.Context(), utils.UsernameCtxKey, session.Username)

	// meta renegotiates the session's protocol parameters; persist them
	// before running so a parallel request observes the saved state.
	// only fields the payload actually carries overwrite the session.
	var metaReq models.MetaRequest
	if op == service.OpMeta {
		var fields struct {
			Version       *int    `json:"v"`
			ClientVersion *string `json:"cv"`
		}
		if len(data) > 0 {
			if err = json.Unmarshal(data, &fields); err != nil {
				log.Warn().Err(err).Msg("undecodable meta payload")
				http.Error(w, "invalid request payload", http.StatusBadRequest)
				return
			}
		}
		if fields.Version != nil {
			session.Version = *fields.Version
		}
		if fields.ClientVersion != nil {
			session.ClientVersion = *fields.ClientVersion
		}
		if err = h.services.Sessions.Save(ctx, session); err != nil {
			h.writeError(w, r, err)
			return
		}
		if session, err = h.services.Sessions.Load(ctx, session.HostKey); err != nil {
			h.writeError(w, r, err)
			return
		}
		metaReq = models.MetaRequest{Version: session.Version, ClientVersion: session.ClientVersion}
	}

	// hooks run on the collection worker, bracketing the operation, so
	// they may touch the session's collection without racing other jobs
	executor := h.registry.Executor(session.CollectionPath())
	result, err := executor.Submit(ctx, func(ctx context.Context, col *store.Collection) (any, error) {
		h.runHooks(ctx, h.prehooks, session, op)

		value, err := h.runOp(ctx, col, session, op, data, metaReq)
		if err != nil {
			return nil, err
		}

		h.runHooks(ctx, h.posthooks, session, op)
		return value, nil
	})
	if err != nil {
		log.Error().Err(err).Str("op", op).Str("username", session.Username).Msg("sync operation failed")
		h.writeError(w, r, err)
		return
	}

	writeResult(w, result)
}

// runOp routes one dispatched operation to its service.
func (h *Handler) runOp(ctx context.Context, col *store.Collection, session *service.Session, op string, data []byte, metaReq models.MetaRequest) (any, error) {
	switch {
	case op == service.OpMeta:
		return session.Syncer(h.logger).Meta(ctx, col, metaReq)
	case op == service.OpUpload:
		return h.services.FullSync.Upload(ctx, col, data)
	case op == service.OpDownload:
		return h.services.FullSync.Download(ctx, col)
	case service.CollectionOps[op]:
		return session.Syncer(h.logger).Dispatch(ctx, col, op, data)
	case service.MediaOps[op]:
		return session.MediaSyncer(h.logger).Dispatch(ctx, col, op, data)
	}
	return nil, service.ErrUnknownOperation
}

// hostKey authenticates the credentials in the payload and issues a fresh
// session. Failed logins get a 403 with a literal null body, which is what
// shipped clients test for.
func (h *Handler) hostKey(w http.ResponseWriter, r *http.Request, data []byte) {
	log := logger.FromRequest(r)

	var req models.HostKeyRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Warn().Err(err).Msg("undecodable hostKey payload")
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}

	if err := h.services.Auth.Authenticate(r.Context(), req.Username, req.Password); err != nil {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("null"))
		return
	}

	session, err := h.services.Sessions.Create(r.Context(), req.Username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	log.Info().Str("username", req.Username).Msg("host key issued")
	utils.WriteJSON(w, models.HostKeyResponse{Key: session.HostKey}, http.StatusOK)
}

// readDataField extracts the operation payload: the "data" file part (or
// form value), gunzipped when the "c" flag is set.
func (h *Handler) readDataField(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, err
	}

	var data []byte
	file, _, err := r.FormFile("data")
	switch {
	case err == nil:
		data, err = io.ReadAll(file)
		file.Close()
		if err != nil {
			return nil, err
		}
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		data = []byte(r.FormValue("data"))
	default:
		return nil, err
	}

	if compressed := r.FormValue("c"); compressed != "" && compressed != "0" && len(data) > 0 {
		return gunzip(data)
	}
	return data, nil
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// resolveSession loads the session named by the "k" host key or, for media
// operations after begin, the "sk" secondary key.
func (h *Handler) resolveSession(r *http.Request) (*service.Session, error) {
	if k := r.FormValue("k"); k != "" {
		return h.services.Sessions.Load(r.Context(), models.HostKey(k))
	}
	if sk := r.FormValue("sk"); sk != "" {
		return h.services.Sessions.LoadBySecondaryKey(r.Context(), models.SecondaryKey(sk))
	}
	return nil, service.ErrForbidden
}

// writeResult serializes an operation result: raw bytes for binary
// payloads (zip archives, collection files), plain text for bare strings,
// JSON for everything else.
func writeResult(w http.ResponseWriter, result any) {
	switch v := result.(type) {
	case nil:
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("null"))
	case []byte:
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(v)
	case string:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(v))
	default:
		utils.WriteJSON(w, v, http.StatusOK)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFromError(err)
	if status == http.StatusForbidden {
		w.WriteHeader(status)
		w.Write([]byte("null"))
		return
	}
	http.Error(w, http.StatusText(status), status)
}
