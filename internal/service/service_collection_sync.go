package service

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/MKhiriev/go-card-sync/internal/logger"
	"github.com/MKhiriev/go-card-sync/internal/store"
	"github.com/MKhiriev/go-card-sync/internal/utils"
	"github.com/MKhiriev/go-card-sync/models"
)

// chunkRows caps how many rows a single chunk response may carry across
// all three tables combined.
const chunkRows = 250

// chunkTables is the fixed streaming order of the chunk protocol.
var chunkTables = []string{"revlog", "cards", "notes"}

// CollectionSyncer drives one incremental sync pass over a collection. It
// holds the usn window negotiated at start, the tie-break direction, and
// the chunk cursor; one instance is cached per session and reused across
// the requests of a pass. The collection handle is passed per call because
// the owning worker may have closed and reopened the file in between.
type CollectionSyncer struct {
	logger *logger.Logger

	started     bool
	minUsn      int64
	maxUsn      int64
	serverNewer bool

	tables []string // tables not yet exhausted by chunk
	cursor int64    // last row id streamed from tables[0]
}

// NewCollectionSyncer constructs a syncer with no pass in progress.
func NewCollectionSyncer(log *logger.Logger) *CollectionSyncer {
	return &CollectionSyncer{logger: log}
}

// Dispatch decodes the payload for op and runs it against col. Unknown
// operations return [ErrUnknownOperation]; pass-scoped operations called
// before start return [ErrSyncNotStarted].
func (s *CollectionSyncer) Dispatch(ctx context.Context, col *store.Collection, op string, payload []byte) (any, error) {
	switch op {
	case OpStart:
		var req models.StartRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		return s.Start(ctx, col, req)

	case OpApplyGraves:
		var req models.ApplyGravesRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		return nil, s.ApplyGraves(ctx, col, req)

	case OpApplyChanges:
		var req models.ApplyChangesRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		return s.ApplyChanges(ctx, col, req)

	case OpChunk:
		return s.Chunk(ctx, col)

	case OpApplyChunk:
		var req models.ApplyChunkRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		return nil, s.ApplyChunk(ctx, col, req)

	case OpSanityCheck2:
		var req models.SanityCheckRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		return s.SanityCheck(ctx, col, req)

	case OpFinish:
		return s.Finish(ctx, col)
	}

	return nil, ErrUnknownOperation
}

func decodePayload(payload []byte, dest any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return fmt.Errorf("error decoding request payload: %w", err)
	}
	return nil
}

// Meta answers the handshake: protocol gates first, then the collection
// and media identity the client uses to pick full or incremental sync.
func (s *CollectionSyncer) Meta(ctx context.Context, col *store.Collection, req models.MetaRequest) (any, error) {
	if isOldClient(req.ClientVersion) {
		return nil, ErrUpgradeRequired
	}
	if req.Version > syncProtoMax {
		return models.VersionGate{
			Msg: fmt.Sprintf("Your client is using an unsupported protocol version: %d", req.Version),
		}, nil
	}
	if req.Version < syncProtoV2Floor {
		schedVer, err := col.SchedulerVersion(ctx)
		if err != nil {
			return nil, err
		}
		if schedVer >= 2 {
			return models.VersionGate{
				Msg: "Your client does not support the v2 scheduler",
			}, nil
		}
	}

	meta, err := col.Meta(ctx)
	if err != nil {
		return nil, err
	}

	media, err := col.Media(ctx)
	if err != nil {
		return nil, err
	}
	mediaUsn, err := media.LastUsn(ctx)
	if err != nil {
		return nil, err
	}

	return models.MetaResponse{
		SchemaMod:  meta.Scm,
		ServerTime: utils.NowSeconds(),
		Mod:        meta.Mod,
		Usn:        meta.Usn,
		MediaUsn:   mediaUsn,
		Cont:       true,
	}, nil
}

// Start opens the pass: fixes the usn window, inverts the client's
// tie-break flag, and exchanges tombstones. The server's graves are
// collected before the client's are applied, so the response never echoes
// deletions the client just sent.
func (s *CollectionSyncer) Start(ctx context.Context, col *store.Collection, req models.StartRequest) (models.Graves, error) {
	meta, err := col.Meta(ctx)
	if err != nil {
		return models.Graves{}, err
	}

	s.started = true
	s.minUsn = req.MinUsn
	s.maxUsn = meta.Usn
	s.serverNewer = !req.LocalNewer
	s.tables = append([]string(nil), chunkTables...)
	s.cursor = 0

	graves, err := col.GravesSince(ctx, s.minUsn)
	if err != nil {
		return models.Graves{}, err
	}

	if req.Graves != nil {
		if err = col.ApplyGraves(ctx, *req.Graves, s.maxUsn); err != nil {
			return models.Graves{}, err
		}
	}

	return graves, nil
}

// ApplyGraves records one batch of client tombstones at the pass's maxUsn.
func (s *CollectionSyncer) ApplyGraves(ctx context.Context, col *store.Collection, req models.ApplyGravesRequest) error {
	if !s.started {
		return ErrSyncNotStarted
	}
	return col.ApplyGraves(ctx, req.Chunk, s.maxUsn)
}

// ApplyChanges exchanges schema-object change sets. The server's changes
// are collected before the client's are merged; conf and the creation time
// travel toward whichever side lost the tie-break.
func (s *CollectionSyncer) ApplyChanges(ctx context.Context, col *store.Collection, req models.ApplyChangesRequest) (models.Changes, error) {
	if !s.started {
		return models.Changes{}, ErrSyncNotStarted
	}

	serverChanges, err := col.ChangesSince(ctx, s.minUsn, s.serverNewer)
	if err != nil {
		return models.Changes{}, err
	}

	if err = col.MergeChanges(ctx, req.Changes, s.maxUsn, !s.serverNewer); err != nil {
		return models.Changes{}, err
	}

	return serverChanges, nil
}

// Chunk streams the next batch of changed rows in table order, at most
// chunkRows rows per call. Done flips on the call that exhausts the last
// table; the stored rows are never mutated, so a retried request replays
// the same batch.
func (s *CollectionSyncer) Chunk(ctx context.Context, col *store.Collection) (models.Chunk, error) {
	if !s.started {
		return models.Chunk{}, ErrSyncNotStarted
	}

	chunk := models.Chunk{}
	remaining := chunkRows

	for remaining > 0 && len(s.tables) > 0 {
		asked := uint64(remaining)
		var got int
		var err error

		switch s.tables[0] {
		case "revlog":
			var rows []models.RevlogRow
			rows, s.cursor, err = col.PendingRevlog(ctx, s.minUsn, s.maxUsn, s.cursor, asked)
			chunk.Revlog = append(chunk.Revlog, rows...)
			got = len(rows)
		case "cards":
			var rows []models.CardRow
			rows, s.cursor, err = col.PendingCards(ctx, s.minUsn, s.maxUsn, s.cursor, asked)
			chunk.Cards = append(chunk.Cards, rows...)
			got = len(rows)
		case "notes":
			var rows []models.NoteRow
			rows, s.cursor, err = col.PendingNotes(ctx, s.minUsn, s.maxUsn, s.cursor, asked)
			chunk.Notes = append(chunk.Notes, rows...)
			got = len(rows)
		}
		if err != nil {
			return models.Chunk{}, err
		}

		remaining -= got
		if uint64(got) < asked {
			// table exhausted, move to the next one
			s.tables = s.tables[1:]
			s.cursor = 0
		}
	}

	if len(s.tables) == 0 {
		chunk.Done = true
	}

	return chunk, nil
}

// ApplyChunk folds one batch of client rows into the collection, using the
// tie-break direction fixed at start.
func (s *CollectionSyncer) ApplyChunk(ctx context.Context, col *store.Collection, req models.ApplyChunkRequest) error {
	if !s.started {
		return ErrSyncNotStarted
	}
	return col.ApplyChunk(ctx, req.Chunk, !s.serverNewer)
}

// SanityCheck compares the client's digest against the server's own,
// structurally rather than byte for byte. On disagreement both digests are
// returned so the mismatch can be diagnosed client-side.
func (s *CollectionSyncer) SanityCheck(ctx context.Context, col *store.Collection, req models.SanityCheckRequest) (models.SanityCheckResponse, error) {
	if !s.started {
		return models.SanityCheckResponse{}, ErrSyncNotStarted
	}

	digest, err := col.SanityDigest(ctx)
	if err != nil {
		return models.SanityCheckResponse{}, err
	}

	if digestsEqual(req.Client, digest) {
		return models.SanityCheckResponse{Status: "ok"}, nil
	}

	logger.FromContext(ctx).Warn().Msg("sanity check mismatch")
	return models.SanityCheckResponse{
		Status: "bad",
		Client: req.Client,
		Server: digest,
	}, nil
}

// digestsEqual compares the raw client digest with the server digest by
// normalizing both through JSON, sidestepping formatting and numeric-type
// differences.
func digestsEqual(clientRaw json.RawMessage, server models.SanityDigest) bool {
	serverRaw, err := json.Marshal(server)
	if err != nil {
		return false
	}

	var clientVal, serverVal any
	if err := json.Unmarshal(clientRaw, &clientVal); err != nil {
		return false
	}
	if err := json.Unmarshal(serverRaw, &serverVal); err != nil {
		return false
	}

	return reflect.DeepEqual(clientVal, serverVal)
}

// Finish closes the pass: the collection's modification time moves one
// second past now so the client's follow-up meta sees the server as
// current, and the next free usn becomes maxUsn+1. Returns the new mod
// time, which the client adopts as its last-sync time.
func (s *CollectionSyncer) Finish(ctx context.Context, col *store.Collection) (int64, error) {
	if !s.started {
		return 0, ErrSyncNotStarted
	}

	mod := utils.NowMillis() + 1000
	if err := col.FinishSync(ctx, mod, s.maxUsn+1); err != nil {
		return 0, err
	}

	s.started = false
	s.tables = nil
	s.cursor = 0

	return mod, nil
}
