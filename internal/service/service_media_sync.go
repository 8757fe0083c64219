package service

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/unicode/norm"

	"github.com/MKhiriev/go-card-sync/internal/logger"
	"github.com/MKhiriev/go-card-sync/internal/store"
	"github.com/MKhiriev/go-card-sync/internal/utils"
	"github.com/MKhiriev/go-card-sync/models"
)

// Media protocol limits, fixed by what shipped clients enforce.
const (
	// mediaZipTargetSize is the soft payload ceiling of a download archive;
	// the file that crosses it is still included.
	mediaZipTargetSize = 2.5 * 1024 * 1024

	// mediaZipMaxOrdinal is the highest archive member ordinal in a
	// download archive.
	mediaZipMaxOrdinal = 25

	// mediaMetaLimit caps the byte size of an upload archive's _meta member.
	mediaMetaLimit = 100_000

	// mediaArchiveLimit caps the byte size of a whole upload archive.
	mediaArchiveLimit = 100 * 1024 * 1024
)

// MediaSyncer answers the media-sync operation family for one session.
// Unlike the collection syncer it keeps no pass state: every operation is
// self-contained against the media index.
type MediaSyncer struct {
	session *Session
	logger  *logger.Logger
}

// NewMediaSyncer constructs a [MediaSyncer] bound to the given session.
func NewMediaSyncer(session *Session, log *logger.Logger) *MediaSyncer {
	return &MediaSyncer{session: session, logger: log}
}

// Dispatch decodes the payload for op and runs it against the collection's
// media index. downloadFiles returns raw zip bytes; every other operation
// returns a [models.MediaEnvelope].
func (s *MediaSyncer) Dispatch(ctx context.Context, col *store.Collection, op string, payload []byte) (any, error) {
	media, err := col.Media(ctx)
	if err != nil {
		return nil, err
	}

	switch op {
	case OpBegin:
		return s.Begin(ctx, media)

	case OpMediaChanges:
		var req models.MediaChangesRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		return s.MediaChanges(ctx, media, req)

	case OpMediaSanity:
		var req models.MediaSanityRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		return s.MediaSanity(ctx, media, req)

	case OpUploadChanges:
		return s.UploadChanges(ctx, media, payload)

	case OpDownloadFiles:
		var req models.MediaDownloadRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		return s.DownloadFiles(ctx, media, req)
	}

	return nil, ErrUnknownOperation
}

// Begin opens a media session: the client learns the secondary key to use
// on subsequent media calls and the server's current media usn.
func (s *MediaSyncer) Begin(ctx context.Context, media *store.MediaIndex) (models.MediaEnvelope, error) {
	usn, err := media.LastUsn(ctx)
	if err != nil {
		return models.MediaEnvelope{}, err
	}

	return models.MediaEnvelope{
		Data: models.MediaBeginPayload{
			SecondaryKey: s.session.SecondaryKey,
			Usn:          usn,
		},
	}, nil
}

// MediaChanges hands a behind client the full index: every row with its
// filename and checksum, tombstones included, each stamped with the
// server's current usn rather than the row's own so the client's cursor
// lands on the head of the log in one step. A client already at the head
// gets an empty list. The dump is deliberately not windowed by the
// client's cursor; a restored media database with a stale cursor still
// resyncs completely.
func (s *MediaSyncer) MediaChanges(ctx context.Context, media *store.MediaIndex, req models.MediaChangesRequest) (models.MediaEnvelope, error) {
	serverUsn, err := media.LastUsn(ctx)
	if err != nil {
		return models.MediaEnvelope{}, err
	}

	rows := []models.MediaChangeRow{}
	if req.LastUsn < serverUsn || req.LastUsn == 0 {
		entries, err := media.ChangesSince(ctx, 0)
		if err != nil {
			return models.MediaEnvelope{}, err
		}
		for _, e := range entries {
			rows = append(rows, models.MediaChangeRow{
				Fname: e.Fname,
				Usn:   serverUsn,
				Csum:  e.Csum,
			})
		}
	}

	return models.MediaEnvelope{Data: rows}, nil
}

// MediaSanity compares the client's live file count against the server's.
func (s *MediaSyncer) MediaSanity(ctx context.Context, media *store.MediaIndex, req models.MediaSanityRequest) (models.MediaEnvelope, error) {
	count, err := media.Count(ctx)
	if err != nil {
		return models.MediaEnvelope{}, err
	}

	if count == req.Local {
		return models.MediaEnvelope{Data: "OK"}, nil
	}

	logger.FromContext(ctx).Warn().
		Int64("server_count", count).
		Int64("client_count", req.Local).
		Msg("media sanity mismatch")
	return models.MediaEnvelope{Data: "FAILED"}, nil
}

type stagedAdd struct {
	fname   string
	content []byte
}

// UploadChanges ingests a client upload archive. The _meta member lists
// (filename, ordinal) pairs; an empty ordinal is a deletion, any other
// names the archive member carrying the file's content. The index and the
// media directory are only touched after every meta entry has been matched;
// a mismatched archive is rejected whole.
func (s *MediaSyncer) UploadChanges(ctx context.Context, media *store.MediaIndex, archive []byte) (models.MediaEnvelope, error) {
	log := logger.FromContext(ctx)

	if len(archive) > mediaArchiveLimit {
		return models.MediaEnvelope{}, ErrArchiveTooLarge
	}

	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return models.MediaEnvelope{}, fmt.Errorf("error opening upload archive: %w", err)
	}

	meta, members, err := readUploadArchive(reader)
	if err != nil {
		return models.MediaEnvelope{}, err
	}

	// match every meta entry before touching anything
	var adds []stagedAdd
	var deletes []string
	for _, entry := range meta {
		fname := norm.NFC.String(entry.Fname)
		if entry.Ordinal == "" {
			deletes = append(deletes, fname)
			continue
		}
		content, ok := members[entry.Ordinal]
		if !ok {
			log.Warn().Str("ordinal", entry.Ordinal).Str("fname", fname).Msg("meta entry without archive member")
			continue
		}
		adds = append(adds, stagedAdd{fname: fname, content: content})
	}

	processed := len(adds) + len(deletes)
	if processed != len(meta) {
		log.Error().
			Int("processed", processed).
			Int("meta_entries", len(meta)).
			Msg("upload archive does not match its meta; discarding")
		return models.MediaEnvelope{}, ErrMetaMismatch
	}

	oldUsn, err := media.LastUsn(ctx)
	if err != nil {
		return models.MediaEnvelope{}, err
	}

	// deletions first, then additions; an archive that deletes and
	// re-adds the same name must end with the file present
	usn := oldUsn
	for _, fname := range deletes {
		usn++
		if err = media.MarkDeleted(ctx, fname, usn); err != nil {
			return models.MediaEnvelope{}, err
		}
		if err = os.Remove(media.FilePath(fname)); err != nil && !os.IsNotExist(err) {
			// tombstone recorded; the orphan file only wastes disk
			log.Warn().Err(err).Str("fname", fname).Msg("error removing media file")
		}
	}

	mtime := utils.NowSeconds()
	for _, add := range adds {
		usn++
		if err = os.WriteFile(media.FilePath(add.fname), add.content, 0o644); err != nil {
			return models.MediaEnvelope{}, fmt.Errorf("error writing media file: %w", err)
		}
		csum := utils.Checksum(add.content)
		err = media.Upsert(ctx, models.MediaEntry{
			Fname: add.fname,
			Csum:  &csum,
			Mtime: mtime,
			Usn:   usn,
		})
		if err != nil {
			return models.MediaEnvelope{}, err
		}
	}

	if err = media.SetLastUsn(ctx, usn); err != nil {
		return models.MediaEnvelope{}, err
	}

	log.Info().
		Int("added", len(adds)).
		Int("deleted", len(deletes)).
		Int64("last_usn", usn).
		Msg("media upload applied")

	return models.MediaEnvelope{
		Data: models.MediaUploadResult{
			Processed: int64(processed),
			LastUsn:   usn,
		},
	}, nil
}

func readUploadArchive(reader *zip.Reader) ([]models.MediaMetaEntry, map[string][]byte, error) {
	var meta []models.MediaMetaEntry
	members := map[string][]byte{}
	sawMeta := false

	for _, f := range reader.File {
		rc, err := f.Open()
		if err != nil {
			return nil, nil, fmt.Errorf("error opening archive member %q: %w", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("error reading archive member %q: %w", f.Name, err)
		}

		if f.Name == "_meta" {
			if len(content) > mediaMetaLimit {
				return nil, nil, ErrMetaTooLarge
			}
			if err = json.Unmarshal(content, &meta); err != nil {
				return nil, nil, fmt.Errorf("error decoding upload meta: %w", err)
			}
			sawMeta = true
			continue
		}
		members[f.Name] = content
	}

	if !sawMeta {
		return nil, nil, ErrMetaMismatch
	}
	return meta, members, nil
}

// DownloadFiles packs the requested files into a zip archive, stopping
// once the size or ordinal ceiling is crossed. The _meta member maps each
// ordinal back to its filename; the client re-requests whatever did not
// fit.
func (s *MediaSyncer) DownloadFiles(ctx context.Context, media *store.MediaIndex, req models.MediaDownloadRequest) ([]byte, error) {
	log := logger.FromContext(ctx)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	manifest := map[string]string{}

	size := 0
	ordinal := 0
	for _, fname := range req.Files {
		content, err := os.ReadFile(media.FilePath(fname))
		if err != nil {
			log.Error().Err(err).Str("fname", fname).Msg("requested media file unreadable")
			return nil, ErrMediaFileMissing
		}

		name := fmt.Sprintf("%d", ordinal)
		w, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("error creating archive member: %w", err)
		}
		if _, err = w.Write(content); err != nil {
			return nil, fmt.Errorf("error writing archive member: %w", err)
		}
		manifest[name] = fname

		size += len(content)
		if size > mediaZipTargetSize || ordinal >= mediaZipMaxOrdinal {
			break
		}
		ordinal++
	}

	metaRaw, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("error encoding download meta: %w", err)
	}
	w, err := zw.Create("_meta")
	if err != nil {
		return nil, fmt.Errorf("error creating meta member: %w", err)
	}
	if _, err = w.Write(metaRaw); err != nil {
		return nil, fmt.Errorf("error writing meta member: %w", err)
	}

	if err = zw.Close(); err != nil {
		return nil, fmt.Errorf("error finalizing archive: %w", err)
	}

	return buf.Bytes(), nil
}
