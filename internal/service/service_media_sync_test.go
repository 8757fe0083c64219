package service

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-card-sync/internal/logger"
	"github.com/MKhiriev/go-card-sync/internal/store"
	"github.com/MKhiriev/go-card-sync/models"
)

func newTestMediaSyncer(t *testing.T) (*MediaSyncer, *store.MediaIndex) {
	t.Helper()

	col := newSyncTestCollection(t)
	media, err := col.Media(context.Background())
	require.NoError(t, err)

	session := &Session{Session: models.Session{SecondaryKey: "sk123", Username: "john"}}
	return NewMediaSyncer(session, logger.Nop()), media
}

// buildUploadArchive packs files (content keyed by archive ordinal) and the
// given meta entries into an upload zip.
func buildUploadArchive(t *testing.T, meta []models.MediaMetaEntry, members map[string][]byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	metaRaw, err := json.Marshal(meta)
	require.NoError(t, err)
	w, err := zw.Create("_meta")
	require.NoError(t, err)
	_, err = w.Write(metaRaw)
	require.NoError(t, err)

	for name, content := range members {
		w, err = zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(content)
		require.NoError(t, err)
	}

	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestBegin_ReturnsSecondaryKeyAndUsn(t *testing.T) {
	ctx := context.Background()
	syncer, media := newTestMediaSyncer(t)

	envelope, err := syncer.Begin(ctx, media)
	require.NoError(t, err)

	payload, ok := envelope.Data.(models.MediaBeginPayload)
	require.True(t, ok, "expected begin payload, got %T", envelope.Data)
	assert.Equal(t, models.SecondaryKey("sk123"), payload.SecondaryKey)
	assert.Equal(t, int64(0), payload.Usn)
}

func TestUploadChanges_AddsAndDeletes(t *testing.T) {
	ctx := context.Background()
	syncer, media := newTestMediaSyncer(t)

	// seed a file that the upload will delete
	seed := buildUploadArchive(t,
		[]models.MediaMetaEntry{{Fname: "old.png", Ordinal: "0"}},
		map[string][]byte{"0": []byte("old bytes")},
	)
	_, err := syncer.UploadChanges(ctx, media, seed)
	require.NoError(t, err)
	require.FileExists(t, media.FilePath("old.png"))

	archive := buildUploadArchive(t,
		[]models.MediaMetaEntry{
			{Fname: "new.jpg", Ordinal: "0"},
			{Fname: "old.png", Ordinal: ""},
		},
		map[string][]byte{"0": []byte("new bytes")},
	)

	envelope, err := syncer.UploadChanges(ctx, media, archive)
	require.NoError(t, err)

	result, ok := envelope.Data.(models.MediaUploadResult)
	require.True(t, ok, "expected upload result, got %T", envelope.Data)
	assert.Equal(t, int64(2), result.Processed)
	assert.Equal(t, int64(3), result.LastUsn, "seed used usn 1, this upload 2 and 3")

	content, err := os.ReadFile(media.FilePath("new.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("new bytes"), content)
	assert.NoFileExists(t, media.FilePath("old.png"))

	entry, found, err := media.Lookup(ctx, "old.png")
	require.NoError(t, err)
	require.True(t, found, "deletion keeps a tombstone row")
	assert.Nil(t, entry.Csum)
	assert.Equal(t, int64(2), entry.Usn, "deletions take their usns before additions")

	added, found, err := media.Lookup(ctx, "new.jpg")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(3), added.Usn)

	lastUsn, err := media.LastUsn(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), lastUsn)
}

func TestUploadChanges_NormalizesFilenames(t *testing.T) {
	ctx := context.Background()
	syncer, media := newTestMediaSyncer(t)

	// the accent as a combining mark (NFD) versus precomposed (NFC)
	decomposed := "cafe\u0301.jpg"
	composed := "caf\u00e9.jpg"
	require.NotEqual(t, decomposed, composed)

	archive := buildUploadArchive(t,
		[]models.MediaMetaEntry{{Fname: decomposed, Ordinal: "0"}},
		map[string][]byte{"0": []byte("img")},
	)
	_, err := syncer.UploadChanges(ctx, media, archive)
	require.NoError(t, err)

	// the index and the disk both hold the composed form
	_, found, err := media.Lookup(ctx, composed)
	require.NoError(t, err)
	assert.True(t, found)
	assert.FileExists(t, media.FilePath(composed))
}

func TestUploadChanges_MetaMismatchLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	syncer, media := newTestMediaSyncer(t)

	// meta names an ordinal the archive does not carry
	archive := buildUploadArchive(t,
		[]models.MediaMetaEntry{
			{Fname: "a.jpg", Ordinal: "0"},
			{Fname: "b.jpg", Ordinal: "7"},
		},
		map[string][]byte{"0": []byte("a")},
	)

	_, err := syncer.UploadChanges(ctx, media, archive)
	assert.ErrorIs(t, err, ErrMetaMismatch)

	// nothing landed: no files, no index rows, usn unchanged
	assert.NoFileExists(t, media.FilePath("a.jpg"))
	count, err := media.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	usn, err := media.LastUsn(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), usn)
}

func TestUploadChanges_MissingMetaRejected(t *testing.T) {
	ctx := context.Background()
	syncer, media := newTestMediaSyncer(t)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("0")
	require.NoError(t, err)
	_, err = w.Write([]byte("stray"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = syncer.UploadChanges(ctx, media, buf.Bytes())
	assert.ErrorIs(t, err, ErrMetaMismatch)
}

func TestUploadChanges_OversizedMetaRejected(t *testing.T) {
	ctx := context.Background()
	syncer, media := newTestMediaSyncer(t)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("_meta")
	require.NoError(t, err)
	_, err = w.Write(bytes.Repeat([]byte("x"), mediaMetaLimit+1))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = syncer.UploadChanges(ctx, media, buf.Bytes())
	assert.ErrorIs(t, err, ErrMetaTooLarge)
}

func TestUploadChanges_OversizedArchiveRejected(t *testing.T) {
	ctx := context.Background()
	syncer, media := newTestMediaSyncer(t)

	_, err := syncer.UploadChanges(ctx, media, make([]byte, mediaArchiveLimit+1))
	assert.ErrorIs(t, err, ErrArchiveTooLarge)
}

func TestMediaChanges_BehindClientGetsFullIndex(t *testing.T) {
	ctx := context.Background()
	syncer, media := newTestMediaSyncer(t)

	archive := buildUploadArchive(t,
		[]models.MediaMetaEntry{
			{Fname: "a.jpg", Ordinal: "0"},
			{Fname: "b.jpg", Ordinal: "1"},
			{Fname: "c.jpg", Ordinal: "2"},
		},
		map[string][]byte{"0": []byte("a"), "1": []byte("b"), "2": []byte("c")},
	)
	_, err := syncer.UploadChanges(ctx, media, archive)
	require.NoError(t, err)

	// a client one step behind still gets the whole index, not a delta;
	// its local media database may be missing rows its cursor claims to
	// have seen
	envelope, err := syncer.MediaChanges(ctx, media, models.MediaChangesRequest{LastUsn: 2})
	require.NoError(t, err)

	rows, ok := envelope.Data.([]models.MediaChangeRow)
	require.True(t, ok, "expected change rows, got %T", envelope.Data)
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.Equal(t, int64(3), row.Usn, "rows report the server head usn")
		assert.NotNil(t, row.Csum)
	}

	// a fresh client at usn 0 gets the same full dump
	envelope, err = syncer.MediaChanges(ctx, media, models.MediaChangesRequest{LastUsn: 0})
	require.NoError(t, err)
	rows, ok = envelope.Data.([]models.MediaChangeRow)
	require.True(t, ok, "expected change rows, got %T", envelope.Data)
	assert.Len(t, rows, 3)

	// a caught-up client gets an empty list
	envelope, err = syncer.MediaChanges(ctx, media, models.MediaChangesRequest{LastUsn: 3})
	require.NoError(t, err)
	assert.Empty(t, envelope.Data)
}

func TestMediaSanity_ComparesLiveCounts(t *testing.T) {
	ctx := context.Background()
	syncer, media := newTestMediaSyncer(t)

	archive := buildUploadArchive(t,
		[]models.MediaMetaEntry{{Fname: "a.jpg", Ordinal: "0"}},
		map[string][]byte{"0": []byte("a")},
	)
	_, err := syncer.UploadChanges(ctx, media, archive)
	require.NoError(t, err)

	envelope, err := syncer.MediaSanity(ctx, media, models.MediaSanityRequest{Local: 1})
	require.NoError(t, err)
	assert.Equal(t, "OK", envelope.Data)

	envelope, err = syncer.MediaSanity(ctx, media, models.MediaSanityRequest{Local: 5})
	require.NoError(t, err)
	assert.Equal(t, "FAILED", envelope.Data)
}

func TestDownloadFiles_RoundTrip(t *testing.T) {
	ctx := context.Background()
	syncer, media := newTestMediaSyncer(t)

	archive := buildUploadArchive(t,
		[]models.MediaMetaEntry{
			{Fname: "a.jpg", Ordinal: "0"},
			{Fname: "b.jpg", Ordinal: "1"},
		},
		map[string][]byte{"0": []byte("alpha"), "1": []byte("beta")},
	)
	_, err := syncer.UploadChanges(ctx, media, archive)
	require.NoError(t, err)

	raw, err := syncer.DownloadFiles(ctx, media, models.MediaDownloadRequest{Files: []string{"a.jpg", "b.jpg"}})
	require.NoError(t, err)

	reader, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)

	var manifest map[string]string
	contents := map[string][]byte{}
	for _, f := range reader.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		if f.Name == "_meta" {
			require.NoError(t, json.Unmarshal(data, &manifest))
			continue
		}
		contents[f.Name] = data
	}

	require.Len(t, manifest, 2)
	assert.Equal(t, []byte("alpha"), contents["0"])
	assert.Equal(t, []byte("beta"), contents["1"])
	assert.Equal(t, "a.jpg", manifest["0"])
	assert.Equal(t, "b.jpg", manifest["1"])
}

func TestDownloadFiles_StopsAtOrdinalCeiling(t *testing.T) {
	ctx := context.Background()
	syncer, media := newTestMediaSyncer(t)

	var meta []models.MediaMetaEntry
	members := map[string][]byte{}
	var requested []string
	for i := 0; i < 30; i++ {
		name := "f" + strconv.Itoa(i) + ".png"
		ord := strconv.Itoa(i)
		meta = append(meta, models.MediaMetaEntry{Fname: name, Ordinal: ord})
		members[ord] = []byte{byte(i)}
		requested = append(requested, name)
	}
	_, err := syncer.UploadChanges(ctx, media, buildUploadArchive(t, meta, members))
	require.NoError(t, err)

	raw, err := syncer.DownloadFiles(ctx, media, models.MediaDownloadRequest{Files: requested})
	require.NoError(t, err)

	reader, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)

	var manifest map[string]string
	for _, f := range reader.File {
		if f.Name != "_meta" {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &manifest))
	}

	// ordinals 0..25 fit; the remainder is left for the next request
	assert.Len(t, manifest, mediaZipMaxOrdinal+1)
}

func TestDownloadFiles_ExactSizeCeilingIsNotExceeded(t *testing.T) {
	ctx := context.Background()
	syncer, media := newTestMediaSyncer(t)

	// two files summing to exactly the size ceiling, plus one more byte
	half := bytes.Repeat([]byte("x"), mediaZipTargetSize/2)
	archive := buildUploadArchive(t,
		[]models.MediaMetaEntry{
			{Fname: "a.bin", Ordinal: "0"},
			{Fname: "b.bin", Ordinal: "1"},
			{Fname: "c.bin", Ordinal: "2"},
		},
		map[string][]byte{"0": half, "1": half, "2": []byte("y")},
	)
	_, err := syncer.UploadChanges(ctx, media, archive)
	require.NoError(t, err)

	raw, err := syncer.DownloadFiles(ctx, media, models.MediaDownloadRequest{Files: []string{"a.bin", "b.bin", "c.bin"}})
	require.NoError(t, err)

	reader, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)

	var manifest map[string]string
	for _, f := range reader.File {
		if f.Name != "_meta" {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &manifest))
	}

	// exactly at the ceiling is not over it; the third file still fits
	assert.Len(t, manifest, 3)
}

func TestDownloadFiles_MissingFile(t *testing.T) {
	ctx := context.Background()
	syncer, media := newTestMediaSyncer(t)

	_, err := syncer.DownloadFiles(ctx, media, models.MediaDownloadRequest{Files: []string{"ghost.png"}})
	assert.ErrorIs(t, err, ErrMediaFileMissing)
}
