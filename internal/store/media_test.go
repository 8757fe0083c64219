package store

import (
	"context"
	"testing"

	"github.com/MKhiriev/go-card-sync/internal/logger"
	"github.com/MKhiriev/go-card-sync/models"
)

func newTestMediaIndex(t *testing.T) *MediaIndex {
	t.Helper()

	media, err := OpenMediaIndex(context.Background(), t.TempDir(), logger.Nop())
	if err != nil {
		t.Fatalf("failed to open media index: %v", err)
	}
	t.Cleanup(func() { media.Close() })
	return media
}

func TestMediaIndex_FreshState(t *testing.T) {
	ctx := context.Background()
	media := newTestMediaIndex(t)

	usn, err := media.LastUsn(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usn != 0 {
		t.Errorf("expected usn 0, got %d", usn)
	}

	count, err := media.Count(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 files, got %d", count)
	}
}

func TestMediaIndex_UpsertTombstoneAndChanges(t *testing.T) {
	ctx := context.Background()
	media := newTestMediaIndex(t)

	csum := "deadbeef"
	if err := media.Upsert(ctx, models.MediaEntry{Fname: "a.jpg", Csum: &csum, Mtime: 100, Usn: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := media.Upsert(ctx, models.MediaEntry{Fname: "b.jpg", Csum: &csum, Mtime: 100, Usn: 2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := media.SetLastUsn(ctx, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	count, _ := media.Count(ctx)
	if count != 2 {
		t.Errorf("expected 2 live files, got %d", count)
	}

	// tombstone keeps the row but drops it from the live count
	if err := media.MarkDeleted(ctx, "a.jpg", 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	count, _ = media.Count(ctx)
	if count != 1 {
		t.Errorf("expected 1 live file after tombstone, got %d", count)
	}

	entry, found, err := media.Lookup(ctx, "a.jpg")
	if err != nil || !found {
		t.Fatalf("expected tombstoned row still present, found=%v err=%v", found, err)
	}
	if entry.Csum != nil {
		t.Errorf("expected nil checksum on tombstone, got %v", *entry.Csum)
	}

	changes, err := media.ChangesSince(ctx, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changes) != 1 || changes[0].Fname != "a.jpg" {
		t.Errorf("expected only the usn>2 tombstone, got %v", changes)
	}

	all, _ := media.ChangesSince(ctx, 0)
	if len(all) != 2 {
		t.Errorf("expected 2 rows since usn 0, got %d", len(all))
	}
}

func TestMediaIndex_UpsertReplacesExisting(t *testing.T) {
	ctx := context.Background()
	media := newTestMediaIndex(t)

	first := "aaaa"
	second := "bbbb"
	media.Upsert(ctx, models.MediaEntry{Fname: "x.png", Csum: &first, Mtime: 1, Usn: 1})
	media.Upsert(ctx, models.MediaEntry{Fname: "x.png", Csum: &second, Mtime: 2, Usn: 2})

	entry, found, err := media.Lookup(ctx, "x.png")
	if err != nil || !found {
		t.Fatalf("expected row, found=%v err=%v", found, err)
	}
	if entry.Csum == nil || *entry.Csum != second || entry.Usn != 2 {
		t.Errorf("expected replaced row, got %+v", entry)
	}

	count, _ := media.Count(ctx)
	if count != 1 {
		t.Errorf("expected 1 live file, got %d", count)
	}
}
