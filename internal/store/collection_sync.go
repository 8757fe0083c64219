package store

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-card-sync/internal/logger"
	"github.com/MKhiriev/go-card-sync/models"
)

// fieldSeparator splits the packed note fields inside notes.flds.
const fieldSeparator = "\x1f"

// GravesSince collects the server tombstones recorded at or after minUsn,
// partitioned by entity kind.
func (c *Collection) GravesSince(ctx context.Context, minUsn int64) (models.Graves, error) {
	if c.db == nil {
		return models.Graves{}, ErrCollectionClosed
	}

	rows, err := c.db.QueryContext(ctx, `SELECT oid, type FROM graves WHERE usn >= ?`, minUsn)
	if err != nil {
		return models.Graves{}, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	graves := models.Graves{Cards: []int64{}, Notes: []int64{}, Decks: []int64{}}
	for rows.Next() {
		var oid, kind int64
		if err := rows.Scan(&oid, &kind); err != nil {
			return models.Graves{}, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		switch kind {
		case models.RemCard:
			graves.Cards = append(graves.Cards, oid)
		case models.RemNote:
			graves.Notes = append(graves.Notes, oid)
		case models.RemDeck:
			graves.Decks = append(graves.Decks, oid)
		}
	}

	return graves, rows.Err()
}

// ApplyGraves deletes the entities named by the tombstone set and records
// each removal in the graves table at the given usn. Card and note graves
// delete their rows directly; deck graves drop the deck object from the
// decks blob without touching child decks or the deck's cards.
func (c *Collection) ApplyGraves(ctx context.Context, graves models.Graves, usn int64) error {
	if c.db == nil {
		return ErrCollectionClosed
	}

	// read before the write transaction opens
	var decks map[string]map[string]any
	if len(graves.Decks) > 0 {
		if err := c.readJSONColumn(ctx, "decks", &decks); err != nil {
			return err
		}
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBeginningTransaction, err)
	}
	defer tx.Rollback()

	if err = removeRows(ctx, tx, "cards", graves.Cards, usn, models.RemCard); err != nil {
		return err
	}
	if err = removeRows(ctx, tx, "notes", graves.Notes, usn, models.RemNote); err != nil {
		return err
	}

	if len(graves.Decks) > 0 {
		for _, id := range graves.Decks {
			delete(decks, strconv.FormatInt(id, 10))
			if _, err = tx.ExecContext(ctx, `INSERT INTO graves (usn, oid, type) VALUES (?, ?, ?)`, usn, id, models.RemDeck); err != nil {
				return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
			}
		}
		raw, err := json.Marshal(decks)
		if err != nil {
			return fmt.Errorf("error encoding col.decks: %w", err)
		}
		if _, err = tx.ExecContext(ctx, `UPDATE col SET decks = ?`, string(raw)); err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrCommitingTransaction, err)
	}
	return nil
}

func removeRows(ctx context.Context, tx *sql.Tx, table string, ids []int64, usn, kind int64) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sq.Delete(table).Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
	}

	for _, id := range ids {
		if _, err = tx.ExecContext(ctx, `INSERT INTO graves (usn, oid, type) VALUES (?, ?, ?)`, usn, id, kind); err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
		}
	}
	return nil
}

// ChangesSince collects the schema-object changes recorded at or after
// minUsn: models, decks, deck configs and tags. Conf and the creation time
// are attached only when includeConf is set (the server won the tie-break).
func (c *Collection) ChangesSince(ctx context.Context, minUsn int64, includeConf bool) (models.Changes, error) {
	changes := models.Changes{
		Models: []map[string]any{},
		Decks:  [2][]map[string]any{{}, {}},
		Tags:   []string{},
	}

	var modelMap, deckMap, dconfMap map[string]map[string]any
	if err := c.readJSONColumn(ctx, "models", &modelMap); err != nil {
		return changes, err
	}
	if err := c.readJSONColumn(ctx, "decks", &deckMap); err != nil {
		return changes, err
	}
	if err := c.readJSONColumn(ctx, "dconf", &dconfMap); err != nil {
		return changes, err
	}

	changes.Models = changedObjects(modelMap, minUsn)
	changes.Decks[0] = changedObjects(deckMap, minUsn)
	changes.Decks[1] = changedObjects(dconfMap, minUsn)

	var tags map[string]int64
	if err := c.readJSONColumn(ctx, "tags", &tags); err != nil {
		return changes, err
	}
	for name, usn := range tags {
		if usn >= minUsn {
			changes.Tags = append(changes.Tags, name)
		}
	}
	sort.Strings(changes.Tags)

	if includeConf {
		var conf map[string]any
		if err := c.readJSONColumn(ctx, "conf", &conf); err != nil {
			return changes, err
		}
		meta, err := c.Meta(ctx)
		if err != nil {
			return changes, err
		}
		changes.Conf = conf
		changes.Crt = meta.Crt
	}

	return changes, nil
}

func changedObjects(objects map[string]map[string]any, minUsn int64) []map[string]any {
	changed := []map[string]any{}
	for _, obj := range objects {
		if objInt(obj, "usn") >= minUsn {
			changed = append(changed, obj)
		}
	}
	// deterministic order for tests and digests
	sort.Slice(changed, func(i, j int) bool {
		return objInt(changed[i], "id") < objInt(changed[j], "id")
	})
	return changed
}

// MergeChanges folds the client's change set into the collection. Each
// remote schema object is adopted when the server has no object with that
// id or the remote copy is strictly newer by mod time. Unknown tags are
// registered at maxUsn. Conf and the creation time are adopted only when
// adoptConf is set (the client won the tie-break).
func (c *Collection) MergeChanges(ctx context.Context, remote models.Changes, maxUsn int64, adoptConf bool) error {
	if err := c.mergeObjects(ctx, "models", remote.Models); err != nil {
		return err
	}
	if err := c.mergeObjects(ctx, "decks", remote.Decks[0]); err != nil {
		return err
	}
	if err := c.mergeObjects(ctx, "dconf", remote.Decks[1]); err != nil {
		return err
	}

	if len(remote.Tags) > 0 {
		var tags map[string]int64
		if err := c.readJSONColumn(ctx, "tags", &tags); err != nil {
			return err
		}
		if tags == nil {
			tags = map[string]int64{}
		}
		for _, name := range remote.Tags {
			if _, ok := tags[name]; !ok {
				tags[name] = maxUsn
			}
		}
		if err := c.writeJSONColumn(ctx, "tags", tags); err != nil {
			return err
		}
	}

	if adoptConf {
		if remote.Conf != nil {
			if err := c.writeJSONColumn(ctx, "conf", remote.Conf); err != nil {
				return err
			}
		}
		if remote.Crt != 0 {
			if _, err := c.db.ExecContext(ctx, `UPDATE col SET crt = ?`, remote.Crt); err != nil {
				return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
			}
		}
	}

	return nil
}

func (c *Collection) mergeObjects(ctx context.Context, column string, remote []map[string]any) error {
	if len(remote) == 0 {
		return nil
	}

	var local map[string]map[string]any
	if err := c.readJSONColumn(ctx, column, &local); err != nil {
		return err
	}
	if local == nil {
		local = map[string]map[string]any{}
	}

	for _, obj := range remote {
		id := strconv.FormatInt(objInt(obj, "id"), 10)
		existing, ok := local[id]
		if !ok || objInt(obj, "mod") > objInt(existing, "mod") {
			local[id] = obj
		}
	}

	return c.writeJSONColumn(ctx, column, local)
}

func objInt(obj map[string]any, key string) int64 {
	switch v := obj[key].(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

// PendingRevlog returns up to limit review-log rows changed in the usn
// window, starting after the given row id. Payload rows carry maxUsn in
// their usn slot; the stored rows are left untouched so a retried request
// reproduces the same batch.
func (c *Collection) PendingRevlog(ctx context.Context, minUsn, maxUsn, afterID int64, limit uint64) ([]models.RevlogRow, int64, error) {
	rows, err := c.pendingRows(ctx, "revlog",
		[]string{"id", "cid", "usn", "ease", "ivl", "lastIvl", "factor", "time", "type"},
		minUsn, afterID, limit)
	if err != nil {
		return nil, afterID, err
	}
	defer rows.Close()

	var out []models.RevlogRow
	lastID := afterID
	for rows.Next() {
		var r models.RevlogRow
		if err := rows.Scan(&r.ID, &r.CID, &r.Usn, &r.Ease, &r.Ivl, &r.LastIvl, &r.Factor, &r.Time, &r.Type); err != nil {
			return nil, afterID, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		r.Usn = maxUsn
		lastID = r.ID
		out = append(out, r)
	}

	return out, lastID, rows.Err()
}

// PendingCards returns up to limit card rows changed in the usn window,
// starting after the given row id.
func (c *Collection) PendingCards(ctx context.Context, minUsn, maxUsn, afterID int64, limit uint64) ([]models.CardRow, int64, error) {
	rows, err := c.pendingRows(ctx, "cards",
		[]string{"id", "nid", "did", "ord", "mod", "usn", "type", "queue", "due", "ivl", "factor", "reps", "lapses", "left", "odue", "odid", "flags", "data"},
		minUsn, afterID, limit)
	if err != nil {
		return nil, afterID, err
	}
	defer rows.Close()

	var out []models.CardRow
	lastID := afterID
	for rows.Next() {
		var r models.CardRow
		if err := rows.Scan(&r.ID, &r.NID, &r.DID, &r.Ord, &r.Mod, &r.Usn, &r.Type, &r.Queue, &r.Due,
			&r.Ivl, &r.Factor, &r.Reps, &r.Lapses, &r.Left, &r.ODue, &r.ODid, &r.Flags, &r.Data); err != nil {
			return nil, afterID, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		r.Usn = maxUsn
		lastID = r.ID
		out = append(out, r)
	}

	return out, lastID, rows.Err()
}

// PendingNotes returns up to limit note rows changed in the usn window,
// starting after the given row id.
func (c *Collection) PendingNotes(ctx context.Context, minUsn, maxUsn, afterID int64, limit uint64) ([]models.NoteRow, int64, error) {
	rows, err := c.pendingRows(ctx, "notes",
		[]string{"id", "guid", "mid", "mod", "usn", "tags", "flds", "flags", "data"},
		minUsn, afterID, limit)
	if err != nil {
		return nil, afterID, err
	}
	defer rows.Close()

	var out []models.NoteRow
	lastID := afterID
	for rows.Next() {
		var r models.NoteRow
		if err := rows.Scan(&r.ID, &r.GUID, &r.MID, &r.Mod, &r.Usn, &r.Tags, &r.Flds, &r.Flags, &r.Data); err != nil {
			return nil, afterID, fmt.Errorf("%w: %w", ErrScanningRows, err)
		}
		r.Usn = maxUsn
		lastID = r.ID
		out = append(out, r)
	}

	return out, lastID, rows.Err()
}

func (c *Collection) pendingRows(ctx context.Context, table string, columns []string, minUsn, afterID int64, limit uint64) (*sql.Rows, error) {
	if c.db == nil {
		return nil, ErrCollectionClosed
	}

	query, args, err := c.builder.
		Select(columns...).
		From(table).
		Where(sq.And{sq.GtOrEq{"usn": minUsn}, sq.Gt{"id": afterID}}).
		OrderBy("id").
		Limit(limit).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	return rows, nil
}

// ApplyChunk folds one batch of client rows into the collection. Review-log
// entries are append-only and deduplicated by id. Cards and notes are
// adopted when missing locally or newer by mod time; on an exact mod tie
// the remote row wins only when remoteWins is set. Adopted notes get their
// sort field and checksum recomputed from the packed fields.
func (c *Collection) ApplyChunk(ctx context.Context, chunk models.Chunk, remoteWins bool) error {
	if c.db == nil {
		return ErrCollectionClosed
	}

	// read before the write transaction opens; needed to recompute note
	// derived fields below
	var modelMap map[string]map[string]any
	if len(chunk.Notes) > 0 {
		if err := c.readJSONColumn(ctx, "models", &modelMap); err != nil {
			return err
		}
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBeginningTransaction, err)
	}
	defer tx.Rollback()

	for _, r := range chunk.Revlog {
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO revlog (id, cid, usn, ease, ivl, lastIvl, factor, time, type)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.CID, r.Usn, r.Ease, r.Ivl, r.LastIvl, r.Factor, r.Time, r.Type)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
		}
	}

	for _, r := range chunk.Cards {
		adopt, err := shouldAdopt(ctx, tx, "cards", r.ID, r.Mod, remoteWins)
		if err != nil {
			return err
		}
		if !adopt {
			continue
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO cards (id, nid, did, ord, mod, usn, type, queue, due, ivl, factor, reps, lapses, left, odue, odid, flags, data)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.NID, r.DID, r.Ord, r.Mod, r.Usn, r.Type, r.Queue, r.Due,
			r.Ivl, r.Factor, r.Reps, r.Lapses, r.Left, r.ODue, r.ODid, r.Flags, r.Data)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
		}
	}

	if len(chunk.Notes) > 0 {
		for _, r := range chunk.Notes {
			adopt, err := shouldAdopt(ctx, tx, "notes", r.ID, r.Mod, remoteWins)
			if err != nil {
				return err
			}
			if !adopt {
				continue
			}
			sfld, csum := noteFieldCache(r.Flds, modelMap[strconv.FormatInt(r.MID, 10)])
			_, err = tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO notes (id, guid, mid, mod, usn, tags, flds, sfld, csum, flags, data)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.ID, r.GUID, r.MID, r.Mod, r.Usn, r.Tags, r.Flds, sfld, csum, r.Flags, r.Data)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrExecutingStatement, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrCommitingTransaction, err)
	}
	return nil
}

func shouldAdopt(ctx context.Context, tx *sql.Tx, table string, id, remoteMod int64, remoteWins bool) (bool, error) {
	var localMod int64
	err := tx.QueryRowContext(ctx, `SELECT mod FROM `+table+` WHERE id = ?`, id).Scan(&localMod)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}

	if remoteMod > localMod {
		return true, nil
	}
	return remoteMod == localMod && remoteWins, nil
}

// noteFieldCache recomputes the derived sort field and checksum for a note.
// The sort field is the model's sortf field (first field when the model is
// unknown); the checksum is the leading 32 bits of the SHA-1 of the first
// field, matching what clients store.
func noteFieldCache(flds string, model map[string]any) (string, int64) {
	fields := strings.Split(flds, fieldSeparator)

	sortIdx := 0
	if model != nil {
		if idx := objInt(model, "sortf"); idx > 0 && int(idx) < len(fields) {
			sortIdx = int(idx)
		}
	}

	sfld := ""
	if sortIdx < len(fields) {
		sfld = fields[sortIdx]
	}

	return sfld, fieldChecksum(fields[0])
}

func fieldChecksum(field string) int64 {
	sum := sha1.Sum([]byte(field))
	n, _ := strconv.ParseInt(hex.EncodeToString(sum[:])[:8], 16, 64)
	return n
}

// SanityDigest builds the structural digest compared against the client's
// at the end of an incremental sync.
func (c *Collection) SanityDigest(ctx context.Context) (models.SanityDigest, error) {
	if c.db == nil {
		return models.SanityDigest{}, ErrCollectionClosed
	}
	log := logger.FromContext(ctx)

	var d models.SanityDigest
	counts := []struct {
		dest  *int64
		query string
	}{
		{&d.Counts[0], `SELECT count(*) FROM cards WHERE queue = 0`},
		{&d.Counts[1], `SELECT count(*) FROM cards WHERE queue IN (1, 3)`},
		{&d.Counts[2], `SELECT count(*) FROM cards WHERE queue = 2`},
		{&d.Cards, `SELECT count(*) FROM cards`},
		{&d.Notes, `SELECT count(*) FROM notes`},
		{&d.Revlog, `SELECT count(*) FROM revlog`},
		{&d.Graves, `SELECT count(*) FROM graves`},
	}
	for _, cnt := range counts {
		if err := c.db.QueryRowContext(ctx, cnt.query).Scan(cnt.dest); err != nil {
			log.Err(err).Str("func", "*Collection.SanityDigest").Msg("error counting rows")
			return models.SanityDigest{}, fmt.Errorf("%w: %w", ErrScanningRow, err)
		}
	}

	for _, col := range []struct {
		dest   *int64
		column string
	}{
		{&d.Models, "models"},
		{&d.Decks, "decks"},
		{&d.DeckConf, "dconf"},
	} {
		var objects map[string]map[string]any
		if err := c.readJSONColumn(ctx, col.column, &objects); err != nil {
			return models.SanityDigest{}, err
		}
		*col.dest = int64(len(objects))
	}

	return d, nil
}
