// Package models defines the wire-level data types exchanged by the
// collection-sync and media-sync protocols. Several row types use a
// positional array encoding on the wire (inherited from the client's
// sqlite row dumps) and therefore carry custom JSON codecs.
package models

import (
	"encoding/json"
	"fmt"
)

// Grave type discriminators stored in the graves table.
const (
	RemCard int64 = 0
	RemNote int64 = 1
	RemDeck int64 = 2
)

// Graves is a tombstone set partitioned by entity kind.
type Graves struct {
	Cards []int64 `json:"cards"`
	Notes []int64 `json:"notes"`
	Decks []int64 `json:"decks"`
}

// Empty reports whether the set carries no tombstones at all.
func (g Graves) Empty() bool {
	return len(g.Cards) == 0 && len(g.Notes) == 0 && len(g.Decks) == 0
}

// Changes is the non-chunked part of a change set: full JSON objects for
// models, decks and deck configs, plus the tag list. Conf and Crt are only
// present when the sending side won the tie-break negotiated at start.
type Changes struct {
	Models []map[string]any     `json:"models"`
	Decks  [2][]map[string]any  `json:"decks"` // [decks, deck configs]
	Tags   []string             `json:"tags"`
	Conf   map[string]any       `json:"conf,omitempty"`
	Crt    int64                `json:"crt,omitempty"`
}

// Chunk is one bounded batch of row-level changes.
type Chunk struct {
	Done   bool        `json:"done"`
	Revlog []RevlogRow `json:"revlog,omitempty"`
	Cards  []CardRow   `json:"cards,omitempty"`
	Notes  []NoteRow   `json:"notes,omitempty"`
}

// RevlogRow is a review-log entry, wire-encoded as a 9-element array:
// [id, cid, usn, ease, ivl, lastIvl, factor, time, type].
type RevlogRow struct {
	ID      int64
	CID     int64
	Usn     int64
	Ease    int64
	Ivl     int64
	LastIvl int64
	Factor  int64
	Time    int64
	Type    int64
}

func (r RevlogRow) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.ID, r.CID, r.Usn, r.Ease, r.Ivl, r.LastIvl, r.Factor, r.Time, r.Type})
}

func (r *RevlogRow) UnmarshalJSON(b []byte) error {
	return unmarshalTuple(b, []any{&r.ID, &r.CID, &r.Usn, &r.Ease, &r.Ivl, &r.LastIvl, &r.Factor, &r.Time, &r.Type})
}

// CardRow is a card record, wire-encoded as an 18-element array:
// [id, nid, did, ord, mod, usn, type, queue, due, ivl, factor, reps,
// lapses, left, odue, odid, flags, data].
type CardRow struct {
	ID     int64
	NID    int64
	DID    int64
	Ord    int64
	Mod    int64
	Usn    int64
	Type   int64
	Queue  int64
	Due    int64
	Ivl    int64
	Factor int64
	Reps   int64
	Lapses int64
	Left   int64
	ODue   int64
	ODid   int64
	Flags  int64
	Data   string
}

func (c CardRow) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{
		c.ID, c.NID, c.DID, c.Ord, c.Mod, c.Usn, c.Type, c.Queue, c.Due,
		c.Ivl, c.Factor, c.Reps, c.Lapses, c.Left, c.ODue, c.ODid, c.Flags, c.Data,
	})
}

func (c *CardRow) UnmarshalJSON(b []byte) error {
	return unmarshalTuple(b, []any{
		&c.ID, &c.NID, &c.DID, &c.Ord, &c.Mod, &c.Usn, &c.Type, &c.Queue, &c.Due,
		&c.Ivl, &c.Factor, &c.Reps, &c.Lapses, &c.Left, &c.ODue, &c.ODid, &c.Flags, &c.Data,
	})
}

// NoteRow is a note record, wire-encoded as an 11-element array:
// [id, guid, mid, mod, usn, tags, flds, sfld, csum, flags, data].
// The sort field and checksum are transmitted empty; each side recomputes
// them locally if it needs them.
type NoteRow struct {
	ID    int64
	GUID  string
	MID   int64
	Mod   int64
	Usn   int64
	Tags  string
	Flds  string
	Sfld  string
	Csum  string
	Flags int64
	Data  string
}

func (n NoteRow) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{
		n.ID, n.GUID, n.MID, n.Mod, n.Usn, n.Tags, n.Flds, "", "", n.Flags, n.Data,
	})
}

func (n *NoteRow) UnmarshalJSON(b []byte) error {
	// sfld may arrive as a string or a number depending on the field's
	// content; swallow it into a raw slot alongside csum.
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != 11 {
		return fmt.Errorf("note row: expected 11 elements, got %d", len(raw))
	}
	fields := []any{&n.ID, &n.GUID, &n.MID, &n.Mod, &n.Usn, &n.Tags, &n.Flds}
	for i, f := range fields {
		if err := json.Unmarshal(raw[i], f); err != nil {
			return fmt.Errorf("note row element %d: %w", i, err)
		}
	}
	if err := json.Unmarshal(raw[9], &n.Flags); err != nil {
		return fmt.Errorf("note row flags: %w", err)
	}
	if err := json.Unmarshal(raw[10], &n.Data); err != nil {
		return fmt.Errorf("note row data: %w", err)
	}
	return nil
}

// unmarshalTuple decodes a positional JSON array into the given field
// pointers, requiring an exact length match.
func unmarshalTuple(b []byte, fields []any) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != len(fields) {
		return fmt.Errorf("expected %d elements, got %d", len(fields), len(raw))
	}
	for i, f := range fields {
		if err := json.Unmarshal(raw[i], f); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

// MetaRequest carries the client's protocol version and version string.
type MetaRequest struct {
	Version       int    `json:"v"`
	ClientVersion string `json:"cv"`
}

// MetaResponse is the server identity returned by a successful meta call.
type MetaResponse struct {
	SchemaMod  int64  `json:"scm"`
	ServerTime int64  `json:"ts"`
	Mod        int64  `json:"mod"`
	Usn        int64  `json:"usn"`
	MediaUsn   int64  `json:"musn"`
	Msg        string `json:"msg"`
	Cont       bool   `json:"cont"`
}

// VersionGate is the structured rejection payload for unsupported protocol
// versions. It is delivered with HTTP 200; the client inspects Cont.
type VersionGate struct {
	Cont bool   `json:"cont"`
	Msg  string `json:"msg"`
}

// StartRequest opens a sync pass.
type StartRequest struct {
	MinUsn     int64   `json:"minUsn"`
	LocalNewer bool    `json:"lnewer"`
	Graves     *Graves `json:"graves,omitempty"`
}

// ApplyGravesRequest delivers a batch of client tombstones.
type ApplyGravesRequest struct {
	Chunk Graves `json:"chunk"`
}

// ApplyChangesRequest delivers the client's change set.
type ApplyChangesRequest struct {
	Changes Changes `json:"changes"`
}

// ApplyChunkRequest delivers one bounded batch of client rows.
type ApplyChunkRequest struct {
	Chunk Chunk `json:"chunk"`
}

// SanityCheckRequest carries the client's end-of-pass digest verbatim;
// the comparison is structural, so the raw message is kept as-is.
type SanityCheckRequest struct {
	Client json.RawMessage `json:"client"`
}

// SanityCheckResponse reports agreement or structured disagreement.
type SanityCheckResponse struct {
	Status string          `json:"status"`
	Client json.RawMessage `json:"c,omitempty"`
	Server any             `json:"s,omitempty"`
}

// SanityDigest is the server's end-of-pass structural digest, wire-encoded
// as [[new, lrn, rev], cards, notes, revlog, graves, models, decks, dconf].
type SanityDigest struct {
	Counts   [3]int64
	Cards    int64
	Notes    int64
	Revlog   int64
	Graves   int64
	Models   int64
	Decks    int64
	DeckConf int64
}

func (d SanityDigest) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{
		[]int64{d.Counts[0], d.Counts[1], d.Counts[2]},
		d.Cards, d.Notes, d.Revlog, d.Graves, d.Models, d.Decks, d.DeckConf,
	})
}

// HostKeyRequest carries the credentials for host-key issuance.
type HostKeyRequest struct {
	Username string `json:"u"`
	Password string `json:"p"`
}

// HostKeyResponse returns the freshly allocated host key.
type HostKeyResponse struct {
	Key HostKey `json:"key"`
}
