package models

import (
	"encoding/json"
	"errors"
)

var errMetaEntryShape = errors.New("media meta entry must be a 2-element array")

// MediaEnvelope wraps every media-sync response body except raw zip
// downloads: {"data": ..., "err": ""}.
type MediaEnvelope struct {
	Data any    `json:"data"`
	Err  string `json:"err"`
}

// MediaBeginPayload is the data part of a begin handshake.
type MediaBeginPayload struct {
	SecondaryKey SecondaryKey `json:"sk"`
	Usn          int64        `json:"usn"`
}

// MediaChangesRequest carries the client's last-seen media USN.
type MediaChangesRequest struct {
	LastUsn int64 `json:"lastUsn"`
}

// MediaChangeRow is one reported media index row, wire-encoded as
// [fname, usn, csum]. Csum is null for tombstoned (deleted) files.
type MediaChangeRow struct {
	Fname string
	Usn   int64
	Csum  *string
}

func (r MediaChangeRow) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.Fname, r.Usn, r.Csum})
}

func (r *MediaChangeRow) UnmarshalJSON(b []byte) error {
	return unmarshalTuple(b, []any{&r.Fname, &r.Usn, &r.Csum})
}

// MediaSanityRequest carries the client's local media file count.
type MediaSanityRequest struct {
	Local int64 `json:"local"`
}

// MediaDownloadRequest names the files the client wants packed.
type MediaDownloadRequest struct {
	Files []string `json:"files"`
}

// MediaUploadResult is the data part of an uploadChanges response,
// wire-encoded as [processed, lastUsn].
type MediaUploadResult struct {
	Processed int64
	LastUsn   int64
}

func (r MediaUploadResult) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.Processed, r.LastUsn})
}

func (r *MediaUploadResult) UnmarshalJSON(b []byte) error {
	return unmarshalTuple(b, []any{&r.Processed, &r.LastUsn})
}

// MediaMetaEntry is one element of an upload archive's _meta array:
// (normalized filename, ordinal). An empty ordinal marks a deletion;
// otherwise the ordinal is the decimal name of the archive member holding
// the file's content.
type MediaMetaEntry struct {
	Fname   string
	Ordinal string
}

func (e MediaMetaEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Fname, e.Ordinal})
}

func (e *MediaMetaEntry) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return errMetaEntryShape
	}
	if err := json.Unmarshal(raw[0], &e.Fname); err != nil {
		return err
	}
	// Some clients send the ordinal as a number, others as a string.
	if err := json.Unmarshal(raw[1], &e.Ordinal); err != nil {
		var n json.Number
		if err2 := json.Unmarshal(raw[1], &n); err2 != nil {
			return err
		}
		e.Ordinal = n.String()
	}
	return nil
}

// MediaEntry is one row of the server's media index.
type MediaEntry struct {
	Fname string
	Csum  *string // nil marks a soft tombstone
	Mtime int64
	Usn   int64
}
