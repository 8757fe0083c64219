package models

import (
	"encoding/json"
	"testing"
)

func TestNoteRowDecode_StringAndNumericSortField(t *testing.T) {
	// clients send sfld as a string or a number depending on field content
	cases := []string{
		`[1398130088495,"guid123",1342697561419,1398130110,-1,"tag","a\u001fb","a",2683620192,0,""]`,
		`[1398130088495,"guid123",1342697561419,1398130110,-1,"tag","7\u001fb",7,1234,0,""]`,
	}

	for _, raw := range cases {
		var n NoteRow
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			t.Fatalf("unexpected error decoding %s: %v", raw, err)
		}
		if n.ID != 1398130088495 {
			t.Errorf("expected id 1398130088495, got %d", n.ID)
		}
		if n.GUID != "guid123" {
			t.Errorf("expected guid123, got %q", n.GUID)
		}
		if n.Usn != -1 {
			t.Errorf("expected usn -1, got %d", n.Usn)
		}
	}
}

func TestNoteRowEncode_BlanksDerivedFields(t *testing.T) {
	n := NoteRow{ID: 5, GUID: "g", MID: 1, Mod: 2, Usn: 3, Tags: "t", Flds: "a\x1fb", Sfld: "a", Csum: "deadbeef", Data: ""}

	raw, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded []any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decoded) != 11 {
		t.Fatalf("expected 11 elements, got %d", len(decoded))
	}
	if decoded[7] != "" || decoded[8] != "" {
		t.Errorf("expected blank sfld/csum on the wire, got %v / %v", decoded[7], decoded[8])
	}
}

func TestMediaMetaEntryDecode_OrdinalShapes(t *testing.T) {
	tests := []struct {
		raw     string
		fname   string
		ordinal string
	}{
		{`["pic.jpg","0"]`, "pic.jpg", "0"},
		{`["pic.jpg",0]`, "pic.jpg", "0"},
		{`["gone.jpg",""]`, "gone.jpg", ""},
	}

	for _, tc := range tests {
		var e MediaMetaEntry
		if err := json.Unmarshal([]byte(tc.raw), &e); err != nil {
			t.Fatalf("unexpected error decoding %s: %v", tc.raw, err)
		}
		if e.Fname != tc.fname || e.Ordinal != tc.ordinal {
			t.Errorf("decoding %s: got (%q, %q), want (%q, %q)", tc.raw, e.Fname, e.Ordinal, tc.fname, tc.ordinal)
		}
	}

	var e MediaMetaEntry
	if err := json.Unmarshal([]byte(`["only-one"]`), &e); err == nil {
		t.Error("expected error for 1-element meta entry")
	}
}

func TestSanityDigestEncode_Shape(t *testing.T) {
	d := SanityDigest{
		Counts: [3]int64{1, 2, 3},
		Cards:  4, Notes: 5, Revlog: 6, Graves: 7, Models: 8, Decks: 9, DeckConf: 10,
	}

	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := `[[1,2,3],4,5,6,7,8,9,10]`
	if string(raw) != want {
		t.Errorf("expected %s, got %s", want, raw)
	}
}

func TestMediaChangeRowEncode_NullChecksumTombstone(t *testing.T) {
	csum := "abc"
	live, _ := json.Marshal(MediaChangeRow{Fname: "a.jpg", Usn: 3, Csum: &csum})
	if string(live) != `["a.jpg",3,"abc"]` {
		t.Errorf("unexpected live row encoding: %s", live)
	}

	dead, _ := json.Marshal(MediaChangeRow{Fname: "b.jpg", Usn: 4})
	if string(dead) != `["b.jpg",4,null]` {
		t.Errorf("unexpected tombstone encoding: %s", dead)
	}
}
