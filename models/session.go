package models

import "time"

// Session identifies a signed-in client, the collection it is bound to,
// and the protocol parameters negotiated during the meta handshake.
//
// A session is always bound to exactly one collection root; operations for
// two different collections must never share a session.
type Session struct {
	HostKey       HostKey      `json:"host_key"`
	SecondaryKey  SecondaryKey `json:"secondary_key"`
	Username      string       `json:"username"`
	Path          string       `json:"path"` // user's collection root directory
	Version       int          `json:"version"`
	ClientVersion string       `json:"client_version"`
	Created       time.Time    `json:"created"`
}
