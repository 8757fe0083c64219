package models

// HostKey is the primary opaque session credential issued to a client at
// login. A dedicated type keeps host keys and secondary keys from being
// mixed up at call sites.
type HostKey string

// SecondaryKey is the auxiliary session token some protocol revisions use
// to re-identify a session without resending the host key.
type SecondaryKey string

func (k HostKey) String() string { return string(k) }

func (k SecondaryKey) String() string { return string(k) }
