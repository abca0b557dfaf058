package types

import "encoding/json"

// Manifests are the canonical structures signatures are computed and
// verified over. Canonical form is JSON with the fixed field order given by
// the struct definitions; both signing and verifying ends marshal the same
// struct, so byte-for-byte equality holds without a separate
// canonicalization pass.

// EventManifest covers a domain event's provenance and the content hash of
// its encrypted payload. It is transient: only the verification outcome is
// kept, the manifest itself is never persisted.
type EventManifest struct {
	EventID        string `json:"event_id"`
	ScopeID        string `json:"scope_id"`
	ResourceID     string `json:"resource_id"`
	ResourceKeyID  string `json:"resource_key_id"`
	GrantID        string `json:"grant_id"`
	ScopeStateRef  []byte `json:"scope_state_ref"`
	AuthorDeviceID string `json:"author_device_id"`
	PayloadHash    []byte `json:"payload_hash"`
}

// Canonical returns the manifest's canonical signing bytes.
func (m *EventManifest) Canonical() ([]byte, error) {
	return json.Marshal(m)
}

// ScopeStateManifest covers everything a scope state asserts except the
// signature itself.
type ScopeStateManifest struct {
	ScopeID     string   `json:"scope_id"`
	Seq         uint64   `json:"scope_state_seq"`
	PrevHash    []byte   `json:"prev_hash,omitempty"`
	OwnerUserID string   `json:"owner_user_id"`
	ScopeEpoch  uint64   `json:"scope_epoch"`
	Members     []Member `json:"members"`
	Signers     []Signer `json:"signers"`
}

// Canonical returns the manifest's canonical signing bytes.
func (m *ScopeStateManifest) Canonical() ([]byte, error) {
	return json.Marshal(m)
}
