package types

import "time"

// GrantStatus tracks whether a grant may still gate decryption.
type GrantStatus string

const (
	GrantActive  GrantStatus = "active"
	GrantRevoked GrantStatus = "revoked"
)

// ResourceGrant is a signed, revocable wrapping of a resource's encryption
// key for use within a scope. Its ScopeStateRef must reference a verified
// ScopeState at the time the grant itself is verified.
type ResourceGrant struct {
	GrantID       string      `json:"grant_id"`
	ScopeID       string      `json:"scope_id"`
	ResourceID    string      `json:"resource_id"`
	ResourceKeyID string      `json:"resource_key_id"`
	WrappedKey    []byte      `json:"wrapped_key"`
	ScopeStateRef []byte      `json:"scope_state_ref"`
	Status        GrantStatus `json:"status"`
	VerifiedAt    time.Time   `json:"verified_at"`
}
