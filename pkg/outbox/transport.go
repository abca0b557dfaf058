package outbox

import "context"

// ReasonMissingDeps is the remote service's signal that it lacks a
// prerequisite artifact. It triggers bounded local resolution and exactly
// one retry of the original push.
const ReasonMissingDeps = "missing_deps"

// PushResponse is the remote service's answer to an artifact push.
type PushResponse struct {
	OK          bool     `json:"ok"`
	Reason      string   `json:"reason,omitempty"`
	MissingDeps []string `json:"missingDeps,omitempty"`
}

// Transport is the port to the remote sync service. Wire framing beyond
// this contract is the adapter's concern.
type Transport interface {
	PushScopeState(ctx context.Context, artifactID string, payload []byte) (PushResponse, error)
	PushResourceGrant(ctx context.Context, artifactID string, payload []byte) (PushResponse, error)
}
