// Package types defines the shared data model for the sharing subsystem:
// scope states, resource grants, outbox artifacts and the canonical
// manifests signatures are computed over.
package types

import (
	"encoding/json"
	"time"
)

// ArtifactType identifies the kind of payload an OutboxArtifact carries.
type ArtifactType string

const (
	ArtifactScopeState ArtifactType = "scope_state"
	ArtifactGrant      ArtifactType = "grant"
	ArtifactEvent      ArtifactType = "event"
)

// ArtifactStatus tracks an artifact's synchronization lifecycle.
type ArtifactStatus string

const (
	ArtifactPending ArtifactStatus = "pending"
	ArtifactPushed  ArtifactStatus = "pushed"
)

// OutboxArtifact is a unit of sharing-protocol state queued for
// dependency-ordered delivery to the remote service.
type OutboxArtifact struct {
	ID         string         `json:"id"`
	Type       ArtifactType   `json:"type"`
	Payload    []byte         `json:"payload"`
	DependsOn  []string       `json:"depends_on,omitempty"`
	Status     ArtifactStatus `json:"status"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// EncodeDependencies serializes a dependency-id list for storage.
func EncodeDependencies(deps []string) ([]byte, error) {
	if deps == nil {
		deps = []string{}
	}
	return json.Marshal(deps)
}

// DecodeDependencies populates a dependency-id list from storage bytes.
func DecodeDependencies(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var deps []string
	if err := json.Unmarshal(data, &deps); err != nil {
		return nil, err
	}
	return deps, nil
}
