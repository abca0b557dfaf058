// Package storage defines the persistence ports the verification and
// synchronization engine depends on. Implementations live in subpackages;
// the engine only sees these interfaces so it stays deterministic and
// testable without process-wide fixtures.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/relves/scopesync/pkg/types"
)

// ErrNotFound is returned by keyed lookups when no row exists.
var ErrNotFound = errors.New("not found")

// ScopeStateStore persists verified scope states, content-addressed by
// their ref. States are immutable once stored: they are never updated, only
// superseded by a later sequence number.
type ScopeStateStore interface {
	Store(ctx context.Context, state *types.ScopeState) error
	LoadByRef(ctx context.Context, ref []byte) (*types.ScopeState, error)
	// LoadByScopeID returns a scope's states in ascending sequence order.
	LoadByScopeID(ctx context.Context, scopeID string) ([]*types.ScopeState, error)
	// GetHead returns the max-sequence state for a scope. Fork detection
	// compares candidates against it.
	GetHead(ctx context.Context, scopeID string) (*types.ScopeState, error)
	Exists(ctx context.Context, ref []byte) (bool, error)
}

// GrantStore persists verified resource grants keyed by grant id.
type GrantStore interface {
	Store(ctx context.Context, grant *types.ResourceGrant) error
	LoadByID(ctx context.Context, grantID string) (*types.ResourceGrant, error)
	LoadByScopeID(ctx context.Context, scopeID string, includeRevoked bool) ([]*types.ResourceGrant, error)
	LoadByResourceID(ctx context.Context, resourceID string, includeRevoked bool) ([]*types.ResourceGrant, error)
	Exists(ctx context.Context, grantID string) (bool, error)
	IsActive(ctx context.Context, grantID string) (bool, error)
}

// OutboxStore persists artifacts pending push to the remote service. The
// contract is keyed retrieval plus an atomic pending→pushed transition; the
// backing engine is otherwise opaque.
type OutboxStore interface {
	Enqueue(ctx context.Context, artifact *types.OutboxArtifact) error
	LoadPending(ctx context.Context) ([]*types.OutboxArtifact, error)
	LoadPushedIDs(ctx context.Context) (map[string]bool, error)
	LoadByID(ctx context.Context, id string) (*types.OutboxArtifact, error)
	MarkPushed(ctx context.Context, id string) error
	// ClearPushed removes pushed artifacts enqueued before the cutoff.
	ClearPushed(ctx context.Context, olderThan time.Time) error
	Exists(ctx context.Context, id string) (bool, error)
}
