package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/relves/scopesync/internal/storage"
	"github.com/relves/scopesync/pkg/types"
)

// GrantStore persists verified resource grants.
type GrantStore struct {
	db *DB
}

// NewGrantStore creates a store backed by db.
func NewGrantStore(db *DB) *GrantStore {
	return &GrantStore{db: db}
}

func (s *GrantStore) Store(ctx context.Context, grant *types.ResourceGrant) error {
	_, err := s.db.db.ExecContext(ctx,
		`INSERT INTO resource_grants
		   (grant_id, scope_id, resource_id, resource_key_id, wrapped_key,
		    scope_state_ref, status, verified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(grant_id) DO UPDATE SET
		   status = excluded.status,
		   verified_at = excluded.verified_at`,
		grant.GrantID, grant.ScopeID, grant.ResourceID, grant.ResourceKeyID,
		emptyBlob(grant.WrappedKey), emptyBlob(grant.ScopeStateRef), string(grant.Status),
		grant.VerifiedAt.UTC().Format(time.RFC3339))
	return err
}

func (s *GrantStore) LoadByID(ctx context.Context, grantID string) (*types.ResourceGrant, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT grant_id, scope_id, resource_id, resource_key_id, wrapped_key,
		        scope_state_ref, status, verified_at
		 FROM resource_grants WHERE grant_id = ?`, grantID)
	return scanGrant(row)
}

func (s *GrantStore) LoadByScopeID(ctx context.Context, scopeID string, includeRevoked bool) ([]*types.ResourceGrant, error) {
	return s.loadBy(ctx, "scope_id", scopeID, includeRevoked)
}

func (s *GrantStore) LoadByResourceID(ctx context.Context, resourceID string, includeRevoked bool) ([]*types.ResourceGrant, error) {
	return s.loadBy(ctx, "resource_id", resourceID, includeRevoked)
}

func (s *GrantStore) loadBy(ctx context.Context, column, value string, includeRevoked bool) ([]*types.ResourceGrant, error) {
	query := fmt.Sprintf(
		`SELECT grant_id, scope_id, resource_id, resource_key_id, wrapped_key,
		        scope_state_ref, status, verified_at
		 FROM resource_grants WHERE %s = ?`, column)
	args := []any{value}
	if !includeRevoked {
		query += ` AND status = ?`
		args = append(args, string(types.GrantActive))
	}
	query += ` ORDER BY grant_id`

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []*types.ResourceGrant
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

func (s *GrantStore) Exists(ctx context.Context, grantID string) (bool, error) {
	var count int
	err := s.db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM resource_grants WHERE grant_id = ?`, grantID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *GrantStore) IsActive(ctx context.Context, grantID string) (bool, error) {
	var status string
	err := s.db.db.QueryRowContext(ctx,
		`SELECT status FROM resource_grants WHERE grant_id = ?`, grantID).Scan(&status)
	if err == sql.ErrNoRows {
		return false, storage.ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return types.GrantStatus(status) == types.GrantActive, nil
}

var _ storage.GrantStore = (*GrantStore)(nil)

func scanGrant(row rowScanner) (*types.ResourceGrant, error) {
	var grant types.ResourceGrant
	var status, verifiedAt string

	err := row.Scan(&grant.GrantID, &grant.ScopeID, &grant.ResourceID,
		&grant.ResourceKeyID, &grant.WrappedKey, &grant.ScopeStateRef,
		&status, &verifiedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	grant.Status = types.GrantStatus(status)
	if grant.VerifiedAt, err = time.Parse(time.RFC3339, verifiedAt); err != nil {
		return nil, fmt.Errorf("parse verified_at %q: %w", verifiedAt, err)
	}
	return &grant, nil
}
