package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/relves/scopesync/internal/storage"
	"github.com/relves/scopesync/pkg/types"
)

// OutboxStore persists artifacts pending push to the remote service.
type OutboxStore struct {
	db *DB
}

// NewOutboxStore creates a store backed by db.
func NewOutboxStore(db *DB) *OutboxStore {
	return &OutboxStore{db: db}
}

func (s *OutboxStore) Enqueue(ctx context.Context, artifact *types.OutboxArtifact) error {
	deps, err := types.EncodeDependencies(artifact.DependsOn)
	if err != nil {
		return fmt.Errorf("encode dependencies: %w", err)
	}

	_, err = s.db.db.ExecContext(ctx,
		`INSERT INTO outbox (artifact_id, artifact_type, payload, depends_on, status, enqueued_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(artifact_id) DO NOTHING`,
		artifact.ID, string(artifact.Type), emptyBlob(artifact.Payload), string(deps),
		string(artifact.Status), artifact.EnqueuedAt.UTC().Format(time.RFC3339))
	return err
}

func (s *OutboxStore) LoadPending(ctx context.Context) ([]*types.OutboxArtifact, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT artifact_id, artifact_type, payload, depends_on, status, enqueued_at
		 FROM outbox WHERE status = ? ORDER BY enqueued_at, artifact_id`,
		string(types.ArtifactPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []*types.OutboxArtifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}

func (s *OutboxStore) LoadPushedIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT artifact_id FROM outbox WHERE status = ?`,
		string(types.ArtifactPushed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pushed := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		pushed[id] = true
	}
	return pushed, rows.Err()
}

func (s *OutboxStore) LoadByID(ctx context.Context, id string) (*types.OutboxArtifact, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT artifact_id, artifact_type, payload, depends_on, status, enqueued_at
		 FROM outbox WHERE artifact_id = ?`, id)
	return scanArtifact(row)
}

func (s *OutboxStore) MarkPushed(ctx context.Context, id string) error {
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE outbox SET status = ? WHERE artifact_id = ?`,
		string(types.ArtifactPushed), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *OutboxStore) ClearPushed(ctx context.Context, olderThan time.Time) error {
	_, err := s.db.db.ExecContext(ctx,
		`DELETE FROM outbox WHERE status = ? AND enqueued_at < ?`,
		string(types.ArtifactPushed), olderThan.UTC().Format(time.RFC3339))
	return err
}

func (s *OutboxStore) Exists(ctx context.Context, id string) (bool, error) {
	var count int
	err := s.db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox WHERE artifact_id = ?`, id).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

var _ storage.OutboxStore = (*OutboxStore)(nil)

func scanArtifact(row rowScanner) (*types.OutboxArtifact, error) {
	var artifact types.OutboxArtifact
	var artifactType, deps, status, enqueuedAt string

	err := row.Scan(&artifact.ID, &artifactType, &artifact.Payload, &deps,
		&status, &enqueuedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	artifact.Type = types.ArtifactType(artifactType)
	artifact.Status = types.ArtifactStatus(status)
	if artifact.DependsOn, err = types.DecodeDependencies([]byte(deps)); err != nil {
		return nil, fmt.Errorf("decode dependencies: %w", err)
	}
	if len(artifact.DependsOn) == 0 {
		artifact.DependsOn = nil
	}
	if artifact.EnqueuedAt, err = time.Parse(time.RFC3339, enqueuedAt); err != nil {
		return nil, fmt.Errorf("parse enqueued_at %q: %w", enqueuedAt, err)
	}
	return &artifact, nil
}
