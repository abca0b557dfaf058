package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/relves/scopesync/internal/storage"
	"github.com/relves/scopesync/pkg/types"
)

const scopeStateCacheSize = 256

// ScopeStateStore persists verified scope states. Reads go through a small
// LRU keyed by ref; safe because stored states are immutable.
type ScopeStateStore struct {
	db    *DB
	cache *lru.Cache[string, *types.ScopeState]
}

// NewScopeStateStore creates a store backed by db.
func NewScopeStateStore(db *DB) (*ScopeStateStore, error) {
	cache, err := lru.New[string, *types.ScopeState](scopeStateCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create scope state cache: %w", err)
	}
	return &ScopeStateStore{db: db, cache: cache}, nil
}

func (s *ScopeStateStore) Store(ctx context.Context, state *types.ScopeState) error {
	members, err := types.EncodeMembers(state.Members)
	if err != nil {
		return fmt.Errorf("encode members: %w", err)
	}
	signers, err := types.EncodeSigners(state.Signers)
	if err != nil {
		return fmt.Errorf("encode signers: %w", err)
	}

	res, err := s.db.db.ExecContext(ctx,
		`INSERT INTO scope_states
		   (scope_state_ref, scope_id, scope_state_seq, prev_hash, owner_user_id,
		    scope_epoch, members, signers, signature, verified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(scope_state_ref) DO NOTHING`,
		state.Ref, state.ScopeID, strconv.FormatUint(state.Seq, 10),
		nullableBlob(state.PrevHash), state.OwnerUserID,
		strconv.FormatUint(state.ScopeEpoch, 10),
		string(members), string(signers), emptyBlob(state.Signature),
		state.VerifiedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	// A conflicting insert is a no-op; caching the rejected value would let
	// the LRU shadow the row that actually won the ref.
	if affected > 0 {
		s.cache.Add(string(state.Ref), state)
	}
	return nil
}

func (s *ScopeStateStore) LoadByRef(ctx context.Context, ref []byte) (*types.ScopeState, error) {
	if state, ok := s.cache.Get(string(ref)); ok {
		return state, nil
	}

	row := s.db.db.QueryRowContext(ctx,
		`SELECT scope_state_ref, scope_id, scope_state_seq, prev_hash, owner_user_id,
		        scope_epoch, members, signers, signature, verified_at
		 FROM scope_states WHERE scope_state_ref = ?`, ref)

	state, err := scanScopeState(row)
	if err != nil {
		return nil, err
	}

	s.cache.Add(string(ref), state)
	return state, nil
}

func (s *ScopeStateStore) LoadByScopeID(ctx context.Context, scopeID string) ([]*types.ScopeState, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT scope_state_ref, scope_id, scope_state_seq, prev_hash, owner_user_id,
		        scope_epoch, members, signers, signature, verified_at
		 FROM scope_states WHERE scope_id = ?
		 ORDER BY length(scope_state_seq), scope_state_seq`, scopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*types.ScopeState
	for rows.Next() {
		state, err := scanScopeState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

func (s *ScopeStateStore) GetHead(ctx context.Context, scopeID string) (*types.ScopeState, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT scope_state_ref, scope_id, scope_state_seq, prev_hash, owner_user_id,
		        scope_epoch, members, signers, signature, verified_at
		 FROM scope_states WHERE scope_id = ?
		 ORDER BY length(scope_state_seq) DESC, scope_state_seq DESC
		 LIMIT 1`, scopeID)
	return scanScopeState(row)
}

func (s *ScopeStateStore) Exists(ctx context.Context, ref []byte) (bool, error) {
	if s.cache.Contains(string(ref)) {
		return true, nil
	}
	var count int
	err := s.db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scope_states WHERE scope_state_ref = ?`, ref).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

var _ storage.ScopeStateStore = (*ScopeStateStore)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScopeState(row rowScanner) (*types.ScopeState, error) {
	var state types.ScopeState
	var seq, epoch, members, signers, verifiedAt string
	var prevHash []byte

	err := row.Scan(&state.Ref, &state.ScopeID, &seq, &prevHash, &state.OwnerUserID,
		&epoch, &members, &signers, &state.Signature, &verifiedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if state.Seq, err = strconv.ParseUint(seq, 10, 64); err != nil {
		return nil, fmt.Errorf("parse scope_state_seq %q: %w", seq, err)
	}
	if state.ScopeEpoch, err = strconv.ParseUint(epoch, 10, 64); err != nil {
		return nil, fmt.Errorf("parse scope_epoch %q: %w", epoch, err)
	}
	state.PrevHash = prevHash

	if state.Members, err = types.DecodeMembers([]byte(members)); err != nil {
		return nil, fmt.Errorf("decode members: %w", err)
	}
	if state.Signers, err = types.DecodeSigners([]byte(signers)); err != nil {
		return nil, fmt.Errorf("decode signers: %w", err)
	}
	if state.VerifiedAt, err = time.Parse(time.RFC3339, verifiedAt); err != nil {
		return nil, fmt.Errorf("parse verified_at %q: %w", verifiedAt, err)
	}

	return &state, nil
}

func nullableBlob(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// emptyBlob coerces a nil slice to an empty blob; the driver would bind nil
// as NULL and trip NOT NULL constraints.
func emptyBlob(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
