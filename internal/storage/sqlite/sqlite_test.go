package sqlite_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/scopesync/internal/storage"
	"github.com/relves/scopesync/internal/storage/sqlite"
	"github.com/relves/scopesync/pkg/types"
)

func openDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testState(scopeID string, seq uint64, ref, prev []byte) *types.ScopeState {
	return &types.ScopeState{
		Ref:         ref,
		ScopeID:     scopeID,
		Seq:         seq,
		PrevHash:    prev,
		OwnerUserID: "user-owner",
		ScopeEpoch:  1,
		Members: []types.Member{
			{UserID: "user-owner", Role: "owner"},
			{UserID: "user-guest", Role: "member"},
		},
		Signers: []types.Signer{
			{
				DeviceID:   "device-1",
				UserID:     "user-owner",
				SigSuite:   types.SuiteECDSAP256,
				PublicKeys: map[string]string{types.SigKeyName: "QUJD"},
			},
		},
		Signature:  []byte("sig"),
		VerifiedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestOpen_CreatesDatabaseFile(t *testing.T) {
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(filepath.Join(dir, "scopesync.db"))
	assert.NoError(t, err, "database file should exist")
}

func TestScopeStateStore_RoundTrip(t *testing.T) {
	db := openDB(t)
	store, err := sqlite.NewScopeStateStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	state := testState("scope-1", 0, []byte("ref-0"), nil)
	require.NoError(t, store.Store(ctx, state))

	loaded, err := store.LoadByRef(ctx, []byte("ref-0"))
	require.NoError(t, err)
	assert.Equal(t, state.ScopeID, loaded.ScopeID)
	assert.Equal(t, state.Seq, loaded.Seq)
	assert.Empty(t, loaded.PrevHash)
	assert.Equal(t, state.Members, loaded.Members)
	assert.Equal(t, state.Signers, loaded.Signers)
	assert.Equal(t, state.Signature, loaded.Signature)
	assert.True(t, loaded.IsGenesis())

	exists, err := store.Exists(ctx, []byte("ref-0"))
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Exists(ctx, []byte("ref-unknown"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestScopeStateStore_NotFound(t *testing.T) {
	db := openDB(t)
	store, err := sqlite.NewScopeStateStore(db)
	require.NoError(t, err)

	_, err = store.LoadByRef(context.Background(), []byte("nope"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.GetHead(context.Background(), "scope-empty")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestScopeStateStore_HeadAndOrdering(t *testing.T) {
	db := openDB(t)
	store, err := sqlite.NewScopeStateStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	// Stored out of order, including a two-digit seq that would sort wrong
	// lexicographically.
	require.NoError(t, store.Store(ctx, testState("scope-1", 10, []byte("ref-10"), []byte("ref-9"))))
	require.NoError(t, store.Store(ctx, testState("scope-1", 0, []byte("ref-0"), nil)))
	require.NoError(t, store.Store(ctx, testState("scope-1", 2, []byte("ref-2"), []byte("ref-1"))))
	require.NoError(t, store.Store(ctx, testState("scope-other", 7, []byte("ref-x"), []byte("ref-w"))))

	states, err := store.LoadByScopeID(ctx, "scope-1")
	require.NoError(t, err)
	require.Len(t, states, 3)
	assert.Equal(t, uint64(0), states[0].Seq)
	assert.Equal(t, uint64(2), states[1].Seq)
	assert.Equal(t, uint64(10), states[2].Seq)

	head, err := store.GetHead(ctx, "scope-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), head.Seq)
	assert.Equal(t, []byte("ref-10"), head.Ref)
}

func TestScopeStateStore_StoreIsImmutable(t *testing.T) {
	db := openDB(t)
	store, err := sqlite.NewScopeStateStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	first := testState("scope-1", 0, []byte("ref-0"), nil)
	require.NoError(t, store.Store(ctx, first))

	// A second store under the same ref does not overwrite.
	second := testState("scope-1", 0, []byte("ref-0"), nil)
	second.OwnerUserID = "user-imposter"
	require.NoError(t, store.Store(ctx, second))

	// The read cache must not serve the rejected value either.
	cached, err := store.LoadByRef(ctx, []byte("ref-0"))
	require.NoError(t, err)
	assert.Equal(t, "user-owner", cached.OwnerUserID)

	// Fresh store instance to bypass the cache.
	fresh, err := sqlite.NewScopeStateStore(db)
	require.NoError(t, err)
	loaded, err := fresh.LoadByRef(ctx, []byte("ref-0"))
	require.NoError(t, err)
	assert.Equal(t, "user-owner", loaded.OwnerUserID)
}

func testGrant(grantID, scopeID string) *types.ResourceGrant {
	return &types.ResourceGrant{
		GrantID:       grantID,
		ScopeID:       scopeID,
		ResourceID:    "resource-1",
		ResourceKeyID: "rk-1",
		WrappedKey:    []byte("wrapped"),
		ScopeStateRef: []byte("ref-0"),
		Status:        types.GrantActive,
		VerifiedAt:    time.Now().UTC().Truncate(time.Second),
	}
}

func TestGrantStore_RoundTrip(t *testing.T) {
	db := openDB(t)
	store := sqlite.NewGrantStore(db)
	ctx := context.Background()

	grant := testGrant("grant-1", "scope-1")
	require.NoError(t, store.Store(ctx, grant))

	loaded, err := store.LoadByID(ctx, "grant-1")
	require.NoError(t, err)
	assert.Equal(t, grant.ScopeID, loaded.ScopeID)
	assert.Equal(t, grant.WrappedKey, loaded.WrappedKey)
	assert.Equal(t, types.GrantActive, loaded.Status)

	active, err := store.IsActive(ctx, "grant-1")
	require.NoError(t, err)
	assert.True(t, active)

	_, err = store.IsActive(ctx, "grant-unknown")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGrantStore_RevokedFiltering(t *testing.T) {
	db := openDB(t)
	store := sqlite.NewGrantStore(db)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, testGrant("grant-1", "scope-1")))
	revoked := testGrant("grant-2", "scope-1")
	revoked.Status = types.GrantRevoked
	require.NoError(t, store.Store(ctx, revoked))

	active, err := store.LoadByScopeID(ctx, "scope-1", false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "grant-1", active[0].GrantID)

	all, err := store.LoadByScopeID(ctx, "scope-1", true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byResource, err := store.LoadByResourceID(ctx, "resource-1", true)
	require.NoError(t, err)
	assert.Len(t, byResource, 2)

	isActive, err := store.IsActive(ctx, "grant-2")
	require.NoError(t, err)
	assert.False(t, isActive)
}

func TestGrantStore_NilBinaryFields(t *testing.T) {
	db := openDB(t)
	store := sqlite.NewGrantStore(db)
	ctx := context.Background()

	grant := testGrant("grant-1", "scope-1")
	grant.WrappedKey = nil
	require.NoError(t, store.Store(ctx, grant))

	loaded, err := store.LoadByID(ctx, "grant-1")
	require.NoError(t, err)
	assert.Empty(t, loaded.WrappedKey)
}

func testArtifact(id string, deps ...string) *types.OutboxArtifact {
	return &types.OutboxArtifact{
		ID:         id,
		Type:       types.ArtifactScopeState,
		Payload:    []byte("payload"),
		DependsOn:  deps,
		Status:     types.ArtifactPending,
		EnqueuedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestOutboxStore_PendingAndPushed(t *testing.T) {
	db := openDB(t)
	store := sqlite.NewOutboxStore(db)
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, testArtifact("a1")))
	require.NoError(t, store.Enqueue(ctx, testArtifact("a2", "a1")))

	pending, err := store.LoadPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, []string{"a1"}, pending[1].DependsOn)

	require.NoError(t, store.MarkPushed(ctx, "a1"))

	pending, err = store.LoadPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a2", pending[0].ID)

	pushed, err := store.LoadPushedIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a1": true}, pushed)

	assert.ErrorIs(t, store.MarkPushed(ctx, "missing"), storage.ErrNotFound)
}

func TestOutboxStore_EnqueueIsIdempotent(t *testing.T) {
	db := openDB(t)
	store := sqlite.NewOutboxStore(db)
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, testArtifact("a1")))
	require.NoError(t, store.MarkPushed(ctx, "a1"))
	// Re-enqueueing an existing artifact keeps the pushed status.
	require.NoError(t, store.Enqueue(ctx, testArtifact("a1")))

	loaded, err := store.LoadByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, types.ArtifactPushed, loaded.Status)
}

func TestOutboxStore_NilPayload(t *testing.T) {
	db := openDB(t)
	store := sqlite.NewOutboxStore(db)
	ctx := context.Background()

	artifact := testArtifact("a1")
	artifact.Payload = nil
	require.NoError(t, store.Enqueue(ctx, artifact))

	loaded, err := store.LoadByID(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, loaded.Payload)
}

func TestOutboxStore_ClearPushed(t *testing.T) {
	db := openDB(t)
	store := sqlite.NewOutboxStore(db)
	ctx := context.Background()

	old := testArtifact("old")
	old.EnqueuedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, store.Enqueue(ctx, old))
	require.NoError(t, store.Enqueue(ctx, testArtifact("fresh")))
	require.NoError(t, store.MarkPushed(ctx, "old"))
	require.NoError(t, store.MarkPushed(ctx, "fresh"))

	stillPending := testArtifact("pending-old")
	stillPending.EnqueuedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, store.Enqueue(ctx, stillPending))

	require.NoError(t, store.ClearPushed(ctx, time.Now().UTC().Add(-24*time.Hour)))

	exists, err := store.Exists(ctx, "old")
	require.NoError(t, err)
	assert.False(t, exists, "old pushed artifact purged")

	exists, err = store.Exists(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, exists, "recent pushed artifact retained")

	exists, err = store.Exists(ctx, "pending-old")
	require.NoError(t, err)
	assert.True(t, exists, "pending artifacts are never purged")
}

func TestOutboxStore_LoadByID_NotFound(t *testing.T) {
	db := openDB(t)
	store := sqlite.NewOutboxStore(db)

	_, err := store.LoadByID(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
