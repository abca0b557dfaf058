package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relves/scopesync/internal/storage"
	"github.com/relves/scopesync/pkg/types"
)

// Pipeline reason codes surfaced to callers.
const (
	ReasonDependencyMissing   = "dependency_missing"
	ReasonSignerNotFound      = "signer_not_found"
	ReasonSignerNotAuthorized = "signer_not_authorized"
	ReasonSignatureInvalid    = "signature_invalid"
	ReasonHashChainViolation  = "hash_chain_violation"
)

// Result is the typed outcome of a verification. Callers branch on OK and
// Reason; Details is free-form diagnostics for logging.
type Result struct {
	OK      bool
	Reason  string
	Details string
}

func resultOK() Result {
	return Result{OK: true}
}

func failed(reason, details string) Result {
	return Result{Reason: reason, Details: details}
}

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	States storage.ScopeStateStore
	Grants storage.GrantStore
	Crypto CryptoService
	Logger *slog.Logger
	Now    func() time.Time
}

// ApplyDefaults sets default values for unset fields.
func (c *PipelineConfig) ApplyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Pipeline decides whether a scope state or domain event may be trusted
// locally, and on success commits verified scope states to the store,
// making them visible to dependents.
type Pipeline struct {
	validator  *Validator
	signatures *SignatureVerifier
	states     storage.ScopeStateStore
	grants     storage.GrantStore
	crypto     CryptoService
	logger     *slog.Logger
	now        func() time.Time

	// Fork detection reads the chain head before committing; two concurrent
	// verifications for the same scope could both pass it and commit two heads.
	// Scope-state verification therefore serializes per scope id.
	locksMu    sync.Mutex
	scopeLocks map[string]*sync.Mutex
}

// NewPipeline creates a verification pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	cfg.ApplyDefaults()
	return &Pipeline{
		validator:  NewValidator(cfg.States, cfg.Grants),
		signatures: NewSignatureVerifier(cfg.Crypto, cfg.Logger),
		states:     cfg.States,
		grants:     cfg.Grants,
		crypto:     cfg.Crypto,
		logger:     cfg.Logger,
		now:        cfg.Now,
		scopeLocks: make(map[string]*sync.Mutex),
	}
}

// EventInput is a received domain event offered for verification.
type EventInput struct {
	EventID          string
	ScopeID          string
	ResourceID       string
	ResourceKeyID    string
	GrantID          string
	ScopeStateRef    []byte
	AuthorDeviceID   string
	EncryptedPayload []byte
	SigSuite         types.SigSuite
	Signature        []byte
}

// VerifyDomainEvent decides whether a domain event may be trusted: its
// dependencies must be verified locally, its signature must check out
// against the author device's key from the referenced scope state, and the
// author must be a current scope member. The outcome gates decryption
// elsewhere; nothing is persisted here.
func (p *Pipeline) VerifyDomainEvent(ctx context.Context, in EventInput) (Result, error) {
	dep, err := p.validator.ValidateEventDependencies(ctx, in.ScopeStateRef, in.GrantID)
	if err != nil {
		return Result{}, err
	}
	if !dep.OK {
		return failed(ReasonDependencyMissing, dep.Details), nil
	}

	payloadHash, err := p.crypto.ContentHash(in.EncryptedPayload)
	if err != nil {
		return Result{}, fmt.Errorf("hash event payload: %w", err)
	}

	manifest := types.EventManifest{
		EventID:        in.EventID,
		ScopeID:        in.ScopeID,
		ResourceID:     in.ResourceID,
		ResourceKeyID:  in.ResourceKeyID,
		GrantID:        in.GrantID,
		ScopeStateRef:  in.ScopeStateRef,
		AuthorDeviceID: in.AuthorDeviceID,
		PayloadHash:    payloadHash,
	}
	manifestBytes, err := manifest.Canonical()
	if err != nil {
		return Result{}, fmt.Errorf("encode event manifest: %w", err)
	}

	state, err := p.states.LoadByRef(ctx, in.ScopeStateRef)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return failed(ReasonSignerNotFound,
				fmt.Sprintf("scope state %x not available for signer resolution", in.ScopeStateRef)), nil
		}
		return Result{}, fmt.Errorf("load scope state: %w", err)
	}

	signer, ok := types.FindSigner(state.Signers, in.AuthorDeviceID)
	if !ok {
		return failed(ReasonSignerNotFound,
			fmt.Sprintf("device %s is not a signer in scope state %x", in.AuthorDeviceID, in.ScopeStateRef)), nil
	}
	key, ok := signer.SigningKey()
	if !ok {
		return failed(ReasonSignerNotFound,
			fmt.Sprintf("device %s has no %q public key", in.AuthorDeviceID, types.SigKeyName)), nil
	}

	valid, err := p.signatures.VerifyManifestSignature(manifestBytes, in.Signature, key, in.SigSuite)
	if err != nil {
		return Result{}, err
	}
	if !valid {
		return failed(ReasonSignatureInvalid,
			fmt.Sprintf("event %s signature did not verify", in.EventID)), nil
	}

	// Membership is the whole authorization check for now; role-based
	// policies are deferred.
	if !types.IsMember(state.Members, signer.UserID) {
		return failed(ReasonSignerNotAuthorized,
			fmt.Sprintf("user %s is not a member of scope %s", signer.UserID, in.ScopeID)), nil
	}

	return resultOK(), nil
}

// ScopeStateInput is a received scope state offered for verification.
// Ref may be left empty; the content address is always recomputed from the
// canonical manifest, and a supplied Ref must match it.
type ScopeStateInput struct {
	Ref         []byte
	ScopeID     string
	Seq         uint64
	PrevHash    []byte
	OwnerUserID string
	ScopeEpoch  uint64
	Members     []types.Member
	Signers     []types.Signer
	Signature   []byte
}

// VerifyScopeState decides whether a scope state may be trusted and, on
// success, commits it to the store. Only the scope owner may sign a state:
// for genesis the owner's key comes from the input's own roster, for
// transitions from the previous state's roster.
//
// Calls are serialized per scope id so the single-head invariant holds
// under concurrent verification.
func (p *Pipeline) VerifyScopeState(ctx context.Context, in ScopeStateInput) (Result, error) {
	unlock := p.lockScope(in.ScopeID)
	defer unlock()

	chain, err := p.validator.ValidateScopeStatePrevHash(ctx, ChainInput{
		PrevHash: in.PrevHash,
		Seq:      in.Seq,
		ScopeID:  in.ScopeID,
	})
	if err != nil {
		return Result{}, err
	}
	if !chain.OK {
		if chain.Reason == ReasonScopeIDMismatch {
			return failed(ReasonHashChainViolation, chain.Details), nil
		}
		return failed(ReasonDependencyMissing, chain.Details), nil
	}

	manifest := types.ScopeStateManifest{
		ScopeID:     in.ScopeID,
		Seq:         in.Seq,
		PrevHash:    in.PrevHash,
		OwnerUserID: in.OwnerUserID,
		ScopeEpoch:  in.ScopeEpoch,
		Members:     in.Members,
		Signers:     in.Signers,
	}
	manifestBytes, err := manifest.Canonical()
	if err != nil {
		return Result{}, fmt.Errorf("encode scope state manifest: %w", err)
	}

	signer, res, err := p.resolveStateSigner(ctx, in)
	if err != nil {
		return Result{}, err
	}
	if !res.OK {
		return res, nil
	}
	key, ok := signer.SigningKey()
	if !ok {
		return failed(ReasonSignerNotFound,
			fmt.Sprintf("owner %s has no %q public key", in.OwnerUserID, types.SigKeyName)), nil
	}

	valid, err := p.signatures.VerifyManifestSignature(manifestBytes, in.Signature, key, signer.SigSuite)
	if err != nil {
		return Result{}, err
	}
	if !valid {
		return failed(ReasonSignatureInvalid,
			fmt.Sprintf("scope state seq %d for scope %s signature did not verify", in.Seq, in.ScopeID)), nil
	}

	ref, err := p.crypto.ContentHash(manifestBytes)
	if err != nil {
		return Result{}, fmt.Errorf("compute scope state ref: %w", err)
	}
	// A caller-supplied ref is advisory; the canonical manifest hash is the
	// state's identity. Accepting a mismatched ref would let one state
	// impersonate another under its content address.
	if len(in.Ref) != 0 && !bytes.Equal(in.Ref, ref) {
		return failed(ReasonHashChainViolation,
			fmt.Sprintf("supplied ref %x does not match manifest hash %x", in.Ref, ref)), nil
	}

	state := &types.ScopeState{
		Ref:         ref,
		ScopeID:     in.ScopeID,
		Seq:         in.Seq,
		PrevHash:    in.PrevHash,
		OwnerUserID: in.OwnerUserID,
		ScopeEpoch:  in.ScopeEpoch,
		Members:     in.Members,
		Signers:     in.Signers,
		Signature:   in.Signature,
		VerifiedAt:  p.now().UTC(),
	}
	if err := p.states.Store(ctx, state); err != nil {
		return Result{}, fmt.Errorf("store verified scope state: %w", err)
	}

	p.logger.Info("scope state verified",
		"scope_id", in.ScopeID, "seq", in.Seq, "genesis", state.IsGenesis())
	return resultOK(), nil
}

// resolveStateSigner locates the owner's signer entry: in the input roster
// for genesis, in the previous state's roster for transitions.
func (p *Pipeline) resolveStateSigner(ctx context.Context, in ScopeStateInput) (types.Signer, Result, error) {
	if in.Seq == 0 {
		signer, ok := findOwnerSigner(in.Signers, in.OwnerUserID)
		if !ok {
			return types.Signer{}, failed(ReasonSignerNotFound,
				fmt.Sprintf("owner %s is not among the genesis signers", in.OwnerUserID)), nil
		}
		return signer, resultOK(), nil
	}

	// The validator already resolved prevHash; re-check before trusting it
	// for key material.
	if len(in.PrevHash) == 0 {
		return types.Signer{}, failed(ReasonHashChainViolation,
			"non-genesis scope state without prev hash"), nil
	}
	prev, err := p.states.LoadByRef(ctx, in.PrevHash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return types.Signer{}, failed(ReasonDependencyMissing,
				fmt.Sprintf("previous state %x not available for signer resolution", in.PrevHash)), nil
		}
		return types.Signer{}, Result{}, fmt.Errorf("load previous state: %w", err)
	}

	signer, ok := findOwnerSigner(prev.Signers, in.OwnerUserID)
	if !ok {
		return types.Signer{}, failed(ReasonSignerNotFound,
			fmt.Sprintf("owner %s is not a signer in previous state %x", in.OwnerUserID, in.PrevHash)), nil
	}
	return signer, resultOK(), nil
}

func findOwnerSigner(signers []types.Signer, ownerUserID string) (types.Signer, bool) {
	for _, s := range signers {
		if s.UserID == ownerUserID {
			if _, ok := s.SigningKey(); ok {
				return s, true
			}
		}
	}
	return types.Signer{}, false
}

// VerifyScopeStateBatch verifies candidate states concurrently across
// scopes while keeping same-scope candidates sequential. Results align
// with the input slice. A non-nil error means some verification failed
// structurally; typed failures land in the per-input results.
func (p *Pipeline) VerifyScopeStateBatch(ctx context.Context, inputs []ScopeStateInput) ([]Result, error) {
	results := make([]Result, len(inputs))

	byScope := make(map[string][]int)
	for i, in := range inputs {
		byScope[in.ScopeID] = append(byScope[in.ScopeID], i)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, indexes := range byScope {
		g.Go(func() error {
			for _, i := range indexes {
				res, err := p.VerifyScopeState(ctx, inputs[i])
				if err != nil {
					return err
				}
				results[i] = res
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *Pipeline) lockScope(scopeID string) func() {
	p.locksMu.Lock()
	mu, ok := p.scopeLocks[scopeID]
	if !ok {
		mu = &sync.Mutex{}
		p.scopeLocks[scopeID] = mu
	}
	p.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}
