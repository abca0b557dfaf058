package verify

import (
	"context"
	"errors"
	"fmt"

	"github.com/relves/scopesync/internal/storage"
)

// Validator reason codes. The pipeline remaps these to its own taxonomy
// rather than exposing them to callers.
const (
	ReasonScopeStateMissing = "scope_state_missing"
	ReasonGrantMissing      = "grant_missing"
	ReasonGrantRevoked      = "grant_revoked"
	ReasonScopeIDMismatch   = "scope_id_mismatch"
)

// ValidationResult is the typed outcome of a dependency check. Reason is
// set only for the coded failures above; chain-shape failures carry their
// diagnostics in Details alone.
type ValidationResult struct {
	OK      bool
	Reason  string
	Details string
}

func validationOK() ValidationResult {
	return ValidationResult{OK: true}
}

func validationFailed(reason, details string) ValidationResult {
	return ValidationResult{Reason: reason, Details: details}
}

// Validator checks existence, activity and hash-chain invariants against
// the verified-state stores before any signature work happens.
type Validator struct {
	states storage.ScopeStateStore
	grants storage.GrantStore
}

// NewValidator creates a validator over the two verified-state stores.
func NewValidator(states storage.ScopeStateStore, grants storage.GrantStore) *Validator {
	return &Validator{states: states, grants: grants}
}

// ValidateEventDependencies checks that a domain event's scope state and
// grant both exist and that the grant is still active.
func (v *Validator) ValidateEventDependencies(ctx context.Context, scopeStateRef []byte, grantID string) (ValidationResult, error) {
	exists, err := v.states.Exists(ctx, scopeStateRef)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("check scope state: %w", err)
	}
	if !exists {
		return validationFailed(ReasonScopeStateMissing,
			fmt.Sprintf("scope state %x not verified locally", scopeStateRef)), nil
	}

	active, err := v.grants.IsActive(ctx, grantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return validationFailed(ReasonGrantMissing,
				fmt.Sprintf("grant %s not verified locally", grantID)), nil
		}
		return ValidationResult{}, fmt.Errorf("check grant: %w", err)
	}
	if !active {
		return validationFailed(ReasonGrantRevoked,
			fmt.Sprintf("grant %s is revoked", grantID)), nil
	}

	return validationOK(), nil
}

// ChainInput carries the fields of a candidate scope state that the
// hash-chain invariants constrain.
type ChainInput struct {
	PrevHash []byte
	Seq      uint64
	ScopeID  string
}

// ValidateScopeStatePrevHash enforces the chain invariants for a candidate
// state: the genesis rule, resolution of the previous state, exact sequence
// succession, scope identity, and single-head fork detection.
func (v *Validator) ValidateScopeStatePrevHash(ctx context.Context, in ChainInput) (ValidationResult, error) {
	if len(in.PrevHash) == 0 {
		if in.Seq != 0 {
			return validationFailed("",
				fmt.Sprintf("genesis scope state must have seq=0, got %d", in.Seq)), nil
		}
		return validationOK(), nil
	}

	if in.Seq == 0 {
		return validationFailed("", "non-genesis scope state cannot have seq=0"), nil
	}

	prev, err := v.states.LoadByRef(ctx, in.PrevHash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return validationFailed("",
				fmt.Sprintf("hash chain violation: previous state %x not found", in.PrevHash)), nil
		}
		return ValidationResult{}, fmt.Errorf("load previous state: %w", err)
	}

	if in.Seq != prev.Seq+1 {
		return validationFailed("",
			fmt.Sprintf("hash chain violation: expected seq %d, got %d", prev.Seq+1, in.Seq)), nil
	}

	if prev.ScopeID != in.ScopeID {
		return validationFailed(ReasonScopeIDMismatch,
			fmt.Sprintf("previous state belongs to scope %s, not %s", prev.ScopeID, in.ScopeID)), nil
	}

	head, err := v.states.GetHead(ctx, in.ScopeID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return ValidationResult{}, fmt.Errorf("load chain head: %w", err)
	}
	if head != nil && in.Seq <= head.Seq {
		return validationFailed("",
			fmt.Sprintf("fork detected: seq %d does not exceed head seq %d", in.Seq, head.Seq)), nil
	}

	return validationOK(), nil
}

// ValidateGrantDependency checks that the scope state a grant was issued
// under is verified locally.
func (v *Validator) ValidateGrantDependency(ctx context.Context, scopeStateRef []byte) (ValidationResult, error) {
	exists, err := v.states.Exists(ctx, scopeStateRef)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("check scope state: %w", err)
	}
	if !exists {
		return validationFailed(ReasonScopeStateMissing,
			fmt.Sprintf("scope state %x not verified locally", scopeStateRef)), nil
	}
	return validationOK(), nil
}
