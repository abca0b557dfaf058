package verify

import (
	"context"
	"fmt"

	"github.com/relves/scopesync/pkg/types"
)

// GrantInput is a received resource grant offered for verification.
type GrantInput struct {
	GrantID       string
	ScopeID       string
	ResourceID    string
	ResourceKeyID string
	WrappedKey    []byte
	ScopeStateRef []byte
	Status        types.GrantStatus
}

// VerifyResourceGrant decides whether a resource grant may be trusted and,
// on success, commits it to the grant store. The grant's scope state must
// already be verified locally; committing is what makes the grant visible
// to event verification.
func (p *Pipeline) VerifyResourceGrant(ctx context.Context, in GrantInput) (Result, error) {
	dep, err := p.validator.ValidateGrantDependency(ctx, in.ScopeStateRef)
	if err != nil {
		return Result{}, err
	}
	if !dep.OK {
		return failed(ReasonDependencyMissing, dep.Details), nil
	}

	status := in.Status
	if status == "" {
		status = types.GrantActive
	}
	grant := &types.ResourceGrant{
		GrantID:       in.GrantID,
		ScopeID:       in.ScopeID,
		ResourceID:    in.ResourceID,
		ResourceKeyID: in.ResourceKeyID,
		WrappedKey:    in.WrappedKey,
		ScopeStateRef: in.ScopeStateRef,
		Status:        status,
		VerifiedAt:    p.now().UTC(),
	}
	if err := p.grants.Store(ctx, grant); err != nil {
		return Result{}, fmt.Errorf("store verified grant: %w", err)
	}

	p.logger.Info("resource grant verified",
		"grant_id", in.GrantID, "scope_id", in.ScopeID, "status", status)
	return resultOK(), nil
}
