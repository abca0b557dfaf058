package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/relves/scopesync/internal/storage"
	"github.com/relves/scopesync/pkg/types"
	"github.com/relves/scopesync/pkg/verify"
)

// VerifyResponse is the outcome of a verification request. Typed
// verification failures answer 200 with OK=false; only structural problems
// (bad JSON, unsupported suites, store faults) use error statuses.
type VerifyResponse struct {
	OK      bool   `json:"ok"`
	Reason  string `json:"reason,omitempty"`
	Details string `json:"details,omitempty"`
}

// ScopeStateRequest is the intake form of a received scope state.
type ScopeStateRequest struct {
	Ref         []byte         `json:"scope_state_ref,omitempty"`
	ScopeID     string         `json:"scope_id"`
	Seq         uint64         `json:"scope_state_seq"`
	PrevHash    []byte         `json:"prev_hash,omitempty"`
	OwnerUserID string         `json:"owner_user_id"`
	ScopeEpoch  uint64         `json:"scope_epoch"`
	Members     []types.Member `json:"members"`
	Signers     []types.Signer `json:"signers"`
	Signature   []byte         `json:"signature"`
}

func (s *Server) handleVerifyScopeState(w http.ResponseWriter, r *http.Request) {
	var req ScopeStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := s.pipeline.VerifyScopeState(r.Context(), verify.ScopeStateInput{
		Ref:         req.Ref,
		ScopeID:     req.ScopeID,
		Seq:         req.Seq,
		PrevHash:    req.PrevHash,
		OwnerUserID: req.OwnerUserID,
		ScopeEpoch:  req.ScopeEpoch,
		Members:     req.Members,
		Signers:     req.Signers,
		Signature:   req.Signature,
	})
	if err != nil {
		s.verifyError(w, err, "scope state verification errored", "scope_id", req.ScopeID)
		return
	}

	writeJSON(w, VerifyResponse{OK: res.OK, Reason: res.Reason, Details: res.Details})
}

// GrantRequest is the intake form of a received resource grant.
type GrantRequest struct {
	GrantID       string            `json:"grant_id"`
	ScopeID       string            `json:"scope_id"`
	ResourceID    string            `json:"resource_id"`
	ResourceKeyID string            `json:"resource_key_id"`
	WrappedKey    []byte            `json:"wrapped_key"`
	ScopeStateRef []byte            `json:"scope_state_ref"`
	Status        types.GrantStatus `json:"status,omitempty"`
}

func (s *Server) handleVerifyGrant(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := s.pipeline.VerifyResourceGrant(r.Context(), verify.GrantInput{
		GrantID:       req.GrantID,
		ScopeID:       req.ScopeID,
		ResourceID:    req.ResourceID,
		ResourceKeyID: req.ResourceKeyID,
		WrappedKey:    req.WrappedKey,
		ScopeStateRef: req.ScopeStateRef,
		Status:        req.Status,
	})
	if err != nil {
		s.verifyError(w, err, "grant verification errored", "grant_id", req.GrantID)
		return
	}

	writeJSON(w, VerifyResponse{OK: res.OK, Reason: res.Reason, Details: res.Details})
}

// EventRequest is the intake form of a received domain event.
type EventRequest struct {
	EventID          string         `json:"event_id"`
	ScopeID          string         `json:"scope_id"`
	ResourceID       string         `json:"resource_id"`
	ResourceKeyID    string         `json:"resource_key_id"`
	GrantID          string         `json:"grant_id"`
	ScopeStateRef    []byte         `json:"scope_state_ref"`
	AuthorDeviceID   string         `json:"author_device_id"`
	EncryptedPayload []byte         `json:"encrypted_payload"`
	SigSuite         types.SigSuite `json:"sig_suite"`
	Signature        []byte         `json:"signature"`
}

func (s *Server) handleVerifyEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := s.pipeline.VerifyDomainEvent(r.Context(), verify.EventInput{
		EventID:          req.EventID,
		ScopeID:          req.ScopeID,
		ResourceID:       req.ResourceID,
		ResourceKeyID:    req.ResourceKeyID,
		GrantID:          req.GrantID,
		ScopeStateRef:    req.ScopeStateRef,
		AuthorDeviceID:   req.AuthorDeviceID,
		EncryptedPayload: req.EncryptedPayload,
		SigSuite:         req.SigSuite,
		Signature:        req.Signature,
	})
	if err != nil {
		s.verifyError(w, err, "event verification errored", "event_id", req.EventID)
		return
	}

	writeJSON(w, VerifyResponse{OK: res.OK, Reason: res.Reason, Details: res.Details})
}

// EnqueueRequest queues a locally-originated artifact for push.
type EnqueueRequest struct {
	ID        string             `json:"id,omitempty"`
	Type      types.ArtifactType `json:"type"`
	Payload   []byte             `json:"payload"`
	DependsOn []string           `json:"depends_on,omitempty"`
}

// EnqueueResponse reports the assigned artifact id.
type EnqueueResponse struct {
	ID string `json:"id"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	switch req.Type {
	case types.ArtifactScopeState, types.ArtifactGrant, types.ArtifactEvent:
	default:
		http.Error(w, "unknown artifact type", http.StatusBadRequest)
		return
	}

	artifact := &types.OutboxArtifact{
		ID:        req.ID,
		Type:      req.Type,
		Payload:   req.Payload,
		DependsOn: req.DependsOn,
	}
	if err := s.outbox.Enqueue(r.Context(), artifact); err != nil {
		s.logger.Error("enqueue failed", "artifact_id", req.ID, "error", err)
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, EnqueueResponse{ID: artifact.ID})
}

// PushResponse reports a push run's aggregate counts.
type PushResponse struct {
	Pushed int `json:"pushed"`
	Failed int `json:"failed"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	stats, err := s.outbox.Push(r.Context())
	if err != nil {
		s.logger.Error("push run failed", "error", err)
		http.Error(w, "push failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, PushResponse{Pushed: stats.Pushed, Failed: stats.Failed})
}

// HeadResponse describes a scope's current chain head.
type HeadResponse struct {
	Ref     []byte `json:"scope_state_ref"`
	ScopeID string `json:"scope_id"`
	Seq     uint64 `json:"scope_state_seq"`
}

func (s *Server) handleGetHead(w http.ResponseWriter, r *http.Request) {
	scopeID := r.PathValue("scopeID")
	if scopeID == "" {
		http.Error(w, "scopeID required", http.StatusBadRequest)
		return
	}

	head, err := s.states.GetHead(r.Context(), scopeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "scope not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to load head", "scope_id", scopeID, "error", err)
		http.Error(w, "failed to load head", http.StatusInternalServerError)
		return
	}

	writeJSON(w, HeadResponse{Ref: head.Ref, ScopeID: head.ScopeID, Seq: head.Seq})
}

// verifyError triages a structural verification error: declared-but-unusable
// signature suites are the client's problem (422), everything else is ours.
func (s *Server) verifyError(w http.ResponseWriter, err error, msg string, attrs ...any) {
	if errors.Is(err, verify.ErrSuiteNotImplemented) || errors.Is(err, verify.ErrUnsupportedSuite) {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	s.logger.Error(msg, append(attrs, "error", err)...)
	http.Error(w, "verification failed", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
