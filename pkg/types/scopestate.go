package types

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// SigSuite identifies the signature suite a signer declares. The set is
// closed: every dispatch site matches exhaustively and rejects anything
// outside it.
type SigSuite string

const (
	// SuiteECDSAP256 is ECDSA over P-256 with SHA-256 digests.
	SuiteECDSAP256 SigSuite = "ecdsa-p256"
	// SuiteHybridSig1 is the planned multi-algorithm suite. Declared but not
	// yet verifiable; verification must refuse loudly rather than fall back
	// to a single algorithm.
	SuiteHybridSig1 SigSuite = "hybrid-sig-1"
)

// SigKeyName is the conventional name under which a signer publishes its
// signing public key.
const SigKeyName = "sig"

// Member is a scope roster entry.
type Member struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Signer is a device authorized to sign artifacts within a scope. Public
// keys are kept base64-encoded so the roster round-trips through storage
// and the wire without a binary envelope.
type Signer struct {
	DeviceID   string            `json:"device_id"`
	UserID     string            `json:"user_id"`
	SigSuite   SigSuite          `json:"sig_suite"`
	PublicKeys map[string]string `json:"public_keys"`
}

// SigningKey returns the decoded signing public key, or false when the
// signer does not publish one under the conventional name.
func (s Signer) SigningKey() ([]byte, bool) {
	encoded, ok := s.PublicKeys[SigKeyName]
	if !ok {
		return nil, false
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false
	}
	return key, true
}

// ScopeState is a versioned, hash-chained, signed snapshot of a scope's
// membership and signer roster. Instances are created only by the
// verification pipeline and are immutable once stored.
type ScopeState struct {
	Ref         []byte    `json:"scope_state_ref"`
	ScopeID     string    `json:"scope_id"`
	Seq         uint64    `json:"scope_state_seq"`
	PrevHash    []byte    `json:"prev_hash,omitempty"`
	OwnerUserID string    `json:"owner_user_id"`
	ScopeEpoch  uint64    `json:"scope_epoch"`
	Members     []Member  `json:"members"`
	Signers     []Signer  `json:"signers"`
	Signature   []byte    `json:"signature"`
	VerifiedAt  time.Time `json:"verified_at"`
}

// IsGenesis reports whether the state starts a chain.
func (s *ScopeState) IsGenesis() bool {
	return s.Seq == 0 && len(s.PrevHash) == 0
}

// FindSigner returns the roster entry for a device, or false if the device
// is not an authorized signer.
func FindSigner(signers []Signer, deviceID string) (Signer, bool) {
	for _, signer := range signers {
		if signer.DeviceID == deviceID {
			return signer, true
		}
	}
	return Signer{}, false
}

// IsMember reports whether a user appears in the membership roster.
func IsMember(members []Member, userID string) bool {
	for _, m := range members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// EncodeMembers serializes a membership roster for storage.
func EncodeMembers(members []Member) ([]byte, error) {
	if members == nil {
		members = []Member{}
	}
	return json.Marshal(members)
}

// DecodeMembers parses a stored membership roster.
func DecodeMembers(data []byte) ([]Member, error) {
	var members []Member
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// EncodeSigners serializes a signer roster for storage.
func EncodeSigners(signers []Signer) ([]byte, error) {
	if signers == nil {
		signers = []Signer{}
	}
	return json.Marshal(signers)
}

// DecodeSigners parses a stored signer roster.
func DecodeSigners(data []byte) ([]Signer, error) {
	var signers []Signer
	if err := json.Unmarshal(data, &signers); err != nil {
		return nil, err
	}
	return signers, nil
}
