// Package verify implements the trust decision for incoming sharing
// artifacts: signature checking, dependency validation and the pipeline
// that combines them and commits verified scope states.
package verify

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/relves/scopesync/pkg/types"
)

var (
	// ErrSuiteNotImplemented marks a declared suite the implementation
	// cannot verify yet. It must propagate loudly: silently downgrading
	// hybrid-sig-1 to a single algorithm would trust a signature the signer
	// declared as stronger than what was checked.
	ErrSuiteNotImplemented = errors.New("signature suite not implemented")
	// ErrUnsupportedSuite marks a suite outside the closed set.
	ErrUnsupportedSuite = errors.New("unsupported signature suite")
)

// SignatureVerifier dispatches manifest signature checks by suite over the
// crypto port. The dispatch is closed: anything outside the known suites is
// an error, never a fallback.
type SignatureVerifier struct {
	crypto CryptoService
	logger *slog.Logger
}

// NewSignatureVerifier creates a verifier over the given crypto port.
// A nil logger defaults to slog.Default().
func NewSignatureVerifier(crypto CryptoService, logger *slog.Logger) *SignatureVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignatureVerifier{crypto: crypto, logger: logger}
}

// VerifyManifestSignature checks signature over the canonical manifest
// bytes using the declared suite.
//
// For ecdsa-p256 the check is fail-closed: any error from the crypto
// primitive (malformed key, malformed signature) becomes a false result, so
// callers treat "could not verify" and "verified false" identically as "do
// not trust". For hybrid-sig-1 and unknown suites the primitive is never
// invoked and the call errors.
func (v *SignatureVerifier) VerifyManifestSignature(manifest, signature, publicKey []byte, suite types.SigSuite) (bool, error) {
	switch suite {
	case types.SuiteECDSAP256:
		ok, err := v.crypto.Verify(manifest, signature, publicKey)
		if err != nil {
			v.logger.Debug("signature check errored, treating as invalid",
				"suite", suite, "error", err)
			return false, nil
		}
		return ok, nil
	case types.SuiteHybridSig1:
		return false, fmt.Errorf("%w: %s requires multi-algorithm verification, refusing single-algorithm fallback",
			ErrSuiteNotImplemented, suite)
	default:
		return false, fmt.Errorf("%w: %q", ErrUnsupportedSuite, suite)
	}
}
