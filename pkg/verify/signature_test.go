package verify_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/scopesync/pkg/types"
	"github.com/relves/scopesync/pkg/verify"
)

// fakeCrypto scripts the crypto port.
type fakeCrypto struct {
	verifyResult bool
	verifyErr    error
	verifyCalls  int
}

func (f *fakeCrypto) Verify(data, signature, publicKey []byte) (bool, error) {
	f.verifyCalls++
	return f.verifyResult, f.verifyErr
}

func (f *fakeCrypto) ContentHash(data []byte) ([]byte, error) {
	return []byte("hash"), nil
}

func TestSignatureVerifier_ECDSAPassthrough(t *testing.T) {
	crypto := &fakeCrypto{verifyResult: true}
	v := verify.NewSignatureVerifier(crypto, nil)

	ok, err := v.VerifyManifestSignature([]byte("m"), []byte("s"), []byte("k"), types.SuiteECDSAP256)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, crypto.verifyCalls)
}

func TestSignatureVerifier_ECDSAFailClosed(t *testing.T) {
	// An error from the primitive (malformed key, malformed signature)
	// becomes a false result, never a propagated error.
	crypto := &fakeCrypto{verifyErr: errors.New("malformed signature")}
	v := verify.NewSignatureVerifier(crypto, nil)

	ok, err := v.VerifyManifestSignature([]byte("m"), []byte("s"), []byte("k"), types.SuiteECDSAP256)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignatureVerifier_HybridSuiteRefusesLoudly(t *testing.T) {
	crypto := &fakeCrypto{verifyResult: true}
	v := verify.NewSignatureVerifier(crypto, nil)

	_, err := v.VerifyManifestSignature([]byte("m"), []byte("s"), []byte("k"), types.SuiteHybridSig1)
	require.ErrorIs(t, err, verify.ErrSuiteNotImplemented)
	assert.Equal(t, 0, crypto.verifyCalls, "primitive must not be invoked")
}

func TestSignatureVerifier_UnknownSuite(t *testing.T) {
	crypto := &fakeCrypto{verifyResult: true}
	v := verify.NewSignatureVerifier(crypto, nil)

	_, err := v.VerifyManifestSignature([]byte("m"), []byte("s"), []byte("k"), types.SigSuite("rsa-pss"))
	require.ErrorIs(t, err, verify.ErrUnsupportedSuite)
	assert.Equal(t, 0, crypto.verifyCalls, "primitive must not be invoked")
}
