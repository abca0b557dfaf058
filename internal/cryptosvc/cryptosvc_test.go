package cryptosvc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyPair(t *testing.T) (*ecdsa.PrivateKey, []byte) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	raw := make([]byte, 65)
	raw[0] = 4
	priv.PublicKey.X.FillBytes(raw[1:33])
	priv.PublicKey.Y.FillBytes(raw[33:65])
	return priv, raw
}

func TestVerifyRoundTrip(t *testing.T) {
	priv, pub := testKeyPair(t)
	svc := New()

	data := []byte("manifest bytes")
	digest := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	require.NoError(t, err)

	valid, err := svc.Verify(data, sig, pub)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = svc.Verify([]byte("tampered"), sig, pub)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestVerifyRejectsOtherKey(t *testing.T) {
	priv, _ := testKeyPair(t)
	_, otherPub := testKeyPair(t)
	svc := New()

	data := []byte("manifest bytes")
	digest := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	require.NoError(t, err)

	valid, err := svc.Verify(data, sig, otherPub)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestVerifyMalformedInputs(t *testing.T) {
	_, pub := testKeyPair(t)
	svc := New()

	_, err := svc.Verify([]byte("data"), []byte("sig"), []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidPublicKey)

	// Right length, wrong prefix.
	bad := make([]byte, 65)
	bad[0] = 2
	_, err = svc.Verify([]byte("data"), []byte("sig"), bad)
	assert.ErrorIs(t, err, ErrInvalidPublicKey)

	// Right shape, point not on the curve.
	offCurve := make([]byte, 65)
	offCurve[0] = 4
	offCurve[1] = 1
	offCurve[33] = 1
	_, err = svc.Verify([]byte("data"), []byte("sig"), offCurve)
	assert.ErrorIs(t, err, ErrInvalidPublicKey)

	_, err = svc.Verify([]byte("data"), nil, pub)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestContentHashIsSelfDescribing(t *testing.T) {
	svc := New()

	ref, err := svc.ContentHash([]byte("payload"))
	require.NoError(t, err)

	decoded, err := multihash.Decode(ref)
	require.NoError(t, err)
	assert.Equal(t, uint64(multihash.SHA2_256), decoded.Code)
	assert.Equal(t, 32, decoded.Length)

	same, err := svc.ContentHash([]byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, ref, same)

	other, err := svc.ContentHash([]byte("other payload"))
	require.NoError(t, err)
	assert.NotEqual(t, ref, other)
}
