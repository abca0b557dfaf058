// Package cryptosvc implements the verification engine's crypto port with
// ECDSA P-256 over SHA-256 digests and sha2-256 multihash content
// addressing. The engine never touches these primitives directly; it only
// sees the port.
package cryptosvc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"

	"github.com/multiformats/go-multihash"
)

var (
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrInvalidSignature = errors.New("invalid signature encoding")
)

// Service implements verify.CryptoService.
type Service struct{}

// New creates the default crypto adapter.
func New() Service {
	return Service{}
}

// Verify checks an ASN.1 DER ECDSA P-256 signature over the SHA-256 digest
// of data. publicKey is a SEC1 uncompressed point (65 bytes, 0x04 prefix).
func (Service) Verify(data, signature, publicKey []byte) (bool, error) {
	pub, err := parsePublicKey(publicKey)
	if err != nil {
		return false, err
	}
	if len(signature) == 0 {
		return false, ErrInvalidSignature
	}

	digest := sha256.Sum256(data)
	return ecdsa.VerifyASN1(pub, digest[:], signature), nil
}

// ContentHash returns the sha2-256 multihash of data. Refs computed here
// are self-describing, so the hash function can rotate without ambiguity
// in stored content addresses.
func (Service) ContentHash(data []byte) ([]byte, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return nil, fmt.Errorf("compute content hash: %w", err)
	}
	return []byte(mh), nil
}

func parsePublicKey(raw []byte) (*ecdsa.PublicKey, error) {
	curve := elliptic.P256()
	byteLen := (curve.Params().BitSize + 7) / 8

	if len(raw) != 1+2*byteLen || raw[0] != 4 {
		return nil, fmt.Errorf("%w: want %d-byte uncompressed point", ErrInvalidPublicKey, 1+2*byteLen)
	}

	x := new(big.Int).SetBytes(raw[1 : 1+byteLen])
	y := new(big.Int).SetBytes(raw[1+byteLen:])
	if !curve.IsOnCurve(x, y) {
		return nil, fmt.Errorf("%w: point not on curve", ErrInvalidPublicKey)
	}

	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}
