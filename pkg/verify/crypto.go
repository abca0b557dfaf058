package verify

// CryptoService is the narrow port to the platform crypto module. Both
// operations are opaque beyond their signatures: Verify checks an ECDSA
// P-256 signature over data, ContentHash computes the content address of a
// payload.
type CryptoService interface {
	Verify(data, signature, publicKey []byte) (bool, error)
	ContentHash(data []byte) ([]byte, error)
}
