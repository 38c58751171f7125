package access

import (
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
	"github.com/zeebo/blake3"
)

const (
	// BLSPublicKeySize is the size of a compressed BLS public key in bytes.
	BLSPublicKeySize = 48

	// BLSSignatureSize is the size of a compressed BLS signature in bytes.
	BLSSignatureSize = 96
)

// blsDST is the domain separation tag for BLS signatures.
var blsDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// BLSKeyPair holds a signer's BLS private/public key pair.
type BLSKeyPair struct {
	secret *blst.SecretKey // secret is the private key
	public *blst.P1Affine  // public is the public key
}

// DeriveBLSKey derives a deterministic key pair from a passphrase-like seed.
// The seed is bound to the signer role via BLAKE3("yieldrounds-signer-keygen" || seed).
func DeriveBLSKey(seed []byte) (*BLSKeyPair, error) {
	h := blake3.New()
	h.Write([]byte("yieldrounds-signer-keygen"))
	h.Write(seed)

	var derived [32]byte
	h.Sum(derived[:0])

	secret := blst.KeyGen(derived[:])
	if secret == nil {
		return nil, fmt.Errorf("failed to generate BLS key")
	}

	return &BLSKeyPair{
		secret: secret,
		public: new(blst.P1Affine).From(secret),
	}, nil
}

// Sign creates a BLS signature over the message.
func (k *BLSKeyPair) Sign(message []byte) []byte {
	sig := new(blst.P2Affine).Sign(k.secret, message, blsDST)
	return sig.Compress()
}

// PublicKeyBytes returns the compressed public key bytes.
func (k *BLSKeyPair) PublicKeyBytes() []byte {
	return k.public.Compress()
}

// verifyBLS checks a BLS signature against a message and public key.
func verifyBLS(signature, message, publicKey []byte) bool {
	if len(signature) != BLSSignatureSize || len(publicKey) != BLSPublicKeySize {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(signature)
	if sig == nil {
		return false
	}

	pk := new(blst.P1Affine).Uncompress(publicKey)
	if pk == nil {
		return false
	}

	return sig.Verify(true, pk, true, message, blsDST)
}

// validPublicKey reports whether b decodes to a BLS public key.
func validPublicKey(b []byte) bool {
	if len(b) != BLSPublicKeySize {
		return false
	}

	pk := new(blst.P1Affine).Uncompress(b)

	return pk != nil && pk.KeyValidate()
}
