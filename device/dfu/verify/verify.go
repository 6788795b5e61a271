// Package verify implements dfu.SignatureVerifier. Two key encodings are
// accepted, so a mixed fleet (some nodes provisioned with a secp256k1 key,
// older ones still carrying an Ed25519 key) verifies against the same
// interface: a 33-byte compressed public key selects ECDSA over secp256k1
// via btcec/v2 (grounded in core/crypto/keys.go's curve-key handling), a
// 32-byte public key selects Ed25519, canonicality-checked with
// filippo.io/edwards25519 the way core/crypto.Ed25519PubKeyToX25519 parses
// points before trusting them.
package verify

import (
	"crypto/ed25519"
	"log/slog"

	"filippo.io/edwards25519"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/kabili207/meshdfu-go/core/dfu"
)

var _ dfu.SignatureVerifier = (*Verifier)(nil)

// Verifier dispatches on public key length.
type Verifier struct {
	log *slog.Logger
}

// New creates a Verifier. logger defaults to slog.Default() if nil.
func New(logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{log: logger.WithGroup("dfu-verify")}
}

// Verify checks signature over hash using pubKey, per §4.6/P4: the core
// calls this only when a public key has been provisioned and the image
// carried a non-empty signature.
func (v *Verifier) Verify(pubKey, hash, signature []byte) bool {
	switch len(pubKey) {
	case 33, 65:
		return v.verifySecp256k1(pubKey, hash, signature)
	case ed25519.PublicKeySize:
		return v.verifyEd25519(pubKey, hash, signature)
	default:
		v.log.Warn("signature verify: unrecognized public key length", "len", len(pubKey))
		return false
	}
}

func (v *Verifier) verifySecp256k1(pubKey, hash, signature []byte) bool {
	pk, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		v.log.Warn("signature verify: invalid secp256k1 public key", "error", err)
		return false
	}
	sig, err := ecdsa.ParseDERSignature(signature)
	if err != nil {
		v.log.Warn("signature verify: invalid DER signature", "error", err)
		return false
	}
	return sig.Verify(hash, pk)
}

func (v *Verifier) verifyEd25519(pubKey, hash, signature []byte) bool {
	// Reject non-canonical point encodings before trusting the key to
	// crypto/ed25519, which does not itself enforce canonicality.
	if _, err := new(edwards25519.Point).SetBytes(pubKey); err != nil {
		v.log.Warn("signature verify: non-canonical Ed25519 public key", "error", err)
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), hash, signature)
}
