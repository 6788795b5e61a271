// Package authority derives a verifiable DFU authority byte (§3, §4.5)
// from a threshold BLS signature instead of letting a source simply claim
// one. A committee of update sources (the distributor, regional gateways,
// …) each hold a share of a polynomial created with go.dedis.ch/kyber/v3's
// share.NewPriPoly; Sign produces this node's partial signature over the
// target FWID, and Combine aggregates enough partial signatures into a
// verified signature whose leading byte becomes the authority value a
// receiver adopts in the §4.5 "higher authority wins" tie-break. Grounded
// on vguardbc-vguardbft's keyGen/generator.go and generator_test.go, the
// only place in the pack exercising kyber's pairing/share/tbls stack.
package authority

import (
	"crypto/sha256"
	"fmt"

	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/sign/tbls"
)

// Suite is the pairing suite used by the whole committee; every node must
// share the same one.
var Suite = bn256.NewSuite()

// GenerateCommittee creates a (threshold, n) sharing of a fresh secret,
// returning the public commitment (needed to verify combined signatures)
// and each member's private share (distributed out of band to the
// corresponding update source).
func GenerateCommittee(threshold, n int) (*share.PubPoly, []*share.PriShare) {
	rnd := Suite.RandomStream()
	secret := Suite.G1().Scalar().Pick(rnd)
	priPoly := share.NewPriPoly(Suite.G2(), threshold, secret, rnd)
	pubPoly := priPoly.Commit(Suite.G2().Point().Base())
	return pubPoly, priPoly.Shares(n)
}

// Member holds one committee member's private share, used to produce a
// partial signature over a proposed target FWID.
type Member struct {
	Share *share.PriShare
}

// Sign produces this member's partial BLS signature over msg (typically
// the encoded target FWID bytes from a §4.4 FWID comparison).
func (m *Member) Sign(msg []byte) ([]byte, error) {
	return tbls.Sign(Suite, m.Share, msg)
}

// Combine aggregates at least threshold partial signatures into a full
// signature verified against pub, then folds it down to the single
// authority byte a Transaction's Authority field carries. Returns an
// error if fewer than threshold valid shares were supplied.
func Combine(pub *share.PubPoly, threshold, n int, msg []byte, partials [][]byte) (uint8, error) {
	sig, err := tbls.Recover(Suite, pub, msg, partials, threshold, n)
	if err != nil {
		return 0, fmt.Errorf("authority: recovering threshold signature: %w", err)
	}
	if err := bls.Verify(Suite, pub.Commit(), msg, sig); err != nil {
		return 0, fmt.Errorf("authority: verifying combined signature: %w", err)
	}
	sum := sha256.Sum256(sig)
	return sum[0], nil
}
