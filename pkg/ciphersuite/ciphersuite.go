// Package ciphersuite implements spec.md §4.1's Ciphersuite Adapter: the
// FROST DKG and threshold-signing math, written once against pkg/curve's
// Scalar/Point interface and instantiated over both the secp256k1 and
// ed25519 ciphersuite variants.
//
// Grounded on protocols/lss/keygen/keygen.go's round1/round2/round3
// commit-verify-finalize shape for the DKG side, and
// protocols/frost/sign/round1.go's hedged-nonce derivation (a domain
// string mixed with the signer's secret, the message, and fresh
// randomness) for the signing side.
package ciphersuite

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/stars-labs/mpc-wallet-core/pkg/curve"
	"github.com/stars-labs/mpc-wallet-core/pkg/errs"
	"github.com/stars-labs/mpc-wallet-core/pkg/party"
)

// Suite binds the DKG and signing operations to one ciphersuite.
type Suite struct {
	group curve.Curve
}

// New returns the Suite for tag.
func New(tag curve.Tag) (*Suite, error) {
	group, err := curve.ForTag(tag)
	if err != nil {
		return nil, errs.Wrap(errs.Invalid, "ciphersuite: unknown tag", err)
	}
	return &Suite{group: group}, nil
}

// Group returns the underlying group abstraction.
func (s *Suite) Group() curve.Curve { return s.group }

func indexBytes(i int) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(i))
	return b[:]
}

func partyIndexID(i int) party.ID {
	return party.ID(fmt.Sprintf("index:%d", i))
}

// buildTranscript concatenates a domain-separation string with a sequence
// of length-prefixed byte strings, giving every hash call in this package
// an unambiguous encoding of its inputs.
func buildTranscript(domain string, parts ...[]byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(domain)
	for _, p := range parts {
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(p)))
		buf.Write(lenBuf[:])
		buf.Write(p)
	}
	return buf.Bytes()
}

// wideHash widens a blake3 digest to 64 bytes by hashing the input twice
// under two distinct suffixes, giving curve.ScalarFromWideBytes enough
// uniform material for either backend's reduction.
func wideHash(buf []byte) []byte {
	h1 := blake3.Sum256(append(append([]byte{}, buf...), 0x00))
	h2 := blake3.Sum256(append(append([]byte{}, buf...), 0x01))
	out := make([]byte, 64)
	copy(out[:32], h1[:])
	copy(out[32:], h2[:])
	return out
}

// hashToScalar is the hash-to-scalar primitive this package's internal,
// non-externally-verified transcripts are built from: the DKG
// proof-of-knowledge challenge and signing's per-signer binding factor
// rho_i (the round-2 share key in sharedKey is a plain blake3 digest
// instead). The signing challenge itself is
// computed by curve.Curve.ChallengeHash instead, using the
// curve-appropriate standard construction so the aggregated signature
// verifies under an off-the-shelf verifier.
func hashToScalar(group curve.Curve, domain string, parts ...[]byte) curve.Scalar {
	return group.ScalarFromWideBytes(wideHash(buildTranscript(domain, parts...)))
}

func mustMarshalScalar(s curve.Scalar) []byte {
	b, err := s.MarshalBinary()
	if err != nil {
		panic("ciphersuite: unreachable scalar marshal failure")
	}
	return b
}
