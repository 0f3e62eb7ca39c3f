// Package curve provides the group-layer abstraction the Ciphersuite
// Adapter is built on: a uniform Scalar/Point interface over the two FROST
// variants this core supports (secp256k1, ed25519), so the round arithmetic
// in pkg/ciphersuite and pkg/polynomial is written once against an
// interface instead of twice against two libraries.
package curve

import (
	"errors"
	"io"
)

// Tag identifies which ciphersuite a Curve implements. It is fixed at
// Protocol Engine construction time (spec.md §4.1) and is carried on the
// wire so a decoder can reject cross-curve payloads before touching group
// arithmetic.
type Tag uint8

const (
	// Secp256k1 selects the secp256k1 Schnorr (BIP-340 style) variant.
	Secp256k1 Tag = iota + 1
	// Ed25519 selects the ed25519 variant.
	Ed25519
)

// String implements fmt.Stringer.
func (t Tag) String() string {
	switch t {
	case Secp256k1:
		return "secp256k1"
	case Ed25519:
		return "ed25519"
	default:
		return "unknown"
	}
}

// ErrInvalidEncoding is returned by Unmarshal* methods on malformed input.
var ErrInvalidEncoding = errors.New("curve: invalid encoding")

// Scalar is an element of the curve's scalar field.
type Scalar interface {
	// Add returns s + other as a new Scalar.
	Add(other Scalar) Scalar
	// Sub returns s - other as a new Scalar.
	Sub(other Scalar) Scalar
	// Mul returns s * other as a new Scalar.
	Mul(other Scalar) Scalar
	// Invert returns the multiplicative inverse of s. Panics if s is zero.
	Invert() Scalar
	// Negate returns -s.
	Negate() Scalar
	// IsZero reports whether s is the additive identity.
	IsZero() bool
	// Equal reports whether s and other represent the same value.
	Equal(other Scalar) bool
	// ActOnBase returns s * G, the curve's base point.
	ActOnBase() Point
	// Act returns s * p.
	Act(p Point) Point
	// MarshalBinary encodes s in the curve's canonical fixed-width form.
	MarshalBinary() ([]byte, error)
	// UnmarshalBinary decodes bytes produced by MarshalBinary into s.
	UnmarshalBinary(data []byte) error
}

// Point is an element of the curve's group.
type Point interface {
	// Add returns p + other as a new Point.
	Add(other Point) Point
	// Negate returns -p.
	Negate() Point
	// Equal reports whether p and other represent the same group element.
	Equal(other Point) bool
	// IsIdentity reports whether p is the group's identity element.
	IsIdentity() bool
	// MarshalBinary encodes p in the curve's canonical compressed form.
	MarshalBinary() ([]byte, error)
	// UnmarshalBinary decodes bytes produced by MarshalBinary into p.
	UnmarshalBinary(data []byte) error
}

// Curve is a FROST-capable group: a scalar field, a point group, and the
// conversions between them that the DKG and signing rounds need.
type Curve interface {
	// Tag identifies which ciphersuite this Curve implements.
	Tag() Tag
	// NewScalar returns the zero scalar.
	NewScalar() Scalar
	// NewPoint returns the identity point.
	NewPoint() Point
	// ScalarFromUint64 returns the scalar representation of a small
	// non-negative integer, used to turn a 1-based participant index into
	// a polynomial evaluation point.
	ScalarFromUint64(v uint64) Scalar
	// RandomScalar draws a uniformly random non-zero scalar from r.
	RandomScalar(r io.Reader) (Scalar, error)
	// ScalarFromWideBytes reduces a uniform hash digest into a scalar, the
	// hash-to-scalar step behind pkg/ciphersuite's internal transcripts
	// (DKG proof-of-knowledge challenge, binding factors, nonce
	// derivation); the signing challenge uses ChallengeHash instead.
	// Callers pass 64 bytes of hash output: the ed25519 backend reduces all
	// 64, the secp256k1 backend only the first 32.
	ScalarFromWideBytes(b []byte) Scalar
	// ScalarSize is the canonical encoded width of a Scalar in bytes.
	ScalarSize() int
	// PointSize is the canonical encoded width of a Point in bytes.
	PointSize() int

	// NeedsEvenY reports whether this ciphersuite's Schnorr signature
	// encoding requires the group commitment to have an even y-coordinate
	// (BIP-340 style), forcing signers to negate their nonce contribution
	// when the naturally-computed commitment does not.
	NeedsEvenY() bool
	// IsOddY reports whether p's y-coordinate is odd. Meaningless (and
	// always false) for ciphersuites where NeedsEvenY is false.
	IsOddY(p Point) bool
	// SchnorrRBytes encodes the group commitment for inclusion in a
	// Schnorr signature: x-only for ciphersuites with NeedsEvenY, full
	// compressed encoding otherwise. The same encoding rule applies to a
	// public key passed to ChallengeHash.
	SchnorrRBytes(p Point) []byte
	// ChallengeHash computes the standard Schnorr challenge scalar e from
	// the encoded group commitment, the encoded signing public key, and
	// the message, using this ciphersuite's canonical construction (the
	// BIP-340 tagged hash for secp256k1, RFC 8032's SHA-512 transcript for
	// ed25519) so the resulting signature verifies under an off-the-shelf
	// verifier rather than only this package's own Aggregate check.
	ChallengeHash(rBytes, pubKeyBytes, message []byte) Scalar
}

// ForTag returns the Curve implementation for tag, or an error if tag is
// not a known ciphersuite.
func ForTag(tag Tag) (Curve, error) {
	switch tag {
	case Secp256k1:
		return Secp256k1Curve{}, nil
	case Ed25519:
		return Ed25519Curve{}, nil
	default:
		return nil, errors.New("curve: unknown ciphersuite tag")
	}
}
