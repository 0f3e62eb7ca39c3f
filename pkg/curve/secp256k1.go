package curve

import (
	"crypto/sha256"
	"io"

	"github.com/cronokirby/saferith"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// bip340ChallengeTag is SHA256("BIP0340/challenge"), precomputed once since
// BIP-340's tagged hash prefixes every challenge transcript with it twice.
var bip340ChallengeTag = sha256.Sum256([]byte("BIP0340/challenge"))

// Secp256k1Curve implements Curve over the secp256k1 group using the
// decred implementation, following the scalar/point split
// protocols/lss/keygen/keygen.go builds its commitment and share
// verification arithmetic on.
type Secp256k1Curve struct{}

func (Secp256k1Curve) Tag() Tag { return Secp256k1 }

func (Secp256k1Curve) NewScalar() Scalar {
	return &secp256k1Scalar{s: new(secp256k1.ModNScalar)}
}

func (Secp256k1Curve) NewPoint() Point {
	return &secp256k1Point{identity: true, p: new(secp256k1.JacobianPoint)}
}

// ScalarFromUint64 converts a small index to its big-endian scalar
// encoding via saferith.Nat, following protocols/lss/keygen/keygen.go's
// saferith.Nat.SetUint64 index->scalar pattern rather than hand-rolling
// the byte layout.
func (c Secp256k1Curve) ScalarFromUint64(v uint64) Scalar {
	raw := new(saferith.Nat).SetUint64(v).Bytes()
	var b [32]byte
	copy(b[32-len(raw):], raw)
	out := new(secp256k1.ModNScalar)
	out.SetBytes(&b)
	return &secp256k1Scalar{s: out}
}

func (c Secp256k1Curve) RandomScalar(r io.Reader) (Scalar, error) {
	var b [32]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		s := new(secp256k1.ModNScalar)
		overflow := s.SetBytes(&b)
		if overflow == 0 && !s.IsZero() {
			return &secp256k1Scalar{s: s}, nil
		}
	}
}

func (c Secp256k1Curve) ScalarFromWideBytes(b []byte) Scalar {
	// BIP-340 style: take the hash output as a big-endian integer and
	// reduce it mod n. SetBytes accepts exactly 32 bytes, so a wide digest
	// is truncated to its first 32 bytes; the reduction bias this
	// introduces is the same negligible bias BIP-340's own tagged-hash
	// challenge derivation accepts.
	var buf [32]byte
	copy(buf[:], b)
	s := new(secp256k1.ModNScalar)
	s.SetBytes(&buf)
	return &secp256k1Scalar{s: s}
}

func (Secp256k1Curve) ScalarSize() int { return 32 }
func (Secp256k1Curve) PointSize() int  { return 33 }

func (Secp256k1Curve) NeedsEvenY() bool { return true }

func (Secp256k1Curve) IsOddY(p Point) bool {
	pp := p.(*secp256k1Point)
	if pp.identity {
		return false
	}
	return pp.p.Y.IsOdd()
}

// SchnorrRBytes returns the BIP-340 x-only encoding: the 32-byte
// x-coordinate alone, since evenness of y is enforced by the caller before
// this is called.
func (Secp256k1Curve) SchnorrRBytes(p Point) []byte {
	pp := p.(*secp256k1Point)
	b := pp.p.X.Bytes()
	return b[:]
}

// ChallengeHash computes BIP-340's tagged-hash challenge:
// e = int(SHA256(SHA256(tag) || SHA256(tag) || rBytes || pubKeyBytes || message)) mod n,
// tag = "BIP0340/challenge". rBytes and pubKeyBytes must each be the 32-byte
// x-only encoding SchnorrRBytes returns, so a standard BIP-340 verifier
// (e.g. github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr) recomputes the
// same challenge from the same signature and recovers the same key.
func (Secp256k1Curve) ChallengeHash(rBytes, pubKeyBytes, message []byte) Scalar {
	h := sha256.New()
	h.Write(bip340ChallengeTag[:])
	h.Write(bip340ChallengeTag[:])
	h.Write(rBytes)
	h.Write(pubKeyBytes)
	h.Write(message)
	var buf [32]byte
	copy(buf[:], h.Sum(nil))
	s := new(secp256k1.ModNScalar)
	s.SetBytes(&buf)
	return &secp256k1Scalar{s: s}
}

type secp256k1Scalar struct {
	s *secp256k1.ModNScalar
}

func asSecp256k1Scalar(s Scalar) *secp256k1.ModNScalar {
	return s.(*secp256k1Scalar).s
}

func (s *secp256k1Scalar) Add(other Scalar) Scalar {
	out := new(secp256k1.ModNScalar).Set(s.s)
	out.Add(asSecp256k1Scalar(other))
	return &secp256k1Scalar{s: out}
}

func (s *secp256k1Scalar) Sub(other Scalar) Scalar {
	neg := new(secp256k1.ModNScalar).Set(asSecp256k1Scalar(other))
	neg.Negate()
	out := new(secp256k1.ModNScalar).Set(s.s)
	out.Add(neg)
	return &secp256k1Scalar{s: out}
}

func (s *secp256k1Scalar) Mul(other Scalar) Scalar {
	out := new(secp256k1.ModNScalar).Set(s.s)
	out.Mul(asSecp256k1Scalar(other))
	return &secp256k1Scalar{s: out}
}

func (s *secp256k1Scalar) Invert() Scalar {
	out := new(secp256k1.ModNScalar).Set(s.s)
	out.InverseValNonConst()
	return &secp256k1Scalar{s: out}
}

func (s *secp256k1Scalar) Negate() Scalar {
	out := new(secp256k1.ModNScalar).Set(s.s)
	out.Negate()
	return &secp256k1Scalar{s: out}
}

func (s *secp256k1Scalar) IsZero() bool { return s.s.IsZero() }

func (s *secp256k1Scalar) Equal(other Scalar) bool {
	return s.s.Equals(asSecp256k1Scalar(other))
}

func (s *secp256k1Scalar) ActOnBase() Point {
	var jp secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(s.s, &jp)
	return pointFromJacobian(&jp)
}

func (s *secp256k1Scalar) Act(p Point) Point {
	pp := p.(*secp256k1Point)
	if pp.identity {
		return pp
	}
	var jp secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(s.s, pp.p, &jp)
	return pointFromJacobian(&jp)
}

func (s *secp256k1Scalar) MarshalBinary() ([]byte, error) {
	b := s.s.Bytes()
	return b[:], nil
}

func (s *secp256k1Scalar) UnmarshalBinary(data []byte) error {
	if len(data) != 32 {
		return ErrInvalidEncoding
	}
	var b [32]byte
	copy(b[:], data)
	overflow := s.s.SetBytes(&b)
	if overflow != 0 {
		return ErrInvalidEncoding
	}
	return nil
}

type secp256k1Point struct {
	identity bool
	p        *secp256k1.JacobianPoint
}

func pointFromJacobian(jp *secp256k1.JacobianPoint) *secp256k1Point {
	jp.ToAffine()
	if jp.X.IsZero() && jp.Y.IsZero() {
		return &secp256k1Point{identity: true, p: new(secp256k1.JacobianPoint)}
	}
	return &secp256k1Point{p: jp}
}

func (p *secp256k1Point) Add(other Point) Point {
	op := other.(*secp256k1Point)
	if p.identity {
		return op
	}
	if op.identity {
		return p
	}
	var jp secp256k1.JacobianPoint
	secp256k1.AddNonConst(p.p, op.p, &jp)
	return pointFromJacobian(&jp)
}

func (p *secp256k1Point) Negate() Point {
	if p.identity {
		return p
	}
	var neg secp256k1.JacobianPoint
	neg.Set(p.p)
	neg.Y.Negate(1)
	neg.Y.Normalize()
	return pointFromJacobian(&neg)
}

func (p *secp256k1Point) Equal(other Point) bool {
	op := other.(*secp256k1Point)
	if p.identity || op.identity {
		return p.identity == op.identity
	}
	return p.p.X.Equals(&op.p.X) && p.p.Y.Equals(&op.p.Y)
}

func (p *secp256k1Point) IsIdentity() bool { return p.identity }

func (p *secp256k1Point) MarshalBinary() ([]byte, error) {
	if p.identity {
		return []byte{0x00}, nil
	}
	pub := secp256k1.NewPublicKey(&p.p.X, &p.p.Y)
	return pub.SerializeCompressed(), nil
}

func (p *secp256k1Point) UnmarshalBinary(data []byte) error {
	if len(data) == 1 && data[0] == 0x00 {
		p.identity = true
		p.p = new(secp256k1.JacobianPoint)
		return nil
	}
	pub, err := secp256k1.ParsePubKey(data)
	if err != nil {
		return ErrInvalidEncoding
	}
	var jp secp256k1.JacobianPoint
	pub.AsJacobian(&jp)
	p.identity = false
	p.p = &jp
	return nil
}
