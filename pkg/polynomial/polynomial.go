// Package polynomial implements the Shamir secret-sharing layer the
// Ciphersuite Adapter's DKG operations are built on: random polynomial
// generation, evaluation, coefficient commitments, and Lagrange
// interpolation, all parameterized over pkg/curve so the same code serves
// both FROST variants.
//
// Grounded on protocols/lss/keygen/keygen.go's Horner's-method evaluation
// and commitment-verification loop, generalized from the teacher's
// inline per-round math into a standalone reusable type.
package polynomial

import (
	"io"

	"github.com/stars-labs/mpc-wallet-core/pkg/curve"
)

// Polynomial is f(x) = a_0 + a_1*x + ... + a_t*x^t over a curve's scalar
// field, with a_0 the shared secret.
type Polynomial struct {
	group        curve.Curve
	coefficients []curve.Scalar
}

// NewPolynomial draws a degree-t polynomial with constant term secret. If
// secret is nil, the constant term is also drawn at random (used when a
// party wants a polynomial with no fixed secret, e.g. for auxiliary
// randomness).
func NewPolynomial(group curve.Curve, degree int, secret curve.Scalar, r io.Reader) (*Polynomial, error) {
	coeffs := make([]curve.Scalar, degree+1)
	var err error
	if secret != nil {
		coeffs[0] = secret
	} else {
		coeffs[0], err = group.RandomScalar(r)
		if err != nil {
			return nil, err
		}
	}
	for i := 1; i <= degree; i++ {
		coeffs[i], err = group.RandomScalar(r)
		if err != nil {
			return nil, err
		}
	}
	return &Polynomial{group: group, coefficients: coeffs}, nil
}

// Degree returns the polynomial's degree (threshold - 1).
func (p *Polynomial) Degree() int { return len(p.coefficients) - 1 }

// Constant returns the constant term a_0 (the shared secret).
func (p *Polynomial) Constant() curve.Scalar { return p.coefficients[0] }

// Evaluate computes f(x) using Horner's method.
func (p *Polynomial) Evaluate(x curve.Scalar) curve.Scalar {
	result := p.group.NewScalar()
	for i := len(p.coefficients) - 1; i >= 0; i-- {
		result = result.Mul(x).Add(p.coefficients[i])
	}
	return result
}

// Commitments returns [a_0*G, a_1*G, ..., a_t*G], the public commitment to
// each coefficient. Recipients verify a received share against these via
// EvaluateCommitment without learning any coefficient.
func (p *Polynomial) Commitments() []curve.Point {
	out := make([]curve.Point, len(p.coefficients))
	for i, c := range p.coefficients {
		out[i] = c.ActOnBase()
	}
	return out
}

// EvaluateCommitment computes Σ commitments[k] * x^k, the public
// counterpart of Evaluate: if commitments were produced by Commitments()
// for the polynomial that produced share = f(x), then
// share.ActOnBase().Equal(EvaluateCommitment(group, commitments, x)) holds.
func EvaluateCommitment(group curve.Curve, commitments []curve.Point, x curve.Scalar) curve.Point {
	result := group.NewPoint()
	xPower := group.ScalarFromUint64(1)
	for _, c := range commitments {
		result = result.Add(xPower.Act(c))
		xPower = xPower.Mul(x)
	}
	return result
}

// Lagrange computes the Lagrange coefficients lambda_i for interpolating
// the polynomial's value at x=0 from the values held by the parties in
// ids. ids must be the exact set of contributing indices (a signer subset
// or the full DKG roster); every other index's coefficient is irrelevant
// to that interpolation and is not computed.
func Lagrange(group curve.Curve, ids []int) map[int]curve.Scalar {
	out := make(map[int]curve.Scalar, len(ids))
	for _, i := range ids {
		num := group.ScalarFromUint64(1)
		den := group.ScalarFromUint64(1)
		iScalar := group.ScalarFromUint64(uint64(i))
		for _, j := range ids {
			if j == i {
				continue
			}
			jScalar := group.ScalarFromUint64(uint64(j))
			num = num.Mul(jScalar)
			den = den.Mul(jScalar.Sub(iScalar))
		}
		out[i] = num.Mul(den.Invert())
	}
	return out
}
