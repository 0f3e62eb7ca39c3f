package polynomial_test

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stars-labs/mpc-wallet-core/pkg/curve"
	"github.com/stars-labs/mpc-wallet-core/pkg/polynomial"
)

func TestEvaluateCommitmentMatchesShare(t *testing.T) {
	group := curve.Secp256k1Curve{}
	secret, err := group.RandomScalar(rand.Reader)
	require.NoError(t, err)

	poly, err := polynomial.NewPolynomial(group, 2, secret, rand.Reader)
	require.NoError(t, err)

	commitments := poly.Commitments()
	require.True(t, commitments[0].Equal(secret.ActOnBase()))

	for _, idx := range []uint64{1, 2, 3, 4} {
		x := group.ScalarFromUint64(idx)
		share := poly.Evaluate(x)
		expected := polynomial.EvaluateCommitment(group, commitments, x)
		require.True(t, share.ActOnBase().Equal(expected), "mismatch at x=%d", idx)
	}
}

func TestLagrangeReconstructsSecret(t *testing.T) {
	group := curve.Ed25519Curve{}
	secret, err := group.RandomScalar(rand.Reader)
	require.NoError(t, err)

	poly, err := polynomial.NewPolynomial(group, 2, secret, rand.Reader)
	require.NoError(t, err)

	ids := []int{1, 2, 3}
	shares := make(map[int]curve.Scalar, len(ids))
	for _, id := range ids {
		shares[id] = poly.Evaluate(group.ScalarFromUint64(uint64(id)))
	}

	lambdas := polynomial.Lagrange(group, ids)
	reconstructed := group.NewScalar()
	for _, id := range ids {
		reconstructed = reconstructed.Add(lambdas[id].Mul(shares[id]))
	}

	require.True(t, reconstructed.Equal(secret))
}

func TestLagrangeAnyThresholdSubsetReconstructs(t *testing.T) {
	group := curve.Secp256k1Curve{}
	secret, err := group.RandomScalar(rand.Reader)
	require.NoError(t, err)

	// threshold 2 => degree 1
	poly, err := polynomial.NewPolynomial(group, 1, secret, rand.Reader)
	require.NoError(t, err)

	all := []int{1, 2, 3, 4, 5}
	shares := make(map[int]curve.Scalar, len(all))
	for _, id := range all {
		shares[id] = poly.Evaluate(group.ScalarFromUint64(uint64(id)))
	}

	subsets := [][]int{{1, 2}, {2, 5}, {3, 4}, {1, 5}}
	for _, subset := range subsets {
		lambdas := polynomial.Lagrange(group, subset)
		reconstructed := group.NewScalar()
		for _, id := range subset {
			reconstructed = reconstructed.Add(lambdas[id].Mul(shares[id]))
		}
		require.True(t, reconstructed.Equal(secret), "subset %v failed to reconstruct", subset)
	}
}
