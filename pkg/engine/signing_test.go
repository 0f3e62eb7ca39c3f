package engine_test

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stars-labs/mpc-wallet-core/pkg/ciphersuite"
	"github.com/stars-labs/mpc-wallet-core/pkg/curve"
	"github.com/stars-labs/mpc-wallet-core/pkg/engine"
	"github.com/stars-labs/mpc-wallet-core/pkg/errs"
)

func pubKeyPackageOf(kp *ciphersuite.KeyPackage) *ciphersuite.PublicKeyPackage {
	return &ciphersuite.PublicKeyPackage{Group: kp.Group, PublicKey: kp.PublicKey, VerificationShares: kp.VerificationShares}
}

func TestSigningEngineFullRun(t *testing.T) {
	keyPackages := runEngineDKG(t, curve.Secp256k1, 2, 3)
	message := []byte("send 1 BTC")
	signerIndices := []int{1, 3}
	pubPkg := pubKeyPackageOf(keyPackages[1])

	engines := make(map[int]*engine.SigningEngine, len(signerIndices))
	commitments := make(map[int]ciphersuite.SigningCommitment, len(signerIndices))
	for _, idx := range signerIndices {
		e, commitment, err := engine.NewSigningEngine(keyPackages[idx], pubPkg, signerIndices, message, rand.Reader)
		require.NoError(t, err)
		engines[idx] = e
		commitments[idx] = commitment
	}

	shares := make(map[int]ciphersuite.SignatureShare, len(signerIndices))
	for _, idx := range signerIndices {
		for _, other := range signerIndices {
			if other == idx {
				continue
			}
			ownShare, ready, err := engines[idx].AcceptCommitment(other, commitments[other])
			require.NoError(t, err)
			if ready {
				shares[idx] = *ownShare
			}
		}
	}

	var finalSig ciphersuite.FinalSignature
	for _, idx := range signerIndices {
		for _, other := range signerIndices {
			if other == idx {
				continue
			}
			sig, ready, err := engines[idx].AcceptShare(other, shares[other])
			require.NoError(t, err)
			if ready {
				finalSig = sig
			}
		}
		require.Equal(t, engine.SigningComplete, engines[idx].State())
	}
	require.Len(t, finalSig, 64)
}

func TestSigningEngineRejectsNonSigner(t *testing.T) {
	keyPackages := runEngineDKG(t, curve.Ed25519, 2, 3)
	pubPkg := pubKeyPackageOf(keyPackages[1])
	_, _, err := engine.NewSigningEngine(keyPackages[2], pubPkg, []int{1, 3}, []byte("msg"), rand.Reader)
	require.Error(t, err)
}

func TestSigningEngineConflictOnDivergentCommitmentRedelivery(t *testing.T) {
	keyPackages := runEngineDKG(t, curve.Secp256k1, 2, 3)
	pubPkg := pubKeyPackageOf(keyPackages[1])
	signerIndices := []int{1, 2, 3}
	message := []byte("msg")

	e1, _, err := engine.NewSigningEngine(keyPackages[1], pubPkg, signerIndices, message, rand.Reader)
	require.NoError(t, err)
	_, c2, err := engine.NewSigningEngine(keyPackages[2], pubPkg, signerIndices, message, rand.Reader)
	require.NoError(t, err)
	_, c2Again, err := engine.NewSigningEngine(keyPackages[2], pubPkg, signerIndices, message, rand.Reader)
	require.NoError(t, err)

	_, _, err = e1.AcceptCommitment(2, c2)
	require.NoError(t, err)

	_, _, err = e1.AcceptCommitment(2, c2Again)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.Conflict))
	require.Equal(t, engine.SigningFailed, e1.State())
}

func TestClearSigningStateResetsEngine(t *testing.T) {
	keyPackages := runEngineDKG(t, curve.Secp256k1, 2, 3)
	pubPkg := pubKeyPackageOf(keyPackages[1])
	e, _, err := engine.NewSigningEngine(keyPackages[1], pubPkg, []int{1, 2}, []byte("msg"), rand.Reader)
	require.NoError(t, err)

	e.ClearSigningState()
	require.Equal(t, engine.SigningIdle, e.State())
	require.Nil(t, e.Err())
}
