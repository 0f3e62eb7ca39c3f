package ciphersuite_test

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stars-labs/mpc-wallet-core/pkg/ciphersuite"
	"github.com/stars-labs/mpc-wallet-core/pkg/curve"
)

// runDKG drives a full 2-round DKG among indices 1..total with the given
// threshold, returning each participant's final KeyPackage.
func runDKG(t *testing.T, tag curve.Tag, threshold, total int) map[int]*ciphersuite.KeyPackage {
	t.Helper()
	group, err := curve.ForTag(tag)
	require.NoError(t, err)

	round1Secrets := make(map[int]*ciphersuite.Round1SecretState, total)
	round1Packages := make(map[int]ciphersuite.Round1Package, total)
	for i := 1; i <= total; i++ {
		secret, pkg, err := ciphersuite.NewDKGPart1(group, i, threshold, total, rand.Reader)
		require.NoError(t, err)
		round1Secrets[i] = secret
		round1Packages[i] = pkg
	}

	round2Secrets := make(map[int]*ciphersuite.Round2SecretState, total)
	round2Packages := make(map[int]map[int]ciphersuite.Round2Package, total) // sender -> recipient -> pkg
	for i := 1; i <= total; i++ {
		secret2, outgoing, err := ciphersuite.DKGPart2(round1Secrets[i], round1Packages, rand.Reader)
		require.NoError(t, err)
		round2Secrets[i] = secret2
		round2Packages[i] = outgoing
	}

	keyPackages := make(map[int]*ciphersuite.KeyPackage, total)
	for i := 1; i <= total; i++ {
		incoming := make(map[int]ciphersuite.Round2Package, total-1)
		for sender := 1; sender <= total; sender++ {
			if sender == i {
				continue
			}
			incoming[sender] = round2Packages[sender][i]
		}
		keyPkg, _, err := ciphersuite.DKGFinalize(round2Secrets[i], incoming)
		require.NoError(t, err)
		keyPackages[i] = keyPkg
	}
	return keyPackages
}

func TestDKGFinalizeAgreesOnPublicKey(t *testing.T) {
	for _, tag := range []curve.Tag{curve.Secp256k1, curve.Ed25519} {
		keyPackages := runDKG(t, tag, 3, 5)
		var reference *ciphersuite.KeyPackage
		for _, kp := range keyPackages {
			if reference == nil {
				reference = kp
				continue
			}
			require.True(t, kp.PublicKey.Equal(reference.PublicKey))
			for idx, vs := range kp.VerificationShares {
				require.True(t, vs.Equal(reference.VerificationShares[idx]))
			}
		}
	}
}

func TestDKGFinalizeShareMatchesVerificationShare(t *testing.T) {
	keyPackages := runDKG(t, curve.Secp256k1, 2, 3)
	for idx, kp := range keyPackages {
		require.True(t, kp.SecretShare.ActOnBase().Equal(kp.VerificationShares[idx]))
	}
}

func TestDKGPart2RejectsForgedProof(t *testing.T) {
	group := curve.Secp256k1Curve{}
	_, pkg1, err := ciphersuite.NewDKGPart1(group, 1, 2, 3, rand.Reader)
	require.NoError(t, err)
	secret2, pkg2, err := ciphersuite.NewDKGPart1(group, 2, 2, 3, rand.Reader)
	require.NoError(t, err)
	require.NotNil(t, secret2)
	_, pkg3, err := ciphersuite.NewDKGPart1(group, 3, 2, 3, rand.Reader)
	require.NoError(t, err)

	// Tamper with participant 1's package bytes.
	tampered := pkg1
	tampered.Bytes = append([]byte{}, pkg1.Bytes...)
	tampered.Bytes[len(tampered.Bytes)-1] ^= 0xFF

	packages := map[int]ciphersuite.Round1Package{1: tampered, 2: pkg2, 3: pkg3}
	_, _, err = ciphersuite.DKGPart2(secret2, packages, rand.Reader)
	require.Error(t, err)
}
