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

// runEngineDKG drives every participant's engine.DKGEngine through a full
// 2-round DKG by hand-shuttling packages between them, mirroring what
// pkg/orchestrator does over the wire.
func runEngineDKG(t *testing.T, tag curve.Tag, threshold, total int) map[int]*ciphersuite.KeyPackage {
	t.Helper()
	group, err := curve.ForTag(tag)
	require.NoError(t, err)

	engines := make(map[int]*engine.DKGEngine, total)
	round1Out := make(map[int]ciphersuite.Round1Package, total)
	for i := 1; i <= total; i++ {
		e, pkg, err := engine.NewDKGEngine(group, i, threshold, total, rand.Reader)
		require.NoError(t, err)
		engines[i] = e
		round1Out[i] = pkg
	}

	round2Out := make(map[int]map[int]ciphersuite.Round2Package, total) // sender -> recipient -> pkg
	for i := 1; i <= total; i++ {
		for j := 1; j <= total; j++ {
			if i == j {
				continue
			}
			out, round1Ready, _, _, round2Ready, err := engines[i].AcceptRound1(j, round1Out[j])
			require.NoError(t, err)
			require.False(t, round2Ready) // no round-2 packages delivered yet in this test
			if out != nil {
				require.True(t, round1Ready)
				round2Out[i] = out
			}
		}
		require.True(t, engines[i].IsReadyToAdvance() || engines[i].State() != engine.DKGRound1InProgress)
	}

	keyPackages := make(map[int]*ciphersuite.KeyPackage, total)
	for i := 1; i <= total; i++ {
		for sender := 1; sender <= total; sender++ {
			if sender == i {
				continue
			}
			keyPkg, _, ready, err := engines[i].AcceptRound2(sender, round2Out[sender][i])
			require.NoError(t, err)
			if ready {
				keyPackages[i] = keyPkg
			}
		}
		require.Equal(t, engine.DKGComplete, engines[i].State())
	}
	return keyPackages
}

func TestDKGEngineFullRun(t *testing.T) {
	for _, tag := range []curve.Tag{curve.Secp256k1, curve.Ed25519} {
		keyPackages := runEngineDKG(t, tag, 2, 3)
		require.Len(t, keyPackages, 3)
		var reference *ciphersuite.KeyPackage
		for _, kp := range keyPackages {
			if reference == nil {
				reference = kp
				continue
			}
			require.True(t, kp.PublicKey.Equal(reference.PublicKey))
		}
	}
}

func TestDKGEngineIdempotentRound1Redelivery(t *testing.T) {
	group := curve.Secp256k1Curve{}
	e1, _, err := engine.NewDKGEngine(group, 1, 2, 3, rand.Reader)
	require.NoError(t, err)
	_, pkg2, err := engine.NewDKGEngine(group, 2, 2, 3, rand.Reader)
	require.NoError(t, err)

	_, ready, _, _, _, err := e1.AcceptRound1(2, pkg2)
	require.NoError(t, err)
	require.False(t, ready)

	// exact redelivery is a no-op, not an error
	_, ready, _, _, _, err = e1.AcceptRound1(2, pkg2)
	require.NoError(t, err)
	require.False(t, ready)
}

func TestDKGEngineConflictOnDivergentRound1Redelivery(t *testing.T) {
	group := curve.Secp256k1Curve{}
	e1, _, err := engine.NewDKGEngine(group, 1, 2, 3, rand.Reader)
	require.NoError(t, err)
	_, pkg2, err := engine.NewDKGEngine(group, 2, 2, 3, rand.Reader)
	require.NoError(t, err)
	_, pkg2Again, err := engine.NewDKGEngine(group, 2, 2, 3, rand.Reader)
	require.NoError(t, err)

	_, _, _, _, _, err = e1.AcceptRound1(2, pkg2)
	require.NoError(t, err)

	_, _, _, _, _, err = e1.AcceptRound1(2, pkg2Again)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.Conflict))
	require.Equal(t, engine.DKGFailed, e1.State())
}

func TestDKGEngineRejectsOwnPackageFromNetwork(t *testing.T) {
	group := curve.Secp256k1Curve{}
	e1, pkg1, err := engine.NewDKGEngine(group, 1, 2, 3, rand.Reader)
	require.NoError(t, err)

	_, _, _, _, _, err = e1.AcceptRound1(1, pkg1)
	require.Error(t, err)
}

// TestDKGEngineBuffersRound2BeforeRound1 exercises spec.md §4.2's
// round2-before-round1 buffering: a round-2 package that reaches this
// participant's engine before its own round-1 has completed must be
// buffered, not rejected, and then drained the moment round-1 completes.
func TestDKGEngineBuffersRound2BeforeRound1(t *testing.T) {
	group := curve.Secp256k1Curve{}
	const threshold, total = 2, 3

	engines := make(map[int]*engine.DKGEngine, total)
	round1Out := make(map[int]ciphersuite.Round1Package, total)
	for i := 1; i <= total; i++ {
		e, pkg, err := engine.NewDKGEngine(group, i, threshold, total, rand.Reader)
		require.NoError(t, err)
		engines[i] = e
		round1Out[i] = pkg
	}

	// Drive participants 2 and 3 through round 1 first, so their round-2
	// packages addressed to participant 1 exist,
	// before participant 1 has seen any round-1 packages at all.
	round2Out := make(map[int]map[int]ciphersuite.Round2Package, total)
	for _, i := range []int{2, 3} {
		for j := 1; j <= total; j++ {
			if i == j {
				continue
			}
			out, ready, _, _, _, err := engines[i].AcceptRound1(j, round1Out[j])
			require.NoError(t, err)
			if ready {
				round2Out[i] = out
			}
		}
	}

	// Deliver participant 2's and 3's round-2 packages addressed to
	// participant 1 while participant 1 is still DKGRound1InProgress: these
	// must be buffered rather than erroring.
	keyPkg, pubPkg, ready, err := engines[1].AcceptRound2(2, round2Out[2][1])
	require.NoError(t, err)
	require.False(t, ready)
	require.Nil(t, keyPkg)
	require.Nil(t, pubPkg)
	require.Equal(t, engine.DKGRound1InProgress, engines[1].State())

	keyPkg, pubPkg, ready, err = engines[1].AcceptRound2(3, round2Out[3][1])
	require.NoError(t, err)
	require.False(t, ready)
	require.Nil(t, keyPkg)
	require.Nil(t, pubPkg)
	require.Equal(t, engine.DKGRound1InProgress, engines[1].State())

	// Now deliver participant 1's own missing round-1 packages. The
	// round1->round2 transition on the last one must drain the two
	// buffered round-2 packages and finish the DKG without any further
	// AcceptRound2 call.
	out, round1Ready, drainedKeyPkg, drainedPubPkg, round2Ready, err := engines[1].AcceptRound1(2, round1Out[2])
	require.NoError(t, err)
	require.False(t, round1Ready)
	require.False(t, round2Ready)
	require.Nil(t, out)

	out, round1Ready, drainedKeyPkg, drainedPubPkg, round2Ready, err = engines[1].AcceptRound1(3, round1Out[3])
	require.NoError(t, err)
	require.True(t, round1Ready)
	require.NotNil(t, out)
	require.True(t, round2Ready)
	require.NotNil(t, drainedKeyPkg)
	require.NotNil(t, drainedPubPkg)
	require.Equal(t, engine.DKGComplete, engines[1].State())
}
