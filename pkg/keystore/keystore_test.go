package keystore_test

import (
	"crypto/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stars-labs/mpc-wallet-core/pkg/ciphersuite"
	"github.com/stars-labs/mpc-wallet-core/pkg/curve"
	"github.com/stars-labs/mpc-wallet-core/pkg/errs"
	"github.com/stars-labs/mpc-wallet-core/pkg/keystore"
	"github.com/stars-labs/mpc-wallet-core/pkg/party"
)

func runDKG(t *testing.T, tag curve.Tag, threshold, total int) map[int]*ciphersuite.KeyPackage {
	t.Helper()
	group, err := curve.ForTag(tag)
	require.NoError(t, err)

	type state struct {
		secret *ciphersuite.Round1SecretState
		pkg    ciphersuite.Round1Package
	}
	round1 := make(map[int]state, total)
	for i := 1; i <= total; i++ {
		secret, pkg, err := ciphersuite.NewDKGPart1(group, i, threshold, total, rand.Reader)
		require.NoError(t, err)
		round1[i] = state{secret: secret, pkg: pkg}
	}
	round1Pkgs := make(map[int]ciphersuite.Round1Package, total)
	for i, s := range round1 {
		round1Pkgs[i] = s.pkg
	}

	round2Secrets := make(map[int]*ciphersuite.Round2SecretState, total)
	round2Out := make(map[int]map[int]ciphersuite.Round2Package, total)
	for i, s := range round1 {
		secret2, outgoing, err := ciphersuite.DKGPart2(s.secret, round1Pkgs, rand.Reader)
		require.NoError(t, err)
		round2Secrets[i] = secret2
		round2Out[i] = outgoing
	}

	keyPackages := make(map[int]*ciphersuite.KeyPackage, total)
	for i := 1; i <= total; i++ {
		incoming := make(map[int]ciphersuite.Round2Package, total-1)
		for sender := 1; sender <= total; sender++ {
			if sender == i {
				continue
			}
			incoming[sender] = round2Out[sender][i]
		}
		kp, _, err := ciphersuite.DKGFinalize(round2Secrets[i], incoming)
		require.NoError(t, err)
		keyPackages[i] = kp
	}
	return keyPackages
}

func pubKeyPackageOf(kp *ciphersuite.KeyPackage) *ciphersuite.PublicKeyPackage {
	return &ciphersuite.PublicKeyPackage{Group: kp.Group, PublicKey: kp.PublicKey, VerificationShares: kp.VerificationShares}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ks, err := keystore.Initialize(filepath.Join(dir, "ks"), "device-a")
	require.NoError(t, err)

	keyPackages := runDKG(t, curve.Secp256k1, 2, 3)
	rec, err := keystore.NewWalletRecord(keyPackages[1], pubKeyPackageOf(keyPackages[1]), party.IDSlice{"a", "b", "c"}, time.Unix(1000, 0))
	require.NoError(t, err)

	require.NoError(t, ks.Save(rec, "hunter2", false))

	loaded, err := ks.Load(rec.WalletID, "hunter2")
	require.NoError(t, err)
	require.True(t, loaded.KeyPackage.SecretShare.Equal(keyPackages[1].SecretShare))
	require.True(t, loaded.KeyPackage.PublicKey.Equal(keyPackages[1].PublicKey))
	require.Equal(t, rec.Roster, loaded.Roster)

	_, err = ks.Load(rec.WalletID, "wrong password")
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.BadPassword))
}

func TestSaveRejectsDuplicateWithoutOverwrite(t *testing.T) {
	dir := t.TempDir()
	ks, err := keystore.Initialize(filepath.Join(dir, "ks"), "device-a")
	require.NoError(t, err)

	keyPackages := runDKG(t, curve.Ed25519, 2, 3)
	rec, err := keystore.NewWalletRecord(keyPackages[1], pubKeyPackageOf(keyPackages[1]), nil, time.Unix(1000, 0))
	require.NoError(t, err)

	require.NoError(t, ks.Save(rec, "pw", false))
	err = ks.Save(rec, "pw", false)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.Exists))

	require.NoError(t, ks.Save(rec, "pw2", true))
	loaded, err := ks.Load(rec.WalletID, "pw2")
	require.NoError(t, err)
	require.True(t, loaded.KeyPackage.SecretShare.Equal(keyPackages[1].SecretShare))
}

func TestListAndDelete(t *testing.T) {
	dir := t.TempDir()
	ks, err := keystore.Initialize(filepath.Join(dir, "ks"), "device-a")
	require.NoError(t, err)

	keyPackages := runDKG(t, curve.Secp256k1, 2, 3)
	rec, err := keystore.NewWalletRecord(keyPackages[1], pubKeyPackageOf(keyPackages[1]), nil, time.Unix(1000, 0))
	require.NoError(t, err)
	require.NoError(t, ks.Save(rec, "pw", false))

	list := ks.List()
	require.Len(t, list, 1)
	require.Equal(t, rec.WalletID, list[0].WalletID)

	require.NoError(t, ks.Delete(rec.WalletID))
	require.Empty(t, ks.List())

	_, err = ks.Load(rec.WalletID, "pw")
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.NotFound))
}

func TestIndexSurvivesReopen(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ks")
	ks, err := keystore.Initialize(root, "device-a")
	require.NoError(t, err)

	keyPackages := runDKG(t, curve.Secp256k1, 2, 3)
	rec, err := keystore.NewWalletRecord(keyPackages[1], pubKeyPackageOf(keyPackages[1]), nil, time.Unix(1000, 0))
	require.NoError(t, err)
	require.NoError(t, ks.Save(rec, "pw", false))

	ks2, err := keystore.Initialize(root, "device-a")
	require.NoError(t, err)
	loaded, err := ks2.Load(rec.WalletID, "pw")
	require.NoError(t, err)
	require.True(t, loaded.KeyPackage.SecretShare.Equal(keyPackages[1].SecretShare))
}

func TestExportImportRoundTrip(t *testing.T) {
	dirA := filepath.Join(t.TempDir(), "ks-a")
	ksA, err := keystore.Initialize(dirA, "device-a")
	require.NoError(t, err)

	keyPackages := runDKG(t, curve.Secp256k1, 2, 3)
	rec, err := keystore.NewWalletRecord(keyPackages[1], pubKeyPackageOf(keyPackages[1]), nil, time.Unix(1000, 0))
	require.NoError(t, err)
	require.NoError(t, ksA.Save(rec, "pw", false))

	bundle, err := ksA.Export(rec.WalletID, "pw")
	require.NoError(t, err)
	require.Equal(t, "1.0", bundle.Version)
	require.Equal(t, "secp256k1", bundle.Curve)

	dirB := filepath.Join(t.TempDir(), "ks-b")
	ksB, err := keystore.Initialize(dirB, "device-a")
	require.NoError(t, err)

	walletID, err := ksB.Import(bundle, "pw2", false)
	require.NoError(t, err)
	require.Equal(t, rec.WalletID, walletID)

	list := ksB.List()
	require.Len(t, list, 1)
	require.Equal(t, walletID, list[0].WalletID)

	loaded, err := ksB.Load(walletID, "pw2")
	require.NoError(t, err)
	require.True(t, loaded.KeyPackage.PublicKey.Equal(keyPackages[1].PublicKey))
	require.True(t, loaded.KeyPackage.SecretShare.Equal(keyPackages[1].SecretShare))
}

func TestImportRejectsBadVersion(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ks")
	ks, err := keystore.Initialize(dir, "device-a")
	require.NoError(t, err)

	_, err = ks.Import(&keystore.PortableBundle{Version: "9.9", Curve: "secp256k1", TotalParticipants: 3, Threshold: 2, Identifier: 1}, "pw", false)
	require.Error(t, err)
}
