package keystore

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stars-labs/mpc-wallet-core/pkg/ciphersuite"
	"github.com/stars-labs/mpc-wallet-core/pkg/curve"
	"github.com/stars-labs/mpc-wallet-core/pkg/errs"
)

const bundleVersion = "1.0"

// PortableBundle is the self-describing, versioned export format of
// spec.md §6: a JSON document any implementation speaking the same
// ciphersuite can import. It carries only this device's key_package, not
// the full roster — the roster lives in WalletRecord.Roster and is an
// internal bookkeeping detail, not part of the cross-implementation
// contract.
type PortableBundle struct {
	Version           string `json:"version"`
	Curve             string `json:"curve"`
	Identifier        int    `json:"identifier"`
	TotalParticipants int    `json:"total_participants"`
	Threshold         int    `json:"threshold"`
	KeyPackage        string `json:"key_package"`
	GroupPublicKey    string `json:"group_public_key"`
	CreatedAt         int64  `json:"created_at"`
}

func curveName(tag curve.Tag) (string, error) {
	switch tag {
	case curve.Secp256k1:
		return "secp256k1", nil
	case curve.Ed25519:
		return "ed25519", nil
	default:
		return "", errs.New(errs.Invalid, "keystore: unknown curve tag")
	}
}

func curveTagForName(name string) (curve.Tag, error) {
	switch name {
	case "secp256k1":
		return curve.Secp256k1, nil
	case "ed25519":
		return curve.Ed25519, nil
	default:
		return 0, errs.New(errs.Invalid, "keystore: unknown curve name \""+name+"\"")
	}
}

// Export implements spec.md §4.5's export: decrypts the wallet and repacks
// its key_package as a portable, hex-encoded bundle.
func (ks *Keystore) Export(walletID string, password string) (*PortableBundle, error) {
	rec, err := ks.Load(walletID, password)
	if err != nil {
		return nil, err
	}
	defer rec.Zeroize()

	name, err := curveName(rec.KeyPackage.Group)
	if err != nil {
		return nil, err
	}
	kpBytes, err := marshalKeyPackageBundle(rec.KeyPackage)
	if err != nil {
		return nil, err
	}
	pubBytes, err := rec.PublicKeyPackage.PublicKey.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("keystore: marshal group public key: %w", err)
	}

	return &PortableBundle{
		Version:           bundleVersion,
		Curve:             name,
		Identifier:        rec.KeyPackage.Index,
		TotalParticipants: rec.KeyPackage.Total,
		Threshold:         rec.KeyPackage.Threshold,
		KeyPackage:        hex.EncodeToString(kpBytes),
		GroupPublicKey:    hex.EncodeToString(pubBytes),
		CreatedAt:         rec.CreatedAt,
	}, nil
}

// Import implements spec.md §4.5's import: validates version and
// structural integrity, derives the wallet_id from the embedded group
// public key, and saves the result under this device's identity.
//
// Only the hex-string form of key_package and group_public_key is read:
// PortableBundle holds both as strings and Import hex-decodes them, so a
// bundle carrying either field as a direct JSON object or array does not
// decode into PortableBundle and is not accepted.
func (ks *Keystore) Import(bundle *PortableBundle, password string, overwrite bool) (string, error) {
	if bundle.Version != bundleVersion {
		return "", errs.New(errs.Invalid, "keystore: unsupported bundle version \""+bundle.Version+"\"")
	}
	tag, err := curveTagForName(bundle.Curve)
	if err != nil {
		return "", err
	}
	group, err := curve.ForTag(tag)
	if err != nil {
		return "", err
	}
	if bundle.Threshold < 2 || bundle.Threshold > bundle.TotalParticipants {
		return "", errs.New(errs.Invalid, "keystore: bundle threshold out of range")
	}
	if bundle.Identifier < 1 || bundle.Identifier > bundle.TotalParticipants {
		return "", errs.New(errs.Invalid, "keystore: bundle identifier out of range")
	}

	kpBytes, err := hex.DecodeString(bundle.KeyPackage)
	if err != nil {
		return "", errs.Wrap(errs.Corrupt, "keystore: malformed key_package hex", err)
	}
	pubBytes, err := hex.DecodeString(bundle.GroupPublicKey)
	if err != nil {
		return "", errs.Wrap(errs.Corrupt, "keystore: malformed group_public_key hex", err)
	}

	wire, err := unmarshalKeyPackageBundle(kpBytes)
	if err != nil {
		return "", err
	}

	secretShare := group.NewScalar()
	if err := secretShare.UnmarshalBinary(wire.SecretShare); err != nil {
		return "", errs.Wrap(errs.Corrupt, "keystore: malformed secret share in bundle", err)
	}
	publicKey := group.NewPoint()
	if err := publicKey.UnmarshalBinary(pubBytes); err != nil {
		return "", errs.Wrap(errs.Corrupt, "keystore: malformed group public key in bundle", err)
	}
	bundlePK := group.NewPoint()
	if err := bundlePK.UnmarshalBinary(wire.PublicKey); err != nil {
		return "", errs.Wrap(errs.Corrupt, "keystore: malformed key_package public key in bundle", err)
	}
	if !bundlePK.Equal(publicKey) {
		return "", errs.New(errs.Corrupt, "keystore: key_package/group_public_key mismatch")
	}

	verificationShares := make(map[int]curve.Point, len(wire.VerificationShares))
	for idx, b := range wire.VerificationShares {
		p := group.NewPoint()
		if err := p.UnmarshalBinary(b); err != nil {
			return "", errs.Wrap(errs.Corrupt, fmt.Sprintf("keystore: malformed verification share %d in bundle", idx), err)
		}
		verificationShares[idx] = p
	}

	keyPkg := &ciphersuite.KeyPackage{
		Group:              tag,
		Index:              bundle.Identifier,
		Threshold:          bundle.Threshold,
		Total:              bundle.TotalParticipants,
		SecretShare:        secretShare,
		PublicKey:          publicKey,
		VerificationShares: verificationShares,
	}
	pubKeyPkg := &ciphersuite.PublicKeyPackage{
		Group:              tag,
		PublicKey:          publicKey,
		VerificationShares: verificationShares,
	}

	createdAt := bundle.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}
	rec, err := NewWalletRecord(keyPkg, pubKeyPkg, nil, time.Unix(createdAt, 0))
	if err != nil {
		return "", err
	}
	if err := ks.Save(rec, password, overwrite); err != nil {
		return "", err
	}
	return rec.WalletID, nil
}

func marshalKeyPackageBundle(kp *ciphersuite.KeyPackage) ([]byte, error) {
	secretBytes, err := kp.SecretShare.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("keystore: marshal secret share: %w", err)
	}
	pubBytes, err := kp.PublicKey.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("keystore: marshal public key: %w", err)
	}
	shares := make(map[int][]byte, len(kp.VerificationShares))
	for idx, p := range kp.VerificationShares {
		b, err := p.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("keystore: marshal verification share %d: %w", idx, err)
		}
		shares[idx] = b
	}
	return json.Marshal(keyPackageJSON{
		SecretShare:        hex.EncodeToString(secretBytes),
		PublicKey:          hex.EncodeToString(pubBytes),
		VerificationShares: hexMap(shares),
	})
}

func unmarshalKeyPackageBundle(data []byte) (*keyPackageWire, error) {
	var wire keyPackageJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, errs.Wrap(errs.Corrupt, "keystore: malformed key_package", err)
	}
	secretShare, err := hex.DecodeString(wire.SecretShare)
	if err != nil {
		return nil, errs.Wrap(errs.Corrupt, "keystore: malformed key_package secret share", err)
	}
	publicKey, err := hex.DecodeString(wire.PublicKey)
	if err != nil {
		return nil, errs.Wrap(errs.Corrupt, "keystore: malformed key_package public key", err)
	}
	shares := make(map[int][]byte, len(wire.VerificationShares))
	for idxStr, hexStr := range wire.VerificationShares {
		var idx int
		if _, err := fmt.Sscanf(idxStr, "%d", &idx); err != nil {
			return nil, errs.Wrap(errs.Corrupt, "keystore: malformed verification share index", err)
		}
		b, err := hex.DecodeString(hexStr)
		if err != nil {
			return nil, errs.Wrap(errs.Corrupt, "keystore: malformed verification share hex", err)
		}
		shares[idx] = b
	}
	return &keyPackageWire{SecretShare: secretShare, PublicKey: publicKey, VerificationShares: shares}, nil
}

// keyPackageJSON is the JSON-nested encoding of a key_package field's
// contents before it is itself hex-encoded as a single opaque string in
// the bundle, mirroring protocols/lss/config/marshal.go's wrapper-struct
// pattern.
type keyPackageJSON struct {
	SecretShare        string            `json:"secret_share"`
	PublicKey          string            `json:"public_key"`
	VerificationShares map[string]string `json:"verification_shares"`
}

func hexMap(m map[int][]byte) map[string]string {
	out := make(map[string]string, len(m))
	for idx, b := range m {
		out[fmt.Sprintf("%d", idx)] = hex.EncodeToString(b)
	}
	return out
}
