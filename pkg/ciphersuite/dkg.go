package ciphersuite

import (
	"context"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/stars-labs/mpc-wallet-core/pkg/curve"
	"github.com/stars-labs/mpc-wallet-core/pkg/errs"
	"github.com/stars-labs/mpc-wallet-core/pkg/polynomial"
	"github.com/stars-labs/mpc-wallet-core/pkg/workerpool"
)

const (
	dkgPoKDomain   = "mpc-wallet-core/frost/dkg/pok/v1"
	dkgShareDomain = "mpc-wallet-core/frost/dkg/share-key/v1"
)

// Round1SecretState is a participant's private state between new_dkg_part1
// and dkg_part2: the degree-(threshold-1) polynomial it committed to.
type Round1SecretState struct {
	group     curve.Curve
	selfIndex int
	threshold int
	total     int
	poly      *polynomial.Polynomial
}

// Round1Package is the commitment bundle one participant broadcasts after
// new_dkg_part1 (spec.md §3).
type Round1Package struct {
	SenderIndex int
	Bytes       []byte
}

type round1Wire struct {
	Commitments [][]byte `cbor:"1,keyasint"`
	ProofR      []byte   `cbor:"2,keyasint"`
	ProofZ      []byte   `cbor:"3,keyasint"`
}

// NewDKGPart1 implements spec.md §4.1's new_dkg_part1: draws a random
// degree-(threshold-1) polynomial, commits to its coefficients, and proves
// knowledge of the constant term so dkg_part2 can reject rogue-key
// contributions before any share changes hands.
func NewDKGPart1(group curve.Curve, selfIndex, threshold, total int, r io.Reader) (*Round1SecretState, Round1Package, error) {
	if selfIndex < 1 || selfIndex > total {
		return nil, Round1Package{}, errs.New(errs.Invalid, "ciphersuite: self index out of range")
	}
	if threshold < 2 || threshold > total {
		return nil, Round1Package{}, errs.New(errs.Invalid, "ciphersuite: threshold out of range")
	}

	poly, err := polynomial.NewPolynomial(group, threshold-1, nil, r)
	if err != nil {
		return nil, Round1Package{}, errs.Wrap(errs.Internal, "ciphersuite: polynomial generation", err)
	}

	commitments := poly.Commitments()
	commitBytes := make([][]byte, len(commitments))
	for i, c := range commitments {
		b, merr := c.MarshalBinary()
		if merr != nil {
			return nil, Round1Package{}, errs.Wrap(errs.Internal, "ciphersuite: marshal commitment", merr)
		}
		commitBytes[i] = b
	}

	k, err := group.RandomScalar(r)
	if err != nil {
		return nil, Round1Package{}, errs.Wrap(errs.Internal, "ciphersuite: proof nonce", err)
	}
	R := k.ActOnBase()
	Rb, err := R.MarshalBinary()
	if err != nil {
		return nil, Round1Package{}, errs.Wrap(errs.Internal, "ciphersuite: marshal proof point", err)
	}
	c := hashToScalar(group, dkgPoKDomain, indexBytes(selfIndex), commitBytes[0], Rb)
	z := k.Add(c.Mul(poly.Constant()))
	zb, err := z.MarshalBinary()
	if err != nil {
		return nil, Round1Package{}, errs.Wrap(errs.Internal, "ciphersuite: marshal proof scalar", err)
	}

	wire := round1Wire{Commitments: commitBytes, ProofR: Rb, ProofZ: zb}
	payload, err := cbor.Marshal(wire)
	if err != nil {
		return nil, Round1Package{}, errs.Wrap(errs.Internal, "ciphersuite: encode round1 package", err)
	}

	secret := &Round1SecretState{group: group, selfIndex: selfIndex, threshold: threshold, total: total, poly: poly}
	return secret, Round1Package{SenderIndex: selfIndex, Bytes: payload}, nil
}

// decodeRound1Package parses and verifies one peer's commitment bundle,
// returning the verified commitments or a Blame error attributed to the
// sender.
func decodeRound1Package(group curve.Curve, threshold int, pkg Round1Package) ([]curve.Point, error) {
	var wire round1Wire
	if err := cbor.Unmarshal(pkg.Bytes, &wire); err != nil {
		return nil, errs.WithCulprit(errs.Blame, partyIndexID(pkg.SenderIndex), "ciphersuite: malformed round1 package")
	}
	if len(wire.Commitments) != threshold {
		return nil, errs.WithCulprit(errs.Blame, partyIndexID(pkg.SenderIndex), "ciphersuite: wrong commitment count")
	}
	commitments := make([]curve.Point, threshold)
	for i, cb := range wire.Commitments {
		p := group.NewPoint()
		if err := p.UnmarshalBinary(cb); err != nil {
			return nil, errs.WithCulprit(errs.Blame, partyIndexID(pkg.SenderIndex), "ciphersuite: malformed commitment")
		}
		commitments[i] = p
	}
	if commitments[0].IsIdentity() {
		return nil, errs.WithCulprit(errs.Blame, partyIndexID(pkg.SenderIndex), "ciphersuite: identity commitment")
	}

	R := group.NewPoint()
	if err := R.UnmarshalBinary(wire.ProofR); err != nil {
		return nil, errs.WithCulprit(errs.Blame, partyIndexID(pkg.SenderIndex), "ciphersuite: malformed proof point")
	}
	z := group.NewScalar()
	if err := z.UnmarshalBinary(wire.ProofZ); err != nil {
		return nil, errs.WithCulprit(errs.Blame, partyIndexID(pkg.SenderIndex), "ciphersuite: malformed proof scalar")
	}
	c := hashToScalar(group, dkgPoKDomain, indexBytes(pkg.SenderIndex), wire.Commitments[0], wire.ProofR)
	lhs := z.ActOnBase()
	rhs := R.Add(c.Act(commitments[0]))
	if !lhs.Equal(rhs) {
		return nil, errs.WithCulprit(errs.Blame, partyIndexID(pkg.SenderIndex), "ciphersuite: proof of knowledge failed")
	}
	return commitments, nil
}

// Round2SecretState is a participant's private state between dkg_part2 and
// dkg_finalize: its own polynomial plus every verified round-1 commitment
// set, needed both to decrypt addressed shares and to compute
// verification shares at finalize time.
type Round2SecretState struct {
	group             curve.Curve
	selfIndex         int
	threshold         int
	total             int
	poly              *polynomial.Polynomial
	round1Commitments map[int][]curve.Point
}

// Round2Package is one point-to-point addressed share. It is encrypted
// under a key the sender and recipient each derive via a static
// Diffie-Hellman exchange over their round-1 constant-term commitments —
// the only key-agreement material spec.md's DKG data model makes
// available — so that the "encrypted secret-share bundle" spec.md §3
// calls for is an actual AEAD ciphertext rather than a plaintext share
// riding on an assumed-private transport.
type Round2Package struct {
	SenderIndex    int
	RecipientIndex int
	Nonce          []byte
	Ciphertext     []byte
}

type round2Plaintext struct {
	Share []byte `cbor:"1,keyasint"`
}

// sharedKey derives a symmetric key from a static Diffie-Hellman exchange:
// own constant-term secret times the other party's constant-term
// commitment. Both ends compute the same point, since scalar
// multiplication over the group commutes: a_i*(a_j*G) == a_j*(a_i*G).
func sharedKey(group curve.Curve, own curve.Scalar, other curve.Point) ([]byte, error) {
	shared := own.Act(other)
	sb, err := shared.MarshalBinary()
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "ciphersuite: marshal shared point", err)
	}
	digest := blake3.Sum256(buildTranscript(dkgShareDomain, sb))
	return digest[:chacha20poly1305.KeySize], nil
}

type verifiedRound1 struct {
	idx         int
	commitments []curve.Point
}

// verifyRound1Batch runs decodeRound1Package over the whole round's packages
// concurrently via workerpool.Map (limit 0, so no cap on how many run at
// once) instead of serially: each
// package's proof-of-knowledge check is an independent scalar-multiply-heavy
// verification, exactly the batched CPU-bound work workerpool exists for.
func verifyRound1Batch(group curve.Curve, threshold int, round1Packages map[int]Round1Package) (map[int][]curve.Point, error) {
	items := make([]Round1Package, 0, len(round1Packages))
	for idx, pkg := range round1Packages {
		if pkg.SenderIndex != idx {
			return nil, errs.New(errs.Invalid, "ciphersuite: round1 package keyed by wrong index")
		}
		items = append(items, pkg)
	}

	results, err := workerpool.Map(context.Background(), 0, items, func(_ context.Context, pkg Round1Package) (verifiedRound1, error) {
		commitments, err := decodeRound1Package(group, threshold, pkg)
		if err != nil {
			return verifiedRound1{}, err
		}
		return verifiedRound1{idx: pkg.SenderIndex, commitments: commitments}, nil
	})
	if err != nil {
		return nil, err
	}

	commitmentsByIndex := make(map[int][]curve.Point, len(results))
	for _, v := range results {
		commitmentsByIndex[v.idx] = v.commitments
	}
	return commitmentsByIndex, nil
}

// DKGPart2 implements spec.md §4.1's dkg_part2: verifies every peer's
// round-1 package, then produces one encrypted, addressed share for each
// other participant.
func DKGPart2(secret *Round1SecretState, round1Packages map[int]Round1Package, r io.Reader) (*Round2SecretState, map[int]Round2Package, error) {
	commitmentsByIndex, err := verifyRound1Batch(secret.group, secret.threshold, round1Packages)
	if err != nil {
		return nil, nil, err
	}
	if len(commitmentsByIndex) != secret.total {
		return nil, nil, errs.New(errs.Invalid, "ciphersuite: missing round1 package")
	}

	packages := make(map[int]Round2Package, secret.total-1)
	for recipient, recipientCommitments := range commitmentsByIndex {
		if recipient == secret.selfIndex {
			continue
		}
		share := secret.poly.Evaluate(secret.group.ScalarFromUint64(uint64(recipient)))
		shareBytes, err := share.MarshalBinary()
		if err != nil {
			return nil, nil, errs.Wrap(errs.Internal, "ciphersuite: marshal share", err)
		}
		plaintext, err := cbor.Marshal(round2Plaintext{Share: shareBytes})
		if err != nil {
			return nil, nil, errs.Wrap(errs.Internal, "ciphersuite: encode share", err)
		}
		key, err := sharedKey(secret.group, secret.poly.Constant(), recipientCommitments[0])
		if err != nil {
			return nil, nil, err
		}
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, nil, errs.Wrap(errs.Internal, "ciphersuite: aead init", err)
		}
		nonce := make([]byte, chacha20poly1305.NonceSize)
		if _, err := io.ReadFull(r, nonce); err != nil {
			return nil, nil, errs.Wrap(errs.Internal, "ciphersuite: nonce", err)
		}
		ciphertext := aead.Seal(nil, nonce, plaintext, nil)
		packages[recipient] = Round2Package{
			SenderIndex:    secret.selfIndex,
			RecipientIndex: recipient,
			Nonce:          nonce,
			Ciphertext:     ciphertext,
		}
	}

	secret2 := &Round2SecretState{
		group:             secret.group,
		selfIndex:         secret.selfIndex,
		threshold:         secret.threshold,
		total:             secret.total,
		poly:              secret.poly,
		round1Commitments: commitmentsByIndex,
	}
	return secret2, packages, nil
}

// KeyPackage is a participant's final share of the DKG: its secret share,
// the joint public key, and every participant's public verification share
// (spec.md §3).
type KeyPackage struct {
	Group              curve.Tag
	Index              int
	Threshold          int
	Total              int
	SecretShare        curve.Scalar
	PublicKey          curve.Point
	VerificationShares map[int]curve.Point
}

// PublicKeyPackage is the public counterpart of KeyPackage: shareable with
// anyone who needs to verify a signature or a participant's share without
// holding any secret (spec.md §3: "ships with every KeyPackage").
type PublicKeyPackage struct {
	Group              curve.Tag
	PublicKey          curve.Point
	VerificationShares map[int]curve.Point
}

// DKGFinalize implements spec.md §4.1's dkg_finalize: decrypts and verifies
// every addressed share against the sender's round-1 commitments, then
// combines them into the participant's final key material.
func DKGFinalize(secret *Round2SecretState, round2Packages map[int]Round2Package) (*KeyPackage, *PublicKeyPackage, error) {
	group := secret.group
	secretShare := secret.poly.Evaluate(group.ScalarFromUint64(uint64(secret.selfIndex)))

	if len(round2Packages) != secret.total-1 {
		return nil, nil, errs.New(errs.Invalid, "ciphersuite: missing round2 package")
	}

	for sender, pkg := range round2Packages {
		if pkg.SenderIndex != sender || pkg.RecipientIndex != secret.selfIndex {
			return nil, nil, errs.New(errs.Invalid, "ciphersuite: round2 package misaddressed")
		}
		senderCommitments, ok := secret.round1Commitments[sender]
		if !ok {
			return nil, nil, errs.New(errs.Invalid, "ciphersuite: round2 package from unknown sender")
		}
		key, err := sharedKey(group, secret.poly.Constant(), senderCommitments[0])
		if err != nil {
			return nil, nil, err
		}
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, nil, errs.Wrap(errs.Internal, "ciphersuite: aead init", err)
		}
		plaintext, err := aead.Open(nil, pkg.Nonce, pkg.Ciphertext, nil)
		if err != nil {
			return nil, nil, errs.WithCulprit(errs.Blame, partyIndexID(sender), "ciphersuite: share decryption failed")
		}
		var pt round2Plaintext
		if err := cbor.Unmarshal(plaintext, &pt); err != nil {
			return nil, nil, errs.WithCulprit(errs.Blame, partyIndexID(sender), "ciphersuite: malformed share")
		}
		share := group.NewScalar()
		if err := share.UnmarshalBinary(pt.Share); err != nil {
			return nil, nil, errs.WithCulprit(errs.Blame, partyIndexID(sender), "ciphersuite: malformed share encoding")
		}
		expected := polynomial.EvaluateCommitment(group, senderCommitments, group.ScalarFromUint64(uint64(secret.selfIndex)))
		if !share.ActOnBase().Equal(expected) {
			return nil, nil, errs.WithCulprit(errs.Blame, partyIndexID(sender), "ciphersuite: share failed commitment check")
		}
		secretShare = secretShare.Add(share)
	}

	publicKey := group.NewPoint()
	for _, commitments := range secret.round1Commitments {
		publicKey = publicKey.Add(commitments[0])
	}

	verificationShares := make(map[int]curve.Point, secret.total)
	for idx := 1; idx <= secret.total; idx++ {
		vs := group.NewPoint()
		x := group.ScalarFromUint64(uint64(idx))
		for _, commitments := range secret.round1Commitments {
			vs = vs.Add(polynomial.EvaluateCommitment(group, commitments, x))
		}
		verificationShares[idx] = vs
	}

	// Ciphersuites with a BIP-340 style even-y convention (secp256k1) need
	// the joint public key itself to have even y, not just the per-signature
	// commitment R: a standard verifier's lift_x always reconstructs the
	// even-y point for a given x-coordinate, so an odd-y group key could
	// never be the key such a verifier checks against. Shamir sharing is
	// linear, so negating the key, every participant's secret share, and
	// every verification share together (d' = -d mod n) preserves the same
	// threshold-reconstruction relationship under the negated key.
	if group.NeedsEvenY() && group.IsOddY(publicKey) {
		publicKey = publicKey.Negate()
		secretShare = secretShare.Negate()
		for idx, vs := range verificationShares {
			verificationShares[idx] = vs.Negate()
		}
	}

	keyPkg := &KeyPackage{
		Group:              group.Tag(),
		Index:              secret.selfIndex,
		Threshold:          secret.threshold,
		Total:              secret.total,
		SecretShare:        secretShare,
		PublicKey:          publicKey,
		VerificationShares: verificationShares,
	}
	pubPkg := &PublicKeyPackage{Group: group.Tag(), PublicKey: publicKey, VerificationShares: verificationShares}
	return keyPkg, pubPkg, nil
}
