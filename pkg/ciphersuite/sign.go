package ciphersuite

import (
	"bytes"
	"io"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/stars-labs/mpc-wallet-core/pkg/curve"
	"github.com/stars-labs/mpc-wallet-core/pkg/errs"
	"github.com/stars-labs/mpc-wallet-core/pkg/polynomial"
)

const (
	signNonceDomain   = "mpc-wallet-core/frost/sign/nonce/v1"
	signBindingDomain = "mpc-wallet-core/frost/sign/binding/v1"
)

// NonceState is the private material a participant holds between
// signing_commit and signing_sign: a hiding and a binding nonce, each
// single-use (spec.md §4.1, Testable Property on nonce reuse).
type NonceState struct {
	group    curve.Curve
	hiding   curve.Scalar
	binding  curve.Scalar
	consumed bool
}

func (n *NonceState) zeroize() {
	n.hiding = nil
	n.binding = nil
	n.consumed = true
}

// DebugNonceZeroized reports whether the nonce material has been cleared.
// It exists only so tests can observe the single-use invariant directly;
// no production caller should depend on it.
func (n *NonceState) DebugNonceZeroized() bool {
	return n.consumed && n.hiding == nil && n.binding == nil
}

// Discard wipes the nonce material without producing a signature share.
// Callers use this when a signing session is abandoned or fails before
// signing_sign runs, so a live nonce never outlives its session.
func (n *NonceState) Discard() {
	n.zeroize()
}

// SigningCommitment is the hiding/binding commitment pair one participant
// broadcasts after signing_commit.
type SigningCommitment struct {
	SenderIndex int
	Bytes       []byte
}

type signingCommitmentWire struct {
	Hiding  []byte `cbor:"1,keyasint"`
	Binding []byte `cbor:"2,keyasint"`
}

// SignatureShare is one participant's contribution to the final signature.
type SignatureShare struct {
	SenderIndex int
	Bytes       []byte
}

// FinalSignature is the aggregated Schnorr signature: the group commitment
// (x-only for secp256k1, full point for ed25519) followed by the response
// scalar, 64 bytes either way.
type FinalSignature []byte

// deriveNonces implements the hedged nonce derivation grounded on
// protocols/frost/sign/round1.go: a domain-separated hash mixing the
// signer's own secret share, the message being signed, and fresh
// randomness, so a broken or adversarial RNG alone cannot force nonce
// reuse across signing sessions.
func deriveNonces(group curve.Curve, secretShare curve.Scalar, message []byte, r io.Reader) (hiding, binding curve.Scalar, err error) {
	randBuf := make([]byte, 32)
	if _, err = io.ReadFull(r, randBuf); err != nil {
		return nil, nil, err
	}
	secretBytes, err := secretShare.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	transcript := buildTranscript(signNonceDomain, secretBytes, message, randBuf)
	hiding = group.ScalarFromWideBytes(wideHash(append(append([]byte{}, transcript...), 0x10)))
	binding = group.ScalarFromWideBytes(wideHash(append(append([]byte{}, transcript...), 0x11)))
	return hiding, binding, nil
}

// SigningCommit implements spec.md §4.1's signing_commit: derives a fresh
// nonce pair and returns the commitment to broadcast.
func SigningCommit(keyPkg *KeyPackage, message []byte, r io.Reader) (*NonceState, SigningCommitment, error) {
	group, err := curve.ForTag(keyPkg.Group)
	if err != nil {
		return nil, SigningCommitment{}, errs.Wrap(errs.Invalid, "ciphersuite: unknown group", err)
	}
	hiding, binding, err := deriveNonces(group, keyPkg.SecretShare, message, r)
	if err != nil {
		return nil, SigningCommitment{}, errs.Wrap(errs.Internal, "ciphersuite: nonce derivation", err)
	}
	hb, err := hiding.ActOnBase().MarshalBinary()
	if err != nil {
		return nil, SigningCommitment{}, errs.Wrap(errs.Internal, "ciphersuite: marshal hiding commitment", err)
	}
	bb, err := binding.ActOnBase().MarshalBinary()
	if err != nil {
		return nil, SigningCommitment{}, errs.Wrap(errs.Internal, "ciphersuite: marshal binding commitment", err)
	}
	payload, err := cbor.Marshal(signingCommitmentWire{Hiding: hb, Binding: bb})
	if err != nil {
		return nil, SigningCommitment{}, errs.Wrap(errs.Internal, "ciphersuite: encode commitment", err)
	}

	state := &NonceState{group: group, hiding: hiding, binding: binding}
	return state, SigningCommitment{SenderIndex: keyPkg.Index, Bytes: payload}, nil
}

// computeBindingFactorsAndGroupCommitment decodes every signer's
// commitment, derives each signer's binding factor rho_i, and sums the
// group commitment R = Σ(H_i + rho_i*B_i). If the ciphersuite requires an
// even-y group commitment and R does not have one, effR is R negated and
// negate is true: every signer independently derives the same decision
// from the same public commitments, so z-share computation stays
// consistent without any extra coordination round.
func computeBindingFactorsAndGroupCommitment(group curve.Curve, pubKey curve.Point, message []byte, commitments map[int]SigningCommitment) (
	hidingPts, bindingPts map[int]curve.Point, rhos map[int]curve.Scalar, R, effR curve.Point, negate bool, signerIndices []int, err error) {

	hidingPts = make(map[int]curve.Point, len(commitments))
	bindingPts = make(map[int]curve.Point, len(commitments))
	signerIndices = make([]int, 0, len(commitments))

	for idx, c := range commitments {
		if c.SenderIndex != idx {
			err = errs.New(errs.Invalid, "ciphersuite: commitment keyed by wrong index")
			return
		}
		var wire signingCommitmentWire
		if uerr := cbor.Unmarshal(c.Bytes, &wire); uerr != nil {
			err = errs.WithCulprit(errs.Blame, partyIndexID(idx), "ciphersuite: malformed commitment")
			return
		}
		hp := group.NewPoint()
		if uerr := hp.UnmarshalBinary(wire.Hiding); uerr != nil {
			err = errs.WithCulprit(errs.Blame, partyIndexID(idx), "ciphersuite: malformed hiding commitment")
			return
		}
		bp := group.NewPoint()
		if uerr := bp.UnmarshalBinary(wire.Binding); uerr != nil {
			err = errs.WithCulprit(errs.Blame, partyIndexID(idx), "ciphersuite: malformed binding commitment")
			return
		}
		hidingPts[idx] = hp
		bindingPts[idx] = bp
		signerIndices = append(signerIndices, idx)
	}
	sort.Ints(signerIndices)

	pubKeyBytes, merr := pubKey.MarshalBinary()
	if merr != nil {
		err = errs.Wrap(errs.Internal, "ciphersuite: marshal group key", merr)
		return
	}

	var listBuf bytes.Buffer
	for _, idx := range signerIndices {
		hb, _ := hidingPts[idx].MarshalBinary()
		bb, _ := bindingPts[idx].MarshalBinary()
		listBuf.Write(indexBytes(idx))
		listBuf.Write(hb)
		listBuf.Write(bb)
	}
	listBytes := listBuf.Bytes()

	rhos = make(map[int]curve.Scalar, len(signerIndices))
	for _, idx := range signerIndices {
		rhos[idx] = hashToScalar(group, signBindingDomain, message, pubKeyBytes, listBytes, indexBytes(idx))
	}

	R = group.NewPoint()
	for _, idx := range signerIndices {
		R = R.Add(hidingPts[idx].Add(rhos[idx].Act(bindingPts[idx])))
	}

	effR = R
	if group.NeedsEvenY() && group.IsOddY(R) {
		effR = R.Negate()
		negate = true
	}
	return
}

// computeChallenge computes the standard Schnorr challenge e via
// group.ChallengeHash, so the resulting signature verifies under an
// off-the-shelf verifier (BIP-340's schnorr.Verify for secp256k1, stdlib
// crypto/ed25519.Verify for ed25519) rather than only Aggregate's own
// check below. pubKey must already satisfy group.NeedsEvenY (DKGFinalize
// enforces this), so SchnorrRBytes's x-only encoding round-trips through
// a verifier's lift_x the same way effR's does.
func computeChallenge(group curve.Curve, effR, pubKey curve.Point, message []byte) (curve.Scalar, error) {
	rb := group.SchnorrRBytes(effR)
	pkb := group.SchnorrRBytes(pubKey)
	return group.ChallengeHash(rb, pkb, message), nil
}

// SigningSign implements spec.md §4.1's signing_sign: combines the
// signer's nonce with the group's binding factors and the Lagrange
// coefficient for its index, then irreversibly consumes the nonce.
func SigningSign(state *NonceState, keyPkg *KeyPackage, pubKeyPkg *PublicKeyPackage, message []byte, commitments map[int]SigningCommitment) (SignatureShare, error) {
	if state.consumed {
		return SignatureShare{}, errs.New(errs.Invalid, "ciphersuite: nonce already consumed")
	}
	if _, ok := commitments[keyPkg.Index]; !ok {
		return SignatureShare{}, errs.New(errs.Invalid, "ciphersuite: signer's own commitment missing")
	}

	group := state.group
	_, _, rhos, _, effR, negate, signerIndices, err := computeBindingFactorsAndGroupCommitment(group, pubKeyPkg.PublicKey, message, commitments)
	if err != nil {
		state.zeroize()
		return SignatureShare{}, err
	}
	challenge, err := computeChallenge(group, effR, pubKeyPkg.PublicKey, message)
	if err != nil {
		state.zeroize()
		return SignatureShare{}, err
	}

	lambdas := polynomial.Lagrange(group, signerIndices)
	lambda, ok := lambdas[keyPkg.Index]
	if !ok {
		state.zeroize()
		return SignatureShare{}, errs.New(errs.Invalid, "ciphersuite: signer not part of its own signer set")
	}

	sign := group.ScalarFromUint64(1)
	if negate {
		sign = sign.Negate()
	}
	nonceTerm := sign.Mul(state.hiding.Add(rhos[keyPkg.Index].Mul(state.binding)))
	z := nonceTerm.Add(lambda.Mul(keyPkg.SecretShare).Mul(challenge))

	state.zeroize()

	return SignatureShare{SenderIndex: keyPkg.Index, Bytes: mustMarshalScalar(z)}, nil
}

// Aggregate implements spec.md §4.1's aggregate: verifies every signature
// share against the signer's public verification share (attributing a bad
// share to its sender before the aggregate even-y convention check could
// mask it), then combines the shares into the final signature.
func Aggregate(pubKeyPkg *PublicKeyPackage, message []byte, commitments map[int]SigningCommitment, shares map[int]SignatureShare) (FinalSignature, error) {
	group, err := curve.ForTag(pubKeyPkg.Group)
	if err != nil {
		return nil, errs.Wrap(errs.Invalid, "ciphersuite: unknown group", err)
	}
	hidingPts, bindingPts, rhos, _, effR, negate, signerIndices, err := computeBindingFactorsAndGroupCommitment(group, pubKeyPkg.PublicKey, message, commitments)
	if err != nil {
		return nil, err
	}
	challenge, err := computeChallenge(group, effR, pubKeyPkg.PublicKey, message)
	if err != nil {
		return nil, err
	}
	if len(shares) != len(signerIndices) {
		return nil, errs.New(errs.Invalid, "ciphersuite: share count does not match signer set")
	}
	lambdas := polynomial.Lagrange(group, signerIndices)

	sign := group.ScalarFromUint64(1)
	if negate {
		sign = sign.Negate()
	}

	total := group.NewScalar()
	for _, idx := range signerIndices {
		share, ok := shares[idx]
		if !ok {
			return nil, errs.New(errs.Invalid, "ciphersuite: missing signature share")
		}
		if share.SenderIndex != idx {
			return nil, errs.New(errs.Invalid, "ciphersuite: share keyed by wrong index")
		}
		z := group.NewScalar()
		if uerr := z.UnmarshalBinary(share.Bytes); uerr != nil {
			return nil, errs.WithCulprit(errs.Blame, partyIndexID(idx), "ciphersuite: malformed signature share")
		}
		vs, ok := pubKeyPkg.VerificationShares[idx]
		if !ok {
			return nil, errs.New(errs.Invalid, "ciphersuite: missing verification share")
		}
		expected := sign.Act(hidingPts[idx].Add(rhos[idx].Act(bindingPts[idx]))).Add(lambdas[idx].Mul(challenge).Act(vs))
		if !z.ActOnBase().Equal(expected) {
			return nil, errs.WithCulprit(errs.Blame, partyIndexID(idx), "ciphersuite: signature share failed verification")
		}
		total = total.Add(z)
	}

	// Redundant with the per-share checks above (their sum implies this
	// holds), but cheap and matches the teacher's verify-before-trust
	// idiom at the boundary of a public, untrusted-input operation.
	lhs := total.ActOnBase()
	rhs := effR.Add(challenge.Act(pubKeyPkg.PublicKey))
	if !lhs.Equal(rhs) {
		return nil, errs.New(errs.Invalid, "ciphersuite: aggregate signature verification failed")
	}

	sig := append(append([]byte{}, group.SchnorrRBytes(effR)...), mustMarshalScalar(total)...)
	return FinalSignature(sig), nil
}
