package engine

import (
	"io"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/stars-labs/mpc-wallet-core/pkg/ciphersuite"
	"github.com/stars-labs/mpc-wallet-core/pkg/errs"
)

// SigningState is one phase of the signing state machine (spec.md §4.2).
type SigningState int

const (
	SigningIdle SigningState = iota
	SigningCollectingCommitments
	SigningCollectingShares
	SigningAggregating
	SigningComplete
	SigningFailed
)

func (s SigningState) String() string {
	switch s {
	case SigningIdle:
		return "Idle"
	case SigningCollectingCommitments:
		return "CollectingCommitments"
	case SigningCollectingShares:
		return "CollectingShares"
	case SigningAggregating:
		return "Aggregating"
	case SigningComplete:
		return "Complete"
	case SigningFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// SigningEngine drives one participant's side of one FROST signing
// session: init_sign at construction, then accept_commitment and
// accept_share as peer contributions arrive, with clear_signing_state to
// release everything once the session is done or abandoned.
type SigningEngine struct {
	mu sync.Mutex

	keyPackage    *ciphersuite.KeyPackage
	pubKeyPackage *ciphersuite.PublicKeyPackage
	signers       map[int]bool
	signerCount   int
	message       []byte

	state SigningState
	err   error

	nonceState *ciphersuite.NonceState

	commitmentSeen map[int][32]byte
	commitments    map[int]ciphersuite.SigningCommitment

	shareSeen map[int][32]byte
	shares    map[int]ciphersuite.SignatureShare

	finalSignature ciphersuite.FinalSignature
}

// NewSigningEngine implements spec.md §4.2's init_sign: derives a fresh
// single-use nonce pair and returns this participant's commitment to
// broadcast to the rest of signerIndices.
func NewSigningEngine(keyPkg *ciphersuite.KeyPackage, pubKeyPkg *ciphersuite.PublicKeyPackage, signerIndices []int, message []byte, rng io.Reader) (*SigningEngine, ciphersuite.SigningCommitment, error) {
	signers := make(map[int]bool, len(signerIndices))
	isSigner := false
	for _, idx := range signerIndices {
		signers[idx] = true
		if idx == keyPkg.Index {
			isSigner = true
		}
	}
	if !isSigner {
		return nil, ciphersuite.SigningCommitment{}, errs.New(errs.Invalid, "engine: self is not a member of the signer set")
	}
	if len(signerIndices) < keyPkg.Threshold {
		return nil, ciphersuite.SigningCommitment{}, errs.New(errs.Invalid, "engine: signer set smaller than threshold")
	}

	state, commitment, err := ciphersuite.SigningCommit(keyPkg, message, rng)
	if err != nil {
		return nil, ciphersuite.SigningCommitment{}, err
	}

	e := &SigningEngine{
		keyPackage:     keyPkg,
		pubKeyPackage:  pubKeyPkg,
		signers:        signers,
		signerCount:    len(signerIndices),
		message:        append([]byte{}, message...),
		state:          SigningCollectingCommitments,
		nonceState:     state,
		commitmentSeen: make(map[int][32]byte, len(signerIndices)),
		commitments:    map[int]ciphersuite.SigningCommitment{keyPkg.Index: commitment},
		shareSeen:      make(map[int][32]byte, len(signerIndices)),
		shares:         make(map[int]ciphersuite.SignatureShare, len(signerIndices)),
	}
	e.commitmentSeen[keyPkg.Index] = blake3.Sum256(commitment.Bytes)
	return e, commitment, nil
}

func (e *SigningEngine) fail(err error) error {
	e.state = SigningFailed
	e.err = err
	if e.nonceState != nil {
		e.nonceState.Discard()
	}
	return err
}

// AcceptCommitment implements spec.md §4.2's accept_commitment. Once every
// signer's commitment has arrived it runs signing_sign and returns this
// participant's own signature share to broadcast.
func (e *SigningEngine) AcceptCommitment(senderIndex int, c ciphersuite.SigningCommitment) (*ciphersuite.SignatureShare, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == SigningFailed {
		return nil, false, errs.Wrap(errs.Cancelled, "engine: signing session already failed", e.err)
	}
	if e.state != SigningCollectingCommitments {
		return nil, false, errs.New(errs.Invalid, "engine: not accepting commitments in state "+e.state.String())
	}
	if !e.signers[senderIndex] {
		return nil, false, errs.New(errs.Invalid, "engine: sender is not part of the signer set")
	}
	if senderIndex == e.keyPackage.Index {
		return nil, false, errs.New(errs.Invalid, "engine: cannot accept own commitment from the network")
	}
	if c.SenderIndex != senderIndex {
		return nil, false, errs.New(errs.Invalid, "engine: commitment keyed by wrong index")
	}

	hash := blake3.Sum256(c.Bytes)
	if seen, ok := e.commitmentSeen[senderIndex]; ok {
		if seen != hash {
			return nil, false, e.fail(errs.WithCulprit(errs.Conflict, partyIndexID(senderIndex), "engine: divergent commitment redelivery"))
		}
		return nil, false, nil
	}
	e.commitmentSeen[senderIndex] = hash
	e.commitments[senderIndex] = c

	if len(e.commitments) < e.signerCount {
		return nil, false, nil
	}

	e.state = SigningCollectingShares
	ownShare, err := ciphersuite.SigningSign(e.nonceState, e.keyPackage, e.pubKeyPackage, e.message, e.commitments)
	if err != nil {
		return nil, false, e.fail(err)
	}
	e.shares[e.keyPackage.Index] = ownShare
	e.shareSeen[e.keyPackage.Index] = blake3.Sum256(ownShare.Bytes)
	return &ownShare, true, nil
}

// AcceptShare implements spec.md §4.2's accept_share. Once every signer's
// share has arrived it runs aggregate and returns the final signature.
func (e *SigningEngine) AcceptShare(senderIndex int, share ciphersuite.SignatureShare) (ciphersuite.FinalSignature, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == SigningFailed {
		return nil, false, errs.Wrap(errs.Cancelled, "engine: signing session already failed", e.err)
	}
	if e.state != SigningCollectingShares {
		return nil, false, errs.New(errs.Invalid, "engine: not accepting shares in state "+e.state.String())
	}
	if !e.signers[senderIndex] {
		return nil, false, errs.New(errs.Invalid, "engine: sender is not part of the signer set")
	}
	if senderIndex == e.keyPackage.Index {
		return nil, false, errs.New(errs.Invalid, "engine: cannot accept own share from the network")
	}
	if share.SenderIndex != senderIndex {
		return nil, false, errs.New(errs.Invalid, "engine: share keyed by wrong index")
	}

	hash := blake3.Sum256(share.Bytes)
	if seen, ok := e.shareSeen[senderIndex]; ok {
		if seen != hash {
			return nil, false, e.fail(errs.WithCulprit(errs.Conflict, partyIndexID(senderIndex), "engine: divergent share redelivery"))
		}
		return nil, false, nil
	}
	e.shareSeen[senderIndex] = hash
	e.shares[senderIndex] = share

	if len(e.shares) < e.signerCount {
		return nil, false, nil
	}

	e.state = SigningAggregating
	sig, err := ciphersuite.Aggregate(e.pubKeyPackage, e.message, e.commitments, e.shares)
	if err != nil {
		return nil, false, e.fail(err)
	}
	e.finalSignature = sig
	e.state = SigningComplete
	return sig, true, nil
}

// Cancel implements spec.md §5's cooperative cancellation: transitions the
// engine to Failed(Cancelled) and zeroizes any live nonce, unless the
// session has already reached a terminal state.
func (e *SigningEngine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == SigningFailed || e.state == SigningComplete {
		return
	}
	e.fail(errs.New(errs.Cancelled, "engine: signing cancelled"))
}

// ClearSigningState implements spec.md §4.2's clear_signing_state: wipes
// any still-live nonce material and resets the engine to Idle so a new
// signing session can reuse the KeyPackage. Safe to call from any state,
// including Failed and mid-session abandonment.
func (e *SigningEngine) ClearSigningState() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.nonceState != nil && !e.nonceState.DebugNonceZeroized() {
		e.nonceState.Discard()
	}
	e.nonceState = nil
	e.commitments = nil
	e.commitmentSeen = nil
	e.shares = nil
	e.shareSeen = nil
	e.finalSignature = nil
	e.state = SigningIdle
	e.err = nil
}

// State returns the current signing phase.
func (e *SigningEngine) State() SigningState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the failure cause, if the engine has failed.
func (e *SigningEngine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// FinalSignature returns the aggregated signature, or nil before
// completion.
func (e *SigningEngine) FinalSignature() ciphersuite.FinalSignature {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finalSignature
}
