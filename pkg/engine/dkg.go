// Package engine implements spec.md §4.2's Protocol Engine: the DKG and
// signing state machines built on top of pkg/ciphersuite's math, adding
// idempotent duplicate handling, Conflict/Blame attribution, and the
// explicit phase tracking spec.md §4.2 names.
//
// Grounded on protocols/lss/dealer/dealer.go's mutex-guarded phase-tracking
// struct (sync.RWMutex, explicit in-progress state, idempotent message
// dispatch) and pkg/protocol/handler.go's verify-then-store separation for
// incoming messages.
package engine

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/stars-labs/mpc-wallet-core/pkg/ciphersuite"
	"github.com/stars-labs/mpc-wallet-core/pkg/curve"
	"github.com/stars-labs/mpc-wallet-core/pkg/errs"
	"github.com/stars-labs/mpc-wallet-core/pkg/party"
)

// DKGState is one phase of the DKG state machine (spec.md §4.2).
type DKGState int

const (
	DKGIdle DKGState = iota
	DKGInitializing
	DKGRound1InProgress
	DKGRound1Complete
	DKGRound2InProgress
	DKGRound2Complete
	DKGFinalizing
	DKGComplete
	DKGFailed
)

func (s DKGState) String() string {
	switch s {
	case DKGIdle:
		return "Idle"
	case DKGInitializing:
		return "Initializing"
	case DKGRound1InProgress:
		return "Round1InProgress"
	case DKGRound1Complete:
		return "Round1Complete"
	case DKGRound2InProgress:
		return "Round2InProgress"
	case DKGRound2Complete:
		return "Round2Complete"
	case DKGFinalizing:
		return "Finalizing"
	case DKGComplete:
		return "Complete"
	case DKGFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

func partyIndexID(i int) party.ID {
	return party.ID(fmt.Sprintf("index:%d", i))
}

// DKGEngine drives one participant's side of the 2-round DKG: new_dkg_part1
// at construction, then accept_round1 and accept_round2 as peer packages
// arrive, with is_ready_to_advance as a read-only phase query.
type DKGEngine struct {
	mu sync.Mutex

	group     curve.Curve
	selfIndex int
	threshold int
	total     int
	rng       io.Reader

	state DKGState
	err   error

	round1Secret *ciphersuite.Round1SecretState
	round1Seen   map[int][32]byte
	round1Pkgs   map[int]ciphersuite.Round1Package

	round2Secret  *ciphersuite.Round2SecretState
	round2Seen    map[int][32]byte
	round2Pkgs    map[int]ciphersuite.Round2Package
	round2Pending map[int]ciphersuite.Round2Package

	keyPackage       *ciphersuite.KeyPackage
	publicKeyPackage *ciphersuite.PublicKeyPackage
}

// NewDKGEngine implements spec.md §4.2's init_dkg: generates this
// participant's round-1 contribution and returns the package to broadcast.
func NewDKGEngine(group curve.Curve, selfIndex, threshold, total int, rng io.Reader) (*DKGEngine, ciphersuite.Round1Package, error) {
	e := &DKGEngine{
		group:      group,
		selfIndex:  selfIndex,
		threshold:  threshold,
		total:      total,
		rng:        rng,
		state:      DKGInitializing,
		round1Seen:    make(map[int][32]byte, total),
		round1Pkgs:    make(map[int]ciphersuite.Round1Package, total),
		round2Seen:    make(map[int][32]byte, total),
		round2Pkgs:    make(map[int]ciphersuite.Round2Package, total),
		round2Pending: make(map[int]ciphersuite.Round2Package, total),
	}

	secret, pkg, err := ciphersuite.NewDKGPart1(group, selfIndex, threshold, total, rng)
	if err != nil {
		e.state = DKGFailed
		e.err = err
		return nil, ciphersuite.Round1Package{}, err
	}
	e.round1Secret = secret
	e.round1Pkgs[selfIndex] = pkg
	e.round1Seen[selfIndex] = blake3.Sum256(pkg.Bytes)
	e.state = DKGRound1InProgress
	return e, pkg, nil
}

func (e *DKGEngine) fail(err error) error {
	e.state = DKGFailed
	e.err = err
	return err
}

// AcceptRound1 implements spec.md §4.2's accept_round1: idempotent on
// exact redelivery, Conflict on divergent redelivery from the same
// sender, and once every participant's package has arrived it runs
// dkg_part2 and returns this participant's addressed round-2 packages.
// If any round-2 packages were buffered by AcceptRound2 while round-1 was
// still in progress, the round1->round2 transition also drains them (in
// ascending sender-index order); keyPkg/pubKeyPkg/round2Ready report
// whether that drain alone finished the DKG.
func (e *DKGEngine) AcceptRound1(senderIndex int, pkg ciphersuite.Round1Package) (outgoing map[int]ciphersuite.Round2Package, round1Ready bool, keyPkg *ciphersuite.KeyPackage, pubKeyPkg *ciphersuite.PublicKeyPackage, round2Ready bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == DKGFailed {
		return nil, false, nil, nil, false, errs.Wrap(errs.Cancelled, "engine: dkg already failed", e.err)
	}
	if e.state != DKGRound1InProgress {
		return nil, false, nil, nil, false, errs.New(errs.Invalid, "engine: not accepting round1 packages in state "+e.state.String())
	}
	if senderIndex == e.selfIndex {
		return nil, false, nil, nil, false, errs.New(errs.Invalid, "engine: cannot accept own package from the network")
	}
	if senderIndex < 1 || senderIndex > e.total {
		return nil, false, nil, nil, false, errs.New(errs.Invalid, "engine: sender index out of range")
	}
	if pkg.SenderIndex != senderIndex {
		return nil, false, nil, nil, false, errs.New(errs.Invalid, "engine: package keyed by wrong index")
	}

	hash := blake3.Sum256(pkg.Bytes)
	if seen, ok := e.round1Seen[senderIndex]; ok {
		if seen != hash {
			return nil, false, nil, nil, false, e.fail(errs.WithCulprit(errs.Conflict, partyIndexID(senderIndex), "engine: divergent round1 redelivery"))
		}
		return nil, false, nil, nil, false, nil
	}
	e.round1Seen[senderIndex] = hash
	e.round1Pkgs[senderIndex] = pkg

	if len(e.round1Pkgs) < e.total {
		return nil, false, nil, nil, false, nil
	}

	e.state = DKGRound1Complete
	secret2, outgoing, perr := ciphersuite.DKGPart2(e.round1Secret, e.round1Pkgs, e.rng)
	if perr != nil {
		return nil, false, nil, nil, false, e.fail(perr)
	}
	e.round2Secret = secret2
	e.state = DKGRound2InProgress

	keyPkg, pubKeyPkg, round2Ready, err = e.drainRound2PendingLocked()
	if err != nil {
		return outgoing, true, nil, nil, false, err
	}
	return outgoing, true, keyPkg, pubKeyPkg, round2Ready, nil
}

// AcceptRound2 implements spec.md §4.2's accept_round2: once every
// addressed share has arrived it runs dkg_finalize and returns the
// participant's final key material. A package that arrives before this
// participant's own round-1 has completed is buffered rather than
// rejected; AcceptRound1 drains it, in sender-index order, the moment
// round-1 completes.
func (e *DKGEngine) AcceptRound2(senderIndex int, pkg ciphersuite.Round2Package) (*ciphersuite.KeyPackage, *ciphersuite.PublicKeyPackage, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == DKGFailed {
		return nil, nil, false, errs.Wrap(errs.Cancelled, "engine: dkg already failed", e.err)
	}
	if senderIndex == e.selfIndex {
		return nil, nil, false, errs.New(errs.Invalid, "engine: cannot accept own package from the network")
	}
	if pkg.SenderIndex != senderIndex || pkg.RecipientIndex != e.selfIndex {
		return nil, nil, false, errs.New(errs.Invalid, "engine: package misaddressed")
	}
	if e.state == DKGInitializing || e.state == DKGRound1InProgress || e.state == DKGRound1Complete {
		e.round2Pending[senderIndex] = pkg
		return nil, nil, false, nil
	}
	if e.state != DKGRound2InProgress {
		return nil, nil, false, errs.New(errs.Invalid, "engine: not accepting round2 packages in state "+e.state.String())
	}
	return e.acceptRound2Locked(senderIndex, pkg)
}

// acceptRound2Locked runs the core accept_round2 logic assuming e.state is
// already DKGRound2InProgress and e.mu is held. Shared by AcceptRound2 and
// drainRound2PendingLocked so a package buffered early and one delivered
// on time go through identical verification.
func (e *DKGEngine) acceptRound2Locked(senderIndex int, pkg ciphersuite.Round2Package) (*ciphersuite.KeyPackage, *ciphersuite.PublicKeyPackage, bool, error) {
	hash := blake3.Sum256(append(append([]byte{}, pkg.Nonce...), pkg.Ciphertext...))
	if seen, ok := e.round2Seen[senderIndex]; ok {
		if seen != hash {
			return nil, nil, false, e.fail(errs.WithCulprit(errs.Conflict, partyIndexID(senderIndex), "engine: divergent round2 redelivery"))
		}
		return nil, nil, false, nil
	}
	e.round2Seen[senderIndex] = hash
	e.round2Pkgs[senderIndex] = pkg

	if len(e.round2Pkgs) < e.total-1 {
		return nil, nil, false, nil
	}

	e.state = DKGRound2Complete
	e.state = DKGFinalizing
	keyPkg, pubPkg, err := ciphersuite.DKGFinalize(e.round2Secret, e.round2Pkgs)
	if err != nil {
		return nil, nil, false, e.fail(err)
	}
	e.keyPackage = keyPkg
	e.publicKeyPackage = pubPkg
	e.state = DKGComplete
	return keyPkg, pubPkg, true, nil
}

// drainRound2PendingLocked replays every round-2 package buffered by
// AcceptRound2 while round-1 was still in progress, in ascending
// sender-index order, now that e.state is DKGRound2InProgress. Stops and
// reports completion as soon as dkg_finalize runs; any packages still
// unprocessed stay buffered only if draining never reaches them, which
// cannot happen once finalize succeeds since e.mu is held throughout.
func (e *DKGEngine) drainRound2PendingLocked() (*ciphersuite.KeyPackage, *ciphersuite.PublicKeyPackage, bool, error) {
	indices := make([]int, 0, len(e.round2Pending))
	for idx := range e.round2Pending {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	for _, idx := range indices {
		pkg := e.round2Pending[idx]
		delete(e.round2Pending, idx)
		keyPkg, pubPkg, ready, err := e.acceptRound2Locked(idx, pkg)
		if err != nil {
			return nil, nil, false, err
		}
		if ready {
			return keyPkg, pubPkg, true, nil
		}
	}
	return nil, nil, false, nil
}

// Cancel implements spec.md §5's cooperative cancellation: transitions the
// engine to Failed(Cancelled) unless it has already reached a terminal
// state. Safe to call concurrently with an in-flight accept_* call; the
// next accept_* observes the cancellation and returns the Cancelled error.
func (e *DKGEngine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == DKGFailed || e.state == DKGComplete {
		return
	}
	e.state = DKGFailed
	e.err = errs.New(errs.Cancelled, "engine: dkg cancelled")
}

// IsReadyToAdvance implements spec.md §4.2's is_ready_to_advance: reports
// whether the current phase has collected everything it needs, without
// mutating state. Nothing else in this module calls it: AcceptRound1 and
// AcceptRound2 advance the phase themselves once its inputs are complete.
func (e *DKGEngine) IsReadyToAdvance() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case DKGRound1InProgress:
		return len(e.round1Pkgs) == e.total
	case DKGRound2InProgress:
		return len(e.round2Pkgs) == e.total-1
	default:
		return false
	}
}

// State returns the current DKG phase.
func (e *DKGEngine) State() DKGState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the failure cause, if the engine has failed.
func (e *DKGEngine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// KeyPackage returns the finalized key package, or nil before completion.
func (e *DKGEngine) KeyPackage() *ciphersuite.KeyPackage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.keyPackage
}

// PublicKeyPackage returns the finalized public key package, or nil before
// completion.
func (e *DKGEngine) PublicKeyPackage() *ciphersuite.PublicKeyPackage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.publicKeyPackage
}
