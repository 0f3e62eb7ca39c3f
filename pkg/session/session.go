// Package session implements spec.md §4's Session Coordinator: the
// propose/accept/response quorum every participant runs before a DKG (or
// a later signing session) is allowed to start.
//
// Grounded on protocols/lss/dealer/dealer.go's mutex-guarded
// phase-tracking struct (sync.RWMutex, an explicit in-progress state, and
// idempotent message dispatch) adapted from re-share phases to
// proposal/accept/response phases, and protocols/lss's
// CoordinatorRole-style small-state-struct-plus-mutator naming.
package session

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/stars-labs/mpc-wallet-core/pkg/errs"
	"github.com/stars-labs/mpc-wallet-core/pkg/party"
)

// Phase is one state of the session coordination handshake.
type Phase int

const (
	Proposed Phase = iota
	Active
	Failed
)

func (p Phase) String() string {
	switch p {
	case Proposed:
		return "Proposed"
	case Active:
		return "Active"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Coordinator tracks one session's proposal and the acceptance quorum
// every participant (including the proposer) must reach before the
// session becomes Active: every invited participant has to accept, not
// merely a threshold-sized subset, since DKG itself needs the full roster
// online.
type Coordinator struct {
	mu sync.Mutex

	sessionID    string
	self         party.ID
	participants party.IDSlice
	threshold    int
	curveTag     uint8

	phase Phase
	err   error

	proposalHash [32]byte

	responseSeen map[party.ID][32]byte
	accepted     map[party.ID]bool
}

func hashProposal(sessionID string, participants party.IDSlice, threshold int, curveTag uint8) [32]byte {
	var buf bytes.Buffer
	buf.WriteString(sessionID)
	for _, p := range participants {
		buf.WriteString(string(p))
		buf.WriteByte(0)
	}
	var tbuf [8]byte
	binary.BigEndian.PutUint64(tbuf[:], uint64(threshold))
	buf.Write(tbuf[:])
	buf.WriteByte(curveTag)
	return blake3.Sum256(buf.Bytes())
}

func newCoordinator(self party.ID, sessionID string, participants party.IDSlice, threshold int, curveTag uint8) (*Coordinator, error) {
	sorted := participants.Sorted()
	if !sorted.Contains(self) {
		return nil, errs.New(errs.Invalid, "session: self not in participant list")
	}
	if !party.IDSlice(sorted).Unique() {
		return nil, errs.New(errs.Invalid, "session: duplicate participant id")
	}
	if threshold < 2 || threshold > len(sorted) {
		return nil, errs.New(errs.Invalid, "session: invalid threshold")
	}
	return &Coordinator{
		sessionID:    sessionID,
		self:         self,
		participants: sorted,
		threshold:    threshold,
		curveTag:     curveTag,
		phase:        Proposed,
		proposalHash: hashProposal(sessionID, sorted, threshold, curveTag),
		responseSeen: make(map[party.ID][32]byte, len(sorted)),
		accepted:     make(map[party.ID]bool, len(sorted)),
	}, nil
}

// Propose implements spec.md §4.1's propose: the initiator builds the
// session and implicitly accepts its own proposal.
func Propose(self party.ID, sessionID string, participants party.IDSlice, threshold int, curveTag uint8) (*Coordinator, error) {
	c, err := newCoordinator(self, sessionID, participants, threshold, curveTag)
	if err != nil {
		return nil, err
	}
	c.accepted[self] = true
	return c, nil
}

// ReceiveProposal implements spec.md §4.1's receive_proposal: a
// participant's first sight of a session, building its own Coordinator
// from the proposal's parameters.
func ReceiveProposal(self party.ID, sessionID string, participants party.IDSlice, threshold int, curveTag uint8) (*Coordinator, error) {
	return newCoordinator(self, sessionID, participants, threshold, curveTag)
}

// MergeProposal re-validates a redelivered SessionProposal against the one
// this Coordinator already holds. A matching redelivery is a no-op; a
// divergent one is a Conflict per spec.md's Open Question #1 decision.
func (c *Coordinator) MergeProposal(participants party.IDSlice, threshold int, curveTag uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == Failed {
		return errs.Wrap(errs.Cancelled, "session: already failed", c.err)
	}
	hash := hashProposal(c.sessionID, participants.Sorted(), threshold, curveTag)
	if hash != c.proposalHash {
		c.err = errs.New(errs.Conflict, "session: divergent session proposal redelivery")
		c.phase = Failed
		return c.err
	}
	return nil
}

// Accept implements spec.md §4.1's accept: this participant agrees to the
// proposal it already holds. Returns true once this pushes the session to
// Active.
func (c *Coordinator) Accept() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == Failed {
		return false, errs.Wrap(errs.Cancelled, "session: already failed", c.err)
	}
	c.accepted[c.self] = true
	return c.checkQuorumLocked(), nil
}

// ReceiveResponse implements spec.md §4.1's receive_response: records a
// peer's SessionResponse. A rejection or a divergent redelivery from the
// same sender fails the session (spec.md Open Question #1); reaching
// acceptance from every participant transitions to Active exactly once.
func (c *Coordinator) ReceiveResponse(sender party.ID, accepted bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == Failed {
		return false, errs.Wrap(errs.Cancelled, "session: already failed", c.err)
	}
	if !c.participants.Contains(sender) {
		return false, errs.New(errs.Invalid, "session: response from non-participant")
	}

	hash := blake3.Sum256([]byte(fmt.Sprintf("%s:%t", sender, accepted)))
	if seen, ok := c.responseSeen[sender]; ok {
		if seen != hash {
			c.err = errs.WithCulprit(errs.Conflict, sender, "session: divergent response redelivery")
			c.phase = Failed
			return false, c.err
		}
		return c.phase == Active, nil
	}
	c.responseSeen[sender] = hash

	if !accepted {
		c.err = errs.WithCulprit(errs.Conflict, sender, "session: participant rejected the session")
		c.phase = Failed
		return false, c.err
	}
	c.accepted[sender] = true
	return c.checkQuorumLocked(), nil
}

func (c *Coordinator) checkQuorumLocked() bool {
	if c.phase == Active {
		return false
	}
	if len(c.accepted) == len(c.participants) {
		c.phase = Active
		return true
	}
	return false
}

// Phase returns the session's current phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Err returns the failure cause, if the session has failed.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SessionID returns the session's identifier.
func (c *Coordinator) SessionID() string { return c.sessionID }

// Participants returns the session's sorted participant roster.
func (c *Coordinator) Participants() party.IDSlice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participants
}

// Threshold returns the session's signing/reconstruction threshold.
func (c *Coordinator) Threshold() int { return c.threshold }

// CurveTag returns the session's ciphersuite tag.
func (c *Coordinator) CurveTag() uint8 { return c.curveTag }

// Fail marks the session Failed for a reason originating outside the
// handshake itself; pkg/orchestrator's Cancel calls it. A mesh regression
// does not: the orchestrator cancels the in-flight engine and leaves the
// session's phase unchanged.
func (c *Coordinator) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != Failed {
		c.phase = Failed
		c.err = err
	}
}
