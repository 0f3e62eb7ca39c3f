// Package mesh implements spec.md §4's Mesh Supervisor: the pairwise
// channel bookkeeping that gates DKG/signing start on every participant
// having a live transport channel to every other participant, and that
// detects mesh regressions mid-session.
//
// Grounded on the same mutex-guarded small-state-struct idiom as
// pkg/session and pkg/engine (protocols/lss/dealer/dealer.go); unlike
// those packages this one needs no cryptography, so it is built entirely
// on the standard library.
package mesh

import (
	"sync"

	"github.com/stars-labs/mpc-wallet-core/pkg/errs"
	"github.com/stars-labs/mpc-wallet-core/pkg/party"
)

// Status is the Supervisor's aggregate view of mesh health.
type Status int

const (
	// NotReady: this participant does not yet have an open channel to
	// every other participant.
	NotReady Status = iota
	// SelfReady: every local channel is open and this participant has
	// emitted its own mesh-ready announcement, but not every peer has
	// announced theirs yet.
	SelfReady
	// Ready: every participant, including self, has announced mesh-ready.
	// The gated operation (DKG, signing) may proceed.
	Ready
	// Regressed: the mesh was Ready or SelfReady and a local channel has
	// since closed. Per spec.md's Open Question #2 decision, callers must
	// treat this as cancelling any in-flight gated operation.
	Regressed
)

func (s Status) String() string {
	switch s {
	case NotReady:
		return "NotReady"
	case SelfReady:
		return "SelfReady"
	case Ready:
		return "Ready"
	case Regressed:
		return "Regressed"
	default:
		return "Unknown"
	}
}

// Supervisor tracks one participant's view of mesh connectivity across a
// fixed roster of peers.
type Supervisor struct {
	mu sync.Mutex

	self  party.ID
	peers party.IDSlice // every participant other than self

	open map[party.ID]bool // local channel to peer is open

	selfEmitted bool
	peerReady   map[party.ID]bool

	status Status
}

// New builds a Supervisor for self among participants. self must appear in
// participants; the rest become the tracked peer set.
func New(self party.ID, participants party.IDSlice) (*Supervisor, error) {
	if !participants.Contains(self) {
		return nil, errs.New(errs.Invalid, "mesh: self not in participant list")
	}
	peers := make(party.IDSlice, 0, len(participants)-1)
	for _, id := range participants {
		if id != self {
			peers = append(peers, id)
		}
	}
	return &Supervisor{
		self:      self,
		peers:     peers,
		open:      make(map[party.ID]bool, len(peers)),
		peerReady: make(map[party.ID]bool, len(peers)),
		status:    NotReady,
	}, nil
}

func (s *Supervisor) isPeer(id party.ID) bool {
	for _, p := range s.peers {
		if p == id {
			return true
		}
	}
	return false
}

func (s *Supervisor) allOpenLocked() bool {
	for _, p := range s.peers {
		if !s.open[p] {
			return false
		}
	}
	return true
}

// NoteChannelOpen implements spec.md §4's note_channel_open: records that
// the local transport to peer is now connected.
func (s *Supervisor) NoteChannelOpen(peer party.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isPeer(peer) {
		return errs.New(errs.Invalid, "mesh: unknown peer")
	}
	s.open[peer] = true
	return nil
}

// NoteChannelClosed implements spec.md §4's note_channel_closed. If the
// mesh had reached SelfReady or Ready, this is a regression: readiness
// bookkeeping resets so the mesh must re-converge from scratch before the
// gated operation may run again.
func (s *Supervisor) NoteChannelClosed(peer party.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isPeer(peer) {
		return errs.New(errs.Invalid, "mesh: unknown peer")
	}
	wasConverged := s.status == SelfReady || s.status == Ready
	s.open[peer] = false
	if wasConverged {
		s.selfEmitted = false
		s.peerReady = make(map[party.ID]bool, len(s.peers))
		s.status = Regressed
	}
	return nil
}

// MaybeEmitOwnMeshReady implements spec.md §4's
// maybe_emit_own_mesh_ready: if every local channel is open and this
// participant has not yet announced its own mesh-ready, it does so now
// and returns true so the caller broadcasts a MeshReady frame. A no-op
// (false) otherwise.
func (s *Supervisor) MaybeEmitOwnMeshReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selfEmitted || !s.allOpenLocked() {
		return false
	}
	s.selfEmitted = true
	s.peerReady[s.self] = true
	if s.status == NotReady || s.status == Regressed {
		s.status = SelfReady
	}
	s.recomputeLocked()
	return true
}

// ReceiveMeshReady implements spec.md §4's receive_mesh_ready: records a
// peer's mesh-ready announcement. Returns true once every participant,
// including self, has announced, which is the single transition into
// Ready.
func (s *Supervisor) ReceiveMeshReady(peer party.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if peer != s.self && !s.isPeer(peer) {
		return false, errs.New(errs.Invalid, "mesh: unknown peer")
	}
	already := s.status == Ready
	s.peerReady[peer] = true
	s.recomputeLocked()
	return s.status == Ready && !already, nil
}

func (s *Supervisor) recomputeLocked() {
	if s.status == Ready {
		return
	}
	if !s.selfEmitted {
		return
	}
	for _, p := range s.peers {
		if !s.peerReady[p] {
			return
		}
	}
	s.status = Ready
}

// Status implements spec.md §4's status: the Supervisor's current
// aggregate view of mesh health.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ReadyCount reports k, the number of participants (including self) that
// have announced mesh-ready so far, and n, the full roster size. Backs
// spec.md §6's MeshPartiallyReady(k, n) observability hook.
func (s *Supervisor) ReadyCount() (k, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peerReady), len(s.peers) + 1
}
