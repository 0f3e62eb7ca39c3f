// Package orchestrator implements the thin wiring component spec.md §2
// names: it demultiplexes inbound peer frames by tag to the Session
// Coordinator (C3), the Mesh Supervisor (C4), and the Protocol Engine
// (C2), and enforces mesh-gating and one-active-protocol-per-wallet. It
// does not write to the Keystore (C5): finalized DKG output is returned by
// ExportWallet, and the caller saves it.
//
// Grounded on pkg/protocol/handler.go's MultiHandler: a single
// mutex-guarded struct owning all per-session state and demultiplexing
// inbound messages by round/type, generalized here from one protocol's
// rounds to the session/mesh/DKG/signing tag vocabulary of spec.md §6.
package orchestrator

import (
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/stars-labs/mpc-wallet-core/pkg/ciphersuite"
	"github.com/stars-labs/mpc-wallet-core/pkg/curve"
	"github.com/stars-labs/mpc-wallet-core/pkg/engine"
	"github.com/stars-labs/mpc-wallet-core/pkg/errs"
	"github.com/stars-labs/mpc-wallet-core/pkg/frame"
	"github.com/stars-labs/mpc-wallet-core/pkg/keystore"
	"github.com/stars-labs/mpc-wallet-core/pkg/mesh"
	"github.com/stars-labs/mpc-wallet-core/pkg/party"
	"github.com/stars-labs/mpc-wallet-core/pkg/session"
)

type protocolKind int

const (
	protocolNone protocolKind = iota
	protocolDKG
	protocolSigning
)

// wallet holds every piece of per-session-identity state: the session
// handshake, the mesh health tracker, and (at most one, per spec.md's
// Open Question #3 decision) an active DKG or signing engine.
type wallet struct {
	sessionID string
	indexMap  *party.IndexMap
	session   *session.Coordinator
	mesh      *mesh.Supervisor
	threshold int
	total     int
	curveTag  curve.Tag
	group     curve.Curve

	kind          protocolKind
	dkgEngine     *engine.DKGEngine
	signingEngine *engine.SigningEngine
	signingID     string

	keyPackage    *ciphersuite.KeyPackage
	pubKeyPackage *ciphersuite.PublicKeyPackage
	walletID      string
}

// SendFunc delivers a raw frame to a peer device. The Orchestrator treats
// delivery as best-effort, matching spec.md §6's transport contract.
type SendFunc func(to party.ID, raw []byte) error

// Orchestrator wires C1-C5 for every wallet this device participates in.
type Orchestrator struct {
	mu       sync.Mutex
	self     party.ID
	rng      io.Reader
	send     SendFunc
	keystore *keystore.Keystore
	events   chan Event

	bySession map[string]*wallet
	byWallet  map[string]*wallet
}

// New builds an Orchestrator. ks is retained for callers that want to look
// up or save wallets alongside the ones this Orchestrator coordinates; the
// Orchestrator never calls it directly — persistence needs a password it
// has no way to hold, so callers persist from DkgComplete events themselves.
func New(self party.ID, rng io.Reader, send SendFunc, ks *keystore.Keystore) *Orchestrator {
	return &Orchestrator{
		self:      self,
		rng:       rng,
		send:      send,
		keystore:  ks,
		events:    make(chan Event, 256),
		bySession: make(map[string]*wallet),
		byWallet:  make(map[string]*wallet),
	}
}

// Events returns the channel of observability events (spec.md §6). The
// channel is never closed by the Orchestrator.
func (o *Orchestrator) Events() <-chan Event { return o.events }

func (o *Orchestrator) emit(e Event) {
	select {
	case o.events <- e:
	default:
		// Slow consumer: drop rather than block a protocol step. Matches
		// spec.md §5's rule that cryptographic operations run to
		// completion without suspension.
	}
}

func (o *Orchestrator) sendFrame(to party.ID, f frame.Frame) {
	raw, err := f.Encode()
	if err != nil {
		return
	}
	if o.send != nil {
		_ = o.send(to, raw)
	}
}

func (o *Orchestrator) broadcast(w *wallet, f frame.Frame) {
	for _, id := range w.indexMap.IDs() {
		if id == o.self {
			continue
		}
		o.sendFrame(id, f)
	}
}

func (w *wallet) fingerprint() string {
	if w.pubKeyPackage == nil {
		return ""
	}
	b, err := w.pubKeyPackage.PublicKey.MarshalBinary()
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x", b[:8])
}

// StartDKG implements spec.md §2's entry point for the initiating
// participant: proposes a new session and broadcasts it to every other
// participant.
func (o *Orchestrator) StartDKG(sessionID string, participants party.IDSlice, threshold int, tag curve.Tag) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.bySession[sessionID]; exists {
		return errs.New(errs.Exists, "orchestrator: session_id already in use")
	}
	group, err := curve.ForTag(tag)
	if err != nil {
		return err
	}
	idxMap, err := party.DeriveIndices(participants)
	if err != nil {
		return err
	}
	coord, err := session.Propose(o.self, sessionID, participants, threshold, uint8(tag))
	if err != nil {
		return err
	}
	sup, err := mesh.New(o.self, participants)
	if err != nil {
		return err
	}

	w := &wallet{
		sessionID: sessionID,
		indexMap:  idxMap,
		session:   coord,
		mesh:      sup,
		threshold: threshold,
		total:     len(participants),
		curveTag:  tag,
		group:     group,
	}
	o.bySession[sessionID] = w
	o.emit(Event{Kind: SessionProposed, SessionID: sessionID})

	participantStrings := make([]string, len(participants))
	for i, id := range participants {
		participantStrings[i] = string(id)
	}
	selfIdx := mustIndex(idxMap, o.self)
	o.broadcast(w, frame.NewSessionProposal(sessionID, selfIdx, participantStrings, threshold, uint8(tag)))
	// Peers must see the initiator's own acceptance explicitly: quorum
	// requires every participant, including self, and Propose only records
	// it locally.
	o.broadcast(w, frame.NewSessionResponse(sessionID, selfIdx, true))
	return nil
}

func mustIndex(m *party.IndexMap, id party.ID) int {
	idx, err := m.Index(id)
	if err != nil {
		return 0
	}
	return idx
}

// NoteChannelOpen forwards a transport-level connectivity event to the
// named session's Mesh Supervisor, per spec.md §4.4's note_channel_open,
// and emits own MeshReady once every channel is up.
func (o *Orchestrator) NoteChannelOpen(sessionID string, peer party.ID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.bySession[sessionID]
	if !ok {
		return errs.New(errs.NotFound, "orchestrator: unknown session_id")
	}
	if err := w.mesh.NoteChannelOpen(peer); err != nil {
		return err
	}
	if w.mesh.MaybeEmitOwnMeshReady() {
		selfIdx := mustIndex(w.indexMap, o.self)
		o.broadcast(w, frame.NewMeshReady(sessionID, selfIdx))
		if ready, err := w.mesh.ReceiveMeshReady(o.self); err == nil && ready {
			o.onMeshReady(w)
		} else {
			o.emitMeshPartiallyReady(w)
		}
	}
	return nil
}

// emitMeshPartiallyReady implements spec.md §6's MeshPartiallyReady(k, n)
// observability hook and §3's PartiallyReady(k/n) MeshState: reports how
// many participants (including self) have announced mesh-ready so far.
func (o *Orchestrator) emitMeshPartiallyReady(w *wallet) {
	k, n := w.mesh.ReadyCount()
	o.emit(Event{Kind: MeshPartiallyReady, SessionID: w.sessionID, MeshK: k, MeshN: n})
}

// NoteChannelClosed forwards a transport-level disconnection event, per
// spec.md §4.4's note_channel_closed. A regression during an in-flight DKG
// or signing session cancels it (resolves spec.md's Open Question #2).
func (o *Orchestrator) NoteChannelClosed(sessionID string, peer party.ID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.bySession[sessionID]
	if !ok {
		return errs.New(errs.NotFound, "orchestrator: unknown session_id")
	}
	if err := w.mesh.NoteChannelClosed(peer); err != nil {
		return err
	}
	if w.mesh.Status() == mesh.Regressed {
		o.cancelActiveLocked(w, "mesh regression")
	}
	return nil
}

func (o *Orchestrator) cancelActiveLocked(w *wallet, reason string) {
	switch w.kind {
	case protocolDKG:
		w.dkgEngine.Cancel()
		o.emit(Event{Kind: Failed, SessionID: w.sessionID, Component: "dkg", Reason: reason})
	case protocolSigning:
		w.signingEngine.Cancel()
		o.emit(Event{Kind: Failed, SessionID: w.sessionID, SigningID: w.signingID, Component: "signing", Reason: reason})
	}
	w.kind = protocolNone
}

func (o *Orchestrator) onMeshReady(w *wallet) {
	o.emit(Event{Kind: MeshReady, SessionID: w.sessionID})
	if w.session.Phase() != session.Active {
		return
	}
	if w.keyPackage != nil {
		return // DKG already ran for this wallet; mesh readiness alone doesn't restart it
	}
	if w.kind != protocolNone {
		return
	}
	selfIdx := mustIndex(w.indexMap, o.self)
	dkgEngine, pkg, err := engine.NewDKGEngine(w.group, selfIdx, w.threshold, w.total, o.rng)
	if err != nil {
		o.emit(Event{Kind: Failed, SessionID: w.sessionID, Component: "dkg", Reason: err.Error()})
		return
	}
	w.kind = protocolDKG
	w.dkgEngine = dkgEngine
	o.broadcast(w, frame.NewDkgRound1(w.sessionID, selfIdx, pkg.Bytes))
}

// Dispatch implements the Orchestrator's inbound message path: decode the
// frame and route it to the Session Coordinator, Mesh Supervisor, or
// Protocol Engine by tag.
func (o *Orchestrator) Dispatch(from party.ID, raw []byte) error {
	f, err := frame.Decode(raw)
	if err != nil {
		return errs.Wrap(errs.Invalid, "orchestrator: malformed frame", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if f.Tag == frame.SessionProposalTag {
		return o.dispatchSessionProposal(f)
	}

	w, ok := o.bySession[f.SessionID]
	if !ok {
		return errs.New(errs.NotFound, "orchestrator: unknown session_id")
	}

	switch f.Tag {
	case frame.SessionResponseTag:
		return o.dispatchSessionResponse(w, from, f)
	case frame.MeshReadyTag:
		return o.dispatchMeshReady(w, from)
	case frame.DkgRound1Tag:
		return o.dispatchDkgRound1(w, f)
	case frame.DkgRound2Tag:
		return o.dispatchDkgRound2(w, f)
	case frame.SigningCommitmentTag:
		return o.dispatchSigningCommitment(w, f)
	case frame.SignatureShareTag:
		return o.dispatchSignatureShare(w, f)
	default:
		return errs.New(errs.Invalid, "orchestrator: unknown frame tag")
	}
}

func idsOf(names []string) party.IDSlice {
	ids := make(party.IDSlice, len(names))
	for i, n := range names {
		ids[i] = party.ID(n)
	}
	return ids
}

func (o *Orchestrator) dispatchSessionProposal(f frame.Frame) error {
	payload, err := frame.DecodeSessionProposal(f)
	if err != nil {
		return errs.Wrap(errs.Invalid, "orchestrator: malformed SessionProposal", err)
	}
	participants := idsOf(payload.Participants)

	if w, ok := o.bySession[f.SessionID]; ok {
		if err := w.session.MergeProposal(participants, payload.Threshold, uint8(payload.CurveTag)); err != nil {
			o.emit(Event{Kind: Failed, SessionID: f.SessionID, Component: "session", Reason: err.Error()})
			return err
		}
		return nil
	}

	tag := curve.Tag(payload.CurveTag)
	group, err := curve.ForTag(tag)
	if err != nil {
		return err
	}
	idxMap, err := party.DeriveIndices(participants)
	if err != nil {
		return err
	}
	coord, err := session.ReceiveProposal(o.self, f.SessionID, participants, payload.Threshold, uint8(tag))
	if err != nil {
		return err
	}
	sup, err := mesh.New(o.self, participants)
	if err != nil {
		return err
	}
	w := &wallet{
		sessionID: f.SessionID,
		indexMap:  idxMap,
		session:   coord,
		mesh:      sup,
		threshold: payload.Threshold,
		total:     len(participants),
		curveTag:  tag,
		group:     group,
	}
	o.bySession[f.SessionID] = w
	o.emit(Event{Kind: SessionProposed, SessionID: f.SessionID})

	if active, err := coord.Accept(); err == nil && active {
		o.emit(Event{Kind: SessionActive, SessionID: f.SessionID})
	}
	selfIdx := mustIndex(idxMap, o.self)
	o.broadcast(w, frame.NewSessionResponse(f.SessionID, selfIdx, true))
	return nil
}

func (o *Orchestrator) dispatchSessionResponse(w *wallet, from party.ID, f frame.Frame) error {
	payload, err := frame.DecodeSessionResponse(f)
	if err != nil {
		return errs.Wrap(errs.Invalid, "orchestrator: malformed SessionResponse", err)
	}
	active, err := w.session.ReceiveResponse(from, payload.Accepted)
	if err != nil {
		o.emit(Event{Kind: Failed, SessionID: w.sessionID, Component: "session", Reason: err.Error()})
		return err
	}
	if active {
		o.emit(Event{Kind: SessionActive, SessionID: w.sessionID})
	}
	return nil
}

func (o *Orchestrator) dispatchMeshReady(w *wallet, from party.ID) error {
	ready, err := w.mesh.ReceiveMeshReady(from)
	if err != nil {
		o.emit(Event{Kind: Failed, SessionID: w.sessionID, Component: "mesh", Reason: err.Error()})
		return err
	}
	if ready {
		o.onMeshReady(w)
		return nil
	}
	o.emitMeshPartiallyReady(w)
	return nil
}

func (o *Orchestrator) dispatchDkgRound1(w *wallet, f frame.Frame) error {
	if w.dkgEngine == nil {
		return errs.New(errs.Invalid, "orchestrator: no dkg in progress for this session")
	}
	payload, err := frame.DecodeDkgRound1(f)
	if err != nil {
		return errs.Wrap(errs.Invalid, "orchestrator: malformed DkgRound1", err)
	}
	outgoing, round1Ready, keyPkg, pubPkg, round2Ready, err := w.dkgEngine.AcceptRound1(f.SenderIndex, ciphersuite.Round1Package{SenderIndex: f.SenderIndex, Bytes: payload.Package})
	if err != nil {
		o.emit(Event{Kind: Failed, SessionID: w.sessionID, Component: "dkg", Reason: err.Error()})
		return err
	}
	if !round1Ready {
		return nil
	}
	o.emit(Event{Kind: DkgRound1Complete, SessionID: w.sessionID})
	for recipientIdx, pkg := range outgoing {
		recipientID, err := w.indexMap.ID(recipientIdx)
		if err != nil {
			continue
		}
		packed := append(append([]byte{}, pkg.Nonce...), pkg.Ciphertext...)
		o.sendFrame(recipientID, frame.NewDkgRound2(w.sessionID, pkg.SenderIndex, recipientIdx, packed))
	}
	// Round-2 packages that arrived (and were buffered) before this
	// participant's own round-1 completed may already satisfy round-2 the
	// instant the transition above runs, with no further network frame
	// ever triggering dispatchDkgRound2.
	if round2Ready {
		o.finishDKG(w, keyPkg, pubPkg)
	}
	return nil
}

func (o *Orchestrator) dispatchDkgRound2(w *wallet, f frame.Frame) error {
	if w.dkgEngine == nil {
		return errs.New(errs.Invalid, "orchestrator: no dkg in progress for this session")
	}
	payload, err := frame.DecodeDkgRound2(f)
	if err != nil {
		return errs.Wrap(errs.Invalid, "orchestrator: malformed DkgRound2", err)
	}
	if len(payload.Package) < chacha20poly1305.NonceSize {
		return errs.New(errs.Invalid, "orchestrator: truncated DkgRound2 package")
	}
	nonce := payload.Package[:chacha20poly1305.NonceSize]
	ciphertext := payload.Package[chacha20poly1305.NonceSize:]

	keyPkg, pubPkg, ready, err := w.dkgEngine.AcceptRound2(f.SenderIndex, ciphersuite.Round2Package{
		SenderIndex:    f.SenderIndex,
		RecipientIndex: payload.RecipientIndex,
		Nonce:          nonce,
		Ciphertext:     ciphertext,
	})
	if err != nil {
		o.emit(Event{Kind: Failed, SessionID: w.sessionID, Component: "dkg", Reason: err.Error()})
		return err
	}
	if !ready {
		return nil
	}
	o.finishDKG(w, keyPkg, pubPkg)
	return nil
}

// finishDKG records a completed DKG's key material on the wallet and
// emits DkgComplete. Shared by dispatchDkgRound1 (when draining buffered
// round-2 packages alone finishes the DKG) and dispatchDkgRound2.
func (o *Orchestrator) finishDKG(w *wallet, keyPkg *ciphersuite.KeyPackage, pubPkg *ciphersuite.PublicKeyPackage) {
	w.keyPackage = keyPkg
	w.pubKeyPackage = pubPkg
	w.kind = protocolNone
	w.dkgEngine = nil

	walletID, err := keystore.WalletIDFromPublicKey(pubPkg.PublicKey)
	if err == nil {
		w.walletID = walletID
		o.byWallet[walletID] = w
	}
	o.emit(Event{Kind: DkgComplete, SessionID: w.sessionID, WalletID: w.walletID, GroupKeyFingerprint: w.fingerprint()})
}

func (o *Orchestrator) dispatchSigningCommitment(w *wallet, f frame.Frame) error {
	payload, err := frame.DecodeSigningCommitment(f)
	if err != nil {
		return errs.Wrap(errs.Invalid, "orchestrator: malformed SigningCommitment", err)
	}

	if w.signingEngine == nil {
		// First sight of this signing occasion: join locally if self is a
		// member of the signer set, deriving our own nonce and commitment
		// before processing the one that arrived, mirroring how a fresh
		// SessionProposal is handled on first sight.
		if w.kind != protocolNone {
			return errs.New(errs.Conflict, "orchestrator: another protocol is already active for this wallet")
		}
		selfIdx := mustIndex(w.indexMap, o.self)
		isSigner := false
		for _, idx := range payload.SignerIndices {
			if idx == selfIdx {
				isSigner = true
				break
			}
		}
		if !isSigner {
			return nil
		}
		signingEngine, ownCommitment, err := engine.NewSigningEngine(w.keyPackage, w.pubKeyPackage, payload.SignerIndices, payload.Message, o.rng)
		if err != nil {
			o.emit(Event{Kind: Failed, SessionID: w.sessionID, SigningID: payload.SigningID, Component: "signing", Reason: err.Error()})
			return err
		}
		w.kind = protocolSigning
		w.signingEngine = signingEngine
		w.signingID = payload.SigningID
		o.emit(Event{Kind: SignInitiated, SessionID: w.sessionID, SigningID: payload.SigningID})
		o.broadcast(w, frame.NewSigningCommitment(w.sessionID, selfIdx, payload.SigningID, ownCommitment.Bytes, payload.SignerIndices, payload.Message))
	}

	if payload.SigningID != w.signingID {
		return errs.New(errs.Invalid, "orchestrator: signing_id mismatch")
	}
	ownShare, ready, err := w.signingEngine.AcceptCommitment(f.SenderIndex, ciphersuite.SigningCommitment{SenderIndex: f.SenderIndex, Bytes: payload.Commitment})
	if err != nil {
		o.emit(Event{Kind: Failed, SessionID: w.sessionID, SigningID: w.signingID, Component: "signing", Reason: err.Error()})
		return err
	}
	if !ready {
		return nil
	}
	selfIdx := mustIndex(w.indexMap, o.self)
	o.broadcast(w, frame.NewSignatureShare(w.sessionID, selfIdx, w.signingID, ownShare.Bytes))
	return nil
}

func (o *Orchestrator) dispatchSignatureShare(w *wallet, f frame.Frame) error {
	if w.signingEngine == nil {
		return errs.New(errs.Invalid, "orchestrator: no signing session in progress")
	}
	payload, err := frame.DecodeSignatureShare(f)
	if err != nil {
		return errs.Wrap(errs.Invalid, "orchestrator: malformed SignatureShare", err)
	}
	if payload.SigningID != w.signingID {
		return errs.New(errs.Invalid, "orchestrator: signing_id mismatch")
	}
	sig, ready, err := w.signingEngine.AcceptShare(f.SenderIndex, ciphersuite.SignatureShare{SenderIndex: f.SenderIndex, Bytes: payload.Share})
	if err != nil {
		o.emit(Event{Kind: Failed, SessionID: w.sessionID, SigningID: w.signingID, Component: "signing", Reason: err.Error()})
		return err
	}
	if !ready {
		return nil
	}
	w.kind = protocolNone
	w.signingEngine = nil
	o.emit(Event{Kind: SignComplete, SessionID: w.sessionID, SigningID: w.signingID, Signature: sig})
	return nil
}

// StartSigning implements spec.md §2's entry point for initiating a
// threshold signature over an already-established wallet. walletID must
// name a wallet that finished DKG in this Orchestrator (AttachWallet seeds
// one loaded from the Keystore). Rejects with Conflict if another
// protocol is already active for this wallet, per spec.md's Open Question
// #3 decision (one active protocol per wallet).
func (o *Orchestrator) StartSigning(walletID, signingID string, signerIndices []int, message []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	w, ok := o.byWallet[walletID]
	if !ok {
		return errs.New(errs.NotFound, "orchestrator: unknown wallet_id")
	}
	if w.kind != protocolNone {
		return errs.New(errs.Conflict, "orchestrator: another protocol is already active for this wallet")
	}
	if w.mesh.Status() != mesh.Ready {
		return errs.New(errs.Invalid, "orchestrator: mesh is not ready")
	}

	signingEngine, commitment, err := engine.NewSigningEngine(w.keyPackage, w.pubKeyPackage, signerIndices, message, o.rng)
	if err != nil {
		return err
	}
	w.kind = protocolSigning
	w.signingEngine = signingEngine
	w.signingID = signingID
	o.emit(Event{Kind: SignInitiated, SessionID: w.sessionID, SigningID: signingID})

	selfIdx := mustIndex(w.indexMap, o.self)
	o.broadcast(w, frame.NewSigningCommitment(w.sessionID, selfIdx, signingID, commitment.Bytes, signerIndices, message))
	return nil
}

// ExportWallet returns the key material for a wallet that has finished DKG
// in this Orchestrator, so a caller can persist it to the Keystore itself
// (the Orchestrator never holds a password and so never saves on its own).
func (o *Orchestrator) ExportWallet(walletID string) (*ciphersuite.KeyPackage, *ciphersuite.PublicKeyPackage, party.IDSlice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.byWallet[walletID]
	if !ok || w.keyPackage == nil {
		return nil, nil, nil, errs.New(errs.NotFound, "orchestrator: unknown or unfinished wallet_id")
	}
	return w.keyPackage, w.pubKeyPackage, w.indexMap.IDs(), nil
}

// AttachWallet seeds a wallet slot for an already-finalized DKG result —
// e.g. one just loaded from the Keystore in a new process — so StartSigning
// can address it by wallet_id. sessionID is the coordination session this
// wallet's mesh lives under; participants must include self.
func (o *Orchestrator) AttachWallet(sessionID string, participants party.IDSlice, keyPkg *ciphersuite.KeyPackage, pubKeyPkg *ciphersuite.PublicKeyPackage) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	walletID, err := keystore.WalletIDFromPublicKey(pubKeyPkg.PublicKey)
	if err != nil {
		return err
	}
	idxMap, err := party.DeriveIndices(participants)
	if err != nil {
		return err
	}
	sup, err := mesh.New(o.self, participants)
	if err != nil {
		return err
	}
	group, err := curve.ForTag(keyPkg.Group)
	if err != nil {
		return err
	}
	coord, err := session.Propose(o.self, sessionID, participants, keyPkg.Threshold, uint8(keyPkg.Group))
	if err != nil {
		return err
	}

	w := &wallet{
		sessionID:     sessionID,
		indexMap:      idxMap,
		session:       coord,
		mesh:          sup,
		threshold:     keyPkg.Threshold,
		total:         keyPkg.Total,
		curveTag:      keyPkg.Group,
		group:         group,
		keyPackage:    keyPkg,
		pubKeyPackage: pubKeyPkg,
		walletID:      walletID,
	}
	o.bySession[sessionID] = w
	o.byWallet[walletID] = w
	return nil
}

// Cancel implements spec.md §5's cooperative session cancellation.
func (o *Orchestrator) Cancel(sessionID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.bySession[sessionID]
	if !ok {
		return errs.New(errs.NotFound, "orchestrator: unknown session_id")
	}
	w.session.Fail(errs.New(errs.Cancelled, "orchestrator: session cancelled"))
	o.cancelActiveLocked(w, "cancelled")
	return nil
}
