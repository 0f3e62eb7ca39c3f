// Local multi-party simulation driver: every participant runs in this one
// process, wired together by an in-memory FIFO router instead of real
// network transport. Mirrors cmd/threshold-cli/simulations.go's looped
// round-by-round local execution, generalized to the orchestrator's
// frame-tag dispatch instead of one protocol's fixed round sequence.
//
// Each simulated participant gets its own Keystore subdirectory (named
// after its party ID) so every device's secret share is persisted and
// readable independently, matching how separate real devices would never
// share a keystore.
package main

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/stars-labs/mpc-wallet-core/pkg/curve"
	"github.com/stars-labs/mpc-wallet-core/pkg/keystore"
	"github.com/stars-labs/mpc-wallet-core/pkg/orchestrator"
	"github.com/stars-labs/mpc-wallet-core/pkg/party"
)

// simRouter is the in-process mailbox every simulated participant's
// Orchestrator sends through. Messages are queued rather than dispatched
// synchronously so draining never reenters a node's own Dispatch call
// while it is still on the stack.
type simRouter struct {
	mu    sync.Mutex
	nodes map[party.ID]*orchestrator.Orchestrator
	queue []simMessage
}

type simMessage struct {
	from, to party.ID
	raw      []byte
}

func newSimRouter() *simRouter {
	return &simRouter{nodes: make(map[party.ID]*orchestrator.Orchestrator)}
}

func (r *simRouter) register(id party.ID, o *orchestrator.Orchestrator) {
	r.mu.Lock()
	r.nodes[id] = o
	r.mu.Unlock()
}

func (r *simRouter) sendFrom(from party.ID) orchestrator.SendFunc {
	return func(to party.ID, raw []byte) error {
		r.mu.Lock()
		r.queue = append(r.queue, simMessage{from: from, to: to, raw: raw})
		r.mu.Unlock()
		return nil
	}
}

func (r *simRouter) drain() {
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			r.mu.Unlock()
			return
		}
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()

		dst, ok := r.nodes[msg.to]
		if !ok {
			continue
		}
		_ = dst.Dispatch(msg.from, msg.raw)
	}
}

func curveTagFor(name string) (curve.Tag, error) {
	switch name {
	case "secp256k1":
		return curve.Secp256k1, nil
	case "ed25519":
		return curve.Ed25519, nil
	default:
		return 0, fmt.Errorf("unknown curve %q (want secp256k1 or ed25519)", name)
	}
}

func simRoster(n int) party.IDSlice {
	roster := make(party.IDSlice, n)
	for i := 0; i < n; i++ {
		roster[i] = party.ID(fmt.Sprintf("p%d", i+1))
	}
	return roster
}

func partyKeystoreDir(root string, id party.ID) string {
	return filepath.Join(root, string(id))
}

// drainEvents pulls every event currently buffered on o's channel without
// blocking, in arrival order.
func drainEvents(o *orchestrator.Orchestrator) []orchestrator.Event {
	var out []orchestrator.Event
	for {
		select {
		case ev := <-o.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func logEvent(id party.ID, ev orchestrator.Event) {
	switch ev.Kind {
	case orchestrator.SessionProposed:
		fmt.Printf("[%s] session proposed\n", id)
	case orchestrator.SessionActive:
		fmt.Printf("[%s] session active\n", id)
	case orchestrator.MeshReady:
		fmt.Printf("[%s] mesh ready\n", id)
	case orchestrator.DkgRound1Complete:
		fmt.Printf("[%s] DKG round 1 complete\n", id)
	case orchestrator.DkgComplete:
		fmt.Printf("[%s] DKG complete, wallet %s\n", id, ev.WalletID)
	case orchestrator.SignInitiated:
		fmt.Printf("[%s] signing started (%s)\n", id, ev.SigningID)
	case orchestrator.SignComplete:
		fmt.Printf("[%s] signature ready: %x\n", id, ev.Signature)
	case orchestrator.Failed:
		fmt.Printf("[%s] FAILED (%s): %s\n", id, ev.Component, ev.Reason)
	}
}

func runKeygen(cmd *cobra.Command, args []string) error {
	tag, err := curveTagFor(curveName)
	if err != nil {
		return err
	}
	if threshold < 2 || threshold > parties {
		return fmt.Errorf("threshold must be between 2 and parties (got t=%d n=%d)", threshold, parties)
	}

	roster := simRoster(parties)
	r := newSimRouter()
	nodes := make(map[party.ID]*orchestrator.Orchestrator, len(roster))
	stores := make(map[party.ID]*keystore.Keystore, len(roster))
	for _, id := range roster {
		ks, err := keystore.Initialize(partyKeystoreDir(keystoreDir, id), id)
		if err != nil {
			return fmt.Errorf("open keystore for %s: %w", id, err)
		}
		stores[id] = ks
		o := orchestrator.New(id, rand.Reader, r.sendFrom(id), ks)
		nodes[id] = o
		r.register(id, o)
	}

	sessionID := fmt.Sprintf("keygen-%d", time.Now().UnixNano())
	fmt.Printf("Starting DKG: %d parties, threshold %d, curve %s\n", parties, threshold, curveName)

	if err := nodes[roster[0]].StartDKG(sessionID, roster, threshold, tag); err != nil {
		return fmt.Errorf("propose session: %w", err)
	}
	r.drain()

	for _, id := range roster {
		for _, peer := range roster {
			if peer == id {
				continue
			}
			if err := nodes[id].NoteChannelOpen(sessionID, peer); err != nil {
				return fmt.Errorf("open channel %s->%s: %w", id, peer, err)
			}
		}
	}
	r.drain()

	var walletID string
	for _, id := range roster {
		for _, ev := range drainEvents(nodes[id]) {
			logEvent(id, ev)
			if ev.Kind == orchestrator.Failed {
				return fmt.Errorf("DKG failed on %s: %s", id, ev.Reason)
			}
			if ev.Kind == orchestrator.DkgComplete {
				walletID = ev.WalletID
			}
		}
	}
	if walletID == "" {
		return fmt.Errorf("DKG did not complete")
	}

	for _, id := range roster {
		keyPkg, pubKeyPkg, participants, err := nodes[id].ExportWallet(walletID)
		if err != nil {
			return fmt.Errorf("export wallet for %s: %w", id, err)
		}
		rec, err := keystore.NewWalletRecord(keyPkg, pubKeyPkg, participants, time.Now())
		if err != nil {
			return fmt.Errorf("build wallet record for %s: %w", id, err)
		}
		if err := stores[id].Save(rec, password, false); err != nil {
			return fmt.Errorf("save wallet for %s: %w", id, err)
		}
	}
	fmt.Printf("Wallet %s saved under %s (one subdirectory per simulated party)\n", walletID, keystoreDir)
	return nil
}

func runSign(cmd *cobra.Command, args []string) error {
	entries, err := os.ReadDir(keystoreDir)
	if err != nil {
		return fmt.Errorf("read keystore root: %w", err)
	}

	roster := make(party.IDSlice, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			roster = append(roster, party.ID(e.Name()))
		}
	}
	if len(roster) == 0 {
		return fmt.Errorf("no simulated parties found under %s; run keygen first", keystoreDir)
	}

	r := newSimRouter()
	nodes := make(map[party.ID]*orchestrator.Orchestrator, len(roster))
	var signerIndices []int
	var signerSet party.IDSlice
	if len(signerIDs) > 0 {
		signerSet = idsFromStrings(signerIDs)
	}

	sessionID := fmt.Sprintf("sign-session-%s", walletID)
	walletThreshold := 0
	for _, id := range roster {
		ks, err := keystore.Initialize(partyKeystoreDir(keystoreDir, id), id)
		if err != nil {
			return fmt.Errorf("open keystore for %s: %w", id, err)
		}
		rec, err := ks.Load(walletID, password)
		if err != nil {
			return fmt.Errorf("load wallet for %s: %w", id, err)
		}
		o := orchestrator.New(id, rand.Reader, r.sendFrom(id), ks)
		if err := o.AttachWallet(sessionID, rec.Roster, rec.KeyPackage, rec.PublicKeyPackage); err != nil {
			rec.Zeroize()
			return fmt.Errorf("attach wallet for %s: %w", id, err)
		}
		nodes[id] = o
		r.register(id, o)

		if len(signerSet) == 0 || signerSet.Contains(id) {
			signerIndices = append(signerIndices, rec.ParticipantIndex)
		}
		walletThreshold = rec.Threshold
		rec.Zeroize()
	}
	if len(signerSet) == 0 && len(signerIndices) > walletThreshold {
		signerIndices = signerIndices[:walletThreshold]
	}

	for _, id := range roster {
		for _, peer := range roster {
			if peer == id {
				continue
			}
			if err := nodes[id].NoteChannelOpen(sessionID, peer); err != nil {
				return fmt.Errorf("open channel %s->%s: %w", id, peer, err)
			}
		}
	}
	r.drain()

	initiator := roster[0]
	fmt.Printf("Starting signature over wallet %s with signers %v\n", walletID, signerIndices)
	if err := nodes[initiator].StartSigning(walletID, fmt.Sprintf("sig-%d", time.Now().UnixNano()), signerIndices, []byte(message)); err != nil {
		return fmt.Errorf("start signing: %w", err)
	}
	r.drain()

	var signature []byte
	for _, id := range roster {
		for _, ev := range drainEvents(nodes[id]) {
			logEvent(id, ev)
			if ev.Kind == orchestrator.Failed {
				return fmt.Errorf("signing failed on %s: %s", id, ev.Reason)
			}
			if ev.Kind == orchestrator.SignComplete && signature == nil {
				signature = ev.Signature
			}
		}
	}
	if signature == nil {
		return fmt.Errorf("signing did not complete")
	}
	fmt.Printf("Signature: %x\n", signature)
	return nil
}

func idsFromStrings(names []string) party.IDSlice {
	ids := make(party.IDSlice, len(names))
	for i, n := range names {
		ids[i] = party.ID(n)
	}
	return ids
}

func runKeystoreList(cmd *cobra.Command, args []string) error {
	ks, err := keystore.Initialize(keystoreDir, party.ID(deviceID))
	if err != nil {
		return fmt.Errorf("open keystore: %w", err)
	}
	for _, m := range ks.List() {
		fmt.Printf("%s  curve=%v  %d-of-%d  index=%d  created=%s\n",
			m.WalletID, m.CurveTag, m.Threshold, m.Total, m.ParticipantIndex,
			time.Unix(m.CreatedAt, 0).Format(time.RFC3339))
	}
	return nil
}

func runKeystoreExport(cmd *cobra.Command, args []string) error {
	ks, err := keystore.Initialize(keystoreDir, party.ID(deviceID))
	if err != nil {
		return fmt.Errorf("open keystore: %w", err)
	}
	bundle, err := ks.Export(walletID, password)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(bundle)
}

func runKeystoreImport(cmd *cobra.Command, args []string) error {
	ks, err := keystore.Initialize(keystoreDir, party.ID(deviceID))
	if err != nil {
		return fmt.Errorf("open keystore: %w", err)
	}
	var bundle keystore.PortableBundle
	if err := json.NewDecoder(os.Stdin).Decode(&bundle); err != nil {
		return fmt.Errorf("decode bundle from stdin: %w", err)
	}
	id, err := ks.Import(&bundle, password, false)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	fmt.Printf("Imported wallet %s\n", id)
	return nil
}
