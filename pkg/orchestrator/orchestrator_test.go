package orchestrator_test

import (
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stars-labs/mpc-wallet-core/pkg/curve"
	"github.com/stars-labs/mpc-wallet-core/pkg/orchestrator"
	"github.com/stars-labs/mpc-wallet-core/pkg/party"
)

// router wires a set of Orchestrators together in-process via a FIFO
// mailbox: sends enqueue rather than dispatch directly, so draining the
// queue never re-enters a node's own Dispatch call while it is still on
// the stack.
type router struct {
	mu    sync.Mutex
	nodes map[party.ID]*orchestrator.Orchestrator
	queue []wireMessage
}

type wireMessage struct {
	from, to party.ID
	raw      []byte
}

func newRouter() *router {
	return &router{nodes: make(map[party.ID]*orchestrator.Orchestrator)}
}

func (r *router) sendFrom(from party.ID) orchestrator.SendFunc {
	return func(to party.ID, raw []byte) error {
		r.mu.Lock()
		r.queue = append(r.queue, wireMessage{from: from, to: to, raw: raw})
		r.mu.Unlock()
		return nil
	}
}

// drain delivers every queued message, including ones generated as a
// side effect of delivering an earlier one, until the queue is empty.
func (r *router) drain(t *testing.T) {
	t.Helper()
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

func drainEvent(t *testing.T, o *orchestrator.Orchestrator, want orchestrator.EventKind, timeout time.Duration) orchestrator.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-o.Events():
			if ev.Kind == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %v", want)
		}
	}
}

func buildRoster(t *testing.T, r *router, roster party.IDSlice) map[party.ID]*orchestrator.Orchestrator {
	t.Helper()
	nodes := make(map[party.ID]*orchestrator.Orchestrator, len(roster))
	for _, id := range roster {
		nodes[id] = orchestrator.New(id, rand.Reader, r.sendFrom(id), nil)
	}
	r.mu.Lock()
	for id, o := range nodes {
		r.nodes[id] = o
	}
	r.mu.Unlock()
	return nodes
}

func openAllChannels(t *testing.T, r *router, nodes map[party.ID]*orchestrator.Orchestrator, sessionID string, roster party.IDSlice) {
	t.Helper()
	for _, id := range roster {
		for _, peer := range roster {
			if peer == id {
				continue
			}
			require.NoError(t, nodes[id].NoteChannelOpen(sessionID, peer))
		}
	}
	r.drain(t)
}

func runDKG(t *testing.T, r *router, nodes map[party.ID]*orchestrator.Orchestrator, sessionID string, roster party.IDSlice) string {
	t.Helper()
	require.NoError(t, nodes["alice"].StartDKG(sessionID, roster, 2, curve.Secp256k1))
	r.drain(t)
	openAllChannels(t, r, nodes, sessionID, roster)

	var walletID string
	for _, id := range roster {
		ev := drainEvent(t, nodes[id], orchestrator.DkgComplete, time.Second)
		require.NotEmpty(t, ev.WalletID)
		if walletID == "" {
			walletID = ev.WalletID
		} else {
			require.Equal(t, walletID, ev.WalletID)
		}
	}
	return walletID
}

func TestDKGThenSigningEndToEnd(t *testing.T) {
	roster := party.IDSlice{"alice", "bob", "carol"}
	r := newRouter()
	nodes := buildRoster(t, r, roster)

	walletID := runDKG(t, r, nodes, "sess-e2e-1", roster)

	require.NoError(t, nodes["alice"].StartSigning(walletID, "sig-1", []int{1, 2}, []byte("hello")))
	r.drain(t)

	sigAlice := drainEvent(t, nodes["alice"], orchestrator.SignComplete, time.Second)
	sigBob := drainEvent(t, nodes["bob"], orchestrator.SignComplete, time.Second)
	require.NotEmpty(t, sigAlice.Signature)
	require.Equal(t, sigAlice.Signature, sigBob.Signature)
}

func TestStartSigningRejectsWhileAnotherProtocolIsActive(t *testing.T) {
	roster := party.IDSlice{"alice", "bob", "carol"}
	r := newRouter()
	nodes := buildRoster(t, r, roster)

	walletID := runDKG(t, r, nodes, "sess-e2e-2", roster)

	require.NoError(t, nodes["alice"].StartSigning(walletID, "sig-1", []int{1, 2}, []byte("first")))
	// Don't drain yet: alice's own signing slot is still active, so a
	// second StartSigning for the same wallet must be rejected.
	err := nodes["alice"].StartSigning(walletID, "sig-2", []int{1, 2}, []byte("second"))
	require.Error(t, err)
	r.drain(t)
}

func TestMeshRegressionAfterDKGCompletionIsANoOp(t *testing.T) {
	roster := party.IDSlice{"alice", "bob", "carol"}
	r := newRouter()
	nodes := buildRoster(t, r, roster)

	const sessionID = "sess-e2e-3"
	runDKG(t, r, nodes, sessionID, roster)

	// A mesh regression after DKG has already finished has nothing active
	// to cancel: no spurious Failed event should be emitted.
	require.NoError(t, nodes["alice"].NoteChannelClosed(sessionID, "bob"))
	r.drain(t)
	select {
	case ev := <-nodes["alice"].Events():
		t.Fatalf("unexpected event after post-completion regression: %v", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}
