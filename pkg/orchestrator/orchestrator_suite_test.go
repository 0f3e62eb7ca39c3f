package orchestrator_test

import (
	"crypto/rand"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stars-labs/mpc-wallet-core/pkg/curve"
	"github.com/stars-labs/mpc-wallet-core/pkg/orchestrator"
	"github.com/stars-labs/mpc-wallet-core/pkg/party"
)

func TestOrchestratorSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Orchestrator Integration Suite")
}

var _ = Describe("Orchestrator", func() {
	var (
		r      *router
		roster party.IDSlice
		nodes  map[party.ID]*orchestrator.Orchestrator
	)

	BeforeEach(func() {
		roster = party.IDSlice{"alice", "bob", "carol"}
		r = newRouter()
		nodes = make(map[party.ID]*orchestrator.Orchestrator, len(roster))
		for _, id := range roster {
			nodes[id] = orchestrator.New(id, rand.Reader, r.sendFrom(id), nil)
		}
		r.mu.Lock()
		for id, o := range nodes {
			r.nodes[id] = o
		}
		r.mu.Unlock()
	})

	SetDefaultEventuallyTimeout(2 * time.Second)
	SetDefaultEventuallyPollingInterval(10 * time.Millisecond)

	Describe("DKG over three participants, threshold two", func() {
		It("converges to matching wallet IDs for every participant", func() {
			const sessionID = "sess-suite-1"
			Expect(nodes["alice"].StartDKG(sessionID, roster, 2, curve.Secp256k1)).To(Succeed())
			r.drainForGinkgo()

			for _, id := range roster {
				for _, peer := range roster {
					if peer == id {
						continue
					}
					Expect(nodes[id].NoteChannelOpen(sessionID, peer)).To(Succeed())
				}
			}
			r.drainForGinkgo()

			walletIDs := make(map[string]string, len(roster))
			for _, id := range roster {
				var ev orchestrator.Event
				Eventually(nodes[id].Events()).Should(Receive(&ev))
				for ev.Kind != orchestrator.DkgComplete {
					Eventually(nodes[id].Events()).Should(Receive(&ev))
				}
				walletIDs[string(id)] = ev.WalletID
				Expect(ev.WalletID).NotTo(BeEmpty())
			}
			Expect(walletIDs["alice"]).To(Equal(walletIDs["bob"]))
			Expect(walletIDs["alice"]).To(Equal(walletIDs["carol"]))
		})
	})

	Describe("one active protocol per wallet", func() {
		It("rejects a second signing occasion while the first is in flight", func() {
			const sessionID = "sess-suite-2"
			Expect(nodes["alice"].StartDKG(sessionID, roster, 2, curve.Secp256k1)).To(Succeed())
			r.drainForGinkgo()
			for _, id := range roster {
				for _, peer := range roster {
					if peer == id {
						continue
					}
					Expect(nodes[id].NoteChannelOpen(sessionID, peer)).To(Succeed())
				}
			}
			r.drainForGinkgo()

			var walletID string
			for _, id := range roster {
				var ev orchestrator.Event
				Eventually(nodes[id].Events()).Should(Receive(&ev))
				for ev.Kind != orchestrator.DkgComplete {
					Eventually(nodes[id].Events()).Should(Receive(&ev))
				}
				walletID = ev.WalletID
			}

			Expect(nodes["alice"].StartSigning(walletID, "sig-a", []int{1, 2}, []byte("one"))).To(Succeed())
			Expect(nodes["alice"].StartSigning(walletID, "sig-b", []int{1, 2}, []byte("two"))).To(HaveOccurred())
		})
	})
})

// drainForGinkgo is a thin wrapper so the ginkgo specs don't need a *testing.T.
func (r *router) drainForGinkgo() {
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
