package mixnet_test

import (
	"crypto/rand"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dantte-lp/gomixnet/internal/mixnet"
	"github.com/dantte-lp/gomixnet/internal/sphinx"
	"github.com/dantte-lp/gomixnet/internal/topology"
)

// fakeKxStore is a mixnet.KxPublicStore backed by freshly-generated X25519
// key pairs, one per session index, generated lazily. It mirrors
// cmd/mixnoded's ephemeralKxStore but without the mutex: every test engine
// is driven from a single goroutine.
type fakeKxStore struct {
	keys map[mixnet.SessionIndex]fakeKeypair
}

type fakeKeypair struct {
	public  sphinx.KxPublic
	private [32]byte
}

func newFakeKxStore() *fakeKxStore {
	return &fakeKxStore{keys: make(map[mixnet.SessionIndex]fakeKeypair)}
}

func (s *fakeKxStore) generate(index mixnet.SessionIndex) fakeKeypair {
	if kp, ok := s.keys[index]; ok {
		return kp
	}
	pub, priv, err := sphinx.GenerateKxKeypair(rand.Reader)
	if err != nil {
		panic(err)
	}
	kp := fakeKeypair{public: pub, private: priv}
	s.keys[index] = kp
	return kp
}

func (s *fakeKxStore) PublicForSession(index mixnet.SessionIndex) (sphinx.KxPublic, bool) {
	kp, ok := s.keys[index]
	if !ok {
		return sphinx.KxPublic{}, false
	}
	return kp.public, true
}

func (s *fakeKxStore) SharedSecret(index mixnet.SessionIndex, theirPublic sphinx.KxPublic) ([32]byte, bool) {
	kp, ok := s.keys[index]
	if !ok {
		return [32]byte{}, false
	}
	priv := kp.private
	shared, err := sphinx.SharedSecret(&priv, theirPublic)
	if err != nil {
		return [32]byte{}, false
	}
	return shared, true
}

func (s *fakeKxStore) EnsurePending(index mixnet.SessionIndex) { s.generate(index) }

func (s *fakeKxStore) DiscardBefore(index mixnet.SessionIndex) {
	for i := range s.keys {
		if index > i {
			delete(s.keys, i)
		}
	}
}

// alwaysReachable treats every mixnode as reachable, the test double for
// topology.NetworkStatus.
type alwaysReachable struct{}

func (alwaysReachable) Reachable(sphinx.PeerID) bool { return true }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// baseTestConfig returns a small, deterministic engine configuration: cover
// traffic disabled (so PopNextAuthoredPacket never substitutes a
// synthesized packet for a real assertion) and a loop proportion of
// exactly zero so the loop-cover coin flip in PopNextAuthoredPacket never
// fires. Tests that exercise cover/splitting behavior override the
// relevant fields directly.
func baseTestConfig() mixnet.Config {
	return mixnet.Config{
		GenCoverPackets:            false,
		LoopCoverProportion:        0,
		NumHops:                    3,
		NumGatewayMixnodes:         1,
		MinMixnodes:                3,
		MeanForwardingDelay:        10 * time.Millisecond,
		MaxFragmentsPerMessage:     4,
		MaxIncompleteMessages:      8,
		MaxIncompleteFragments:     32,
		ForwardPacketQueueCapacity: 16,
		SurbKeystoreCapacity:       16,
		MixnodeSession: mixnet.SessionRoleConfig{
			AuthoredPacketQueueCapacity: 8,
			MeanAuthoredPacketPeriod:    time.Second,
		},
	}
}

// testNode is one participant in a simulated mix network: its own engine,
// kx store and topology identity.
type testNode struct {
	peerID sphinx.PeerID
	kx     *fakeKxStore
	engine *mixnet.Engine
}

// buildRoster generates n mixnodes with fresh per-session key pairs
// already populated for sessionIndex, returning both the published roster
// (what MaybeSetMixnodes's producer hands back) and the matching per-node
// kx stores and peer ids, index-aligned.
func buildRoster(n int, sessionIndex mixnet.SessionIndex) ([]topology.Mixnode, []*fakeKxStore, []sphinx.PeerID) {
	roster := make([]topology.Mixnode, n)
	stores := make([]*fakeKxStore, n)
	peerIDs := make([]sphinx.PeerID, n)
	for i := 0; i < n; i++ {
		store := newFakeKxStore()
		kp := store.generate(sessionIndex)
		var peerID sphinx.PeerID
		peerID[0] = byte(i + 1)
		roster[i] = topology.Mixnode{
			KxPublic: kp.public,
			PeerID:   peerID,
			Addr:     "node",
			Gateway:  true,
		}
		stores[i] = store
		peerIDs[i] = peerID
	}
	return roster, stores, peerIDs
}

// newMeshNetwork builds n engines, one per roster entry, each believing
// itself to be that entry's mixnode, all populated for sessionIndex under
// phase, sharing the same roster (so MixnodeIndex values mean the same
// thing to every node).
func newMeshNetwork(t *testing.T, n int, sessionIndex mixnet.SessionIndex, phase mixnet.SessionPhase, cfg mixnet.Config) []*testNode {
	t.Helper()
	roster, stores, peerIDs := buildRoster(n, sessionIndex)

	nodes := make([]*testNode, n)
	for i := 0; i < n; i++ {
		engine := mixnet.New(cfg, stores[i], discardLogger())
		engine.SetSessionStatus(mixnet.SessionStatus{CurrentIndex: sessionIndex, Phase: phase})
		err := engine.MaybeSetMixnodes(mixnet.RelCurrent, func() ([]topology.Mixnode, error) {
			return roster, nil
		})
		if err != nil {
			t.Fatalf("node %d: MaybeSetMixnodes: %v", i, err)
		}
		nodes[i] = &testNode{peerID: peerIDs[i], kx: stores[i], engine: engine}
	}
	return nodes
}

// nodeByPeerID finds the mesh participant addressed by id.
func nodeByPeerID(nodes []*testNode, id sphinx.PeerID) (*testNode, bool) {
	for _, n := range nodes {
		if n.peerID == id {
			return n, true
		}
	}
	return nil, false
}

