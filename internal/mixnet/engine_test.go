package mixnet_test

import (
	"crypto/rand"
	"errors"
	"testing"

	"github.com/dantte-lp/gomixnet/internal/mixnet"
	"github.com/dantte-lp/gomixnet/internal/sphinx"
	"github.com/dantte-lp/gomixnet/internal/topology"
)

// S1: a session with fewer than MinMixnodes mixnodes ends up Disabled, and
// post_request against it fails with SessionDisabled.
func TestMaybeSetMixnodesBelowMinimumDisablesSession(t *testing.T) {
	kx := newFakeKxStore()
	kx.generate(0)
	engine := mixnet.New(baseTestConfig(), kx, discardLogger())
	engine.SetSessionStatus(mixnet.SessionStatus{CurrentIndex: 0, Phase: mixnet.PhaseConnectToCurrent})

	err := engine.MaybeSetMixnodes(mixnet.RelCurrent, func() ([]topology.Mixnode, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("MaybeSetMixnodes: %v", err)
	}

	_, _, err = engine.PostRequest(nil, []byte("hi"), 0, alwaysReachable{})
	var sessionErr *mixnet.PostSessionError
	if !errors.As(err, &sessionErr) || !errors.Is(err, mixnet.ErrSessionDisabled) {
		t.Fatalf("PostRequest: want SessionDisabled, got %v", err)
	}
	if sessionErr.Index != 0 {
		t.Fatalf("PostSessionError.Index = %d, want 0", sessionErr.Index)
	}
}

// S2: posting a request against a populated, active session grows the
// authored queue and reports NEXT_AUTHORED_PACKET_DEADLINE as invalidated.
func TestPostRequestGrowsAuthoredQueueAndInvalidates(t *testing.T) {
	nodes := newMeshNetwork(t, 5, 0, mixnet.PhaseRequestsAndRepliesToCurrent, baseTestConfig())
	engine := nodes[2].engine // local node is mixnode #2
	engine.TakeInvalidated()  // discard setup invalidation

	_, delay, err := engine.PostRequest(nil, make([]byte, 32), 1, alwaysReachable{})
	if err != nil {
		t.Fatalf("PostRequest: %v", err)
	}
	if delay <= 0 {
		t.Fatalf("PostRequest delay = %v, want > 0", delay)
	}

	stats := engine.QueueStats()
	if stats.CurrentAuthoredQueueLen != 1 {
		t.Fatalf("CurrentAuthoredQueueLen = %d, want 1", stats.CurrentAuthoredQueueLen)
	}

	inv := engine.TakeInvalidated()
	if !inv.Has(mixnet.InvalidatedNextAuthoredPacketDeadline) {
		t.Fatalf("take_invalidated() = %v, want NEXT_AUTHORED_PACKET_DEADLINE set", inv)
	}
}

// S3: with cover generation disabled and both authored queues empty,
// pop_next_authored_packet reports nothing to send even while the phase
// wants cover traffic.
func TestPopNextAuthoredPacketNoCoverWhenDisabled(t *testing.T) {
	cfg := baseTestConfig()
	cfg.GenCoverPackets = false
	nodes := newMeshNetwork(t, 5, 0, mixnet.PhaseCoverToCurrent, cfg)
	engine := nodes[2].engine

	if _, ok := engine.PopNextAuthoredPacket(alwaysReachable{}); ok {
		t.Fatalf("PopNextAuthoredPacket returned a packet with cover disabled and no queued traffic")
	}
}

// S4: replay immunity (property 1) — feeding the same forward packet twice
// only grows the forward queue once, and the second call reports nothing.
func TestHandlePacketRejectsReplayedForwardPacket(t *testing.T) {
	nodes := newMeshNetwork(t, 5, 0, mixnet.PhaseRequestsAndRepliesToCurrent, baseTestConfig())
	sender := nodes[0].engine

	_, _, err := sender.PostRequest(nil, []byte("replay me"), 0, alwaysReachable{})
	if err != nil {
		t.Fatalf("PostRequest: %v", err)
	}
	pkt, ok := sender.PopNextAuthoredPacket(alwaysReachable{})
	if !ok {
		t.Fatalf("PopNextAuthoredPacket: no packet queued")
	}

	first, ok := nodeByPeerID(nodes, pkt.PeerID)
	if !ok {
		t.Fatalf("no mesh node for first hop")
	}

	if _, delivered := first.engine.HandlePacket(&pkt.Packet); delivered {
		t.Fatalf("first hop should not be the final destination")
	}
	statsBefore := first.engine.QueueStats()
	if statsBefore.ForwardQueueLen != 1 {
		t.Fatalf("ForwardQueueLen after first delivery = %d, want 1", statsBefore.ForwardQueueLen)
	}

	if msg, delivered := first.engine.HandlePacket(&pkt.Packet); delivered || msg != nil {
		t.Fatalf("replayed packet was accepted: delivered=%v msg=%v", delivered, msg)
	}
	statsAfter := first.engine.QueueStats()
	if statsAfter.ForwardQueueLen != 1 {
		t.Fatalf("ForwardQueueLen after replay = %d, want unchanged at 1", statsAfter.ForwardQueueLen)
	}
}

// S5: post_reply with zero SURBs fails with TooManyFragments (Blueprints
// always demands at least one fragment, and zero available SURBs can never
// satisfy a fragment that needs one).
func TestPostReplyWithNoSurbsFails(t *testing.T) {
	nodes := newMeshNetwork(t, 5, 0, mixnet.PhaseRequestsAndRepliesToCurrent, baseTestConfig())
	engine := nodes[2].engine

	var surbs []sphinx.Surb
	err := engine.PostReply(&surbs, 0, [32]byte{}, []byte("reply data"))
	if !errors.Is(err, mixnet.ErrTooManyFragments) {
		t.Fatalf("PostReply: want ErrTooManyFragments, got %v", err)
	}
	if len(surbs) != 0 {
		t.Fatalf("surbs mutated on failure: len = %d, want 0", len(surbs))
	}
}

// S6: an ActionDeliverReply for an unrecognized SURB id is silently
// dropped, and does not disturb unrelated engine state.
func TestHandlePacketUnknownSurbIDIsDropped(t *testing.T) {
	nodes := newMeshNetwork(t, 5, 0, mixnet.PhaseRequestsAndRepliesToCurrent, baseTestConfig())
	engine := nodes[2].engine
	statsBefore := engine.QueueStats()

	// A single-hop SURB addressed to nodes[2], whose id this engine never
	// issued, so the packet peels to ActionDeliverReply and misses the
	// SURB keystore.
	pub, _ := nodes[2].kx.PublicForSession(0)
	surb, _, _, err := sphinx.BuildSurb(rand.Reader, 2, nil, []sphinx.KxPublic{pub}, nil, sphinx.SurbID{0x01})
	if err != nil {
		t.Fatalf("BuildSurb: %v", err)
	}
	var pkt sphinx.Packet
	sphinx.CompleteReplyPacket(&pkt, surb, [sphinx.PayloadDataSize]byte{})
	msg, delivered := engine.HandlePacket(&pkt)
	if delivered || msg != nil {
		t.Fatalf("HandlePacket on a reply with unknown surb id: delivered=%v msg=%v, want false/nil", delivered, msg)
	}

	statsAfter := engine.QueueStats()
	if statsAfter != statsBefore {
		t.Fatalf("QueueStats changed on a dropped packet: before=%+v after=%+v", statsBefore, statsAfter)
	}
}

// Property 2: session isolation. A session that has been fully discarded
// (phase moved past DisconnectFromPrev equivalent: set up a fresh current
// only) rejects a packet built for the old session without touching the
// new session's replay filter state.
func TestSessionIsolationAcrossRotation(t *testing.T) {
	nodes := newMeshNetwork(t, 5, 0, mixnet.PhaseRequestsAndRepliesToCurrent, baseTestConfig())
	sender := nodes[0].engine

	_, _, err := sender.PostRequest(nil, []byte("session zero"), 0, alwaysReachable{})
	if err != nil {
		t.Fatalf("PostRequest: %v", err)
	}
	pkt, ok := sender.PopNextAuthoredPacket(alwaysReachable{})
	if !ok {
		t.Fatalf("PopNextAuthoredPacket: no packet queued")
	}

	// Rotate every node forward by two sessions (beyond the single-slot
	// rotation window), discarding session 0 entirely rather than merely
	// demoting it to previous.
	for _, n := range nodes {
		n.engine.SetSessionStatus(mixnet.SessionStatus{CurrentIndex: 2, Phase: mixnet.PhaseDisconnectFromPrev})
	}

	dest, ok := nodeByPeerID(nodes, pkt.PeerID)
	if !ok {
		t.Fatalf("no mesh node for first hop")
	}
	statsBefore := dest.engine.QueueStats()
	if msg, delivered := dest.engine.HandlePacket(&pkt.Packet); delivered || msg != nil {
		t.Fatalf("packet from discarded session was accepted: delivered=%v msg=%v", delivered, msg)
	}
	statsAfter := dest.engine.QueueStats()
	if statsAfter != statsBefore {
		t.Fatalf("QueueStats changed rejecting a discarded-session packet: before=%+v after=%+v", statsBefore, statsAfter)
	}
}

// Property 7: deadline monotonicity. pop_next_forward_packet always
// returns packets in non-decreasing deadline order.
func TestPopNextForwardPacketIsDeadlineMonotonic(t *testing.T) {
	nodes := newMeshNetwork(t, 5, 0, mixnet.PhaseRequestsAndRepliesToCurrent, baseTestConfig())
	sender := nodes[0].engine

	// Insert several authored packets so their distinct per-hop delays
	// populate the first hop's forward queue with varied deadlines.
	for i := 0; i < 6; i++ {
		if _, _, err := sender.PostRequest(nil, []byte("msg"), 0, alwaysReachable{}); err != nil {
			t.Fatalf("PostRequest #%d: %v", i, err)
		}
	}

	byFirstHop := make(map[sphinx.PeerID]int)
	for i := 0; i < 6; i++ {
		pkt, ok := sender.PopNextAuthoredPacket(alwaysReachable{})
		if !ok {
			t.Fatalf("PopNextAuthoredPacket #%d: no packet", i)
		}
		node, ok := nodeByPeerID(nodes, pkt.PeerID)
		if !ok {
			t.Fatalf("no mesh node for first hop")
		}
		if _, delivered := node.engine.HandlePacket(&pkt.Packet); delivered {
			continue
		}
		byFirstHop[pkt.PeerID]++
	}

	for _, node := range nodes {
		var lastDeadline int64
		first := true
		for {
			d, ok := node.engine.NextForwardPacketDeadline()
			if !ok {
				break
			}
			if !first && d.UnixNano() < lastDeadline {
				t.Fatalf("deadlines not monotonic: saw %v after %v", d.UnixNano(), lastDeadline)
			}
			lastDeadline = d.UnixNano()
			first = false
			if _, ok := node.engine.PopNextForwardPacket(); !ok {
				t.Fatalf("PopNextForwardPacket: NextForwardPacketDeadline promised an entry")
			}
		}
	}
}

// Property 8: invalidation. set_session_status always invalidates at least
// RESERVED_PEERS and NEXT_AUTHORED_PACKET_DEADLINE; pop_next_forward_packet
// always sets NEXT_FORWARD_PACKET_DEADLINE.
func TestInvalidationFlags(t *testing.T) {
	kx := newFakeKxStore()
	kx.generate(0)
	engine := mixnet.New(baseTestConfig(), kx, discardLogger())

	engine.SetSessionStatus(mixnet.SessionStatus{CurrentIndex: 0, Phase: mixnet.PhaseConnectToCurrent})
	inv := engine.TakeInvalidated()
	want := mixnet.InvalidatedReservedPeers | mixnet.InvalidatedNextAuthoredPacketDeadline
	if !inv.Has(want) {
		t.Fatalf("take_invalidated() after set_session_status = %v, want at least %v", inv, want)
	}

	engine.TakeInvalidated()
	if _, ok := engine.PopNextForwardPacket(); ok {
		t.Fatalf("unexpected forward packet on a freshly constructed engine")
	}
	inv = engine.TakeInvalidated()
	if !inv.Has(mixnet.InvalidatedNextForwardPacketDeadline) {
		t.Fatalf("take_invalidated() after pop_next_forward_packet = %v, want NEXT_FORWARD_PACKET_DEADLINE set", inv)
	}
}
