package topology_test

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/dantte-lp/gomixnet/internal/sphinx"
	"github.com/dantte-lp/gomixnet/internal/topology"
)

type reachableSet map[sphinx.PeerID]bool

func (r reachableSet) Reachable(id sphinx.PeerID) bool { return r[id] }

func peerID(b byte) sphinx.PeerID {
	var id sphinx.PeerID
	id[0] = b
	return id
}

func kxPublic(b byte) sphinx.KxPublic {
	var k sphinx.KxPublic
	k[0] = b
	return k
}

func sampleRoster(n int) []topology.Mixnode {
	roster := make([]topology.Mixnode, n)
	for i := 0; i < n; i++ {
		roster[i] = topology.Mixnode{
			KxPublic: kxPublic(byte(i + 1)),
			PeerID:   peerID(byte(i + 1)),
			Addr:     "addr",
			Gateway:  i%2 == 0,
		}
	}
	return roster
}

func TestNewIdentifiesLocalMixnode(t *testing.T) {
	roster := sampleRoster(5)
	rng := rand.New(rand.NewSource(1))

	topo := topology.New(rng, roster, roster[2].KxPublic, 2)
	if !topo.IsMixnode() {
		t.Fatalf("IsMixnode() = false, want true")
	}
	if topo.LocalIndex() != 2 {
		t.Fatalf("LocalIndex() = %d, want 2", topo.LocalIndex())
	}
}

func TestNewNotAMixnodeWhenKeyAbsent(t *testing.T) {
	roster := sampleRoster(5)
	rng := rand.New(rand.NewSource(1))

	topo := topology.New(rng, roster, kxPublic(0xFF), 2)
	if topo.IsMixnode() {
		t.Fatalf("IsMixnode() = true, want false for an unregistered key")
	}
}

func TestNewFallsBackToFullRosterWhenTooFewGateways(t *testing.T) {
	roster := []topology.Mixnode{
		{KxPublic: kxPublic(1), PeerID: peerID(1), Addr: "a", Gateway: false},
		{KxPublic: kxPublic(2), PeerID: peerID(2), Addr: "b", Gateway: false},
		{KxPublic: kxPublic(3), PeerID: peerID(3), Addr: "c", Gateway: false},
	}
	rng := rand.New(rand.NewSource(1))

	topo := topology.New(rng, roster, kxPublic(1), 2)
	gw, ok := topo.RandomGateway(rng)
	if !ok {
		t.Fatalf("RandomGateway: no candidates despite full-roster fallback")
	}
	if int(gw) >= len(roster) {
		t.Fatalf("RandomGateway returned out-of-range index %d", gw)
	}
}

func TestMixnodeIndexToPeerIDAndUnknownIndex(t *testing.T) {
	roster := sampleRoster(3)
	rng := rand.New(rand.NewSource(1))
	topo := topology.New(rng, roster, roster[0].KxPublic, 1)

	id, err := topo.MixnodeIndexToPeerID(1)
	if err != nil {
		t.Fatalf("MixnodeIndexToPeerID: %v", err)
	}
	if id != roster[1].PeerID {
		t.Fatalf("MixnodeIndexToPeerID(1) = %v, want %v", id, roster[1].PeerID)
	}

	if _, err := topo.MixnodeIndexToPeerID(99); !errors.Is(err, topology.ErrUnknownMixnode) {
		t.Fatalf("MixnodeIndexToPeerID(99): want ErrUnknownMixnode, got %v", err)
	}
}

func TestReservedPeerAddressesListsEveryMixnode(t *testing.T) {
	roster := sampleRoster(4)
	rng := rand.New(rand.NewSource(1))
	topo := topology.New(rng, roster, roster[0].KxPublic, 2)

	addrs := topo.ReservedPeerAddresses()
	if len(addrs) != len(roster) {
		t.Fatalf("ReservedPeerAddresses len = %d, want %d", len(addrs), len(roster))
	}
}

func TestChooseDestinationIndexExcludesLocalMixnode(t *testing.T) {
	roster := sampleRoster(4)
	rng := rand.New(rand.NewSource(1))
	topo := topology.New(rng, roster, roster[1].KxPublic, 2)

	reach := make(reachableSet)
	for _, mn := range roster {
		reach[mn.PeerID] = true
	}
	gen := topology.NewRouteGenerator(topo, reach)

	for i := 0; i < 50; i++ {
		dest, err := gen.ChooseDestinationIndex(rng)
		if err != nil {
			t.Fatalf("ChooseDestinationIndex: %v", err)
		}
		if dest == topo.LocalIndex() {
			t.Fatalf("ChooseDestinationIndex returned the local mixnode's own index")
		}
	}
}

func TestChooseDestinationIndexErrorsWithNoReachablePeers(t *testing.T) {
	roster := sampleRoster(4)
	rng := rand.New(rand.NewSource(1))
	topo := topology.New(rng, roster, roster[1].KxPublic, 2)

	gen := topology.NewRouteGenerator(topo, reachableSet{})
	if _, err := gen.ChooseDestinationIndex(rng); !errors.Is(err, topology.ErrNoReachableMixnodes) {
		t.Fatalf("ChooseDestinationIndex with nothing reachable: want ErrNoReachableMixnodes, got %v", err)
	}
}

func TestGenRouteToMixnodeEndsAtDestination(t *testing.T) {
	roster := sampleRoster(6)
	rng := rand.New(rand.NewSource(7))
	topo := topology.New(rng, roster, roster[0].KxPublic, 2)

	reach := make(reachableSet)
	for _, mn := range roster {
		reach[mn.PeerID] = true
	}
	gen := topology.NewRouteGenerator(topo, reach)

	const numHops = 3
	dest := sphinx.MixnodeIndex(4)
	firstHop, targets, kxPublics, err := gen.GenRoute(rng, topology.RouteToMixnode, dest, numHops)
	if err != nil {
		t.Fatalf("GenRoute: %v", err)
	}
	if len(targets) != numHops-1 {
		t.Fatalf("len(targets) = %d, want %d", len(targets), numHops-1)
	}
	if len(kxPublics) != numHops {
		t.Fatalf("len(kxPublics) = %d, want %d", len(kxPublics), numHops)
	}
	if targets[len(targets)-1] != dest {
		t.Fatalf("last target = %d, want destination %d", targets[len(targets)-1], dest)
	}
	if firstHop == topo.LocalIndex() {
		t.Fatalf("GenRoute addressed the first hop back to the local mixnode")
	}

	seen := map[sphinx.MixnodeIndex]bool{firstHop: true}
	for _, idx := range targets {
		if seen[idx] {
			t.Fatalf("GenRoute produced a route that revisits mixnode %d", idx)
		}
		seen[idx] = true
	}
}

func TestGenRouteLoopEndsAtLocalMixnode(t *testing.T) {
	roster := sampleRoster(6)
	rng := rand.New(rand.NewSource(3))
	topo := topology.New(rng, roster, roster[2].KxPublic, 2)

	reach := make(reachableSet)
	for _, mn := range roster {
		reach[mn.PeerID] = true
	}
	gen := topology.NewRouteGenerator(topo, reach)

	_, targets, _, err := gen.GenRoute(rng, topology.RouteLoop, 0, 3)
	if err != nil {
		t.Fatalf("GenRoute: %v", err)
	}
	if targets[len(targets)-1] != topo.LocalIndex() {
		t.Fatalf("loop route's last target = %d, want local index %d", targets[len(targets)-1], topo.LocalIndex())
	}
}

func TestGenRouteClientFirstHopIsGateway(t *testing.T) {
	roster := sampleRoster(6) // gateways at even indices
	rng := rand.New(rand.NewSource(11))
	topo := topology.New(rng, roster, kxPublic(0xFF), 3) // local node not in roster

	reach := make(reachableSet)
	for _, mn := range roster {
		reach[mn.PeerID] = true
	}
	gen := topology.NewRouteGenerator(topo, reach)

	dest := sphinx.MixnodeIndex(5) // not a gateway
	for i := 0; i < 30; i++ {
		firstHop, _, _, err := gen.GenRoute(rng, topology.RouteToMixnode, dest, 3)
		if err != nil {
			t.Fatalf("GenRoute: %v", err)
		}
		if firstHop%2 != 0 {
			t.Fatalf("client route entered through non-gateway mixnode %d", firstHop)
		}
	}
}

func TestGenRouteRejectsOutOfRangeHopCount(t *testing.T) {
	roster := sampleRoster(3)
	rng := rand.New(rand.NewSource(1))
	topo := topology.New(rng, roster, roster[0].KxPublic, 1)
	gen := topology.NewRouteGenerator(topo, reachableSet{roster[0].PeerID: true, roster[1].PeerID: true, roster[2].PeerID: true})

	if _, _, _, err := gen.GenRoute(rng, topology.RouteToMixnode, 1, 0); err == nil {
		t.Fatalf("GenRoute(0 hops): want an error, got none")
	}
	if _, _, _, err := gen.GenRoute(rng, topology.RouteToMixnode, 1, sphinx.MaxHops+1); err == nil {
		t.Fatalf("GenRoute(MaxHops+1): want an error, got none")
	}
}

func TestGenRouteErrorsWhenNotEnoughDistinctHops(t *testing.T) {
	roster := sampleRoster(3) // too few to build a 3-hop route excluding destination and local
	rng := rand.New(rand.NewSource(1))
	topo := topology.New(rng, roster, roster[0].KxPublic, 1)
	reach := make(reachableSet)
	for _, mn := range roster {
		reach[mn.PeerID] = true
	}
	gen := topology.NewRouteGenerator(topo, reach)

	if _, _, _, err := gen.GenRoute(rng, topology.RouteToMixnode, 1, 3); !errors.Is(err, topology.ErrNotEnoughHops) {
		t.Fatalf("GenRoute: want ErrNotEnoughHops, got %v", err)
	}
}
