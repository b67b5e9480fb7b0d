package mixnet

import (
	"crypto/rand"
	mathrand "math/rand"

	"github.com/dantte-lp/gomixnet/internal/sphinx"
	"github.com/dantte-lp/gomixnet/internal/topology"
)

// requestBuilder builds the packets for one post_request call: every
// fragment targets the same destination mixnode (chosen once, up front,
// so the caller can report it back to the application), but travels a
// freshly-generated random route, so fragments of the same message are
// not trivially linkable by a mixnode they share.
type requestBuilder struct {
	topology    *topology.Topology
	routeGen    *topology.RouteGenerator
	destination sphinx.MixnodeIndex
	numHops     int
}

func newRequestBuilder(
	mathRng *mathrand.Rand,
	topo *topology.Topology,
	ns topology.NetworkStatus,
	destination *sphinx.MixnodeIndex,
	numHops int,
) (*requestBuilder, error) {
	routeGen := topology.NewRouteGenerator(topo, ns)

	dest := sphinx.MixnodeIndex(0)
	if destination != nil {
		dest = *destination
	} else {
		d, err := routeGen.ChooseDestinationIndex(mathRng)
		if err != nil {
			return nil, &TopologyError{Err: err}
		}
		dest = d
	}

	return &requestBuilder{topology: topo, routeGen: routeGen, destination: dest, numHops: numHops}, nil
}

func (b *requestBuilder) destinationIndex() sphinx.MixnodeIndex { return b.destination }

// buildPacket generates a fresh route to b.destination, lets fill
// populate the fragment's plaintext payload (fragment header, data, and
// any SURB slots), and builds the resulting onion packet. It returns the
// packet addressed to its first hop and the route's total forwarding
// delay (used by the caller to bound reply arrival time).
func (b *requestBuilder) buildPacket(
	mathRng *mathrand.Rand,
	fill func(payload *[sphinx.PayloadDataSize]byte) error,
) (AddressedPacket, sphinx.Delay, error) {
	firstHop, targets, kxPublics, err := b.routeGen.GenRoute(mathRng, topology.RouteToMixnode, b.destination, b.numHops)
	if err != nil {
		return AddressedPacket{}, sphinx.Delay{}, &TopologyError{Err: err}
	}
	peerID, err := b.topology.MixnodeIndexToPeerID(firstHop)
	if err != nil {
		return AddressedPacket{}, sphinx.Delay{}, &TopologyError{Err: err}
	}

	var payload [sphinx.PayloadDataSize]byte
	if err := fill(&payload); err != nil {
		return AddressedPacket{}, sphinx.Delay{}, err
	}

	delays := sampleHopDelays(mathRng, len(targets))
	pkt, delay, err := sphinx.BuildPacket(rand.Reader, targets, kxPublics, delays, sphinx.Action{Kind: sphinx.ActionDeliverRequest}, payload)
	if err != nil {
		return AddressedPacket{}, sphinx.Delay{}, err
	}

	return AddressedPacket{PeerID: peerID, Packet: *pkt}, delay, nil
}

// buildSurb generates a fresh route back to the local node (or, for a
// non-mixnode session, to one of the session's gateways) ending in
// ActionDeliverReply for the given reserved SURB id, using the supplied
// ephemeral key pair so the caller (the SURB keystore) can tie the
// resulting ReplyKeys back to the id it already handed out.
func (b *requestBuilder) buildSurb(
	mathRng *mathrand.Rand,
	ephPublic sphinx.KxPublic,
	ephPrivate [32]byte,
	surbID sphinx.SurbID,
) (*sphinx.Surb, sphinx.ReplyKeys, sphinx.Delay, error) {
	firstHop, targets, kxPublics, err := b.routeGen.GenRoute(mathRng, topology.RouteLoop, 0, b.numHops)
	if err != nil {
		return nil, sphinx.ReplyKeys{}, sphinx.Delay{}, &TopologyError{Err: err}
	}

	delays := sampleHopDelays(mathRng, len(targets))
	surb, keys, delay, err := sphinx.BuildSurbWithKeypair(rand.Reader, ephPublic, ephPrivate, firstHop, targets, kxPublics, delays, surbID)
	if err != nil {
		return nil, sphinx.ReplyKeys{}, sphinx.Delay{}, err
	}
	return surb, keys, delay, nil
}
