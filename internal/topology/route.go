package topology

import (
	"errors"
	"math/rand"

	"github.com/dantte-lp/gomixnet/internal/sphinx"
)

// NetworkStatus reports which mixnodes are currently reachable from
// wherever cover/request traffic is being generated. It is a narrow
// capability interface (reachability only) rather than a general "node
// status" type, so callers that only need route selection never have to
// satisfy an unrelated surface.
type NetworkStatus interface {
	Reachable(peer sphinx.PeerID) bool
}

// LocalNetworkStatus is the NetworkStatus as seen from the local mixnode's
// own connections; it is distinguished from NetworkStatus only at the type
// level, to make call sites state which view they mean.
type LocalNetworkStatus interface {
	NetworkStatus
}

// RouteKind selects what a generated route is for.
type RouteKind int

const (
	// RouteLoop builds a route that returns to the local node, used for
	// loop cover traffic.
	RouteLoop RouteKind = iota
	// RouteToMixnode builds a route terminating at a chosen destination
	// mixnode, used for drop cover traffic and real requests.
	RouteToMixnode
)

// ErrNoReachableMixnodes is returned when route generation cannot find
// enough reachable, distinct mixnodes to build the requested route.
var ErrNoReachableMixnodes = errors.New("topology: not enough reachable mixnodes to build route")

// RouteGenerator builds random routes through a session's topology,
// restricted to mixnodes the supplied NetworkStatus reports as reachable:
// choose a destination, then a random path of the requested length, with
// the last hop treated as a distinct boundary case from the interior hops.
type RouteGenerator struct {
	topology *Topology
	status   NetworkStatus
}

// NewRouteGenerator builds a RouteGenerator over topology, consulting
// status to filter unreachable mixnodes out of consideration.
func NewRouteGenerator(topology *Topology, status NetworkStatus) *RouteGenerator {
	return &RouteGenerator{topology: topology, status: status}
}

func (g *RouteGenerator) reachableIndices(exclude sphinx.MixnodeIndex, excludeValid bool) []sphinx.MixnodeIndex {
	out := make([]sphinx.MixnodeIndex, 0, g.topology.Len())
	for i, mn := range g.topology.mixnodes {
		idx := sphinx.MixnodeIndex(i)
		if excludeValid && idx == exclude {
			continue
		}
		if g.status != nil && !g.status.Reachable(mn.PeerID) {
			continue
		}
		out = append(out, idx)
	}
	return out
}

// ChooseDestinationIndex picks a uniformly random reachable mixnode,
// excluding the local node itself when it is a mixnode for this session.
func (g *RouteGenerator) ChooseDestinationIndex(rng *rand.Rand) (sphinx.MixnodeIndex, error) {
	candidates := g.reachableIndices(g.topology.LocalIndex(), g.topology.IsMixnode())
	if len(candidates) == 0 {
		return 0, &TopologyErr{op: "choose_destination", err: ErrNoReachableMixnodes}
	}
	return candidates[rng.Intn(len(candidates))], nil
}

// GenRoute picks numHops distinct reachable mixnodes at random, with the
// last hop determined by kind: for RouteToMixnode, destination fixes the
// last hop; for RouteLoop, the route returns to the local node.
//
// It returns the first hop to address the packet to, the forwarding
// targets for each interior hop, and the key-exchange public keys for
// every hop in order (sized numHops, ending at the final hop).
func (g *RouteGenerator) GenRoute(rng *rand.Rand, kind RouteKind, destination sphinx.MixnodeIndex, numHops int) (firstHop sphinx.MixnodeIndex, targets []sphinx.MixnodeIndex, kxPublics []sphinx.KxPublic, err error) {
	if numHops < 1 || numHops > sphinx.MaxHops {
		return 0, nil, nil, &TopologyErr{op: "gen_route", err: errors.New("hop count out of range")}
	}

	var last sphinx.MixnodeIndex
	switch kind {
	case RouteToMixnode:
		last = destination
	case RouteLoop:
		if g.topology.IsMixnode() {
			last = g.topology.LocalIndex()
		} else {
			gw, ok := g.topology.RandomGateway(rng)
			if !ok {
				return 0, nil, nil, &TopologyErr{op: "gen_route", err: errors.New("no gateway available for loop route")}
			}
			last = gw
		}
	}

	hops := make([]sphinx.MixnodeIndex, numHops)
	hops[numHops-1] = last

	if numHops > 1 {
		interior := hops[:numHops-1]

		candidates := g.reachableIndices(last, true)
		if g.topology.IsMixnode() {
			candidates = removeIndex(candidates, g.topology.LocalIndex())
		} else {
			// A light client enters the mixnet through one of the
			// session's gateways, so the first hop is drawn from the
			// gateway subset rather than the full roster.
			gw, ok := g.reachableGateway(rng, last)
			if !ok {
				return 0, nil, nil, &TopologyErr{op: "gen_route", err: ErrNoReachableMixnodes}
			}
			hops[0] = gw
			interior = hops[1 : numHops-1]
			candidates = removeIndex(candidates, gw)
		}
		if len(candidates) < len(interior) {
			return 0, nil, nil, &TopologyErr{op: "gen_route", err: ErrNotEnoughHops}
		}
		rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
		copy(interior, candidates[:len(interior)])
	}

	kxPublics = make([]sphinx.KxPublic, numHops)
	for i, idx := range hops {
		mn, err := g.topology.Mixnode(idx)
		if err != nil {
			return 0, nil, nil, err
		}
		kxPublics[i] = mn.KxPublic
	}

	return hops[0], hops[1:], kxPublics, nil
}

// reachableGateway picks a uniformly random reachable gateway other than
// exclude, for use as a light client's entry hop.
func (g *RouteGenerator) reachableGateway(rng *rand.Rand, exclude sphinx.MixnodeIndex) (sphinx.MixnodeIndex, bool) {
	candidates := make([]sphinx.MixnodeIndex, 0, len(g.topology.gateways))
	for _, idx := range g.topology.gateways {
		if idx == exclude {
			continue
		}
		mn, err := g.topology.Mixnode(idx)
		if err != nil {
			continue
		}
		if g.status != nil && !g.status.Reachable(mn.PeerID) {
			continue
		}
		candidates = append(candidates, idx)
	}
	if len(candidates) == 0 {
		return 0, false
	}
	return candidates[rng.Intn(len(candidates))], true
}

func removeIndex(s []sphinx.MixnodeIndex, v sphinx.MixnodeIndex) []sphinx.MixnodeIndex {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
