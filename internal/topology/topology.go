// Package topology resolves a session's mixnode roster into the handles the
// core engine needs: which mixnode (if any) the local node is, how to map a
// MixnodeIndex or forwarding target to a transport PeerID, and which
// addresses should be kept reserved (dialled/held open) for the session's
// lifetime.
package topology

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/dantte-lp/gomixnet/internal/sphinx"
)

// TopologyErr is returned by operations that resolve a mixnode index or
// forwarding target against a session's roster.
type TopologyErr struct {
	op  string
	err error
}

func (e *TopologyErr) Error() string { return fmt.Sprintf("topology: %s: %v", e.op, e.err) }
func (e *TopologyErr) Unwrap() error { return e.err }

// Sentinel causes wrapped by TopologyErr.
var (
	ErrUnknownMixnode  = errors.New("mixnode index not present in this session's topology")
	ErrUnknownTarget   = errors.New("forwarding target not present in this session's topology")
	ErrNoMixnodes      = errors.New("session topology has no mixnodes")
	ErrNotEnoughHops   = errors.New("not enough distinct mixnodes to build a route of the requested length")
)

// Mixnode is one entry in a session's published roster.
type Mixnode struct {
	KxPublic sphinx.KxPublic
	PeerID   sphinx.PeerID
	// Addr is an opaque transport address, reserved (kept connected) for
	// the lifetime of the session while this mixnode appears in its
	// roster. The core never interprets its contents.
	Addr string
	// Gateway marks mixnodes that accept connections from non-mixnode
	// light clients as an entry point into the mix network.
	Gateway bool
}

// Topology is the resolved view of one session's mixnode roster from the
// perspective of the local node.
type Topology struct {
	mixnodes []Mixnode
	// localIndex is the position of the local node within mixnodes, or -1
	// if the local node is not a mixnode for this session.
	localIndex int
	// gateways is a fixed subset of mixnodes, chosen once at session
	// start, used as the entry/exit point for non-mixnode light clients:
	// the first hop of a client-originated request, and the last hop of
	// a client's own SURBs (the gateway hands the fully-peeled packet to
	// the client over their existing reserved connection, a transport
	// concern this package does not otherwise model).
	gateways []sphinx.MixnodeIndex
}

// New builds a Topology from a session's mixnode roster, identifying the
// local node's position (if any) by its key-exchange public key, and
// choosing a random gateway subset of size numGateways from the entries
// marked Gateway (falling back to the full roster if fewer than
// numGateways are marked).
//
// If mixnodes.len() exceeds the index space the caller is responsible for
// truncating before calling New (mirrors the excess-mixnode warning in the
// core's maybe_set_mixnodes).
func New(rng *rand.Rand, mixnodes []Mixnode, localKxPublic sphinx.KxPublic, numGateways int) *Topology {
	t := &Topology{mixnodes: mixnodes, localIndex: -1}
	for i, mn := range mixnodes {
		if mn.KxPublic == localKxPublic {
			t.localIndex = i
			break
		}
	}

	candidates := make([]sphinx.MixnodeIndex, 0, len(mixnodes))
	for i, mn := range mixnodes {
		if mn.Gateway {
			candidates = append(candidates, sphinx.MixnodeIndex(i))
		}
	}
	if len(candidates) < numGateways {
		candidates = candidates[:0]
		for i := range mixnodes {
			candidates = append(candidates, sphinx.MixnodeIndex(i))
		}
	}
	rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	if numGateways < len(candidates) {
		candidates = candidates[:numGateways]
	}
	t.gateways = candidates

	return t
}

// RandomGateway picks a uniformly random entry from the session's gateway
// subset. It reports false if the session has no mixnodes at all.
func (t *Topology) RandomGateway(rng *rand.Rand) (sphinx.MixnodeIndex, bool) {
	if len(t.gateways) == 0 {
		return 0, false
	}
	return t.gateways[rng.Intn(len(t.gateways))], true
}

// IsMixnode reports whether the local node is a mixnode for this session.
func (t *Topology) IsMixnode() bool { return t.localIndex >= 0 }

// LocalIndex returns the local node's mixnode index, valid only when
// IsMixnode reports true.
func (t *Topology) LocalIndex() sphinx.MixnodeIndex { return sphinx.MixnodeIndex(t.localIndex) }

// Len returns the number of mixnodes in the roster.
func (t *Topology) Len() int { return len(t.mixnodes) }

// Mixnode returns the roster entry for index, if present.
func (t *Topology) Mixnode(index sphinx.MixnodeIndex) (Mixnode, error) {
	if int(index) >= len(t.mixnodes) {
		return Mixnode{}, &TopologyErr{op: "mixnode", err: ErrUnknownMixnode}
	}
	return t.mixnodes[index], nil
}

// MixnodeIndexToPeerID resolves a mixnode index to its transport peer ID.
func (t *Topology) MixnodeIndexToPeerID(index sphinx.MixnodeIndex) (sphinx.PeerID, error) {
	mn, err := t.Mixnode(index)
	if err != nil {
		return sphinx.PeerID{}, err
	}
	return mn.PeerID, nil
}

// TargetToPeerID resolves a forwarding target (also a mixnode index, from
// the local node's perspective once it has peeled a packet) to a peer ID.
func (t *Topology) TargetToPeerID(target sphinx.MixnodeIndex) (sphinx.PeerID, error) {
	return t.MixnodeIndexToPeerID(target)
}

// ReservedPeerAddresses returns the addresses of every mixnode in the
// roster. The engine unions this across sessions so the transport layer
// knows which peers to keep connected regardless of current traffic.
func (t *Topology) ReservedPeerAddresses() []string {
	addrs := make([]string, 0, len(t.mixnodes))
	for _, mn := range t.mixnodes {
		addrs = append(addrs, mn.Addr)
	}
	return addrs
}
