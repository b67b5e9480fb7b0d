// Package sphinx implements the fixed-size onion packet format used to move
// mixnet requests, replies and cover traffic between hops without revealing
// the full route to any single mixnode.
//
// The design follows the general shape of Sphinx (per-hop key exchange,
// layered header encryption, a stream-ciphered payload that is stripped one
// layer per hop) but is not a byte-compatible reimplementation of any
// published Sphinx codec: header slots are fixed-size and onion-encrypted
// independently rather than using a filler-string construction, and the
// payload is protected with a single combined keystream rather than nested
// per-hop AEAD.
package sphinx

import "time"

// Core sizes. These are deliberately small/fixed so that Packet and Surb can
// be plain byte arrays with no heap allocation per hop.
const (
	// KxPublicSize is the size of an X25519 public key.
	KxPublicSize = 32

	// PeerIDSize is the size of an opaque transport-level peer identifier.
	PeerIDSize = 32

	// SurbIDSize identifies a single-use reply block in the SURB keystore.
	SurbIDSize = 16

	// CoverIDSize identifies a cover packet for logging/diagnostics only.
	CoverIDSize = 16

	// MaxHops bounds the number of header slots carried by every packet,
	// and therefore the longest route a packet can describe.
	MaxHops = 5

	// MaxMixnodeIndex is the largest mixnode index a session topology can
	// address.
	MaxMixnodeIndex = MixnodeIndex(0xFFFE)

	// noMixnodeIndex is reserved to mean "not a forwarding hop".
	noMixnodeIndex = MixnodeIndex(0xFFFF)

	routingPlainSize   = 40
	headerSlotOverhead = 16 // poly1305 tag
	headerSlotSize     = routingPlainSize + headerSlotOverhead

	// HeaderSize is the total size of the onion-encrypted routing header.
	HeaderSize = MaxHops * headerSlotSize

	// PayloadDataSize is the size of a single message fragment.
	PayloadDataSize = 512

	// PayloadSize is the size of the (possibly still-encrypted) payload
	// region of a packet. The payload has no per-layer authentication
	// overhead because it is protected with a combined XOR keystream
	// rather than nested AEAD; see Peel.
	PayloadSize = PayloadDataSize

	// PacketSize is the total wire size of a Packet.
	PacketSize = KxPublicSize + HeaderSize + PayloadSize

	// firstHopSize is the width of the serialized FirstHop field in a
	// wire-format Surb: the mixnode index the completed reply packet
	// must be addressed to, as seen from the SURB creator's own session
	// topology. The creator must ship this alongside the route itself,
	// since the party completing the reply has no other way to learn
	// which of the creator's mixnodes to hand the finished packet to.
	firstHopSize = 2

	// SurbSize is the total wire size of a Surb as embedded in a
	// fragment's SURB region: ephemeral key-exchange public, onion
	// header, and first-hop mixnode index.
	SurbSize = KxPublicSize + HeaderSize + firstHopSize
)

// KxPublic is an X25519 public key.
type KxPublic [KxPublicSize]byte

// PeerID is an opaque transport-level identifier for a mixnode.
type PeerID [PeerIDSize]byte

// SurbID identifies a single-use reply block.
type SurbID [SurbIDSize]byte

// CoverID identifies a cover packet, for diagnostics only; it carries no
// cryptographic meaning.
type CoverID [CoverIDSize]byte

// MixnodeIndex is the position of a mixnode within a session's topology.
type MixnodeIndex uint16

// Delay is an abstract forwarding delay, expressed as a multiple of the
// network's configured mean forwarding delay. Representing it this way
// lets a packet encode "how long relative to the mean" without embedding
// an absolute duration that would leak timing assumptions across hops.
type Delay struct {
	factor float64
}

// ZeroDelay is the identity element for Delay addition.
func ZeroDelay() Delay { return Delay{} }

// NewDelay builds a Delay from a raw multiple of the mean forwarding delay.
// Negative factors are clamped to zero.
func NewDelay(factor float64) Delay {
	if factor < 0 {
		factor = 0
	}
	return Delay{factor: factor}
}

// Add returns the sum of two delays.
func (d Delay) Add(o Delay) Delay { return Delay{factor: d.factor + o.factor} }

// Max returns the larger of two delays.
func (d Delay) Max(o Delay) Delay {
	if o.factor > d.factor {
		return o
	}
	return d
}

// ToDuration resolves the delay against a concrete mean forwarding delay.
func (d Delay) ToDuration(mean time.Duration) time.Duration {
	return time.Duration(float64(mean) * d.factor)
}

// ActionKind distinguishes the possible outcomes of peeling a packet.
type ActionKind int

const (
	// ActionForward means the packet should be re-addressed to another
	// mixnode and re-queued after Delay.
	ActionForward ActionKind = iota
	// ActionDeliverRequest means this node is the final hop for a request
	// fragment; the remaining payload bytes are plaintext fragment data.
	ActionDeliverRequest
	// ActionDeliverReply means this node is the original requester and the
	// payload should be looked up against the SURB keystore by SurbID.
	ActionDeliverReply
	// ActionDeliverCover means the packet is cover traffic and should be
	// silently discarded after peeling.
	ActionDeliverCover
)

// Action is the routing instruction recovered for the local hop by Peel.
type Action struct {
	Kind ActionKind

	// Target and Delay are populated when Kind == ActionForward.
	Target MixnodeIndex
	Delay  Delay

	// SurbID is populated when Kind == ActionDeliverReply.
	SurbID SurbID

	// CoverID is populated when Kind == ActionDeliverCover.
	CoverID CoverID
}
