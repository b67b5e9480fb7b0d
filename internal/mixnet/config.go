package mixnet

import "time"

// SessionRoleConfig holds the per-role tunables that differ between acting
// as a mixnode for a session and merely using the mixnet as a light client.
type SessionRoleConfig struct {
	// AuthoredPacketQueueCapacity bounds the per-session queue of
	// locally-authored request/reply packets awaiting transmission.
	AuthoredPacketQueueCapacity int
	// MeanAuthoredPacketPeriod is the mean interval between
	// locally-authored packets (including cover traffic) for this role,
	// sampled as a Poisson process.
	MeanAuthoredPacketPeriod time.Duration
}

// Config holds every tunable the engine needs. It has no defaults of its
// own; DefaultConfig in internal/config supplies those.
type Config struct {
	// GenCoverPackets globally enables or disables cover traffic
	// generation. When false, PopNextAuthoredPacket never fabricates
	// cover packets (it may still return genuine queued traffic).
	GenCoverPackets bool
	// LoopCoverProportion is the probability, in [0, 1], that a generated
	// cover packet is a loop (returns to the local node) rather than a
	// drop (terminates at a random mixnode).
	LoopCoverProportion float64

	// NumHops is the number of mixnode hops in every generated route.
	NumHops int
	// NumGatewayMixnodes is the number of mixnodes, out of a session's
	// full roster, that accept connections from non-mixnode clients.
	NumGatewayMixnodes int
	// MinMixnodes is the minimum roster size for a session to be usable;
	// sessions are disabled rather than serving traffic with too few
	// mixnodes to provide meaningful cover.
	MinMixnodes int

	// MeanForwardingDelay resolves an abstract per-hop Delay into a
	// concrete duration.
	MeanForwardingDelay time.Duration

	// MaxFragmentsPerMessage bounds how many fragments a single
	// request/reply message may be split into.
	MaxFragmentsPerMessage int
	// MaxIncompleteMessages bounds how many partially-reassembled
	// messages the fragment assembler holds at once.
	MaxIncompleteMessages int
	// MaxIncompleteFragments bounds the total number of fragments held
	// across all partially-reassembled messages.
	MaxIncompleteFragments int

	// ForwardPacketQueueCapacity bounds the queue of packets awaiting
	// forwarding after their per-hop delay elapses.
	ForwardPacketQueueCapacity int
	// SurbKeystoreCapacity bounds the number of outstanding SURBs whose
	// reply-decryption keys the engine remembers at once.
	SurbKeystoreCapacity int

	// LogTarget is attached to every log record the engine emits, for
	// callers that multiplex several engines through one logger.
	LogTarget string

	// MixnodeSession holds queue/rate tunables used when the local node
	// is a mixnode for the session.
	MixnodeSession SessionRoleConfig
	// NonMixnodeSession holds queue/rate tunables used when the local
	// node is not a mixnode for the session. A nil value means the
	// engine should disable sessions where it is not a mixnode.
	NonMixnodeSession *SessionRoleConfig
}
