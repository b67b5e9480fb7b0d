package mixnet

import (
	cryptorand "crypto/rand"
	"log/slog"
	mathrand "math/rand"
	"time"

	"github.com/dantte-lp/gomixnet/internal/fragment"
	"github.com/dantte-lp/gomixnet/internal/sphinx"
	"github.com/dantte-lp/gomixnet/internal/topology"
)

// Engine is the mixnet core: a single-threaded, synchronous coordinator
// binding together session lifecycle, per-packet onion peeling, replay
// suppression, SURB accounting, fragment reassembly and Poisson-scheduled
// cover traffic. Every method is driven by an external caller; the Engine
// starts no goroutines and takes no locks, so the caller must serialize
// all access to one Engine through a single owner.
type Engine struct {
	config Config

	sessionStatus SessionStatus
	kx            *kxStore
	sessions      sessions

	forwardQueue      *forwardQueue
	surbKeystore      *surbKeystore
	fragmentAssembler *fragmentAssembler

	invalidated Invalidated

	// rng backs every internal choice that need not be cryptographically
	// unpredictable to the party making it (route/gateway selection,
	// cover-kind and session-split coin flips, Poisson sampling). It is
	// seeded once from the system CSPRNG at construction. Key material
	// and packet padding always go through crypto/rand directly instead;
	// see internal/sphinx and rng.go.
	rng *mathrand.Rand

	logger *slog.Logger
}

// New constructs an Engine with empty sessions and empty queues. kxStore
// is shared (read-only, from the Engine's perspective) with whatever
// external code announces this node's per-session key-exchange publics.
func New(config Config, kxPublicStore KxPublicStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "mixnet.engine"))
	if config.LogTarget != "" {
		logger = logger.With(slog.String("log_target", config.LogTarget))
	}

	return &Engine{
		config: config,

		sessionStatus: SessionStatus{CurrentIndex: 0, Phase: PhaseConnectToCurrent},
		kx:            newKxStore(kxPublicStore),

		forwardQueue:      newForwardQueue(config.ForwardPacketQueueCapacity),
		surbKeystore:      newSurbKeystore(config.SurbKeystoreCapacity),
		fragmentAssembler: newFragmentAssembler(config.MaxIncompleteMessages, config.MaxIncompleteFragments, config.MaxFragmentsPerMessage, logger),

		rng:    newCryptoSeededRand(),
		logger: logger,
	}
}

// SetSessionStatus updates the current session index and phase. Advancing
// the index by exactly one rotates sessions (the old current becomes
// previous, a new empty current slot is opened); any other change resets
// both slots, since the engine cannot assume continuity across an
// unexpected jump.
func (e *Engine) SetSessionStatus(status SessionStatus) {
	if e.sessionStatus.CurrentIndex != status.CurrentIndex {
		if status.CurrentIndex-e.sessionStatus.CurrentIndex == 1 {
			e.sessions.advanceByOne()
		} else {
			if e.sessions.current.state == slotFull {
				e.logger.Warn("unexpected session index jump",
					slog.Uint64("new_index", uint64(status.CurrentIndex)),
					slog.Uint64("prev_index", uint64(e.sessionStatus.CurrentIndex)))
			}
			e.sessions.reset()
		}
	}

	if !status.Phase.NeedPrev() {
		e.sessions.prev = sessionSlot{state: slotDisabled}
	}
	// Session 0 has no predecessor, so the oldest needed secret is its own
	// even in phases that retain the previous session.
	minNeeded := status.CurrentIndex
	if status.Phase.NeedPrev() && status.CurrentIndex > 0 {
		minNeeded = status.CurrentIndex - 1
	}
	e.kx.discardSessionsBefore(minNeeded)

	e.invalidated |= InvalidatedReservedPeers | InvalidatedNextAuthoredPacketDeadline

	e.sessionStatus = status
}

// MaybeSetMixnodes populates rel's slot from produce, but only if that
// slot is currently Empty: a Disabled or already-Full slot is left alone.
// produce is only invoked when needed, so callers can defer an expensive
// topology lookup until the engine actually wants it.
func (e *Engine) MaybeSetMixnodes(rel RelSessionIndex, produce func() ([]topology.Mixnode, error)) error {
	slot := e.sessions.slot(rel)
	if !slot.isEmpty() {
		return nil
	}

	sessionIndex := rel.Add(e.sessionStatus.CurrentIndex)

	mixnodes, err := produce()
	if err != nil {
		return err
	}

	if len(mixnodes) < e.config.MinMixnodes {
		e.logger.Error("insufficient mixnodes registered for session; mixnet unavailable this session",
			slog.Uint64("session_index", uint64(sessionIndex)),
			slog.Int("have", len(mixnodes)),
			slog.Int("need", e.config.MinMixnodes))
		*slot = sessionSlot{state: slotDisabled}
		return nil
	}

	maxMixnodes := int(sphinx.MaxMixnodeIndex) + 1
	if len(mixnodes) > maxMixnodes {
		e.logger.Warn("too many mixnodes registered; ignoring excess",
			slog.Int("have", len(mixnodes)), slog.Int("max", maxMixnodes))
		mixnodes = mixnodes[:maxMixnodes]
	}

	localKxPublic, ok := e.kx.public().PublicForSession(sessionIndex)
	if !ok {
		e.logger.Error("key-exchange keys already discarded for session; mixnet unavailable",
			slog.Uint64("session_index", uint64(sessionIndex)))
		*slot = sessionSlot{state: slotDisabled}
		return nil
	}

	topo := topology.New(e.rng, mixnodes, localKxPublic, e.config.NumGatewayMixnodes)

	var roleConfig SessionRoleConfig
	switch {
	case topo.IsMixnode():
		roleConfig = e.config.MixnodeSession
	case e.config.NonMixnodeSession != nil:
		roleConfig = *e.config.NonMixnodeSession
	default:
		*slot = sessionSlot{state: slotDisabled}
		return nil
	}

	*slot = sessionSlot{
		state: slotFull,
		session: &Session{
			Topology:                 topo,
			authoredPacketQueue:      newAuthoredQueue(roleConfig.AuthoredPacketQueueCapacity),
			meanAuthoredPacketPeriod: roleConfig.MeanAuthoredPacketPeriod,
			replayFilter:             newReplayFilter(e.rng),
		},
	}

	e.invalidated |= InvalidatedReservedPeers | InvalidatedNextAuthoredPacketDeadline
	return nil
}

// ReservedPeerAddresses returns the union of reserved addresses across
// every currently Full session.
func (e *Engine) ReservedPeerAddresses() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, entry := range e.sessions.full() {
		for _, addr := range entry.session.Topology.ReservedPeerAddresses() {
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

// HandlePacket peels one layer off packet, trying the current session's
// key first and falling back to the previous session's, and dispatches
// the recovered action: queueing a forward, feeding a delivered
// request/reply fragment to the assembler, or dropping cover traffic. It
// returns the fully-reassembled message, if peeling completed one.
func (e *Engine) HandlePacket(packet *sphinx.Packet) (Message, bool) {
	// Promote any session secret that finished generating just in time
	// for a packet encrypted to it to already be arriving.
	e.kx.addPendingSessionSecrets(e.sessionStatus.CurrentIndex)

	kxPub := sphinx.KxPublicOf(packet)

	for _, entry := range e.sessions.full() {
		session := entry.session

		if session.replayFilter.Contains(kxPub) {
			e.logger.Debug("dropping packet with replayed key-exchange public")
			return nil, false
		}

		sessionIndex := entry.rel.Add(e.sessionStatus.CurrentIndex)
		shared, ok := e.kx.sessionExchange(sessionIndex, kxPub)
		if !ok {
			continue
		}

		var out sphinx.Packet
		action, err := sphinx.Peel(&out, packet, shared)
		if err != nil {
			if sphinx.IsMacError(err) {
				// Likely the wrong session's secret; try the other one.
				continue
			}
			e.logger.Warn("dropping malformed packet", slog.String("error", err.Error()))
			return nil, false
		}

		return e.dispatch(action, sessionIndex, session, &out, kxPub)
	}

	e.logger.Warn("failed to peel packet against any session: bad mac or unknown key")
	return nil, false
}

func (e *Engine) dispatch(action sphinx.Action, sessionIndex SessionIndex, session *Session, out *sphinx.Packet, kxPub sphinx.KxPublic) (Message, bool) {
	switch action.Kind {
	case sphinx.ActionForward:
		if !session.Topology.IsMixnode() {
			e.logger.Error("received forward packet while not a mixnode for this session; discarding")
			return nil, false
		}
		if e.forwardQueue.remainingCapacity() <= 0 {
			e.logger.Warn("dropping forward packet: forward queue full")
			return nil, false
		}
		// Only after both checks succeed: inserting earlier would grow
		// replay state for sessions where we never actually forward.
		session.replayFilter.Insert(kxPub)

		peerID, err := session.Topology.TargetToPeerID(action.Target)
		if err != nil {
			e.logger.Error("failed to resolve forward target to peer id", slog.String("error", err.Error()))
			return nil, false
		}
		deadline := time.Now().Add(action.Delay.ToDuration(e.config.MeanForwardingDelay))
		_, headChanged := e.forwardQueue.insert(deadline, AddressedPacket{PeerID: peerID, Packet: *out})
		if headChanged {
			e.invalidated |= InvalidatedNextForwardPacketDeadline
		}
		return nil, false

	case sphinx.ActionDeliverRequest:
		if !session.Topology.IsMixnode() {
			e.logger.Error("received request packet while not a mixnode for this session; discarding")
			return nil, false
		}
		session.replayFilter.Insert(kxPub)

		payload := sphinx.PayloadData(out)
		msg, ok := e.fragmentAssembler.insert(payload[:])
		if !ok {
			return nil, false
		}
		return RequestMessage{SessionIndex: sessionIndex, Data: msg.data, Surbs: msg.surbs}, true

	case sphinx.ActionDeliverReply:
		// No replay filter insert: the SURB keystore's one-time lookup
		// is itself the replay defense, and skipping this keeps the
		// filter from growing in sessions where we are not a mixnode.
		keys, ok := e.surbKeystore.consume(action.SurbID)
		if !ok {
			e.logger.Warn("received reply with unrecognized surb id")
			return nil, false
		}
		payload := sphinx.PayloadData(out)
		if err := sphinx.DecryptReplyPayload(payload[:], keys); err != nil {
			e.logger.Warn("failed to decrypt reply payload", slog.String("error", err.Error()))
			return nil, false
		}
		msg, ok := e.fragmentAssembler.insert(payload[:])
		if !ok {
			return nil, false
		}
		if len(msg.surbs) > 0 {
			e.logger.Warn("reply message unexpectedly included surbs; discarding them")
		}
		return ReplyMessage{ID: msg.id, Data: msg.data}, true

	case sphinx.ActionDeliverCover:
		return nil, false

	default:
		e.logger.Error("peeled packet with unrecognized action kind")
		return nil, false
	}
}

// NextForwardPacketDeadline peeks the deadline of the forward queue's
// head, if any.
func (e *Engine) NextForwardPacketDeadline() (time.Time, bool) {
	return e.forwardQueue.nextDeadline()
}

// PopNextForwardPacket removes and returns the forward queue's head.
func (e *Engine) PopNextForwardPacket() (AddressedPacket, bool) {
	e.invalidated |= InvalidatedNextForwardPacketDeadline
	return e.forwardQueue.pop()
}

// NextAuthoredPacketDelay samples the delay until the engine should next
// be asked for an authored packet, as a Poisson process over every
// session whose phase currently wants cover traffic: the minimum of their
// mean periods, scaled by an Exp(1) draw. Splitting which session (and
// whether the result is cover or a queued packet) happens in
// PopNextAuthoredPacket, which is equivalent by the memoryless property
// of the exponential distribution.
func (e *Engine) NextAuthoredPacketDelay() (time.Duration, bool) {
	var minPeriod time.Duration
	found := false
	for _, entry := range e.sessions.full() {
		if !e.sessionStatus.Phase.GenCoverPackets(entry.rel) {
			continue
		}
		if !found || entry.session.meanAuthoredPacketPeriod < minPeriod {
			minPeriod = entry.session.meanAuthoredPacketPeriod
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return time.Duration(float64(minPeriod) * sampleExpFactor(e.rng)), true
}

// PopNextAuthoredPacket either generates cover traffic or pops the head of
// one session's authored queue. With two eligible sessions it selects one
// with probability proportional to its emission rate (Poisson splitting),
// then draws loop cover, a queued packet, or drop cover. It returns false
// if no session currently wants cover, or if the draw calls for a cover
// packet and cover traffic is disabled or route generation failed; queued
// packets are still returned while cover traffic is disabled.
func (e *Engine) PopNextAuthoredPacket(ns topology.NetworkStatus) (AddressedPacket, bool) {
	type candidate struct {
		rel     RelSessionIndex
		session *Session
	}
	var candidates []candidate
	for _, entry := range e.sessions.full() {
		if e.sessionStatus.Phase.GenCoverPackets(entry.rel) {
			candidates = append(candidates, candidate{entry.rel, entry.session})
		}
	}
	if len(candidates) == 0 {
		return AddressedPacket{}, false
	}

	chosen := candidates[0]
	if len(candidates) == 2 {
		p0 := candidates[0].session.meanAuthoredPacketPeriod.Seconds()
		p1 := candidates[1].session.meanAuthoredPacketPeriod.Seconds()
		// Rate is 1/period; (1/a)/((1/a)+(1/b)) = b/(a+b).
		if e.rng.Float64() < p1/(p0+p1) {
			chosen = candidates[0]
		} else {
			chosen = candidates[1]
		}
	}

	e.invalidated |= InvalidatedNextAuthoredPacketDeadline

	if e.rng.Float64() < e.config.LoopCoverProportion {
		return genCoverPacket(e.rng, chosen.session.Topology, ns, coverLoop, e.config, e.logger)
	}

	if e.sessionStatus.Phase.AllowRequestsAndReplies(chosen.rel) {
		if pkt, ok := chosen.session.authoredPacketQueue.pop(); ok {
			return pkt, true
		}
	}
	return genCoverPacket(e.rng, chosen.session.Topology, ns, coverDrop, e.config, e.logger)
}

// PostRequest fragments data (plus numSurbs reply blocks) and enqueues one
// Sphinx packet per fragment onto the resolved session's authored queue,
// each along an independently-chosen route to the same destination.
//
// If destination is nil, a destination mixnode is chosen at random on the
// session selected by the current phase's default; otherwise
// destination's session and mixnode index are both honored exactly. In
// either case the actual destination used is returned, along with a lower
// bound on how long a reply should take to arrive.
func (e *Engine) PostRequest(destination *MixnodeID, data []byte, numSurbs int, ns topology.NetworkStatus) (MixnodeID, time.Duration, error) {
	var messageID fragment.ID
	if _, err := cryptorand.Read(messageID[:]); err != nil {
		return MixnodeID{}, 0, err
	}

	blueprints := fragment.Blueprints(messageID, data, numSurbs)
	if len(blueprints) == 0 || len(blueprints) > e.config.MaxFragmentsPerMessage {
		return MixnodeID{}, 0, ErrTooManyFragments
	}

	var sessionIndex SessionIndex
	if destination != nil {
		sessionIndex = destination.SessionIndex
	} else {
		rel := e.sessionStatus.Phase.DefaultRequestSession()
		// Session 0 has no predecessor; requests default to it directly.
		if rel == RelPrev && e.sessionStatus.CurrentIndex == 0 {
			rel = RelCurrent
		}
		sessionIndex = rel.Add(e.sessionStatus.CurrentIndex)
	}
	session, err := postSession(&e.sessions, e.sessionStatus, sessionIndex)
	if err != nil {
		return MixnodeID{}, 0, err
	}

	if len(blueprints) > session.authoredPacketQueue.remainingCapacity() {
		return MixnodeID{}, 0, ErrNotEnoughSpaceInQueue
	}

	var explicitMixnode *sphinx.MixnodeIndex
	if destination != nil {
		idx := destination.MixnodeIndex
		explicitMixnode = &idx
	}
	builder, err := newRequestBuilder(e.rng, session.Topology, ns, explicitMixnode, e.config.NumHops)
	if err != nil {
		return MixnodeID{}, 0, err
	}

	var reservedSurbs []sphinx.SurbID
	rollback := func() {
		for _, id := range reservedSurbs {
			e.surbKeystore.remove(id)
		}
	}

	maxRequestDelay := sphinx.ZeroDelay()
	maxReplyDelay := sphinx.ZeroDelay()
	built := make([]AddressedPacket, 0, len(blueprints))

	for _, bp := range blueprints {
		var fragmentDelay sphinx.Delay
		pkt, delay, err := builder.buildPacket(e.rng, func(payload *[sphinx.PayloadDataSize]byte) error {
			bp.WriteExceptSurbs(payload[:])
			for i := 0; i < bp.NumSurbs; i++ {
				id, ephPub, ephPriv, err := e.surbKeystore.reserve(cryptorand.Reader)
				if err != nil {
					return err
				}
				reservedSurbs = append(reservedSurbs, id)

				surb, keys, surbDelay, err := builder.buildSurb(e.rng, ephPub, ephPriv, id)
				if err != nil {
					return err
				}
				e.surbKeystore.finalize(id, keys)
				fragmentDelay = fragmentDelay.Max(surbDelay)

				wire := surb.Marshal()
				copy(bp.SurbSlot(payload[:], i), wire[:])
			}
			return nil
		})
		if err != nil {
			rollback()
			return MixnodeID{}, 0, err
		}
		maxRequestDelay = maxRequestDelay.Max(delay)
		maxReplyDelay = maxReplyDelay.Max(fragmentDelay)
		built = append(built, pkt)
	}

	for _, pkt := range built {
		session.authoredPacketQueue.push(pkt)
	}

	e.invalidated |= InvalidatedNextAuthoredPacketDeadline

	chosen := MixnodeID{SessionIndex: sessionIndex, MixnodeIndex: builder.destinationIndex()}
	totalDelay := maxRequestDelay.Add(maxReplyDelay)
	return chosen, totalDelay.ToDuration(e.config.MeanForwardingDelay), nil
}

// PostReply fragments data (using zero fresh SURBs of its own) and
// completes one reply packet per fragment using the next entry popped
// from surbs, which the caller must supply from the SURBs it received
// alongside the original request. Consumed SURBs are removed from surbs.
func (e *Engine) PostReply(surbs *[]sphinx.Surb, sessionIndex SessionIndex, messageID fragment.ID, data []byte) error {
	maxBlueprints := e.config.MaxFragmentsPerMessage
	if len(*surbs) < maxBlueprints {
		maxBlueprints = len(*surbs)
	}

	blueprints := fragment.Blueprints(messageID, data, 0)
	if len(blueprints) == 0 || len(blueprints) > maxBlueprints {
		return ErrTooManyFragments
	}

	session, err := postSession(&e.sessions, e.sessionStatus, sessionIndex)
	if err != nil {
		return err
	}
	if len(blueprints) > session.authoredPacketQueue.remainingCapacity() {
		return ErrNotEnoughSpaceInQueue
	}

	s := *surbs
	built := make([]AddressedPacket, 0, len(blueprints))
	for _, bp := range blueprints {
		var payload [sphinx.PayloadDataSize]byte
		bp.WriteExceptSurbs(payload[:])

		surb := s[len(s)-1]
		s = s[:len(s)-1]

		var pkt sphinx.Packet
		firstHop := sphinx.CompleteReplyPacket(&pkt, &surb, payload)
		peerID, err := session.Topology.MixnodeIndexToPeerID(firstHop)
		if err != nil {
			return &TopologyError{Err: err}
		}
		built = append(built, AddressedPacket{PeerID: peerID, Packet: pkt})
	}

	*surbs = s
	for _, pkt := range built {
		session.authoredPacketQueue.push(pkt)
	}
	e.invalidated |= InvalidatedNextAuthoredPacketDeadline
	return nil
}

// TakeInvalidated returns the set of previously-queried outputs that may
// now be stale, clearing it.
func (e *Engine) TakeInvalidated() Invalidated {
	return e.invalidated.take()
}

// QueueStats reports current backlog and occupancy across the engine's
// internal queues and stores, for operational monitoring (metrics export,
// mixnetctl status). It takes no snapshot lock: the caller is responsible
// for calling it from whichever goroutine already owns engine access.
type QueueStats struct {
	ForwardQueueLen         int
	ForwardQueueCap         int
	CurrentAuthoredQueueLen int
	PrevAuthoredQueueLen    int
	SurbKeystoreLen         int
	IncompleteMessages      int
}

// QueueStats gathers the stats described by QueueStats.
func (e *Engine) QueueStats() QueueStats {
	stats := QueueStats{
		ForwardQueueLen:    e.forwardQueue.len(),
		ForwardQueueCap:    e.forwardQueue.capacity,
		SurbKeystoreLen:    e.surbKeystore.len(),
		IncompleteMessages: e.fragmentAssembler.incompleteMessages(),
	}
	if e.sessions.current.state == slotFull {
		stats.CurrentAuthoredQueueLen = e.sessions.current.session.authoredPacketQueue.len()
	}
	if e.sessions.prev.state == slotFull {
		stats.PrevAuthoredQueueLen = e.sessions.prev.session.authoredPacketQueue.len()
	}
	return stats
}
