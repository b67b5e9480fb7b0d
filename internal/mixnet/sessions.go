package mixnet

import (
	"time"

	"github.com/dantte-lp/gomixnet/internal/sphinx"
	"github.com/dantte-lp/gomixnet/internal/topology"
)

// SessionIndex numbers sessions monotonically as the network rotates
// through them. It wraps on overflow, which is fine: only the difference
// between two nearby indices is ever meaningful.
type SessionIndex uint32

// RelSessionIndex identifies a session relative to the current one. The
// engine only ever needs to reason about the current session and the one
// immediately before it.
type RelSessionIndex int

const (
	RelCurrent RelSessionIndex = 0
	RelPrev    RelSessionIndex = 1
)

// Add resolves a RelSessionIndex against a base SessionIndex.
func (r RelSessionIndex) Add(base SessionIndex) SessionIndex {
	return base - SessionIndex(r)
}

// SessionPhase describes where in the rotation cycle the node is. Every
// phase answers four predicates, each indexed by which of the two live
// sessions (current or previous) the question is about:
//
//   - NeedPrev: should the previous session's state be retained at all.
//   - AllowRequestsAndReplies(rel): may PostRequest/PostReply target rel.
//   - GenCoverPackets(rel): should cover traffic be generated for rel.
//   - DefaultRequestSession: which session a PostRequest with no explicit
//     destination should target.
//
// The five phases are the stages of session handover: the previous
// session starts fully active while the current session connects, takes
// over cover traffic, then real traffic, while the previous session winds
// down to cover-only and finally disconnects.
type SessionPhase int

const (
	// PhaseConnectToCurrent: current session has just started; previous
	// session remains fully active for requests/replies and cover.
	PhaseConnectToCurrent SessionPhase = iota
	// PhaseCoverToCurrent: current session now also generates cover
	// traffic, building up its anonymity set before taking real traffic.
	PhaseCoverToCurrent
	// PhaseRequestsAndRepliesToCurrent: current session takes over real
	// traffic; previous session remains connected to drain in-flight
	// requests/replies.
	PhaseRequestsAndRepliesToCurrent
	// PhaseCoverToPrevAndRequestsToCurrent: previous session stops
	// accepting new real traffic but keeps generating cover.
	PhaseCoverToPrevAndRequestsToCurrent
	// PhaseDisconnectFromPrev: previous session is no longer needed.
	PhaseDisconnectFromPrev
)

// NeedPrev reports whether the previous session's topology, keys and
// replay filter should still be retained.
func (p SessionPhase) NeedPrev() bool { return p != PhaseDisconnectFromPrev }

// AllowRequestsAndReplies reports whether PostRequest/PostReply may target
// the session identified by rel.
func (p SessionPhase) AllowRequestsAndReplies(rel RelSessionIndex) bool {
	switch rel {
	case RelCurrent:
		return p == PhaseRequestsAndRepliesToCurrent ||
			p == PhaseCoverToPrevAndRequestsToCurrent ||
			p == PhaseDisconnectFromPrev
	case RelPrev:
		return p == PhaseConnectToCurrent || p == PhaseCoverToCurrent || p == PhaseRequestsAndRepliesToCurrent
	default:
		return false
	}
}

// GenCoverPackets reports whether cover traffic should be generated for the
// session identified by rel.
func (p SessionPhase) GenCoverPackets(rel RelSessionIndex) bool {
	switch rel {
	case RelCurrent:
		return p != PhaseConnectToCurrent
	case RelPrev:
		return p != PhaseDisconnectFromPrev
	default:
		return false
	}
}

// DefaultRequestSession returns which session a PostRequest with no
// explicit destination should target.
func (p SessionPhase) DefaultRequestSession() RelSessionIndex {
	if p == PhaseConnectToCurrent || p == PhaseCoverToCurrent {
		return RelPrev
	}
	return RelCurrent
}

// SessionStatus is the caller-driven notion of "where we are" that
// SetSessionStatus installs.
type SessionStatus struct {
	CurrentIndex SessionIndex
	Phase        SessionPhase
}

// Session holds the per-session state the engine needs once a session's
// mixnode roster is known.
type Session struct {
	Topology                 *topology.Topology
	authoredPacketQueue      *authoredQueue
	meanAuthoredPacketPeriod time.Duration
	replayFilter             *replayFilter
}

// sessionSlotState distinguishes the three states a session slot can be in:
// not yet populated, permanently disabled for this rotation, or populated.
type sessionSlotState int

const (
	slotEmpty sessionSlotState = iota
	slotDisabled
	slotFull
)

// sessionSlot holds at most one Session, tagged with its state.
type sessionSlot struct {
	state   sessionSlotState
	session *Session
}

func (s *sessionSlot) isEmpty() bool { return s.state == slotEmpty }

// sessions holds the current and previous session slots.
type sessions struct {
	current sessionSlot
	prev    sessionSlot
}

func (s *sessions) slot(rel RelSessionIndex) *sessionSlot {
	if rel == RelCurrent {
		return &s.current
	}
	return &s.prev
}

// advanceByOne shifts current into prev and clears current, used when the
// session index advances by exactly one.
func (s *sessions) advanceByOne() {
	s.prev = s.current
	s.current = sessionSlot{}
}

// reset clears both slots, used on an unexpected (non-sequential) session
// index change.
func (s *sessions) reset() {
	*s = sessions{}
}

// sessionEntry pairs a populated slot with the relative index it was found
// at, for iteration.
type sessionEntry struct {
	rel     RelSessionIndex
	session *Session
}

// full returns every populated session slot paired with its relative
// index, current first.
func (s *sessions) full() []sessionEntry {
	out := make([]sessionEntry, 0, 2)
	if s.current.state == slotFull {
		out = append(out, sessionEntry{RelCurrent, s.current.session})
	}
	if s.prev.state == slotFull {
		out = append(out, sessionEntry{RelPrev, s.prev.session})
	}
	return out
}

// MixnodeID identifies a specific mixnode within a specific session, the
// handle callers pass into and receive back from PostRequest.
type MixnodeID struct {
	SessionIndex SessionIndex
	MixnodeIndex sphinx.MixnodeIndex
}

// postSession resolves a SessionIndex to its Session, enforcing the same
// checks for both PostRequest and PostReply: the index must name the
// current or previous session, that session's phase must currently allow
// requests/replies, and the slot must be populated.
func postSession(s *sessions, status SessionStatus, index SessionIndex) (*Session, error) {
	var rel RelSessionIndex
	switch status.CurrentIndex - index {
	case 0:
		rel = RelCurrent
	case 1:
		rel = RelPrev
	default:
		return nil, &PostSessionError{Index: index, Err: ErrBadSessionIndex}
	}

	// Slot state is checked before the phase predicate, so a session that
	// cannot serve traffic at all reports Empty/Disabled rather than the
	// transient Blocked.
	slot := s.slot(rel)
	switch slot.state {
	case slotEmpty:
		return nil, &PostSessionError{Index: index, Err: ErrSessionEmpty}
	case slotDisabled:
		return nil, &PostSessionError{Index: index, Err: ErrSessionDisabled}
	}

	if !status.Phase.AllowRequestsAndReplies(rel) {
		return nil, &PostSessionError{Index: index, Err: ErrRequestsAndRepliesBlocked}
	}

	return slot.session, nil
}
