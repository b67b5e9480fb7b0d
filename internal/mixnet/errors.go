package mixnet

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by PostRequest and PostReply. Use errors.Is to
// test for a specific case; BadSessionIndex, RequestsAndRepliesBlocked,
// SessionEmpty and SessionDisabled additionally carry the offending
// SessionIndex, retrievable with errors.As against *PostSessionError.
// ErrBadSurb is not returned by any current code path, since
// sphinx.CompleteReplyPacket cannot fail.
var (
	ErrTooManyFragments          = errors.New("mixnet: message would need to be split into too many fragments")
	ErrBadSessionIndex           = errors.New("mixnet: bad session index")
	ErrRequestsAndRepliesBlocked = errors.New("mixnet: requests and replies currently blocked for this session")
	ErrSessionEmpty              = errors.New("mixnet: mixnodes not yet known for this session")
	ErrSessionDisabled           = errors.New("mixnet: mixnet disabled for this session")
	ErrNotEnoughSpaceInQueue     = errors.New("mixnet: not enough space in the authored packet queue")
	ErrBadSurb                   = errors.New("mixnet: bad surb")
)

// PostSessionError wraps one of the session-indexed sentinels above with
// the SessionIndex it applies to.
type PostSessionError struct {
	Index SessionIndex
	Err   error
}

func (e *PostSessionError) Error() string {
	return fmt.Sprintf("mixnet: session %d: %v", e.Index, e.Err)
}

func (e *PostSessionError) Unwrap() error { return e.Err }

// TopologyError wraps an error returned by the topology package so callers
// can distinguish routing failures from the engine's own sentinels.
type TopologyError struct {
	Err error
}

func (e *TopologyError) Error() string { return fmt.Sprintf("mixnet: topology: %v", e.Err) }
func (e *TopologyError) Unwrap() error { return e.Err }
