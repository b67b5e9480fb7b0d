package mixnet

import (
	"log/slog"

	"github.com/dantte-lp/gomixnet/internal/fragment"
	"github.com/dantte-lp/gomixnet/internal/sphinx"
)

// assembled is a fully-reassembled message: every fragment for its id has
// arrived.
type assembled struct {
	id    fragment.ID
	data  []byte
	surbs []sphinx.Surb
}

// partialMessage tracks the fragments received so far for one message id.
type partialMessage struct {
	count     uint16
	pieces    map[uint16][]byte
	surbs     map[uint16][]sphinx.Surb
	numPieces int
}

// fragmentAssembler reassembles request/reply fragments into complete
// messages, bounded three ways: a cap on concurrent incomplete messages,
// a cap on fragments held across all of them, and a per-message
// fragment-count cap. One assembler serves every session,
// since request and reply traffic for every session share the same
// message-id space.
type fragmentAssembler struct {
	maxMessages    int
	maxFragments   int
	maxPerMessage  int
	totalFragments int
	messages       map[fragment.ID]*partialMessage
	// touchOrder lists message ids from least- to most-recently-touched,
	// so overflow evicts the least-recently-touched message first.
	touchOrder []fragment.ID

	logger *slog.Logger
}

func newFragmentAssembler(maxMessages, maxFragments, maxPerMessage int, logger *slog.Logger) *fragmentAssembler {
	return &fragmentAssembler{
		maxMessages:   maxMessages,
		maxFragments:  maxFragments,
		maxPerMessage: maxPerMessage,
		messages:      make(map[fragment.ID]*partialMessage),
		logger:        logger,
	}
}

func (a *fragmentAssembler) incompleteMessages() int { return len(a.messages) }

// insert feeds one decrypted fragment payload into the assembler,
// returning the completed message if this was the last fragment needed
// for its id.
func (a *fragmentAssembler) insert(payload []byte) (assembled, bool) {
	parsed, err := fragment.Parse(payload)
	if err != nil {
		a.logger.Warn("dropping malformed fragment", slog.String("error", err.Error()))
		return assembled{}, false
	}
	if parsed.Count == 0 || parsed.Index >= parsed.Count || int(parsed.Count) > a.maxPerMessage {
		a.logger.Warn("dropping fragment with invalid index/count",
			slog.Int("index", int(parsed.Index)), slog.Int("count", int(parsed.Count)))
		return assembled{}, false
	}

	msg, ok := a.messages[parsed.ID]
	if !ok {
		for len(a.messages) >= a.maxMessages {
			a.evictOldest()
		}
		msg = &partialMessage{
			count:  parsed.Count,
			pieces: make(map[uint16][]byte),
			surbs:  make(map[uint16][]sphinx.Surb),
		}
		a.messages[parsed.ID] = msg
		a.touchOrder = append(a.touchOrder, parsed.ID)
	}
	a.touch(parsed.ID)

	if _, dup := msg.pieces[parsed.Index]; dup {
		a.logger.Debug("dropping duplicate fragment", slog.Int("index", int(parsed.Index)))
		return assembled{}, false
	}

	msg.pieces[parsed.Index] = parsed.Data
	msg.surbs[parsed.Index] = parsed.Surbs
	msg.numPieces++
	a.totalFragments++

	for a.totalFragments > a.maxFragments && len(a.messages) > 0 {
		if a.evictOldestExcept(parsed.ID) == 0 {
			break
		}
	}

	if msg.numPieces < int(msg.count) {
		return assembled{}, false
	}

	out := assembled{id: parsed.ID}
	for i := uint16(0); i < msg.count; i++ {
		out.data = append(out.data, msg.pieces[i]...)
		out.surbs = append(out.surbs, msg.surbs[i]...)
	}
	a.remove(parsed.ID)
	return out, true
}

func (a *fragmentAssembler) touch(id fragment.ID) {
	for i, existing := range a.touchOrder {
		if existing == id {
			a.touchOrder = append(a.touchOrder[:i], a.touchOrder[i+1:]...)
			break
		}
	}
	a.touchOrder = append(a.touchOrder, id)
}

func (a *fragmentAssembler) remove(id fragment.ID) {
	msg, ok := a.messages[id]
	if !ok {
		return
	}
	a.totalFragments -= msg.numPieces
	delete(a.messages, id)
	for i, existing := range a.touchOrder {
		if existing == id {
			a.touchOrder = append(a.touchOrder[:i], a.touchOrder[i+1:]...)
			break
		}
	}
}

func (a *fragmentAssembler) evictOldest() {
	if len(a.touchOrder) == 0 {
		return
	}
	oldest := a.touchOrder[0]
	a.logger.Warn("evicting incomplete message", slog.Int("fragments", a.messages[oldest].numPieces))
	a.remove(oldest)
}

// evictOldestExcept evicts the least-recently-touched message other than
// keep, returning the number of fragments freed (0 if there was nothing
// else to evict).
func (a *fragmentAssembler) evictOldestExcept(keep fragment.ID) int {
	for _, id := range a.touchOrder {
		if id == keep {
			continue
		}
		freed := a.messages[id].numPieces
		a.remove(id)
		return freed
	}
	return 0
}
