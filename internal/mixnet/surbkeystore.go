package mixnet

import (
	"io"

	"github.com/dantte-lp/gomixnet/internal/sphinx"
)

// surbEntry holds everything the keystore remembers about one
// outstanding SURB: the ephemeral key pair the SURB's route was built
// with (needed only until the SURB is built), and the payload decryption
// keys recovered once it has.
type surbEntry struct {
	ephPublic  sphinx.KxPublic
	ephPrivate [32]byte
	keys       sphinx.ReplyKeys
	ready      bool
}

// surbKeystore is a bounded map from SURB-id to the single-use keys
// needed to decrypt a reply sent using it. Capacity is enforced by
// evicting the least-recently-inserted entry; an entry is consumed
// (removed) on first successful lookup.
//
// Reservation is split into two steps (reserve, then finalize or remove)
// rather than a single insert so that a request whose later fragment
// fails to build can roll back the SURB ids it already reserved, instead
// of leaking keystore capacity to a request that returned an error.
type surbKeystore struct {
	capacity int
	order    []sphinx.SurbID // insertion order, oldest first
	entries  map[sphinx.SurbID]*surbEntry
}

func newSurbKeystore(capacity int) *surbKeystore {
	return &surbKeystore{
		capacity: capacity,
		entries:  make(map[sphinx.SurbID]*surbEntry, capacity),
	}
}

func (s *surbKeystore) len() int { return len(s.entries) }

// reserve generates a fresh SURB id and ephemeral key-exchange key pair,
// evicting the oldest entry if the keystore is at capacity.
func (s *surbKeystore) reserve(rng io.Reader) (sphinx.SurbID, sphinx.KxPublic, [32]byte, error) {
	if s.capacity > 0 {
		for len(s.order) >= s.capacity {
			s.evictOldest()
		}
	}

	ephPublic, ephPrivate, err := sphinx.GenerateKxKeypair(rng)
	if err != nil {
		return sphinx.SurbID{}, sphinx.KxPublic{}, [32]byte{}, err
	}
	var id sphinx.SurbID
	if _, err := io.ReadFull(rng, id[:]); err != nil {
		return sphinx.SurbID{}, sphinx.KxPublic{}, [32]byte{}, err
	}
	// Extremely unlikely collision with a live entry; regenerate until clear.
	for {
		if _, dup := s.entries[id]; !dup {
			break
		}
		if _, err := io.ReadFull(rng, id[:]); err != nil {
			return sphinx.SurbID{}, sphinx.KxPublic{}, [32]byte{}, err
		}
	}

	s.entries[id] = &surbEntry{ephPublic: ephPublic, ephPrivate: ephPrivate}
	s.order = append(s.order, id)
	return id, ephPublic, ephPrivate, nil
}

// finalize records the payload decryption keys recovered once a reserved
// SURB's route has actually been built.
func (s *surbKeystore) finalize(id sphinx.SurbID, keys sphinx.ReplyKeys) {
	if e, ok := s.entries[id]; ok {
		e.keys = keys
		e.ready = true
	}
}

// remove discards a reserved or finalized entry without consuming it as a
// reply, used to roll back a SURB whose request fragment failed to build.
func (s *surbKeystore) remove(id sphinx.SurbID) {
	if _, ok := s.entries[id]; !ok {
		return
	}
	delete(s.entries, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *surbKeystore) evictOldest() {
	if len(s.order) == 0 {
		return
	}
	oldest := s.order[0]
	s.order = s.order[1:]
	delete(s.entries, oldest)
}

// consume looks up and unconditionally removes the entry for id, so that
// it can never be used again regardless of whether the caller goes on to
// successfully decrypt with it. It reports ok=false for an id that was
// never reserved, already consumed, or evicted, or one whose SURB never
// finished building.
func (s *surbKeystore) consume(id sphinx.SurbID) (sphinx.ReplyKeys, bool) {
	e, ok := s.entries[id]
	s.remove(id)
	if !ok || !e.ready {
		return sphinx.ReplyKeys{}, false
	}
	return e.keys, true
}
