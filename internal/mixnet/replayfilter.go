package mixnet

import (
	"hash/maphash"
	"math/rand"

	"github.com/dantte-lp/gomixnet/internal/sphinx"
)

// replayFilter is a probabilistic, insert-only set of key-exchange public
// keys seen during a session, used to drop replayed packets. It is seeded
// per session so an adversary who learns one session's false-positive
// behaviour gains nothing against the next.
//
// False positives (treating a fresh packet as replayed) are acceptable and
// expected at a low rate; false negatives (failing to recognise a genuine
// replay) are not, so the filter never forgets an entry once inserted.
type replayFilter struct {
	bits  []uint64
	key   [16]byte
	seeds [replayFilterHashes]maphash.Seed
}

const (
	replayFilterBits   = 1 << 20 // 1 Mi bits = 128 KiB per session
	replayFilterHashes = 4
)

// newReplayFilter builds an empty filter. Every hash input is prefixed
// with a fresh key drawn from rng for each session, so two sessions never share
// a false-positive surface and inputs that collide in one session's
// filter cannot be precomputed for the next.
func newReplayFilter(rng *rand.Rand) *replayFilter {
	f := &replayFilter{bits: make([]uint64, replayFilterBits/64)}
	_, _ = rng.Read(f.key[:])
	for i := range f.seeds {
		f.seeds[i] = maphash.MakeSeed()
	}
	return f
}

func (f *replayFilter) indices(key sphinx.KxPublic) [replayFilterHashes]uint32 {
	var out [replayFilterHashes]uint32
	for i, seed := range f.seeds {
		var h maphash.Hash
		h.SetSeed(seed)
		_, _ = h.Write(f.key[:])
		_, _ = h.Write(key[:])
		out[i] = uint32(h.Sum64() % replayFilterBits)
	}
	return out
}

func (f *replayFilter) setBit(idx uint32) {
	f.bits[idx/64] |= 1 << (idx % 64)
}

func (f *replayFilter) testBit(idx uint32) bool {
	return f.bits[idx/64]&(1<<(idx%64)) != 0
}

// Contains reports whether key has (probably) been inserted before.
func (f *replayFilter) Contains(key sphinx.KxPublic) bool {
	for _, idx := range f.indices(key) {
		if !f.testBit(idx) {
			return false
		}
	}
	return true
}

// Insert records key as seen. It is idempotent.
func (f *replayFilter) Insert(key sphinx.KxPublic) {
	for _, idx := range f.indices(key) {
		f.setBit(idx)
	}
}
