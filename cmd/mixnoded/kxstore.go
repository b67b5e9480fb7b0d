package main

import (
	"crypto/rand"
	"io"
	"sync"

	"golang.org/x/crypto/curve25519"

	"github.com/dantte-lp/gomixnet/internal/mixnet"
	"github.com/dantte-lp/gomixnet/internal/sphinx"
)

// ephemeralKxStore is a mixnet.KxPublicStore backed by freshly-generated
// X25519 keypairs, one per session index. It holds at most three pending or
// published keypairs at a time in steady state (the previous session's while
// the phase still needs it, the current one, and the one being prepared for
// the next session), pruned as the engine advances.
type ephemeralKxStore struct {
	mu   sync.Mutex
	keys map[mixnet.SessionIndex]x25519Keypair
}

type x25519Keypair struct {
	public  sphinx.KxPublic
	private [32]byte
}

func newEphemeralKxStore() *ephemeralKxStore {
	return &ephemeralKxStore{keys: make(map[mixnet.SessionIndex]x25519Keypair)}
}

func generateX25519Keypair() (x25519Keypair, error) {
	var kp x25519Keypair
	if _, err := io.ReadFull(rand.Reader, kp.private[:]); err != nil {
		return x25519Keypair{}, err
	}
	pub, err := curve25519.X25519(kp.private[:], curve25519.Basepoint)
	if err != nil {
		return x25519Keypair{}, err
	}
	copy(kp.public[:], pub)
	return kp, nil
}

func (s *ephemeralKxStore) PublicForSession(index mixnet.SessionIndex) (sphinx.KxPublic, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kp, ok := s.keys[index]
	if !ok {
		return sphinx.KxPublic{}, false
	}
	return kp.public, true
}

func (s *ephemeralKxStore) SharedSecret(index mixnet.SessionIndex, theirPublic sphinx.KxPublic) ([32]byte, bool) {
	s.mu.Lock()
	kp, ok := s.keys[index]
	s.mu.Unlock()
	if !ok {
		return [32]byte{}, false
	}

	shared, err := curve25519.X25519(kp.private[:], theirPublic[:])
	if err != nil {
		return [32]byte{}, false
	}

	var out [32]byte
	copy(out[:], shared)
	return out, true
}

func (s *ephemeralKxStore) EnsurePending(index mixnet.SessionIndex) {
	s.mu.Lock()
	_, exists := s.keys[index]
	s.mu.Unlock()
	if exists {
		return
	}

	kp, err := generateX25519Keypair()
	if err != nil {
		// Generation failure leaves no key published for this session;
		// the engine disables the slot once it notices the key is
		// missing rather than ever operating without one.
		return
	}

	s.mu.Lock()
	s.keys[index] = kp
	s.mu.Unlock()
}

func (s *ephemeralKxStore) DiscardBefore(index mixnet.SessionIndex) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.keys {
		if int32(index-i) > 0 {
			delete(s.keys, i)
		}
	}
}
