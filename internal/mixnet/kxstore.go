package mixnet

import "github.com/dantte-lp/gomixnet/internal/sphinx"

// KxPublicStore is the external contract for this node's own per-session
// key-exchange identity. The engine never generates or holds long-term
// secret key material itself; it is handed a KxPublicStore implementation
// (backed by however the deployment manages keys) and only ever asks it
// for a public key to publish or a shared secret to decrypt with.
type KxPublicStore interface {
	// PublicForSession returns this node's published key-exchange public
	// key for the given session, if one has been generated and not yet
	// discarded.
	PublicForSession(index SessionIndex) (sphinx.KxPublic, bool)
	// SharedSecret performs this node's side of the key exchange for the
	// given session against a remote ephemeral public key, if this node
	// still holds a secret for that session.
	SharedSecret(index SessionIndex, theirPublic sphinx.KxPublic) ([32]byte, bool)
	// EnsurePending asks the store to have a key ready for index ahead of
	// that session becoming current, generating and publishing one if
	// necessary.
	EnsurePending(index SessionIndex)
	// DiscardBefore tells the store it no longer needs to retain secret
	// material for any session strictly before index.
	DiscardBefore(index SessionIndex)
}

// kxStore is a thin wrapper narrowing KxPublicStore to the four
// operations the engine actually performs, keeping engine code free of
// direct store access.
type kxStore struct {
	store KxPublicStore
}

func newKxStore(store KxPublicStore) *kxStore {
	return &kxStore{store: store}
}

func (k *kxStore) public() KxPublicStore { return k.store }

func (k *kxStore) sessionExchange(session SessionIndex, theirPublic sphinx.KxPublic) ([32]byte, bool) {
	return k.store.SharedSecret(session, theirPublic)
}

func (k *kxStore) addPendingSessionSecrets(current SessionIndex) {
	k.store.EnsurePending(current + 1)
}

func (k *kxStore) discardSessionsBefore(index SessionIndex) {
	k.store.DiscardBefore(index)
}
