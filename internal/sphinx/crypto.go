package sphinx

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// GenerateKxKeypair generates a fresh X25519 key pair, used both for
// per-session node identities and per-packet ephemeral keys.
func GenerateKxKeypair(rng io.Reader) (public KxPublic, private [32]byte, err error) {
	if _, err = io.ReadFull(rng, private[:]); err != nil {
		return KxPublic{}, [32]byte{}, err
	}
	pub, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return KxPublic{}, [32]byte{}, err
	}
	copy(public[:], pub)
	return public, private, nil
}

// SharedSecret performs an X25519 Diffie-Hellman exchange between a local
// private scalar and a remote public key.
func SharedSecret(localPrivate *[32]byte, remotePublic KxPublic) ([32]byte, error) {
	var out [32]byte
	secret, err := curve25519.X25519(localPrivate[:], remotePublic[:])
	if err != nil {
		return out, err
	}
	copy(out[:], secret)
	return out, nil
}

// hopKeys are the symmetric keys a single hop derives from its shared
// secret with the packet's ephemeral key: one to open its own header slot,
// one to run the payload keystream.
type hopKeys struct {
	headerKey    [chacha20poly1305.KeySize]byte
	headerNonce  [chacha20poly1305.NonceSize]byte
	payloadKey   [chacha20.KeySize]byte
	payloadNonce [chacha20.NonceSize]byte
}

func deriveHopKeys(shared [32]byte) (hopKeys, error) {
	var out hopKeys
	r := hkdf.New(sha256.New, shared[:], nil, []byte("gomixnet-sphinx-v1"))
	if _, err := io.ReadFull(r, out.headerKey[:]); err != nil {
		return hopKeys{}, err
	}
	if _, err := io.ReadFull(r, out.headerNonce[:]); err != nil {
		return hopKeys{}, err
	}
	if _, err := io.ReadFull(r, out.payloadKey[:]); err != nil {
		return hopKeys{}, err
	}
	if _, err := io.ReadFull(r, out.payloadNonce[:]); err != nil {
		return hopKeys{}, err
	}
	return out, nil
}

// xorPayload XORs buf in place with the keystream derived from this
// hop's shared secret. Applying it twice with the same keys is a no-op,
// which is what lets intermediate hops strip (requests) or accumulate
// (replies) one layer each without needing AEAD framing on the payload.
func (k hopKeys) xorPayload(buf []byte) error {
	c, err := chacha20.NewUnauthenticatedCipher(k.payloadKey[:], k.payloadNonce[:])
	if err != nil {
		return err
	}
	c.XORKeyStream(buf, buf)
	return nil
}

func (k hopKeys) sealHeaderSlot(plain [routingPlainSize]byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(k.headerKey[:])
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, k.headerNonce[:], plain[:], nil), nil
}

func (k hopKeys) openHeaderSlot(ciphertext []byte) ([routingPlainSize]byte, error) {
	var out [routingPlainSize]byte
	aead, err := chacha20poly1305.New(k.headerKey[:])
	if err != nil {
		return out, err
	}
	plain, err := aead.Open(nil, k.headerNonce[:], ciphertext, nil)
	if err != nil {
		return out, errMac
	}
	copy(out[:], plain)
	return out, nil
}
