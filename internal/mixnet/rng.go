package mixnet

import (
	"crypto/rand"
	"encoding/binary"
	"math/big"
	mathrand "math/rand"
)

// newCryptoSeededRand builds a math/rand source seeded from the system
// CSPRNG. The engine uses math/rand (not crypto/rand directly) for the
// high-volume, non-secret-key choices it makes internally — route
// selection, cover/loop coin flips, Poisson sampling — reserving
// crypto/rand for key material and packet padding; see internal/sphinx.
// Seeding from crypto/rand keeps those choices unpredictable to an
// adversary who cannot observe the process's internal state.
func newCryptoSeededRand() *mathrand.Rand {
	var seed int64
	n, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err == nil {
		seed = n.Int64()
	} else {
		var buf [8]byte
		_, _ = rand.Read(buf[:])
		seed = int64(binary.BigEndian.Uint64(buf[:]) >> 2)
	}
	return mathrand.New(mathrand.NewSource(seed))
}
