package sphinx

import "crypto/rand"

// defaultRand is the system CSPRNG used for packet padding. Route and key
// generation always take an explicit rng argument from the caller (usually
// rand.Reader too, but tests substitute a seeded source); this one backs
// only the random padding Peel adds to keep the header a fixed size.
var defaultRand = rand.Reader
