package mixnet

import (
	"math/rand"

	"github.com/dantte-lp/gomixnet/internal/sphinx"
)

// expClampFactor bounds a sampled Exp(1) draw before it is used to scale a
// duration or a Delay. It is not a statistical shaping device: it exists
// only to keep the scaled value far from floating-point overflow (10.0 is
// about the 99.995th percentile of Exp(1), so in practice it is never
// observed).
const expClampFactor = 10.0

// sampleExpFactor draws one Exp(1) sample, clamped to expClampFactor.
func sampleExpFactor(rng *rand.Rand) float64 {
	f := rng.ExpFloat64()
	if f > expClampFactor {
		f = expClampFactor
	}
	return f
}

// sampleHopDelay produces the per-hop Delay used when building a request,
// reply or cover packet's route: an Exp(1)-distributed multiple of the
// network's mean forwarding delay, independent per hop, so that an
// observer cannot use per-hop timing to correlate a packet across the
// route.
func sampleHopDelay(rng *rand.Rand) sphinx.Delay {
	return sphinx.NewDelay(sampleExpFactor(rng))
}

func sampleHopDelays(rng *rand.Rand, n int) []sphinx.Delay {
	if n == 0 {
		return nil
	}
	delays := make([]sphinx.Delay, n)
	for i := range delays {
		delays[i] = sampleHopDelay(rng)
	}
	return delays
}
