package sim

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// RNG is the deterministic random stream owned by a single Simulation.
//
// The underlying generator is PCG with 128 bits of state, so two streams
// created from the same seed produce identical draws on every platform.
// RNG is NOT safe for concurrent use; each Simulation owns exactly one
// stream and independent simulations derive independent seeds (DeriveSeed).
type RNG struct {
	src *rand.PCG
	*rand.Rand
}

// NewRNG creates a stream from a 64-bit seed. The seed is expanded into the
// PCG's 128-bit state with splitmix64 so that nearby seeds give unrelated
// streams.
func NewRNG(seed int64) *RNG {
	x := uint64(seed) ^ 0x9e3779b97f4a7c15
	src := rand.NewPCG(splitmix64(x), splitmix64(x^0xda942042e4dd58b5))
	return &RNG{src: src, Rand: rand.New(src)}
}

// DeriveSeed maps (seed, name) to the seed of an independent subordinate
// stream, e.g. one per trial in TimeTrials. The same (seed, name) always
// yields the same derived seed.
func DeriveSeed(seed int64, name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return seed ^ int64(h.Sum64())
}

// splitmix64 mixes x into a new 64-bit value, used for seed expansion.
func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// Uint64n returns a uniform integer in [0, n). n must be positive.
func (r *RNG) Uint64n(n uint64) uint64 { return r.Rand.Uint64N(n) }

// Int64n returns a uniform integer in [0, n). n must be positive.
func (r *RNG) Int64n(n int64) int64 {
	if n <= 0 {
		panic(fmt.Sprintf("Int64n: n must be positive, got %d", n))
	}
	return int64(r.Rand.Uint64N(uint64(n)))
}

// Float64Open returns a uniform value in the open interval (0, 1).
func (r *RNG) Float64Open() float64 {
	for {
		if u := r.Float64(); u > 0 {
			return u
		}
	}
}

// Binomial returns a draw from Binomial(n, p).
func (r *RNG) Binomial(n int64, p float64) int64 {
	switch {
	case n <= 0 || p <= 0:
		return 0
	case p >= 1:
		return n
	}
	b := distuv.Binomial{N: float64(n), P: p, Src: r.src}
	x := int64(b.Rand())
	if x < 0 {
		x = 0
	}
	if x > n {
		x = n
	}
	return x
}

// Exponential returns a draw from Exponential(rate).
func (r *RNG) Exponential(rate float64) float64 {
	return distuv.Exponential{Rate: rate, Src: r.src}.Rand()
}

// Geometric returns the number of Bernoulli(p) trials up to and including
// the first success, as a float64 so that callers can compare the draw
// against an int64 horizon without overflow. p must be in (0, 1].
func (r *RNG) Geometric(p float64) float64 {
	if p >= 1 {
		return 1
	}
	if p <= 0 {
		return math.Inf(1)
	}
	return math.Floor(math.Log(r.Float64Open())/math.Log1p(-p)) + 1
}

// Multinomial distributes n draws over the branches of probs. Entries with
// non-positive probability receive zero. The returned vector sums to n.
func (r *RNG) Multinomial(n int64, probs []float64) []int64 {
	out := make([]int64, len(probs))
	rem := 0.0
	for _, p := range probs {
		if p > 0 {
			rem += p
		}
	}
	for i, p := range probs {
		if n == 0 || rem <= 0 {
			break
		}
		if p <= 0 {
			continue
		}
		frac := p / rem
		var x int64
		if frac >= 1 {
			x = n
		} else {
			x = r.Binomial(n, frac)
		}
		out[i] = x
		n -= x
		rem -= p
	}
	if n > 0 {
		// float drift: assign the remainder to the last positive branch
		for i := len(probs) - 1; i >= 0; i-- {
			if probs[i] > 0 {
				out[i] += n
				break
			}
		}
	}
	return out
}

// Hypergeometric returns the number of "success" elements in a uniform
// without-replacement draw of k items from a population of n items that
// contains succ successes. Small draws are simulated directly; larger ones
// use a mode-centred inverse transform on the exact pmf.
func (r *RNG) Hypergeometric(k, succ, n int64) int64 {
	if k < 0 || succ < 0 || n < 0 || k > n || succ > n {
		panic(fmt.Sprintf("Hypergeometric: invalid parameters k=%d succ=%d n=%d", k, succ, n))
	}
	lo := k - (n - succ)
	if lo < 0 {
		lo = 0
	}
	hi := k
	if succ < hi {
		hi = succ
	}
	if lo == hi {
		return lo
	}
	if k <= 64 {
		// direct draws
		var x int64
		s, rem := succ, n
		for i := int64(0); i < k; i++ {
			if r.Uint64n(uint64(rem)) < uint64(s) {
				x++
				s--
			}
			rem--
		}
		return x
	}

	// inverse transform expanding outward from the mode
	mode := int64(float64(k+1) * float64(succ+1) / float64(n+2))
	if mode < lo {
		mode = lo
	}
	if mode > hi {
		mode = hi
	}
	pm := math.Exp(lchoose(succ, mode) + lchoose(n-succ, k-mode) - lchoose(n, k))
	u := r.Float64()
	if u <= pm {
		return mode
	}
	u -= pm
	// pmf recurrences:
	//   p(x+1) = p(x) * (succ-x)(k-x) / ((x+1)(n-succ-k+x+1))
	//   p(x-1) = p(x) * x(n-succ-k+x) / ((succ-x+1)(k-x+1))
	dLo, dHi := mode-1, mode+1
	pLo := pm * float64(mode) * float64(n-succ-k+mode) / (float64(succ-mode+1) * float64(k-mode+1))
	pHi := pm * float64(succ-mode) * float64(k-mode) / (float64(mode+1) * float64(n-succ-k+mode+1))
	for dLo >= lo || dHi <= hi {
		if dHi <= hi {
			if u <= pHi {
				return dHi
			}
			u -= pHi
			pHi *= float64(succ-dHi) * float64(k-dHi) / (float64(dHi+1) * float64(n-succ-k+dHi+1))
			dHi++
		}
		if dLo >= lo {
			if u <= pLo {
				return dLo
			}
			u -= pLo
			pLo *= float64(dLo) * float64(n-succ-k+dLo) / (float64(succ-dLo+1) * float64(k-dLo+1))
			dLo--
		}
	}
	// only reachable through accumulated floating-point leftovers
	return mode
}

// lchoose returns log(C(n, k)).
func lchoose(n, k int64) float64 {
	a, _ := math.Lgamma(float64(n + 1))
	b, _ := math.Lgamma(float64(k + 1))
	c, _ := math.Lgamma(float64(n - k + 1))
	return a - b - c
}
