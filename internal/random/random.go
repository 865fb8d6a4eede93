package random

import "math/rand"

// Source is the random stream shared by everything inside one deme.
// Implementations are not safe for concurrent use.
type Source interface {
	// UintRange draws uniformly from the closed range [lo, hi].
	UintRange(lo, hi uint32) uint32
	Intn(n int) int
	// P reports true with probability p.
	P(p float64) bool
	Shuffle(n int, swap func(i, j int))
}

type Random struct {
	rng *rand.Rand
}

func New(seed int64) *Random {
	return &Random{rng: rand.New(rand.NewSource(seed))}
}

func (r *Random) UintRange(lo, hi uint32) uint32 {
	if hi <= lo {
		return lo
	}
	span := int64(hi-lo) + 1
	return lo + uint32(r.rng.Int63n(span))
}

func (r *Random) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return r.rng.Intn(n)
}

func (r *Random) P(p float64) bool {
	switch {
	case p <= 0:
		return false
	case p >= 1:
		return true
	default:
		return r.rng.Float64() < p
	}
}

// Shuffle is an unbiased Fisher-Yates shuffle.
func (r *Random) Shuffle(n int, swap func(i, j int)) {
	if n < 2 {
		return
	}
	r.rng.Shuffle(n, swap)
}

// Derive returns the seed for the index-th independent stream under base.
func Derive(base int64, index int) int64 {
	return base + int64(index)
}
