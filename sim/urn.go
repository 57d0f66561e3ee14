package sim

import "fmt"

// Urn is a multiset over state indices backed by a complete binary tree of
// partial sums. It is the single source of truth for the current
// configuration: leaves hold per-state counts, internal nodes hold subtree
// sums. Sampling one element is O(log q); sampling a batch without
// replacement is a single O(q) walk with a conditional hypergeometric split
// at every internal node.
type Urn struct {
	q    int
	base int // next power of two >= q; leaves live at tree[base:base+q]
	tree []int64
	rng  *RNG
}

// NewUrn builds an urn holding counts. The counts slice is copied.
func NewUrn(counts []int64, rng *RNG) *Urn {
	base := 1
	for base < len(counts) {
		base <<= 1
	}
	u := &Urn{q: len(counts), base: base, tree: make([]int64, 2*base), rng: rng}
	u.SetCounts(counts)
	return u
}

// SetCounts replaces the urn contents with the given per-state counts.
func (u *Urn) SetCounts(counts []int64) {
	if len(counts) != u.q {
		panic(fmt.Sprintf("SetCounts: got %d counts, urn has %d states", len(counts), u.q))
	}
	for i := range u.tree {
		u.tree[i] = 0
	}
	for i, c := range counts {
		if c < 0 {
			panic(fmt.Sprintf("SetCounts: negative count %d for state %d", c, i))
		}
		u.tree[u.base+i] = c
	}
	for v := u.base - 1; v >= 1; v-- {
		u.tree[v] = u.tree[2*v] + u.tree[2*v+1]
	}
}

// Total returns the number of elements currently in the urn.
func (u *Urn) Total() int64 { return u.tree[1] }

// Count returns the count of state i.
func (u *Urn) Count(i int) int64 { return u.tree[u.base+i] }

// Counts copies the per-state counts into dst (allocated when nil).
func (u *Urn) Counts(dst []int64) []int64 {
	if dst == nil {
		dst = make([]int64, u.q)
	}
	copy(dst, u.tree[u.base:u.base+u.q])
	return dst
}

// Add adjusts the count of state i by delta, which may be negative. The
// partial sums on the root path are updated in O(log q). Driving a count
// below zero is a programmer error and panics.
func (u *Urn) Add(i int, delta int64) {
	v := u.base + i
	if u.tree[v]+delta < 0 {
		panic(fmt.Sprintf("Add: count of state %d would become %d", i, u.tree[v]+delta))
	}
	for ; v >= 1; v /= 2 {
		u.tree[v] += delta
	}
}

// Sample returns state i with probability count(i)/Total. The urn must be
// non-empty.
func (u *Urn) Sample() int {
	x := int64(u.rng.Uint64n(uint64(u.tree[1])))
	v := 1
	for v < u.base {
		l := 2 * v
		if x < u.tree[l] {
			v = l
		} else {
			x -= u.tree[l]
			v = l + 1
		}
	}
	return v - u.base
}

// SampleRemove draws one element and removes it from the urn.
func (u *Urn) SampleRemove() int {
	i := u.Sample()
	u.Add(i, -1)
	return i
}

// SampleVector draws k elements uniformly without replacement and returns
// the drawn multiset as a per-state count vector d with sum(d) = k and
// d[i] <= count(i). The result is written into dst (allocated when nil).
// The urn itself is not modified; pair with RemoveVector to extract the
// sample.
func (u *Urn) SampleVector(k int64, dst []int64) []int64 {
	if k > u.Total() {
		panic(fmt.Sprintf("SampleVector: k=%d exceeds urn total %d", k, u.Total()))
	}
	if dst == nil {
		dst = make([]int64, u.q)
	} else {
		for i := range dst {
			dst[i] = 0
		}
	}
	u.sampleNode(1, k, dst)
	return dst
}

func (u *Urn) sampleNode(v int, k int64, out []int64) {
	if k == 0 {
		return
	}
	if v >= u.base {
		out[v-u.base] = k
		return
	}
	l := 2 * v
	x := u.rng.Hypergeometric(k, u.tree[l], u.tree[v])
	u.sampleNode(l, x, out)
	u.sampleNode(l+1, k-x, out)
}

// AddVector adds a count vector to the urn.
func (u *Urn) AddVector(d []int64) {
	for i, c := range d {
		if c != 0 {
			u.Add(i, c)
		}
	}
}

// Reset empties the urn.
func (u *Urn) Reset() {
	for i := range u.tree {
		u.tree[i] = 0
	}
}

// RemoveVector removes a count vector from the urn.
func (u *Urn) RemoveVector(d []int64) {
	for i, c := range d {
		if c != 0 {
			u.Add(i, -c)
		}
	}
}
