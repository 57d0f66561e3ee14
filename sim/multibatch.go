package sim

import "math"

// multiBatch is the batching engine of Berenbrink, Hammer, Kaaser, Meyer,
// Penschuck and Tran. It simulates a block of roughly sqrt(n) consecutive
// interactions with O(q) vector draws instead of per-step urn operations,
// while remaining distributionally exact.
//
// During a block the population is split across two urns: urn holds agents
// not yet involved in the block, updated holds agents that already
// interacted (in their new states). As long as both agents of an
// interaction come from urn the interactions are independent given the
// drawn multiset, so whole runs of them are applied grouped. The number of
// interactions until the next collision, an interaction touching an agent
// already in updated, is sampled exactly from its survival function; the
// colliding interaction itself is replayed one agent at a time. At the end
// of the block updated is folded back into urn.
type multiBatch struct {
	tab     *TransitionTable
	urn     *Urn
	updated *Urn
	rng     *RNG
	n       int64
	batch   int64 // interactions per block

	firsts  []int64
	seconds []int64
	scratch []int64

	blocks     int64
	collisions int64
}

// defaultBatch returns the block length for population size n. Blocks of
// sqrt(n) interactions keep the expected number of collisions per block
// constant. Clamped to [1, n/2] so a block can never need more than the
// whole population.
func defaultBatch(n int64) int64 {
	b := int64(math.Sqrt(float64(n)))
	if b > n/2 {
		b = n / 2
	}
	if b < 1 {
		b = 1
	}
	return b
}

func newMultiBatch(tab *TransitionTable, urn *Urn, rng *RNG, batch int64) *multiBatch {
	n := urn.Total()
	if batch <= 0 {
		batch = defaultBatch(n)
	}
	q := tab.Q()
	return &multiBatch{
		tab:     tab,
		urn:     urn,
		updated: NewUrn(make([]int64, q), rng),
		rng:     rng,
		n:       n,
		batch:   batch,
		firsts:  make([]int64, q),
		seconds: make([]int64, q),
		scratch: make([]int64, q),
	}
}

// run advances exactly maxSteps interaction steps (in blocks of at most
// batch) and returns the number of non-null events among them. Requires
// n >= 2.
func (e *multiBatch) run(maxSteps int64) (events int64) {
	var steps int64
	for steps < maxSteps {
		pairs := e.batch
		if rem := maxSteps - steps; rem < pairs {
			pairs = rem
		}
		events += e.runBlock(pairs)
		steps += pairs
		e.blocks++
	}
	return events
}

// runBlock simulates pairs consecutive interactions and folds the touched
// agents back into the main urn.
func (e *multiBatch) runBlock(pairs int64) (events int64) {
	var t int64
	for t < pairs {
		avail := e.urn.Total()
		lim := pairs - t
		if avail/2 < lim {
			lim = avail / 2
		}
		if lim > 0 {
			m, coll := e.sampleGap(avail, lim)
			if m > 0 {
				events += e.applyFreshPairs(m)
				t += m
			}
			if !coll {
				// no collision within the horizon; either the block is
				// done or the untouched pool is exhausted
				continue
			}
		}
		events += e.applyCollision()
		e.collisions++
		t++
	}
	e.updated.Counts(e.scratch)
	e.urn.AddVector(e.scratch)
	e.updated.Reset()
	return events
}

// sampleGap draws the number m <= lim of further interactions whose agents
// all come from the untouched pool of size avail, before one touches an
// updated agent. The survival function is
//
//	S(m) = prod_{k<m} (avail-2k)(avail-2k-1) / (n(n-1))
//	     = exp(lgamma(avail+1) - lgamma(avail-2m+1) - m log(n(n-1)))
//
// and m is found by inverse transform with a binary search, since S is
// decreasing. collision is false when the draw was truncated at lim, in
// which case nothing is known (or needed) about the steps beyond it.
func (e *multiBatch) sampleGap(avail, lim int64) (m int64, collision bool) {
	logPair := math.Log(float64(e.n)) + math.Log(float64(e.n-1))
	la, _ := math.Lgamma(float64(avail + 1))
	logS := func(m int64) float64 {
		lb, _ := math.Lgamma(float64(avail - 2*m + 1))
		return la - lb - float64(m)*logPair
	}
	logU := math.Log(e.rng.Float64Open())
	if logS(lim) > logU {
		return lim, false
	}
	// invariant: logS(lo) > logU >= logS(hi)
	lo, hi := int64(0), lim
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		if logS(mid) > logU {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo, true
}

// applyFreshPairs removes 2m agents from the untouched urn, pairs them
// uniformly and applies the rule group-wise. Drawing all first agents as
// one vector and then, per first-state, all matching second agents as
// another is exchangeable with drawing the pairs one by one, so grouping
// by (i, j) is exact. Outputs accumulate in the updated urn.
func (e *multiBatch) applyFreshPairs(m int64) (events int64) {
	e.urn.SampleVector(m, e.firsts)
	e.urn.RemoveVector(e.firsts)
	for i, ci := range e.firsts {
		if ci == 0 {
			continue
		}
		e.urn.SampleVector(ci, e.seconds)
		e.urn.RemoveVector(e.seconds)
		for j, cj := range e.seconds {
			if cj == 0 {
				continue
			}
			events += e.applyGroup(i, j, cj)
		}
	}
	return events
}

// applyGroup applies cnt parallel interactions with ordered input (i, j).
// Randomized entries split cnt across branches with one multinomial draw.
func (e *multiBatch) applyGroup(i, j int, cnt int64) (events int64) {
	c := e.tab.cell(i, j)
	if !c.random {
		o := c.outs[0]
		e.updated.Add(o[0], cnt)
		e.updated.Add(o[1], cnt)
		if !c.nullBranch[0] {
			return cnt
		}
		return 0
	}
	for k, x := range e.rng.Multinomial(cnt, c.probs) {
		if x == 0 {
			continue
		}
		e.updated.Add(c.outs[k][0], x)
		e.updated.Add(c.outs[k][1], x)
		if !c.nullBranch[k] {
			events += x
		}
	}
	return events
}

// applyCollision replays one interaction known to involve at least one
// already-updated agent. Conditioned on that, the touched slot is the
// initiator with probability u/n over the normalizing constant, otherwise
// only the responder is touched.
func (e *multiBatch) applyCollision() (events int64) {
	u := e.updated.Total()
	pFirst := float64(u) / float64(e.n)
	pSecond := (1 - pFirst) * float64(u) / float64(e.n-1)
	var i, j int
	if e.rng.Float64()*(pFirst+pSecond) < pFirst {
		i = e.updated.SampleRemove()
		// responder is uniform over the remaining n-1 agents
		if e.rng.Uint64n(uint64(e.n-1)) < uint64(e.updated.Total()) {
			j = e.updated.SampleRemove()
		} else {
			j = e.urn.SampleRemove()
		}
	} else {
		i = e.urn.SampleRemove()
		j = e.updated.SampleRemove()
	}
	a, b := resolveCell(e.tab, e.rng, i, j)
	e.updated.Add(a, 1)
	e.updated.Add(b, 1)
	if !isNullBranch(i, j, a, b) {
		return 1
	}
	return 0
}
