package sim

// gillespie is the event-driven engine used when most interactions are
// null. Instead of drawing agent pairs step by step, it keeps one
// propensity per non-null reaction, draws the geometric waiting time until
// the next non-null event, and jumps straight to it. Cost per event is
// O(len(reactions)), independent of how many null steps were skipped.
type gillespie struct {
	tab  *TransitionTable
	urn  *Urn
	rng  *RNG
	n    int64
	prop []float64
}

func newGillespie(tab *TransitionTable, urn *Urn, rng *RNG) *gillespie {
	return &gillespie{
		tab:  tab,
		urn:  urn,
		rng:  rng,
		n:    urn.Total(),
		prop: make([]float64, len(tab.reactions)),
	}
}

// propensities recomputes per-reaction weights from the current counts and
// returns their sum. A reaction with inputs (i, j) fires on c_i*c_j of the
// n*(n-1) ordered pairs, c_i*(c_i-1) when i == j, scaled by its branch
// probability. Everything is float64; c_i*c_j overflows int64 well before
// it loses float precision that matters here.
func (g *gillespie) propensities() float64 {
	total := 0.0
	for r, rx := range g.tab.reactions {
		ci := float64(g.urn.Count(rx.In[0]))
		cj := float64(g.urn.Count(rx.In[1]))
		if rx.In[0] == rx.In[1] {
			cj = ci - 1
		}
		p := ci * cj * rx.P
		if p < 0 {
			p = 0
		}
		g.prop[r] = p
		total += p
	}
	return total
}

// run advances up to maxSteps interaction steps. It returns the steps
// actually consumed, the number of non-null events fired, and whether the
// configuration is silent. When silent it reports the full maxSteps as
// consumed, since no event can occur in them.
func (g *gillespie) run(maxSteps int64) (steps, events int64, silent bool) {
	pairs := float64(g.n) * float64(g.n-1)
	total := g.propensities()
	for steps < maxSteps {
		if total <= 0 {
			return maxSteps, events, true
		}
		p := total / pairs
		if p > 1 {
			p = 1
		}
		gap := g.rng.Geometric(p)
		if gap > float64(maxSteps-steps) {
			return maxSteps, events, false
		}
		steps += int64(gap)
		g.fire(total)
		events++
		total = g.propensities()
	}
	return steps, events, false
}

// fire picks a reaction with probability proportional to its propensity and
// applies it to the urn.
func (g *gillespie) fire(total float64) {
	u := g.rng.Float64() * total
	r := len(g.prop) - 1
	for k, p := range g.prop {
		if u < p {
			r = k
			break
		}
		u -= p
	}
	rx := g.tab.reactions[r]
	g.urn.Add(rx.In[0], -1)
	g.urn.Add(rx.In[1], -1)
	g.urn.Add(rx.Out[0], 1)
	g.urn.Add(rx.Out[1], 1)
}
