package sim

// sequential is the reference engine: every interaction step draws two
// distinct agents from the urn and applies the rule. O(log q) per step,
// useful for debugging and as ground truth in tests; the driver never picks
// it on its own.
type sequential struct {
	tab *TransitionTable
	urn *Urn
	rng *RNG
}

func newSequential(tab *TransitionTable, urn *Urn, rng *RNG) *sequential {
	return &sequential{tab: tab, urn: urn, rng: rng}
}

// run advances exactly maxSteps interaction steps and returns the number of
// non-null events among them.
func (s *sequential) run(maxSteps int64) (events int64) {
	for k := int64(0); k < maxSteps; k++ {
		i := s.urn.SampleRemove()
		j := s.urn.SampleRemove()
		a, b := resolveCell(s.tab, s.rng, i, j)
		if !isNullBranch(i, j, a, b) {
			events++
		}
		s.urn.Add(a, 1)
		s.urn.Add(b, 1)
	}
	return events
}

// resolveCell draws the output pair for ordered input (i, j) from the
// compiled table, consuming one uniform only when the entry is randomized.
func resolveCell(tab *TransitionTable, rng *RNG, i, j int) (a, b int) {
	c := tab.cell(i, j)
	if !c.random {
		o := c.outs[0]
		return o[0], o[1]
	}
	u := rng.Float64()
	last := len(c.probs) - 1
	for k, p := range c.probs {
		if u < p || k == last {
			return c.outs[k][0], c.outs[k][1]
		}
		u -= p
	}
	o := c.outs[last]
	return o[0], o[1]
}
