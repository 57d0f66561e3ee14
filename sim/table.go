package sim

import (
	"fmt"
	"math"
)

// probTolerance is the slack allowed when checking that the branch
// probabilities of a randomized transition sum to 1.
const probTolerance = 1e-12

// transition is one compiled table cell for an ordered input pair (i, j).
// Deterministic entries hold a single branch with probability 1.
type transition struct {
	outs       [][2]int
	probs      []float64
	nullBranch []bool // branch leaves the input pair unchanged as a multiset
	null       bool   // every branch is a null branch
	random     bool   // more than one branch
}

// Reaction is one non-null outcome of an ordered input pair, enumerated
// once at build time. The Gillespie engine computes propensities over this
// list; it also backs the human-readable reaction reports.
type Reaction struct {
	In  [2]int
	Out [2]int
	P   float64
}

// TransitionTable is the compiled, index-keyed, collision-free form of a
// Rule. It is immutable after build and may be shared read-only across
// simulations. Storage is dense: q*q cells, acceptable while q stays small
// relative to n, which the whole batching design bets on.
type TransitionTable struct {
	q         int
	cells     []transition
	reactions []Reaction
}

// NewTransitionTable compiles rule over the enumerated state set. Branch
// probabilities are normalized structurally (duplicate outputs merged,
// zero-probability branches dropped) and must sum to 1 within 1e-12.
func NewTransitionTable(states []State, index map[State]int, rule Rule, order TransitionOrder) (*TransitionTable, error) {
	q := len(states)
	t := &TransitionTable{q: q, cells: make([]transition, q*q)}
	for i := 0; i < q; i++ {
		for j := 0; j < q; j++ {
			cell, err := compileCell(states, index, rule, i, j)
			if err != nil {
				return nil, err
			}
			t.cells[i*q+j] = cell
		}
	}
	if order == Symmetric || order == SymmetricEnforced {
		if err := t.symmetrize(states, order); err != nil {
			return nil, err
		}
	}
	t.buildReactions()
	return t, nil
}

// Q returns the number of states.
func (t *TransitionTable) Q() int { return t.q }

// Reactions returns the non-null reaction descriptors.
func (t *TransitionTable) Reactions() []Reaction { return t.reactions }

// Get exposes the compiled entry for ordered input (i, j): output pairs,
// their probabilities, and whether the entry is null. The returned slices
// are the table's own storage and must not be modified.
func (t *TransitionTable) Get(i, j int) (outs [][2]int, probs []float64, isNull bool) {
	c := t.cell(i, j)
	return c.outs, c.probs, c.null
}

func (t *TransitionTable) cell(i, j int) *transition { return &t.cells[i*t.q+j] }

func compileCell(states []State, index map[State]int, rule Rule, i, j int) (transition, error) {
	outcomes := rule.Apply(states[i], states[j])
	if len(outcomes) == 0 {
		return nullCell(i, j), nil
	}
	type branch struct{ a, b int }
	merged := make(map[branch]float64, len(outcomes))
	var keys []branch
	sum := 0.0
	for _, oc := range outcomes {
		if oc.P < 0 {
			return transition{}, fmt.Errorf("%w: negative probability %v for input (%v, %v)",
				ErrInvalidRule, oc.P, states[i], states[j])
		}
		if oc.P == 0 {
			continue
		}
		a, ok := index[oc.Pair.X]
		if !ok {
			return transition{}, fmt.Errorf("%w: output state %v of input (%v, %v) is not in the state set",
				ErrInvalidRule, oc.Pair.X, states[i], states[j])
		}
		b, ok := index[oc.Pair.Y]
		if !ok {
			return transition{}, fmt.Errorf("%w: output state %v of input (%v, %v) is not in the state set",
				ErrInvalidRule, oc.Pair.Y, states[i], states[j])
		}
		k := branch{a, b}
		if _, dup := merged[k]; !dup {
			keys = append(keys, k)
		}
		merged[k] += oc.P
		sum += oc.P
	}
	if math.Abs(sum-1) > probTolerance {
		return transition{}, fmt.Errorf("%w: probabilities for input (%v, %v) sum to %v",
			ErrInvalidRule, states[i], states[j], sum)
	}
	var cell transition
	cell.null = true
	for _, k := range keys {
		nb := isNullBranch(i, j, k.a, k.b)
		cell.outs = append(cell.outs, [2]int{k.a, k.b})
		cell.probs = append(cell.probs, merged[k])
		cell.nullBranch = append(cell.nullBranch, nb)
		if !nb {
			cell.null = false
		}
	}
	cell.random = len(cell.outs) > 1
	return cell, nil
}

func nullCell(i, j int) transition {
	return transition{
		outs:       [][2]int{{i, j}},
		probs:      []float64{1},
		nullBranch: []bool{true},
		null:       true,
	}
}

// isNullBranch reports whether output (a, b) leaves input (i, j) unchanged
// as an unordered multiset. A swap-only output changes neither agent count,
// so it is null for configuration dynamics.
func isNullBranch(i, j, a, b int) bool {
	return (a == i && b == j) || (a == j && b == i)
}

func (t *TransitionTable) symmetrize(states []State, order TransitionOrder) error {
	q := t.q
	// nullness before any copy, so fills never cascade
	wasNull := make([]bool, len(t.cells))
	for k := range t.cells {
		wasNull[k] = t.cells[k].null
	}
	for i := 0; i < q; i++ {
		for j := 0; j < q; j++ {
			a, b := t.cell(i, j), t.cell(j, i)
			switch {
			case wasNull[i*q+j] && !wasNull[j*q+i]:
				*a = swapCell(*b, i, j)
			case order == SymmetricEnforced && !wasNull[i*q+j] && !wasNull[j*q+i] && i < j:
				if !sameUnordered(a, b) {
					return fmt.Errorf("%w: asymmetric interaction between %v and %v under symmetric_enforced",
						ErrInvalidRule, states[i], states[j])
				}
			}
		}
	}
	return nil
}

// swapCell mirrors a (j, i) entry onto input (i, j): each output pair is
// swapped and null flags are recomputed against the new input.
func swapCell(c transition, i, j int) transition {
	out := transition{
		outs:       make([][2]int, len(c.outs)),
		probs:      make([]float64, len(c.probs)),
		nullBranch: make([]bool, len(c.outs)),
		random:     c.random,
		null:       true,
	}
	copy(out.probs, c.probs)
	for k, o := range c.outs {
		out.outs[k] = [2]int{o[1], o[0]}
		nb := isNullBranch(i, j, o[1], o[0])
		out.nullBranch[k] = nb
		if !nb {
			out.null = false
		}
	}
	return out
}

// sameUnordered compares two cells as distributions over unordered output
// pairs.
func sameUnordered(a, b *transition) bool {
	if len(a.outs) != len(b.outs) {
		return false
	}
	canon := func(c *transition) map[[2]int]float64 {
		m := make(map[[2]int]float64, len(c.outs))
		for k, o := range c.outs {
			lo, hi := o[0], o[1]
			if lo > hi {
				lo, hi = hi, lo
			}
			m[[2]int{lo, hi}] += c.probs[k]
		}
		return m
	}
	ma, mb := canon(a), canon(b)
	if len(ma) != len(mb) {
		return false
	}
	for k, pa := range ma {
		pb, ok := mb[k]
		if !ok || math.Abs(pa-pb) > probTolerance {
			return false
		}
	}
	return true
}

// SilentFor reports whether no non-null reaction is enabled under the
// counts held by u, i.e. the configuration can never change again.
func (t *TransitionTable) SilentFor(u *Urn) bool {
	for _, rx := range t.reactions {
		ci := u.Count(rx.In[0])
		if rx.In[0] == rx.In[1] {
			if ci >= 2 {
				return false
			}
			continue
		}
		if ci > 0 && u.Count(rx.In[1]) > 0 {
			return false
		}
	}
	return true
}

func (t *TransitionTable) buildReactions() {
	for i := 0; i < t.q; i++ {
		for j := 0; j < t.q; j++ {
			c := t.cell(i, j)
			if c.null {
				continue
			}
			for k, o := range c.outs {
				if c.nullBranch[k] {
					continue
				}
				t.reactions = append(t.reactions, Reaction{In: [2]int{i, j}, Out: o, P: c.probs[k]})
			}
		}
	}
}
