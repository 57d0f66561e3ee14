package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func approxMajorityTable(t *testing.T) *TransitionTable {
	t.Helper()
	rule := RuleMap{
		{"A", "B"}: {"U", "U"},
		{"A", "U"}: {"A", "A"},
		{"B", "U"}: {"B", "B"},
	}
	return buildTable(t, []State{"A", "B", "U"}, rule, Symmetric)
}

func TestGillespie_ReachesSilence(t *testing.T) {
	tab := approxMajorityTable(t)
	rng := NewRNG(11)
	urn := NewUrn([]int64{60, 40, 0}, rng)
	g := newGillespie(tab, urn, rng)

	var steps, events int64
	silent := false
	for i := 0; i < 1000 && !silent; i++ {
		var st, ev int64
		st, ev, silent = g.run(10000)
		steps += st
		events += ev
		assert.Equal(t, int64(100), urn.Total(), "population is conserved")
	}
	require.True(t, silent)
	assert.Positive(t, events)
	// silence of this protocol leaves exactly one occupied state
	occupied := 0
	for i := 0; i < 3; i++ {
		if urn.Count(i) > 0 {
			occupied++
		}
	}
	assert.Equal(t, 1, occupied)
	assert.True(t, tab.SilentFor(urn))
}

func TestGillespie_SilentImmediately(t *testing.T) {
	tab := approxMajorityTable(t)
	rng := NewRNG(12)
	urn := NewUrn([]int64{100, 0, 0}, rng)
	g := newGillespie(tab, urn, rng)

	steps, events, silent := g.run(500)
	assert.True(t, silent)
	assert.Equal(t, int64(500), steps, "silent runs consume the whole horizon")
	assert.Zero(t, events)
	assert.Equal(t, []int64{100, 0, 0}, urn.Counts(nil))
}

func TestGillespie_HorizonWithoutEvent(t *testing.T) {
	// two reactants in a huge inert crowd: an event inside a short
	// horizon is unlikely, and the horizon must still be consumed
	rule := RuleMap{{"A", "B"}: {"U", "U"}}
	tab := buildTable(t, []State{"A", "B", "U"}, rule, Symmetric)
	rng := NewRNG(13)
	urn := NewUrn([]int64{1, 1, 1000000}, rng)
	g := newGillespie(tab, urn, rng)

	steps, _, silent := g.run(10)
	assert.False(t, silent)
	assert.Equal(t, int64(10), steps)
}

func TestGillespie_SelfPairPropensity(t *testing.T) {
	rule := RuleMap{{"A", "A"}: {"A", "B"}}
	tab := buildTable(t, []State{"A", "B"}, rule, Asymmetric)
	rng := NewRNG(14)

	urn := NewUrn([]int64{1, 9}, rng)
	g := newGillespie(tab, urn, rng)
	_, _, silent := g.run(100)
	assert.True(t, silent, "a self pair needs at least two agents")

	urn2 := NewUrn([]int64{10, 0}, rng)
	g2 := newGillespie(tab, urn2, rng)
	var silent2 bool
	for i := 0; i < 1000 && !silent2; i++ {
		_, _, silent2 = g2.run(10000)
	}
	require.True(t, silent2)
	assert.Equal(t, []int64{1, 9}, urn2.Counts(nil))
}
