package sim

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func approxMajorityRule() Rule {
	return RuleMap{
		{"A", "B"}: {"U", "U"},
		{"A", "U"}: {"A", "A"},
		{"B", "U"}: {"B", "B"},
	}
}

func averagingRule() Rule {
	return RuleFunc(func(x, y State) []Outcome {
		a, b := x.(int), y.(int)
		return Det((a+b)/2, (a+b+1)/2)
	})
}

func requireHistoryInvariants(t *testing.T, s *Simulation) {
	t.Helper()
	h := s.History()
	require.Positive(t, h.Len())
	prev := math.Inf(-1)
	for k := 0; k < h.Len(); k++ {
		require.LessOrEqual(t, prev, h.Time(k), "snapshot times are monotone")
		prev = h.Time(k)
		var sum int64
		for _, c := range h.Row(k) {
			require.GreaterOrEqual(t, c, int64(0))
			sum += c
		}
		require.Equal(t, s.N(), sum, "population is conserved in every snapshot")
	}
}

func TestSimulation_ApproximateMajorityRunsToSilence(t *testing.T) {
	s, err := New(map[State]int64{"A": 60, "B": 40, "U": 0}, approxMajorityRule(),
		Options{Seed: 0, Order: Symmetric})
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background(), RunOptions{}))

	require.True(t, s.Silent())
	requireHistoryInvariants(t, s)
	cfg := s.ConfigDict()
	require.Len(t, cfg, 1, "silence leaves exactly one occupied state")
	for _, c := range cfg {
		assert.Equal(t, int64(100), c)
	}
}

func TestSimulation_ExactMajorityPreservesTie(t *testing.T) {
	rule := RuleMap{
		{"A", "B"}: {"a", "b"},
		{"A", "b"}: {"A", "a"},
		{"B", "a"}: {"B", "b"},
	}
	s, err := New(map[State]int64{"A": 50, "B": 50}, rule, Options{Seed: 3, Order: Symmetric})
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background(), RunOptions{RecordInterval: 0.5}))

	require.True(t, s.Silent())
	requireHistoryInvariants(t, s)
	states := s.StateList()
	iA, iB := -1, -1
	for i, st := range states {
		switch st {
		case "A":
			iA = i
		case "B":
			iB = i
		}
	}
	require.GreaterOrEqual(t, iA, 0)
	require.GreaterOrEqual(t, iB, 0)
	h := s.History()
	for k := 0; k < h.Len(); k++ {
		row := h.Row(k)
		assert.Equal(t, row[iA], row[iB], "cancellation preserves the bias at t=%v", h.Time(k))
	}
	assert.Zero(t, s.Count("A"))
	assert.Zero(t, s.Count("B"))
}

func TestSimulation_AveragingPredicateStop(t *testing.T) {
	const n = 10000
	spread := func(row []int64) int64 {
		lo, hi := int64(-1), int64(-1)
		for v, c := range row {
			if c == 0 {
				continue
			}
			if lo < 0 {
				lo = int64(v)
			}
			hi = int64(v)
		}
		return hi - lo
	}
	s, err := New(map[State]int64{0: n / 2, 100: n / 2}, averagingRule(), Options{Seed: 4})
	require.NoError(t, err)
	converged := func(counts []int64) bool { return spread(counts) <= 2 }
	require.NoError(t, s.Run(context.Background(), RunOptions{
		Predicate:      converged,
		RecordInterval: 1,
		CheckInterval:  1,
	}))

	requireHistoryInvariants(t, s)
	h := s.History()
	last := h.Len() - 1
	assert.LessOrEqual(t, spread(h.Row(last)), int64(2), "predicate holds at the stop time")
	for k := 0; k < last; k++ {
		assert.Greater(t, spread(h.Row(k)), int64(2), "predicate must not hold before the stop at t=%v", h.Time(k))
	}
}

func TestSimulation_AveragingHandoffAndSilence(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a large protocol to full silence")
	}
	const n = 10000
	s, err := New(map[State]int64{0: n / 2, 100: n / 2}, averagingRule(), Options{Seed: 5})
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background(), RunOptions{RecordInterval: 10}))

	require.True(t, s.Silent())
	assert.Equal(t, map[State]int64{50: int64(n)}, s.ConfigDict(),
		"the invariant sum forces every agent to the exact average")
	st := s.Stats()
	assert.GreaterOrEqual(t, st.EngineSwitches, int64(1),
		"the sparse endgame must hand off to the event-driven engine")
	assert.Positive(t, st.GillespieEvents)
	assert.Positive(t, st.Blocks)
}

func TestSimulation_CoinFlipStaysBalancedOnAverage(t *testing.T) {
	if testing.Short() {
		t.Skip("statistical scenario is slow")
	}
	rule := RuleDist{
		{"A", "B"}: {
			{Pair: Pair{"A", "A"}, P: 0.5},
			{Pair: Pair{"B", "B"}, P: 0.5},
		},
	}
	const n, trials = 1000, 60
	var sum float64
	for k := 0; k < trials; k++ {
		s, err := New(map[State]int64{"A": n / 2, "B": n / 2}, rule,
			Options{Seed: DeriveSeed(42, string(rune('a'+k))), Order: Symmetric})
		require.NoError(t, err)
		require.NoError(t, s.Run(context.Background(), RunOptions{Until: 10}))
		sum += float64(s.Count("A"))
	}
	mean := sum / trials
	// the drift is a martingale; the sample mean has sd ~9 here
	assert.InDelta(t, n/2, mean, 50)
}

func TestSimulation_TrivialRuleIsBornSilent(t *testing.T) {
	s, err := New(map[State]int64{"X": 1000}, RuleMap{}, Options{Seed: 6})
	require.NoError(t, err)
	require.True(t, s.Silent())
	require.NoError(t, s.Run(context.Background(), RunOptions{}))

	assert.Equal(t, 1, s.History().Len())
	assert.Equal(t, 0.0, s.Time())
	assert.Equal(t, 0.0, s.SilentTime())
	assert.Equal(t, int64(0), s.Steps())
}

func TestSimulation_SilentFastForwardFillsHistory(t *testing.T) {
	s, err := New(map[State]int64{"X": 1000}, RuleMap{}, Options{Seed: 7})
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background(), RunOptions{Until: 3, RecordInterval: 1}))

	h := s.History()
	require.Equal(t, []float64{0, 1, 2, 3}, h.Times())
	for k := 0; k < h.Len(); k++ {
		assert.Equal(t, h.Row(0), h.Row(k), "silent snapshots differ only in t")
	}
	assert.Equal(t, 3.0, s.Time())
	assert.Equal(t, int64(3000), s.Steps())
}

func TestSimulation_HorizonRecording(t *testing.T) {
	s, err := New(map[State]int64{"A": 600, "B": 400, "U": 0}, approxMajorityRule(),
		Options{Seed: 8, Order: Symmetric})
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background(), RunOptions{Until: 5, RecordInterval: 1}))

	requireHistoryInvariants(t, s)
	assert.Equal(t, 5.0, s.Time())
	h := s.History()
	require.GreaterOrEqual(t, h.Len(), 6)
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5}, h.Times()[:6])
}

func TestSimulation_Deterministic(t *testing.T) {
	run := func() *Simulation {
		s, err := New(map[State]int64{"A": 600, "B": 400, "U": 0}, approxMajorityRule(),
			Options{Seed: 9, Order: Symmetric})
		require.NoError(t, err)
		require.NoError(t, s.Run(context.Background(), RunOptions{Until: 4}))
		return s
	}
	s1, s2 := run(), run()
	h1, h2 := s1.History(), s2.History()
	require.Equal(t, h1.Len(), h2.Len())
	for k := 0; k < h1.Len(); k++ {
		assert.Equal(t, h1.Time(k), h2.Time(k))
		assert.Equal(t, h1.Row(k), h2.Row(k))
	}
	assert.Equal(t, s1.Steps(), s2.Steps())
}

func TestSimulation_Reset(t *testing.T) {
	s, err := New(map[State]int64{"A": 60, "B": 40, "U": 0}, approxMajorityRule(),
		Options{Seed: 10, Order: Symmetric})
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background(), RunOptions{Until: 2}))
	require.Greater(t, s.History().Len(), 1)

	require.NoError(t, s.Reset(nil))
	assert.Equal(t, 0.0, s.Time())
	assert.Equal(t, int64(0), s.Steps())
	assert.Equal(t, 1, s.History().Len())
	assert.Equal(t, map[State]int64{"A": 60, "B": 40}, s.ConfigDict())
	assert.Equal(t, Stats{}, s.Stats())

	require.NoError(t, s.Reset(map[State]int64{"U": 100}))
	assert.Equal(t, map[State]int64{"U": 100}, s.ConfigDict())
	assert.True(t, s.Silent())

	assert.ErrorIs(t, s.Reset(map[State]int64{"A": 99}), ErrInvalidConfig)
	assert.ErrorIs(t, s.Reset(map[State]int64{"Z": 100}), ErrInvalidConfig)
}

func TestSimulation_SetConfigKeepsClock(t *testing.T) {
	s, err := New(map[State]int64{"A": 60, "B": 40, "U": 0}, approxMajorityRule(),
		Options{Seed: 11, Order: Symmetric})
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background(), RunOptions{Until: 2}))
	tBefore, stepsBefore := s.Time(), s.Steps()

	require.NoError(t, s.SetConfig(map[State]int64{"B": 100}))
	assert.Equal(t, tBefore, s.Time())
	assert.Equal(t, stepsBefore, s.Steps())
	assert.Equal(t, map[State]int64{"B": 100}, s.ConfigDict())
	assert.True(t, s.Silent())

	assert.ErrorIs(t, s.SetConfig(map[State]int64{"A": 1}), ErrInvalidConfig)
	assert.ErrorIs(t, s.SetConfig(map[State]int64{"A": 100, "B": -1}), ErrInvalidConfig)
}

func TestSimulation_NegativeInitialCount(t *testing.T) {
	_, err := New(map[State]int64{"A": -1, "B": 2}, approxMajorityRule(), Options{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSimulation_Cancellation(t *testing.T) {
	s, err := New(map[State]int64{"A": 600, "B": 400, "U": 0}, approxMajorityRule(),
		Options{Seed: 12, Order: Symmetric})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx, RunOptions{Until: 100}), ErrCancelled)

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel2()
	time.Sleep(time.Millisecond)
	assert.ErrorIs(t, s.Run(ctx2, RunOptions{Until: 100}), ErrTimeout)
}

func TestSimulation_ReactionsRendering(t *testing.T) {
	s, err := New(map[State]int64{"A": 60, "B": 40, "U": 0}, approxMajorityRule(),
		Options{Seed: 13, Order: Symmetric})
	require.NoError(t, err)

	all := s.Reactions()
	assert.Contains(t, all, "A, B  -->  U, U")
	assert.Contains(t, all, "A, U  -->  A, A")
	assert.Contains(t, all, "B, U  -->  B, B")
	assert.NotContains(t, all, "probability", "deterministic reactions carry no probability suffix")
	// symmetric duplicates are merged: three lines, two newlines
	assert.Len(t, strings.Split(all, "\n"), 3)

	require.NoError(t, s.SetConfig(map[State]int64{"A": 60, "U": 40}))
	enabled := s.EnabledReactions()
	assert.Contains(t, enabled, "A, U  -->  A, A")
	assert.NotContains(t, enabled, "A, B")
	assert.NotContains(t, enabled, "B, U")
}

func TestSimulation_RandomizedReactionRendering(t *testing.T) {
	rule := RuleDist{
		{"A", "B"}: {
			{Pair: Pair{"A", "A"}, P: 0.5},
			{Pair: Pair{"B", "B"}, P: 0.5},
		},
	}
	s, err := New(map[State]int64{"A": 5, "B": 5}, rule, Options{Seed: 14})
	require.NoError(t, err)
	assert.Contains(t, s.Reactions(), "A, B  -->  A, A      with probability 0.5")
	assert.Contains(t, s.Reactions(), "A, B  -->  B, B      with probability 0.5")
}
