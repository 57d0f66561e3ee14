package sim

import (
	"fmt"
	"sort"
)

// DefaultMaxStates bounds state enumeration when Options.MaxStates is zero.
// Rules whose reachable set exceeds the bound fail with ErrUnreachable
// instead of looping forever.
const DefaultMaxStates = 1 << 20

// EnumerateStates finds every state reachable from the initial configuration
// by breadth-first exploration of ordered pairs of discovered states. The
// returned slice is sorted (numerically when all states are integers,
// otherwise by string representation) so indices are stable across runs;
// the map gives each state its index.
func EnumerateStates(init map[State]int64, rule Rule, maxStates int) ([]State, map[State]int, error) {
	if maxStates <= 0 {
		maxStates = DefaultMaxStates
	}
	var states []State
	seen := make(map[State]bool)
	add := func(s State) error {
		if seen[s] {
			return nil
		}
		seen[s] = true
		states = append(states, s)
		if len(states) > maxStates {
			return fmt.Errorf("%w: more than %d states discovered", ErrUnreachable, maxStates)
		}
		return nil
	}
	for s := range init {
		if err := add(s); err != nil {
			return nil, nil, err
		}
	}
	for k := 0; k < len(states); k++ {
		s := states[k]
		for j := 0; j <= k; j++ {
			t := states[j]
			for _, in := range [2]Pair{{X: s, Y: t}, {X: t, Y: s}} {
				for _, oc := range rule.Apply(in.X, in.Y) {
					if err := add(oc.Pair.X); err != nil {
						return nil, nil, err
					}
					if err := add(oc.Pair.Y); err != nil {
						return nil, nil, err
					}
				}
			}
		}
	}
	sortStates(states)
	index := make(map[State]int, len(states))
	for i, s := range states {
		index[s] = i
	}
	return states, index, nil
}

// sortStates orders numerically when every state is an integer, otherwise
// by string representation.
func sortStates(states []State) {
	allInts := true
	for _, s := range states {
		if _, ok := stateInt(s); !ok {
			allInts = false
			break
		}
	}
	sort.SliceStable(states, func(i, j int) bool {
		if allInts {
			a, _ := stateInt(states[i])
			b, _ := stateInt(states[j])
			return a < b
		}
		return fmt.Sprint(states[i]) < fmt.Sprint(states[j])
	})
}

func stateInt(s State) (int64, bool) {
	switch v := s.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	}
	return 0, false
}
