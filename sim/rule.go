package sim

import "fmt"

// State is an agent's entire identity: any comparable Go value (strings,
// ints, small structs). Agents are anonymous; the simulation only tracks
// how many agents hold each state. States are hashed by value, so variant
// states with structured fields should be expressed as comparable structs.
type State = any

// Pair is an ordered pair of states: X is the initiator, Y the responder.
type Pair struct {
	X, Y State
}

// Outcome is one branch of a (possibly randomized) transition.
type Outcome struct {
	Pair Pair
	P    float64
}

// Rule maps an ordered input pair to the distribution over output pairs.
// A nil return (or an absent map key) is a null transition: both agents
// keep their states. Rules are consulted only during setup; the engines
// run on the compiled TransitionTable.
type Rule interface {
	Apply(x, y State) []Outcome
}

// RuleMap is a deterministic rule given as an explicit mapping. Pairs not
// present in the map are null.
type RuleMap map[Pair]Pair

func (r RuleMap) Apply(x, y State) []Outcome {
	out, ok := r[Pair{x, y}]
	if !ok {
		return nil
	}
	return []Outcome{{Pair: out, P: 1}}
}

// RuleDist is a randomized rule given as an explicit mapping from input
// pairs to probability branches.
type RuleDist map[Pair][]Outcome

func (r RuleDist) Apply(x, y State) []Outcome { return r[Pair{x, y}] }

// RuleFunc adapts a transition function. Returning nil means null. The
// function must be pure: state enumeration and table compilation observe
// only returned values.
type RuleFunc func(x, y State) []Outcome

func (f RuleFunc) Apply(x, y State) []Outcome { return f(x, y) }

// Det wraps a deterministic output pair for use in RuleFunc bodies.
func Det(x, y State) []Outcome {
	return []Outcome{{Pair: Pair{X: x, Y: y}, P: 1}}
}

// TransitionOrder controls how ordered input pairs are interpreted when the
// rule is compiled.
type TransitionOrder int

const (
	// Asymmetric treats (x, y) and (y, x) as distinct inputs; pairs the
	// rule does not mention are null.
	Asymmetric TransitionOrder = iota

	// Symmetric fills a null (x, y) entry from a non-null (y, x) entry
	// with outputs swapped. Explicit asymmetric interactions can still be
	// expressed by giving both orders.
	Symmetric

	// SymmetricEnforced is Symmetric, but rejects rules where (x, y) and
	// (y, x) are both non-null with different unordered outputs.
	SymmetricEnforced
)

// ParseOrder parses the string form used in protocol files.
func ParseOrder(s string) (TransitionOrder, error) {
	switch s {
	case "", "asymmetric":
		return Asymmetric, nil
	case "symmetric":
		return Symmetric, nil
	case "symmetric_enforced", "symmetric-enforced":
		return SymmetricEnforced, nil
	}
	return 0, fmt.Errorf("%w: unknown transition order %q", ErrInvalidRule, s)
}

func (o TransitionOrder) String() string {
	switch o {
	case Asymmetric:
		return "asymmetric"
	case Symmetric:
		return "symmetric"
	case SymmetricEnforced:
		return "symmetric_enforced"
	}
	return fmt.Sprintf("TransitionOrder(%d)", int(o))
}
