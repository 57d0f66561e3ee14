package sim

import "errors"

// Error kinds surfaced to callers. The engines themselves have no
// recoverable errors during normal operation; everything here is reported
// from setup or from Run.
var (
	// ErrInvalidRule reports a transition rule that cannot be compiled:
	// branch probabilities that do not sum to 1, negative probabilities,
	// outputs mentioning states outside the enumerated state set, or
	// contradictory symmetric entries.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrInvalidConfig reports a configuration with negative counts, or a
	// configuration change that alters the population size mid-run.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnreachable reports that state enumeration exceeded Options.MaxStates
	// before closing, i.e. the rule (transitively) produces an unbounded or
	// too-large state set.
	ErrUnreachable = errors.New("reachable state set exceeds limit")

	// ErrCancelled reports that Run stopped because its context was cancelled.
	ErrCancelled = errors.New("simulation cancelled")

	// ErrTimeout reports that Run stopped because its context deadline passed.
	ErrTimeout = errors.New("simulation timed out")
)
