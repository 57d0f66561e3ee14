package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Method selects the engine family a Simulation runs on.
type Method string

const (
	// MethodMultiBatch is the default: batched blocks with an automatic
	// handoff to the event-driven engine when most interactions are null.
	MethodMultiBatch Method = "multibatch"

	// MethodSequential draws every interaction one at a time. Slow; kept
	// as ground truth for the batched engines.
	MethodSequential Method = "sequential"

	// MethodGillespie runs the event-driven engine exclusively.
	MethodGillespie Method = "gillespie"
)

// Options configures a Simulation at construction time.
type Options struct {
	// Seed fixes the random stream. The same seed, rule and initial
	// configuration reproduce the exact same trajectory.
	Seed int64

	// Order controls how ordered input pairs are interpreted; see
	// TransitionOrder. Default Asymmetric.
	Order TransitionOrder

	// Method selects the engine family. Default MethodMultiBatch.
	Method Method

	// MaxStates bounds reachable-state enumeration; DefaultMaxStates
	// when zero.
	MaxStates int

	// BatchSize overrides the block length of the batched engine.
	// Default sqrt(n).
	BatchSize int64

	// GillespieThreshold tunes the engine handoff: the batched engine
	// yields to the event-driven one when the expected number of
	// non-null events per block drops below it. Default sqrt(block).
	GillespieThreshold float64
}

// RunOptions configures one call to Run.
type RunOptions struct {
	// Until is how much parallel time to advance. Zero or negative means
	// run until the configuration is silent (or Predicate holds).
	Until float64

	// Predicate, when non-nil, stops the run once it returns true. It is
	// evaluated on the configuration vector every CheckInterval, not on
	// every interaction. The run also stops at silence, whether or not
	// the predicate holds.
	Predicate func(counts []int64) bool

	// RecordInterval is the parallel time between history snapshots.
	// Default 1.
	RecordInterval float64

	// CheckInterval is the parallel time between predicate and
	// cancellation checks. Default RecordInterval.
	CheckInterval float64
}

// Stats exposes engine instrumentation counters.
type Stats struct {
	Steps            int64
	Blocks           int64
	Collisions       int64
	BatchEvents      int64
	GillespieEvents  int64
	SequentialEvents int64
	EngineSwitches   int64
}

// ewmaDecay weights the newest block's null fraction in the running
// estimate that drives the engine handoff.
const ewmaDecay = 0.1

// Simulation owns one population, one compiled rule and one random stream.
// It is not safe for concurrent use; run independent instances in parallel
// instead (TimeTrials does).
type Simulation struct {
	states []State
	index  map[State]int
	tab    *TransitionTable
	rng    *RNG
	urn    *Urn
	n      int64

	opts      Options
	threshold float64

	mb  *multiBatch
	gl  *gillespie
	seq *sequential

	useGillespie bool
	ewmaNull     float64

	time     float64
	steps    int64
	silent   bool
	silentAt float64
	history  History
	stats    Stats

	initial []int64 // configuration at construction, for Reset
	scratch []int64
}

// New builds a Simulation: enumerates the reachable states, compiles the
// rule, fills the urn and records the initial snapshot at t=0.
func New(init map[State]int64, rule Rule, opts Options) (*Simulation, error) {
	states, index, err := EnumerateStates(init, rule, opts.MaxStates)
	if err != nil {
		return nil, err
	}
	tab, err := NewTransitionTable(states, index, rule, opts.Order)
	if err != nil {
		return nil, err
	}
	counts := make([]int64, len(states))
	var n int64
	for st, c := range init {
		if c < 0 {
			return nil, fmt.Errorf("%w: negative count %d for state %v", ErrInvalidConfig, c, st)
		}
		counts[index[st]] += c
		n += c
	}
	s := &Simulation{
		states:  states,
		index:   index,
		tab:     tab,
		rng:     NewRNG(opts.Seed),
		n:       n,
		opts:    opts,
		initial: counts,
		scratch: make([]int64, len(states)),
	}
	s.urn = NewUrn(counts, s.rng)
	s.initEngines()
	if n < 2 || tab.SilentFor(s.urn) {
		s.markSilent()
	}
	s.history.append(0, counts)
	logrus.Debugf("simulation ready: n=%d q=%d reactions=%d method=%s",
		n, len(states), len(tab.reactions), s.method())
	return s, nil
}

func (s *Simulation) method() Method {
	if s.opts.Method == "" {
		return MethodMultiBatch
	}
	return s.opts.Method
}

func (s *Simulation) initEngines() {
	switch s.method() {
	case MethodSequential:
		s.seq = newSequential(s.tab, s.urn, s.rng)
	case MethodGillespie:
		s.gl = newGillespie(s.tab, s.urn, s.rng)
		s.useGillespie = true
	default:
		s.mb = newMultiBatch(s.tab, s.urn, s.rng, s.opts.BatchSize)
		s.gl = newGillespie(s.tab, s.urn, s.rng)
		s.threshold = s.opts.GillespieThreshold
		if s.threshold <= 0 {
			s.threshold = math.Sqrt(float64(s.mb.batch))
		}
		s.useGillespie = false
	}
	s.ewmaNull = 0
}

// N returns the population size.
func (s *Simulation) N() int64 { return s.n }

// Time returns the current parallel time.
func (s *Simulation) Time() float64 { return s.time }

// Steps returns the number of interaction steps simulated so far.
func (s *Simulation) Steps() int64 { return s.steps }

// Silent reports whether no interaction can change the configuration.
func (s *Simulation) Silent() bool { return s.silent }

// SilentTime returns the parallel time at which silence was first
// detected. Meaningful only when Silent reports true; later runs with a
// time horizon keep advancing the clock past it.
func (s *Simulation) SilentTime() float64 { return s.silentAt }

// markSilent records silence once, pinning the detection time.
func (s *Simulation) markSilent() {
	if s.silent {
		return
	}
	s.silent = true
	if s.n > 0 {
		s.silentAt = float64(s.steps) / float64(s.n)
	} else {
		s.silentAt = 0
	}
}

// StateList returns the ordered state set defining column indices.
func (s *Simulation) StateList() []State {
	out := make([]State, len(s.states))
	copy(out, s.states)
	return out
}

// ConfigDict returns the current configuration as a map holding only
// states with non-zero count.
func (s *Simulation) ConfigDict() map[State]int64 {
	out := make(map[State]int64)
	for i, st := range s.states {
		if c := s.urn.Count(i); c > 0 {
			out[st] = c
		}
	}
	return out
}

// ConfigArray returns the current configuration vector, ordered like
// StateList.
func (s *Simulation) ConfigArray() []int64 {
	return s.urn.Counts(nil)
}

// Count returns the current count of one state (zero when unknown).
func (s *Simulation) Count(st State) int64 {
	i, ok := s.index[st]
	if !ok {
		return 0
	}
	return s.urn.Count(i)
}

// History returns the recorded snapshot stream.
func (s *Simulation) History() *History { return &s.history }

// Stats returns engine instrumentation counters.
func (s *Simulation) Stats() Stats {
	st := s.stats
	st.Steps = s.steps
	if s.mb != nil {
		st.Blocks = s.mb.blocks
		st.Collisions = s.mb.collisions
	}
	return st
}

// Run advances the simulation per opts, appending snapshots to History
// every RecordInterval of parallel time. It returns nil when the stop
// condition was reached (time horizon, predicate, or silence), ErrTimeout
// when the context deadline passed and ErrCancelled when the context was
// cancelled. Cancellation is only observed between chunks, never inside a
// block.
func (s *Simulation) Run(ctx context.Context, opts RunOptions) error {
	record := opts.RecordInterval
	if record <= 0 {
		record = 1
	}
	check := opts.CheckInterval
	if check <= 0 {
		check = record
	}
	start := s.time
	tEnd := math.Inf(1)
	if opts.Until > 0 {
		tEnd = start + opts.Until
	}
	nextRecord := start + record
	nextCheck := start + check
	for {
		if err := ctx.Err(); err != nil {
			return wrapCtxErr(err)
		}
		if s.silent {
			return s.finishSilent(tEnd, nextRecord, record)
		}
		tNext := nextRecord
		if nextCheck < tNext {
			tNext = nextCheck
		}
		if tEnd < tNext {
			tNext = tEnd
		}
		if target := s.stepsFor(tNext); target > s.steps {
			s.advance(target - s.steps)
		}
		s.time = tNext
		if tNext == nextRecord {
			s.record()
			nextRecord += record
		}
		if s.silent {
			continue
		}
		if tNext == nextCheck {
			nextCheck += check
			if opts.Predicate != nil && opts.Predicate(s.urn.Counts(s.scratch)) {
				s.recordIfNew()
				return nil
			}
		}
		if tNext == tEnd {
			s.recordIfNew()
			return nil
		}
	}
}

// stepsFor returns the number of whole interaction steps in t units of
// parallel time, rounding up with a small slack against float drift.
func (s *Simulation) stepsFor(t float64) int64 {
	return int64(math.Ceil(t*float64(s.n) - 1e-9))
}

// finishSilent closes out a run that reached silence. With a finite time
// horizon the remaining snapshots are filled in at the recording cadence,
// differing only in t.
func (s *Simulation) finishSilent(tEnd, nextRecord, record float64) error {
	s.recordIfNew()
	if math.IsInf(tEnd, 1) {
		return nil
	}
	for t := nextRecord; t <= tEnd; t += record {
		s.time = t
		s.record()
	}
	if s.time < tEnd {
		s.time = tEnd
		s.record()
	}
	s.steps = s.stepsFor(tEnd)
	return nil
}

// advance runs the current engine for d interaction steps, handling the
// handoff between the batched and event-driven engines.
func (s *Simulation) advance(d int64) {
	if s.n < 2 {
		s.steps += d
		s.markSilent()
		return
	}
	for d > 0 && !s.silent {
		switch {
		case s.seq != nil:
			ev := s.seq.run(d)
			s.stats.SequentialEvents += ev
			s.steps += d
			d = 0
			if ev == 0 && s.tab.SilentFor(s.urn) {
				s.markSilent()
			}
		case s.useGillespie:
			d = s.advanceGillespie(d)
		default:
			d = s.advanceBatch(d)
		}
	}
}

func (s *Simulation) advanceBatch(d int64) int64 {
	chunk := s.mb.batch
	if d < chunk {
		chunk = d
	}
	ev := s.mb.run(chunk)
	s.stats.BatchEvents += ev
	s.steps += chunk
	nullFrac := 1 - float64(ev)/float64(chunk)
	s.ewmaNull = (1-ewmaDecay)*s.ewmaNull + ewmaDecay*nullFrac
	if ev == 0 && s.tab.SilentFor(s.urn) {
		s.markSilent()
		return 0
	}
	if (1-s.ewmaNull)*float64(s.mb.batch) < s.threshold {
		s.useGillespie = true
		s.stats.EngineSwitches++
		logrus.Debugf("engine handoff to gillespie at t=%.3f (null fraction %.4f)",
			float64(s.steps)/float64(s.n), s.ewmaNull)
	}
	return d - chunk
}

func (s *Simulation) advanceGillespie(d int64) int64 {
	st, ev, silent := s.gl.run(d)
	s.stats.GillespieEvents += ev
	s.steps += st
	if silent {
		s.markSilent()
		return 0
	}
	// switch back once events are dense enough that batching wins again,
	// with hysteresis so the engines do not flap
	if s.mb != nil && st > 0 {
		frac := float64(ev) / float64(st)
		if frac*float64(s.mb.batch) > 2*s.threshold {
			s.useGillespie = false
			s.ewmaNull = 1 - frac
			s.stats.EngineSwitches++
			logrus.Debugf("engine handoff to multibatch at t=%.3f (event fraction %.4f)",
				float64(s.steps)/float64(s.n), frac)
		}
	}
	return d - st
}

func (s *Simulation) record() {
	s.history.append(s.time, s.urn.Counts(s.scratch))
}

func (s *Simulation) recordIfNew() {
	if n := s.history.Len(); n > 0 && s.history.Time(n-1) == s.time {
		return
	}
	s.record()
}

// Reset rewinds to t=0. With a nil config the initial configuration is
// restored; otherwise the given one is installed. States absent from the
// original enumeration are rejected, and a changed population size is
// rejected because it would change the timescale.
func (s *Simulation) Reset(config map[State]int64) error {
	counts := s.initial
	if config != nil {
		var err error
		if counts, err = s.countsOf(config); err != nil {
			return err
		}
		if total(counts) != s.n {
			return fmt.Errorf("%w: population size changed from %d to %d",
				ErrInvalidConfig, s.n, total(counts))
		}
	}
	s.urn.SetCounts(counts)
	s.time = 0
	s.steps = 0
	s.stats = Stats{}
	s.history.reset()
	s.initEngines()
	s.silent = false
	s.silentAt = 0
	if s.n < 2 || s.tab.SilentFor(s.urn) {
		s.markSilent()
	}
	s.history.append(0, counts)
	return nil
}

// SetConfig replaces the current configuration without touching the clock
// or the history. The population size must stay the same.
func (s *Simulation) SetConfig(config map[State]int64) error {
	counts, err := s.countsOf(config)
	if err != nil {
		return err
	}
	if total(counts) != s.n {
		return fmt.Errorf("%w: population size changed from %d to %d",
			ErrInvalidConfig, s.n, total(counts))
	}
	s.urn.SetCounts(counts)
	s.initEngines()
	s.silent = false
	if s.n < 2 || s.tab.SilentFor(s.urn) {
		s.markSilent()
	}
	s.recordIfNew()
	return nil
}

func (s *Simulation) countsOf(config map[State]int64) ([]int64, error) {
	counts := make([]int64, len(s.states))
	for st, c := range config {
		i, ok := s.index[st]
		if !ok {
			return nil, fmt.Errorf("%w: unknown state %v", ErrInvalidConfig, st)
		}
		if c < 0 {
			return nil, fmt.Errorf("%w: negative count %d for state %v", ErrInvalidConfig, c, st)
		}
		counts[i] += c
	}
	return counts, nil
}

func total(counts []int64) int64 {
	var t int64
	for _, c := range counts {
		t += c
	}
	return t
}

// Reactions returns all non-null reactions in reaction notation, one per
// line, with symmetric duplicates merged.
func (s *Simulation) Reactions() string {
	return s.renderReactions(func(Reaction) bool { return true })
}

// EnabledReactions returns the reactions whose inputs are present in the
// current configuration.
func (s *Simulation) EnabledReactions() string {
	return s.renderReactions(func(rx Reaction) bool {
		if rx.In[0] == rx.In[1] {
			return s.urn.Count(rx.In[0]) >= 2
		}
		return s.urn.Count(rx.In[0]) > 0 && s.urn.Count(rx.In[1]) > 0
	})
}

func (s *Simulation) renderReactions(keep func(Reaction) bool) string {
	w := 0
	for _, st := range s.states {
		if l := len(fmt.Sprint(st)); l > w {
			w = l
		}
	}
	seen := make(map[string]bool)
	var lines []string
	for _, rx := range s.tab.reactions {
		if !keep(rx) {
			continue
		}
		line := s.reactionString(rx, w)
		if seen[line] {
			continue
		}
		seen[line] = true
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (s *Simulation) reactionString(rx Reaction, w int) string {
	in := []int{rx.In[0], rx.In[1]}
	out := []int{rx.Out[0], rx.Out[1]}
	sort.Ints(in)
	sort.Ints(out)
	line := fmt.Sprintf("%*v, %*v  -->  %*v, %*v",
		w, s.states[in[0]], w, s.states[in[1]],
		w, s.states[out[0]], w, s.states[out[1]])
	if rx.P < 1 {
		line += fmt.Sprintf("      with probability %v", rx.P)
	}
	return line
}

func wrapCtxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrCancelled, err)
}
