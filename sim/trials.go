package sim

import (
	"context"
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// TrialResult is the outcome of one independent run to silence.
type TrialResult struct {
	N     int64
	Trial int
	Time  float64 // parallel time at silence
	Steps int64
}

// TrialOptions configures TimeTrials.
type TrialOptions struct {
	// Trials is the number of independent runs per population size.
	// Default 10.
	Trials int

	// MaxParallelTime aborts a trial that has not silenced by this much
	// parallel time; its result reports the time reached. Zero means no
	// limit.
	MaxParallelTime float64

	// Parallelism bounds concurrent trials. Default GOMAXPROCS.
	Parallelism int

	// Options is applied to every trial's Simulation. The per-trial seed
	// is derived from Options.Seed, so distinct trials get independent
	// streams and the whole table is reproducible.
	Options Options
}

// TimeTrials measures time until silence over several population sizes.
// For each n in ns it builds the initial configuration with makeInit, runs
// opts.Trials independent simulations in parallel and collects one
// TrialResult per run, ordered by (n, trial).
func TimeTrials(ctx context.Context, ns []int64, makeInit func(n int64) map[State]int64, rule Rule, opts TrialOptions) ([]TrialResult, error) {
	trials := opts.Trials
	if trials <= 0 {
		trials = 10
	}
	par := opts.Parallelism
	if par <= 0 {
		par = runtime.GOMAXPROCS(0)
	}
	results := make([]TrialResult, len(ns)*trials)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(par)
	for ni, n := range ns {
		for k := 0; k < trials; k++ {
			ni, n, k := ni, n, k
			g.Go(func() error {
				sopts := opts.Options
				sopts.Seed = DeriveSeed(opts.Options.Seed, fmt.Sprintf("trial_%d_%d", n, k))
				s, err := New(makeInit(n), rule, sopts)
				if err != nil {
					return err
				}
				run := RunOptions{Until: opts.MaxParallelTime}
				if err := s.Run(ctx, run); err != nil {
					return err
				}
				t := s.Time()
				if s.Silent() {
					t = s.SilentTime()
				}
				results[ni*trials+k] = TrialResult{N: n, Trial: k, Time: t, Steps: s.Steps()}
				logrus.Debugf("trial n=%d #%d silent=%v t=%.3f", n, k, s.Silent(), s.Time())
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
