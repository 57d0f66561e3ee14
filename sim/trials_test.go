package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trialInit(n int64) map[State]int64 {
	return map[State]int64{"A": n - n/4, "B": n / 4}
}

func TestTimeTrials(t *testing.T) {
	ns := []int64{100, 400}
	opts := TrialOptions{
		Trials:  4,
		Options: Options{Seed: 99, Order: Symmetric},
	}
	results, err := TimeTrials(context.Background(), ns, trialInit, approxMajorityRule(), opts)
	require.NoError(t, err)
	require.Len(t, results, 8)

	for k, r := range results {
		assert.Equal(t, ns[k/4], r.N, "results are ordered by (n, trial)")
		assert.Equal(t, k%4, r.Trial)
		assert.Positive(t, r.Time, "a mixed configuration takes time to silence")
		assert.Positive(t, r.Steps)
	}
}

func TestTimeTrials_Reproducible(t *testing.T) {
	opts := TrialOptions{
		Trials:      3,
		Parallelism: 2,
		Options:     Options{Seed: 7, Order: Symmetric},
	}
	r1, err := TimeTrials(context.Background(), []int64{200}, trialInit, approxMajorityRule(), opts)
	require.NoError(t, err)
	r2, err := TimeTrials(context.Background(), []int64{200}, trialInit, approxMajorityRule(), opts)
	require.NoError(t, err)
	assert.Equal(t, r1, r2, "derived seeds make the whole table deterministic")
}

func TestTimeTrials_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := TimeTrials(ctx, []int64{1000}, trialInit, approxMajorityRule(), TrialOptions{
		Trials:  2,
		Options: Options{Seed: 1, Order: Symmetric},
	})
	assert.ErrorIs(t, err, ErrCancelled)
}
