package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_AppendCopies(t *testing.T) {
	var h History
	row := []int64{1, 2, 3}
	h.append(0, row)
	row[0] = 99
	h.append(0.5, row)

	require.Equal(t, 2, h.Len())
	assert.Equal(t, []int64{1, 2, 3}, h.Row(0), "appended rows are snapshots, not views")
	assert.Equal(t, []int64{99, 2, 3}, h.Row(1))
	assert.Equal(t, 0.0, h.Time(0))
	assert.Equal(t, 0.5, h.Time(1))
	assert.Equal(t, []float64{0, 0.5}, h.Times())
}

func TestHistory_Reset(t *testing.T) {
	var h History
	h.append(0, []int64{5})
	h.append(1, []int64{5})
	h.reset()
	assert.Zero(t, h.Len())
}
