package sim

// History is the append-only record of snapshots taken during a run: a time
// column plus one count column per state index, ordered like StateList.
// Rows are copies; nothing is modified after being appended.
type History struct {
	times []float64
	rows  [][]int64
}

// Len returns the number of snapshots.
func (h *History) Len() int { return len(h.times) }

// Time returns the parallel time of snapshot k.
func (h *History) Time(k int) float64 { return h.times[k] }

// Times returns the time column. The caller must not modify it.
func (h *History) Times() []float64 { return h.times }

// Row returns the configuration of snapshot k. The caller must not modify
// it.
func (h *History) Row(k int) []int64 { return h.rows[k] }

func (h *History) append(t float64, counts []int64) {
	row := make([]int64, len(counts))
	copy(row, counts)
	h.times = append(h.times, t)
	h.rows = append(h.rows, row)
}

func (h *History) reset() {
	h.times = h.times[:0]
	h.rows = h.rows[:0]
}
