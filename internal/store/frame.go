package store

import (
	"sort"
	"time"
)

// Frame is a time-aligned view across several instruments. Columns[i] belongs to Keys[i] and has
// one value per entry in Times.
type Frame struct {
	Keys    []string
	Times   []time.Time
	Columns [][]float64
	// Counts holds the raw number of samples each key had when the snapshot was taken.
	Counts []int
}

// Empty reports whether the frame has no aligned rows.
func (f Frame) Empty() bool { return len(f.Times) == 0 }

// Rows returns the number of aligned rows.
func (f Frame) Rows() int { return len(f.Times) }

// Column returns the aligned values for key.
func (f Frame) Column(key string) ([]float64, bool) {
	for i, k := range f.Keys {
		if k == key {
			if i < len(f.Columns) {
				return f.Columns[i], true
			}
			return nil, false
		}
	}
	return nil, false
}

// Count returns the raw sample count recorded for key.
func (f Frame) Count(key string) int {
	for i, k := range f.Keys {
		if k == key && i < len(f.Counts) {
			return f.Counts[i]
		}
	}
	return 0
}

// Snapshot copies each requested series under its own read lock and joins the copies outside any
// lock: outer join on timestamp, forward fill, then drop the leading rows where some key had no
// history yet. The result is empty when any requested key is unknown or has no samples.
func (s *Store) Snapshot(keys []string) Frame {
	frame := Frame{Keys: append([]string(nil), keys...), Counts: make([]int, len(keys))}
	if len(keys) == 0 {
		return frame
	}

	copies := make([][]Sample, len(keys))
	missing := false
	for i, k := range keys {
		sr, ok := s.series[k]
		if !ok {
			missing = true
			continue
		}
		copies[i] = sr.copySamples()
		frame.Counts[i] = len(copies[i])
		if len(copies[i]) == 0 {
			missing = true
		}
	}
	if missing {
		return frame
	}

	// Rows before the latest first-sample still hold a gap after forward fill.
	start := copies[0][0].Ts
	total := 0
	for _, c := range copies {
		if c[0].Ts.After(start) {
			start = c[0].Ts
		}
		total += len(c)
	}

	times := make([]time.Time, 0, total)
	for _, c := range copies {
		for _, sm := range c {
			if !sm.Ts.Before(start) {
				times = append(times, sm.Ts)
			}
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	times = dedupeTimes(times)

	frame.Times = times
	frame.Columns = make([][]float64, len(keys))
	for i, c := range copies {
		frame.Columns[i] = forwardFill(c, times)
	}
	return frame
}

func dedupeTimes(times []time.Time) []time.Time {
	if len(times) < 2 {
		return times
	}
	out := times[:1]
	for _, t := range times[1:] {
		if !t.Equal(out[len(out)-1]) {
			out = append(out, t)
		}
	}
	return out
}

// forwardFill samples c at each of times, carrying the last known value forward. Every entry of
// times must be at or after c[0].Ts.
func forwardFill(c []Sample, times []time.Time) []float64 {
	out := make([]float64, len(times))
	j := 0
	last := c[0].Value
	for i, t := range times {
		for j < len(c) && !c[j].Ts.After(t) {
			last = c[j].Value
			j++
		}
		out[i] = last
	}
	return out
}
