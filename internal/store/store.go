// Package store keeps bounded, per-instrument price history shared by ingestion and the decision loop.
package store

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Sample is a single observation at an event timestamp.
type Sample struct {
	Ts    time.Time
	Value float64
}

type series struct {
	mu      sync.RWMutex
	samples []Sample
}

// Store owns one retention-limited series per configured instrument. The key set is fixed at
// construction so writers only ever contend on their own series lock.
type Store struct {
	retention time.Duration
	series    map[string]*series
	keys      []string
}

// New creates an empty series for every key. Duplicate and blank keys are ignored.
func New(keys []string, retention time.Duration) *Store {
	s := &Store{retention: retention, series: make(map[string]*series, len(keys))}
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := s.series[k]; ok {
			continue
		}
		s.series[k] = &series{}
		s.keys = append(s.keys, k)
	}
	return s
}

// Keys returns the configured instruments in construction order.
func (s *Store) Keys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Has reports whether key was configured.
func (s *Store) Has(key string) bool {
	_, ok := s.series[key]
	return ok
}

// Retention returns the configured retention window.
func (s *Store) Retention() time.Duration { return s.retention }

// Upsert inserts or overwrites the sample at ts and prunes everything older than the newest
// sample minus the retention window. Unknown keys, zero timestamps and non-finite values are ignored;
// Accepts reports the same checks for callers that want to log a rejection.
func (s *Store) Upsert(key string, ts time.Time, value float64) {
	if !s.Accepts(key, ts, value) {
		return
	}
	sr := s.series[key]
	sr.mu.Lock()
	sr.upsert(ts, value)
	sr.prune(s.retention)
	sr.mu.Unlock()
}

// Accepts reports whether Upsert would store the sample.
func (s *Store) Accepts(key string, ts time.Time, value float64) bool {
	if _, ok := s.series[key]; !ok {
		return false
	}
	if ts.IsZero() || math.IsNaN(value) || math.IsInf(value, 0) {
		return false
	}
	return true
}

func (sr *series) upsert(ts time.Time, value float64) {
	n := len(sr.samples)
	// Fast path: in-order arrival.
	if n == 0 || sr.samples[n-1].Ts.Before(ts) {
		sr.samples = append(sr.samples, Sample{Ts: ts, Value: value})
		return
	}
	idx := sort.Search(n, func(i int) bool { return !sr.samples[i].Ts.Before(ts) })
	if idx < n && sr.samples[idx].Ts.Equal(ts) {
		sr.samples[idx].Value = value
		return
	}
	sr.samples = append(sr.samples, Sample{})
	copy(sr.samples[idx+1:], sr.samples[idx:])
	sr.samples[idx] = Sample{Ts: ts, Value: value}
}

func (sr *series) prune(retention time.Duration) {
	if len(sr.samples) == 0 || retention <= 0 {
		return
	}
	cutoff := sr.samples[len(sr.samples)-1].Ts.Add(-retention)
	idx := sort.Search(len(sr.samples), func(i int) bool { return !sr.samples[i].Ts.Before(cutoff) })
	if idx == 0 {
		return
	}
	// Shift down instead of reslicing so the backing array does not grow without bound.
	n := copy(sr.samples, sr.samples[idx:])
	sr.samples = sr.samples[:n]
}

func (sr *series) copySamples() []Sample {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	out := make([]Sample, len(sr.samples))
	copy(out, sr.samples)
	return out
}

// Len returns the number of samples currently retained for key.
func (s *Store) Len(key string) int {
	sr, ok := s.series[key]
	if !ok {
		return 0
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return len(sr.samples)
}

// Latest returns the newest sample for key.
func (s *Store) Latest(key string) (Sample, bool) {
	sr, ok := s.series[key]
	if !ok {
		return Sample{}, false
	}
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	if len(sr.samples) == 0 {
		return Sample{}, false
	}
	return sr.samples[len(sr.samples)-1], true
}

// Series returns a copy of the samples retained for key.
func (s *Store) Series(key string) []Sample {
	sr, ok := s.series[key]
	if !ok {
		return nil
	}
	return sr.copySamples()
}
