package paper

import (
	"sync"

	"fxagent-go/internal/execution"
)

// Ledger keeps the most recent fills in memory, evicting the oldest beyond its capacity.
type Ledger struct {
	mu       sync.Mutex
	capacity int
	fills    []execution.Fill
	total    int
}

// NewLedger creates an empty ledger holding at most capacity fills (minimum 1).
func NewLedger(capacity int) *Ledger {
	if capacity < 1 {
		capacity = 1
	}
	return &Ledger{capacity: capacity, fills: make([]execution.Fill, 0, capacity)}
}

// Record appends a fill, dropping the oldest when full.
func (l *Ledger) Record(fill execution.Fill) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total++
	if len(l.fills) == l.capacity {
		copy(l.fills, l.fills[1:])
		l.fills[len(l.fills)-1] = fill
		return
	}
	l.fills = append(l.fills, fill)
}

// Snapshot returns a copy of the retained fills, oldest first.
func (l *Ledger) Snapshot() []execution.Fill {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]execution.Fill, len(l.fills))
	copy(out, l.fills)
	return out
}

// Total counts every fill ever recorded, including evicted ones.
func (l *Ledger) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
