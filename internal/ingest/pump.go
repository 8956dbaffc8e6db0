package ingest

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fxagent-go/internal/metrics"
	"fxagent-go/internal/signal"
	"fxagent-go/internal/store"
)

// Drop reasons reported on the ticks_dropped_total metric.
const (
	ReasonUnknownSymbol = "unknown_symbol"
	ReasonBadPrice      = "bad_price"
	ReasonBadTimestamp  = "bad_timestamp"
)

// Pump drains feed events into the store. It is the only writer.
type Pump struct {
	log        zerolog.Logger
	store      *store.Store
	normalizer *Normalizer

	mu   sync.RWMutex
	last map[string]signal.Event
}

// NewPump wires a store and a normalizer.
func NewPump(log zerolog.Logger, st *store.Store, normalizer *Normalizer) *Pump {
	return &Pump{log: log, store: st, normalizer: normalizer, last: make(map[string]signal.Event)}
}

// Run consumes events until ctx is canceled or the channel is closed.
func (p *Pump) Run(ctx context.Context, events <-chan signal.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.Handle(ev)
		}
	}
}

// Handle normalizes and stores a single event. Malformed or unknown events are logged and dropped.
func (p *Pump) Handle(ev signal.Event) bool {
	key, ok := p.normalizer.Key(ev.Symbol)
	if !ok || !p.store.Has(key) {
		p.drop(ev, ReasonUnknownSymbol)
		return false
	}
	if ev.Price <= 0 || math.IsNaN(ev.Price) || math.IsInf(ev.Price, 0) {
		p.drop(ev, ReasonBadPrice)
		return false
	}
	if ev.Ts.IsZero() {
		p.drop(ev, ReasonBadTimestamp)
		return false
	}

	p.store.Upsert(key, ev.Ts, ev.Price)
	metrics.TicksTotal.WithLabelValues(key, string(ev.Kind)).Inc()

	ev.Symbol = key
	p.mu.Lock()
	p.last[key] = ev
	p.mu.Unlock()
	p.log.Debug().Str("sym", key).Str("kind", string(ev.Kind)).Float64("px", ev.Price).Time("ts", ev.Ts).Msg("stored event")
	return true
}

func (p *Pump) drop(ev signal.Event, reason string) {
	metrics.TicksDropped.WithLabelValues(reason).Inc()
	p.log.Warn().Str("sym", ev.Symbol).Str("kind", string(ev.Kind)).Float64("px", ev.Price).Str("reason", reason).Msg("dropped event")
}

// LastSeen returns when the most recent event for any instrument was stamped.
func (p *Pump) LastSeen() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var newest time.Time
	for _, ev := range p.last {
		if ev.Ts.After(newest) {
			newest = ev.Ts
		}
	}
	return newest
}
