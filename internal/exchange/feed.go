// Package exchange hosts market data connectors that push events toward the ingestion pump.
package exchange

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fxagent-go/internal/signal"
)

const (
	// ProviderStub emits a synthetic random walk (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderAlpaca streams trades and bars from an Alpaca-compatible v2 websocket.
	ProviderAlpaca = "alpaca"
)

// Feed represents a pluggable market data stream implementation.
type Feed struct {
	provider     string
	symbols      []string
	log          zerolog.Logger
	url          string
	apiKey       string
	apiSecret    string
	stubInterval time.Duration
	barInterval  time.Duration
	minBackoff   time.Duration
	maxBackoff   time.Duration
	mu           sync.RWMutex
}

// Option configures Feed construction parameters.
type Option func(*Feed)

const (
	defaultStubInterval = 500 * time.Millisecond
	defaultMinBackoff   = time.Second
	defaultMaxBackoff   = 30 * time.Second
)

// WithStreamURL sets the websocket endpoint for streaming providers.
func WithStreamURL(url string) Option {
	return func(f *Feed) { f.url = strings.TrimSpace(url) }
}

// WithCredentials sets the key pair sent in the auth message.
func WithCredentials(key, secret string) Option {
	return func(f *Feed) {
		f.apiKey = key
		f.apiSecret = secret
	}
}

// WithStubInterval overrides the synthetic tick cadence.
func WithStubInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.stubInterval = d
		}
	}
}

// WithBarInterval records the subscribed bar width on every bar event.
func WithBarInterval(d time.Duration) Option {
	return func(f *Feed) { f.barInterval = d }
}

// WithBackoff overrides reconnect backoff bounds.
func WithBackoff(min, max time.Duration) Option {
	return func(f *Feed) {
		if min > 0 {
			f.minBackoff = min
		}
		if max >= min && max > 0 {
			f.maxBackoff = max
		}
	}
}

// NewFeed constructs a feed backed by the requested provider. Symbols are feed-native.
func NewFeed(provider string, symbols []string, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider:     strings.ToLower(provider),
		log:          log,
		stubInterval: defaultStubInterval,
		minBackoff:   defaultMinBackoff,
		maxBackoff:   defaultMaxBackoff,
	}
	f.setSymbols(symbols)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// setSymbols stores the subscription list deduplicated and sorted for determinism.
func (f *Feed) setSymbols(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	unique := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.TrimSpace(sym)
		if sym == "" {
			continue
		}
		unique[sym] = struct{}{}
	}
	f.symbols = f.symbols[:0]
	for sym := range unique {
		f.symbols = append(f.symbols, sym)
	}
	sort.Strings(f.symbols)
}

func (f *Feed) snapshotSymbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

// Run pushes events onto out until the context is canceled or the provider fails permanently.
func (f *Feed) Run(ctx context.Context, out chan<- signal.Event) error {
	switch f.provider {
	case ProviderAlpaca:
		return f.runAlpaca(ctx, out)
	default:
		return f.runStub(ctx, out)
	}
}

func (f *Feed) runStub(ctx context.Context, out chan<- signal.Event) error {
	ticker := time.NewTicker(f.stubInterval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	prices := make(map[string]float64)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			for _, s := range f.snapshotSymbols() {
				px, ok := prices[s]
				if !ok {
					px = 100
				}
				px *= 1 + (rng.Float64()-0.5)*0.002
				prices[s] = px
				ev := signal.Event{Kind: signal.KindTrade, Symbol: s, Price: px, Ts: ts}
				select {
				case out <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}
