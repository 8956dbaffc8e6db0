// Package ingest normalizes feed events and writes them into the time series store.
package ingest

import (
	"strings"
)

// Normalizer maps feed-native symbols onto store keys.
type Normalizer struct {
	quote  string
	byFeed map[string]string
	feed   []string
}

// NewNormalizer builds the mapping for the configured forex pairs and equities. Forex pairs are
// subscribed without the quote suffix, so "EURUSD" with quote "USD" is streamed as "EUR".
func NewNormalizer(forexPairs, equities []string, quote string) *Normalizer {
	n := &Normalizer{
		quote:  strings.ToUpper(strings.TrimSpace(quote)),
		byFeed: make(map[string]string, len(forexPairs)+len(equities)),
	}
	for _, pair := range forexPairs {
		pair = strings.ToUpper(strings.TrimSpace(pair))
		if pair == "" {
			continue
		}
		native := pair
		if n.quote != "" && pair != n.quote {
			native = strings.TrimSuffix(pair, n.quote)
		}
		n.add(native, pair)
	}
	for _, sym := range equities {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		n.add(sym, sym)
	}
	return n
}

func (n *Normalizer) add(native, key string) {
	if _, ok := n.byFeed[native]; ok {
		return
	}
	n.byFeed[native] = key
	n.feed = append(n.feed, native)
}

// FeedSymbols returns the subscription list in configuration order.
func (n *Normalizer) FeedSymbols() []string {
	return append([]string(nil), n.feed...)
}

// Key resolves a feed symbol to its store key. Canonical keys resolve to themselves.
func (n *Normalizer) Key(symbol string) (string, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if key, ok := n.byFeed[symbol]; ok {
		return key, true
	}
	for _, key := range n.byFeed {
		if key == symbol {
			return key, true
		}
	}
	return "", false
}
