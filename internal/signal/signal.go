// Package signal standardizes payloads shared between data ingestion, decision, and execution layers.
package signal

import (
	"fmt"
	"time"
)

// EventKind distinguishes trade-level from bar-level pushes.
type EventKind string

const (
	KindTrade EventKind = "trade"
	KindBar   EventKind = "bar"
)

// Event is a market data push normalized by a feed before it reaches the store.
type Event struct {
	Kind        EventKind
	Symbol      string
	Price       float64 // trade price or bar close
	Ts          time.Time
	BarInterval time.Duration // zero for trades
}

// Action is the discrete trading decision.
type Action string

const (
	Buy  Action = "buy"
	Sell Action = "sell"
	Hold Action = "hold"
)

// Signal carries the decision together with the prices that produced it.
type Signal struct {
	Action    Action
	Current   float64
	Predicted float64
	Ts        time.Time
}

// NoDecision is the (Hold, 0, 0) sentinel returned when no prediction could be made.
func NoDecision() Signal {
	return Signal{Action: Hold}
}

// IsNoDecision reports whether s is the sentinel rather than a model-driven hold.
func (s Signal) IsNoDecision() bool {
	return s.Action == Hold && s.Current == 0 && s.Predicted == 0
}

func (s Signal) String() string {
	return fmt.Sprintf("%s current=%.5f predicted=%.5f", s.Action, s.Current, s.Predicted)
}
