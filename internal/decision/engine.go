// Package decision converts a feature vector and a scorer prediction into a trading signal.
package decision

import (
	"fmt"
	"math"

	"fxagent-go/internal/features"
	"fxagent-go/internal/signal"
)

// Scorer is any model that maps a schema-ordered feature row to a predicted price.
type Scorer interface {
	Predict(row []float64) (float64, error)
}

// ScorerFunc adapts a plain function to Scorer.
type ScorerFunc func(row []float64) (float64, error)

// Predict calls f.
func (f ScorerFunc) Predict(row []float64) (float64, error) { return f(row) }

// Evaluate applies the threshold rule. An insufficient vector or an unknown (zero, negative or
// non-finite) current price yields the (Hold, 0, 0) sentinel without consulting the scorer.
func Evaluate(vec features.Vector, scorer Scorer, current, threshold float64) (signal.Signal, error) {
	if vec.Insufficient() || !known(current) {
		return signal.NoDecision(), nil
	}
	predicted, err := scorer.Predict(vec.Values)
	if err != nil {
		return signal.NoDecision(), fmt.Errorf("predict: %w", err)
	}

	sig := signal.Signal{Action: signal.Hold, Current: current, Predicted: predicted, Ts: vec.Ts}
	switch {
	case predicted > current*(1+threshold):
		sig.Action = signal.Buy
	case predicted < current*(1-threshold):
		sig.Action = signal.Sell
	}
	return sig, nil
}

func known(price float64) bool {
	return price > 0 && !math.IsNaN(price) && !math.IsInf(price, 0)
}

// Engine binds a scorer and threshold for repeated evaluation by the decision loop.
type Engine struct {
	scorer    Scorer
	threshold float64
}

// NewEngine validates the threshold and returns an engine.
func NewEngine(scorer Scorer, threshold float64) (*Engine, error) {
	if scorer == nil {
		return nil, fmt.Errorf("nil scorer")
	}
	if threshold < 0 || math.IsNaN(threshold) {
		return nil, fmt.Errorf("invalid threshold %v", threshold)
	}
	return &Engine{scorer: scorer, threshold: threshold}, nil
}

// Threshold returns the relative move required for a buy or sell.
func (e *Engine) Threshold() float64 { return e.threshold }

// Evaluate runs the threshold rule using the vector's own target price as the current price.
func (e *Engine) Evaluate(vec features.Vector) (signal.Signal, error) {
	return Evaluate(vec, e.scorer, vec.Price, e.threshold)
}
