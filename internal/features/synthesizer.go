package features

import (
	"fmt"
	"time"

	"github.com/markcheno/go-talib"

	"fxagent-go/internal/store"
)

// MinRows is the number of aligned rows needed before every derived feature has a value on the
// latest row (the 20-sample moving average is the longest window).
const MinRows = 20

// Vector is the schema-ordered feature row for one decision tick. An empty vector means history was
// insufficient; it is never partially populated.
type Vector struct {
	Names  []string
	Values []float64
	// Filled lists schema features that were not computed this tick and were set to 0.
	Filled []string
	// Price is the target instrument's value on the row the features were computed from.
	Price float64
	Ts    time.Time
}

// Insufficient reports whether the vector is the empty sentinel.
func (v Vector) Insufficient() bool { return len(v.Values) == 0 }

// Get returns the value for a named feature.
func (v Vector) Get(name string) (float64, bool) {
	for i, n := range v.Names {
		if n == name {
			return v.Values[i], true
		}
	}
	return 0, false
}

// Synthesizer computes per-instrument returns, moving averages and lags from the latest aligned row.
type Synthesizer struct {
	schema      Schema
	instruments []string
	target      string
	minLookback int
}

// NewSynthesizer validates the schema and lookback and binds the instruments whose history is
// required on every tick.
func NewSynthesizer(schema Schema, instruments []string, target string, minLookback int) (*Synthesizer, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if len(instruments) == 0 {
		return nil, fmt.Errorf("no instruments configured")
	}
	found := false
	for _, inst := range instruments {
		if inst == target {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("target %q is not among the instruments", target)
	}
	if minLookback < MinRows {
		return nil, fmt.Errorf("min lookback %d is below the longest feature window %d", minLookback, MinRows)
	}
	return &Synthesizer{
		schema:      append(Schema(nil), schema...),
		instruments: append([]string(nil), instruments...),
		target:      target,
		minLookback: minLookback,
	}, nil
}

// Instruments returns the keys that must be snapshotted for Synthesize.
func (s *Synthesizer) Instruments() []string { return append([]string(nil), s.instruments...) }

// Schema returns the output feature order.
func (s *Synthesizer) Schema() Schema { return append(Schema(nil), s.schema...) }

// Synthesize builds the schema-aligned vector for the latest row of frame.
func (s *Synthesizer) Synthesize(frame store.Frame) Vector {
	if frame.Empty() || frame.Rows() < MinRows {
		return Vector{}
	}
	columns := make(map[string][]float64, len(s.instruments))
	for _, inst := range s.instruments {
		if frame.Count(inst) < s.minLookback {
			return Vector{}
		}
		col, ok := frame.Column(inst)
		if !ok || len(col) != frame.Rows() {
			return Vector{}
		}
		columns[inst] = col
	}

	computed := make(map[string]float64, len(s.instruments)*(len(derived)+1))
	for inst, col := range columns {
		compute(inst, col, computed)
	}

	vec := Vector{
		Names:  append([]string(nil), s.schema...),
		Values: make([]float64, len(s.schema)),
		Price:  columns[s.target][frame.Rows()-1],
		Ts:     frame.Times[frame.Rows()-1],
	}
	for i, name := range s.schema {
		v, ok := computed[name]
		if !ok {
			vec.Filled = append(vec.Filled, name)
			continue
		}
		vec.Values[i] = v
	}
	return vec
}

// compute writes the latest-row features of one instrument column into out. A return against a zero
// previous value is left out and ends up zero-filled.
func compute(inst string, col []float64, out map[string]float64) {
	n := len(col)
	last := col[n-1]
	out[Name(inst, Close)] = last

	if prev := col[n-2]; prev != 0 {
		out[Name(inst, Return)] = (last - prev) / prev
	}
	out[Name(inst, SMA5)] = lastOf(talib.Sma(col, 5))
	out[Name(inst, SMA20)] = lastOf(talib.Sma(col, 20))
	out[Name(inst, Lag1)] = col[n-2]
	out[Name(inst, Lag3)] = col[n-4]
	out[Name(inst, Lag5)] = col[n-6]
}

func lastOf(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}
