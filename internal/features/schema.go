// Package features turns an aligned store snapshot into the fixed-schema vector a scorer consumes.
package features

import "fmt"

// Feature suffixes produced per instrument.
const (
	Close  = "Close"
	Return = "Return"
	SMA5   = "SMA_5"
	SMA20  = "SMA_20"
	Lag1   = "Lag_1"
	Lag3   = "Lag_3"
	Lag5   = "Lag_5"
)

// rawColumns mirrors the bar columns the model was trained on. Only Close is observable from the
// stream, so the others are always zero-filled at decision time.
var rawColumns = []string{"Open", "High", "Low", Close, "Volume"}

var derived = []string{Return, SMA5, SMA20, Lag1, Lag3, Lag5}

// Schema is the ordered list of feature names a scorer expects.
type Schema []string

// Name joins an instrument and a feature suffix.
func Name(instrument, suffix string) string {
	return fmt.Sprintf("%s_%s", instrument, suffix)
}

// BuildSchema reconstructs the training column layout: raw bar columns for every instrument, then the
// derived features, with the target's Close removed since it is the value being predicted.
func BuildSchema(instruments []string, target string) Schema {
	seen := make(map[string]struct{})
	var out Schema
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, col := range rawColumns {
		for _, inst := range instruments {
			name := Name(inst, col)
			if inst == target && col == Close {
				continue
			}
			add(name)
		}
	}
	for _, inst := range instruments {
		for _, suffix := range derived {
			add(Name(inst, suffix))
		}
	}
	return out
}

// Validate rejects empty schemas and duplicate names.
func (s Schema) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("feature schema is empty")
	}
	seen := make(map[string]struct{}, len(s))
	for _, name := range s {
		if name == "" {
			return fmt.Errorf("feature schema contains a blank name")
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("duplicate feature %q", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// Index maps each feature name to its position.
func (s Schema) Index() map[string]int {
	out := make(map[string]int, len(s))
	for i, name := range s {
		out[name] = i
	}
	return out
}
