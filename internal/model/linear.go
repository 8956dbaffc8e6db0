// Package model loads the externally trained scorer used by the decision engine.
package model

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"fxagent-go/internal/features"
)

// ErrFeatureMismatch is returned when a model references features the schema does not provide.
var ErrFeatureMismatch = errors.New("model features do not match schema")

// Linear is a standardized linear regression exported from the training pipeline. When Mean and
// Scale are present each input is transformed as (x-mean)/scale before weighting, the same way the
// training scaler was applied.
type Linear struct {
	Name      string             `yaml:"name"`
	Features  []string           `yaml:"features"`
	Intercept float64            `yaml:"intercept"`
	Weights   map[string]float64 `yaml:"weights"`
	Mean      map[string]float64 `yaml:"mean"`
	Scale     map[string]float64 `yaml:"scale"`
}

// Load reads a YAML (or JSON) model file.
func Load(path string) (*Linear, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	defer file.Close()

	var m Linear
	if err := yaml.NewDecoder(file).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if len(m.Weights) == 0 {
		return nil, fmt.Errorf("model %q has no weights", m.Name)
	}
	for name, s := range m.Scale {
		if s == 0 || math.IsNaN(s) {
			return nil, fmt.Errorf("model %q: invalid scale for %s", m.Name, name)
		}
	}
	return &m, nil
}

// Schema returns the feature order the model was trained with, if the file declares one.
func (m *Linear) Schema() features.Schema {
	return features.Schema(append([]string(nil), m.Features...))
}

// Bound is a Linear model resolved against a concrete schema order.
type Bound struct {
	intercept float64
	coef      []float64
	mean      []float64
	scale     []float64
}

// Bind resolves weights to schema positions. Every weighted feature must be present in the schema;
// schema features without a weight contribute nothing.
func (m *Linear) Bind(schema features.Schema) (*Bound, error) {
	index := schema.Index()
	b := &Bound{
		intercept: m.Intercept,
		coef:      make([]float64, len(schema)),
		mean:      make([]float64, len(schema)),
		scale:     make([]float64, len(schema)),
	}
	for i := range b.scale {
		b.scale[i] = 1
	}
	var missing []string
	for name, w := range m.Weights {
		i, ok := index[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		b.coef[i] = w
		if mu, ok := m.Mean[name]; ok {
			b.mean[i] = mu
		}
		if s, ok := m.Scale[name]; ok {
			b.scale[i] = s
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrFeatureMismatch, missing)
	}
	return b, nil
}

// Predict returns the predicted price for a row ordered like the bound schema.
func (b *Bound) Predict(row []float64) (float64, error) {
	if len(row) != len(b.coef) {
		return 0, fmt.Errorf("%w: row has %d values, schema has %d", ErrFeatureMismatch, len(row), len(b.coef))
	}
	y := b.intercept
	for i, x := range row {
		if b.coef[i] == 0 {
			continue
		}
		y += b.coef[i] * (x - b.mean[i]) / b.scale[i]
	}
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return 0, fmt.Errorf("non-finite prediction")
	}
	return y, nil
}
