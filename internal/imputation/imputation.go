// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

// Package imputation repairs an observation row that carries NaN runs
// left by sources that missed an interval's deadline. Strategies are
// registered by name so a configuration value selects one without the
// caller needing to know the concrete type.
package imputation

import (
	"fmt"
	"math"

	"github.com/bitjungle/msnm-sensor/pkg/model"
)

// ErrModelRequired is returned by strategies that need a calibrated
// model (e.g. mean imputation) when none is available yet.
var ErrModelRequired = fmt.Errorf("imputation: strategy requires a calibrated model")

// Strategy returns a copy of obs with its NaN entries repaired; obs
// itself is left unchanged. m may be nil for strategies that don't need it; a
// strategy that does need it must return ErrModelRequired when m is nil.
type Strategy func(obs []float64, m *model.Model) ([]float64, error)

var registry = map[string]Strategy{
	"zero": Zero,
	"mean": Mean,
}

// Register adds or replaces a named strategy in the open registry.
func Register(name string, s Strategy) {
	registry[name] = s
}

// Lookup returns the strategy registered under name, if any.
func Lookup(name string) (Strategy, bool) {
	s, ok := registry[name]
	return s, ok
}

// Zero replaces every NaN entry with 0.
func Zero(obs []float64, _ *model.Model) ([]float64, error) {
	out := append([]float64(nil), obs...)
	for i, v := range out {
		if math.IsNaN(v) {
			out[i] = 0
		}
	}
	return out, nil
}

// Mean replaces every NaN entry with the corresponding column of the
// calibrated model's average vector. It requires a calibrated model.
func Mean(obs []float64, m *model.Model) ([]float64, error) {
	if m == nil {
		return nil, ErrModelRequired
	}
	if len(obs) != len(m.Avg) {
		return nil, fmt.Errorf("imputation: observation width %d does not match model width %d", len(obs), len(m.Avg))
	}
	out := append([]float64(nil), obs...)
	for i, v := range out {
		if math.IsNaN(v) {
			out[i] = m.Avg[i]
		}
	}
	return out, nil
}

// HasMissing reports whether obs carries any NaN entry.
func HasMissing(obs []float64) bool {
	for _, v := range obs {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
