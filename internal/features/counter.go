// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

// Package features turns parsed Records into the numeric feature
// vectors the sensor core operates on: one non-negative count per
// configured Feature, derived by matching a Variable's value against
// a single value, a set of values, a numeric range, or a regexp.
package features

import (
	"fmt"
	"regexp"

	"github.com/bitjungle/msnm-sensor/pkg/model"
	"github.com/bitjungle/msnm-sensor/pkg/utils"
)

// Counter evaluates one Record at a time against a fixed, ordered list
// of Features and returns the resulting count vector.
type Counter struct {
	features []model.Feature
	regexps  []*regexp.Regexp // parallel to features; nil for non-regexp features
	decimal  rune
}

// NewCounter compiles the regexp features up-front so Count never pays
// a compilation cost on the hot path. decimalSeparator selects '.' or
// ',' for parsing range bounds.
func NewCounter(featureList []model.Feature, decimalSeparator rune) (*Counter, error) {
	c := &Counter{
		features: append([]model.Feature(nil), featureList...),
		regexps:  make([]*regexp.Regexp, len(featureList)),
		decimal:  decimalSeparator,
	}
	for i, f := range c.features {
		if f.MatchType != model.MatchRegexp {
			continue
		}
		if len(f.Value) != 1 {
			return nil, fmt.Errorf("features: regexp feature %q requires exactly one pattern", f.Name)
		}
		re, err := regexp.Compile(f.Value[0])
		if err != nil {
			return nil, fmt.Errorf("features: invalid regexp for feature %q: %w", f.Name, err)
		}
		c.regexps[i] = re
	}
	return c, nil
}

// Count returns one count per configured Feature, in the same order,
// for a single Record. A feature fires at most once per record (the
// counts are 0 or Weight), and a "default" feature for a variable
// fires only when no other feature for that same variable matched.
func (c *Counter) Count(rec model.Record) ([]float64, error) {
	counts := make([]float64, len(c.features))
	matchedVariable := make(map[string]bool)
	defaultIdx := make(map[string]int)

	for i, f := range c.features {
		if f.MatchType == model.MatchDefault {
			defaultIdx[f.Variable] = i
			continue
		}

		value, ok := rec.Value(f.Variable)
		if !ok || utils.ContainsMissingValues([]string{value}, utils.DefaultMissingValues()) {
			continue
		}

		matched, err := c.matches(i, f, value)
		if err != nil {
			return nil, err
		}
		if matched {
			weight := f.Weight
			if weight == 0 {
				weight = 1
			}
			counts[i] += weight
			matchedVariable[f.Variable] = true
		}
	}

	for variable, idx := range defaultIdx {
		if !matchedVariable[variable] {
			weight := c.features[idx].Weight
			if weight == 0 {
				weight = 1
			}
			counts[idx] += weight
		}
	}

	return counts, nil
}

func (c *Counter) matches(i int, f model.Feature, value string) (bool, error) {
	switch f.MatchType {
	case model.MatchSingle:
		return len(f.Value) == 1 && value == f.Value[0], nil

	case model.MatchMultiple:
		for _, v := range f.Value {
			if value == v {
				return true, nil
			}
		}
		return false, nil

	case model.MatchRange:
		if len(f.Value) != 2 {
			return false, fmt.Errorf("features: range feature %q requires exactly [low, high]", f.Name)
		}
		v, err := utils.ParseNumericValue(value, c.decimal)
		if err != nil {
			return false, nil // non-numeric record value simply doesn't match a numeric range
		}
		low, err := utils.ParseNumericValue(f.Value[0], c.decimal)
		if err != nil {
			return false, fmt.Errorf("features: invalid lower bound for feature %q: %w", f.Name, err)
		}
		high, err := utils.ParseNumericValue(f.Value[1], c.decimal)
		if err != nil {
			return false, fmt.Errorf("features: invalid upper bound for feature %q: %w", f.Name, err)
		}
		return v >= low && v <= high, nil

	case model.MatchRegexp:
		return c.regexps[i].MatchString(value), nil

	default:
		return false, fmt.Errorf("features: unknown match type %q for feature %q", f.MatchType, f.Name)
	}
}

// VariableNames returns the distinct variable names referenced by the
// counter's features, in first-seen order.
func (c *Counter) VariableNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, f := range c.features {
		if !seen[f.Variable] {
			seen[f.Variable] = true
			names = append(names, f.Variable)
		}
	}
	return names
}

// Width returns the number of features the counter produces per record.
func (c *Counter) Width() int {
	return len(c.features)
}
