// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package imputation

import (
	"math"
	"testing"

	"github.com/bitjungle/msnm-sensor/pkg/model"
	"github.com/stretchr/testify/require"
)

func TestZero(t *testing.T) {
	obs := []float64{1, math.NaN(), 3, math.NaN()}
	out, err := Zero(obs, nil)
	require.NoError(t, err)
	require.Equal(t, []float64{1, 0, 3, 0}, out)
	// original untouched
	require.True(t, math.IsNaN(obs[1]))
}

func TestMeanRequiresModel(t *testing.T) {
	obs := []float64{1, math.NaN()}
	_, err := Mean(obs, nil)
	require.ErrorIs(t, err, ErrModelRequired)
}

func TestMeanReplacesWithModelAvg(t *testing.T) {
	obs := []float64{math.NaN(), 2, math.NaN()}
	m := &model.Model{Avg: []float64{10, 20, 30}}
	out, err := Mean(obs, m)
	require.NoError(t, err)
	require.Equal(t, []float64{10, 2, 30}, out)
}

func TestMeanWidthMismatch(t *testing.T) {
	obs := []float64{1, 2}
	m := &model.Model{Avg: []float64{10, 20, 30}}
	_, err := Mean(obs, m)
	require.Error(t, err)
}

func TestHasMissing(t *testing.T) {
	require.True(t, HasMissing([]float64{1, math.NaN()}))
	require.False(t, HasMissing([]float64{1, 2, 3}))
}

func TestLookupAndRegister(t *testing.T) {
	s, ok := Lookup("zero")
	require.True(t, ok)
	require.NotNil(t, s)

	_, ok = Lookup("does-not-exist")
	require.False(t, ok)

	called := false
	Register("noop", func(obs []float64, _ *model.Model) ([]float64, error) {
		called = true
		return obs, nil
	})
	s, ok = Lookup("noop")
	require.True(t, ok)
	_, err := s([]float64{1}, nil)
	require.NoError(t, err)
	require.True(t, called)
}
