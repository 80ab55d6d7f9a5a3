// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package core

import (
	"math"
	"testing"

	"github.com/bitjungle/msnm-sensor/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreprocessStaticIdentity(t *testing.T) {
	x := [][]float64{{1, 2}, {3, 4}}
	xcs, avg, sd := PreprocessStatic(x, model.PreprocessIdentity)
	assert.Equal(t, x, xcs)
	assert.Equal(t, []float64{0, 0}, avg)
	assert.Equal(t, []float64{1, 1}, sd)
}

func TestPreprocessStaticCenterOnly(t *testing.T) {
	x := [][]float64{{1, 10}, {3, 20}, {5, 30}}
	xcs, avg, sd := PreprocessStatic(x, model.PreprocessCenterOnly)

	require.InDelta(t, 3, avg[0], 1e-9)
	require.InDelta(t, 20, avg[1], 1e-9)
	assert.Equal(t, []float64{1, 1}, sd)

	for j := 0; j < 2; j++ {
		sum := 0.0
		for i := range xcs {
			sum += xcs[i][j]
		}
		assert.InDelta(t, 0, sum, 1e-9)
	}
}

func TestPreprocessStaticAutoScale(t *testing.T) {
	x := [][]float64{{1, 10}, {3, 20}, {5, 30}, {7, 40}}
	xcs, avg, sd := PreprocessStatic(x, model.PreprocessAutoScale)

	require.Len(t, avg, 2)
	require.Len(t, sd, 2)
	for j := 0; j < 2; j++ {
		mean, sumSq := 0.0, 0.0
		for i := range xcs {
			mean += xcs[i][j]
		}
		mean /= float64(len(xcs))
		for i := range xcs {
			d := xcs[i][j] - mean
			sumSq += d * d
		}
		assert.InDelta(t, 0, mean, 1e-9)
		assert.InDelta(t, 1, sumSq/float64(len(xcs)-1), 1e-6)
	}
}

func TestPreprocessStaticAutoScaleZeroVarianceColumn(t *testing.T) {
	x := [][]float64{{5, 1}, {5, 2}, {5, 3}}
	xcs, _, sd := PreprocessStatic(x, model.PreprocessAutoScale)

	assert.NotZero(t, sd[0])
	for _, row := range xcs {
		assert.False(t, math.IsNaN(row[0]))
		assert.False(t, math.IsInf(row[0], 0))
	}
}

func TestPreprocessStaticIgnoresNaN(t *testing.T) {
	x := [][]float64{{1, math.NaN()}, {3, 5}, {5, 7}}
	_, avg, _ := PreprocessStatic(x, model.PreprocessCenterOnly)
	assert.InDelta(t, 6, avg[1], 1e-9)
}

func TestPreprocessDynamicMatchesStaticOnFirstBatch(t *testing.T) {
	x := [][]float64{{1, 10}, {3, 20}, {5, 30}, {7, 40}}
	_, avgStatic, sdStatic := PreprocessStatic(x, model.PreprocessAutoScale)

	_, avgDyn, sdDyn, n := PreprocessDynamic(x, model.PreprocessAutoScale, 1, []float64{0, 0}, []float64{0, 0}, 0)

	for j := range avgStatic {
		assert.InDelta(t, avgStatic[j], avgDyn[j], 1e-9)
		assert.InDelta(t, sdStatic[j], sdDyn[j], 1e-9)
	}
	assert.Equal(t, 4, n)
}

func TestPreprocessDynamicAccumulatesAcrossBatches(t *testing.T) {
	// EWMA folds the second batch's deviations around the *updated*
	// mean onto the first batch's deviations around its *own* mean at
	// the time it was seen — an incremental approximation, not the
	// same number a from-scratch recompute over all rows would give.
	first := [][]float64{{1, 10}, {3, 20}}
	second := [][]float64{{5, 30}, {7, 40}}

	_, avg1, sd1, n1 := PreprocessDynamic(first, model.PreprocessAutoScale, 1, []float64{0, 0}, []float64{0, 0}, 0)
	assert.InDelta(t, 2, avg1[0], 1e-9)
	assert.InDelta(t, math.Sqrt(2), sd1[0], 1e-9) // sqrt(2/(2-1)) for col 0

	_, avg2, sd2, n2 := PreprocessDynamic(second, model.PreprocessAutoScale, 1, avg1, sd1, n1)
	assert.InDelta(t, 4, avg2[0], 1e-9) // mean of all four col-0 values
	assert.InDelta(t, 2, sd2[0], 1e-9)  // sqrt((2+10)/(4-1))
	assert.Equal(t, 4, n2)
}

func TestApplyPreprocessRoundTrip(t *testing.T) {
	avg := []float64{2, 4}
	sd := []float64{1, 2}
	test := [][]float64{{3, 6}}
	got := ApplyPreprocess(test, avg, sd)
	assert.InDelta(t, 1, got[0][0], 1e-9)
	assert.InDelta(t, 1, got[0][1], 1e-9)
}
