// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package core

import (
	"math"

	"github.com/bitjungle/msnm-sensor/pkg/model"
)

// PreprocessStatic centers and/or scales an [N]x[M] data set in a single
// pass, the way a freshly calibrated model does. NaNs are ignored when
// computing the average and the standard deviation (nan-aware moments),
// matching the behaviour calibration relies on when a variable was
// missing for some observations but not all.
func PreprocessStatic(x [][]float64, mode model.PreprocessMode) (xcs [][]float64, avg, sd []float64) {
	n := len(x)
	if n == 0 {
		return nil, nil, nil
	}
	m := len(x[0])

	avg = make([]float64, m)
	sd = make([]float64, m)

	switch mode {
	case model.PreprocessIdentity:
		for j := range sd {
			sd[j] = 1
		}
		return copyRows(x), avg, sd

	case model.PreprocessCenterOnly:
		for j := 0; j < m; j++ {
			avg[j] = nanMean(column(x, j))
			sd[j] = 1
		}
		return centerScale(x, avg, sd), avg, sd

	case model.PreprocessAutoScale, model.PreprocessScaleOnly:
		observed := make([]float64, m) // count of non-NaN entries per column
		for j := 0; j < m; j++ {
			col := column(x, j)
			if mode == model.PreprocessAutoScale {
				avg[j] = nanMean(col)
			}
			sd[j], observed[j] = nanStdDev(col, avg[j])
		}
		replaceZeroScales(sd, observed)
		return centerScale(x, avg, sd), avg, sd

	default:
		for j := range sd {
			sd[j] = 1
		}
		return copyRows(x), avg, sd
	}
}

// PreprocessDynamic folds a new batch xNew into a running EWMA model,
// carrying over the previous average/scale/N, as in a sensor that
// recalibrates on every closed interval rather than once at start-up.
// lambda is the forgetting factor in [0,1]; lambda==1 degrades to a
// plain running mean/variance, lambda<1 downweights older observations.
func PreprocessDynamic(xNew [][]float64, mode model.PreprocessMode, lambda float64, avgPrev, sdPrev []float64, nPrev int) (xcs [][]float64, avg, sd []float64, n int) {
	rows := len(xNew)
	if rows == 0 {
		return nil, avgPrev, sdPrev, nPrev
	}
	m := len(xNew[0])

	acc := make([]float64, m)  // M_t^x, the accumulated weighted sum
	acc2 := make([]float64, m) // accumulated weighted sum of squared deviations
	for j := 0; j < m; j++ {
		acc[j] = avgPrev[j] * float64(nPrev)
		acc2[j] = sdPrev[j] * sdPrev[j] * float64(maxInt(nPrev-1, 0))
	}

	n = int(lambda*float64(nPrev)) + rows
	nf := lambda*float64(nPrev) + float64(rows)

	avg = make([]float64, m)
	sd = make([]float64, m)

	switch mode {
	case model.PreprocessCenterOnly:
		for j := 0; j < m; j++ {
			sum := 0.0
			for i := 0; i < rows; i++ {
				sum += xNew[i][j]
			}
			acc[j] = lambda*acc[j] + sum
			avg[j] = acc[j] / nf
			sd[j] = 1
		}
		return centerScale(xNew, avg, sd), avg, sd, n

	case model.PreprocessAutoScale:
		for j := 0; j < m; j++ {
			sum := 0.0
			for i := 0; i < rows; i++ {
				sum += xNew[i][j]
			}
			acc[j] = lambda*acc[j] + sum
			avg[j] = acc[j] / nf
		}
		xc := centerScale(xNew, avg, make([]float64, m))
		for j := range sd {
			sd[j] = 1
		}
		for j := 0; j < m; j++ {
			sumSq := 0.0
			for i := 0; i < rows; i++ {
				sumSq += xc[i][j] * xc[i][j]
			}
			acc2[j] = lambda*acc2[j] + sumSq
			sd[j] = math.Sqrt(acc2[j] / (nf - 1))
		}
		replaceZeroScalesEWMA(sd)
		return centerScale(xc, make([]float64, m), sd), avg, sd, n

	case model.PreprocessScaleOnly:
		for j := range avg {
			avg[j] = 0
		}
		for j := 0; j < m; j++ {
			sumSq := 0.0
			for i := 0; i < rows; i++ {
				sumSq += xNew[i][j] * xNew[i][j]
			}
			acc2[j] = lambda*acc2[j] + sumSq
			sd[j] = math.Sqrt(acc2[j] / (nf - 1))
		}
		replaceZeroScalesEWMA(sd)
		return centerScale(xNew, make([]float64, m), sd), avg, sd, n

	default:
		for j := range sd {
			sd[j] = 1
		}
		return copyRows(xNew), avg, sd, n
	}
}

// ApplyPreprocess transforms test data with an already calibrated
// average/scale pair, the way every interval after calibration treats
// new observations before scoring them against the model.
func ApplyPreprocess(test [][]float64, avg, sd []float64) [][]float64 {
	return centerScale(test, avg, sd)
}

func centerScale(x [][]float64, avg, sd []float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		out[i] = make([]float64, len(row))
		for j, v := range row {
			out[i][j] = (v - avg[j]) / sd[j]
		}
	}
	return out
}

func copyRows(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

func column(x [][]float64, j int) []float64 {
	col := make([]float64, len(x))
	for i, row := range x {
		col[i] = row[j]
	}
	return col
}

func nanMean(col []float64) float64 {
	sum, count := 0.0, 0
	for _, v := range col {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// nanStdDev returns the unbiased (ddof=1) standard deviation ignoring
// NaNs, plus the number of non-NaN entries observed.
func nanStdDev(col []float64, mean float64) (sd float64, observed float64) {
	sumSq, count := 0.0, 0
	for _, v := range col {
		if math.IsNaN(v) {
			continue
		}
		d := v - mean
		sumSq += d * d
		count++
	}
	if count <= 1 {
		return 0, float64(count)
	}
	return math.Sqrt(sumSq / float64(count-1)), float64(count)
}

// replaceZeroScales mirrors preprocess2D's handling of variables whose
// standard deviation came out to zero: rather than dividing by zero,
// substitute sqrt(1/(2*observed-1)), where observed is the count of
// non-NaN observations behind that column. The substitute is 1 when
// that denominator is not positive or when no column in the batch has
// a non-zero scale.
func replaceZeroScales(sd []float64, observed []float64) {
	minNonZero := math.Inf(1)
	for _, s := range sd {
		if s > 0 && s < minNonZero {
			minNonZero = s
		}
	}
	for j, s := range sd {
		if s != 0 {
			continue
		}
		denom := 2*observed[j] - 1
		if denom <= 0 {
			sd[j] = 1
			continue
		}
		if math.IsInf(minNonZero, 1) {
			sd[j] = 1
			continue
		}
		sd[j] = math.Sqrt(1 / denom)
	}
}

// replaceZeroScalesEWMA mirrors preprocess2Di's zero-scale fallback:
// half the smallest non-zero scale in the batch, or 1 if every
// variable's scale came out to zero.
func replaceZeroScalesEWMA(sd []float64) {
	minNonZero := math.Inf(1)
	for _, s := range sd {
		if s > 0 && s < minNonZero {
			minNonZero = s
		}
	}
	mS := 2.0
	if !math.IsInf(minNonZero, 1) {
		mS = minNonZero
	}
	for j, s := range sd {
		if s == 0 {
			sd[j] = mS / 2
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
