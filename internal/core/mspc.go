// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package core

import (
	"math"
	"sort"

	"github.com/bitjungle/msnm-sensor/pkg/model"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ComputeQ returns the per-observation Q-statistic (squared prediction
// error): the sum of squared residuals of testcs against the model
// reconstructed from the loadings P.
func ComputeQ(testcs *mat.Dense, p *mat.Dense) []float64 {
	n, _ := testcs.Dims()
	var t mat.Dense
	t.Mul(testcs, p)
	var e mat.Dense
	e.Mul(&t, p.T())
	e.Sub(testcs, &e)

	q := make([]float64, n)
	for i := 0; i < n; i++ {
		row := mat.Row(nil, i, &e)
		sum := 0.0
		for _, v := range row {
			sum += v * v
		}
		q[i] = sum
	}
	return q
}

// ComputeD returns the per-observation D-statistic (Hotelling T²): the
// new scores' squared Mahalanobis distance under the covariance of the
// calibration scores T.
func ComputeD(testcs, p, calibrationScores *mat.Dense) ([]float64, error) {
	n, _ := testcs.Dims()
	var t mat.Dense
	t.Mul(testcs, p)

	cov := sampleCovariance(calibrationScores)
	a, _ := cov.Dims()

	var invCT mat.Dense
	if a == 1 {
		v := cov.At(0, 0)
		if v == 0 {
			return nil, errNonInvertibleCovariance
		}
		invCT = *mat.NewDense(1, 1, []float64{1 / v})
	} else {
		if err := invCT.Inverse(cov); err != nil {
			return nil, errNonInvertibleCovariance
		}
	}

	var dot mat.Dense
	dot.Mul(&t, &invCT)

	d := make([]float64, n)
	for i := 0; i < n; i++ {
		tRow := mat.Row(nil, i, &t)
		dotRow := mat.Row(nil, i, &dot)
		sum := 0.0
		for j := range tRow {
			sum += tRow[j] * dotRow[j]
		}
		d[i] = sum
	}
	return d, nil
}

var errNonInvertibleCovariance = coreError("core: calibration score covariance is not invertible")

type coreError string

func (e coreError) Error() string { return string(e) }

func sampleCovariance(scores *mat.Dense) *mat.Dense {
	n, a := scores.Dims()
	means := make([]float64, a)
	for j := 0; j < a; j++ {
		col := mat.Col(nil, j, scores)
		sum := 0.0
		for _, v := range col {
			sum += v
		}
		means[j] = sum / float64(n)
	}

	cov := mat.NewDense(a, a, nil)
	for j1 := 0; j1 < a; j1++ {
		for j2 := j1; j2 < a; j2++ {
			sum := 0.0
			for i := 0; i < n; i++ {
				sum += (scores.At(i, j1) - means[j1]) * (scores.At(i, j2) - means[j2])
			}
			v := sum / float64(maxInt(n-1, 1))
			cov.Set(j1, j2, v)
			cov.Set(j2, j1, v)
		}
	}
	return cov
}

// ComputeOMEDA returns the oMEDA diagnostic vector for the variables in
// testcs, given a dummy vector of per-observation weights (positive for
// the group under scrutiny, negative for the reference group, zero for
// observations excluded from the comparison). Dummy entries beyond the
// number of rows in testcs are ignored.
func ComputeOMEDA(testcs *mat.Dense, dummy []float64, p *mat.Dense) []float64 {
	rows, m := testcs.Dims()
	if len(dummy) > rows {
		dummy = dummy[:rows]
	}
	norm := normalizeDummy(dummy)

	var xa mat.Dense
	xa.Mul(testcs, p)
	var recon mat.Dense
	recon.Mul(&xa, p.T())

	sumA := make([]float64, m)
	sumTotal := make([]float64, m)
	n := len(norm)
	for j := 0; j < m; j++ {
		for i := 0; i < n; i++ {
			sumA[j] += recon.At(i, j) * norm[i]
			sumTotal[j] += testcs.At(i, j) * norm[i]
		}
	}

	dummyNorm := 0.0
	for _, v := range norm {
		dummyNorm += v * v
	}
	dummyNorm = math.Sqrt(dummyNorm)

	out := make([]float64, m)
	if dummyNorm == 0 {
		return out
	}
	for j := 0; j < m; j++ {
		out[j] = (2*sumTotal[j] - sumA[j]) * math.Abs(sumA[j]) / dummyNorm
	}
	return out
}

// normalizeDummy scales positive entries by the max positive entry and
// negative entries by the absolute value of the min negative entry, so
// both groups independently span [-1, 1].
func normalizeDummy(dummy []float64) []float64 {
	maxPos, minNeg := 0.0, 0.0
	hasPos, hasNeg := false, false
	for _, v := range dummy {
		if v > 0 {
			hasPos = true
			if v > maxPos {
				maxPos = v
			}
		}
		if v < 0 {
			hasNeg = true
			if v < minNeg {
				minNeg = v
			}
		}
	}
	out := make([]float64, len(dummy))
	for i, v := range dummy {
		switch {
		case v > 0 && hasPos:
			out[i] = v / maxPos
		case v < 0 && hasNeg:
			out[i] = (v / minNeg) * -1
		default:
			out[i] = v
		}
	}
	return out
}

// ComputeUCLD returns the upper control limit for the D-statistic at
// the given p-value, for the phase I (calibration) or phase II
// (monitoring) formula.
func ComputeUCLD(npc, nob int, pValue float64, phase model.Phase) float64 {
	if phase == model.PhaseII {
		f := distuv.F{D1: float64(npc), D2: float64(nob - npc)}
		return (float64(npc) * (float64(nob)*float64(nob) - 1) / (float64(nob) * float64(nob-npc))) * f.Quantile(1-pValue)
	}
	b := distuv.Beta{Alpha: float64(npc) / 2.0, Beta: float64(nob-npc-1) / 2.0}
	return math.Pow(float64(nob)-1, 2) / float64(nob) * b.Quantile(1-pValue)
}

// ComputeUCLQ returns the upper control limit for the Q-statistic at
// the given p-value, from the Jackson-Mudholkar approximation applied
// to the calibration residual matrix res.
func ComputeUCLQ(res *mat.Dense, pValue float64) float64 {
	n, m := res.Dims()
	if n < 2 {
		return 0
	}

	var cross mat.Dense
	cross.Mul(res.T(), res)
	cross.Scale(1.0/float64(n-1), &cross)

	sym := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		for j := i; j < m; j++ {
			sym.SetSym(i, j, cross.At(i, j))
		}
	}
	var eig mat.EigenSym
	eig.Factorize(sym, false)
	lambda := eig.Values(nil)

	sort.Slice(lambda, func(a, b int) bool { return math.Abs(lambda[a]) > math.Abs(lambda[b]) })

	pcsLeft := matrixRank(res)
	if pcsLeft > len(lambda) {
		pcsLeft = len(lambda)
	}

	theta1, theta2, theta3 := 0.0, 0.0, 0.0
	for _, l := range lambda[:pcsLeft] {
		theta1 += l
		theta2 += l * l
		theta3 += l * l * l
	}

	if theta2 == 0 || theta1 == 0 {
		return 0
	}

	h0 := 1 - (2*theta1*theta3)/(3*theta2*theta2)
	if h0 == 0 {
		h0 = 1e-9
	}

	z := distuv.Normal{Mu: 0, Sigma: 1}.Quantile(1 - pValue)

	base := (z*math.Sqrt(2*theta2*h0*h0)/theta1 + 1 + theta2*h0*(h0-1)/(theta1*theta1))
	return theta1 * math.Pow(base, 1/h0)
}

// matrixRank returns the numerical rank of m using its singular values.
func matrixRank(m *mat.Dense) int {
	var svd mat.SVD
	svd.Factorize(m, mat.SVDNone)
	values := svd.Values(nil)
	if len(values) == 0 {
		return 0
	}
	tol := float64(max2Int(m.Dims())) * values[0] * 2.220446049250313e-16
	rank := 0
	for _, v := range values {
		if v > tol {
			rank++
		}
	}
	return rank
}

func max2Int(a, b int) int {
	return maxInt(a, b)
}
