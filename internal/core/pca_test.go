// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func sampleCalibrationSet() [][]float64 {
	return [][]float64{
		{2.5, 2.4, 1.0},
		{0.5, 0.7, 0.3},
		{2.2, 2.9, 1.1},
		{1.9, 2.2, 0.9},
		{3.1, 3.0, 1.4},
		{2.3, 2.7, 1.0},
		{2.0, 1.6, 0.7},
		{1.0, 1.1, 0.4},
		{1.5, 1.6, 0.6},
		{1.1, 0.9, 0.4},
	}
}

func TestRunPCASVDLoadingsAreOrthonormal(t *testing.T) {
	xcs, _, _ := PreprocessStatic(sampleCalibrationSet(), 2)
	res, err := RunPCA(xcs, 2, BackendSVD, nil)
	require.NoError(t, err)

	m, a := res.Loadings.Dims()
	require.Equal(t, 3, m)
	require.Equal(t, 2, a)

	var gram mat.Dense
	gram.Mul(res.Loadings.T(), res.Loadings)
	for i := 0; i < a; i++ {
		for j := 0; j < a; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			assert.InDelta(t, want, gram.At(i, j), 1e-9)
		}
	}
}

func TestRunPCAEigMatchesSVDEigenvalues(t *testing.T) {
	xcs, _, _ := PreprocessStatic(sampleCalibrationSet(), 2)

	svdRes, err := RunPCA(xcs, 2, BackendSVD, nil)
	require.NoError(t, err)
	eigRes, err := RunPCA(xcs, 2, BackendEig, nil)
	require.NoError(t, err)

	for i := range svdRes.Eigenvalues {
		assert.InDelta(t, svdRes.Eigenvalues[i], eigRes.Eigenvalues[i], 1e-6)
	}
}

func TestRunPCAEigReusesSuppliedCrossProduct(t *testing.T) {
	xcs, _, _ := PreprocessStatic(sampleCalibrationSet(), 2)

	first, err := RunPCA(xcs, 2, BackendEig, nil)
	require.NoError(t, err)

	second, err := RunPCA(xcs, 2, BackendEig, RowsFromDense(first.XX))
	require.NoError(t, err)

	for i := range first.Eigenvalues {
		assert.InDelta(t, first.Eigenvalues[i], second.Eigenvalues[i], 1e-9)
	}
}

func TestRunPCARejectsTooManyComponents(t *testing.T) {
	xcs, _, _ := PreprocessStatic(sampleCalibrationSet(), 2)
	_, err := RunPCA(xcs, 10, BackendSVD, nil)
	assert.Error(t, err)
}

func TestReconstructAndResidualsAreConsistent(t *testing.T) {
	xcs, _, _ := PreprocessStatic(sampleCalibrationSet(), 2)
	res, err := RunPCA(xcs, 2, BackendSVD, nil)
	require.NoError(t, err)

	data := DenseFromRows(xcs)
	model := Reconstruct(res.Scores, res.Loadings)
	residuals := Residuals(data, model)

	var reconstructed mat.Dense
	reconstructed.Add(model, residuals)

	r, c := data.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			assert.InDelta(t, data.At(i, j), reconstructed.At(i, j), 1e-9)
		}
	}
}

func TestRunPCAFullRankReconstructsExactly(t *testing.T) {
	xcs, _, _ := PreprocessStatic(sampleCalibrationSet(), 2)
	res, err := RunPCA(xcs, 3, BackendSVD, nil)
	require.NoError(t, err)

	data := DenseFromRows(xcs)
	model := Reconstruct(res.Scores, res.Loadings)
	r, c := data.Dims()
	maxDiff := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			diff := math.Abs(data.At(i, j) - model.At(i, j))
			if diff > maxDiff {
				maxDiff = diff
			}
		}
	}
	assert.Less(t, maxDiff, 1e-8)
}
