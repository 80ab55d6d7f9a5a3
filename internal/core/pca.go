// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package core

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// PCABackend selects the decomposition method behind RunPCA.
type PCABackend string

const (
	// BackendSVD decomposes the preprocessed data matrix directly.
	BackendSVD PCABackend = "svd"
	// BackendEig decomposes the maintained cross-product matrix X'X,
	// which lets a running calibration update XX incrementally instead
	// of re-decomposing the full data set.
	BackendEig PCABackend = "eig"
)

// PCAResult holds the decomposition retained for model building: full
// scores/loadings truncated to the requested number of components, and
// the eigenvalues associated with every component the backend produced.
// Both backends report eigenvalues of X'X.
type PCAResult struct {
	Scores         *mat.Dense // N x A
	Loadings       *mat.Dense // M x A
	Eigenvalues    []float64  // length A, retained components
	AllEigenvalues []float64  // every component the backend produced, descending
	XX             *mat.Dense // M x M cross-product, always returned so dynamic recalibration can carry it forward
}

// RunPCA decomposes the preprocessed data set x (N x M) and retains the
// first pcs components. XX, when non-nil, is an existing cross-product
// matrix to reuse for the eig backend instead of recomputing X'X — the
// dynamic recalibration path maintains this across intervals.
func RunPCA(x [][]float64, pcs int, backend PCABackend, xx [][]float64) (*PCAResult, error) {
	data := DenseFromRows(x)
	n, m := data.Dims()
	if pcs < 1 || pcs > m {
		return nil, fmt.Errorf("core: invalid component count %d for %d variables", pcs, m)
	}

	var XX mat.Dense
	if xx != nil {
		XX = *DenseFromRows(xx)
	} else {
		XX.Mul(data.T(), data)
	}

	switch backend {
	case BackendSVD:
		return runSVDBackend(data, &XX, n, m, pcs)
	case BackendEig:
		return runEigBackend(data, &XX, m, pcs)
	default:
		return nil, fmt.Errorf("core: unknown PCA backend %q", backend)
	}
}

func runSVDBackend(data *mat.Dense, XX *mat.Dense, n, m, pcs int) (*PCAResult, error) {
	var svd mat.SVD
	if !svd.Factorize(data, mat.SVDThin) {
		return nil, fmt.Errorf("core: SVD factorization failed to converge")
	}

	values := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	k := len(values)
	eig := make([]float64, k)
	for i, s := range values {
		eig[i] = s * s
	}

	scores := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			scores.Set(i, j, u.At(i, j)*values[j])
		}
	}

	if pcs > k {
		return nil, fmt.Errorf("core: requested %d components but SVD only produced %d", pcs, k)
	}

	return &PCAResult{
		Scores:         sliceColumns(scores, pcs),
		Loadings:       sliceColumns(&v, pcs),
		Eigenvalues:    append([]float64(nil), eig[:pcs]...),
		AllEigenvalues: eig,
		XX:             XX,
	}, nil
}

func runEigBackend(data *mat.Dense, XX *mat.Dense, m, pcs int) (*PCAResult, error) {
	sym := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		for j := i; j < m; j++ {
			sym.SetSym(i, j, XX.At(i, j))
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return nil, fmt.Errorf("core: eigendecomposition failed to converge")
	}

	values := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	order := make([]int, m)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return values[order[a]] > values[order[b]] })

	sortedEig := make([]float64, m)
	p := mat.NewDense(m, m, nil)
	for newIdx, oldIdx := range order {
		sortedEig[newIdx] = values[oldIdx]
		for r := 0; r < m; r++ {
			p.Set(r, newIdx, vecs.At(r, oldIdx))
		}
	}

	if pcs > m {
		return nil, fmt.Errorf("core: requested %d components but only %d eigenvectors available", pcs, m)
	}

	var scores mat.Dense
	scores.Mul(data, p)

	return &PCAResult{
		Scores:         sliceColumns(&scores, pcs),
		Loadings:       sliceColumns(p, pcs),
		Eigenvalues:    append([]float64(nil), sortedEig[:pcs]...),
		AllEigenvalues: sortedEig,
		XX:             XX,
	}, nil
}

func sliceColumns(m *mat.Dense, cols int) *mat.Dense {
	r, _ := m.Dims()
	out := mat.NewDense(r, cols, nil)
	out.Copy(m.Slice(0, r, 0, cols))
	return out
}

// Reconstruct returns T*P', the modeled portion of the data set.
func Reconstruct(scores, loadings *mat.Dense) *mat.Dense {
	var model mat.Dense
	model.Mul(scores, loadings.T())
	return &model
}

// Residuals returns X - T*P'.
func Residuals(x, model *mat.Dense) *mat.Dense {
	var e mat.Dense
	e.Sub(x, model)
	return &e
}
