// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package core

import (
	"gonum.org/v1/gonum/mat"
)

// DenseFromRows converts a row-major [][]float64 matrix to a gonum Dense.
// An empty input yields a 0x0 Dense.
func DenseFromRows(m [][]float64) *mat.Dense {
	if len(m) == 0 || len(m[0]) == 0 {
		return mat.NewDense(0, 0, nil)
	}
	rows, cols := len(m), len(m[0])
	data := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		copy(data[i*cols:(i+1)*cols], m[i])
	}
	return mat.NewDense(rows, cols, data)
}

// RowsFromDense converts a gonum Dense back to a row-major [][]float64.
func RowsFromDense(d mat.Matrix) [][]float64 {
	r, c := d.Dims()
	m := make([][]float64, r)
	for i := 0; i < r; i++ {
		m[i] = make([]float64, c)
		for j := 0; j < c; j++ {
			m[i][j] = d.At(i, j)
		}
	}
	return m
}
