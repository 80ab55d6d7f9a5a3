// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

// Package sensor binds configuration to the calibrated PCA/MSPC model
// and exposes the four operations the rest of the runtime needs:
// calibrate (static and EWMA-dynamic), monitor, and diagnose. It holds
// no reference to the source manager or the peer transport; per the
// cyclic-reference design note, it is handed down to them as an
// interface instead.
package sensor

import (
	"fmt"
	"sync"

	"github.com/bitjungle/msnm-sensor/internal/core"
	"github.com/bitjungle/msnm-sensor/pkg/model"
)

// Monitor is the narrow interface the source manager and peer server
// see: just enough to turn an assembled observation into statistics,
// never the sensor's configuration or model internals.
type Monitor interface {
	Monitor(x []float64) (q, d float64, err error)
	Diagnose(x []float64, dummy []float64) ([]float64, error)
}

// Sensor holds the current calibrated model behind a lock so that a
// monitor call never observes a half-updated model while a
// recalibration is in flight.
type Sensor struct {
	mu    sync.RWMutex
	model *model.Model
}

// New returns an uncalibrated Sensor. Monitor and Diagnose return a
// KindModel error until the first successful Calibrate or
// CalibrateDynamic.
func New() *Sensor {
	return &Sensor{}
}

// Model returns the current calibrated model, or nil if none has been
// calibrated yet. The returned pointer is a stable snapshot: future
// recalibrations publish a new *model.Model rather than mutating this one.
func (s *Sensor) Model() *model.Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// CalibrateOptions configures a static calibration run.
type CalibrateOptions struct {
	LV    int // number of retained components, A
	Prep  model.PreprocessMode
	Phase model.Phase
	Alpha float64
}

// Calibrate builds a fresh model from an N x M calibration matrix using
// the svd backend, and atomically replaces the current model.
func (s *Sensor) Calibrate(x [][]float64, opts CalibrateOptions) (*model.Model, error) {
	n := len(x)
	if n < 2 {
		return nil, newErr(KindInvalidInput, "Calibrate", fmt.Errorf("calibration set has %d rows, need N>=2", n))
	}
	m := len(x[0])
	if m < 2 {
		return nil, newErr(KindInvalidInput, "Calibrate", fmt.Errorf("calibration set has %d columns, need M>=2", m))
	}
	for _, row := range x {
		if len(row) != m {
			return nil, newErr(KindInvalidInput, "Calibrate", fmt.Errorf("ragged calibration matrix: row width %d != %d", len(row), m))
		}
	}

	xcs, avg, sd := core.PreprocessStatic(x, opts.Prep)

	pca, err := core.RunPCA(xcs, opts.LV, core.BackendSVD, nil)
	if err != nil {
		return nil, newErr(KindNumeric, "Calibrate", err)
	}

	reconstructed := core.Reconstruct(pca.Scores, pca.Loadings)
	residuals := core.Residuals(core.DenseFromRows(xcs), reconstructed)

	uclQ := core.ComputeUCLQ(residuals, opts.Alpha)
	uclD := core.ComputeUCLD(opts.LV, n, opts.Alpha, opts.Phase)

	xxRows := core.RowsFromDense(pca.XX)

	newModel := &model.Model{
		Avg:            avg,
		SD:             sd,
		N:              n,
		Loadings:       core.RowsFromDense(pca.Loadings),
		Scores:         core.RowsFromDense(pca.Scores),
		Eigenvalues:    pca.Eigenvalues,
		AllEigenvalues: pca.AllEigenvalues,
		UCLQ:           uclQ,
		UCLD:           uclD,
		LV:             opts.LV,
		Alpha:          opts.Alpha,
		Phase:          opts.Phase,
		Prep:           opts.Prep,
		Lambda:         0,
		XX:             xxRows,
	}

	s.publish(newModel)
	return newModel, nil
}

// DynamicCalibrateOptions configures an EWMA dynamic recalibration run.
type DynamicCalibrateOptions struct {
	LV     int
	Prep   model.PreprocessMode
	Phase  model.Phase
	Alpha  float64
	Lambda float64
}

// CalibrateDynamic folds a new batch of observations into the running
// EWMA preprocessing state and the maintained cross-product XX, rebuilds
// the model via the eig backend, and atomically replaces the current
// model. It requires a previously calibrated model to recalibrate from.
func (s *Sensor) CalibrateDynamic(xBatch [][]float64, opts DynamicCalibrateOptions) (*model.Model, error) {
	prev := s.Model()
	if prev == nil {
		return nil, newErr(KindModel, "CalibrateDynamic", fmt.Errorf("no prior calibration to recalibrate from"))
	}
	if len(xBatch) < 1 {
		return nil, newErr(KindInvalidInput, "CalibrateDynamic", fmt.Errorf("batch is empty, need N>=1"))
	}
	m := len(xBatch[0])
	if m < 1 || m != len(prev.Avg) {
		return nil, newErr(KindInvalidInput, "CalibrateDynamic", fmt.Errorf("batch width %d does not match model width %d", m, len(prev.Avg)))
	}

	xcs, avg, sd, n := core.PreprocessDynamic(xBatch, opts.Prep, opts.Lambda, prev.Avg, prev.SD, prev.N)

	// XX <- lambda*XX_prev + xcs'*xcs
	xx := make([][]float64, m)
	for i := range xx {
		xx[i] = make([]float64, m)
		for j := range xx[i] {
			v := opts.Lambda * prev.XX[i][j]
			for _, row := range xcs {
				v += row[i] * row[j]
			}
			xx[i][j] = v
		}
	}

	pca, err := core.RunPCA(xcs, opts.LV, core.BackendEig, xx)
	if err != nil {
		return nil, newErr(KindNumeric, "CalibrateDynamic", err)
	}

	reconstructed := core.Reconstruct(pca.Scores, pca.Loadings)
	residuals := core.Residuals(core.DenseFromRows(xcs), reconstructed)

	uclQ := core.ComputeUCLQ(residuals, opts.Alpha)
	uclD := core.ComputeUCLD(opts.LV, n, opts.Alpha, opts.Phase)

	newModel := &model.Model{
		Avg:            avg,
		SD:             sd,
		N:              n,
		Loadings:       core.RowsFromDense(pca.Loadings),
		Scores:         core.RowsFromDense(pca.Scores),
		Eigenvalues:    pca.Eigenvalues,
		AllEigenvalues: pca.AllEigenvalues,
		UCLQ:           uclQ,
		UCLD:           uclD,
		LV:             opts.LV,
		Alpha:          opts.Alpha,
		Phase:          opts.Phase,
		Prep:           opts.Prep,
		Lambda:         opts.Lambda,
		XX:             core.RowsFromDense(pca.XX),
	}

	s.publish(newModel)
	return newModel, nil
}

// Monitor preprocesses x with the current model and returns its (Q, D)
// control statistics.
func (s *Sensor) Monitor(x []float64) (q, d float64, err error) {
	m := s.Model()
	if m == nil {
		return 0, 0, newErr(KindModel, "Monitor", fmt.Errorf("sensor has no calibrated model yet"))
	}
	if len(x) != len(m.Avg) {
		return 0, 0, newErr(KindInvalidInput, "Monitor", fmt.Errorf("observation width %d does not match model width %d", len(x), len(m.Avg)))
	}

	xcs := core.ApplyPreprocess([][]float64{x}, m.Avg, m.SD)
	xcsDense := core.DenseFromRows(xcs)
	loadings := core.DenseFromRows(m.Loadings)
	scores := core.DenseFromRows(m.Scores)

	qs := core.ComputeQ(xcsDense, loadings)
	ds, err := core.ComputeD(xcsDense, loadings, scores)
	if err != nil {
		return 0, 0, newErr(KindNumeric, "Monitor", err)
	}

	return qs[0], ds[0], nil
}

// Diagnose returns the oMEDA contribution vector for x against dummy,
// one entry per original variable.
func (s *Sensor) Diagnose(x []float64, dummy []float64) ([]float64, error) {
	m := s.Model()
	if m == nil {
		return nil, newErr(KindModel, "Diagnose", fmt.Errorf("sensor has no calibrated model yet"))
	}
	if len(x) != len(m.Avg) {
		return nil, newErr(KindInvalidInput, "Diagnose", fmt.Errorf("observation width %d does not match model width %d", len(x), len(m.Avg)))
	}

	xcs := core.ApplyPreprocess([][]float64{x}, m.Avg, m.SD)
	xcsDense := core.DenseFromRows(xcs)
	loadings := core.DenseFromRows(m.Loadings)

	return core.ComputeOMEDA(xcsDense, dummy, loadings), nil
}

func (s *Sensor) publish(m *model.Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = m
}
