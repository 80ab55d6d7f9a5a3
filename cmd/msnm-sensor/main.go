// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

// Command msnm-sensor is the sensor runtime's entry point: it loads a
// YAML configuration file, statically calibrates the model, wires the
// peer transport and source scheduler together, and runs until SIGINT.
package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	msnmcobra "github.com/bitjungle/msnm-sensor/internal/cobra"
	"github.com/bitjungle/msnm-sensor/internal/config"
	"github.com/bitjungle/msnm-sensor/internal/imputation"
	"github.com/bitjungle/msnm-sensor/internal/logging"
	"github.com/bitjungle/msnm-sensor/internal/peer"
	"github.com/bitjungle/msnm-sensor/internal/persistence"
	"github.com/bitjungle/msnm-sensor/internal/sensor"
	"github.com/bitjungle/msnm-sensor/internal/source"
	"github.com/bitjungle/msnm-sensor/internal/utils"
	"github.com/bitjungle/msnm-sensor/pkg/model"
)

// shutdownDeadline bounds how long Run's workers are given to drain
// after SIGINT before the process exits anyway.
const shutdownDeadline = 10 * time.Second

func main() {
	msnmcobra.Execute(run)
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logging.New(logging.Options{Level: "info"})

	store, err := persistence.NewStore(cfg.GeneralParams.RootPath, cfg.GeneralParams.ValuesFormat,
		cfg.Sensor.Observation, cfg.Sensor.Output, cfg.Sensor.Diagnosis, cfg.Sensor.Model)
	if err != nil {
		return fmt.Errorf("persistence: %w", err)
	}

	snsr := sensor.New()
	if err := staticCalibrate(snsr, cfg); err != nil {
		return fmt.Errorf("static calibration: %w", err)
	}
	log.Info("static calibration complete", "sid", cfg.Sensor.SID, "ucl_q", snsr.Model().UCLQ, "ucl_d", snsr.Model().UCLD)

	impute, ok := imputation.Lookup(cfg.Sensor.MissingData.Selected)
	if !ok {
		return fmt.Errorf("missing data strategy %q is not registered", cfg.Sensor.MissingData.Selected)
	}

	client := peer.NewClient(time.Duration(cfg.GeneralParams.ServerConnectionTimeout) * time.Second)

	mgr := source.NewManager(source.ManagerOptions{
		SID:                cfg.Sensor.SID,
		Facade:             snsr,
		Store:              store,
		Client:             client,
		RemoteAddrs:        cfg.Sensor.RemoteAddresses,
		Impute:             impute,
		DynamicCalibration: cfg.Sensor.DynamicCalibration,
		LV:                 cfg.Sensor.LV,
		Prep:               model.PreprocessMode(cfg.Sensor.Prep),
		Phase:              model.Phase(cfg.Sensor.Phase),
		Alpha:              cfg.Sensor.Alpha,
		Log:                log,
	})

	for id, rs := range cfg.DataSources.Remote {
		tree, err := persistence.NewSourceTree(cfg.GeneralParams.RootPath, cfg.GeneralParams.ValuesFormat, rs.SID)
		if err != nil {
			return fmt.Errorf("remote source %s: %w", id, err)
		}
		mgr.RegisterRemote(rs.SID, tree)
	}
	if len(cfg.DataSources.Local) > 0 {
		log.Warn("local data sources are configured but no ingest adapter is registered in this binary; they will not contribute to any interval", "count", len(cfg.DataSources.Local))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Sensor.ServerAddr.IP, cfg.Sensor.ServerAddr.Port)
	srv, err := peer.NewServer(addr, mgr, log, time.Duration(cfg.GeneralParams.ServerConnectionTimeout)*time.Second, 0)
	if err != nil {
		return fmt.Errorf("peer server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		mgr.Run(ctx, source.ScheduleConfig{
			Tw:       time.Duration(cfg.GeneralParams.DataSourcesScheduling) * time.Second,
			Tp:       time.Duration(cfg.GeneralParams.DataSourcesPolling) * time.Second,
			Tgrace:   time.Duration(cfg.GeneralParams.DataSourcesNotReadyWaitingTime) * time.Second,
			TSFormat: cfg.GeneralParams.TSDateFormat,
		})
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	log.Info("sensor running", "sid", cfg.Sensor.SID, "listen", addr)

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, draining workers")
	case err := <-serveErr:
		if err != nil {
			log.Error("peer server stopped unexpectedly", "err", err)
		}
		stop()
	}

	select {
	case <-done:
	case <-time.After(shutdownDeadline):
		log.Warn("shutdown deadline exceeded, abandoning remaining workers")
	}

	return nil
}

// staticCalibrate builds the initial calibration matrix per
// Sensor.staticCalibration and publishes the resulting model.
func staticCalibrate(snsr *sensor.Sensor, cfg *config.Config) error {
	var x [][]float64
	var err error

	if cfg.Sensor.StaticCalibration.RandomCalibration {
		width := totalVariableCount(cfg)
		x = randomCalibrationMatrix(cfg.Sensor.StaticCalibration.RandomCalibrationObs, width)
	} else {
		x, err = loadCalibrationFile(cfg.Sensor.StaticCalibration.CalibrationFile)
		if err != nil {
			return err
		}
	}

	_, err = snsr.Calibrate(x, sensor.CalibrateOptions{
		LV:    cfg.Sensor.LV,
		Prep:  model.PreprocessMode(cfg.Sensor.Prep),
		Phase: model.Phase(cfg.Sensor.Phase),
		Alpha: cfg.Sensor.Alpha,
	})
	return err
}

// totalVariableCount sums the per-source column width a fully wired
// sensor would present: each local source's declared variable/feature
// count, plus two columns (Q, D) per remote source.
func totalVariableCount(cfg *config.Config) int {
	n := 0
	for _, ls := range cfg.DataSources.Local {
		if ls.StaticMode {
			n += len(ls.Variables) - rangeCount(ls.ExcludeVariables)
			continue
		}
		n += len(ls.Features)
	}
	n += 2 * len(cfg.DataSources.Remote)
	return n
}

func rangeCount(spec string) int {
	if spec == "" {
		return 0
	}
	indices, err := utils.ParseRanges(spec)
	if err != nil {
		return 0
	}
	return len(indices)
}

// randomCalibrationMatrix generates an nobs x width matrix of standard
// normal samples, matching the original sensor's synthetic calibration
// fallback used when no historical calibration data is available yet.
func randomCalibrationMatrix(nobs, width int) [][]float64 {
	x := make([][]float64, nobs)
	for i := range x {
		row := make([]float64, width)
		for j := range row {
			row[j] = rand.NormFloat64()
		}
		x[i] = row
	}
	return x
}

// loadCalibrationFile reads a CSV calibration matrix with a leading
// row-index column (discarded), matching the original sensor's
// pandas.read_csv(..., index_col=0) convention.
func loadCalibrationFile(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open calibration file %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("cannot parse calibration file %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("calibration file %s has no data rows", path)
	}

	x := make([][]float64, 0, len(records)-1)
	for _, rec := range records[1:] { // first row is the header
		row := make([]float64, 0, len(rec)-1)
		for _, cell := range rec[1:] { // first column is the row index
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("calibration file %s: %w", path, err)
			}
			row = append(row, v)
		}
		x = append(x, row)
	}
	return x, nil
}
