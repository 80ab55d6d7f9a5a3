// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package source

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/bitjungle/msnm-sensor/internal/config"
	"github.com/bitjungle/msnm-sensor/internal/imputation"
	"github.com/bitjungle/msnm-sensor/internal/peer"
	"github.com/bitjungle/msnm-sensor/internal/persistence"
	"github.com/bitjungle/msnm-sensor/internal/sensor"
	"github.com/bitjungle/msnm-sensor/pkg/model"
)

// SensorFacade is the narrow view of C6 the manager needs: enough to
// monitor an assembled observation, diagnose it, read the current
// model for mean imputation, and trigger a dynamic recalibration. It
// never sees the manager's sources, breaking the cyclic reference a
// direct *sensor.Sensor dependency would otherwise invite.
type SensorFacade interface {
	Monitor(x []float64) (q, d float64, err error)
	Diagnose(x []float64, dummy []float64) ([]float64, error)
	Model() *model.Model
	CalibrateDynamic(batch [][]float64, opts sensor.DynamicCalibrateOptions) (*model.Model, error)
}

// keepIntervals bounds how many past timestamps a source's
// files-generated table retains; older entries are pruned after every
// emitted interval so long-running sensors don't grow this without bound.
const keepIntervals = 64

// ManagerOptions configures a Manager at construction. Sources are
// registered afterwards via Register/RegisterRemote, once their
// concrete adapters (an external collaborator's responsibility) exist.
type ManagerOptions struct {
	SID         string
	Facade      SensorFacade
	Store       *persistence.Store
	Client      *peer.Client
	RemoteAddrs map[string]config.RemoteAddress
	Impute      imputation.Strategy

	DynamicCalibration config.DynamicCalibration
	LV                 int
	Prep               model.PreprocessMode
	Phase              model.Phase
	Alpha              float64

	Log *slog.Logger
}

// Manager synchronizes per-interval observations across every
// registered source, feeds them through the sensor façade, persists
// the results, and forwards statistics to any configured parents.
type Manager struct {
	mu      sync.RWMutex
	order   []string
	sources map[string]Source
	trees   map[string]*persistence.SourceTree

	sid         string
	facade      SensorFacade
	store       *persistence.Store
	client      *peer.Client
	remoteAddrs map[string]config.RemoteAddress
	impute      imputation.Strategy

	dynEnabled bool
	dynOpts    sensor.DynamicCalibrateOptions
	batchSize  int
	calMu      sync.Mutex
	batch      [][]float64

	log *slog.Logger
}

// NewManager returns an empty Manager; call Register/RegisterRemote to
// populate it before calling Run.
func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		sources:     make(map[string]Source),
		trees:       make(map[string]*persistence.SourceTree),
		sid:         opts.SID,
		facade:      opts.Facade,
		store:       opts.Store,
		client:      opts.Client,
		remoteAddrs: opts.RemoteAddrs,
		impute:      opts.Impute,
		dynEnabled:  opts.DynamicCalibration.Enabled,
		batchSize:   opts.DynamicCalibration.B,
		dynOpts: sensor.DynamicCalibrateOptions{
			LV:     opts.LV,
			Prep:   opts.Prep,
			Phase:  opts.Phase,
			Alpha:  opts.Alpha,
			Lambda: opts.DynamicCalibration.Lambda,
		},
		log: opts.Log,
	}
}

// Register adds src to the stable feature-concatenation order. tree,
// if non-nil, is where the source's raw/parsed artifacts are written.
func (m *Manager) Register(src Source, tree *persistence.SourceTree) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = append(m.order, src.ID())
	m.sources[src.ID()] = src
	if tree != nil {
		m.trees[src.ID()] = tree
	}
}

// RegisterRemote is a convenience wrapper registering a fresh
// RemoteSource for a configured peer child.
func (m *Manager) RegisterRemote(id string, tree *persistence.SourceTree) *RemoteSource {
	rs := NewRemoteSource(id)
	m.Register(rs, tree)
	return rs
}

// KnownSID implements peer.RemoteRegistry.
func (m *Manager) KnownSID(sid string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.sources[sid]
	return ok && src.Kind() == model.SourceRemote
}

// RecordRemoteArtifact implements peer.RemoteRegistry: it persists the
// raw packet and parsed (Q, D) row, then records the artifact so the
// next interval treats this remote source like any other.
func (m *Manager) RecordRemoteArtifact(sid, ts string, raw []byte, body model.DataBody) (string, error) {
	m.mu.RLock()
	src, ok := m.sources[sid]
	tree := m.trees[sid]
	m.mu.RUnlock()
	if !ok || src.Kind() != model.SourceRemote {
		return "", fmt.Errorf("source: unknown remote sid %q", sid)
	}
	remote, ok := src.(*RemoteSource)
	if !ok {
		return "", fmt.Errorf("source: %q is not a remote source", sid)
	}

	var path string
	if tree != nil {
		if _, err := tree.WriteRawPacket(sid, ts, raw); err != nil {
			return "", err
		}
		p, err := tree.WriteParsedRow(sid, ts, []float64{body.Q, body.D}, []string{"Q", "D"})
		if err != nil {
			return "", err
		}
		path = p
	}
	remote.Record(ts, []float64{body.Q, body.D})
	return path, nil
}

// ScheduleConfig carries the three timing knobs and the formatting
// configuration that govern the interval driver.
type ScheduleConfig struct {
	Tw       time.Duration
	Tp       time.Duration
	Tgrace   time.Duration
	TSFormat string
}

// Run is the interval driver: it opens a new interval every Tw on its
// own worker, so a slow deadline on one interval never delays the
// next. It returns once ctx is cancelled, after every in-flight
// interval worker has drained.
func (m *Manager) Run(ctx context.Context, cfg ScheduleConfig) {
	var wg sync.WaitGroup
	defer wg.Wait()

	ticker := time.NewTicker(cfg.Tw)
	defer ticker.Stop()

	for {
		tInit := time.Now()
		ts := tInit.Format(cfg.TSFormat)

		wg.Add(1)
		go func(ts string, tInit time.Time) {
			defer wg.Done()
			m.runInterval(ctx, ts, tInit, cfg)
		}(ts, tInit)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runInterval polls source readiness every Tp until either every
// source has an artifact for ts (Complete) or the grace deadline
// passes (Partial), then emits.
func (m *Manager) runInterval(ctx context.Context, ts string, tInit time.Time, cfg ScheduleConfig) {
	deadline := tInit.Add(cfg.Tw + cfg.Tgrace)
	poll := time.NewTicker(cfg.Tp)
	defer poll.Stop()

	for {
		if m.allReady(ts) {
			m.emit(ts, false)
			return
		}
		if !time.Now().Before(deadline) {
			m.markMissing(ts)
			m.emit(ts, true)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
		}
	}
}

func (m *Manager) snapshot() ([]string, map[string]Source) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order := append([]string(nil), m.order...)
	return order, m.sources
}

// markMissing writes the dummy, empty entry §4.4 specifies for every
// source that still lacks an artifact for ts once the grace deadline
// has passed: an interval worker's last act before emitting Partial.
func (m *Manager) markMissing(ts string) {
	order, sources := m.snapshot()
	for _, id := range order {
		if _, ok := sources[id].Artifact(ts); !ok {
			sources[id].MarkMissing(ts)
		}
	}
}

func (m *Manager) allReady(ts string) bool {
	order, sources := m.snapshot()
	for _, id := range order {
		if _, ok := sources[id].Artifact(ts); !ok {
			return false
		}
	}
	return true
}

// emit assembles the combined observation for ts in stable feature
// order, repairs any missing source's contribution via the configured
// imputation strategy, persists and monitors it, triggers dynamic
// recalibration when the rolling batch fills, and fans the resulting
// (Q, D) out to any configured parents.
func (m *Manager) emit(ts string, partial bool) {
	order, sources := m.snapshot()

	var row []float64
	var varNames []string
	missing := 0
	for _, id := range order {
		src := sources[id]
		n := src.VariableCount()
		art, ok := src.Artifact(ts)
		if !ok || art.Missing {
			missing++
			for i := 0; i < n; i++ {
				row = append(row, math.NaN())
			}
		} else {
			row = append(row, art.Row...)
		}
		for i := 0; i < n; i++ {
			varNames = append(varNames, fmt.Sprintf("%s_%d", id, i+1))
		}
	}

	if missing > 0 {
		m.log.Warn("interval closed with missing sources", "ts", ts, "missing_sources", missing, "partial", partial)
	}

	if imputation.HasMissing(row) {
		if m.impute == nil {
			m.log.Error("observation has missing values and no imputation strategy is configured", "ts", ts)
			return
		}
		repaired, err := m.impute(row, m.facade.Model())
		if err != nil {
			m.log.Error("imputation failed", "ts", ts, "err", err)
			return
		}
		row = repaired
	}

	if m.store != nil {
		if _, err := m.store.WriteObservation(ts, row, varNames); err != nil {
			m.log.Error("cannot persist observation", "ts", ts, "err", err)
		}
	}

	m.maybeRecalibrate(ts, row)

	q, d, err := m.facade.Monitor(row)
	if err != nil {
		m.log.Error("monitoring failed", "ts", ts, "err", err)
		return
	}

	if m.store != nil {
		uclq, ucld := 0.0, 0.0
		if mdl := m.facade.Model(); mdl != nil {
			uclq, ucld = mdl.UCLQ, mdl.UCLD
		}
		if _, err := m.store.WriteOutput(ts, q, d, uclq, ucld); err != nil {
			m.log.Error("cannot persist output", "ts", ts, "err", err)
		}
	}

	m.diagnose(ts, row, varNames)

	m.forwardUpstream(q, d)
	m.pruneAll()
}

// diagnose runs oMEDA on the just-emitted row against the single-
// observation dummy vector (first entry 1, rest 0 — "evaluate
// observation 1" per the original sensor's own convention) and
// persists the resulting per-variable contribution vector.
func (m *Manager) diagnose(ts string, row []float64, varNames []string) {
	if m.store == nil {
		return
	}
	dummy := make([]float64, len(row))
	if len(dummy) > 0 {
		dummy[0] = 1
	}
	vec, err := m.facade.Diagnose(row, dummy)
	if err != nil {
		m.log.Error("diagnosis failed", "ts", ts, "err", err)
		return
	}
	if _, err := m.store.WriteDiagnosis(ts, vec, varNames); err != nil {
		m.log.Error("cannot persist diagnosis", "ts", ts, "err", err)
	}
}

// maybeRecalibrate appends row to the rolling EWMA batch and, once it
// reaches the configured size, triggers a recalibration and clears the
// batch. Per the dynamic-calibration design note, the batch is
// discarded (not slid) after every trigger.
func (m *Manager) maybeRecalibrate(ts string, row []float64) {
	if !m.dynEnabled {
		return
	}

	m.calMu.Lock()
	m.batch = append(m.batch, append([]float64(nil), row...))
	var batch [][]float64
	if len(m.batch) >= m.batchSize {
		batch = m.batch
		m.batch = nil
	}
	m.calMu.Unlock()

	if batch == nil {
		return
	}

	newModel, err := m.facade.CalibrateDynamic(batch, m.dynOpts)
	if err != nil {
		m.log.Error("dynamic recalibration failed", "ts", ts, "err", err)
		return
	}
	if m.store != nil {
		if _, err := m.store.WriteModelSnapshot(ts, newModel); err != nil {
			m.log.Error("cannot persist model snapshot", "ts", ts, "err", err)
		}
	}
}

// forwardUpstream dispatches one short-lived, fire-and-forget send per
// configured parent. Failures are logged, never retried; the next
// interval tries again independently.
func (m *Manager) forwardUpstream(q, d float64) {
	if len(m.remoteAddrs) == 0 || m.client == nil {
		return
	}
	for name, addr := range m.remoteAddrs {
		go func(name string, addr config.RemoteAddress) {
			target := fmt.Sprintf("%s:%d", addr.IP, addr.Port)
			if _, err := m.client.Send(target, m.sid, model.DataBody{Q: q, D: d}); err != nil {
				m.log.Warn("cannot forward statistics upstream", "parent", name, "addr", target, "err", err)
			}
		}(name, addr)
	}
}

func (m *Manager) pruneAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, src := range m.sources {
		switch s := src.(type) {
		case *LocalSource:
			s.Prune(keepIntervals)
		case *RemoteSource:
			s.Prune(keepIntervals)
		}
	}
}
