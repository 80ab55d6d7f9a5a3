// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

// Package persistence writes the sensor's flat-file artifacts: the
// per-interval observation actually monitored, the (Q, D) output row,
// the oMEDA diagnosis vector, model snapshots, and the raw/parsed
// per-source data tree. Every write goes through pkg/security so a
// malformed source id or timestamp can never escape the configured
// data root.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitjungle/msnm-sensor/pkg/model"
	"github.com/bitjungle/msnm-sensor/pkg/security"
)

// Store writes sensor artifacts under a single jailed data root.
type Store struct {
	root         string
	valuesFormat string

	observationDir string
	outputDir      string
	diagnosisDir   string
	modelDir       string
}

// NewStore creates the sensor-level artifact directories (observation,
// output, diagnosis, model) under root and returns a Store bound to
// them. observationDir etc. are the relative directory names taken
// from configuration (Sensor.observation, Sensor.output, ...).
func NewStore(root string, valuesFormat, observationDir, outputDir, diagnosisDir, modelDir string) (*Store, error) {
	if valuesFormat == "" {
		valuesFormat = "%.6f"
	}

	s := &Store{root: root, valuesFormat: valuesFormat}

	var err error
	if s.observationDir, err = s.ensureJailedDir(observationDir); err != nil {
		return nil, err
	}
	if s.outputDir, err = s.ensureJailedDir(outputDir); err != nil {
		return nil, err
	}
	if s.diagnosisDir, err = s.ensureJailedDir(diagnosisDir); err != nil {
		return nil, err
	}
	if s.modelDir, err = s.ensureJailedDir(modelDir); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) ensureJailedDir(rel string) (string, error) {
	dir, err := security.JailPath(s.root, rel)
	if err != nil {
		return "", fmt.Errorf("persistence: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("persistence: cannot create directory %s: %w", dir, err)
	}
	return dir, nil
}

// WriteObservation persists the single N=1 row actually monitored for
// interval ts as observation/obs_<ts>.dat.
func (s *Store) WriteObservation(ts string, row []float64, varNames []string) (string, error) {
	name := security.SanitizeFilename("obs_" + ts + ".dat")
	path := filepath.Join(s.observationDir, name)
	return path, writeNumericFile(path, header(varNames), [][]float64{row}, s.valuesFormat)
}

// WriteOutput persists the (Q, D) pair for interval ts as
// output/output_<ts>.dat, with UCLq/UCLd recorded in the header.
func (s *Store) WriteOutput(ts string, q, d, uclq, ucld float64) (string, error) {
	name := security.SanitizeFilename("output_" + ts + ".dat")
	path := filepath.Join(s.outputDir, name)
	h := fmt.Sprintf("# UCLq:%s, UCLd:%s", fmt.Sprintf(s.valuesFormat, uclq), fmt.Sprintf(s.valuesFormat, ucld))
	return path, writeNumericFile(path, h, [][]float64{{q, d}}, s.valuesFormat)
}

// WriteDiagnosis persists an oMEDA vector for interval ts as
// diagnosis/diagnosis_<ts>.dat, one entry per original variable.
func (s *Store) WriteDiagnosis(ts string, vec []float64, varNames []string) (string, error) {
	name := security.SanitizeFilename("diagnosis_" + ts + ".dat")
	path := filepath.Join(s.diagnosisDir, name)
	return path, writeNumericFile(path, header(varNames), [][]float64{vec}, s.valuesFormat)
}

// modelSnapshot is the JSON shape persisted for every calibration.
type modelSnapshot struct {
	Avg      []float64 `json:"avg"`
	SD       []float64 `json:"sd"`
	Loadings [][]float64 `json:"loadings"`
	Eigenvalues []float64 `json:"eigenvalues"`
	UCLQ     float64   `json:"UCLq"`
	UCLD     float64   `json:"UCLd"`
	Alpha    float64   `json:"alpha"`
	LV       int       `json:"lv"`
	Phase    int       `json:"phase"`
	Prep     int       `json:"prep"`
	TS       string    `json:"ts"`
}

// WriteModelSnapshot persists the calibrated model as model/model_<ts>.json.
func (s *Store) WriteModelSnapshot(ts string, m *model.Model) (string, error) {
	snap := modelSnapshot{
		Avg:         m.Avg,
		SD:          m.SD,
		Loadings:    m.Loadings,
		Eigenvalues: m.Eigenvalues,
		UCLQ:        m.UCLQ,
		UCLD:        m.UCLD,
		Alpha:       m.Alpha,
		LV:          m.LV,
		Phase:       int(m.Phase),
		Prep:        int(m.Prep),
		TS:          ts,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("persistence: cannot marshal model snapshot: %w", err)
	}

	name := security.SanitizeFilename("model_" + ts + ".json")
	path := filepath.Join(s.modelDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("persistence: cannot write %s: %w", path, err)
	}
	return path, nil
}

// SourceTree manages the data/<source-id>/{raw,processed,parsed} layout
// used by a single local or remote source.
type SourceTree struct {
	rawDir       string
	processedDir string
	parsedDir    string
	valuesFormat string
}

// NewSourceTree creates the raw/processed/parsed subdirectories for
// sourceID under root's data/ tree.
func NewSourceTree(root, valuesFormat, sourceID string) (*SourceTree, error) {
	if valuesFormat == "" {
		valuesFormat = "%.6f"
	}
	safeID := security.SanitizeFilename(sourceID)
	base, err := security.JailPath(root, filepath.Join("data", safeID))
	if err != nil {
		return nil, fmt.Errorf("persistence: %w", err)
	}

	t := &SourceTree{valuesFormat: valuesFormat}
	for _, sub := range []struct {
		name string
		dst  *string
	}{
		{"raw", &t.rawDir},
		{"processed", &t.processedDir},
		{"parsed", &t.parsedDir},
	} {
		dir := filepath.Join(base, sub.name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("persistence: cannot create directory %s: %w", dir, err)
		}
		*sub.dst = dir
	}
	return t, nil
}

// WriteRawPacket persists a received Data packet as raw/sid_ts.json.
func (t *SourceTree) WriteRawPacket(sid, ts string, data []byte) (string, error) {
	name := security.SanitizeFilename(sid + "_" + ts + ".json")
	path := filepath.Join(t.rawDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("persistence: cannot write %s: %w", path, err)
	}
	return path, nil
}

// WriteParsedRow persists a single-row numeric artifact derived from a
// packet body or an ingest adapter's parse, as
// parsed/output-sid_ts.dat.
func (t *SourceTree) WriteParsedRow(sid, ts string, row []float64, colNames []string) (string, error) {
	name := security.SanitizeFilename("output-" + sid + "_" + ts + ".dat")
	path := filepath.Join(t.parsedDir, name)
	return path, writeNumericFile(path, header(colNames), [][]float64{row}, t.valuesFormat)
}

func header(names []string) string {
	return "# " + fmt.Sprintf("%v", names)
}

// writeNumericFile writes a '#'-prefixed header line followed by one
// comma-separated, format-printed row per entry in rows.
func writeNumericFile(path, headerLine string, rows [][]float64, valuesFormat string) error {
	var sb strings.Builder
	sb.WriteString(headerLine)
	sb.WriteByte('\n')
	for _, row := range rows {
		cols := make([]string, len(row))
		for i, v := range row {
			cols[i] = fmt.Sprintf(valuesFormat, v)
		}
		sb.WriteString(strings.Join(cols, ","))
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("persistence: cannot write %s: %w", path, err)
	}
	return nil
}
