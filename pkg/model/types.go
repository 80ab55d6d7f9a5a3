// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.

// Package model holds the data types shared across the sensor runtime:
// variable and feature descriptors, records, observations, the
// calibrated PCA/MSPC model, and the peer protocol packet shapes.
package model

import "fmt"

// VariableKind is the typed kind of a Variable's value.
type VariableKind string

const (
	KindString  VariableKind = "string"
	KindNumber  VariableKind = "number"
	KindIP      VariableKind = "ip"
	KindTime    VariableKind = "time"
	KindDuration VariableKind = "duration"
	KindRegexp  VariableKind = "regexp"
)

// Variable describes one field extracted from a raw record.
// Where is a positional column index for structured records, or a
// capture pattern name for unstructured ones.
type Variable struct {
	Name  string
	Kind  VariableKind
	Where string
	Multi bool
}

// MatchType is how a Feature decides whether it fires for a record.
type MatchType string

const (
	MatchSingle   MatchType = "single"
	MatchMultiple MatchType = "multiple"
	MatchRange    MatchType = "range"
	MatchRegexp   MatchType = "regexp"
	MatchDefault  MatchType = "default"
)

// Feature describes one output column: a non-negative integer count
// derived from a Variable for every record.
type Feature struct {
	Name      string
	Variable  string
	MatchType MatchType
	Value     []string // single: len==1; multiple: N entries; range: [low, high] ("inf" == unbounded); regexp: len==1 pattern
	Weight    float64
}

// Record is a transient mapping from variable name to its raw textual
// value, built from one parsed log line.
type Record struct {
	Values map[string]string
}

// Value returns the record's value for name and whether it was present.
func (r Record) Value(name string) (string, bool) {
	v, ok := r.Values[name]
	return v, ok
}

// Observation is one row of feature counts for a single interval,
// plus the aggregation key (empty string means "no key configured")
// and the number of records folded into it.
type Observation struct {
	Key     string
	Counts  []float64
	NRecords int
}

// Add aggregates other into o element-wise. The two must share the
// same feature-vector width.
func (o *Observation) Add(other Observation) error {
	if len(o.Counts) != len(other.Counts) {
		return fmt.Errorf("observation width mismatch: %d != %d", len(o.Counts), len(other.Counts))
	}
	for i, v := range other.Counts {
		o.Counts[i] += v
	}
	o.NRecords += other.NRecords
	return nil
}

// ObservationBatch maps an aggregation key to its running Observation.
type ObservationBatch map[string]*Observation

// Add folds obs into the batch, aggregating element-wise when the key
// already exists.
func (b ObservationBatch) Add(obs Observation) error {
	if existing, ok := b[obs.Key]; ok {
		return existing.Add(obs)
	}
	cp := obs
	cp.Counts = append([]float64(nil), obs.Counts...)
	b[obs.Key] = &cp
	return nil
}

// PreprocessMode selects how Matrix columns are centred/scaled.
// It mirrors the four modes the original sensor's preprocessing
// routine recognises.
type PreprocessMode int

const (
	// PreprocessIdentity applies no transformation.
	PreprocessIdentity PreprocessMode = 0
	// PreprocessCenterOnly subtracts the per-column mean.
	PreprocessCenterOnly PreprocessMode = 1
	// PreprocessAutoScale subtracts the mean then divides by the
	// unbiased per-column standard deviation.
	PreprocessAutoScale PreprocessMode = 2
	// PreprocessScaleOnly divides by the per-column standard
	// deviation without centring.
	PreprocessScaleOnly PreprocessMode = 3
)

// Phase selects which Hotelling T2 UCL formula calibration uses.
type Phase int

const (
	PhaseI  Phase = 1
	PhaseII Phase = 2
)

// Model is the calibrated PCA/MSPC state: preprocessing parameters,
// loadings/scores, and the upper control limits derived from them.
type Model struct {
	Avg   []float64 // 1xM
	SD    []float64 // 1xM, always > 0
	N     int
	Loadings    [][]float64 // M x A
	Scores      [][]float64 // N x A (calibration scores, retained for D-statistic covariance)
	Eigenvalues []float64   // retained (length A) eigenvalues, descending by magnitude
	AllEigenvalues []float64 // all eigenvalues the PCA backend produced, descending
	UCLQ  float64
	UCLD  float64
	LV    int // number of retained components, A
	Alpha float64
	Phase Phase
	Prep  PreprocessMode
	Lambda float64 // forgetting factor, only meaningful after dynamic calibration
	XX    [][]float64 // M x M running cross-product, maintained by dynamic calibration
	CalibratedAt string
}

// PacketType is the type tag of a peer-protocol packet.
type PacketType string

const (
	PacketData     PacketType = "D"
	PacketCommand  PacketType = "C"
	PacketResponse PacketType = "R"
)

// Header is shared by every packet shape.
type Header struct {
	ID   uint64     `json:"id"`
	SID  string     `json:"sid"`
	TS   string     `json:"ts"`
	Type PacketType `json:"type"`
}

// DataBody carries the two MSPC control statistics forwarded to a parent sensor.
type DataBody struct {
	Q float64 `json:"Q"`
	D float64 `json:"D"`
}

// ResponseBody acknowledges a Data or Command packet.
type ResponseBody struct {
	Resp string `json:"resp"` // "OK" or "KO"
}

const (
	RespOK = "OK"
	RespKO = "KO"
)

// Packet is the wire envelope exchanged between sensors: header plus
// exactly one populated body, selected by Header.Type.
type Packet struct {
	Header   Header        `json:"header"`
	Data     *DataBody     `json:"data,omitempty"`
	Response *ResponseBody `json:"response,omitempty"`
}

// SourceKind tags whether a source is ingested locally or received
// from a peer over the network.
type SourceKind string

const (
	SourceLocal  SourceKind = "local"
	SourceRemote SourceKind = "remote"
)
