// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

// Package source implements the per-interval observation scheduler:
// local ingest workers and the peer-fed remote sources each publish an
// artifact into their own files-generated table, and the interval
// driver reads across all of them to assemble one fixed-width row per
// monitoring window, tolerating sources that are late or never show up.
package source

import (
	"sort"
	"sync"

	"github.com/bitjungle/msnm-sensor/pkg/model"
)

// Artifact is what a source has produced for one interval timestamp:
// either a resolved numeric row, or a missing marker recorded once the
// interval's deadline has passed.
type Artifact struct {
	Row     []float64
	Missing bool
}

// Source is the tagged-variant interface the driver treats every feed
// through, local or remote, without a class hierarchy: just identity,
// width, and the one shared lookup it needs every poll.
type Source interface {
	ID() string
	Kind() model.SourceKind
	VariableCount() int
	Artifact(ts string) (Artifact, bool)
	// MarkMissing records that this source never produced an artifact
	// for ts before the interval's grace deadline passed: a dummy
	// empty entry, per spec, so the interval can still emit and this
	// source's columns are treated as NaN for ts.
	MarkMissing(ts string)
}

// filesGenerated is the concurrent-safe table backing every Source's
// Artifact lookup: one producer (an ingest worker or the peer accept
// loop) writes; many interval workers read concurrently.
type filesGenerated struct {
	mu      sync.RWMutex
	entries map[string]Artifact
}

func newFilesGenerated() *filesGenerated {
	return &filesGenerated{entries: make(map[string]Artifact)}
}

func (f *filesGenerated) record(ts string, a Artifact) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[ts] = a
}

func (f *filesGenerated) lookup(ts string) (Artifact, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.entries[ts]
	return a, ok
}

// prune keeps at most keep entries, discarding the lexicographically
// smallest timestamps first. Relies on the configured timestamp format
// being lexicographically ordered by time (true of the default
// "20060102_150405" layout), so no time-parsing is needed here.
func (f *filesGenerated) prune(keep int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if keep <= 0 || len(f.entries) <= keep {
		return
	}
	keys := make([]string, 0, len(f.entries))
	for k := range f.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys[:len(keys)-keep] {
		delete(f.entries, k)
	}
}

// RemoteSource represents a peer child sensor: its only producer is the
// peer TCP server, which records a (Q, D) row for every Data packet it
// accepts on this source's behalf.
type RemoteSource struct {
	id    string
	files *filesGenerated
}

// NewRemoteSource returns a RemoteSource ready to receive artifacts via
// Record. Every remote source is a fixed two-column (Q, D) feed.
func NewRemoteSource(id string) *RemoteSource {
	return &RemoteSource{id: id, files: newFilesGenerated()}
}

func (s *RemoteSource) ID() string                 { return s.id }
func (s *RemoteSource) Kind() model.SourceKind      { return model.SourceRemote }
func (s *RemoteSource) VariableCount() int          { return 2 }
func (s *RemoteSource) Artifact(ts string) (Artifact, bool) { return s.files.lookup(ts) }

// Record stores the (Q, D) row a Data packet carried for this source at ts.
func (s *RemoteSource) Record(ts string, row []float64) {
	s.files.record(ts, Artifact{Row: row})
}

// MarkMissing records a dummy, empty entry for ts: no Data packet
// arrived from this peer before the interval's grace deadline.
func (s *RemoteSource) MarkMissing(ts string) {
	s.files.record(ts, Artifact{Missing: true})
}

// Prune bounds the memory this source's table can grow to.
func (s *RemoteSource) Prune(keep int) { s.files.prune(keep) }
