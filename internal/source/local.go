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
	"time"

	"github.com/bitjungle/msnm-sensor/internal/config"
	"github.com/bitjungle/msnm-sensor/internal/features"
	"github.com/bitjungle/msnm-sensor/internal/persistence"
	"github.com/bitjungle/msnm-sensor/internal/utils"
	"github.com/bitjungle/msnm-sensor/pkg/model"
)

// RecordAdapter is the live/online ingestion seam: it yields one parsed
// Record at a time, blocking until the next one is available or ctx is
// cancelled. Turning a specific raw log format into Records is an
// external collaborator's job, not this package's; RecordAdapter is the
// boundary a concrete parser plugs into.
type RecordAdapter interface {
	Read(ctx context.Context) (model.Record, error)
}

// NumericRowAdapter is the static/offline ingestion seam: a source that
// has already reduced a batch of records to one fixed-width numeric
// row per interval, before any configured column masking is applied.
type NumericRowAdapter interface {
	Read(ctx context.Context) (ts string, row []float64, err error)
}

// LocalSource ingests one configured local feed, in either live mode
// (records counted through a features.Counter) or static mode (rows
// read pre-reduced and masked per Sensor.DataSources.local.*.excludeVariables).
type LocalSource struct {
	id    string
	files *filesGenerated
	log   *slog.Logger

	counter        *features.Counter // live mode only
	recordAdapter  RecordAdapter     // live mode only
	numericAdapter NumericRowAdapter // static mode only
	excludeColumns []int             // static mode only
	width          int
}

// NewLocalSource builds a live-mode source: records flow through
// adapter and are turned into feature counts by counter.
func NewLocalSource(id string, counter *features.Counter, adapter RecordAdapter, log *slog.Logger) *LocalSource {
	return &LocalSource{
		id:            id,
		files:         newFilesGenerated(),
		log:           log,
		counter:       counter,
		recordAdapter: adapter,
		width:         counter.Width(),
	}
}

// NewStaticLocalSource builds a static-mode source: every row adapter
// produces is masked by excludeColumns (0-based) before being recorded.
func NewStaticLocalSource(id string, width int, adapter NumericRowAdapter, excludeColumns []int, log *slog.Logger) *LocalSource {
	return &LocalSource{
		id:             id,
		files:          newFilesGenerated(),
		log:            log,
		numericAdapter: adapter,
		excludeColumns: excludeColumns,
		width:          width - len(excludeColumns),
	}
}

// NewLocalSourceFromConfig builds either form from a decoded LocalSource
// configuration entry, parsing excludeVariables with the shared 1-based
// range syntax ("3,5-7") when staticMode is set.
func NewLocalSourceFromConfig(id string, cfg config.LocalSource, decimalSeparator rune, recordAdapter RecordAdapter, numericAdapter NumericRowAdapter, log *slog.Logger) (*LocalSource, error) {
	if cfg.StaticMode {
		if numericAdapter == nil {
			return nil, fmt.Errorf("source %s: staticMode requires a NumericRowAdapter", id)
		}
		var excluded []int
		if cfg.ExcludeVariables != "" {
			var err error
			excluded, err = utils.ParseRanges(cfg.ExcludeVariables)
			if err != nil {
				return nil, fmt.Errorf("source %s: invalid excludeVariables: %w", id, err)
			}
		}
		return NewStaticLocalSource(id, len(cfg.Variables), numericAdapter, excluded, log), nil
	}

	if recordAdapter == nil {
		return nil, fmt.Errorf("source %s: live mode requires a RecordAdapter", id)
	}
	feats := make([]model.Feature, 0, len(cfg.Features))
	for _, f := range cfg.Features {
		feats = append(feats, model.Feature{
			Name:      f.Name,
			Variable:  f.Variable,
			MatchType: model.MatchType(f.MatchType),
			Value:     f.Value,
			Weight:    f.Weight,
		})
	}
	counter, err := features.NewCounter(feats, decimalSeparator)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", id, err)
	}
	return NewLocalSource(id, counter, recordAdapter, log), nil
}

func (s *LocalSource) ID() string                          { return s.id }
func (s *LocalSource) Kind() model.SourceKind               { return model.SourceLocal }
func (s *LocalSource) VariableCount() int                   { return s.width }
func (s *LocalSource) Artifact(ts string) (Artifact, bool) { return s.files.lookup(ts) }

// MarkMissing records a dummy, empty entry for ts: this source never
// produced an artifact before the interval's grace deadline passed.
func (s *LocalSource) MarkMissing(ts string) {
	s.files.record(ts, Artifact{Missing: true})
}

// Prune bounds the memory this source's table can grow to.
func (s *LocalSource) Prune(keep int) { s.files.prune(keep) }

// Run is the per-source ingest worker: it runs until ctx is cancelled,
// independent of the interval driver, and only ever communicates with
// it through the shared files-generated table.
func (s *LocalSource) Run(ctx context.Context, tw time.Duration, tsFormat string, tree *persistence.SourceTree) error {
	if s.numericAdapter != nil {
		return s.runStatic(ctx, tree)
	}
	return s.runLive(ctx, tw, tsFormat, tree)
}

func (s *LocalSource) runStatic(ctx context.Context, tree *persistence.SourceTree) error {
	for {
		ts, row, err := s.numericAdapter.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("static row read failed", "source", s.id, "err", err)
			continue
		}

		if len(s.excludeColumns) > 0 {
			filtered, ferr := utils.FilterMatrix([][]float64{row}, nil, s.excludeColumns)
			if ferr != nil {
				s.log.Warn("cannot mask static row", "source", s.id, "ts", ts, "err", ferr)
				continue
			}
			if len(filtered) != 1 {
				s.log.Warn("static row masked to nothing", "source", s.id, "ts", ts)
				continue
			}
			row = filtered[0]
		}

		if tree != nil {
			if _, werr := tree.WriteParsedRow(s.id, ts, row, nil); werr != nil {
				s.log.Warn("cannot persist static row", "source", s.id, "ts", ts, "err", werr)
			}
		}
		s.files.record(ts, Artifact{Row: row})
	}
}

func (s *LocalSource) runLive(ctx context.Context, tw time.Duration, tsFormat string, tree *persistence.SourceTree) error {
	records := make(chan model.Record)
	errs := make(chan error, 1)

	go func() {
		for {
			rec, err := s.recordAdapter.Read(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				select {
				case errs <- err:
				case <-ctx.Done():
					return
				}
				continue
			}
			select {
			case records <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(tw)
	defer ticker.Stop()

	bucketTS := time.Now().Format(tsFormat)
	counts := make([]float64, s.counter.Width())

	flush := func() {
		row := append([]float64(nil), counts...)
		if tree != nil {
			if _, err := tree.WriteParsedRow(s.id, bucketTS, row, s.counter.VariableNames()); err != nil {
				s.log.Warn("cannot persist parsed row", "source", s.id, "ts", bucketTS, "err", err)
			}
		}
		s.files.record(bucketTS, Artifact{Row: row})
		for i := range counts {
			counts[i] = 0
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return nil
		case <-ticker.C:
			flush()
			bucketTS = time.Now().Format(tsFormat)
		case rec := <-records:
			c, err := s.counter.Count(rec)
			if err != nil {
				s.log.Warn("cannot count record", "source", s.id, "err", err)
				continue
			}
			for i, v := range c {
				counts[i] += v
			}
		case err := <-errs:
			s.log.Warn("record read failed", "source", s.id, "err", err)
		}
	}
}
