// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package sensor

import (
	"errors"
	"fmt"
)

// Kind classifies a sensor-facing failure so callers can decide how to
// react (terminate, skip an interval, retain the previous model, ...)
// without string-matching error text.
type Kind string

const (
	// KindConfig is unrecoverable at startup.
	KindConfig Kind = "config"
	// KindDataSource is raised inside an ingest worker; the affected
	// interval records a null artifact for that source.
	KindDataSource Kind = "data_source"
	// KindComm is a TCP connect/IO failure during a client send.
	KindComm Kind = "comm"
	// KindModel covers calibration/monitoring linear-algebra failures;
	// the previous model is retained and the interval is skipped.
	KindModel Kind = "model"
	// KindNumeric is a narrower KindModel failure: a numeric routine
	// (inversion, decomposition) produced a non-finite result.
	KindNumeric Kind = "numeric"
	// KindImputation is raised when an imputation strategy cannot
	// proceed (e.g. mean imputation without a calibrated model).
	KindImputation Kind = "imputation"
	// KindInvalidInput is a shape/argument validation failure.
	KindInvalidInput Kind = "invalid_input"
)

// Error wraps an underlying cause with a Kind so callers can type-switch
// on behaviour without parsing messages.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("sensor: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("sensor: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsKind reports whether err is a *Error of the given Kind.
func IsKind(err error, kind Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}
