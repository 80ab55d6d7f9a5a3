// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewJSONHandlerEmitsStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "debug", JSON: true, Output: &buf})
	log.Info("interval emitted", slog.String("sid", "leaf-1"), slog.Int("ts", 42))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.Equal(t, "interval emitted", record["msg"])
	require.Equal(t, "leaf-1", record["sid"])
}

func TestNewTextHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "warn", Output: &buf})
	log.Info("should be suppressed")
	log.Warn("should appear")

	out := buf.String()
	require.False(t, strings.Contains(out, "should be suppressed"))
	require.True(t, strings.Contains(out, "should appear"))
}

func TestWithSourceTagsAttribute(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{JSON: true, Output: &buf})
	tagged := WithSource(log, "peer-server")
	tagged.Info("accepted connection")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.Equal(t, "peer-server", record["source"])
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	require.Equal(t, slog.LevelInfo, parseLevel(""))
	require.Equal(t, slog.LevelInfo, parseLevel("bogus"))
	require.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	require.Equal(t, slog.LevelError, parseLevel("Error"))
}
