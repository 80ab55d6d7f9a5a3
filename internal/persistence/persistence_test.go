// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package persistence

import (
	"os"
	"strings"
	"testing"

	"github.com/bitjungle/msnm-sensor/pkg/model"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	s, err := NewStore(root, "%.4f", "observation", "output", "diagnosis", "model")
	require.NoError(t, err)
	return s
}

func TestWriteObservation(t *testing.T) {
	s := newTestStore(t)
	path, err := s.WriteObservation("20260101_000000", []float64{1, 2.5, 3}, []string{"a", "b", "c"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "#"))
	require.Equal(t, "1.0000,2.5000,3.0000", lines[1])
}

func TestWriteOutputHeaderCarriesUCLs(t *testing.T) {
	s := newTestStore(t)
	path, err := s.WriteOutput("20260101_000000", 1.234, 5.678, 10.0, 20.0)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	require.True(t, strings.HasPrefix(content, "# UCLq:10.0000, UCLd:20.0000"))
	require.True(t, strings.Contains(content, "1.2340,5.6780"))
}

func TestWriteDiagnosis(t *testing.T) {
	s := newTestStore(t)
	path, err := s.WriteDiagnosis("20260101_000000", []float64{-1, 0, 1}, []string{"x", "y", "z"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), "-1.0000,0.0000,1.0000"))
}

func TestWriteModelSnapshot(t *testing.T) {
	s := newTestStore(t)
	m := &model.Model{
		Avg: []float64{1, 2}, SD: []float64{1, 1},
		Loadings: [][]float64{{1, 0}, {0, 1}},
		UCLQ:     1.5, UCLD: 2.5, Alpha: 0.01, LV: 2, Phase: model.PhaseII, Prep: model.PreprocessAutoScale,
	}
	path, err := s.WriteModelSnapshot("20260101_000000", m)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), `"UCLq": 1.5`))
}

func TestSourceTreeWriteRawAndParsed(t *testing.T) {
	root := t.TempDir()
	tree, err := NewSourceTree(root, "%.2f", "child-1")
	require.NoError(t, err)

	rawPath, err := tree.WriteRawPacket("child-1", "20260101_000000", []byte(`{"Q":1,"D":2}`))
	require.NoError(t, err)
	data, err := os.ReadFile(rawPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "Q")

	parsedPath, err := tree.WriteParsedRow("child-1", "20260101_000000", []float64{1.5, 2.5}, []string{"Q", "D"})
	require.NoError(t, err)
	parsed, err := os.ReadFile(parsedPath)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(parsed), "1.50,2.50"))
}

func TestNewStoreRejectsEscapingDirNames(t *testing.T) {
	root := t.TempDir()
	_, err := NewStore(root, "", "../../etc", "output", "diagnosis", "model")
	require.Error(t, err)
}
