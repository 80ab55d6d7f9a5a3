// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
GeneralParams:
  rootPath: /var/lib/msnm-sensor
  dataSourcesScheduling: 60
  dataSourcesPolling: 5
  dataSourcesNotReadyWaitingTime: 10
  serverConnectionTimeout: 5

Sensor:
  sid: leaf-1
  lv: 3
  prep: 2
  phase: 2
  staticCalibration:
    randomCalibration: false
    calibrationFile: calibration.csv
  dynamiCalibration:
    enabled: true
    B: 20
    lambda: 0.9
  missingData:
    selected: mean
    methods: [zero, mean]
  observation: observation/
  output: output/
  diagnosis: diagnosis/
  model: model/
  server_address:
    ip: 0.0.0.0
    port: 9000
  remote_addresses:
    parent-1:
      ip: 10.0.0.1
      port: 9000

DataSources:
  local:
    netflow:
      adapter: packetflow
      key: srcip
      features:
        - name: tcp
          variable: proto
          matchtype: single
          value: ["TCP"]
  remote:
    child-1:
      sid: child-1
      rawDir: data/child-1/raw
      parsedDir: data/child-1/parsed
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sensor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDecodesFullSchema(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "leaf-1", cfg.Sensor.SID)
	require.Equal(t, 3, cfg.Sensor.LV)
	require.Equal(t, 60, cfg.GeneralParams.DataSourcesScheduling)
	require.True(t, cfg.Sensor.DynamicCalibration.Enabled)
	require.Equal(t, 20, cfg.Sensor.DynamicCalibration.B)
	require.InDelta(t, 0.9, cfg.Sensor.DynamicCalibration.Lambda, 1e-9)
	require.Equal(t, "mean", cfg.Sensor.MissingData.Selected)

	local, ok := cfg.DataSources.Local["netflow"]
	require.True(t, ok)
	require.Equal(t, "packetflow", local.Adapter)
	require.Len(t, local.Features, 1)

	remote, ok := cfg.DataSources.Remote["child-1"]
	require.True(t, ok)
	require.Equal(t, "child-1", remote.SID)

	parent, ok := cfg.Sensor.RemoteAddresses["parent-1"]
	require.True(t, ok)
	require.Equal(t, 9000, parent.Port)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "%.6f", cfg.GeneralParams.ValuesFormat)
	require.NotEmpty(t, cfg.GeneralParams.TSDateFormat)
	require.InDelta(t, 0.01, cfg.Sensor.Alpha, 1e-9)
}

func TestLoadMissingFileIsError(t *testing.T) {
	_, err := Load("/nonexistent/sensor.yaml")
	require.Error(t, err)
}

func TestLoadMalformedYAMLIsError(t *testing.T) {
	path := writeTempConfig(t, "GeneralParams: [this is not a mapping")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRejectsMissingRootPath(t *testing.T) {
	path := writeTempConfig(t, `
GeneralParams:
  dataSourcesScheduling: 60
  dataSourcesPolling: 5
Sensor:
  sid: leaf-1
  lv: 3
  phase: 2
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRejectsBadPhase(t *testing.T) {
	path := writeTempConfig(t, `
GeneralParams:
  rootPath: /data
  dataSourcesScheduling: 60
  dataSourcesPolling: 5
Sensor:
  sid: leaf-1
  lv: 3
  phase: 3
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRejectsDynamicCalibrationWithoutB(t *testing.T) {
	path := writeTempConfig(t, `
GeneralParams:
  rootPath: /data
  dataSourcesScheduling: 60
  dataSourcesPolling: 5
Sensor:
  sid: leaf-1
  lv: 3
  phase: 2
  dynamiCalibration:
    enabled: true
    lambda: 0.9
`)
	_, err := Load(path)
	require.Error(t, err)
}
