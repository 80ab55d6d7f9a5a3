// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

// Package config decodes the sensor's single startup YAML document into
// an immutable Config value. Per the "singleton configuration" design
// note, nothing here is mutated after Load returns; callers thread the
// value through constructors instead of reaching for a process-wide
// global.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// GeneralParams holds the scheduling and formatting knobs shared by
// every part of the sensor.
type GeneralParams struct {
	RootPath                    string `yaml:"rootPath"`
	DataSourcesScheduling       int    `yaml:"dataSourcesScheduling"`       // Tw, seconds
	DataSourcesPolling          int    `yaml:"dataSourcesPolling"`          // Tp, seconds
	DataSourcesNotReadyWaitingTime int `yaml:"dataSourcesNotReadyWaitingTime"` // Tgrace, seconds
	ServerConnectionTimeout     int    `yaml:"serverConnectionTimeout"`     // seconds
	ValuesFormat                string `yaml:"valuesFormat"`                // printf-style, e.g. "%.6f"
	TSDateFormat                 string `yaml:"tsDateFormat"`
}

// StaticCalibration seeds the initial model at startup.
type StaticCalibration struct {
	RandomCalibration    bool   `yaml:"randomCalibration"`
	RandomCalibrationObs int    `yaml:"randomCalibrationObs"`
	CalibrationFile      string `yaml:"calibrationFile"`
}

// DynamicCalibration configures the rolling EWMA recalibration window.
type DynamicCalibration struct {
	Enabled bool    `yaml:"enabled"`
	B       int     `yaml:"B"`
	Lambda  float64 `yaml:"lambda"`
}

// MissingData selects and configures the imputation strategy.
type MissingData struct {
	Selected string   `yaml:"selected"`
	Methods  []string `yaml:"methods"`
}

// ServerAddress is the sensor's own peer-protocol listen endpoint.
type ServerAddress struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

// RemoteAddress is one upstream parent the sensor forwards (Q, D) to.
type RemoteAddress struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

// Sensor holds the per-sensor model and networking configuration.
type Sensor struct {
	SID                string                   `yaml:"sid"`
	LV                  int                      `yaml:"lv"`   // A, number of retained components
	Prep                int                      `yaml:"prep"` // PreprocessMode
	Phase               int                      `yaml:"phase"`
	Alpha               float64                  `yaml:"alpha"`
	StaticCalibration   StaticCalibration        `yaml:"staticCalibration"`
	DynamicCalibration  DynamicCalibration       `yaml:"dynamiCalibration"` // spelling preserved: wire-compatible with the original config key
	MissingData         MissingData              `yaml:"missingData"`
	Observation         string                   `yaml:"observation"`
	Output              string                   `yaml:"output"`
	Diagnosis           string                   `yaml:"diagnosis"`
	Model               string                   `yaml:"model"`
	ServerAddr          ServerAddress            `yaml:"server_address"`
	RemoteAddresses     map[string]RemoteAddress `yaml:"remote_addresses"`
}

// LocalSource configures one locally-ingested feed: its adapter name,
// feature descriptors, and an optional statically excluded-variable
// range (by 1-based column index, comma/range syntax, e.g. "3,5-7").
type LocalSource struct {
	Adapter          string          `yaml:"adapter"`
	Variables        []VariableSpec  `yaml:"variables"`
	Features         []FeatureSpec   `yaml:"features"`
	Key              string          `yaml:"key"`
	StaticMode       bool            `yaml:"staticMode"`
	ExcludeVariables string          `yaml:"excludeVariables"`
}

// RemoteSource configures one peer child sensor that forwards (Q, D)
// into this sensor's next observation as a single two-column source.
type RemoteSource struct {
	SID       string `yaml:"sid"`
	RawDir    string `yaml:"rawDir"`
	ParsedDir string `yaml:"parsedDir"`
}

// VariableSpec is the YAML shape of a pkg/model.Variable.
type VariableSpec struct {
	Name  string `yaml:"name"`
	Kind  string `yaml:"kind"`
	Where string `yaml:"where"`
	Multi bool   `yaml:"multi"`
}

// FeatureSpec is the YAML shape of a pkg/model.Feature.
type FeatureSpec struct {
	Name      string   `yaml:"name"`
	Variable  string   `yaml:"variable"`
	MatchType string   `yaml:"matchtype"`
	Value     []string `yaml:"value"`
	Weight    float64  `yaml:"weight"`
}

// DataSources groups the sensor's local and remote feeds.
type DataSources struct {
	Local  map[string]LocalSource  `yaml:"local"`
	Remote map[string]RemoteSource `yaml:"remote"`
}

// Config is the full, decoded startup document.
type Config struct {
	GeneralParams GeneralParams `yaml:"GeneralParams"`
	Sensor        Sensor        `yaml:"Sensor"`
	DataSources   DataSources   `yaml:"DataSources"`
}

// Load reads and decodes the YAML document at path, filling defaults
// for the handful of fields where zero isn't a sane operating value.
// A malformed or unreadable document is a ConfigError: the caller is
// expected to treat it as fatal at startup.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.GeneralParams.ValuesFormat == "" {
		cfg.GeneralParams.ValuesFormat = "%.6f"
	}
	if cfg.GeneralParams.TSDateFormat == "" {
		cfg.GeneralParams.TSDateFormat = "20060102_150405"
	}
	if cfg.Sensor.MissingData.Selected == "" {
		cfg.Sensor.MissingData.Selected = "zero"
	}
	if cfg.Sensor.Alpha == 0 {
		cfg.Sensor.Alpha = 0.01
	}
}

// Validate checks the invariants Load cannot fill in with a default:
// the fields the sensor cannot run without.
func (c *Config) Validate() error {
	if c.GeneralParams.RootPath == "" {
		return fmt.Errorf("GeneralParams.rootPath is required")
	}
	if c.GeneralParams.DataSourcesScheduling <= 0 {
		return fmt.Errorf("GeneralParams.dataSourcesScheduling (Tw) must be positive")
	}
	if c.GeneralParams.DataSourcesPolling <= 0 {
		return fmt.Errorf("GeneralParams.dataSourcesPolling (Tp) must be positive")
	}
	if c.Sensor.SID == "" {
		return fmt.Errorf("Sensor.sid is required")
	}
	if c.Sensor.LV <= 0 {
		return fmt.Errorf("Sensor.lv must be positive")
	}
	if c.Sensor.Phase != 1 && c.Sensor.Phase != 2 {
		return fmt.Errorf("Sensor.phase must be 1 or 2, got %d", c.Sensor.Phase)
	}
	if c.Sensor.DynamicCalibration.Enabled {
		if c.Sensor.DynamicCalibration.B <= 0 {
			return fmt.Errorf("Sensor.dynamiCalibration.B must be positive when enabled")
		}
		if c.Sensor.DynamicCalibration.Lambda <= 0 || c.Sensor.DynamicCalibration.Lambda > 1 {
			return fmt.Errorf("Sensor.dynamiCalibration.lambda must be in (0, 1]")
		}
	}
	return nil
}
