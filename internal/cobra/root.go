// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package cobra

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// RunFunc starts the sensor runtime for the config file at path and
// blocks until ctx-equivalent shutdown completes. It returns a
// non-zero-exit-worthy error on configuration or startup failure, nil
// on a clean shutdown.
type RunFunc func(configPath string) error

// NewRootCommand creates the root cobra command. run is invoked with
// the single required config-path argument; it is responsible for its
// own signal handling and graceful shutdown.
func NewRootCommand(run RunFunc) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "msnm-sensor <config-file>",
		Short: "Distributed multivariate statistical network monitoring sensor",
		Long: `msnm-sensor ingests local data feeds and remote peer statistics, feeds
each interval's observation through a calibrated PCA/MSPC model, and
forwards the resulting (Q, D) control statistics upstream.

A single positional argument names the sensor's YAML configuration
file. The sensor runs until it receives SIGINT.`,
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0])
		},
	}

	rootCmd.AddCommand(NewVersionCommand())

	return rootCmd
}

// Execute runs the CLI application with run as the sensor startup
// entry point, exiting the process with a non-zero status on
// configuration or startup failure.
func Execute(run RunFunc) {
	if err := NewRootCommand(run).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
