// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package cobra

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCommandRequiresExactlyOnePositionalArg(t *testing.T) {
	var invoked bool
	cmd := NewRootCommand(func(configPath string) error {
		invoked = true
		return nil
	})
	cmd.SetArgs([]string{})
	err := cmd.Execute()
	require.Error(t, err)
	require.False(t, invoked)
}

func TestRootCommandInvokesRunWithConfigPath(t *testing.T) {
	var got string
	cmd := NewRootCommand(func(configPath string) error {
		got = configPath
		return nil
	})
	cmd.SetArgs([]string{"sensor.yaml"})
	require.NoError(t, cmd.Execute())
	require.Equal(t, "sensor.yaml", got)
}

func TestRootCommandPropagatesRunError(t *testing.T) {
	cmd := NewRootCommand(func(configPath string) error {
		return fmt.Errorf("boom")
	})
	cmd.SetArgs([]string{"sensor.yaml"})
	require.EqualError(t, cmd.Execute(), "boom")
}

func TestVersionCommandIsRegistered(t *testing.T) {
	cmd := NewRootCommand(func(string) error { return nil })
	_, _, err := cmd.Find([]string{"version"})
	require.NoError(t, err)
}
