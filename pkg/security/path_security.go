// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// JailPath ensures a path stays within a jail directory
func JailPath(basePath, userPath string) (string, error) {
	// Clean both paths
	cleanBase := filepath.Clean(basePath)
	cleanUser := filepath.Clean(userPath)

	// Make paths absolute
	absBase, err := filepath.Abs(cleanBase)
	if err != nil {
		return "", fmt.Errorf("cannot resolve base path: %w", err)
	}

	// Join paths and clean again
	joined := filepath.Join(absBase, cleanUser)
	final := filepath.Clean(joined)

	// Ensure the final path is within the base
	if !strings.HasPrefix(final, absBase) {
		return "", fmt.Errorf("path escapes jail: %s", userPath)
	}

	return final, nil
}
