// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.
// The author respectfully requests that it not be used for
// military, warfare, or surveillance applications.

package security

import (
	"strings"
)

// SanitizeFilename removes potentially dangerous characters from a
// filename, used when deriving persistence file names from a source or
// sensor identifier taken from configuration.
func SanitizeFilename(filename string) string {
	dangerous := []string{"/", "\\", "..", "~", "|", ">", "<", "&", "$", "`", ";", ":", "*", "?", "\"", "'"}

	result := filename
	for _, char := range dangerous {
		result = strings.ReplaceAll(result, char, "_")
	}

	result = strings.TrimLeft(result, ".")

	if len(result) > 255 {
		result = result[:255]
	}

	if result == "" {
		result = "unnamed"
	}

	return result
}
