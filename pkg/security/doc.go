// Copyright 2025 bitjungle - Rune Mathisen. All rights reserved.
// Use of this source code is governed by the MIT license
// that can be found in the LICENSE file.

// Package security provides the two primitives persistence.Store and
// persistence.SourceTree actually need to keep every artifact path
// under the sensor's configured data root: jail/sandbox enforcement
// and filename sanitization for identifiers taken from configuration
// or the wire (sensor/source ids, timestamps).
//
// # Usage
//
//	name := security.SanitizeFilename(sourceID)
//	path, err := security.JailPath(rootDataPath, relativePath)
package security
