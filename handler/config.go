// Package handler provides the per-domain corpus loaders that feed the
// translation pipeline: example few-shots, the domain capsule, and parsed
// KQL helper function signatures.
package handler

import (
	"fmt"
	"os"
)

const (
	defaultCapsuleLimit   = 800
	appInsightsCapsule    = 600
	defaultFunctionsLimit = 4000
)

// readLimited reads a reference file capped at limit bytes, appending an
// ellipsis when truncated. Missing files return an empty string, since every
// reference file is optional.
func readLimited(path string, limit int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	if limit > 0 && len(data) > limit {
		return string(data[:limit]) + "...", nil
	}
	return string(data), nil
}
