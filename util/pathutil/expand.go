// Package pathutil resolves user-written paths from configuration files.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Expand expands a leading ~ and environment variables in path and returns it absolute.
// An empty path stays empty.
func Expand(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not get user home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}

	path = os.ExpandEnv(path)

	return filepath.Abs(path)
}

// IsPathLike reports whether s names a file rather than a command looked up in PATH.
func IsPathLike(s string) bool {
	return strings.HasPrefix(s, "~") || strings.ContainsRune(s, filepath.Separator)
}
