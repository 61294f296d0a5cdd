package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// expandTilde resolves a leading ~ against the current user's home directory.
// Rejects path traversal attempts since several callers feed these paths to
// os.RemoveAll and friends.
func expandTilde(path string) (string, error) {
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path traversal not allowed: %s", path)
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

// dataHome returns the XDG data directory, falling back to ~/.local/share and
// finally the temp dir when no home is available.
func dataHome() string {
	if base := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); base != "" {
		return base
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".local", "share")
	}
	return os.TempDir()
}

// homePath joins parts under the user's home directory, falling back to the
// temp dir when the home cannot be resolved.
func homePath(parts ...string) string {
	base, err := os.UserHomeDir()
	if err != nil || base == "" {
		base = os.TempDir()
	}
	return filepath.Join(append([]string{base}, parts...)...)
}

// remotePath joins parts into a ~-relative POSIX path for use on a remote
// host. Always forward slashes, regardless of the local platform.
func remotePath(parts ...string) string {
	out := "~"
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		out += "/" + p
	}
	return out
}

// absProjectPath normalizes a caller-supplied project path for comparisons
// against descriptor fields and embedded cwd records.
func absProjectPath(projectPath string) string {
	p := strings.TrimSpace(projectPath)
	if p == "" {
		return ""
	}
	if expanded, err := expandTilde(p); err == nil {
		p = expanded
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return filepath.Clean(p)
}
