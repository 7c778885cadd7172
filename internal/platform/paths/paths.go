package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultDataRoot   = "/var/lib/firewatch"
	DefaultConfigPath = "config/default.yaml"
)

// ResolveDataRoot returns the directory holding evidence and spool files.
func ResolveDataRoot() string {
	if root := os.Getenv("FIREWATCH_DATA_ROOT"); root != "" {
		return root
	}
	return DefaultDataRoot
}

// ResolveConfigPath prefers an explicit path, then FIREWATCH_CONFIG.
func ResolveConfigPath(customPath string) string {
	if customPath != "" {
		return customPath
	}
	if p := os.Getenv("FIREWATCH_CONFIG"); p != "" {
		return p
	}
	return DefaultConfigPath
}

// Resolve returns p unchanged when absolute, otherwise p under the data root.
func Resolve(p string) (string, error) {
	if filepath.IsAbs(p) {
		return filepath.Clean(p), nil
	}
	return SafeJoin(ResolveDataRoot(), p)
}

// EnsureDirs creates each directory with owner-only group access.
func EnsureDirs(dirs ...string) error {
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0o750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return nil
}

// SafeJoin joins path elements and ensures the result stays within base.
func SafeJoin(base string, elements ...string) (string, error) {
	for _, el := range elements {
		if filepath.IsAbs(el) {
			return "", fmt.Errorf("path traversal attempt detected: absolute path not allowed in elements: %s", el)
		}
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	absJoined, err := filepath.Abs(filepath.Join(append([]string{base}, elements...)...))
	if err != nil {
		return "", err
	}

	if absJoined != absBase && !strings.HasPrefix(absJoined, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt detected: %s is outside %s", absJoined, absBase)
	}
	return absJoined, nil
}
