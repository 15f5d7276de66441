// Package defaults resolves the platform-appropriate location for the
// relay's optional config file. The relay persists no other state across
// restarts.
package defaults

import (
	"fmt"
	"os"
	"path/filepath"
)

// DataDir returns the platform-appropriate config directory:
//
//	macOS:   ~/Library/Application Support/cdprelay/
//	Windows: %AppData%\cdprelay\
//	Linux:   ~/.config/cdprelay/
//
// Set CDPRELAY_DATA_DIR to override.
func DataDir() (string, error) {
	if dir := os.Getenv("CDPRELAY_DATA_DIR"); dir != "" {
		return dir, nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	return filepath.Join(configDir, "cdprelay"), nil
}

// ConfigPath returns the default config file path within DataDir.
// cmd/cdprelay does not read this path: without --config it runs on
// built-in defaults.
func ConfigPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}
