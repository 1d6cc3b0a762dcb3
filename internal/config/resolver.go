package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the canonical config file name.
const FileName = "parley.yaml"

// ResolvePath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/parley/parley.yaml →
// ~/.config/parley/parley.yaml → ./parley.yaml
func ResolvePath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "parley", FileName))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "parley", FileName))
	}

	candidates = append(candidates, FileName)

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("config: no configuration file found (searched: %v)", candidates)
}

// DefaultPath returns where a new config file should be written.
// Uses $XDG_CONFIG_HOME/parley if set, otherwise ~/.config/parley.
func DefaultPath() string {
	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		return filepath.Join(xdg, "parley", FileName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "parley", FileName)
}
