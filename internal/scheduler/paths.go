package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
)

const appDirName = "agentrt"

// dataDir resolves the base directory the scheduler persists under:
// $XDG_DATA_HOME/agentrt, falling back to ~/.local/share/agentrt, mirroring
// the teacher's config package's own XDG resolution for its data paths.
func dataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("scheduler: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", appDirName), nil
}

// DefaultStoragePath returns the path schedules.json is persisted to,
// creating its parent directory if necessary.
func DefaultStoragePath() (string, error) {
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("scheduler: create data directory: %w", err)
	}
	return filepath.Join(dir, "schedules.json"), nil
}

// DefaultRecipesDir returns the managed directory registered recipes are
// copied into, creating it if necessary.
func DefaultRecipesDir() (string, error) {
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	recipesDir := filepath.Join(dir, "scheduled_recipes")
	if err := os.MkdirAll(recipesDir, 0o755); err != nil {
		return "", fmt.Errorf("scheduler: create recipes directory: %w", err)
	}
	return recipesDir, nil
}
