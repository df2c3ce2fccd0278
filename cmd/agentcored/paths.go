package main

import (
	"os"
	"path/filepath"
	"strings"
)

const appDirName = "agentrt"

// defaultConfigPath resolves config.yaml under the XDG config directory
// (~/.config/agentrt/config.yaml), falling back to a relative
// config.yaml if neither AGENTCORE_CONFIG nor an XDG home is set —
// matching spec.md §6's persisted-layout table.
func defaultConfigPath() string {
	if value := strings.TrimSpace(os.Getenv("AGENTCORE_CONFIG")); value != "" {
		return value
	}
	dir, err := os.UserConfigDir()
	if err != nil || strings.TrimSpace(dir) == "" {
		return "config.yaml"
	}
	return filepath.Join(dir, appDirName, "config.yaml")
}

func resolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	return defaultConfigPath()
}
