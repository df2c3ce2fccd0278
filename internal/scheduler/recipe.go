package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// LoadRecipe reads and parses the recipe file at path, dispatching on its
// extension the way the original scheduler does: yaml/yml through the YAML
// decoder, json/jsonl through the (more permissive, JSON5-tolerant) JSON
// decoder, anything else rejected outright.
func LoadRecipe(path string) (*Recipe, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scheduler: load recipe %q: %w", path, err)
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		ext = "yaml"
	}

	var recipe Recipe
	switch ext {
	case "json", "jsonl":
		if err := json5.Unmarshal(content, &recipe); err != nil {
			return nil, fmt.Errorf("scheduler: parse JSON recipe %q: %w", path, err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(content, &recipe); err != nil {
			return nil, fmt.Errorf("scheduler: parse YAML recipe %q: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("scheduler: unsupported recipe file extension %q for %q", ext, path)
	}
	return &recipe, nil
}
