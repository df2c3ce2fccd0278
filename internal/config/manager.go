package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Manager is the single mutex-guarded writer for one config file: every
// mutation reads the current raw content, applies its change, and writes
// back through writeAtomic, so concurrent HTTP handlers never interleave
// partial writes.
type Manager struct {
	mu   sync.Mutex
	path string
}

// NewManager returns a Manager guarding the config file at path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Snapshot is a raw config file body plus an integrity hash callers quote
// back on Apply to detect concurrent edits.
type Snapshot struct {
	Path string `json:"path"`
	Raw  string `json:"raw"`
	Hash string `json:"hash"`
}

// ApplyResult describes the outcome of an Apply call.
type ApplyResult struct {
	Applied         bool     `json:"applied"`
	RestartRequired bool     `json:"restart_required"`
	Warnings        []string `json:"warnings,omitempty"`
}

func hashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Snapshot reads the config file verbatim and returns its content and hash.
func (m *Manager) Snapshot() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() (Snapshot, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{Path: m.path, Raw: "", Hash: hashContent(nil)}, nil
		}
		return Snapshot{}, fmt.Errorf("config: read %q: %w", m.path, err)
	}
	return Snapshot{Path: m.path, Raw: string(data), Hash: hashContent(data)}, nil
}

// Apply overwrites the config file with raw, refusing the write if
// baseHash no longer matches the file's current content (a concurrent
// edit happened in between) and refusing it if raw fails to parse as a
// valid Config.
func (m *Manager) Apply(raw string, baseHash string) (*ApplyResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.snapshotLocked()
	if err != nil {
		return nil, err
	}
	if baseHash != "" && baseHash != current.Hash {
		return nil, fmt.Errorf("config: base hash %q is stale, current is %q", baseHash, current.Hash)
	}

	parsed, err := parseRawBytes([]byte(raw), m.path)
	if err != nil {
		return nil, fmt.Errorf("config: parse candidate: %w", err)
	}
	if _, err := decodeRawConfig(parsed); err != nil {
		return nil, fmt.Errorf("config: validate candidate: %w", err)
	}

	if err := writeAtomic(m.path, []byte(raw)); err != nil {
		return nil, err
	}
	return &ApplyResult{Applied: true, RestartRequired: true}, nil
}

// Get resolves a dot-separated key path (e.g. "llm.default_provider")
// against the raw config map and reports whether it was present.
func (m *Manager) Get(key string) (any, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := m.loadRawLocked()
	if err != nil {
		return nil, false, err
	}
	return lookupPath(raw, strings.Split(key, "."))
}

// Upsert sets a dot-separated key path to value and persists the result.
func (m *Manager) Upsert(key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := m.loadRawLocked()
	if err != nil {
		return err
	}
	setPath(raw, strings.Split(key, "."), value)
	return m.persistLocked(raw)
}

// Remove deletes a dot-separated key path and persists the result.
func (m *Manager) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := m.loadRawLocked()
	if err != nil {
		return err
	}
	removePath(raw, strings.Split(key, "."))
	return m.persistLocked(raw)
}

// Validate loads and validates the config file, returning the
// validation error (if any) without panicking on a missing file.
func (m *Manager) Validate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := Load(m.path)
	return err
}

// Init writes a fresh default config to path if one doesn't already
// exist there.
func (m *Manager) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(m.path); err == nil {
		return fmt.Errorf("config: %q already exists", m.path)
	}

	cfg := &Config{}
	applyDefaults(cfg)
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal defaults: %w", err)
	}
	return writeAtomic(m.path, data)
}

// Backup copies the config file to destPath.
func (m *Manager) Backup(destPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("config: read for backup: %w", err)
	}
	return writeAtomic(destPath, data)
}

// Recover restores the config file from srcPath.
func (m *Manager) Recover(srcPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("config: read backup %q: %w", srcPath, err)
	}
	return writeAtomic(m.path, data)
}

func (m *Manager) loadRawLocked() (map[string]any, error) {
	raw, err := LoadRaw(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	return raw, nil
}

func (m *Manager) persistLocked(raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return writeAtomic(m.path, data)
}

// writeAtomic writes data to path by writing a sibling temp file, fsyncing
// it, then renaming it into place — the rename-into-place pattern keeps a
// reader from ever observing a half-written config file.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory for %q: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("config: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("config: rename into place: %w", err)
	}
	return nil
}

func lookupPath(raw map[string]any, path []string) (any, bool, error) {
	if len(path) == 0 {
		return nil, false, fmt.Errorf("config: empty key")
	}
	var cur any = raw
	for _, segment := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false, nil
		}
		cur, ok = m[segment]
		if !ok {
			return nil, false, nil
		}
	}
	return cur, true, nil
}

func setPath(raw map[string]any, path []string, value any) {
	if len(path) == 0 {
		return
	}
	cur := raw
	for _, segment := range path[:len(path)-1] {
		next, ok := cur[segment].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[segment] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = value
}

func removePath(raw map[string]any, path []string) {
	if len(path) == 0 {
		return
	}
	cur := raw
	for _, segment := range path[:len(path)-1] {
		next, ok := cur[segment].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, path[len(path)-1])
}
