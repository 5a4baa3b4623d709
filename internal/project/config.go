package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// JinxDir is the directory name for per-project persisted state:
	// the embedding chunk cache, the agent's read-only memory files, and
	// project configuration. It is always excluded from file walks.
	JinxDir = ".jinx"
	// ConfigFile is the name of the project configuration file.
	ConfigFile = "config.json"
	// RulesFile is the name of the custom rules file.
	RulesFile = "rules"
	// MemorySubdir holds transcript/evergreen/channel/pinned memory
	// files and the open-buffers snapshot, consumed read-only by the
	// retrieval core.
	MemorySubdir = "memory"
	// OpenBuffersFile is the JSONL snapshot of unsaved editor buffers,
	// one `{name|path, text}` object per line.
	OpenBuffersFile = "open_buffers.jsonl"
	// LogDir is the append-only text log directory, always excluded
	// from file walks alongside JinxDir.
	LogDir = "log"
)

// ProjectConfig holds per-project configuration settings.
type ProjectConfig struct {
	IndexingEnabled bool `json:"indexing_enabled"`
}

func configPath(repoRoot string) string {
	return filepath.Join(repoRoot, JinxDir, ConfigFile)
}

func rulesPath(repoRoot string) string {
	return filepath.Join(repoRoot, JinxDir, RulesFile)
}

// OpenBuffersPath returns the path to the open-buffers JSONL snapshot.
func OpenBuffersPath(repoRoot string) string {
	return filepath.Join(repoRoot, JinxDir, MemorySubdir, OpenBuffersFile)
}

// MemoryDir returns the path to the read-only memory directory.
func MemoryDir(repoRoot string) string {
	return filepath.Join(repoRoot, JinxDir, MemorySubdir)
}

// ConfigExists checks if a project configuration file exists.
func ConfigExists(repoRoot string) bool {
	_, err := os.Stat(configPath(repoRoot))
	return !os.IsNotExist(err)
}

// LoadConfig reads the project configuration from disk.
// Returns nil and no error if the config file does not exist.
func LoadConfig(repoRoot string) (*ProjectConfig, error) {
	path := configPath(repoRoot)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project config: %w", err)
	}

	var cfg ProjectConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse project config: %w", err)
	}

	return &cfg, nil
}

// SaveConfig writes the project configuration to disk, creating the
// .jinx directory if it doesn't exist.
func SaveConfig(repoRoot string, cfg *ProjectConfig) error {
	jinxPath := filepath.Join(repoRoot, JinxDir)

	if err := os.MkdirAll(jinxPath, 0755); err != nil {
		return fmt.Errorf("failed to create .jinx directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal project config: %w", err)
	}

	path := configPath(repoRoot)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write project config: %w", err)
	}

	return nil
}

// LoadRules reads custom agent rules from the .jinx/rules file.
// Returns empty string and no error if the file does not exist.
func LoadRules(repoRoot string) (string, error) {
	path := rulesPath(repoRoot)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read rules file: %w", err)
	}

	return string(data), nil
}
