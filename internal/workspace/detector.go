// Package workspace detects what kind of project a repo root holds,
// grounded on detect_project_type in original_source/jinx/micro/workspace.py.
// cmd/jinxcore's index command reports the detected type; the walk is
// not filtered by it, and nothing here selects a lint/build/test
// command (that concern belongs to an external collaborator).
package workspace

import (
	"os"
	"path/filepath"
	"strings"
)

// ProjectType is the dominant source language of a repo root.
type ProjectType string

const (
	ProjectTypeGo      ProjectType = "go"
	ProjectTypeNode    ProjectType = "node"
	ProjectTypePython  ProjectType = "python"
	ProjectTypeRust    ProjectType = "rust"
	ProjectTypeUnknown ProjectType = "unknown"
)

// DetectProjectType detects the project type using manifest-first
// detection (go.mod, package.json, ...) with an extension-count
// fallback for repos without a recognized manifest.
func DetectProjectType(repoRoot string) ProjectType {
	if _, err := os.Stat(filepath.Join(repoRoot, "go.mod")); err == nil {
		return ProjectTypeGo
	}
	if _, err := os.Stat(filepath.Join(repoRoot, "package.json")); err == nil {
		return ProjectTypeNode
	}
	if _, err := os.Stat(filepath.Join(repoRoot, "pyproject.toml")); err == nil {
		return ProjectTypePython
	}
	if _, err := os.Stat(filepath.Join(repoRoot, "requirements.txt")); err == nil {
		return ProjectTypePython
	}
	if _, err := os.Stat(filepath.Join(repoRoot, "Cargo.toml")); err == nil {
		return ProjectTypeRust
	}

	entries, err := os.ReadDir(repoRoot)
	if err != nil {
		return ProjectTypeUnknown
	}

	extCounts := make(map[string]int)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != "" {
			extCounts[ext]++
		}
	}

	goCount := extCounts[".go"]
	nodeCount := extCounts[".ts"] + extCounts[".tsx"] + extCounts[".js"] + extCounts[".jsx"]
	pythonCount := extCounts[".py"]
	rustCount := extCounts[".rs"]

	maxCount := 0
	detected := ProjectTypeUnknown
	if goCount > maxCount {
		maxCount, detected = goCount, ProjectTypeGo
	}
	if nodeCount > maxCount {
		maxCount, detected = nodeCount, ProjectTypeNode
	}
	if pythonCount > maxCount {
		maxCount, detected = pythonCount, ProjectTypePython
	}
	if rustCount > maxCount {
		maxCount, detected = rustCount, ProjectTypeRust
	}

	if maxCount >= 3 {
		return detected
	}
	return ProjectTypeUnknown
}

// DefaultLang maps a ProjectType to the language tag retrieval.FileOpener.Walk
// expects, empty meaning "don't restrict".
func DefaultLang(t ProjectType) string {
	switch t {
	case ProjectTypeGo:
		return "go"
	case ProjectTypePython:
		return "python"
	default:
		return ""
	}
}
