package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jinxlabs/retrieval-core/internal/contextbuilder"
	"github.com/jinxlabs/retrieval-core/internal/project"
	"github.com/jinxlabs/retrieval-core/internal/retrieval"
	"github.com/jinxlabs/retrieval-core/internal/snippet"
	"github.com/jinxlabs/retrieval-core/internal/store"
)

// env wires the full retrieval stack for one repository: the embedding
// store (component A/B), the stage-kernel orchestrator (C/D), and the
// context builder (E/F/G) sitting on top of it.
type env struct {
	Root    string
	Manager *store.Manager
	Reader  *store.Reader
	Orch    *retrieval.Orchestrator
	Ctx     *contextbuilder.Builder
}

func newEnv(ctx context.Context, root string) (*env, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve repo root: %w", err)
	}
	stateDir := filepath.Join(abs, project.JinxDir)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	dbPath := filepath.Join(stateDir, "index.db")
	repoID := store.RepoIdentity(ctx, abs)

	mgr, err := store.NewManager(ctx, store.ManagerConfig{
		DBPath:            dbPath,
		RepoID:            repoID,
		RepoRoot:          abs,
		EnableFileWatcher: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create manager: %w", err)
	}
	if err := mgr.Start(); err != nil {
		return nil, fmt.Errorf("start manager: %w", err)
	}

	reader := store.NewReader(mgr)

	openBuffers, _ := os.ReadFile(project.OpenBuffersPath(abs))
	orch := retrieval.NewOrchestrator(retrieval.Env{
		Chunks:  reader,
		Files:   reader,
		Vector:  reader,
		Keyword: reader,
	}, retrieval.DefaultOrchestratorConfig(), openBuffers)

	knownFiles, _ := reader.Walk(ctx, "")

	fileSigOf := func(relPath string) snippet.FileSig {
		ns, size, err := mgr.FileSignature(relPath)
		if err != nil {
			return snippet.FileSig{}
		}
		return snippet.FileSig{MtimeNs: ns, Size: size}
	}
	readFile := func(relPath string) (string, bool) {
		data, err := reader.ReadFile(relPath)
		if err != nil {
			return "", false
		}
		return string(data), true
	}
	restricted := func(relPath string) bool {
		p := strings.ReplaceAll(relPath, "\\", "/")
		return strings.HasPrefix(p, project.JinxDir+"/") || strings.HasPrefix(p, project.LogDir+"/")
	}

	snippetBuilder := &snippet.Builder{
		Cache:         snippet.NewCache(5*time.Minute, 2000, 2*time.Second),
		Knobs:         snippet.DefaultKnobs(),
		ReadFile:      readFile,
		FileSigOf:     fileSigOf,
		KnownFiles:    func() []string { return knownFiles },
		CalleesTopN:   6,
		CalleeMaxLen:  200,
		SnippetAround: 12,
	}

	mgr.OnInvalidate(func(relPath string) {
		if relPath == "" {
			snippetBuilder.Cache.InvalidateAll()
			return
		}
		snippetBuilder.Cache.InvalidateFile(relPath)
	})

	ctxBuilder := &contextbuilder.Builder{
		Orchestrator: orch,
		Snippets:     snippetBuilder,
		Config:       contextbuilder.DefaultConfig(),
		Graph:        contextbuilder.NewGraphCache(5 * time.Minute),
		Usages:       contextbuilder.NewUsagesCache(5 * time.Minute),
		ReadFile:     readFile,
		KnownFiles:   func() []string { return knownFiles },
		Restricted:   restricted,
		FileSigOf:    fileSigOf,
	}

	return &env{Root: abs, Manager: mgr, Reader: reader, Orch: orch, Ctx: ctxBuilder}, nil
}

func (e *env) Close() error {
	return e.Manager.Stop()
}
