package store

import (
	"context"
	"testing"
)

func TestRepoIdentity_StableForSameRoot(t *testing.T) {
	root := t.TempDir()
	id1 := RepoIdentity(context.Background(), root)
	id2 := RepoIdentity(context.Background(), root)
	if id1 != id2 {
		t.Errorf("expected RepoIdentity to be stable for the same root, got %q vs %q", id1, id2)
	}
	if len(id1) != 16 {
		t.Errorf("expected a 16-char identity, got %q (len %d)", id1, len(id1))
	}
}

func TestRepoIdentity_DiffersAcrossDistinctRoots(t *testing.T) {
	a := RepoIdentity(context.Background(), t.TempDir())
	b := RepoIdentity(context.Background(), t.TempDir())
	if a == b {
		t.Error("expected distinct repo roots to produce distinct identities")
	}
}

func TestDetectGit_NonGitDirFallsBackCleanly(t *testing.T) {
	info := DetectGit(context.Background(), t.TempDir())
	if info.IsGit {
		t.Error("expected a freshly created temp dir with no .git to report IsGit=false")
	}
}
