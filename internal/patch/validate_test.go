package patch

import "testing"

func TestGuardPath_RejectsForbiddenPaths(t *testing.T) {
	for _, p := range []string{".env", "go.mod", "config/secrets.yaml", "../escape.go"} {
		if err := GuardPath(p); err == nil {
			t.Errorf("expected GuardPath(%q) to reject a forbidden/escaping path", p)
		}
	}
}

func TestGuardPath_AllowsOrdinaryRepoPath(t *testing.T) {
	if err := GuardPath("internal/store/reader.go"); err != nil {
		t.Errorf("expected an ordinary repo path to be allowed, got %v", err)
	}
}

func TestValidateProposedDiff_RejectsPatchOverBudget(t *testing.T) {
	budget := DiffBudget{MaxFiles: 1, MaxTotalLines: 5, MaxLinesPerFile: 5}
	diff := ProposedDiff{
		Target: "a.go",
		Unified: "--- a/a.go\n+++ b/a.go\n@@ -1,1 +1,6 @@\n" +
			"+1\n+2\n+3\n+4\n+5\n+6\n",
	}
	if err := ValidateProposedDiff(diff, budget); err == nil {
		t.Error("expected a diff exceeding MaxTotalLines to be rejected")
	}
}

func TestValidateProposedDiff_RejectsForbiddenTarget(t *testing.T) {
	budget := DefaultDiffBudget()
	diff := ProposedDiff{
		Target:  ".env",
		Unified: "--- a/.env\n+++ b/.env\n@@ -1,1 +1,1 @@\n-A=1\n+A=2\n",
	}
	if err := ValidateProposedDiff(diff, budget); err == nil {
		t.Error("expected a diff touching a forbidden path to be rejected")
	}
}

func TestValidateProposedDiff_AcceptsWithinBudget(t *testing.T) {
	budget := DiffBudget{MaxFiles: 5, MaxTotalLines: 100, MaxLinesPerFile: 100}
	diff := ProposedDiff{
		Target:  "internal/store/reader.go",
		Unified: "--- a/internal/store/reader.go\n+++ b/internal/store/reader.go\n@@ -1,1 +1,1 @@\n-old\n+new\n",
	}
	if err := ValidateProposedDiff(diff, budget); err != nil {
		t.Errorf("expected an in-budget diff to validate cleanly, got %v", err)
	}
}

func TestValidateProposedDiff_EmptyUnifiedIsRejected(t *testing.T) {
	diff := ProposedDiff{Target: "a.go"}
	if err := ValidateProposedDiff(diff, DefaultDiffBudget()); err == nil {
		t.Error("expected an empty unified diff to be rejected")
	}
}
