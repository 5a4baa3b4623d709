package patch

import (
	"strings"
	"testing"
)

func TestUnifiedDiff_EmptyWhenContentUnchanged(t *testing.T) {
	if d := UnifiedDiff("same\n", "same\n", "f.go"); d != "" {
		t.Errorf("expected empty diff for identical content, got %q", d)
	}
}

func TestUnifiedDiff_ProducesHunkForChangedContent(t *testing.T) {
	d := UnifiedDiff("line one\nline two\n", "line one\nline CHANGED\n", "f.go")
	if d == "" {
		t.Fatal("expected a non-empty diff for changed content")
	}
	if !strings.Contains(d, "f.go") {
		t.Errorf("expected the diff headers to reference f.go, got:\n%s", d)
	}
	if !strings.Contains(d, "+line CHANGED") {
		t.Errorf("expected an added-line hunk, got:\n%s", d)
	}
}

func TestDiffStats_CountsAddedAndRemovedIgnoringHeaders(t *testing.T) {
	diff := "--- a/f.go\n+++ b/f.go\n@@ -1,2 +1,2 @@\n-old one\n-old two\n+new one\n+new two\n+new three\n"
	added, removed := DiffStats(diff)
	if added != 3 {
		t.Errorf("expected 3 added lines, got %d", added)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed lines, got %d", removed)
	}
}
