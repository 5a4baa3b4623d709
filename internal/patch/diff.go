// Package patch implements the low-level patch strategies the
// patcher task surface dispatches to: whole-file writes, line-range
// replacement, Python symbol replacement, anchor-based insertion,
// fuzzy context replacement, and the combinator that autoselects
// among them. Every strategy returns a preview diff without
// mutating the file when preview is true, and performs the same
// edit for real otherwise — the shape patcher.go's state machine
// gates on, grounded on the patch_write/patch_line_range/etc.
// functions patch_strategies.py and the handlers/ package delegate
// to (the lower-level implementation module itself was not present
// to read verbatim; behavior here follows the handler call sites
// and the gating rule spelled out in the spec).
package patch

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// UnifiedDiff produces a compact unified diff between old and new,
// grounded on unified_diff in patch_strategies.py (there backed by
// Python's difflib; here by its Go counterpart).
func UnifiedDiff(old, new, path string) string {
	if old == new {
		return ""
	}
	name := path
	if name == "" {
		name = "file"
	}
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(old),
		B:        difflib.SplitLines(new),
		FromFile: name,
		ToFile:   name,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return fmt.Sprintf("--- %s\n+++ %s\n(diff failed: %v)", name, name, err)
	}
	return text
}

// DiffStats returns (added, removed) line counts, ignoring the ---
// / +++ file headers, grounded on diff_stats in patch_strategies.py.
func DiffStats(diff string) (added, removed int) {
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			continue
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return added, removed
}
