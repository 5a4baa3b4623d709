package patch

import (
	"fmt"
	"os"
	"strings"

	"github.com/hbollon/go-edlib"
	"github.com/jinxlabs/retrieval-core/internal/snippet"
)

func readFile(path string) (string, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func writeFile(path, text string) error {
	return os.WriteFile(path, []byte(text), 0o644)
}

// PatchWrite replaces (or creates) the whole file at path with text,
// grounded on patch_write in patch_strategies.py / handle_write in
// write_handler.py.
func PatchWrite(path, text string, preview bool) (bool, string) {
	old, _ := readFile(path)
	diff := UnifiedDiff(old, text, path)
	if !preview {
		if err := writeFile(path, text); err != nil {
			return false, fmt.Sprintf("write failed: %v", err)
		}
	}
	return true, diff
}

func maxSpanDefault() int {
	return envInt("JINX_PATCH_MAX_SPAN", 80)
}

// PatchLineRange replaces the inclusive 1-based [ls, le] line range
// in path with replacement, rejecting spans wider than maxSpan
// (JINX_PATCH_MAX_SPAN, default 80), grounded on patch_line_range and
// handle_line_patch in line_handler.py.
func PatchLineRange(path string, ls, le int, replacement string, preview bool, maxSpan int) (bool, string) {
	if ls <= 0 || le <= 0 || le < ls {
		return false, "invalid line range"
	}
	if maxSpan <= 0 {
		maxSpan = maxSpanDefault()
	}
	if le-ls+1 > maxSpan {
		return false, fmt.Sprintf("invalid line range: span %d exceeds max_span=%d", le-ls+1, maxSpan)
	}
	old, ok := readFile(path)
	if !ok {
		return false, fmt.Sprintf("cannot read %s", path)
	}
	lines := strings.Split(old, "\n")
	if le > len(lines) {
		return false, fmt.Sprintf("invalid line range: file has %d lines", len(lines))
	}
	head := lines[:ls-1]
	tail := lines[le:]
	var mid []string
	if replacement != "" {
		mid = strings.Split(strings.TrimSuffix(replacement, "\n"), "\n")
	}
	newLines := append(append(append([]string{}, head...), mid...), tail...)
	newText := strings.Join(newLines, "\n")
	diff := UnifiedDiff(old, newText, path)
	if !preview {
		if err := writeFile(path, newText); err != nil {
			return false, fmt.Sprintf("write failed: %v", err)
		}
	}
	return true, diff
}

// PatchSymbolPython replaces the full definition (decorators
// included) of a top-level def/class named symbol, grounded on
// patch_symbol_python in patch_strategies.py / handle_symbol_patch.
func PatchSymbolPython(path, symbol, replacement string, preview bool) (bool, string) {
	old, ok := readFile(path)
	if !ok {
		return false, fmt.Sprintf("cannot read %s", path)
	}
	lines := strings.Split(old, "\n")
	start, end, _ := snippet.FindSymbolScope(old, symbol)
	if start == 0 {
		return false, fmt.Sprintf("symbol %q not found in %s", symbol, path)
	}
	for start > 1 && strings.HasPrefix(strings.TrimSpace(lines[start-2]), "@") {
		start--
	}
	head := lines[:start-1]
	tail := lines[end:]
	repl := strings.Split(strings.TrimSuffix(replacement, "\n"), "\n")
	newLines := append(append(append([]string{}, head...), repl...), tail...)
	newText := strings.Join(newLines, "\n")
	diff := UnifiedDiff(old, newText, path)
	if !preview {
		if err := writeFile(path, newText); err != nil {
			return false, fmt.Sprintf("write failed: %v", err)
		}
	}
	return true, diff
}

// PatchAnchorInsertAfter inserts replacement on the line immediately
// following the first line containing anchor, grounded on
// patch_anchor_insert_after in patch_strategies.py / anchor_handler.py.
func PatchAnchorInsertAfter(path, anchor, replacement string, preview bool) (bool, string) {
	old, ok := readFile(path)
	if !ok {
		return false, fmt.Sprintf("cannot read %s", path)
	}
	lines := strings.Split(old, "\n")
	idx := -1
	for i, l := range lines {
		if strings.Contains(l, anchor) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, fmt.Sprintf("anchor %q not found in %s", anchor, path)
	}
	ins := strings.Split(strings.TrimSuffix(replacement, "\n"), "\n")
	newLines := append([]string{}, lines[:idx+1]...)
	newLines = append(newLines, ins...)
	newLines = append(newLines, lines[idx+1:]...)
	newText := strings.Join(newLines, "\n")
	diff := UnifiedDiff(old, newText, path)
	if !preview {
		if err := writeFile(path, newText); err != nil {
			return false, fmt.Sprintf("write failed: %v", err)
		}
	}
	return true, diff
}

// PatchContextReplace finds the window of lines in path most similar
// to beforeBlock (edit-similarity >= tolerance) and swaps it for
// replacement, grounded on patch_context_replace in
// patch_strategies.py. tolerance defaults to 0.72.
func PatchContextReplace(path, beforeBlock, replacement string, preview bool, tolerance float32) (bool, string) {
	if tolerance <= 0 {
		tolerance = 0.72
	}
	old, ok := readFile(path)
	if !ok {
		return false, fmt.Sprintf("cannot read %s", path)
	}
	lines := strings.Split(old, "\n")
	before := strings.Split(strings.TrimSuffix(beforeBlock, "\n"), "\n")
	n := len(before)
	if n == 0 || n > len(lines) {
		return false, "empty or oversized context block"
	}
	bestIdx := -1
	var bestScore float32
	for i := 0; i+n <= len(lines); i++ {
		window := strings.Join(lines[i:i+n], "\n")
		score, err := edlib.StringsSimilarity(window, beforeBlock, edlib.Levenshtein)
		if err != nil {
			continue
		}
		if score > bestScore {
			bestScore, bestIdx = score, i
		}
	}
	if bestIdx < 0 || bestScore < tolerance {
		return false, fmt.Sprintf("no context window matched at tolerance %.2f (best %.2f)", tolerance, bestScore)
	}
	repl := strings.Split(strings.TrimSuffix(replacement, "\n"), "\n")
	newLines := append(append(append([]string{}, lines[:bestIdx]...), repl...), lines[bestIdx+n:]...)
	newText := strings.Join(newLines, "\n")
	diff := UnifiedDiff(old, newText, path)
	if !preview {
		if err := writeFile(path, newText); err != nil {
			return false, fmt.Sprintf("write failed: %v", err)
		}
	}
	return true, diff
}

// AutoPatchArgs is the autopatch selector's argument bag, grounded on
// the AutoPatchArgs dataclass in patch_strategies.py.
type AutoPatchArgs struct {
	Path              string
	Code              string
	LineStart         int
	LineEnd           int
	Symbol            string
	Anchor            string
	Query             string
	Preview           bool
	MaxSpan           int
	Force             bool
	ContextBefore     string
	ContextTolerance  float32
	// Resolver is consulted only when Query is set and no other
	// selector key is present; it resolves a query to a concrete
	// (path, lineStart, lineEnd), grounded on the `query` autopatch
	// key in patch.auto's description in the spec (backed, in the
	// running system, by a retrieval lookup — injected here rather
	// than imported, to keep this package free of a dependency on
	// the retrieval engine).
	Resolver func(query string) (path string, lineStart, lineEnd int, ok bool)
}

// Autopatch selects among line | symbol | anchor | context | write
// by source precedence — explicit line_start/line_end > symbol >
// anchor > query > context_before > whole-file write — and delegates
// to the matching strategy, grounded on autopatch in
// patch_strategies.py and auto_handler.py, with the precedence order
// fixed per the spec's own resolution of the ambiguity.
func Autopatch(a AutoPatchArgs) (ok bool, strategy string, diff string) {
	switch {
	case a.LineStart > 0 && a.LineEnd > 0:
		ms := a.MaxSpan
		if ms <= 0 {
			ms = maxSpanDefault()
		}
		ok, diff = PatchLineRange(a.Path, a.LineStart, a.LineEnd, a.Code, a.Preview, ms)
		return ok, "line", diff
	case a.Symbol != "":
		ok, diff = PatchSymbolPython(a.Path, a.Symbol, a.Code, a.Preview)
		return ok, "symbol", diff
	case a.Anchor != "":
		ok, diff = PatchAnchorInsertAfter(a.Path, a.Anchor, a.Code, a.Preview)
		return ok, "anchor", diff
	case a.Query != "":
		if a.Resolver == nil {
			return false, "query", "no resolver configured for query-based autopatch"
		}
		path, ls, le, found := a.Resolver(a.Query)
		if !found {
			return false, "query", fmt.Sprintf("no target resolved for query %q", a.Query)
		}
		if a.Path == "" {
			a.Path = path
		}
		ms := a.MaxSpan
		if ms <= 0 {
			ms = maxSpanDefault()
		}
		ok, diff = PatchLineRange(a.Path, ls, le, a.Code, a.Preview, ms)
		return ok, "query", diff
	case a.ContextBefore != "":
		ok, diff = PatchContextReplace(a.Path, a.ContextBefore, a.Code, a.Preview, a.ContextTolerance)
		return ok, "context", diff
	default:
		ok, diff = PatchWrite(a.Path, a.Code, a.Preview)
		return ok, "write", diff
	}
}
