package patcher

import (
	"fmt"
	"os"
	"strings"

	"github.com/jinxlabs/retrieval-core/internal/patch"
	"github.com/jinxlabs/retrieval-core/internal/snippet"
)

// extractSymbolSource returns the exact source text of the top-level
// def/class named symbol in path (decorators/docstring optionally
// included), grounded on extract_symbol_source in source_extract.py.
func extractSymbolSource(path, symbol string, includeDecorators, includeDocstring bool) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("cannot read %s: %w", path, err)
	}
	text := string(b)
	lines := strings.Split(text, "\n")
	start, end, _ := snippet.FindSymbolScope(text, symbol)
	if start == 0 {
		return "", fmt.Errorf("symbol %q not found in %s", symbol, path)
	}
	if includeDecorators {
		for start > 1 && strings.HasPrefix(strings.TrimSpace(lines[start-2]), "@") {
			start--
		}
	}
	if !includeDocstring {
		start = skipLeadingDocstring(lines, start, end)
	}
	if start > end || start < 1 || end > len(lines) {
		return "", fmt.Errorf("invalid range for symbol %q", symbol)
	}
	return strings.Join(lines[start-1:end], "\n"), nil
}

func skipLeadingDocstring(lines []string, start, end int) int {
	i := start
	for i <= end && strings.TrimSpace(lines[i-1]) == "" {
		i++
	}
	if i > end {
		return start
	}
	// the symbol header itself is at `start`; docstring (if any) is the
	// first body line after it
	bodyStart := i + 1
	if bodyStart > end {
		return start
	}
	for bodyStart <= end && strings.TrimSpace(lines[bodyStart-1]) == "" {
		bodyStart++
	}
	if bodyStart > end {
		return start
	}
	l := strings.TrimSpace(lines[bodyStart-1])
	var quote string
	switch {
	case strings.HasPrefix(l, `"""`):
		quote = `"""`
	case strings.HasPrefix(l, "'''"):
		quote = "'''"
	default:
		return start
	}
	for j := bodyStart; j <= end; j++ {
		if strings.Contains(lines[j-1], quote) && (j != bodyStart || strings.Count(lines[j-1], quote) >= 2) {
			return j + 1
		}
	}
	return start
}

// findEnclosingSymbol locates the nearest enclosing def/class around
// the first occurrence of query in path's text, grounded on
// find_enclosing_symbol in source_extract.py.
func findEnclosingSymbol(path, query string) (symbol string, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("cannot read %s: %w", path, err)
	}
	text := string(b)
	pos := strings.Index(text, query)
	if pos < 0 {
		return "", fmt.Errorf("query not found in %s", path)
	}
	matchLine := strings.Count(text[:pos], "\n") + 1
	name, _ := snippet.GetPythonSymbolAtLine(text, matchLine)
	if name == "" {
		return "", fmt.Errorf("no enclosing symbol around line %d in %s", matchLine, path)
	}
	return name, nil
}

func (r *Runner) writeWithGate(tid, outPath, code, strategy string) {
	if err := patch.GuardPath(outPath); err != nil {
		r.result(tid, false, nil, err.Error())
		return
	}
	r.progress(tid, 35, fmt.Sprintf("preview write %s", outPath))
	ok, diff := patch.PatchWrite(outPath, code, true)
	if !ok {
		r.result(tid, false, nil, diff)
		return
	}
	r.setExport("last_patch_preview", diff)
	okc, reason := patch.ShouldAutocommit(strategy, diff)
	forceDump := truthyEnv("JINX_DUMP_FORCE", true) && strings.HasPrefix(strategy, "dump")
	if !okc && !forceDump {
		r.setExport("last_patch_reason", "needs_confirmation: "+reason)
		r.setExport("last_patch_strategy", strategy)
		r.result(tid, false, map[string]any{"path": outPath, "diff": diff}, "needs_confirmation: "+reason)
		return
	}
	r.progress(tid, 65, fmt.Sprintf("commit write %s", outPath))
	ok, diff2 := patch.PatchWrite(outPath, code, false)
	if !ok {
		r.result(tid, false, nil, diff2)
		return
	}
	warn := patch.MaybeWarnFilesize(outPath)
	r.setExport("last_patch_commit", diff2)
	r.setExport("last_patch_strategy", strategy)
	if warn != "" {
		r.setExport("last_watchdog_warn", warn)
	}
	out := map[string]any{"path": outPath, "bytes": len(code), "diff": diff2}
	if warn != "" {
		out["watchdog"] = warn
	}
	r.result(tid, true, out, "")
	r.verify("", []string{outPath}, diff2)
}

func truthyEnv(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "0", "false", "off", "no":
		return false
	default:
		return true
	}
}

// handleDumpSymbol implements dump.symbol, grounded on
// handle_dump_symbol in dump_handler.py.
func (r *Runner) handleDumpSymbol(tid, srcPath, symbol, outPath string, includeDecorators, includeDocstring bool) {
	r.progress(tid, 10, "extracting symbol source")
	code, err := extractSymbolSource(srcPath, symbol, includeDecorators, includeDocstring)
	if err != nil {
		r.result(tid, false, nil, err.Error())
		return
	}
	r.writeWithGate(tid, outPath, code, "dump_symbol")
}

// handleDumpByQuery implements dump.query, grounded on
// handle_dump_by_query in dump_handler.py.
func (r *Runner) handleDumpByQuery(tid, srcPath, query, outPath string, includeDecorators, includeDocstring bool) {
	r.progress(tid, 12, "locating symbol by query")
	symbol, err := findEnclosingSymbol(srcPath, query)
	if err != nil {
		r.result(tid, false, nil, err.Error())
		return
	}
	r.handleDumpSymbol(tid, srcPath, symbol, outPath, includeDecorators, includeDocstring)
}

// handleDumpByQueryGlobal implements dump.query_global, grounded on
// handle_dump_by_query_global in dump_handler.py.
func (r *Runner) handleDumpByQueryGlobal(tid, query, outPath string, topk int, includeDecorators, includeDocstring bool) {
	r.progress(tid, 10, "searching project for query")
	if topk <= 0 {
		topk = 3
	}
	if r.Search == nil {
		r.result(tid, false, nil, "no search configured for dump.query_global")
		return
	}
	hits := r.Search(query, topk)
	if len(hits) == 0 {
		r.result(tid, false, nil, "no hits for query")
		return
	}
	for _, h := range hits {
		if h.FileRel == "" {
			continue
		}
		srcPath := r.abs(h.FileRel)
		symbol, err := findEnclosingSymbol(srcPath, query)
		if err != nil {
			continue
		}
		r.handleDumpSymbol(tid, srcPath, symbol, outPath, includeDecorators, includeDocstring)
		return
	}
	r.result(tid, false, nil, "no symbol found in top hits")
}
