package patcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jinxlabs/retrieval-core/internal/snippet"
)

// moduleNameFromPath derives a dotted import path for p relative to
// root, the Go-side analogue of _module_name_from_path in
// refactor_handler.py.
func moduleNameFromPath(root, p string) string {
	rel := p
	if root != "" {
		if r, err := filepath.Rel(root, p); err == nil {
			rel = r
		}
	}
	rel = strings.TrimSuffix(rel, ".py")
	rel = strings.TrimSuffix(rel, string(filepath.Separator)+"__init__")
	parts := strings.Split(filepath.ToSlash(rel), "/")
	var kept []string
	for _, s := range parts {
		if s != "" && s != "." {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, ".")
}

func ensureNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

// importInsertionIndex finds a safe 0-based line index to splice an
// import statement after: shebang, encoding cookie, module docstring,
// and any `from __future__ import` block, grounded on
// _import_insertion_index in refactor_handler.py.
func importInsertionIndex(text string) int {
	lines := strings.Split(text, "\n")
	n := len(lines)
	i := 0
	if i < n && strings.HasPrefix(lines[i], "#!") {
		i++
	}
	if i < n && (strings.Contains(lines[i], "coding:") || strings.Contains(lines[i], "coding=")) {
		i++
	}
	for i < n && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	if i < n {
		trimmed := strings.TrimSpace(lines[i])
		var quote string
		switch {
		case strings.HasPrefix(trimmed, `"""`):
			quote = `"""`
		case strings.HasPrefix(trimmed, "'''"):
			quote = "'''"
		}
		if quote != "" {
			j := i
			for j < n {
				if strings.Contains(lines[j], quote) && (j != i || strings.Count(lines[j], quote) >= 2) {
					i = j + 1
					break
				}
				j++
			}
		}
	}
	k := i
	for k < n && strings.HasPrefix(strings.TrimSpace(lines[k]), "from __future__ import") {
		k++
	}
	return k
}

func insertAt(lines []string, idx int, extra ...string) []string {
	if idx < 0 {
		idx = 0
	}
	if idx > len(lines) {
		idx = len(lines)
	}
	out := make([]string, 0, len(lines)+len(extra))
	out = append(out, lines[:idx]...)
	out = append(out, extra...)
	out = append(out, lines[idx:]...)
	return out
}

func readOrEmpty(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(b)
}

func appendWithSpacing(dst, code string) string {
	if dst == "" {
		return ensureNewline(code)
	}
	if !strings.HasSuffix(dst, "\n\n") {
		if !strings.HasSuffix(dst, "\n") {
			dst += "\n"
		}
		dst += "\n"
	}
	return dst + ensureNewline(code)
}

// buildMoveOps constructs the batch-op plan for moving one symbol
// from srcPath to dstPath, grounded on _build_move_plan in
// refactor_handler.py.
func (r *Runner) buildMoveOps(srcPath, symbol, dstPath string, createInit, insertShim bool) ([]map[string]any, error) {
	code, err := extractSymbolSource(srcPath, symbol, true, true)
	if err != nil {
		return nil, err
	}
	srcText := readOrEmpty(srcPath)
	dstText := readOrEmpty(dstPath)

	dstNew := appendWithSpacing(dstText, code)

	start, end, _ := snippet.FindSymbolScope(srcText, symbol)
	srcLines := strings.Split(srcText, "\n")
	for start > 1 && strings.HasPrefix(strings.TrimSpace(srcLines[start-2]), "@") {
		start--
	}
	if start == 0 {
		return nil, fmt.Errorf("symbol %q not found in %s", symbol, srcPath)
	}
	if end > len(srcLines) {
		end = len(srcLines)
	}
	kept := append(append([]string{}, srcLines[:start-1]...), srcLines[end:]...)

	if insertShim {
		dstMod := moduleNameFromPath(r.Root, dstPath)
		importLine := fmt.Sprintf("from %s import %s", dstMod, symbol)
		idx := importInsertionIndex(strings.Join(kept, "\n"))
		kept = insertAt(kept, idx, importLine)
	}
	srcNew := ensureNewline(strings.Join(kept, "\n"))

	ops := []map[string]any{
		{"type": "write", "path": dstPath, "code": dstNew, "meta": map[string]any{"refactor": true, "role": "dst", "symbol": symbol}},
		{"type": "write", "path": srcPath, "code": srcNew, "meta": map[string]any{"refactor": true, "role": "src", "symbol": symbol}},
	}
	if createInit {
		dstDir := filepath.Dir(dstPath)
		initPath := filepath.Join(dstDir, "__init__.py")
		initText := readOrEmpty(initPath)
		if initText == "" {
			initText = "\n"
		}
		relMod := strings.TrimSuffix(filepath.Base(dstPath), ".py")
		exportLine := fmt.Sprintf("from .%s import %s", relMod, symbol)
		lines := strings.Split(initText, "\n")
		found := false
		for _, ln := range lines {
			if strings.TrimSpace(ln) == exportLine {
				found = true
				break
			}
		}
		if !found {
			if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) != "" {
				lines = append(lines, "")
			}
			lines = append(lines, exportLine)
		}
		initNew := ensureNewline(strings.Join(lines, "\n"))
		ops = append(ops, map[string]any{"type": "write", "path": initPath, "code": initNew, "meta": map[string]any{"refactor": true, "role": "dst_init", "symbol": symbol}})
	}
	return ops, nil
}

// handleRefactorMove implements refactor.move: move a top-level
// function/class to another module, with an import shim left behind
// and an optional package re-export, delegated through the batch
// strategy for preview/gate/commit/watchdog/verify, grounded on
// handle_refactor_move_symbol in refactor_handler.py.
func (r *Runner) handleRefactorMove(tid, srcPath, symbol, dstPath string, createInit, insertShim, force bool) {
	r.progress(tid, 9, "build move plan")
	ops, err := r.buildMoveOps(srcPath, symbol, dstPath, createInit, insertShim)
	if err != nil {
		r.result(tid, false, nil, fmt.Sprintf("refactor move failed: %s", err))
		return
	}
	r.progress(tid, 22, "preview refactor (batch)")
	r.handleBatch(tid, ops, force)
}

// handleRefactorSplit implements refactor.split: every top-level
// def/class in srcPath moves to its own file under outDir, with the
// source reduced to an import shim, grounded on
// handle_refactor_split_file in refactor_handler.py.
func (r *Runner) handleRefactorSplit(tid, srcPath, outDir string, createInit, insertShim, force bool) {
	r.progress(tid, 8, "parse symbols")
	text := readOrEmpty(srcPath)
	if text == "" {
		r.result(tid, false, nil, fmt.Sprintf("cannot read %s", srcPath))
		return
	}
	symbols := snippet.TopLevelSymbols(text)
	var named []snippet.Symbol
	for _, s := range symbols {
		if s.Name != "" && !strings.HasPrefix(s.Name, "__") {
			named = append(named, s)
		}
	}
	if len(named) == 0 {
		r.result(tid, false, nil, "no top-level symbols to split")
		return
	}

	lines := strings.Split(text, "\n")
	mask := make([]bool, len(lines))
	for _, s := range named {
		s1 := s.Start
		e1 := s.End
		if s1 < 1 {
			s1 = 1
		}
		if e1 > len(lines) {
			e1 = len(lines)
		}
		for i := s1 - 1; i < e1 && i < len(mask); i++ {
			mask[i] = true
		}
	}
	var kept []string
	for i, ln := range lines {
		if !mask[i] {
			kept = append(kept, ln)
		}
	}
	if insertShim {
		var shimImports []string
		for _, s := range named {
			dstFile := filepath.Join(outDir, s.Name+".py")
			dstMod := moduleNameFromPath(r.Root, dstFile)
			shimImports = append(shimImports, fmt.Sprintf("from %s import %s", dstMod, s.Name))
		}
		idx := importInsertionIndex(strings.Join(kept, "\n"))
		kept = insertAt(kept, idx, shimImports...)
	}
	srcNew := strings.TrimRight(strings.Join(kept, "\n"), "\n") + "\n"

	pkgInitPath := filepath.Join(outDir, "__init__.py")
	initText := readOrEmpty(pkgInitPath)
	if initText == "" {
		initText = "\n"
	}
	initLines := strings.Split(initText, "\n")

	var ops []map[string]any
	for _, s := range named {
		s1, e1 := s.Start, s.End
		if s1 < 1 {
			s1 = 1
		}
		if e1 > len(lines) {
			e1 = len(lines)
		}
		code := strings.Join(lines[s1-1:e1], "\n")
		dstFile := filepath.Join(outDir, s.Name+".py")
		dstNew := appendWithSpacing(readOrEmpty(dstFile), strings.TrimRight(code, "\n"))
		ops = append(ops, map[string]any{"type": "write", "path": dstFile, "code": dstNew, "meta": map[string]any{"refactor": true, "role": "dst", "symbol": s.Name}})
		if createInit {
			exportLine := fmt.Sprintf("from .%s import %s", s.Name, s.Name)
			found := false
			for _, ln := range initLines {
				if strings.TrimSpace(ln) == exportLine {
					found = true
					break
				}
			}
			if !found {
				initLines = append(initLines, exportLine)
			}
		}
	}
	if createInit {
		initNew := strings.TrimRight(strings.Join(initLines, "\n"), "\n") + "\n"
		ops = append(ops, map[string]any{"type": "write", "path": pkgInitPath, "code": initNew, "meta": map[string]any{"refactor": true, "role": "dst_init"}})
	}
	ops = append(ops, map[string]any{"type": "write", "path": srcPath, "code": srcNew, "meta": map[string]any{"refactor": true, "role": "src"}})

	r.progress(tid, 22, "preview refactor split (batch)")
	r.handleBatch(tid, ops, force)
}
