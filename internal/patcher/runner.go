// Package patcher implements the patch/dump/refactor task surface: a
// background micro-program that drains patch.*, dump.*, and
// refactor.* requests off the bus and runs each through the same
// preview -> gate -> (commit | needs_confirmation) -> verify_trigger
// state machine, grounded on patcher_program.py, patcher_handlers.py,
// and the handlers/ package (write_handler.py, line_handler.py,
// symbol_handler.py, anchor_handler.py, auto_handler.py,
// batch_handler.py, dump_handler.py, refactor_handler.py).
package patcher

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jinxlabs/retrieval-core/internal/bus"
	"github.com/jinxlabs/retrieval-core/internal/patch"
	"github.com/jinxlabs/retrieval-core/internal/runtime"
)

// SearchHit is the minimal shape Runner needs from a retrieval
// lookup for patch.auto's query selector and dump.query_global —
// decoupling this package from the retrieval engine's own Hit type.
type SearchHit struct {
	FileRel   string
	LineStart int
	LineEnd   int
}

// Verify is invoked after every successful commit, grounded on the
// verify_cb parameter every handlers/*.py function threads through
// and, in the running system, backed by maybe_verify in
// verify_integration.py.
type Verify func(goal string, files []string, diff string)

// Runner executes one patch/dump/refactor task end to end, grounded
// on the handlers/ package and patcher_program.py's AutoPatchProgram.
type Runner struct {
	RT     *runtime.Runtime
	Root   string
	Search func(query string, k int) []SearchHit
	Verify Verify

	mu      sync.Mutex
	exports map[string]string
}

// NewRunner builds a Runner rooted at root (used to resolve relative
// paths from tasks), reporting progress/results through rt.
func NewRunner(rt *runtime.Runtime, root string) *Runner {
	return &Runner{RT: rt, Root: root, exports: make(map[string]string)}
}

func (r *Runner) setExport(key, val string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exports[key] = val
}

// Export returns the macro-surfaced value for key (e.g.
// "last_patch_preview", "last_patch_commit", "last_patch_strategy",
// "last_patch_reason", "last_watchdog_warn"), capped at
// JINX_PATCH_EXPORT_MAXCHARS (default 6000), grounded on
// AutoPatchProgram.get_export in patcher_program.py.
func (r *Runner) Export(key string) string {
	r.mu.Lock()
	v := r.exports[strings.ToLower(strings.TrimSpace(key))]
	r.mu.Unlock()
	cap := patch.EnvInt("JINX_PATCH_EXPORT_MAXCHARS", 6000)
	if cap < 512 {
		cap = 512
	}
	if len(v) > cap {
		return v[:cap] + "\n...<truncated>"
	}
	return v
}

func (r *Runner) abs(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if r.Root == "" {
		return p
	}
	return filepath.Join(r.Root, p)
}

func (r *Runner) progress(tid string, pct float64, msg string) {
	if r.RT != nil {
		r.RT.ReportProgress(tid, pct, msg)
	}
}

func (r *Runner) result(tid string, ok bool, result any, errMsg string) {
	if r.RT != nil {
		r.RT.ReportResult(tid, ok, result, errMsg)
	}
}

func (r *Runner) verify(goal string, files []string, diff string) {
	if r.Verify != nil {
		r.Verify(goal, files, diff)
	}
}

// Dispatch routes one task.request payload to its handler, grounded
// on AutoPatchProgram._on_task in patcher_program.py. It is safe to
// call from a goroutine per task, matching the bus's fire-and-forget
// dispatch.
func (r *Runner) Dispatch(tp bus.TaskRequestPayload) {
	tid, name := tp.ID, tp.Name
	if tid == "" || name == "" {
		return
	}
	args, kw := tp.Args, tp.Kwargs
	if err := validateKwargs(name, kw); err != nil {
		r.result(tid, false, nil, err.Error())
		return
	}
	switch name {
	case "patch.write":
		if len(args) < 2 {
			return
		}
		r.handleWrite(tid, r.abs(argStr(args, 0)), argStr(args, 1))
	case "patch.line":
		if len(args) < 4 {
			return
		}
		r.handleLine(tid, r.abs(argStr(args, 0)), argInt(args, 1), argInt(args, 2), argStr(args, 3))
	case "patch.symbol":
		if len(args) < 3 {
			return
		}
		r.handleSymbol(tid, r.abs(argStr(args, 0)), argStr(args, 1), argStr(args, 2))
	case "patch.anchor":
		if len(args) < 3 {
			return
		}
		r.handleAnchor(tid, r.abs(argStr(args, 0)), argStr(args, 1), argStr(args, 2))
	case "patch.auto":
		r.handleAuto(tid, r.autoArgsFromKwargs(kw))
	case "patch.batch":
		force := kwBool(kw, "force", false)
		r.handleBatch(tid, kwOps(kw), force)
	case "dump.symbol":
		incDeco, incDoc := kwBool(kw, "include_decorators", true), kwBool(kw, "include_docstring", true)
		r.handleDumpSymbol(tid, r.abs(kwStr(kw, "src_path")), kwStr(kw, "symbol"), r.abs(kwStr(kw, "out_path")), incDeco, incDoc)
	case "dump.query":
		incDeco, incDoc := kwBool(kw, "include_decorators", true), kwBool(kw, "include_docstring", true)
		r.handleDumpByQuery(tid, r.abs(kwStr(kw, "src_path")), kwStr(kw, "query"), r.abs(kwStr(kw, "out_path")), incDeco, incDoc)
	case "dump.query_global":
		topk, _ := kwInt(kw, "topk")
		incDeco, incDoc := kwBool(kw, "include_decorators", true), kwBool(kw, "include_docstring", true)
		r.handleDumpByQueryGlobal(tid, kwStr(kw, "query"), r.abs(kwStr(kw, "out_path")), topk, incDeco, incDoc)
	case "refactor.move":
		r.handleRefactorMove(tid, r.abs(kwStr(kw, "src_path")), kwStr(kw, "symbol"), r.abs(kwStr(kw, "dst_path")),
			kwBool(kw, "create_init", true), kwBool(kw, "insert_shim", true), kwBool(kw, "force", true))
	case "refactor.split":
		r.handleRefactorSplit(tid, r.abs(kwStr(kw, "src_path")), r.abs(kwStr(kw, "out_dir")),
			kwBool(kw, "create_init", true), kwBool(kw, "insert_shim", true), kwBool(kw, "force", true))
	}
}

func (r *Runner) autoArgsFromKwargs(kw map[string]any) patch.AutoPatchArgs {
	ls, _ := kwInt(kw, "line_start")
	le, _ := kwInt(kw, "line_end")
	ms, _ := kwInt(kw, "max_span")
	tol, _ := kwFloat(kw, "context_tolerance")
	a := patch.AutoPatchArgs{
		Path:             kwStr(kw, "path"),
		Code:             kwStr(kw, "code"),
		LineStart:        ls,
		LineEnd:          le,
		Symbol:           kwStr(kw, "symbol"),
		Anchor:           kwStr(kw, "anchor"),
		Query:            kwStr(kw, "query"),
		MaxSpan:          ms,
		Force:            kwBool(kw, "force", false),
		ContextBefore:    kwStr(kw, "context_before"),
		ContextTolerance: tol,
	}
	if a.Path != "" {
		a.Path = r.abs(a.Path)
	}
	if r.Search != nil {
		a.Resolver = func(query string) (string, int, int, bool) {
			hits := r.Search(query, 1)
			if len(hits) == 0 {
				return "", 0, 0, false
			}
			h := hits[0]
			return r.abs(h.FileRel), h.LineStart, h.LineEnd, true
		}
	}
	return a
}

// handleWrite implements patch.write, grounded on handle_write in
// write_handler.py.
func (r *Runner) handleWrite(tid, path, text string) {
	if err := patch.GuardPath(path); err != nil {
		r.result(tid, false, nil, err.Error())
		return
	}
	r.progress(tid, 15, fmt.Sprintf("preview write %s", path))
	ok, diff := patch.PatchWrite(path, text, true)
	if !ok {
		r.result(tid, false, nil, diff)
		return
	}
	r.setExport("last_patch_preview", diff)
	okc, reason := patch.ShouldAutocommit("write", diff)
	if !okc {
		add, rem := patch.DiffStats(diff)
		r.setExport("last_patch_reason", "needs_confirmation: "+reason)
		r.setExport("last_patch_strategy", "write")
		r.result(tid, false, map[string]any{"path": path, "diff": diff, "diff_add": add, "diff_rem": rem}, "needs_confirmation: "+reason)
		return
	}
	r.progress(tid, 45, fmt.Sprintf("commit write %s", path))
	ok, diff2 := patch.PatchWrite(path, text, false)
	if !ok {
		r.result(tid, false, nil, diff2)
		return
	}
	warn := patch.MaybeWarnFilesize(path)
	r.setExport("last_patch_commit", diff2)
	r.setExport("last_patch_strategy", "write")
	if warn != "" {
		r.setExport("last_watchdog_warn", warn)
	}
	add2, rem2 := patch.DiffStats(diff2)
	out := map[string]any{"path": path, "bytes": len(text), "diff": diff2, "diff_add": add2, "diff_rem": rem2}
	if warn != "" {
		out["watchdog"] = warn
	}
	r.result(tid, true, out, "")
	r.verify("", []string{path}, diff2)
}

// handleLine implements patch.line, grounded on handle_line_patch in
// line_handler.py.
func (r *Runner) handleLine(tid, path string, ls, le int, replacement string) {
	if err := patch.GuardPath(path); err != nil {
		r.result(tid, false, nil, err.Error())
		return
	}
	maxSpan := patch.EnvInt("JINX_PATCH_MAX_SPAN", 80)
	r.progress(tid, 15, fmt.Sprintf("preview patch %s:%d-%d", path, ls, le))
	ok, diff := patch.PatchLineRange(path, ls, le, replacement, true, maxSpan)
	if !ok {
		r.result(tid, false, nil, diff)
		return
	}
	r.setExport("last_patch_preview", diff)
	okc, reason := patch.ShouldAutocommit("line", diff)
	if !okc {
		r.setExport("last_patch_reason", "needs_confirmation: "+reason)
		r.setExport("last_patch_strategy", "line")
		r.result(tid, false, map[string]any{"path": path, "lines": [2]int{ls, le}, "diff": diff}, "needs_confirmation: "+reason)
		return
	}
	r.progress(tid, 55, fmt.Sprintf("commit patch %s:%d-%d", path, ls, le))
	ok, diff2 := patch.PatchLineRange(path, ls, le, replacement, false, maxSpan)
	if !ok {
		r.result(tid, false, nil, diff2)
		return
	}
	warn := patch.MaybeWarnFilesize(path)
	r.setExport("last_patch_commit", diff2)
	r.setExport("last_patch_strategy", "line")
	if warn != "" {
		r.setExport("last_watchdog_warn", warn)
	}
	out := map[string]any{"path": path, "lines": [2]int{ls, le}, "diff": diff2}
	if warn != "" {
		out["watchdog"] = warn
	}
	r.result(tid, true, out, "")
	r.verify("", []string{path}, diff2)
}

// handleSymbol implements patch.symbol, grounded on
// handle_symbol_patch in symbol_handler.py.
func (r *Runner) handleSymbol(tid, path, symbol, replacement string) {
	if err := patch.GuardPath(path); err != nil {
		r.result(tid, false, nil, err.Error())
		return
	}
	r.progress(tid, 15, fmt.Sprintf("preview symbol %s in %s", symbol, path))
	ok, diff := patch.PatchSymbolPython(path, symbol, replacement, true)
	if !ok {
		r.result(tid, false, nil, diff)
		return
	}
	r.setExport("last_patch_preview", diff)
	okc, reason := patch.ShouldAutocommitPython("symbol", diff, replacement)
	if !okc {
		r.setExport("last_patch_reason", "needs_confirmation: "+reason)
		r.setExport("last_patch_strategy", "symbol")
		r.result(tid, false, map[string]any{"path": path, "symbol": symbol, "diff": diff}, "needs_confirmation: "+reason)
		return
	}
	r.progress(tid, 55, fmt.Sprintf("commit symbol %s in %s", symbol, path))
	ok, diff2 := patch.PatchSymbolPython(path, symbol, replacement, false)
	if !ok {
		r.result(tid, false, nil, diff2)
		return
	}
	warn := patch.MaybeWarnFilesize(path)
	r.setExport("last_patch_commit", diff2)
	r.setExport("last_patch_strategy", "symbol")
	if warn != "" {
		r.setExport("last_watchdog_warn", warn)
	}
	out := map[string]any{"path": path, "symbol": symbol, "diff": diff2}
	if warn != "" {
		out["watchdog"] = warn
	}
	r.result(tid, true, out, "")
	r.verify("", []string{path}, diff2)
}

// handleAnchor implements patch.anchor, grounded on
// handle_anchor_patch in anchor_handler.py.
func (r *Runner) handleAnchor(tid, path, anchor, replacement string) {
	if err := patch.GuardPath(path); err != nil {
		r.result(tid, false, nil, err.Error())
		return
	}
	r.progress(tid, 15, fmt.Sprintf("preview anchor '%s' in %s", anchor, path))
	ok, diff := patch.PatchAnchorInsertAfter(path, anchor, replacement, true)
	if !ok {
		r.result(tid, false, nil, diff)
		return
	}
	r.setExport("last_patch_preview", diff)
	okc, reason := patch.ShouldAutocommit("anchor", diff)
	if !okc {
		r.setExport("last_patch_reason", "needs_confirmation: "+reason)
		r.setExport("last_patch_strategy", "anchor")
		r.result(tid, false, map[string]any{"path": path, "anchor": anchor, "diff": diff}, "needs_confirmation: "+reason)
		return
	}
	r.progress(tid, 55, fmt.Sprintf("commit anchor '%s' in %s", anchor, path))
	ok, diff2 := patch.PatchAnchorInsertAfter(path, anchor, replacement, false)
	if !ok {
		r.result(tid, false, nil, diff2)
		return
	}
	warn := patch.MaybeWarnFilesize(path)
	r.setExport("last_patch_commit", diff2)
	r.setExport("last_patch_strategy", "anchor")
	if warn != "" {
		r.setExport("last_watchdog_warn", warn)
	}
	out := map[string]any{"path": path, "anchor": anchor, "diff": diff2}
	if warn != "" {
		out["watchdog"] = warn
	}
	r.result(tid, true, out, "")
	r.verify("", []string{path}, diff2)
}

// handleAuto implements patch.auto, grounded on handle_auto_patch in
// auto_handler.py.
func (r *Runner) handleAuto(tid string, a patch.AutoPatchArgs) {
	if a.Path != "" {
		if err := patch.GuardPath(a.Path); err != nil {
			r.result(tid, false, nil, err.Error())
			return
		}
	}
	r.progress(tid, 12, "auto preview")
	a.Preview = true
	ok, strat, diff := patch.Autopatch(a)
	if !ok {
		r.result(tid, false, nil, fmt.Sprintf("%s: %s", strat, diff))
		return
	}
	r.setExport("last_patch_preview", diff)
	okc, reason := patch.ShouldAutocommit(strat, diff)
	if !okc && !a.Force {
		r.setExport("last_patch_reason", "needs_confirmation: "+reason)
		r.setExport("last_patch_strategy", strat)
		r.result(tid, false, map[string]any{"strategy": strat, "diff": diff}, "needs_confirmation: "+reason)
		return
	}
	r.progress(tid, 55, "auto commit")
	a.Preview = false
	ok, strat2, diff2 := patch.Autopatch(a)
	if !ok {
		r.result(tid, false, nil, fmt.Sprintf("%s: %s", strat2, diff2))
		return
	}
	r.setExport("last_patch_commit", diff2)
	r.setExport("last_patch_strategy", strat2)
	var warn string
	if a.Path != "" {
		warn = patch.MaybeWarnFilesize(a.Path)
		if warn != "" {
			r.setExport("last_watchdog_warn", warn)
		}
	}
	out := map[string]any{"strategy": strat2, "diff": diff2}
	if warn != "" {
		out["watchdog"] = warn
	}
	r.result(tid, true, out, "")
	var files []string
	if a.Path != "" {
		files = []string{a.Path}
	}
	r.verify("", files, diff2)
}
