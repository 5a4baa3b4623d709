package patcher

import (
	"fmt"
	"strings"

	"github.com/jinxlabs/retrieval-core/internal/patch"
)

type batchOpResult struct {
	Index int    `json:"i"`
	Type  string `json:"type"`
	OK    bool   `json:"ok"`
	Diff  string `json:"diff"`
	Path  string `json:"path,omitempty"`
}

func opType(op map[string]any) string {
	t := strings.ToLower(strings.TrimSpace(kwStr(op, "type")))
	if t == "" {
		return "auto"
	}
	return t
}

func isRefactorOp(op map[string]any) bool {
	meta, _ := op["meta"].(map[string]any)
	if meta == nil {
		return false
	}
	b, _ := meta["refactor"].(bool)
	return b
}

func (r *Runner) previewOrCommitOne(op map[string]any, preview bool) batchOpResult {
	typ := opType(op)
	path := r.abs(kwStr(op, "path"))
	code := kwStr(op, "code")
	switch typ {
	case "write":
		ok, diff := patch.PatchWrite(path, code, preview)
		return batchOpResult{Type: typ, OK: ok, Diff: diff, Path: path}
	case "line":
		ls, _ := kwInt(op, "line_start")
		le, _ := kwInt(op, "line_end")
		ok, diff := patch.PatchLineRange(path, ls, le, code, preview, patch.EnvInt("JINX_PATCH_MAX_SPAN", 80))
		return batchOpResult{Type: typ, OK: ok, Diff: diff, Path: path}
	case "symbol":
		sym := kwStr(op, "symbol")
		ok, diff := patch.PatchSymbolPython(path, sym, code, preview)
		return batchOpResult{Type: typ, OK: ok, Diff: diff, Path: path}
	case "anchor":
		anc := kwStr(op, "anchor")
		ok, diff := patch.PatchAnchorInsertAfter(path, anc, code, preview)
		return batchOpResult{Type: typ, OK: ok, Diff: diff, Path: path}
	default:
		ls, _ := kwInt(op, "line_start")
		le, _ := kwInt(op, "line_end")
		ms, _ := kwInt(op, "max_span")
		a := patch.AutoPatchArgs{
			Path: path, Code: code, LineStart: ls, LineEnd: le,
			Symbol: kwStr(op, "symbol"), Anchor: kwStr(op, "anchor"), Query: kwStr(op, "query"),
			Preview: preview, MaxSpan: ms,
		}
		ok, strat, diff := patch.Autopatch(a)
		return batchOpResult{Type: "auto:" + strat, OK: ok, Diff: diff, Path: path}
	}
}

// handleBatch implements patch.batch: preview every op, gate on the
// combined diff, commit sequentially, attach watchdog warnings for
// every touched file, grounded on handle_batch_patch in
// batch_handler.py.
func (r *Runner) handleBatch(tid string, ops []map[string]any, force bool) {
	if len(ops) == 0 {
		r.result(tid, false, nil, "ops required (list)")
		return
	}
	for _, op := range ops {
		if p := r.abs(kwStr(op, "path")); p != "" {
			if err := patch.GuardPath(p); err != nil {
				r.result(tid, false, nil, err.Error())
				return
			}
		}
	}
	r.progress(tid, 10, fmt.Sprintf("batch preview %d ops", len(ops)))
	isRefactor := false
	previews := make([]batchOpResult, 0, len(ops))
	var combinedParts []string
	for i, op := range ops {
		pr := r.previewOrCommitOne(op, true)
		pr.Index = i
		previews = append(previews, pr)
		if pr.Diff != "" {
			combinedParts = append(combinedParts, pr.Diff)
		}
		if isRefactorOp(op) {
			isRefactor = true
		}
	}
	combinedDiff := strings.Join(combinedParts, "\n")
	add, rem := patch.DiffStats(combinedDiff)
	r.setExport("last_patch_preview", combinedDiff)
	if isRefactor {
		r.setExport("last_patch_strategy", "batch:refactor")
	} else {
		r.setExport("last_patch_strategy", "batch")
	}

	budget := patch.DefaultDiffBudget()
	var touched []string
	seen := map[string]bool{}
	for _, op := range ops {
		if p := kwStr(op, "path"); p != "" && !seen[p] {
			seen[p] = true
			touched = append(touched, p)
		}
	}
	if err := patch.ValidateProposedDiff(patch.ProposedDiff{Target: "batch", Unified: combinedDiff}, budget); err != nil && !force {
		r.result(tid, false, map[string]any{"previews": previews, "diff_add": add, "diff_rem": rem}, "needs_confirmation: "+err.Error())
		return
	}
	okc, reason := patch.ShouldAutocommit("batch", combinedDiff)
	if !okc && !force {
		r.result(tid, false, map[string]any{"previews": previews, "diff_add": add, "diff_rem": rem}, "needs_confirmation: "+reason)
		return
	}

	r.progress(tid, 55, "batch commit")
	results := make([]batchOpResult, 0, len(ops))
	var changedFiles []string
	for i, op := range ops {
		cr := r.previewOrCommitOne(op, false)
		cr.Index = i
		results = append(results, cr)
		if cr.OK && cr.Path != "" {
			changedFiles = append(changedFiles, cr.Path)
		}
	}
	var warnings []string
	warnSeen := map[string]bool{}
	for _, p := range changedFiles {
		if warnSeen[p] {
			continue
		}
		warnSeen[p] = true
		if w := patch.MaybeWarnFilesize(p); w != "" {
			warnings = append(warnings, w)
		}
	}
	if len(warnings) > 0 {
		r.setExport("last_watchdog_warn", warnings[len(warnings)-1])
	}
	var committed []string
	for _, res := range results {
		if res.OK {
			committed = append(committed, res.Diff)
		}
	}
	combinedCommit := strings.Join(committed, "\n")
	r.setExport("last_patch_commit", combinedCommit)
	out := map[string]any{"results": results, "diff_add": add, "diff_rem": rem}
	if len(warnings) > 0 {
		out["watchdog"] = warnings
	}
	r.result(tid, true, out, "")
	r.verify("", changedFiles, combinedCommit)
}
