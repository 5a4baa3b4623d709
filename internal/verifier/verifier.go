// Package verifier implements the verify.embedding task: a pure,
// embedding-based check of whether a just-applied patch actually
// touched the code retrieval would surface for the goal that
// motivated it, grounded on
// original_source/jinx/micro/verify/verifier.py (AutoVerifyProgram).
package verifier

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/jinxlabs/retrieval-core/internal/bus"
	"github.com/jinxlabs/retrieval-core/internal/runtime"
)

// Hit is the minimal shape Program needs from a retrieval lookup —
// decoupled from the retrieval engine's own hit type the same way
// internal/patcher.SearchHit is.
type Hit struct {
	FileRel string
	Header  string
}

// SearchFunc performs a time-budgeted project search for query,
// grounded on search_project_cached in search_cache.py.
type SearchFunc func(query string, topK, maxMs int) []Hit

// Program handles verify.embedding requests, grounded on
// AutoVerifyProgram in verifier.py.
type Program struct {
	*runtime.Base
	rt     *runtime.Runtime
	search SearchFunc

	mu      sync.Mutex
	exports map[string]string
}

// NewProgram builds a verifier Program backed by search.
func NewProgram(rt *runtime.Runtime, search SearchFunc) *Program {
	return &Program{
		Base:    runtime.NewBase("verifier", rt.Bus),
		rt:      rt,
		search:  search,
		exports: make(map[string]string),
	}
}

func (p *Program) setExport(key, val string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exports[key] = val
}

// Export returns a macro-surfaced value ("last_verify_score",
// "last_verify_reason", "last_verify_files"), capped at
// JINX_VERIFY_EXPORT_MAXCHARS (default 2000, floor 256).
func (p *Program) Export(key string) string {
	p.mu.Lock()
	v := p.exports[strings.ToLower(strings.TrimSpace(key))]
	p.mu.Unlock()
	cap := envInt("JINX_VERIFY_EXPORT_MAXCHARS", 2000)
	if cap < 256 {
		cap = 256
	}
	if len(v) > cap {
		return v[:cap] + "\n...<truncated>"
	}
	return v
}

func (p *Program) Run(ctx context.Context) error {
	p.rt.On(bus.TaskRequest, p.onTask)
	p.Log("info", "verifier online")
	<-ctx.Done()
	return nil
}

func (p *Program) onTask(_ string, payload any) {
	tp, ok := payload.(bus.TaskRequestPayload)
	if !ok || tp.Name != "verify.embedding" || tp.ID == "" {
		return
	}
	kw := tp.Kwargs
	goal := strings.TrimSpace(strFromKw(kw, "goal"))
	files := strSliceFromKw(kw, "files")
	diff := strFromKw(kw, "diff")
	topk, ok2 := intFromKw(kw, "topk")
	if !ok2 {
		topk = envInt("JINX_VERIFY_TOPK", 6)
	}
	go p.handleVerifyEmbedding(tp.ID, goal, files, diff, topk)
}

// handleVerifyEmbedding scores a patch against retrieval for goal:
// +0.5 if any changed file is retrieved, +0.3 more if at least two
// are, +0.2 if a hit's header literally appears in the diff text,
// clamped to [0,1] and compared against JINX_VERIFY_PASS (default
// 0.6). Grounded on AutoVerifyProgram._handle_verify_embedding.
func (p *Program) handleVerifyEmbedding(tid, goal string, files []string, diff string, topk int) {
	if goal == "" {
		p.rt.ReportResult(tid, false, nil, "goal required")
		return
	}
	p.rt.ReportProgress(tid, 10, "searching project")
	if topk < 1 {
		topk = 1
	}
	maxMs := envInt("JINX_VERIFY_MS", 400)
	var hits []Hit
	if p.search != nil {
		hits = p.search(goal, topk, maxMs)
	}

	filesNorm := make(map[string]bool, len(files))
	for _, f := range files {
		filesNorm[strings.ReplaceAll(strings.TrimSpace(f), "\\", "/")] = true
	}

	var score float64
	var matched []string
	hasHeaderRef := false
	for _, h := range hits {
		f := strings.ReplaceAll(h.FileRel, "\\", "/")
		if f != "" && filesNorm[f] {
			matched = append(matched, f)
		}
		if h.Header != "" && strings.Contains(diff, h.Header) {
			hasHeaderRef = true
		}
	}
	if len(matched) > 0 {
		score += 0.5
		if len(matched) >= 2 {
			score += 0.3
		}
	}
	if hasHeaderRef {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}

	passThr := envFloat("JINX_VERIFY_PASS", 0.6)
	ok := score >= passThr
	reason := fmt.Sprintf("score=%.2f pass_thr=%.2f; matched_files=%v", score, passThr, matched)

	p.setExport("last_verify_score", fmt.Sprintf("%.2f", score))
	p.setExport("last_verify_reason", reason)
	if len(matched) > 0 {
		p.setExport("last_verify_files", strings.Join(matched, ", "))
	}

	errMsg := ""
	if !ok {
		errMsg = "below threshold"
	}
	p.rt.ReportResult(tid, ok, map[string]any{"score": score, "matched_files": matched, "topk": topk}, errMsg)
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(name string, def float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func strFromKw(kw map[string]any, key string) string {
	if kw == nil {
		return ""
	}
	s, _ := kw[key].(string)
	return s
}

func strSliceFromKw(kw map[string]any, key string) []string {
	if kw == nil {
		return nil
	}
	raw, ok := kw[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func intFromKw(kw map[string]any, key string) (int, bool) {
	if kw == nil {
		return 0, false
	}
	switch v := kw[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
