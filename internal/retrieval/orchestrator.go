package retrieval

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// OrchestratorConfig mirrors the overridable per-stage time caps and
// mode switches (§6 env vars), with defaults matching the original's
// PROJ_STAGE_*_MS constants.
type OrchestratorConfig struct {
	ExhaustiveMode  bool
	NoStageBudgets  bool
	DefaultTopK     int
	DefaultMaxMs    int
	LiteralBurstMs  int

	TokenMatchMs  int
	LineExactMs   int
	AstMatchMs    int
	RapidFuzzMs   int
	LiteralMs     int
	VectorMs      int
	TracebackMs   int
	PyAstMs       int
	PyDocMs       int
	PyLiteralsMs  int
	PyFlowMs      int
	LibCstMs      int
	JediMs        int
	RegexMs       int
	AstContainsMs int
	PreScanMs     int
	ExactMs       int
	CooccurMs     int
	OpenBufferMs  int
	KeywordMs     int
	BM25Ms        int
}

// DefaultOrchestratorConfig returns the original's stage time budgets.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		DefaultTopK:    8,
		DefaultMaxMs:   250,
		LiteralBurstMs: 800,
		TokenMatchMs:   200,
		LineExactMs:    160,
		AstMatchMs:     180,
		RapidFuzzMs:    240,
		LiteralMs:      200,
		VectorMs:       250,
		TracebackMs:    100,
		PyAstMs:        180,
		PyDocMs:        140,
		PyLiteralsMs:   140,
		PyFlowMs:       170,
		LibCstMs:       170,
		JediMs:         170,
		RegexMs:        250,
		AstContainsMs:  170,
		PreScanMs:      150,
		ExactMs:        250,
		CooccurMs:      220,
		OpenBufferMs:   140,
		KeywordMs:      250,
		BM25Ms:         250,
	}
}

// Orchestrator runs the full stage kernel set under a wall-clock
// budget, grounded on retrieve_project_top_k / retrieve_project_multi_top_k
// in retrieval_core.py.
type Orchestrator struct {
	Env    Env
	Config OrchestratorConfig

	tokenmatch  *TokenMatchStage
	lineexact   *LineExactStage
	literal     *LiteralStage
	openbuffer  *OpenBufferStage
	traceback   *TracebackStage
	astmatch    *AstMatchStage
	astcontains *AstContainsStage
	pyast       *PyAstStage
	pyflow      *PyFlowStage
	pydef       *PyDefStage
	libcst      *LibCstStage
	jedi        *JediStage
	pydoc       *PyDocStage
	pyliterals  *PyLiteralsStage
	cooccur     *CooccurStage
	rapidfuzz   *RapidFuzzStage
	regexFuzzy  *RegexFuzzyStage
	textscan    *TextScanStage
	exact       *ExactStage
	keyword     *KeywordStage
	bm25        *BM25Stage
	vector      *VectorStage
}

// NewOrchestrator wires every stage kernel against a shared
// environment. openBuffers is the raw open_buffers.jsonl content.
func NewOrchestrator(env Env, cfg OrchestratorConfig, openBuffers []byte) *Orchestrator {
	return &Orchestrator{
		Env:    env,
		Config: cfg,

		tokenmatch:  &TokenMatchStage{Env: env},
		lineexact:   &LineExactStage{Env: env},
		literal:     &LiteralStage{Env: env},
		openbuffer:  &OpenBufferStage{Env: env, OpenBuffers: openBuffers},
		traceback:   &TracebackStage{Env: env},
		astmatch:    &AstMatchStage{Env: env},
		astcontains: &AstContainsStage{Env: env},
		pyast:       &PyAstStage{Env: env},
		pyflow:      &PyFlowStage{Env: env},
		pydef:       &PyDefStage{Env: env},
		libcst:      &LibCstStage{Env: env},
		jedi:        &JediStage{Env: env},
		pydoc:       &PyDocStage{Env: env},
		pyliterals:  &PyLiteralsStage{Env: env},
		cooccur:     &CooccurStage{Env: env},
		rapidfuzz:   &RapidFuzzStage{Env: env},
		regexFuzzy:  &RegexFuzzyStage{Env: env},
		textscan:    &TextScanStage{Env: env},
		exact:       &ExactStage{Env: env},
		keyword:     &KeywordStage{Env: env},
		bm25:        &BM25Stage{Env: env},
		vector:      &VectorStage{Env: env},
	}
}

func runStage(stage Stage, q Query, k int, deadline time.Time) (hits []Hit) {
	if !stage.Activate(q) {
		return nil
	}
	defer func() {
		if recover() != nil {
			hits = nil
		}
	}()
	return stage.Run(context.Background(), q, k, deadline)
}

// runGroup runs a set of stages concurrently and merges their hits,
// each capped by its own deadline derived from the overall remaining
// budget and its per-stage cap (unless NoStageBudgets disables
// per-stage capping).
func (o *Orchestrator) runGroup(q Query, k int, overallDeadline time.Time, stages []Stage, capsMs []int) []Hit {
	var wg sync.WaitGroup
	results := make([][]Hit, len(stages))
	for i, st := range stages {
		dl := o.boundedDeadline(overallDeadline, capsMs[i])
		wg.Add(1)
		go func(i int, st Stage, dl time.Time) {
			defer wg.Done()
			results[i] = runStage(st, q, k, dl)
		}(i, st, dl)
	}
	wg.Wait()
	var merged []Hit
	for _, r := range results {
		merged = append(merged, r...)
	}
	return merged
}

func (o *Orchestrator) boundedDeadline(overall time.Time, capMs int) time.Time {
	if o.Config.NoStageBudgets {
		return overall
	}
	capped := time.Now().Add(time.Duration(capMs) * time.Millisecond)
	if capped.After(overall) {
		return overall
	}
	return capped
}

var assignLikeRe = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]*\s*=\s*\([\s\S]*?\bfor\b`)

func looksAssignComprehension(qCore string) bool {
	low := strings.ToLower(qCore)
	if assignLikeRe.MatchString(qCore) {
		return true
	}
	if strings.Contains(low, " for ") && strings.Contains(low, " in ") {
		return true
	}
	return strings.Contains(qCore, ":=") || strings.Contains(qCore, "=>")
}

// Retrieve runs the full pipeline for a single query, in exhaustive
// (accumulate-and-rank) or short-circuit (first-hit-wins) mode
// depending on Config.ExhaustiveMode.
func (o *Orchestrator) Retrieve(ctx context.Context, raw string, k int) []Hit {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if k <= 0 {
		k = o.Config.DefaultTopK
	}
	deadline := time.Now().Add(time.Duration(o.Config.DefaultMaxMs) * time.Millisecond)

	q := NewQuery(raw)
	qCore := q
	if q.CodeCore == "" {
		qCore.CodeCore = raw
	}

	var collected []Hit
	seen := make(map[string]bool)
	merge := func(hits []Hit) {
		for _, h := range hits {
			key := h.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			collected = append(collected, h)
		}
	}

	vecDeadline := o.boundedDeadline(deadline, o.Config.VectorMs)
	vecCh := make(chan []Hit, 1)
	go func() { vecCh <- runStage(o.vector, q, k, vecDeadline) }()

	if o.Config.ExhaustiveMode {
		group := o.runGroup(q, k, deadline,
			[]Stage{o.tokenmatch, o.lineexact, o.astmatch, o.rapidfuzz, o.literal},
			[]int{o.Config.TokenMatchMs, o.Config.LineExactMs, o.Config.AstMatchMs, o.Config.RapidFuzzMs, o.Config.LiteralMs})
		merge(group)
	} else {
		if hits := runStage(o.tokenmatch, q, 1, o.boundedDeadline(deadline, o.Config.TokenMatchMs)); len(hits) > 0 {
			return hits[:1]
		}
		if hits := runStage(o.lineexact, q, 1, o.boundedDeadline(deadline, o.Config.LineExactMs)); len(hits) > 0 {
			return hits[:1]
		}
		if hits := runStage(o.literal, q, 1, o.boundedDeadline(deadline, o.Config.LiteralMs)); len(hits) > 0 {
			return hits[:1]
		}
		if hits := runStage(o.openbuffer, q, 1, o.boundedDeadline(deadline, o.Config.OpenBufferMs)); len(hits) > 0 {
			return hits[:1]
		}
		if hits := runStage(o.astmatch, q, 1, o.boundedDeadline(deadline, o.Config.AstMatchMs)); len(hits) > 0 {
			return hits[:1]
		}
		if hits := runStage(o.astcontains, q, 1, o.boundedDeadline(deadline, o.Config.AstContainsMs)); len(hits) > 0 {
			return hits[:1]
		}
		if hits := runStage(o.rapidfuzz, q, 1, o.boundedDeadline(deadline, o.Config.RapidFuzzMs)); len(hits) > 0 {
			return hits[:1]
		}
		if hits := runStage(o.cooccur, q, 1, o.boundedDeadline(deadline, o.Config.CooccurMs)); len(hits) > 0 {
			return hits[:1]
		}
	}

	if looksAssignComprehension(qCore.CodeCore) {
		pfK := 1
		if o.Config.ExhaustiveMode {
			pfK = k
		}
		hits := runStage(o.pyflow, q, pfK, o.boundedDeadline(deadline, o.Config.PyFlowMs))
		if len(hits) > 0 {
			if o.Config.ExhaustiveMode {
				merge(hits)
			} else {
				return hits[:1]
			}
		}
	}

	vecHits := <-vecCh
	if len(vecHits) > 0 {
		if o.Config.ExhaustiveMode {
			merge(vecHits)
		} else {
			return vecHits
		}
	}

	if o.Config.ExhaustiveMode {
		groupA := o.runGroup(q, k, deadline,
			[]Stage{o.traceback, o.pyast, o.pydoc, o.pyliterals},
			[]int{o.Config.TracebackMs, o.Config.PyAstMs, o.Config.PyDocMs, o.Config.PyLiteralsMs})
		merge(groupA)

		groupB := o.runGroup(q, k, deadline,
			[]Stage{o.pyflow, o.libcst, o.jedi, o.regexFuzzy, o.astcontains},
			[]int{o.Config.PyFlowMs, o.Config.LibCstMs, o.Config.JediMs, o.Config.RegexMs, o.Config.AstContainsMs})
		merge(groupB)

		groupC := o.runGroup(q, k, deadline,
			[]Stage{o.textscan, o.exact, o.literal, o.cooccur, o.openbuffer},
			[]int{o.Config.PreScanMs, o.Config.ExactMs, o.Config.LiteralMs, o.Config.CooccurMs, o.Config.OpenBufferMs})
		merge(groupC)

		kw := runStage(o.keyword, q, k, o.boundedDeadline(deadline, o.Config.KeywordMs))
		merge(kw)

		merge(runStage(o.bm25, q, k, o.boundedDeadline(deadline, o.Config.BM25Ms)))

		if len(collected) == 0 {
			burstDeadline := time.Now().Add(time.Duration(o.Config.LiteralBurstMs) * time.Millisecond)
			merge(runStage(o.literal, q, k, burstDeadline))
		}

		sort.SliceStable(collected, func(i, j int) bool { return collected[i].Score > collected[j].Score })
		if len(collected) > k {
			collected = collected[:k]
		}
		return collected
	}

	if hits := runStage(o.pyast, q, k, o.boundedDeadline(deadline, o.Config.PyAstMs)); len(hits) > 0 {
		return hits
	}
	if hits := runStage(o.pydoc, q, k, o.boundedDeadline(deadline, o.Config.PyDocMs)); len(hits) > 0 {
		return hits
	}
	if hits := runStage(o.pyliterals, q, k, o.boundedDeadline(deadline, o.Config.PyLiteralsMs)); len(hits) > 0 {
		return hits
	}
	if hits := runStage(o.pyflow, q, k, o.boundedDeadline(deadline, o.Config.PyFlowMs)); len(hits) > 0 {
		return hits
	}
	if hits := runStage(o.libcst, q, k, o.boundedDeadline(deadline, o.Config.LibCstMs)); len(hits) > 0 {
		return hits
	}
	if hits := runStage(o.jedi, q, k, o.boundedDeadline(deadline, o.Config.JediMs)); len(hits) > 0 {
		return hits
	}
	if hits := runStage(o.regexFuzzy, q, k, o.boundedDeadline(deadline, o.Config.RegexMs)); len(hits) > 0 {
		return hits
	}
	if hits := runStage(o.textscan, q, k, o.boundedDeadline(deadline, o.Config.PreScanMs)); len(hits) > 0 {
		return hits
	}
	if hits := runStage(o.exact, q, k, o.boundedDeadline(deadline, o.Config.ExactMs)); len(hits) > 0 {
		return hits
	}
	kw := runStage(o.keyword, q, k, o.boundedDeadline(deadline, o.Config.KeywordMs))
	if len(kw) > 0 {
		return kw
	}
	return runStage(o.literal, q, k, o.boundedDeadline(deadline, o.Config.LiteralMs))
}

// RetrieveMulti fans a query set out concurrently, each sharing a
// conservative per-query slice of the overall budget, then merges
// and re-dedupes the combined hit set. Grounded on
// retrieve_project_multi_top_k.
func (o *Orchestrator) RetrieveMulti(ctx context.Context, queries []string, perQueryK int, maxTimeMs int) []Hit {
	if len(queries) == 0 {
		return nil
	}
	perBudget := maxTimeMs
	if perBudget > 0 {
		perBudget = perBudget / len(queries)
		if perBudget < 50 {
			perBudget = 50
		}
	}
	savedMax := o.Config.DefaultMaxMs
	if perBudget > 0 {
		o.Config.DefaultMaxMs = perBudget
	}
	defer func() { o.Config.DefaultMaxMs = savedMax }()

	var wg sync.WaitGroup
	results := make([][]Hit, len(queries))
	for i, qs := range queries {
		wg.Add(1)
		go func(i int, qs string) {
			defer wg.Done()
			results[i] = o.Retrieve(ctx, qs, perQueryK)
		}(i, qs)
	}
	wg.Wait()

	var all []Hit
	for _, r := range results {
		all = append(all, r...)
	}
	all = DedupHits(all)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	return all
}
