package contextbuilder

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jinxlabs/retrieval-core/internal/retrieval"
	"github.com/jinxlabs/retrieval-core/internal/snippet"
)

// RestrictedPath reports whether a project-relative path must never
// be surfaced in context (the .jinx state dir, logs, etc).
type RestrictedPath func(relPath string) bool

// Builder assembles the final context string for one or more queries,
// grounded on build_project_context_for / build_project_context_multi_for
// in context_builder.py.
type Builder struct {
	Orchestrator *retrieval.Orchestrator
	Snippets     *snippet.Builder
	Config       Config
	Graph        *GraphCache
	Usages       *UsagesCache
	ReadFile     snippet.FileReader
	KnownFiles   func() []string
	Restricted   RestrictedPath
	FileSigOf    func(relPath string) snippet.FileSig
}

type preparedHit struct {
	idx          int
	fileRel      string
	meta         retrieval.ChunkMeta
	preferFull   bool
	extraCenters []int
}

type builtHit struct {
	idx       int
	fileRel   string
	meta      retrieval.ChunkMeta
	header    string
	block     string
	useLs     int
	useLe     int
	fullScope bool
}

func fileHitCenters(hits []retrieval.Hit) map[string][]int {
	out := make(map[string][]int)
	for _, h := range hits {
		ls, le := h.Meta.LineStart, h.Meta.LineEnd
		c := 0
		if ls > 0 && le > 0 {
			c = (ls + le) / 2
		} else if ls > 0 {
			c = ls
		} else if le > 0 {
			c = le
		}
		if c > 0 {
			out[h.FileRel] = append(out[h.FileRel], c)
		}
	}
	return out
}

func (b *Builder) prepare(hits []retrieval.Hit, centers map[string][]int) []preparedHit {
	seen := make(map[string]bool)
	fullScopeUsed := 0
	var out []preparedHit
	for idx, h := range hits {
		if b.Restricted != nil && b.Restricted(h.FileRel) {
			continue
		}
		pv := strings.TrimSpace(h.Meta.TextPreview)
		if pv != "" {
			if seen[pv] {
				continue
			}
			seen[pv] = true
		}
		preferFull := b.Config.AlwaysFullPyScope && (b.Config.FullScopeTopN <= 0 || fullScopeUsed < b.Config.FullScopeTopN)
		cs := dedupSortedPositive(centers[h.FileRel])
		out = append(out, preparedHit{idx: idx, fileRel: h.FileRel, meta: h.Meta, preferFull: preferFull, extraCenters: cs})
		if preferFull {
			fullScopeUsed++
		}
	}
	return out
}

func dedupSortedPositive(in []int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, v := range in {
		if v > 0 && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}

func (b *Builder) buildSnippets(query string, prepared []preparedHit) []builtHit {
	conc := b.Config.SnippetConcurrency
	if conc < 1 {
		conc = 4
	}
	sem := make(chan struct{}, conc)
	var wg sync.WaitGroup
	results := make([]*builtHit, len(prepared))
	for i, p := range prepared {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, p preparedHit) {
			defer wg.Done()
			defer func() { <-sem }()
			q := retrieval.NewQuery(query)
			req := snippet.Request{
				FileRel:         p.fileRel,
				LineStart:       p.meta.LineStart,
				LineEnd:         p.meta.LineEnd,
				TextPreview:     p.meta.TextPreview,
				Query:           query,
				PreferFullScope: p.preferFull,
				ExpandCallees:   true,
				ExtraCenters:    p.extraCenters,
			}
			res := b.Snippets.Build(req, q.CodeCore, q.Tokens)
			results[i] = &builtHit{
				idx: p.idx, fileRel: p.fileRel, meta: p.meta,
				header: res.Header, block: res.CodeBlock,
				useLs: res.LineStart, useLe: res.LineEnd, fullScope: res.FullScope,
			}
		}(i, p)
	}
	wg.Wait()
	var out []builtHit
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].idx < out[j].idx })
	return out
}

func (b *Builder) literalRefs(query, originFile string, originLs, originLe int, codeLike bool) []HeaderBlock {
	if b.Orchestrator == nil || strings.TrimSpace(query) == "" {
		return nil
	}
	lim := b.Config.RefsLiteralLimit
	ms := b.Config.RefsLiteralMs
	if codeLike {
		lim = b.Config.RefsLiteralLimitCode
		ms = b.Config.RefsLiteralMsCode
	}
	stage := &retrieval.LiteralStage{Env: b.Orchestrator.Env}
	q := retrieval.NewQuery(query)
	deadline := time.Now().Add(time.Duration(ms) * time.Millisecond)
	hits := stage.Run(context.Background(), q, lim, deadline)
	var out []HeaderBlock
	for _, h := range hits {
		if len(out) >= lim {
			break
		}
		if h.FileRel == originFile && h.Meta.LineStart == originLs && h.Meta.LineEnd == originLe {
			continue
		}
		prev := strings.TrimSpace(h.Meta.TextPreview)
		if prev == "" {
			continue
		}
		hdr, block := FormatLiteralRef(query, h.FileRel, h.Meta.LineStart, h.Meta.LineEnd, prev, snippet.LangForFile(h.FileRel), originFile, originLs, originLe)
		out = append(out, HeaderBlock{Header: hdr, Block: block})
	}
	return out
}

func (b *Builder) usageRefs(query string, bh builtHit) []HeaderBlock {
	if !strings.HasSuffix(bh.fileRel, ".py") || b.ReadFile == nil {
		return nil
	}
	text, ok := b.ReadFile(bh.fileRel)
	if !ok || text == "" {
		return nil
	}
	cand := bh.useLs
	if bh.useLs > 0 && bh.useLe > 0 {
		cand = (bh.useLs + bh.useLe) / 2
	} else if bh.useLe > 0 {
		cand = bh.useLe
	}
	symName, symKind := snippet.GetPythonSymbolAtLine(text, cand)
	var out []HeaderBlock
	if symName != "" && b.KnownFiles != nil {
		var usages []GraphHit
		build := func() []GraphHit {
			return FindUsagesInProject(symName, bh.fileRel, b.Config.UsageRefsLimit, b.Config.SnippetAround, b.KnownFiles(), b.ReadFile)
		}
		if b.Usages != nil && b.FileSigOf != nil {
			usages = b.Usages.GetOrBuild(symName, bh.fileRel, b.Config.UsageRefsLimit, b.Config.SnippetAround, b.FileSigOf(bh.fileRel), build)
		} else {
			usages = build()
		}
		for _, u := range usages {
			hdr, block := FormatUsageRef(symName, symKind, u.FileRel, u.LineStart, u.LineEnd, u.Snippet, u.Lang, bh.fileRel, bh.useLs, bh.useLe)
			out = append(out, HeaderBlock{Header: hdr, Block: block})
		}
	}
	if len(out) == 0 {
		codeLike := retrieval.NewQuery(query).CodeCore != ""
		out = b.literalRefs(query, bh.fileRel, bh.useLs, bh.useLe, codeLike)
	}
	return out
}

func (b *Builder) callgraphRefs(bh builtHit) []HeaderBlock {
	if !b.Config.CallgraphEnabled || !strings.HasSuffix(bh.fileRel, ".py") || b.KnownFiles == nil {
		return nil
	}
	known := b.KnownFiles()
	build := func() []HeaderBlock {
		return BuildSymbolGraph(bh.fileRel, bh.useLs, bh.useLe, b.Config.CallgraphCallersCap, b.Config.CallgraphCalleesCap, b.Config.SnippetAround, known, b.ReadFile)
	}
	if b.Graph != nil && b.FileSigOf != nil {
		return b.Graph.GetOrBuild(bh.fileRel, bh.useLs, bh.useLe, b.Config.CallgraphCallersCap, b.Config.CallgraphCalleesCap, b.Config.SnippetAround, b.FileSigOf(bh.fileRel), build)
	}
	return build()
}

func (b *Builder) assemble(query string, hits []retrieval.Hit) string {
	if len(hits) == 0 {
		return ""
	}
	codeTokens := retrieval.NewQuery(query).Tokens
	hitsSorted := retrieval.RerankHits(hits, codeTokens, strings.Fields(query))
	centers := fileHitCenters(hitsSorted)
	prepared := b.prepare(hitsSorted, centers)
	built := b.buildSnippets(query, prepared)

	budget := b.Config.TotalCodeBudget
	hasBudget := !b.Config.NoCodeBudget
	totalLen := 0

	var parts []string
	headersSeen := make(map[string]bool)
	includedFiles := make(map[string]bool)
	var refsParts []HeaderBlock
	refsHeadersSeen := make(map[string]bool)
	var graphParts []HeaderBlock
	graphHeadersSeen := make(map[string]bool)

	for _, bh := range built {
		if b.Config.ConsolidatePerFile && includedFiles[bh.fileRel] {
			continue
		}
		if headersSeen[bh.header] {
			continue
		}
		snippetText := bh.header + "\n" + bh.block
		if hasBudget {
			would := totalLen + len(snippetText)
			if (!bh.fullScope || !b.Config.AlwaysFullPyScope) && would > budget {
				if len(parts) == 0 {
					parts = append(parts, snippetText)
					headersSeen[bh.header] = true
				}
				break
			}
			totalLen = would
		}
		headersSeen[bh.header] = true
		parts = append(parts, snippetText)
		if b.Config.ConsolidatePerFile {
			includedFiles[bh.fileRel] = true
		}

		if b.Config.CallgraphEnabled && bh.idx < b.Config.CallgraphTopHits {
			for _, g := range b.callgraphRefs(bh) {
				if graphHeadersSeen[g.Header] {
					continue
				}
				graphHeadersSeen[g.Header] = true
				graphParts = append(graphParts, g)
			}
		}
		for _, r := range b.usageRefs(query, bh) {
			if refsHeadersSeen[r.Header] {
				continue
			}
			refsHeadersSeen[r.Header] = true
			refsParts = append(refsParts, r)
		}
	}

	if len(parts) == 0 {
		return ""
	}
	var blocks []string
	blocks = append(blocks, "<embeddings_code>\n"+strings.Join(parts, "\n")+"\n</embeddings_code>")

	if len(refsParts) > 0 && b.shouldSendRefs(query, len(refsParts)) {
		var acc []string
		total := 0
		for _, p := range refsParts {
			text := p.Header + "\n" + p.Block
			if total+len(text)+1 > b.Config.RefsMaxChars {
				break
			}
			acc = append(acc, text)
			total += len(text) + 1
		}
		if len(acc) > 0 {
			blocks = append(blocks, "<embeddings_refs>\n"+strings.Join(acc, "\n")+"\n</embeddings_refs>")
		}
	}
	if len(graphParts) > 0 {
		var gb []string
		for _, g := range graphParts {
			gb = append(gb, g.Header+"\n"+g.Block)
		}
		blocks = append(blocks, "<embeddings_graph>\n"+strings.Join(gb, "\n")+"\n</embeddings_graph>")
	}
	return strings.Join(blocks, "\n\n")
}

func (b *Builder) shouldSendRefs(query string, count int) bool {
	switch strings.ToLower(strings.TrimSpace(b.Config.RefsPolicy)) {
	case "never", "0", "off", "false", "":
		return false
	case "always", "1", "on", "true":
		return true
	default:
		codeLike := retrieval.NewQuery(query).CodeCore != ""
		return codeLike || count >= b.Config.RefsAutoMin
	}
}

// BuildFor assembles a context string for a single query, retrieving
// under an overall budget of maxTimeMs milliseconds (the orchestrator's
// own default budget when maxTimeMs <= 0).
func (b *Builder) BuildFor(ctx context.Context, query string, k int, maxTimeMs int) string {
	if k <= 0 {
		k = b.Config.DefaultTopK
	}
	var hits []retrieval.Hit
	if maxTimeMs > 0 {
		hits = b.Orchestrator.RetrieveMulti(ctx, []string{query}, k, maxTimeMs)
	} else {
		hits = b.Orchestrator.Retrieve(ctx, query, k)
	}
	if len(hits) == 0 {
		return ""
	}
	return b.assemble(query, hits)
}

// BuildMultiFor assembles a context string from hits gathered across
// several queries, reranked jointly against their concatenation.
func (b *Builder) BuildMultiFor(ctx context.Context, queries []string, k int, maxTimeMs int) string {
	kEff := k
	if kEff <= 0 {
		kEff = b.Config.DefaultTopK
	}
	n := len(queries)
	if n < 1 {
		n = 1
	}
	perQueryK := (kEff + n - 1) / n
	if perQueryK < 1 {
		perQueryK = 1
	}
	hits := b.Orchestrator.RetrieveMulti(ctx, queries, perQueryK, maxTimeMs)
	if len(hits) == 0 {
		return ""
	}
	joined := strings.Join(queries, " ")
	if len(joined) > 512 {
		joined = joined[:512]
	}
	return b.assemble(joined, hits)
}
