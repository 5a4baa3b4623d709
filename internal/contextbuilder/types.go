// Package contextbuilder assembles the final `<embeddings_code>` /
// `<embeddings_refs>` / `<embeddings_graph>` prompt context from a
// retrieval hit list: reranking, per-file snippet budgets, usage
// references for the enclosing symbol, and a small callgraph slice
// for top hits.
package contextbuilder

// HeaderBlock is a rendered (header, fenced code block) pair ready to
// be joined into one of the output sections.
type HeaderBlock struct {
	Header string
	Block  string
}

// Config mirrors the PROJ_* context-assembly knobs from
// project_retrieval_config.py.
type Config struct {
	DefaultTopK          int
	SnippetAround        int
	SnippetPerHitChars   int
	TotalCodeBudget      int
	NoCodeBudget         bool
	AlwaysFullPyScope    bool
	FullScopeTopN        int
	CallgraphEnabled     bool
	CallgraphTopHits     int
	CallgraphCallersCap  int
	CallgraphCalleesCap  int
	CallgraphTimeMs      int
	MaxFiles             int
	ConsolidatePerFile   bool
	UsageRefsLimit       int
	SnippetConcurrency   int
	RefsPolicy           string // "always" | "never" | "auto"
	RefsAutoMin          int
	RefsMaxChars         int
	RefsLiteralLimit     int
	RefsLiteralLimitCode int
	RefsLiteralMs        int
	RefsLiteralMsCode    int
}

// DefaultConfig mirrors the original's PROJ_* defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTopK:          12,
		SnippetAround:        12,
		SnippetPerHitChars:   4000,
		TotalCodeBudget:      16000,
		NoCodeBudget:         false,
		AlwaysFullPyScope:    true,
		FullScopeTopN:        3,
		CallgraphEnabled:     true,
		CallgraphTopHits:     3,
		CallgraphCallersCap:  3,
		CallgraphCalleesCap:  4,
		CallgraphTimeMs:      400,
		MaxFiles:             2000,
		ConsolidatePerFile:   true,
		UsageRefsLimit:       3,
		SnippetConcurrency:   4,
		RefsPolicy:           "always",
		RefsAutoMin:          2,
		RefsMaxChars:         1600,
		RefsLiteralLimit:     3,
		RefsLiteralLimitCode: 6,
		RefsLiteralMs:        200,
		RefsLiteralMsCode:    300,
	}
}
