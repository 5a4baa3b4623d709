package contextbuilder

import (
	"regexp"
	"strings"

	"github.com/jinxlabs/retrieval-core/internal/snippet"
)

// GraphHit is one caller/callee/usage site surfaced in a context
// block: file, line range, a small fenced snippet, and its language.
type GraphHit struct {
	FileRel   string
	LineStart int
	LineEnd   int
	Snippet   string
	Lang      string
}

func lineWindow(text, token string, around int) (int, int, string) {
	if text == "" || token == "" {
		return 0, 0, ""
	}
	lowered := strings.ToLower(text)
	pos := strings.Index(lowered, strings.ToLower(token))
	if pos < 0 {
		return 0, 0, ""
	}
	ls := strings.Count(text[:pos], "\n") + 1
	lines := strings.Split(text, "\n")
	a := ls - around
	if a < 1 {
		a = 1
	}
	b := ls + around
	if b > len(lines) {
		b = len(lines)
	}
	return a, b, strings.TrimSpace(strings.Join(lines[a-1:b], "\n"))
}

// FindUsagesInProject finds up to limit occurrences of symbol across
// known project files (excluding excludeRel), grounded on
// find_usages_in_project in project_refs.py.
func FindUsagesInProject(symbol, excludeRel string, limit, around int, knownFiles []string, readFile snippet.FileReader) []GraphHit {
	sym := strings.TrimSpace(symbol)
	if sym == "" {
		return nil
	}
	var out []GraphHit
	seen := make(map[string]bool)
	for _, rel := range knownFiles {
		if rel == "" || rel == excludeRel || seen[rel] {
			continue
		}
		text, ok := readFile(rel)
		if !ok || text == "" {
			continue
		}
		a, b, snip := lineWindow(text, sym, around)
		if a == 0 && b == 0 {
			continue
		}
		seen[rel] = true
		out = append(out, GraphHit{FileRel: rel, LineStart: a, LineEnd: b, Snippet: snip, Lang: snippet.LangForFile(rel)})
		if len(out) >= limit {
			break
		}
	}
	return out
}

func callSiteLines(text, symbol string) []int {
	re, err := regexp.Compile(`(?:^|[^\w.])` + regexp.QuoteMeta(symbol) + `\s*\(`)
	if err != nil {
		return nil
	}
	var lines []int
	for _, loc := range re.FindAllStringIndex(text, -1) {
		ln := strings.Count(text[:loc[0]], "\n") + 1
		lines = append(lines, ln)
	}
	return lines
}

// FindCallers scans known project files for call sites of symbol,
// returning one snippet per file around the first call line, grounded
// on _find_callers_ast in project_callgraph.py (regex substitute for
// the missing Call-node visitor).
func FindCallers(symbol, excludeRel string, around, limit int, knownFiles []string, readFile snippet.FileReader) []GraphHit {
	sym := strings.TrimSpace(symbol)
	if sym == "" {
		return nil
	}
	var out []GraphHit
	for _, rel := range knownFiles {
		if rel == excludeRel || !strings.HasSuffix(rel, ".py") {
			continue
		}
		text, ok := readFile(rel)
		if !ok || text == "" {
			continue
		}
		lines := callSiteLines(text, sym)
		if len(lines) == 0 {
			continue
		}
		a, b, snip := lineWindow(text, sym, around)
		if a == 0 && b == 0 {
			fl := strings.Split(text, "\n")
			ln := lines[0]
			a = ln - around
			if a < 1 {
				a = 1
			}
			b = ln + around
			if b > len(fl) {
				b = len(fl)
			}
			snip = strings.TrimSpace(strings.Join(fl[a-1:b], "\n"))
		}
		out = append(out, GraphHit{FileRel: rel, LineStart: a, LineEnd: b, Snippet: snip, Lang: snippet.LangForFile(rel)})
		if len(out) >= limit {
			break
		}
	}
	return out
}

// FindDefsByName finds definition sites of symbol across known
// project files via snippet's indentation-based scope scanner,
// grounded on _find_defs_by_name in project_callgraph.py.
func FindDefsByName(symbol string, limit int, knownFiles []string, readFile snippet.FileReader) []GraphHit {
	locs := snippet.FindDefScopeInProject(symbol, "", limit, knownFiles, readFile)
	var out []GraphHit
	for _, d := range locs {
		text, ok := readFile(d.FileRel)
		if !ok {
			continue
		}
		lines := strings.Split(text, "\n")
		sIdx, eIdx := d.LineStart-1, d.LineEnd-1
		if sIdx < 0 {
			sIdx = 0
		}
		if eIdx > len(lines)-1 {
			eIdx = len(lines) - 1
		}
		snip := strings.TrimSpace(strings.Join(lines[sIdx:eIdx+1], "\n"))
		out = append(out, GraphHit{FileRel: d.FileRel, LineStart: d.LineStart, LineEnd: d.LineEnd, Snippet: snip, Lang: snippet.LangForFile(d.FileRel)})
	}
	return out
}

// BuildSymbolGraph builds a small callgraph slice for the symbol
// enclosing (use_ls, use_le) in file_rel: its callers and the
// definitions of names it calls. Returns (header, code_block) pairs
// ready for inclusion in a context block, grounded on
// build_symbol_graph in project_callgraph.py.
func BuildSymbolGraph(fileRel string, useLs, useLe int, callersLimit, calleesLimit, around int, knownFiles []string, readFile snippet.FileReader) []HeaderBlock {
	text, ok := readFile(fileRel)
	if !ok || text == "" {
		return nil
	}
	mid := useLs
	if useLs != 0 && useLe != 0 {
		mid = (useLs + useLe) / 2
	} else if useLe != 0 {
		mid = useLe
	}
	symName, _ := snippet.GetPythonSymbolAtLine(text, mid)
	if symName == "" {
		return nil
	}
	var out []HeaderBlock

	callers := FindCallers(symName, fileRel, around, maxInt0(callersLimit), knownFiles, readFile)
	for _, c := range callers {
		out = append(out, HeaderBlock{
			Header: "[CALLER] [" + c.FileRel + ":" + itoa(c.LineStart) + "-" + itoa(c.LineEnd) + "]",
			Block:  codeBlock(c.Snippet, c.Lang),
		})
	}

	scopeStart, scopeEnd := snippet.FindPythonScope(text, mid)
	if scopeStart != 0 {
		lines := strings.Split(text, "\n")
		sIdx, eIdx := scopeStart-1, scopeEnd-1
		if sIdx < 0 {
			sIdx = 0
		}
		if eIdx > len(lines)-1 {
			eIdx = len(lines) - 1
		}
		body := strings.Join(lines[sIdx:eIdx+1], "\n")
		callees := snippet.ExtractCalleesFromScope(body, maxInt0(calleesLimit))
		seenDefs := make(map[string]bool)
		for _, nm := range callees {
			defs := FindDefsByName(nm, 4, knownFiles, readFile)
			for _, d := range defs {
				key := d.FileRel + "|" + itoa(d.LineStart) + "|" + itoa(d.LineEnd)
				if seenDefs[key] {
					continue
				}
				seenDefs[key] = true
				out = append(out, HeaderBlock{
					Header: "[CALLEE DEF " + nm + "] [" + d.FileRel + ":" + itoa(d.LineStart) + "-" + itoa(d.LineEnd) + "]",
					Block:  codeBlock(d.Snippet, d.Lang),
				})
			}
		}
	}
	return out
}

func maxInt0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
