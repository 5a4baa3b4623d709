package snippet

import "regexp"

var callRe = regexp.MustCompile(`(?:^|[^\w.])([A-Za-z_]\w*(?:\.[A-Za-z_]\w*)*)\s*\(`)

// ExtractCalleesFromScope pulls direct callee names out of a Python
// scope body via a regex approximation of the original's ast.Call
// visitor (which resolves Name/Attribute call targets): for a dotted
// call `obj.method()` only the final attribute name is kept, matching
// the original's `func.attr` resolution. Order of first appearance is
// preserved, case-insensitively deduped.
func ExtractCalleesFromScope(code string, maxItems int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range callRe.FindAllStringSubmatch(code, -1) {
		full := m[1]
		name := full
		if idx := lastDot(full); idx >= 0 {
			name = full[idx+1:]
		}
		if name == "" || pyKeyword(name) {
			continue
		}
		lo := toLower(name)
		if seen[lo] {
			continue
		}
		seen[lo] = true
		out = append(out, name)
		if len(out) >= maxItems {
			break
		}
	}
	return out
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}

var pyKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "with": true, "def": true, "class": true,
	"return": true, "elif": true, "else": true, "except": true, "lambda": true, "print": true,
}

func pyKeyword(name string) bool { return pyKeywords[toLower(name)] }

// DefLocation is a resolved definition site for a callee symbol.
type DefLocation struct {
	FileRel   string
	LineStart int
	LineEnd   int
}

// FindDefScopeInProject finds definition scopes for a Python symbol
// across the project's known files, preferring preferRel first,
// grounded on find_def_scope_in_project in project_callees.py.
func FindDefScopeInProject(symbol, preferRel string, limit int, knownFiles []string, readFile func(string) (string, bool)) []DefLocation {
	if symbol == "" {
		return nil
	}
	ordered := orderFilesPreferring(knownFiles, preferRel)
	var out []DefLocation
	for _, rel := range ordered {
		if len(rel) < 3 || rel[len(rel)-3:] != ".py" {
			continue
		}
		src, ok := readFile(rel)
		if !ok || src == "" {
			continue
		}
		lines := splitLines(src)
		for _, sc := range allScopes(lines) {
			if sc.Name == symbol {
				out = append(out, DefLocation{FileRel: rel, LineStart: sc.Start, LineEnd: sc.End})
				break
			}
		}
		if len(out) >= limit {
			break
		}
	}
	return out
}

func orderFilesPreferring(files []string, preferRel string) []string {
	if preferRel == "" {
		return files
	}
	var out []string
	out = append(out, preferRel)
	for _, f := range files {
		if f != preferRel {
			out = append(out, f)
		}
	}
	return out
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}
