package patch

import (
	"os"
	"strconv"
	"strings"
)

// autocommitLimits holds the per-strategy line-count ceiling above
// which a diff needs confirmation even if it is otherwise well-formed.
// "write" gets a larger allowance since a whole-file rewrite is
// expected to touch more lines than a scoped edit.
var autocommitLimits = map[string]int{
	"write":  400,
	"line":   160,
	"symbol": 200,
	"anchor": 120,
	"context": 160,
	"batch":  600,
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

// EnvInt reads an integer environment variable, falling back to def
// on absence or parse failure — exported so callers outside this
// package (the patcher task layer) share one env-parsing convention.
func EnvInt(name string, def int) int {
	return envInt(name, def)
}

func autocommitLimit(strategy string) int {
	base := envInt("JINX_PATCH_AUTOCOMMIT_MAXLINES", 200)
	if lim, ok := autocommitLimits[strategy]; ok {
		return lim * base / 200
	}
	return base
}

// pythonBalanced does a best-effort structural sanity check over a
// Python source body: balanced brackets and an even count of each
// triple-quote delimiter. It stands in for the AST check the gating
// rule allows as optional — a full Python parser is out of scope.
func pythonBalanced(src string) bool {
	depth := 0
	inSingle, inDouble := false, false
	runes := []rune(src)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if inSingle || inDouble {
			if r == '\\' {
				i++
				continue
			}
			if inSingle && strings.HasPrefix(string(runes[i:]), `'''`) {
				inSingle = false
				i += 2
			} else if inDouble && strings.HasPrefix(string(runes[i:]), `"""`) {
				inDouble = false
				i += 2
			}
			continue
		}
		switch {
		case strings.HasPrefix(string(runes[i:]), `'''`):
			inSingle = true
			i += 2
		case strings.HasPrefix(string(runes[i:]), `"""`):
			inDouble = true
			i += 2
		case r == '(' || r == '[' || r == '{':
			depth++
		case r == ')' || r == ']' || r == '}':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0 && !inSingle && !inDouble
}

// ShouldAutocommit is the gating rule: commit is allowed when the
// diff changes at least one line and its changed-line count is within
// the strategy's size threshold. It does not inspect the new content;
// the bracket/string balance check is ShouldAutocommitPython's. It is a pure function
// of (strategy, diff) — same inputs always produce the same
// (ok, reason), grounded on should_autocommit in patch_strategies.py
// and the gating rule text in the spec.
func ShouldAutocommit(strategy, diff string) (bool, string) {
	added, removed := DiffStats(diff)
	if added == 0 && removed == 0 {
		return false, "empty diff"
	}
	limit := autocommitLimit(strategy)
	if added+removed > limit {
		return false, "diff too large: " + strconv.Itoa(added+removed) + " lines changed, limit " + strconv.Itoa(limit)
	}
	return true, ""
}

// ShouldAutocommitPython additionally requires the new body to be
// structurally balanced — used by strategies that know they are
// producing Python source (symbol replacement, anchor insertion
// into .py files).
func ShouldAutocommitPython(strategy, diff, newBody string) (bool, string) {
	if !pythonBalanced(newBody) {
		return false, "unbalanced brackets or string literals"
	}
	return ShouldAutocommit(strategy, diff)
}
