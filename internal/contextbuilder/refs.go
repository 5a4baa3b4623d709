package contextbuilder

import (
	"fmt"
	"strings"
)

func codeBlock(snippet, lang string) string {
	if lang != "" {
		return fmt.Sprintf("```%s\n%s\n```", lang, snippet)
	}
	return fmt.Sprintf("```\n%s\n```", snippet)
}

// FormatUsageRef renders a usage-reference header/body pair that
// states the relation to the origin snippet explicitly, grounded on
// format_usage_ref in refs_format.py.
func FormatUsageRef(symbol, kind, file string, lineStart, lineEnd int, snippet, lang, originFile string, originLs, originLe int) (string, string) {
	sym := strings.TrimSpace(symbol)
	if sym == "" {
		sym = "?"
	}
	kindPart := ""
	if k := strings.TrimSpace(kind); k != "" {
		kindPart = fmt.Sprintf(" (%s)", k)
	}
	hdr := fmt.Sprintf("[usage|symbol: %s%s | origin: %s:%d-%d -> here: %s:%d-%d]",
		sym, kindPart, originFile, originLs, originLe, file, lineStart, lineEnd)
	return hdr, codeBlock(snippet, lang)
}

const literalRefEssentialChars = 80

// FormatLiteralRef renders a literal-occurrence reference header/body
// pair, grounded on format_literal_ref in refs_format.py.
func FormatLiteralRef(query, file string, lineStart, lineEnd int, preview, lang, originFile string, originLs, originLe int) (string, string) {
	q := strings.ReplaceAll(strings.TrimSpace(query), "\n", " ")
	if len(q) > literalRefEssentialChars {
		q = q[:literalRefEssentialChars-1] + "…"
	}
	hdr := fmt.Sprintf("[literal|q: %q | origin: %s:%d-%d -> here: %s:%d-%d]",
		q, originFile, originLs, originLe, file, lineStart, lineEnd)
	return hdr, codeBlock(preview, lang)
}
