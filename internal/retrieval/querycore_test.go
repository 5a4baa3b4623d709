package retrieval

import "testing"

func TestExtractCodeCore_PrefersPlausibleCodeFragment(t *testing.T) {
	raw := "why does handler.Process(ctx, req) return nil sometimes"
	core := ExtractCodeCore(raw)
	if core == "" {
		t.Fatal("expected a non-empty code core")
	}
	if !balancedDelimiters(core) {
		t.Errorf("extracted core %q is not balanced", core)
	}
}

func TestExtractCodeCore_EmptyWhenNoCandidateLongEnough(t *testing.T) {
	if core := ExtractCodeCore("hi"); core != "" {
		t.Errorf("expected empty core for a short plain-English query, got %q", core)
	}
}

func TestLooksLikeCode_RejectsUnbalancedDelimiters(t *testing.T) {
	if looksLikeCode("foo(bar") {
		t.Error("unbalanced parens should not look like code")
	}
	if !looksLikeCode("foo(bar)") {
		t.Error("foo(bar) has a call marker and balanced parens, should look like code")
	}
}

func TestBalancedDelimiters_IgnoresDelimitersInsideQuotes(t *testing.T) {
	if !balancedDelimiters(`"("`) {
		t.Error("a paren inside a quoted string should not count toward bracket balance")
	}
	if balancedDelimiters("(") {
		t.Error("a lone open paren is not balanced")
	}
}
