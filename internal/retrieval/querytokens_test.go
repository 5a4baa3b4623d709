package retrieval

import (
	"reflect"
	"testing"
)

func TestExtractIdentifiers_FiltersShortAndPlainWords(t *testing.T) {
	out := ExtractIdentifiers("the handler_func calls requestContext and 1234", 10)

	found := map[string]bool{}
	for _, t := range out {
		found[t] = true
	}
	if !found["handler_func"] {
		t.Error("expected underscored identifier handler_func to survive")
	}
	if !found["requestContext"] {
		t.Error("expected camelCase identifier requestContext to survive")
	}
	if found["1234"] {
		t.Error("a purely numeric token should be filtered out")
	}
	if found["the"] || found["and"] {
		t.Error("plain short words with no identifier shape should be filtered out")
	}
}

func TestExtractIdentifiers_DedupesCaseInsensitivelyKeepingFirstSeen(t *testing.T) {
	out := ExtractIdentifiers("handler_func HANDLER_FUNC handler_func", 10)
	if len(out) != 1 || out[0] != "handler_func" {
		t.Errorf("expected a single deduped entry preserving first-seen case, got %v", out)
	}
}

func TestExtractIdentifiers_RespectsMaxItems(t *testing.T) {
	out := ExtractIdentifiers("alpha_one beta_two gamma_three delta_four", 2)
	if len(out) != 2 {
		t.Errorf("expected exactly 2 identifiers (maxItems cap), got %d: %v", len(out), out)
	}
}

func TestSplitCamel_SplitsOnLowerToUpperAndAcronymBoundaries(t *testing.T) {
	got := splitCamel("HTTPRequestHandler")
	want := []string{"HTTP", "Request", "Handler"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitCamel(HTTPRequestHandler) = %v, want %v", got, want)
	}
}

func TestExpandStrongTokens_IncludesDotSuffixAndUnderscoreParts(t *testing.T) {
	out := ExpandStrongTokens("store.ReaderWalk and handler_dispatch_table", 32)

	found := map[string]bool{}
	for _, t := range out {
		found[t] = true
	}
	if !found["ReaderWalk"] {
		t.Errorf("expected dot-suffix ReaderWalk to be included, got %v", out)
	}
	if !found["dispatch"] {
		t.Errorf("expected underscore part 'dispatch' (len>=6) to be included, got %v", out)
	}
}
