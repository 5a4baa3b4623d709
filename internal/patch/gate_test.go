package patch

import (
	"os"
	"strings"
	"testing"
)

func TestShouldAutocommit_EmptyDiffIsRejected(t *testing.T) {
	ok, reason := ShouldAutocommit("write", "")
	if ok {
		t.Error("an empty diff should never autocommit")
	}
	if reason == "" {
		t.Error("expected a reason when autocommit is rejected")
	}
}

func TestShouldAutocommit_SmallDiffCommitsUnderDefaultLimit(t *testing.T) {
	os.Unsetenv("JINX_PATCH_AUTOCOMMIT_MAXLINES")
	diff := "--- a\n+++ b\n+line one\n-line two\n"
	ok, reason := ShouldAutocommit("line", diff)
	if !ok {
		t.Errorf("expected a small diff to autocommit, got reason %q", reason)
	}
}

func TestShouldAutocommit_OversizedDiffNeedsConfirmation(t *testing.T) {
	os.Setenv("JINX_PATCH_AUTOCOMMIT_MAXLINES", "10")
	defer os.Unsetenv("JINX_PATCH_AUTOCOMMIT_MAXLINES")

	var b strings.Builder
	b.WriteString("--- a\n+++ b\n")
	for i := 0; i < 20; i++ {
		b.WriteString("+added line\n")
	}
	ok, reason := ShouldAutocommit("line", b.String())
	if ok {
		t.Fatal("expected an oversized diff to need confirmation, not autocommit")
	}
	if !strings.Contains(reason, "too large") {
		t.Errorf("expected a size-related reason, got %q", reason)
	}
}

func TestShouldAutocommit_StrategyLimitsScaleWithEnvBase(t *testing.T) {
	os.Setenv("JINX_PATCH_AUTOCOMMIT_MAXLINES", "400")
	defer os.Unsetenv("JINX_PATCH_AUTOCOMMIT_MAXLINES")

	// "write" has a 400-line table limit against a base of 200, so at
	// base=400 its effective limit doubles to 800; 300 changed lines
	// should still autocommit under that doubled limit.
	var b strings.Builder
	b.WriteString("--- a\n+++ b\n")
	for i := 0; i < 300; i++ {
		b.WriteString("+x\n")
	}
	ok, _ := ShouldAutocommit("write", b.String())
	if !ok {
		t.Error("expected the write strategy's scaled limit to cover 300 changed lines at base=400")
	}
}

func TestShouldAutocommitPython_RejectsUnbalancedBody(t *testing.T) {
	diff := "--- a\n+++ b\n+def f(:\n"
	ok, reason := ShouldAutocommitPython("symbol", diff, "def f(:\n    pass\n")
	if ok {
		t.Fatal("expected an unbalanced python body to be rejected")
	}
	if !strings.Contains(reason, "unbalanced") {
		t.Errorf("expected an unbalanced-structure reason, got %q", reason)
	}
}

func TestShouldAutocommitPython_AcceptsBalancedBody(t *testing.T) {
	diff := "--- a\n+++ b\n+def f(x):\n+    return x\n"
	ok, reason := ShouldAutocommitPython("symbol", diff, "def f(x):\n    return x\n")
	if !ok {
		t.Errorf("expected a balanced python body under the size limit to autocommit, got reason %q", reason)
	}
}
