package verifier

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jinxlabs/retrieval-core/internal/bus"
	"github.com/jinxlabs/retrieval-core/internal/runtime"
)

func collectResult(t *testing.T, rt *runtime.Runtime) <-chan bus.TaskResultPayload {
	t.Helper()
	ch := make(chan bus.TaskResultPayload, 1)
	rt.Bus.Subscribe(bus.TaskResult, func(_ string, payload any) {
		if p, ok := payload.(bus.TaskResultPayload); ok {
			ch <- p
		}
	})
	return ch
}

func TestHandleVerifyEmbedding_PassesWhenTwoFilesMatchAndHeaderQuoted(t *testing.T) {
	os.Unsetenv("JINX_VERIFY_PASS")
	rt := runtime.New()
	search := func(goal string, topK, maxMs int) []Hit {
		return []Hit{
			{FileRel: "a.go", Header: "a.go:10"},
			{FileRel: "b.go", Header: "b.go:20"},
		}
	}
	p := NewProgram(rt, search)
	results := collectResult(t, rt)

	p.handleVerifyEmbedding("t1", "fix the widget handler", []string{"a.go", "b.go"}, "...a.go:10...", 6)

	select {
	case res := <-results:
		if !res.OK {
			t.Errorf("expected score 0.5+0.3+0.2=1.0 to pass the default threshold, got %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a task.result")
	}
}

func TestHandleVerifyEmbedding_FailsWhenNoFilesMatch(t *testing.T) {
	rt := runtime.New()
	search := func(goal string, topK, maxMs int) []Hit {
		return []Hit{{FileRel: "unrelated.go", Header: "unrelated.go:1"}}
	}
	p := NewProgram(rt, search)
	results := collectResult(t, rt)

	p.handleVerifyEmbedding("t2", "fix the widget handler", []string{"a.go"}, "", 6)

	select {
	case res := <-results:
		if res.OK {
			t.Error("expected a zero-match verification to fail")
		}
		if res.Error == "" {
			t.Error("expected a non-empty error on failure")
		}
	case <-time.After(time.Second):
		t.Fatal("expected a task.result")
	}
}

func TestHandleVerifyEmbedding_EmptyGoalFailsImmediately(t *testing.T) {
	rt := runtime.New()
	p := NewProgram(rt, nil)
	results := collectResult(t, rt)

	p.handleVerifyEmbedding("t3", "", nil, "", 6)

	select {
	case res := <-results:
		if res.OK || !strings.Contains(res.Error, "goal required") {
			t.Errorf("expected an immediate 'goal required' failure, got %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a task.result")
	}
}

func TestMaybeVerify_SkipsWhenAutorunDisabled(t *testing.T) {
	os.Setenv("JINX_VERIFY_AUTORUN", "false")
	defer os.Unsetenv("JINX_VERIFY_AUTORUN")

	rt := runtime.New()
	submitted := false
	rt.Bus.Subscribe(bus.TaskRequest, func(_ string, payload any) { submitted = true })

	verify := MaybeVerify(rt, func() string { return "fallback goal" })
	verify("some goal", []string{"a.go"}, "diff")

	time.Sleep(20 * time.Millisecond)
	if submitted {
		t.Error("expected MaybeVerify to submit nothing when JINX_VERIFY_AUTORUN is falsy")
	}
}

func TestMaybeVerify_FallsBackToLastGoalWhenGoalEmpty(t *testing.T) {
	os.Unsetenv("JINX_VERIFY_AUTORUN")
	rt := runtime.New()
	var gotGoal string
	rt.Bus.Subscribe(bus.TaskRequest, func(_ string, payload any) {
		if p, ok := payload.(bus.TaskRequestPayload); ok {
			if g, _ := p.Kwargs["goal"].(string); g != "" {
				gotGoal = g
			}
		}
	})

	verify := MaybeVerify(rt, func() string { return "fallback goal" })
	verify("", nil, "")

	time.Sleep(20 * time.Millisecond)
	if gotGoal != "fallback goal" {
		t.Errorf("expected the last-goal fallback to be used, got %q", gotGoal)
	}
}
