package patcher

import (
	"testing"
	"time"

	"github.com/jinxlabs/retrieval-core/internal/bus"
	"github.com/jinxlabs/retrieval-core/internal/runtime"
)

func TestDispatch_RejectsMalformedKwargsBeforeRunningHandler(t *testing.T) {
	rt := runtime.New()
	runner := NewRunner(rt, t.TempDir())

	results := make(chan bus.TaskResultPayload, 1)
	rt.Bus.Subscribe(bus.TaskResult, func(_ string, payload any) {
		if p, ok := payload.(bus.TaskResultPayload); ok {
			results <- p
		}
	})

	// patch.auto requires "code"; omit it so the schema gate fires
	// before handleAuto ever touches the filesystem.
	runner.Dispatch(bus.TaskRequestPayload{
		ID:     "t1",
		Name:   "patch.auto",
		Kwargs: map[string]any{"path": "a.go"},
	})

	select {
	case res := <-results:
		if res.OK {
			t.Error("expected the schema-rejected task to report a failing result")
		}
		if res.Error == "" {
			t.Error("expected a non-empty error message on a schema-rejected task")
		}
	case <-time.After(time.Second):
		t.Fatal("expected a task.result within the timeout")
	}
}

func TestDispatch_IgnoresRequestWithNoIDOrName(t *testing.T) {
	rt := runtime.New()
	runner := NewRunner(rt, t.TempDir())

	results := make(chan bus.TaskResultPayload, 1)
	rt.Bus.Subscribe(bus.TaskResult, func(_ string, payload any) {
		if p, ok := payload.(bus.TaskResultPayload); ok {
			results <- p
		}
	})

	runner.Dispatch(bus.TaskRequestPayload{ID: "", Name: "patch.auto"})

	select {
	case res := <-results:
		t.Fatalf("expected no result for a request missing an ID, got %+v", res)
	case <-time.After(100 * time.Millisecond):
	}
}
