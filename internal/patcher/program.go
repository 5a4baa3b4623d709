package patcher

import (
	"context"
	"strings"

	"github.com/jinxlabs/retrieval-core/internal/bus"
	"github.com/jinxlabs/retrieval-core/internal/runtime"
)

// Program wires a Runner into the micro-runtime as a background
// MicroProgram, subscribing to task.request and dispatching every
// patch.*/dump.*/refactor.* task, grounded on AutoPatchProgram in
// patcher_program.py.
type Program struct {
	*runtime.Base
	rt     *runtime.Runtime
	runner *Runner
}

// NewProgram builds a patcher Program around runner, reporting and
// subscribing through rt.
func NewProgram(rt *runtime.Runtime, runner *Runner) *Program {
	return &Program{
		Base:   runtime.NewBase("patcher", rt.Bus),
		rt:     rt,
		runner: runner,
	}
}

func (p *Program) Run(ctx context.Context) error {
	p.rt.On(bus.TaskRequest, p.onTask)
	p.Log("info", "patcher online")
	<-ctx.Done()
	return nil
}

func (p *Program) onTask(_ string, payload any) {
	tp, ok := payload.(bus.TaskRequestPayload)
	if !ok {
		return
	}
	if !isPatcherTask(tp.Name) {
		return
	}
	go p.runner.Dispatch(tp)
}

func isPatcherTask(name string) bool {
	return strings.HasPrefix(name, "patch.") ||
		strings.HasPrefix(name, "dump.") ||
		strings.HasPrefix(name, "refactor.")
}
