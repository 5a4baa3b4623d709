package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jinxlabs/retrieval-core/internal/bus"
)

// PromptMacro renders a prompt fragment from macro arguments,
// grounded on the handler signature documented in api.py's
// register_prompt_macro.
type PromptMacro func(ctx context.Context, args []string) (string, error)

// Runtime is the process-wide micro-runtime: event bus, program
// registry, supervisor, prompt macro table, and the task pub/sub
// helpers micro-programs use to talk to the outside world, grounded
// on api.py.
type Runtime struct {
	Bus        *bus.Bus
	Registry   *Registry
	Supervisor *Supervisor

	macrosMu sync.Mutex
	macros   map[string]PromptMacro

	bgMu      sync.Mutex
	starters  []func(context.Context)
	startedBg bool
}

// New builds a Runtime wired against its own bus, registry, and
// supervisor.
func New() *Runtime {
	b := bus.New()
	return &Runtime{
		Bus:        b,
		Registry:   NewRegistry(),
		Supervisor: NewSupervisor(b, 0),
		macros:     make(map[string]PromptMacro),
	}
}

// RegisterBackgroundStarter adds a function EnsureRuntime will invoke
// once, the first time it runs — the seam a caller uses to wire in
// long-running services (e.g. a project indexer) without this package
// knowing about them, replacing the hardcoded self-study imports in
// ensure_runtime in api.py.
func (rt *Runtime) RegisterBackgroundStarter(fn func(context.Context)) {
	rt.bgMu.Lock()
	defer rt.bgMu.Unlock()
	rt.starters = append(rt.starters, fn)
}

// EnsureRuntime starts the supervisor watchdog and every registered
// background starter exactly once, grounded on ensure_runtime in api.py.
func (rt *Runtime) EnsureRuntime(ctx context.Context) {
	rt.Supervisor.Start(ctx)
	rt.bgMu.Lock()
	defer rt.bgMu.Unlock()
	if rt.startedBg {
		return
	}
	rt.startedBg = true
	for _, fn := range rt.starters {
		fn(ctx)
	}
}

// On subscribes handler to topic, grounded on the `on` wrapper in api.py.
func (rt *Runtime) On(topic string, handler bus.Handler) {
	rt.Bus.Subscribe(topic, handler)
}

// Emit publishes payload on topic, grounded on the `emit` wrapper in api.py.
func (rt *Runtime) Emit(topic string, payload any) {
	rt.Bus.Publish(topic, payload)
}

// Spawn starts prog and registers it, returning its id, grounded on
// spawn in api.py.
func (rt *Runtime) Spawn(ctx context.Context, prog Program, base *Base) string {
	Start(ctx, prog, base)
	rt.Registry.Put(prog.ID(), prog)
	rt.Emit(bus.ProgramSpawn, bus.ProgramSpawnPayload{ID: prog.ID(), Name: prog.ProgramName()})
	return prog.ID()
}

// Stop stops and deregisters the program with the given id, grounded
// on stop in api.py. A base-less stop (program not a *Base) is a
// best-effort no-op beyond deregistration.
func (rt *Runtime) Stop(pid string, base *Base) {
	if base != nil {
		base.Stop()
	}
	rt.Registry.Remove(pid)
}

// ListPrograms returns every currently registered program id, grounded
// on list_programs in api.py.
func (rt *Runtime) ListPrograms() []string {
	return rt.Registry.ListIDs()
}

// RegisterPromptMacro registers a dynamic prompt macro under
// namespace, grounded on register_prompt_macro in api.py.
func (rt *Runtime) RegisterPromptMacro(namespace string, handler PromptMacro) {
	rt.macrosMu.Lock()
	defer rt.macrosMu.Unlock()
	rt.macros[namespace] = handler
}

// RunPromptMacro invokes the macro registered under namespace, or
// returns an error if none is registered.
func (rt *Runtime) RunPromptMacro(ctx context.Context, namespace string, args []string) (string, error) {
	rt.macrosMu.Lock()
	m, ok := rt.macros[namespace]
	rt.macrosMu.Unlock()
	if !ok {
		return "", fmt.Errorf("runtime: no prompt macro registered for %q", namespace)
	}
	return m(ctx, args)
}

// SubmitTask publishes a task.request and returns the new task id,
// grounded on submit_task in api.py.
func (rt *Runtime) SubmitTask(name string, args []any, kwargs map[string]any) string {
	tid := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	rt.Emit(bus.TaskRequest, bus.TaskRequestPayload{ID: tid, Name: name, Args: args, Kwargs: kwargs})
	return tid
}

// ReportProgress publishes a task.progress event, grounded on
// report_progress in api.py.
func (rt *Runtime) ReportProgress(tid string, pct float64, msg string) {
	rt.Emit(bus.TaskProgress, bus.TaskProgressPayload{ID: tid, Pct: pct, Msg: msg})
}

// ReportResult publishes a task.result event, grounded on
// report_result in api.py.
func (rt *Runtime) ReportResult(tid string, ok bool, result any, errMsg string) {
	rt.Emit(bus.TaskResult, bus.TaskResultPayload{ID: tid, OK: ok, Result: result, Error: errMsg})
}
