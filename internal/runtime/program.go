// Package runtime implements the micro-runtime: a supervised set of
// autonomous MicroPrograms communicating over the event bus, plus the
// Runtime API micro-programs use to spawn, register, and report task
// progress, grounded on program.py / registry.py / supervisor.py / api.py.
package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jinxlabs/retrieval-core/internal/bus"
)

// Program is the interface every micro-program implements, grounded
// on MicroProgram in program.py.
type Program interface {
	ID() string
	ProgramName() string
	Run(ctx context.Context) error
	OnEvent(topic string, payload any)
}

// Base is an embeddable MicroProgram implementation: heartbeat loop,
// panic-safe run wrapper, and bus-backed logging. Subclasses embed
// Base and override Run/OnEvent.
type Base struct {
	id   string
	name string

	bus   *bus.Bus
	alive atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewBase constructs a Base program with a random 12-hex id, grounded
// on MicroProgram.__init__ in program.py.
func NewBase(name string, b *bus.Bus) *Base {
	return &Base{
		id:   strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		name: name,
		bus:  b,
		done: make(chan struct{}),
	}
}

func (p *Base) ID() string          { return p.id }
func (p *Base) ProgramName() string { return p.name }

// Run is the default no-op body; embedders override it.
func (p *Base) Run(ctx context.Context) error { return nil }

// OnEvent is the default no-op handler; embedders override it.
func (p *Base) OnEvent(topic string, payload any) {}

// Start launches the run loop and heartbeat loop for prog, grounded
// on MicroProgram.start in program.py.
func Start(ctx context.Context, prog Program, base *Base) {
	if base.alive.Swap(true) {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	base.cancel = cancel
	go base.heartbeatLoop(runCtx)
	go base.runWrapper(runCtx, prog)
}

// Stop cancels the run and heartbeat loops, grounded on
// MicroProgram.stop in program.py.
func (p *Base) Stop() {
	p.alive.Store(false)
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Base) heartbeatLoop(ctx context.Context) {
	for p.alive.Load() {
		p.bus.Publish(bus.ProgramHeartbeat, bus.ProgramHeartbeatPayload{ID: p.id, Name: p.name})
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (p *Base) runWrapper(ctx context.Context, prog Program) {
	defer func() {
		p.alive.Store(false)
		close(p.done)
		if r := recover(); r != nil {
			p.Log("crash", fmt.Sprintf("%v", r))
		}
	}()
	if err := prog.Run(ctx); err != nil && ctx.Err() == nil {
		p.Log("error", err.Error())
	}
}

// Log publishes a program.log event, grounded on MicroProgram.log in program.py.
func (p *Base) Log(level, msg string) {
	lvl := level
	if lvl == "" {
		lvl = "info"
	}
	p.bus.Publish(bus.ProgramLog, bus.ProgramLogPayload{ID: p.id, Name: p.name, Level: lvl, Msg: msg})
}
