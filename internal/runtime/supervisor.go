package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/jinxlabs/retrieval-core/internal/bus"
)

// Supervisor tracks program.heartbeat events and announces a
// program.exit for any program that has gone stale, grounded on
// Supervisor in supervisor.py.
type Supervisor struct {
	bus *bus.Bus
	ttl time.Duration

	mu sync.Mutex
	hb map[string]time.Time

	startOnce sync.Once
}

// NewSupervisor builds a supervisor watching for heartbeats older
// than ttl (default 5s, matching JINX_RUNTIME_HEARTBEAT_SEC).
func NewSupervisor(b *bus.Bus, ttl time.Duration) *Supervisor {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Supervisor{bus: b, ttl: ttl, hb: make(map[string]time.Time)}
}

// Start subscribes to heartbeats and launches the watchdog loop once.
func (s *Supervisor) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.bus.Subscribe(bus.ProgramHeartbeat, s.onHeartbeat)
		go s.watchdog(ctx)
	})
}

func (s *Supervisor) onHeartbeat(_ string, payload any) {
	hb, ok := payload.(bus.ProgramHeartbeatPayload)
	if !ok || hb.ID == "" {
		return
	}
	s.mu.Lock()
	s.hb[hb.ID] = time.Now()
	s.mu.Unlock()
}

func (s *Supervisor) watchdog(ctx context.Context) {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			var stale []string
			s.mu.Lock()
			for pid, ts := range s.hb {
				if now.Sub(ts) > s.ttl {
					stale = append(stale, pid)
					delete(s.hb, pid)
				}
			}
			s.mu.Unlock()
			for _, pid := range stale {
				s.bus.Publish(bus.ProgramExit, bus.ProgramExitPayload{ID: pid, Name: "?", OK: false})
			}
		}
	}
}
