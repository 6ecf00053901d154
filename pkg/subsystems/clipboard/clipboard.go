// Package clipboard implements the clipboard packet set (spec.md §4.E):
// clipboard-token, clipboard-request, clipboard-contents,
// clipboard-contents-none, set-clipboard-enabled. Each request_id is
// single-use: a second contents packet for an already-answered request
// is a protocol error, not a silent no-op.
package clipboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/xpra-go/relay/pkg/capability"
	"github.com/xpra-go/relay/pkg/events"
	"github.com/xpra-go/relay/pkg/session"
	"github.com/xpra-go/relay/pkg/wire"
	"github.com/xpra-go/relay/pkg/xerr"
)

// requestTimeout bounds how long a pending clipboard request may go
// unanswered before the GC loop evicts it.
const requestTimeout = 30 * time.Second

type pendingRequest struct {
	requestedAt time.Time
}

type state struct {
	mu               sync.Mutex
	enabled          bool
	wantTargets      bool
	greedy           bool
	pending          map[int64]*pendingRequest
	preferredTargets []string
}

type Module struct {
	scheduler gocron.Scheduler
}

// New starts a periodic GC job (grounded on the teacher's scheduler
// usage pattern) that evicts clipboard requests no one ever answered,
// so a misbehaving peer can't leak memory by opening requests forever.
func New() (*Module, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, xerr.ResourceExhaustedf("clipboard: create scheduler: %w", err)
	}
	m := &Module{scheduler: sched}
	_, err = sched.NewJob(
		gocron.DurationJob(10*time.Second),
		gocron.NewTask(m.gcAllConnections),
	)
	if err != nil {
		return nil, xerr.ResourceExhaustedf("clipboard: schedule gc job: %w", err)
	}
	sched.Start()
	return m, nil
}

// connStates tracked for GC, registered on first Handle call per conn.
var globalConns sync.Map // map[*session.Conn]*state — gc only, not the hot path

func (m *Module) gcAllConnections() {
	now := time.Now()
	globalConns.Range(func(key, value any) bool {
		st := value.(*state)
		st.mu.Lock()
		for id, p := range st.pending {
			if now.Sub(p.requestedAt) > requestTimeout {
				delete(st.pending, id)
			}
		}
		st.mu.Unlock()
		return true
	})
}

func (m *Module) Prefix() string { return "clipboard" }

func (m *Module) PacketTypes() []string {
	return []string{
		"clipboard-token", "clipboard-request", "clipboard-contents",
		"clipboard-contents-none", "set-clipboard-enabled",
	}
}

func (m *Module) Capabilities() map[string]capability.Value {
	return map[string]capability.Value{
		"enabled":             wire.Bool(true),
		"notifications":       wire.Bool(true),
		"want_targets":        wire.Bool(true),
		"greedy":              wire.Bool(false),
		"preferred-targets":   wire.List(wire.String("UTF8_STRING"), wire.String("TEXT")),
	}
}

func (m *Module) connState(conn *session.Conn) *state {
	v := conn.SubsystemState(m.Prefix(), func() any {
		st := &state{pending: make(map[int64]*pendingRequest), enabled: true}
		globalConns.Store(conn, st)
		if bus := conn.Runtime.Events(); bus != nil {
			subject := fmt.Sprintf(events.SubjectDisconnect, conn.ID)
			var unsubscribe func()
			unsubscribe, _ = bus.Subscribe(subject, func(string, []byte) {
				globalConns.Delete(conn)
				if unsubscribe != nil {
					unsubscribe()
				}
			})
		}
		return st
	})
	return v.(*state)
}

func (m *Module) Handle(ctx context.Context, conn *session.Conn, packetType string, args []wire.Value) error {
	st := m.connState(conn)
	st.mu.Lock()
	defer st.mu.Unlock()

	switch packetType {
	case "set-clipboard-enabled":
		if len(args) > 0 {
			st.enabled = args[0].Bool
		}

	case "clipboard-token":
		// Announces available selection targets. A token received while
		// disabled is dropped silently, not a protocol error.
		if !st.enabled {
			return nil
		}

	case "clipboard-request":
		if len(args) < 1 {
			return xerr.Protocolf("clipboard-request missing request_id")
		}
		id := args[0].Int
		if _, dup := st.pending[id]; dup {
			return xerr.Protocolf("clipboard-request reused request_id %d", id)
		}
		st.pending[id] = &pendingRequest{requestedAt: time.Now()}

	case "clipboard-contents", "clipboard-contents-none":
		if len(args) < 1 {
			return xerr.Protocolf("%s missing request_id", packetType)
		}
		id := args[0].Int
		if _, ok := st.pending[id]; !ok {
			return xerr.Protocolf("%s answers unknown or already-answered request_id %d", packetType, id)
		}
		delete(st.pending, id) // single-use: answered once, then forgotten
	}
	return nil
}

// Close stops the GC scheduler. Call once at runtime shutdown.
func (m *Module) Close() error {
	return m.scheduler.Shutdown()
}
