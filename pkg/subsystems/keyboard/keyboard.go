// Package keyboard accepts key-action packets with per-device monotonic
// sequence enforcement (spec.md §4.E). Unlike pointer motion, a key
// event's ordering is not last-write-wins-safe, so an out-of-order
// sequence here is a protocol error rather than something to coalesce.
package keyboard

import (
	"context"
	"sync"

	"github.com/xpra-go/relay/pkg/capability"
	"github.com/xpra-go/relay/pkg/session"
	"github.com/xpra-go/relay/pkg/wire"
	"github.com/xpra-go/relay/pkg/xerr"
)

type deviceState struct {
	mu      sync.Mutex
	lastSeq map[int64]int64
}

type Module struct{}

func New() *Module { return &Module{} }

func (m *Module) Prefix() string { return "keyboard" }

func (m *Module) PacketTypes() []string { return []string{"key-action"} }

func (m *Module) Capabilities() map[string]capability.Value {
	return map[string]capability.Value{"enabled": wire.Bool(true)}
}

func (m *Module) state(conn *session.Conn) *deviceState {
	return conn.SubsystemState(m.Prefix(), func() any {
		return &deviceState{lastSeq: make(map[int64]int64)}
	}).(*deviceState)
}

func (m *Module) Handle(ctx context.Context, conn *session.Conn, packetType string, args []wire.Value) error {
	if len(args) < 3 {
		return xerr.Protocolf("key-action requires device_id, seq, keycode")
	}
	device := args[0].Int
	seq := args[1].Int

	st := m.state(conn)
	st.mu.Lock()
	defer st.mu.Unlock()

	if last, ok := st.lastSeq[device]; ok && seq <= last {
		return xerr.Protocolf("key-action sequence %d is not greater than last seen %d for device %d", seq, last, device)
	}
	st.lastSeq[device] = seq
	// keycode, pressed, modifiers (args[2:]) are neither stored nor
	// passed on; the core only enforces ordering.
	return nil
}
