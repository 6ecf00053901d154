// Package pointer accepts pointer-position updates with per-device
// monotonic sequence enforcement (spec.md §4.E): a stale sequence is
// coalesced away rather than rejected, since pointer position is
// inherently last-write-wins.
package pointer

import (
	"context"
	"sync"

	"github.com/xpra-go/relay/pkg/capability"
	"github.com/xpra-go/relay/pkg/session"
	"github.com/xpra-go/relay/pkg/wire"
	"github.com/xpra-go/relay/pkg/xerr"
)

type deviceState struct {
	mu       sync.Mutex
	lastSeq  map[int64]int64
}

type Module struct{}

func New() *Module { return &Module{} }

func (m *Module) Prefix() string { return "pointer" }

func (m *Module) PacketTypes() []string { return []string{"pointer"} }

func (m *Module) Capabilities() map[string]capability.Value {
	return map[string]capability.Value{"enabled": wire.Bool(true)}
}

func (m *Module) state(conn *session.Conn) *deviceState {
	return conn.SubsystemState(m.Prefix(), func() any {
		return &deviceState{lastSeq: make(map[int64]int64)}
	}).(*deviceState)
}

// Handle enforces that each device's sequence only moves forward. A
// packet that arrives behind the device's last-seen sequence is
// coalesced (silently dropped) rather than rejected, since motion events
// may legitimately race ahead of it on the wire; a packet with no
// sequence regression records its sequence as the device's latest.
func (m *Module) Handle(ctx context.Context, conn *session.Conn, packetType string, args []wire.Value) error {
	if len(args) < 4 {
		return xerr.Protocolf("pointer requires device_id, seq, x, y")
	}
	device := args[0].Int
	seq := args[1].Int

	st := m.state(conn)
	st.mu.Lock()
	defer st.mu.Unlock()

	if last, ok := st.lastSeq[device]; ok && seq <= last {
		return nil // stale or duplicate: coalesce behind the latest known position
	}
	st.lastSeq[device] = seq
	// x, y (args[2], args[3]) and any optional modifier/button state are
	// neither stored nor passed on; the core tracks only ordering, never
	// input semantics.
	return nil
}
