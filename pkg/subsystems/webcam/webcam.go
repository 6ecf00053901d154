// Package webcam tracks webcam streams (spec.md §4.E):
// webcam-start/stop/ack/frame. Frame payloads are accepted but neither
// decoded nor passed on.
package webcam

import (
	"context"
	"fmt"
	"sync"

	"github.com/xpra-go/relay/pkg/capability"
	"github.com/xpra-go/relay/pkg/session"
	"github.com/xpra-go/relay/pkg/wire"
)

type stream struct {
	device   string
	width    int
	height   int
	encoding string
	lastAck  int64
}

type state struct {
	mu      sync.Mutex
	streams map[string]*stream
}

type Module struct {
	devices []string
}

func New(devices []string) *Module { return &Module{devices: devices} }

func (m *Module) Prefix() string { return "webcam" }

func (m *Module) PacketTypes() []string {
	return []string{"webcam-start", "webcam-stop", "webcam-ack", "webcam-frame"}
}

func (m *Module) Capabilities() map[string]capability.Value {
	list := make([]wire.Value, len(m.devices))
	for i, d := range m.devices {
		list[i] = wire.String(d)
	}
	return map[string]capability.Value{
		"enabled": wire.Bool(len(m.devices) > 0),
		"devices": wire.List(list...),
	}
}

func (m *Module) connState(conn *session.Conn) *state {
	return conn.SubsystemState(m.Prefix(), func() any {
		return &state{streams: make(map[string]*stream)}
	}).(*state)
}

func (m *Module) Handle(ctx context.Context, conn *session.Conn, packetType string, args []wire.Value) error {
	st := m.connState(conn)
	st.mu.Lock()
	defer st.mu.Unlock()

	switch packetType {
	case "webcam-start":
		if len(args) < 4 {
			return fmt.Errorf("webcam-start requires device, width, height, encoding")
		}
		device, _ := args[0].AsString()
		encoding, _ := args[3].AsString()
		st.streams[device] = &stream{
			device:   device,
			width:    int(args[1].Int),
			height:   int(args[2].Int),
			encoding: encoding,
		}
	case "webcam-stop":
		if len(args) < 1 {
			return fmt.Errorf("webcam-stop requires device")
		}
		device, _ := args[0].AsString()
		delete(st.streams, device)
	case "webcam-ack":
		// Frame-number acks are advisory flow control; nothing to persist
		// beyond the last value for diagnostics.
		if len(args) >= 1 {
			if s := firstStream(st); s != nil {
				s.lastAck = args[0].Int
			}
		}
	case "webcam-frame":
		// Frames are opaque: neither decoded nor passed on here — decoding
		// is a collaborator's job (spec.md §1 Non-goals).
	}
	return nil
}

func firstStream(st *state) *stream {
	for _, s := range st.streams {
		return s
	}
	return nil
}
