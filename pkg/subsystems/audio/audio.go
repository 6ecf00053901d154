// Package audio implements the audio control-plane state machine
// (spec.md §4.E): sound-control start/stop opens and closes the receive
// stream, and sound-data is accepted only while it is open. This
// subsystem only tracks stream state and counts received frames; it does
// not decode frame bytes or pass them on to pkg/worker or anywhere else.
package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/xpra-go/relay/pkg/capability"
	"github.com/xpra-go/relay/pkg/session"
	"github.com/xpra-go/relay/pkg/wire"
)

type direction int

const (
	directionSend direction = iota
	directionReceive
)

type streamState struct {
	mu      sync.Mutex
	active  map[direction]bool
	codec   map[direction]string
	seq     map[direction]int64
}

type Module struct {
	decoders []string
	encoders []string
}

func New(decoders, encoders []string) *Module {
	return &Module{decoders: decoders, encoders: encoders}
}

func (m *Module) Prefix() string { return "audio" }

func (m *Module) PacketTypes() []string { return []string{"sound-data", "sound-control"} }

func (m *Module) Capabilities() map[string]capability.Value {
	toList := func(ss []string) wire.Value {
		vals := make([]wire.Value, len(ss))
		for i, s := range ss {
			vals[i] = wire.String(s)
		}
		return wire.List(vals...)
	}
	return map[string]capability.Value{
		"decoders": toList(m.decoders),
		"encoders": toList(m.encoders),
		"send":     wire.Bool(len(m.encoders) > 0),
		"receive":  wire.Bool(len(m.decoders) > 0),
	}
}

func (m *Module) state(conn *session.Conn) *streamState {
	return conn.SubsystemState(m.Prefix(), func() any {
		return &streamState{
			active: make(map[direction]bool),
			codec:  make(map[direction]string),
			seq:    make(map[direction]int64),
		}
	}).(*streamState)
}

func (m *Module) Handle(ctx context.Context, conn *session.Conn, packetType string, args []wire.Value) error {
	st := m.state(conn)

	switch packetType {
	case "sound-control":
		if len(args) < 1 {
			return fmt.Errorf("sound-control requires an action")
		}
		action, _ := args[0].AsString()
		st.mu.Lock()
		defer st.mu.Unlock()
		switch action {
		case "start":
			if len(args) < 2 {
				return fmt.Errorf("sound-control start requires codec")
			}
			st.active[directionReceive] = true
			st.codec[directionReceive], _ = args[1].AsString()
		case "stop":
			st.active[directionReceive] = false
		default:
			return fmt.Errorf("sound-control: unknown action %q", action)
		}

	case "sound-data":
		if len(args) < 2 {
			return fmt.Errorf("sound-data requires codec and payload")
		}
		st.mu.Lock()
		defer st.mu.Unlock()
		if !st.active[directionReceive] {
			return fmt.Errorf("sound-data received with no active stream")
		}
		st.seq[directionReceive]++
		// Frame bytes (args[1]) are neither decoded nor passed on here;
		// only the receive count advances.
	}
	return nil
}
