// Package display tracks the peer's announced desktop size (spec.md
// §4.E). The core carries this for other subsystems (e.g. window
// geometry sanity checks) but never enforces display policy itself.
package display

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/xpra-go/relay/pkg/capability"
	"github.com/xpra-go/relay/pkg/session"
	"github.com/xpra-go/relay/pkg/wire"
)

type size struct {
	width, height atomic.Int64
}

type Module struct{}

func New() *Module { return &Module{} }

func (m *Module) Prefix() string { return "display" }

func (m *Module) PacketTypes() []string { return []string{"desktop-size"} }

func (m *Module) Capabilities() map[string]capability.Value {
	return map[string]capability.Value{"enabled": wire.Bool(true)}
}

// Size returns the last desktop-size the peer announced, or (0, 0) if
// none has arrived yet.
func Size(conn *session.Conn) (int, int) {
	s := conn.SubsystemState("display", func() any { return &size{} }).(*size)
	return int(s.width.Load()), int(s.height.Load())
}

func (m *Module) Handle(ctx context.Context, conn *session.Conn, packetType string, args []wire.Value) error {
	if len(args) < 2 {
		return fmt.Errorf("desktop-size requires width and height")
	}
	s := conn.SubsystemState(m.Prefix(), func() any { return &size{} }).(*size)
	s.width.Store(args[0].Int)
	s.height.Store(args[1].Int)
	return nil
}
