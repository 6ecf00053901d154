// Package command implements the small extensibility escape hatch from
// spec.md §4.E: command-request/command-response, gated by an explicit
// allow-list rather than dispatched generically.
package command

import (
	"context"

	"github.com/xpra-go/relay/pkg/capability"
	"github.com/xpra-go/relay/pkg/session"
	"github.com/xpra-go/relay/pkg/transport"
	"github.com/xpra-go/relay/pkg/wire"
	"github.com/xpra-go/relay/pkg/xerr"
)

// Handler executes one allowed command, returning its result value or an
// error (surfaced to the peer as command-response's error field).
type Handler func(ctx context.Context, conn *session.Conn, args []wire.Value) (wire.Value, error)

type Module struct {
	allowed  []string
	handlers map[string]Handler
}

func New(handlers map[string]Handler) *Module {
	allowed := make([]string, 0, len(handlers))
	for name := range handlers {
		allowed = append(allowed, name)
	}
	return &Module{allowed: allowed, handlers: handlers}
}

func (m *Module) Prefix() string { return "command" }

func (m *Module) PacketTypes() []string { return []string{"command-request"} }

func (m *Module) Capabilities() map[string]capability.Value {
	list := make([]wire.Value, len(m.allowed))
	for i, name := range m.allowed {
		list[i] = wire.String(name)
	}
	return map[string]capability.Value{
		"enabled": wire.Bool(true),
		"allowed": wire.List(list...),
	}
}

// Handle looks up and runs the requested command. A request for a
// command outside the allow-list is a protocol-error: the allow-list is
// a deliberate authorization boundary, not an optional feature flag, so
// the connection is closed rather than silently ignored.
func (m *Module) Handle(ctx context.Context, conn *session.Conn, packetType string, args []wire.Value) error {
	if len(args) < 2 {
		return xerr.Protocolf("command-request missing id/name arguments")
	}
	id := args[0]
	name, _ := args[1].AsString()
	var cmdArgs []wire.Value
	if len(args) > 2 {
		cmdArgs, _ = args[2].AsList()
	}

	handler, ok := m.handlers[name]
	if !ok {
		return xerr.Protocolf("command %q is not in the allowed set", name)
	}

	result, err := handler(ctx, conn, cmdArgs)
	if err != nil {
		return conn.Transport.Send(ctx, wire.NewPacket("command-response", id, wire.Bool(false), wire.String(err.Error())), transport.PriorityInteractive, false)
	}
	return conn.Transport.Send(ctx, wire.NewPacket("command-response", id, wire.Bool(true), result), transport.PriorityInteractive, false)
}
