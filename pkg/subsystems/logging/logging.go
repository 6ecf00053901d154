// Package logging forwards a connection's remote log-message packets
// into its zerolog sub-logger (spec.md §4.E) — the core's own ambient
// logging stack used as a subsystem, not a new dependency.
package logging

import (
	"context"
	"strconv"

	"github.com/xpra-go/relay/pkg/capability"
	"github.com/xpra-go/relay/pkg/session"
	"github.com/xpra-go/relay/pkg/wire"
)

type Module struct{}

func New() *Module { return &Module{} }

func (m *Module) Prefix() string { return "logging" }

func (m *Module) PacketTypes() []string { return []string{"log-message"} }

func (m *Module) Capabilities() map[string]capability.Value {
	return map[string]capability.Value{"enabled": wire.Bool(true)}
}

func (m *Module) Handle(ctx context.Context, conn *session.Conn, packetType string, args []wire.Value) error {
	if len(args) < 2 {
		return nil
	}
	level, _ := args[0].AsString()
	message, _ := args[1].AsString()
	event := conn.Log.Info()
	switch level {
	case "debug":
		event = conn.Log.Debug()
	case "warning", "warn":
		event = conn.Log.Warn()
	case "error":
		event = conn.Log.Error()
	}
	if len(args) > 2 {
		for i, a := range args[2:] {
			event = event.Str("arg"+strconv.Itoa(i), a.String())
		}
	}
	event.Msg(message)
	return nil
}
