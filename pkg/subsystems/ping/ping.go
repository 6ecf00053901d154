// Package ping implements the round-trip latency probe (spec.md §4.E):
// ping(echo_time) answered with ping-echo(echo_time, server_time).
package ping

import (
	"context"
	"time"

	"github.com/xpra-go/relay/pkg/capability"
	"github.com/xpra-go/relay/pkg/session"
	"github.com/xpra-go/relay/pkg/transport"
	"github.com/xpra-go/relay/pkg/wire"
)

type Module struct{}

func New() *Module { return &Module{} }

func (m *Module) Prefix() string { return "ping" }

func (m *Module) PacketTypes() []string { return []string{"ping"} }

func (m *Module) Capabilities() map[string]capability.Value {
	return map[string]capability.Value{"enabled": wire.Bool(true)}
}

// Handle replies with ping-echo immediately from the dispatch goroutine,
// which (per §4.D) is the same goroutine reading frames off the wire —
// so the echo isn't skewed by queueing behind other dispatched packets.
func (m *Module) Handle(ctx context.Context, conn *session.Conn, packetType string, args []wire.Value) error {
	var echoTime int64
	if len(args) > 0 {
		echoTime = args[0].Int
	}
	reply := wire.NewPacket("ping-echo", wire.Int(echoTime), wire.Int(time.Now().UnixMilli()))
	return conn.Transport.Send(ctx, reply, transport.PriorityUrgent, false)
}
