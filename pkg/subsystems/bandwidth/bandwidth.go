// Package bandwidth tracks the peer's advertised outbound bandwidth cap
// (spec.md §4.E). The limit arrives in bits per second and is stored on
// the connection in bytes per second; no other subsystem reads it.
package bandwidth

import (
	"context"

	"github.com/dustin/go-humanize"

	"github.com/xpra-go/relay/pkg/capability"
	"github.com/xpra-go/relay/pkg/session"
	"github.com/xpra-go/relay/pkg/wire"
)

type Module struct{}

func New() *Module { return &Module{} }

func (m *Module) Prefix() string { return "bandwidth" }

func (m *Module) PacketTypes() []string { return []string{"bandwidth-limit"} }

func (m *Module) Capabilities() map[string]capability.Value {
	return map[string]capability.Value{"enabled": wire.Bool(true)}
}

func (m *Module) Handle(ctx context.Context, conn *session.Conn, packetType string, args []wire.Value) error {
	if len(args) == 0 {
		return nil
	}
	bps := args[0].Int
	conn.SetBandwidthLimit(bps / 8)
	conn.Log.Info().Str("limit", humanize.SI(float64(bps), "bps")).Msg("bandwidth limit updated")
	return nil
}
