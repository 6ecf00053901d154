// Package notification accepts desktop notification show/close packets
// (spec.md §4.E) and logs them at debug level. Icon bytes are not read;
// PNG decoding is a collaborator's job, never the core's (spec.md §1
// Non-goals).
package notification

import (
	"context"
	"fmt"

	"github.com/xpra-go/relay/pkg/capability"
	"github.com/xpra-go/relay/pkg/session"
	"github.com/xpra-go/relay/pkg/wire"
)

type Module struct{}

func New() *Module { return &Module{} }

func (m *Module) Prefix() string { return "notification" }

func (m *Module) PacketTypes() []string {
	return []string{"notification-show", "notification-close"}
}

func (m *Module) Capabilities() map[string]capability.Value {
	return map[string]capability.Value{"enabled": wire.Bool(true)}
}

func (m *Module) Handle(ctx context.Context, conn *session.Conn, packetType string, args []wire.Value) error {
	switch packetType {
	case "notification-show":
		if len(args) < 2 {
			return fmt.Errorf("notification-show requires id and summary")
		}
		summary, _ := args[1].AsString()
		conn.Log.Debug().Int64("id", args[0].Int).Str("summary", summary).Msg("notification shown")
	case "notification-close":
		if len(args) < 1 {
			return fmt.Errorf("notification-close requires id")
		}
		conn.Log.Debug().Int64("id", args[0].Int).Msg("notification closed")
	}
	return nil
}
