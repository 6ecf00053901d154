// Package cursor forwards cursor shape and position updates (spec.md
// §4.E): cursor-set/cursor-position.
package cursor

import (
	"context"
	"fmt"

	"github.com/xpra-go/relay/pkg/capability"
	"github.com/xpra-go/relay/pkg/session"
	"github.com/xpra-go/relay/pkg/wire"
)

// CursorSet is one decoded cursor-set packet, kept for modules (e.g.
// window) that want the last-known shape without re-decoding args.
type CursorSet struct {
	Serial uint64
	Width  int
	Height int
	XHot   int
	YHot   int
	Pixels []byte
	Name   string
}

type Module struct{}

func New() *Module { return &Module{} }

func (m *Module) Prefix() string { return "cursor" }

func (m *Module) PacketTypes() []string { return []string{"cursor-set", "cursor-position"} }

func (m *Module) Capabilities() map[string]capability.Value {
	return map[string]capability.Value{"enabled": wire.Bool(true)}
}

func (m *Module) Handle(ctx context.Context, conn *session.Conn, packetType string, args []wire.Value) error {
	switch packetType {
	case "cursor-set":
		if len(args) < 5 {
			return fmt.Errorf("cursor-set requires serial, width, height, xhot, yhot")
		}
		cs := CursorSet{
			Serial: uint64(args[0].Int),
			Width:  int(args[1].Int),
			Height: int(args[2].Int),
			XHot:   int(args[3].Int),
			YHot:   int(args[4].Int),
		}
		if len(args) > 5 {
			if args[5].Kind == wire.KindBytes {
				cs.Pixels = args[5].Bytes
			} else {
				cs.Name, _ = args[5].AsString()
			}
		}
		state := conn.SubsystemState(m.Prefix(), func() any { return &CursorSet{} }).(*CursorSet)
		*state = cs
	case "cursor-position":
		// wid, x, y — accepted and ignored; the core does not interpret
		// window geometry (spec.md §1 Non-goals).
	}
	return nil
}
