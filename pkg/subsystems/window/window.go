// Package window tracks the opaque window-id space (spec.md §4.E, §9):
// geometry/title metadata only, never window-manager semantics. Pixel
// updates carry one of three reference kinds as a tagged union, since
// some concrete Go type has to move a window update through the
// dispatcher even though the core never interprets the pixels.
package window

import (
	"context"
	"fmt"
	"sync"

	"github.com/xpra-go/relay/pkg/capability"
	"github.com/xpra-go/relay/pkg/session"
	"github.com/xpra-go/relay/pkg/subsystems/mmap"
	"github.com/xpra-go/relay/pkg/wire"
)

// PixelRefKind identifies how a window-update packet's pixel payload is
// carried.
type PixelRefKind int

const (
	// PixelRefInline carries already-compressed pixel bytes inline in the
	// packet's side-channel chunk.
	PixelRefInline PixelRefKind = iota
	// PixelRefMMAP carries an offset/length into the connection's
	// negotiated MMAP area (pkg/subsystems/mmap).
	PixelRefMMAP
	// PixelRefCodecStream carries a frame id referencing an in-flight
	// worker-produced codec stream frame (pkg/worker).
	PixelRefCodecStream
)

// PixelRef is the tagged union of where a window update's pixels live.
type PixelRef struct {
	Kind        PixelRefKind
	ChunkIndex  byte  // PixelRefInline: side channel carrying the bytes
	MMAPOffset  int64 // PixelRefMMAP
	MMAPLength  int64 // PixelRefMMAP
	CodecFrame  int64 // PixelRefCodecStream
}

// Meta is the geometry/title metadata the core keeps per window, nothing
// more (spec.md §9: "never semantics").
type Meta struct {
	WID      int64
	X, Y     int
	W, H     int
	Title    string
	Encoding string
}

type registry struct {
	mu   sync.RWMutex
	byID map[int64]*Meta
}

type Module struct{}

func New() *Module { return &Module{} }

func (m *Module) Prefix() string { return "window" }

func (m *Module) PacketTypes() []string {
	return []string{"window-new", "window-close", "window-move-resize", "window-icon", "draw"}
}

func (m *Module) Capabilities() map[string]capability.Value {
	return map[string]capability.Value{"enabled": wire.Bool(true)}
}

func (m *Module) reg(conn *session.Conn) *registry {
	return conn.SubsystemState(m.Prefix(), func() any {
		return &registry{byID: make(map[int64]*Meta)}
	}).(*registry)
}

// MetaFor returns the tracked metadata for wid, or nil if unknown.
func MetaFor(m *Module, conn *session.Conn, wid int64) *Meta {
	r := m.reg(conn)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[wid]
}

func (m *Module) Handle(ctx context.Context, conn *session.Conn, packetType string, args []wire.Value) error {
	r := m.reg(conn)

	switch packetType {
	case "window-new":
		if len(args) < 5 {
			return fmt.Errorf("window-new requires wid, x, y, w, h")
		}
		wid := args[0].Int
		meta := &Meta{WID: wid, X: int(args[1].Int), Y: int(args[2].Int), W: int(args[3].Int), H: int(args[4].Int)}
		if len(args) > 5 {
			meta.Title, _ = args[5].AsString()
		}
		r.mu.Lock()
		r.byID[wid] = meta
		r.mu.Unlock()

	case "window-close":
		if len(args) < 1 {
			return fmt.Errorf("window-close requires wid")
		}
		r.mu.Lock()
		delete(r.byID, args[0].Int)
		r.mu.Unlock()

	case "window-move-resize":
		if len(args) < 5 {
			return fmt.Errorf("window-move-resize requires wid, x, y, w, h")
		}
		r.mu.Lock()
		if meta, ok := r.byID[args[0].Int]; ok {
			meta.X, meta.Y, meta.W, meta.H = int(args[1].Int), int(args[2].Int), int(args[3].Int), int(args[4].Int)
		}
		r.mu.Unlock()

	case "window-icon":
		// PNG icon bytes are accepted and ignored; decoding is out of
		// scope (spec.md §1 Non-goals).

	case "draw":
		if len(args) < 2 {
			return fmt.Errorf("draw requires wid and a pixel reference")
		}
		ref, err := decodePixelRef(args[1:])
		if err != nil {
			return fmt.Errorf("draw: %w", err)
		}
		// spec.md §3 invariant iii: an mmap pixel reference must never be
		// honored before both sides have verified each other's token.
		if ref.Kind == PixelRefMMAP && mmap.AreaFor(conn) == nil {
			return fmt.Errorf("draw: mmap pixel reference before mmap handshake verified")
		}
	}
	return nil
}

// decodePixelRef interprets a draw packet's tail arguments as one of the
// three PixelRef kinds, tagged by the first value's kind/shape.
func decodePixelRef(args []wire.Value) (PixelRef, error) {
	if len(args) == 0 {
		return PixelRef{}, fmt.Errorf("missing pixel reference")
	}
	tag, _ := args[0].AsString()
	switch tag {
	case "inline":
		if len(args) < 2 {
			return PixelRef{}, fmt.Errorf("inline pixel reference missing chunk index")
		}
		return PixelRef{Kind: PixelRefInline, ChunkIndex: byte(args[1].Int)}, nil
	case "mmap":
		if len(args) < 3 {
			return PixelRef{}, fmt.Errorf("mmap pixel reference missing offset/length")
		}
		return PixelRef{Kind: PixelRefMMAP, MMAPOffset: args[1].Int, MMAPLength: args[2].Int}, nil
	case "codec-stream":
		if len(args) < 2 {
			return PixelRef{}, fmt.Errorf("codec-stream pixel reference missing frame id")
		}
		return PixelRef{Kind: PixelRefCodecStream, CodecFrame: args[1].Int}, nil
	default:
		return PixelRef{}, fmt.Errorf("unknown pixel reference kind %q", tag)
	}
}
