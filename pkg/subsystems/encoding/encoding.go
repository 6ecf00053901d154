// Package encoding tracks per-window picture encoding preferences
// (spec.md §4.E): encoding-changed, quality-changed, speed-changed.
// These are consulted, not owned, by the window pixel path.
package encoding

import (
	"context"
	"fmt"
	"sync"

	"github.com/xpra-go/relay/pkg/capability"
	"github.com/xpra-go/relay/pkg/session"
	"github.com/xpra-go/relay/pkg/wire"
)

// Prefs is one window's negotiated encoding tunables.
type Prefs struct {
	Encoding string
	Quality  int // 0-100, -1 means unset
	Speed    int // 0-100, -1 means unset
}

type state struct {
	mu    sync.RWMutex
	byWID map[int64]*Prefs
}

type Module struct {
	encodings []string
}

// New builds the encoding subsystem, advertising encodings as this side's
// own picture encodings; hello negotiation later intersects them with the
// peer's list (pkg/capability).
func New(encodings []string) *Module { return &Module{encodings: encodings} }

func (m *Module) Prefix() string { return "encoding" }

func (m *Module) PacketTypes() []string {
	return []string{"encoding-changed", "quality-changed", "speed-changed"}
}

func (m *Module) Capabilities() map[string]capability.Value {
	list := make([]wire.Value, len(m.encodings))
	for i, e := range m.encodings {
		list[i] = wire.String(e)
	}
	return map[string]capability.Value{
		"enabled":   wire.Bool(true),
		"encodings": wire.List(list...),
	}
}

func (m *Module) connState(conn *session.Conn) *state {
	return conn.SubsystemState(m.Prefix(), func() any {
		return &state{byWID: make(map[int64]*Prefs)}
	}).(*state)
}

func (m *Module) prefsFor(st *state, wid int64) *Prefs {
	st.mu.Lock()
	defer st.mu.Unlock()
	p, ok := st.byWID[wid]
	if !ok {
		p = &Prefs{Quality: -1, Speed: -1}
		st.byWID[wid] = p
	}
	return p
}

// PrefsFor returns the current encoding preferences for wid on conn, for
// use by the window pixel path. Never returns nil.
func PrefsFor(m *Module, conn *session.Conn, wid int64) Prefs {
	st := m.connState(conn)
	st.mu.RLock()
	defer st.mu.RUnlock()
	if p, ok := st.byWID[wid]; ok {
		return *p
	}
	return Prefs{Quality: -1, Speed: -1}
}

func (m *Module) Handle(ctx context.Context, conn *session.Conn, packetType string, args []wire.Value) error {
	if len(args) < 2 {
		return fmt.Errorf("%s requires wid and value", packetType)
	}
	wid := args[0].Int
	st := m.connState(conn)
	p := m.prefsFor(st, wid)

	st.mu.Lock()
	defer st.mu.Unlock()
	switch packetType {
	case "encoding-changed":
		p.Encoding, _ = args[1].AsString()
	case "quality-changed":
		p.Quality = int(args[1].Int)
	case "speed-changed":
		p.Speed = int(args[1].Int)
	}
	return nil
}
