package session

import (
	"context"
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/xpra-go/relay/pkg/auth"
	"github.com/xpra-go/relay/pkg/capability"
	"github.com/xpra-go/relay/pkg/events"
	"github.com/xpra-go/relay/pkg/transport"
	"github.com/xpra-go/relay/pkg/wire"
	"github.com/xpra-go/relay/pkg/xerr"
)

func bandwidthSubject(connID string) string {
	return fmt.Sprintf(events.SubjectBandwidthLimit, connID)
}

func disconnectSubject(connID string) string {
	return fmt.Sprintf(events.SubjectDisconnect, connID)
}

// RuntimeConfig configures a Runtime (spec §4.C, §6).
type RuntimeConfig struct {
	AuthRegistry     *auth.Registry
	AuthScheme       string // empty disables authentication
	Secret           string
	Policies         capability.PolicyTable
	RequireCommonEnc bool
	Log              zerolog.Logger
}

// Runtime owns the subsystem registry, connection table, and event bus
// shared by every connection the server accepts (spec §4.D).
type Runtime struct {
	cfg    RuntimeConfig
	events *events.Bus

	byPacketType map[string]Module
	modules      []Module

	conns *xsync.MapOf[string, *Conn]
	pool  *pool.ContextPool

	localCaps map[string]capability.Value
}

// NewRuntime builds a Runtime with its embedded event bus and worker
// pool. Call Register for each subsystem Module before accepting
// connections.
func NewRuntime(ctx context.Context, cfg RuntimeConfig) (*Runtime, error) {
	if cfg.AuthScheme != "" {
		if cfg.AuthRegistry == nil {
			return nil, fmt.Errorf("session: auth scheme %q set but no auth registry configured", cfg.AuthScheme)
		}
		if _, err := cfg.AuthRegistry.Get(cfg.AuthScheme); err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
	}
	bus, err := events.NewBus(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("session: start event bus: %w", err)
	}
	return &Runtime{
		cfg:          cfg,
		events:       bus,
		byPacketType: make(map[string]Module),
		conns:        xsync.NewMapOf[string, *Conn](),
		pool:         pool.New().WithContext(ctx).WithCancelOnError(),
		localCaps:    make(map[string]capability.Value),
	}, nil
}

// Register adds a subsystem module to the dispatch table. Registering two
// modules that claim the same packet type is a startup configuration
// error.
func (rt *Runtime) Register(m Module) error {
	for _, pt := range m.PacketTypes() {
		if existing, ok := rt.byPacketType[pt]; ok {
			return fmt.Errorf("session: packet type %q already claimed by %q, cannot register %q", pt, existing.Prefix(), m.Prefix())
		}
		rt.byPacketType[pt] = m
	}
	rt.modules = append(rt.modules, m)
	rt.localCaps[m.Prefix()] = capability.Value{
		Kind: wire.KindMap,
		Map:  m.Capabilities(),
	}
	return nil
}

// Events exposes the runtime's event bus for subsystems that need to
// publish or subscribe to session-level notifications.
func (rt *Runtime) Events() *events.Bus { return rt.events }

// Pool exposes the runtime's shared worker pool, used by subsystems that
// spawn background work (e.g. codec/audio subprocess supervision) bound
// to the runtime's lifetime rather than one connection's.
func (rt *Runtime) Pool() *pool.ContextPool { return rt.pool }

// ConnCloser is implemented by modules that hold per-connection resources
// needing explicit teardown when a connection closes (e.g. mmap's mapped
// region). Optional: most modules only keep state reachable through GC.
type ConnCloser interface {
	Close(conn *Conn) error
}

// Accept registers a freshly-wrapped transport as a new connection and
// runs its dispatch loop until the transport closes. Intended to be
// called in its own goroutine per accepted connection.
func (rt *Runtime) Accept(ctx context.Context, t *transport.Transport, log zerolog.Logger) {
	conn := NewConn(rt, t, log)
	rt.conns.Store(conn.ID, conn)
	defer rt.conns.Delete(conn.ID)
	defer rt.closeModules(conn)

	t.OnPacket(func(pkt wire.Packet) {
		rt.dispatch(ctx, conn, pkt)
	})
	t.OnError(func(err error) {
		conn.Log.Warn().Err(err).Msg("transport error")
		captureIfUnexpected(err)
	})

	if err := t.Serve(ctx); err != nil {
		conn.Log.Debug().Err(err).Msg("connection closed")
	}
	conn.setState(StateClosed)
}

// closeModules gives every registered ConnCloser a chance to release
// per-connection resources once a connection's transport has shut down.
func (rt *Runtime) closeModules(conn *Conn) {
	for _, m := range rt.modules {
		if cc, ok := m.(ConnCloser); ok {
			if err := cc.Close(conn); err != nil {
				conn.Log.Warn().Err(err).Str("module", m.Prefix()).Msg("module close failed")
			}
		}
	}
}

// dispatch routes one decoded packet to hello handling, built-in
// lifecycle packets, or a registered Module, recovering panics so one
// subsystem bug cannot take down the runtime (spec §4.D).
func (rt *Runtime) dispatch(ctx context.Context, conn *Conn, pkt wire.Packet) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("session: panic dispatching %q: %v", pkt.Type, r)
			conn.Log.Error().Err(err).Msg("recovered from panic in dispatch")
			sentry.CaptureException(err)
		}
	}()

	if !allowed(conn.State(), pkt.Type) {
		conn.Log.Warn().Str("packet_type", pkt.Type).Str("state", conn.State().String()).Msg("packet rejected by state machine")
		conn.Close("packet not allowed in current state")
		return
	}

	switch pkt.Type {
	case "hello":
		if err := rt.handleHello(conn, pkt.Args); err != nil {
			conn.Log.Warn().Err(err).Msg("hello failed")
			conn.Close(err.Error())
		}
		return
	case "disconnect":
		reason := "peer requested disconnect"
		if len(pkt.Args) > 0 {
			if s, ok := pkt.Args[0].AsString(); ok {
				reason = s
			}
		}
		conn.Close(reason)
		return
	}

	m, ok := rt.byPacketType[pkt.Type]
	if !ok {
		conn.Log.Debug().Str("packet_type", pkt.Type).Msg("no module registered for packet type")
		return
	}
	if profile := conn.Profile(); profile != nil {
		if v, present := capability.HasPath(profile, m.Prefix()+".enabled"); present && !v.Bool {
			return // subsystem disabled for this connection
		}
	}
	if err := m.Handle(ctx, conn, pkt.Type, pkt.Args); err != nil {
		fatal := xerr.Is(err, xerr.Protocol) || xerr.Is(err, xerr.PeerDisconnect)
		wrapped := xerr.Subsystemf(m.Prefix(), pkt.Type, err)
		conn.Log.Warn().Err(wrapped).Msg("subsystem handler error")
		if fatal {
			conn.Close(wrapped.Error())
		}
	}
}

func captureIfUnexpected(err error) {
	if xerr.Is(err, xerr.PeerDisconnect) {
		return
	}
	sentry.CaptureException(err)
}
