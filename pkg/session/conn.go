package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/xpra-go/relay/pkg/capability"
	"github.com/xpra-go/relay/pkg/transport"
	"github.com/xpra-go/relay/pkg/wire"
)

// Module is one subsystem (clipboard, audio, window, ...) that the
// dispatcher routes packets to once a connection is ready. Modules are
// registered once per Runtime and are shared across all connections;
// per-connection state lives behind conn.SubsystemState, keyed by the
// module's Prefix.
type Module interface {
	// Prefix identifies this subsystem for capability namespacing (e.g.
	// "clipboard", "audio") and is used as the SubsystemState key.
	Prefix() string
	// PacketTypes lists the inbound packet type names this module handles.
	PacketTypes() []string
	// Capabilities returns this module's contribution to the local hello
	// capability set, merged under its Prefix.
	Capabilities() map[string]capability.Value
	// Handle processes one dispatched packet. Errors are wrapped by the
	// dispatcher with subsystem/packet-type context (pkg/xerr).
	Handle(ctx context.Context, conn *Conn, packetType string, args []wire.Value) error
}

// Conn is one peer connection: its transport, negotiated profile, and
// per-subsystem state. Fields other than the send path are mutated only
// from the dispatch goroutine that owns this Conn.
type Conn struct {
	ID        string
	Transport *transport.Transport
	Runtime   *Runtime
	Log       zerolog.Logger

	state atomic.Int32

	mu             sync.RWMutex
	profile        map[string]capability.Value
	subsystemState map[string]any

	pendingAuth *pendingAuth

	bandwidthLimit atomic.Int64
}

type pendingAuth struct {
	scheme    string
	challenge []byte
	salt      []byte
}

// NewConn wraps a transport as a fresh, unauthenticated connection.
func NewConn(rt *Runtime, t *transport.Transport, log zerolog.Logger) *Conn {
	id := ulid.Make().String()
	c := &Conn{
		ID:             id,
		Transport:      t,
		Runtime:        rt,
		Log:            log.With().Str("conn", id).Logger(),
		subsystemState: make(map[string]any),
	}
	c.state.Store(int32(StateNew))
	return c
}

// State returns the connection's current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// setState transitions the connection; the dispatcher is the sole writer.
func (c *Conn) setState(s State) { c.state.Store(int32(s)) }

// Profile returns the negotiated capability profile, populated once hello
// completes. Safe for concurrent reads from subsystem goroutines.
func (c *Conn) Profile() map[string]capability.Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profile
}

func (c *Conn) setProfile(p map[string]capability.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profile = p
}

// SubsystemState returns the module-private state blob for prefix,
// creating it via factory on first access.
func (c *Conn) SubsystemState(prefix string, factory func() any) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.subsystemState[prefix]; ok {
		return v
	}
	v := factory()
	c.subsystemState[prefix] = v
	return v
}

// BandwidthLimitBytesPerSec returns the current outbound bandwidth cap
// negotiated or adjusted post-hello (spec §4.D bandwidth events), or 0 if
// unlimited.
func (c *Conn) BandwidthLimitBytesPerSec() int64 { return c.bandwidthLimit.Load() }

// SetBandwidthLimit updates the outbound bandwidth cap, publishing the
// change on the event bus so affected subsystems (e.g. encoding) can
// react.
func (c *Conn) SetBandwidthLimit(bytesPerSec int64) {
	c.bandwidthLimit.Store(bytesPerSec)
	if c.Runtime.events != nil {
		c.Runtime.events.Publish(bandwidthSubject(c.ID), []byte{})
	}
}

// Close transitions the connection to closing, makes a best-effort attempt
// to deliver a final disconnect packet carrying reason, and tears down the
// transport. Publishes a disconnect event so subsystems holding
// per-connection state outside SubsystemState (e.g. a GC-scanned registry)
// can evict it.
func (c *Conn) Close(reason string) {
	c.setState(StateClosing)
	c.sendDisconnect(reason)
	_ = c.Transport.Close(reason)
	c.setState(StateClosed)
	if c.Runtime.events != nil {
		c.Runtime.events.Publish(disconnectSubject(c.ID), []byte(reason))
	}
}

// sendDisconnect notifies the peer of the close reason before the
// transport goes away (spec §4.C "emits a disconnect packet", §7
// best-effort teardown notification). Best-effort: a transport already
// broken or closing has nowhere left to send to, so errors are dropped.
func (c *Conn) sendDisconnect(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = c.Transport.Send(ctx, wire.NewPacket("disconnect", wire.String(reason)), transport.PriorityUrgent, true)
}
