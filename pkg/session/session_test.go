package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/xpra-go/relay/pkg/capability"
	"github.com/xpra-go/relay/pkg/frame"
	"github.com/xpra-go/relay/pkg/transport"
	"github.com/xpra-go/relay/pkg/wire"
)

type echoModule struct {
	calls chan wire.Packet
}

func (m *echoModule) Prefix() string        { return "test" }
func (m *echoModule) PacketTypes() []string { return []string{"test-packet"} }
func (m *echoModule) Capabilities() map[string]capability.Value {
	return map[string]capability.Value{"enabled": wire.Bool(true)}
}
func (m *echoModule) Handle(ctx context.Context, conn *Conn, packetType string, args []wire.Value) error {
	m.calls <- wire.NewPacket(packetType, args...)
	return nil
}

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := NewRuntime(context.Background(), RuntimeConfig{
		Policies: capability.DefaultPolicies(),
		Log:      zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { rt.events.Close() })
	return rt
}

func newTestTransport(conn net.Conn) *transport.Transport {
	return transport.New(conn, frame.NewRegistry(frame.NewLZ4()), frame.DefaultMaxPayload, zerolog.Nop())
}

func TestDispatchRejectsPreHelloTraffic(t *testing.T) {
	rt := newTestRuntime(t)
	require.NoError(t, rt.Register(&echoModule{calls: make(chan wire.Packet, 1)}))

	a, b := net.Pipe()
	defer b.Close()
	tr := newTestTransport(a)
	conn := NewConn(rt, tr, zerolog.Nop())

	rt.dispatch(context.Background(), conn, wire.NewPacket("test-packet"))
	require.Equal(t, StateClosed, conn.State())
}

func TestHelloWithoutAuthReachesReady(t *testing.T) {
	rt := newTestRuntime(t)
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	tr := newTestTransport(a)
	conn := NewConn(rt, tr, zerolog.Nop())

	replyRecv := make(chan wire.Packet, 1)
	peer := newTestTransport(b)
	peer.OnPacket(func(p wire.Packet) { replyRecv <- p })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Serve(ctx)
	go peer.Serve(ctx)

	helloArgs := []wire.Value{wire.Map(map[string]wire.Value{
		"encoding": wire.Map(map[string]wire.Value{
			"encodings": wire.List(wire.String("png")),
		}),
	})}
	rt.dispatch(ctx, conn, wire.NewPacket("hello", helloArgs...))

	require.Equal(t, StateReady, conn.State())
	select {
	case reply := <-replyRecv:
		require.Equal(t, "hello", reply.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive hello reply")
	}
}

func TestDisconnectPacketClosesConnection(t *testing.T) {
	rt := newTestRuntime(t)
	a, b := net.Pipe()
	defer b.Close()
	tr := newTestTransport(a)
	conn := NewConn(rt, tr, zerolog.Nop())
	conn.setState(StateReady)

	rt.dispatch(context.Background(), conn, wire.NewPacket("disconnect", wire.String("bye")))
	require.Equal(t, StateClosed, conn.State())
}

func TestSubsystemDisabledByProfileIsSkipped(t *testing.T) {
	rt := newTestRuntime(t)
	calls := make(chan wire.Packet, 1)
	require.NoError(t, rt.Register(&echoModule{calls: calls}))

	a, b := net.Pipe()
	defer b.Close()
	tr := newTestTransport(a)
	conn := NewConn(rt, tr, zerolog.Nop())
	conn.setState(StateReady)
	conn.setProfile(map[string]wire.Value{
		"test": wire.Map(map[string]wire.Value{"enabled": wire.Bool(false)}),
	})

	rt.dispatch(context.Background(), conn, wire.NewPacket("test-packet"))
	select {
	case <-calls:
		t.Fatal("handler should not have been called")
	case <-time.After(100 * time.Millisecond):
	}
}
