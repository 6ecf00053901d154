package mmap

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/xpra-go/relay/pkg/frame"
	"github.com/xpra-go/relay/pkg/session"
	"github.com/xpra-go/relay/pkg/transport"
	"github.com/xpra-go/relay/pkg/wire"
)

// newTestConn wires a *session.Conn to one end of an in-memory pipe and
// returns a transport over the other end so a test can observe what
// Handle sends back, mirroring how a real peer would receive mmap-token.
func newTestConn(t *testing.T) (*session.Conn, *transport.Transport) {
	t.Helper()
	rt, err := session.NewRuntime(context.Background(), session.RuntimeConfig{Log: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { rt.Events().Close() })

	a, b := net.Pipe()
	tr := transport.New(a, frame.NewRegistry(), frame.DefaultMaxPayload, zerolog.Nop())
	peer := transport.New(b, frame.NewRegistry(), frame.DefaultMaxPayload, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go tr.Serve(ctx)
	go peer.Serve(ctx)

	return session.NewConn(rt, tr, zerolog.Nop()), peer
}

func recvPacket(t *testing.T, peer *transport.Transport) wire.Packet {
	t.Helper()
	recv := make(chan wire.Packet, 1)
	peer.OnPacket(func(p wire.Packet) { recv <- p })
	select {
	case p := <-recv:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
		return wire.Packet{}
	}
}

func TestMmapFullHandshakeVerifiesBothSides(t *testing.T) {
	path := t.TempDir() + "/mmap-area"

	cn, requestPkt, err := NewClientNegotiate(path, 4096)
	require.NoError(t, err)

	m := New()
	conn, peer := newTestConn(t)
	ctx := context.Background()

	require.Nil(t, AreaFor(conn))

	require.NoError(t, m.Handle(ctx, conn, "mmap-request", requestPkt.Args))
	// The responder has confirmed the peer's token but the peer hasn't yet
	// confirmed the responder's — invariant iii says this still isn't
	// usable.
	require.Nil(t, AreaFor(conn))

	tokenPkt := recvPacket(t, peer)
	require.Equal(t, "mmap-token", tokenPkt.Type)

	verifyPkt, err := cn.VerifyServerToken(tokenPkt.Args)
	require.NoError(t, err)
	require.Equal(t, "mmap-verified", verifyPkt.Type)

	require.NoError(t, m.Handle(ctx, conn, "mmap-verified", nil))
	require.NotNil(t, AreaFor(conn))
	require.NoError(t, m.Close(conn))
}

func TestMmapRequestTokenMismatchRejected(t *testing.T) {
	path := t.TempDir() + "/mmap-area"
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(4096))
	require.NoError(t, f.Close())

	m := New()
	conn, _ := newTestConn(t)
	ctx := context.Background()

	bogus := make([]byte, TokenSize)
	for i := range bogus {
		bogus[i] = 0xAB
	}
	err = m.Handle(ctx, conn, "mmap-request",
		[]wire.Value{wire.String(path), wire.Int(4096), wire.Int(100), wire.Bytes(bogus)})
	require.Error(t, err)
	require.Nil(t, AreaFor(conn))
}

func TestMmapVerifiedWithoutPendingRequestRejected(t *testing.T) {
	m := New()
	conn, _ := newTestConn(t)
	ctx := context.Background()

	err := m.Handle(ctx, conn, "mmap-verified", nil)
	require.Error(t, err)
}
