package window

import (
	"context"
	"net"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/xpra-go/relay/pkg/frame"
	"github.com/xpra-go/relay/pkg/session"
	"github.com/xpra-go/relay/pkg/transport"
	"github.com/xpra-go/relay/pkg/wire"
)

func newTestConn(t *testing.T) *session.Conn {
	t.Helper()
	rt, err := session.NewRuntime(context.Background(), session.RuntimeConfig{Log: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { rt.Events().Close() })

	a, _ := net.Pipe()
	tr := transport.New(a, frame.NewRegistry(), frame.DefaultMaxPayload, zerolog.Nop())
	return session.NewConn(rt, tr, zerolog.Nop())
}

func TestDrawInlineReferenceAccepted(t *testing.T) {
	m := New()
	conn := newTestConn(t)
	ctx := context.Background()

	require.NoError(t, m.Handle(ctx, conn, "window-new",
		[]wire.Value{wire.Int(1), wire.Int(0), wire.Int(0), wire.Int(100), wire.Int(100)}))
	err := m.Handle(ctx, conn, "draw",
		[]wire.Value{wire.Int(1), wire.String("inline"), wire.Int(1)})
	require.NoError(t, err)
}

func TestDrawMMAPReferenceRejectedBeforeHandshakeVerified(t *testing.T) {
	m := New()
	conn := newTestConn(t)
	ctx := context.Background()

	require.NoError(t, m.Handle(ctx, conn, "window-new",
		[]wire.Value{wire.Int(1), wire.Int(0), wire.Int(0), wire.Int(100), wire.Int(100)}))
	err := m.Handle(ctx, conn, "draw",
		[]wire.Value{wire.Int(1), wire.String("mmap"), wire.Int(0), wire.Int(64)})
	require.Error(t, err)
}
