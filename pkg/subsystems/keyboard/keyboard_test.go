package keyboard

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

func TestOutOfOrderKeyActionIsProtocolError(t *testing.T) {
	m := New()
	conn := newTestConn(t)
	ctx := context.Background()

	require.NoError(t, m.Handle(ctx, conn, "key-action", []wire.Value{wire.Int(1), wire.Int(5), wire.Int(65)}))
	err := m.Handle(ctx, conn, "key-action", []wire.Value{wire.Int(1), wire.Int(3), wire.Int(66)})
	require.Error(t, err)
}

func TestIncreasingKeySequenceAccepted(t *testing.T) {
	m := New()
	conn := newTestConn(t)
	ctx := context.Background()

	require.NoError(t, m.Handle(ctx, conn, "key-action", []wire.Value{wire.Int(1), wire.Int(1), wire.Int(65)}))
	require.NoError(t, m.Handle(ctx, conn, "key-action", []wire.Value{wire.Int(1), wire.Int(2), wire.Int(66)}))
}
