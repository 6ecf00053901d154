package clipboard

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
	rt, err := session.NewRuntime(context.Background(), session.RuntimeConfig{
		Log: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { rt.Events().Close() })

	a, _ := net.Pipe()
	tr := transport.New(a, frame.NewRegistry(), frame.DefaultMaxPayload, zerolog.Nop())
	return session.NewConn(rt, tr, zerolog.Nop())
}

func TestClipboardRequestIDSingleUse(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	defer m.Close()

	conn := newTestConn(t)
	ctx := context.Background()

	require.NoError(t, m.Handle(ctx, conn, "clipboard-request", []wire.Value{wire.Int(1)}))
	require.NoError(t, m.Handle(ctx, conn, "clipboard-contents", []wire.Value{wire.Int(1), wire.Bytes([]byte("hi"))}))

	// Answering the same request_id again must fail: it was already
	// consumed.
	err = m.Handle(ctx, conn, "clipboard-contents", []wire.Value{wire.Int(1), wire.Bytes([]byte("again"))})
	require.Error(t, err)
}

func TestClipboardDuplicateRequestIDRejected(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	defer m.Close()

	conn := newTestConn(t)
	ctx := context.Background()

	require.NoError(t, m.Handle(ctx, conn, "clipboard-request", []wire.Value{wire.Int(5)}))
	err = m.Handle(ctx, conn, "clipboard-request", []wire.Value{wire.Int(5)})
	require.Error(t, err)
}

func TestClipboardTokenWhileDisabledIsDroppedSilently(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	defer m.Close()

	conn := newTestConn(t)
	ctx := context.Background()

	require.NoError(t, m.Handle(ctx, conn, "set-clipboard-enabled", []wire.Value{wire.Bool(false)}))
	require.NoError(t, m.Handle(ctx, conn, "clipboard-token", nil))
}
