package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/xpra-go/relay/pkg/frame"
	"github.com/xpra-go/relay/pkg/wire"
)

func newPipePair(t *testing.T) (*Transport, *Transport) {
	t.Helper()
	a, b := net.Pipe()
	log := zerolog.Nop()
	reg := frame.NewRegistry(frame.NewLZ4())
	ta := New(a, reg, frame.DefaultMaxPayload, log)
	tb := New(b, reg, frame.DefaultMaxPayload, log)
	ta.SetPeerDecoders(reg)
	tb.SetPeerDecoders(reg)
	return ta, tb
}

func TestSendReceiveRoundTrip(t *testing.T) {
	ta, tb := newPipePair(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan wire.Packet, 1)
	tb.OnPacket(func(p wire.Packet) { received <- p })

	go ta.Serve(ctx)
	go tb.Serve(ctx)

	pkt := wire.NewPacket("ping", wire.Int(42))
	require.NoError(t, ta.Send(ctx, pkt, PriorityUrgent, false))

	select {
	case got := <-received:
		require.Equal(t, "ping", got.Type)
		require.Equal(t, int64(42), got.Args[0].Int)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
	}
}

func TestPriorityOrderingUrgentBeforeBulk(t *testing.T) {
	ta, tb := newPipePair(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var order []string
	done := make(chan struct{})
	count := 0
	tb.OnPacket(func(p wire.Packet) {
		order = append(order, p.Type)
		count++
		if count == 2 {
			close(done)
		}
	})

	go tb.Serve(ctx)

	// Enqueue bulk first, then urgent, before the writer goroutine starts
	// draining — urgent must still be written first.
	require.NoError(t, ta.Send(ctx, wire.NewPacket("bulk-pkt"), PriorityBulk, false))
	require.NoError(t, ta.Send(ctx, wire.NewPacket("urgent-pkt"), PriorityUrgent, false))
	go ta.Serve(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packets")
	}
	require.Equal(t, []string{"urgent-pkt", "bulk-pkt"}, order)
}

func TestSendOnClosedTransportErrors(t *testing.T) {
	ta, _ := newPipePair(t)
	require.NoError(t, ta.Close("test"))
	err := ta.Send(context.Background(), wire.NewPacket("hello"), PriorityUrgent, false)
	require.Error(t, err)
}

func TestChunkDeliveredViaTakeChunk(t *testing.T) {
	ta, tb := newPipePair(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tb.OnPacket(func(p wire.Packet) {})
	go ta.Serve(ctx)
	go tb.Serve(ctx)

	payload := []byte("raw pixel bytes")
	require.NoError(t, ta.Send(ctx, wire.NewPacket("window-update"), PriorityInteractive, false, payload))

	chunkCtx, chunkCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer chunkCancel()
	got, err := tb.TakeChunk(chunkCtx, 1)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}
