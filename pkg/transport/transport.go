// Package transport implements the packet transport contract from spec
// §4.B: send/on_packet/close over a full-duplex byte stream, with
// per-flag compression, optional per-connection encryption, and
// interleaved control/bulk channels with backpressure.
package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/xpra-go/relay/pkg/frame"
	"github.com/xpra-go/relay/pkg/wire"
	"github.com/xpra-go/relay/pkg/xerr"
)

// Priority orders outbound packets: urgent > interactive > bulk, FIFO
// within a priority (spec §4.D, §5).
type Priority int

const (
	PriorityUrgent Priority = iota
	PriorityInteractive
	PriorityBulk
	numPriorities
)

// QueueDepth is the per-priority outbound queue capacity. Send blocks
// cooperatively once a queue is full (spec §4.B backpressure).
const QueueDepth = 256

// HighWatermarkBytes is the outbound bytes-in-flight limit past which new
// enqueues are refused with a resource-exhausted error instead of
// blocking forever (spec §4.B, §7).
const HighWatermarkBytes = 64 << 20

type outbound struct {
	packet   wire.Packet
	chunks   [][]byte
	isText   bool
	mustFlush bool
}

// PacketHandler is invoked for each fully-reassembled inbound packet. Any
// chunks that arrived interleaved with it on side channels 1-7 (per the
// convention described on Transport.TakeChunk) are not passed here —
// handlers that expect bulk side-channel data call TakeChunk explicitly.
type PacketHandler func(pkt wire.Packet)

// Transport is one connection's framed duplex channel.
type Transport struct {
	conn          io.ReadWriteCloser
	localCompress *frame.Registry // methods this side can produce
	peerCompress  *frame.Registry // methods the peer can decode (updated post-hello)
	cipher        atomic.Pointer[frame.Cipher]
	maxPayload    uint32
	log           zerolog.Logger

	queues [numPriorities]chan outbound

	chunkMu sync.Mutex
	chunks  [frame.MaxChunkIndex + 1]chan []byte

	onPacket atomic.Pointer[PacketHandler]
	onError  atomic.Pointer[func(error)]

	inFlight atomic.Int64
	closed   atomic.Bool
	closeErr atomic.Pointer[error]
	done     chan struct{}
}

// New wraps conn with the framing/compression/encryption layer. localCompress
// is the set of compressors this side can produce; SetPeerDecoders should be
// called once hello negotiation determines what the peer can decode.
func New(conn io.ReadWriteCloser, localCompress *frame.Registry, maxPayload uint32, log zerolog.Logger) *Transport {
	t := &Transport{
		conn:          conn,
		localCompress: localCompress,
		peerCompress:  frame.NewRegistry(),
		maxPayload:    maxPayload,
		log:           log,
		done:          make(chan struct{}),
	}
	for i := range t.queues {
		t.queues[i] = make(chan outbound, QueueDepth)
	}
	for i := range t.chunks {
		t.chunks[i] = make(chan []byte, 1)
	}
	return t
}

// SetPeerDecoders records which compression methods the peer advertised
// it can decode; outbound compression is chosen from the intersection of
// this and localCompress (spec §4.B).
func (t *Transport) SetPeerDecoders(peer *frame.Registry) { t.peerCompress = peer }

// SetCipher installs the negotiated encryption context, effective for all
// frames sent/received after this call (spec §4.B: "every frame after the
// hello is encrypted").
func (t *Transport) SetCipher(c *frame.Cipher) { t.cipher.Store(c) }

// OnPacket registers the callback invoked for each reassembled inbound
// packet (main channel, chunk index 0).
func (t *Transport) OnPacket(fn PacketHandler) { t.onPacket.Store(&fn) }

// OnError registers the callback invoked when the reader encounters a
// fatal transport/protocol error.
func (t *Transport) OnError(fn func(error)) { t.onError.Store(&fn) }

// chooseCompressor selects the best compression method from the
// intersection of local and peer-advertised methods (spec §4.B); returns
// nil if nothing is usable.
func (t *Transport) chooseCompressor() frame.Compressor {
	for _, f := range t.localCompress.Flags() {
		if t.peerCompress.Supports(f) {
			c, _ := t.localCompress.Get(f)
			return c
		}
	}
	return nil
}

// Send enqueues a logical packet plus up to seven side-channel chunks at
// the given priority. It blocks cooperatively when that priority's queue
// is full, and returns a resource-exhausted error if the connection's
// outbound bytes-in-flight exceed HighWatermarkBytes.
func (t *Transport) Send(ctx context.Context, pkt wire.Packet, priority Priority, mustFlush bool, chunks ...[]byte) error {
	if t.closed.Load() {
		return fmt.Errorf("transport: send on closed connection")
	}
	if t.inFlight.Load() > HighWatermarkBytes {
		return xerr.ResourceExhaustedf("transport: outbound high watermark exceeded")
	}
	if len(chunks) > frame.MaxChunkIndex {
		return fmt.Errorf("transport: %d chunks exceeds maximum %d", len(chunks), frame.MaxChunkIndex)
	}
	item := outbound{packet: pkt, chunks: chunks, mustFlush: mustFlush}
	size := int64(len(wire.EncodePacket(pkt)))
	for _, c := range chunks {
		size += int64(len(c))
	}
	select {
	case t.queues[priority] <- item:
		t.inFlight.Add(size)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return fmt.Errorf("transport: closed while enqueuing")
	}
}

// TakeChunk waits for the next frame received on the given side-channel
// index (1-7) and returns its raw bytes. Convention: a subsystem handler
// that receives a main packet referencing bulk side-channel data (e.g. a
// window pixel update) calls TakeChunk for the index that packet names
// immediately after processing it. Each index holds at most one unread
// frame: a frame that arrives while an earlier one is still unread
// replaces it.
func (t *Transport) TakeChunk(ctx context.Context, idx byte) ([]byte, error) {
	if idx == 0 || idx > frame.MaxChunkIndex {
		return nil, fmt.Errorf("transport: invalid chunk index %d", idx)
	}
	select {
	case b := <-t.chunks[idx]:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, fmt.Errorf("transport: closed while waiting for chunk %d", idx)
	}
}

// Close marks the transport closed, stops the reader and writer loops and
// closes the underlying stream at once; packets still queued, must-flush
// ones included, are not written. Must-flush packets are drained only
// when the context passed to Serve is cancelled. Sends fail fast
// afterward (spec §4.B cancellation).
func (t *Transport) Close(reason string) error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := fmt.Errorf("transport closed: %s", reason)
	t.closeErr.Store(&err)
	close(t.done)
	return t.conn.Close()
}

// Err returns the reason Close was called with, if any.
func (t *Transport) Err() error {
	if p := t.closeErr.Load(); p != nil {
		return *p
	}
	return nil
}
