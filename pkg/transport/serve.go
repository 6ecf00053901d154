package transport

import (
	"context"
	"errors"
	"io"

	"github.com/xpra-go/relay/pkg/frame"
	"github.com/xpra-go/relay/pkg/wire"
)

// Serve runs the reader and writer loops until ctx is cancelled, the
// connection errors, or Close is called. It blocks until both loops
// exit.
func (t *Transport) Serve(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() { errCh <- t.writeLoop(ctx) }()
	go func() { errCh <- t.readLoop(ctx) }()

	var first error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && first == nil {
			first = err
		}
	}
	_ = t.Close("serve loop exited")
	return first
}

func (t *Transport) writeLoop(ctx context.Context) error {
	for {
		// Drain strictly by priority: urgent, then interactive, then bulk,
		// FIFO within a priority (spec §4.D, §5).
		select {
		case item := <-t.queues[PriorityUrgent]:
			if err := t.writeOne(item); err != nil {
				return err
			}
			continue
		default:
		}
		select {
		case item := <-t.queues[PriorityUrgent]:
			if err := t.writeOne(item); err != nil {
				return err
			}
			continue
		case item := <-t.queues[PriorityInteractive]:
			if err := t.writeOne(item); err != nil {
				return err
			}
			continue
		default:
		}
		select {
		case <-ctx.Done():
			return t.drainMustFlush()
		case <-t.done:
			return nil
		case item := <-t.queues[PriorityUrgent]:
			if err := t.writeOne(item); err != nil {
				return err
			}
		case item := <-t.queues[PriorityInteractive]:
			if err := t.writeOne(item); err != nil {
				return err
			}
		case item := <-t.queues[PriorityBulk]:
			if err := t.writeOne(item); err != nil {
				return err
			}
		}
	}
}

// drainMustFlush writes any already-enqueued must-flush packets (e.g. a
// final disconnect notice) before the writer loop exits, per spec §4.B
// orderly-shutdown.
func (t *Transport) drainMustFlush() error {
	for _, q := range t.queues {
		for {
			select {
			case item := <-q:
				if item.mustFlush {
					_ = t.writeOne(item)
				}
			default:
				goto next
			}
		}
	next:
	}
	return nil
}

func (t *Transport) writeOne(item outbound) error {
	encoded := wire.EncodePacket(item.packet)
	size := int64(len(encoded))
	compressor := t.chooseCompressor()
	cipher := t.cipher.Load()
	defer func() { t.inFlight.Add(-size) }()
	if err := frame.WriteFrame(t.conn, encoded, 0, false, compressor, cipher); err != nil {
		return err
	}
	for i, chunk := range item.chunks {
		size += int64(len(chunk))
		if err := frame.WriteFrame(t.conn, chunk, byte(i+1), false, nil, cipher); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) readLoop(ctx context.Context) error {
	localDecoders := t.localCompress
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.done:
			return nil
		default:
		}

		cipher := t.cipher.Load()
		header, payload, err := frame.ReadFrame(t.conn, localDecoders, cipher, t.maxPayload)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if fn := t.onError.Load(); fn != nil {
				(*fn)(err)
			}
			return err
		}

		if header.ChunkIdx == 0 {
			pkt, err := wire.DecodePacket(payload)
			if err != nil {
				if fn := t.onError.Load(); fn != nil {
					(*fn)(err)
				}
				return err
			}
			if fn := t.onPacket.Load(); fn != nil {
				(*fn)(pkt)
			}
			continue
		}

		select {
		case t.chunks[header.ChunkIdx] <- payload:
		default:
			// Replace a stale unread chunk rather than block the reader.
			select {
			case <-t.chunks[header.ChunkIdx]:
			default:
			}
			t.chunks[header.ChunkIdx] <- payload
		}
	}
}
