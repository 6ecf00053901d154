package worker

import (
	"fmt"

	"github.com/xpra-go/relay/pkg/frame"
	"github.com/xpra-go/relay/pkg/wire"
)

// control protocol packet type names exchanged over a Worker's socketpair.
const (
	PacketEncode       = "encode"
	PacketEncodeResult = "encode-result"
	PacketDecode       = "decode"
	PacketDecodeResult = "decode-result"
	PacketShutdown     = "shutdown"
	PacketWorkerError  = "worker-error"
)

// controlMaxPayload bounds one control-protocol frame; bulk pixel data
// travels by fd-passing, not inline, so this only needs to be large
// enough for metadata packets.
const controlMaxPayload = 1 << 20

// Result is one decoded message read back from a worker subprocess.
type Result struct {
	Seq        uint64
	Type       string
	Codec      string
	Width      int
	Height     int
	IsKeyframe bool
	Err        error
	// FD is set when the worker passed a buffer by descriptor rather than
	// inline bytes (e.g. an encode result backed by a shared memory
	// segment); -1 otherwise.
	FD int
}

// EncodeRequest asks a worker to encode one frame. PixelFD, when >= 0, is
// an open file descriptor (e.g. a memfd or mmap-backed segment) passed to
// the worker by SCM_RIGHTS instead of copying pixel data through the
// control pipe (spec.md §4.F, §4.G MMAP fast path).
type EncodeRequest struct {
	Codec      string
	Width      int
	Height     int
	Colorspace string
	PixelFD    int
	PixelLen   int
}

// SendEncode issues an encode request, passing PixelFD over SCM_RIGHTS
// when set. It returns the sequence number the worker will echo back on
// its result so callers can correlate asynchronous responses.
func (w *Worker) SendEncode(req EncodeRequest) (uint64, error) {
	seq := w.nextSeq()
	pkt := wire.NewPacket(PacketEncode,
		wire.Int(int64(seq)),
		wire.String(req.Codec),
		wire.Int(int64(req.Width)),
		wire.Int(int64(req.Height)),
		wire.String(req.Colorspace),
		wire.Int(int64(req.PixelLen)),
		wire.Bool(req.PixelFD >= 0),
	)
	if err := w.writePacket(pkt); err != nil {
		return 0, err
	}
	if req.PixelFD >= 0 {
		if err := sendFD(w.conn, req.PixelFD); err != nil {
			return 0, fmt.Errorf("worker: pass pixel fd: %w", err)
		}
	}
	return seq, nil
}

// Shutdown asks the worker to exit cleanly.
func (w *Worker) Shutdown() error {
	return w.writePacket(wire.NewPacket(PacketShutdown))
}

func (w *Worker) writePacket(pkt wire.Packet) error {
	return frame.WriteFrame(w.conn, wire.EncodePacket(pkt), 0, false, nil, nil)
}

// readLoop decodes control-protocol frames from the worker and, when a
// result packet indicates a descriptor follows, receives it over
// SCM_RIGHTS before publishing the Result.
func (w *Worker) readLoop() {
	defer close(w.results)
	defer w.running.Store(false)

	reg := frame.NewRegistry()
	for {
		header, payload, err := frame.ReadFrame(w.conn, reg, nil, controlMaxPayload)
		if err != nil {
			if w.running.Load() {
				w.results <- Result{Err: fmt.Errorf("worker: control read: %w", err)}
			}
			return
		}
		if header.ChunkIdx != 0 {
			continue // control channel carries no side-channel chunks
		}
		pkt, err := wire.DecodePacket(payload)
		if err != nil {
			w.results <- Result{Err: fmt.Errorf("worker: decode control packet: %w", err)}
			continue
		}
		w.results <- w.toResult(pkt)
	}
}

func (w *Worker) toResult(pkt wire.Packet) Result {
	r := Result{Type: pkt.Type, FD: -1}
	switch pkt.Type {
	case PacketEncodeResult, PacketDecodeResult:
		if len(pkt.Args) >= 5 {
			r.Seq = uint64(pkt.Args[0].Int)
			r.Codec, _ = pkt.Args[1].AsString()
			r.Width = int(pkt.Args[2].Int)
			r.Height = int(pkt.Args[3].Int)
			r.IsKeyframe = pkt.Args[4].Bool
		}
		if len(pkt.Args) >= 6 && pkt.Args[5].Bool {
			if fd, err := recvFD(w.conn); err == nil {
				r.FD = fd
			} else {
				r.Err = fmt.Errorf("worker: receive result fd: %w", err)
			}
		}
	case PacketWorkerError:
		if len(pkt.Args) >= 1 {
			msg, _ := pkt.Args[0].AsString()
			r.Err = fmt.Errorf("worker: %s", msg)
		}
	}
	return r
}
