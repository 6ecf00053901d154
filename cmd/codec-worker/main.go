// Command codec-worker is the subprocess pkg/worker.Spawn launches to
// isolate codec/audio work from the relay process (spec.md §4.F). It
// speaks the same control protocol as pkg/worker/control.go over the fd
// the parent passes as ExtraFiles[0] (fd 3): encode/decode requests in,
// encode-result/decode-result/worker-error out.
//
// This binary never touches libavcodec, libvpx, GStreamer, or any other
// actual encoder — producing real compressed video/audio is explicitly
// out of scope (spec.md §1 Non-goals). It exists so the control protocol
// and subprocess-isolation model have a real, runnable peer: requests are
// acknowledged with a stub result carrying the requested geometry back
// and an empty payload, which is enough to exercise the fd-passing and
// framing machinery end to end.
package main

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/xpra-go/relay/pkg/frame"
	relayworker "github.com/xpra-go/relay/pkg/worker"
	"github.com/xpra-go/relay/pkg/wire"
)

const controlMaxPayload = 1 << 20

func main() {
	conn, err := controlConn()
	if err != nil {
		fmt.Fprintf(os.Stderr, "codec-worker: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	reg := frame.NewRegistry()
	for {
		header, payload, err := frame.ReadFrame(conn, reg, nil, controlMaxPayload)
		if err != nil {
			return
		}
		if header.ChunkIdx != 0 {
			continue
		}
		pkt, err := wire.DecodePacket(payload)
		if err != nil {
			writeError(conn, fmt.Sprintf("decode control packet: %v", err))
			continue
		}
		if !handle(conn, pkt) {
			return
		}
	}
}

// controlConn wraps fd 3 — the child end of the socketpair the parent
// created via unix.Socketpair and passed through os/exec's ExtraFiles —
// as a *net.UnixConn.
func controlConn() (*net.UnixConn, error) {
	f := os.NewFile(3, "xpra-worker-control")
	if f == nil {
		return nil, fmt.Errorf("control fd 3 not available")
	}
	nc, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("wrap control fd: %w", err)
	}
	uc, ok := nc.(*net.UnixConn)
	if !ok {
		return nil, fmt.Errorf("control fd is not a unix socket")
	}
	return uc, nil
}

// handle processes one control packet, returning false when the worker
// should exit its read loop.
func handle(conn *net.UnixConn, pkt wire.Packet) bool {
	switch pkt.Type {
	case relayworker.PacketShutdown:
		return false
	case relayworker.PacketEncode:
		handleEncode(conn, pkt)
	case relayworker.PacketDecode:
		handleDecode(conn, pkt)
	default:
		writeError(conn, fmt.Sprintf("unknown control packet %q", pkt.Type))
	}
	return true
}

func handleEncode(conn *net.UnixConn, pkt wire.Packet) {
	if len(pkt.Args) < 7 {
		writeError(conn, "encode requires seq, codec, width, height, colorspace, pixel_len, has_fd")
		return
	}
	seq := pkt.Args[0].Int
	codec, _ := pkt.Args[1].AsString()
	width := pkt.Args[2].Int
	height := pkt.Args[3].Int
	hasFD := pkt.Args[6].Bool

	if hasFD {
		fd, err := recvFD(conn)
		if err != nil {
			writeError(conn, fmt.Sprintf("receive pixel fd: %v", err))
			return
		}
		// No real encoder reads the mapped pixels here; the descriptor is
		// only consumed to keep the protocol's resource accounting honest.
		_ = unix.Close(fd)
	}

	reply := wire.NewPacket(relayworker.PacketEncodeResult,
		wire.Int(seq), wire.String(codec), wire.Int(width), wire.Int(height),
		wire.Bool(true), wire.Bool(false))
	writePacket(conn, reply)
}

func handleDecode(conn *net.UnixConn, pkt wire.Packet) {
	if len(pkt.Args) < 5 {
		writeError(conn, "decode requires seq, codec, width, height, has_fd")
		return
	}
	seq := pkt.Args[0].Int
	codec, _ := pkt.Args[1].AsString()
	width := pkt.Args[2].Int
	height := pkt.Args[3].Int
	hasFD := pkt.Args[4].Bool

	if hasFD {
		fd, err := recvFD(conn)
		if err != nil {
			writeError(conn, fmt.Sprintf("receive frame fd: %v", err))
			return
		}
		_ = unix.Close(fd)
	}

	reply := wire.NewPacket(relayworker.PacketDecodeResult,
		wire.Int(seq), wire.String(codec), wire.Int(width), wire.Int(height),
		wire.Bool(true), wire.Bool(false))
	writePacket(conn, reply)
}

func writeError(conn *net.UnixConn, msg string) {
	writePacket(conn, wire.NewPacket(relayworker.PacketWorkerError, wire.String(msg)))
}

func writePacket(conn *net.UnixConn, pkt wire.Packet) {
	_ = frame.WriteFrame(conn, wire.EncodePacket(pkt), 0, false, nil, nil)
}
