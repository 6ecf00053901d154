// Package mmap implements the mutual MMAP token handshake (spec.md §3,
// §4.A, §4.E): the initiating peer pre-sizes a backing file and writes a
// random token at a random offset; the responder maps the same file,
// reads that offset back off the mapped memory itself (not the wire
// argument) to prove it shares the file, then writes its own token at a
// distinct offset and echoes the descriptor. The initiator reads that
// offset back the same way and confirms. Only once both reads have
// succeeded does either side treat pixel/audio payloads that reference
// this region as valid zero-copy views instead of wire bytes.
package mmap

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/xpra-go/relay/pkg/buffer"
	"github.com/xpra-go/relay/pkg/capability"
	"github.com/xpra-go/relay/pkg/session"
	"github.com/xpra-go/relay/pkg/transport"
	"github.com/xpra-go/relay/pkg/wire"
	"github.com/xpra-go/relay/pkg/xerr"
)

// Prefix identifies this subsystem for capability namespacing and as the
// SubsystemState key; it never varies per connection.
const Prefix = "mmap"

// TokenSize is the length, in bytes, of each handshake token (spec.md
// §4.A: large enough that guessing it is infeasible within one
// connection's lifetime).
const TokenSize = 32

type area struct {
	mu     sync.Mutex
	buf    *buffer.Buffer
	file   *os.File
	length int

	// peerConfirmed is set once this side has read the peer's token back
	// off the mapped region and found it correct. verified additionally
	// requires the peer to have confirmed this side's token too
	// (mmap-verified) — only then may a "mmap" pixel reference be trusted
	// (spec.md §3 invariant iii).
	peerConfirmed bool
	verified      bool
}

type Module struct{}

func New() *Module { return &Module{} }

func (m *Module) Prefix() string { return Prefix }

func (m *Module) PacketTypes() []string { return []string{"mmap-request", "mmap-verified"} }

func (m *Module) Capabilities() map[string]capability.Value {
	return map[string]capability.Value{"enabled": wire.Bool(true)}
}

func connArea(conn *session.Conn) *area {
	return conn.SubsystemState(Prefix, func() any { return &area{} }).(*area)
}

// AreaFor exposes the validated MMAP buffer for connection-wide use by the
// window pixel path. Returns nil unless both sides have verified each
// other's token — an in-progress or one-sided handshake must never unlock
// mmap pixel references (spec.md §3 invariant iii).
func AreaFor(conn *session.Conn) *buffer.Buffer {
	a := connArea(conn)
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.verified {
		return nil
	}
	return a.buf
}

// Handle processes the responder's half of the handshake: mmap-request
// names a backing file, its size, and the offset/token the peer already
// wrote into it; this side maps the file, verifies the peer's token
// against the mapped bytes themselves, writes its own token at a distinct
// offset, and replies with mmap-token. mmap-verified arrives once the peer
// has done the same check against this side's token.
func (m *Module) Handle(ctx context.Context, conn *session.Conn, packetType string, args []wire.Value) error {
	a := connArea(conn)
	a.mu.Lock()
	defer a.mu.Unlock()

	switch packetType {
	case "mmap-request":
		if len(args) < 4 {
			return xerr.Protocolf("mmap-request requires path, length, token_index, token")
		}
		path, _ := args[0].AsString()
		length := int(args[1].Int)
		if length < TokenSize*2 {
			return xerr.Protocolf("mmap-request length must fit two distinct tokens")
		}
		peerIndex := int(args[2].Int)
		if args[3].Kind != wire.KindBytes || len(args[3].Bytes) != TokenSize {
			return xerr.Protocolf("mmap-request token must be %d bytes", TokenSize)
		}
		if peerIndex < 0 || peerIndex+TokenSize > length {
			return xerr.Protocolf("mmap-request token_index out of range")
		}
		peerToken := args[3].Bytes

		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return xerr.ResourceExhaustedf("mmap: open %s: %w", path, err)
		}
		data, err := unix.Mmap(int(f.Fd()), 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			f.Close()
			return xerr.ResourceExhaustedf("mmap: map %s: %w", path, err)
		}

		if !bytes.Equal(data[peerIndex:peerIndex+TokenSize], peerToken) {
			_ = unix.Munmap(data)
			f.Close()
			return xerr.Protocolf("mmap-request token not found at offset %d: peer does not share this file", peerIndex)
		}

		ownIndex, err := distinctOffset(length, peerIndex)
		if err != nil {
			_ = unix.Munmap(data)
			f.Close()
			return xerr.ResourceExhaustedf("mmap: %w", err)
		}
		ownToken := make([]byte, TokenSize)
		if _, err := rand.Read(ownToken); err != nil {
			_ = unix.Munmap(data)
			f.Close()
			return xerr.ResourceExhaustedf("mmap: generate token: %w", err)
		}
		copy(data[ownIndex:ownIndex+TokenSize], ownToken)

		a.buf = buffer.Borrow(data, false)
		a.file = f
		a.length = length
		a.peerConfirmed = true
		a.verified = false

		return conn.Transport.Send(ctx, wire.NewPacket("mmap-token", wire.Int(int64(ownIndex)), wire.Bytes(ownToken)),
			transport.PriorityInteractive, true)

	case "mmap-verified":
		if a.buf == nil || !a.peerConfirmed {
			return xerr.Protocolf("mmap-verified received with no confirmed mmap-request pending")
		}
		a.verified = true
	}
	return nil
}

// Close unmaps the connection's MMAP area, if any.
func (m *Module) Close(conn *session.Conn) error {
	a := connArea(conn)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.buf == nil {
		return nil
	}
	buf := a.buf
	a.buf = nil
	a.verified = false
	a.peerConfirmed = false
	data := buf.Bytes()
	if err := buf.Release(); err != nil {
		return err
	}
	err := unix.Munmap(data)
	if a.file != nil {
		if cerr := a.file.Close(); err == nil {
			err = cerr
		}
		a.file = nil
	}
	return err
}

// randomOffset picks a uniformly random offset in [0, length-TokenSize].
func randomOffset(length int) (int, error) {
	span := length - TokenSize
	if span <= 0 {
		return 0, fmt.Errorf("file too small for a %d-byte token", TokenSize)
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("random offset: %w", err)
	}
	return int(binary.BigEndian.Uint64(b[:]) % uint64(span+1)), nil
}

// distinctOffset picks a random offset whose token span does not overlap
// avoid's, retrying a bounded number of times before giving up.
func distinctOffset(length, avoid int) (int, error) {
	for attempt := 0; attempt < 32; attempt++ {
		idx, err := randomOffset(length)
		if err != nil {
			return 0, err
		}
		if idx+TokenSize <= avoid || idx >= avoid+TokenSize {
			return idx, nil
		}
	}
	return 0, fmt.Errorf("could not find a token offset distinct from %d", avoid)
}
