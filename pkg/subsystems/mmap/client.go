package mmap

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"os"

	"github.com/xpra-go/relay/pkg/wire"
)

// ClientNegotiate holds the initiating peer's half of an in-progress MMAP
// handshake (spec.md §4.A: "the client writes a random token at a random
// offset... the server reads and verifies, then writes its own token at a
// different offset and echoes the descriptor... the client verifies").
// Nothing here touches pkg/session — this is plain peer logic any side
// that originates the handshake can drive, including cmd/xpra-client.
type ClientNegotiate struct {
	Path       string
	Length     int
	TokenIndex int
	Token      []byte
}

// NewClientNegotiate pre-sizes the backing file at path to length bytes,
// writes a fresh random token at a random offset, and returns both the
// negotiation state (needed later to verify the responder's token) and
// the mmap-request packet to send.
func NewClientNegotiate(path string, length int) (*ClientNegotiate, wire.Packet, error) {
	if length < TokenSize*2 {
		return nil, wire.Packet{}, fmt.Errorf("mmap: length must fit two distinct tokens")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, wire.Packet{}, fmt.Errorf("mmap: create %s: %w", path, err)
	}
	defer f.Close()
	if err := f.Truncate(int64(length)); err != nil {
		return nil, wire.Packet{}, fmt.Errorf("mmap: truncate %s: %w", path, err)
	}

	token := make([]byte, TokenSize)
	if _, err := rand.Read(token); err != nil {
		return nil, wire.Packet{}, fmt.Errorf("mmap: generate token: %w", err)
	}
	index, err := randomOffset(length)
	if err != nil {
		return nil, wire.Packet{}, fmt.Errorf("mmap: %w", err)
	}
	if _, err := f.WriteAt(token, int64(index)); err != nil {
		return nil, wire.Packet{}, fmt.Errorf("mmap: write token: %w", err)
	}

	cn := &ClientNegotiate{Path: path, Length: length, TokenIndex: index, Token: token}
	pkt := wire.NewPacket("mmap-request",
		wire.String(path), wire.Int(int64(length)), wire.Int(int64(index)), wire.Bytes(token))
	return cn, pkt, nil
}

// VerifyServerToken reads the responder's token directly off the shared
// file at the offset named in its mmap-token reply and, on a match,
// returns the mmap-verified confirmation packet to send back. A mismatch
// or an offset that collides with this side's own token is a protocol
// error: the region is not actually shared the way the peer claims.
func (cn *ClientNegotiate) VerifyServerToken(args []wire.Value) (wire.Packet, error) {
	if len(args) < 2 || args[1].Kind != wire.KindBytes {
		return wire.Packet{}, fmt.Errorf("mmap-token missing token_index/token")
	}
	serverIndex := int(args[0].Int)
	serverToken := args[1].Bytes
	if len(serverToken) != TokenSize {
		return wire.Packet{}, fmt.Errorf("mmap-token token must be %d bytes", TokenSize)
	}
	if serverIndex+TokenSize > cn.Length || serverIndex < 0 {
		return wire.Packet{}, fmt.Errorf("mmap-token token_index out of range")
	}
	if serverIndex < cn.TokenIndex+TokenSize && serverIndex+TokenSize > cn.TokenIndex {
		return wire.Packet{}, fmt.Errorf("mmap: server token offset collides with client token offset")
	}

	f, err := os.Open(cn.Path)
	if err != nil {
		return wire.Packet{}, fmt.Errorf("mmap: reopen %s: %w", cn.Path, err)
	}
	defer f.Close()
	got := make([]byte, TokenSize)
	if _, err := f.ReadAt(got, int64(serverIndex)); err != nil {
		return wire.Packet{}, fmt.Errorf("mmap: read server token: %w", err)
	}
	if !bytes.Equal(got, serverToken) {
		return wire.Packet{}, fmt.Errorf("mmap: server token mismatch at offset %d", serverIndex)
	}
	return wire.NewPacket("mmap-verified"), nil
}
