// Package frame implements the core's bit-exact wire framing (spec §4.B,
// §6): a fixed header in front of a compressed, optionally-encrypted
// payload, plus the chunk-index side-channel scheme.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ProtocolMagic identifies this framing version. It is the first byte of
// every frame.
const ProtocolMagic byte = 'P'

// Flag bits within the frame header's flags byte.
const (
	FlagLZ4     byte = 1 << 0
	FlagLZO     byte = 1 << 1
	FlagBrotli  byte = 1 << 2
	FlagZlib    byte = 1 << 3
	FlagText    byte = 1 << 4 // set: text payload, unset: binary packet
	FlagCipher  byte = 1 << 5
	compressMask     = FlagLZ4 | FlagLZO | FlagBrotli | FlagZlib
)

// HeaderLen is the fixed size, in bytes, of a frame header:
// magic(1) + flags(1) + chunk_idx(1) + length(4).
const HeaderLen = 7

// MaxChunkIndex is the highest valid chunk index (spec §3: main channel is
// 0, up to 7 side channels).
const MaxChunkIndex = 7

// Header is the fixed frame header, bit-exact per spec §4.B.
type Header struct {
	Flags    byte
	ChunkIdx byte
	Length   uint32 // post-compression, post-encryption payload length
}

// CompressionMethod returns which single compression flag (at most one is
// ever set) is present, or 0 if the payload is uncompressed.
func (h Header) CompressionMethod() byte { return h.Flags & compressMask }

func (h Header) IsText() bool     { return h.Flags&FlagText != 0 }
func (h Header) IsEncrypted() bool { return h.Flags&FlagCipher != 0 }

// Encode writes the 7-byte header to w.
func (h Header) Encode(w io.Writer) error {
	var buf [HeaderLen]byte
	buf[0] = ProtocolMagic
	buf[1] = h.Flags
	buf[2] = h.ChunkIdx
	binary.BigEndian.PutUint32(buf[3:7], h.Length)
	_, err := w.Write(buf[:])
	return err
}

// DecodeHeader reads and validates a 7-byte header from r.
func DecodeHeader(r io.Reader) (Header, error) {
	var buf [HeaderLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	if buf[0] != ProtocolMagic {
		return Header{}, fmt.Errorf("frame: bad protocol magic 0x%02x", buf[0])
	}
	flags := buf[1]
	if bitsSet(flags&compressMask) > 1 {
		return Header{}, fmt.Errorf("frame: more than one compression flag set: 0x%02x", flags)
	}
	chunkIdx := buf[2]
	if chunkIdx > MaxChunkIndex {
		return Header{}, fmt.Errorf("frame: chunk index %d exceeds maximum %d", chunkIdx, MaxChunkIndex)
	}
	length := binary.BigEndian.Uint32(buf[3:7])
	return Header{Flags: flags, ChunkIdx: chunkIdx, Length: length}, nil
}

func bitsSet(b byte) int {
	n := 0
	for b != 0 {
		n += int(b & 1)
		b >>= 1
	}
	return n
}

// Frame is a fully decoded on-wire unit: header plus raw (still
// compressed/encrypted) payload bytes.
type Frame struct {
	Header  Header
	Payload []byte
}
