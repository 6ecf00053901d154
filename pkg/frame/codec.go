package frame

import (
	"fmt"
	"io"
)

// DefaultMaxPayload is the default maximum post-compression,
// post-encryption frame payload length. Spec §6 requires at least 256 MiB
// to accommodate large pixel frames over slow links.
const DefaultMaxPayload = 256 << 20

// WriteFrame compresses (if a compressor is given), encrypts (if a cipher
// is given), and writes one frame to w.
func WriteFrame(w io.Writer, plain []byte, chunkIdx byte, isText bool, compressor Compressor, cipher *Cipher) error {
	if chunkIdx > MaxChunkIndex {
		return fmt.Errorf("frame: chunk index %d exceeds maximum %d", chunkIdx, MaxChunkIndex)
	}
	flags := byte(0)
	payload := plain
	// Small packets are sent uncompressed regardless of negotiated
	// compressors (spec §4.B).
	if compressor != nil && len(plain) >= SmallPacketThreshold {
		compressed, err := compressor.Compress(plain)
		if err != nil {
			return err
		}
		payload = compressed
		flags |= compressor.Flag()
	}
	if isText {
		flags |= FlagText
	}
	if cipher != nil {
		payload = cipher.Encrypt(payload)
		flags |= FlagCipher
	}
	h := Header{Flags: flags, ChunkIdx: chunkIdx, Length: uint32(len(payload))}
	if err := h.Encode(w); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one frame from r, enforcing maxPayload before allocating
// the receive buffer, then decrypts and decompresses it using registry and
// cipher. A zero-length payload with a compression flag set is rejected
// (spec §8 boundary behavior) since a real compressed stream is never
// empty.
func ReadFrame(r io.Reader, registry *Registry, cipher *Cipher, maxPayload uint32) (Header, []byte, error) {
	h, err := DecodeHeader(r)
	if err != nil {
		return Header{}, nil, fmt.Errorf("frame: %w", err)
	}
	if h.Length > maxPayload {
		return Header{}, nil, fmt.Errorf("frame: declared length %d exceeds limit %d", h.Length, maxPayload)
	}
	if h.Length == 0 && h.CompressionMethod() != 0 {
		return Header{}, nil, fmt.Errorf("frame: zero-length payload with compression flag set")
	}
	if h.IsEncrypted() && cipher == nil {
		return Header{}, nil, fmt.Errorf("frame: encrypted frame received but no cipher negotiated")
	}
	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Header{}, nil, fmt.Errorf("frame: read payload: %w", err)
	}
	if h.IsEncrypted() {
		decrypted, err := cipher.Decrypt(payload)
		if err != nil {
			return Header{}, nil, err
		}
		payload = decrypted
	}
	if method := h.CompressionMethod(); method != 0 {
		c, ok := registry.Get(method)
		if !ok {
			return Header{}, nil, fmt.Errorf("frame: unsupported compression flag 0x%02x not advertised locally", method)
		}
		decompressed, err := c.Decompress(payload)
		if err != nil {
			return Header{}, nil, err
		}
		payload = decompressed
	}
	return h, payload, nil
}
