package frame

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/pierrec/lz4/v3"
)

// SmallPacketThreshold is the size below which a packet is sent
// uncompressed regardless of negotiated compressors (spec §4.B).
const SmallPacketThreshold = 256

// Compressor compresses/decompresses a single frame's payload for one
// compression method.
type Compressor interface {
	Flag() byte
	Compress(plain []byte) ([]byte, error)
	Decompress(compressed []byte) ([]byte, error)
}

type lz4Compressor struct{}

func (lz4Compressor) Flag() byte { return FlagLZ4 }

func (lz4Compressor) Compress(plain []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(plain); err != nil {
		return nil, fmt.Errorf("frame: lz4 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("frame: lz4 compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (lz4Compressor) Decompress(compressed []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(compressed))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("frame: lz4 decompress: %w", err)
	}
	return out, nil
}

type brotliCompressor struct{ quality int }

func (brotliCompressor) Flag() byte { return FlagBrotli }

func (c brotliCompressor) Compress(plain []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, c.quality)
	if _, err := w.Write(plain); err != nil {
		return nil, fmt.Errorf("frame: brotli compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("frame: brotli compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (brotliCompressor) Decompress(compressed []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(compressed))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("frame: brotli decompress: %w", err)
	}
	return out, nil
}

// zlibCompressor uses the standard library: zlib is a standardized
// container format, not a library choice (see DESIGN.md).
type zlibCompressor struct{}

func (zlibCompressor) Flag() byte { return FlagZlib }

func (zlibCompressor) Compress(plain []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(plain); err != nil {
		return nil, fmt.Errorf("frame: zlib compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("frame: zlib compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (zlibCompressor) Decompress(compressed []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("frame: zlib decompress: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("frame: zlib decompress: %w", err)
	}
	return out, nil
}

// NewLZ4 returns the lz4 compressor, grounded on
// rockstar-0000-aistore/cmn/archive/write.go's use of pierrec/lz4.
func NewLZ4() Compressor { return lz4Compressor{} }

// NewBrotli returns the brotli compressor at the given quality (0-11).
func NewBrotli(quality int) Compressor { return brotliCompressor{quality: quality} }

// NewZlib returns the zlib compressor.
func NewZlib() Compressor { return zlibCompressor{} }

// Registry resolves a compression flag byte to a Compressor. lzo is
// deliberately absent: no viable pure-Go LZO implementation exists
// anywhere in the retrieved corpus, so it can be advertised/parsed on the
// wire but is never selected locally (see DESIGN.md).
type Registry struct {
	byFlag map[byte]Compressor
	order  []byte
}

// NewRegistry builds a registry from the given compressors, in preference
// order (first is most preferred when multiple are usable).
func NewRegistry(compressors ...Compressor) *Registry {
	m := make(map[byte]Compressor, len(compressors))
	order := make([]byte, 0, len(compressors))
	for _, c := range compressors {
		if _, dup := m[c.Flag()]; !dup {
			order = append(order, c.Flag())
		}
		m[c.Flag()] = c
	}
	return &Registry{byFlag: m, order: order}
}

func (r *Registry) Get(flag byte) (Compressor, bool) {
	c, ok := r.byFlag[flag]
	return c, ok
}

// Supports reports whether the registry has a compressor for flag.
func (r *Registry) Supports(flag byte) bool {
	_, ok := r.byFlag[flag]
	return ok
}

// Flags returns the compression flags this registry supports, in
// preference order.
func (r *Registry) Flags() []byte {
	return append([]byte(nil), r.order...)
}
