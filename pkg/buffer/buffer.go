// Package buffer provides aligned, lifetime-scoped memory regions for
// zero-copy handoff of pixel and audio payloads between subsystems and
// worker processes (spec §4.A).
package buffer

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"
)

// DefaultAlignment is the reference alignment boundary for owned
// allocations; it must be a power of two.
const DefaultAlignment = 64

// ErrAlreadyReleased is returned when a buffer is released twice; the
// second release changes nothing else.
var ErrAlreadyReleased = errors.New("buffer: already released")

// kind distinguishes the three ownership variants from spec §4.A.
type kind int

const (
	kindOwned kind = iota
	kindBorrowed
	kindForeign
)

// Buffer is a contiguous memory region with guaranteed release on all exit
// paths. The zero value is not usable; construct with Allocate, Borrow, or
// WithDealloc.
type Buffer struct {
	kind     kind
	raw      []byte  // owned or borrowed backing slice
	base     []byte  // original over-allocation, for owned buffers (alignment padding)
	ptr      uintptr // foreign pointer, for kindForeign
	length   int
	align    int
	readonly bool
	dealloc  func(ptr uintptr, length int, arg any)
	arg      any
	released atomic.Bool
}

// Allocate returns an owned buffer of size bytes aligned to
// DefaultAlignment. The backing memory is freed automatically when
// Release is called.
func Allocate(size int, readonly bool) (*Buffer, error) {
	return AllocateAligned(size, DefaultAlignment, readonly)
}

// AllocateAligned is Allocate with an explicit alignment, which must be a
// power of two.
func AllocateAligned(size, align int, readonly bool) (*Buffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("buffer: negative size %d", size)
	}
	if align <= 0 || align&(align-1) != 0 {
		return nil, fmt.Errorf("buffer: alignment %d is not a power of two", align)
	}
	// Over-allocate so we can hand back an aligned sub-slice; this is the
	// standard portable way to get aligned memory out of the Go
	// allocator, which makes no alignment guarantee beyond pointer size.
	base := make([]byte, size+align)
	if base == nil {
		return nil, fmt.Errorf("buffer: allocation of %d bytes failed: out of memory", size)
	}
	addr := uintptr(unsafe.Pointer(&base[0]))
	offset := (align - int(addr%uintptr(align))) % align
	raw := base[offset : offset+size]
	return &Buffer{
		kind:     kindOwned,
		raw:      raw,
		base:     base,
		length:   size,
		align:    align,
		readonly: readonly,
	}, nil
}

// Borrow wraps a peer-owned slice without taking ownership; Release never
// frees the backing memory.
func Borrow(external []byte, readonly bool) *Buffer {
	return &Buffer{
		kind:     kindBorrowed,
		raw:      external,
		length:   len(external),
		align:    1,
		readonly: readonly,
	}
}

// WithDealloc wraps a foreign pointer/length with a caller-supplied
// deallocation callback, invoked exactly once on Release.
func WithDealloc(ptr uintptr, length int, dealloc func(ptr uintptr, length int, arg any), arg any) *Buffer {
	return &Buffer{
		kind:    kindForeign,
		ptr:     ptr,
		length:  length,
		align:   1,
		dealloc: dealloc,
		arg:     arg,
	}
}

// Len returns the buffer's length in bytes.
func (b *Buffer) Len() int { return b.length }

// Align returns the buffer's alignment boundary.
func (b *Buffer) Align() int { return b.align }

// ReadOnly reports whether the buffer was marked read-only.
func (b *Buffer) ReadOnly() bool { return b.readonly }

// Bytes returns the contiguous backing slice. It is only valid for owned
// and borrowed buffers; it panics for foreign-pointer buffers, which have
// no Go-visible slice (use Address instead).
func (b *Buffer) Bytes() []byte {
	if b.kind == kindForeign {
		panic("buffer: Bytes() called on a foreign-pointer buffer")
	}
	return b.raw
}

// Address returns the region's integer address and length. Valid for all
// buffer kinds.
func (b *Buffer) Address() (uintptr, int) {
	if b.kind == kindForeign {
		return b.ptr, b.length
	}
	if b.length == 0 {
		return 0, 0
	}
	return uintptr(unsafe.Pointer(&b.raw[0])), b.length
}

// Release frees owned buffers, invokes the dealloc callback on foreign
// buffers, and is a no-op (besides marking released) on borrowed buffers.
// Releasing an already-released buffer returns ErrAlreadyReleased.
func (b *Buffer) Release() error {
	if !b.released.CompareAndSwap(false, true) {
		return ErrAlreadyReleased
	}
	switch b.kind {
	case kindForeign:
		if b.dealloc != nil {
			b.dealloc(b.ptr, b.length, b.arg)
		}
	case kindOwned:
		b.raw = nil
		b.base = nil
	case kindBorrowed:
		b.raw = nil
	}
	return nil
}

// WithAddress runs fn with the buffer's address and length held live, and
// guarantees Release is called on every exit path including panics and
// errors returned by fn.
func WithAddress(b *Buffer, fn func(addr uintptr, length int) error) (err error) {
	defer func() {
		if rerr := b.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	addr, length := b.Address()
	return fn(addr, length)
}
