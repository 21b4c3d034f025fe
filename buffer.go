package wlwin

import (
	"fmt"

	"deedles.dev/ximage/geom"
)

// Buffer represents a wl_buffer
type Buffer struct {
	BaseProxy
	busy bool
}

// Dispatch handles the release event.
func (b *Buffer) Dispatch(event *Event) {
	if event.Opcode == 0 { // release
		b.busy = false
	}
}

// Busy reports whether the compositor may still be reading the buffer.
func (b *Buffer) Busy() bool {
	return b.busy
}

// Destroy destroys the buffer
func (b *Buffer) Destroy() error {
	return b.context.destroy(b, 0)
}

// BufferInfo selects a slot of a pool and the size of the buffer placed
// there. A zero Width or Height takes the pool's.
type BufferInfo struct {
	Index  int
	Width  int
	Height int
}

// clamp fits the info to the pool: Index to [0, Layers), sizes to
// [1, pool size].
func (i BufferInfo) clamp(pool PoolInfo) BufferInfo {
	c := BufferInfo{
		Index:  min(max(i.Index, 0), pool.Layers-1),
		Width:  pool.Width,
		Height: pool.Height,
	}
	if i.Width != 0 {
		c.Width = min(max(i.Width, 1), pool.Width)
	}
	if i.Height != 0 {
		c.Height = min(max(i.Height, 1), pool.Height)
	}
	return c
}

// PixelBuffer is a wl_buffer over one slot of a BufferPool together with
// the bytes it views.
type PixelBuffer struct {
	pool   *BufferPool
	info   BufferInfo
	offset int
	buffer *Buffer
	memory []byte
}

// NewPixelBuffer carves a buffer out of pool. The returned memory is
// exactly Width*Height*4 bytes and never overlaps another slot.
func NewPixelBuffer(pool *BufferPool, info BufferInfo) (*PixelBuffer, error) {
	b, err := newPixelBuffer(pool, info)
	if err != nil {
		return nil, err
	}
	if err := pool.display.Roundtrip(); err != nil {
		logger.Printf("pixel buffer: create_buffer rejected: %v", err)
		_ = b.Destroy()
		return nil, fmt.Errorf("%w: %w", ErrBufferCreate, callError("create wl_buffer", err))
	}
	return b, nil
}

// newPixelBuffer sends create_buffer without waiting for the compositor.
func newPixelBuffer(pool *BufferPool, info BufferInfo) (*PixelBuffer, error) {
	if pool == nil || pool.pool == nil || pool.pool.ID() == 0 {
		err := &CallError{Op: "create wl_buffer", Kind: KindProtocolRejected, Err: ErrObjectDestroyed}
		logger.Printf("pixel buffer: %v", err)
		return nil, fmt.Errorf("%w: %w", ErrBufferCreate, err)
	}

	info = info.clamp(pool.info)
	offset := pool.slotOffset(info.Index)
	stride := info.Width * bytesPerPixel

	buffer, err := pool.pool.CreateBuffer(int32(offset), int32(info.Width), int32(info.Height), int32(stride), FormatARGB8888)
	if err != nil {
		logger.Printf("pixel buffer: create_buffer failed: %v", err)
		return nil, fmt.Errorf("%w: %w", ErrBufferCreate, callError("create wl_buffer", err))
	}

	return &PixelBuffer{
		pool:   pool,
		info:   info,
		offset: offset,
		buffer: buffer,
		memory: pool.region.Subspan(offset, stride*info.Height),
	}, nil
}

// MustPixelBuffer is like NewPixelBuffer but panics on failure.
func MustPixelBuffer(pool *BufferPool, info BufferInfo) *PixelBuffer {
	b, err := NewPixelBuffer(pool, info)
	if err != nil {
		panic(err)
	}
	return b
}

// Info returns the clamped buffer info.
func (b *PixelBuffer) Info() BufferInfo {
	return b.info
}

// Offset returns the byte offset of the buffer in its pool.
func (b *PixelBuffer) Offset() int {
	return b.offset
}

// Stride returns the length of a row in bytes.
func (b *PixelBuffer) Stride() int {
	return b.info.Width * bytesPerPixel
}

// Size returns the buffer size in pixels.
func (b *PixelBuffer) Size() geom.Point[int] {
	return geom.Pt(b.info.Width, b.info.Height)
}

// Bounds returns the buffer rectangle anchored at the origin.
func (b *PixelBuffer) Bounds() geom.Rect[int] {
	return geom.Rt(0, 0, b.info.Width, b.info.Height)
}

// Memory returns the pixels, row-major ARGB8888 in native byte order.
func (b *PixelBuffer) Memory() []byte {
	return b.memory
}

// Buffer returns the underlying wl_buffer.
func (b *PixelBuffer) Buffer() *Buffer {
	return b.buffer
}

// Busy reports whether the buffer is attached and not yet released.
func (b *PixelBuffer) Busy() bool {
	return b.buffer != nil && b.buffer.Busy()
}

// Clear zeroes the pixels.
func (b *PixelBuffer) Clear() {
	clear(b.memory)
}

// Destroy destroys the wl_buffer. The pool memory stays mapped.
func (b *PixelBuffer) Destroy() error {
	if b.buffer == nil {
		return nil
	}
	err := b.buffer.Destroy()
	b.buffer = nil
	b.memory = nil
	return err
}
