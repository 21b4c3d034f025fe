package wlwin

import (
	"errors"
	"fmt"
	"math"
	"os"
)

// Wayland pixel formats
const (
	// 32-bit formats
	FormatARGB8888 = 0
	FormatXRGB8888 = 1
)

// bytesPerPixel is the size of one ARGB8888 pixel.
const bytesPerPixel = 4

// maxPoolBytes is the largest pool create_pool can describe.
const maxPoolBytes = math.MaxInt32

// poolFilePrefix names the backing file when memfd is unavailable.
const poolFilePrefix = "wlwin-shm_pool"

// Shm represents a wl_shm
type Shm struct {
	BaseProxy
	formats []uint32
}

// NewShm creates a new shm proxy
func NewShm(ctx *Context) *Shm {
	return &Shm{BaseProxy: BaseProxy{context: ctx}}
}

// Dispatch records the advertised pixel formats.
func (s *Shm) Dispatch(event *Event) {
	if event.Opcode == 0 { // format
		s.formats = append(s.formats, event.Uint32())
	}
}

// Formats returns the pixel formats advertised so far.
func (s *Shm) Formats() []uint32 {
	return s.formats
}

// SupportsFormat reports whether the compositor advertised format.
func (s *Shm) SupportsFormat(format uint32) bool {
	for _, f := range s.formats {
		if f == format {
			return true
		}
	}
	return false
}

// CreatePool shares size bytes of fd with the compositor.
func (s *Shm) CreatePool(fd int, size int32) (*ShmPool, error) {
	pool := &ShmPool{BaseProxy: BaseProxy{context: s.context}}
	// create_pool (opcode 0)
	if err := s.context.newObject(pool, s, 0, FD(fd), size); err != nil {
		return nil, err
	}
	return pool, nil
}

// ShmPool represents a wl_shm_pool
type ShmPool struct {
	BaseProxy
}

// CreateBuffer creates a wl_buffer viewing part of the pool.
func (p *ShmPool) CreateBuffer(offset, width, height, stride int32, format uint32) (*Buffer, error) {
	buffer := &Buffer{BaseProxy: BaseProxy{context: p.context}}
	// create_buffer (opcode 0)
	if err := p.context.newObject(buffer, p, 0, offset, width, height, stride, format); err != nil {
		return nil, err
	}
	return buffer, nil
}

// Destroy destroys the pool. Buffers created from it stay valid.
func (p *ShmPool) Destroy() error {
	return p.context.destroy(p, 1)
}

// PoolInfo describes the geometry of a BufferPool: Layers slots of
// Width x Height ARGB8888 pixels.
type PoolInfo struct {
	Width  int
	Height int
	Layers int
}

func (i PoolInfo) normalize() PoolInfo {
	return PoolInfo{
		Width:  max(i.Width, 1),
		Height: max(i.Height, 1),
		Layers: max(i.Layers, 1),
	}
}

// SizeBytes returns the number of bytes a pool with this geometry maps,
// or -1 if that exceeds what a wl_shm_pool can hold.
func (i PoolInfo) SizeBytes() int {
	n := i.normalize()
	size := 1
	for _, f := range [...]int{n.Width, n.Height, bytesPerPixel, n.Layers} {
		if f > maxPoolBytes/size {
			return -1
		}
		size *= f
	}
	return size
}

type poolOptions struct {
	hint        AnonHint
	fallbackDir string
}

// PoolOption configures NewBufferPool.
type PoolOption func(*poolOptions)

// WithAnonHint selects how the backing store is obtained.
func WithAnonHint(hint AnonHint) PoolOption {
	return func(o *poolOptions) {
		o.hint = hint
	}
}

// WithFallbackDir sets the directory used when the backing store is an
// unlinked file. It defaults to the working directory.
func WithFallbackDir(dir string) PoolOption {
	return func(o *poolOptions) {
		o.fallbackDir = dir
	}
}

// Replaced in tests to inject failures.
var (
	createAnonymous = CreateAnonymous
	mapRegion       = MapShared
)

// BufferPool is a fixed-capacity block of shared memory, known to the
// compositor, that PixelBuffers are carved from. It cannot grow: a buffer
// that does not fit one slot is rejected.
type BufferPool struct {
	display *Display
	info    PoolInfo
	file    *AnonymousFile
	region  *MappedRegion
	pool    *ShmPool
}

// NewBufferPool allocates, maps and shares a pool. On failure nothing is
// left allocated and the error wraps ErrPoolCreate.
func NewBufferPool(d *Display, info PoolInfo, opts ...PoolOption) (*BufferPool, error) {
	o := poolOptions{hint: HintMemfd}
	for _, opt := range opts {
		opt(&o)
	}

	p := &BufferPool{display: d, info: info.normalize()}
	fail := func(step string, err error) (*BufferPool, error) {
		logger.Printf("buffer pool: %s failed: %v", step, err)
		_ = p.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrPoolCreate, step, err)
	}

	shm := d.Globals().Shm
	if shm == nil {
		return fail("bind wl_shm", &CallError{Op: "bind wl_shm", Kind: KindCapabilityAbsent, Err: ErrCapabilityAbsent})
	}

	size := p.info.SizeBytes()
	if size < 0 {
		i := p.info
		return fail("size pool", &CallError{Op: "size pool", Kind: KindInvalidArgument, Err: fmt.Errorf("%dx%dx%d pool exceeds %d bytes", i.Width, i.Height, i.Layers, maxPoolBytes)})
	}

	dir := o.fallbackDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fail("resolve fallback directory", err)
		}
		dir = wd
	}

	file, err := createAnonymous(int64(size), dir, poolFilePrefix, o.hint)
	if err != nil {
		return fail("create backing store", err)
	}
	p.file = file

	region, err := mapRegion(file)
	if err != nil {
		return fail("map backing store", err)
	}
	p.region = region

	pool, err := shm.CreatePool(file.Fd(), int32(size))
	if err != nil {
		return fail("create wl_shm_pool", err)
	}
	p.pool = pool

	if err := d.Roundtrip(); err != nil {
		return fail("create wl_shm_pool", &CallError{Op: "create wl_shm_pool", Kind: classify(err), Err: err})
	}

	return p, nil
}

// MustBufferPool is like NewBufferPool but panics on failure.
func MustBufferPool(d *Display, info PoolInfo, opts ...PoolOption) *BufferPool {
	p, err := NewBufferPool(d, info, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Info returns the normalized pool geometry.
func (p *BufferPool) Info() PoolInfo {
	return p.info
}

// SizeBytes returns the length of the shared mapping.
func (p *BufferPool) SizeBytes() int {
	return p.info.SizeBytes()
}

// Memory returns the whole shared mapping.
func (p *BufferPool) Memory() []byte {
	return p.region.Bytes()
}

// Fits reports whether a width x height buffer fits in one slot.
func (p *BufferPool) Fits(width, height int) bool {
	return width >= 1 && height >= 1 && width <= p.info.Width && height <= p.info.Height
}

// slotOffset returns the byte offset of a layer.
func (p *BufferPool) slotOffset(index int) int {
	return index * p.info.Width * p.info.Height * bytesPerPixel
}

// Close destroys the protocol pool, unmaps the memory and releases the
// backing store, in that order. Buffers must be destroyed first.
func (p *BufferPool) Close() error {
	var errs []error
	if p.pool != nil {
		if err := p.pool.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy pool: %w", err))
		}
		p.pool = nil
	}
	if p.region.Mapped() {
		if err := p.region.Unmap(); err != nil {
			errs = append(errs, fmt.Errorf("failed to unmap pool: %w", err))
		}
	}
	p.region = nil
	if p.file != nil {
		if err := p.file.Release(); err != nil {
			errs = append(errs, fmt.Errorf("failed to release backing store: %w", err))
		}
		p.file = nil
	}
	return errors.Join(errs...)
}
