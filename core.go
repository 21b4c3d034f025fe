package wlwin

import (
	"encoding/binary"
	"errors"
	"math"
	"sync/atomic"

	"deedles.dev/ximage/geom"
)

// Context ties protocol objects to the display they were created on.
type Context struct {
	display *Display
	closed  atomic.Bool
}

// Proxy interface for Wayland protocol objects
type Proxy interface {
	Object
	SetID(uint32)
	Context() *Context
	Dispatch(*Event)
}

// BaseProxy provides base implementation for protocol objects
type BaseProxy struct {
	id      uint32
	context *Context
}

// Event represents a Wayland protocol event
type Event struct {
	ProxyID uint32
	Opcode  uint16
	data    []byte
	offset  int
	fds     *fdQueue
}

// Data returns the raw event data
func (e *Event) Data() []byte {
	return e.data
}

// Offset returns the current read offset
func (e *Event) Offset() int {
	return e.offset
}

// NewContext creates a new context from a display
func NewContext(display *Display) *Context {
	return &Context{
		display: display,
	}
}

// Display returns the display the context belongs to.
func (c *Context) Display() *Display {
	return c.display
}

// SendRequest sends a request through the context
func (c *Context) SendRequest(proxy Proxy, opcode uint32, args ...interface{}) error {
	if c.closed.Load() {
		return errors.New("context is closed")
	}
	if proxy.ID() == 0 {
		return ErrObjectDestroyed
	}
	return c.display.SendRequest(proxy.ID(), uint16(opcode), args...)
}

// newObject allocates an ID for p, registers it and sends the request that
// creates it on parent. The new ID is the first request argument.
func (c *Context) newObject(p Proxy, parent Object, opcode uint16, args ...interface{}) error {
	if c.closed.Load() {
		return errors.New("context is closed")
	}
	if parent.ID() == 0 {
		return ErrObjectDestroyed
	}

	p.SetID(c.AllocateID())
	c.Register(p)

	full := make([]interface{}, 0, len(args)+1)
	full = append(full, p.ID())
	full = append(full, args...)
	if err := c.display.SendRequest(parent.ID(), opcode, full...); err != nil {
		c.Unregister(p)
		p.SetID(0)
		return err
	}
	return nil
}

// destroy sends a destructor request and forgets the proxy. Later requests
// on it fail with ErrObjectDestroyed.
func (c *Context) destroy(p Proxy, opcode uint32) error {
	if p.ID() == 0 {
		return nil
	}
	err := c.SendRequest(p, opcode)
	c.Unregister(p)
	p.SetID(0)
	return err
}

// Register registers a proxy object
func (c *Context) Register(proxy Proxy) {
	if proxy != nil && proxy.ID() != 0 {
		c.display.objects[proxy.ID()] = proxy
	}
}

// Unregister removes a proxy object
func (c *Context) Unregister(proxy Proxy) {
	if proxy != nil {
		c.UnregisterID(proxy.ID())
	}
}

// UnregisterID removes a proxy object by ID
func (c *Context) UnregisterID(id uint32) {
	delete(c.display.objects, id)
}

// AllocateID allocates a new object ID
func (c *Context) AllocateID() uint32 {
	return c.display.AllocateID()
}

// Close closes the context
func (c *Context) Close() error {
	c.closed.Store(true)
	return c.display.Close()
}

// BaseProxy methods

// ID returns the proxy's object ID
func (p *BaseProxy) ID() uint32 {
	return p.id
}

// SetID sets the proxy's object ID
func (p *BaseProxy) SetID(id uint32) {
	p.id = id
}

// Context returns the proxy's context
func (p *BaseProxy) Context() *Context {
	return p.context
}

// Dispatch default implementation (does nothing)
func (p *BaseProxy) Dispatch(event *Event) {}

// Event methods for extracting data

// Uint32 reads a uint32 from the event
func (e *Event) Uint32() uint32 {
	if e.offset+4 > len(e.data) {
		return 0
	}
	val := binary.LittleEndian.Uint32(e.data[e.offset:])
	e.offset += 4
	return val
}

// Int32 reads an int32 from the event
func (e *Event) Int32() int32 {
	return int32(e.Uint32())
}

// Fixed reads a fixed-point value from the event
func (e *Event) Fixed() Fixed {
	return Fixed(e.Int32())
}

// String reads a string from the event
func (e *Event) String() string {
	if e.offset+4 > len(e.data) {
		return ""
	}
	strlen := e.Uint32()
	if strlen == 0 || e.offset+int(strlen) > len(e.data) {
		return ""
	}
	// String includes null terminator in length
	str := string(e.data[e.offset : e.offset+int(strlen)-1])
	// Advance offset including padding
	padding := (4 - (strlen % 4)) % 4
	e.offset += int(strlen + padding)
	return str
}

// Array reads a byte array from the event
func (e *Event) Array() []byte {
	if e.offset+4 > len(e.data) {
		return nil
	}
	arrlen := e.Uint32()
	if arrlen == 0 || e.offset+int(arrlen) > len(e.data) {
		return nil
	}
	arr := make([]byte, arrlen)
	copy(arr, e.data[e.offset:e.offset+int(arrlen)])
	// Advance offset including padding
	padding := (4 - (arrlen % 4)) % 4
	e.offset += int(arrlen + padding)
	return arr
}

// Uint32Array reads an array argument as 32-bit words.
func (e *Event) Uint32Array() []uint32 {
	raw := e.Array()
	words := make([]uint32, 0, len(raw)/4)
	for i := 0; i+4 <= len(raw); i += 4 {
		words = append(words, binary.LittleEndian.Uint32(raw[i:]))
	}
	return words
}

// Fd claims the next file descriptor received with the event, or -1 when
// none arrived. The caller owns the descriptor.
func (e *Event) Fd() int {
	if e.fds == nil {
		return -1
	}
	fd, _ := e.fds.pop()
	return fd
}

// Callback represents a wl_callback
type Callback struct {
	BaseProxy
	done func(data uint32)
}

// Dispatch handles the done event. The compositor destroys the callback
// right after sending it.
func (c *Callback) Dispatch(event *Event) {
	if event.Opcode != 0 {
		return
	}
	data := event.Uint32()
	c.context.Unregister(c)
	c.SetID(0)
	if c.done != nil {
		c.done(data)
	}
}

// Compositor represents a wl_compositor
type Compositor struct {
	BaseProxy
	version uint32
}

// NewCompositor creates a new compositor proxy
func NewCompositor(ctx *Context) *Compositor {
	return &Compositor{
		BaseProxy: BaseProxy{
			context: ctx,
		},
	}
}

// CreateSurface creates a new surface
func (c *Compositor) CreateSurface() (*Surface, error) {
	surface := &Surface{BaseProxy: BaseProxy{context: c.context}, version: c.version}
	// create_surface (opcode 0)
	if err := c.context.newObject(surface, c, 0); err != nil {
		return nil, err
	}
	return surface, nil
}

// CreateRegion creates a new region
func (c *Compositor) CreateRegion() (*Region, error) {
	region := &Region{BaseProxy: BaseProxy{context: c.context}}
	// create_region (opcode 1)
	if err := c.context.newObject(region, c, 1); err != nil {
		return nil, err
	}
	return region, nil
}

// Surface represents a wl_surface
type Surface struct {
	BaseProxy
	version uint32
}

// Version returns the protocol version the surface was created with.
func (s *Surface) Version() uint32 {
	return s.version
}

// Destroy destroys the surface
func (s *Surface) Destroy() error {
	return s.context.destroy(s, 0)
}

// Attach attaches a buffer to the surface. A nil buffer unmaps the surface
// on the next commit.
func (s *Surface) Attach(buffer *Buffer, x, y int32) error {
	if buffer == nil {
		return s.context.SendRequest(s, 1, nil, x, y)
	}
	if err := s.context.SendRequest(s, 1, buffer, x, y); err != nil {
		return err
	}
	buffer.busy = true
	return nil
}

// Damage marks a region of the surface as damaged, in surface
// coordinates.
func (s *Surface) Damage(r geom.Rect[int]) error {
	x, y, w, h := rectArgs(r)
	return s.context.SendRequest(s, 2, x, y, w, h)
}

// Frame requests a frame callback
func (s *Surface) Frame(done func(time uint32)) (*Callback, error) {
	callback := &Callback{BaseProxy: BaseProxy{context: s.context}, done: done}
	// frame (opcode 3)
	if err := s.context.newObject(callback, s, 3); err != nil {
		return nil, err
	}
	return callback, nil
}

// SetOpaqueRegion sets the opaque region. A nil region clears it.
func (s *Surface) SetOpaqueRegion(region *Region) error {
	if region == nil {
		return s.context.SendRequest(s, 4, nil)
	}
	return s.context.SendRequest(s, 4, region)
}

// Commit commits pending surface state
func (s *Surface) Commit() error {
	return s.context.SendRequest(s, 6) // opcode 6
}

// DamageBuffer marks a region of the buffer as damaged. It needs
// wl_surface version 4.
func (s *Surface) DamageBuffer(r geom.Rect[int]) error {
	if s.version < surfaceDamageBufferVersion {
		return &CallError{Op: "damage_buffer", Kind: KindCapabilityAbsent, Err: ErrCapabilityAbsent}
	}
	x, y, w, h := rectArgs(r)
	return s.context.SendRequest(s, 9, x, y, w, h)
}

// DamageAll damages the whole of r, in buffer coordinates when the
// surface supports it and in surface coordinates otherwise.
func (s *Surface) DamageAll(r geom.Rect[int]) error {
	if s.version >= surfaceDamageBufferVersion {
		return s.DamageBuffer(r)
	}
	return s.Damage(r)
}

// surfaceDamageBufferVersion is the first wl_surface version with
// damage_buffer.
const surfaceDamageBufferVersion = 4

// clampInt32 saturates v to the int32 range of the wire format.
func clampInt32(v int) int32 {
	return int32(min(max(v, math.MinInt32), math.MaxInt32))
}

func rectArgs(r geom.Rect[int]) (x, y, w, h int32) {
	return clampInt32(r.Min.X), clampInt32(r.Min.Y), clampInt32(r.Dx()), clampInt32(r.Dy())
}

// Region represents a wl_region
type Region struct {
	BaseProxy
}

// Add adds a rectangle to the region
func (r *Region) Add(rect geom.Rect[int]) error {
	x, y, w, h := rectArgs(rect)
	return r.context.SendRequest(r, 1, x, y, w, h)
}

// Destroy destroys the region
func (r *Region) Destroy() error {
	return r.context.destroy(r, 0)
}
