// Package wlwin is a pure-Go Wayland client shim. It negotiates a connection
// to a compositor, carves pixel buffers out of anonymous shared memory and
// presents them through xdg toplevel windows.
//
// All calls on a Display and the objects created from it must come from the
// goroutine that dispatches its events.
package wlwin

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
)

// Pre-allocated buffer pool for performance
var bufferPool = sync.Pool{
	New: func() interface{} {
		return &bytes.Buffer{}
	},
}

// Fixed represents a 24.8 fixed-point number
type Fixed int32

// Float64 converts Fixed to float64
func (f Fixed) Float64() float64 {
	return float64(f) / 256.0
}

// NewFixed creates a Fixed from float64
func NewFixed(v float64) Fixed {
	return Fixed(v * 256.0)
}

// FD is a file descriptor request argument. It occupies no space in the
// message body and travels as SCM_RIGHTS ancillary data.
type FD int

// Object represents a Wayland object
type Object interface {
	ID() uint32
}

const displayID = 1

// Display represents a connection to the Wayland display
type Display struct {
	t       transport
	objects map[uint32]Proxy
	nextID  uint32
	sendMu  sync.Mutex

	dispatcher *EventDispatcher
	fds        fdQueue

	registry *Registry
	context  *Context
	globals  Globals

	lastError error

	// Reusable read buffer for header
	headerBuf [8]byte
}

// Connect connects to the Wayland display, enumerates the advertised globals
// and binds the ones this package uses.
func Connect(socketPath string) (*Display, error) {
	if socketPath == "" {
		socketPath = os.Getenv("WAYLAND_DISPLAY")
		if socketPath == "" {
			socketPath = "wayland-0"
		}
	}

	if !filepath.IsAbs(socketPath) {
		runDir := os.Getenv("XDG_RUNTIME_DIR")
		if runDir == "" {
			return nil, errors.New("XDG_RUNTIME_DIR not set")
		}
		socketPath = filepath.Join(runDir, socketPath)
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Wayland: %w", err)
	}

	d := newDisplay(&unixTransport{conn: conn.(*net.UnixConn)})
	if err := d.init(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func newDisplay(t transport) *Display {
	d := &Display{
		t:          t,
		objects:    make(map[uint32]Proxy),
		nextID:     2, // 1 is reserved for wl_display
		dispatcher: NewEventDispatcher(),
	}
	d.context = NewContext(d)
	d.registry = &Registry{
		BaseProxy: BaseProxy{context: d.context},
		globals:   make(map[uint32]Global),
	}
	return d
}

// init fetches the registry, waits for the initial burst of globals, binds
// them and waits again so that bound globals have sent their initial state.
func (d *Display) init() error {
	if err := d.context.newObject(d.registry, d, 1); err != nil {
		return fmt.Errorf("failed to get registry: %w", err)
	}
	if err := d.Roundtrip(); err != nil {
		return fmt.Errorf("failed to retrieve globals: %w", err)
	}
	if err := d.bindGlobals(); err != nil {
		return err
	}
	if err := d.Roundtrip(); err != nil {
		return fmt.Errorf("failed to initialize globals: %w", err)
	}
	return nil
}

// Close closes the display connection
func (d *Display) Close() error {
	d.fds.closeAll()
	return d.t.Close()
}

// ID returns the display's object ID (always 1)
func (d *Display) ID() uint32 {
	return displayID
}

// Context returns the proxy context of this display.
func (d *Display) Context() *Context {
	return d.context
}

// Registry returns the global registry
func (d *Display) Registry() *Registry {
	return d.registry
}

// Globals returns the capability table built from the advertised globals.
func (d *Display) Globals() Globals {
	g := d.globals
	g.Outputs = d.registry.FindGlobals("wl_output")
	return g
}

// LastError returns the last protocol error received, if any.
func (d *Display) LastError() error {
	return d.lastError
}

// allocateID allocates a new object ID
func (d *Display) allocateID() uint32 {
	return atomic.AddUint32(&d.nextID, 1) - 1
}

// AllocateID allocates a new object ID (public method)
func (d *Display) AllocateID() uint32 {
	return d.allocateID()
}

// SendRequest sends a request to the compositor. FD arguments are sent as
// ancillary data.
func (d *Display) SendRequest(objectID uint32, opcode uint16, args ...interface{}) error {
	buf := bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufferPool.Put(buf)
	}()

	// Write header placeholder
	var header [8]byte
	_, _ = buf.Write(header[:])

	var fds []int
	for _, arg := range args {
		if fd, ok := arg.(FD); ok {
			fds = append(fds, int(fd))
			continue
		}
		if err := d.marshalArg(buf, arg); err != nil {
			return fmt.Errorf("failed to marshal argument: %w", err)
		}
	}

	bufLen := buf.Len()
	if bufLen > 0xFFFF {
		return fmt.Errorf("message too large: %d bytes", bufLen)
	}
	size := uint32(bufLen)

	// Upper 16 bits = size, lower 16 bits = opcode
	data := buf.Bytes()
	binary.LittleEndian.PutUint32(data[0:4], objectID)
	binary.LittleEndian.PutUint32(data[4:8], (size<<16)|uint32(opcode))

	return d.sendmsgWithFDs(data, fds)
}

// marshalArg marshals a single argument
func (d *Display) marshalArg(buf *bytes.Buffer, arg interface{}) error {
	switch v := arg.(type) {
	case uint32:
		return binary.Write(buf, binary.LittleEndian, v)
	case int32:
		return binary.Write(buf, binary.LittleEndian, v)
	case Fixed:
		return binary.Write(buf, binary.LittleEndian, int32(v))
	case FD:
		// Sent out of band.
		return nil
	case string:
		// String format: length (including null) + string + null + padding
		strlen := len(v) + 1
		if err := binary.Write(buf, binary.LittleEndian, uint32(strlen)); err != nil {
			return err
		}
		_, _ = buf.WriteString(v)
		_ = buf.WriteByte(0)
		padding := (4 - (strlen % 4)) % 4
		for i := 0; i < padding; i++ {
			_ = buf.WriteByte(0)
		}
	case []byte:
		// Array format: length + data + padding
		arrlen := len(v)
		if err := binary.Write(buf, binary.LittleEndian, uint32(arrlen)); err != nil {
			return err
		}
		_, _ = buf.Write(v)
		padding := (4 - (arrlen % 4)) % 4
		for i := 0; i < padding; i++ {
			_ = buf.WriteByte(0)
		}
	case nil:
		// Null object
		return binary.Write(buf, binary.LittleEndian, uint32(0))
	case Object:
		return binary.Write(buf, binary.LittleEndian, v.ID())
	default:
		return fmt.Errorf("unsupported argument type: %T", arg)
	}
	return nil
}

// Dispatch reads one event and dispatches it. It blocks until an event is
// available.
func (d *Display) Dispatch() error {
	if err := d.readFull(d.headerBuf[:]); err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	objectID := binary.LittleEndian.Uint32(d.headerBuf[0:4])
	sizeOpcode := binary.LittleEndian.Uint32(d.headerBuf[4:8])
	// Upper 16 bits = size (includes header), lower 16 bits = opcode
	size := sizeOpcode >> 16
	opcode := uint16(sizeOpcode & 0xffff)
	if size < 8 {
		return fmt.Errorf("invalid message size %d", size)
	}

	// Handlers may run a nested roundtrip, so every body gets its own buffer.
	var body []byte
	if size > 8 {
		body = make([]byte, size-8)
		if err := d.readFull(body); err != nil {
			return fmt.Errorf("failed to read body: %w", err)
		}
	}

	if objectID == displayID {
		return d.handleDisplayEvent(opcode, body)
	}

	if proxy, ok := d.objects[objectID]; ok {
		proxy.Dispatch(&Event{
			ProxyID: objectID,
			Opcode:  opcode,
			data:    body,
			fds:     &d.fds,
		})
		return nil
	}

	if !d.dispatcher.Dispatch(objectID, opcode, body) {
		logger.Printf("event for unknown object %d (opcode %d)", objectID, opcode)
	}
	return nil
}

// handleDisplayEvent handles events on the display object
func (d *Display) handleDisplayEvent(opcode uint16, data []byte) error {
	ev := Event{ProxyID: displayID, Opcode: opcode, data: data, fds: &d.fds}
	switch opcode {
	case 0: // error
		if len(data) < 8 {
			return errors.New("invalid error event")
		}
		perr := &ProtocolError{ObjectID: ev.Uint32(), Code: ev.Uint32()}
		perr.Message = ev.String()
		d.lastError = perr
		return perr

	case 1: // delete_id
		if len(data) < 4 {
			return errors.New("invalid delete_id event")
		}
		id := ev.Uint32()
		delete(d.objects, id)
		d.dispatcher.Unregister(id)
	}

	return nil
}

// Roundtrip blocks until the compositor has processed every request sent so
// far and all resulting events have been dispatched.
func (d *Display) Roundtrip() error {
	if d.lastError != nil {
		return d.lastError
	}

	callbackID := d.allocateID()
	done := false
	d.dispatcher.RegisterHandler(callbackID, 0, func(*Event) {
		done = true
	})
	defer d.dispatcher.Unregister(callbackID)

	// wl_display.sync
	if err := d.SendRequest(displayID, 0, callbackID); err != nil {
		return err
	}

	for !done {
		if err := d.Dispatch(); err != nil {
			return err
		}
	}
	return nil
}

// bindGlobals binds the first advertised instance of every interface in the
// capability table.
func (d *Display) bindGlobals() error {
	globals := d.registry.GetGlobals()
	names := make([]uint32, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	g := &d.globals
	for _, name := range names {
		global := globals[name]
		var (
			proxy   Proxy
			version uint32
		)
		switch global.Interface {
		case "wl_compositor":
			if g.Compositor != nil {
				continue
			}
			g.Compositor = NewCompositor(d.context)
			proxy, version = g.Compositor, min(global.Version, 4)
			g.Compositor.version = version
		case "wl_shm":
			if g.Shm != nil {
				continue
			}
			g.Shm = NewShm(d.context)
			proxy, version = g.Shm, 1
		case "xdg_wm_base":
			if g.WmBase != nil {
				continue
			}
			g.WmBase = NewWmBase(d.context)
			proxy, version = g.WmBase, min(global.Version, 2)
		case "wl_seat":
			if g.Seat != nil {
				continue
			}
			g.Seat = NewSeat(d.context)
			proxy, version = g.Seat, min(global.Version, 5)
			g.Seat.version = version
		case "zxdg_decoration_manager_v1":
			if g.DecorationManager != nil {
				continue
			}
			g.DecorationManager = NewDecorationManager(d.context)
			proxy, version = g.DecorationManager, 1
		default:
			continue
		}

		if err := d.registry.Bind(name, global.Interface, version, proxy); err != nil {
			return fmt.Errorf("failed to bind %s: %w", global.Interface, err)
		}
	}
	return nil
}

// Globals is the table of compositor capabilities bound at connection time.
// Absent capabilities are nil.
type Globals struct {
	Compositor        *Compositor
	Shm               *Shm
	WmBase            *WmBase
	Seat              *Seat
	DecorationManager *DecorationManager
	// Outputs are the currently advertised wl_output globals. They are
	// bound only while EnumerateScreens runs.
	Outputs []Global
}

// Registry represents the global registry
type Registry struct {
	BaseProxy
	globals map[uint32]Global
	mu      sync.RWMutex
}

// Global represents a global object
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

// Dispatch handles global and global_remove.
func (r *Registry) Dispatch(event *Event) {
	switch event.Opcode {
	case 0: // global
		name := event.Uint32()
		iface := event.String()
		version := event.Uint32()

		r.mu.Lock()
		r.globals[name] = Global{Name: name, Interface: iface, Version: version}
		r.mu.Unlock()

	case 1: // global_remove
		name := event.Uint32()
		r.mu.Lock()
		delete(r.globals, name)
		r.mu.Unlock()
	}
}

// Bind binds to a global object
func (r *Registry) Bind(name uint32, iface string, version uint32, proxy Proxy) error {
	if proxy.ID() == 0 {
		proxy.SetID(r.context.AllocateID())
	}
	r.context.Register(proxy)

	// new_id without a fixed interface: interface, version, id
	if err := r.context.SendRequest(r, 0, name, iface, version, proxy.ID()); err != nil {
		r.context.Unregister(proxy)
		return err
	}
	return nil
}

// GetGlobals returns all announced globals
func (r *Registry) GetGlobals() map[uint32]Global {
	r.mu.RLock()
	defer r.mu.RUnlock()

	globals := make(map[uint32]Global, len(r.globals))
	for k, v := range r.globals {
		globals[k] = v
	}
	return globals
}

// FindGlobal finds a global by interface name
func (r *Registry) FindGlobal(iface string) (Global, bool) {
	found := r.FindGlobals(iface)
	if len(found) == 0 {
		return Global{}, false
	}
	return found[0], true
}

// FindGlobals returns every global of the given interface, ordered by name.
func (r *Registry) FindGlobals(iface string) []Global {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found []Global
	for _, global := range r.globals {
		if global.Interface == iface {
			found = append(found, global)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Name < found[j].Name })
	return found
}
