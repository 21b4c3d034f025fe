package wlwin

import (
	"deedles.dev/ximage/geom"
	"golang.org/x/sys/unix"
)

// Seat capability constants
const (
	SeatCapabilityPointer  = 1
	SeatCapabilityKeyboard = 2
	SeatCapabilityTouch    = 4
)

// Seat represents a wl_seat
type Seat struct {
	BaseProxy
	version      uint32
	capabilities uint32
	name         string
}

// NewSeat creates a new seat proxy
func NewSeat(ctx *Context) *Seat {
	return &Seat{
		BaseProxy: BaseProxy{
			context: ctx,
		},
	}
}

// Capabilities returns the seat capabilities
func (s *Seat) Capabilities() uint32 {
	return s.capabilities
}

// Has reports whether the seat has every capability in caps.
func (s *Seat) Has(caps uint32) bool {
	return s.capabilities&caps == caps
}

// Name returns the seat name
func (s *Seat) Name() string {
	return s.name
}

// Dispatch handles events for the seat
func (s *Seat) Dispatch(event *Event) {
	switch event.Opcode {
	case 0: // capabilities
		s.capabilities = event.Uint32()
	case 1: // name
		s.name = event.String()
	}
}

// GetPointer gets the pointer device. Events are delivered to listener
// tagged with owner.
func (s *Seat) GetPointer(owner WindowID, listener PointerListener) (*Pointer, error) {
	pointer := &Pointer{BaseProxy: BaseProxy{context: s.context}, seat: s, owner: owner, listener: listener}
	// get_pointer (opcode 0)
	if err := s.context.newObject(pointer, s, 0); err != nil {
		return nil, err
	}
	return pointer, nil
}

// GetKeyboard gets the keyboard device. Events are delivered to listener
// tagged with owner.
func (s *Seat) GetKeyboard(owner WindowID, listener KeyboardListener) (*Keyboard, error) {
	keyboard := &Keyboard{BaseProxy: BaseProxy{context: s.context}, seat: s, owner: owner, listener: listener}
	// get_keyboard (opcode 1)
	if err := s.context.newObject(keyboard, s, 1); err != nil {
		return nil, err
	}
	return keyboard, nil
}

// releaseDevice sends the release request of a device when the bound seat
// version has one, and forgets the device either way.
func (s *Seat) releaseDevice(p Proxy, opcode uint32) error {
	if s.version >= 3 {
		return s.context.destroy(p, opcode)
	}
	s.context.Unregister(p)
	p.SetID(0)
	return nil
}

// PointerListener receives wl_pointer events.
type PointerListener interface {
	HandlePointerEnter(owner WindowID, surface uint32, pos geom.Point[float64])
	HandlePointerLeave(owner WindowID, surface uint32)
	HandlePointerMotion(owner WindowID, pos geom.Point[float64])
	HandlePointerButton(owner WindowID, button, state uint32)
}

// Pointer represents a wl_pointer
type Pointer struct {
	BaseProxy
	seat     *Seat
	owner    WindowID
	listener PointerListener
}

// SetOwner rebinds the window the pointer reports to.
func (p *Pointer) SetOwner(owner WindowID) {
	p.owner = owner
}

// Owner returns the window the pointer reports to.
func (p *Pointer) Owner() WindowID {
	return p.owner
}

// Dispatch handles pointer events
func (p *Pointer) Dispatch(event *Event) {
	if p.listener == nil {
		return
	}
	switch event.Opcode {
	case 0: // enter
		_ = event.Uint32() // serial
		surface := event.Uint32()
		x, y := event.Fixed(), event.Fixed()
		p.listener.HandlePointerEnter(p.owner, surface, geom.Pt(x.Float64(), y.Float64()))
	case 1: // leave
		_ = event.Uint32() // serial
		p.listener.HandlePointerLeave(p.owner, event.Uint32())
	case 2: // motion
		_ = event.Uint32() // time
		x, y := event.Fixed(), event.Fixed()
		p.listener.HandlePointerMotion(p.owner, geom.Pt(x.Float64(), y.Float64()))
	case 3: // button
		_ = event.Uint32() // serial
		_ = event.Uint32() // time
		button := event.Uint32()
		state := event.Uint32()
		p.listener.HandlePointerButton(p.owner, button, state)
	}
}

// Release releases the pointer
func (p *Pointer) Release() error {
	return p.seat.releaseDevice(p, 1)
}

// KeyboardListener receives wl_keyboard events.
type KeyboardListener interface {
	HandleKeyboardEnter(owner WindowID, surface uint32)
	HandleKeyboardLeave(owner WindowID, surface uint32)
	HandleKeyboardKey(owner WindowID, key, state uint32)
}

// Keyboard represents a wl_keyboard
type Keyboard struct {
	BaseProxy
	seat     *Seat
	owner    WindowID
	listener KeyboardListener
}

// SetOwner rebinds the window the keyboard reports to.
func (k *Keyboard) SetOwner(owner WindowID) {
	k.owner = owner
}

// Owner returns the window the keyboard reports to.
func (k *Keyboard) Owner() WindowID {
	return k.owner
}

// Dispatch handles keyboard events
func (k *Keyboard) Dispatch(event *Event) {
	switch event.Opcode {
	case 0: // keymap
		// Keymaps are not interpreted; the descriptor must still be closed.
		if fd := event.Fd(); fd >= 0 {
			_ = unix.Close(fd)
		}
	case 1: // enter
		_ = event.Uint32() // serial
		if k.listener != nil {
			k.listener.HandleKeyboardEnter(k.owner, event.Uint32())
		}
	case 2: // leave
		_ = event.Uint32() // serial
		if k.listener != nil {
			k.listener.HandleKeyboardLeave(k.owner, event.Uint32())
		}
	case 3: // key
		_ = event.Uint32() // serial
		_ = event.Uint32() // time
		key := event.Uint32()
		state := event.Uint32()
		if k.listener != nil {
			k.listener.HandleKeyboardKey(k.owner, key, state)
		}
	}
}

// Release releases the keyboard
func (k *Keyboard) Release() error {
	return k.seat.releaseDevice(k, 0)
}
