package wlwin

import (
	"deedles.dev/ximage/geom"
)

// Toplevel states carried by xdg_toplevel.configure.
const (
	ToplevelStateMaximized  = 1
	ToplevelStateFullscreen = 2
	ToplevelStateResizing   = 3
	ToplevelStateActivated  = 4
)

// WmBase represents an xdg_wm_base
type WmBase struct {
	BaseProxy
}

// NewWmBase creates a new xdg_wm_base proxy
func NewWmBase(ctx *Context) *WmBase {
	return &WmBase{BaseProxy: BaseProxy{context: ctx}}
}

// Dispatch answers pings so the compositor does not consider the client
// unresponsive.
func (w *WmBase) Dispatch(event *Event) {
	if event.Opcode == 0 { // ping
		serial := event.Uint32()
		if err := w.context.SendRequest(w, 3, serial); err != nil { // pong
			logger.Printf("failed to answer ping %d: %v", serial, err)
		}
	}
}

// GetXdgSurface assigns the xdg_surface role to surface. Events are
// delivered to listener tagged with owner.
func (w *WmBase) GetXdgSurface(surface *Surface, owner WindowID, listener XdgSurfaceListener) (*XdgSurface, error) {
	xs := &XdgSurface{BaseProxy: BaseProxy{context: w.context}, owner: owner, listener: listener}
	// get_xdg_surface (opcode 2)
	if err := w.context.newObject(xs, w, 2, surface); err != nil {
		return nil, err
	}
	return xs, nil
}

// XdgSurfaceListener receives xdg_surface events.
type XdgSurfaceListener interface {
	HandleXdgSurfaceConfigure(owner WindowID, serial uint32)
}

// XdgSurface represents an xdg_surface
type XdgSurface struct {
	BaseProxy
	owner    WindowID
	listener XdgSurfaceListener
}

// SetOwner rebinds the window the surface reports to.
func (x *XdgSurface) SetOwner(owner WindowID) {
	x.owner = owner
}

// Owner returns the window the surface reports to.
func (x *XdgSurface) Owner() WindowID {
	return x.owner
}

// Dispatch handles configure.
func (x *XdgSurface) Dispatch(event *Event) {
	if event.Opcode == 0 && x.listener != nil { // configure
		x.listener.HandleXdgSurfaceConfigure(x.owner, event.Uint32())
	}
}

// GetToplevel assigns the toplevel role.
func (x *XdgSurface) GetToplevel(listener ToplevelListener) (*Toplevel, error) {
	t := &Toplevel{BaseProxy: BaseProxy{context: x.context}, owner: x.owner, listener: listener}
	// get_toplevel (opcode 1)
	if err := x.context.newObject(t, x, 1); err != nil {
		return nil, err
	}
	return t, nil
}

// SetWindowGeometry sets the visible bounds of the window in surface
// coordinates.
func (x *XdgSurface) SetWindowGeometry(r geom.Rect[int]) error {
	rx, ry, rw, rh := rectArgs(r)
	return x.context.SendRequest(x, 3, rx, ry, rw, rh)
}

// AckConfigure acknowledges a configure sequence.
func (x *XdgSurface) AckConfigure(serial uint32) error {
	return x.context.SendRequest(x, 4, serial)
}

// Destroy destroys the xdg_surface
func (x *XdgSurface) Destroy() error {
	return x.context.destroy(x, 0)
}

// ToplevelConfigure is a pending toplevel configuration. A zero Size leaves
// the choice to the client.
type ToplevelConfigure struct {
	Size   geom.Point[int]
	States []uint32
}

// Has reports whether state is set.
func (c ToplevelConfigure) Has(state uint32) bool {
	for _, s := range c.States {
		if s == state {
			return true
		}
	}
	return false
}

// ToplevelListener receives xdg_toplevel events.
type ToplevelListener interface {
	HandleToplevelConfigure(owner WindowID, configure ToplevelConfigure)
	HandleToplevelClose(owner WindowID)
}

// Toplevel represents an xdg_toplevel
type Toplevel struct {
	BaseProxy
	owner    WindowID
	listener ToplevelListener
	bounds   geom.Point[int]
}

// SetOwner rebinds the window the toplevel reports to.
func (t *Toplevel) SetOwner(owner WindowID) {
	t.owner = owner
}

// Owner returns the window the toplevel reports to.
func (t *Toplevel) Owner() WindowID {
	return t.owner
}

// Bounds returns the last configure_bounds hint, or zero.
func (t *Toplevel) Bounds() geom.Point[int] {
	return t.bounds
}

// Dispatch handles configure, close and configure_bounds.
func (t *Toplevel) Dispatch(event *Event) {
	switch event.Opcode {
	case 0: // configure
		w := int(event.Int32())
		h := int(event.Int32())
		cfg := ToplevelConfigure{Size: geom.Pt(w, h), States: event.Uint32Array()}
		if t.listener != nil {
			t.listener.HandleToplevelConfigure(t.owner, cfg)
		}
	case 1: // close
		if t.listener != nil {
			t.listener.HandleToplevelClose(t.owner)
		}
	case 2: // configure_bounds
		w := int(event.Int32())
		h := int(event.Int32())
		t.bounds = geom.Pt(w, h)
	}
}

// SetTitle sets the window title
func (t *Toplevel) SetTitle(title string) error {
	return t.context.SendRequest(t, 2, title)
}

// SetAppID sets the application identifier
func (t *Toplevel) SetAppID(id string) error {
	return t.context.SendRequest(t, 3, id)
}

// SetMaxSize sets the maximum size. Zero means unlimited.
func (t *Toplevel) SetMaxSize(size geom.Point[int]) error {
	return t.context.SendRequest(t, 7, clampInt32(size.X), clampInt32(size.Y))
}

// SetMinimized asks the compositor to minimize the window.
func (t *Toplevel) SetMinimized() error {
	return t.context.SendRequest(t, 13)
}

// Destroy destroys the toplevel
func (t *Toplevel) Destroy() error {
	return t.context.destroy(t, 0)
}
