package wlwin

import (
	"errors"
	"fmt"
	"math"

	"deedles.dev/ximage/geom"
)

// WindowStyle selects how a window is framed.
type WindowStyle int

const (
	// StyleDefault lets the compositor decide, like StyleWindowed.
	StyleDefault WindowStyle = iota
	StyleWindowed
	// StyleBorderless never requests a decoration.
	StyleBorderless
)

func (s WindowStyle) String() string {
	switch s {
	case StyleWindowed:
		return "windowed"
	case StyleBorderless:
		return "borderless"
	default:
		return "default"
	}
}

// WindowInfo is the metadata a window is created from.
type WindowInfo struct {
	Title       string
	AppID       string
	Size        geom.Point[int]
	Coordinates geom.Point[int]
	Opacity     float64
	Style       WindowStyle
	// Buffers is the number of pixel buffers, and pool layers, of the window.
	Buffers int
	// PoolFromScreens sizes the pool after the summed screen extents so that
	// the window can later grow up to that size.
	PoolFromScreens bool
	AnonHint        AnonHint
	FallbackDir     string
}

// DefaultWindowInfo returns the info used for zero fields of a config.
func DefaultWindowInfo() WindowInfo {
	return WindowInfo{
		Title:   "wlwin window",
		Size:    geom.Pt(512, 512),
		Opacity: 1,
		Buffers: 1,
	}
}

func (i WindowInfo) normalize() WindowInfo {
	i.Size = geom.Pt(max(i.Size.X, 1), max(i.Size.Y, 1))
	i.Buffers = max(i.Buffers, 1)
	i.Opacity = clampOpacity(i.Opacity)
	return i
}

// WindowPhase is the lifecycle stage of a window.
type WindowPhase int

const (
	PhaseUninitialized WindowPhase = iota
	PhaseConfigured
	PhaseResizing
	PhaseClosing
	PhaseDestroyed
)

func (p WindowPhase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseConfigured:
		return "configured"
	case PhaseResizing:
		return "resizing"
	case PhaseClosing:
		return "closing"
	case PhaseDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("WindowPhase(%d)", int(p))
	}
}

// WindowState is what the compositor and the user told the window so far.
type WindowState struct {
	Closed    bool
	Activated bool
	Focused   bool
	Enabled   bool
	Hovered   bool
	Visible   bool
	Phase     WindowPhase
	// Serial is the last acknowledged configure serial.
	Serial uint32
}

// noCopy marks a struct that must not be copied after first use. go vet's
// copylocks check reports copies.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Components owns every object of one window. It lives in a WindowTable
// and is only ever moved field by field, never copied.
type Components struct {
	noCopy noCopy

	pool       *BufferPool
	buffers    []*PixelBuffer
	surface    *Surface
	xdgSurface *XdgSurface
	toplevel   *Toplevel
	deco       *Decoration
	pointer    *Pointer
	keyboard   *Keyboard

	info    WindowInfo
	state   WindowState
	pending ToplevelConfigure
}

// moveFrom takes every field of src and leaves it empty.
func (c *Components) moveFrom(src *Components) {
	c.pool, src.pool = src.pool, nil
	c.buffers, src.buffers = src.buffers, nil
	c.surface, src.surface = src.surface, nil
	c.xdgSurface, src.xdgSurface = src.xdgSurface, nil
	c.toplevel, src.toplevel = src.toplevel, nil
	c.deco, src.deco = src.deco, nil
	c.pointer, src.pointer = src.pointer, nil
	c.keyboard, src.keyboard = src.keyboard, nil
	c.info, src.info = src.info, WindowInfo{}
	c.state, src.state = src.state, WindowState{}
	c.pending, src.pending = src.pending, ToplevelConfigure{}
}

// swap exchanges every field with other.
func (c *Components) swap(other *Components) {
	c.pool, other.pool = other.pool, c.pool
	c.buffers, other.buffers = other.buffers, c.buffers
	c.surface, other.surface = other.surface, c.surface
	c.xdgSurface, other.xdgSurface = other.xdgSurface, c.xdgSurface
	c.toplevel, other.toplevel = other.toplevel, c.toplevel
	c.deco, other.deco = other.deco, c.deco
	c.pointer, other.pointer = other.pointer, c.pointer
	c.keyboard, other.keyboard = other.keyboard, c.keyboard
	c.info, other.info = other.info, c.info
	c.state, other.state = other.state, c.state
	c.pending, other.pending = other.pending, c.pending
}

// rebind points every notifying object at id.
func (c *Components) rebind(id WindowID) {
	if c.xdgSurface != nil {
		c.xdgSurface.SetOwner(id)
	}
	if c.toplevel != nil {
		c.toplevel.SetOwner(id)
	}
	if c.pointer != nil {
		c.pointer.SetOwner(id)
	}
	if c.keyboard != nil {
		c.keyboard.SetOwner(id)
	}
}

// teardown destroys everything in reverse construction order. It is safe
// on partially built components.
func (c *Components) teardown() error {
	var errs []error
	keep := func(what string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy %s: %w", what, err))
		}
	}

	if c.deco != nil {
		keep("decoration", c.deco.Destroy())
		c.deco = nil
	}
	if c.keyboard != nil {
		keep("keyboard", c.keyboard.Release())
		c.keyboard = nil
	}
	if c.pointer != nil {
		keep("pointer", c.pointer.Release())
		c.pointer = nil
	}
	if c.toplevel != nil {
		keep("toplevel", c.toplevel.Destroy())
		c.toplevel = nil
	}
	if c.xdgSurface != nil {
		keep("xdg surface", c.xdgSurface.Destroy())
		c.xdgSurface = nil
	}
	if c.surface != nil {
		keep("surface", c.surface.Destroy())
		c.surface = nil
	}
	for i := len(c.buffers) - 1; i >= 0; i-- {
		keep("buffer", c.buffers[i].Destroy())
	}
	c.buffers = nil
	if c.pool != nil {
		keep("pool", c.pool.Close())
		c.pool = nil
	}
	return errors.Join(errs...)
}

// front returns the buffer shown by the window.
func (c *Components) front() *PixelBuffer {
	return c.buffers[0]
}

func (c *Components) geometry() geom.Rect[int] {
	return geom.Rt(0, 0, c.info.Size.X, c.info.Size.Y)
}

// present attaches b, damages all of it and commits.
func (c *Components) present(b *PixelBuffer) error {
	if err := c.surface.Attach(b.Buffer(), 0, 0); err != nil {
		return fmt.Errorf("failed to attach buffer: %w", err)
	}
	if err := c.surface.DamageAll(b.Bounds()); err != nil {
		return fmt.Errorf("failed to damage buffer: %w", err)
	}
	if err := c.surface.Commit(); err != nil {
		return fmt.Errorf("failed to commit surface: %w", err)
	}
	return nil
}

// commitIfShown commits pending state once the window is mapped.
func (c *Components) commitIfShown() error {
	if c.state.Phase != PhaseConfigured || !c.state.Visible {
		return nil
	}
	return c.surface.Commit()
}

func clampOpacity(v float64) float64 {
	if math.IsNaN(v) {
		return 1
	}
	return min(max(v, 0), 1)
}

// applyOpacity stores v and writes it to the alpha byte of every pixel of
// every buffer. A fully opaque window also declares an opaque region.
func (c *Components) applyOpacity(compositor *Compositor, v float64) error {
	v = clampOpacity(v)
	c.info.Opacity = v

	alpha := byte(math.Round(v * 255))
	for _, b := range c.buffers {
		mem := b.Memory()
		for i := 3; i < len(mem); i += bytesPerPixel {
			mem[i] = alpha
		}
	}

	if compositor == nil || c.surface == nil {
		return nil
	}
	if alpha != 0xFF {
		return c.surface.SetOpaqueRegion(nil)
	}
	region, err := compositor.CreateRegion()
	if err != nil {
		return fmt.Errorf("failed to create opaque region: %w", err)
	}
	defer region.Destroy()
	if err := region.Add(c.geometry()); err != nil {
		return err
	}
	return c.surface.SetOpaqueRegion(region)
}

// Window is a handle to a window stored in a WindowTable. Handles are
// plain values; every method fails with ErrStaleWindow once the window was
// destroyed or moved elsewhere.
type Window struct {
	table *WindowTable
	id    WindowID
}

// ID returns the identity the window's protocol objects report to.
func (w Window) ID() WindowID {
	return w.id
}

// Valid reports whether the handle still designates a window.
func (w Window) Valid() bool {
	if w.table == nil {
		return false
	}
	_, ok := w.table.lookup(w.id)
	return ok
}

func (w Window) resolve() (*Components, error) {
	if w.table == nil {
		return nil, ErrStaleWindow
	}
	c, ok := w.table.lookup(w.id)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrStaleWindow, w.id)
	}
	return c, nil
}

// Info returns the current window metadata.
func (w Window) Info() (WindowInfo, error) {
	c, err := w.resolve()
	if err != nil {
		return WindowInfo{}, err
	}
	return c.info, nil
}

// State returns the current window state.
func (w Window) State() (WindowState, error) {
	c, err := w.resolve()
	if err != nil {
		return WindowState{}, err
	}
	return c.state, nil
}

// Buffers returns the pixel buffers, front buffer first. The slice is only
// valid until the next resize.
func (w Window) Buffers() ([]*PixelBuffer, error) {
	c, err := w.resolve()
	if err != nil {
		return nil, err
	}
	return c.buffers, nil
}

// Pool returns the pool the buffers are carved from.
func (w Window) Pool() (*BufferPool, error) {
	c, err := w.resolve()
	if err != nil {
		return nil, err
	}
	return c.pool, nil
}

// Decoration returns the window frame, or nil for borderless windows.
func (w Window) Decoration() (*Decoration, error) {
	c, err := w.resolve()
	if err != nil {
		return nil, err
	}
	return c.deco, nil
}

// Resize changes the size of every buffer. It fails with ErrPoolCapacity,
// leaving the window untouched, if the size does not fit the pool.
func (w Window) Resize(size geom.Point[int]) error {
	if _, err := w.resolve(); err != nil {
		return err
	}
	return w.table.resize(w.id, size)
}

// SetOpacity sets the alpha of every pixel to v, clamped to [0, 1].
func (w Window) SetOpacity(v float64) error {
	c, err := w.resolve()
	if err != nil {
		return err
	}
	if err := c.applyOpacity(w.table.display.Globals().Compositor, v); err != nil {
		return err
	}
	if c.state.Phase != PhaseConfigured || !c.state.Visible {
		return nil
	}
	return c.present(c.front())
}

// Move records new coordinates. Toplevels cannot place themselves, so
// nothing is sent to the compositor.
func (w Window) Move(pos geom.Point[int]) error {
	c, err := w.resolve()
	if err != nil {
		return err
	}
	c.info.Coordinates = pos
	return nil
}

// Rename sets the window title.
func (w Window) Rename(title string) error {
	c, err := w.resolve()
	if err != nil {
		return err
	}
	if err := c.toplevel.SetTitle(title); err != nil {
		return err
	}
	c.info.Title = title
	return c.commitIfShown()
}

// Show maps a hidden window again. Like a new toplevel, it commits without
// a buffer and waits for the configure that maps it.
func (w Window) Show() error {
	c, err := w.resolve()
	if err != nil {
		return err
	}
	if c.state.Visible {
		return nil
	}
	c.state.Visible = true
	if c.state.Phase == PhaseConfigured {
		return c.present(c.front())
	}
	if err := c.surface.Commit(); err != nil {
		return err
	}
	if err := w.table.display.Roundtrip(); err != nil {
		return err
	}
	_, err = w.resolve()
	return err
}

// Hide unmaps the window by attaching no buffer. The compositor forgets
// the configuration of an unmapped toplevel.
func (w Window) Hide() error {
	c, err := w.resolve()
	if err != nil {
		return err
	}
	if !c.state.Visible {
		return nil
	}
	c.state.Visible = false
	if c.state.Phase == PhaseConfigured {
		c.state.Phase = PhaseUninitialized
	}
	if err := c.surface.Attach(nil, 0, 0); err != nil {
		return err
	}
	return c.surface.Commit()
}

// Frame requests done to be called when the compositor is ready for a new
// frame. The request takes effect with the next presentation.
func (w Window) Frame(done func(time uint32)) error {
	c, err := w.resolve()
	if err != nil {
		return err
	}
	_, err = c.surface.Frame(done)
	return err
}

// Minimize asks the compositor to minimize the window.
func (w Window) Minimize() error {
	c, err := w.resolve()
	if err != nil {
		return err
	}
	return c.toplevel.SetMinimized()
}

// Enable toggles input delivery to the window handlers.
func (w Window) Enable(enabled bool) error {
	c, err := w.resolve()
	if err != nil {
		return err
	}
	c.state.Enabled = enabled
	return nil
}

// Present shows buffer index.
func (w Window) Present(index int) error {
	c, err := w.resolve()
	if err != nil {
		return err
	}
	if index < 0 || index >= len(c.buffers) {
		return &CallError{Op: "present", Kind: KindInvalidArgument, Err: fmt.Errorf("no buffer %d", index)}
	}
	if !c.state.Visible || c.state.Phase != PhaseConfigured {
		return nil
	}
	return c.present(c.buffers[index])
}

// Close destroys the window. The handle becomes stale.
func (w Window) Close() error {
	if w.table == nil {
		return ErrStaleWindow
	}
	return w.table.Destroy(w)
}
