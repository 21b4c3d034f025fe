package wlwin

import (
	"fmt"

	"deedles.dev/ximage/geom"
)

// WindowID identifies a window in a WindowTable. An ID outlives the window
// it named: once the window is destroyed or moved, the ID is stale and
// never designates another window.
type WindowID struct {
	index uint32
	gen   uint32
}

// IsZero reports whether id was never issued.
func (id WindowID) IsZero() bool {
	return id.gen == 0
}

func (id WindowID) String() string {
	return fmt.Sprintf("window %d.%d", id.index, id.gen)
}

type tableEntry struct {
	gen  uint32
	slot int // index into slots, -1 when free
}

type windowSlot struct {
	entry uint32
	live  bool
	c     Components
}

// WindowHandlers receive window events. Handlers may destroy windows but
// must not create, move or compact them.
type WindowHandlers struct {
	Configure func(w Window, size geom.Point[int])
	Close     func(w Window)
	Motion    func(w Window, pos geom.Point[float64])
	Button    func(w Window, button, state uint32)
	Key       func(w Window, key, state uint32)
}

// WindowTable stores the windows of a display. Protocol objects that emit
// events hold the WindowID of their window; the table resolves it to the
// current storage, so windows can be moved, swapped and relocated without
// dangling references.
type WindowTable struct {
	display  *Display
	entries  []tableEntry
	free     []uint32
	slots    []windowSlot
	handlers WindowHandlers
}

// NewWindowTable creates an empty table for windows of d.
func NewWindowTable(d *Display) *WindowTable {
	return &WindowTable{display: d}
}

// SetHandlers replaces the event handlers.
func (t *WindowTable) SetHandlers(h WindowHandlers) {
	t.handlers = h
}

// Len returns the number of live windows.
func (t *WindowTable) Len() int {
	n := 0
	for i := range t.slots {
		if t.slots[i].live {
			n++
		}
	}
	return n
}

// Windows returns handles to every live window in storage order.
func (t *WindowTable) Windows() []Window {
	var ws []Window
	for i := range t.slots {
		s := &t.slots[i]
		if s.live {
			ws = append(ws, Window{table: t, id: WindowID{index: s.entry, gen: t.entries[s.entry].gen}})
		}
	}
	return ws
}

// reserve issues a new ID backed by an empty, not yet live slot.
func (t *WindowTable) reserve() WindowID {
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.entries))
		t.entries = append(t.entries, tableEntry{gen: 1, slot: -1})
	}
	t.slots = append(t.slots, windowSlot{entry: idx})
	t.entries[idx].slot = len(t.slots) - 1
	return WindowID{index: idx, gen: t.entries[idx].gen}
}

// release invalidates id and frees its slot. The slot stays as a hole
// until Compact.
func (t *WindowTable) release(id WindowID) {
	e := &t.entries[id.index]
	if e.slot >= 0 {
		s := &t.slots[e.slot]
		s.live = false
		s.c.moveFrom(&Components{})
	}
	e.slot = -1
	e.gen++
	t.free = append(t.free, id.index)
}

func (t *WindowTable) slotOf(id WindowID) (*windowSlot, bool) {
	if id.gen == 0 || int(id.index) >= len(t.entries) {
		return nil, false
	}
	e := t.entries[id.index]
	if e.gen != id.gen || e.slot < 0 {
		return nil, false
	}
	return &t.slots[e.slot], true
}

// lookup resolves a live window.
func (t *WindowTable) lookup(id WindowID) (*Components, bool) {
	s, ok := t.slotOf(id)
	if !ok || !s.live {
		return nil, false
	}
	return &s.c, true
}

// Create builds a window and waits until the compositor has configured
// it. On failure everything built so far is destroyed and the error wraps
// ErrWindowCreate.
func (t *WindowTable) Create(info WindowInfo) (Window, error) {
	info = info.normalize()
	id := t.reserve()

	fail := func(step string, err error) (Window, error) {
		logger.Printf("window: %s failed: %v", step, err)
		return Window{}, fmt.Errorf("%w: %s: %w", ErrWindowCreate, step, err)
	}

	var c Components
	if err := t.build(&c, id, info); err != nil {
		if terr := c.teardown(); terr != nil {
			logger.Printf("window: teardown after failed construction: %v", terr)
		}
		t.release(id)
		return fail("build", err)
	}

	s, _ := t.slotOf(id)
	s.c.moveFrom(&c)
	s.live = true

	// The initial commit carries no buffer; the compositor answers with
	// the first configure, which maps the window.
	err := s.c.surface.Commit()
	if err == nil {
		err = t.display.Roundtrip()
	}
	if err == nil {
		if cur, ok := t.lookup(id); !ok || cur.state.Phase != PhaseConfigured {
			err = fmt.Errorf("window was not configured")
		}
	}
	if err != nil {
		t.discard(id)
		return fail("initial configure", err)
	}

	return Window{table: t, id: id}, nil
}

// MustCreate is like Create but panics on failure.
func (t *WindowTable) MustCreate(info WindowInfo) Window {
	w, err := t.Create(info)
	if err != nil {
		panic(err)
	}
	return w
}

// build creates every object of a window in construction order.
func (t *WindowTable) build(c *Components, id WindowID, info WindowInfo) error {
	g := t.display.Globals()
	if g.Compositor == nil {
		return &CallError{Op: "bind wl_compositor", Kind: KindCapabilityAbsent, Err: ErrCapabilityAbsent}
	}
	if g.WmBase == nil {
		return &CallError{Op: "bind xdg_wm_base", Kind: KindCapabilityAbsent, Err: ErrCapabilityAbsent}
	}

	c.info = info
	c.state = WindowState{Enabled: true, Visible: true, Phase: PhaseUninitialized}

	poolSize := info.Size
	if info.PoolFromScreens {
		screens, err := EnumerateScreens(t.display)
		if err != nil {
			return err
		}
		extent := screensExtent(screens)
		poolSize = geom.Pt(max(poolSize.X, extent.X), max(poolSize.Y, extent.Y))
	}

	var opts []PoolOption
	opts = append(opts, WithAnonHint(info.AnonHint))
	if info.FallbackDir != "" {
		opts = append(opts, WithFallbackDir(info.FallbackDir))
	}
	pool, err := NewBufferPool(t.display, PoolInfo{Width: poolSize.X, Height: poolSize.Y, Layers: info.Buffers}, opts...)
	if err != nil {
		return err
	}
	c.pool = pool

	for i := 0; i < info.Buffers; i++ {
		b, err := NewPixelBuffer(pool, BufferInfo{Index: i, Width: info.Size.X, Height: info.Size.Y})
		if err != nil {
			return err
		}
		c.buffers = append(c.buffers, b)
	}

	if c.surface, err = g.Compositor.CreateSurface(); err != nil {
		return fmt.Errorf("failed to create surface: %w", err)
	}
	if c.xdgSurface, err = g.WmBase.GetXdgSurface(c.surface, id, t); err != nil {
		return fmt.Errorf("failed to create xdg surface: %w", err)
	}
	if c.toplevel, err = c.xdgSurface.GetToplevel(t); err != nil {
		return fmt.Errorf("failed to create toplevel: %w", err)
	}

	if info.Style != StyleBorderless {
		if c.deco, err = newDecoration(g.DecorationManager, c.toplevel); err != nil {
			return fmt.Errorf("failed to create decoration: %w", err)
		}
	}

	if seat := g.Seat; seat != nil {
		if seat.Has(SeatCapabilityPointer) {
			if c.pointer, err = seat.GetPointer(id, t); err != nil {
				return fmt.Errorf("failed to get pointer: %w", err)
			}
		}
		if seat.Has(SeatCapabilityKeyboard) {
			if c.keyboard, err = seat.GetKeyboard(id, t); err != nil {
				return fmt.Errorf("failed to get keyboard: %w", err)
			}
		}
	}

	if err := c.toplevel.SetTitle(info.Title); err != nil {
		return err
	}
	if info.AppID != "" {
		if err := c.toplevel.SetAppID(info.AppID); err != nil {
			return err
		}
	}
	pi := pool.Info()
	if err := c.toplevel.SetMaxSize(geom.Pt(pi.Width, pi.Height)); err != nil {
		return err
	}
	if err := c.xdgSurface.SetWindowGeometry(c.geometry()); err != nil {
		return err
	}
	return c.applyOpacity(g.Compositor, info.Opacity)
}

// resize re-carves every buffer of window id at its index with the new
// size. A size that does not fit the pool is rejected before anything is
// touched. The replacements are confirmed by a single roundtrip, after
// which the window is resolved again: a handler run by that roundtrip may
// have destroyed it.
func (t *WindowTable) resize(id WindowID, size geom.Point[int]) error {
	c, ok := t.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %v", ErrStaleWindow, id)
	}
	if size == c.info.Size {
		return nil
	}
	if !c.pool.Fits(size.X, size.Y) {
		pi := c.pool.Info()
		return fmt.Errorf("%w: %dx%d does not fit %dx%d", ErrPoolCapacity, size.X, size.Y, pi.Width, pi.Height)
	}

	prev := c.state.Phase
	c.state.Phase = PhaseResizing

	replacements := make([]*PixelBuffer, 0, len(c.buffers))
	discard := func() {
		for _, r := range replacements {
			_ = r.Destroy()
		}
	}

	var err error
	for i := range c.buffers {
		var b *PixelBuffer
		if b, err = newPixelBuffer(c.pool, BufferInfo{Index: i, Width: size.X, Height: size.Y}); err != nil {
			break
		}
		replacements = append(replacements, b)
	}
	if err == nil {
		if rerr := t.display.Roundtrip(); rerr != nil {
			err = fmt.Errorf("%w: %w", ErrBufferCreate, callError("create wl_buffer", rerr))
		}
	}

	if c, ok = t.lookup(id); !ok {
		discard()
		return fmt.Errorf("%w: %v destroyed during resize", ErrStaleWindow, id)
	}
	if c.state.Phase == PhaseResizing {
		c.state.Phase = prev
	}
	if err != nil {
		discard()
		return err
	}

	for _, old := range c.buffers {
		if err := old.Destroy(); err != nil {
			logger.Printf("failed to destroy replaced buffer: %v", err)
		}
	}
	c.buffers = replacements
	c.info.Size = size

	for _, b := range c.buffers {
		b.Clear()
	}
	if err := c.applyOpacity(t.display.Globals().Compositor, c.info.Opacity); err != nil {
		return err
	}
	if err := c.xdgSurface.SetWindowGeometry(c.geometry()); err != nil {
		return fmt.Errorf("failed to set window geometry: %w", err)
	}
	if c.state.Phase != PhaseConfigured || !c.state.Visible {
		return nil
	}
	return c.present(c.front())
}

// discard tears a live window down and frees its ID.
func (t *WindowTable) discard(id WindowID) error {
	s, ok := t.slotOf(id)
	if !ok {
		return fmt.Errorf("%w: %v", ErrStaleWindow, id)
	}
	s.c.state.Phase = PhaseClosing
	err := s.c.teardown()
	s.c.state.Phase = PhaseDestroyed
	t.release(id)
	return err
}

// Destroy destroys the window w designates.
func (t *WindowTable) Destroy(w Window) error {
	if _, ok := t.lookup(w.id); !ok {
		return fmt.Errorf("%w: %v", ErrStaleWindow, w.id)
	}
	return t.discard(w.id)
}

// Take moves the window src designates to a new ID and returns it. src
// becomes stale; events of the moved objects reach the new ID.
func (t *WindowTable) Take(src Window) (Window, error) {
	if _, ok := t.lookup(src.id); !ok {
		return Window{}, fmt.Errorf("%w: %v", ErrStaleWindow, src.id)
	}

	// reserve may grow the slot storage, so resolve afterwards.
	dst := t.reserve()
	from, _ := t.lookup(src.id)
	to, _ := t.slotOf(dst)

	to.c.moveFrom(from)
	to.live = true
	t.release(src.id)
	to.c.rebind(dst)

	return Window{table: t, id: dst}, nil
}

// Swap exchanges the windows a and b designate. Each handle then refers
// to the other window's objects.
func (t *WindowTable) Swap(a, b Window) error {
	ca, ok := t.lookup(a.id)
	if !ok {
		return fmt.Errorf("%w: %v", ErrStaleWindow, a.id)
	}
	cb, ok := t.lookup(b.id)
	if !ok {
		return fmt.Errorf("%w: %v", ErrStaleWindow, b.id)
	}
	if ca == cb {
		return nil
	}

	ca.swap(cb)
	ca.rebind(a.id)
	cb.rebind(b.id)
	return nil
}

// Compact moves live windows to the front of the storage and drops the
// holes left by destroyed ones. IDs are unaffected.
func (t *WindowTable) Compact() {
	n := 0
	for i := range t.slots {
		if !t.slots[i].live {
			continue
		}
		if i != n {
			dst, src := &t.slots[n], &t.slots[i]
			dst.c.moveFrom(&src.c)
			dst.entry, dst.live = src.entry, true
			src.live = false
			t.entries[dst.entry].slot = n
		}
		n++
	}
	for i := n; i < len(t.slots); i++ {
		t.slots[i] = windowSlot{}
	}
	t.slots = t.slots[:n]
}

// Close destroys every window.
func (t *WindowTable) Close() error {
	var first error
	for _, w := range t.Windows() {
		if err := t.Destroy(w); err != nil && first == nil {
			first = err
		}
	}
	t.Compact()
	return first
}

func (t *WindowTable) window(id WindowID) Window {
	return Window{table: t, id: id}
}

// HandleToplevelConfigure stores the configuration until the xdg_surface
// configure that completes it.
func (t *WindowTable) HandleToplevelConfigure(owner WindowID, cfg ToplevelConfigure) {
	c, ok := t.lookup(owner)
	if !ok {
		logger.Printf("toplevel configure for stale %v", owner)
		return
	}
	c.pending = cfg
}

// HandleToplevelClose marks the window closed. Destroying it is left to
// the Close handler.
func (t *WindowTable) HandleToplevelClose(owner WindowID) {
	c, ok := t.lookup(owner)
	if !ok {
		return
	}
	c.state.Closed = true
	if t.handlers.Close != nil {
		t.handlers.Close(t.window(owner))
	}
}

// HandleXdgSurfaceConfigure acknowledges a configure sequence, applies the
// pending size and maps the window on the first one.
func (t *WindowTable) HandleXdgSurfaceConfigure(owner WindowID, serial uint32) {
	c, ok := t.lookup(owner)
	if !ok {
		logger.Printf("xdg surface configure for stale %v", owner)
		return
	}

	if err := c.xdgSurface.AckConfigure(serial); err != nil {
		logger.Printf("failed to ack configure %d: %v", serial, err)
		return
	}
	c.state.Serial = serial
	c.state.Activated = c.pending.Has(ToplevelStateActivated)

	size := c.pending.Size
	if size.X > 0 && size.Y > 0 && size != c.info.Size {
		if err := t.resize(owner, size); err != nil {
			logger.Printf("ignoring configure to %dx%d: %v", size.X, size.Y, err)
		}
		// resize dispatches events, which may have destroyed the window.
		if c, ok = t.lookup(owner); !ok {
			return
		}
	}

	if c.state.Phase == PhaseUninitialized && c.state.Visible {
		c.state.Phase = PhaseConfigured
		if err := c.present(c.front()); err != nil {
			logger.Printf("failed to map %v: %v", owner, err)
		}
	}

	if t.handlers.Configure != nil {
		t.handlers.Configure(t.window(owner), c.info.Size)
	}
}

// surfaceOwner resolves the window of a device event if the event concerns
// the window's surface. Devices of one seat report every surface of the
// client.
func (t *WindowTable) surfaceOwner(owner WindowID, surface uint32) (*Components, bool) {
	c, ok := t.lookup(owner)
	if !ok || c.surface == nil || c.surface.ID() != surface {
		return nil, false
	}
	return c, true
}

// HandlePointerEnter marks the window hovered.
func (t *WindowTable) HandlePointerEnter(owner WindowID, surface uint32, pos geom.Point[float64]) {
	if c, ok := t.surfaceOwner(owner, surface); ok {
		c.state.Hovered = true
		t.HandlePointerMotion(owner, pos)
	}
}

func (t *WindowTable) HandlePointerLeave(owner WindowID, surface uint32) {
	if c, ok := t.surfaceOwner(owner, surface); ok {
		c.state.Hovered = false
	}
}

func (t *WindowTable) HandlePointerMotion(owner WindowID, pos geom.Point[float64]) {
	c, ok := t.lookup(owner)
	if !ok || !c.state.Hovered || !c.state.Enabled {
		return
	}
	if t.handlers.Motion != nil {
		t.handlers.Motion(t.window(owner), pos)
	}
}

func (t *WindowTable) HandlePointerButton(owner WindowID, button, state uint32) {
	c, ok := t.lookup(owner)
	if !ok || !c.state.Hovered || !c.state.Enabled {
		return
	}
	if t.handlers.Button != nil {
		t.handlers.Button(t.window(owner), button, state)
	}
}

// HandleKeyboardEnter marks the window focused.
func (t *WindowTable) HandleKeyboardEnter(owner WindowID, surface uint32) {
	if c, ok := t.surfaceOwner(owner, surface); ok {
		c.state.Focused = true
	}
}

func (t *WindowTable) HandleKeyboardLeave(owner WindowID, surface uint32) {
	if c, ok := t.surfaceOwner(owner, surface); ok {
		c.state.Focused = false
	}
}

// HandleKeyboardKey forwards keys of a focused, enabled window.
func (t *WindowTable) HandleKeyboardKey(owner WindowID, key, state uint32) {
	c, ok := t.lookup(owner)
	if !ok || !c.state.Focused || !c.state.Enabled {
		return
	}
	if t.handlers.Key != nil {
		t.handlers.Key(t.window(owner), key, state)
	}
}
