package wlwin

// Decoration modes of zxdg_toplevel_decoration_v1.
const (
	DecorationModeClientSide = 1
	DecorationModeServerSide = 2
)

// DecorationManager represents a zxdg_decoration_manager_v1
type DecorationManager struct {
	BaseProxy
}

// NewDecorationManager creates a new decoration manager proxy
func NewDecorationManager(ctx *Context) *DecorationManager {
	return &DecorationManager{BaseProxy: BaseProxy{context: ctx}}
}

// GetToplevelDecoration creates the decoration object of a toplevel.
func (m *DecorationManager) GetToplevelDecoration(toplevel *Toplevel) (*ToplevelDecoration, error) {
	d := &ToplevelDecoration{BaseProxy: BaseProxy{context: m.context}}
	// get_toplevel_decoration (opcode 1)
	if err := m.context.newObject(d, m, 1, toplevel); err != nil {
		return nil, err
	}
	return d, nil
}

// ToplevelDecoration represents a zxdg_toplevel_decoration_v1
type ToplevelDecoration struct {
	BaseProxy
	mode uint32
}

// Dispatch records the mode chosen by the compositor.
func (d *ToplevelDecoration) Dispatch(event *Event) {
	if event.Opcode == 0 { // configure
		d.mode = event.Uint32()
	}
}

// Mode returns the negotiated mode, or 0 before the first configure.
func (d *ToplevelDecoration) Mode() uint32 {
	return d.mode
}

// SetMode requests a decoration mode.
func (d *ToplevelDecoration) SetMode(mode uint32) error {
	return d.context.SendRequest(d, 1, mode)
}

// Destroy destroys the decoration object
func (d *ToplevelDecoration) Destroy() error {
	return d.context.destroy(d, 0)
}

// Decoration is the frame of a window. Server is nil when the compositor
// does not offer server-side decorations; the window then draws none and
// the decoration is only a placeholder for client-side drawing.
type Decoration struct {
	Server *ToplevelDecoration
}

// newDecoration asks for server-side decorations when the compositor
// offers them.
func newDecoration(manager *DecorationManager, toplevel *Toplevel) (*Decoration, error) {
	if manager == nil {
		return &Decoration{}, nil
	}
	server, err := manager.GetToplevelDecoration(toplevel)
	if err != nil {
		return nil, err
	}
	if err := server.SetMode(DecorationModeServerSide); err != nil {
		_ = server.Destroy()
		return nil, err
	}
	return &Decoration{Server: server}, nil
}

// ServerSide reports whether the compositor draws the frame.
func (d *Decoration) ServerSide() bool {
	return d != nil && d.Server != nil && d.Server.Mode() != DecorationModeClientSide
}

// Destroy releases the decoration objects.
func (d *Decoration) Destroy() error {
	if d == nil || d.Server == nil {
		return nil
	}
	err := d.Server.Destroy()
	d.Server = nil
	return err
}
