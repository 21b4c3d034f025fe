// Package wl provides short aliases for the wlwin protocol bindings.
package wl

import (
	"github.com/bnema/wlwin"
)

// Type aliases for the protocol objects
type (
	Display            = wlwin.Display
	Registry           = wlwin.Registry
	Globals            = wlwin.Globals
	Context            = wlwin.Context
	Fixed              = wlwin.Fixed
	FD                 = wlwin.FD
	Object             = wlwin.Object
	Proxy              = wlwin.Proxy
	BaseProxy          = wlwin.BaseProxy
	Event              = wlwin.Event
	Global             = wlwin.Global
	Callback           = wlwin.Callback
	Compositor         = wlwin.Compositor
	Surface            = wlwin.Surface
	Region             = wlwin.Region
	Shm                = wlwin.Shm
	ShmPool            = wlwin.ShmPool
	Buffer             = wlwin.Buffer
	Seat               = wlwin.Seat
	Pointer            = wlwin.Pointer
	Keyboard           = wlwin.Keyboard
	Output             = wlwin.Output
	WmBase             = wlwin.WmBase
	XdgSurface         = wlwin.XdgSurface
	Toplevel           = wlwin.Toplevel
	DecorationManager  = wlwin.DecorationManager
	ToplevelDecoration = wlwin.ToplevelDecoration
)

// Function aliases
var (
	Connect              = wlwin.Connect
	NewFixed             = wlwin.NewFixed
	NewContext           = wlwin.NewContext
	NewCompositor        = wlwin.NewCompositor
	NewShm               = wlwin.NewShm
	NewSeat              = wlwin.NewSeat
	NewWmBase            = wlwin.NewWmBase
	NewDecorationManager = wlwin.NewDecorationManager
)

// Seat capability constants
const (
	SeatCapabilityPointer  = wlwin.SeatCapabilityPointer
	SeatCapabilityKeyboard = wlwin.SeatCapabilityKeyboard
	SeatCapabilityTouch    = wlwin.SeatCapabilityTouch
)

// Pixel formats
const (
	FormatARGB8888 = wlwin.FormatARGB8888
	FormatXRGB8888 = wlwin.FormatXRGB8888
)
