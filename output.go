package wlwin

import (
	"fmt"

	"deedles.dev/ximage/geom"
)

// outputModeCurrent flags the mode an output is using.
const outputModeCurrent = 0x1

// ScreenProperties describes one output as reported by the compositor.
type ScreenProperties struct {
	// Name is the output name, or make-model on compositors without
	// wl_output.name.
	Name        string
	Description string
	// Area is the output rectangle in the global compositor space.
	Area        geom.Rect[int]
	RefreshRate uint32 // Hz
	Scale       int
}

// screenAccumulator collects screens while outputs are enumerated. It is
// owned by one EnumerateScreens call.
type screenAccumulator struct {
	screens []ScreenProperties
}

func (a *screenAccumulator) add(p ScreenProperties) {
	a.screens = append(a.screens, p)
}

// Output represents a wl_output
type Output struct {
	BaseProxy
	version uint32
	pending ScreenProperties
	acc     *screenAccumulator
}

// Dispatch fills the pending properties and hands them to the accumulator
// on done.
func (o *Output) Dispatch(event *Event) {
	switch event.Opcode {
	case 0: // geometry
		x := int(event.Int32())
		y := int(event.Int32())
		_ = event.Int32() // physical width
		_ = event.Int32() // physical height
		_ = event.Int32() // subpixel
		vendor := event.String()
		model := event.String()
		o.pending.Area = geom.Rt(x, y, x+o.pending.Area.Dx(), y+o.pending.Area.Dy())
		if o.pending.Name == "" {
			o.pending.Name = vendor + "-" + model
		}
	case 1: // mode
		flags := event.Uint32()
		w := int(event.Int32())
		h := int(event.Int32())
		refresh := event.Int32()
		if flags&outputModeCurrent == 0 && !o.pending.Area.Empty() {
			return
		}
		o.pending.Area = geom.Rt(o.pending.Area.Min.X, o.pending.Area.Min.Y, o.pending.Area.Min.X+w, o.pending.Area.Min.Y+h)
		o.pending.RefreshRate = uint32(max(refresh, 0)) / 1000
	case 2: // done
		if o.acc != nil {
			o.acc.add(o.pending)
		}
	case 3: // scale
		o.pending.Scale = int(event.Int32())
	case 4: // name
		o.pending.Name = event.String()
	case 5: // description
		o.pending.Description = event.String()
	}
}

// Release releases the output
func (o *Output) Release() error {
	if o.version >= 3 {
		return o.context.destroy(o, 0)
	}
	o.context.Unregister(o)
	o.SetID(0)
	return nil
}

// EnumerateScreens binds every advertised output, waits for their
// description and releases them again. Screens are ordered by global name.
func EnumerateScreens(d *Display) ([]ScreenProperties, error) {
	globals := d.Globals().Outputs
	if len(globals) == 0 {
		return nil, nil
	}

	acc := &screenAccumulator{}
	outputs := make([]*Output, 0, len(globals))
	defer func() {
		for _, o := range outputs {
			if err := o.Release(); err != nil {
				logger.Printf("failed to release output: %v", err)
			}
		}
	}()

	for _, g := range globals {
		o := &Output{
			BaseProxy: BaseProxy{context: d.Context()},
			version:   min(g.Version, 4),
			pending:   ScreenProperties{Scale: 1},
			acc:       acc,
		}
		if err := d.Registry().Bind(g.Name, g.Interface, o.version, o); err != nil {
			return nil, fmt.Errorf("failed to bind output %d: %w", g.Name, err)
		}
		outputs = append(outputs, o)
	}

	if err := d.Roundtrip(); err != nil {
		return nil, fmt.Errorf("failed to enumerate screens: %w", err)
	}
	return acc.screens, nil
}

// screensExtent returns the sum of the widths and the sum of the heights of
// screens.
func screensExtent(screens []ScreenProperties) geom.Point[int] {
	var extent geom.Point[int]
	for _, s := range screens {
		extent = extent.Add(s.Area.Size())
	}
	return extent
}
