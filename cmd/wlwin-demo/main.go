// Command wlwin-demo opens a window painted with a checkerboard, or lists
// the screens of the compositor.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"

	"deedles.dev/ximage/geom"
	"github.com/bnema/wlwin"
)

const (
	tileDark  = 0xFF666666
	tileLight = 0xFFEEEEEE
)

func main() {
	configPath := flag.String("config", "", "window configuration file (YAML)")
	display := flag.String("display", "", "Wayland socket name or path (default $WAYLAND_DISPLAY)")
	screens := flag.Bool("screens", false, "list screens and exit")
	flag.Parse()

	if err := run(*configPath, *display, *screens); err != nil {
		log.Fatalf("wlwin-demo: %v", err)
	}
}

func run(configPath, socket string, listScreens bool) error {
	cfg := wlwin.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = wlwin.LoadConfig(configPath); err != nil {
			return err
		}
	}

	d, err := wlwin.Connect(socket)
	if err != nil {
		return err
	}
	defer d.Close()

	if listScreens {
		return printScreens(d)
	}

	p := &painter{}
	table := wlwin.NewWindowTable(d)
	table.SetHandlers(wlwin.WindowHandlers{
		Configure: func(w wlwin.Window, size geom.Point[int]) {
			p.w = w
			p.redraw()
		},
		Close: func(w wlwin.Window) {
			if err := w.Close(); err != nil {
				log.Printf("wlwin-demo: close: %v", err)
			}
		},
	})

	w, err := table.Create(cfg.WindowInfo())
	if err != nil {
		return err
	}
	p.w = w
	p.redraw()

	for w.Valid() {
		if err := d.Dispatch(); err != nil {
			return err
		}
	}
	return table.Close()
}

func printScreens(d *wlwin.Display) error {
	screens, err := wlwin.EnumerateScreens(d)
	if err != nil {
		return err
	}
	for _, s := range screens {
		fmt.Fprintf(os.Stdout, "%s\t%dx%d+%d+%d\t%d Hz\tscale %d\n",
			s.Name, s.Area.Dx(), s.Area.Dy(), s.Area.Min.X, s.Area.Min.Y, s.RefreshRate, s.Scale)
	}
	return nil
}

// painter repaints at most once per frame callback.
type painter struct {
	w       wlwin.Window
	waiting bool
	dirty   bool
}

func (p *painter) redraw() {
	if p.waiting {
		p.dirty = true
		return
	}
	if err := p.w.Frame(p.frameDone); err != nil {
		log.Printf("wlwin-demo: frame: %v", err)
	} else {
		p.waiting = true
	}
	if err := paint(p.w); err != nil {
		log.Printf("wlwin-demo: paint: %v", err)
	}
}

func (p *painter) frameDone(uint32) {
	p.waiting = false
	if p.dirty {
		p.dirty = false
		p.redraw()
	}
}

// paint draws the checkerboard into the front buffer and presents it.
func paint(w wlwin.Window) error {
	buffers, err := w.Buffers()
	if err != nil {
		return err
	}
	front := buffers[0]
	size := front.Size()
	mem := front.Memory()
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			c := uint32(tileLight)
			if (x+y/8*8)%16 < 8 {
				c = tileDark
			}
			binary.LittleEndian.PutUint32(mem[(y*size.X+x)*4:], c)
		}
	}

	info, err := w.Info()
	if err != nil {
		return err
	}
	if err := w.SetOpacity(info.Opacity); err != nil {
		return err
	}
	return w.Present(0)
}
