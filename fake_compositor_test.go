//go:build linux

package wlwin

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// fakeCompositor is an in-process compositor speaking the wire protocol
// through the Display transport. It answers the requests this package
// sends and records enough state for tests to inspect.
type fakeCompositor struct {
	t testing.TB

	out bytes.Buffer

	globals    []fakeGlobal
	seatCaps   uint32
	outputs    []fakeOutput
	configure  [2]int32
	failPool   bool
	failWrites map[fakeRequestKey]bool

	objects map[uint32]string
	live    map[uint32]bool

	pools      map[uint32]*fakePool
	buffers    map[uint32]*fakeBuffer
	xdgSurface map[uint32]uint32 // xdg_surface -> wl_surface
	toplevels  map[uint32]uint32 // xdg_toplevel -> xdg_surface
	configured map[uint32]bool   // wl_surface -> initial configure sent
	pending    map[uint32]uint32 // wl_surface -> attached, uncommitted buffer
	attached   map[uint32]uint32 // wl_surface -> committed buffer
	titles     map[uint32]string // xdg_toplevel -> title
	maxSizes   map[uint32][2]int32
	damage     map[uint32]uint16   // wl_surface -> opcode of the last damage request
	frames     map[uint32][]uint32 // wl_surface -> callbacks waiting for a commit
	geometries map[uint32]int      // xdg_surface -> set_window_geometry count
	acked      []uint32
	pongs      []uint32

	serial uint32
	time   uint32
	closed bool
}

type fakeRequestKey struct {
	iface  string
	opcode uint16
}

type fakeGlobal struct {
	name    uint32
	iface   string
	version uint32
}

type fakeOutput struct {
	x, y, width, height int32
	refresh             int32 // mHz
	name                string
}

type fakePool struct {
	fd   int
	size int32
}

type fakeBuffer struct {
	pool                          uint32
	offset, width, height, stride int32
	format                        uint32
}

type fakeOption func(*fakeCompositor)

// withoutGlobal stops the compositor from advertising iface.
func withoutGlobal(iface string) fakeOption {
	return func(f *fakeCompositor) {
		kept := f.globals[:0]
		for _, g := range f.globals {
			if g.iface != iface {
				kept = append(kept, g)
			}
		}
		f.globals = kept
	}
}

// withOutputs advertises one wl_output per screen.
func withOutputs(outputs ...fakeOutput) fakeOption {
	return func(f *fakeCompositor) {
		for i := range outputs {
			f.globals = append(f.globals, fakeGlobal{name: uint32(100 + i), iface: "wl_output", version: 4})
		}
		f.outputs = append(f.outputs, outputs...)
	}
}

// withSeatCaps sets the capabilities of the seat.
func withSeatCaps(caps uint32) fakeOption {
	return func(f *fakeCompositor) {
		f.seatCaps = caps
	}
}

// withConfigureSize makes the first toplevel configure suggest a size.
func withConfigureSize(w, h int32) fakeOption {
	return func(f *fakeCompositor) {
		f.configure = [2]int32{w, h}
	}
}

// withGlobalVersion advertises iface at version v.
func withGlobalVersion(iface string, v uint32) fakeOption {
	return func(f *fakeCompositor) {
		for i := range f.globals {
			if f.globals[i].iface == iface {
				f.globals[i].version = v
			}
		}
	}
}

// failingPool answers wl_shm.create_pool with a protocol error.
func failingPool() fakeOption {
	return func(f *fakeCompositor) {
		f.failPool = true
	}
}

// failingWrite makes sending a request fail at the transport.
func failingWrite(iface string, opcode uint16) fakeOption {
	return func(f *fakeCompositor) {
		f.failWrites[fakeRequestKey{iface, opcode}] = true
	}
}

func newFakeCompositor(t testing.TB, opts ...fakeOption) *fakeCompositor {
	f := &fakeCompositor{
		t: t,
		globals: []fakeGlobal{
			{name: 1, iface: "wl_compositor", version: 4},
			{name: 2, iface: "wl_shm", version: 1},
			{name: 3, iface: "xdg_wm_base", version: 2},
			{name: 4, iface: "wl_seat", version: 5},
			{name: 5, iface: "zxdg_decoration_manager_v1", version: 1},
		},
		seatCaps:   SeatCapabilityPointer | SeatCapabilityKeyboard,
		failWrites: make(map[fakeRequestKey]bool),
		objects:    map[uint32]string{displayID: "wl_display"},
		live:       make(map[uint32]bool),
		pools:      make(map[uint32]*fakePool),
		buffers:    make(map[uint32]*fakeBuffer),
		xdgSurface: make(map[uint32]uint32),
		toplevels:  make(map[uint32]uint32),
		configured: make(map[uint32]bool),
		pending:    make(map[uint32]uint32),
		attached:   make(map[uint32]uint32),
		titles:     make(map[uint32]string),
		maxSizes:   make(map[uint32][2]int32),
		damage:     make(map[uint32]uint16),
		frames:     make(map[uint32][]uint32),
		geometries: make(map[uint32]int),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// newTestDisplay connects a Display to a fresh fake compositor.
func newTestDisplay(t *testing.T, opts ...fakeOption) (*Display, *fakeCompositor) {
	t.Helper()
	f := newFakeCompositor(t, opts...)
	d := newDisplay(f)
	require.NoError(t, d.init())
	t.Cleanup(func() { _ = d.Close() })
	return d, f
}

func (f *fakeCompositor) ReadMsg(b, oob []byte) (int, int, error) {
	if f.out.Len() == 0 {
		return 0, 0, io.EOF
	}
	n, err := f.out.Read(b)
	return n, 0, err
}

func (f *fakeCompositor) WriteMsg(b, oob []byte) error {
	if f.closed {
		return errors.New("fake compositor: closed")
	}

	var fds []int
	if len(oob) > 0 {
		parsed, err := parseRights(oob)
		if err != nil {
			return err
		}
		fds = parsed
	}

	for len(b) >= 8 {
		id := binary.LittleEndian.Uint32(b[0:4])
		sizeOpcode := binary.LittleEndian.Uint32(b[4:8])
		size := int(sizeOpcode >> 16)
		opcode := uint16(sizeOpcode & 0xffff)
		if size < 8 || size > len(b) {
			return fmt.Errorf("fake compositor: bad message size %d", size)
		}

		iface, ok := f.objects[id]
		if !ok {
			f.t.Errorf("fake compositor: request %d on unknown object %d", opcode, id)
		}
		if f.failWrites[fakeRequestKey{iface, opcode}] {
			return fmt.Errorf("fake compositor: write of %s#%d refused", iface, opcode)
		}

		args := &fakeArgs{b: b[8:size]}
		f.handle(id, iface, opcode, args, &fds)
		b = b[size:]
	}
	return nil
}

func (f *fakeCompositor) Close() error {
	f.closed = true
	return nil
}

// drain dispatches every queued event.
func (f *fakeCompositor) drain(t *testing.T, d *Display) {
	t.Helper()
	for f.out.Len() > 0 {
		require.NoError(t, d.Dispatch())
	}
}

// liveCount returns how many objects of iface exist.
func (f *fakeCompositor) liveCount(iface string) int {
	n := 0
	for id := range f.live {
		if f.objects[id] == iface {
			n++
		}
	}
	return n
}

// liveIDs returns the existing objects of iface in ascending order.
func (f *fakeCompositor) liveIDs(iface string) []uint32 {
	var ids []uint32
	for id := range f.live {
		if f.objects[id] == iface {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (f *fakeCompositor) create(id uint32, iface string) {
	f.objects[id] = iface
	f.live[id] = true
}

var fakeDestructors = map[string]uint16{
	"wl_surface":                  0,
	"wl_region":                   0,
	"wl_buffer":                   0,
	"wl_shm_pool":                 1,
	"wl_pointer":                  1,
	"wl_keyboard":                 0,
	"wl_output":                   0,
	"xdg_surface":                 0,
	"xdg_toplevel":                0,
	"zxdg_toplevel_decoration_v1": 0,
}

func (f *fakeCompositor) handle(id uint32, iface string, opcode uint16, a *fakeArgs, fds *[]int) {
	if op, ok := fakeDestructors[iface]; ok && op == opcode {
		delete(f.live, id)
		return
	}

	switch iface {
	case "wl_display":
		switch opcode {
		case 0: // sync
			cb := a.u32()
			f.serial++
			f.event(cb, 0, f.serial)
			f.event(displayID, 1, cb) // delete_id
		case 1: // get_registry
			reg := a.u32()
			f.create(reg, "wl_registry")
			for _, g := range f.globals {
				f.event(reg, 0, g.name, g.iface, g.version)
			}
		}

	case "wl_registry":
		if opcode != 0 {
			return
		}
		name := a.u32()
		bound := a.str()
		_ = a.u32() // version
		newID := a.u32()
		f.create(newID, bound)
		switch bound {
		case "wl_shm":
			f.event(newID, 0, uint32(FormatARGB8888))
			f.event(newID, 0, uint32(FormatXRGB8888))
		case "wl_seat":
			f.event(newID, 0, f.seatCaps)
			f.event(newID, 1, "seat0")
		case "wl_output":
			o := f.outputs[name-100]
			f.event(newID, 0, o.x, o.y, int32(300), int32(200), int32(0), "Fake", "Panel", int32(0))
			f.event(newID, 1, uint32(0), o.width/2, o.height/2, int32(30000)) // stale mode
			f.event(newID, 1, uint32(outputModeCurrent), o.width, o.height, o.refresh)
			f.event(newID, 3, int32(1))
			if o.name != "" {
				f.event(newID, 4, o.name)
			}
			f.event(newID, 2)
		}

	case "wl_compositor":
		switch opcode {
		case 0:
			f.create(a.u32(), "wl_surface")
		case 1:
			f.create(a.u32(), "wl_region")
		}

	case "wl_shm":
		if opcode != 0 {
			return
		}
		newID := a.u32()
		size := a.i32()
		fd := -1
		if len(*fds) > 0 {
			fd = (*fds)[0]
			*fds = (*fds)[1:]
		}
		f.create(newID, "wl_shm_pool")
		if f.failPool {
			f.event(displayID, 0, id, uint32(2), "invalid pool")
			return
		}
		f.pools[newID] = &fakePool{fd: fd, size: size}

	case "wl_shm_pool":
		if opcode != 0 {
			return
		}
		newID := a.u32()
		b := &fakeBuffer{pool: id, offset: a.i32(), width: a.i32(), height: a.i32(), stride: a.i32(), format: a.u32()}
		p := f.pools[id]
		if p == nil || b.offset < 0 || b.offset+b.stride*b.height > p.size || b.stride < b.width*4 {
			f.event(displayID, 0, id, uint32(0), "buffer out of bounds")
			return
		}
		f.create(newID, "wl_buffer")
		f.buffers[newID] = b

	case "wl_surface":
		switch opcode {
		case 1: // attach
			f.pending[id] = a.u32()
		case 2, 9: // damage, damage_buffer
			f.damage[id] = opcode
		case 3: // frame
			cb := a.u32()
			f.create(cb, "wl_callback")
			f.frames[id] = append(f.frames[id], cb)
		case 6: // commit
			f.commit(id)
		}

	case "xdg_wm_base":
		switch opcode {
		case 2:
			newID := a.u32()
			f.create(newID, "xdg_surface")
			f.xdgSurface[newID] = a.u32()
		case 3:
			f.pongs = append(f.pongs, a.u32())
		}

	case "xdg_surface":
		switch opcode {
		case 1:
			newID := a.u32()
			f.create(newID, "xdg_toplevel")
			f.toplevels[newID] = id
		case 3:
			f.geometries[id]++
		case 4:
			f.acked = append(f.acked, a.u32())
		}

	case "xdg_toplevel":
		switch opcode {
		case 2:
			f.titles[id] = a.str()
		case 7:
			f.maxSizes[id] = [2]int32{a.i32(), a.i32()}
		}

	case "zxdg_decoration_manager_v1":
		if opcode == 1 {
			f.create(a.u32(), "zxdg_toplevel_decoration_v1")
		}

	case "zxdg_toplevel_decoration_v1":
		if opcode == 1 {
			f.event(id, 0, a.u32())
		}

	case "wl_seat":
		switch opcode {
		case 0:
			f.create(a.u32(), "wl_pointer")
		case 1:
			f.create(a.u32(), "wl_keyboard")
		}
	}
}

// commit applies a surface commit. The first commit of a toplevel surface
// is answered with a configure sequence. Committing a null buffer unmaps
// the surface, so the next commit starts over. Frame callbacks fire once
// a buffer is on screen.
func (f *fakeCompositor) commit(surface uint32) {
	if buf, ok := f.pending[surface]; ok {
		delete(f.pending, surface)
		if buf == 0 {
			delete(f.attached, surface)
			delete(f.configured, surface)
			return
		}
		f.attached[surface] = buf
	}
	if f.attached[surface] != 0 {
		f.time += 16
		for _, cb := range f.frames[surface] {
			delete(f.live, cb)
			f.event(cb, 0, f.time)
			f.event(displayID, 1, cb) // delete_id
		}
		delete(f.frames, surface)
	}
	if f.configured[surface] {
		return
	}
	toplevel, xdg := f.roleOf(surface)
	if toplevel == 0 {
		return
	}
	f.configured[surface] = true
	f.sendConfigure(toplevel, xdg, f.configure[0], f.configure[1])
}

func (f *fakeCompositor) roleOf(surface uint32) (toplevel, xdg uint32) {
	for x, s := range f.xdgSurface {
		if s != surface || !f.live[x] {
			continue
		}
		for tl, parent := range f.toplevels {
			if parent == x && f.live[tl] {
				return tl, x
			}
		}
	}
	return 0, 0
}

// sendConfigure queues a toplevel configure followed by the xdg_surface
// configure that completes it. It returns the serial.
func (f *fakeCompositor) sendConfigure(toplevel, xdg uint32, w, h int32) uint32 {
	states := make([]byte, 4)
	binary.LittleEndian.PutUint32(states, ToplevelStateActivated)
	f.event(toplevel, 0, w, h, states)
	f.serial++
	f.event(xdg, 0, f.serial)
	return f.serial
}

// event queues an event for the client.
func (f *fakeCompositor) event(id uint32, opcode uint16, args ...interface{}) {
	var body bytes.Buffer
	for _, arg := range args {
		switch v := arg.(type) {
		case uint32:
			_ = binary.Write(&body, binary.LittleEndian, v)
		case int32:
			_ = binary.Write(&body, binary.LittleEndian, v)
		case string:
			n := len(v) + 1
			_ = binary.Write(&body, binary.LittleEndian, uint32(n))
			body.WriteString(v)
			body.WriteByte(0)
			body.Write(make([]byte, (4-n%4)%4))
		case []byte:
			_ = binary.Write(&body, binary.LittleEndian, uint32(len(v)))
			body.Write(v)
			body.Write(make([]byte, (4-len(v)%4)%4))
		default:
			f.t.Fatalf("fake compositor: unsupported event argument %T", arg)
		}
	}
	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], id)
	binary.LittleEndian.PutUint32(header[4:8], uint32(8+body.Len())<<16|uint32(opcode))
	f.out.Write(header[:])
	f.out.Write(body.Bytes())
}

// mapPool maps a pool the way a compositor would, through the descriptor
// it received.
func (f *fakeCompositor) mapPool(t *testing.T, id uint32) []byte {
	t.Helper()
	p := f.pools[id]
	require.NotNil(t, p)
	data, err := unix.Mmap(p.fd, 0, int(p.size), unix.PROT_READ, unix.MAP_SHARED)
	require.NoError(t, err)
	t.Cleanup(func() { _ = unix.Munmap(data) })
	return data
}

type fakeArgs struct {
	b   []byte
	off int
}

func (a *fakeArgs) u32() uint32 {
	if a.off+4 > len(a.b) {
		return 0
	}
	v := binary.LittleEndian.Uint32(a.b[a.off:])
	a.off += 4
	return v
}

func (a *fakeArgs) i32() int32 {
	return int32(a.u32())
}

func (a *fakeArgs) str() string {
	n := int(a.u32())
	if n == 0 || a.off+n > len(a.b) {
		return ""
	}
	s := string(a.b[a.off : a.off+n-1])
	a.off += n + (4-n%4)%4
	return s
}
