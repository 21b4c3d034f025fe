//go:build linux

package wlwin

import (
	"errors"

	"golang.org/x/sys/unix"
)

// MappedRegion exclusively owns one shared mapping. Unmapping twice, or
// reading a region after Unmap, is a programming error.
type MappedRegion struct {
	data []byte
}

// Map maps length bytes of fd starting at offset. prot and flags are passed
// to mmap unchanged. Go cannot request a fixed address, so addrHint must be 0.
func Map(addrHint uintptr, length int, prot, flags int, fd int, offset int64) (*MappedRegion, error) {
	if addrHint != 0 {
		return nil, &CallError{Op: "mmap", Kind: KindInvalidArgument, Err: errors.New("address hints are not supported")}
	}
	if length <= 0 {
		return nil, &CallError{Op: "mmap", Kind: KindInvalidArgument, Err: unix.EINVAL}
	}

	data, err := unix.Mmap(fd, offset, length, prot, flags)
	if err != nil {
		return nil, callError("mmap", err)
	}
	return &MappedRegion{data: data}, nil
}

// MapShared maps a whole anonymous file read/write and shared.
func MapShared(f *AnonymousFile) (*MappedRegion, error) {
	return Map(0, int(f.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED, f.Fd(), 0)
}

// Mapped reports whether r still holds a mapping.
func (r *MappedRegion) Mapped() bool {
	return r != nil && r.data != nil
}

// Bytes returns the whole mapping. The slice is capped at the mapping length.
func (r *MappedRegion) Bytes() []byte {
	return r.data[:len(r.data):len(r.data)]
}

func (r *MappedRegion) Len() int {
	return len(r.data)
}

func (r *MappedRegion) At(i int) byte {
	return r.data[i]
}

// First returns the first n bytes.
func (r *MappedRegion) First(n int) []byte {
	return r.data[:n:n]
}

// Last returns the last n bytes.
func (r *MappedRegion) Last(n int) []byte {
	return r.data[len(r.data)-n:]
}

// Subspan returns n bytes starting at off. Writes through the returned
// slice cannot reach past off+n.
func (r *MappedRegion) Subspan(off, n int) []byte {
	return r.data[off : off+n : off+n]
}

// Take transfers the mapping to a new region and leaves r unmapped.
func (r *MappedRegion) Take() *MappedRegion {
	moved := &MappedRegion{data: r.data}
	r.data = nil
	return moved
}

// Unmap releases the mapping.
func (r *MappedRegion) Unmap() error {
	if r.data == nil {
		panic("wlwin: unmap of a region that is not mapped")
	}
	data := r.data
	r.data = nil
	return unix.Munmap(data)
}
