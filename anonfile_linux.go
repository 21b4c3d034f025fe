//go:build linux

package wlwin

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// AnonHint selects how CreateAnonymous obtains its storage.
type AnonHint int

const (
	// HintMemfd prefers memfd_create and falls back to an unlinked file.
	HintMemfd AnonHint = iota
	// HintFile always uses an unlinked file under the fallback directory.
	HintFile
)

func (h AnonHint) String() string {
	if h == HintFile {
		return "file"
	}
	return "memfd"
}

const (
	templateSuffix = "-XXXXXX"
	templateChars  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	tempAttempts   = 100
)

// AnonymousFile owns a descriptor for zero-filled, read/write storage that
// has no visible path.
type AnonymousFile struct {
	fd   int
	size int64
}

// CreateAnonymous allocates size bytes of anonymous storage. With HintMemfd
// a sealed memfd is tried first; when that facility is unavailable, or hint
// is HintFile, a unique file named after prefix is created in fallbackDir
// and unlinked before its storage is allocated.
func CreateAnonymous(size int64, fallbackDir, prefix string, hint AnonHint) (*AnonymousFile, error) {
	if size <= 0 {
		return nil, &CallError{Op: "create anonymous file", Kind: KindInvalidArgument, Err: fmt.Errorf("invalid size %d", size)}
	}

	if hint == HintMemfd {
		f, err := createMemfd(size, prefix)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, errMemfdUnavailable) {
			return nil, err
		}
		logger.Printf("memfd_create unavailable, falling back to %s", fallbackDir)
	}

	return createUnlinked(size, fallbackDir, prefix)
}

var errMemfdUnavailable = errors.New("memfd_create unavailable")

func createMemfd(size int64, name string) (*AnonymousFile, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errMemfdUnavailable, err)
	}

	// The file is still empty, so forbidding shrink cannot fail on size.
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, unix.F_SEAL_SHRINK|unix.F_SEAL_SEAL); err != nil {
		_ = unix.Close(fd)
		return nil, callError("seal memfd", err)
	}

	if err := allocate(fd, size); err != nil {
		_ = unix.Close(fd)
		return nil, callError("allocate memfd", err)
	}

	return &AnonymousFile{fd: fd, size: size}, nil
}

func createUnlinked(size int64, dir, prefix string) (*AnonymousFile, error) {
	if !strings.HasSuffix(prefix, templateSuffix) {
		prefix += templateSuffix
	}
	template := filepath.Join(dir, prefix)

	var (
		fd   = -1
		name string
		err  error
	)
	for i := 0; i < tempAttempts; i++ {
		name = fillTemplate(template)
		fd, err = unix.Open(name, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, 0o600)
		if err != unix.EEXIST {
			break
		}
	}
	if err != nil {
		return nil, callError("create temporary file", err)
	}

	// Unlink before allocating so that a failed allocation leaves nothing behind.
	if err := unix.Unlink(name); err != nil {
		_ = unix.Close(fd)
		return nil, callError("unlink temporary file", err)
	}

	if err := allocate(fd, size); err != nil {
		_ = unix.Close(fd)
		return nil, callError("allocate temporary file", err)
	}

	return &AnonymousFile{fd: fd, size: size}, nil
}

// fillTemplate replaces the trailing XXXXXX of template with random characters.
func fillTemplate(template string) string {
	b := []byte(template)
	for i := len(b) - len("XXXXXX"); i < len(b); i++ {
		b[i] = templateChars[rand.IntN(len(templateChars))]
	}
	return string(b)
}

// allocate reserves size bytes, emulating posix_fallocate on filesystems
// without fallocate support.
func allocate(fd int, size int64) error {
	err := unix.Fallocate(fd, 0, 0, size)
	if err == unix.EOPNOTSUPP || err == unix.ENOSYS {
		return unix.Ftruncate(fd, size)
	}
	return err
}

// Fd returns the owned descriptor, or -1 once released or taken.
func (f *AnonymousFile) Fd() int {
	if f == nil {
		return -1
	}
	return f.fd
}

// Size returns the allocated size in bytes.
func (f *AnonymousFile) Size() int64 {
	return f.size
}

// Take transfers ownership of the descriptor to a new AnonymousFile and
// leaves f empty.
func (f *AnonymousFile) Take() *AnonymousFile {
	moved := &AnonymousFile{fd: f.fd, size: f.size}
	f.fd, f.size = -1, 0
	return moved
}

// Release closes the descriptor. Releasing an empty file is a no-op.
func (f *AnonymousFile) Release() error {
	if f == nil || f.fd < 0 {
		return nil
	}
	fd := f.fd
	f.fd, f.size = -1, 0
	return unix.Close(fd)
}
