//go:build linux
// +build linux

package wlwin

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

// maxFDsPerMessage bounds the ancillary data read per recvmsg. libwayland
// uses the same limit.
const maxFDsPerMessage = 28

// Pre-allocated buffers for control messages
var controlBufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, unix.CmsgSpace(maxFDsPerMessage*4))
		return &b
	},
}

// transport carries wire messages and their ancillary file descriptors.
type transport interface {
	ReadMsg(b, oob []byte) (n, oobn int, err error)
	WriteMsg(b, oob []byte) error
	Close() error
}

// unixTransport is the transport used for a real compositor socket.
type unixTransport struct {
	conn *net.UnixConn
}

func (t *unixTransport) ReadMsg(b, oob []byte) (int, int, error) {
	n, oobn, _, _, err := t.conn.ReadMsgUnix(b, oob)
	return n, oobn, err
}

func (t *unixTransport) WriteMsg(b, oob []byte) error {
	if len(oob) == 0 {
		// Fast path: no FDs to send
		_, err := t.conn.Write(b)
		return err
	}
	_, _, err := t.conn.WriteMsgUnix(b, oob, nil)
	return err
}

func (t *unixTransport) Close() error {
	return t.conn.Close()
}

// fdQueue holds descriptors received out of band until an event argument
// claims them. It belongs to one Display.
type fdQueue struct {
	items []int
}

func (q *fdQueue) push(fds ...int) {
	q.items = append(q.items, fds...)
}

func (q *fdQueue) pop() (int, bool) {
	if len(q.items) == 0 {
		return -1, false
	}
	fd := q.items[0]
	q.items = q.items[1:]
	return fd, true
}

func (q *fdQueue) closeAll() {
	for _, fd := range q.items {
		_ = unix.Close(fd)
	}
	q.items = nil
}

// parseRights extracts SCM_RIGHTS descriptors from ancillary data.
func parseRights(oob []byte) ([]int, error) {
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("parse control message: %w", err)
	}

	var fds []int
	for i := range scms {
		if scms[i].Header.Level != unix.SOL_SOCKET || scms[i].Header.Type != unix.SCM_RIGHTS {
			continue
		}
		parsed, err := unix.ParseUnixRights(&scms[i])
		if err != nil {
			return fds, fmt.Errorf("parse unix rights: %w", err)
		}
		fds = append(fds, parsed...)
	}
	return fds, nil
}

// readFull fills buf from the transport, queueing any received descriptors.
func (d *Display) readFull(buf []byte) error {
	oobp := controlBufferPool.Get().(*[]byte)
	defer controlBufferPool.Put(oobp)
	oob := *oobp

	for off := 0; off < len(buf); {
		n, oobn, err := d.t.ReadMsg(buf[off:], oob)
		if oobn > 0 {
			fds, perr := parseRights(oob[:oobn])
			d.fds.push(fds...)
			if perr != nil {
				return perr
			}
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("connection closed after %d of %d bytes", off, len(buf))
		}
		off += n
	}
	return nil
}

// sendmsgWithFDs sends a message potentially containing file descriptors
func (d *Display) sendmsgWithFDs(buf []byte, fds []int) error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	if len(fds) == 0 {
		return d.t.WriteMsg(buf, nil)
	}
	return d.t.WriteMsg(buf, unix.UnixRights(fds...))
}
