package wlwin

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrorKind classifies why a call failed.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindResourceExhausted
	KindPermissionDenied
	KindProtocolRejected
	KindCapabilityAbsent
	KindInvalidArgument
)

func (k ErrorKind) String() string {
	switch k {
	case KindResourceExhausted:
		return "resource exhausted"
	case KindPermissionDenied:
		return "permission denied"
	case KindProtocolRejected:
		return "protocol rejected"
	case KindCapabilityAbsent:
		return "capability absent"
	case KindInvalidArgument:
		return "invalid argument"
	default:
		return "unknown"
	}
}

var (
	ErrPoolCreate       = errors.New("pool creation failed")
	ErrBufferCreate     = errors.New("buffer creation failed")
	ErrWindowCreate     = errors.New("window creation failed")
	ErrStaleWindow      = errors.New("stale window handle")
	ErrCapabilityAbsent = errors.New("capability not advertised by compositor")
	ErrPoolCapacity     = errors.New("size exceeds pool capacity")
	ErrObjectDestroyed  = errors.New("object already destroyed")
)

// CallError records the operation that failed and a coarse classification of
// the failure.
type CallError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// ProtocolError is a wl_display.error event sent by the compositor.
type ProtocolError struct {
	ObjectID uint32
	Code     uint32
	Message  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: object %d, code %d: %s", e.ObjectID, e.Code, e.Message)
}

func callError(op string, err error) *CallError {
	return &CallError{Op: op, Kind: classify(err), Err: err}
}

// KindOf reports the kind of err. Errors that carry no classification
// report KindUnknown.
func KindOf(err error) ErrorKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return classify(err)
}

func classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var perr *ProtocolError
	if errors.As(err, &perr) || errors.Is(err, ErrObjectDestroyed) {
		return KindProtocolRejected
	}
	if errors.Is(err, ErrCapabilityAbsent) {
		return KindCapabilityAbsent
	}

	var errno unix.Errno
	if errors.As(err, &errno) {
		switch errno {
		case unix.ENOMEM, unix.ENOSPC, unix.EMFILE, unix.ENFILE, unix.EFBIG, unix.EDQUOT:
			return KindResourceExhausted
		case unix.EACCES, unix.EPERM, unix.EROFS:
			return KindPermissionDenied
		case unix.EINVAL, unix.EBADF:
			return KindInvalidArgument
		}
	}
	return KindUnknown
}
