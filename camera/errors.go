package camera

import (
	"context"
	"errors"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Error kinds. Test for them with errors.Is.
var (
	// ErrConfiguration is a rejected configuration: unsupported camera, unmatched profile or an
	// unmet alignment precondition.
	ErrConfiguration = pkgerrors.New("invalid configuration")
	// ErrNotSupported is a request the device cannot satisfy.
	ErrNotSupported = pkgerrors.New("not supported")
	// ErrTimeout is a bounded wait that expired.
	ErrTimeout = pkgerrors.New("timed out")
	// ErrCancelled is a wait interrupted by stopping the stream.
	ErrCancelled = pkgerrors.New("cancelled")
	// ErrUnsupportedWhileRunning is a change that requires stopping the stream first.
	ErrUnsupportedWhileRunning = pkgerrors.New("unsupported while running")
	// ErrNotRunning is an operation that requires a running stream.
	ErrNotRunning = pkgerrors.New("not running")
	// ErrClosed is an operation on a closed object.
	ErrClosed = pkgerrors.New("closed")
)

// Error carries an error kind with the operation and camera it concerns.
type Error struct {
	Kind   error
	Op     string
	Camera Type
	Detail string
	Cause  error
}

// NewError returns an Error of the given kind.
func NewError(kind error, op string, cam Type, detail string) *Error {
	return &Error{Kind: kind, Op: op, Camera: cam, Detail: detail}
}

// WrapError returns an Error of the given kind caused by cause.
func WrapError(kind error, op string, cam Type, cause error, detail string) *Error {
	return &Error{Kind: kind, Op: op, Camera: cam, Detail: detail, Cause: cause}
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Op)
	if e.Camera != Unknown {
		sb.WriteString(" ")
		sb.WriteString(e.Camera.String())
	}
	sb.WriteString(": ")
	sb.WriteString(e.Kind.Error())
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Status is the coarse outcome class reported by device level APIs.
type Status int

// Status classes.
const (
	StatusOK Status = iota
	StatusLogicError
	StatusRuntimeError
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusLogicError:
		return "logic error"
	case StatusRuntimeError:
		return "runtime error"
	case StatusUnknown:
	}
	return "unknown"
}

// StatusOf classifies err. Caller mistakes are logic errors; conditions that arise while
// streaming are runtime errors.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrNotSupported),
		errors.Is(err, ErrUnsupportedWhileRunning), errors.Is(err, ErrNotRunning):
		return StatusLogicError
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrCancelled), errors.Is(err, ErrClosed),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusRuntimeError
	default:
		return StatusUnknown
	}
}
