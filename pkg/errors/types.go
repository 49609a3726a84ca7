// Package errors defines the structured error type returned by visitbridge
// packages. Every error carries a code from a fixed taxonomy so hosts can
// branch on the failure class without matching message text.
package errors

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"strings"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// Host misuse. These are the only codes returned from a call site as a
	// fatal condition; everything else is reported through the adapter.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"
	ErrCodeReservedName  ErrorCode = "RESERVED_NAME"

	// Renderer and protocol failures
	ErrCodeNavigation       ErrorCode = "NAVIGATION"
	ErrCodeProtocolMismatch ErrorCode = "PROTOCOL_MISMATCH"
	ErrCodeStaleMessage     ErrorCode = "STALE_MESSAGE"

	// Bridge errors
	ErrCodeBridgeEncode ErrorCode = "BRIDGE_ENCODE"
	ErrCodeBridgeDecode ErrorCode = "BRIDGE_DECODE"
	ErrCodeTransport    ErrorCode = "TRANSPORT"

	// Configuration file errors
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Registry errors
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"

	// Generic errors
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Fatal reports whether the code marks a programming error in the host.
func (c ErrorCode) Fatal() bool {
	return c == ErrCodeConfiguration || c == ErrCodeReservedName
}

// Error is a coded visitbridge error. Context holds the identifiers needed
// to trace the failure, such as session_id or location.
type Error struct {
	Code       ErrorCode
	Message    string
	Underlying error
	Context    map[string]any
	Stack      []Frame
}

// Frame is one captured call site.
type Frame struct {
	Function string
	File     string
	Line     int
}

func build(code ErrorCode, message string, underlying error, context map[string]any) *Error {
	if context == nil {
		context = make(map[string]any)
	}
	return &Error{
		Code:       code,
		Message:    message,
		Underlying: underlying,
		Context:    context,
		Stack:      captureStack(3),
	}
}

// New creates a new structured error
func New(code ErrorCode, message string) *Error {
	return build(code, message, nil, nil)
}

// Newf creates a structured error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return build(code, fmt.Sprintf(format, args...), nil, nil)
}

// Wrap attaches code and message to err. It returns nil for a nil err.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return build(code, message, err, nil)
}

// WithContext records key on the error and returns it for chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Fatal reports whether the error signals host misuse.
func (e *Error) Fatal() bool {
	return e.Code.Fatal()
}

// Error renders "[CODE] message {k: v, ...}: underlying" with context keys
// in sorted order.
func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Code, e.Message)

	if len(e.Context) > 0 {
		sb.WriteString(" {")
		for i, k := range slices.Sorted(maps.Keys(e.Context)) {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s: %v", k, e.Context[k])
		}
		sb.WriteString("}")
	}

	if e.Underlying != nil {
		fmt.Fprintf(&sb, ": %v", e.Underlying)
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// LogValue renders the error as a structured group so slog handlers keep
// the code and context as separate fields.
func (e *Error) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("code", string(e.Code)),
		slog.String("message", e.Message),
	}
	for _, k := range slices.Sorted(maps.Keys(e.Context)) {
		attrs = append(attrs, slog.Any(k, e.Context[k]))
	}
	if e.Underlying != nil {
		attrs = append(attrs, slog.String("cause", e.Underlying.Error()))
	}
	return slog.GroupValue(attrs...)
}

// StackTrace formats the captured call sites, innermost first.
func (e *Error) StackTrace() string {
	var sb strings.Builder
	sb.WriteString("Stack trace:\n")
	for _, frame := range e.Stack {
		fmt.Fprintf(&sb, "  %s\n\t%s:%d\n", frame, frame.File, frame.Line)
	}
	return sb.String()
}

func (f Frame) String() string {
	return f.Function
}

// captureStack records the callers above skip frames, stopping at the
// runtime entry points.
func captureStack(skip int) []Frame {
	const maxDepth = 32
	var pcs [maxDepth]uintptr

	n := runtime.Callers(skip+1, pcs[:])
	callers := runtime.CallersFrames(pcs[:n])

	frames := make([]Frame, 0, n)
	for {
		frame, more := callers.Next()
		if strings.HasPrefix(frame.Function, "runtime.") {
			break
		}
		frames = append(frames, Frame{Function: frame.Function, File: frame.File, Line: frame.Line})
		if !more {
			break
		}
	}
	return frames
}

func as(err error) (*Error, bool) {
	var vbErr *Error
	if err == nil || !stderrors.As(err, &vbErr) {
		return nil, false
	}
	return vbErr, true
}

// IsCode reports whether err, or any error it wraps, carries the given code.
func IsCode(err error, code ErrorCode) bool {
	vbErr, ok := as(err)
	return ok && vbErr.Code == code
}

// GetCode returns the code of the first coded error in err's chain,
// ErrCodeInternal for foreign errors and "" for nil.
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if vbErr, ok := as(err); ok {
		return vbErr.Code
	}
	return ErrCodeInternal
}

// IsFatal reports whether err signals host misuse.
func IsFatal(err error) bool {
	vbErr, ok := as(err)
	return ok && vbErr.Fatal()
}
