package memory

import (
	"errors"
	"fmt"
)

// Sentinel errors for the memory optimization engine.
var (
	ErrInvalidUserID   = errors.New("memory: invalid user ID")
	ErrInvalidBotID    = errors.New("memory: invalid bot ID")
	ErrInvalidWindow   = errors.New("memory: days_back must be positive")
	ErrInvalidMemoryID = errors.New("memory: invalid memory ID")
	ErrUnknownPattern  = errors.New("memory: unknown memory pattern")
	ErrNoHistory       = errors.New("memory: insufficient conversation history")
)

// ErrorKind classifies engine failures. Every kind degrades to a safe default
// at the public API edge; the kind only decides how loudly it is logged and
// whether the degraded result may be cached.
type ErrorKind int

const (
	// KindInternal is an unexpected arithmetic or type failure inside a stage.
	KindInternal ErrorKind = iota
	// KindDataUnavailable means there was not enough outcome history.
	KindDataUnavailable
	// KindUpstreamTimeout means the outcome source or metrics sink was too slow.
	KindUpstreamTimeout
	// KindMalformedCandidate means a single candidate was missing a field.
	KindMalformedCandidate
)

// String returns the string representation of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindDataUnavailable:
		return "data_unavailable"
	case KindUpstreamTimeout:
		return "upstream_timeout"
	case KindMalformedCandidate:
		return "malformed_candidate"
	default:
		return "internal"
	}
}

// Error is the error type returned by engine internals.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("memory: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("memory: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with an operation name and kind.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of err. Errors that are not *Error are internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// Clamp bounds v to [lo, hi]. NaN is mapped to lo.
func Clamp(v, lo, hi float64) float64 {
	if v != v {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp01 bounds v to [0, 1].
func Clamp01(v float64) float64 {
	return Clamp(v, 0, 1)
}

// Boost factor bounds applied to every multiplicative adjustment.
const (
	MinBoostFactor = 0.1
	MaxBoostFactor = 3.0
)

// ClampBoost bounds a multiplicative factor to [MinBoostFactor, MaxBoostFactor].
func ClampBoost(v float64) float64 {
	return Clamp(v, MinBoostFactor, MaxBoostFactor)
}
