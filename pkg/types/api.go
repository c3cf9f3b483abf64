package types

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
)

// -----------------------------------------------------------------------------
// Typed Errors (stable categories for programmatic handling)
// -----------------------------------------------------------------------------

// ErrKind classifies errors so callers can branch on intent rather than text.
type ErrKind int

const (
	ErrKindNotFound              ErrKind = iota // missing training artifact
	ErrKindInvalidIndex                         // global node index out of range or malformed
	ErrKindNotALeaf                             // leaf-only operation on an internal node
	ErrKindProtocol                             // missing or mismatched ack/response
	ErrKindSessionStart                         // tracer process could not be spawned
	ErrKindSessionTimeout                       // tracer exceeded its runtime window or a watchdog
	ErrKindNotRunning                           // command sent to a session that is not running
	ErrKindConfirmationExhausted                // no ranked probe available at a leaf (non-fatal)
	ErrKindRejected                             // a confirmation probe was rejected
	ErrKindTruncated                            // byte stream ended inside a required field
	ErrKindFormat                               // malformed artifact (bad signature, bad layout)
	ErrKindConfig                               // invalid configuration
)

var kindNames = [...]string{
	ErrKindNotFound:              "not found",
	ErrKindInvalidIndex:          "invalid index",
	ErrKindNotALeaf:              "not a leaf",
	ErrKindProtocol:              "protocol failure",
	ErrKindSessionStart:          "session start",
	ErrKindSessionTimeout:        "session timeout",
	ErrKindNotRunning:            "session not running",
	ErrKindConfirmationExhausted: "confirmation exhausted",
	ErrKindRejected:              "probe rejected",
	ErrKindTruncated:             "truncated input",
	ErrKindFormat:                "bad format",
	ErrKindConfig:                "invalid config",
}

func (k ErrKind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "ErrKind(" + strconv.Itoa(int(k)) + ")"
}

// Error is a typed error with an optional underlying cause.
type Error struct {
	Kind ErrKind
	Msg  string
	Err  error // optional underlying cause
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" && e.Err != nil {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// holds for every error built with Errorf(ErrKindNotFound, ...).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

// Errorf builds a typed error of kind k whose text is the formatted message.
// A %w verb in format keeps its operand reachable through errors.Is/As.
func Errorf(k ErrKind, format string, args ...any) error {
	return &Error{Kind: k, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the kind of err, or false if err carries no *Error.
func KindOf(err error) (ErrKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Sentinels commonly returned by implementations.
var (
	// ErrNotFound indicates a descriptor map or probe map file is missing.
	ErrNotFound = &Error{Kind: ErrKindNotFound, Msg: "artifact not found"}
	// ErrInvalidIndex indicates a global node index no tree owns.
	ErrInvalidIndex = &Error{Kind: ErrKindInvalidIndex, Msg: "invalid node index"}
	// ErrNotALeaf indicates a leaf-only query on an internal node.
	ErrNotALeaf = &Error{Kind: ErrKindNotALeaf, Msg: "node is not a leaf"}
	// ErrProtocol indicates the tracer did not acknowledge or respond as expected.
	ErrProtocol = &Error{Kind: ErrKindProtocol, Msg: "tracer protocol failure"}
	// ErrSessionStart indicates the tracer process could not be spawned.
	ErrSessionStart = &Error{Kind: ErrKindSessionStart, Msg: "cannot start tracer"}
	// ErrSessionTimeout indicates the tracer ran past its runtime window.
	ErrSessionTimeout = &Error{Kind: ErrKindSessionTimeout, Msg: "tracer timed out"}
	// ErrNotRunning indicates a command was issued to a stopped session.
	ErrNotRunning = &Error{Kind: ErrKindNotRunning, Msg: "tracer is not running"}
	// ErrConfirmationExhausted indicates a leaf had no probe left to confirm it.
	ErrConfirmationExhausted = &Error{Kind: ErrKindConfirmationExhausted, Msg: "no probe available to confirm leaf"}
	// ErrRejected indicates a confirmation probe was not accepted.
	ErrRejected = &Error{Kind: ErrKindRejected, Msg: "probe rejected"}
	// ErrTruncated indicates a context stream ended early.
	ErrTruncated = &Error{Kind: ErrKindTruncated, Msg: "truncated input"}
	// ErrFormat indicates a malformed artifact.
	ErrFormat = &Error{Kind: ErrKindFormat, Msg: "malformed artifact"}
	// ErrConfig indicates an invalid configuration value.
	ErrConfig = &Error{Kind: ErrKindConfig, Msg: "invalid configuration"}
)

// -----------------------------------------------------------------------------
// Function identity
// -----------------------------------------------------------------------------

// FunctionDescriptor identifies a function: its symbol name, its location in
// the binary and the binary's path. Descriptors are comparable and used as
// map keys directly.
type FunctionDescriptor struct {
	Name     string `yaml:"name" json:"name"`
	Location uint64 `yaml:"location" json:"location"`
	Binary   string `yaml:"binary" json:"binary"`
}

// Key returns the content hash of the descriptor. It keys the process-wide
// descriptor table and the class labels of trained trees.
func (d FunctionDescriptor) Key() uint64 {
	h := fnv.New64a()
	var loc [8]byte
	for i := range loc {
		loc[i] = byte(d.Location >> (8 * i))
	}
	h.Write([]byte(d.Name))
	h.Write([]byte{0})
	h.Write(loc[:])
	h.Write([]byte(d.Binary))
	return h.Sum64()
}

// Named reports whether the descriptor carries a symbol name.
func (d FunctionDescriptor) Named() bool { return d.Name != "" }

func (d FunctionDescriptor) String() string {
	return fmt.Sprintf("%s@0x%x (%s)", d.Name, d.Location, d.Binary)
}

// Coverage is the fraction of a function's code reached when the descriptor
// was recorded during training. It is advisory only.
type Coverage float64

// DescriptorEntry pairs a descriptor with the coverage recorded for it.
type DescriptorEntry struct {
	Desc     FunctionDescriptor `yaml:"desc" json:"desc"`
	Coverage Coverage           `yaml:"coverage" json:"coverage"`
}
