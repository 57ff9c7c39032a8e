// Package chkerr defines the error taxonomy the edit engine and its
// callers classify failures into (spec.md §7), grounded on the
// tagged-error-code pattern used elsewhere in the retrieved corpus
// (pkg/errors in the junjiewwang-perf-analysis example): a single
// concrete error type carrying a Kind plus the wrapped cause, so a
// caller can type-switch on Kind instead of parsing message text.
package chkerr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind string

const (
	// BadRequest means the caller's input was malformed: unknown node
	// IDs, coordinates outside the dataset, or a missing required field.
	BadRequest Kind = "bad_request"

	// Precondition means a check the operation must pass before doing
	// any work failed: e.g. a merge edge's endpoints already share a
	// root, or a split edge doesn't exist.
	Precondition Kind = "precondition"

	// Postcondition means the operation's own result failed a sanity
	// check it is supposed to always satisfy: e.g. a split that failed
	// to separate a root's atomic-edge connected components.
	Postcondition Kind = "postcondition"

	// Locking means a root lock could not be acquired or was lost
	// mid-operation. Conflict is always remapped to Locking before it
	// reaches the caller (spec §7: "Conflict ... surfaces to the
	// client as Locking, not as a distinct kind").
	Locking Kind = "locking"

	// NotFound means a referenced node, chunk, or operation log entry
	// does not exist at the requested timestamp.
	NotFound Kind = "not_found"

	// Internal means the store or the graph's own invariants were
	// violated in a way no caller input could have triggered.
	Internal Kind = "internal"
)

// Error is the concrete error type every chkerr constructor returns.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches by Kind, so errors.Is(err, chkerr.New(Locking, "")) asks
// "is this a Locking error" regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs a Kind error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with kind and message, preserving err for
// errors.Unwrap/errors.As.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WrapConflict wraps err as Locking regardless of the caller's own
// notion of "conflict" (spec §7's remapping rule), so every call site
// that touches the store's conditional-write failure path funnels
// through here instead of re-deriving the remap.
func WrapConflict(message string, err error) *Error {
	return &Error{Kind: Locking, Message: message, Err: err}
}

// KindOf extracts the Kind of err, or Internal if err is not a chkerr
// Error (an unclassified failure is treated as the program's own bug).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err's Kind is kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
