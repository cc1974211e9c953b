package faults

import (
	"context"
	"errors"
	"fmt"
)

// Kind tags every failure the orchestration core can surface.
type Kind string

const (
	Inference      Kind = "inference_fault"
	Source         Kind = "source_fault"
	PlanInvalid    Kind = "plan_invalid"
	Storage        Kind = "storage_fault"
	SchemaConflict Kind = "schema_conflict"
	NotFound       Kind = "not_found"
	Timeout        Kind = "timeout"
)

// Error is a kind-tagged failure with the operation that produced it
type Error struct {
	Kind Kind
	Op   string // "materialize", "step:sales", "classify", ...
	Err  error
	// Transient marks connectivity faults a caller may retry once.
	Transient bool
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s [%s]", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap tags err with kind unless it already carries one, in which case the
// inner kind wins. Context deadline errors always become Timeout.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		kind = Timeout
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Transient wraps err as a retryable source fault.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: Timeout, Op: op, Err: err}
	}
	return &Error{Kind: Source, Op: op, Err: err, Transient: true}
}

// KindOf returns the kind of the first tagged error in the chain. Untagged
// errors report "" except for context deadlines, which report Timeout.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func IsTransient(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Transient
}

// FromContext converts a finished context into a tagged error.
func FromContext(ctx context.Context, op string) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: Timeout, Op: op, Err: err}
	}
	return &Error{Kind: Timeout, Op: op, Err: fmt.Errorf("cancelled: %w", err)}
}
