package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so retry layers can decide from data
// instead of matching exception types.
type ErrorKind string

const (
	// ErrKindValidation: bad input, surfaced immediately, never retried.
	ErrKindValidation ErrorKind = "validation"
	// ErrKindRetriable: transient transport/server failure, retried with
	// backoff up to a bounded count.
	ErrKindRetriable ErrorKind = "transport_retriable"
	// ErrKindTerminal: auth/permission/not-found/quota, never retried.
	ErrKindTerminal ErrorKind = "transport_terminal"
	// ErrKindTimeout: a polling bound was exhausted.
	ErrKindTimeout ErrorKind = "timeout"
	// ErrKindInternal: unexpected internal failure.
	ErrKindInternal ErrorKind = "internal"
)

// PipelineError is the typed failure carried through handlers and the
// upload client.
type PipelineError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func NewValidationError(op string, err error) *PipelineError {
	return &PipelineError{Kind: ErrKindValidation, Op: op, Err: err}
}

func NewRetriableError(op string, err error) *PipelineError {
	return &PipelineError{Kind: ErrKindRetriable, Op: op, Err: err}
}

func NewTerminalError(op string, err error) *PipelineError {
	return &PipelineError{Kind: ErrKindTerminal, Op: op, Err: err}
}

func NewTimeoutError(op string, err error) *PipelineError {
	return &PipelineError{Kind: ErrKindTimeout, Op: op, Err: err}
}

// KindOf extracts the kind from err, unwrapping as needed. Unknown
// errors classify as internal.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrKindInternal
}
