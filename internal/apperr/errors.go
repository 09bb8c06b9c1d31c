package apperr

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the indexer and the responder matches
// exactly one of these with errors.Is.
var (
	// ErrConfiguration covers missing credentials, bad settings and unreadable paths.
	ErrConfiguration = errors.New("configuration error")
	// ErrUpstream covers failed embedding or generation calls.
	ErrUpstream = errors.New("upstream service error")
	// ErrData covers empty inputs: no documents, no chunks, empty queries.
	ErrData = errors.New("data error")
)

var (
	ErrPathNotFound           = errors.New("path not found")
	ErrMissingCredentials     = errors.New("missing credentials")
	ErrEmbeddingModelMismatch = errors.New("embedding model mismatch")
	ErrNoDocuments            = errors.New("no documents found")
	ErrNoChunks               = errors.New("no chunks produced")
	ErrIndexIncomplete        = errors.New("persisted index is incomplete")
	ErrEmptyQuery             = errors.New("query is empty")
)

// Error tags a cause with its kind and the operation that failed.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Config wraps err as a configuration error. Already classified errors pass through.
func Config(op string, err error) error { return newError(ErrConfiguration, op, err) }

// Upstream wraps err as an upstream service error.
func Upstream(op string, err error) error { return newError(ErrUpstream, op, err) }

// Data wraps err as a data error.
func Data(op string, err error) error { return newError(ErrData, op, err) }

// KindOf returns the kind sentinel of err, or nil when err is unclassified.
func KindOf(err error) error {
	for _, kind := range []error{ErrConfiguration, ErrUpstream, ErrData} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// ExitCode maps an error to the CLI exit status.
func ExitCode(err error) int {
	switch KindOf(err) {
	case nil:
		if err == nil {
			return 0
		}
		return 1
	case ErrConfiguration:
		return 2
	case ErrData:
		return 3
	case ErrUpstream:
		return 4
	default:
		return 1
	}
}
