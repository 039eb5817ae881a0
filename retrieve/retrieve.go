// CLAUDE:SUMMARY Retrieval backends (HTTP, headless browser, shell command) behind one Backend interface.
// Package retrieve fetches the raw content of a job. Each job kind is
// served by one Backend, looked up in a Registry.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hazyhaar/pagewatch/job"
)

// Request is one retrieval.
type Request struct {
	Descriptor job.Descriptor
	// PriorMarker is the revision marker stored with the latest snapshot.
	// Backends supporting conditional retrieval send it; empty disables.
	PriorMarker string
}

// Result is a successful retrieval. When Unchanged is set the source
// confirmed that nothing changed since PriorMarker and Content is empty.
type Result struct {
	Content    []byte
	Marker     string
	Unchanged  bool
	StatusCode int
}

// Backend retrieves content for one job kind.
type Backend interface {
	Fetch(ctx context.Context, req Request) (*Result, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, req Request) (*Result, error)

func (f BackendFunc) Fetch(ctx context.Context, req Request) (*Result, error) { return f(ctx, req) }

// ErrorKind classifies retrieval failures.
type ErrorKind string

const (
	KindConnection       ErrorKind = "connection"
	KindTimeout          ErrorKind = "timeout"
	KindHTTPStatus       ErrorKind = "http_status"
	KindTooManyRedirects ErrorKind = "too_many_redirects"
	KindProcessExit      ErrorKind = "process_exit"
	KindInvalid          ErrorKind = "invalid"
)

// Error is the failure type returned by every backend.
type Error struct {
	Kind       ErrorKind
	Retryable  bool
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("retrieve: %s %d: %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("retrieve: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// AsError returns err as a *Error, classifying unknown errors: context
// deadlines become timeouts, cancellations stay non-retryable
// connection errors, anything else is a retryable connection error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Retryable: true, Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindConnection, Err: err}
	}
	return &Error{Kind: KindConnection, Retryable: true, Err: err}
}

// Registry maps job kinds to backends.
type Registry struct {
	mu       sync.RWMutex
	backends map[job.Kind]Backend
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[job.Kind]Backend)}
}

// Register binds kind to b, replacing any previous backend.
func (r *Registry) Register(kind job.Kind, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[kind] = b
}

// Fetch dispatches req to the backend of its kind.
func (r *Registry) Fetch(ctx context.Context, req Request) (*Result, error) {
	r.mu.RLock()
	b, ok := r.backends[req.Descriptor.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, &Error{Kind: KindInvalid, Err: fmt.Errorf("no backend for kind %q", req.Descriptor.Kind)}
	}
	return b.Fetch(ctx, req)
}
