// Package worker runs the pool that leases jobs from the queue and
// dispatches them to registered handlers.
package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/listkeeper/listkeeper/errors"
	"github.com/listkeeper/listkeeper/queue"
)

// Handler processes jobs of a single type. Handle must respect ctx
// cancellation; the pool enforces the per-job timeout through it.
//
// A nil return completes the job. A non-nil return fails the attempt:
// transient by default, permanent when wrapped with Permanent.
type Handler interface {
	Type() string
	Handle(ctx context.Context, job *queue.Job) error
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc struct {
	JobType string
	Fn      func(ctx context.Context, job *queue.Job) error
}

func (h HandlerFunc) Type() string { return h.JobType }

func (h HandlerFunc) Handle(ctx context.Context, job *queue.Job) error {
	return h.Fn(ctx, job)
}

// Registry maps job types to handlers. Handlers are registered at startup,
// before the pool starts; lookups afterward are concurrent.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler, replacing any previous handler for the same type
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Type()] = h
}

// Get returns the handler for a job type, or nil
func (r *Registry) Get(jobType string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[jobType]
}

// Types returns the registered job types, sorted
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// permanentError marks a failure that retrying cannot fix
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps an error so the pool dead-letters the job instead of
// retrying. Validation failures and rejected listings are permanent;
// network and rate-limit failures are not.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Permanentf is shorthand for Permanent(fmt.Errorf(...))
func Permanentf(format string, args ...interface{}) error {
	return &permanentError{err: fmt.Errorf(format, args...)}
}

// IsPermanent reports whether err (or anything it wraps) was marked Permanent
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
