package worker

import (
	"context"

	"github.com/solwallet/orchestrator/internal/models"
)

// Handler executes a single job and returns its result payload, or an error
// if the job failed. Any returned error, whatever its disposition, is
// retried while the job's attempt budget lasts; the job is marked failed
// once that budget is spent.
type Handler func(ctx context.Context, job *models.Job) (map[string]any, error)

// Registry maps a job kind to the handler that executes it, generalizing
// the teacher's switch-dispatch executor into a lookup table so new kinds
// register themselves instead of growing a single switch statement.
type Registry struct {
	handlers map[models.JobKind]Handler
}

// NewRegistry constructs an empty handler Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[models.JobKind]Handler)}
}

// Register associates kind with handler. Intended to be called once per
// kind during wiring, before the worker pool starts.
func (r *Registry) Register(kind models.JobKind, handler Handler) {
	r.handlers[kind] = handler
}

// Lookup returns the handler for kind, or nil if none is registered.
func (r *Registry) Lookup(kind models.JobKind) Handler {
	return r.handlers[kind]
}
